package app

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hylla/canetrack/internal/domain"
)

// TestSnapshotRoundTrip verifies export then import into an empty workspace reproduces the tree.
func TestSnapshotRoundTrip(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := ws.AdvanceWorkPackage(ctx, "b1", "o1", "w1"); err != nil {
		t.Fatalf("AdvanceWorkPackage() error = %v", err)
	}

	for _, format := range []SnapshotFormat{SnapshotFormatJSON, SnapshotFormatYAML} {
		var buf bytes.Buffer
		if err := EncodeSnapshot(&buf, ws.ExportSnapshot(true), format); err != nil {
			t.Fatalf("EncodeSnapshot(%s) error = %v", format, err)
		}
		snap, err := DecodeSnapshot(&buf, format)
		if err != nil {
			t.Fatalf("DecodeSnapshot(%s) error = %v", format, err)
		}

		target := NewWorkspace(newFakeStore(), nil, nil, nil, WorkspaceConfig{})
		res, err := target.ImportSnapshot(ctx, snap)
		if err != nil {
			t.Fatalf("ImportSnapshot(%s) error = %v", format, err)
		}
		if res.BlocsCreated != 1 || res.OperationsCreated != 1 || res.WorkPackagesCreated != 1 {
			t.Fatalf("unexpected import result %#v", res)
		}
		op := target.Blocs().FindOperation("b1", "o1")
		if op == nil || !op.EstProductCost.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("imported operation = %#v", op)
		}
		wp := target.Blocs().FindWorkPackage("b1", "o1", "w1")
		if wp.Status != domain.StatusInProgress || wp.Date != domain.DateOf(testNow) {
			t.Fatalf("imported package = %#v", wp)
		}

		again, err := target.ImportSnapshot(ctx, snap)
		if err != nil {
			t.Fatalf("ImportSnapshot(again) error = %v", err)
		}
		if again.BlocsSkipped != 1 || again.BlocsCreated != 0 {
			t.Fatalf("re-import result %#v, want one skip", again)
		}
	}
}

// TestSnapshotValidateRejectsBadDocuments verifies nothing is written for invalid input.
func TestSnapshotValidateRejectsBadDocuments(t *testing.T) {
	good := SnapshotBloc{ID: "b1", Name: "North", AreaHectares: 1}
	cases := map[string]Snapshot{
		"version":   {Version: "other", Blocs: []SnapshotBloc{good}},
		"duplicate": {Version: SnapshotVersion, Blocs: []SnapshotBloc{good, good}},
		"invalid":   {Version: SnapshotVersion, Blocs: []SnapshotBloc{{ID: "b2", AreaHectares: -1}}},
	}
	for name, snap := range cases {
		t.Run(name, func(t *testing.T) {
			store := newFakeStore()
			ws := NewWorkspace(store, nil, nil, nil, WorkspaceConfig{})
			if _, err := ws.ImportSnapshot(context.Background(), snap); !errors.Is(err, ErrInvalidSnapshot) {
				t.Fatalf("ImportSnapshot() error = %v, want ErrInvalidSnapshot", err)
			}
			if len(store.calls) != 0 {
				t.Fatalf("store written: %v", store.calls)
			}
		})
	}
}

// TestLegacySnapshotPackageInfersStatus verifies packages without a status fall back to completed.
func TestLegacySnapshotPackageInfersStatus(t *testing.T) {
	wp, err := SnapshotWorkPackage{ID: "w", Date: domain.NewDate(2026, time.January, 2), Area: 1, Completed: true}.toDomain()
	if err != nil {
		t.Fatalf("toDomain() error = %v", err)
	}
	if wp.Status != domain.StatusComplete || !wp.Completed {
		t.Fatalf("legacy package = %#v", wp)
	}
}

// TestImportRejectsIDsTakenElsewhere verifies child ids already loaded under another bloc fail the whole import before any write.
func TestImportRejectsIDsTakenElsewhere(t *testing.T) {
	cases := map[string]SnapshotBloc{
		"operation": {
			ID: "b2", Name: "South", AreaHectares: 4,
			Operations: []SnapshotOperation{{ID: "o1", ProductName: "Lime"}},
		},
		"work package": {
			ID: "b2", Name: "South", AreaHectares: 4,
			Operations: []SnapshotOperation{{
				ID: "o2", ProductName: "Lime",
				WorkPackages: []SnapshotWorkPackage{{ID: "w1", Date: domain.NewDate(2026, time.January, 5), Area: 1, Status: domain.StatusNotStarted}},
			}},
		},
	}
	for name, sb := range cases {
		t.Run(name, func(t *testing.T) {
			ws, store := newTestWorkspace(t)
			fresh := SnapshotBloc{ID: "b3", Name: "East", AreaHectares: 2}
			snap := Snapshot{Version: SnapshotVersion, Blocs: []SnapshotBloc{fresh, sb}}
			_, err := ws.ImportSnapshot(context.Background(), snap)
			if !errors.Is(err, ErrInvalidSnapshot) || !errors.Is(err, domain.ErrDuplicateID) {
				t.Fatalf("ImportSnapshot() error = %v, want invalid snapshot with duplicate id", err)
			}
			if len(store.calls) != 0 {
				t.Fatalf("store written: %v", store.calls)
			}
			if ws.Blocs().FindBloc("b2") != nil || ws.Blocs().FindBloc("b3") != nil {
				t.Fatalf("rejected import added blocs")
			}
		})
	}
}

// TestImportLegacyPackageWithoutDate verifies a dateless legacy package imports as not-started.
func TestImportLegacyPackageWithoutDate(t *testing.T) {
	snap := Snapshot{Version: SnapshotVersion, Blocs: []SnapshotBloc{{
		ID: "b1", Name: "North", AreaHectares: 3,
		Operations: []SnapshotOperation{{
			ID: "o1", ProductName: "Urea",
			WorkPackages: []SnapshotWorkPackage{{ID: "w1", Completed: false}},
		}},
	}}}
	if err := snap.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	ws := NewWorkspace(newFakeStore(), nil, nil, nil, WorkspaceConfig{})
	res, err := ws.ImportSnapshot(context.Background(), snap)
	if err != nil {
		t.Fatalf("ImportSnapshot() error = %v", err)
	}
	if res.WorkPackagesCreated != 1 {
		t.Fatalf("import result %#v, want one work package", res)
	}
	wp := ws.Blocs().FindWorkPackage("b1", "o1", "w1")
	if wp == nil || wp.Status != domain.StatusNotStarted || wp.Completed || !wp.Date.IsZero() {
		t.Fatalf("imported package = %#v, want dateless not-started", wp)
	}

	current := SnapshotWorkPackage{ID: "w2", Area: 1, Status: domain.StatusInProgress}
	if _, err := current.toDomain(); !errors.Is(err, domain.ErrInvalidDate) {
		t.Fatalf("toDomain(current without date) error = %v, want ErrInvalidDate", err)
	}
}
