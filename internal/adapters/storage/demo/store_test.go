package demo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/hylla/canetrack/internal/app"
	"github.com/hylla/canetrack/internal/domain"
)

var testNow = time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

// seed writes b1/o1/w1 into store.
func seed(t *testing.T, store *Store) (string, string, string) {
	t.Helper()
	ctx := context.Background()
	b, _ := domain.NewBloc(domain.BlocInput{ID: "b1", Name: "North", AreaHectares: 10})
	blocUUID, err := store.CreateBloc(ctx, b)
	if err != nil {
		t.Fatalf("CreateBloc() error = %v", err)
	}
	op, _ := domain.NewOperation(domain.OperationInput{ID: "o1", ProductName: "Urea", EstProductCost: decimal.RequireFromString("99.95")})
	opUUID, err := store.CreateOperation(ctx, blocUUID, op)
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	wp, _ := domain.NewWorkPackage(domain.WorkPackageInput{ID: "w1", Date: domain.DateOf(testNow), Area: 4, Status: domain.StatusComplete})
	wpUUID, err := store.CreateWorkPackage(ctx, opUUID, wp)
	if err != nil {
		t.Fatalf("CreateWorkPackage() error = %v", err)
	}
	return blocUUID, opUUID, wpUUID
}

// TestStoreMatchesPortSemantics verifies load, versioned update, and cascade delete.
func TestStoreMatchesPortSemantics(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithClock(func() time.Time { return testNow }))
	var _ app.Store = store
	blocUUID, opUUID, wpUUID := seed(t, store)

	blocs, err := store.LoadBlocs(ctx)
	if err != nil {
		t.Fatalf("LoadBlocs() error = %v", err)
	}
	op := blocs[0].Operations[0]
	if op.UUID != opUUID || op.Progress != 40 || !op.EstProductCost.Equal(decimal.RequireFromString("99.95")) {
		t.Fatalf("unexpected operation %#v", op)
	}

	wp := *op.WorkPackages[0]
	if wp.UUID != wpUUID {
		t.Fatalf("work package uuid = %q, want %q", wp.UUID, wpUUID)
	}
	wp.Advance()
	wp.Version++
	if err := store.UpdateWorkPackage(ctx, wp); err != nil {
		t.Fatalf("UpdateWorkPackage() error = %v", err)
	}
	if err := store.UpdateWorkPackage(ctx, wp); !errors.Is(err, app.ErrVersionConflict) {
		t.Fatalf("UpdateWorkPackage(stale) error = %v, want ErrVersionConflict", err)
	}

	if err := store.DeleteBloc(ctx, blocUUID); err != nil {
		t.Fatalf("DeleteBloc() error = %v", err)
	}
	if err := store.DeleteOperation(ctx, opUUID); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("DeleteOperation(after cascade) error = %v, want ErrNotFound", err)
	}
	blocs, _ = store.LoadBlocs(ctx)
	if len(blocs) != 0 {
		t.Fatalf("expected empty forest, got %d", len(blocs))
	}

	events, err := store.ListChangeEvents(ctx, 2)
	if err != nil {
		t.Fatalf("ListChangeEvents() error = %v", err)
	}
	if len(events) != 2 || events[0].Operation != domain.ChangeOperationDelete || events[1].Metadata["to_status"] != string(domain.StatusNotStarted) {
		t.Fatalf("unexpected events %#v", events)
	}
}

// TestStoreRejectsDuplicateClientIDs verifies client ids stay unique across the whole document.
func TestStoreRejectsDuplicateClientIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithClock(func() time.Time { return testNow }))
	_, opUUID, _ := seed(t, store)
	b2, _ := domain.NewBloc(domain.BlocInput{ID: "b2", Name: "South", AreaHectares: 4})
	b2UUID, err := store.CreateBloc(ctx, b2)
	if err != nil {
		t.Fatalf("CreateBloc() error = %v", err)
	}

	if _, err := store.CreateBloc(ctx, b2); !errors.Is(err, domain.ErrDuplicateID) {
		t.Fatalf("CreateBloc(duplicate) error = %v, want ErrDuplicateID", err)
	}
	op, _ := domain.NewOperation(domain.OperationInput{ID: "o1", ProductName: "Lime"})
	if _, err := store.CreateOperation(ctx, b2UUID, op); !errors.Is(err, domain.ErrDuplicateID) {
		t.Fatalf("CreateOperation(duplicate) error = %v, want ErrDuplicateID", err)
	}
	wp, _ := domain.NewWorkPackage(domain.WorkPackageInput{ID: "w1", Date: domain.DateOf(testNow), Area: 1})
	if _, err := store.CreateWorkPackage(ctx, opUUID, wp); !errors.Is(err, domain.ErrDuplicateID) {
		t.Fatalf("CreateWorkPackage(duplicate) error = %v, want ErrDuplicateID", err)
	}

	blocs, err := store.LoadBlocs(ctx)
	if err != nil {
		t.Fatalf("LoadBlocs() error = %v", err)
	}
	if len(blocs) != 2 || len(blocs[0].Operations) != 1 || len(blocs[1].Operations) != 0 || len(blocs[0].Operations[0].WorkPackages) != 1 {
		t.Fatalf("rejected creates changed the document: %#v", blocs)
	}
}

// TestFileStorePersistsAcrossOpen verifies the file KV survives reopen.
func TestFileStorePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "demo.json")
	store, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	seed(t, store)
	want, _ := store.LoadBlocs(context.Background())

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile(reopen) error = %v", err)
	}
	got, err := reopened.LoadBlocs(context.Background())
	if err != nil {
		t.Fatalf("LoadBlocs() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("reopened forest mismatch (-want +got):\n%s", diff)
	}
}

// TestGenerateIsDeterministic verifies equal configs yield equal, valid snapshots.
func TestGenerateIsDeterministic(t *testing.T) {
	cfg := GenerateConfig{Seed: 42, Blocs: 5, Now: testNow}
	a, b := Generate(cfg), Generate(cfg)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("Generate() not deterministic (-a +b):\n%s", diff)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("generated snapshot invalid: %v", err)
	}
	if len(a.Blocs) != 5 || len(a.Blocs[4].Operations) != 0 {
		t.Fatalf("unexpected shape: %d blocs, last has %d operations", len(a.Blocs), len(a.Blocs[len(a.Blocs)-1].Operations))
	}
}

// TestSeedWritesThroughStore verifies seeding populates the store once.
func TestSeedWritesThroughStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cfg := GenerateConfig{Seed: 7, Blocs: 3, Now: testNow}

	res, err := Seed(ctx, store, cfg, nil)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if res.BlocsCreated != 3 {
		t.Fatalf("BlocsCreated = %d, want 3", res.BlocsCreated)
	}
	again, err := Seed(ctx, store, cfg, nil)
	if err != nil {
		t.Fatalf("Seed(again) error = %v", err)
	}
	if again.BlocsCreated != 0 || again.BlocsSkipped != 3 {
		t.Fatalf("Seed(again) = %#v, want all skipped", again)
	}
	blocs, _ := store.LoadBlocs(ctx)
	if len(blocs) != 3 {
		t.Fatalf("stored blocs = %d, want 3", len(blocs))
	}
}
