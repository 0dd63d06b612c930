package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hylla/canetrack/internal/adapters/storage/demo"
	"github.com/hylla/canetrack/internal/app"
)

// newAdapterFixture builds an adapter over a loaded in-memory workspace with one bloc, operation, and work package.
func newAdapterFixture(t *testing.T) *WorkspaceAdapter {
	t.Helper()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	n := 0
	ws := app.NewWorkspace(
		demo.NewMemoryStore(demo.WithClock(func() time.Time { return now })),
		func() string { n++; return fmt.Sprintf("id-%d", n) },
		func() time.Time { return now },
		nil,
		app.WorkspaceConfig{},
	)
	ctx := context.Background()
	if err := ws.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	a := NewWorkspaceAdapter(ws)
	if _, err := a.AddBloc(ctx, AddBlocRequest{ID: "b1", Name: "North", AreaHectares: 10, PlantingDate: "2026-03-01"}); err != nil {
		t.Fatalf("AddBloc() error = %v", err)
	}
	if _, err := a.AddOperation(ctx, AddOperationRequest{BlocID: "b1", ID: "o1", ProductName: "Urea", EstProductCost: decimal.NewFromInt(120)}); err != nil {
		t.Fatalf("AddOperation() error = %v", err)
	}
	if _, err := a.AddWorkPackage(ctx, AddWorkPackageRequest{BlocID: "b1", OperationID: "o1", ID: "w1", Area: 5, Status: "complete"}); err != nil {
		t.Fatalf("AddWorkPackage() error = %v", err)
	}
	return a
}

// TestWorkspaceAdapterViews verifies derived values and DAP reach the wire views.
func TestWorkspaceAdapterViews(t *testing.T) {
	a := newAdapterFixture(t)
	forest, err := a.ListBlocs(context.Background(), true)
	if err != nil {
		t.Fatalf("ListBlocs() error = %v", err)
	}
	if len(forest.Blocs) != 1 {
		t.Fatalf("blocs = %d, want 1", len(forest.Blocs))
	}
	b := forest.Blocs[0]
	if b.UUID == "" || b.Progress != 50 || !b.TotalEstProductCost.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("unexpected bloc view %#v", b)
	}
	wp := b.Operations[0].WorkPackages[0]
	if wp.Date != "2026-03-10" || wp.DAP == nil || *wp.DAP != 9 || wp.Status != "complete" || !wp.Completed {
		t.Fatalf("unexpected work package view %#v", wp)
	}
	if b.Operations[0].Progress != 50 {
		t.Fatalf("operation progress = %d, want 50", b.Operations[0].Progress)
	}
}

// TestWorkspaceAdapterErrorMapping verifies app errors surface as transport sentinels.
func TestWorkspaceAdapterErrorMapping(t *testing.T) {
	ctx := context.Background()
	a := newAdapterFixture(t)

	cases := []struct {
		name string
		call func() (MutationView, error)
		want error
	}{
		{
			name: "unknown bloc",
			call: func() (MutationView, error) {
				return a.AddOperation(ctx, AddOperationRequest{BlocID: "missing", ProductName: "x"})
			},
			want: ErrNotFound,
		},
		{
			name: "bad date",
			call: func() (MutationView, error) {
				return a.AddBloc(ctx, AddBlocRequest{Name: "South", AreaHectares: 1, PlantingDate: "someday"})
			},
			want: ErrInvalidRequest,
		},
		{
			name: "bad area",
			call: func() (MutationView, error) {
				return a.UpdateField(ctx, UpdateFieldRequest{Level: LevelBloc, NodeRef: NodeRef{BlocID: "b1"}, Field: "area_hectares", Value: "-1"})
			},
			want: ErrInvalidRequest,
		},
		{
			name: "bad level",
			call: func() (MutationView, error) {
				return a.UpdateField(ctx, UpdateFieldRequest{Level: "farm", NodeRef: NodeRef{BlocID: "b1"}, Field: "name", Value: "x"})
			},
			want: ErrInvalidRequest,
		},
		{
			name: "duplicate work package id",
			call: func() (MutationView, error) {
				return a.AddWorkPackage(ctx, AddWorkPackageRequest{BlocID: "b1", OperationID: "o1", ID: "w1", Area: 1})
			},
			want: ErrInvalidRequest,
		},
		{
			name: "wrong phrase",
			call: func() (MutationView, error) {
				return a.DeleteBloc(ctx, "b1", "Delete Bloc")
			},
			want: ErrConfirmationRequired,
		},
		{
			name: "unconfirmed operation delete",
			call: func() (MutationView, error) {
				return a.DeleteOperation(ctx, NodeRef{BlocID: "b1", OperationID: "o1"}, false)
			},
			want: ErrConfirmationRequired,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.call()
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}

	forest, _ := a.ListBlocs(ctx, true)
	if len(forest.Blocs) != 1 || len(forest.Blocs[0].Operations) != 1 || forest.Blocs[0].AreaHectares != 10 {
		t.Fatalf("rejected mutations changed state: %#v", forest.Blocs)
	}
}

// TestWorkspaceAdapterFieldErrors verifies validation failures list each field.
func TestWorkspaceAdapterFieldErrors(t *testing.T) {
	a := newAdapterFixture(t)
	_, err := a.AddBloc(context.Background(), AddBlocRequest{Name: "", AreaHectares: -2})
	fields := FieldErrors(err)
	if len(fields) < 2 {
		t.Fatalf("FieldErrors() = %#v, want name and area entries", fields)
	}
}

// TestWorkspaceAdapterMutations verifies update, advance, retire, and delete flow through.
func TestWorkspaceAdapterMutations(t *testing.T) {
	ctx := context.Background()
	a := newAdapterFixture(t)
	ref := NodeRef{BlocID: "b1", OperationID: "o1", WorkPackageID: "w1"}

	res, err := a.AdvanceWorkPackage(ctx, ref)
	if err != nil {
		t.Fatalf("AdvanceWorkPackage() error = %v", err)
	}
	if !res.Applied || !res.Persisted || res.Bloc == nil || res.Bloc.Progress != 0 {
		t.Fatalf("unexpected advance result %#v", res)
	}
	if got := res.Bloc.Operations[0].WorkPackages[0].Status; got != "not-started" {
		t.Fatalf("status after advance = %q, want not-started", got)
	}

	if _, err := a.UpdateField(ctx, UpdateFieldRequest{Level: LevelWorkPackage, NodeRef: ref, Field: "status", Value: "in-progress"}); err != nil {
		t.Fatalf("UpdateField() error = %v", err)
	}

	if _, err := a.RetireBloc(ctx, "b1", app.DefaultRetireBlocPhrase); err != nil {
		t.Fatalf("RetireBloc() error = %v", err)
	}
	active, _ := a.ListBlocs(ctx, false)
	if len(active.Blocs) != 0 {
		t.Fatalf("active blocs = %d, want 0 after retire", len(active.Blocs))
	}

	if _, err := a.DeleteWorkPackage(ctx, ref, true); err != nil {
		t.Fatalf("DeleteWorkPackage() error = %v", err)
	}
	if _, err := a.DeleteBloc(ctx, "b1", app.DefaultDeleteBlocPhrase); err != nil {
		t.Fatalf("DeleteBloc() error = %v", err)
	}

	changes, err := a.ListChanges(ctx, 3)
	if err != nil {
		t.Fatalf("ListChanges() error = %v", err)
	}
	if len(changes) != 3 || changes[0].Operation != "delete" || changes[0].EntityKind != "bloc" {
		t.Fatalf("unexpected changes %#v", changes)
	}

	reloaded, err := a.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if len(reloaded.Blocs) != 0 {
		t.Fatalf("reloaded blocs = %d, want 0", len(reloaded.Blocs))
	}
}

// TestWorkspaceAdapterWorkPackageRate verifies an omitted rate inherits the planned rate and an explicit zero is kept.
func TestWorkspaceAdapterWorkPackageRate(t *testing.T) {
	ctx := context.Background()
	a := newAdapterFixture(t)
	if _, err := a.AddOperation(ctx, AddOperationRequest{BlocID: "b1", ID: "o2", ProductName: "Potash", PlannedRate: 1.5}); err != nil {
		t.Fatalf("AddOperation() error = %v", err)
	}
	zero := 0.0
	if _, err := a.AddWorkPackage(ctx, AddWorkPackageRequest{BlocID: "b1", OperationID: "o2", ID: "w2", Area: 1}); err != nil {
		t.Fatalf("AddWorkPackage() error = %v", err)
	}
	if _, err := a.AddWorkPackage(ctx, AddWorkPackageRequest{BlocID: "b1", OperationID: "o2", ID: "w3", Area: 1, Rate: &zero}); err != nil {
		t.Fatalf("AddWorkPackage() error = %v", err)
	}
	forest, err := a.ListBlocs(ctx, true)
	if err != nil {
		t.Fatalf("ListBlocs() error = %v", err)
	}
	wps := forest.Blocs[0].Operations[1].WorkPackages
	if len(wps) != 2 || wps[0].Rate != 1.5 || wps[1].Rate != 0 {
		t.Fatalf("work packages = %#v, want rates 1.5 and 0", wps)
	}
}
