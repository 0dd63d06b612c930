package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hylla/canetrack/internal/domain"
	"github.com/hylla/canetrack/internal/tree"
)

// fakeStore keeps a forest in memory and can be told to fail.
type fakeStore struct {
	blocs   tree.Forest
	nextID  int
	failErr error
	loadErr error
	calls   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{blocs: tree.Forest{}}
}

func (f *fakeStore) uuid() string {
	f.nextID++
	return fmt.Sprintf("u-%d", f.nextID)
}

func (f *fakeStore) record(call string) error {
	f.calls = append(f.calls, call)
	return f.failErr
}

func (f *fakeStore) LoadBlocs(context.Context) ([]*domain.Bloc, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return tree.Clone(f.blocs), nil
}

func (f *fakeStore) CreateBloc(_ context.Context, b domain.Bloc) (string, error) {
	if err := f.record("CreateBloc"); err != nil {
		return "", err
	}
	b.UUID = f.uuid()
	b.Operations = []*domain.Operation{}
	f.blocs = append(f.blocs, &b)
	return b.UUID, nil
}

func (f *fakeStore) UpdateBloc(_ context.Context, b domain.Bloc) error {
	if err := f.record("UpdateBloc"); err != nil {
		return err
	}
	for i, cur := range f.blocs {
		if cur.UUID != b.UUID {
			continue
		}
		if cur.Version != b.Version-1 {
			return ErrVersionConflict
		}
		b.Operations = cur.Operations
		f.blocs[i] = &b
		return nil
	}
	return ErrNotFound
}

func (f *fakeStore) DeleteBloc(_ context.Context, id string) error {
	if err := f.record("DeleteBloc"); err != nil {
		return err
	}
	for i, cur := range f.blocs {
		if cur.UUID == id {
			f.blocs = append(f.blocs[:i:i], f.blocs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeStore) CreateOperation(_ context.Context, blocUUID string, op domain.Operation) (string, error) {
	if err := f.record("CreateOperation"); err != nil {
		return "", err
	}
	for _, b := range f.blocs {
		if b.UUID == blocUUID {
			op.UUID = f.uuid()
			op.WorkPackages = []*domain.WorkPackage{}
			b.Operations = append(b.Operations, &op)
			return op.UUID, nil
		}
	}
	return "", ErrNotFound
}

func (f *fakeStore) UpdateOperation(_ context.Context, op domain.Operation) error {
	if err := f.record("UpdateOperation"); err != nil {
		return err
	}
	for _, b := range f.blocs {
		for i, cur := range b.Operations {
			if cur.UUID != op.UUID {
				continue
			}
			if cur.Version != op.Version-1 {
				return ErrVersionConflict
			}
			op.WorkPackages = cur.WorkPackages
			b.Operations[i] = &op
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeStore) DeleteOperation(_ context.Context, id string) error {
	if err := f.record("DeleteOperation"); err != nil {
		return err
	}
	for _, b := range f.blocs {
		for i, cur := range b.Operations {
			if cur.UUID == id {
				b.Operations = append(b.Operations[:i:i], b.Operations[i+1:]...)
				return nil
			}
		}
	}
	return ErrNotFound
}

func (f *fakeStore) CreateWorkPackage(_ context.Context, opUUID string, wp domain.WorkPackage) (string, error) {
	if err := f.record("CreateWorkPackage"); err != nil {
		return "", err
	}
	for _, b := range f.blocs {
		for _, op := range b.Operations {
			if op.UUID == opUUID {
				wp.UUID = f.uuid()
				op.WorkPackages = append(op.WorkPackages, &wp)
				return wp.UUID, nil
			}
		}
	}
	return "", ErrNotFound
}

func (f *fakeStore) UpdateWorkPackage(_ context.Context, wp domain.WorkPackage) error {
	if err := f.record("UpdateWorkPackage"); err != nil {
		return err
	}
	for _, b := range f.blocs {
		for _, op := range b.Operations {
			for i, cur := range op.WorkPackages {
				if cur.UUID != wp.UUID {
					continue
				}
				if cur.Version != wp.Version-1 {
					return ErrVersionConflict
				}
				op.WorkPackages[i] = &wp
				return nil
			}
		}
	}
	return ErrNotFound
}

func (f *fakeStore) DeleteWorkPackage(_ context.Context, id string) error {
	if err := f.record("DeleteWorkPackage"); err != nil {
		return err
	}
	for _, b := range f.blocs {
		for _, op := range b.Operations {
			for i, cur := range op.WorkPackages {
				if cur.UUID == id {
					op.WorkPackages = append(op.WorkPackages[:i:i], op.WorkPackages[i+1:]...)
					return nil
				}
			}
		}
	}
	return ErrNotFound
}

func (f *fakeStore) ListChangeEvents(context.Context, int) ([]domain.ChangeEvent, error) {
	return nil, nil
}

var testNow = time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

// newTestWorkspace seeds a store with one bloc (10 ha), one operation, and one 4 ha package.
func newTestWorkspace(t *testing.T) (*Workspace, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	n := 0
	idGen := func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	ws := NewWorkspace(store, idGen, func() time.Time { return testNow }, nil, WorkspaceConfig{})
	ctx := context.Background()
	if err := ws.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := ws.AddBloc(ctx, domain.BlocInput{ID: "b1", Name: "North", AreaHectares: 10}); err != nil {
		t.Fatalf("AddBloc() error = %v", err)
	}
	if _, err := ws.AddOperation(ctx, "b1", domain.OperationInput{ID: "o1", ProductName: "Fertiliser", PlannedRate: 2.5, EstProductCost: decimal.NewFromInt(100)}); err != nil {
		t.Fatalf("AddOperation() error = %v", err)
	}
	if _, err := ws.AddWorkPackage(ctx, "b1", "o1", domain.WorkPackageInput{ID: "w1", Area: 4}); err != nil {
		t.Fatalf("AddWorkPackage() error = %v", err)
	}
	store.calls = nil
	return ws, store
}

// TestAddWritesBackStoreIDs verifies creates record the store UUID on the local nodes.
func TestAddWritesBackStoreIDs(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	blocs := ws.Blocs()
	b := blocs.FindBloc("b1")
	op := blocs.FindOperation("b1", "o1")
	wp := blocs.FindWorkPackage("b1", "o1", "w1")
	if b.UUID == "" || op.UUID == "" || wp.UUID == "" {
		t.Fatalf("missing store ids bloc=%q op=%q wp=%q", b.UUID, op.UUID, wp.UUID)
	}
	if wp.Date != domain.DateOf(testNow) {
		t.Fatalf("work package date = %s, want today", wp.Date)
	}
	if wp.Rate != 0 {
		t.Fatalf("work package rate = %v, want the given rate 0", wp.Rate)
	}
}

// TestAddRejectsDuplicateIDs verifies an id already in the hierarchy is refused before anything changes.
func TestAddRejectsDuplicateIDs(t *testing.T) {
	ws, store := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := ws.AddBloc(ctx, domain.BlocInput{ID: "b2", Name: "South", AreaHectares: 4}); err != nil {
		t.Fatalf("AddBloc() error = %v", err)
	}
	store.calls = nil
	before := ws.Blocs()

	cases := []struct {
		name string
		call func() (MutationResult, error)
	}{
		{
			name: "bloc",
			call: func() (MutationResult, error) {
				return ws.AddBloc(ctx, domain.BlocInput{ID: "b1", Name: "Again", AreaHectares: 1})
			},
		},
		{
			name: "operation under another bloc",
			call: func() (MutationResult, error) {
				return ws.AddOperation(ctx, "b2", domain.OperationInput{ID: "o1", ProductName: "Lime"})
			},
		},
		{
			name: "operation under same bloc",
			call: func() (MutationResult, error) {
				return ws.AddOperation(ctx, "b1", domain.OperationInput{ID: " o1 ", ProductName: "Lime"})
			},
		},
		{
			name: "work package",
			call: func() (MutationResult, error) {
				return ws.AddWorkPackage(ctx, "b1", "o1", domain.WorkPackageInput{ID: "w1", Area: 1})
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := tc.call()
			if !errors.Is(err, domain.ErrDuplicateID) || !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("error = %v, want duplicate id validation error", err)
			}
			if res.Applied {
				t.Fatalf("result = %#v, want nothing applied", res)
			}
		})
	}
	if len(store.calls) != 0 {
		t.Fatalf("store calls = %v, want none", store.calls)
	}
	after := ws.Blocs()
	if len(after) != 2 || len(after.FindBloc("b1").Operations) != 1 || len(after.FindBloc("b2").Operations) != 0 {
		t.Fatalf("forest changed after rejected adds")
	}
	if len(after.FindOperation("b1", "o1").WorkPackages) != len(before.FindOperation("b1", "o1").WorkPackages) {
		t.Fatalf("work packages changed after rejected add")
	}
}

// TestAddWorkPackageKeepsExplicitZeroRate verifies a zero rate is not replaced by the planned rate.
func TestAddWorkPackageKeepsExplicitZeroRate(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := ws.AddWorkPackage(ctx, "b1", "o1", domain.WorkPackageInput{ID: "w2", Area: 1, Rate: 0}); err != nil {
		t.Fatalf("AddWorkPackage() error = %v", err)
	}
	if _, err := ws.AddWorkPackage(ctx, "b1", "o1", domain.WorkPackageInput{ID: "w3", Area: 1, Rate: 4}); err != nil {
		t.Fatalf("AddWorkPackage() error = %v", err)
	}
	op := ws.Blocs().FindOperation("b1", "o1")
	if got := op.FindWorkPackage("w2").Rate; got != 0 {
		t.Fatalf("w2 rate = %v, want 0", got)
	}
	if got := op.FindWorkPackage("w3").Rate; got != 4 {
		t.Fatalf("w3 rate = %v, want 4", got)
	}
}

// TestAdvanceUpdatesProgressAndPersists verifies the advance path recomputes progress and saves.
func TestAdvanceUpdatesProgressAndPersists(t *testing.T) {
	ws, store := newTestWorkspace(t)
	ctx := context.Background()

	for range 2 {
		if _, err := ws.AdvanceWorkPackage(ctx, "b1", "o1", "w1"); err != nil {
			t.Fatalf("AdvanceWorkPackage() error = %v", err)
		}
	}
	op := ws.Blocs().FindOperation("b1", "o1")
	if op.Progress != 40 {
		t.Fatalf("progress = %d, want 40", op.Progress)
	}
	res, err := ws.AdvanceWorkPackage(ctx, "b1", "o1", "w1")
	if err != nil {
		t.Fatalf("AdvanceWorkPackage() error = %v", err)
	}
	if !res.Applied || !res.Persisted {
		t.Fatalf("unexpected result %#v", res)
	}
	if got := ws.Blocs().FindOperation("b1", "o1").Progress; got != 0 {
		t.Fatalf("progress after wrap = %d, want 0", got)
	}
	if len(store.calls) != 3 || store.calls[0] != "UpdateWorkPackage" {
		t.Fatalf("unexpected store calls %v", store.calls)
	}
	stored := store.blocs.FindWorkPackage("b1", "o1", "w1")
	if stored.Status != domain.StatusNotStarted || stored.Completed {
		t.Fatalf("stored package = %#v, want not-started", stored)
	}
}

// TestMissingIDIsNoOp verifies stale ids neither error nor touch the store.
func TestMissingIDIsNoOp(t *testing.T) {
	ws, store := newTestWorkspace(t)
	before := ws.Blocs()
	res, err := ws.UpdateBlocField(context.Background(), "nope", domain.BlocFieldName, "x")
	if err != nil {
		t.Fatalf("UpdateBlocField() error = %v", err)
	}
	if res.Applied {
		t.Fatalf("expected unapplied result, got %#v", res)
	}
	if len(store.calls) != 0 {
		t.Fatalf("store called for missing id: %v", store.calls)
	}
	if after := ws.Blocs(); after[0] != before[0] {
		t.Fatalf("forest replaced on no-op")
	}
}

// TestValidationFailureLeavesStateUntouched verifies invalid input never reaches memory or the store.
func TestValidationFailureLeavesStateUntouched(t *testing.T) {
	ws, store := newTestWorkspace(t)
	_, err := ws.UpdateBlocField(context.Background(), "b1", domain.BlocFieldAreaHectares, "-3")
	if !errors.Is(err, domain.ErrValidation) || !errors.Is(err, domain.ErrInvalidArea) {
		t.Fatalf("UpdateBlocField() error = %v, want area validation error", err)
	}
	if got := ws.Blocs().FindBloc("b1").AreaHectares; got != 10 {
		t.Fatalf("area = %v, want 10", got)
	}
	if len(store.calls) != 0 {
		t.Fatalf("store called after validation failure: %v", store.calls)
	}
}

// TestPersistenceFailureReconciles verifies a failed save reloads authoritative state.
func TestPersistenceFailureReconciles(t *testing.T) {
	ws, store := newTestWorkspace(t)
	store.failErr = errors.New("disk full")

	res, err := ws.UpdateBlocField(context.Background(), "b1", domain.BlocFieldName, "South")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("UpdateBlocField() error = %v, want ErrPersistence", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("error %q lost the cause", err)
	}
	if !res.Applied || res.Persisted || !res.Reconciled {
		t.Fatalf("unexpected result %#v", res)
	}
	if got := ws.Blocs().FindBloc("b1").Name; got != "North" {
		t.Fatalf("name after reconcile = %q, want North", got)
	}
}

// TestReconcileFailureKeepsOptimisticState verifies a failed reload keeps local state and reports both errors.
func TestReconcileFailureKeepsOptimisticState(t *testing.T) {
	ws, store := newTestWorkspace(t)
	store.failErr = errors.New("offline")
	store.loadErr = errors.New("still offline")

	res, err := ws.UpdateBlocField(context.Background(), "b1", domain.BlocFieldName, "South")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("UpdateBlocField() error = %v, want ErrPersistence", err)
	}
	if res.Reconciled {
		t.Fatalf("expected Reconciled=false, got %#v", res)
	}
	if got := ws.Blocs().FindBloc("b1").Name; got != "South" {
		t.Fatalf("name = %q, want optimistic South", got)
	}
}

// TestVersionConflictReconciles verifies a stale write is rejected and state reloaded.
func TestVersionConflictReconciles(t *testing.T) {
	ws, store := newTestWorkspace(t)
	store.blocs.FindBloc("b1").Version = 7

	_, err := ws.UpdateBlocField(context.Background(), "b1", domain.BlocFieldNotes, "drained")
	if !errors.Is(err, ErrVersionConflict) || !errors.Is(err, ErrPersistence) {
		t.Fatalf("UpdateBlocField() error = %v, want version conflict", err)
	}
	b := ws.Blocs().FindBloc("b1")
	if b.Version != 7 || b.Notes != "" {
		t.Fatalf("bloc after reload = %#v", b)
	}
}

// TestDeleteBlocRequiresExactPhrase verifies the typed confirmation gate.
func TestDeleteBlocRequiresExactPhrase(t *testing.T) {
	ws, store := newTestWorkspace(t)
	ctx := context.Background()

	for _, phrase := range []string{"", "delete", "Delete Bloc", "delete bloc "} {
		if _, err := ws.DeleteBloc(ctx, "b1", phrase); !errors.Is(err, ErrConfirmationRequired) {
			t.Fatalf("DeleteBloc(%q) error = %v, want ErrConfirmationRequired", phrase, err)
		}
	}
	if ws.Blocs().FindBloc("b1") == nil || len(store.calls) != 0 {
		t.Fatalf("bloc deleted without confirmation")
	}

	res, err := ws.DeleteBloc(ctx, "b1", "delete bloc")
	if err != nil {
		t.Fatalf("DeleteBloc() error = %v", err)
	}
	if !res.Persisted || len(ws.Blocs()) != 0 || len(store.blocs) != 0 {
		t.Fatalf("bloc not deleted: res=%#v local=%d stored=%d", res, len(ws.Blocs()), len(store.blocs))
	}
}

// TestDeleteChildrenRequireConfirm verifies operations and packages need a plain confirmation.
func TestDeleteChildrenRequireConfirm(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	ctx := context.Background()

	if _, err := ws.DeleteWorkPackage(ctx, "b1", "o1", "w1", false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("DeleteWorkPackage(unconfirmed) error = %v", err)
	}
	if _, err := ws.DeleteWorkPackage(ctx, "b1", "o1", "w1", true); err != nil {
		t.Fatalf("DeleteWorkPackage() error = %v", err)
	}
	if ws.Blocs().FindWorkPackage("b1", "o1", "w1") != nil {
		t.Fatalf("work package still present")
	}
	if _, err := ws.DeleteOperation(ctx, "b1", "o1", false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("DeleteOperation(unconfirmed) error = %v", err)
	}
	if _, err := ws.DeleteOperation(ctx, "b1", "o1", true); err != nil {
		t.Fatalf("DeleteOperation() error = %v", err)
	}
	if got := ws.Blocs().FindBloc("b1"); len(got.Operations) != 0 || got.Progress != 0 {
		t.Fatalf("bloc after delete = %#v", got)
	}
}

// TestRetireBloc verifies retirement stamps the clock and persists.
func TestRetireBloc(t *testing.T) {
	ws, store := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := ws.RetireBloc(ctx, "b1", "retire"); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("RetireBloc(wrong phrase) error = %v", err)
	}
	if _, err := ws.RetireBloc(ctx, "b1", "retire bloc"); err != nil {
		t.Fatalf("RetireBloc() error = %v", err)
	}
	got := store.blocs.FindBloc("b1")
	if got.RetiredAt == nil || !got.RetiredAt.Equal(testNow) {
		t.Fatalf("stored RetiredAt = %v, want %v", got.RetiredAt, testNow)
	}
}

// TestUnpersistedParentReconciles verifies children of a never-saved node are rolled back.
func TestUnpersistedParentReconciles(t *testing.T) {
	ws, store := newTestWorkspace(t)
	ctx := context.Background()
	store.failErr = errors.New("offline")
	store.loadErr = errors.New("offline")
	if _, err := ws.AddBloc(ctx, domain.BlocInput{ID: "b2", Name: "East", AreaHectares: 3}); !errors.Is(err, ErrPersistence) {
		t.Fatalf("AddBloc() error = %v, want ErrPersistence", err)
	}
	store.failErr, store.loadErr = nil, nil

	_, err := ws.AddOperation(ctx, "b2", domain.OperationInput{ProductName: "Herbicide"})
	if !errors.Is(err, ErrNotPersisted) {
		t.Fatalf("AddOperation() error = %v, want ErrNotPersisted", err)
	}
	if ws.Blocs().FindBloc("b2") != nil {
		t.Fatalf("unsaved bloc survived reconcile")
	}
}

// TestExpansionIsMonotonic verifies mutations only add to the expanded set.
func TestExpansionIsMonotonic(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	ctx := context.Background()
	before := ws.Expansion()
	if _, err := ws.AddBloc(ctx, domain.BlocInput{ID: "b2", Name: "East", AreaHectares: 3}); err != nil {
		t.Fatalf("AddBloc() error = %v", err)
	}
	after := ws.Expansion()
	if !after.IsSupersetOf(before) {
		t.Fatalf("expansion shrank")
	}
	if _, ok := after.Blocs["b2"]; !ok {
		t.Fatalf("new empty bloc not expanded")
	}
}

