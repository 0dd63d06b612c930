package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hylla/canetrack/internal/domain"
	"github.com/hylla/canetrack/internal/expand"
	"github.com/hylla/canetrack/internal/tree"
)

// Default confirmation phrases for destructive bloc actions.
const (
	DefaultDeleteBlocPhrase = "delete bloc"
	DefaultRetireBlocPhrase = "retire bloc"
)

// WorkspaceConfig holds configuration for a workspace.
type WorkspaceConfig struct {
	DeleteBlocPhrase string
	RetireBlocPhrase string
}

// MutationResult reports what one workspace action did.
type MutationResult struct {
	// Applied is false when the target id was not found; the action was a no-op.
	Applied bool
	// Persisted is true when the store accepted the change.
	Persisted bool
	// Reconciled is true when local state was replaced from the store after a failure.
	Reconciled    bool
	BlocID        string
	OperationID   string
	WorkPackageID string
}

// Workspace owns the in-memory bloc tree for one session. Every mutation is
// validated up front, applied to memory, then persisted; a persistence failure
// reloads the tree from the store and is returned to the caller.
type Workspace struct {
	mu       sync.Mutex
	store    Store
	idGen    IDGenerator
	clock    Clock
	logger   Logger
	cfg      WorkspaceConfig
	blocs    tree.Forest
	expanded expand.State
}

// NewWorkspace constructs a workspace. Call Load before reading.
func NewWorkspace(store Store, idGen IDGenerator, clock Clock, logger Logger, cfg WorkspaceConfig) *Workspace {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if cfg.DeleteBlocPhrase == "" {
		cfg.DeleteBlocPhrase = DefaultDeleteBlocPhrase
	}
	if cfg.RetireBlocPhrase == "" {
		cfg.RetireBlocPhrase = DefaultRetireBlocPhrase
	}
	return &Workspace{
		store:  store,
		idGen:  idGen,
		clock:  clock,
		logger: logger,
		cfg:    cfg,
		blocs:  tree.Forest{},
	}
}

// Load replaces local state with the store's forest.
func (w *Workspace) Load(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loadLocked(ctx)
}

// Blocs returns the current forest. Nodes are shared and must not be modified.
func (w *Workspace) Blocs() tree.Forest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blocs
}

// Expansion returns a copy of the current expansion set.
func (w *Workspace) Expansion() expand.Set {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expanded.Snapshot()
}

// ToggleBloc flips one bloc's expansion.
func (w *Workspace) ToggleBloc(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expanded.ToggleBloc(id)
}

// ToggleOperation flips one operation's expansion.
func (w *Workspace) ToggleOperation(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expanded.ToggleOperation(id)
}

// DeleteBlocPhrase returns the phrase required to delete a bloc.
func (w *Workspace) DeleteBlocPhrase() string {
	return w.cfg.DeleteBlocPhrase
}

// RetireBlocPhrase returns the phrase required to retire a bloc.
func (w *Workspace) RetireBlocPhrase() string {
	return w.cfg.RetireBlocPhrase
}

// ListChangeEvents lists recent activity from the store.
func (w *Workspace) ListChangeEvents(ctx context.Context, limit int) ([]domain.ChangeEvent, error) {
	return w.store.ListChangeEvents(ctx, limit)
}

// AddBloc creates a bloc at the end of the forest.
func (w *Workspace) AddBloc(ctx context.Context, in domain.BlocInput) (MutationResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if in.ID == "" {
		in.ID = w.idGen()
	}
	b, err := domain.NewBloc(in)
	if err != nil {
		return MutationResult{}, err
	}
	if w.blocs.FindBloc(b.ID) != nil {
		return MutationResult{}, domain.DuplicateIDError()
	}
	res := MutationResult{Applied: true, BlocID: b.ID}
	w.apply(tree.AddBloc(w.blocs, b))
	return w.persist(ctx, "add bloc", res, func(ctx context.Context) error {
		uuid, err := w.store.CreateBloc(ctx, b)
		if err != nil {
			return err
		}
		w.blocs, _ = tree.MapBloc(w.blocs, b.ID, func(b domain.Bloc) domain.Bloc {
			b.UUID = uuid
			return b
		})
		return nil
	})
}

// AddOperation creates an operation at the end of the bloc's operations.
func (w *Workspace) AddOperation(ctx context.Context, blocID string, in domain.OperationInput) (MutationResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if in.ID == "" {
		in.ID = w.idGen()
	}
	op, err := domain.NewOperation(in)
	if err != nil {
		return MutationResult{}, err
	}
	if w.blocs.HasOperationID(op.ID) {
		return MutationResult{}, domain.DuplicateIDError()
	}
	parent := w.blocs.FindBloc(blocID)
	next, ok := tree.AddOperation(w.blocs, blocID, op)
	if !ok {
		return w.notFound("add operation", "bloc_id", blocID), nil
	}
	res := MutationResult{Applied: true, BlocID: blocID, OperationID: op.ID}
	w.apply(next)
	return w.persist(ctx, "add operation", res, func(ctx context.Context) error {
		if parent.UUID == "" {
			return fmt.Errorf("bloc %s: %w", blocID, ErrNotPersisted)
		}
		uuid, err := w.store.CreateOperation(ctx, parent.UUID, op)
		if err != nil {
			return err
		}
		w.blocs, _ = tree.MapOperation(w.blocs, blocID, op.ID, func(op domain.Operation) domain.Operation {
			op.UUID = uuid
			return op
		})
		return nil
	})
}

// AddWorkPackage creates a work package at the end of the operation's packages.
// A zero date defaults to today. The rate is taken as given.
func (w *Workspace) AddWorkPackage(ctx context.Context, blocID, opID string, in domain.WorkPackageInput) (MutationResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	parent := w.blocs.FindOperation(blocID, opID)
	if parent == nil {
		return w.notFound("add work package", "bloc_id", blocID, "operation_id", opID), nil
	}
	if in.ID == "" {
		in.ID = w.idGen()
	}
	if in.Date.IsZero() {
		in.Date = domain.DateOf(w.clock())
	}
	wp, err := domain.NewWorkPackage(in)
	if err != nil {
		return MutationResult{}, err
	}
	if w.blocs.HasWorkPackageID(wp.ID) {
		return MutationResult{}, domain.DuplicateIDError()
	}
	next, _ := tree.AddWorkPackage(w.blocs, blocID, opID, wp)
	res := MutationResult{Applied: true, BlocID: blocID, OperationID: opID, WorkPackageID: wp.ID}
	w.apply(next)
	return w.persist(ctx, "add work package", res, func(ctx context.Context) error {
		if parent.UUID == "" {
			return fmt.Errorf("operation %s: %w", opID, ErrNotPersisted)
		}
		uuid, err := w.store.CreateWorkPackage(ctx, parent.UUID, wp)
		if err != nil {
			return err
		}
		w.blocs, _ = tree.MapWorkPackage(w.blocs, blocID, opID, wp.ID, func(wp domain.WorkPackage) domain.WorkPackage {
			wp.UUID = uuid
			return wp
		})
		return nil
	})
}

// UpdateBlocField sets one bloc field from raw text.
func (w *Workspace) UpdateBlocField(ctx context.Context, blocID string, field domain.BlocField, raw string) (MutationResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next, ok, err := tree.UpdateBlocField(w.blocs, blocID, field, raw)
	if err != nil {
		return MutationResult{}, err
	}
	if !ok {
		return w.notFound("update bloc", "bloc_id", blocID, "field", field), nil
	}
	w.apply(next)
	return w.persist(ctx, "update bloc", MutationResult{Applied: true, BlocID: blocID}, func(ctx context.Context) error {
		return w.saveBloc(ctx, blocID)
	})
}

// RetireBloc marks a bloc retired. The confirmation must equal the retire phrase exactly.
func (w *Workspace) RetireBloc(ctx context.Context, blocID, confirmation string) (MutationResult, error) {
	if confirmation != w.cfg.RetireBlocPhrase {
		return MutationResult{}, fmt.Errorf("type %q to retire a bloc: %w", w.cfg.RetireBlocPhrase, ErrConfirmationRequired)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock()
	next, ok := tree.MapBloc(w.blocs, blocID, func(b domain.Bloc) domain.Bloc {
		b.Retire(now)
		b.Version++
		return b
	})
	if !ok {
		return w.notFound("retire bloc", "bloc_id", blocID), nil
	}
	w.apply(next)
	return w.persist(ctx, "retire bloc", MutationResult{Applied: true, BlocID: blocID}, func(ctx context.Context) error {
		return w.saveBloc(ctx, blocID)
	})
}

// UpdateOperationField sets one operation field from raw text.
func (w *Workspace) UpdateOperationField(ctx context.Context, blocID, opID string, field domain.OperationField, raw string) (MutationResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next, ok, err := tree.UpdateOperationField(w.blocs, blocID, opID, field, raw)
	if err != nil {
		return MutationResult{}, err
	}
	if !ok {
		return w.notFound("update operation", "bloc_id", blocID, "operation_id", opID, "field", field), nil
	}
	w.apply(next)
	res := MutationResult{Applied: true, BlocID: blocID, OperationID: opID}
	return w.persist(ctx, "update operation", res, func(ctx context.Context) error {
		return w.saveOperation(ctx, blocID, opID)
	})
}

// UpdateWorkPackageField sets one work package field from raw text.
func (w *Workspace) UpdateWorkPackageField(ctx context.Context, blocID, opID, wpID string, field domain.WorkPackageField, raw string) (MutationResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next, ok, err := tree.UpdateWorkPackageField(w.blocs, blocID, opID, wpID, field, raw)
	if err != nil {
		return MutationResult{}, err
	}
	if !ok {
		return w.notFound("update work package", "bloc_id", blocID, "operation_id", opID, "work_package_id", wpID, "field", field), nil
	}
	w.apply(next)
	res := MutationResult{Applied: true, BlocID: blocID, OperationID: opID, WorkPackageID: wpID}
	return w.persist(ctx, "update work package", res, func(ctx context.Context) error {
		return w.saveWorkPackage(ctx, blocID, opID, wpID)
	})
}

// AdvanceWorkPackage cycles one work package to its next status.
func (w *Workspace) AdvanceWorkPackage(ctx context.Context, blocID, opID, wpID string) (MutationResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next, ok := tree.AdvanceWorkPackageStatus(w.blocs, blocID, opID, wpID)
	if !ok {
		return w.notFound("advance work package", "bloc_id", blocID, "operation_id", opID, "work_package_id", wpID), nil
	}
	w.apply(next)
	res := MutationResult{Applied: true, BlocID: blocID, OperationID: opID, WorkPackageID: wpID}
	return w.persist(ctx, "advance work package", res, func(ctx context.Context) error {
		return w.saveWorkPackage(ctx, blocID, opID, wpID)
	})
}

// DeleteBloc removes a bloc and everything under it. The confirmation must
// equal the delete phrase exactly, including case; otherwise nothing happens.
func (w *Workspace) DeleteBloc(ctx context.Context, blocID, confirmation string) (MutationResult, error) {
	if confirmation != w.cfg.DeleteBlocPhrase {
		return MutationResult{}, fmt.Errorf("type %q to delete a bloc: %w", w.cfg.DeleteBlocPhrase, ErrConfirmationRequired)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	target := w.blocs.FindBloc(blocID)
	next, ok := tree.DeleteBloc(w.blocs, blocID)
	if !ok {
		return w.notFound("delete bloc", "bloc_id", blocID), nil
	}
	w.apply(next)
	return w.persist(ctx, "delete bloc", MutationResult{Applied: true, BlocID: blocID}, func(ctx context.Context) error {
		if target.UUID == "" {
			return fmt.Errorf("bloc %s: %w", blocID, ErrNotPersisted)
		}
		return w.store.DeleteBloc(ctx, target.UUID)
	})
}

// DeleteOperation removes an operation and its work packages once confirmed.
func (w *Workspace) DeleteOperation(ctx context.Context, blocID, opID string, confirmed bool) (MutationResult, error) {
	if !confirmed {
		return MutationResult{}, fmt.Errorf("delete operation: %w", ErrConfirmationRequired)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	target := w.blocs.FindOperation(blocID, opID)
	next, ok := tree.DeleteOperation(w.blocs, blocID, opID)
	if !ok {
		return w.notFound("delete operation", "bloc_id", blocID, "operation_id", opID), nil
	}
	w.apply(next)
	res := MutationResult{Applied: true, BlocID: blocID, OperationID: opID}
	return w.persist(ctx, "delete operation", res, func(ctx context.Context) error {
		if target.UUID == "" {
			return fmt.Errorf("operation %s: %w", opID, ErrNotPersisted)
		}
		return w.store.DeleteOperation(ctx, target.UUID)
	})
}

// DeleteWorkPackage removes one work package once confirmed.
func (w *Workspace) DeleteWorkPackage(ctx context.Context, blocID, opID, wpID string, confirmed bool) (MutationResult, error) {
	if !confirmed {
		return MutationResult{}, fmt.Errorf("delete work package: %w", ErrConfirmationRequired)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	target := w.blocs.FindWorkPackage(blocID, opID, wpID)
	next, ok := tree.DeleteWorkPackage(w.blocs, blocID, opID, wpID)
	if !ok {
		return w.notFound("delete work package", "bloc_id", blocID, "operation_id", opID, "work_package_id", wpID), nil
	}
	w.apply(next)
	res := MutationResult{Applied: true, BlocID: blocID, OperationID: opID, WorkPackageID: wpID}
	return w.persist(ctx, "delete work package", res, func(ctx context.Context) error {
		if target.UUID == "" {
			return fmt.Errorf("work package %s: %w", wpID, ErrNotPersisted)
		}
		return w.store.DeleteWorkPackage(ctx, target.UUID)
	})
}

// apply installs next as the current forest and re-syncs expansion.
func (w *Workspace) apply(next tree.Forest) {
	w.blocs = next
	w.expanded.Sync(w.blocs)
}

// persist runs the store call for an already-applied mutation and reconciles on failure.
func (w *Workspace) persist(ctx context.Context, action string, res MutationResult, call func(context.Context) error) (MutationResult, error) {
	if err := call(ctx); err != nil {
		res.Reconciled = w.reconcileLocked(ctx, action, err)
		return res, fmt.Errorf("%s: %w", action, joinPersistence(err))
	}
	res.Persisted = true
	w.expanded.Sync(w.blocs)
	w.logger.Debug("mutation persisted", "action", action, "bloc_id", res.BlocID, "operation_id", res.OperationID, "work_package_id", res.WorkPackageID)
	return res, nil
}

// reconcileLocked reloads the forest after a failed store call. It reports whether local state was replaced.
func (w *Workspace) reconcileLocked(ctx context.Context, action string, cause error) bool {
	w.logger.Error("persistence failed, reloading from store", "action", action, "err", cause)
	if err := w.loadLocked(ctx); err != nil {
		w.logger.Error("reload after persistence failure failed", "action", action, "err", err)
		return false
	}
	return true
}

// loadLocked fetches the forest and replaces local state wholesale.
func (w *Workspace) loadLocked(ctx context.Context) error {
	blocs, err := w.store.LoadBlocs(ctx)
	if err != nil {
		return fmt.Errorf("load blocs: %w", err)
	}
	w.apply(tree.Forest(domain.DeriveAll(blocs)))
	return nil
}

// notFound logs a stale id and returns an unapplied result.
func (w *Workspace) notFound(action string, keyvals ...any) MutationResult {
	w.logger.Debug("mutation target not found, ignoring", append([]any{"action", action}, keyvals...)...)
	return MutationResult{}
}

// saveBloc writes the current value of one bloc.
func (w *Workspace) saveBloc(ctx context.Context, blocID string) error {
	b := w.blocs.FindBloc(blocID)
	if b == nil || b.UUID == "" {
		return fmt.Errorf("bloc %s: %w", blocID, ErrNotPersisted)
	}
	return w.store.UpdateBloc(ctx, *b)
}

// saveOperation writes the current value of one operation.
func (w *Workspace) saveOperation(ctx context.Context, blocID, opID string) error {
	op := w.blocs.FindOperation(blocID, opID)
	if op == nil || op.UUID == "" {
		return fmt.Errorf("operation %s: %w", opID, ErrNotPersisted)
	}
	return w.store.UpdateOperation(ctx, *op)
}

// saveWorkPackage writes the current value of one work package.
func (w *Workspace) saveWorkPackage(ctx context.Context, blocID, opID, wpID string) error {
	wp := w.blocs.FindWorkPackage(blocID, opID, wpID)
	if wp == nil || wp.UUID == "" {
		return fmt.Errorf("work package %s: %w", wpID, ErrNotPersisted)
	}
	return w.store.UpdateWorkPackage(ctx, *wp)
}

// joinPersistence tags err with ErrPersistence unless it already carries it.
func joinPersistence(err error) error {
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
