package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/canetrack/internal/app"
	"github.com/hylla/canetrack/internal/domain"
)

// WorkspaceAdapter maps transport contracts onto one app.Workspace.
type WorkspaceAdapter struct {
	ws *app.Workspace
}

// NewWorkspaceAdapter builds one common adapter over a loaded workspace.
func NewWorkspaceAdapter(ws *app.Workspace) *WorkspaceAdapter {
	return &WorkspaceAdapter{ws: ws}
}

// ListBlocs returns the current forest and expansion state.
func (a *WorkspaceAdapter) ListBlocs(_ context.Context, includeRetired bool) (ForestView, error) {
	if a == nil || a.ws == nil {
		return ForestView{}, fmt.Errorf("workspace adapter is not configured: %w", ErrInvalidRequest)
	}
	return a.forestView(includeRetired), nil
}

// Reload replaces the workspace state from the store.
func (a *WorkspaceAdapter) Reload(ctx context.Context) (ForestView, error) {
	if a == nil || a.ws == nil {
		return ForestView{}, fmt.Errorf("workspace adapter is not configured: %w", ErrInvalidRequest)
	}
	if err := a.ws.Load(ctx); err != nil {
		return ForestView{}, mapAppError("reload", err)
	}
	return a.forestView(true), nil
}

// AddBloc creates one bloc.
func (a *WorkspaceAdapter) AddBloc(ctx context.Context, req AddBlocRequest) (MutationView, error) {
	var dates dateFields
	in := domain.BlocInput{
		ID:                  strings.TrimSpace(req.ID),
		Name:                req.Name,
		AreaHectares:        req.AreaHectares,
		CycleNumber:         req.CycleNumber,
		VarietyName:         req.VarietyName,
		PlantingDate:        dates.parse(string(domain.BlocFieldPlantingDate), req.PlantingDate),
		PlannedHarvestDate:  dates.parse(string(domain.BlocFieldPlannedHarvestDate), req.PlannedHarvestDate),
		ExpectedYieldTonsHa: req.ExpectedYieldTonsHa,
		GrowthStage:         domain.GrowthStage(req.GrowthStage),
		Notes:               req.Notes,
	}
	if err := dates.err(); err != nil {
		return MutationView{}, mapAppError("add bloc", err)
	}
	res, err := a.ws.AddBloc(ctx, in)
	return a.mutationView("add bloc", res, err)
}

// AddOperation creates one operation under req.BlocID.
func (a *WorkspaceAdapter) AddOperation(ctx context.Context, req AddOperationRequest) (MutationView, error) {
	var dates dateFields
	in := domain.OperationInput{
		ID:               strings.TrimSpace(req.ID),
		ProductName:      req.ProductName,
		Method:           domain.Method(req.Method),
		PlannedStartDate: dates.parse(string(domain.OperationFieldPlannedStartDate), req.PlannedStartDate),
		PlannedEndDate:   dates.parse(string(domain.OperationFieldPlannedEndDate), req.PlannedEndDate),
		PlannedRate:      req.PlannedRate,
		EstProductCost:   req.EstProductCost,
		EstResourceCost:  req.EstResourceCost,
		ActProductCost:   req.ActProductCost,
		ActResourceCost:  req.ActResourceCost,
	}
	if err := dates.err(); err != nil {
		return MutationView{}, mapAppError("add operation", err)
	}
	res, err := a.ws.AddOperation(ctx, strings.TrimSpace(req.BlocID), in)
	return a.mutationView("add operation", res, err)
}

// AddWorkPackage creates one work package under req.OperationID.
func (a *WorkspaceAdapter) AddWorkPackage(ctx context.Context, req AddWorkPackageRequest) (MutationView, error) {
	var dates dateFields
	blocID, opID := strings.TrimSpace(req.BlocID), strings.TrimSpace(req.OperationID)
	in := domain.WorkPackageInput{
		ID:       strings.TrimSpace(req.ID),
		Date:     dates.parse(string(domain.WorkPackageFieldDate), req.Date),
		Area:     req.Area,
		Quantity: req.Quantity,
	}
	if req.Rate != nil {
		in.Rate = *req.Rate
	} else if op := a.ws.Blocs().FindOperation(blocID, opID); op != nil {
		in.Rate = op.PlannedRate
	}
	if strings.TrimSpace(req.Status) != "" {
		status, err := domain.ParseWorkStatus(req.Status)
		if err != nil {
			dates.fields = append(dates.fields, domain.FieldError{Field: string(domain.WorkPackageFieldStatus), Err: err})
		}
		in.Status = status
	}
	if err := dates.err(); err != nil {
		return MutationView{}, mapAppError("add work package", err)
	}
	res, err := a.ws.AddWorkPackage(ctx, blocID, opID, in)
	return a.mutationView("add work package", res, err)
}

// UpdateField sets one field on the node named by req.Level.
func (a *WorkspaceAdapter) UpdateField(ctx context.Context, req UpdateFieldRequest) (MutationView, error) {
	ref := trimRef(req.NodeRef)
	var (
		res app.MutationResult
		err error
	)
	switch strings.TrimSpace(strings.ToLower(req.Level)) {
	case LevelBloc:
		res, err = a.ws.UpdateBlocField(ctx, ref.BlocID, domain.BlocField(req.Field), req.Value)
	case LevelOperation:
		res, err = a.ws.UpdateOperationField(ctx, ref.BlocID, ref.OperationID, domain.OperationField(req.Field), req.Value)
	case LevelWorkPackage:
		res, err = a.ws.UpdateWorkPackageField(ctx, ref.BlocID, ref.OperationID, ref.WorkPackageID, domain.WorkPackageField(req.Field), req.Value)
	default:
		return MutationView{}, fmt.Errorf("update field: level %q must be one of bloc, operation, work_package: %w", req.Level, ErrInvalidRequest)
	}
	return a.mutationView("update field", res, err)
}

// AdvanceWorkPackage cycles one work package's status.
func (a *WorkspaceAdapter) AdvanceWorkPackage(ctx context.Context, req NodeRef) (MutationView, error) {
	ref := trimRef(req)
	res, err := a.ws.AdvanceWorkPackage(ctx, ref.BlocID, ref.OperationID, ref.WorkPackageID)
	return a.mutationView("advance work package", res, err)
}

// RetireBloc retires one bloc after the typed confirmation.
func (a *WorkspaceAdapter) RetireBloc(ctx context.Context, blocID, confirmation string) (MutationView, error) {
	res, err := a.ws.RetireBloc(ctx, strings.TrimSpace(blocID), confirmation)
	return a.mutationView("retire bloc", res, err)
}

// DeleteBloc deletes one bloc after the typed confirmation.
func (a *WorkspaceAdapter) DeleteBloc(ctx context.Context, blocID, confirmation string) (MutationView, error) {
	res, err := a.ws.DeleteBloc(ctx, strings.TrimSpace(blocID), confirmation)
	return a.mutationView("delete bloc", res, err)
}

// DeleteOperation deletes one operation once confirmed.
func (a *WorkspaceAdapter) DeleteOperation(ctx context.Context, req NodeRef, confirmed bool) (MutationView, error) {
	ref := trimRef(req)
	res, err := a.ws.DeleteOperation(ctx, ref.BlocID, ref.OperationID, confirmed)
	return a.mutationView("delete operation", res, err)
}

// DeleteWorkPackage deletes one work package once confirmed.
func (a *WorkspaceAdapter) DeleteWorkPackage(ctx context.Context, req NodeRef, confirmed bool) (MutationView, error) {
	ref := trimRef(req)
	res, err := a.ws.DeleteWorkPackage(ctx, ref.BlocID, ref.OperationID, ref.WorkPackageID, confirmed)
	return a.mutationView("delete work package", res, err)
}

// ListChanges returns recent activity, newest first.
func (a *WorkspaceAdapter) ListChanges(ctx context.Context, limit int) ([]ChangeEventView, error) {
	if limit < 0 {
		return nil, fmt.Errorf("list changes: limit must be >= 0: %w", ErrInvalidRequest)
	}
	events, err := a.ws.ListChangeEvents(ctx, limit)
	if err != nil {
		return nil, mapAppError("list changes", err)
	}
	return MapChangeEvents(events), nil
}

// forestView renders the workspace state.
func (a *WorkspaceAdapter) forestView(includeRetired bool) ForestView {
	blocs := a.ws.Blocs()
	expanded := a.ws.Expansion()
	out := ForestView{
		Blocs:              make([]BlocView, 0, len(blocs)),
		ExpandedBlocs:      expanded.BlocIDs(),
		ExpandedOperations: expanded.OperationIDs(),
	}
	for _, b := range blocs {
		if !includeRetired && b.IsRetired() {
			continue
		}
		out.Blocs = append(out.Blocs, MapBloc(*b))
	}
	return out
}

// mutationView converts a workspace result. An unapplied result becomes ErrNotFound.
func (a *WorkspaceAdapter) mutationView(operation string, res app.MutationResult, err error) (MutationView, error) {
	out := MutationView{
		Applied:       res.Applied,
		Persisted:     res.Persisted,
		Reconciled:    res.Reconciled,
		BlocID:        res.BlocID,
		OperationID:   res.OperationID,
		WorkPackageID: res.WorkPackageID,
	}
	if res.BlocID != "" {
		if b := a.ws.Blocs().FindBloc(res.BlocID); b != nil {
			view := MapBloc(*b)
			out.Bloc = &view
		}
	}
	if err != nil {
		return out, mapAppError(operation, err)
	}
	if !res.Applied {
		return out, fmt.Errorf("%s: target %w", operation, ErrNotFound)
	}
	return out, nil
}

// trimRef trims every id of ref.
func trimRef(ref NodeRef) NodeRef {
	return NodeRef{
		BlocID:        strings.TrimSpace(ref.BlocID),
		OperationID:   strings.TrimSpace(ref.OperationID),
		WorkPackageID: strings.TrimSpace(ref.WorkPackageID),
	}
}

// dateFields parses optional request dates and collects failures as field errors.
type dateFields struct {
	fields []domain.FieldError
}

// parse returns the zero date for empty input.
func (d *dateFields) parse(field, raw string) domain.Date {
	if strings.TrimSpace(raw) == "" {
		return domain.Date{}
	}
	parsed, err := domain.ParseDate(raw)
	if err != nil {
		d.fields = append(d.fields, domain.FieldError{Field: field, Err: domain.ErrInvalidDate})
		return domain.Date{}
	}
	return parsed
}

// err returns nil or a *domain.ValidationError.
func (d *dateFields) err() error {
	if len(d.fields) == 0 {
		return nil
	}
	return &domain.ValidationError{Fields: d.fields}
}

// FieldErrors extracts per-field messages from a validation failure.
func FieldErrors(err error) []FieldErrorView {
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		return nil
	}
	out := make([]FieldErrorView, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		out = append(out, FieldErrorView{Field: f.Field, Message: f.Err.Error()})
	}
	return out
}

// mapAppError maps app and domain errors into transport-layer error sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, app.ErrConfirmationRequired):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConfirmationRequired, err))
	case errors.Is(err, app.ErrVersionConflict):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrVersionConflict, err))
	case errors.Is(err, app.ErrPersistence):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrPersistenceFailed, err))
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrUnknownField),
		errors.Is(err, domain.ErrInvalidID):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
