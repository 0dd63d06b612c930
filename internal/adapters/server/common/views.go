package common

import (
	"github.com/hylla/canetrack/internal/domain"
)

// MapBloc renders one bloc and its subtree.
func MapBloc(b domain.Bloc) BlocView {
	out := BlocView{
		ID:                   b.ID,
		UUID:                 b.UUID,
		Version:              b.Version,
		Name:                 b.Name,
		AreaHectares:         b.AreaHectares,
		CycleNumber:          b.CycleNumber,
		CycleLabel:           b.CycleLabel(),
		VarietyName:          b.VarietyName,
		PlantingDate:         b.PlantingDate.String(),
		PlannedHarvestDate:   b.PlannedHarvestDate.String(),
		ExpectedYieldTonsHa:  b.ExpectedYieldTonsHa,
		GrowthStage:          string(b.GrowthStage),
		Notes:                b.Notes,
		Progress:             b.Progress,
		TotalEstProductCost:  b.TotalEstProductCost,
		TotalEstResourceCost: b.TotalEstResourceCost,
		TotalActProductCost:  b.TotalActProductCost,
		TotalActResourceCost: b.TotalActResourceCost,
		Operations:           make([]OperationView, 0, len(b.Operations)),
	}
	if b.RetiredAt != nil {
		ts := *b.RetiredAt
		out.RetiredAt = &ts
	}
	for _, op := range b.Operations {
		out.Operations = append(out.Operations, MapOperation(*op, b.PlantingDate))
	}
	return out
}

// MapOperation renders one operation. planting anchors work package DAP values.
func MapOperation(op domain.Operation, planting domain.Date) OperationView {
	out := OperationView{
		ID:               op.ID,
		UUID:             op.UUID,
		Version:          op.Version,
		ProductName:      op.ProductName,
		Method:           string(op.Method),
		PlannedStartDate: op.PlannedStartDate.String(),
		PlannedEndDate:   op.PlannedEndDate.String(),
		PlannedRate:      op.PlannedRate,
		EstProductCost:   op.EstProductCost,
		EstResourceCost:  op.EstResourceCost,
		ActProductCost:   op.ActProductCost,
		ActResourceCost:  op.ActResourceCost,
		Status:           string(op.Status),
		Progress:         op.Progress,
		WorkPackages:     make([]WorkPackageView, 0, len(op.WorkPackages)),
	}
	for _, wp := range op.WorkPackages {
		out.WorkPackages = append(out.WorkPackages, MapWorkPackage(*wp, planting))
	}
	return out
}

// MapWorkPackage renders one work package with its effective status.
func MapWorkPackage(wp domain.WorkPackage, planting domain.Date) WorkPackageView {
	out := WorkPackageView{
		ID:        wp.ID,
		UUID:      wp.UUID,
		Version:   wp.Version,
		Date:      wp.Date.String(),
		Area:      wp.Area,
		Rate:      wp.Rate,
		Quantity:  wp.Quantity,
		Status:    string(wp.EffectiveStatus()),
		Completed: wp.IsComplete(),
	}
	if dap, ok := domain.DaysAfterPlanting(planting, wp.Date); ok {
		out.DAP = &dap
	}
	return out
}

// MapChangeEvents renders activity entries in input order.
func MapChangeEvents(events []domain.ChangeEvent) []ChangeEventView {
	out := make([]ChangeEventView, 0, len(events))
	for _, ev := range events {
		out = append(out, ChangeEventView{
			ID:         ev.ID,
			EntityKind: string(ev.EntityKind),
			EntityID:   ev.EntityID,
			EntityUUID: ev.EntityUUID,
			Operation:  string(ev.Operation),
			Metadata:   ev.Metadata,
			OccurredAt: ev.OccurredAt,
		})
	}
	return out
}
