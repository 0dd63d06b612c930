package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// CostTotals holds the four cost roll-ups of a bloc.
type CostTotals struct {
	EstProduct  decimal.Decimal
	EstResource decimal.Decimal
	ActProduct  decimal.Decimal
	ActResource decimal.Decimal
}

// Estimated returns the estimated product plus resource cost.
func (c CostTotals) Estimated() decimal.Decimal {
	return c.EstProduct.Add(c.EstResource)
}

// Actual returns the actual product plus resource cost.
func (c CostTotals) Actual() decimal.Decimal {
	return c.ActProduct.Add(c.ActResource)
}

// CompletedArea sums the area of work packages whose effective status is complete.
func CompletedArea(op Operation) float64 {
	var sum float64
	for _, wp := range op.WorkPackages {
		if wp == nil || !wp.IsComplete() {
			continue
		}
		sum += wp.Area
	}
	return sum
}

// ComputeOperationProgress returns completed area over the bloc's area as a whole percentage.
// The bloc's area is the denominator, not the operation's; the result is clamped to [0,100]
// and rounds half away from zero. A missing or zero area yields 0.
func ComputeOperationProgress(op Operation, blocAreaHectares float64) int {
	if !(blocAreaHectares > 0) || math.IsInf(blocAreaHectares, 0) {
		return 0
	}
	pct := CompletedArea(op) / blocAreaHectares * 100
	if math.IsNaN(pct) {
		return 0
	}
	pct = math.Max(0, math.Min(100, pct))
	return int(math.Round(pct))
}

// RollupCosts sums the cost fields across operations.
func RollupCosts(ops []*Operation) CostTotals {
	totals := CostTotals{
		EstProduct:  decimal.Zero,
		EstResource: decimal.Zero,
		ActProduct:  decimal.Zero,
		ActResource: decimal.Zero,
	}
	for _, op := range ops {
		if op == nil {
			continue
		}
		totals.EstProduct = totals.EstProduct.Add(op.EstProductCost)
		totals.EstResource = totals.EstResource.Add(op.EstResourceCost)
		totals.ActProduct = totals.ActProduct.Add(op.ActProductCost)
		totals.ActResource = totals.ActResource.Add(op.ActResourceCost)
	}
	return totals
}

// BlocProgress is the mean operation progress, rounded half away from zero.
func BlocProgress(ops []*Operation) int {
	if len(ops) == 0 {
		return 0
	}
	var sum int
	for _, op := range ops {
		sum += op.Progress
	}
	return int(math.Round(float64(sum) / float64(len(ops))))
}

// Totals returns the bloc's derived cost totals.
func (b Bloc) Totals() CostTotals {
	return CostTotals{
		EstProduct:  b.TotalEstProductCost,
		EstResource: b.TotalEstResourceCost,
		ActProduct:  b.TotalActProductCost,
		ActResource: b.TotalActResourceCost,
	}
}

// Derive recomputes every derived field of b and its operations.
// Operations whose progress is already current keep their pointer.
func (b Bloc) Derive() Bloc {
	var ops []*Operation
	changed := false
	for idx, op := range b.Operations {
		progress := ComputeOperationProgress(*op, b.AreaHectares)
		if progress == op.Progress {
			continue
		}
		if !changed {
			ops = append([]*Operation(nil), b.Operations...)
			changed = true
		}
		next := *op
		next.Progress = progress
		ops[idx] = &next
	}
	if changed {
		b.Operations = ops
	}
	if b.Operations == nil {
		b.Operations = []*Operation{}
	}
	totals := RollupCosts(b.Operations)
	b.TotalEstProductCost = totals.EstProduct
	b.TotalEstResourceCost = totals.EstResource
	b.TotalActProductCost = totals.ActProduct
	b.TotalActResourceCost = totals.ActResource
	b.Progress = BlocProgress(b.Operations)
	return b
}

// DeriveAll returns a new slice of freshly derived blocs.
func DeriveAll(blocs []*Bloc) []*Bloc {
	out := make([]*Bloc, 0, len(blocs))
	for _, b := range blocs {
		derived := b.Derive()
		out = append(out, &derived)
	}
	return out
}
