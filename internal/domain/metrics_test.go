package domain

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

// wpFixture builds a work package with an explicit status.
func wpFixture(id string, area float64, status WorkStatus) *WorkPackage {
	wp := &WorkPackage{ID: id, Version: 1, Date: NewDate(2026, 2, 21), Area: area}
	wp.SetStatus(status)
	return wp
}

// TestComputeOperationProgressExample verifies the 4 of 10 hectares scenario.
func TestComputeOperationProgressExample(t *testing.T) {
	op := Operation{WorkPackages: []*WorkPackage{
		wpFixture("wp1", 4, StatusComplete),
		wpFixture("wp2", 3, StatusInProgress),
	}}
	if got := ComputeOperationProgress(op, 10); got != 40 {
		t.Fatalf("ComputeOperationProgress() = %d, want 40", got)
	}

	op.WorkPackages[0].Advance()
	if op.WorkPackages[0].Completed {
		t.Fatalf("expected completed=false after advancing from complete")
	}
	if op.WorkPackages[0].EffectiveStatus() != StatusNotStarted {
		t.Fatalf("status = %q, want not-started", op.WorkPackages[0].EffectiveStatus())
	}
	if got := ComputeOperationProgress(op, 10); got != 0 {
		t.Fatalf("ComputeOperationProgress() after advance = %d, want 0", got)
	}
}

// TestComputeOperationProgressClamp verifies results stay within [0,100].
func TestComputeOperationProgressClamp(t *testing.T) {
	cases := []struct {
		name string
		area float64
		wps  []*WorkPackage
		want int
	}{
		{name: "zero area", area: 0, wps: []*WorkPackage{wpFixture("a", 5, StatusComplete)}, want: 0},
		{name: "negative area", area: -3, wps: []*WorkPackage{wpFixture("a", 5, StatusComplete)}, want: 0},
		{name: "nan area", area: math.NaN(), wps: []*WorkPackage{wpFixture("a", 5, StatusComplete)}, want: 0},
		{name: "inf area", area: math.Inf(1), wps: []*WorkPackage{wpFixture("a", 5, StatusComplete)}, want: 0},
		{name: "overshoot", area: 2, wps: []*WorkPackage{wpFixture("a", 5, StatusComplete)}, want: 100},
		{name: "no packages", area: 10, want: 0},
		{name: "half rounds away from zero", area: 1, wps: []*WorkPackage{wpFixture("a", 0.125, StatusComplete)}, want: 13},
		{name: "below half rounds down", area: 3, wps: []*WorkPackage{wpFixture("a", 0.01, StatusComplete)}, want: 0},
		{name: "only complete counted", area: 10, wps: []*WorkPackage{
			wpFixture("a", 2, StatusComplete),
			wpFixture("b", 9, StatusNotStarted),
			wpFixture("c", 1, StatusComplete),
		}, want: 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeOperationProgress(Operation{WorkPackages: tc.wps}, tc.area)
			if got != tc.want {
				t.Fatalf("ComputeOperationProgress() = %d, want %d", got, tc.want)
			}
			if got < 0 || got > 100 {
				t.Fatalf("progress %d outside [0,100]", got)
			}
		})
	}
}

// TestComputeOperationProgressLegacyCompleted verifies legacy rows without status count when completed.
func TestComputeOperationProgressLegacyCompleted(t *testing.T) {
	op := Operation{WorkPackages: []*WorkPackage{
		{ID: "legacy", Area: 5, Completed: true},
		{ID: "legacy-open", Area: 5},
	}}
	if got := ComputeOperationProgress(op, 10); got != 50 {
		t.Fatalf("ComputeOperationProgress() = %d, want 50", got)
	}
}

// TestRollupCosts verifies bloc totals sum operation costs without weighting.
func TestRollupCosts(t *testing.T) {
	ops := []*Operation{
		{EstProductCost: decimal.RequireFromString("100.50"), ActResourceCost: decimal.RequireFromString("20")},
		{EstProductCost: decimal.RequireFromString("0.25"), EstResourceCost: decimal.RequireFromString("7"), ActProductCost: decimal.RequireFromString("3.10")},
	}
	totals := RollupCosts(ops)
	if !totals.EstProduct.Equal(decimal.RequireFromString("100.75")) {
		t.Fatalf("EstProduct = %s, want 100.75", totals.EstProduct)
	}
	if !totals.EstResource.Equal(decimal.RequireFromString("7")) {
		t.Fatalf("EstResource = %s, want 7", totals.EstResource)
	}
	if !totals.ActProduct.Equal(decimal.RequireFromString("3.1")) {
		t.Fatalf("ActProduct = %s, want 3.1", totals.ActProduct)
	}
	if !totals.Estimated().Equal(decimal.RequireFromString("107.75")) {
		t.Fatalf("Estimated() = %s, want 107.75", totals.Estimated())
	}
	if !totals.Actual().Equal(decimal.RequireFromString("23.1")) {
		t.Fatalf("Actual() = %s, want 23.1", totals.Actual())
	}
}

// TestBlocDerive verifies derived progress and totals follow the children.
func TestBlocDerive(t *testing.T) {
	untouched := &Operation{ID: "op2", EstProductCost: decimal.NewFromInt(5)}
	b := Bloc{
		ID:           "b1",
		AreaHectares: 10,
		Operations: []*Operation{
			{ID: "op1", Progress: 99, EstProductCost: decimal.NewFromInt(10), WorkPackages: []*WorkPackage{
				wpFixture("wp1", 5, StatusComplete),
			}},
			untouched,
		},
	}
	derived := b.Derive()
	if derived.Operations[0].Progress != 50 {
		t.Fatalf("op1 progress = %d, want 50", derived.Operations[0].Progress)
	}
	if b.Operations[0].Progress != 99 {
		t.Fatalf("Derive() mutated the input operation")
	}
	if derived.Operations[1] != untouched {
		t.Fatalf("expected unchanged operation to keep its pointer")
	}
	if derived.Progress != 25 {
		t.Fatalf("bloc progress = %d, want 25", derived.Progress)
	}
	if !derived.TotalEstProductCost.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("TotalEstProductCost = %s, want 15", derived.TotalEstProductCost)
	}
}
