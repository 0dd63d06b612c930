package domain

import (
	"errors"
	"testing"
	"time"
)

// TestWorkStatusNextCycles verifies the fixed advance order wraps around.
func TestWorkStatusNextCycles(t *testing.T) {
	cases := map[WorkStatus]WorkStatus{
		StatusNotStarted: StatusInProgress,
		StatusInProgress: StatusComplete,
		StatusComplete:   StatusNotStarted,
		"":               StatusInProgress,
	}
	for from, want := range cases {
		if got := from.Next(); got != want {
			t.Fatalf("%q.Next() = %q, want %q", from, got, want)
		}
	}
}

// TestParseWorkStatus verifies normalization and rejection of unknown values.
func TestParseWorkStatus(t *testing.T) {
	for raw, want := range map[string]WorkStatus{
		"Complete":    StatusComplete,
		"in_progress": StatusInProgress,
		" not started": StatusNotStarted,
		"done":        StatusComplete,
	} {
		got, err := ParseWorkStatus(raw)
		if err != nil {
			t.Fatalf("ParseWorkStatus(%q) error = %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseWorkStatus(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := ParseWorkStatus("blocked"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

// TestEffectiveStatusInference verifies legacy rows without status are inferred on every read.
func TestEffectiveStatusInference(t *testing.T) {
	cases := []struct {
		name string
		wp   WorkPackage
		want WorkStatus
	}{
		{name: "completed flag", wp: WorkPackage{Completed: true}, want: StatusComplete},
		{name: "date set", wp: WorkPackage{Date: NewDate(2026, 3, 1)}, want: StatusInProgress},
		{name: "area set", wp: WorkPackage{Area: 1.5}, want: StatusInProgress},
		{name: "quantity set", wp: WorkPackage{Quantity: 2}, want: StatusInProgress},
		{name: "rate only", wp: WorkPackage{Rate: 3}, want: StatusNotStarted},
		{name: "empty", wp: WorkPackage{}, want: StatusNotStarted},
		{name: "explicit status wins", wp: WorkPackage{Status: StatusNotStarted, Completed: true, Area: 3}, want: StatusNotStarted},
		{name: "legacy spelling", wp: WorkPackage{Status: "completed"}, want: StatusComplete},
	}
	for _, tc := range cases {
		if got := tc.wp.EffectiveStatus(); got != tc.want {
			t.Fatalf("%s: EffectiveStatus() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

// TestWorkPackageStatusWritesKeepCompletedInSync verifies every status write updates the legacy flag.
func TestWorkPackageStatusWritesKeepCompletedInSync(t *testing.T) {
	wp, err := NewWorkPackage(WorkPackageInput{ID: "wp1", Date: NewDate(2026, 2, 21)})
	if err != nil {
		t.Fatalf("NewWorkPackage() error = %v", err)
	}
	if wp.Status != StatusNotStarted || wp.Completed {
		t.Fatalf("unexpected initial state %q completed=%t", wp.Status, wp.Completed)
	}
	for i := 0; i < 6; i++ {
		wp.Advance()
		if wp.Completed != (wp.Status == StatusComplete) {
			t.Fatalf("step %d: completed=%t status=%q", i, wp.Completed, wp.Status)
		}
	}

	updated, err := wp.WithField(WorkPackageFieldStatus, "complete")
	if err != nil {
		t.Fatalf("WithField(status) error = %v", err)
	}
	if !updated.Completed {
		t.Fatalf("expected completed=true after setting complete")
	}
	reopened, err := updated.WithField(WorkPackageFieldCompleted, "false")
	if err != nil {
		t.Fatalf("WithField(completed) error = %v", err)
	}
	if reopened.Completed || reopened.Status != StatusNotStarted {
		t.Fatalf("unexpected reopen state %q completed=%t", reopened.Status, reopened.Completed)
	}
	legacy := WorkPackage{ID: "legacy", Area: 2}
	closed, err := legacy.WithField(WorkPackageFieldCompleted, "yes")
	if err != nil {
		t.Fatalf("WithField(completed) error = %v", err)
	}
	if closed.Status != StatusComplete || !closed.Completed {
		t.Fatalf("unexpected legacy close state %q completed=%t", closed.Status, closed.Completed)
	}
}

// TestNewWorkPackageValidationCollectsAllErrors verifies every bad field is reported at once.
func TestNewWorkPackageValidationCollectsAllErrors(t *testing.T) {
	_, err := NewWorkPackage(WorkPackageInput{ID: " ", Area: -1, Quantity: -2})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Fields) != 4 {
		t.Fatalf("expected 4 field errors, got %d: %v", len(verr.Fields), verr)
	}
	for _, sentinel := range []error{ErrInvalidID, ErrInvalidDate, ErrInvalidArea, ErrInvalidQuantity} {
		if !errors.Is(err, sentinel) {
			t.Fatalf("expected %v in %v", sentinel, err)
		}
	}
}

// TestNewBlocDefaultsAndValidation verifies defaults and the all-or-nothing error list.
func TestNewBlocDefaultsAndValidation(t *testing.T) {
	b, err := NewBloc(BlocInput{ID: "b1", Name: "  North 4 ", AreaHectares: 12.5})
	if err != nil {
		t.Fatalf("NewBloc() error = %v", err)
	}
	if b.Name != "North 4" || b.CycleNumber != 1 || b.GrowthStage != GrowthStageGermination {
		t.Fatalf("unexpected defaults %#v", b)
	}
	if b.CycleLabel() != "plantation" {
		t.Fatalf("CycleLabel() = %q, want plantation", b.CycleLabel())
	}
	if b.Operations == nil {
		t.Fatalf("expected empty, non-nil operations")
	}

	_, err = NewBloc(BlocInput{
		ID:                  "b2",
		AreaHectares:        0,
		ExpectedYieldTonsHa: -4,
		PlantingDate:        NewDate(2026, 5, 1),
		PlannedHarvestDate:  NewDate(2026, 1, 1),
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	for _, sentinel := range []error{ErrInvalidName, ErrInvalidArea, ErrInvalidYield, ErrInvalidDateRange} {
		if !errors.Is(err, sentinel) {
			t.Fatalf("expected %v in %v", sentinel, err)
		}
	}
}

// TestBlocWithField verifies typed parsing and rejection for bloc fields.
func TestBlocWithField(t *testing.T) {
	b, err := NewBloc(BlocInput{ID: "b1", Name: "B", AreaHectares: 4})
	if err != nil {
		t.Fatalf("NewBloc() error = %v", err)
	}
	next, err := b.WithField(BlocFieldCycleNumber, "3")
	if err != nil {
		t.Fatalf("WithField(cycle_number) error = %v", err)
	}
	if next.CycleLabel() != "ratoon 2" || !next.IsRatoon() {
		t.Fatalf("CycleLabel() = %q, want ratoon 2", next.CycleLabel())
	}
	next, err = next.WithField(BlocFieldPlannedHarvestDate, "15/08/2027")
	if err != nil {
		t.Fatalf("WithField(planned_harvest_date) error = %v", err)
	}
	if next.PlannedHarvestDate != NewDate(2027, time.August, 15) {
		t.Fatalf("PlannedHarvestDate = %v", next.PlannedHarvestDate)
	}
	if b.CycleNumber != 1 {
		t.Fatalf("WithField() mutated the receiver")
	}
	if _, err := b.WithField(BlocFieldAreaHectares, "0"); !errors.Is(err, ErrInvalidArea) {
		t.Fatalf("expected ErrInvalidArea, got %v", err)
	}
	if _, err := b.WithField(BlocFieldGrowthStage, "flowering"); !errors.Is(err, ErrInvalidGrowthStage) {
		t.Fatalf("expected ErrInvalidGrowthStage, got %v", err)
	}
	if _, err := b.WithField("colour", "red"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

// TestOperationWithField verifies cost parsing and the planned date range rule.
func TestOperationWithField(t *testing.T) {
	op, err := NewOperation(OperationInput{ID: "op1", ProductName: "Fertilizer Application"})
	if err != nil {
		t.Fatalf("NewOperation() error = %v", err)
	}
	if op.Method != MethodMechanical || op.Status != StatusNotStarted {
		t.Fatalf("unexpected defaults %q %q", op.Method, op.Status)
	}
	next, err := op.WithField(OperationFieldEstProductCost, "1250.40")
	if err != nil {
		t.Fatalf("WithField(est_product_cost) error = %v", err)
	}
	if next.FieldValue(OperationFieldEstProductCost) != "1250.4" {
		t.Fatalf("est cost = %q", next.FieldValue(OperationFieldEstProductCost))
	}
	if _, err := op.WithField(OperationFieldActResourceCost, "-1"); !errors.Is(err, ErrInvalidCost) {
		t.Fatalf("expected ErrInvalidCost, got %v", err)
	}
	if _, err := op.WithField(OperationFieldMethod, "aerial"); !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("expected ErrInvalidMethod, got %v", err)
	}
	next, err = op.WithField(OperationFieldPlannedStartDate, "2026-03-10")
	if err != nil {
		t.Fatalf("WithField(planned_start_date) error = %v", err)
	}
	if _, err := next.WithField(OperationFieldPlannedEndDate, "2026-03-01"); !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange, got %v", err)
	}
}

// TestParseDateFormats verifies the accepted spellings and day-first reading.
func TestParseDateFormats(t *testing.T) {
	want := NewDate(2026, time.March, 4)
	for _, raw := range []string{
		"2026-03-04",
		"2026/03/04",
		"04/03/2026",
		"4/3/2026",
		"04-03-2026",
		"04.03.2026",
		"4 Mar 2026",
		"Mar 4, 2026",
		"2026-03-04T10:30:00Z",
	} {
		got, err := ParseDate(raw)
		if err != nil {
			t.Fatalf("ParseDate(%q) error = %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseDate(%q) = %v, want %v", raw, got, want)
		}
	}
	if got, err := ParseDate("  "); err != nil || !got.IsZero() {
		t.Fatalf("ParseDate(blank) = %v, %v", got, err)
	}
	if _, err := ParseDate("31/31/2026"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

// TestDateTextRoundTrip verifies the canonical text encoding.
func TestDateTextRoundTrip(t *testing.T) {
	d := NewDate(2026, time.December, 1)
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	if string(text) != "2026-12-01" {
		t.Fatalf("MarshalText() = %q", text)
	}
	var back Date
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if back != d {
		t.Fatalf("round trip = %v, want %v", back, d)
	}
	if dap, ok := DaysAfterPlanting(NewDate(2026, time.November, 1), d); !ok || dap != 30 {
		t.Fatalf("DaysAfterPlanting() = %d, %t", dap, ok)
	}
	if _, ok := DaysAfterPlanting(Date{}, d); ok {
		t.Fatalf("expected no DAP without planting date")
	}
}

// TestRestoreWorkPackageAllowsMissingDate verifies only new packages require a date.
func TestRestoreWorkPackageAllowsMissingDate(t *testing.T) {
	in := WorkPackageInput{ID: "w1", Area: 2}
	if _, err := NewWorkPackage(in); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("NewWorkPackage() error = %v, want ErrInvalidDate", err)
	}
	wp, err := RestoreWorkPackage(in)
	if err != nil {
		t.Fatalf("RestoreWorkPackage() error = %v", err)
	}
	if !wp.Date.IsZero() || wp.Status != StatusNotStarted || wp.Version != 1 {
		t.Fatalf("restored package = %#v", wp)
	}
	if _, err := RestoreWorkPackage(WorkPackageInput{ID: "w2", Area: -1}); !errors.Is(err, ErrInvalidArea) {
		t.Fatalf("RestoreWorkPackage(negative area) error = %v, want ErrInvalidArea", err)
	}
}
