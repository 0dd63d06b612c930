package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Method describes how an operation is carried out.
type Method string

// Method values.
const (
	MethodMechanical Method = "mechanical"
	MethodManual     Method = "manual"
	MethodMixed      Method = "mixed"
)

// NormalizeMethod canonicalizes a method value.
func NormalizeMethod(m Method) Method {
	return Method(strings.TrimSpace(strings.ToLower(string(m))))
}

// IsValidMethod reports whether m is a known method.
func IsValidMethod(m Method) bool {
	switch m {
	case MethodMechanical, MethodManual, MethodMixed:
		return true
	default:
		return false
	}
}

// Operation is a field activity planned and executed against one bloc.
type Operation struct {
	ID               string
	UUID             string
	Version          int64
	ProductName      string
	Method           Method
	PlannedStartDate Date
	PlannedEndDate   Date
	PlannedRate      float64
	EstProductCost   decimal.Decimal
	EstResourceCost  decimal.Decimal
	ActProductCost   decimal.Decimal
	ActResourceCost  decimal.Decimal
	Status           WorkStatus
	Progress         int
	WorkPackages     []*WorkPackage
}

// OperationInput holds values for NewOperation.
type OperationInput struct {
	ID               string
	ProductName      string
	Method           Method
	PlannedStartDate Date
	PlannedEndDate   Date
	PlannedRate      float64
	EstProductCost   decimal.Decimal
	EstResourceCost  decimal.Decimal
	ActProductCost   decimal.Decimal
	ActResourceCost  decimal.Decimal
}

// OperationField names one editable operation field.
type OperationField string

// OperationField values.
const (
	OperationFieldProductName      OperationField = "product_name"
	OperationFieldMethod           OperationField = "method"
	OperationFieldPlannedStartDate OperationField = "planned_start_date"
	OperationFieldPlannedEndDate   OperationField = "planned_end_date"
	OperationFieldPlannedRate      OperationField = "planned_rate"
	OperationFieldEstProductCost   OperationField = "est_product_cost"
	OperationFieldEstResourceCost  OperationField = "est_resource_cost"
	OperationFieldActProductCost   OperationField = "act_product_cost"
	OperationFieldActResourceCost  OperationField = "act_resource_cost"
	OperationFieldStatus           OperationField = "status"
)

// OperationFields lists editable fields in display order.
func OperationFields() []OperationField {
	return []OperationField{
		OperationFieldProductName,
		OperationFieldMethod,
		OperationFieldPlannedStartDate,
		OperationFieldPlannedEndDate,
		OperationFieldPlannedRate,
		OperationFieldEstProductCost,
		OperationFieldEstResourceCost,
		OperationFieldActProductCost,
		OperationFieldActResourceCost,
		OperationFieldStatus,
	}
}

// NewOperation validates input and returns a not-started operation with no work packages.
func NewOperation(in OperationInput) (Operation, error) {
	op := Operation{
		ID:               strings.TrimSpace(in.ID),
		Version:          1,
		ProductName:      strings.TrimSpace(in.ProductName),
		Method:           NormalizeMethod(in.Method),
		PlannedStartDate: in.PlannedStartDate,
		PlannedEndDate:   in.PlannedEndDate,
		PlannedRate:      in.PlannedRate,
		EstProductCost:   in.EstProductCost,
		EstResourceCost:  in.EstResourceCost,
		ActProductCost:   in.ActProductCost,
		ActResourceCost:  in.ActResourceCost,
		Status:           StatusNotStarted,
		WorkPackages:     []*WorkPackage{},
	}
	if op.Method == "" {
		op.Method = MethodMechanical
	}
	if err := op.validate(true); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// Validate checks every own field of the operation.
func (o Operation) Validate() error {
	return o.validate(false)
}

// validate collects field errors; requireID is set for freshly built values.
func (o Operation) validate(requireID bool) error {
	var v validator
	if requireID {
		v.check(o.ID != "", "id", ErrInvalidID)
	}
	v.check(strings.TrimSpace(o.ProductName) != "", string(OperationFieldProductName), ErrInvalidName)
	v.check(IsValidMethod(o.Method), string(OperationFieldMethod), ErrInvalidMethod)
	v.check(validNonNegative(o.PlannedRate), string(OperationFieldPlannedRate), ErrInvalidRate)
	v.check(!o.EstProductCost.IsNegative(), string(OperationFieldEstProductCost), ErrInvalidCost)
	v.check(!o.EstResourceCost.IsNegative(), string(OperationFieldEstResourceCost), ErrInvalidCost)
	v.check(!o.ActProductCost.IsNegative(), string(OperationFieldActProductCost), ErrInvalidCost)
	v.check(!o.ActResourceCost.IsNegative(), string(OperationFieldActResourceCost), ErrInvalidCost)
	if !o.PlannedStartDate.IsZero() && !o.PlannedEndDate.IsZero() {
		v.check(!o.PlannedEndDate.Before(o.PlannedStartDate), string(OperationFieldPlannedEndDate), ErrInvalidDateRange)
	}
	if o.Status != "" {
		v.check(IsValidWorkStatus(o.Status), string(OperationFieldStatus), ErrInvalidStatus)
	}
	return v.err()
}

// WithField returns a copy with one field parsed from raw. Cross-field rules are re-checked.
func (o Operation) WithField(field OperationField, raw string) (Operation, error) {
	var v validator
	switch field {
	case OperationFieldProductName:
		o.ProductName = strings.TrimSpace(raw)
	case OperationFieldMethod:
		o.Method = NormalizeMethod(Method(raw))
	case OperationFieldPlannedStartDate:
		d, err := ParseDate(raw)
		v.add(string(field), err)
		o.PlannedStartDate = d
	case OperationFieldPlannedEndDate:
		d, err := ParseDate(raw)
		v.add(string(field), err)
		o.PlannedEndDate = d
	case OperationFieldPlannedRate:
		f, err := parseNonNegativeFloat(raw, ErrInvalidRate)
		v.add(string(field), err)
		o.PlannedRate = f
	case OperationFieldEstProductCost:
		c, err := parseCost(raw)
		v.add(string(field), err)
		o.EstProductCost = c
	case OperationFieldEstResourceCost:
		c, err := parseCost(raw)
		v.add(string(field), err)
		o.EstResourceCost = c
	case OperationFieldActProductCost:
		c, err := parseCost(raw)
		v.add(string(field), err)
		o.ActProductCost = c
	case OperationFieldActResourceCost:
		c, err := parseCost(raw)
		v.add(string(field), err)
		o.ActResourceCost = c
	case OperationFieldStatus:
		s, err := ParseWorkStatus(raw)
		v.add(string(field), err)
		o.Status = s
	default:
		v.add(string(field), ErrUnknownField)
	}
	if err := v.err(); err != nil {
		return Operation{}, err
	}
	if err := o.Validate(); err != nil {
		return Operation{}, err
	}
	return o, nil
}

// FieldValue renders one field as text.
func (o Operation) FieldValue(field OperationField) string {
	switch field {
	case OperationFieldProductName:
		return o.ProductName
	case OperationFieldMethod:
		return string(o.Method)
	case OperationFieldPlannedStartDate:
		return o.PlannedStartDate.String()
	case OperationFieldPlannedEndDate:
		return o.PlannedEndDate.String()
	case OperationFieldPlannedRate:
		return formatFloat(o.PlannedRate)
	case OperationFieldEstProductCost:
		return o.EstProductCost.String()
	case OperationFieldEstResourceCost:
		return o.EstResourceCost.String()
	case OperationFieldActProductCost:
		return o.ActProductCost.String()
	case OperationFieldActResourceCost:
		return o.ActResourceCost.String()
	case OperationFieldStatus:
		return string(o.Status)
	default:
		return ""
	}
}

// FindWorkPackage returns the child with id, or nil.
func (o *Operation) FindWorkPackage(id string) *WorkPackage {
	for _, wp := range o.WorkPackages {
		if wp.ID == id {
			return wp
		}
	}
	return nil
}
