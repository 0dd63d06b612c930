package domain

import (
	"strings"
)

// WorkPackage is one day's recorded work against an operation.
type WorkPackage struct {
	ID        string
	UUID      string
	Version   int64
	Date      Date
	Area      float64
	Rate      float64
	Quantity  float64
	Status    WorkStatus
	Completed bool
}

// WorkPackageInput holds values for NewWorkPackage.
type WorkPackageInput struct {
	ID       string
	Date     Date
	Area     float64
	Rate     float64
	Quantity float64
	Status   WorkStatus
}

// WorkPackageField names one editable work package field.
type WorkPackageField string

// WorkPackageField values.
const (
	WorkPackageFieldDate      WorkPackageField = "date"
	WorkPackageFieldArea      WorkPackageField = "area"
	WorkPackageFieldRate      WorkPackageField = "rate"
	WorkPackageFieldQuantity  WorkPackageField = "quantity"
	WorkPackageFieldStatus    WorkPackageField = "status"
	WorkPackageFieldCompleted WorkPackageField = "completed"
)

// WorkPackageFields lists editable fields in display order.
func WorkPackageFields() []WorkPackageField {
	return []WorkPackageField{
		WorkPackageFieldDate,
		WorkPackageFieldArea,
		WorkPackageFieldRate,
		WorkPackageFieldQuantity,
		WorkPackageFieldStatus,
		WorkPackageFieldCompleted,
	}
}

// NewWorkPackage validates input and returns a not-started package unless a status is given.
func NewWorkPackage(in WorkPackageInput) (WorkPackage, error) {
	return buildWorkPackage(in, true)
}

// RestoreWorkPackage rebuilds a stored or imported package. Records written
// before the date was required may leave it unset.
func RestoreWorkPackage(in WorkPackageInput) (WorkPackage, error) {
	return buildWorkPackage(in, false)
}

func buildWorkPackage(in WorkPackageInput, requireDate bool) (WorkPackage, error) {
	var v validator
	id := strings.TrimSpace(in.ID)
	v.check(id != "", "id", ErrInvalidID)
	v.check(!requireDate || !in.Date.IsZero(), string(WorkPackageFieldDate), ErrInvalidDate)
	v.check(validNonNegative(in.Area), string(WorkPackageFieldArea), ErrInvalidArea)
	v.check(validNonNegative(in.Rate), string(WorkPackageFieldRate), ErrInvalidRate)
	v.check(validNonNegative(in.Quantity), string(WorkPackageFieldQuantity), ErrInvalidQuantity)
	status := StatusNotStarted
	if strings.TrimSpace(string(in.Status)) != "" {
		status = NormalizeWorkStatus(in.Status)
		v.check(IsValidWorkStatus(status), string(WorkPackageFieldStatus), ErrInvalidStatus)
	}
	if err := v.err(); err != nil {
		return WorkPackage{}, err
	}
	wp := WorkPackage{
		ID:       id,
		Version:  1,
		Date:     in.Date,
		Area:     in.Area,
		Rate:     in.Rate,
		Quantity: in.Quantity,
	}
	wp.SetStatus(status)
	return wp, nil
}

// EffectiveStatus resolves the status, inferring it for legacy records that only carry Completed.
func (w WorkPackage) EffectiveStatus() WorkStatus {
	if s := NormalizeWorkStatus(w.Status); IsValidWorkStatus(s) {
		return s
	}
	if w.Completed {
		return StatusComplete
	}
	if !w.Date.IsZero() || w.Area != 0 || w.Quantity != 0 {
		return StatusInProgress
	}
	return StatusNotStarted
}

// IsComplete reports whether the effective status is complete.
func (w WorkPackage) IsComplete() bool {
	return w.EffectiveStatus() == StatusComplete
}

// SetStatus writes status and the legacy Completed flag together.
func (w *WorkPackage) SetStatus(s WorkStatus) {
	w.Status = s
	w.Completed = s == StatusComplete
}

// Advance moves the package to the next status in the cycle.
func (w *WorkPackage) Advance() {
	w.SetStatus(w.EffectiveStatus().Next())
}

// WithField returns a copy with one field parsed from raw.
func (w WorkPackage) WithField(field WorkPackageField, raw string) (WorkPackage, error) {
	var v validator
	switch field {
	case WorkPackageFieldDate:
		d, err := ParseDate(raw)
		v.add(string(field), err)
		if err == nil && d.IsZero() {
			v.add(string(field), ErrInvalidDate)
		}
		w.Date = d
	case WorkPackageFieldArea:
		f, err := parseNonNegativeFloat(raw, ErrInvalidArea)
		v.add(string(field), err)
		w.Area = f
	case WorkPackageFieldRate:
		f, err := parseNonNegativeFloat(raw, ErrInvalidRate)
		v.add(string(field), err)
		w.Rate = f
	case WorkPackageFieldQuantity:
		f, err := parseNonNegativeFloat(raw, ErrInvalidQuantity)
		v.add(string(field), err)
		w.Quantity = f
	case WorkPackageFieldStatus:
		s, err := ParseWorkStatus(raw)
		v.add(string(field), err)
		w.SetStatus(s)
	case WorkPackageFieldCompleted:
		done, err := parseBool(raw)
		v.add(string(field), err)
		switch {
		case done:
			w.SetStatus(StatusComplete)
		case w.EffectiveStatus() == StatusComplete:
			w.SetStatus(StatusNotStarted)
		default:
			w.SetStatus(w.EffectiveStatus())
		}
	default:
		v.add(string(field), ErrUnknownField)
	}
	if err := v.err(); err != nil {
		return WorkPackage{}, err
	}
	return w, nil
}

// FieldValue renders one field as text.
func (w WorkPackage) FieldValue(field WorkPackageField) string {
	switch field {
	case WorkPackageFieldDate:
		return w.Date.String()
	case WorkPackageFieldArea:
		return formatFloat(w.Area)
	case WorkPackageFieldRate:
		return formatFloat(w.Rate)
	case WorkPackageFieldQuantity:
		return formatFloat(w.Quantity)
	case WorkPackageFieldStatus:
		return string(w.EffectiveStatus())
	case WorkPackageFieldCompleted:
		if w.IsComplete() {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
