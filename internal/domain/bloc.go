package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GrowthStage is the crop development stage of a bloc.
type GrowthStage string

// GrowthStage values in crop order.
const (
	GrowthStageGermination GrowthStage = "germination"
	GrowthStageTillering   GrowthStage = "tillering"
	GrowthStageGrandGrowth GrowthStage = "grand-growth"
	GrowthStageMaturation  GrowthStage = "maturation"
	GrowthStageHarvested   GrowthStage = "harvested"
)

// NormalizeGrowthStage canonicalizes a stage value.
func NormalizeGrowthStage(s GrowthStage) GrowthStage {
	out := strings.TrimSpace(strings.ToLower(string(s)))
	out = strings.NewReplacer("_", "-", " ", "-").Replace(out)
	return GrowthStage(out)
}

// IsValidGrowthStage reports whether s is a known stage.
func IsValidGrowthStage(s GrowthStage) bool {
	switch s {
	case GrowthStageGermination, GrowthStageTillering, GrowthStageGrandGrowth, GrowthStageMaturation, GrowthStageHarvested:
		return true
	default:
		return false
	}
}

// Bloc is a land parcel under one crop cycle; the root of the hierarchy.
type Bloc struct {
	ID                  string
	UUID                string
	Version             int64
	Name                string
	AreaHectares        float64
	CycleNumber         int
	VarietyName         string
	PlantingDate        Date
	PlannedHarvestDate  Date
	ExpectedYieldTonsHa float64
	GrowthStage         GrowthStage
	Notes               string
	RetiredAt           *time.Time

	// Derived from Operations; see Derive.
	Progress             int
	TotalEstProductCost  decimal.Decimal
	TotalEstResourceCost decimal.Decimal
	TotalActProductCost  decimal.Decimal
	TotalActResourceCost decimal.Decimal

	Operations []*Operation
}

// BlocInput holds values for NewBloc.
type BlocInput struct {
	ID                  string
	Name                string
	AreaHectares        float64
	CycleNumber         int
	VarietyName         string
	PlantingDate        Date
	PlannedHarvestDate  Date
	ExpectedYieldTonsHa float64
	GrowthStage         GrowthStage
	Notes               string
}

// BlocField names one editable bloc field.
type BlocField string

// BlocField values.
const (
	BlocFieldName                BlocField = "name"
	BlocFieldAreaHectares        BlocField = "area_hectares"
	BlocFieldCycleNumber         BlocField = "cycle_number"
	BlocFieldVarietyName         BlocField = "variety_name"
	BlocFieldPlantingDate        BlocField = "planting_date"
	BlocFieldPlannedHarvestDate  BlocField = "planned_harvest_date"
	BlocFieldExpectedYieldTonsHa BlocField = "expected_yield_tons_ha"
	BlocFieldGrowthStage         BlocField = "growth_stage"
	BlocFieldNotes               BlocField = "notes"
)

// BlocFields lists editable fields in display order.
func BlocFields() []BlocField {
	return []BlocField{
		BlocFieldName,
		BlocFieldAreaHectares,
		BlocFieldCycleNumber,
		BlocFieldVarietyName,
		BlocFieldPlantingDate,
		BlocFieldPlannedHarvestDate,
		BlocFieldExpectedYieldTonsHa,
		BlocFieldGrowthStage,
		BlocFieldNotes,
	}
}

// NewBloc validates input and returns a bloc with no operations.
func NewBloc(in BlocInput) (Bloc, error) {
	b := Bloc{
		ID:                  strings.TrimSpace(in.ID),
		Version:             1,
		Name:                strings.TrimSpace(in.Name),
		AreaHectares:        in.AreaHectares,
		CycleNumber:         in.CycleNumber,
		VarietyName:         strings.TrimSpace(in.VarietyName),
		PlantingDate:        in.PlantingDate,
		PlannedHarvestDate:  in.PlannedHarvestDate,
		ExpectedYieldTonsHa: in.ExpectedYieldTonsHa,
		GrowthStage:         NormalizeGrowthStage(in.GrowthStage),
		Notes:               strings.TrimSpace(in.Notes),
		Operations:          []*Operation{},
	}
	if b.CycleNumber == 0 {
		b.CycleNumber = 1
	}
	if b.GrowthStage == "" {
		b.GrowthStage = GrowthStageGermination
	}
	if err := b.validate(true); err != nil {
		return Bloc{}, err
	}
	return b.Derive(), nil
}

// Validate checks every own field of the bloc.
func (b Bloc) Validate() error {
	return b.validate(false)
}

// validate collects field errors; requireID is set for freshly built values.
func (b Bloc) validate(requireID bool) error {
	var v validator
	if requireID {
		v.check(b.ID != "", "id", ErrInvalidID)
	}
	v.check(strings.TrimSpace(b.Name) != "", string(BlocFieldName), ErrInvalidName)
	v.check(validNonNegative(b.AreaHectares) && b.AreaHectares > 0, string(BlocFieldAreaHectares), ErrInvalidArea)
	v.check(b.CycleNumber >= 1, string(BlocFieldCycleNumber), ErrInvalidCycle)
	v.check(validNonNegative(b.ExpectedYieldTonsHa), string(BlocFieldExpectedYieldTonsHa), ErrInvalidYield)
	v.check(IsValidGrowthStage(b.GrowthStage), string(BlocFieldGrowthStage), ErrInvalidGrowthStage)
	if !b.PlantingDate.IsZero() && !b.PlannedHarvestDate.IsZero() {
		v.check(!b.PlannedHarvestDate.Before(b.PlantingDate), string(BlocFieldPlannedHarvestDate), ErrInvalidDateRange)
	}
	return v.err()
}

// WithField returns a copy with one field parsed from raw. Cross-field rules are re-checked.
func (b Bloc) WithField(field BlocField, raw string) (Bloc, error) {
	var v validator
	switch field {
	case BlocFieldName:
		b.Name = strings.TrimSpace(raw)
	case BlocFieldAreaHectares:
		f, err := parsePositiveFloat(raw, ErrInvalidArea)
		v.add(string(field), err)
		b.AreaHectares = f
	case BlocFieldCycleNumber:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			v.add(string(field), fmt.Errorf("%w: %q", ErrInvalidCycle, raw))
		}
		b.CycleNumber = n
	case BlocFieldVarietyName:
		b.VarietyName = strings.TrimSpace(raw)
	case BlocFieldPlantingDate:
		d, err := ParseDate(raw)
		v.add(string(field), err)
		b.PlantingDate = d
	case BlocFieldPlannedHarvestDate:
		d, err := ParseDate(raw)
		v.add(string(field), err)
		b.PlannedHarvestDate = d
	case BlocFieldExpectedYieldTonsHa:
		f, err := parseNonNegativeFloat(raw, ErrInvalidYield)
		v.add(string(field), err)
		b.ExpectedYieldTonsHa = f
	case BlocFieldGrowthStage:
		b.GrowthStage = NormalizeGrowthStage(GrowthStage(raw))
	case BlocFieldNotes:
		b.Notes = strings.TrimSpace(raw)
	default:
		v.add(string(field), ErrUnknownField)
	}
	if err := v.err(); err != nil {
		return Bloc{}, err
	}
	if err := b.Validate(); err != nil {
		return Bloc{}, err
	}
	return b, nil
}

// FieldValue renders one field as text.
func (b Bloc) FieldValue(field BlocField) string {
	switch field {
	case BlocFieldName:
		return b.Name
	case BlocFieldAreaHectares:
		return formatFloat(b.AreaHectares)
	case BlocFieldCycleNumber:
		return strconv.Itoa(b.CycleNumber)
	case BlocFieldVarietyName:
		return b.VarietyName
	case BlocFieldPlantingDate:
		return b.PlantingDate.String()
	case BlocFieldPlannedHarvestDate:
		return b.PlannedHarvestDate.String()
	case BlocFieldExpectedYieldTonsHa:
		return formatFloat(b.ExpectedYieldTonsHa)
	case BlocFieldGrowthStage:
		return string(b.GrowthStage)
	case BlocFieldNotes:
		return b.Notes
	default:
		return ""
	}
}

// IsRatoon reports whether the bloc is in a regrowth cycle.
func (b Bloc) IsRatoon() bool {
	return b.CycleNumber > 1
}

// CycleLabel returns "plantation" or "ratoon N".
func (b Bloc) CycleLabel() string {
	if !b.IsRatoon() {
		return "plantation"
	}
	return "ratoon " + strconv.Itoa(b.CycleNumber-1)
}

// IsRetired reports whether the bloc has been retired.
func (b Bloc) IsRetired() bool {
	return b.RetiredAt != nil
}

// Retire stamps the retirement time.
func (b *Bloc) Retire(now time.Time) {
	ts := now.UTC()
	b.RetiredAt = &ts
}

// FindOperation returns the child with id, or nil.
func (b *Bloc) FindOperation(id string) *Operation {
	for _, op := range b.Operations {
		if op.ID == id {
			return op
		}
	}
	return nil
}
