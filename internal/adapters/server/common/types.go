// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Transport-visible error sentinels. Adapters map app and domain errors onto these.
var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrNotFound             = errors.New("not found")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrVersionConflict      = errors.New("version conflict")
	ErrPersistenceFailed    = errors.New("persistence failed")
)

// Level names accepted by UpdateFieldRequest.Level.
const (
	LevelBloc        = "bloc"
	LevelOperation   = "operation"
	LevelWorkPackage = "work_package"
)

// WorkspaceService is the surface both transports serve.
type WorkspaceService interface {
	ListBlocs(ctx context.Context, includeRetired bool) (ForestView, error)
	Reload(ctx context.Context) (ForestView, error)
	AddBloc(ctx context.Context, req AddBlocRequest) (MutationView, error)
	AddOperation(ctx context.Context, req AddOperationRequest) (MutationView, error)
	AddWorkPackage(ctx context.Context, req AddWorkPackageRequest) (MutationView, error)
	UpdateField(ctx context.Context, req UpdateFieldRequest) (MutationView, error)
	AdvanceWorkPackage(ctx context.Context, req NodeRef) (MutationView, error)
	RetireBloc(ctx context.Context, blocID, confirmation string) (MutationView, error)
	DeleteBloc(ctx context.Context, blocID, confirmation string) (MutationView, error)
	DeleteOperation(ctx context.Context, req NodeRef, confirmed bool) (MutationView, error)
	DeleteWorkPackage(ctx context.Context, req NodeRef, confirmed bool) (MutationView, error)
	ListChanges(ctx context.Context, limit int) ([]ChangeEventView, error)
}

// NodeRef addresses one node by its path of client ids.
type NodeRef struct {
	BlocID        string `json:"bloc_id"`
	OperationID   string `json:"operation_id,omitempty"`
	WorkPackageID string `json:"work_package_id,omitempty"`
}

// AddBlocRequest creates one bloc. Dates are YYYY-MM-DD.
type AddBlocRequest struct {
	ID                  string  `json:"id,omitempty"`
	Name                string  `json:"name"`
	AreaHectares        float64 `json:"area_hectares"`
	CycleNumber         int     `json:"cycle_number,omitempty"`
	VarietyName         string  `json:"variety_name,omitempty"`
	PlantingDate        string  `json:"planting_date,omitempty"`
	PlannedHarvestDate  string  `json:"planned_harvest_date,omitempty"`
	ExpectedYieldTonsHa float64 `json:"expected_yield_tons_ha,omitempty"`
	GrowthStage         string  `json:"growth_stage,omitempty"`
	Notes               string  `json:"notes,omitempty"`
}

// AddOperationRequest creates one operation under BlocID.
type AddOperationRequest struct {
	BlocID           string          `json:"-"`
	ID               string          `json:"id,omitempty"`
	ProductName      string          `json:"product_name"`
	Method           string          `json:"method,omitempty"`
	PlannedStartDate string          `json:"planned_start_date,omitempty"`
	PlannedEndDate   string          `json:"planned_end_date,omitempty"`
	PlannedRate      float64         `json:"planned_rate,omitempty"`
	EstProductCost   decimal.Decimal `json:"est_product_cost"`
	EstResourceCost  decimal.Decimal `json:"est_resource_cost"`
	ActProductCost   decimal.Decimal `json:"act_product_cost"`
	ActResourceCost  decimal.Decimal `json:"act_resource_cost"`
}

// AddWorkPackageRequest creates one work package. Empty date means today and an omitted rate inherits the operation's.
type AddWorkPackageRequest struct {
	BlocID      string   `json:"-"`
	OperationID string   `json:"-"`
	ID          string   `json:"id,omitempty"`
	Date        string   `json:"date,omitempty"`
	Area        float64  `json:"area"`
	Rate        *float64 `json:"rate,omitempty"`
	Quantity    float64  `json:"quantity,omitempty"`
	Status      string   `json:"status,omitempty"`
}

// UpdateFieldRequest sets one field from its text form.
type UpdateFieldRequest struct {
	Level string `json:"level"`
	NodeRef
	Field string `json:"field"`
	Value string `json:"value"`
}

// WorkPackageView is the wire form of one work package.
type WorkPackageView struct {
	ID        string  `json:"id"`
	UUID      string  `json:"uuid,omitempty"`
	Version   int64   `json:"version"`
	Date      string  `json:"date"`
	DAP       *int    `json:"dap,omitempty"`
	Area      float64 `json:"area"`
	Rate      float64 `json:"rate"`
	Quantity  float64 `json:"quantity"`
	Status    string  `json:"status"`
	Completed bool    `json:"completed"`
}

// OperationView is the wire form of one operation.
type OperationView struct {
	ID               string            `json:"id"`
	UUID             string            `json:"uuid,omitempty"`
	Version          int64             `json:"version"`
	ProductName      string            `json:"product_name"`
	Method           string            `json:"method"`
	PlannedStartDate string            `json:"planned_start_date,omitempty"`
	PlannedEndDate   string            `json:"planned_end_date,omitempty"`
	PlannedRate      float64           `json:"planned_rate"`
	EstProductCost   decimal.Decimal   `json:"est_product_cost"`
	EstResourceCost  decimal.Decimal   `json:"est_resource_cost"`
	ActProductCost   decimal.Decimal   `json:"act_product_cost"`
	ActResourceCost  decimal.Decimal   `json:"act_resource_cost"`
	Status           string            `json:"status"`
	Progress         int               `json:"progress"`
	WorkPackages     []WorkPackageView `json:"work_packages"`
}

// BlocView is the wire form of one bloc with its derived totals.
type BlocView struct {
	ID                   string          `json:"id"`
	UUID                 string          `json:"uuid,omitempty"`
	Version              int64           `json:"version"`
	Name                 string          `json:"name"`
	AreaHectares         float64         `json:"area_hectares"`
	CycleNumber          int             `json:"cycle_number"`
	CycleLabel           string          `json:"cycle_label"`
	VarietyName          string          `json:"variety_name,omitempty"`
	PlantingDate         string          `json:"planting_date,omitempty"`
	PlannedHarvestDate   string          `json:"planned_harvest_date,omitempty"`
	ExpectedYieldTonsHa  float64         `json:"expected_yield_tons_ha"`
	GrowthStage          string          `json:"growth_stage,omitempty"`
	Notes                string          `json:"notes,omitempty"`
	RetiredAt            *time.Time      `json:"retired_at,omitempty"`
	Progress             int             `json:"progress"`
	TotalEstProductCost  decimal.Decimal `json:"total_est_product_cost"`
	TotalEstResourceCost decimal.Decimal `json:"total_est_resource_cost"`
	TotalActProductCost  decimal.Decimal `json:"total_act_product_cost"`
	TotalActResourceCost decimal.Decimal `json:"total_act_resource_cost"`
	Operations           []OperationView `json:"operations"`
}

// ForestView is the full hierarchy plus the ids currently expanded.
type ForestView struct {
	Blocs              []BlocView `json:"blocs"`
	ExpandedBlocs      []string   `json:"expanded_blocs"`
	ExpandedOperations []string   `json:"expanded_operations"`
}

// MutationView reports the outcome of one mutation and the affected bloc after it.
type MutationView struct {
	Applied       bool      `json:"applied"`
	Persisted     bool      `json:"persisted"`
	Reconciled    bool      `json:"reconciled"`
	BlocID        string    `json:"bloc_id,omitempty"`
	OperationID   string    `json:"operation_id,omitempty"`
	WorkPackageID string    `json:"work_package_id,omitempty"`
	Bloc          *BlocView `json:"bloc,omitempty"`
}

// ChangeEventView is the wire form of one activity entry.
type ChangeEventView struct {
	ID         int64             `json:"id"`
	EntityKind string            `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`
	EntityUUID string            `json:"entity_uuid,omitempty"`
	Operation  string            `json:"operation"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// FieldErrorView names one rejected field in a validation failure.
type FieldErrorView struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
