package domain

import "time"

// ChangeOperation describes a persisted activity operation.
type ChangeOperation string

// ChangeOperation values used by the activity ledger.
const (
	ChangeOperationCreate ChangeOperation = "create"
	ChangeOperationUpdate ChangeOperation = "update"
	ChangeOperationRetire ChangeOperation = "retire"
	ChangeOperationDelete ChangeOperation = "delete"
)

// EntityKind names the hierarchy level an event refers to.
type EntityKind string

// EntityKind values.
const (
	EntityBloc        EntityKind = "bloc"
	EntityOperation   EntityKind = "operation"
	EntityWorkPackage EntityKind = "work_package"
)

// ChangeEvent represents a single activity-log entry.
type ChangeEvent struct {
	ID         int64
	EntityKind EntityKind
	EntityID   string
	EntityUUID string
	Operation  ChangeOperation
	Metadata   map[string]string
	OccurredAt time.Time
}
