package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound             = errors.New("not found")
	ErrVersionConflict      = errors.New("version conflict")
	ErrNotPersisted         = errors.New("entity not persisted")
	ErrPersistence          = errors.New("persistence failed")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrInvalidSnapshot      = errors.New("invalid snapshot")
)
