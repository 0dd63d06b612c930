package app

import (
	"context"
	"time"

	"github.com/hylla/canetrack/internal/domain"
)

// Store persists the bloc hierarchy. Creates return the store-assigned UUID;
// updates and deletes are keyed by that UUID. Updates are version-checked:
// the stored row must hold Version-1 or the call fails with ErrVersionConflict.
type Store interface {
	LoadBlocs(context.Context) ([]*domain.Bloc, error)

	CreateBloc(context.Context, domain.Bloc) (string, error)
	UpdateBloc(context.Context, domain.Bloc) error
	DeleteBloc(context.Context, string) error

	CreateOperation(context.Context, string, domain.Operation) (string, error)
	UpdateOperation(context.Context, domain.Operation) error
	DeleteOperation(context.Context, string) error

	CreateWorkPackage(context.Context, string, domain.WorkPackage) (string, error)
	UpdateWorkPackage(context.Context, domain.WorkPackage) error
	DeleteWorkPackage(context.Context, string) error

	ListChangeEvents(context.Context, int) ([]domain.ChangeEvent, error)
}

// Logger is the structured logging surface the workspace writes to.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// nopLogger discards every event.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
