package storage

import (
	"context"
	"errors"
	"time"

	"foreman/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateSchedule is returned when a work order already has a
	// schedule bound to it (active or not).
	ErrDuplicateSchedule = errors.New("work order already has a schedule")

	// ErrDuplicateOccurrence is returned when an occurrence with the same
	// idempotency key was already inserted, meaning another tick has
	// materialized this run.
	ErrDuplicateOccurrence = errors.New("occurrence already materialized")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file, or ":memory:"
//   - "postgres": hosted Postgres, DSN required
type Config struct {
	Driver      string
	Path        string        // sqlite only
	DSN         string        // postgres only
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the services.
//
// Writes are atomic per row; uniqueness of a schedule's origin work order and
// of an occurrence key are enforced here so retries and overlapping ticks
// stay safe.
type Store interface {
	// Work orders.
	InsertWorkOrder(ctx context.Context, wo model.WorkOrder) error
	GetWorkOrder(ctx context.Context, id string) (model.WorkOrder, error)
	WorkOrdersBySchedule(ctx context.Context, scheduleID string) ([]model.WorkOrder, error)
	// CloseWorkOrder and ReopenWorkOrder keep the closed_on/status invariant
	// in one place for the surrounding CRUD layer.
	CloseWorkOrder(ctx context.Context, id string, closedOn time.Time) error
	ReopenWorkOrder(ctx context.Context, id string) error

	// Schedules. Never deleted; deactivation is terminal.
	InsertSchedule(ctx context.Context, sch model.ScheduleRecord) error
	GetSchedule(ctx context.Context, id string) (model.ScheduleRecord, error)
	ScheduleByOrigin(ctx context.Context, workOrderID string) (model.ScheduleRecord, error)
	DueSchedules(ctx context.Context, now time.Time) ([]model.ScheduleRecord, error)
	// AdvanceNextRun updates next_run from expected to next only if the
	// stored value still equals expected and the schedule is active.
	// Returns false (no error) when the row was not updated.
	AdvanceNextRun(ctx context.Context, scheduleID string, expected, next, at time.Time) (bool, error)
	DeactivateSchedule(ctx context.Context, id string, at time.Time) error

	// Group membership. The core reads it; writes exist for the owning CRUD
	// layer and for seeding.
	UpsertGroupMember(ctx context.Context, m model.GroupMember) error
	NotifyRecipients(ctx context.Context, groupID string) ([]model.GroupMember, error)

	Close() error
}
