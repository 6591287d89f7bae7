// Package model holds the persistent record shapes shared by the storage
// layer and the services. These are plain data; all behavior lives in the
// services that own them.
package model

import "time"

// Status is a work order's lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusClosed     Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusClosed:
		return true
	}
	return false
}

// WorkOrder is one unit of requested work.
//
// ClosedOn is set if and only if Status is StatusClosed.
// ParentScheduleID is set only on orders materialized from a schedule.
type WorkOrder struct {
	ID          string
	Number      string
	Item        string
	Description string
	RequestedBy string
	LocationID  string
	GroupID     string
	GLNumber    string
	Date        time.Time
	CompleteBy  time.Time
	Status      Status
	ClosedOn    *time.Time
	CreatedBy   string

	ParentScheduleID string

	// OccurrenceKey is the idempotency key stamped on materialized orders
	// (unique per schedule + planned run). Empty on user-created orders.
	OccurrenceKey string
}

// Closed reports whether the order is closed with a consistent closed-on date.
func (w WorkOrder) Closed() bool {
	return w.Status == StatusClosed && w.ClosedOn != nil
}

// ScheduleRecord is a recurrence binding for exactly one origin work order.
//
// NextRun only moves forward; Active=false is the terminal state and records
// are never physically deleted.
type ScheduleRecord struct {
	ID           string
	WorkOrderID  string
	ScheduleType string
	NextRun      time.Time
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CreatedBy    string
}

// GroupMember is one row of the read-only group membership collaborator
// table. Notify marks the member as opted in to work-order notifications.
type GroupMember struct {
	UserID  string
	GroupID string
	Notify  bool
}
