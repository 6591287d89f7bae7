package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"foreman/internal/cadence"
	"foreman/internal/eventbus"
	"foreman/internal/model"
	"foreman/internal/storage"
	"foreman/pkg/logx"
)

var (
	// ErrOriginMissing means a schedule's originating work order no longer
	// exists. The schedule stays due; this needs manual intervention.
	ErrOriginMissing = errors.New("originating work order missing")

	// ErrWorkOrderNotFound is returned by Create when the target work order
	// does not exist.
	ErrWorkOrderNotFound = errors.New("work order not found")
)

// Notifier is the outbound side of materialization. Failures are logged,
// never propagated into schedule state.
type Notifier interface {
	Notify(ctx context.Context, wo model.WorkOrder) error
}

// Config controls the materializer pass.
type Config struct {
	// Workers bounds how many due schedules are processed concurrently
	// within one tick. Steps within one schedule stay sequential.
	Workers int
	// PerScheduleTimeout isolates a hung store or notifier call so one
	// schedule cannot stall the rest of the tick.
	PerScheduleTimeout time.Duration
	// FollowUpWindow is how long a materialized order gets to be completed.
	FollowUpWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PerScheduleTimeout <= 0 {
		c.PerScheduleTimeout = 30 * time.Second
	}
	if c.FollowUpWindow <= 0 {
		c.FollowUpWindow = 7 * 24 * time.Hour
	}
	return c
}

// Service manages schedule records and runs the materializer.
type Service struct {
	cfg      Config
	store    storage.Store
	notifier Notifier
	bus      eventbus.Bus // may be nil
	log      logx.Logger
}

func New(cfg Config, store storage.Store, notifier Notifier, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		store:    store,
		notifier: notifier,
		bus:      bus,
		log:      log,
	}
}

// Create binds a new recurrence to a work order.
//
// The first run is one cadence period after the order's complete-by date
// (or now, when the order has none), never immediate.
func (s *Service) Create(ctx context.Context, workOrderID, scheduleType, createdBy string) (model.ScheduleRecord, error) {
	if !cadence.Known(scheduleType) {
		return model.ScheduleRecord{}, fmt.Errorf("%w: %q", cadence.ErrUnknownScheduleType, scheduleType)
	}

	wo, err := s.store.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.ScheduleRecord{}, fmt.Errorf("%w: %s", ErrWorkOrderNotFound, workOrderID)
		}
		return model.ScheduleRecord{}, err
	}

	now := time.Now().UTC()
	anchor := wo.CompleteBy
	if anchor.IsZero() {
		anchor = now
	}
	nextRun, err := cadence.Advance(anchor, scheduleType)
	if err != nil {
		return model.ScheduleRecord{}, err
	}

	rec := model.ScheduleRecord{
		ID:           uuid.NewString(),
		WorkOrderID:  wo.ID,
		ScheduleType: scheduleType,
		NextRun:      nextRun,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedBy:    createdBy,
	}
	if err := s.store.InsertSchedule(ctx, rec); err != nil {
		// storage.ErrDuplicateSchedule passes through untouched.
		return model.ScheduleRecord{}, err
	}

	s.log.Info("schedule created",
		logx.String("schedule_id", rec.ID),
		logx.String("workorder_id", wo.ID),
		logx.String("type", scheduleType),
		logx.Time("next_run", rec.NextRun))
	return rec, nil
}

// Deactivate turns a schedule off. Idempotent; the terminal state.
func (s *Service) Deactivate(ctx context.Context, scheduleID string) error {
	if err := s.store.DeactivateSchedule(ctx, scheduleID, time.Now().UTC()); err != nil {
		return err
	}
	s.log.Info("schedule deactivated", logx.String("schedule_id", scheduleID))
	return nil
}

// Get returns a schedule by id.
func (s *Service) Get(ctx context.Context, scheduleID string) (model.ScheduleRecord, error) {
	return s.store.GetSchedule(ctx, scheduleID)
}

// ForWorkOrder resolves the schedule originating from the given work order,
// or nil when it has none.
func (s *Service) ForWorkOrder(ctx context.Context, workOrderID string) (*model.ScheduleRecord, error) {
	rec, err := s.store.ScheduleByOrigin(ctx, workOrderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ParentOf resolves the schedule that produced a generated work order via its
// parent reference, or nil when the order was created directly.
func (s *Service) ParentOf(ctx context.Context, workOrderID string) (*model.ScheduleRecord, error) {
	wo, err := s.store.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return nil, err
	}
	if wo.ParentScheduleID == "" {
		return nil, nil
	}
	rec, err := s.store.GetSchedule(ctx, wo.ParentScheduleID)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Occurrences lists the work orders a schedule has materialized so far.
func (s *Service) Occurrences(ctx context.Context, scheduleID string) ([]model.WorkOrder, error) {
	return s.store.WorkOrdersBySchedule(ctx, scheduleID)
}
