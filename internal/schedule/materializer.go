package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"foreman/internal/cadence"
	"foreman/internal/eventbus"
	"foreman/internal/model"
	"foreman/internal/storage"
	"foreman/pkg/logx"
)

// Result is the outcome for one due schedule within a tick.
type Result struct {
	ScheduleID     string
	Success        bool
	NewWorkOrderID string
	// Skipped means another tick already handled this run (duplicate
	// occurrence or conflicting advance). Counts as success.
	Skipped bool
	Err     error
	// NotifyWarning carries a best-effort notification failure. The work
	// order and the advanced schedule stand regardless.
	NotifyWarning string
}

// RunDue is one materializer tick: every active schedule whose next-run has
// elapsed relative to now gets one new open work order and one cadence
// advance. Failures are isolated per schedule; only listing the due set can
// fail the tick as a whole.
//
// now is injected rather than read from the clock so ticks are testable and
// replayable.
func (s *Service) RunDue(ctx context.Context, now time.Time) ([]Result, error) {
	now = now.UTC()

	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("listing due schedules: %w", err)
	}
	if len(due) == 0 {
		s.log.Debug("tick: nothing due", logx.Time("now", now))
		return nil, nil
	}

	results := make([]Result, len(due))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, sch := range due {
		i, sch := i, sch
		g.Go(func() error {
			runCtx, cancel := context.WithTimeout(gctx, s.cfg.PerScheduleTimeout)
			defer cancel()

			res := s.materializeOne(runCtx, sch, now)

			mu.Lock()
			results[i] = res
			mu.Unlock()
			// Per-schedule errors are reported, never returned: one bad
			// schedule must not cancel the group.
			return nil
		})
	}
	_ = g.Wait()

	s.logTick(now, results)
	return results, nil
}

// materializeOne handles a single due schedule, strictly in order:
// re-fetch origin, insert the occurrence, advance next_run, then notify.
func (s *Service) materializeOne(ctx context.Context, sch model.ScheduleRecord, now time.Time) Result {
	res := Result{ScheduleID: sch.ID}

	origin, err := s.store.GetWorkOrder(ctx, sch.WorkOrderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			res.Err = fmt.Errorf("%w: schedule %s origin %s", ErrOriginMissing, sch.ID, sch.WorkOrderID)
		} else {
			res.Err = err
		}
		return res
	}

	occurrence := s.cloneForOccurrence(origin, sch, now)
	insertErr := s.store.InsertWorkOrder(ctx, occurrence)
	switch {
	case insertErr == nil:
		res.NewWorkOrderID = occurrence.ID
	case errors.Is(insertErr, storage.ErrDuplicateOccurrence):
		// A prior or concurrent tick already created this run's order.
		// Fall through and still try the advance: a crash between insert
		// and advance on the other side leaves it to us.
		res.Skipped = true
	default:
		res.Err = insertErr
		return res
	}

	next, err := cadence.Advance(sch.NextRun, sch.ScheduleType)
	if err != nil {
		// Unknown type in the store means creation-time validation was
		// bypassed; surface it rather than guessing an interval.
		res.Err = err
		return res
	}

	advanced, err := s.store.AdvanceNextRun(ctx, sch.ID, sch.NextRun, next, now)
	if err != nil {
		res.Err = err
		return res
	}
	if !advanced && res.NewWorkOrderID == "" {
		// Conflicting advance: someone else moved next_run between our read
		// and this update. Treated as handled.
		res.Skipped = true
	}
	res.Success = true

	if res.NewWorkOrderID != "" && s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeWorkOrderMaterialized, Data: occurrence})
	}
	if res.NewWorkOrderID != "" && s.notifier != nil {
		if err := s.notifier.Notify(ctx, occurrence); err != nil {
			res.NotifyWarning = err.Error()
			s.log.Warn("notification failed",
				logx.String("schedule_id", sch.ID),
				logx.String("workorder_id", occurrence.ID),
				logx.Err(err))
		}
	}
	return res
}

// cloneForOccurrence copies the origin's descriptive fields into a fresh open
// order stamped with the schedule back-reference and idempotency key.
func (s *Service) cloneForOccurrence(origin model.WorkOrder, sch model.ScheduleRecord, now time.Time) model.WorkOrder {
	id := uuid.NewString()
	return model.WorkOrder{
		ID:               id,
		Number:           occurrenceNumber(now, id),
		Item:             origin.Item,
		Description:      origin.Description,
		RequestedBy:      origin.RequestedBy,
		LocationID:       origin.LocationID,
		GroupID:          origin.GroupID,
		GLNumber:         origin.GLNumber,
		Date:             now,
		CompleteBy:       now.Add(s.cfg.FollowUpWindow),
		Status:           model.StatusOpen,
		CreatedBy:        origin.CreatedBy,
		ParentScheduleID: sch.ID,
		OccurrenceKey:    occurrenceKey(sch),
	}
}

// occurrenceKey makes insert-per-run idempotent: both halves are fixed for a
// given due run, so every tick that sees the same stored next_run builds the
// same key.
func occurrenceKey(sch model.ScheduleRecord) string {
	return sch.ID + "@" + strconv.FormatInt(sch.NextRun.UnixMilli(), 10)
}

// occurrenceNumber derives a readable order number; the id stays the real key.
func occurrenceNumber(now time.Time, id string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return "WO-" + now.Format("20060102") + "-" + suffix
}

func (s *Service) logTick(now time.Time, results []Result) {
	var created, skipped, failed int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
		case r.Skipped:
			skipped++
		default:
			created++
		}
	}
	s.log.Info("tick completed",
		logx.Time("now", now),
		logx.Int("due", len(results)),
		logx.Int("created", created),
		logx.Int("skipped", skipped),
		logx.Int("failed", failed))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTickCompleted, Data: TickSummary{
			Now:     now,
			Due:     len(results),
			Created: created,
			Skipped: skipped,
			Failed:  failed,
		}})
	}
}

// TickSummary is the tick.completed event payload.
type TickSummary struct {
	Now     time.Time
	Due     int
	Created int
	Skipped int
	Failed  int
}
