package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"foreman/internal/model"
	"foreman/pkg/logx"
)

type sqlStore struct {
	db  *sqlx.DB
	log logx.Logger
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- rows ----

type workOrderRow struct {
	ID               string  `db:"id"`
	Number           string  `db:"wo_number"`
	Item             string  `db:"item"`
	Description      string  `db:"description"`
	RequestedBy      string  `db:"requested_by"`
	LocationID       string  `db:"location_id"`
	GroupID          string  `db:"group_id"`
	GLNumber         string  `db:"gl_number"`
	Date             int64   `db:"date"`
	CompleteBy       int64   `db:"complete_by"`
	Status           string  `db:"status"`
	ClosedOn         *int64  `db:"closed_on"`
	ParentScheduleID string  `db:"parent_schedule_id"`
	OccurrenceKey    *string `db:"occurrence_key"`
	CreatedBy        string  `db:"created_by"`
}

type scheduleRow struct {
	ID           string `db:"id"`
	WorkOrderID  string `db:"workorder_id"`
	ScheduleType string `db:"schedule_type"`
	NextRun      int64  `db:"next_run"`
	Active       int64  `db:"active"`
	CreatedAt    int64  `db:"created_at"`
	UpdatedAt    int64  `db:"updated_at"`
	CreatedBy    string `db:"created_by"`
}

type memberRow struct {
	UserID  string `db:"user_id"`
	GroupID string `db:"group_id"`
	Notify  int64  `db:"notify"`
}

func (r workOrderRow) toModel() model.WorkOrder {
	wo := model.WorkOrder{
		ID:               r.ID,
		Number:           r.Number,
		Item:             r.Item,
		Description:      r.Description,
		RequestedBy:      r.RequestedBy,
		LocationID:       r.LocationID,
		GroupID:          r.GroupID,
		GLNumber:         r.GLNumber,
		Date:             fromMillis(r.Date),
		CompleteBy:       fromMillis(r.CompleteBy),
		Status:           model.Status(r.Status),
		ParentScheduleID: r.ParentScheduleID,
		CreatedBy:        r.CreatedBy,
	}
	if r.ClosedOn != nil {
		t := fromMillis(*r.ClosedOn)
		wo.ClosedOn = &t
	}
	if r.OccurrenceKey != nil {
		wo.OccurrenceKey = *r.OccurrenceKey
	}
	return wo
}

func (r scheduleRow) toModel() model.ScheduleRecord {
	return model.ScheduleRecord{
		ID:           r.ID,
		WorkOrderID:  r.WorkOrderID,
		ScheduleType: r.ScheduleType,
		NextRun:      fromMillis(r.NextRun),
		Active:       r.Active != 0,
		CreatedAt:    fromMillis(r.CreatedAt),
		UpdatedAt:    fromMillis(r.UpdatedAt),
		CreatedBy:    r.CreatedBy,
	}
}

// Times persist at millisecond precision, normalized to UTC on read.
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// ---- work orders ----

func (s *sqlStore) InsertWorkOrder(ctx context.Context, wo model.WorkOrder) error {
	var closedOn *int64
	if wo.ClosedOn != nil {
		v := wo.ClosedOn.UnixMilli()
		closedOn = &v
	}
	var occKey *string
	if wo.OccurrenceKey != "" {
		occKey = &wo.OccurrenceKey
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO workorders
		 (id, wo_number, item, description, requested_by, location_id, group_id, gl_number,
		  date, complete_by, status, closed_on, parent_schedule_id, occurrence_key, created_by)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		wo.ID, wo.Number, wo.Item, wo.Description, wo.RequestedBy, wo.LocationID, wo.GroupID,
		wo.GLNumber, wo.Date.UnixMilli(), wo.CompleteBy.UnixMilli(), string(wo.Status),
		closedOn, wo.ParentScheduleID, occKey, wo.CreatedBy,
	)
	if err != nil && isUniqueViolation(err) && occKey != nil {
		return ErrDuplicateOccurrence
	}
	return err
}

func (s *sqlStore) GetWorkOrder(ctx context.Context, id string) (model.WorkOrder, error) {
	var r workOrderRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT * FROM workorders WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WorkOrder{}, ErrNotFound
	}
	if err != nil {
		return model.WorkOrder{}, err
	}
	return r.toModel(), nil
}

func (s *sqlStore) WorkOrdersBySchedule(ctx context.Context, scheduleID string) ([]model.WorkOrder, error) {
	var rows []workOrderRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT * FROM workorders WHERE parent_schedule_id = ? ORDER BY date, id`), scheduleID)
	if err != nil {
		return nil, err
	}
	out := make([]model.WorkOrder, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *sqlStore) CloseWorkOrder(ctx context.Context, id string, closedOn time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE workorders SET status = ?, closed_on = ? WHERE id = ?`),
		string(model.StatusClosed), closedOn.UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqlStore) ReopenWorkOrder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE workorders SET status = ?, closed_on = NULL WHERE id = ?`),
		string(model.StatusOpen), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---- schedules ----

func (s *sqlStore) InsertSchedule(ctx context.Context, sch model.ScheduleRecord) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO workorder_schedules
		 (id, workorder_id, schedule_type, next_run, active, created_at, updated_at, created_by)
		 VALUES (?,?,?,?,?,?,?,?)`),
		sch.ID, sch.WorkOrderID, sch.ScheduleType, sch.NextRun.UnixMilli(),
		boolToInt(sch.Active), sch.CreatedAt.UnixMilli(), sch.UpdatedAt.UnixMilli(), sch.CreatedBy,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateSchedule
	}
	return err
}

func (s *sqlStore) GetSchedule(ctx context.Context, id string) (model.ScheduleRecord, error) {
	var r scheduleRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT * FROM workorder_schedules WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScheduleRecord{}, ErrNotFound
	}
	if err != nil {
		return model.ScheduleRecord{}, err
	}
	return r.toModel(), nil
}

func (s *sqlStore) ScheduleByOrigin(ctx context.Context, workOrderID string) (model.ScheduleRecord, error) {
	var r scheduleRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(
		`SELECT * FROM workorder_schedules WHERE workorder_id = ?`), workOrderID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScheduleRecord{}, ErrNotFound
	}
	if err != nil {
		return model.ScheduleRecord{}, err
	}
	return r.toModel(), nil
}

func (s *sqlStore) DueSchedules(ctx context.Context, now time.Time) ([]model.ScheduleRecord, error) {
	var rows []scheduleRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT * FROM workorder_schedules
		 WHERE active = 1 AND next_run <= ?
		 ORDER BY next_run, id`), now.UnixMilli())
	if err != nil {
		return nil, err
	}
	out := make([]model.ScheduleRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *sqlStore) AdvanceNextRun(ctx context.Context, scheduleID string, expected, next, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE workorder_schedules
		 SET next_run = ?, updated_at = ?
		 WHERE id = ? AND next_run = ? AND active = 1`),
		next.UnixMilli(), at.UnixMilli(), scheduleID, expected.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqlStore) DeactivateSchedule(ctx context.Context, id string, at time.Time) error {
	// Idempotent: an already-inactive row just matches zero times.
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE workorder_schedules SET active = 0, updated_at = ? WHERE id = ? AND active = 1`),
		at.UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish "missing" from "already inactive".
		if _, err := s.GetSchedule(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ---- group membership ----

func (s *sqlStore) UpsertGroupMember(ctx context.Context, m model.GroupMember) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO group_members (user_id, group_id, notify) VALUES (?,?,?)
		 ON CONFLICT (user_id, group_id) DO UPDATE SET notify = excluded.notify`),
		m.UserID, m.GroupID, boolToInt(m.Notify))
	return err
}

func (s *sqlStore) NotifyRecipients(ctx context.Context, groupID string) ([]model.GroupMember, error) {
	var rows []memberRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT user_id, group_id, notify FROM group_members
		 WHERE group_id = ? AND notify = 1
		 ORDER BY user_id`), groupID)
	if err != nil {
		return nil, err
	}
	out := make([]model.GroupMember, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.GroupMember{UserID: r.UserID, GroupID: r.GroupID, Notify: r.Notify != 0})
	}
	return out, nil
}

// ---- helpers ----

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// modernc.org/sqlite surfaces constraint failures in the message text.
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}
