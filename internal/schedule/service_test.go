package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foreman/internal/cadence"
	"foreman/internal/model"
	"foreman/internal/storage"
	"foreman/pkg/logx"
)

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func dt(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func seedOrder(t *testing.T, st storage.Store, id string, completeBy time.Time) model.WorkOrder {
	t.Helper()
	wo := model.WorkOrder{
		ID:          id,
		Number:      "WO-1001",
		Item:        "sprinkler flush",
		Description: "flush the riser",
		RequestedBy: "sam",
		LocationID:  "loc-1",
		GroupID:     "grp-1",
		GLNumber:    "GL-12",
		Date:        completeBy.AddDate(0, 0, -7),
		CompleteBy:  completeBy,
		Status:      model.StatusOpen,
		CreatedBy:   "sam",
	}
	require.NoError(t, st.InsertWorkOrder(context.Background(), wo))
	return wo
}

func newService(t *testing.T, st storage.Store, n Notifier) *Service {
	t.Helper()
	return New(Config{Workers: 2}, st, n, nil, logx.Nop())
}

func TestCreateComputesFirstRunOneCadenceOut(t *testing.T) {
	st := openStore(t)
	svc := newService(t, st, nil)
	ctx := context.Background()
	seedOrder(t, st, "wo-1", dt(2024, time.January, 15))

	rec, err := svc.Create(ctx, "wo-1", cadence.TypeMonthly, "sam")
	require.NoError(t, err)
	assert.True(t, rec.NextRun.Equal(dt(2024, time.February, 15)), "next_run = %v", rec.NextRun)
	assert.True(t, rec.Active)
	assert.Equal(t, "wo-1", rec.WorkOrderID)

	stored, err := st.GetSchedule(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.NextRun.Equal(rec.NextRun))
}

func TestCreateRejectsUnknownType(t *testing.T) {
	st := openStore(t)
	svc := newService(t, st, nil)
	seedOrder(t, st, "wo-1", dt(2024, time.January, 15))

	_, err := svc.Create(context.Background(), "wo-1", "fortnightly", "sam")
	assert.ErrorIs(t, err, cadence.ErrUnknownScheduleType)
}

func TestCreateRejectsMissingWorkOrder(t *testing.T) {
	st := openStore(t)
	svc := newService(t, st, nil)

	_, err := svc.Create(context.Background(), "nope", cadence.TypeWeekly, "sam")
	assert.ErrorIs(t, err, ErrWorkOrderNotFound)
}

func TestCreateRejectsDuplicateAndKeepsOriginal(t *testing.T) {
	st := openStore(t)
	svc := newService(t, st, nil)
	ctx := context.Background()
	seedOrder(t, st, "wo-1", dt(2024, time.January, 15))

	first, err := svc.Create(ctx, "wo-1", cadence.TypeMonthly, "sam")
	require.NoError(t, err)

	_, err = svc.Create(ctx, "wo-1", cadence.TypeWeekly, "sam")
	assert.ErrorIs(t, err, storage.ErrDuplicateSchedule)

	// A deactivated schedule still blocks a second one.
	require.NoError(t, svc.Deactivate(ctx, first.ID))
	_, err = svc.Create(ctx, "wo-1", cadence.TypeWeekly, "sam")
	assert.ErrorIs(t, err, storage.ErrDuplicateSchedule)

	stored, err := st.GetSchedule(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, cadence.TypeMonthly, stored.ScheduleType)
	assert.True(t, stored.NextRun.Equal(first.NextRun))
}

func TestDeactivateTwiceIsNoOp(t *testing.T) {
	st := openStore(t)
	svc := newService(t, st, nil)
	ctx := context.Background()
	seedOrder(t, st, "wo-1", dt(2024, time.January, 15))

	rec, err := svc.Create(ctx, "wo-1", cadence.TypeWeekly, "sam")
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, rec.ID))
	require.NoError(t, svc.Deactivate(ctx, rec.ID))

	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestForWorkOrderAndParentOf(t *testing.T) {
	st := openStore(t)
	svc := newService(t, st, nil)
	ctx := context.Background()
	seedOrder(t, st, "wo-1", dt(2024, time.January, 15))

	none, err := svc.ForWorkOrder(ctx, "wo-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	rec, err := svc.Create(ctx, "wo-1", cadence.TypeMonthly, "sam")
	require.NoError(t, err)

	got, err := svc.ForWorkOrder(ctx, "wo-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)

	// The origin order itself has no parent schedule.
	parent, err := svc.ParentOf(ctx, "wo-1")
	require.NoError(t, err)
	assert.Nil(t, parent)

	// A materialized order resolves back to its schedule.
	results, err := svc.RunDue(ctx, dt(2024, time.February, 16))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	parent, err = svc.ParentOf(ctx, results[0].NewWorkOrderID)
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, rec.ID, parent.ID)
}
