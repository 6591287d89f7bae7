package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foreman/internal/eventbus"
	"foreman/internal/model"
	"foreman/internal/storage"
	"foreman/pkg/logx"
)

type captureSender struct {
	sent []Intent
	err  error
}

func (c *captureSender) Send(_ context.Context, in Intent) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, in)
	return nil
}

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func order() model.WorkOrder {
	return model.WorkOrder{
		ID:         "wo-1",
		Number:     "WO-20240216-AB12CD",
		Item:       "boiler inspection",
		LocationID: "loc-9",
		GroupID:    "grp-1",
		CompleteBy: time.Date(2024, time.February, 23, 8, 0, 0, 0, time.UTC),
	}
}

func TestNotifyEmitsOptedInRecipientsOnly(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertGroupMember(ctx, model.GroupMember{UserID: "u1", GroupID: "grp-1", Notify: true}))
	require.NoError(t, st.UpsertGroupMember(ctx, model.GroupMember{UserID: "u2", GroupID: "grp-1", Notify: true}))
	require.NoError(t, st.UpsertGroupMember(ctx, model.GroupMember{UserID: "u3", GroupID: "grp-1", Notify: false}))

	sender := &captureSender{}
	d := New(Config{}, st, sender, nil, logx.Nop())

	require.NoError(t, d.Notify(ctx, order()))
	require.Len(t, sender.sent, 1)
	in := sender.sent[0]
	assert.Equal(t, []string{"u1", "u2"}, in.Recipients)
	assert.Equal(t, "wo-1", in.WorkOrderID)
	assert.Equal(t, "boiler inspection", in.Item)
	assert.Equal(t, "loc-9", in.LocationID)
}

func TestNotifyNoRecipientsIsNoOp(t *testing.T) {
	st := openStore(t)
	sender := &captureSender{}
	d := New(Config{}, st, sender, nil, logx.Nop())

	require.NoError(t, d.Notify(context.Background(), order()))
	assert.Empty(t, sender.sent)
}

func TestNotifySenderErrorSurfaces(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertGroupMember(ctx, model.GroupMember{UserID: "u1", GroupID: "grp-1", Notify: true}))

	sendErr := errors.New("smtp down")
	d := New(Config{}, st, &captureSender{err: sendErr}, nil, logx.Nop())

	assert.ErrorIs(t, d.Notify(ctx, order()), sendErr)
}

func TestNotifyPublishesIntentOnBus(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertGroupMember(ctx, model.GroupMember{UserID: "u1", GroupID: "grp-1", Notify: true}))

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	d := New(Config{}, st, &captureSender{}, bus, logx.Nop())
	require.NoError(t, d.Notify(ctx, order()))

	select {
	case e := <-events:
		assert.Equal(t, eventbus.TypeNotificationIntent, e.Type)
		in, ok := e.Data.(Intent)
		require.True(t, ok)
		assert.Equal(t, []string{"u1"}, in.Recipients)
	default:
		t.Fatal("expected an intent event on the bus")
	}
}

func TestNotifyDefaultSenderIsLog(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertGroupMember(ctx, model.GroupMember{UserID: "u1", GroupID: "grp-1", Notify: true}))

	d := New(Config{}, st, nil, nil, logx.Nop())
	require.NoError(t, d.Notify(ctx, order()))
}
