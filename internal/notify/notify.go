// Package notify resolves who should hear about a newly created work order
// and emits one notification intent per order. Delivery is someone else's
// job: the Sender interface is the hand-off point and the default sender
// only logs.
package notify

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"foreman/internal/eventbus"
	"foreman/internal/model"
	"foreman/internal/storage"
	"foreman/pkg/logx"
)

// Intent is one notification: the recipients and a work-order summary.
type Intent struct {
	WorkOrderID string
	Number      string
	Item        string
	LocationID  string
	CompleteBy  time.Time
	Recipients  []string // user ids of opted-in group members
}

// Sender delivers an intent. Implementations own transport, templating, and
// retries; the dispatcher calls it at most once per intent.
type Sender interface {
	Send(ctx context.Context, in Intent) error
}

// LogSender is the default delivery: it just records the intent.
type LogSender struct {
	Log logx.Logger
}

func (l LogSender) Send(_ context.Context, in Intent) error {
	l.Log.Info("notification intent",
		logx.String("workorder_id", in.WorkOrderID),
		logx.String("wo_number", in.Number),
		logx.Int("recipients", len(in.Recipients)))
	return nil
}

// Config controls the dispatcher.
type Config struct {
	// RatePerSec bounds emission; bursts up to the same size pass.
	RatePerSec int
}

// Dispatcher builds and emits notification intents.
//
// It performs no retries; a failed send is the caller's warning to log.
type Dispatcher struct {
	store   storage.Store
	sender  Sender
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, store storage.Store, sender Sender, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sender == nil {
		sender = LogSender{Log: log}
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &Dispatcher{
		store:   store,
		sender:  sender,
		bus:     bus,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Notify resolves the order's opted-in group members and emits one intent.
// Zero recipients is a successful no-op; nothing is emitted.
func (d *Dispatcher) Notify(ctx context.Context, wo model.WorkOrder) error {
	members, err := d.store.NotifyRecipients(ctx, wo.GroupID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		d.log.Debug("no opted-in recipients",
			logx.String("workorder_id", wo.ID),
			logx.String("group_id", wo.GroupID))
		return nil
	}

	recipients := make([]string, 0, len(members))
	for _, m := range members {
		recipients = append(recipients, m.UserID)
	}
	in := Intent{
		WorkOrderID: wo.ID,
		Number:      wo.Number,
		Item:        wo.Item,
		LocationID:  wo.LocationID,
		CompleteBy:  wo.CompleteBy,
		Recipients:  recipients,
	}

	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationIntent, Data: in})
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := d.sender.Send(ctx, in); err != nil {
		return err
	}
	d.log.Debug("notification dispatched",
		logx.String("workorder_id", wo.ID),
		logx.Int("recipients", len(recipients)))
	return nil
}
