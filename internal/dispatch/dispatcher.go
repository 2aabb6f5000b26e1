// Package dispatch sends messages to groups and resends them until the shadow
// listener sees them echoed back.
//
// The protocol's own send result is not trusted: a send that "succeeded" may
// still never reach the group. Delivery is inferred only from the shadow
// session observing the message in the group's stream, so retries are driven
// by the pending tracker rather than by send errors.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"xiaov/internal/chat"
	"xiaov/internal/eventbus"
	"xiaov/internal/metrics"
	"xiaov/internal/pending"
	"xiaov/internal/roster"
	"xiaov/internal/runtime/workpool"
	logx "xiaov/pkg/logx"
)

const reportHint = "please report this bug: roster and protocol are out of sync"

type Dispatcher struct {
	cfg     Config
	roster  Resolver
	sender  chat.GroupSender
	tracker *pending.Tracker
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics

	pool  *workpool.Pool[retryTask]
	after func(delay time.Duration, t retryTask)
	now   func() time.Time
}

func New(cfg Config, r Resolver, sender chat.GroupSender, tracker *pending.Tracker, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:     cfg,
		roster:  r,
		sender:  sender,
		tracker: tracker,
		log:     log,
		bus:     bus,
		metrics: m,
		now:     time.Now,
	}
	d.after = d.afterTimer
	d.pool = workpool.New("retry", cfg.Workers, cfg.QueueSize, d.runRetry, log)
	return d
}

func (d *Dispatcher) Start(ctx context.Context) { d.pool.Start(ctx) }

// Stop abandons outstanding retry checks; timers that fire later find the
// pool stopped and drop their task.
func (d *Dispatcher) Stop() { d.pool.Stop() }

// Send delivers text to the group and schedules confirmation-driven resends.
//
// A resolution failure drops the message and is returned. A failing send call
// is logged only; the retry loop is the resilience mechanism.
func (d *Dispatcher) Send(ctx context.Context, groupID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	group, err := d.roster.Resolve(ctx, groupID)
	if err != nil {
		var re *roster.ResolutionError
		if errors.As(err, &re) {
			d.log.Error("group resolution failed; message dropped", logx.Int64("group_id", groupID), logx.String("hint", reportHint), logx.Err(err))
		} else {
			d.log.Error("group resolution failed; message dropped", logx.Int64("group_id", groupID), logx.Err(err))
		}
		d.bus.Publish(eventbus.Event{Type: eventbus.DispatchDropped, Data: eventbus.DeliveryEvent{GroupID: groupID}})
		return err
	}

	d.log.Info("pushing message to group", logx.String("group", group.Name), logx.Int64("group_id", group.ID), logx.String("msg", text))
	if err := d.sender.SendToGroup(ctx, group.ID, text); err != nil {
		d.metrics.IncSendError("dispatch")
		d.log.Warn("group send reported error; relying on retry", logx.Int64("group_id", group.ID), logx.Err(err))
	}
	d.metrics.IncDispatched()

	sentAt := d.now()
	id := d.tracker.Record(group.ID, text)
	d.bus.Publish(eventbus.Event{Type: eventbus.DispatchSent, Data: eventbus.DeliveryEvent{ID: id, GroupID: group.ID, Attempt: 1}})

	d.scheduleCheck(retryTask{id: id, group: group, text: text, sentAt: sentAt, attempt: 1})
	return nil
}

// scheduleCheck arms the timer for the task's next check. Checks fall at
// sentAt + attempt×RetryInterval. No worker is held while waiting; the pool
// only bounds concurrent resends.
func (d *Dispatcher) scheduleCheck(t retryTask) {
	due := t.sentAt.Add(time.Duration(t.attempt) * d.cfg.RetryInterval)
	d.after(max(due.Sub(d.now()), 0), t)
}

func (d *Dispatcher) afterTimer(delay time.Duration, t retryTask) {
	time.AfterFunc(delay, func() { d.submitCheck(t) })
}

func (d *Dispatcher) submitCheck(t retryTask) {
	err := d.pool.Submit(t)
	switch {
	case err == nil:
	case errors.Is(err, workpool.ErrStopped):
		d.log.Debug("retry check dropped; dispatcher stopped", logx.String("id", t.id))
	default:
		d.metrics.IncRetryDropped()
		d.log.Warn("retry check not scheduled; giving up on dispatch", logx.String("id", t.id), logx.Int("attempt", t.attempt), logx.Err(err))
	}
}

// runRetry performs one check: a dispatch that is gone was confirmed (or
// evicted) and ends the chain. Otherwise it resends and arms the next check,
// or after RetryMax resends removes the entry and gives up silently.
func (d *Dispatcher) runRetry(ctx context.Context, t retryTask) {
	if ctx.Err() != nil {
		return
	}
	if !d.tracker.Contains(t.id) {
		d.log.Debug("dispatch settled", logx.String("id", t.id), logx.Int64("group_id", t.group.ID), logx.Int("retries", t.attempt-1))
		return
	}
	d.metrics.IncRetry()
	d.bus.Publish(eventbus.Event{Type: eventbus.DispatchRetry, Data: eventbus.DeliveryEvent{ID: t.id, GroupID: t.group.ID, Attempt: t.attempt + 1}})
	if err := d.sender.SendToGroup(ctx, t.group.ID, t.text); err != nil {
		d.metrics.IncSendError("retry")
		d.log.Warn("group resend reported error", logx.Int64("group_id", t.group.ID), logx.Int("attempt", t.attempt+1), logx.Err(err))
	}

	if t.attempt < d.cfg.RetryMax {
		t.attempt++
		d.scheduleCheck(t)
		return
	}
	if d.tracker.Remove(t.id) {
		d.metrics.IncAbandoned()
		d.bus.Publish(eventbus.Event{Type: eventbus.DispatchAbandoned, Data: eventbus.DeliveryEvent{ID: t.id, GroupID: t.group.ID}})
		d.log.Debug("dispatch unconfirmed after retries; giving up", logx.String("id", t.id), logx.Int64("group_id", t.group.ID), logx.Int("retries", d.cfg.RetryMax))
	}
}
