// Package scheduler runs the periodic jobs of the bot: the reminder dispatch
// tick and the cleanup of old bot messages.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/stellarlinkco/remindclaw/internal/channel"
	"github.com/stellarlinkco/remindclaw/internal/menu"
	"github.com/stellarlinkco/remindclaw/internal/reminder"
)

// DueSource lists reminders whose notification is due.
type DueSource interface {
	DueReminders(ctx context.Context, now time.Time) ([]*reminder.Reminder, error)
}

// Backoff postpones a reminder whose notification failed.
type Backoff interface {
	DispatchMiss(ctx context.Context, id int64) (*reminder.Reminder, error)
}

type TickResult struct {
	Due    int
	Sent   int
	Failed int
	// Skipped is set when another tick was still running.
	Skipped bool
}

// Dispatcher sends notifications for due reminders. A delivered reminder is
// not advanced: it is sent again on every tick until the user acts on it.
type Dispatcher struct {
	mu        sync.Mutex
	source    DueSource
	backoff   Backoff
	messenger channel.Messenger
	metrics   *Metrics
	now       func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func NewDispatcher(source DueSource, backoff Backoff, m channel.Messenger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		source:    source,
		backoff:   backoff,
		messenger: m,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Tick runs one dispatch pass. A failing reminder never aborts the pass;
// only a failed due query is returned as an error.
func (d *Dispatcher) Tick(ctx context.Context) (TickResult, error) {
	if !d.mu.TryLock() {
		d.metrics.recordSkipped()
		log.Printf("[scheduler] previous tick still running, skipping")
		return TickResult{Skipped: true}, nil
	}
	defer d.mu.Unlock()

	start := time.Now()
	defer func() { d.metrics.recordTick(time.Since(start).Seconds()) }()

	due, err := d.source.DueReminders(ctx, d.now())
	if err != nil {
		return TickResult{}, fmt.Errorf("load due reminders: %w", err)
	}

	res := TickResult{Due: len(due)}
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := d.messenger.Send(ctx, r.ChatID, menu.NotificationText(r), menu.ReminderControls(r.ID)); err != nil {
			res.Failed++
			d.metrics.recordFailure()
			log.Printf("[scheduler] deliver reminder %d to chat %d: %v", r.ID, r.ChatID, err)
			if _, err := d.backoff.DispatchMiss(ctx, r.ID); err != nil {
				log.Printf("[scheduler] postpone reminder %d: %v", r.ID, err)
			}
			continue
		}
		res.Sent++
		d.metrics.recordSent()
	}
	if res.Due > 0 {
		log.Printf("[scheduler] tick: %d due, %d sent, %d failed", res.Due, res.Sent, res.Failed)
	}
	return res, nil
}
