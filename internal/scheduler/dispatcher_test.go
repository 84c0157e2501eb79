package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/stellarlinkco/remindclaw/internal/bus"
	"github.com/stellarlinkco/remindclaw/internal/channel"
	"github.com/stellarlinkco/remindclaw/internal/menu"
	"github.com/stellarlinkco/remindclaw/internal/reminder"
)

type fakeSource struct {
	due     []*reminder.Reminder
	err     error
	entered chan struct{}
	block   chan struct{}
	calls   int
}

func (f *fakeSource) DueReminders(ctx context.Context, now time.Time) ([]*reminder.Reminder, error) {
	f.calls++
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	return f.due, f.err
}

type fakeBackoff struct {
	mu     sync.Mutex
	missed []int64
	err    error
}

func (f *fakeBackoff) DispatchMiss(ctx context.Context, id int64) (*reminder.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missed = append(f.missed, id)
	return nil, f.err
}

type sendCall struct {
	chatID int64
	text   string
	kb     channel.Keyboard
}

type fakeMessenger struct {
	mu        sync.Mutex
	sends     []sendCall
	deleted   []bus.MessageHandle
	failFor   map[int64]bool
	deleteErr error
}

func (f *fakeMessenger) Send(ctx context.Context, chatID int64, text string, kb channel.Keyboard) (bus.MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{chatID: chatID, text: text, kb: kb})
	if f.failFor[chatID] {
		return bus.MessageHandle{}, fmt.Errorf("%w: chat %d blocked the bot", channel.ErrDeliveryFailed, chatID)
	}
	return bus.MessageHandle{ChatID: chatID, MessageID: len(f.sends)}, nil
}

func (f *fakeMessenger) Edit(ctx context.Context, h bus.MessageHandle, text string, kb channel.Keyboard) error {
	return nil
}

func (f *fakeMessenger) ClearKeyboard(ctx context.Context, h bus.MessageHandle) error {
	return nil
}

func (f *fakeMessenger) Delete(ctx context.Context, h bus.MessageHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, h)
	return nil
}

func dueReminder(id, chatID int64, text string) *reminder.Reminder {
	return &reminder.Reminder{ID: id, ChatID: chatID, Text: text, Status: reminder.StatusActive}
}

func TestDispatcher_Tick_SendsDueReminders(t *testing.T) {
	source := &fakeSource{due: []*reminder.Reminder{
		dueReminder(1, 10, "drink water"),
		dueReminder(2, 20, "stand up"),
	}}
	backoff := &fakeBackoff{}
	msgr := &fakeMessenger{}
	metrics := NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(source, backoff, msgr, WithMetrics(metrics))

	res, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if res.Due != 2 || res.Sent != 2 || res.Failed != 0 || res.Skipped {
		t.Errorf("result = %+v", res)
	}
	if len(msgr.sends) != 2 {
		t.Fatalf("sends = %d, want 2", len(msgr.sends))
	}
	if msgr.sends[0].text != "Reminder: 1\ndrink water" || msgr.sends[0].chatID != 10 {
		t.Errorf("first send = %+v", msgr.sends[0])
	}
	controls := menu.ReminderControls(2)
	if len(msgr.sends[1].kb) != len(controls) || msgr.sends[1].kb[1][0].Token != "reminder_2_action_DONE" {
		t.Errorf("keyboard = %+v", msgr.sends[1].kb)
	}
	if len(backoff.missed) != 0 {
		t.Errorf("no reminder should be postponed, got %v", backoff.missed)
	}
	if got := testutil.ToFloat64(metrics.sent); got != 2 {
		t.Errorf("sent metric = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.ticks); got != 1 {
		t.Errorf("ticks metric = %v, want 1", got)
	}
}

func TestDispatcher_Tick_NothingDue(t *testing.T) {
	source := &fakeSource{}
	backoff := &fakeBackoff{}
	msgr := &fakeMessenger{}
	metrics := NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(source, backoff, msgr, WithMetrics(metrics))

	res, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if res != (TickResult{}) {
		t.Errorf("result = %+v, want zero", res)
	}
	if source.calls != 1 {
		t.Errorf("DueReminders calls = %d, want 1", source.calls)
	}
	if len(msgr.sends) != 0 {
		t.Errorf("sends = %+v, want none", msgr.sends)
	}
	if len(backoff.missed) != 0 {
		t.Errorf("missed = %v, want none", backoff.missed)
	}
	if got := testutil.ToFloat64(metrics.sent); got != 0 {
		t.Errorf("sent metric = %v, want 0", got)
	}
}

func TestDispatcher_Tick_ResendsUntilActedOn(t *testing.T) {
	source := &fakeSource{due: []*reminder.Reminder{dueReminder(1, 10, "x")}}
	msgr := &fakeMessenger{}
	d := NewDispatcher(source, &fakeBackoff{}, msgr)

	for i := 0; i < 3; i++ {
		if _, err := d.Tick(context.Background()); err != nil {
			t.Fatalf("Tick error: %v", err)
		}
	}
	if len(msgr.sends) != 3 {
		t.Errorf("sends = %d, want one per tick", len(msgr.sends))
	}
}

func TestDispatcher_Tick_DeliveryFailure(t *testing.T) {
	source := &fakeSource{due: []*reminder.Reminder{
		dueReminder(1, 10, "a"),
		dueReminder(2, 66, "b"),
		dueReminder(3, 30, "c"),
	}}
	backoff := &fakeBackoff{err: errors.New("db locked")}
	msgr := &fakeMessenger{failFor: map[int64]bool{66: true}}
	metrics := NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(source, backoff, msgr, WithMetrics(metrics))

	res, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if res.Sent != 2 || res.Failed != 1 {
		t.Errorf("result = %+v, want 2 sent 1 failed", res)
	}
	if len(backoff.missed) != 1 || backoff.missed[0] != 2 {
		t.Errorf("missed = %v, want [2]", backoff.missed)
	}
	if got := testutil.ToFloat64(metrics.failures); got != 1 {
		t.Errorf("failures metric = %v, want 1", got)
	}
}

func TestDispatcher_Tick_SourceError(t *testing.T) {
	d := NewDispatcher(&fakeSource{err: errors.New("disk I/O error")}, &fakeBackoff{}, &fakeMessenger{})
	if _, err := d.Tick(context.Background()); err == nil || !strings.Contains(err.Error(), "disk I/O error") {
		t.Errorf("err = %v, want source error", err)
	}
}

func TestDispatcher_Tick_NotReentrant(t *testing.T) {
	source := &fakeSource{entered: make(chan struct{}), block: make(chan struct{})}
	metrics := NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(source, &fakeBackoff{}, &fakeMessenger{}, WithMetrics(metrics))

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Tick(context.Background())
	}()

	<-source.entered

	res, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if !res.Skipped {
		t.Error("overlapping tick should be skipped")
	}
	close(source.block)
	<-done

	if got := testutil.ToFloat64(metrics.skippedTicks); got != 1 {
		t.Errorf("skipped metric = %v, want 1", got)
	}
}

func TestDispatcher_Tick_CanceledContext(t *testing.T) {
	source := &fakeSource{due: []*reminder.Reminder{dueReminder(1, 10, "a")}}
	msgr := &fakeMessenger{}
	d := NewDispatcher(source, &fakeBackoff{}, msgr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Tick(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(msgr.sends) != 0 {
		t.Error("nothing should be sent after cancellation")
	}
}

func TestDispatcher_UsesClock(t *testing.T) {
	var seen time.Time
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	source := sourceFunc(func(ctx context.Context, now time.Time) ([]*reminder.Reminder, error) {
		seen = now
		return nil, nil
	})
	d := NewDispatcher(source, &fakeBackoff{}, &fakeMessenger{}, WithDispatchClock(func() time.Time { return fixed }))

	if _, err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if !seen.Equal(fixed) {
		t.Errorf("due query at %s, want %s", seen, fixed)
	}
}

type sourceFunc func(ctx context.Context, now time.Time) ([]*reminder.Reminder, error)

func (f sourceFunc) DueReminders(ctx context.Context, now time.Time) ([]*reminder.Reminder, error) {
	return f(ctx, now)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.recordTick(1)
	m.recordSkipped()
	m.recordSent()
	m.recordFailure()
	m.recordCleaned(3)
}
