package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/stellarlinkco/remindclaw/internal/bus"
)

type fakeMessageStore struct {
	messages  map[bus.MessageHandle]time.Time
	before    time.Time
	listErr   error
	forgetErr error
}

func (f *fakeMessageStore) ExpiredMessages(ctx context.Context, before time.Time) ([]bus.MessageHandle, error) {
	f.before = before
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []bus.MessageHandle
	for h, sentAt := range f.messages {
		if sentAt.Before(before) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeMessageStore) ForgetMessage(ctx context.Context, h bus.MessageHandle) error {
	if f.forgetErr != nil {
		return f.forgetErr
	}
	delete(f.messages, h)
	return nil
}

func TestCleaner_RemovesExpired(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	old := bus.MessageHandle{ChatID: 1, MessageID: 1}
	fresh := bus.MessageHandle{ChatID: 1, MessageID: 2}
	store := &fakeMessageStore{messages: map[bus.MessageHandle]time.Time{
		old:   now.Add(-48 * time.Hour),
		fresh: now.Add(-time.Hour),
	}}
	msgr := &fakeMessenger{}
	metrics := NewMetrics(prometheus.NewRegistry())
	c := NewCleaner(store, msgr, 24*time.Hour, metrics)
	c.now = func() time.Time { return now }

	n, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if !store.before.Equal(now.Add(-24 * time.Hour)) {
		t.Errorf("cutoff = %s", store.before)
	}
	if len(msgr.deleted) != 1 || msgr.deleted[0] != old {
		t.Errorf("deleted = %v, want [%v]", msgr.deleted, old)
	}
	if _, ok := store.messages[fresh]; !ok {
		t.Error("fresh message should be kept")
	}
	if got := testutil.ToFloat64(metrics.cleaned); got != 1 {
		t.Errorf("cleaned metric = %v, want 1", got)
	}
}

func TestCleaner_ForgetsUndeletable(t *testing.T) {
	now := time.Now()
	h := bus.MessageHandle{ChatID: 1, MessageID: 9}
	store := &fakeMessageStore{messages: map[bus.MessageHandle]time.Time{h: now.Add(-72 * time.Hour)}}
	msgr := &fakeMessenger{deleteErr: errors.New("message can't be deleted")}
	c := NewCleaner(store, msgr, time.Hour, nil)

	n, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if n != 0 {
		t.Errorf("removed = %d, want 0", n)
	}
	if len(store.messages) != 0 {
		t.Error("undeletable message should still be forgotten")
	}
}

func TestCleaner_StoreErrors(t *testing.T) {
	c := NewCleaner(&fakeMessageStore{listErr: errors.New("locked")}, &fakeMessenger{}, time.Hour, nil)
	if _, err := c.Run(context.Background()); err == nil {
		t.Error("expected list error")
	}

	h := bus.MessageHandle{ChatID: 1, MessageID: 1}
	store := &fakeMessageStore{
		messages:  map[bus.MessageHandle]time.Time{h: time.Now().Add(-48 * time.Hour)},
		forgetErr: errors.New("locked"),
	}
	c = NewCleaner(store, &fakeMessenger{}, time.Hour, nil)
	if _, err := c.Run(context.Background()); err == nil {
		t.Error("expected forget error")
	}
}
