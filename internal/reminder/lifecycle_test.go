package reminder

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stellarlinkco/remindclaw/internal/draft"
	"github.com/stellarlinkco/remindclaw/internal/period"
)

// memStore is an in-memory Store used to exercise the service.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	reminders  map[int64]Reminder
	principals map[int64]Principal
	updates    int
}

func newMemStore() *memStore {
	return &memStore{
		reminders:  make(map[int64]Reminder),
		principals: map[int64]Principal{1: {ID: 1, ChatID: 100, UserID: 500, Karma: DefaultKarma}},
	}
}

func (m *memStore) CreateReminder(_ context.Context, r *Reminder) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := *r
	c.ID = m.nextID
	m.reminders[c.ID] = c
	return c.ID, nil
}

func (m *memStore) GetReminder(_ context.Context, id int64) (*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *memStore) UpdateReminder(_ context.Context, r *Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reminders[r.ID]; !ok {
		return ErrNotFound
	}
	m.reminders[r.ID] = *r
	m.updates++
	return nil
}

func (m *memStore) DueReminders(_ context.Context, now time.Time) ([]*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Reminder
	for _, r := range m.reminders {
		if r.Active() && !r.NextFireAt.After(now) {
			c := r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ActiveReminders(_ context.Context, chatID int64) ([]*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Reminder
	for _, r := range m.reminders {
		if r.Active() && r.ChatID == chatID {
			c := r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memStore) Mutate(_ context.Context, id int64, fn MutateFunc) (*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return nil, ErrNotFound
	}
	delta, err := fn(&r)
	if err != nil {
		return nil, err
	}
	m.reminders[id] = r
	m.updates++
	if delta != 0 {
		p := m.principals[r.OwnerID]
		p.Karma += delta
		m.principals[r.OwnerID] = p
	}
	return &r, nil
}

func (m *memStore) EnsurePrincipal(_ context.Context, p Principal) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.principals {
		if existing.ChatID == p.ChatID && existing.UserID == p.UserID {
			return &existing, nil
		}
	}
	p.ID = int64(len(m.principals) + 1)
	p.Karma = DefaultKarma
	m.principals[p.ID] = p
	return &p, nil
}

func (m *memStore) GetPrincipal(_ context.Context, id int64) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *memStore) karma(id int64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.principals[id].Karma
}

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newReminder(t *testing.T, store *memStore, next time.Time, rec *period.Duration) *Reminder {
	t.Helper()
	svc := NewService(store)
	r, err := svc.Create(context.Background(), &Reminder{
		ChatID: 100, OwnerID: 1, Text: "Pay rent",
		CreatedAt: next, NextFireAt: next, PlannedAt: next,
		Recurrence: rec, Status: StatusActive,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return r
}

func expectKarma(t *testing.T, store *memStore, want float64) {
	t.Helper()
	if got := store.karma(1); math.Abs(got-want) > 1e-9 {
		t.Errorf("karma = %v, want %v", got, want)
	}
}

func expectTime(t *testing.T, what string, got, want time.Time) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s = %s, want %s", what, got, want)
	}
}

func TestFromDraft(t *testing.T) {
	first := at("2024-01-01T09:00:00")
	d := draft.Draft{ChatID: 100, Name: "Pay rent", FirstFireAt: &first, Recurrence: &period.Duration{Months: 1}}

	r, err := FromDraft(d, 1)
	if err != nil {
		t.Fatalf("FromDraft error: %v", err)
	}
	expectTime(t, "NextFireAt", r.NextFireAt, first)
	expectTime(t, "CreatedAt", r.CreatedAt, first)
	if r.Status != StatusActive || r.ChatID != 100 || r.Text != "Pay rent" {
		t.Errorf("reminder = %+v", r)
	}
}

func TestFromDraft_Incomplete(t *testing.T) {
	if _, err := FromDraft(draft.Draft{Name: "no date"}, 1); !errors.Is(err, draft.ErrIncomplete) {
		t.Errorf("FromDraft error = %v, want ErrIncomplete", err)
	}
}

func TestSaveThenComplete_MonthlyRoundTrip(t *testing.T) {
	store := newMemStore()
	first := at("2024-01-01T09:00:00")
	d := draft.Draft{ChatID: 100, Name: "Pay rent", FirstFireAt: &first, Recurrence: &period.Duration{Months: 1}}

	svc := NewService(store, WithClock(fixedClock(at("2024-01-01T09:00:05"))))
	r, err := FromDraft(d, 1)
	if err != nil {
		t.Fatalf("FromDraft error: %v", err)
	}
	saved, err := svc.Create(context.Background(), r)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	expectTime(t, "saved NextFireAt", saved.NextFireAt, first)
	if saved.Status != StatusActive {
		t.Errorf("Status = %s, want active", saved.Status)
	}

	done, err := svc.Complete(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	expectTime(t, "NextFireAt", done.NextFireAt, at("2024-02-01T09:00:00"))
	if done.LastFiredAt == nil {
		t.Fatal("LastFiredAt not set")
	}
	expectTime(t, "LastFiredAt", *done.LastFiredAt, first)
	expectKarma(t, store, 2.0)
}

func TestAdvance_CatchUp(t *testing.T) {
	rec := &period.Duration{Hours: 1}
	start := at("2024-01-01T00:00:00")
	now := at("2024-01-01T05:30:00")
	r := &Reminder{NextFireAt: start, PlannedAt: start, Recurrence: rec, Status: StatusActive}

	steps := Advance(r, now)

	if want := int(math.Ceil(now.Sub(start).Hours())); steps != want {
		t.Errorf("steps = %d, want %d", steps, want)
	}
	expectTime(t, "NextFireAt", r.NextFireAt, at("2024-01-01T06:00:00"))
	if r.Status != StatusActive {
		t.Errorf("Status = %s, want active", r.Status)
	}
}

func TestAdvance_AlwaysLandsInFuture(t *testing.T) {
	rec := &period.Duration{Days: 3}
	now := at("2024-06-15T12:00:00")
	for _, past := range []string{"2020-01-01T08:00:00", "2024-06-15T12:00:00", "2024-06-15T11:59:59", "2023-02-28T23:00:00"} {
		start := at(past)
		r := &Reminder{NextFireAt: start, PlannedAt: start, Recurrence: rec, Status: StatusActive}
		Advance(r, now)
		if !r.NextFireAt.After(now) {
			t.Errorf("from %s landed on %s", past, r.NextFireAt)
		}
	}
}

func TestAdvance_FutureReminderMovesOneSlot(t *testing.T) {
	start := at("2024-01-01T09:00:00")
	r := &Reminder{NextFireAt: start, PlannedAt: start, Recurrence: &period.Duration{Days: 1}, Status: StatusActive}
	if steps := Advance(r, at("2023-12-31T00:00:00")); steps != 0 {
		t.Errorf("steps = %d, want 0", steps)
	}
	expectTime(t, "NextFireAt", r.NextFireAt, start)
}

func TestAdvance_OneShotStops(t *testing.T) {
	start := at("2024-01-01T09:00:00")
	r := &Reminder{NextFireAt: start, PlannedAt: start, Status: StatusActive}
	Advance(r, at("2024-01-01T09:01:00"))
	if r.Status != StatusStopped {
		t.Errorf("Status = %s, want stopped", r.Status)
	}
	expectTime(t, "NextFireAt", r.NextFireAt, start)
}

func TestAdvance_StalledRecurrenceStops(t *testing.T) {
	start := at("2024-01-01T09:00:00")
	// 2^51 hours wraps time.Duration to exactly zero.
	r := &Reminder{NextFireAt: start, PlannedAt: start, Recurrence: &period.Duration{Hours: 2251799813685248}, Status: StatusActive}

	done := make(chan int, 1)
	go func() { done <- Advance(r, at("2024-01-01T10:00:00")) }()

	select {
	case steps := <-done:
		if steps != 0 {
			t.Errorf("steps = %d, want 0", steps)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Advance did not return")
	}
	if r.Status != StatusStopped {
		t.Errorf("Status = %s, want stopped", r.Status)
	}
	expectTime(t, "NextFireAt", r.NextFireAt, start)
}

func TestComplete_OneShotEnds(t *testing.T) {
	store := newMemStore()
	r := newReminder(t, store, at("2024-01-01T09:00:00"), nil)
	svc := NewService(store, WithClock(fixedClock(at("2024-01-01T09:00:30"))))

	done, err := svc.Complete(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if done.Status != StatusStopped {
		t.Errorf("Status = %s, want stopped", done.Status)
	}
	expectKarma(t, store, 2.0)
}

func TestSkip_NoKarmaByDefault(t *testing.T) {
	store := newMemStore()
	r := newReminder(t, store, at("2024-01-01T09:00:00"), &period.Duration{Weeks: 1})
	svc := NewService(store, WithClock(fixedClock(at("2024-01-01T10:00:00"))))

	skipped, err := svc.Skip(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Skip error: %v", err)
	}
	expectTime(t, "NextFireAt", skipped.NextFireAt, at("2024-01-08T09:00:00"))
	expectKarma(t, store, DefaultKarma)
}

func TestSkip_WithReward(t *testing.T) {
	store := newMemStore()
	r := newReminder(t, store, at("2024-01-01T09:00:00"), &period.Duration{Weeks: 1})
	svc := NewService(store, WithClock(fixedClock(at("2024-01-01T10:00:00"))), WithSkipReward(true))

	if _, err := svc.Skip(context.Background(), r.ID); err != nil {
		t.Fatalf("Skip error: %v", err)
	}
	expectKarma(t, store, DefaultKarma+CompleteReward)
}

func TestSnooze(t *testing.T) {
	store := newMemStore()
	due := at("2024-01-01T09:00:00")
	now := at("2024-01-01T09:03:00")
	r := newReminder(t, store, due, &period.Duration{Days: 1})
	svc := NewService(store, WithClock(fixedClock(now)))

	snoozed, err := svc.Snooze(context.Background(), r.ID, 15*time.Minute)
	if err != nil {
		t.Fatalf("Snooze error: %v", err)
	}
	expectTime(t, "NextFireAt", snoozed.NextFireAt, now.Add(15*time.Minute))
	// the recurrence slot is untouched
	expectTime(t, "PlannedAt", snoozed.PlannedAt, due)
	expectKarma(t, store, DefaultKarma-0.1)

	if _, err := svc.Snooze(context.Background(), r.ID, time.Hour); err != nil {
		t.Fatalf("second Snooze error: %v", err)
	}
	expectKarma(t, store, DefaultKarma-0.2)
}

func TestSnoozeThenComplete_KeepsRhythm(t *testing.T) {
	store := newMemStore()
	r := newReminder(t, store, at("2024-01-01T09:00:00"), &period.Duration{Days: 1})

	now := at("2024-01-01T09:00:10")
	svc := NewService(store, WithClock(func() time.Time { return now }))
	if _, err := svc.Snooze(context.Background(), r.ID, 15*time.Minute); err != nil {
		t.Fatalf("Snooze error: %v", err)
	}

	now = at("2024-01-01T09:15:20")
	done, err := svc.Complete(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	expectTime(t, "NextFireAt", done.NextFireAt, at("2024-01-02T09:00:00"))
}

func TestStop_IsTerminal(t *testing.T) {
	store := newMemStore()
	r := newReminder(t, store, at("2024-01-01T09:00:00"), &period.Duration{Days: 1})
	svc := NewService(store, WithClock(fixedClock(at("2024-01-01T09:30:00"))))
	ctx := context.Background()

	stopped, err := svc.Stop(ctx, r.ID)
	if err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if stopped.Status != StatusStopped {
		t.Errorf("Status = %s, want stopped", stopped.Status)
	}
	next := stopped.NextFireAt

	if _, err := svc.Complete(ctx, r.ID); !errors.Is(err, ErrStopped) {
		t.Errorf("Complete error = %v, want ErrStopped", err)
	}
	if _, err := svc.Skip(ctx, r.ID); !errors.Is(err, ErrStopped) {
		t.Errorf("Skip error = %v, want ErrStopped", err)
	}
	if _, err := svc.Snooze(ctx, r.ID, time.Hour); !errors.Is(err, ErrStopped) {
		t.Errorf("Snooze error = %v, want ErrStopped", err)
	}
	if _, err := svc.DispatchMiss(ctx, r.ID); !errors.Is(err, ErrStopped) {
		t.Errorf("DispatchMiss error = %v, want ErrStopped", err)
	}
	if _, err := svc.Stop(ctx, r.ID); err != nil {
		t.Errorf("second Stop error: %v", err)
	}

	got, err := svc.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != StatusStopped {
		t.Errorf("Status = %s, want stopped", got.Status)
	}
	expectTime(t, "NextFireAt", got.NextFireAt, next)
	expectKarma(t, store, DefaultKarma)
}

func TestStop_RecurringReminder(t *testing.T) {
	store := newMemStore()
	r := newReminder(t, store, at("2024-01-01T09:00:00"), &period.Duration{Years: 1})
	stopped, err := NewService(store).Stop(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if stopped.Status != StatusStopped {
		t.Errorf("Status = %s, want stopped", stopped.Status)
	}
}

func TestDispatchMiss(t *testing.T) {
	store := newMemStore()
	due := at("2024-01-01T09:00:00")
	r := newReminder(t, store, due, nil)
	svc := NewService(store, WithClock(fixedClock(at("2024-01-01T09:00:05"))))

	missed, err := svc.DispatchMiss(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("DispatchMiss error: %v", err)
	}
	expectTime(t, "NextFireAt", missed.NextFireAt, due.Add(time.Hour))
	if missed.Status != StatusActive {
		t.Errorf("Status = %s, want active", missed.Status)
	}
	expectKarma(t, store, DefaultKarma)
}

func TestDispatchMiss_LongOverdueLandsInFuture(t *testing.T) {
	store := newMemStore()
	r := newReminder(t, store, at("2024-01-01T09:00:00"), nil)
	now := at("2024-01-03T00:00:00")
	svc := NewService(store, WithClock(fixedClock(now)), WithRetryDelay(30*time.Minute))

	missed, err := svc.DispatchMiss(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("DispatchMiss error: %v", err)
	}
	expectTime(t, "NextFireAt", missed.NextFireAt, now.Add(30*time.Minute))
}

func TestTransition_NotFound(t *testing.T) {
	svc := NewService(newMemStore())
	if _, err := svc.Complete(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Errorf("Complete error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentTransitions_Consistent(t *testing.T) {
	store := newMemStore()
	start := at("2024-01-01T09:00:00")
	r := newReminder(t, store, start, &period.Duration{Days: 1})
	svc := NewService(store, WithClock(fixedClock(at("2024-01-01T09:00:01"))))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Complete(context.Background(), r.ID)
		}()
	}
	wg.Wait()

	got, err := svc.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	// advancement is idempotent once in the future
	expectTime(t, "NextFireAt", got.NextFireAt, at("2024-01-02T09:00:00"))
	expectKarma(t, store, DefaultKarma+20)
}
