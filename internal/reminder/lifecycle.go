// Package reminder implements the persisted reminder state machine.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stellarlinkco/remindclaw/internal/draft"
)

var (
	ErrNotFound = errors.New("reminder not found")
	ErrStopped  = errors.New("reminder is stopped")
)

const (
	CompleteReward    = 1.0
	SnoozePenalty     = 0.1
	DefaultRetryDelay = time.Hour
)

// MutateFunc edits a reminder in place and returns the karma delta to apply
// to its owner in the same transaction.
type MutateFunc func(r *Reminder) (karmaDelta float64, err error)

// Store is the durable reminder storage.
type Store interface {
	CreateReminder(ctx context.Context, r *Reminder) (int64, error)
	GetReminder(ctx context.Context, id int64) (*Reminder, error)
	UpdateReminder(ctx context.Context, r *Reminder) error
	// DueReminders returns active reminders with NextFireAt <= now, by id.
	DueReminders(ctx context.Context, now time.Time) ([]*Reminder, error)
	ActiveReminders(ctx context.Context, chatID int64) ([]*Reminder, error)
	// Mutate runs fn as one read-modify-write transaction. When fn returns an
	// error nothing is written.
	Mutate(ctx context.Context, id int64, fn MutateFunc) (*Reminder, error)

	EnsurePrincipal(ctx context.Context, p Principal) (*Principal, error)
	GetPrincipal(ctx context.Context, id int64) (*Principal, error)
}

// FromDraft materializes a completed draft owned by ownerID.
func FromDraft(d draft.Draft, ownerID int64) (*Reminder, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	at := *d.FirstFireAt
	return &Reminder{
		ChatID:     d.ChatID,
		OwnerID:    ownerID,
		Text:       d.Name,
		CreatedAt:  at,
		NextFireAt: at,
		PlannedAt:  at,
		Recurrence: d.Recurrence,
		Status:     StatusActive,
	}, nil
}

// Advance moves r to its next occurrence strictly after now, skipping every
// slot missed in between. Reminders without recurrence, or with one that
// does not advance time, are stopped.
// It returns the number of periods stepped over.
func Advance(r *Reminder, now time.Time) int {
	if r.Recurrence == nil || r.Recurrence.IsZero() {
		r.Status = StatusStopped
		return 0
	}
	closed := r.PlannedAt
	next := r.PlannedAt
	steps := 0
	for !next.After(now) {
		stepped := r.Recurrence.AddTo(next)
		if !stepped.After(next) {
			// A recurrence that does not move forward would never catch up.
			r.Status = StatusStopped
			return steps
		}
		next = stepped
		steps++
	}
	r.PlannedAt = next
	r.NextFireAt = next
	if steps > 0 {
		r.LastFiredAt = &closed
	}
	return steps
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRetryDelay sets how far a failed delivery pushes the reminder.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithSkipReward makes Skip grant the same karma as Complete.
func WithSkipReward(enabled bool) Option {
	return func(s *Service) { s.skipReward = enabled }
}

// Service applies lifecycle transitions through the store.
type Service struct {
	store      Store
	now        func() time.Time
	retryDelay time.Duration
	skipReward bool
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		now:        time.Now,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists r and returns it with its assigned id.
func (s *Service) Create(ctx context.Context, r *Reminder) (*Reminder, error) {
	id, err := s.store.CreateReminder(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	created := *r
	created.ID = id
	return &created, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Reminder, error) {
	return s.store.GetReminder(ctx, id)
}

// Complete closes the current occurrence and rewards the owner.
func (s *Service) Complete(ctx context.Context, id int64) (*Reminder, error) {
	return s.transition(ctx, id, "complete", func(r *Reminder) (float64, error) {
		Advance(r, s.now())
		return CompleteReward, nil
	})
}

// Skip closes the current occurrence.
func (s *Service) Skip(ctx context.Context, id int64) (*Reminder, error) {
	return s.transition(ctx, id, "skip", func(r *Reminder) (float64, error) {
		Advance(r, s.now())
		if s.skipReward {
			return CompleteReward, nil
		}
		return 0, nil
	})
}

// Snooze makes the reminder due again delta from now and costs the owner
// SnoozePenalty karma. Recurrence is not consulted.
func (s *Service) Snooze(ctx context.Context, id int64, delta time.Duration) (*Reminder, error) {
	return s.transition(ctx, id, "snooze", func(r *Reminder) (float64, error) {
		r.NextFireAt = s.now().Add(delta)
		return -SnoozePenalty, nil
	})
}

// Stop ends the reminder. Stopping a stopped reminder is a no-op.
func (s *Service) Stop(ctx context.Context, id int64) (*Reminder, error) {
	r, err := s.store.Mutate(ctx, id, func(r *Reminder) (float64, error) {
		r.Status = StatusStopped
		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("stop reminder %d: %w", id, err)
	}
	return r, nil
}

// DispatchMiss postpones a reminder whose notification could not be
// delivered.
func (s *Service) DispatchMiss(ctx context.Context, id int64) (*Reminder, error) {
	return s.transition(ctx, id, "dispatch miss", func(r *Reminder) (float64, error) {
		r.NextFireAt = r.NextFireAt.Add(s.retryDelay)
		if now := s.now(); !r.NextFireAt.After(now) {
			r.NextFireAt = now.Add(s.retryDelay)
		}
		return 0, nil
	})
}

func (s *Service) transition(ctx context.Context, id int64, name string, fn MutateFunc) (*Reminder, error) {
	r, err := s.store.Mutate(ctx, id, func(r *Reminder) (float64, error) {
		if !r.Active() {
			return 0, ErrStopped
		}
		return fn(r)
	})
	if err != nil {
		return nil, fmt.Errorf("%s reminder %d: %w", name, id, err)
	}
	return r, nil
}
