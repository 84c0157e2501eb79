package reminder

import (
	"time"

	"github.com/stellarlinkco/remindclaw/internal/period"
)

type Status int

const (
	StatusStopped Status = 0
	StatusActive  Status = 1
)

func (s Status) String() string {
	if s == StatusActive {
		return "active"
	}
	return "stopped"
}

// DefaultKarma is the score a principal starts with.
const DefaultKarma = 1.0

// Principal is a user inside one chat. Karma is a soft reputation signal.
type Principal struct {
	ID        int64
	ChatID    int64
	UserID    int64
	UserName  string
	FirstName string
	LastName  string
	Karma     float64
}

// Reminder is a persisted reminder.
//
// NextFireAt is when the reminder is due next. PlannedAt is the recurrence
// slot NextFireAt was derived from; snoozing and delivery backoff move
// NextFireAt only, so recurrence keeps its original rhythm.
type Reminder struct {
	ID          int64
	ChatID      int64
	OwnerID     int64
	Text        string
	CreatedAt   time.Time
	NextFireAt  time.Time
	PlannedAt   time.Time
	LastFiredAt *time.Time
	Recurrence  *period.Duration
	Status      Status
}

func (r *Reminder) Active() bool {
	return r.Status == StatusActive
}
