package channel

import (
	"context"
	"log"
	"time"

	"github.com/stellarlinkco/remindclaw/internal/bus"
)

// MessageLog records sent messages for later cleanup.
type MessageLog interface {
	TrackMessage(ctx context.Context, h bus.MessageHandle, sentAt time.Time) error
}

// Tracker is a Messenger that logs every successfully sent message.
type Tracker struct {
	Messenger
	log MessageLog
	now func() time.Time
}

func NewTracker(m Messenger, l MessageLog) *Tracker {
	return &Tracker{Messenger: m, log: l, now: time.Now}
}

func (t *Tracker) Send(ctx context.Context, chatID int64, text string, kb Keyboard) (bus.MessageHandle, error) {
	h, err := t.Messenger.Send(ctx, chatID, text, kb)
	if err != nil {
		return h, err
	}
	if h.IsZero() {
		return h, nil
	}
	// A lost record only means the message outlives cleanup.
	if err := t.log.TrackMessage(ctx, h, t.now()); err != nil {
		log.Printf("[tracker] track message %d in chat %d failed: %v", h.MessageID, h.ChatID, err)
	}
	return h, nil
}
