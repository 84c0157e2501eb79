package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/stellarlinkco/remindclaw/internal/bus"
	"github.com/stellarlinkco/remindclaw/internal/channel"
)

// MessageStore holds handles of messages the bot sent.
type MessageStore interface {
	ExpiredMessages(ctx context.Context, before time.Time) ([]bus.MessageHandle, error)
	ForgetMessage(ctx context.Context, h bus.MessageHandle) error
}

// Cleaner deletes bot messages older than MaxAge from their chats.
type Cleaner struct {
	store     MessageStore
	messenger channel.Messenger
	maxAge    time.Duration
	metrics   *Metrics
	now       func() time.Time
}

func NewCleaner(store MessageStore, m channel.Messenger, maxAge time.Duration, metrics *Metrics) *Cleaner {
	return &Cleaner{
		store:     store,
		messenger: m,
		maxAge:    maxAge,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Run removes every expired message and returns how many were deleted.
// Messages the transport refuses to delete are forgotten anyway, since
// Telegram only lets bots delete recent messages.
func (c *Cleaner) Run(ctx context.Context) (int, error) {
	expired, err := c.store.ExpiredMessages(ctx, c.now().Add(-c.maxAge))
	if err != nil {
		return 0, fmt.Errorf("list expired messages: %w", err)
	}

	removed := 0
	for _, h := range expired {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := c.messenger.Delete(ctx, h); err != nil {
			log.Printf("[cleanup] delete message %d in chat %d: %v", h.MessageID, h.ChatID, err)
		} else {
			removed++
		}
		if err := c.store.ForgetMessage(ctx, h); err != nil {
			return removed, fmt.Errorf("forget message %d: %w", h.MessageID, err)
		}
	}
	c.metrics.recordCleaned(removed)
	if len(expired) > 0 {
		log.Printf("[cleanup] removed %d of %d old messages", removed, len(expired))
	}
	return removed, nil
}
