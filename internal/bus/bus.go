package bus

import (
	"context"
	"strconv"
)

type MessageBus struct {
	Inbound chan Event
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &MessageBus{
		Inbound: make(chan Event, bufSize),
	}
}

// Publish queues ev, giving up when ctx is done.
func (b *MessageBus) Publish(ctx context.Context, ev Event) bool {
	select {
	case b.Inbound <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
