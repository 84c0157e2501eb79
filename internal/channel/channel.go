package channel

import (
	"context"
	"errors"

	"github.com/stellarlinkco/remindclaw/internal/bus"
)

// ErrDeliveryFailed wraps every transport failure of an outbound call.
var ErrDeliveryFailed = errors.New("delivery failed")

// Channel is an inbound transport that feeds the message bus.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// Messenger sends and manages outbound chat messages.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, kb Keyboard) (bus.MessageHandle, error)
	// Edit replaces the text and keyboard of h. A nil keyboard removes it.
	Edit(ctx context.Context, h bus.MessageHandle, text string, kb Keyboard) error
	// ClearKeyboard removes the buttons from h and keeps its text.
	ClearKeyboard(ctx context.Context, h bus.MessageHandle) error
	Delete(ctx context.Context, h bus.MessageHandle) error
}

type Button struct {
	Text  string
	Token string
}

// Keyboard is a grid of buttons, one slice per row.
type Keyboard [][]Button

func Row(buttons ...Button) []Button {
	return buttons
}

type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allowed := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allowed[id] = true
	}
	return BaseChannel{name: name, bus: b, allowFrom: allowed}
}

func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed reports whether senderID may talk to the bot. An empty allow
// list admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	return c.allowFrom[senderID]
}
