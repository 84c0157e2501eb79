package bus

import "time"

type EventKind int

const (
	EventText EventKind = iota
	EventCommand
	EventButton
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventCommand:
		return "command"
	case EventButton:
		return "button"
	default:
		return "unknown"
	}
}

// Event is one inbound interaction from a chat.
type Event struct {
	Kind      EventKind
	Channel   string
	ChatID    int64
	SenderID  int64
	UserName  string
	FirstName string
	LastName  string
	// Text holds the message text, or the arguments of a command.
	Text string
	// Command is the command name without the leading slash.
	Command string
	// Token is the payload of a pressed button.
	Token string
	// Message is the message the event came from; for buttons, the message
	// carrying the keyboard.
	Message   MessageHandle
	Timestamp time.Time
}

// MessageHandle addresses a message that was already sent.
type MessageHandle struct {
	ChatID    int64
	MessageID int
}

func (h MessageHandle) IsZero() bool {
	return h.MessageID == 0
}

func (e *Event) SessionKey() string {
	return e.Channel + ":" + formatID(e.ChatID)
}
