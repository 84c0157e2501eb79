// Package menu turns chat events into draft edits and reminder transitions.
//
// Every button token and command maps to exactly one handler in an explicit
// table. Recoverable errors become replies; only delivery failures are
// returned to the caller.
package menu

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stellarlinkco/remindclaw/internal/bus"
	"github.com/stellarlinkco/remindclaw/internal/channel"
	"github.com/stellarlinkco/remindclaw/internal/draft"
	"github.com/stellarlinkco/remindclaw/internal/period"
	"github.com/stellarlinkco/remindclaw/internal/reminder"
)

const (
	displayLayout = "02.01.2006 15:04:05"

	namePrompt     = "Enter Name:"
	cancelReply    = "ฅ^•ﻌ•^ฅ"
	lostReply      = "Reminder lost. Create new reminder here: /menu"
	savedReply     = "Saved successfully."
	inProcessReply = "You are already creating a reminder, finish or cancel it first."
)

// Lifecycle is the reminder state machine the router drives.
type Lifecycle interface {
	Create(ctx context.Context, r *reminder.Reminder) (*reminder.Reminder, error)
	Get(ctx context.Context, id int64) (*reminder.Reminder, error)
	Complete(ctx context.Context, id int64) (*reminder.Reminder, error)
	Skip(ctx context.Context, id int64) (*reminder.Reminder, error)
	Snooze(ctx context.Context, id int64, delta time.Duration) (*reminder.Reminder, error)
	Stop(ctx context.Context, id int64) (*reminder.Reminder, error)
}

// Directory looks up chat members and their reminders.
type Directory interface {
	EnsurePrincipal(ctx context.Context, p reminder.Principal) (*reminder.Principal, error)
	ActiveReminders(ctx context.Context, chatID int64) ([]*reminder.Reminder, error)
}

type (
	commandHandler func(ctx context.Context, ev bus.Event) error
	buttonHandler  func(ctx context.Context, ev bus.Event) error
)

type Router struct {
	messenger channel.Messenger
	drafts    *draft.Registry
	lifecycle Lifecycle
	directory Directory
	now       func() time.Time
	loc       *time.Location

	commands map[string]commandHandler
	buttons  map[string]buttonHandler
}

type Option func(*Router)

func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLocation sets the zone dates picked in the calendar are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(r *Router) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func NewRouter(m channel.Messenger, drafts *draft.Registry, lc Lifecycle, dir Directory, opts ...Option) *Router {
	r := &Router{
		messenger: m,
		drafts:    drafts,
		lifecycle: lc,
		directory: dir,
		now:       time.Now,
		loc:       time.Local,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.commands = map[string]commandHandler{
		"start":  r.handleStart,
		"menu":   r.showMainMenu,
		"add":    r.StartDraft,
		"list":   r.handleList,
		"cancel": r.handleCancelCommand,
	}
	r.buttons = map[string]buttonHandler{
		TokenMainMenu:    r.editMainMenu,
		TokenAddReminder: r.StartDraft,
		TokenAddName:     r.awaitField(draft.FieldName, namePrompt),
		TokenAddDate:     r.handleDateMenu,
		TokenAddTime:     r.awaitField(draft.FieldTime, period.TimeHelp),
		TokenAddPeriod:   r.awaitField(draft.FieldPeriod, period.PeriodHelp),
		TokenSave:        r.handleSave,
		TokenCancel:      r.handleCancelButton,
	}
	return r
}

func (r *Router) clock() time.Time {
	return r.now().In(r.loc)
}

// Handle dispatches ev by kind.
func (r *Router) Handle(ctx context.Context, ev bus.Event) error {
	switch ev.Kind {
	case bus.EventCommand:
		return r.HandleCommand(ctx, ev)
	case bus.EventButton:
		return r.HandleButton(ctx, ev)
	case bus.EventText:
		return r.HandleText(ctx, ev)
	default:
		return fmt.Errorf("unsupported event kind %s", ev.Kind)
	}
}

func (r *Router) HandleCommand(ctx context.Context, ev bus.Event) error {
	h, ok := r.commands[strings.ToLower(ev.Command)]
	if !ok {
		return r.reply(ctx, ev.ChatID, unsupported("/"+ev.Command), nil)
	}
	return h(ctx, ev)
}

func (r *Router) HandleButton(ctx context.Context, ev bus.Event) error {
	if h, ok := r.buttons[ev.Token]; ok {
		return h(ctx, ev)
	}
	if id, action, ok := ParseActionToken(ev.Token); ok {
		return r.handleAction(ctx, ev, id, action)
	}
	if c, ok := parseCalendarToken(ev.Token); ok {
		return r.handleCalendar(ctx, ev, c)
	}
	log.Printf("[menu] unknown button token %q in chat %d", ev.Token, ev.ChatID)
	return r.resolve(ctx, ev, unsupported(ev.Token), nil)
}

// HandleText fills the field the chat's draft is waiting for.
func (r *Router) HandleText(ctx context.Context, ev bus.Event) error {
	d, err := r.drafts.Update(ev.ChatID, func(d *draft.Draft) error {
		return d.Fill(ev.Text, r.clock())
	})
	switch {
	case err == nil:
		return r.sendAddMenu(ctx, ev.ChatID, d, "")
	case errors.Is(err, period.ErrMalformedPeriod):
		return r.reply(ctx, ev.ChatID, period.PeriodHelp, nil)
	case errors.Is(err, period.ErrMalformedTime):
		return r.reply(ctx, ev.ChatID, period.TimeHelp, nil)
	case errors.Is(err, draft.ErrEmptyName):
		return r.reply(ctx, ev.ChatID, namePrompt, nil)
	case errors.Is(err, draft.ErrNothingToDo), errors.Is(err, draft.ErrDraftNotFound):
		return r.reply(ctx, ev.ChatID, unsupported(ev.Text), nil)
	default:
		return err
	}
}

// StartDraft opens the add-reminder wizard. A chat with a draft in progress
// keeps it and is shown its current state.
func (r *Router) StartDraft(ctx context.Context, ev bus.Event) error {
	d, err := r.drafts.Create(ev.ChatID)
	notice := ""
	if errors.Is(err, draft.ErrAlreadyInProcess) {
		current, ok := r.drafts.Current(ev.ChatID)
		if !ok {
			// Expired between the two calls.
			if d, err = r.drafts.Create(ev.ChatID); err != nil {
				return r.reply(ctx, ev.ChatID, inProcessReply, nil)
			}
		} else {
			d, err = current, nil
			notice = inProcessReply
		}
	}
	if err != nil {
		return err
	}

	if ev.Kind == bus.EventButton && !ev.Message.IsZero() {
		return r.editAddMenu(ctx, ev.Message, d, notice)
	}
	return r.sendAddMenu(ctx, ev.ChatID, d, notice)
}

func (r *Router) handleStart(ctx context.Context, ev bus.Event) error {
	if _, err := r.directory.EnsurePrincipal(ctx, principalOf(ev)); err != nil {
		log.Printf("[menu] register user %d in chat %d: %v", ev.SenderID, ev.ChatID, err)
	}
	return r.showMainMenu(ctx, ev)
}

func (r *Router) showMainMenu(ctx context.Context, ev bus.Event) error {
	return r.reply(ctx, ev.ChatID, mainMenuTitle, mainMenuKeyboard())
}

func (r *Router) editMainMenu(ctx context.Context, ev bus.Event) error {
	return r.messenger.Edit(ctx, ev.Message, mainMenuTitle, mainMenuKeyboard())
}

func (r *Router) handleList(ctx context.Context, ev bus.Event) error {
	p, err := r.directory.EnsurePrincipal(ctx, principalOf(ev))
	if err != nil {
		return fmt.Errorf("load principal: %w", err)
	}
	active, err := r.directory.ActiveReminders(ctx, ev.ChatID)
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}

	var sb strings.Builder
	if len(active) == 0 {
		sb.WriteString("No active reminders.\n")
	} else {
		sb.WriteString("Active reminders:\n")
		for _, rem := range active {
			fmt.Fprintf(&sb, "%d. %s, next remind in %s", rem.ID, rem.Text, rem.NextFireAt.In(r.loc).Format(displayLayout))
			if rem.Recurrence != nil {
				fmt.Fprintf(&sb, ", every %s", rem.Recurrence)
			}
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(&sb, "Karma: %.2f", p.Karma)
	return r.reply(ctx, ev.ChatID, sb.String(), nil)
}

func (r *Router) handleCancelCommand(ctx context.Context, ev bus.Event) error {
	if _, ok := r.drafts.Pop(ev.ChatID); !ok {
		return r.reply(ctx, ev.ChatID, "Nothing to cancel.", nil)
	}
	return r.reply(ctx, ev.ChatID, cancelReply, nil)
}

func (r *Router) handleCancelButton(ctx context.Context, ev bus.Event) error {
	r.drafts.Pop(ev.ChatID)
	return r.resolve(ctx, ev, cancelReply, nil)
}

// awaitField builds a handler that points the draft at f and prompts for it.
func (r *Router) awaitField(f draft.Field, prompt string) buttonHandler {
	return func(ctx context.Context, ev bus.Event) error {
		_, err := r.drafts.Update(ev.ChatID, func(d *draft.Draft) error {
			d.Await(f)
			return nil
		})
		if errors.Is(err, draft.ErrDraftNotFound) {
			return r.resolve(ctx, ev, lostReply, nil)
		}
		if err != nil {
			return err
		}
		return r.resolve(ctx, ev, prompt, nil)
	}
}

func (r *Router) handleDateMenu(ctx context.Context, ev bus.Event) error {
	d, err := r.drafts.Update(ev.ChatID, func(d *draft.Draft) error {
		d.Await(draft.FieldDate)
		return nil
	})
	if errors.Is(err, draft.ErrDraftNotFound) {
		return r.resolve(ctx, ev, lostReply, nil)
	}
	if err != nil {
		return err
	}

	now := r.clock()
	shown := now
	if d.FirstFireAt != nil {
		shown = d.FirstFireAt.In(r.loc)
	}
	return r.messenger.Edit(ctx, ev.Message, calendarText(now), calendarKeyboard(shown.Year(), shown.Month()))
}

func (r *Router) handleCalendar(ctx context.Context, ev bus.Event, c calendarToken) error {
	switch c.cmd {
	case calPrevMonth, calNextMonth:
		delta := 1
		if c.cmd == calPrevMonth {
			delta = -1
		}
		year, month := shiftMonth(c.year, c.month, delta)
		return r.messenger.Edit(ctx, ev.Message, calendarText(r.clock()), calendarKeyboard(year, month))
	case calDay:
		date, ok := pickedDate(c, r.loc)
		if !ok {
			log.Printf("[menu] invalid calendar day %q in chat %d", c, ev.ChatID)
			return nil
		}
		d, err := r.drafts.Update(ev.ChatID, func(d *draft.Draft) error {
			d.SetDate(date)
			return nil
		})
		if errors.Is(err, draft.ErrDraftNotFound) {
			return r.resolve(ctx, ev, lostReply, nil)
		}
		if err != nil {
			return err
		}
		return r.editAddMenu(ctx, ev.Message, d, "")
	default:
		return nil
	}
}

// handleSave takes the draft out of the registry before persisting it, so a
// repeated Save finds nothing to store. A failed save puts the draft back.
func (r *Router) handleSave(ctx context.Context, ev bus.Event) error {
	d, err := r.drafts.PopIf(ev.ChatID, draft.Draft.Validate)
	switch {
	case errors.Is(err, draft.ErrDraftNotFound):
		return r.resolve(ctx, ev, lostReply, nil)
	case errors.Is(err, draft.ErrIncomplete):
		msg := fmt.Sprintf("Fulfill the '%s', it is required.", d.MissingField())
		if err := r.resolve(ctx, ev, msg, nil); err != nil {
			return err
		}
		d, err = r.drafts.Update(ev.ChatID, func(d *draft.Draft) error {
			d.Await(draft.FieldNone)
			return nil
		})
		if err != nil {
			return r.reply(ctx, ev.ChatID, lostReply, nil)
		}
		return r.sendAddMenu(ctx, ev.ChatID, d, "")
	case err != nil:
		return err
	}

	if err := r.persist(ctx, ev, d); err != nil {
		if !r.drafts.Restore(d) {
			log.Printf("[menu] draft of chat %d not restored after failed save", ev.ChatID)
		}
		return err
	}
	return r.resolve(ctx, ev, savedReply, nil)
}

func (r *Router) persist(ctx context.Context, ev bus.Event, d draft.Draft) error {
	owner, err := r.directory.EnsurePrincipal(ctx, principalOf(ev))
	if err != nil {
		return fmt.Errorf("register owner: %w", err)
	}
	rem, err := reminder.FromDraft(d, owner.ID)
	if err != nil {
		return err
	}
	if _, err := r.lifecycle.Create(ctx, rem); err != nil {
		return fmt.Errorf("save reminder: %w", err)
	}
	return nil
}

func (r *Router) handleAction(ctx context.Context, ev bus.Event, id int64, action Action) error {
	// Tokens are only honoured in the chat that owns the reminder.
	rem, err := r.lifecycle.Get(ctx, id)
	if errors.Is(err, reminder.ErrNotFound) || (err == nil && rem.ChatID != ev.ChatID) {
		return r.resolve(ctx, ev, "Reminder not found.", nil)
	}
	if err != nil {
		return err
	}

	var text string
	switch action {
	case ActionDone:
		rem, err = r.lifecycle.Complete(ctx, id)
		text = "Reminder marked as Done."
	case ActionSkip:
		rem, err = r.lifecycle.Skip(ctx, id)
		text = "Reminder marked as Skip."
	case ActionRemove:
		rem, err = r.lifecycle.Stop(ctx, id)
	default:
		delay, ok := action.SnoozeDelay()
		if !ok {
			return fmt.Errorf("unknown reminder action %q", action)
		}
		rem, err = r.lifecycle.Snooze(ctx, id, delay)
		text = "Reminder marked as Snooze."
	}
	if errors.Is(err, reminder.ErrStopped) {
		return r.resolve(ctx, ev, "Reminder already ended.", nil)
	}
	if err != nil {
		return err
	}

	if rem.Active() {
		text += "\nReminder is active, next remind in " + rem.NextFireAt.In(r.loc).Format(displayLayout)
	} else {
		text += "\nReminder ended."
	}
	return r.resolve(ctx, ev, strings.TrimSpace(text), nil)
}

func (r *Router) addMenuText(d draft.Draft, notice string) string {
	text := addMenuTitle + "\n" + d.String()
	if notice != "" {
		text = notice + "\n\n" + text
	}
	return text
}

func (r *Router) sendAddMenu(ctx context.Context, chatID int64, d draft.Draft, notice string) error {
	return r.reply(ctx, chatID, r.addMenuText(d, notice), addMenuKeyboard())
}

func (r *Router) editAddMenu(ctx context.Context, h bus.MessageHandle, d draft.Draft, notice string) error {
	return r.messenger.Edit(ctx, h, r.addMenuText(d, notice), addMenuKeyboard())
}

func (r *Router) reply(ctx context.Context, chatID int64, text string, kb channel.Keyboard) error {
	_, err := r.messenger.Send(ctx, chatID, text, kb)
	return err
}

// resolve retires the keyboard of the pressed message and answers with a
// fresh message.
func (r *Router) resolve(ctx context.Context, ev bus.Event, text string, kb channel.Keyboard) error {
	if !ev.Message.IsZero() {
		if err := r.messenger.ClearKeyboard(ctx, ev.Message); err != nil {
			log.Printf("[menu] clear keyboard in chat %d: %v", ev.ChatID, err)
		}
	}
	return r.reply(ctx, ev.ChatID, text, kb)
}

func unsupported(text string) string {
	return fmt.Sprintf("Unsupported command '%s' try again.", text)
}

func principalOf(ev bus.Event) reminder.Principal {
	return reminder.Principal{
		ChatID:    ev.ChatID,
		UserID:    ev.SenderID,
		UserName:  ev.UserName,
		FirstName: ev.FirstName,
		LastName:  ev.LastName,
		Karma:     reminder.DefaultKarma,
	}
}
