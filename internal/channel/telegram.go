package channel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/remindclaw/internal/bus"
	"github.com/stellarlinkco/remindclaw/internal/config"
)

const telegramChannelName = "telegram"

// Telegram rejects messages longer than 4096 characters.
const maxMessageLen = 4000

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

// defaultBotFactory creates real telegram bot
var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	proxy      string
	botFactory BotFactory

	mu     sync.RWMutex
	bot    TelegramBot
	cancel context.CancelFunc
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	ch := &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		botFactory:  factory,
	}
	return ch, nil
}

// Connect authorizes the bot without polling for updates. Start calls it
// implicitly; send-only callers use it directly.
func (t *TelegramChannel) Connect() error {
	t.mu.RLock()
	ready := t.bot != nil
	t.mu.RUnlock()
	if ready {
		return nil
	}
	return t.initBot()
}

func (t *TelegramChannel) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.SetBot(bot)
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.Connect(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	bot := t.bot
	t.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query"}
	updates := bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(ctx, update)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

func (t *TelegramChannel) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		t.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		t.handleMessage(ctx, update.Message)
	}
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	ev := t.newEvent(msg.From, msg.Chat.ID, msg.MessageID)
	ev.Timestamp = time.Unix(int64(msg.Date), 0)
	switch {
	case msg.IsCommand():
		ev.Kind = bus.EventCommand
		ev.Command = msg.Command()
		ev.Text = msg.CommandArguments()
	case strings.TrimSpace(msg.Text) != "":
		ev.Kind = bus.EventText
		ev.Text = msg.Text
	default:
		return
	}
	t.publish(ctx, ev)
}

func (t *TelegramChannel) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil {
		return
	}
	// Stop the client-side spinner whatever happens next.
	if bot := t.getBot(); bot != nil {
		if _, err := bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			log.Printf("[telegram] answer callback %s failed: %v", cq.ID, err)
		}
	}

	senderID := strconv.FormatInt(cq.From.ID, 10)
	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected button from %s (%s)", senderID, cq.From.UserName)
		return
	}
	// Inline-mode callbacks carry no chat message.
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}

	ev := t.newEvent(cq.From, cq.Message.Chat.ID, cq.Message.MessageID)
	ev.Kind = bus.EventButton
	ev.Token = cq.Data
	ev.Timestamp = time.Now()
	t.publish(ctx, ev)
}

func (t *TelegramChannel) newEvent(from *tgbotapi.User, chatID int64, messageID int) bus.Event {
	return bus.Event{
		Channel:   telegramChannelName,
		ChatID:    chatID,
		SenderID:  from.ID,
		UserName:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
		Message:   bus.MessageHandle{ChatID: chatID, MessageID: messageID},
	}
}

func (t *TelegramChannel) publish(ctx context.Context, ev bus.Event) {
	if !t.bus.Publish(ctx, ev) {
		log.Printf("[telegram] dropped %s event from chat %d: %v", ev.Kind, ev.ChatID, ctx.Err())
	}
}

func (t *TelegramChannel) Stop() error {
	t.mu.Lock()
	cancel, bot := t.cancel, t.bot
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if bot != nil {
		bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.mu.Lock()
	t.bot = bot
	t.mu.Unlock()
}

func (t *TelegramChannel) getBot() TelegramBot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bot
}

func (t *TelegramChannel) readyBot(ctx context.Context) (TelegramBot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bot := t.getBot()
	if bot == nil {
		return nil, fmt.Errorf("%w: telegram bot not initialized", ErrDeliveryFailed)
	}
	return bot, nil
}

// Send delivers text to chatID. Long texts are split at newlines; the
// keyboard is attached to the last part, whose handle is returned.
func (t *TelegramChannel) Send(ctx context.Context, chatID int64, text string, kb Keyboard) (bus.MessageHandle, error) {
	bot, err := t.readyBot(ctx)
	if err != nil {
		return bus.MessageHandle{}, err
	}

	chunks := splitMessage(text)
	var sent tgbotapi.Message
	for i, chunk := range chunks {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if i == len(chunks)-1 && len(kb) > 0 {
			msg.ReplyMarkup = inlineMarkup(kb)
		}
		sent, err = bot.Send(msg)
		if err != nil {
			return bus.MessageHandle{}, fmt.Errorf("%w: send telegram message: %w", ErrDeliveryFailed, err)
		}
	}
	return bus.MessageHandle{ChatID: chatID, MessageID: sent.MessageID}, nil
}

func (t *TelegramChannel) Edit(ctx context.Context, h bus.MessageHandle, text string, kb Keyboard) error {
	bot, err := t.readyBot(ctx)
	if err != nil {
		return err
	}

	var edit tgbotapi.Chattable
	if len(kb) > 0 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(h.ChatID, h.MessageID, text, inlineMarkup(kb))
	} else {
		edit = tgbotapi.NewEditMessageText(h.ChatID, h.MessageID, text)
	}
	if _, err := bot.Request(edit); err != nil {
		return fmt.Errorf("%w: edit telegram message %d: %w", ErrDeliveryFailed, h.MessageID, err)
	}
	return nil
}

func (t *TelegramChannel) ClearKeyboard(ctx context.Context, h bus.MessageHandle) error {
	bot, err := t.readyBot(ctx)
	if err != nil {
		return err
	}

	empty := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	if _, err := bot.Request(tgbotapi.NewEditMessageReplyMarkup(h.ChatID, h.MessageID, empty)); err != nil {
		return fmt.Errorf("%w: clear keyboard of message %d: %w", ErrDeliveryFailed, h.MessageID, err)
	}
	return nil
}

func (t *TelegramChannel) Delete(ctx context.Context, h bus.MessageHandle) error {
	bot, err := t.readyBot(ctx)
	if err != nil {
		return err
	}
	if _, err := bot.Request(tgbotapi.NewDeleteMessage(h.ChatID, h.MessageID)); err != nil {
		return fmt.Errorf("%w: delete telegram message %d: %w", ErrDeliveryFailed, h.MessageID, err)
	}
	return nil
}

func inlineMarkup(kb Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Token))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func splitMessage(text string) []string {
	if len(text) <= maxMessageLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxMessageLen {
			// Try to split at last newline before maxMessageLen
			if idx := strings.LastIndex(chunk[:maxMessageLen], "\n"); idx > 0 {
				chunk = chunk[:idx]
			} else {
				cut := maxMessageLen
				for cut > 0 && !utf8.RuneStart(chunk[cut]) {
					cut--
				}
				if cut == 0 {
					cut = maxMessageLen
				}
				chunk = chunk[:cut]
			}
		}
		text = text[len(chunk):]
		chunks = append(chunks, chunk)
	}
	return chunks
}
