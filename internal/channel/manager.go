package channel

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/stellarlinkco/remindclaw/internal/bus"
	"github.com/stellarlinkco/remindclaw/internal/config"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
}

func NewChannelManager(cfg config.TelegramConfig, b *bus.MessageBus) (*ChannelManager, error) {
	return NewChannelManagerWithFactory(cfg, b, defaultBotFactory)
}

// NewChannelManagerWithFactory builds the telegram channel with factory (for testing)
func NewChannelManagerWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
	}

	if cfg.Enabled {
		ch, err := NewTelegramChannelWithFactory(cfg, b, factory)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.Register(ch)
	}

	return m, nil
}

func (m *ChannelManager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
}

func (m *ChannelManager) Get(name string) (Channel, bool) {
	ch, ok := m.channels[name]
	return ch, ok
}

// Messenger returns the outbound side of the named channel, if it has one.
func (m *ChannelManager) Messenger(name string) (Messenger, error) {
	ch, ok := m.channels[name]
	if !ok {
		return nil, fmt.Errorf("channel %q is not enabled", name)
	}
	msgr, ok := ch.(Messenger)
	if !ok {
		return nil, fmt.Errorf("channel %q cannot send messages", name)
	}
	return msgr, nil
}

type connector interface {
	Connect() error
}

// ConnectAll prepares every channel for sending without receiving updates.
func (m *ChannelManager) ConnectAll() error {
	for name, ch := range m.channels {
		c, ok := ch.(connector)
		if !ok {
			continue
		}
		if err := c.Connect(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			log.Printf("[channel-mgr] starting %s", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		log.Printf("[channel-mgr] stopping %s", name)
		if err := ch.Stop(); err != nil {
			log.Printf("[channel-mgr] error stopping %s: %v", name, err)
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
