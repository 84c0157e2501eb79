package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/remindclaw/internal/bus"
	"github.com/stellarlinkco/remindclaw/internal/channel"
	"github.com/stellarlinkco/remindclaw/internal/config"
	"github.com/stellarlinkco/remindclaw/internal/draft"
	"github.com/stellarlinkco/remindclaw/internal/menu"
	"github.com/stellarlinkco/remindclaw/internal/reminder"
	"github.com/stellarlinkco/remindclaw/internal/scheduler"
	"github.com/stellarlinkco/remindclaw/internal/store"
)

const (
	dispatchJob = "dispatch"
	cleanupJob  = "cleanup"

	shutdownTimeout = 5 * time.Second
)

// Options for creating a Gateway
type Options struct {
	BotFactory channel.BotFactory // for testing the telegram channel
	Messenger  channel.Messenger  // replaces the telegram messenger
	Registry   *prometheus.Registry
	SignalChan chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	store      *store.Store
	drafts     *draft.Registry
	lifecycle  *reminder.Service
	channels   *channel.ChannelManager
	messenger  channel.Messenger
	router     *menu.Router
	dispatcher *scheduler.Dispatcher
	cleaner    *scheduler.Cleaner
	cron       *scheduler.Service
	registry   *prometheus.Registry
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}
	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	g.store, err = store.Open(cfg.Store.Path, store.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("open reminder store: %w", err)
	}

	g.drafts = draft.NewRegistry(draft.Config{Capacity: cfg.Drafts.Capacity, TTL: cfg.Drafts.TTL})
	g.lifecycle = reminder.NewService(g.store,
		reminder.WithRetryDelay(cfg.Scheduler.RetryDelay),
		reminder.WithSkipReward(cfg.Scheduler.SkipRewardsKarma),
	)

	factory := opts.BotFactory
	if factory == nil {
		g.channels, err = channel.NewChannelManager(cfg.Telegram, g.bus)
	} else {
		g.channels, err = channel.NewChannelManagerWithFactory(cfg.Telegram, g.bus, factory)
	}
	if err != nil {
		g.store.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}

	transport := opts.Messenger
	if transport == nil {
		transport, err = g.channels.Messenger("telegram")
		if err != nil {
			g.store.Close()
			return nil, fmt.Errorf("outbound channel: %w", err)
		}
	}
	g.messenger = transport
	if cfg.Cleanup.Enabled {
		g.messenger = channel.NewTracker(transport, g.store)
	}

	g.registry = opts.Registry
	if g.registry == nil {
		g.registry = prometheus.NewRegistry()
		g.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	metrics := scheduler.NewMetrics(g.registry)

	g.router = menu.NewRouter(g.messenger, g.drafts, g.lifecycle, g.store, menu.WithLocation(loc))
	g.dispatcher = scheduler.NewDispatcher(g.store, g.lifecycle, g.messenger, scheduler.WithMetrics(metrics))
	g.cleaner = scheduler.NewCleaner(g.store, transport, cfg.Cleanup.MaxAge, metrics)

	g.cron = scheduler.NewService(loc)
	if err := g.cron.Every(dispatchJob, cfg.Scheduler.TickInterval, func(ctx context.Context) error {
		_, err := g.dispatcher.Tick(ctx)
		return err
	}); err != nil {
		g.store.Close()
		return nil, err
	}
	if cfg.Cleanup.Enabled {
		if err := g.cron.AddJob(cleanupJob, cfg.Cleanup.Schedule, func(ctx context.Context) error {
			_, err := g.cleaner.Run(ctx)
			return err
		}); err != nil {
			g.store.Close()
			return nil, err
		}
	}

	return g, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.channels.StartAll(ctx); err != nil {
		g.Shutdown()
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		g.processLoop(egCtx)
		return nil
	})
	if g.cfg.Metrics.Enabled {
		eg.Go(func() error {
			return g.serveMetrics(egCtx)
		})
	}

	log.Printf("[gateway] running, dispatch every %s", g.cfg.Scheduler.TickInterval)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-egCtx.Done():
	}

	log.Printf("[gateway] shutting down...")
	cancel()
	runErr := eg.Wait()
	if err := g.Shutdown(); err != nil {
		return err
	}
	return runErr
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case ev := <-g.bus.Inbound:
			log.Printf("[gateway] %s from %s/%d: %s", ev.Kind, ev.SessionKey(), ev.SenderID, truncate(eventText(ev), 80))
			if err := g.router.Handle(ctx, ev); err != nil {
				log.Printf("[gateway] handle %s in chat %d: %v", ev.Kind, ev.ChatID, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              g.cfg.Metrics.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[gateway] metrics on http://%s/metrics", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// TickOnce runs a single dispatch pass without receiving updates.
func (g *Gateway) TickOnce(ctx context.Context) (scheduler.TickResult, error) {
	if err := g.channels.ConnectAll(); err != nil {
		return scheduler.TickResult{}, fmt.Errorf("connect channels: %w", err)
	}
	return g.dispatcher.Tick(ctx)
}

// Store exposes the reminder store, for status reporting.
func (g *Gateway) Store() *store.Store {
	return g.store
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func eventText(ev bus.Event) string {
	switch ev.Kind {
	case bus.EventCommand:
		return "/" + ev.Command + " " + ev.Text
	case bus.EventButton:
		return ev.Token
	default:
		return ev.Text
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
