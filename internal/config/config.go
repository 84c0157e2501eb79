package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultTickInterval    = 10 * time.Second
	DefaultRetryDelay      = time.Hour
	DefaultDraftCapacity   = 100000
	DefaultDraftTTL        = time.Hour
	DefaultCleanupSchedule = "0 0 * * * *"
	DefaultCleanupMaxAge   = 24 * time.Hour
	DefaultMetricsHost     = "127.0.0.1"
	DefaultMetricsPort     = 18791
	DefaultBufSize         = 100
	DefaultTimezone        = "Local"

	envPrefix = "REMINDCLAW"
)

type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram" json:"telegram"`
	Store     StoreConfig     `mapstructure:"store" json:"store"`
	Drafts    DraftsConfig    `mapstructure:"drafts" json:"drafts"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" json:"scheduler"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup" json:"cleanup"`
	Metrics   MetricsConfig   `mapstructure:"metrics" json:"metrics"`
	Timezone  string          `mapstructure:"timezone" json:"timezone"`
}

type TelegramConfig struct {
	Enabled   bool     `mapstructure:"enabled" json:"enabled"`
	Token     string   `mapstructure:"token" json:"token"`
	AllowFrom []string `mapstructure:"allowFrom" json:"allowFrom"`
	Proxy     string   `mapstructure:"proxy" json:"proxy,omitempty"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

type DraftsConfig struct {
	Capacity int           `mapstructure:"capacity" json:"capacity"`
	TTL      time.Duration `mapstructure:"ttl" json:"ttl"`
}

type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tickInterval" json:"tickInterval"`
	RetryDelay   time.Duration `mapstructure:"retryDelay" json:"retryDelay"`
	// SkipRewardsKarma makes "skip" count like "done" for karma.
	SkipRewardsKarma bool `mapstructure:"skipRewardsKarma" json:"skipRewardsKarma"`
}

type CleanupConfig struct {
	Enabled  bool          `mapstructure:"enabled" json:"enabled"`
	Schedule string        `mapstructure:"schedule" json:"schedule"`
	MaxAge   time.Duration `mapstructure:"maxAge" json:"maxAge"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Host    string `mapstructure:"host" json:"host"`
	Port    int    `mapstructure:"port" json:"port"`
}

func (m MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// Location resolves Timezone, falling back to the local zone.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" || name == DefaultTimezone {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".remindclaw")
}

func ConfigPath() string {
	if p := os.Getenv(envPrefix + "_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.json")
}

func defaults() map[string]any {
	return map[string]any{
		"telegram.enabled":           true,
		"telegram.token":             "",
		"telegram.allowFrom":         []string{},
		"telegram.proxy":             "",
		"store.path":                 filepath.Join(ConfigDir(), "data", "reminders.db"),
		"drafts.capacity":            DefaultDraftCapacity,
		"drafts.ttl":                 DefaultDraftTTL.String(),
		"scheduler.tickInterval":     DefaultTickInterval.String(),
		"scheduler.retryDelay":       DefaultRetryDelay.String(),
		"scheduler.skipRewardsKarma": false,
		"cleanup.enabled":            true,
		"cleanup.schedule":           DefaultCleanupSchedule,
		"cleanup.maxAge":             DefaultCleanupMaxAge.String(),
		"metrics.enabled":            false,
		"metrics.host":               DefaultMetricsHost,
		"metrics.port":               DefaultMetricsPort,
		"timezone":                   DefaultTimezone,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// TELEGRAM_TOKEN is accepted as a fallback.
	_ = v.BindEnv("telegram.token", envPrefix+"_TELEGRAM_TOKEN", "TELEGRAM_TOKEN")
	return v
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("decode defaults: %v", err))
	}
	return cfg
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

// LoadConfigFrom reads path (a missing file is not an error) and applies
// REMINDCLAW_* environment overrides.
func LoadConfigFrom(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(ConfigDir(), "data", "reminders.db")
	}
	if cfg.Drafts.Capacity <= 0 {
		cfg.Drafts.Capacity = DefaultDraftCapacity
	}
	if cfg.Drafts.TTL <= 0 {
		cfg.Drafts.TTL = DefaultDraftTTL
	}
	if cfg.Scheduler.RetryDelay <= 0 {
		cfg.Scheduler.RetryDelay = DefaultRetryDelay
	}
	if cfg.Cleanup.Schedule == "" {
		cfg.Cleanup.Schedule = DefaultCleanupSchedule
	}
	if cfg.Cleanup.MaxAge <= 0 {
		cfg.Cleanup.MaxAge = DefaultCleanupMaxAge
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tickInterval must be positive, got %s", c.Scheduler.TickInterval)
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d is out of range", c.Metrics.Port)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// SaveConfig writes cfg as JSON with durations in their string form.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	for key, value := range map[string]any{
		"telegram.enabled":           cfg.Telegram.Enabled,
		"telegram.token":             cfg.Telegram.Token,
		"telegram.allowFrom":         cfg.Telegram.AllowFrom,
		"telegram.proxy":             cfg.Telegram.Proxy,
		"store.path":                 cfg.Store.Path,
		"drafts.capacity":            cfg.Drafts.Capacity,
		"drafts.ttl":                 cfg.Drafts.TTL.String(),
		"scheduler.tickInterval":     cfg.Scheduler.TickInterval.String(),
		"scheduler.retryDelay":       cfg.Scheduler.RetryDelay.String(),
		"scheduler.skipRewardsKarma": cfg.Scheduler.SkipRewardsKarma,
		"cleanup.enabled":            cfg.Cleanup.Enabled,
		"cleanup.schedule":           cfg.Cleanup.Schedule,
		"cleanup.maxAge":             cfg.Cleanup.MaxAge.String(),
		"metrics.enabled":            cfg.Metrics.Enabled,
		"metrics.host":               cfg.Metrics.Host,
		"metrics.port":               cfg.Metrics.Port,
		"timezone":                   cfg.Timezone,
	} {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
