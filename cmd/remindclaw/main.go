package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/remindclaw/internal/config"
	"github.com/stellarlinkco/remindclaw/internal/gateway"
	"github.com/stellarlinkco/remindclaw/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "remindclaw",
	Short: "remindclaw - reminders in your Telegram chats",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the bot (telegram + dispatcher + cleanup)",
	RunE:  runGateway,
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Deliver due reminders once and exit",
	RunE:  runTick,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show remindclaw status",
	RunE:  runStatus,
}

var configFlag string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (default ~/.remindclaw/config.json)")
	rootCmd.AddCommand(gatewayCmd, tickCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configPath() string {
	if configFlag != "" {
		return configFlag
	}
	return config.ConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigFrom(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func requireToken(cfg *config.Config) error {
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token not set. Run 'remindclaw onboard' and edit %s, or set TELEGRAM_TOKEN", configPath())
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requireToken(cfg); err != nil {
		return err
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requireToken(cfg); err != nil {
		return err
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer gw.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := gw.TickOnce(ctx)
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Due: %d, sent: %d, failed: %d\n", res.Due, res.Sent, res.Failed)
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := configPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig(), cfgPath); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set telegram.token\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set TELEGRAM_TOKEN environment variable")
	fmt.Fprintln(out, "  3. Run 'remindclaw gateway' and send /start to your bot")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", configPath())
	fmt.Fprintf(out, "Telegram: enabled=%v token=%s\n", cfg.Telegram.Enabled, maskToken(cfg.Telegram.Token))
	fmt.Fprintf(out, "Timezone: %s\n", cfg.Timezone)
	fmt.Fprintf(out, "Dispatch: every %s, retry after %s\n", cfg.Scheduler.TickInterval, cfg.Scheduler.RetryDelay)
	if cfg.Cleanup.Enabled {
		fmt.Fprintf(out, "Cleanup: %q, max age %s\n", cfg.Cleanup.Schedule, cfg.Cleanup.MaxAge)
	} else {
		fmt.Fprintln(out, "Cleanup: disabled")
	}
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "Metrics: http://%s/metrics\n", cfg.Metrics.Addr())
	}

	if _, err := os.Stat(cfg.Store.Path); err != nil {
		fmt.Fprintf(out, "Store: not found at %s (run 'remindclaw gateway')\n", cfg.Store.Path)
		return nil
	}

	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(out, "Store: error (%v)\n", err)
		return nil
	}
	defer s.Close()

	version, err := s.SchemaVersion()
	if err != nil {
		fmt.Fprintf(out, "Store: error (%v)\n", err)
		return nil
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := s.Stats(ctx)
	if err != nil {
		fmt.Fprintf(out, "Store: error (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Store: %s (schema v%d)\n", cfg.Store.Path, version)
	fmt.Fprintf(out, "Reminders: %d active, %d stopped\n", st.ActiveReminders, st.StoppedReminders)
	fmt.Fprintf(out, "Principals: %d\n", st.Principals)
	fmt.Fprintf(out, "Tracked messages: %d\n", st.TrackedMessages)

	return nil
}

func maskToken(token string) string {
	switch {
	case token == "":
		return "not set"
	case len(token) > 8:
		return token[:4] + "..." + token[len(token)-4:]
	default:
		return "set"
	}
}
