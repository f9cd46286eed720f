// ABOUTME: Entry point for the slack-bridge console client
// ABOUTME: Loads config, builds the API client and session, runs until signal

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/slack-bridge/internal/api"
	"github.com/2389/slack-bridge/internal/config"
	"github.com/2389/slack-bridge/internal/history"
	"github.com/2389/slack-bridge/internal/session"
)

const banner = `
    ╭────────────────────────────────╮
    │                                │
    │   ┏━┓╻  ┏━┓┏━╸╻┏              │
    │   ┗━┓┃  ┣━┫┃  ┣┻┓             │
    │   ┗━┛┗━╸╹ ╹┗━╸╹ ╹ bridge      │
    │                                │
    ╰────────────────────────────────╯
`

// reconnectDelay is the pause between reconnect attempts after a
// stream loss that was not a credential problem.
const reconnectDelay = 5 * time.Second

// getConfigPath returns the path to the bridge config file.
// Priority: SLACK_BRIDGE_CONFIG env var > XDG_CONFIG_HOME/slack-bridge/config.yaml > ~/.config/slack-bridge/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SLACK_BRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "slack-bridge", "config.yaml")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Print startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Endpoint: %s\n", cfg.API.URL)
	fmt.Println()

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for {
		err := runSession(ctx, cfg, logger)
		if ctx.Err() != nil {
			return nil // signal-driven exit
		}
		if err == nil {
			return nil
		}
		if api.AuthFailure(err) {
			return fmt.Errorf("credential rejected: %w", err)
		}
		logger.Warn("session ended, reconnecting", "error", err, "delay", reconnectDelay)
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

// runSession runs one login-to-disconnect lifecycle and returns the
// reason the session ended.
func runSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client := api.NewClient(api.Options{
		BaseURL:        cfg.API.URL,
		Token:          cfg.API.Token,
		Logger:         logger,
		RateLimitDelay: cfg.API.RateLimitDelay,
		MaxInFlight:    cfg.API.MaxInFlight,
	})

	sink := newConsoleSink(cfg.History.DisplayParentIndicator)

	sess := session.New(session.Config{
		PingInterval:   cfg.Stream.PingInterval,
		MarkDelay:      cfg.History.MarkDelay,
		FetchOnConnect: cfg.History.FetchOnConnect,
		History: history.Config{
			DisplayThreads:     cfg.History.DisplayThreads,
			FetchThreadHistory: cfg.History.FetchThreadHistory,
			OpenOnDemand:       cfg.History.OpenOnDemand,
			PageLimit:          cfg.History.PageLimit,
		},
	}, client, sink, nil, logger)
	sink.attach(sess)

	sess.Start(ctx)

	select {
	case err := <-sink.done:
		return err
	case <-ctx.Done():
		sess.Stop()
		<-sink.done
		return nil
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var logLevel slog.Level
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
