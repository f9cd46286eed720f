// ABOUTME: Configuration loading and parsing for slack-bridge
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete slack-bridge configuration
type Config struct {
	API     APIConfig     `yaml:"api"`
	Stream  StreamConfig  `yaml:"stream"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig holds the web API endpoint and credential
type APIConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	RateLimitDelay time.Duration `yaml:"-"`
	MaxInFlight    int           `yaml:"max_in_flight"`

	// Raw string value for YAML unmarshaling
	RateLimitDelayRaw string `yaml:"ratelimit_delay"`
}

// StreamConfig holds realtime socket configuration
type StreamConfig struct {
	PingInterval time.Duration `yaml:"-"`

	PingIntervalRaw string `yaml:"ping_interval"`
}

// HistoryConfig holds history backfill configuration
type HistoryConfig struct {
	DisplayThreads         bool `yaml:"display_threads"`
	DisplayParentIndicator bool `yaml:"display_parent_indicator"`
	FetchThreadHistory     bool `yaml:"fetch_thread_history"`
	OpenOnDemand           bool `yaml:"open_on_demand"`
	FetchOnConnect         bool `yaml:"fetch_on_connect"`
	PageLimit              int  `yaml:"page_limit"`

	MarkDelay time.Duration `yaml:"-"`

	MarkDelayRaw string `yaml:"mark_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when a field is absent. The
// history toggles default on; hosts that want a leaner session turn
// them off explicitly.
func Default() *Config {
	return &Config{
		API: APIConfig{
			URL:            "https://slack.com/api",
			RateLimitDelay: 15 * time.Second,
			MaxInFlight:    1,
		},
		Stream: StreamConfig{
			PingInterval: 60 * time.Second,
		},
		History: HistoryConfig{
			DisplayThreads:         true,
			DisplayParentIndicator: true,
			FetchThreadHistory:     true,
			OpenOnDemand:           true,
			FetchOnConnect:         true,
			PageLimit:              200,
			MarkDelay:              5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML config bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.API.URL == "" {
		return fmt.Errorf("api.url is required")
	}
	if c.API.Token == "" {
		return fmt.Errorf("api.token is required")
	}
	if c.API.MaxInFlight < 1 {
		return fmt.Errorf("api.max_in_flight must be at least 1")
	}
	if c.History.PageLimit < 1 || c.History.PageLimit > 1000 {
		return fmt.Errorf("history.page_limit must be between 1 and 1000")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.API.RateLimitDelayRaw != "" {
		cfg.API.RateLimitDelay, err = time.ParseDuration(cfg.API.RateLimitDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing ratelimit_delay %q: %w", cfg.API.RateLimitDelayRaw, err)
		}
	}

	if cfg.Stream.PingIntervalRaw != "" {
		cfg.Stream.PingInterval, err = time.ParseDuration(cfg.Stream.PingIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing ping_interval %q: %w", cfg.Stream.PingIntervalRaw, err)
		}
	}

	if cfg.History.MarkDelayRaw != "" {
		cfg.History.MarkDelay, err = time.ParseDuration(cfg.History.MarkDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing mark_delay %q: %w", cfg.History.MarkDelayRaw, err)
		}
	}

	return nil
}
