// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
api:
  url: "https://slack.example.com/api"
  token: "xoxp-test"
  ratelimit_delay: "15s"
  max_in_flight: 1

stream:
  ping_interval: "60s"

history:
  display_threads: true
  display_parent_indicator: false
  fetch_thread_history: true
  open_on_demand: false
  fetch_on_connect: true
  page_limit: 100
  mark_delay: "5s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.URL != "https://slack.example.com/api" {
		t.Errorf("API.URL = %q, want %q", cfg.API.URL, "https://slack.example.com/api")
	}
	if cfg.API.Token != "xoxp-test" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "xoxp-test")
	}
	if cfg.API.RateLimitDelay != 15*time.Second {
		t.Errorf("API.RateLimitDelay = %v, want %v", cfg.API.RateLimitDelay, 15*time.Second)
	}
	if cfg.Stream.PingInterval != 60*time.Second {
		t.Errorf("Stream.PingInterval = %v, want %v", cfg.Stream.PingInterval, 60*time.Second)
	}

	if !cfg.History.DisplayThreads {
		t.Error("History.DisplayThreads = false, want true")
	}
	if cfg.History.DisplayParentIndicator {
		t.Error("History.DisplayParentIndicator = true, want false")
	}
	if cfg.History.OpenOnDemand {
		t.Error("History.OpenOnDemand = true, want false")
	}
	if cfg.History.PageLimit != 100 {
		t.Errorf("History.PageLimit = %d, want 100", cfg.History.PageLimit)
	}
	if cfg.History.MarkDelay != 5*time.Second {
		t.Errorf("History.MarkDelay = %v, want %v", cfg.History.MarkDelay, 5*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_DefaultsFillAbsentFields(t *testing.T) {
	configPath := writeConfig(t, `
api:
  token: "xoxp-test"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.URL != "https://slack.com/api" {
		t.Errorf("API.URL = %q, want default endpoint", cfg.API.URL)
	}
	if cfg.API.RateLimitDelay != 15*time.Second {
		t.Errorf("API.RateLimitDelay = %v, want 15s default", cfg.API.RateLimitDelay)
	}
	if cfg.API.MaxInFlight != 1 {
		t.Errorf("API.MaxInFlight = %d, want 1", cfg.API.MaxInFlight)
	}
	if cfg.Stream.PingInterval != 60*time.Second {
		t.Errorf("Stream.PingInterval = %v, want 60s default", cfg.Stream.PingInterval)
	}
	if !cfg.History.DisplayThreads || !cfg.History.FetchThreadHistory {
		t.Error("thread history defaults should be enabled")
	}
	if cfg.History.MarkDelay != 5*time.Second {
		t.Errorf("History.MarkDelay = %v, want 5s default", cfg.History.MarkDelay)
	}
	if cfg.History.PageLimit != 200 {
		t.Errorf("History.PageLimit = %d, want 200", cfg.History.PageLimit)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_BRIDGE_TOKEN", "xoxp-from-env")

	configPath := writeConfig(t, `
api:
  token: "${TEST_BRIDGE_TOKEN}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.Token != "xoxp-from-env" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "xoxp-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configPath := writeConfig(t, `
api:
  token: "${UNSET_VAR_FOR_TEST}"
`)

	// Unset env vars expand to empty, which then fails validation.
	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "api.token is required") {
		t.Errorf("Load() error = %v, want api.token validation failure", err)
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	configPath := writeConfig(t, `
api:
  token: "xoxp-test"
  ratelimit_delay: "1m30s"
stream:
  ping_interval: "2m"
history:
  mark_delay: "500ms"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := 1*time.Minute + 30*time.Second; cfg.API.RateLimitDelay != want {
		t.Errorf("API.RateLimitDelay = %v, want %v", cfg.API.RateLimitDelay, want)
	}
	if cfg.Stream.PingInterval != 2*time.Minute {
		t.Errorf("Stream.PingInterval = %v, want %v", cfg.Stream.PingInterval, 2*time.Minute)
	}
	if cfg.History.MarkDelay != 500*time.Millisecond {
		t.Errorf("History.MarkDelay = %v, want %v", cfg.History.MarkDelay, 500*time.Millisecond)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
api:
  url: "https://slack.com/api"
  token "missing colon"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
api:
  token: "xoxp-test"
  ratelimit_delay: "invalid-duration"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing token",
			configContent: `
api:
  url: "https://slack.com/api"
`,
			wantErrSubstr: "api.token is required",
		},
		{
			name: "missing url",
			configContent: `
api:
  url: ""
  token: "xoxp-test"
`,
			wantErrSubstr: "api.url is required",
		},
		{
			name: "zero in-flight slots",
			configContent: `
api:
  token: "xoxp-test"
  max_in_flight: 0
`,
			wantErrSubstr: "api.max_in_flight",
		},
		{
			name: "page limit out of range",
			configContent: `
api:
  token: "xoxp-test"
history:
  page_limit: 5000
`,
			wantErrSubstr: "history.page_limit",
		},
		{
			name: "bad logging level",
			configContent: `
api:
  token: "xoxp-test"
logging:
  level: "verbose"
`,
			wantErrSubstr: "logging.level",
		},
		{
			name: "bad logging format",
			configContent: `
api:
  token: "xoxp-test"
logging:
  format: "xml"
`,
			wantErrSubstr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.configContent)
			_, err := Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
