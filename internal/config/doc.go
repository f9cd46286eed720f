// Package config handles configuration loading for slack-bridge.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SLACK_BRIDGE_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/slack-bridge/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	api:
//	  token: "${SLACK_BRIDGE_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	api:
//	  ratelimit_delay: "15s"
//	stream:
//	  ping_interval: "60s"
//	history:
//	  mark_delay: "5s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// API endpoint and credential:
//
//	api:
//	  url: "https://slack.com/api"
//	  token: "${SLACK_BRIDGE_TOKEN}"   # Required
//	  ratelimit_delay: "15s"           # Wait before retrying a throttled call
//	  max_in_flight: 1                 # Concurrent API calls
//
// Realtime stream:
//
//	stream:
//	  ping_interval: "60s"
//
// History backfill:
//
//	history:
//	  display_threads: true            # Show thread replies
//	  display_parent_indicator: true   # Mark messages that start threads
//	  fetch_thread_history: true       # Pull replies for fresh threads
//	  open_on_demand: true             # Open closed conversations to fetch
//	  fetch_on_connect: true           # Backfill unreads at login
//	  page_limit: 200                  # Messages per history page
//	  mark_delay: "5s"                 # Read-mark batching window
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/slack-bridge/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
