// Package dedupe tracks recently processed stream event keys so that
// redelivered envelopes are surfaced at most once per TTL window.
package dedupe
