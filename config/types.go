package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// BackendConfig describes how to reach the agent backend.
type BackendConfig struct {
	// BaseURL is the backend HTTP endpoint, e.g. "http://127.0.0.1:8765".
	BaseURL string `yaml:"base_url"`
	// Profile is the backend profile used when creating sessions.
	Profile string `yaml:"profile,omitempty"`
	// RequestTimeoutSeconds bounds request/response calls. Does not apply to
	// the event stream, which stays open for the life of the session.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds,omitempty"`
}

// StreamConfig controls event stream reconnection behavior.
type StreamConfig struct {
	InitialBackoffMS int `yaml:"initial_backoff_ms,omitempty"`
	MaxBackoffMS     int `yaml:"max_backoff_ms,omitempty"`
	MaxAttempts      int `yaml:"max_attempts,omitempty"`
}

// SnapshotConfig bounds context snapshots attached to requests.
type SnapshotConfig struct {
	MaxOpenFiles   int `yaml:"max_open_files,omitempty"`
	MaxDiagnostics int `yaml:"max_diagnostics,omitempty"`
}

// Config is the root agentbridge.yml structure.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Stream   StreamConfig   `yaml:"stream,omitempty"`
	Snapshot SnapshotConfig `yaml:"snapshot,omitempty"`

	// Extensions captures all other top-level keys for extensibility.
	Extensions map[string]interface{} `yaml:",inline"`
}

// Default values applied by ApplyDefaults.
const (
	DefaultBaseURL        = "http://127.0.0.1:8765"
	DefaultProfile        = "dev"
	DefaultRequestTimeout = 30 * time.Second
)

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBaseURL
	}
	if c.Backend.Profile == "" {
		c.Backend.Profile = DefaultProfile
	}
	if c.Backend.RequestTimeoutSeconds == 0 {
		c.Backend.RequestTimeoutSeconds = int(DefaultRequestTimeout / time.Second)
	}
}

// RequestTimeout returns the configured request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutSeconds) * time.Second
}

// UnmarshalExtension decodes a top-level extension key (e.g. "logging") into
// a strongly-typed target struct. Missing keys are not an error; the target
// simply remains zero-valued.
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		return nil
	}

	// Use mapstructure to decode the generic map[string]interface{} into the
	// strongly-typed target struct, keyed by yaml tags for consistency.
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "yaml",
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
