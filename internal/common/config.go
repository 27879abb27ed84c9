package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Queue       QueueConfig   `toml:"queue"`
	Worker      WorkerConfig  `toml:"worker"`
	Batch       BatchConfig   `toml:"batch"`
	Logging     LoggingConfig `toml:"logging"`
	Auth        AuthConfig    `toml:"auth"`
	Events      EventsConfig  `toml:"events"`
	LLM         LLMConfig     `toml:"llm"`
	Claude      ClaudeConfig  `toml:"claude"`
	Gemini      GeminiConfig  `toml:"gemini"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type FilesystemConfig struct {
	Uploads string `toml:"uploads"` // Directory holding uploaded document files
}

type QueueConfig struct {
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
	PollInterval      string `toml:"poll_interval"`      // e.g., "500ms" - how often workers poll for messages
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before it is dropped
}

type WorkerConfig struct {
	Concurrency     int    `toml:"concurrency"`      // Number of concurrent workers
	MaxAttempts     int    `toml:"max_attempts"`     // Max execution attempts per job (transient failures)
	RetryDelay      string `toml:"retry_delay"`      // Base delay for exponential backoff, e.g., "60s"
	LivenessTimeout string `toml:"liveness_timeout"` // Jobs stuck processing longer than this are re-queued
	ReaperSchedule  string `toml:"reaper_schedule"`  // Cron schedule for the stuck-job sweep
}

type BatchConfig struct {
	PausePollInterval string `toml:"pause_poll_interval"` // How often a paused run re-checks its flags
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// AuthConfig contains token signing configuration for the API and live channel
type AuthConfig struct {
	Secret      string `toml:"secret"`       // HMAC signing secret for access tokens
	TokenExpiry string `toml:"token_expiry"` // e.g., "24h"
}

// EventsConfig contains configuration for the live event channel
type EventsConfig struct {
	HeartbeatInterval string `toml:"heartbeat_interval"` // SSE ping cadence, must beat intermediary idle timeouts
	ProgressThrottle  string `toml:"progress_throttle"`  // Min interval between progress events per connection
	SubscriberBuffer  int    `toml:"subscriber_buffer"`  // Per-subscriber event channel depth
}

// LLMConfig selects the classification provider
type LLMConfig struct {
	Provider string `toml:"provider"` // "claude", "gemini", or "none" to disable classification
}

type ClaudeConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
	Timeout   string `toml:"timeout"`
}

type GeminiConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	Timeout string `toml:"timeout"`
}

// DefaultConfig returns a config with sane defaults applied
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "localhost",
			Port: 8085,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/scriba",
			},
			Filesystem: FilesystemConfig{
				Uploads: "./data/uploads",
			},
		},
		Queue: QueueConfig{
			QueueName:         "jobs",
			PollInterval:      "500ms",
			VisibilityTimeout: "5m",
			MaxReceive:        5,
		},
		Worker: WorkerConfig{
			Concurrency:     4,
			MaxAttempts:     3,
			RetryDelay:      "60s",
			LivenessTimeout: "10m",
			ReaperSchedule:  "*/2 * * * *",
		},
		Batch: BatchConfig{
			PausePollInterval: "2s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Auth: AuthConfig{
			TokenExpiry: "24h",
		},
		Events: EventsConfig{
			HeartbeatInterval: "15s",
			ProgressThrottle:  "250ms",
			SubscriberBuffer:  64,
		},
		LLM: LLMConfig{
			Provider: "none",
		},
		Claude: ClaudeConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 2048,
			Timeout:   "60s",
		},
		Gemini: GeminiConfig{
			Model:   "gemini-2.0-flash",
			Timeout: "60s",
		},
	}
}

// LoadFromFiles loads configuration from one or more TOML files.
// Later files override earlier ones; environment variables override files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies SCRIBA_* environment variable overrides
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SCRIBA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("SCRIBA_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("SCRIBA_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("SCRIBA_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("SCRIBA_AUTH_SECRET"); v != "" {
		config.Auth.Secret = v
	}
	if v := os.Getenv("SCRIBA_LLM_PROVIDER"); v != "" {
		config.LLM.Provider = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = v
	}
}

// Validate checks configuration values that would otherwise fail at runtime
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"queue.poll_interval", c.Queue.PollInterval},
		{"queue.visibility_timeout", c.Queue.VisibilityTimeout},
		{"worker.retry_delay", c.Worker.RetryDelay},
		{"worker.liveness_timeout", c.Worker.LivenessTimeout},
		{"batch.pause_poll_interval", c.Batch.PausePollInterval},
		{"events.heartbeat_interval", c.Events.HeartbeatInterval},
		{"events.progress_throttle", c.Events.ProgressThrottle},
		{"auth.token_expiry", c.Auth.TokenExpiry},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", field.name, field.value)
		}
	}

	if c.Worker.ReaperSchedule != "" {
		if _, err := cron.ParseStandard(c.Worker.ReaperSchedule); err != nil {
			return fmt.Errorf("invalid worker.reaper_schedule: %w", err)
		}
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "none", "claude", "gemini":
	default:
		return fmt.Errorf("invalid llm.provider: %q (expected claude, gemini, or none)", c.LLM.Provider)
	}

	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 1
	}

	return nil
}

// Duration parses a duration config field that has already passed Validate
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
