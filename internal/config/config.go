// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
// It is loaded once at startup and read-only afterwards.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Jobs         JobsConfig         `mapstructure:"jobs"`
	DB           DBConfig           `mapstructure:"db"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	ChangeDetect ChangeDetectConfig `mapstructure:"changedetect"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// JobsConfig governs dispatcher and queue behavior.
type JobsConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// DBConfig controls access to the relational task store. An empty DSN
// selects the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion-event publishing. An
// empty topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// WebhookConfig governs completion-notification delivery.
type WebhookConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	DefaultURL     string            `mapstructure:"default_url"`
	MaxAttempts    int               `mapstructure:"max_attempts"`
	InitialDelayMs int               `mapstructure:"initial_delay_ms"`
	MaxDelayMs     int               `mapstructure:"max_delay_ms"`
	TimeoutMs      int               `mapstructure:"timeout_ms"`
	DataInPayload  bool              `mapstructure:"data_in_payload"`
	Headers        map[string]string `mapstructure:"headers"`
}

// InitialDelay returns the base backoff delay as a duration.
func (c WebhookConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap as a duration.
func (c WebhookConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// Timeout returns the per-attempt timeout as a duration.
func (c WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ChangeDetectConfig controls the re-crawl decision. Strict mode
// re-crawls when only the content length matches; relaxed mode treats
// an equal length as unchanged.
type ChangeDetectConfig struct {
	Strict bool `mapstructure:"strict"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLHOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", false)
	v.SetDefault("jobs.concurrency", 4)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("db.table", "tasks")
	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.initial_delay_ms", 500)
	v.SetDefault("webhook.max_delay_ms", 30000)
	v.SetDefault("webhook.timeout_ms", 10000)
	v.SetDefault("webhook.data_in_payload", true)
	v.SetDefault("changedetect.strict", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Jobs.Concurrency <= 0 {
		return fmt.Errorf("jobs.concurrency must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	if c.Webhook.MaxAttempts <= 0 {
		return fmt.Errorf("webhook.max_attempts must be > 0")
	}
	if c.Webhook.TimeoutMs <= 0 {
		return fmt.Errorf("webhook.timeout_ms must be > 0")
	}
	if c.Webhook.InitialDelayMs < 0 || c.Webhook.MaxDelayMs < c.Webhook.InitialDelayMs {
		return fmt.Errorf("webhook.max_delay_ms must be >= webhook.initial_delay_ms")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}
