// Package config loads orchestrator configuration from defaults,
// environment variables, and an optional YAML file, in that
// precedence order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full orchestrator configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `mapstructure:"listen_addr"`

	// JWTSecret signs worker credentials. Required.
	JWTSecret string `mapstructure:"jwt_secret"`

	// CredentialTTL bounds worker credential lifetime.
	CredentialTTL time.Duration `mapstructure:"credential_ttl"`

	// PlacementStrategy selects the placement strategy
	// ("random-single-worker" or "cost-aware").
	PlacementStrategy string `mapstructure:"placement_strategy"`

	// QueueCapacity bounds the serving-to-scheduling work queue.
	QueueCapacity int `mapstructure:"queue_capacity"`

	// DispatchTimeout bounds each forward call to a worker endpoint.
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`

	// MaxConcurrentCompletions bounds in-flight chat completions.
	MaxConcurrentCompletions int `mapstructure:"max_concurrent_completions"`

	// MaxChoices bounds the n of a single completion request. Each
	// choice costs a fulfillment slot and channel headroom up front, so
	// an unbounded n is an allocation amplifier.
	MaxChoices int `mapstructure:"max_choices"`

	// ExpectedGenerationLength is the decode length assumed by the
	// cost-aware strategy's latency estimate.
	ExpectedGenerationLength int `mapstructure:"expected_generation_length"`

	// LogVerbosity is the highest logr V() level emitted.
	LogVerbosity int `mapstructure:"log_verbosity"`
}

// Load reads configuration. path may be empty, in which case only
// defaults and ORCH_* environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("credential_ttl", "30m")
	v.SetDefault("placement_strategy", "random-single-worker")
	v.SetDefault("queue_capacity", 128)
	v.SetDefault("dispatch_timeout", "10s")
	v.SetDefault("max_concurrent_completions", 256)
	v.SetDefault("max_choices", 16)
	v.SetDefault("expected_generation_length", 256)
	v.SetDefault("log_verbosity", 0)

	v.SetEnvPrefix("ORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for invalid configuration values.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret must be set")
	}
	if c.CredentialTTL <= 0 {
		return fmt.Errorf("credential_ttl must be positive, got %s", c.CredentialTTL)
	}
	if c.PlacementStrategy != "random-single-worker" && c.PlacementStrategy != "cost-aware" {
		return fmt.Errorf("unknown placement_strategy %q", c.PlacementStrategy)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch_timeout must be positive, got %s", c.DispatchTimeout)
	}
	if c.MaxConcurrentCompletions <= 0 {
		return fmt.Errorf("max_concurrent_completions must be positive, got %d", c.MaxConcurrentCompletions)
	}
	if c.MaxChoices <= 0 {
		return fmt.Errorf("max_choices must be positive, got %d", c.MaxChoices)
	}
	if c.ExpectedGenerationLength <= 0 {
		return fmt.Errorf("expected_generation_length must be positive, got %d", c.ExpectedGenerationLength)
	}
	return nil
}
