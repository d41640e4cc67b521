// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the previewd configuration and
// the logic required to load and validate it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the configuration shared by both previewd processes.
// Every value can be set through the environment; flags override where the
// commands bind them.
type Config struct {
	// DatabaseURL is the connection string to the shared backing store.
	DatabaseURL string `mapstructure:"database_url" validate:"required"`

	// AuthorityListenAddr is the address the authority process listens on.
	AuthorityListenAddr string `mapstructure:"authority_listen_addr" validate:"required"`

	// GatewayListenAddr is the address the gateway process listens on.
	GatewayListenAddr string `mapstructure:"gateway_listen_addr" validate:"required"`

	// AuthorityBaseURL is where the gateway reaches the authority.
	AuthorityBaseURL string `mapstructure:"authority_base_url" validate:"required,url"`

	// GatewayBaseURL is where the authority reaches the gateway.
	GatewayBaseURL string `mapstructure:"gateway_base_url" validate:"required,url"`

	// MaxConcurrentSchemas is the hard cap on simultaneous live schemas.
	MaxConcurrentSchemas int `mapstructure:"max_concurrent_schemas" validate:"min=1"`

	// MaxSessionsPerIp caps concurrent non-terminal sessions per origin IP.
	MaxSessionsPerIp int `mapstructure:"max_sessions_per_ip" validate:"min=1"`

	// PreviewTTL is the default session lifetime.
	PreviewTTL time.Duration `mapstructure:"preview_ttl" validate:"min=1m"`

	// SchemaIdleTimeout is the idle eviction threshold for cached clients.
	SchemaIdleTimeout time.Duration `mapstructure:"schema_idle_timeout" validate:"min=1m"`

	// ConnectionLimitPerClient bounds connections per schema-pinned client.
	ConnectionLimitPerClient int `mapstructure:"connection_limit_per_client" validate:"min=1"`

	// MaxCachedClients is the client cache LRU capacity.
	MaxCachedClients int `mapstructure:"max_cached_clients" validate:"min=1"`

	// SessionCacheTTL bounds staleness of the gateway's session projections.
	SessionCacheTTL time.Duration `mapstructure:"session_cache_ttl" validate:"min=1s"`

	// CircuitThreshold is the consecutive-failure count that opens the
	// authority circuit breaker.
	CircuitThreshold int `mapstructure:"circuit_threshold" validate:"min=1"`

	// CircuitResetInterval is how long the circuit stays open.
	CircuitResetInterval time.Duration `mapstructure:"circuit_reset_interval" validate:"min=1s"`

	// OrphanSweepInterval is the period of the gateway orphan sweeper.
	OrphanSweepInterval time.Duration `mapstructure:"orphan_sweep_interval" validate:"min=1m"`

	// ExpirySweepInterval is the period of the authority expiry sweeper.
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval" validate:"min=10s"`

	// InternalAPISecret is the HMAC shared secret for internal calls.
	InternalAPISecret string `mapstructure:"internal_api_secret" validate:"required,min=16"`

	// MaxClockSkew is the HMAC replay window.
	MaxClockSkew time.Duration `mapstructure:"max_clock_skew" validate:"min=1s"`

	// HeapSoftCeilingMB refuses new schemas above this process heap size.
	HeapSoftCeilingMB int `mapstructure:"heap_soft_ceiling_mb" validate:"min=1"`

	// DDLBundlePath optionally overrides the embedded DDL bundle.
	DDLBundlePath string `mapstructure:"ddl_bundle_path"`
}

// setDefaults registers the documented default for every key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("authority_listen_addr", "127.0.0.1:8090")
	v.SetDefault("gateway_listen_addr", "127.0.0.1:8091")
	v.SetDefault("authority_base_url", "http://127.0.0.1:8090")
	v.SetDefault("gateway_base_url", "http://127.0.0.1:8091")
	v.SetDefault("max_concurrent_schemas", 50)
	v.SetDefault("max_sessions_per_ip", 5)
	v.SetDefault("preview_ttl", 4*time.Hour)
	v.SetDefault("schema_idle_timeout", 30*time.Minute)
	v.SetDefault("connection_limit_per_client", 2)
	v.SetDefault("max_cached_clients", 30)
	v.SetDefault("session_cache_ttl", 60*time.Second)
	v.SetDefault("circuit_threshold", 5)
	v.SetDefault("circuit_reset_interval", 30*time.Second)
	v.SetDefault("orphan_sweep_interval", 6*time.Hour)
	v.SetDefault("expiry_sweep_interval", time.Minute)
	v.SetDefault("max_clock_skew", 5*time.Minute)
	v.SetDefault("heap_soft_ceiling_mb", 1024)
}

// Load reads the configuration from the environment. Environment variables
// use the upper-snake form of the keys (DATABASE_URL, MAX_SESSIONS_PER_IP,
// PREVIEW_TTL, ...). Duration values accept Go duration strings.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so bind the
	// ones without defaults explicitly.
	for _, key := range []string{"database_url", "internal_api_secret", "ddl_bundle_path"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints plus the cross-field invariants that
// struct tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.MaxCachedClients > c.MaxConcurrentSchemas {
		return fmt.Errorf("max_cached_clients (%d) must not exceed max_concurrent_schemas (%d)",
			c.MaxCachedClients, c.MaxConcurrentSchemas)
	}
	return nil
}
