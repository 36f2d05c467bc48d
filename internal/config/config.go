// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Server() ServerConfig
	Analysis() AnalysisConfig
}

// Config holds the entire application configuration. Access goes through the
// Interface getters so components can be handed a narrow view in tests.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	AnalysisCfg AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
}

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Analysis() AnalysisConfig { return c.AnalysisCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the connection details for the trace/metadata store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// QueryTimeout bounds every read issued on behalf of one request.
	// A timeout surfaces as a retryable store-unavailable error.
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

// ServerConfig tunes the HTTP command surface.
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// RateLimitPerSecond caps command requests per client IP; zero disables it.
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second" yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// AnalysisConfig carries the rule data the anomaly classifier evaluates.
// Rules live here, not in code, so a different network context only needs a
// different config file.
type AnalysisConfig struct {
	// ExpectedCountry is the jurisdiction (ISO 3166-1 alpha-2) that domestic
	// traffic is expected to stay inside. When empty the sovereignty check
	// falls back to the trace's own endpoint countries.
	ExpectedCountry string `mapstructure:"expected_country" yaml:"expected_country"`
	// DisallowedTransitASNs lists autonomous systems traffic must not hand
	// off to (e.g. commercial transit in an academic-network context).
	DisallowedTransitASNs []uint32 `mapstructure:"disallowed_transit_asns" yaml:"disallowed_transit_asns"`
	// DisallowedTransitOrgs matches organization names case-insensitively as
	// substrings, for disallow entries known by name rather than ASN.
	DisallowedTransitOrgs []string `mapstructure:"disallowed_transit_orgs" yaml:"disallowed_transit_orgs"`
	// LatencySpikeThresholdMs is the minimum positive RTT delta that counts
	// as a spike when it coincides with an international jump.
	LatencySpikeThresholdMs float64 `mapstructure:"latency_spike_threshold_ms" yaml:"latency_spike_threshold_ms"`
	// ResolverConcurrency bounds concurrent metadata lookups per trace.
	ResolverConcurrency int `mapstructure:"resolver_concurrency" yaml:"resolver_concurrency"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "routelens")
	v.SetDefault("logger.log_file", "routelens.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.query_timeout", "10s")

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8080")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.rate_limit_per_second", 10.0)
	v.SetDefault("server.rate_limit_burst", 20)

	// -- Analysis --
	v.SetDefault("analysis.expected_country", "")
	v.SetDefault("analysis.latency_spike_threshold_ms", 50.0)
	v.SetDefault("analysis.resolver_concurrency", 8)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.SetEnvPrefix("ROUTELENS")
	// Bind environment variables for values that usually arrive that way.
	v.BindEnv("database.url", "ROUTELENS_DATABASE_URL")
	v.BindEnv("server.listen_addr", "ROUTELENS_LISTEN_ADDR")
	v.BindEnv("analysis.expected_country", "ROUTELENS_EXPECTED_COUNTRY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.DatabaseCfg.QueryTimeout <= 0 {
		return fmt.Errorf("database.query_timeout must be a positive duration")
	}
	if c.ServerCfg.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be a positive duration")
	}
	if c.AnalysisCfg.ResolverConcurrency <= 0 {
		return fmt.Errorf("analysis.resolver_concurrency must be a positive integer")
	}
	if c.AnalysisCfg.LatencySpikeThresholdMs < 0 {
		return fmt.Errorf("analysis.latency_spike_threshold_ms must not be negative")
	}
	if c.ServerCfg.RateLimitPerSecond < 0 {
		return fmt.Errorf("server.rate_limit_per_second must not be negative")
	}
	return nil
}
