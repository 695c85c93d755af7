// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aidosk/court-docket-crawler/internal/resilience"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Auth      AuthConfig              `mapstructure:"auth"`
	HTTP      HTTPConfig              `mapstructure:"http"`
	Retry     RetryConfig             `mapstructure:"retry"`
	Breaker   BreakerConfig           `mapstructure:"circuit_breaker"`
	Harvest   HarvestConfig           `mapstructure:"harvest"`
	Update    UpdateConfig            `mapstructure:"update"`
	DB        DBConfig                `mapstructure:"db"`
	Ops       OpsConfig               `mapstructure:"ops"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Regions   map[string]RegionConfig `mapstructure:"regions"`
	CourtType string                  `mapstructure:"court_type"`
}

// AuthConfig holds origin credentials and endpoints.
type AuthConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Login    string `mapstructure:"login"`
	Password string `mapstructure:"password"`
	UserName string `mapstructure:"user_name"`
}

// HTTPConfig controls the per-session transport.
type HTTPConfig struct {
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	UserAgent          string `mapstructure:"user_agent"`
}

// RetryPolicy is one named retry policy block.
type RetryPolicy struct {
	MaxAttempts    int     `mapstructure:"max_attempts"`
	InitialDelayMs int     `mapstructure:"initial_delay_ms"`
	Multiplier     float64 `mapstructure:"multiplier"`
	MaxDelayMs     int     `mapstructure:"max_delay_ms"`
	Backoff        string  `mapstructure:"backoff"`
	Jitter         bool    `mapstructure:"jitter"`
}

// RetryConfig groups the policies for the three retry layers.
type RetryConfig struct {
	Request RetryPolicy `mapstructure:"request"`
	Auth    RetryPolicy `mapstructure:"auth"`
	Search  RetryPolicy `mapstructure:"search"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	FailureThreshold    int  `mapstructure:"failure_threshold"`
	RecoveryTimeoutSec  int  `mapstructure:"recovery_timeout_seconds"`
	HalfOpenMaxAttempts int  `mapstructure:"half_open_max_attempts"`
}

// HarvestConfig governs scanning and orchestration.
type HarvestConfig struct {
	Year                string   `mapstructure:"year"`
	StartFrom           int      `mapstructure:"start_from"`
	MaxNumber           int      `mapstructure:"max_number"`
	MaxConsecutiveEmpty int      `mapstructure:"max_consecutive_empty"`
	MaxParallelRegions  int      `mapstructure:"max_parallel_regions"`
	MaxWorkerRestarts   int      `mapstructure:"max_worker_restarts"`
	MaxReauthAttempts   int      `mapstructure:"max_reauth_attempts"`
	PacingMs            int      `mapstructure:"pacing_ms"`
	RegionPacingMs      int      `mapstructure:"region_pacing_ms"`
	TargetRegions       []string `mapstructure:"target_regions"`
	ShutdownGraceSec    int      `mapstructure:"shutdown_grace_seconds"`
}

// UpdateConfig controls the history refresh mode.
type UpdateConfig struct {
	IntervalDays      int      `mapstructure:"interval_days"`
	DefendantKeywords []string `mapstructure:"defendant_keywords"`
	ExcludeEventTypes []string `mapstructure:"exclude_event_types"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// OpsConfig configures the operational HTTP endpoint.
type OpsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and reporter verbosity.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	Quiet       bool `mapstructure:"quiet"`
}

// RegionConfig describes one territorial partition of the origin.
type RegionConfig struct {
	Name     string                 `mapstructure:"name"`
	ID       string                 `mapstructure:"id"`
	KATOCode string                 `mapstructure:"kato_code"`
	Courts   map[string]CourtConfig `mapstructure:"courts"`
}

// CourtConfig describes one court within a region.
type CourtConfig struct {
	ID           string `mapstructure:"id"`
	InstanceCode string `mapstructure:"instance_code"`
	CaseTypeCode string `mapstructure:"case_type_code"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.insecure_skip_verify", true)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	v.SetDefault("retry.request.max_attempts", 3)
	v.SetDefault("retry.request.initial_delay_ms", 1000)
	v.SetDefault("retry.request.multiplier", 2.0)
	v.SetDefault("retry.request.max_delay_ms", 30000)
	v.SetDefault("retry.request.backoff", "exponential")
	v.SetDefault("retry.request.jitter", true)
	v.SetDefault("retry.auth.max_attempts", 3)
	v.SetDefault("retry.auth.initial_delay_ms", 2000)
	v.SetDefault("retry.auth.multiplier", 2.0)
	v.SetDefault("retry.auth.max_delay_ms", 60000)
	v.SetDefault("retry.auth.backoff", "exponential")
	v.SetDefault("retry.auth.jitter", true)
	v.SetDefault("retry.search.max_attempts", 2)
	v.SetDefault("retry.search.initial_delay_ms", 2000)
	v.SetDefault("retry.search.multiplier", 2.0)
	v.SetDefault("retry.search.max_delay_ms", 20000)
	v.SetDefault("retry.search.backoff", "exponential")
	v.SetDefault("retry.search.jitter", true)

	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.recovery_timeout_seconds", 60)
	v.SetDefault("circuit_breaker.half_open_max_attempts", 3)

	v.SetDefault("harvest.year", "2025")
	v.SetDefault("harvest.start_from", 1)
	v.SetDefault("harvest.max_number", 9999)
	v.SetDefault("harvest.max_consecutive_empty", 50)
	v.SetDefault("harvest.max_parallel_regions", 3)
	v.SetDefault("harvest.max_worker_restarts", 2)
	v.SetDefault("harvest.max_reauth_attempts", 2)
	v.SetDefault("harvest.pacing_ms", 500)
	v.SetDefault("harvest.region_pacing_ms", 2000)
	v.SetDefault("harvest.shutdown_grace_seconds", 30)

	v.SetDefault("update.interval_days", 2)

	v.SetDefault("db.max_conns", 10)

	v.SetDefault("ops.enabled", true)
	v.SetDefault("ops.port", 9090)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.quiet", false)

	v.SetDefault("court_type", "smas")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Auth.BaseURL == "" {
		return fmt.Errorf("auth.base_url is required")
	}
	if c.Auth.Login == "" || c.Auth.Password == "" {
		return fmt.Errorf("auth.login and auth.password are required")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Harvest.MaxParallelRegions <= 0 {
		return fmt.Errorf("harvest.max_parallel_regions must be > 0")
	}
	if c.Harvest.MaxNumber <= 0 {
		return fmt.Errorf("harvest.max_number must be > 0")
	}
	if c.Harvest.MaxConsecutiveEmpty <= 0 {
		return fmt.Errorf("harvest.max_consecutive_empty must be > 0")
	}
	if len(c.Regions) == 0 {
		return fmt.Errorf("at least one region must be configured")
	}
	for key, region := range c.Regions {
		if region.KATOCode == "" {
			return fmt.Errorf("regions.%s.kato_code is required", key)
		}
		if len(region.Courts) == 0 {
			return fmt.Errorf("regions.%s must configure at least one court", key)
		}
	}
	if c.Ops.Enabled && c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0 when ops is enabled")
	}
	return nil
}

// Timeout converts the HTTP timeout to a duration.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Pacing returns the delay between protocol steps.
func (c HarvestConfig) Pacing() time.Duration {
	return time.Duration(c.PacingMs) * time.Millisecond
}

// RegionPacing returns the delay between consecutive queries in a region.
func (c HarvestConfig) RegionPacing() time.Duration {
	return time.Duration(c.RegionPacingMs) * time.Millisecond
}

// ShutdownGrace returns how long in-flight work may drain on shutdown.
func (c HarvestConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSec) * time.Second
}

// ToRetry converts a policy block into the resilience package form.
func (p RetryPolicy) ToRetry() resilience.RetryConfig {
	mode := resilience.BackoffExponential
	if p.Backoff == "linear" {
		mode = resilience.BackoffLinear
	}
	return resilience.RetryConfig{
		MaxAttempts:  p.MaxAttempts,
		InitialDelay: time.Duration(p.InitialDelayMs) * time.Millisecond,
		Multiplier:   p.Multiplier,
		MaxDelay:     time.Duration(p.MaxDelayMs) * time.Millisecond,
		Mode:         mode,
		Jitter:       p.Jitter,
	}
}

// ToBreaker converts breaker thresholds into the resilience package form.
func (b BreakerConfig) ToBreaker() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Enabled:             b.Enabled,
		FailureThreshold:    b.FailureThreshold,
		RecoveryTimeout:     time.Duration(b.RecoveryTimeoutSec) * time.Second,
		HalfOpenMaxAttempts: b.HalfOpenMaxAttempts,
	}
}
