// Package config loads the daemon settings from YAML files, .env files and the
// environment, validates them and hot-reloads the tunable subset.
package config

import (
	"time"
)

// Settings is the root configuration of finsyncd.
type Settings struct {
	Version     string `mapstructure:"version" yaml:"version" validate:"required"`
	Environment string `mapstructure:"environment" yaml:"environment" validate:"required,oneof=development staging production"`

	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Signals   SignalsConfig   `mapstructure:"signals" yaml:"signals"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Degrade   DegradeConfig   `mapstructure:"degrade" yaml:"degrade"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`
}

// SchedulerConfig holds the request scheduler knobs. MaxConcurrent and
// RequestsPerSecond are hot-reloadable.
type SchedulerConfig struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent" yaml:"max_concurrent" validate:"min=1,max=10"`
	RequestsPerSecond int           `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"min=1"`
	QueueCapacity     int           `mapstructure:"queue_capacity" yaml:"queue_capacity" validate:"min=0"`
	OverflowPolicy    string        `mapstructure:"overflow_policy" yaml:"overflow_policy" validate:"oneof=reject block"`
	RateWindow        time.Duration `mapstructure:"rate_window" yaml:"rate_window" validate:"required"`
	RecheckInterval   time.Duration `mapstructure:"recheck_interval" yaml:"recheck_interval" validate:"required"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff" yaml:"base_backoff" validate:"required"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" yaml:"max_backoff" validate:"required,gtefield=BaseBackoff"`
	DefaultCacheTTL   time.Duration `mapstructure:"default_cache_ttl" yaml:"default_cache_ttl" validate:"required"`
	HistoryLimit      int           `mapstructure:"history_limit" yaml:"history_limit" validate:"min=1"`
}

type SyncConfig struct {
	EscalationThreshold int    `mapstructure:"escalation_threshold" yaml:"escalation_threshold" validate:"min=1"`
	GraphFile           string `mapstructure:"graph_file" yaml:"graph_file"`
}

type SignalsConfig struct {
	MinInterval   time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	ProbeURL      string        `mapstructure:"probe_url" yaml:"probe_url" validate:"omitempty,url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval" validate:"required"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout" validate:"required"`
}

type CacheConfig struct {
	DefaultTTL time.Duration `mapstructure:"default_ttl" yaml:"default_ttl" validate:"required"`
	// PurgeInterval is how often expired L1 entries are dropped.
	PurgeInterval time.Duration `mapstructure:"purge_interval" yaml:"purge_interval" validate:"required"`
	Redis         RedisConfig   `mapstructure:"redis" yaml:"redis"`
	Badger        BadgerConfig  `mapstructure:"badger" yaml:"badger"`
}

// RedisConfig is shared by the L2 cache tier and the admin rate limiter.
// Several comma separated addresses select a cluster; MasterName selects
// sentinel.
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Address     string        `mapstructure:"address" yaml:"address" validate:"required_if=Enabled true"`
	MasterName  string        `mapstructure:"master_name" yaml:"master_name"`
	Password    string        `mapstructure:"password" yaml:"password"`
	DB          int           `mapstructure:"db" yaml:"db" validate:"min=0"`
	KeyPrefix   string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	PoolSize    int           `mapstructure:"pool_size" yaml:"pool_size" validate:"min=1"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries" validate:"min=0"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" validate:"required"`
}

type BadgerConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Path     string `mapstructure:"path" yaml:"path"`
	InMemory bool   `mapstructure:"in_memory" yaml:"in_memory"`
}

// DegradeConfig drives the circuit breaker that lowers scheduler limits while
// the backend keeps failing.
type DegradeConfig struct {
	Enabled             bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxFailures         int           `mapstructure:"max_failures" yaml:"max_failures" validate:"min=1"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout" yaml:"open_timeout" validate:"required"`
	HalfOpenSuccesses   int           `mapstructure:"half_open_successes" yaml:"half_open_successes" validate:"min=1"`
	DegradedConcurrency int           `mapstructure:"degraded_concurrency" yaml:"degraded_concurrency" validate:"min=1,max=10"`
	DegradedRPS         int           `mapstructure:"degraded_rps" yaml:"degraded_rps" validate:"min=1"`
}

type APIConfig struct {
	Address         string          `mapstructure:"address" yaml:"address" validate:"required"`
	JWTSecret       string          `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	AllowOrigins    []string        `mapstructure:"allow_origins" yaml:"allow_origins"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig throttles mutating admin routes. It needs the Redis tier.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Requests int           `mapstructure:"requests" yaml:"requests" validate:"min=1"`
	Window   time.Duration `mapstructure:"window" yaml:"window" validate:"required"`
}

type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"required"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries" validate:"min=0,max=10"`
}

type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name" yaml:"service_name"`
	TracingEnabled bool   `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// defaults mirrors the documented defaults; every key must appear here so
// that environment overrides are picked up by Unmarshal.
var defaults = map[string]interface{}{
	"version":     "dev",
	"environment": "development",

	"log.level":  "info",
	"log.format": "json",

	"scheduler.max_concurrent":      3,
	"scheduler.requests_per_second": 10,
	"scheduler.queue_capacity":      1000,
	"scheduler.overflow_policy":     "reject",
	"scheduler.rate_window":         "1s",
	"scheduler.recheck_interval":    "75ms",
	"scheduler.base_backoff":        "1s",
	"scheduler.max_backoff":         "30s",
	"scheduler.default_cache_ttl":   "30s",
	"scheduler.history_limit":       1024,

	"sync.escalation_threshold": 5,
	"sync.graph_file":           "",

	"signals.min_interval":   "2s",
	"signals.probe_url":      "",
	"signals.probe_interval": "10s",
	"signals.probe_timeout":  "3s",

	"cache.default_ttl":        "5m",
	"cache.purge_interval":     "1m",
	"cache.redis.enabled":      false,
	"cache.redis.address":      "localhost:6379",
	"cache.redis.password":     "",
	"cache.redis.db":           0,
	"cache.redis.key_prefix":   "finsync:cache:",
	"cache.redis.master_name":  "",
	"cache.redis.pool_size":    10,
	"cache.redis.max_retries":  3,
	"cache.redis.dial_timeout": "3s",
	"cache.badger.enabled":     false,
	"cache.badger.path":        "./data/cache",
	"cache.badger.in_memory":   false,

	"degrade.enabled":              true,
	"degrade.max_failures":         5,
	"degrade.open_timeout":         "30s",
	"degrade.half_open_successes":  2,
	"degrade.degraded_concurrency": 1,
	"degrade.degraded_rps":         2,

	"api.address":             "127.0.0.1:8089",
	"api.jwt_secret":          "",
	"api.allow_origins":       []string{"http://localhost:3000"},
	"api.shutdown_timeout":    "10s",
	"api.rate_limit.enabled":  true,
	"api.rate_limit.requests": 30,
	"api.rate_limit.window":   "1m",

	"backend.base_url":        "http://localhost:8080/api",
	"backend.request_timeout": "10s",
	"backend.max_retries":     2,

	"telemetry.service_name":    "finsyncd",
	"telemetry.tracing_enabled": false,
	"telemetry.metrics_enabled": false,
}
