// Package config provides configuration management for replicawatch.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Job store drivers
const (
	JobsMemory = "memory"
	JobsRedis  = "redis"
)

// Config holds all configuration for replicawatch.
type Config struct {
	Nodes       []string          `mapstructure:"nodes" yaml:"nodes"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Mirror      MirrorConfig      `mapstructure:"mirror" yaml:"mirror"`
	BulkLoad    BulkLoadConfig    `mapstructure:"bulk_load" yaml:"bulk_load"`
	Jobs        JobsConfig        `mapstructure:"jobs" yaml:"jobs"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter" yaml:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing" yaml:"tracing"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// RequestTimeout bounds non-streaming handlers
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// StoreConfig selects and configures the replicated store driver.
type StoreConfig struct {
	Driver           string        `mapstructure:"driver" yaml:"driver"`
	Database         string        `mapstructure:"database" yaml:"database"`
	Collection       string        `mapstructure:"collection" yaml:"collection"`
	Username         string        `mapstructure:"username" yaml:"username"`
	Password         string        `mapstructure:"password" yaml:"-"`
	AuthSource       string        `mapstructure:"auth_source" yaml:"auth_source"`
	SSLMode          string        `mapstructure:"sslmode" yaml:"sslmode"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	// ReplicaSet and SimulatedLag only apply to the memory driver
	ReplicaSet   string        `mapstructure:"replica_set" yaml:"replica_set"`
	SimulatedLag time.Duration `mapstructure:"simulated_lag" yaml:"simulated_lag"`
}

// MirrorConfig controls the in-process mirror.
type MirrorConfig struct {
	// Enabled is the mirror flag used when a request does not say
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// BulkLoadConfig holds bulk load configuration.
type BulkLoadConfig struct {
	BatchSize    int    `mapstructure:"batch_size" yaml:"batch_size"`
	StepCount    int    `mapstructure:"step_count" yaml:"step_count"`
	DefaultTotal int    `mapstructure:"default_total" yaml:"default_total"`
	OnDisconnect string `mapstructure:"on_disconnect" yaml:"on_disconnect"`
	Workers      int    `mapstructure:"workers" yaml:"workers"`
	QueueSize    int    `mapstructure:"queue_size" yaml:"queue_size"`
}

// JobsConfig selects where job-tokened step mode keeps its cursors.
type JobsConfig struct {
	Driver string        `mapstructure:"driver" yaml:"driver"`
	TTL    time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Redis  RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size" yaml:"burst_size"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("replicawatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/replicawatch/")
	}

	v.SetEnvPrefix("REPLICAWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// MONGO_RS_MEMBERS is accepted for compatibility with existing demo setups
	if err := v.BindEnv("nodes", "REPLICAWATCH_NODES", "MONGO_RS_MEMBERS"); err != nil {
		return nil, fmt.Errorf("failed to bind nodes env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Nodes = splitNodes(cfg.Nodes)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// splitNodes accepts both list entries and comma separated strings
func splitNodes(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, addr := range strings.Split(entry, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("nodes", []string{"127.0.0.1:27017"})

	// Server defaults; no write timeout so progress streams are not cut off
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.request_timeout", "5m")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Store defaults
	v.SetDefault("store.driver", DriverMongo)
	v.SetDefault("store.database", "experimentDB")
	v.SetDefault("store.collection", "testdata")
	v.SetDefault("store.username", "")
	v.SetDefault("store.password", "")
	v.SetDefault("store.auth_source", "admin")
	v.SetDefault("store.sslmode", "disable")
	v.SetDefault("store.connect_timeout", "5s")
	v.SetDefault("store.operation_timeout", "30s")
	v.SetDefault("store.replica_set", "rs0")
	v.SetDefault("store.simulated_lag", "2s")

	v.SetDefault("mirror.enabled", false)

	// Bulk load defaults
	v.SetDefault("bulk_load.batch_size", 10000)
	v.SetDefault("bulk_load.step_count", 10)
	v.SetDefault("bulk_load.default_total", 1000000)
	v.SetDefault("bulk_load.on_disconnect", "complete")
	v.SetDefault("bulk_load.workers", 4)
	v.SetDefault("bulk_load.queue_size", 16)

	// Job store defaults
	v.SetDefault("jobs.driver", JobsMemory)
	v.SetDefault("jobs.ttl", "24h")
	v.SetDefault("jobs.redis.host", "localhost")
	v.SetDefault("jobs.redis.port", 6379)
	v.SetDefault("jobs.redis.password", "")
	v.SetDefault("jobs.redis.db", 0)

	// Rate limiter defaults
	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 100.0)
	v.SetDefault("rate_limiter.burst_size", 50)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if seen[n] {
			return fmt.Errorf("duplicate node: %s", n)
		}
		seen[n] = true
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case DriverMongo, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unsupported store driver: %q", c.Store.Driver)
	}
	if c.Store.Driver != DriverMemory {
		if c.Store.Database == "" {
			return fmt.Errorf("store database is required")
		}
		if c.Store.Collection == "" {
			return fmt.Errorf("store collection is required")
		}
	}
	if c.Store.ConnectTimeout < 0 || c.Store.OperationTimeout < 0 {
		return fmt.Errorf("store timeouts must not be negative")
	}

	if c.BulkLoad.BatchSize <= 0 {
		return fmt.Errorf("bulk load batch size must be positive")
	}
	if c.BulkLoad.StepCount <= 0 {
		return fmt.Errorf("bulk load step count must be positive")
	}
	if c.BulkLoad.DefaultTotal <= 0 {
		return fmt.Errorf("bulk load default total must be positive")
	}
	switch c.BulkLoad.OnDisconnect {
	case "complete", "abandon":
	default:
		return fmt.Errorf("bulk load on_disconnect must be complete or abandon, got %q", c.BulkLoad.OnDisconnect)
	}

	switch c.Jobs.Driver {
	case JobsMemory:
	case JobsRedis:
		if c.Jobs.Redis.Host == "" {
			return fmt.Errorf("redis host is required for the redis job store")
		}
	default:
		return fmt.Errorf("unsupported job store driver: %q", c.Jobs.Driver)
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return fmt.Errorf("rate limiter burst size must be positive")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
	}

	return nil
}

// YAML renders the effective configuration. Secrets are omitted.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
