// Package config provides centralized configuration management for the specimen pipeline services.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the master configuration shared by the gateway, both workers and the CLI.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	NATS           NATSConfig           `mapstructure:"nats"`
	Queues         QueuesConfig         `mapstructure:"queues"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Ingest         IngestConfig         `mapstructure:"ingest"`
	Morphometrics  MorphometricsConfig  `mapstructure:"morphometrics"`
	Classification ClassificationConfig `mapstructure:"classification"`
	Supervisor     SupervisorConfig     `mapstructure:"supervisor"`
	DLQ            DLQConfig            `mapstructure:"dlq"`
}

// ServerConfig holds HTTP server timeouts shared by every service.
type ServerConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// NATSConfig holds JetStream connection and consumer settings.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	MaxDeliver     int           `mapstructure:"max_deliver"` // -1 redelivers until acknowledged
	FetchWait      time.Duration `mapstructure:"fetch_wait"`
	RequeueDelay   time.Duration `mapstructure:"requeue_delay"`
	StreamMaxAge   time.Duration `mapstructure:"stream_max_age"`
}

// QueuesConfig names the two pipeline queues.
type QueuesConfig struct {
	Morphometrics  string `mapstructure:"morphometrics"`
	Classification string `mapstructure:"classification"`
}

// DatabaseConfig selects and configures the record store backend.
type DatabaseConfig struct {
	Type           string         `mapstructure:"type"` // "postgres" or "sqlite"
	Postgres       PostgresConfig `mapstructure:"postgres"`
	SQLite         SQLiteConfig   `mapstructure:"sqlite"`
	MigrateOnStart bool           `mapstructure:"migrate_on_start"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DSN returns the connection URL for pgx and golang-migrate.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// SQLiteConfig holds the embedded store settings.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Enabled    bool   `mapstructure:"enabled"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IngestConfig holds gateway settings.
type IngestConfig struct {
	Port               int             `mapstructure:"port"`
	MaxSubmissionBytes int64           `mapstructure:"max_submission_bytes"`
	PublishTimeout     time.Duration   `mapstructure:"publish_timeout"`
	CORSOrigins        []string        `mapstructure:"cors_origins"`
	RateLimit          RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig holds the per-IP sliding window.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// MorphometricsConfig holds the morphometric worker settings.
type MorphometricsConfig struct {
	AdminPort int    `mapstructure:"admin_port"`
	Instances int    `mapstructure:"instances"`
	Prefetch  int    `mapstructure:"prefetch"`
	Threshold int    `mapstructure:"threshold"`
	Polarity  string `mapstructure:"polarity"` // "dark", "bright" or "auto"
	MaxPixels int    `mapstructure:"max_pixels"`
}

// ClassificationConfig holds the classification worker settings.
type ClassificationConfig struct {
	AdminPort      int           `mapstructure:"admin_port"`
	Instances      int           `mapstructure:"instances"`
	Prefetch       int           `mapstructure:"prefetch"`
	ModelPath      string        `mapstructure:"model_path"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

// SupervisorConfig holds the reconnect backoff policy.
type SupervisorConfig struct {
	Policy   string        `mapstructure:"policy"` // "constant" or "exponential"
	Delay    time.Duration `mapstructure:"delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// DLQConfig holds dead letter stream configuration.
type DLQConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	MaxAge  time.Duration `mapstructure:"max_age"`
	MaxMsgs int64         `mapstructure:"max_msgs"`
}

// Load reads configuration from path, or $SPECIMEN_CONFIG_DIR/config.yaml when path
// is empty, then applies environment overrides (e.g. NATS_URL, DATABASE_TYPE).
// A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		configDir := os.Getenv("SPECIMEN_CONFIG_DIR")
		if configDir == "" {
			configDir = "/etc/specimen"
		}
		path = filepath.Join(configDir, "config.yaml")
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
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

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid database.type %q: must be postgres or sqlite", c.Database.Type)
	}
	switch c.Supervisor.Policy {
	case "constant", "exponential":
	default:
		return fmt.Errorf("invalid supervisor.policy %q: must be constant or exponential", c.Supervisor.Policy)
	}
	if c.Queues.Morphometrics == "" || c.Queues.Classification == "" {
		return errors.New("queues.morphometrics and queues.classification are required")
	}
	if c.Queues.Morphometrics == c.Queues.Classification {
		return errors.New("queues.morphometrics and queues.classification must differ")
	}
	if c.Morphometrics.Instances < 1 || c.Classification.Instances < 1 {
		return errors.New("worker instances must be at least 1")
	}
	if c.Morphometrics.Prefetch < 1 || c.Classification.Prefetch < 1 {
		return errors.New("worker prefetch must be at least 1")
	}
	switch c.Morphometrics.Polarity {
	case "dark", "bright", "auto":
	default:
		return fmt.Errorf("invalid morphometrics.polarity %q: must be dark, bright or auto", c.Morphometrics.Polarity)
	}
	if c.Morphometrics.Threshold < 0 || c.Morphometrics.Threshold > 255 {
		return errors.New("morphometrics.threshold must be between 0 and 255")
	}
	if c.NATS.MaxDeliver == 0 || c.NATS.MaxDeliver < -1 {
		return errors.New("nats.max_deliver must be -1 (unbounded) or positive")
	}
	if c.Ingest.MaxSubmissionBytes <= 0 {
		return errors.New("ingest.max_submission_bytes must be positive")
	}
	return nil
}

// setDefaults sets all default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// NATS defaults
	v.SetDefault("nats.url", "nats://nats:4222")
	v.SetDefault("nats.name", "specimen")
	v.SetDefault("nats.connect_timeout", "5s")
	v.SetDefault("nats.ack_wait", "60s")
	v.SetDefault("nats.max_deliver", -1)
	v.SetDefault("nats.fetch_wait", "5s")
	v.SetDefault("nats.requeue_delay", "2s")
	v.SetDefault("nats.stream_max_age", "168h")

	// Queue defaults
	v.SetDefault("queues.morphometrics", "morphometrics-in")
	v.SetDefault("queues.classification", "classification-in")

	// Database defaults
	v.SetDefault("database.type", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "specimens")
	v.SetDefault("database.postgres.user", "specimen")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.max_conns", 10)
	v.SetDefault("database.sqlite.path", "/var/lib/specimen/records.db")
	v.SetDefault("database.migrate_on_start", true)

	// Redis defaults
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Ingest defaults
	v.SetDefault("ingest.port", 8088)
	v.SetDefault("ingest.max_submission_bytes", 16<<20)
	v.SetDefault("ingest.publish_timeout", "5s")
	v.SetDefault("ingest.cors_origins", []string{})
	v.SetDefault("ingest.rate_limit.enabled", true)
	v.SetDefault("ingest.rate_limit.requests", 120)
	v.SetDefault("ingest.rate_limit.window", "1m")

	// Morphometric worker defaults
	v.SetDefault("morphometrics.admin_port", 9101)
	v.SetDefault("morphometrics.instances", 2)
	v.SetDefault("morphometrics.prefetch", 1)
	v.SetDefault("morphometrics.threshold", 127)
	v.SetDefault("morphometrics.polarity", "auto")
	v.SetDefault("morphometrics.max_pixels", 40_000_000)

	// Classification worker defaults
	v.SetDefault("classification.admin_port", 9102)
	v.SetDefault("classification.instances", 2)
	v.SetDefault("classification.prefetch", 1)
	v.SetDefault("classification.model_path", "")
	v.SetDefault("classification.reload_interval", "30s")

	// Supervisor defaults
	v.SetDefault("supervisor.policy", "constant")
	v.SetDefault("supervisor.delay", "5s")
	v.SetDefault("supervisor.max_delay", "1m")

	// DLQ defaults
	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.max_age", "720h")
	v.SetDefault("dlq.max_msgs", 100000)
}
