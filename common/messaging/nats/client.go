// Package nats implements the message channel on NATS JetStream.
package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/oceanlab/specimen-stack/common/config"
	"github.com/oceanlab/specimen-stack/common/logging"
)

// Config holds NATS connection configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// Timeout is the connection timeout.
	Timeout time.Duration

	// Username for authentication (optional).
	Username string

	// Password for authentication (optional).
	Password string

	// Token for token-based authentication (optional).
	Token string

	// Logger receives connection lifecycle events.
	Logger *logging.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     nats.DefaultURL,
		Name:    "specimen-client",
		Timeout: 5 * time.Second,
	}
}

// FromSettings maps the nats section of the master config onto connection and
// queue settings. suffix is appended to the configured client name.
func FromSettings(s config.NATSConfig, suffix string, logger *logging.Logger) (Config, QueueConfig) {
	cfg := DefaultConfig()
	cfg.URL = s.URL
	cfg.Name = s.Name
	if suffix != "" {
		cfg.Name = s.Name + "-" + suffix
	}
	if s.ConnectTimeout > 0 {
		cfg.Timeout = s.ConnectTimeout
	}
	cfg.Logger = logger

	qcfg := QueueConfig{
		AckWait:    s.AckWait,
		MaxDeliver: s.MaxDeliver,
		MaxAge:     s.StreamMaxAge,
		FetchWait:  s.FetchWait,
	}
	return cfg, qcfg
}

// Connect opens a NATS connection. Client-side reconnection is disabled: a
// dropped connection closes, and the messaging.Supervisor that owns it dials a
// new one and re-declares its queues.
func Connect(cfg Config) (*nats.Conn, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.NoReconnect(),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			logger.Warn("NATS async error", logging.Error(err))
		}),
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}
