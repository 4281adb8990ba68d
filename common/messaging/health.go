package messaging

import (
	"context"
	"time"
)

// HealthStatus represents the health state of a messaging connection.
type HealthStatus struct {
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// ConnectionState is implemented by anything that can report whether it holds a
// live connection (a Conn or a ReconnectingPublisher).
type ConnectionState interface {
	IsConnected() bool
}

// Pinger is optionally implemented by connections that can measure a round trip.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckHealth reports the health of c, measuring a round trip when c supports it.
func CheckHealth(ctx context.Context, c ConnectionState) HealthStatus {
	status := HealthStatus{}

	if c == nil {
		status.Error = "connection is nil"
		return status
	}

	status.Connected = c.IsConnected()
	if !status.Connected {
		status.Error = ErrNotConnected.Error()
		return status
	}

	if p, ok := c.(Pinger); ok {
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			status.Error = "health check failed: " + err.Error()
		}
		status.Latency = time.Since(start)
	}

	return status
}
