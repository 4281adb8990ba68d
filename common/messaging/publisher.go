package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/oceanlab/specimen-stack/common/failure"
)

// ReconnectingPublisher publishes on whatever connection its supervisor currently
// holds. While the supervisor is between connections, Publish fails fast with a
// Transient ErrNotConnected instead of blocking the caller.
type ReconnectingPublisher struct {
	supervisor   *Supervisor
	pollInterval time.Duration

	mu   sync.RWMutex
	conn Conn
}

// NewReconnectingPublisher wraps a supervisor. Call Run to start connecting.
func NewReconnectingPublisher(supervisor *Supervisor) *ReconnectingPublisher {
	return &ReconnectingPublisher{
		supervisor:   supervisor,
		pollInterval: 500 * time.Millisecond,
	}
}

// Run keeps the publisher connected until ctx is cancelled.
func (p *ReconnectingPublisher) Run(ctx context.Context) error {
	return p.supervisor.Run(ctx, func(ctx context.Context, conn Conn) error {
		p.setConn(conn)
		defer p.setConn(nil)
		return WaitDisconnected(ctx, conn, p.pollInterval)
	})
}

// Publish sends data on the live connection.
func (p *ReconnectingPublisher) Publish(ctx context.Context, queue string, data []byte, opts ...PublishOption) error {
	conn := p.current()
	if conn == nil {
		return failure.Transient(ErrNotConnected)
	}
	return conn.Publish(ctx, queue, data, opts...)
}

// IsConnected reports whether a live connection is held.
func (p *ReconnectingPublisher) IsConnected() bool {
	conn := p.current()
	return conn != nil && conn.IsConnected()
}

func (p *ReconnectingPublisher) current() Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn
}

func (p *ReconnectingPublisher) setConn(conn Conn) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
}

// WaitDisconnected blocks until conn reports it is no longer connected (returning
// a Transient ErrConnectionLost) or ctx is done (returning nil).
func WaitDisconnected(ctx context.Context, conn Conn, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !conn.IsConnected() {
				return failure.Transient(ErrConnectionLost)
			}
		}
	}
}
