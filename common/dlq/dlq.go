// Package dlq stores messages the pipeline rejected without redelivery so that
// operators can inspect, count and purge them.
package dlq

import (
	"context"
	"errors"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/oceanlab/specimen-stack/common/messaging"
)

// ErrDisabled is returned by List and Purge when no dead letter stream is configured.
var ErrDisabled = errors.New("dlq not enabled")

// Queue is a dead letter store.
type Queue interface {
	messaging.DeadLetterWriter
	Stats(ctx context.Context) (Stats, error)
	List(ctx context.Context, limit int) ([]messaging.DeadLetter, error)
	Purge(ctx context.Context) error
}

// Stats summarises a dead letter store.
type Stats struct {
	Enabled  bool              `json:"enabled"`
	Backend  string            `json:"backend"`
	Written  uint64            `json:"written_local"`
	Messages uint64            `json:"total_messages"`
	Bytes    uint64            `json:"total_bytes"`
	FirstSeq uint64            `json:"first_seq"`
	LastSeq  uint64            `json:"last_seq"`
	ByReason map[string]uint64 `json:"by_reason,omitempty"`
}

// WriterFactory builds the dead letter writer for one message channel connection.
type WriterFactory func(ctx context.Context, conn messaging.Conn) (messaging.DeadLetterWriter, error)

// jetStreamProvider is implemented by connections backed by JetStream.
type jetStreamProvider interface {
	JetStream() jetstream.JetStream
}

// ForConn returns a factory that writes dead letters through the same JetStream
// connection the consumer uses, so the dead letter stream shares its lifecycle.
// Connections without JetStream fall back to fallback (which may be nil).
func ForConn(cfg StreamConfig, fallback messaging.DeadLetterWriter) WriterFactory {
	return func(ctx context.Context, conn messaging.Conn) (messaging.DeadLetterWriter, error) {
		if p, ok := conn.(jetStreamProvider); ok {
			return NewJetStreamQueue(ctx, p.JetStream(), cfg)
		}
		return fallback, nil
	}
}

// Memory is an in-process Queue.
type Memory struct {
	mu      sync.Mutex
	letters []messaging.DeadLetter
	written uint64
}

var _ Queue = (*Memory)(nil)

// NewMemory returns an empty in-process Queue.
func NewMemory() *Memory {
	return &Memory{}
}

// Write records a dead letter.
func (m *Memory) Write(_ context.Context, dl messaging.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.letters = append(m.letters, dl)
	m.written++
	return nil
}

// Stats returns counts by reason.
func (m *Memory) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Enabled:  true,
		Backend:  "memory",
		Written:  m.written,
		Messages: uint64(len(m.letters)),
		ByReason: make(map[string]uint64),
	}
	for _, dl := range m.letters {
		s.Bytes += uint64(len(dl.Data))
		s.ByReason[dl.Reason]++
	}
	return s, nil
}

// List returns up to limit dead letters, oldest first.
func (m *Memory) List(_ context.Context, limit int) ([]messaging.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.letters) {
		limit = len(m.letters)
	}
	out := make([]messaging.DeadLetter, limit)
	copy(out, m.letters[:limit])
	return out, nil
}

// Purge removes all dead letters.
func (m *Memory) Purge(context.Context) error {
	m.mu.Lock()
	m.letters = nil
	m.mu.Unlock()
	return nil
}
