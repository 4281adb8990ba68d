// Package messaging defines the durable queue contract shared by the gateway and the
// workers: connections that declare queues, publish persistently and consume with a
// bounded number of unacknowledged messages, plus the supervisor that keeps a consumer
// or publisher connected and the settler that turns a processing result into an
// ack, requeue or dead-letter.
package messaging

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConnected is returned by publishers while no live connection exists.
	ErrNotConnected = errors.New("message channel not connected")

	// ErrConnectionLost is returned by Consume when the underlying connection drops.
	ErrConnectionLost = errors.New("message channel connection lost")

	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("message channel connection closed")
)

// Delivery is one message handed to a consumer. Exactly one of Ack, Requeue or
// Reject should be called; a delivery left unsettled is redelivered by the broker
// once its ack deadline passes or its connection is closed.
type Delivery interface {
	// Data is the raw message body.
	Data() []byte

	// Queue is the queue the message was consumed from.
	Queue() string

	// MessageID is the publisher-assigned deduplication ID, if any.
	MessageID() string

	// Header returns a message header value.
	Header(key string) string

	// Attempt is the 1-based delivery count for this message.
	Attempt() int

	// Ack removes the message from the queue.
	Ack(ctx context.Context) error

	// Requeue returns the message to the queue for redelivery after delay.
	Requeue(ctx context.Context, delay time.Duration) error

	// Reject removes the message without redelivery.
	Reject(ctx context.Context) error
}

// Handler processes one delivery. A returned error ends the consume loop; message
// level failures are expected to be settled on the delivery instead.
type Handler func(ctx context.Context, d Delivery) error

// Conn is one connection to the message channel. A Conn belongs to a single
// consumer instance or publisher and is never shared between them.
type Conn interface {
	// DeclareDurableQueue creates the named queue if it does not exist. It is idempotent.
	DeclareDurableQueue(ctx context.Context, queue string) error

	// Publish persists data on queue, returning once the broker has stored it.
	// Failures are classified Transient.
	Publish(ctx context.Context, queue string, data []byte, opts ...PublishOption) error

	// Consume delivers messages from queue to handler, holding at most prefetch
	// unacknowledged messages. It blocks until ctx is done (returning nil), the
	// connection fails (returning a Transient error) or handler returns an error.
	Consume(ctx context.Context, queue string, prefetch int, handler Handler) error

	// IsConnected reports whether the connection is usable.
	IsConnected() bool

	// Close releases the connection. Unsettled deliveries become redeliverable.
	Close() error
}

// Dialer opens a new connection.
type Dialer func(ctx context.Context) (Conn, error)

// Publisher publishes to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, data []byte, opts ...PublishOption) error
}

// PublishOption configures message publishing behavior.
type PublishOption func(*PublishOptions)

// PublishOptions is the resolved set of PublishOption values.
type PublishOptions struct {
	MessageID string
	Headers   map[string]string
}

// WithMessageID sets a deduplication ID. Brokers that support it drop a second
// publish with the same ID inside their deduplication window.
func WithMessageID(id string) PublishOption {
	return func(o *PublishOptions) {
		o.MessageID = id
	}
}

// WithHeader adds a header to the published message.
func WithHeader(key, value string) PublishOption {
	return func(o *PublishOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

// ApplyPublishOptions resolves opts for transport implementations.
func ApplyPublishOptions(opts ...PublishOption) PublishOptions {
	var o PublishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
