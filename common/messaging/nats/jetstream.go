package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/oceanlab/specimen-stack/common/failure"
	"github.com/oceanlab/specimen-stack/common/messaging"
)

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	Name      string
	Subjects  []string
	MaxAge    time.Duration
	MaxBytes  int64
	MaxMsgs   int64
	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType
}

// ConsumerConfig defines a JetStream consumer configuration.
type ConsumerConfig struct {
	Name          string
	FilterSubject string
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int
}

// QueueConfig holds the settings applied to every queue a Conn declares.
type QueueConfig struct {
	// AckWait is how long a delivery may stay unsettled before redelivery.
	AckWait time.Duration

	// MaxDeliver bounds redelivery of a message that keeps failing.
	// -1 redelivers until the message is acknowledged or terminated.
	MaxDeliver int

	// MaxAge bounds how long an unconsumed message is kept.
	MaxAge time.Duration

	// FetchWait bounds a single pull request.
	FetchWait time.Duration
}

// DefaultQueueConfig returns sensible defaults for pipeline queues.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		AckWait:    60 * time.Second,
		MaxDeliver: -1,
		MaxAge:     7 * 24 * time.Hour,
		FetchWait:  5 * time.Second,
	}
}

// QueueStreamConfig returns the stream backing a pipeline queue: work-queue
// retention so each message is removed once acknowledged, file storage so it
// survives broker restarts.
func QueueStreamConfig(queue string, maxAge time.Duration) StreamConfig {
	return StreamConfig{
		Name:      messaging.StreamName(queue),
		Subjects:  []string{messaging.QueueSubject(queue)},
		MaxAge:    maxAge,
		MaxBytes:  -1,
		MaxMsgs:   -1,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}
}

// QueueConsumerConfig returns the durable consumer shared by a queue's workers.
func QueueConsumerConfig(queue string, cfg QueueConfig) ConsumerConfig {
	return ConsumerConfig{
		Name:          messaging.ConsumerName(queue),
		FilterSubject: messaging.QueueSubject(queue),
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: 1000,
	}
}

// CreateOrUpdateStream creates or updates a stream.
func CreateOrUpdateStream(ctx context.Context, js jetstream.JetStream, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// CreateOrUpdateConsumer creates or updates a durable pull consumer.
func CreateOrUpdateConsumer(ctx context.Context, stream jetstream.Stream, cfg ConsumerConfig) (jetstream.Consumer, error) {
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}
	return consumer, nil
}

// Conn is one JetStream connection. It implements messaging.Conn.
type Conn struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg QueueConfig

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
}

var _ messaging.Conn = (*Conn)(nil)

// Dial opens a JetStream connection.
func Dial(ctx context.Context, cfg Config, qcfg QueueConfig) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nc, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &Conn{
		nc:        nc,
		js:        js,
		cfg:       qcfg,
		consumers: make(map[string]jetstream.Consumer),
	}, nil
}

// Dialer returns a messaging.Dialer opening a new connection per call.
func Dialer(cfg Config, qcfg QueueConfig) messaging.Dialer {
	return func(ctx context.Context) (messaging.Conn, error) {
		return Dial(ctx, cfg, qcfg)
	}
}

// JetStream exposes the underlying JetStream context (used by the dead letter stream).
func (c *Conn) JetStream() jetstream.JetStream {
	return c.js
}

// DeclareDurableQueue creates or updates the queue's stream and durable consumer.
func (c *Conn) DeclareDurableQueue(ctx context.Context, queue string) error {
	stream, err := CreateOrUpdateStream(ctx, c.js, QueueStreamConfig(queue, c.cfg.MaxAge))
	if err != nil {
		return failure.Transient(err)
	}
	consumer, err := CreateOrUpdateConsumer(ctx, stream, QueueConsumerConfig(queue, c.cfg))
	if err != nil {
		return failure.Transient(err)
	}

	c.mu.Lock()
	c.consumers[queue] = consumer
	c.mu.Unlock()
	return nil
}

// Publish stores data on the queue's stream and waits for the broker acknowledgement.
func (c *Conn) Publish(ctx context.Context, queue string, data []byte, opts ...messaging.PublishOption) error {
	o := messaging.ApplyPublishOptions(opts...)

	msg := &nats.Msg{
		Subject: messaging.QueueSubject(queue),
		Data:    data,
		Header:  make(nats.Header),
	}
	for k, v := range o.Headers {
		msg.Header.Set(k, v)
	}

	var pubOpts []jetstream.PublishOpt
	if o.MessageID != "" {
		pubOpts = append(pubOpts, jetstream.WithMsgID(o.MessageID))
	}

	if _, err := c.js.PublishMsg(ctx, msg, pubOpts...); err != nil {
		return failure.Transient(fmt.Errorf("publish to %s: %w", queue, err))
	}
	return nil
}

// Consume pulls up to prefetch messages at a time from the queue's durable
// consumer and hands them to handler one by one.
func (c *Conn) Consume(ctx context.Context, queue string, prefetch int, handler messaging.Handler) error {
	if prefetch < 1 {
		prefetch = 1
	}
	consumer, err := c.consumer(ctx, queue)
	if err != nil {
		return failure.Transient(err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !c.nc.IsConnected() {
			return failure.Transient(messaging.ErrConnectionLost)
		}

		batch, err := consumer.Fetch(prefetch, jetstream.FetchMaxWait(c.fetchWait()))
		if err != nil {
			if isIdle(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return failure.Transient(fmt.Errorf("fetch from %s: %w", queue, err))
		}

		for msg := range batch.Messages() {
			if err := handler(ctx, &delivery{msg: msg, queue: queue}); err != nil {
				return err
			}
		}
		if err := batch.Error(); err != nil && !isIdle(err) {
			if ctx.Err() != nil {
				return nil
			}
			return failure.Transient(fmt.Errorf("fetch from %s: %w", queue, err))
		}
	}
}

// IsConnected returns true if connected to NATS.
func (c *Conn) IsConnected() bool {
	return c.nc.IsConnected()
}

// Ping measures a round trip to the server.
func (c *Conn) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.nc.FlushWithContext(ctx)
}

// Close closes the connection. Unacknowledged messages are redelivered after AckWait.
func (c *Conn) Close() error {
	c.nc.Close()
	return nil
}

func (c *Conn) consumer(ctx context.Context, queue string) (jetstream.Consumer, error) {
	c.mu.Lock()
	consumer, ok := c.consumers[queue]
	c.mu.Unlock()
	if ok {
		return consumer, nil
	}

	consumer, err := c.js.Consumer(ctx, messaging.StreamName(queue), messaging.ConsumerName(queue))
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer for %s: %w", queue, err)
	}
	c.mu.Lock()
	c.consumers[queue] = consumer
	c.mu.Unlock()
	return consumer, nil
}

func (c *Conn) fetchWait() time.Duration {
	if c.cfg.FetchWait > 0 {
		return c.cfg.FetchWait
	}
	return 5 * time.Second
}

// isIdle reports whether a fetch error only means no message arrived in time.
func isIdle(err error) bool {
	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, jetstream.ErrNoMessages)
}

// delivery adapts a JetStream message to messaging.Delivery.
type delivery struct {
	msg   jetstream.Msg
	queue string
}

func (d *delivery) Data() []byte  { return d.msg.Data() }
func (d *delivery) Queue() string { return d.queue }

func (d *delivery) MessageID() string {
	return d.Header(jetstream.MsgIDHeader)
}

func (d *delivery) Header(key string) string {
	if h := d.msg.Headers(); h != nil {
		return h.Get(key)
	}
	return ""
}

func (d *delivery) Attempt() int {
	md, err := d.msg.Metadata()
	if err != nil {
		return 1
	}
	return int(md.NumDelivered)
}

// Ack waits for the server to confirm so a lost acknowledgement surfaces as an error.
func (d *delivery) Ack(ctx context.Context) error {
	return d.msg.DoubleAck(ctx)
}

func (d *delivery) Requeue(_ context.Context, delay time.Duration) error {
	if delay <= 0 {
		return d.msg.Nak()
	}
	return d.msg.NakWithDelay(delay)
}

func (d *delivery) Reject(_ context.Context) error {
	return d.msg.Term()
}
