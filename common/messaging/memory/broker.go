// Package memory is an in-process message channel with the same delivery
// semantics as the JetStream transport: durable named queues, explicit
// acknowledgement, bounded prefetch, redelivery of unsettled messages when a
// connection closes, and message ID deduplication. It also lets tests take the
// channel down and make publishes fail.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oceanlab/specimen-stack/common/failure"
	"github.com/oceanlab/specimen-stack/common/messaging"
)

var (
	// ErrUnavailable is returned by Dial while the broker is down.
	ErrUnavailable = errors.New("memory broker unavailable")

	// ErrQueueNotDeclared is returned for operations on an unknown queue.
	ErrQueueNotDeclared = errors.New("queue not declared")

	// ErrAlreadySettled is returned when a delivery is settled twice.
	ErrAlreadySettled = errors.New("delivery already settled")

	// ErrInjectedPublishFailure is returned by publishes failed via FailPublishes.
	ErrInjectedPublishFailure = errors.New("injected publish failure")
)

// Broker holds the queues. The zero value is not usable; call NewBroker.
type Broker struct {
	mu            sync.Mutex
	queues        map[string]*queue
	conns         map[*Conn]struct{}
	changed       chan struct{}
	down          bool
	failPublishes int
	nextID        uint64
}

type message struct {
	id         uint64
	data       []byte
	msgID      string
	headers    map[string]string
	deliveries int
	notBefore  time.Time
}

type queue struct {
	ready    []*message
	inflight map[uint64]*Conn
	messages map[uint64]*message
	seen     map[string]struct{}
	rejected [][]byte
	acked    int
}

// NewBroker returns an empty, available broker.
func NewBroker() *Broker {
	return &Broker{
		queues:  make(map[string]*queue),
		conns:   make(map[*Conn]struct{}),
		changed: make(chan struct{}),
	}
}

// Dialer returns a messaging.Dialer for this broker.
func (b *Broker) Dialer() messaging.Dialer {
	return func(ctx context.Context) (messaging.Conn, error) {
		return b.Dial(ctx)
	}
}

// Dial opens a new connection.
func (b *Broker) Dial(ctx context.Context) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, ErrUnavailable
	}
	c := &Conn{broker: b}
	b.conns[c] = struct{}{}
	return c, nil
}

// Disconnect drops every open connection and refuses new ones until Restore.
// Messages held by the dropped connections become redeliverable.
func (b *Broker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = true
	for c := range b.conns {
		b.closeLocked(c)
	}
}

// Restore makes the broker accept connections again.
func (b *Broker) Restore() {
	b.mu.Lock()
	b.down = false
	b.mu.Unlock()
}

// FailPublishes makes the next n publishes fail with a Transient error while
// connections stay up.
func (b *Broker) FailPublishes(n int) {
	b.mu.Lock()
	b.failPublishes = n
	b.mu.Unlock()
}

// Depth returns the number of messages in queue that are not yet settled.
func (b *Broker) Depth(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return 0
	}
	return len(q.ready) + len(q.inflight)
}

// Acked returns how many messages have been acknowledged on queue.
func (b *Broker) Acked(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return q.acked
	}
	return 0
}

// Rejected returns the bodies of messages rejected on queue.
func (b *Broker) Rejected(name string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	out := make([][]byte, len(q.rejected))
	copy(out, q.rejected)
	return out
}

// ConnCount returns the number of open connections.
func (b *Broker) ConnCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *Broker) signalLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

func (b *Broker) closeLocked(c *Conn) {
	if c.closed {
		return
	}
	c.closed = true
	delete(b.conns, c)
	for _, q := range b.queues {
		for id, owner := range q.inflight {
			if owner != c {
				continue
			}
			delete(q.inflight, id)
			q.ready = append([]*message{q.messages[id]}, q.ready...)
		}
	}
	b.signalLocked()
}

// Conn is a connection to a Broker. It implements messaging.Conn.
type Conn struct {
	broker *Broker
	closed bool
}

var _ messaging.Conn = (*Conn)(nil)

// DeclareDurableQueue creates queue if absent.
func (c *Conn) DeclareDurableQueue(ctx context.Context, name string) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return failure.Transient(messaging.ErrClosed)
	}
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = &queue{
			inflight: make(map[uint64]*Conn),
			messages: make(map[uint64]*message),
			seen:     make(map[string]struct{}),
		}
	}
	return nil
}

// Publish appends data to queue.
func (c *Conn) Publish(ctx context.Context, name string, data []byte, opts ...messaging.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return failure.Transient(err)
	}
	o := messaging.ApplyPublishOptions(opts...)

	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return failure.Transient(messaging.ErrClosed)
	}
	if b.failPublishes > 0 {
		b.failPublishes--
		return failure.Transient(ErrInjectedPublishFailure)
	}
	q, ok := b.queues[name]
	if !ok {
		return failure.Transient(fmt.Errorf("publish to %s: %w", name, ErrQueueNotDeclared))
	}
	if o.MessageID != "" {
		if _, dup := q.seen[o.MessageID]; dup {
			return nil
		}
		q.seen[o.MessageID] = struct{}{}
	}

	b.nextID++
	body := make([]byte, len(data))
	copy(body, data)
	m := &message{id: b.nextID, data: body, msgID: o.MessageID, headers: o.Headers}
	q.messages[m.id] = m
	q.ready = append(q.ready, m)
	b.signalLocked()
	return nil
}

// Consume delivers messages from queue to handler one at a time, with at most
// prefetch unsettled messages held by this connection.
func (c *Conn) Consume(ctx context.Context, name string, prefetch int, handler messaging.Handler) error {
	if prefetch < 1 {
		prefetch = 1
	}
	b := c.broker
	for {
		b.mu.Lock()
		if c.closed {
			b.mu.Unlock()
			return failure.Transient(messaging.ErrConnectionLost)
		}
		q, ok := b.queues[name]
		if !ok {
			b.mu.Unlock()
			return failure.Transient(fmt.Errorf("consume %s: %w", name, ErrQueueNotDeclared))
		}
		m, wake := c.nextLocked(q, prefetch, time.Now())
		changed := b.changed
		b.mu.Unlock()

		if m != nil {
			d := &delivery{conn: c, queue: name, msg: m}
			if err := handler(ctx, d); err != nil {
				return err
			}
			continue
		}

		var (
			t     *time.Timer
			timer <-chan time.Time
		)
		if wake > 0 {
			t = time.NewTimer(wake)
			timer = t.C
		}
		select {
		case <-ctx.Done():
		case <-changed:
		case <-timer:
		}
		if t != nil {
			t.Stop()
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// nextLocked pops the first ready message, or reports how long until a delayed one is due.
func (c *Conn) nextLocked(q *queue, prefetch int, now time.Time) (*message, time.Duration) {
	held := 0
	for _, owner := range q.inflight {
		if owner == c {
			held++
		}
	}
	if held >= prefetch {
		return nil, 0
	}

	var wake time.Duration
	for i, m := range q.ready {
		if m.notBefore.After(now) {
			if d := m.notBefore.Sub(now); wake == 0 || d < wake {
				wake = d
			}
			continue
		}
		q.ready = append(q.ready[:i:i], q.ready[i+1:]...)
		q.inflight[m.id] = c
		m.deliveries++
		return m, 0
	}
	return nil, wake
}

// IsConnected reports whether the connection is open.
func (c *Conn) IsConnected() bool {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return !c.closed
}

// Close closes the connection, making its unsettled messages redeliverable.
func (c *Conn) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.closeLocked(c)
	return nil
}

type delivery struct {
	conn  *Conn
	queue string
	msg   *message
}

func (d *delivery) Data() []byte      { return d.msg.data }
func (d *delivery) Queue() string     { return d.queue }
func (d *delivery) MessageID() string { return d.msg.msgID }
func (d *delivery) Attempt() int      { return d.msg.deliveries }

func (d *delivery) Header(key string) string {
	return d.msg.headers[key]
}

func (d *delivery) Ack(ctx context.Context) error {
	return d.settle(func(q *queue) {
		delete(q.messages, d.msg.id)
		q.acked++
	})
}

func (d *delivery) Requeue(ctx context.Context, delay time.Duration) error {
	return d.settle(func(q *queue) {
		d.msg.notBefore = time.Now().Add(delay)
		q.ready = append(q.ready, d.msg)
	})
}

func (d *delivery) Reject(ctx context.Context) error {
	return d.settle(func(q *queue) {
		delete(q.messages, d.msg.id)
		q.rejected = append(q.rejected, d.msg.data)
	})
}

func (d *delivery) settle(apply func(q *queue)) error {
	b := d.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if d.conn.closed {
		return failure.Transient(messaging.ErrClosed)
	}
	q := b.queues[d.queue]
	if owner, ok := q.inflight[d.msg.id]; !ok || owner != d.conn {
		return ErrAlreadySettled
	}
	delete(q.inflight, d.msg.id)
	apply(q)
	b.signalLocked()
	return nil
}
