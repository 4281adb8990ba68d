// Package runner runs a pool of competing consumers for one pipeline stage.
// Every instance owns its connection and runs under its own reconnect
// supervisor; instances share nothing in process.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oceanlab/specimen-stack/common/dlq"
	"github.com/oceanlab/specimen-stack/common/failure"
	"github.com/oceanlab/specimen-stack/common/logging"
	"github.com/oceanlab/specimen-stack/common/messaging"
	"github.com/oceanlab/specimen-stack/worker/internal/metrics"
)

// Handler processes one delivery. pub publishes on the instance's own
// connection. The returned error decides how the delivery is settled.
type Handler func(ctx context.Context, pub messaging.Publisher, d messaging.Delivery) error

// Config configures a Runner.
type Config struct {
	// Stage names the pipeline stage in logs and metrics.
	Stage string

	// Queue is drained by every instance.
	Queue string

	// Declare lists extra queues each connection declares, such as the output queue.
	Declare []string

	Instances    int
	Prefetch     int
	RequeueDelay time.Duration

	Dial     messaging.Dialer
	Backoff  messaging.BackoffFactory
	MaxDelay time.Duration

	// DeadLetters builds the dead letter writer for each connection. Nil disables dead letters.
	DeadLetters dlq.WriterFactory

	Logger *logging.Logger
}

// Runner runs Config.Instances supervised consumers.
type Runner struct {
	cfg       Config
	handler   Handler
	logger    *logging.Logger
	connected atomic.Int32
}

// New creates a Runner.
func New(cfg Config, handler Handler) (*Runner, error) {
	if cfg.Queue == "" {
		return nil, errors.New("runner: queue is required")
	}
	if cfg.Dial == nil {
		return nil, errors.New("runner: dialer is required")
	}
	if handler == nil {
		return nil, errors.New("runner: handler is required")
	}
	if cfg.Instances < 1 {
		cfg.Instances = 1
	}
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(logging.Component(cfg.Stage)),
	}, nil
}

// Run blocks until ctx is cancelled and every instance has stopped.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Instances; i++ {
		g.Go(func() error {
			return r.runInstance(ctx, i)
		})
	}
	r.logger.Info("consumers started",
		logging.Queue(r.cfg.Queue),
		"instances", r.cfg.Instances,
		"prefetch", r.cfg.Prefetch)
	return g.Wait()
}

// Connected returns the number of instances currently holding a live connection.
func (r *Runner) Connected() int {
	return int(r.connected.Load())
}

// Ready reports whether every instance is connected.
func (r *Runner) Ready() bool {
	return r.Connected() == r.cfg.Instances
}

func (r *Runner) runInstance(ctx context.Context, n int) error {
	logger := r.logger.With(logging.Instance(n))
	sup := &messaging.Supervisor{
		Name:     fmt.Sprintf("%s-%d", r.cfg.Stage, n),
		Dial:     r.cfg.Dial,
		Queues:   append([]string{r.cfg.Queue}, r.cfg.Declare...),
		Backoff:  r.cfg.Backoff,
		MaxDelay: r.cfg.MaxDelay,
		Logger:   logger,
		OnReconnect: func(error) {
			metrics.ReconnectsTotal.WithLabelValues(r.cfg.Stage).Inc()
		},
	}
	return sup.Run(ctx, func(ctx context.Context, conn messaging.Conn) error {
		r.connected.Add(1)
		metrics.ConnectedInstances.WithLabelValues(r.cfg.Stage).Inc()
		defer func() {
			r.connected.Add(-1)
			metrics.ConnectedInstances.WithLabelValues(r.cfg.Stage).Dec()
		}()
		return r.session(ctx, conn, logger)
	})
}

func (r *Runner) session(ctx context.Context, conn messaging.Conn, logger *logging.Logger) error {
	var dl messaging.DeadLetterWriter
	if r.cfg.DeadLetters != nil {
		w, err := r.cfg.DeadLetters(ctx, conn)
		if err != nil {
			return failure.Transient(fmt.Errorf("dead letter writer: %w", err))
		}
		dl = w
	}
	settler := &messaging.Settler{
		DeadLetters:  dl,
		RequeueDelay: r.cfg.RequeueDelay,
		Logger:       logger,
	}

	return conn.Consume(ctx, r.cfg.Queue, r.cfg.Prefetch, func(ctx context.Context, d messaging.Delivery) error {
		start := time.Now()
		procErr := r.handler(ctx, conn, d)
		metrics.ProcessingDuration.WithLabelValues(r.cfg.Stage).Observe(time.Since(start).Seconds())

		outcome, err := settler.Settle(ctx, d, procErr)
		if err != nil {
			metrics.SettleErrors.WithLabelValues(r.cfg.Stage).Inc()
			return err
		}
		metrics.MessagesTotal.WithLabelValues(r.cfg.Stage, string(outcome)).Inc()
		if outcome == messaging.OutcomeDeadLettered {
			metrics.DeadLettersTotal.WithLabelValues(r.cfg.Stage, failure.ClassOf(procErr).String()).Inc()
		}
		return nil
	})
}
