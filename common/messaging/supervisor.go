package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oceanlab/specimen-stack/common/failure"
	"github.com/oceanlab/specimen-stack/common/logging"
)

// Session runs against one live connection. It returns when ctx is done or the
// connection can no longer be used.
type Session func(ctx context.Context, conn Conn) error

// BackoffFactory builds a fresh backoff policy for a supervisor.
type BackoffFactory func() backoff.BackOff

// ConstantBackoff waits the same delay before every reconnect.
func ConstantBackoff(delay time.Duration) BackoffFactory {
	return func() backoff.BackOff {
		return backoff.NewConstantBackOff(delay)
	}
}

// ExponentialBackoff doubles the delay (with jitter) up to maxDelay and never gives up.
func ExponentialBackoff(initial, maxDelay time.Duration) BackoffFactory {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = maxDelay
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// NewBackoffFactory returns the policy named by a config value.
func NewBackoffFactory(policy string, delay, maxDelay time.Duration) (BackoffFactory, error) {
	switch policy {
	case "", "constant":
		return ConstantBackoff(delay), nil
	case "exponential":
		return ExponentialBackoff(delay, maxDelay), nil
	default:
		return nil, fmt.Errorf("unknown backoff policy %q", policy)
	}
}

// Supervisor keeps a session running against a fresh connection: dial, declare
// queues, run the session, close, wait out the backoff and start again. It is
// the only recovery path for a consumer or publisher and loops until ctx is done.
type Supervisor struct {
	Name    string
	Dial    Dialer
	Queues  []string
	Backoff BackoffFactory
	Logger  *logging.Logger

	// MaxDelay caps the wait if the backoff policy ever stops.
	MaxDelay time.Duration

	// OnReconnect is called before every wait, with the error that ended the attempt.
	OnReconnect func(err error)
}

// Run supervises session until ctx is cancelled. It always returns nil once ctx is done.
func (s *Supervisor) Run(ctx context.Context, session Session) error {
	if s.Dial == nil {
		return fmt.Errorf("supervisor %s: dialer is nil", s.Name)
	}
	logger := s.logger()
	bo := s.newBackoff()

	for {
		connected, err := s.attempt(ctx, session)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			bo.Reset()
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			delay = s.maxDelay()
		}

		logger.Warn("message channel session ended, reconnecting",
			logging.Error(err),
			logging.ErrorClass(failure.ClassOf(err).String()),
			"retry_in", delay.String())
		if s.OnReconnect != nil {
			s.OnReconnect(err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *Supervisor) attempt(ctx context.Context, session Session) (connected bool, err error) {
	conn, err := s.Dial(ctx)
	if err != nil {
		return false, failure.Transient(fmt.Errorf("dial: %w", err))
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			s.logger().Debug("close connection", logging.Error(closeErr))
		}
	}()

	for _, q := range s.Queues {
		if err := conn.DeclareDurableQueue(ctx, q); err != nil {
			return false, failure.Transient(fmt.Errorf("declare queue %s: %w", q, err))
		}
	}

	s.logger().Info("message channel connected", "queues", s.Queues)
	err = session(ctx, conn)
	if err == nil && ctx.Err() == nil {
		err = ErrConnectionLost
	}
	return true, err
}

func (s *Supervisor) newBackoff() backoff.BackOff {
	if s.Backoff == nil {
		return backoff.NewConstantBackOff(5 * time.Second)
	}
	return s.Backoff()
}

func (s *Supervisor) maxDelay() time.Duration {
	if s.MaxDelay > 0 {
		return s.MaxDelay
	}
	return time.Minute
}

func (s *Supervisor) logger() *logging.Logger {
	l := s.Logger
	if l == nil {
		l = logging.Default()
	}
	if s.Name != "" {
		return l.With(logging.Component(s.Name))
	}
	return l
}
