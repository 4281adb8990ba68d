package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/oceanlab/specimen-stack/common/failure"
	"github.com/oceanlab/specimen-stack/common/logging"
)

// Outcome is how a delivery was settled.
type Outcome string

const (
	OutcomeAcked        Outcome = "acked"
	OutcomeDropped      Outcome = "dropped"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeRequeued     Outcome = "requeued"
)

// DeadLetter is the record kept for a message rejected without redelivery.
type DeadLetter struct {
	Timestamp time.Time `json:"timestamp"`
	Queue     string    `json:"queue"`
	MessageID string    `json:"message_id,omitempty"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error"`
	Attempt   int       `json:"attempt"`
	Data      []byte    `json:"data"`
}

// DeadLetterWriter stores dead letters for later inspection.
type DeadLetterWriter interface {
	Write(ctx context.Context, dl DeadLetter) error
}

// Settler maps a processing result to exactly one settlement action:
//
//	nil                              -> Ack
//	Malformed                        -> Reject, then dead letter recorded
//	Capability                       -> Ack, logged
//	Transient, Unavailable, unknown  -> Requeue after RequeueDelay
type Settler struct {
	DeadLetters  DeadLetterWriter
	RequeueDelay time.Duration
	Logger       *logging.Logger
	Now          func() time.Time
}

// Settle settles d according to procErr. The returned error is non-nil only when
// the settlement itself failed, which means the connection is no longer usable;
// the message then stays unacknowledged and the broker redelivers it.
func (s *Settler) Settle(ctx context.Context, d Delivery, procErr error) (Outcome, error) {
	logger := s.logger().With(logging.Queue(d.Queue()), logging.Attempt(d.Attempt()))

	if procErr == nil {
		return OutcomeAcked, s.wrap("ack", d.Ack(ctx))
	}

	class := failure.ClassOf(procErr)
	switch class {
	case failure.ClassMalformed:
		if err := d.Reject(ctx); err != nil {
			return OutcomeDeadLettered, s.wrap("reject", err)
		}
		s.deadLetter(ctx, logger, d, class, procErr)
		logger.WarnContext(ctx, "message rejected",
			logging.Outcome(string(OutcomeDeadLettered)),
			logging.ErrorClass(class.String()),
			logging.Error(procErr))
		return OutcomeDeadLettered, nil

	case failure.ClassCapability:
		if err := d.Ack(ctx); err != nil {
			return OutcomeDropped, s.wrap("ack", err)
		}
		logger.WarnContext(ctx, "message dropped",
			logging.Outcome(string(OutcomeDropped)),
			logging.ErrorClass(class.String()),
			logging.Error(procErr))
		return OutcomeDropped, nil

	default:
		if err := d.Requeue(ctx, s.RequeueDelay); err != nil {
			return OutcomeRequeued, s.wrap("requeue", err)
		}
		logger.WarnContext(ctx, "message requeued",
			logging.Outcome(string(OutcomeRequeued)),
			logging.ErrorClass(class.String()),
			logging.Error(procErr))
		return OutcomeRequeued, nil
	}
}

func (s *Settler) deadLetter(ctx context.Context, logger *logging.Logger, d Delivery, class failure.Class, procErr error) {
	if s.DeadLetters == nil {
		return
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	dl := DeadLetter{
		Timestamp: now().UTC(),
		Queue:     d.Queue(),
		MessageID: d.MessageID(),
		Reason:    class.String(),
		Error:     procErr.Error(),
		Attempt:   d.Attempt(),
		Data:      d.Data(),
	}
	// the message is already rejected; a failed write is only logged
	if err := s.DeadLetters.Write(ctx, dl); err != nil {
		logger.ErrorContext(ctx, "failed to write dead letter", logging.Error(err))
	}
}

func (s *Settler) wrap(action string, err error) error {
	if err == nil {
		return nil
	}
	return failure.Transient(fmt.Errorf("%s: %w", action, err))
}

func (s *Settler) logger() *logging.Logger {
	if s.Logger == nil {
		return logging.Default()
	}
	return s.Logger
}
