package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/oceanlab/specimen-stack/common/messaging"
	natsmsg "github.com/oceanlab/specimen-stack/common/messaging/nats"
)

// StreamConfig sizes the dead letter stream.
type StreamConfig struct {
	MaxAge  time.Duration
	MaxMsgs int64
}

// DefaultStreamConfig keeps dead letters for 30 days.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxAge:  30 * 24 * time.Hour,
		MaxMsgs: 100000,
	}
}

func (c StreamConfig) stream() natsmsg.StreamConfig {
	return natsmsg.StreamConfig{
		Name:      messaging.StreamDLQ,
		Subjects:  []string{messaging.SubjectDLQPrefix + ">"},
		MaxAge:    c.MaxAge,
		MaxBytes:  -1,
		MaxMsgs:   c.MaxMsgs,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
}

// JetStreamQueue writes dead letters to the SPECIMEN_DLQ stream, one subject
// per failure reason (specimen.dlq.<reason>). Safe for use across many worker
// instances.
type JetStreamQueue struct {
	js      jetstream.JetStream
	stream  jetstream.Stream
	written atomic.Uint64
}

var _ Queue = (*JetStreamQueue)(nil)

// NewJetStreamQueue creates or updates the dead letter stream.
func NewJetStreamQueue(ctx context.Context, js jetstream.JetStream, cfg StreamConfig) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}

	stream, err := natsmsg.CreateOrUpdateStream(ctx, js, cfg.stream())
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	return &JetStreamQueue{js: js, stream: stream}, nil
}

// Write records a dead letter.
func (q *JetStreamQueue) Write(ctx context.Context, dl messaging.DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	var opts []jetstream.PublishOpt
	if dl.MessageID != "" {
		opts = append(opts, jetstream.WithMsgID(deadLetterID(dl)))
	}
	ack, err := q.js.Publish(ctx, messaging.DLQSubject(dl.Reason), data, opts...)
	if err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	if ack.Duplicate {
		return nil
	}

	q.written.Add(1)
	return nil
}

// deadLetterID deduplicates repeated writes for the same rejected message.
func deadLetterID(dl messaging.DeadLetter) string {
	return "dlq/" + dl.Queue + "/" + dl.MessageID
}

// Stats returns dead letter stream metrics, broken down by reason.
func (q *JetStreamQueue) Stats(ctx context.Context) (Stats, error) {
	info, err := q.stream.Info(ctx, jetstream.WithSubjectFilter(messaging.SubjectDLQPrefix+">"))
	if err != nil {
		return Stats{Enabled: true, Backend: "jetstream", Written: q.written.Load()},
			fmt.Errorf("dlq stream info: %w", err)
	}

	s := Stats{
		Enabled:  true,
		Backend:  "jetstream",
		Written:  q.written.Load(),
		Messages: info.State.Msgs,
		Bytes:    info.State.Bytes,
		FirstSeq: info.State.FirstSeq,
		LastSeq:  info.State.LastSeq,
		ByReason: make(map[string]uint64),
	}
	for subject, n := range info.State.Subjects {
		s.ByReason[strings.TrimPrefix(subject, messaging.SubjectDLQPrefix)] = n
	}
	return s, nil
}

// List returns up to limit dead letters, oldest first.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]messaging.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{messaging.SubjectDLQPrefix + ">"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch dead letters: %w", err)
	}

	var letters []messaging.DeadLetter
	for msg := range msgs.Messages() {
		var dl messaging.DeadLetter
		if err := json.Unmarshal(msg.Data(), &dl); err != nil {
			slog.Warn("skipping unparseable dead letter", "subject", msg.Subject(), "error", err)
			continue
		}
		letters = append(letters, dl)
	}
	if err := msgs.Error(); err != nil && len(letters) == 0 {
		slog.Debug("dead letter fetch ended", "error", err)
	}

	return letters, nil
}

// Purge removes all dead letters.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	return nil
}
