package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oceanlab/specimen-stack/common/database"
	"github.com/oceanlab/specimen-stack/common/logging"
	"github.com/oceanlab/specimen-stack/common/messaging"
	"github.com/oceanlab/specimen-stack/common/models"
	"github.com/oceanlab/specimen-stack/ingest/internal/metrics"
)

var (
	// ErrInvalidSubmission wraps every validation failure of a submission.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrChannelUnavailable is returned when the submission could not be published.
	ErrChannelUnavailable = errors.New("message channel unavailable")
)

// Publisher is the gateway's view of the message channel.
type Publisher interface {
	messaging.Publisher
	IsConnected() bool
}

// RecordReader is the read side of the record store.
type RecordReader interface {
	Get(ctx context.Context, specimenID string) (*models.SpecimenRecord, error)
	List(ctx context.Context, limit int) ([]*models.SpecimenRecord, error)
	Ping(ctx context.Context) error
}

// Submission is one specimen as received from a caller.
type Submission struct {
	SpecimenID string
	Payload    string
	Latitude   *float64
	Longitude  *float64
}

type IngestService struct {
	publisher      Publisher
	records        RecordReader
	queue          string
	publishTimeout time.Duration
	logger         *logging.Logger
	now            func() time.Time
}

func NewIngestService(publisher Publisher, records RecordReader, queue string, publishTimeout time.Duration, logger *logging.Logger) *IngestService {
	if logger == nil {
		logger = logging.Default()
	}
	return &IngestService{
		publisher:      publisher,
		records:        records,
		queue:          queue,
		publishTimeout: publishTimeout,
		logger:         logger.With(logging.Component("ingest_service")),
		now:            time.Now,
	}
}

// Submit validates a submission and publishes it to the morphometrics queue.
// It returns the specimen ID, assigning a UUIDv7 when the caller supplied none.
// Nothing is processed inline.
func (s *IngestService) Submit(ctx context.Context, sub Submission) (string, error) {
	if sub.SpecimenID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate specimen id: %w", err)
		}
		sub.SpecimenID = id.String()
	}

	env := models.SubmissionEnvelope{
		SpecimenID:  sub.SpecimenID,
		Payload:     sub.Payload,
		Latitude:    sub.Latitude,
		Longitude:   sub.Longitude,
		SubmittedAt: s.now().UTC(),
	}
	if err := env.Validate(); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return "", fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal submission envelope: %w", err)
	}

	if s.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()
	}

	start := time.Now()
	err = s.publisher.Publish(ctx, s.queue, data,
		messaging.WithMessageID(uuid.NewString()),
		messaging.WithHeader(messaging.HeaderSpecimenID, env.SpecimenID),
		messaging.WithHeader(messaging.HeaderContentType, "application/json"))
	metrics.PublishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("unavailable").Inc()
		s.logger.WarnContext(ctx, "failed to publish submission",
			logging.SpecimenID(env.SpecimenID),
			logging.Queue(s.queue),
			logging.Error(err))
		return "", fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
	}

	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	metrics.SubmissionBytesTotal.Add(float64(len(env.Payload)))
	s.logger.InfoContext(ctx, "submission accepted",
		logging.SpecimenID(env.SpecimenID),
		logging.Queue(s.queue),
		"bytes", len(env.Payload))
	return env.SpecimenID, nil
}

// GetRecord returns the stored record for a specimen.
func (s *IngestService) GetRecord(ctx context.Context, specimenID string) (*models.SpecimenRecord, error) {
	if err := models.ValidateSpecimenID(specimenID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return s.records.Get(ctx, specimenID)
}

// ListRecords returns up to limit records, most recently updated first.
func (s *IngestService) ListRecords(ctx context.Context, limit int) ([]*models.SpecimenRecord, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return s.records.List(ctx, limit)
}

// Ready reports whether submissions can currently be accepted and records read.
func (s *IngestService) Ready(ctx context.Context) error {
	status := messaging.CheckHealth(ctx, s.publisher)
	if !status.Connected {
		return messaging.ErrNotConnected
	}
	if status.Error != "" {
		return fmt.Errorf("message channel: %s", status.Error)
	}
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	if err := s.records.Ping(ctx); err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	return nil
}
