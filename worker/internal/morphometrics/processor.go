// Package morphometrics implements the morphometric stage: decode a submission,
// extract features, record them and hand them to the classification stage.
package morphometrics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oceanlab/specimen-stack/common/failure"
	"github.com/oceanlab/specimen-stack/common/logging"
	"github.com/oceanlab/specimen-stack/common/messaging"
	"github.com/oceanlab/specimen-stack/common/models"
	"github.com/oceanlab/specimen-stack/worker/internal/extractor"
)

// Store is the part of the record store this stage writes.
type Store interface {
	UpsertMorphometrics(ctx context.Context, specimenID string, u models.MorphometricUpdate) error
}

// Processor handles SubmissionEnvelope deliveries.
type Processor struct {
	extractor extractor.Extractor
	store     Store
	outQueue  string
	logger    *logging.Logger
}

// NewProcessor creates a Processor publishing FeatureSets to outQueue.
func NewProcessor(ex extractor.Extractor, store Store, outQueue string, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		extractor: ex,
		store:     store,
		outQueue:  outQueue,
		logger:    logger.With(logging.Component("morphometrics")),
	}
}

// Handle processes one delivery, publishing downstream on pub. The returned
// error carries the failure class the delivery must be settled with; the upsert
// and the publish are retried together on redelivery.
func (p *Processor) Handle(ctx context.Context, pub messaging.Publisher, d messaging.Delivery) error {
	env, err := models.DecodeEnvelope(d.Data())
	if err != nil {
		return err
	}
	ctx = logging.ContextWithSpecimen(ctx, env.SpecimenID)

	img, err := env.DecodePayload()
	if err != nil {
		return err
	}

	m, err := p.extractor.Extract(img)
	if err != nil {
		return fmt.Errorf("extract morphometrics: %w", err)
	}

	update := models.MorphometricUpdate{
		Morphometrics: m,
		Latitude:      env.Latitude,
		Longitude:     env.Longitude,
	}
	if err := p.store.UpsertMorphometrics(ctx, env.SpecimenID, update); err != nil {
		return transient(fmt.Errorf("upsert morphometrics: %w", err))
	}

	data, err := json.Marshal(env.Features(m))
	if err != nil {
		return fmt.Errorf("marshal feature set: %w", err)
	}

	opts := []messaging.PublishOption{
		messaging.WithHeader(messaging.HeaderSpecimenID, env.SpecimenID),
		messaging.WithHeader(messaging.HeaderContentType, "application/json"),
	}
	if id := d.MessageID(); id != "" {
		// redeliveries republish under the same ID so the broker can drop the duplicate
		opts = append(opts, messaging.WithMessageID(id+"/features"))
	}
	if err := pub.Publish(ctx, p.outQueue, data, opts...); err != nil {
		return transient(fmt.Errorf("publish feature set: %w", err))
	}

	p.logger.InfoContext(ctx, "specimen measured",
		logging.SpecimenID(env.SpecimenID),
		"area", m.Area,
		"width", m.Width,
		"height", m.Height)
	return nil
}

// transient classifies infrastructure errors that arrived without a class.
func transient(err error) error {
	if failure.ClassOf(err) != failure.ClassUnclassified {
		return err
	}
	return failure.Transient(err)
}
