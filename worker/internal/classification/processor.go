// Package classification implements the classification stage: predict a label
// for a FeatureSet and record it.
package classification

import (
	"context"
	"errors"
	"fmt"

	"github.com/oceanlab/specimen-stack/common/failure"
	"github.com/oceanlab/specimen-stack/common/logging"
	"github.com/oceanlab/specimen-stack/common/messaging"
	"github.com/oceanlab/specimen-stack/common/models"
)

// ErrEmptyLabel is returned when the classifier produced no label.
var ErrEmptyLabel = errors.New("classifier returned an empty label")

// Classifier predicts a label. An unloaded model must report an Unavailable
// error and bad features a Malformed one.
type Classifier interface {
	Classify(features models.Morphometrics) (string, error)
}

// Store is the part of the record store this stage writes.
type Store interface {
	UpsertClassification(ctx context.Context, specimenID, label string) error
}

// Processor handles FeatureSet deliveries.
type Processor struct {
	classifier Classifier
	store      Store
	logger     *logging.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(c Classifier, store Store, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		classifier: c,
		store:      store,
		logger:     logger.With(logging.Component("classification")),
	}
}

// Handle processes one delivery. The publisher is unused; this is the last stage.
func (p *Processor) Handle(ctx context.Context, _ messaging.Publisher, d messaging.Delivery) error {
	fs, err := models.DecodeFeatureSet(d.Data())
	if err != nil {
		return err
	}
	ctx = logging.ContextWithSpecimen(ctx, fs.SpecimenID)

	label, err := p.classifier.Classify(fs.Morphometrics)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if label == "" {
		return failure.Capability(ErrEmptyLabel)
	}

	if err := p.store.UpsertClassification(ctx, fs.SpecimenID, label); err != nil {
		if failure.ClassOf(err) == failure.ClassUnclassified {
			err = failure.Transient(err)
		}
		return fmt.Errorf("upsert classification: %w", err)
	}

	p.logger.InfoContext(ctx, "specimen classified",
		logging.SpecimenID(fs.SpecimenID),
		"label", label)
	return nil
}
