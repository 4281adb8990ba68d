package models

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/oceanlab/specimen-stack/common/failure"
)

// MaxSpecimenIDLength bounds caller-assigned identifiers (matches the record store column).
const MaxSpecimenIDLength = 255

var specimenIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

var (
	ErrEmptySpecimenID   = errors.New("specimenId is required")
	ErrInvalidSpecimenID = errors.New("specimenId contains invalid characters")
	ErrSpecimenIDTooLong = errors.New("specimenId is too long")
	ErrEmptyPayload      = errors.New("payload is required")
	ErrInvalidLocation   = errors.New("latitude/longitude out of range")
)

// SubmissionEnvelope is published to the morphometrics queue by the gateway.
// Payload is the base64 encoded image, carried inline.
type SubmissionEnvelope struct {
	SpecimenID  string    `json:"specimenId"`
	Payload     string    `json:"payload"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Morphometrics is the field group owned by the morphometric stage.
type Morphometrics struct {
	Area        float64 `json:"area"`
	Perimeter   float64 `json:"perimeter"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspectRatio"`
}

// FeatureSet is published to the classification queue once per processed envelope.
type FeatureSet struct {
	SpecimenID string `json:"specimenId"`
	Morphometrics
}

// SpecimenRecord is the persisted, stage-enriched view of a specimen.
// Morphometric fields are nil until the morphometric stage has written them and
// PredictedLabel is nil until the classification stage has.
type SpecimenRecord struct {
	SpecimenID     string    `json:"specimenId"`
	Area           *float64  `json:"area"`
	Perimeter      *float64  `json:"perimeter"`
	Width          *int      `json:"width"`
	Height         *int      `json:"height"`
	AspectRatio    *float64  `json:"aspectRatio"`
	PredictedLabel *string   `json:"predictedLabel"`
	Latitude       *float64  `json:"latitude"`
	Longitude      *float64  `json:"longitude"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// MorphometricUpdate is what the morphometric stage writes for one specimen.
// Nil coordinates leave the stored location untouched.
type MorphometricUpdate struct {
	Morphometrics
	Latitude  *float64
	Longitude *float64
}

// HasMorphometrics reports whether the morphometric stage has written this record.
func (r *SpecimenRecord) HasMorphometrics() bool {
	return r.Area != nil && r.Width != nil && r.Height != nil
}

// HasClassification reports whether the classification stage has written this record.
func (r *SpecimenRecord) HasClassification() bool {
	return r.PredictedLabel != nil && *r.PredictedLabel != ""
}

// ValidateSpecimenID checks a caller-assigned specimen identifier.
func ValidateSpecimenID(id string) error {
	switch {
	case id == "":
		return ErrEmptySpecimenID
	case len(id) > MaxSpecimenIDLength:
		return ErrSpecimenIDTooLong
	case !specimenIDPattern.MatchString(id):
		return ErrInvalidSpecimenID
	}
	return nil
}

// ValidateLocation checks optional coordinates; both or neither may be set.
func ValidateLocation(lat, lon *float64) error {
	if (lat == nil) != (lon == nil) {
		return fmt.Errorf("%w: latitude and longitude must be provided together", ErrInvalidLocation)
	}
	if lat == nil {
		return nil
	}
	if math.IsNaN(*lat) || *lat < -90 || *lat > 90 {
		return ErrInvalidLocation
	}
	if math.IsNaN(*lon) || *lon < -180 || *lon > 180 {
		return ErrInvalidLocation
	}
	return nil
}

// Validate checks the envelope fields that the pipeline relies on.
func (e *SubmissionEnvelope) Validate() error {
	if err := ValidateSpecimenID(e.SpecimenID); err != nil {
		return err
	}
	if strings.TrimSpace(e.Payload) == "" {
		return ErrEmptyPayload
	}
	return ValidateLocation(e.Latitude, e.Longitude)
}

// DecodePayload returns the raw image bytes carried by the envelope.
// It accepts a data URL prefix ("data:image/png;base64,") and repairs missing padding.
func (e *SubmissionEnvelope) DecodePayload() ([]byte, error) {
	data := strings.TrimSpace(e.Payload)
	if i := strings.Index(data, "base64,"); i >= 0 {
		data = data[i+len("base64,"):]
	}
	data = strings.TrimRight(data, "=")
	if data == "" {
		return nil, failure.Malformed(ErrEmptyPayload)
	}
	raw, err := base64.RawStdEncoding.DecodeString(data)
	if err != nil {
		// URL-safe alphabet is common from browser uploads
		if urlRaw, urlErr := base64.RawURLEncoding.DecodeString(data); urlErr == nil {
			return urlRaw, nil
		}
		return nil, failure.Malformedf("decode payload: %w", err)
	}
	return raw, nil
}

// Features returns the FeatureSet derived from a successful extraction.
func (e *SubmissionEnvelope) Features(m Morphometrics) FeatureSet {
	return FeatureSet{SpecimenID: e.SpecimenID, Morphometrics: m}
}

// Validate rejects feature values that cannot have come from an extraction.
func (m Morphometrics) Validate() error {
	for name, v := range map[string]float64{
		"area":        m.Area,
		"perimeter":   m.Perimeter,
		"aspectRatio": m.AspectRatio,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("invalid %s: %v", name, v)
		}
	}
	if m.Width < 0 || m.Height < 0 {
		return fmt.Errorf("invalid dimensions: %dx%d", m.Width, m.Height)
	}
	return nil
}

// DecodeEnvelope parses and validates a SubmissionEnvelope message body.
// All errors are classified as Malformed.
func DecodeEnvelope(data []byte) (*SubmissionEnvelope, error) {
	var env SubmissionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, failure.Malformedf("unmarshal submission envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, failure.Malformedf("invalid submission envelope: %w", err)
	}
	return &env, nil
}

// DecodeFeatureSet parses and validates a FeatureSet message body.
// All errors are classified as Malformed.
func DecodeFeatureSet(data []byte) (*FeatureSet, error) {
	var fs FeatureSet
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, failure.Malformedf("unmarshal feature set: %w", err)
	}
	if err := ValidateSpecimenID(fs.SpecimenID); err != nil {
		return nil, failure.Malformedf("invalid feature set: %w", err)
	}
	return &fs, nil
}
