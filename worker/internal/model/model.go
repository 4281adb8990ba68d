// Package model provides the species classifier used by the classification
// worker: a nearest-centroid model stored as YAML.
package model

import (
	_ "embed"
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/oceanlab/specimen-stack/common/failure"
	"github.com/oceanlab/specimen-stack/common/models"
)

//go:embed default_model.yaml
var defaultModel []byte

var (
	ErrModelUnavailable = errors.New("classification model unavailable")
	ErrInvalidFeatures  = errors.New("invalid features")
	ErrInvalidModel     = errors.New("invalid model")
)

// Vector holds one value per feature.
type Vector struct {
	Area        float64 `yaml:"area"`
	Perimeter   float64 `yaml:"perimeter"`
	Width       float64 `yaml:"width"`
	Height      float64 `yaml:"height"`
	AspectRatio float64 `yaml:"aspectRatio"`
}

func (v Vector) values() [5]float64 {
	return [5]float64{v.Area, v.Perimeter, v.Width, v.Height, v.AspectRatio}
}

func vectorOf(m models.Morphometrics) Vector {
	return Vector{
		Area:        m.Area,
		Perimeter:   m.Perimeter,
		Width:       float64(m.Width),
		Height:      float64(m.Height),
		AspectRatio: m.AspectRatio,
	}
}

// Class is one label and its centroid.
type Class struct {
	Label    string `yaml:"label"`
	Centroid Vector `yaml:"centroid"`
}

// Model is a nearest-centroid classifier.
type Model struct {
	Name    string  `yaml:"name"`
	Version int     `yaml:"version"`
	Scale   Vector  `yaml:"scale"`
	Classes []Class `yaml:"classes"`
}

// Parse decodes and validates a YAML model.
func Parse(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Default returns the embedded model.
func Default() *Model {
	m, err := Parse(defaultModel)
	if err != nil {
		panic(fmt.Sprintf("embedded model: %v", err))
	}
	return m
}

func (m *Model) validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("%w: no classes", ErrInvalidModel)
	}
	for i, c := range m.Classes {
		if c.Label == "" {
			return fmt.Errorf("%w: class %d has no label", ErrInvalidModel, i)
		}
	}
	for _, s := range m.Scale.values() {
		if s < 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: scale must be finite and non-negative", ErrInvalidModel)
		}
	}
	return nil
}

// Classify returns the label of the nearest centroid. Features that cannot
// come from an extraction are Malformed.
func (m *Model) Classify(features models.Morphometrics) (string, error) {
	if err := features.Validate(); err != nil {
		return "", failure.Malformed(fmt.Errorf("%w: %w", ErrInvalidFeatures, err))
	}

	x := vectorOf(features).values()
	scale := m.Scale.values()

	best, bestDist := "", math.Inf(1)
	for _, c := range m.Classes {
		cv := c.Centroid.values()
		var d float64
		for i := range x {
			s := scale[i]
			if s == 0 {
				s = 1
			}
			diff := (x[i] - cv[i]) / s
			d += diff * diff
		}
		if d < bestDist {
			best, bestDist = c.Label, d
		}
	}
	return best, nil
}

// Labels lists the labels the model can predict.
func (m *Model) Labels() []string {
	labels := make([]string, len(m.Classes))
	for i, c := range m.Classes {
		labels[i] = c.Label
	}
	return labels
}
