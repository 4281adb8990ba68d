// Package seeder generates synthetic otolith specimens for exercising a pipeline.
package seeder

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/brianvoe/gofakeit/v6"
)

// Survey box the original specimens were collected in.
const (
	MinLatitude  = 8.0
	MaxLatitude  = 37.0
	MinLongitude = 68.0
	MaxLongitude = 97.0
)

// Config controls generated images.
type Config struct {
	Width    int
	Height   int
	IDPrefix string
}

// DefaultConfig returns a Config producing 320x240 images.
func DefaultConfig() Config {
	return Config{Width: 320, Height: 240, IDPrefix: "otolith"}
}

// Specimen is one generated submission.
type Specimen struct {
	ID        string
	Image     []byte
	Latitude  float64
	Longitude float64
	SemiMajor int
	SemiMinor int
}

// Payload returns the image as standard base64.
func (s Specimen) Payload() string {
	return base64.StdEncoding.EncodeToString(s.Image)
}

type Generator struct {
	faker *gofakeit.Faker
	cfg   Config
}

// NewGenerator returns a deterministic generator for seed. A zero seed is random.
func NewGenerator(cfg Config, seed int64) *Generator {
	if cfg.Width < 16 || cfg.Height < 16 {
		d := DefaultConfig()
		cfg.Width, cfg.Height = d.Width, d.Height
	}
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = DefaultConfig().IDPrefix
	}
	return &Generator{faker: gofakeit.New(seed), cfg: cfg}
}

// Next renders a dark, slightly rotated ellipse on a light background.
func (g *Generator) Next() (Specimen, error) {
	f := g.faker
	maxA := g.cfg.Width/2 - 4
	maxB := min(g.cfg.Height/2-4, maxA)
	a := f.IntRange(min(20, maxA), maxA)
	b := f.IntRange(min(10, maxB), min(maxB, max(a*7/10, min(10, maxB))))
	if b > a {
		b = a
	}
	angle := f.Float64Range(-0.35, 0.35)

	img := image.NewGray(image.Rect(0, 0, g.cfg.Width, g.cfg.Height))
	background := uint8(f.IntRange(200, 250))
	foreground := uint8(f.IntRange(10, 90))

	cx, cy := float64(g.cfg.Width)/2, float64(g.cfg.Height)/2
	sin, cos := math.Sincos(angle)
	for y := 0; y < g.cfg.Height; y++ {
		for x := 0; x < g.cfg.Width; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			u := (dx*cos + dy*sin) / float64(a)
			v := (-dx*sin + dy*cos) / float64(b)
			c := background
			if u*u+v*v <= 1 {
				c = foreground
			}
			img.SetGray(x, y, color.Gray{Y: c})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Specimen{}, fmt.Errorf("encode specimen image: %w", err)
	}

	return Specimen{
		ID:        fmt.Sprintf("%s-%s", g.cfg.IDPrefix, f.UUID()),
		Image:     buf.Bytes(),
		Latitude:  round(f.Float64Range(MinLatitude, MaxLatitude), 4),
		Longitude: round(f.Float64Range(MinLongitude, MaxLongitude), 4),
		SemiMajor: a,
		SemiMinor: b,
	}, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
