// Package extractor computes morphometric features from a specimen image.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/oceanlab/specimen-stack/common/failure"
	"github.com/oceanlab/specimen-stack/common/models"
)

var (
	ErrUndecodable     = errors.New("payload is not a decodable image")
	ErrImageTooLarge   = errors.New("image exceeds pixel limit")
	ErrEmptyImage      = errors.New("image has no pixels")
	ErrNoFeatureRegion = errors.New("no feature region found")
)

// Extractor turns an encoded image into morphometrics. Decode failures are
// Malformed; an image without a feature region is a Capability failure.
type Extractor interface {
	Extract(img []byte) (models.Morphometrics, error)
}

// Polarity selects which side of the threshold is the specimen.
type Polarity string

const (
	// PolarityDark treats pixels at or below the threshold as the specimen.
	PolarityDark Polarity = "dark"
	// PolarityBright treats pixels above the threshold as the specimen.
	PolarityBright Polarity = "bright"
	// PolarityAuto tries dark first and falls back to bright when nothing is dark.
	PolarityAuto Polarity = "auto"
)

// Config configures a RegionExtractor.
type Config struct {
	Threshold uint8
	Polarity  Polarity
	MaxPixels int
}

// DefaultConfig returns the defaults used by the morphometric worker.
func DefaultConfig() Config {
	return Config{
		Threshold: 127,
		Polarity:  PolarityAuto,
		MaxPixels: 40_000_000,
	}
}

// RegionExtractor thresholds a grayscale copy of the image and measures the
// largest 8-connected foreground region.
type RegionExtractor struct {
	cfg Config
}

var _ Extractor = (*RegionExtractor)(nil)

// New creates a RegionExtractor.
func New(cfg Config) *RegionExtractor {
	if cfg.Polarity == "" {
		cfg.Polarity = PolarityAuto
	}
	return &RegionExtractor{cfg: cfg}
}

// Extract decodes img and measures its largest feature region.
func (e *RegionExtractor) Extract(img []byte) (models.Morphometrics, error) {
	hdr, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return models.Morphometrics{}, failure.Malformed(fmt.Errorf("%w: %w", ErrUndecodable, err))
	}
	if hdr.Width <= 0 || hdr.Height <= 0 {
		return models.Morphometrics{}, failure.Malformed(ErrEmptyImage)
	}
	if e.cfg.MaxPixels > 0 && hdr.Width*hdr.Height > e.cfg.MaxPixels {
		return models.Morphometrics{}, failure.Malformed(
			fmt.Errorf("%w: %dx%d > %d", ErrImageTooLarge, hdr.Width, hdr.Height, e.cfg.MaxPixels))
	}

	decoded, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return models.Morphometrics{}, failure.Malformed(fmt.Errorf("%w: %w", ErrUndecodable, err))
	}

	m, ok := e.measure(decoded)
	if !ok {
		return models.Morphometrics{}, failure.Capability(ErrNoFeatureRegion)
	}
	return m, nil
}

func (e *RegionExtractor) measure(img image.Image) (models.Morphometrics, bool) {
	gray := grayscale(img)

	switch e.cfg.Polarity {
	case PolarityBright:
		return largestRegion(threshold(gray, e.cfg.Threshold, false))
	case PolarityDark:
		return largestRegion(threshold(gray, e.cfg.Threshold, true))
	default:
		if m, ok := largestRegion(threshold(gray, e.cfg.Threshold, true)); ok {
			return m, true
		}
		return largestRegion(threshold(gray, e.cfg.Threshold, false))
	}
}

func grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return out
}

// mask is a row-major foreground bitmap.
type mask struct {
	w, h int
	fg   []bool
}

func (m *mask) at(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.w && y < m.h && m.fg[y*m.w+x]
}

func threshold(g *image.Gray, t uint8, dark bool) *mask {
	b := g.Bounds()
	m := &mask{w: b.Dx(), h: b.Dy(), fg: make([]bool, b.Dx()*b.Dy())}
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			v := g.GrayAt(x, y).Y
			m.fg[y*m.w+x] = (dark && v <= t) || (!dark && v > t)
		}
	}
	return m
}

type region struct {
	area                   int
	perimeter              int
	minX, minY, maxX, maxY int
}

// largestRegion labels 8-connected regions and measures the one with the most
// pixels. Ties go to the region found first in row-major order.
func largestRegion(m *mask) (models.Morphometrics, bool) {
	seen := make([]bool, len(m.fg))
	var best *region
	stack := make([]int, 0, 64)

	for start := range m.fg {
		if !m.fg[start] || seen[start] {
			continue
		}

		r := &region{minX: m.w, minY: m.h, maxX: -1, maxY: -1}
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%m.w, i/m.w

			r.area++
			r.minX, r.maxX = min(r.minX, x), max(r.maxX, x)
			r.minY, r.maxY = min(r.minY, y), max(r.maxY, y)
			for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				if !m.at(x+d[0], y+d[1]) {
					r.perimeter++
				}
			}

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if !m.at(nx, ny) {
						continue
					}
					j := ny*m.w + nx
					if !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}

		if best == nil || r.area > best.area {
			best = r
		}
	}

	if best == nil {
		return models.Morphometrics{}, false
	}

	width := best.maxX - best.minX + 1
	height := best.maxY - best.minY + 1
	return models.Morphometrics{
		Area:        float64(best.area),
		Perimeter:   float64(best.perimeter),
		Width:       width,
		Height:      height,
		AspectRatio: math.Round(float64(width)/float64(height)*1000) / 1000,
	}, true
}
