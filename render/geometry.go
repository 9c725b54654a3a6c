package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
)

// NormalizedLimit is the largest value a normalized coordinate can take.
// A box whose four values are all <= NormalizedLimit is scaled by the image
// size, so an absolute box inside the top-left pixel is read as normalized.
const NormalizedLimit = 1.0

var ErrInvalidBBox = errors.New("bbox must have exactly 4 coordinates")

var (
	Red    = color.RGBA{R: 255, A: 255}
	Blue   = color.RGBA{B: 255, A: 255}
	Green  = color.RGBA{G: 255, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

var categoryColors = map[string]color.RGBA{
	"face":          Red,
	"license_plate": Blue,
	"document":      Green,
}

// ColorFor maps a detection category to its stroke color.
func ColorFor(category string) color.RGBA {
	if c, ok := categoryColors[category]; ok {
		return c
	}
	return Yellow
}

// IsNormalized reports whether bbox should be read as fractions of the image.
func IsNormalized(bbox []float64) bool {
	for _, v := range bbox {
		if v > NormalizedLimit {
			return false
		}
	}
	return true
}

// Resolve converts bbox to pixel coordinates on a width x height image.
// Corner order is kept as given; the rectangle is not canonicalized.
func Resolve(bbox []float64, width, height int) (image.Rectangle, error) {
	if len(bbox) != 4 {
		return image.Rectangle{}, fmt.Errorf("%w, got %d", ErrInvalidBBox, len(bbox))
	}
	x0, y0, x1, y1 := bbox[0], bbox[1], bbox[2], bbox[3]
	if IsNormalized(bbox) {
		w, h := float64(width), float64(height)
		x0, y0, x1, y1 = x0*w, y0*h, x1*w, y1*h
	}
	return image.Rectangle{
		Min: image.Pt(pixel(x0), pixel(y0)),
		Max: image.Pt(pixel(x1), pixel(y1)),
	}, nil
}

func pixel(v float64) int {
	return int(math.Round(v))
}
