// Package capture owns the camera side of the pipeline: a Source produces
// one grayscale frame per grab, and a Worker turns each grab into one or
// two published frame records (standard vs. split dual-sensor devices).
package capture

import (
	"context"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/aesatchien/darkview/internal/types"
)

// Source acquires one grayscale frame per Grab call.
//
// Grab returns the frame and its monotonic capture timestamp in seconds.
// A transient acquisition failure is an error the worker retries after a
// backoff; it is never fatal. Implementations own their device handle
// exclusively; Close releases it and must be idempotent.
type Source interface {
	Open() error
	Grab(ctx context.Context) (*image.Gray, float64, error)
	Close() error
}

// Generator synthesizes a frame for a given canvas size and monotonic time.
// Used for development and tests without camera hardware.
type Generator func(w, h int, t float64) *image.Gray

// SyntheticSource produces generated frames paced to a target FPS.
type SyntheticSource struct {
	width  int
	height int
	gen    Generator
	period time.Duration
}

// NewSyntheticSource returns a source emitting gen frames at fps.
func NewSyntheticSource(width, height int, fps float64, gen Generator) (*SyntheticSource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("capture: invalid synthetic resolution %dx%d", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("capture: invalid synthetic fps %.2f", fps)
	}
	if gen == nil {
		return nil, fmt.Errorf("capture: synthetic source needs a generator")
	}
	return &SyntheticSource{
		width:  width,
		height: height,
		gen:    gen,
		period: time.Duration(float64(time.Second) / fps),
	}, nil
}

// Open implements Source. Synthetic sources have no device to acquire.
func (s *SyntheticSource) Open() error { return nil }

// Grab implements Source, pacing generation to the configured rate.
func (s *SyntheticSource) Grab(ctx context.Context) (*image.Gray, float64, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-time.After(s.period):
	}
	ts := types.MonotonicSeconds()
	return s.gen(s.width, s.height, ts), ts, nil
}

// Close implements Source.
func (s *SyntheticSource) Close() error { return nil }

// GeneratorByName resolves the synthetic source names accepted in config.
func GeneratorByName(name string) (Generator, error) {
	switch name {
	case "rect":
		return StaticRect, nil
	case "grid":
		return StaticGrid, nil
	case "bar":
		return MovingBar, nil
	default:
		return nil, fmt.Errorf("capture: unknown synthetic generator %q", name)
	}
}

// StaticRect draws one fully saturated rectangle on a black canvas.
func StaticRect(w, h int, _ float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	fillRect(img, image.Rect(w/4, h*5/12, w*3/4, h*2/3), 255)
	return img
}

// StaticGrid draws a checkerboard of saturated tiles on a dim background,
// useful for eyeballing trim registration.
func StaticGrid(w, h int, _ float64) *image.Gray {
	const tile = 64
	const gap = 10
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 64
	}
	for r := 0; r < h/tile; r++ {
		for c := 0; c < w/tile; c++ {
			if (r+c)%2 != 0 {
				continue
			}
			x0 := c*tile + gap/2
			y0 := r*tile + gap/2
			fillRect(img, image.Rect(x0, y0, x0+tile-gap, y0+tile-gap), 255)
		}
	}
	return img
}

// MovingBar sweeps a half-bright/saturated double bar across the canvas.
func MovingBar(w, h int, t float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	x := int(math.Mod(t*90, float64(w)))
	fillRect(img, image.Rect(x, h*5/12, x+w/12, h*2/3), 128)
	fillRect(img, image.Rect(x+w/12, h*5/12, x+w/6, h*2/3), 255)
	return img
}

func fillRect(img *image.Gray, r image.Rectangle, v uint8) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Pix[y*img.Stride+r.Min.X : y*img.Stride+r.Max.X]
		for i := range row {
			row[i] = v
		}
	}
}
