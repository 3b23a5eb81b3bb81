package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aesatchien/darkview/internal/imaging"
	"github.com/aesatchien/darkview/internal/mailbox"
	"github.com/aesatchien/darkview/internal/types"
)

const (
	defaultGrabBackoff = 50 * time.Millisecond
	defaultPausePoll   = 10 * time.Millisecond
)

// Tap turns a region of the captured frame into published frame records.
//
// A standard worker has one tap covering the whole frame; the split-source
// variant has two taps, one per half of a wide dual-sensor frame. Each tap
// carries its own threshold, overlay color, destination mailboxes, and
// frame counter, so the two halves are fully independent downstream.
type Tap struct {
	// ID names the logical camera this tap produces ("cam1", "cam2").
	ID string

	// Region is the sub-rectangle of the captured frame this tap covers.
	// The zero rectangle means the full frame.
	Region image.Rectangle

	// Threshold is the saturation threshold (inclusive) for the mask.
	Threshold uint8

	// Color is the overlay color for contour drawing.
	Color color.RGBA

	// Data and View are the tap's output mailboxes. Data feeds fusion,
	// View feeds the external viewer directly. Publishing evicts stale
	// entries rather than blocking.
	Data *mailbox.Mailbox[*types.FrameRecord]
	View *mailbox.Mailbox[*types.FrameRecord]

	frames atomic.Uint64
}

// Frames returns the tap's monotonic frame counter. Increments are never
// lost even when records are dropped downstream.
func (t *Tap) Frames() uint64 { return t.frames.Load() }

// Config assembles a capture worker.
type Config struct {
	Name        string
	Source      Source
	Taps        []*Tap
	GrabBackoff time.Duration // retry delay after a failed grab (default 50ms)
	PausePoll   time.Duration // pause flag poll interval (default 10ms)
}

// Worker continuously grabs frames from its source and publishes one frame
// record per tap per cycle. One goroutine per worker; all cross-thread
// control is the atomic pause flag and context cancellation.
type Worker struct {
	name        string
	src         Source
	taps        []*Tap
	grabBackoff time.Duration
	pausePoll   time.Duration

	paused  atomic.Bool
	started atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker validates the configuration fail-fast.
func NewWorker(cfg Config) (*Worker, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("capture: worker name is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("capture: worker %s needs a source", cfg.Name)
	}
	if len(cfg.Taps) < 1 || len(cfg.Taps) > 2 {
		return nil, fmt.Errorf("capture: worker %s needs 1 or 2 taps, got %d", cfg.Name, len(cfg.Taps))
	}
	for _, tap := range cfg.Taps {
		if tap.ID == "" {
			return nil, fmt.Errorf("capture: worker %s has a tap without an id", cfg.Name)
		}
		if tap.Data == nil || tap.View == nil {
			return nil, fmt.Errorf("capture: tap %s needs data and view mailboxes", tap.ID)
		}
		if tap.Threshold == 0 {
			return nil, fmt.Errorf("capture: tap %s needs a saturation threshold", tap.ID)
		}
	}
	if cfg.GrabBackoff <= 0 {
		cfg.GrabBackoff = defaultGrabBackoff
	}
	if cfg.PausePoll <= 0 {
		cfg.PausePoll = defaultPausePoll
	}
	return &Worker{
		name:        cfg.Name,
		src:         cfg.Source,
		taps:        cfg.Taps,
		grabBackoff: cfg.GrabBackoff,
		pausePoll:   cfg.PausePoll,
	}, nil
}

// Taps returns the worker's taps.
func (w *Worker) Taps() []*Tap { return w.taps }

// Name returns the worker's name.
func (w *Worker) Name() string { return w.name }

// Pause suspends capture until Resume. The flag is polled every idle cycle,
// so suspension takes effect within the poll interval. Used to hand the
// device to an exposure-tuning routine undisturbed.
func (w *Worker) Pause() { w.paused.Store(true) }

// Resume clears the pause flag; capture restarts on the next poll.
func (w *Worker) Resume() { w.paused.Store(false) }

// IsPaused reports the pause flag.
func (w *Worker) IsPaused() bool { return w.paused.Load() }

// Start opens the source and launches the capture loop. Only the first
// call succeeds.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("capture: worker %s already started", w.name)
	}
	if err := w.src.Open(); err != nil {
		return fmt.Errorf("capture: worker %s failed to open source: %w", w.name, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(runCtx)

	slog.Info("capture: worker started", "worker", w.name, "taps", len(w.taps))
	return nil
}

// Stop terminates the loop after at most one in-flight cycle and releases
// the device handle. Idempotent; safe without a prior Start.
func (w *Worker) Stop() error {
	if !w.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	err := w.src.Close()
	slog.Info("capture: worker stopped", "worker", w.name)
	return err
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.paused.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pausePoll):
			}
			continue
		}

		img, ts, err := w.src.Grab(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("capture: frame grab failed", "worker", w.name, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.grabBackoff):
			}
			continue
		}

		for _, tap := range w.taps {
			w.publish(tap, img, ts)
		}
	}
}

// publish runs the per-tap processing chain: sub-frame → saturation mask →
// external contours → outlined preview → record published to both
// mailboxes with overwrite-latest discipline.
func (w *Worker) publish(tap *Tap, img *image.Gray, ts float64) {
	region := tap.Region
	if region.Empty() {
		region = img.Bounds()
	}
	sub := imaging.SubGray(img, region)

	mask := imaging.ComputeMask(sub, tap.Threshold)
	contours := imaging.FindContours(mask)
	outlined := imaging.GrayToRGB(sub)
	imaging.DrawContours(outlined, contours, tap.Color, 2)

	rec := &types.FrameRecord{
		Timestamp: ts,
		Image:     sub,
		Mask:      mask,
		Outlined:  outlined,
		Contours:  contours,
		Seq:       tap.frames.Add(1),
		Source:    tap.ID,
		TraceID:   uuid.New().String(),
	}

	tap.Data.Put(rec)
	tap.View.Put(rec)
}
