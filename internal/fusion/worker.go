package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aesatchien/darkview/internal/mailbox"
	"github.com/aesatchien/darkview/internal/types"
)

const (
	defaultWaitTimeout = time.Second
	defaultMaxSkew     = 0.2

	// skewWarnStreak is the consecutive-rejection count at which the
	// worker escalates skew logging from Debug to Warn. Sustained skew
	// freezes the fused output, and the operator should know.
	skewWarnStreak = 30
)

// WorkerConfig assembles a fusion worker.
type WorkerConfig struct {
	Cam1        *mailbox.Mailbox[*types.FrameRecord]
	Cam2        *mailbox.Mailbox[*types.FrameRecord]
	Out         *mailbox.Mailbox[*types.FusedRecord]
	Params      Params
	MaxSkew     float64       // seconds; default 0.2
	WaitTimeout time.Duration // per-queue frame wait; default 1s
}

// Worker pairs frames from the two capture streams and drives the fusion
// engine. Cycle: wait for one frame from each data mailbox (a timeout on
// either restarts the cycle, never a partial fusion), reject the pair if
// the timestamps diverge beyond the skew bound, fuse, publish with
// overwrite-latest discipline.
type Worker struct {
	cam1        *mailbox.Mailbox[*types.FrameRecord]
	cam2        *mailbox.Mailbox[*types.FrameRecord]
	out         *mailbox.Mailbox[*types.FusedRecord]
	maxSkew     float64
	waitTimeout time.Duration

	paramsMu sync.RWMutex
	params   Params

	frames     atomic.Uint64
	skewTotal  atomic.Uint64
	skewStreak atomic.Uint64

	started atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker validates the configuration fail-fast.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Cam1 == nil || cfg.Cam2 == nil || cfg.Out == nil {
		return nil, fmt.Errorf("fusion: worker needs cam1, cam2 and output mailboxes")
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = defaultMaxSkew
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	return &Worker{
		cam1:        cfg.Cam1,
		cam2:        cfg.Cam2,
		out:         cfg.Out,
		params:      cfg.Params,
		maxSkew:     cfg.MaxSkew,
		waitTimeout: cfg.WaitTimeout,
	}, nil
}

// Frames returns the monotonic fused-frame counter.
func (w *Worker) Frames() uint64 { return w.frames.Load() }

// SkewRejections returns the lifetime count of pairs dropped for excessive
// timestamp skew.
func (w *Worker) SkewRejections() uint64 { return w.skewTotal.Load() }

// Params returns the current alignment parameters.
func (w *Worker) Params() Params {
	w.paramsMu.RLock()
	defer w.paramsMu.RUnlock()
	return w.params
}

// SetTrim adjusts the overlap trim at runtime (control-plane calibration).
// Contour re-projection shifts follow the new trim unless they were
// configured explicitly, in which case the caller re-sets them too.
func (w *Worker) SetTrim(x, y int) {
	w.paramsMu.Lock()
	defer w.paramsMu.Unlock()
	w.params.TrimX = x
	w.params.TrimY = y
	w.params.Cam1Shift, w.params.Cam2Shift = DefaultContourShifts(x, y)
	slog.Info("fusion: trim updated", "trim_x", x, "trim_y", y)
}

// Start launches the fusion loop. Only the first call succeeds.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("fusion: worker already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(runCtx)
	slog.Info("fusion: worker started", "max_skew_s", w.maxSkew)
	return nil
}

// Stop terminates the loop. Idempotent; there is no resource to release
// beyond the goroutine join.
func (w *Worker) Stop() error {
	if !w.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	slog.Info("fusion: worker stopped", "frames", w.frames.Load(), "skew_rejections", w.skewTotal.Load())
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// WAIT_FRAMES: both streams or nothing.
		rec1, ok := w.cam1.Get(w.waitTimeout)
		if !ok {
			if ctx.Err() == nil {
				slog.Debug("fusion: timeout waiting for cam1 frame")
			}
			continue
		}
		rec2, ok := w.cam2.Get(w.waitTimeout)
		if !ok {
			if ctx.Err() == nil {
				slog.Debug("fusion: timeout waiting for cam2 frame")
			}
			continue
		}

		// CHECK_SKEW: drop temporally inconsistent pairs. A policy
		// decision, not a fault.
		skew := math.Abs(rec1.Timestamp - rec2.Timestamp)
		if skew > w.maxSkew {
			w.skewTotal.Add(1)
			streak := w.skewStreak.Add(1)
			if streak%skewWarnStreak == 0 {
				slog.Warn("fusion: sustained timestamp skew, fused output is stale",
					"skew_s", skew,
					"max_skew_s", w.maxSkew,
					"consecutive_rejections", streak,
				)
			} else {
				slog.Debug("fusion: timestamp skew too large, dropping pair",
					"skew_s", skew,
					"trace_id_cam1", rec1.TraceID,
					"trace_id_cam2", rec2.TraceID,
				)
			}
			continue
		}
		w.skewStreak.Store(0)

		// FUSE
		fused, err := Fuse(rec1, rec2, w.Params())
		if err != nil {
			slog.Error("fusion: fuse failed", "error", err, "trace_id", rec1.TraceID)
			continue
		}

		// PUBLISH
		fused.Seq = w.frames.Add(1)
		w.out.Put(fused)
	}
}
