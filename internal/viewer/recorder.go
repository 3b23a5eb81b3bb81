package viewer

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// ClipOptions controls a single recording.
type ClipOptions struct {
	FrameType string        // buffer to record (feed default when empty)
	Duration  time.Duration // default 10s
	FPS       float64       // encode rate (default 15)
}

// ClipStatus describes one recording, active or finished.
type ClipStatus struct {
	Path     string    `json:"path"`
	Active   bool      `json:"active"`
	Frames   uint64    `json:"frames"`
	Started  time.Time `json:"started"`
	Error    string    `json:"error,omitempty"`
}

// Recorder writes MP4 clips by piping JPEG frames from a feed into an
// ffmpeg child process. One recording per stream at a time; a second start
// on the same stream fails while the first is still running.
type Recorder struct {
	clipDir string

	mu    sync.Mutex
	clips map[string]*clip
}

type clip struct {
	status ClipStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecorder creates a recorder writing into clipDir.
func NewRecorder(clipDir string) *Recorder {
	return &Recorder{clipDir: clipDir, clips: make(map[string]*clip)}
}

// Start begins recording the named feed and returns the clip path. The
// recording runs in the background until the duration elapses or the
// recorder shuts down.
func (r *Recorder) Start(ctx context.Context, streamID string, feed Feed, opts ClipOptions) (string, error) {
	if opts.Duration <= 0 {
		opts.Duration = 10 * time.Second
	}
	if opts.FPS <= 0 {
		opts.FPS = 15
	}

	if err := os.MkdirAll(r.clipDir, 0o755); err != nil {
		return "", fmt.Errorf("viewer: failed to create clip dir: %w", err)
	}
	path := filepath.Join(r.clipDir,
		fmt.Sprintf("%s_%s.mp4", streamID, time.Now().Format("20060102_150405")))

	r.mu.Lock()
	if c, ok := r.clips[streamID]; ok && c.status.Active {
		r.mu.Unlock()
		return "", fmt.Errorf("viewer: recording already active for stream %s", streamID)
	}
	runCtx, cancel := context.WithTimeout(ctx, opts.Duration+5*time.Second)
	c := &clip{
		status: ClipStatus{Path: path, Active: true, Started: time.Now()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.clips[streamID] = c
	r.mu.Unlock()

	go r.record(runCtx, streamID, c, feed, opts, path)
	return path, nil
}

// Status returns the state of all known recordings keyed by stream.
func (r *Recorder) Status() map[string]ClipStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ClipStatus, len(r.clips))
	for id, c := range r.clips {
		out[id] = c.status
	}
	return out
}

// Stop aborts all active recordings and waits for their encoders to exit.
func (r *Recorder) Stop() {
	r.mu.Lock()
	active := make([]*clip, 0, len(r.clips))
	for _, c := range r.clips {
		if c.status.Active {
			c.cancel()
			active = append(active, c)
		}
	}
	r.mu.Unlock()
	for _, c := range active {
		<-c.done
	}
}

func (r *Recorder) record(ctx context.Context, streamID string, c *clip, feed Feed, opts ClipOptions, path string) {
	defer close(c.done)
	defer c.cancel()

	err := r.pipe(ctx, feed, opts, path, func() {
		r.mu.Lock()
		c.status.Frames++
		r.mu.Unlock()
	})

	r.mu.Lock()
	c.status.Active = false
	if err != nil {
		c.status.Error = err.Error()
	}
	r.mu.Unlock()

	if err != nil {
		slog.Error("viewer: recording failed", "stream", streamID, "path", path, "error", err)
		return
	}
	slog.Info("viewer: recording finished", "stream", streamID, "path", path)
}

func (r *Recorder) pipe(ctx context.Context, feed Feed, opts ClipOptions, path string, onFrame func()) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-loglevel", "error",
		"-f", "image2pipe", "-vcodec", "mjpeg",
		"-framerate", fmt.Sprintf("%g", opts.FPS),
		"-i", "-",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("viewer: ffmpeg stdin: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("viewer: ffmpeg start: %w", err)
	}

	w := bufio.NewWriterSize(stdin, 256*1024)
	deadline := time.Now().Add(opts.Duration)
	ticker := time.NewTicker(time.Duration(float64(time.Second) / opts.FPS))

	writeErr := func() error {
		defer ticker.Stop()
		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			img, ok := feed.Render(opts.FrameType)
			if !ok {
				continue
			}
			// Clips keep native resolution regardless of preview scaling.
			if err := encodeJPEG(w, img, 0); err != nil {
				return err
			}
			onFrame()
		}
		return w.Flush()
	}()

	stdin.Close()
	if waitErr := cmd.Wait(); waitErr != nil && writeErr == nil {
		return fmt.Errorf("viewer: ffmpeg exited: %w", waitErr)
	}
	return writeErr
}
