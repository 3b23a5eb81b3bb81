package fusion_test

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/aesatchien/darkview/internal/fusion"
	"github.com/aesatchien/darkview/internal/mailbox"
	"github.com/aesatchien/darkview/internal/types"
)

func newWorkerUnderTest(t *testing.T, maxSkew float64) (*fusion.Worker,
	*mailbox.Mailbox[*types.FrameRecord],
	*mailbox.Mailbox[*types.FrameRecord],
	*mailbox.Mailbox[*types.FusedRecord]) {
	t.Helper()

	cam1 := mailbox.New[*types.FrameRecord]()
	cam2 := mailbox.New[*types.FrameRecord]()
	out := mailbox.New[*types.FusedRecord]()

	w, err := fusion.NewWorker(fusion.WorkerConfig{
		Cam1:        cam1,
		Cam2:        cam2,
		Out:         out,
		MaxSkew:     maxSkew,
		WaitTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return w, cam1, cam2, out
}

func TestNewWorkerValidation(t *testing.T) {
	_, err := fusion.NewWorker(fusion.WorkerConfig{})
	if err == nil {
		t.Error("worker without mailboxes should fail")
	}
}

// TestWorkerFusesAlignedPair: a pair within the skew bound produces one
// fused record with the worker's sequence number.
func TestWorkerFusesAlignedPair(t *testing.T) {
	w, cam1, cam2, out := newWorkerUnderTest(t, 0.15)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	cam1.Put(record(grayOf(32, 32, 255), 250, 10.0))
	cam2.Put(record(grayOf(32, 32, 50), 250, 10.1))

	fused, ok := out.Get(2 * time.Second)
	if !ok {
		t.Fatal("no fused record for an aligned pair")
	}
	if fused.Seq != 1 {
		t.Errorf("seq = %d, want 1", fused.Seq)
	}
	if w.Frames() != 1 {
		t.Errorf("frame counter = %d, want 1", w.Frames())
	}
	if w.SkewRejections() != 0 {
		t.Errorf("skew rejections = %d, want 0", w.SkewRejections())
	}
}

// TestWorkerRejectsSkewedPair: timestamps beyond the bound drop the pair
// without emitting, and the stream recovers on the next aligned pair.
func TestWorkerRejectsSkewedPair(t *testing.T) {
	w, cam1, cam2, out := newWorkerUnderTest(t, 0.15)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	cam1.Put(record(grayOf(32, 32, 255), 250, 10.0))
	cam2.Put(record(grayOf(32, 32, 50), 250, 10.2))

	deadline := time.Now().Add(2 * time.Second)
	for w.SkewRejections() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if w.SkewRejections() != 1 {
		t.Fatalf("skew rejections = %d, want 1", w.SkewRejections())
	}
	if _, ok := out.Peek(); ok {
		t.Fatal("skewed pair produced a fused record")
	}

	cam1.Put(record(grayOf(32, 32, 255), 250, 20.0))
	cam2.Put(record(grayOf(32, 32, 50), 250, 20.05))
	if _, ok := out.Get(2 * time.Second); !ok {
		t.Fatal("worker did not recover after a skew rejection")
	}
}

// TestWorkerTimeoutRestartsCycle: with only cam1 publishing, the worker
// must keep cycling on its wait timeout without emitting partial fusions.
func TestWorkerTimeoutRestartsCycle(t *testing.T) {
	w, cam1, cam2, out := newWorkerUnderTest(t, 0.15)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	cam1.Put(record(grayOf(32, 32, 255), 250, 10.0))
	time.Sleep(500 * time.Millisecond)

	if _, ok := out.Peek(); ok {
		t.Fatal("fused record emitted with only one stream publishing")
	}

	// Both streams present again: fusion resumes.
	cam1.Put(record(grayOf(32, 32, 255), 250, 30.0))
	cam2.Put(record(grayOf(32, 32, 50), 250, 30.0))
	if _, ok := out.Get(2 * time.Second); !ok {
		t.Fatal("worker stuck after a wait timeout")
	}
}

func TestWorkerSetTrim(t *testing.T) {
	w, _, _, _ := newWorkerUnderTest(t, 0.15)

	w.SetTrim(12, -3)
	p := w.Params()
	if p.TrimX != 12 || p.TrimY != -3 {
		t.Errorf("trim = (%d,%d), want (12,-3)", p.TrimX, p.TrimY)
	}
	if p.Cam1Shift != image.Pt(-12, 0) || p.Cam2Shift != image.Pt(0, -3) {
		t.Errorf("derived shifts = %v/%v", p.Cam1Shift, p.Cam2Shift)
	}
}

func TestWorkerLifecycle(t *testing.T) {
	w, _, _, _ := newWorkerUnderTest(t, 0.15)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}
