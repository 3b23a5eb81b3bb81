package viewer_test

import (
	"image"
	"testing"

	"github.com/aesatchien/darkview/internal/imaging"
	"github.com/aesatchien/darkview/internal/mailbox"
	"github.com/aesatchien/darkview/internal/types"
	"github.com/aesatchien/darkview/internal/viewer"
)

// TestCameraFeedRender: the frame-type selector picks the right buffer of
// the newest record, and rendering never consumes the slot.
func TestCameraFeedRender(t *testing.T) {
	box := mailbox.New[*types.FrameRecord]()
	feed := &viewer.CameraFeed{Box: box}

	if _, ok := feed.Render(""); ok {
		t.Fatal("empty mailbox rendered a frame")
	}
	if _, ok := feed.Timestamp(); ok {
		t.Fatal("empty mailbox reported a timestamp")
	}

	rec := &types.FrameRecord{
		Timestamp: 3.5,
		Image:     image.NewGray(image.Rect(0, 0, 8, 8)),
		Mask:      image.NewGray(image.Rect(0, 0, 8, 8)),
		Outlined:  imaging.NewRGB(image.Rect(0, 0, 8, 8)),
	}
	box.Put(rec)

	if img, ok := feed.Render("image"); !ok || img != image.Image(rec.Image) {
		t.Error("frame type image did not select the intensity buffer")
	}
	if img, ok := feed.Render("mask"); !ok || img != image.Image(rec.Mask) {
		t.Error("frame type mask did not select the mask buffer")
	}
	if img, ok := feed.Render(""); !ok || img != image.Image(rec.Outlined) {
		t.Error("default frame type did not select the outlined preview")
	}
	if ts, ok := feed.Timestamp(); !ok || ts != 3.5 {
		t.Errorf("timestamp = (%v, %v), want 3.5", ts, ok)
	}

	// A pipeline consumer must still find the record.
	if _, ok := box.Peek(); !ok {
		t.Error("rendering consumed the mailbox slot")
	}
}

func TestFusionFeedRender(t *testing.T) {
	box := mailbox.New[*types.FusedRecord]()
	feed := &viewer.FusionFeed{Box: box}

	rec := &types.FusedRecord{
		Timestamp:        7.0,
		Fused:            image.NewGray(image.Rect(0, 0, 8, 8)),
		FusedWithOutline: imaging.NewRGB(image.Rect(0, 0, 8, 8)),
	}
	box.Put(rec)

	if img, ok := feed.Render("fused"); !ok || img != image.Image(rec.Fused) {
		t.Error("frame type fused did not select the composite buffer")
	}
	if img, ok := feed.Render(""); !ok || img != image.Image(rec.FusedWithOutline) {
		t.Error("default frame type did not select the outlined composite")
	}
}
