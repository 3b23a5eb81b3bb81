// Package viewer is the HTTP collaborator: it serves MJPEG previews of the
// camera view streams and the fused output, records clips to disk, and
// exposes the health endpoint. It only ever Peeks the pipeline's mailboxes;
// it never consumes a record, so the data path is undisturbed.
package viewer

import (
	"image"

	"github.com/aesatchien/darkview/internal/mailbox"
	"github.com/aesatchien/darkview/internal/types"
)

// Feed exposes the latest frame of one stream for rendering.
//
// Render returns the requested buffer of the newest record: cameras accept
// "outlined" (default), "image" and "mask"; fusion accepts
// "fused_with_outline" (default) and "fused".
type Feed interface {
	Render(frameType string) (image.Image, bool)
	Timestamp() (float64, bool)
}

// CameraFeed adapts a camera view mailbox.
type CameraFeed struct {
	Box *mailbox.Mailbox[*types.FrameRecord]
}

// Render implements Feed.
func (f *CameraFeed) Render(frameType string) (image.Image, bool) {
	rec, ok := f.Box.Peek()
	if !ok {
		return nil, false
	}
	switch frameType {
	case "image":
		return rec.Image, true
	case "mask":
		return rec.Mask, true
	default:
		return rec.Outlined, true
	}
}

// Timestamp implements Feed.
func (f *CameraFeed) Timestamp() (float64, bool) {
	rec, ok := f.Box.Peek()
	if !ok {
		return 0, false
	}
	return rec.Timestamp, true
}

// FusionFeed adapts the fused output mailbox.
type FusionFeed struct {
	Box *mailbox.Mailbox[*types.FusedRecord]
}

// Render implements Feed.
func (f *FusionFeed) Render(frameType string) (image.Image, bool) {
	rec, ok := f.Box.Peek()
	if !ok {
		return nil, false
	}
	switch frameType {
	case "fused":
		return rec.Fused, true
	default:
		return rec.FusedWithOutline, true
	}
}

// Timestamp implements Feed.
func (f *FusionFeed) Timestamp() (float64, bool) {
	rec, ok := f.Box.Peek()
	if !ok {
		return 0, false
	}
	return rec.Timestamp, true
}
