// Package types defines the frame records exchanged between pipeline stages.
//
// A record is immutable once published: the producer hands ownership to a
// mailbox slot, and whichever consumer dequeues it owns it exclusively. No
// stage retains history beyond the latest record.
package types

import (
	"image"
	"time"

	"github.com/aesatchien/darkview/internal/imaging"
)

// FrameRecord is one camera's output for one capture cycle.
type FrameRecord struct {
	// Timestamp is the monotonic capture time in seconds.
	Timestamp float64

	// Image is the single-channel intensity frame.
	Image *image.Gray

	// Mask is the binary saturation mask, same dimensions as Image:
	// 255 where intensity reached the saturation threshold.
	Mask *image.Gray

	// Outlined is the 3-channel preview: Image expanded to color with the
	// mask boundary contours drawn in the camera's overlay color.
	Outlined *imaging.RGB

	// Contours are the external boundaries of the connected saturated
	// regions, one chain per region.
	Contours []imaging.Contour

	// Seq is the camera's monotonic frame counter value for this record.
	Seq uint64

	// Source identifies the producing camera ("cam1", "cam2").
	Source string

	// TraceID ties log lines across pipeline stages to one capture cycle.
	TraceID string
}

// FusedRecord is the composite output of one fusion cycle.
type FusedRecord struct {
	// Timestamp is the monotonic time of fusion, not of either source frame.
	Timestamp float64

	// Fused is the single-channel composite: cam1 geometry with saturated
	// regions replaced by cam2 pixels, padded back to full canvas width.
	Fused *image.Gray

	// FusedWithOutline is the 3-channel composite with both cameras'
	// contours re-projected and drawn. Always the same dimensions as Fused.
	FusedWithOutline *imaging.RGB

	// Seq is the fusion worker's monotonic counter value for this record.
	Seq uint64

	// TraceID is carried from the cam1 source record.
	TraceID string
}

var clockEpoch = time.Now()

// MonotonicSeconds returns seconds elapsed on the process-wide monotonic
// clock. Both capture workers stamp records from this clock, so cross-camera
// skew comparisons are meaningful regardless of wall-clock adjustments.
func MonotonicSeconds() float64 {
	return time.Since(clockEpoch).Seconds()
}
