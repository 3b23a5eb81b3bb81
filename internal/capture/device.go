package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/aesatchien/darkview/internal/types"
)

// grabTimeout bounds how long a Grab waits for the appsink before the
// caller's retry/backoff path takes over.
const grabTimeout = 2 * time.Second

// DeviceSource captures grayscale frames from a V4L2 device through a
// GStreamer pipeline:
//
//	v4l2src → videoconvert → capsfilter(GRAY8, WxH) → appsink
//
// The appsink keeps only the newest buffer (max-buffers=1, drop=true), so a
// slow consumer sees fresh frames, never a backlog.
type DeviceSource struct {
	device string
	width  int
	height int

	pipeline *gst.Pipeline
	appsink  *app.Sink

	// Latest-sample handoff from the GStreamer callback thread.
	samples chan deviceSample

	openOnce  sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

type deviceSample struct {
	img *image.Gray
	ts  float64
}

// DeviceConfig configures a V4L2 capture source.
type DeviceConfig struct {
	Device string // e.g. /dev/video0
	Width  int
	Height int
}

// NewDeviceSource validates the configuration fail-fast and prepares an
// unopened source. The device handle is not touched until Open.
func NewDeviceSource(cfg DeviceConfig) (*DeviceSource, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("capture: device path is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	return &DeviceSource{
		device:  cfg.Device,
		width:   cfg.Width,
		height:  cfg.Height,
		samples: make(chan deviceSample, 1),
		closed:  make(chan struct{}),
	}, nil
}

// Open builds and starts the GStreamer pipeline. Idempotent.
func (s *DeviceSource) Open() error {
	var err error
	s.openOnce.Do(func() { err = s.open() })
	return err
}

func (s *DeviceSource) open() error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("capture: failed to create pipeline: %w", err)
	}

	v4l2src, err := gst.NewElement("v4l2src")
	if err != nil {
		return fmt.Errorf("capture: failed to create v4l2src: %w", err)
	}
	v4l2src.SetProperty("device", s.device)
	// Live sources keep their own timestamps; io-mode 2 (mmap) avoids an
	// extra kernel copy on UVC cameras.
	v4l2src.SetProperty("io-mode", 2)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("capture: failed to create videoconvert: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("capture: failed to create capsfilter: %w", err)
	}
	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=GRAY8,width=%d,height=%d", s.width, s.height))
	capsfilter.SetProperty("caps", caps)

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("capture: failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)    // real-time, no clock sync
	appsink.SetProperty("max-buffers", 1) // keep only the latest frame
	appsink.SetProperty("drop", true)

	if err := pipeline.AddMany(v4l2src, convert, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("capture: failed to assemble pipeline: %w", err)
	}
	if err := gst.ElementLinkMany(v4l2src, convert, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("capture: failed to link pipeline: %w", err)
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("capture: failed to start pipeline for %s: %w", s.device, err)
	}

	s.pipeline = pipeline
	s.appsink = appsink

	slog.Info("capture: device opened",
		"device", s.device,
		"resolution", fmt.Sprintf("%dx%d", s.width, s.height),
	)
	return nil
}

// onNewSample runs on the GStreamer streaming thread: copy the buffer out
// (GStreamer reuses it) and hand the newest frame to Grab, evicting any
// unconsumed one.
func (s *DeviceSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("capture: failed to pull sample, skipping frame", "device", s.device)
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("capture: sample without buffer, skipping frame", "device", s.device)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("capture: empty buffer received", "device", s.device)
		return gst.FlowOK
	}

	img := image.NewGray(image.Rect(0, 0, s.width, s.height))
	if len(data) == s.width*s.height {
		copy(img.Pix, data)
	} else {
		// Row stride padded by the driver; copy row by row.
		stride := len(data) / s.height
		for y := 0; y < s.height; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+s.width], data[y*stride:y*stride+s.width])
		}
	}
	buffer.Unmap()

	smp := deviceSample{img: img, ts: types.MonotonicSeconds()}
	for {
		select {
		case s.samples <- smp:
			return gst.FlowOK
		case <-s.closed:
			return gst.FlowEOS
		default:
		}
		// Slot occupied: evict the stale frame and retry.
		select {
		case <-s.samples:
		default:
		}
	}
}

// Grab implements Source, blocking for the next frame from the device.
func (s *DeviceSource) Grab(ctx context.Context) (*image.Gray, float64, error) {
	select {
	case smp := <-s.samples:
		return smp.img, smp.ts, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-s.closed:
		return nil, 0, fmt.Errorf("capture: device %s closed", s.device)
	case <-time.After(grabTimeout):
		return nil, 0, fmt.Errorf("capture: no frame from %s within %s", s.device, grabTimeout)
	}
}

// Close stops the pipeline and releases the device handle. Idempotent.
func (s *DeviceSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.pipeline != nil {
			if serr := s.pipeline.SetState(gst.StateNull); serr != nil {
				err = fmt.Errorf("capture: failed to stop pipeline for %s: %w", s.device, serr)
			}
		}
		slog.Info("capture: device closed", "device", s.device)
	})
	return err
}
