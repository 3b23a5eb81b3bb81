// Package core assembles the pipeline from configuration and owns its
// lifecycle: two capture streams, the fusion worker, the HTTP viewer, the
// optional MQTT command plane and the throughput monitor. Startup is
// capture-first so downstream stages find frames waiting; shutdown runs the
// same chain in reverse.
package core

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/aesatchien/darkview/internal/capture"
	"github.com/aesatchien/darkview/internal/config"
	"github.com/aesatchien/darkview/internal/control"
	"github.com/aesatchien/darkview/internal/fusion"
	"github.com/aesatchien/darkview/internal/mailbox"
	"github.com/aesatchien/darkview/internal/stats"
	"github.com/aesatchien/darkview/internal/types"
	"github.com/aesatchien/darkview/internal/viewer"
)

// camera binds one logical camera to the pieces the control plane needs to
// reach: its tap, the worker that owns the device, and the V4L2 path
// (empty for synthetic sources).
type camera struct {
	tap    *capture.Tap
	worker *capture.Worker
	device string
}

// App is the assembled pipeline.
type App struct {
	cfg *config.Config

	captureWorkers []*capture.Worker
	cameras        map[string]*camera
	camOrder       []string

	fusionWorker *fusion.Worker
	fusedBox     *mailbox.Mailbox[*types.FusedRecord]

	server  *viewer.Server
	handler *control.Handler
	monitor *stats.Monitor

	startedAt    time.Time
	shutdownOnce sync.Once
	shutdownReq  chan struct{}
}

// New builds the full pipeline from a validated configuration. Nothing is
// started and no device is touched; failures here are wiring mistakes.
func New(cfg *config.Config) (*App, error) {
	a := &App{
		cfg:         cfg,
		cameras:     make(map[string]*camera),
		fusedBox:    mailbox.New[*types.FusedRecord](),
		shutdownReq: make(chan struct{}),
	}

	if err := a.buildCapture(); err != nil {
		return nil, err
	}
	if err := a.buildFusion(); err != nil {
		return nil, err
	}
	a.buildViewer()
	a.buildMonitor()
	if cfg.MQTT != nil {
		if err := a.buildControl(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Run starts every component and blocks until the context is cancelled or
// the control plane requests shutdown, then tears the pipeline down within
// the configured shutdown budget.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.start(runCtx); err != nil {
		a.shutdown()
		return err
	}
	a.startedAt = time.Now()
	slog.Info("core: pipeline running",
		"instance", a.cfg.InstanceID, "cameras", a.camOrder)

	select {
	case <-runCtx.Done():
		slog.Info("core: context cancelled, shutting down")
	case <-a.shutdownReq:
		slog.Info("core: shutdown requested via control plane")
	}
	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	for _, w := range a.captureWorkers {
		if err := w.Start(ctx); err != nil {
			return err
		}
	}
	if err := a.fusionWorker.Start(ctx); err != nil {
		return err
	}
	if err := a.server.Start(ctx); err != nil {
		return err
	}
	a.monitor.Start(ctx)
	if a.handler != nil {
		if err := a.handler.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// shutdown stops components in reverse dependency order: external surfaces
// first, then fusion, then capture, so nothing publishes into a stopped
// consumer's closed mailbox before its producer is gone.
func (a *App) shutdown() error {
	timeout := time.Duration(a.cfg.ShutdownTimeoutS) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if a.handler != nil {
		errs = append(errs, a.handler.Stop())
	}
	errs = append(errs, a.server.Stop(ctx))
	a.monitor.Stop()
	errs = append(errs, a.fusionWorker.Stop())
	for _, w := range a.captureWorkers {
		errs = append(errs, w.Stop())
	}
	a.fusedBox.Close()
	for _, cam := range a.cameras {
		cam.tap.Data.Close()
		cam.tap.View.Close()
	}

	err := errors.Join(errs...)
	if err != nil {
		slog.Error("core: shutdown finished with errors", "error", err)
	} else {
		slog.Info("core: shutdown complete")
	}
	return err
}

func (a *App) buildCapture() error {
	if a.cfg.SplitDevice != nil {
		return a.buildSplitCapture()
	}

	for _, cam := range a.cfg.Cameras {
		src, err := newSource(cam.Device, cam.Width, cam.Height, cam.FPS)
		if err != nil {
			return err
		}
		tap := newTap(cam.ID, image.Rectangle{}, cam.SaturationThreshold, cam.OverlayColor)
		worker, err := capture.NewWorker(capture.Config{
			Name:   cam.ID,
			Source: src,
			Taps:   []*capture.Tap{tap},
		})
		if err != nil {
			return err
		}
		a.registerCamera(cam.ID, tap, worker, v4l2Device(cam.Device))
		a.captureWorkers = append(a.captureWorkers, worker)
	}
	return nil
}

// buildSplitCapture wires a single wide dual-sensor frame into two logical
// cameras: one worker, one grab per cycle, two taps over the fixed halves.
func (a *App) buildSplitCapture() error {
	sd := a.cfg.SplitDevice
	src, err := newSource(sd.Device, sd.Width, sd.Height, sd.FPS)
	if err != nil {
		return err
	}

	regions := [2]image.Rectangle{
		image.Rect(0, 0, sd.SplitX, sd.Height),
		image.Rect(sd.SplitX, 0, sd.Width, sd.Height),
	}
	taps := make([]*capture.Tap, 2)
	for i, half := range sd.Halves {
		taps[i] = newTap(half.ID, regions[i], half.SaturationThreshold, half.OverlayColor)
	}

	worker, err := capture.NewWorker(capture.Config{
		Name:   "split",
		Source: src,
		Taps:   taps,
	})
	if err != nil {
		return err
	}
	for i, half := range sd.Halves {
		a.registerCamera(half.ID, taps[i], worker, v4l2Device(sd.Device))
	}
	a.captureWorkers = append(a.captureWorkers, worker)
	return nil
}

func (a *App) registerCamera(id string, tap *capture.Tap, worker *capture.Worker, device string) {
	a.cameras[id] = &camera{tap: tap, worker: worker, device: device}
	a.camOrder = append(a.camOrder, id)
}

func (a *App) buildFusion() error {
	if len(a.camOrder) != 2 {
		return fmt.Errorf("core: fusion needs exactly 2 cameras, got %d", len(a.camOrder))
	}
	cam1 := a.cameras[a.camOrder[0]]
	cam2 := a.cameras[a.camOrder[1]]

	f := a.cfg.Fusion
	params := fusion.Params{
		TrimX:     f.OverlapTrimX,
		TrimY:     f.OverlapTrimY,
		Cam1Color: cam1.tap.Color,
		Cam2Color: cam2.tap.Color,
		CLAHE: fusion.CLAHEConfig{
			Enabled:   f.CLAHE.Enabled,
			ClipLimit: f.CLAHE.ClipLimit,
			TileW:     f.CLAHE.TileGrid[0],
			TileH:     f.CLAHE.TileGrid[1],
		},
	}
	params.Cam1Shift, params.Cam2Shift = fusion.DefaultContourShifts(f.OverlapTrimX, f.OverlapTrimY)
	if s := f.Cam1ContourShift; s != nil {
		params.Cam1Shift = image.Pt(s.DX, s.DY)
	}
	if s := f.Cam2ContourShift; s != nil {
		params.Cam2Shift = image.Pt(s.DX, s.DY)
	}

	worker, err := fusion.NewWorker(fusion.WorkerConfig{
		Cam1:    cam1.tap.Data,
		Cam2:    cam2.tap.Data,
		Out:     a.fusedBox,
		Params:  params,
		MaxSkew: f.MaxSkewS,
	})
	if err != nil {
		return err
	}
	a.fusionWorker = worker
	return nil
}

func (a *App) buildViewer() {
	a.server = viewer.NewServer(viewer.Config{
		Listen:       a.cfg.HTTP.Listen,
		PreviewWidth: a.cfg.HTTP.PreviewWidth,
		ClipDir:      a.cfg.HTTP.ClipDir,
	}, a.statusSnapshot)

	for _, id := range a.camOrder {
		a.server.AddFeed(id, &viewer.CameraFeed{Box: a.cameras[id].tap.View})
	}
	a.server.AddFeed("fused", &viewer.FusionFeed{Box: a.fusedBox})
}

func (a *App) buildMonitor() {
	a.monitor = stats.NewMonitor(time.Duration(a.cfg.StatsIntervalS) * time.Second)
	for _, id := range a.camOrder {
		cam := a.cameras[id]
		a.monitor.Track(id, cam.tap.Frames)
		a.monitor.TrackDrops(id+"_data", func() uint64 { return cam.tap.Data.Stats().Drops })
		a.monitor.TrackDrops(id+"_view", func() uint64 { return cam.tap.View.Stats().Drops })
	}
	a.monitor.Track("fused", a.fusionWorker.Frames)
	a.monitor.TrackDrops("fused", func() uint64 { return a.fusedBox.Stats().Drops })
}

func (a *App) buildControl() error {
	handler, err := control.NewHandler(control.HandlerConfig{
		Broker:        a.cfg.MQTT.Broker,
		ClientID:      a.cfg.MQTT.ClientID,
		ControlTopic:  a.cfg.MQTT.ControlTopic,
		ResponseTopic: a.cfg.MQTT.ResponseTopic,
		QoS:           a.cfg.MQTT.QoS,
	}, control.Callbacks{
		OnGetStatus:     a.statusSnapshot,
		OnPauseCapture:  a.pauseCapture,
		OnResumeCapture: a.resumeCapture,
		OnAutoExposure:  a.autoExposure,
		OnSetTrim:       a.setTrim,
		OnShutdown:      a.requestShutdown,
	})
	if err != nil {
		return err
	}
	a.handler = handler
	return nil
}

func (a *App) statusSnapshot() map[string]any {
	camStatus := make(map[string]any, len(a.camOrder))
	for _, id := range a.camOrder {
		cam := a.cameras[id]
		camStatus[id] = map[string]any{
			"frames":     cam.tap.Frames(),
			"paused":     cam.worker.IsPaused(),
			"data_drops": cam.tap.Data.Stats().Drops,
			"view_drops": cam.tap.View.Stats().Drops,
		}
	}
	return map[string]any{
		"instance":        a.cfg.InstanceID,
		"uptime_s":        time.Since(a.startedAt).Seconds(),
		"cameras":         camStatus,
		"fused_frames":    a.fusionWorker.Frames(),
		"skew_rejections": a.fusionWorker.SkewRejections(),
	}
}

// pauseCapture suspends the worker owning the camera. For a split device
// both halves share the worker, so pausing either id pauses both.
func (a *App) pauseCapture(cameraID string) error {
	cam, ok := a.cameras[cameraID]
	if !ok {
		return fmt.Errorf("core: unknown camera %q", cameraID)
	}
	cam.worker.Pause()
	return nil
}

func (a *App) resumeCapture(cameraID string) error {
	cam, ok := a.cameras[cameraID]
	if !ok {
		return fmt.Errorf("core: unknown camera %q", cameraID)
	}
	cam.worker.Resume()
	return nil
}

// autoExposure runs the exposure sweep for a camera. Capture must stay
// running so the sweep can observe each setting's saturation mask.
func (a *App) autoExposure(ctx context.Context, cameraID string) (int, error) {
	cam, ok := a.cameras[cameraID]
	if !ok {
		return 0, fmt.Errorf("core: unknown camera %q", cameraID)
	}
	if cam.device == "" {
		return 0, fmt.Errorf("core: camera %q has no exposure control (synthetic source)", cameraID)
	}
	if cam.worker.IsPaused() {
		return 0, fmt.Errorf("core: camera %q is paused, resume before tuning", cameraID)
	}
	tuner := &control.ExposureTuner{Setter: &control.DeviceControl{}}
	return tuner.Tune(ctx, cam.device, cam.tap.View)
}

// setTrim pushes a runtime recalibration to the fusion worker. Contour
// shifts re-derive from the new trim; explicit config overrides are
// superseded until restart.
func (a *App) setTrim(x, y int) error {
	w, h := frameDims(a.cfg)
	if abs(x) >= w || abs(y) >= h {
		return fmt.Errorf("core: trim (%d, %d) exceeds frame %dx%d", x, y, w, h)
	}
	a.fusionWorker.SetTrim(x, y)
	return nil
}

func (a *App) requestShutdown() error {
	a.shutdownOnce.Do(func() { close(a.shutdownReq) })
	return nil
}

// newSource resolves a config device string into a capture source:
// "synthetic:<name>" yields a paced generator, anything else is treated as
// a V4L2 device path.
func newSource(device string, width, height int, fps float64) (capture.Source, error) {
	if name, ok := config.IsSynthetic(device); ok {
		gen, err := capture.GeneratorByName(name)
		if err != nil {
			return nil, err
		}
		return capture.NewSyntheticSource(width, height, fps, gen)
	}
	return capture.NewDeviceSource(capture.DeviceConfig{
		Device: device,
		Width:  width,
		Height: height,
	})
}

func newTap(id string, region image.Rectangle, threshold int, overlay [3]uint8) *capture.Tap {
	return &capture.Tap{
		ID:        id,
		Region:    region,
		Threshold: uint8(threshold),
		Color:     color.RGBA{R: overlay[0], G: overlay[1], B: overlay[2], A: 255},
		Data:      mailbox.New[*types.FrameRecord](),
		View:      mailbox.New[*types.FrameRecord](),
	}
}

func v4l2Device(device string) string {
	if _, ok := config.IsSynthetic(device); ok {
		return ""
	}
	return device
}

// frameDims mirrors the per-camera dimensions trim validation uses.
func frameDims(cfg *config.Config) (w, h int) {
	if cfg.SplitDevice != nil {
		left := cfg.SplitDevice.SplitX
		right := cfg.SplitDevice.Width - cfg.SplitDevice.SplitX
		return min(left, right), cfg.SplitDevice.Height
	}
	w, h = cfg.Cameras[0].Width, cfg.Cameras[0].Height
	for _, cam := range cfg.Cameras[1:] {
		w = min(w, cam.Width)
		h = min(h, cam.Height)
	}
	return w, h
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
