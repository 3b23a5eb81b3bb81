package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aesatchien/darkview/internal/imaging"
	"github.com/aesatchien/darkview/internal/mailbox"
	"github.com/aesatchien/darkview/internal/types"
)

const (
	// exposureParam is the V4L2 control swept by the tuner. Cameras must
	// be in manual exposure mode (auto_exposure=1) for it to stick.
	exposureParam = "exposure_time_absolute"

	// settleDelay lets a new exposure setting take effect in the sensor
	// before a frame is sampled.
	settleDelay = 100 * time.Millisecond

	frameWait = time.Second
)

// defaultExposureSweep covers roughly two orders of magnitude of exposure
// time in microseconds, brightest first.
var defaultExposureSweep = []int{200, 100, 50, 30, 20, 10, 5, 2}

// ExposureTuner sweeps a camera's exposure downward until the saturated
// fraction of the frame drops below a target percentage.
//
// Capture keeps running during the sweep: the tuner consumes frames from
// the camera's view mailbox, leaving the data mailbox to fusion. Fused
// output produced while the sweep runs reflects the in-flight exposure
// settings; the sweep is short enough that this is acceptable.
type ExposureTuner struct {
	Setter    ParamSetter
	TargetPct float64 // saturation percentage to get under (default 1.5)
	Sweep     []int   // exposure values, brightest first
}

// Tune runs the sweep on device, reading masks from view. Returns the
// selected exposure, or an error if no setting met the target.
func (t *ExposureTuner) Tune(ctx context.Context, device string, view *mailbox.Mailbox[*types.FrameRecord]) (int, error) {
	target := t.TargetPct
	if target <= 0 {
		target = 1.5
	}
	sweep := t.Sweep
	if len(sweep) == 0 {
		sweep = defaultExposureSweep
	}

	slog.Info("control: starting exposure sweep", "device", device, "target_pct", target)

	for _, exposure := range sweep {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := t.Setter.SetParam(device, exposureParam, exposure); err != nil {
			return 0, err
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(settleDelay):
		}

		rec, ok := view.Get(frameWait)
		if !ok {
			slog.Warn("control: no frame during exposure sweep", "device", device, "exposure_us", exposure)
			continue
		}

		pct := imaging.SaturationPct(rec.Mask)
		slog.Info("control: exposure sample",
			"device", device, "exposure_us", exposure, "saturation_pct", pct)

		if pct <= target {
			// Re-apply in case a later retry loop touched the device.
			if err := t.Setter.SetParam(device, exposureParam, exposure); err != nil {
				return 0, err
			}
			slog.Info("control: exposure selected", "device", device, "exposure_us", exposure)
			return exposure, nil
		}
	}

	return 0, fmt.Errorf("control: no exposure in sweep kept saturation under %.1f%% on %s", target, device)
}
