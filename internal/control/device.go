// Package control is the collaborator side of the pipeline: hardware
// parameter control, the auto-exposure tuning routine, and the MQTT command
// plane that drives both. The capture core never calls into this package
// during normal fusion; commands reach the pipeline only through the
// orchestrator's callbacks.
package control

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
)

// DeviceControl applies control parameters to a V4L2 device through
// v4l2-ctl. Swappable in tests via the ParamSetter interface.
type DeviceControl struct{}

// ParamSetter applies one numeric control parameter to a camera device.
type ParamSetter interface {
	SetParam(device, param string, value int) error
}

// SetParam shells out to v4l2-ctl:
//
//	v4l2-ctl -d <device> --set-ctrl=<param>=<value>
func (DeviceControl) SetParam(device, param string, value int) error {
	cmd := exec.Command("v4l2-ctl", "-d", device,
		fmt.Sprintf("--set-ctrl=%s=%d", param, value))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("control: v4l2-ctl %s=%d on %s: %w (%s)",
			param, value, device, err, string(out))
	}
	slog.Info("control: device parameter set",
		"device", device, "param", param, "value", strconv.Itoa(value))
	return nil
}
