// Package config loads and validates the static pipeline configuration.
// Everything here is a load-time constant; the core never mutates it at
// runtime (the control plane may push trim recalibrations to the fusion
// worker, but those bypass this package).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete darkview configuration.
type Config struct {
	InstanceID       string `yaml:"instance_id"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"` // graceful shutdown budget (default 5)
	StatsIntervalS   int    `yaml:"stats_interval_s"`   // FPS monitor period (default 5)

	// Cameras configures two independent capture devices. Mutually
	// exclusive with SplitDevice.
	Cameras []CameraConfig `yaml:"cameras,omitempty"`

	// SplitDevice configures a single dual-sensor device producing one
	// wide frame that is split into two logical cameras.
	SplitDevice *SplitDeviceConfig `yaml:"split_device,omitempty"`

	Fusion FusionConfig `yaml:"fusion"`
	HTTP   HTTPConfig   `yaml:"http"`
	MQTT   *MQTTConfig  `yaml:"mqtt,omitempty"` // nil = control plane disabled
}

// CameraConfig describes one capture device or synthetic source.
type CameraConfig struct {
	ID string `yaml:"id"`
	// Device is a V4L2 path (/dev/video0) or a synthetic generator
	// reference (synthetic:grid, synthetic:bar, synthetic:rect).
	Device              string   `yaml:"device"`
	Width               int      `yaml:"width"`
	Height              int      `yaml:"height"`
	FPS                 float64  `yaml:"fps"`                  // synthetic pacing (default 30)
	SaturationThreshold int      `yaml:"saturation_threshold"` // 8-bit, inclusive (default 250)
	OverlayColor        [3]uint8 `yaml:"overlay_color"`        // RGB
}

// SplitDeviceConfig describes a single wide dual-sensor device.
type SplitDeviceConfig struct {
	Device string  `yaml:"device"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	FPS    float64 `yaml:"fps"`
	// SplitX is the fixed horizontal boundary: [0, SplitX) is the first
	// half, [SplitX, Width) the second.
	SplitX int               `yaml:"split_x"`
	Halves []SplitHalfConfig `yaml:"halves"` // exactly two, left then right
}

// SplitHalfConfig configures one logical camera of a split device.
type SplitHalfConfig struct {
	ID                  string   `yaml:"id"`
	SaturationThreshold int      `yaml:"saturation_threshold"`
	OverlayColor        [3]uint8 `yaml:"overlay_color"`
}

// FusionConfig holds the alignment and compositing settings.
type FusionConfig struct {
	OverlapTrimX int     `yaml:"overlap_trim_x"` // signed, symmetric horizontal trim
	OverlapTrimY int     `yaml:"overlap_trim_y"` // signed vertical mounting correction
	MaxSkewS     float64 `yaml:"max_skew_s"`     // pair rejection bound (default 0.2)

	CLAHE CLAHESettings `yaml:"clahe"`

	// Contour re-projection overrides. Unset, the shifts derive from the
	// trim offsets assuming horizontal side-by-side mounting.
	Cam1ContourShift *ShiftConfig `yaml:"cam1_contour_shift,omitempty"`
	Cam2ContourShift *ShiftConfig `yaml:"cam2_contour_shift,omitempty"`
}

// ShiftConfig is a signed 2D pixel offset.
type ShiftConfig struct {
	DX int `yaml:"dx"`
	DY int `yaml:"dy"`
}

// CLAHESettings gates local contrast enhancement of fused frames.
type CLAHESettings struct {
	Enabled   bool    `yaml:"enabled"`
	ClipLimit float64 `yaml:"clip_limit"` // default 2.0, soft-capped at 4
	TileGrid  [2]int  `yaml:"tile_grid"`  // tiles per axis (default 8x8)
}

// HTTPConfig configures the viewer server.
type HTTPConfig struct {
	Listen string `yaml:"listen"` // default :5000
	// PreviewWidth downscales MJPEG previews to this width (0 = native).
	PreviewWidth int `yaml:"preview_width"`
	// ClipDir is where the recorder writes MP4 clips (default ./clips).
	ClipDir string `yaml:"clip_dir"`
}

// MQTTConfig configures the control plane connection.
type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"client_id"`
	ControlTopic  string `yaml:"control_topic"`
	ResponseTopic string `yaml:"response_topic"`
	QoS           byte   `yaml:"qos"`
}

// Load reads, parses, defaults and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}
