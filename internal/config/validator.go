package config

import (
	"fmt"
	"regexp"
	"strings"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Defaults applied by Validate.
const (
	DefaultSaturationThreshold = 250
	DefaultMaxSkewS            = 0.2
	DefaultFPS                 = 30.0
	DefaultClipLimit           = 2.0
	DefaultTileGrid            = 8
	DefaultShutdownTimeoutS    = 5
	DefaultStatsIntervalS      = 5
	DefaultListen              = ":5000"
	DefaultClipDir             = "clips"
)

// defaultOverlayColors indexed by camera position: cam1 red, cam2 blue.
var defaultOverlayColors = [2][3]uint8{{255, 0, 0}, {0, 0, 255}}

// Validate checks the configuration and fills in defaults. It mutates cfg.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "darkview"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = DefaultShutdownTimeoutS
	}
	if cfg.StatsIntervalS <= 0 {
		cfg.StatsIntervalS = DefaultStatsIntervalS
	}

	if err := validateSources(cfg); err != nil {
		return err
	}
	if err := validateFusion(cfg); err != nil {
		return err
	}

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = DefaultListen
	}
	if cfg.HTTP.PreviewWidth < 0 {
		return fmt.Errorf("http.preview_width must be >= 0")
	}
	if cfg.HTTP.ClipDir == "" {
		cfg.HTTP.ClipDir = DefaultClipDir
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is configured")
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = cfg.InstanceID
		}
		if cfg.MQTT.ControlTopic == "" {
			cfg.MQTT.ControlTopic = fmt.Sprintf("darkview/control/%s", cfg.InstanceID)
		}
		if cfg.MQTT.ResponseTopic == "" {
			cfg.MQTT.ResponseTopic = fmt.Sprintf("darkview/response/%s", cfg.InstanceID)
		}
	}
	return nil
}

func validateSources(cfg *Config) error {
	switch {
	case len(cfg.Cameras) > 0 && cfg.SplitDevice != nil:
		return fmt.Errorf("cameras and split_device are mutually exclusive")

	case cfg.SplitDevice != nil:
		sd := cfg.SplitDevice
		if sd.Device == "" {
			return fmt.Errorf("split_device.device is required")
		}
		if sd.Width <= 0 || sd.Height <= 0 {
			return fmt.Errorf("split_device resolution %dx%d is invalid", sd.Width, sd.Height)
		}
		if sd.SplitX <= 0 || sd.SplitX >= sd.Width {
			return fmt.Errorf("split_device.split_x %d must fall inside the frame width %d", sd.SplitX, sd.Width)
		}
		if sd.FPS <= 0 {
			sd.FPS = DefaultFPS
		}
		if len(sd.Halves) != 2 {
			return fmt.Errorf("split_device.halves must list exactly 2 halves, got %d", len(sd.Halves))
		}
		for i := range sd.Halves {
			h := &sd.Halves[i]
			if h.ID == "" {
				h.ID = fmt.Sprintf("cam%d", i+1)
			}
			if err := validateThreshold(&h.SaturationThreshold, h.ID); err != nil {
				return err
			}
			if h.OverlayColor == ([3]uint8{}) {
				h.OverlayColor = defaultOverlayColors[i]
			}
		}
		if sd.Halves[0].ID == sd.Halves[1].ID {
			return fmt.Errorf("split_device halves must have distinct ids")
		}

	case len(cfg.Cameras) == 2:
		seen := map[string]bool{}
		for i := range cfg.Cameras {
			cam := &cfg.Cameras[i]
			if cam.ID == "" {
				cam.ID = fmt.Sprintf("cam%d", i+1)
			}
			if seen[cam.ID] {
				return fmt.Errorf("duplicate camera id %q", cam.ID)
			}
			seen[cam.ID] = true
			if cam.Device == "" {
				return fmt.Errorf("camera %s: device is required", cam.ID)
			}
			if cam.Width <= 0 || cam.Height <= 0 {
				return fmt.Errorf("camera %s: resolution %dx%d is invalid", cam.ID, cam.Width, cam.Height)
			}
			if cam.FPS <= 0 {
				cam.FPS = DefaultFPS
			}
			if err := validateThreshold(&cam.SaturationThreshold, cam.ID); err != nil {
				return err
			}
			if cam.OverlayColor == ([3]uint8{}) {
				cam.OverlayColor = defaultOverlayColors[i]
			}
		}

	default:
		return fmt.Errorf("exactly 2 cameras or one split_device required, got %d cameras", len(cfg.Cameras))
	}
	return nil
}

func validateThreshold(threshold *int, id string) error {
	if *threshold == 0 {
		*threshold = DefaultSaturationThreshold
	}
	if *threshold < 1 || *threshold > 255 {
		return fmt.Errorf("camera %s: saturation_threshold %d outside 1..255", id, *threshold)
	}
	return nil
}

func validateFusion(cfg *Config) error {
	w, h := frameDims(cfg)

	f := &cfg.Fusion
	if abs(f.OverlapTrimX) >= w {
		return fmt.Errorf("fusion.overlap_trim_x %d exceeds frame width %d", f.OverlapTrimX, w)
	}
	if abs(f.OverlapTrimY) >= h {
		return fmt.Errorf("fusion.overlap_trim_y %d exceeds frame height %d", f.OverlapTrimY, h)
	}
	if f.MaxSkewS < 0 {
		return fmt.Errorf("fusion.max_skew_s must be >= 0")
	}
	if f.MaxSkewS == 0 {
		f.MaxSkewS = DefaultMaxSkewS
	}

	c := &f.CLAHE
	if c.ClipLimit < 0 {
		return fmt.Errorf("fusion.clahe.clip_limit must be >= 0")
	}
	if c.ClipLimit == 0 {
		c.ClipLimit = DefaultClipLimit
	}
	if c.TileGrid[0] <= 0 {
		c.TileGrid[0] = DefaultTileGrid
	}
	if c.TileGrid[1] <= 0 {
		c.TileGrid[1] = DefaultTileGrid
	}
	return nil
}

// frameDims returns the per-camera frame dimensions fusion operates on.
func frameDims(cfg *Config) (w, h int) {
	if cfg.SplitDevice != nil {
		// The narrower half bounds the trim.
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

// IsSynthetic reports whether a device string names a synthetic generator
// and returns the generator name.
func IsSynthetic(device string) (string, bool) {
	name, ok := strings.CutPrefix(device, "synthetic:")
	return name, ok
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
