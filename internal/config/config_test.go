package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aesatchien/darkview/internal/config"
)

func loadString(t *testing.T, yaml string) (*config.Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "darkview.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return config.Load(path)
}

const minimalCameras = `
cameras:
  - device: synthetic:grid
    width: 640
    height: 480
  - device: synthetic:bar
    width: 640
    height: 480
`

// TestLoadDefaults: a minimal two-camera file picks up every default.
func TestLoadDefaults(t *testing.T) {
	cfg, err := loadString(t, minimalCameras)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.InstanceID != "darkview" {
		t.Errorf("instance_id = %q", cfg.InstanceID)
	}
	if cfg.ShutdownTimeoutS != config.DefaultShutdownTimeoutS {
		t.Errorf("shutdown_timeout_s = %d", cfg.ShutdownTimeoutS)
	}
	if cfg.HTTP.Listen != config.DefaultListen {
		t.Errorf("http.listen = %q", cfg.HTTP.Listen)
	}
	if cfg.HTTP.ClipDir != config.DefaultClipDir {
		t.Errorf("http.clip_dir = %q", cfg.HTTP.ClipDir)
	}
	if cfg.Fusion.MaxSkewS != config.DefaultMaxSkewS {
		t.Errorf("fusion.max_skew_s = %v", cfg.Fusion.MaxSkewS)
	}
	if cfg.Fusion.CLAHE.ClipLimit != config.DefaultClipLimit {
		t.Errorf("clahe.clip_limit = %v", cfg.Fusion.CLAHE.ClipLimit)
	}
	if cfg.Fusion.CLAHE.TileGrid != [2]int{8, 8} {
		t.Errorf("clahe.tile_grid = %v", cfg.Fusion.CLAHE.TileGrid)
	}
	if cfg.MQTT != nil {
		t.Error("mqtt should be nil when unconfigured")
	}

	for i, cam := range cfg.Cameras {
		if cam.SaturationThreshold != config.DefaultSaturationThreshold {
			t.Errorf("camera %d threshold = %d", i, cam.SaturationThreshold)
		}
		if cam.FPS != config.DefaultFPS {
			t.Errorf("camera %d fps = %v", i, cam.FPS)
		}
	}
	if cfg.Cameras[0].ID != "cam1" || cfg.Cameras[1].ID != "cam2" {
		t.Errorf("derived ids %q/%q", cfg.Cameras[0].ID, cfg.Cameras[1].ID)
	}
	if cfg.Cameras[0].OverlayColor != [3]uint8{255, 0, 0} {
		t.Errorf("cam1 overlay = %v, want red", cfg.Cameras[0].OverlayColor)
	}
	if cfg.Cameras[1].OverlayColor != [3]uint8{0, 0, 255} {
		t.Errorf("cam2 overlay = %v, want blue", cfg.Cameras[1].OverlayColor)
	}
}

func TestLoadSplitDevice(t *testing.T) {
	cfg, err := loadString(t, `
split_device:
  device: /dev/video0
  width: 2560
  height: 720
  split_x: 1280
  halves:
    - id: left
    - id: right
`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SplitDevice.Halves[0].ID != "left" || cfg.SplitDevice.Halves[1].ID != "right" {
		t.Errorf("half ids %+v", cfg.SplitDevice.Halves)
	}
	if cfg.SplitDevice.Halves[0].SaturationThreshold != config.DefaultSaturationThreshold {
		t.Error("half threshold default not applied")
	}
}

func TestLoadMQTTTopicDerivation(t *testing.T) {
	cfg, err := loadString(t, minimalCameras+`
instance_id: bench-rig
mqtt:
  broker: tcp://localhost:1883
`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MQTT.ClientID != "bench-rig" {
		t.Errorf("client_id = %q", cfg.MQTT.ClientID)
	}
	if cfg.MQTT.ControlTopic != "darkview/control/bench-rig" {
		t.Errorf("control_topic = %q", cfg.MQTT.ControlTopic)
	}
	if cfg.MQTT.ResponseTopic != "darkview/response/bench-rig" {
		t.Errorf("response_topic = %q", cfg.MQTT.ResponseTopic)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no sources", `{}`},
		{"one camera", `
cameras:
  - device: synthetic:grid
    width: 640
    height: 480
`},
		{"both source kinds", minimalCameras + `
split_device:
  device: /dev/video0
  width: 2560
  height: 720
  split_x: 1280
  halves: [{id: a}, {id: b}]
`},
		{"split_x outside frame", `
split_device:
  device: /dev/video0
  width: 2560
  height: 720
  split_x: 2560
  halves: [{id: a}, {id: b}]
`},
		{"one half", `
split_device:
  device: /dev/video0
  width: 2560
  height: 720
  split_x: 1280
  halves: [{id: a}]
`},
		{"duplicate camera ids", `
cameras:
  - {id: cam, device: synthetic:grid, width: 640, height: 480}
  - {id: cam, device: synthetic:bar, width: 640, height: 480}
`},
		{"threshold out of range", `
cameras:
  - {device: synthetic:grid, width: 640, height: 480, saturation_threshold: 300}
  - {device: synthetic:bar, width: 640, height: 480}
`},
		{"trim exceeds width", minimalCameras + `
fusion:
  overlap_trim_x: 640
`},
		{"negative skew", minimalCameras + `
fusion:
  max_skew_s: -1
`},
		{"mqtt without broker", minimalCameras + `
mqtt:
  client_id: x
`},
		{"bad instance id", minimalCameras + `
instance_id: "Not Valid!"
`},
	}
	for _, tc := range cases {
		if _, err := loadString(t, tc.yaml); err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestIsSynthetic(t *testing.T) {
	if name, ok := config.IsSynthetic("synthetic:bar"); !ok || name != "bar" {
		t.Errorf("IsSynthetic(synthetic:bar) = (%q, %v)", name, ok)
	}
	if _, ok := config.IsSynthetic("/dev/video0"); ok {
		t.Error("device path misread as synthetic")
	}
}
