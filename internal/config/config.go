package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 1 << 20

// CameraTypeGPIO selects the GPIO remote-line camera engine.
const CameraTypeGPIO = "gpio"

// FrameSourcePattern selects the synthetic frame source instead of a file.
const FrameSourcePattern = "pattern"

// CameraConfig describes how to communicate with the camera body.
// Type selects a concrete engine; only "gpio" exists today.
type CameraConfig struct {
	Type             string `yaml:"type"`
	FocusPin         int    `yaml:"focus_pin"`          // remote FOCUS line (BCM), active LOW
	ShutterPin       int    `yaml:"shutter_pin"`        // remote SHUTTER line (BCM), active LOW
	FlashPin         int    `yaml:"flash_pin"`          // flash trigger (BCM). 0 = not wired
	TallyPin         int    `yaml:"tally_pin"`          // recording light (BCM). 0 = not wired
	FocusDelayMs     int    `yaml:"focus_delay_ms"`     // autofocus delay (ms)
	ShutterDelayMs   int    `yaml:"shutter_delay_ms"`   // shutter hold time (ms)
	RecordIntervalMs int    `yaml:"record_interval_ms"` // delay between video frames (ms)
	MaxZoom          int    `yaml:"max_zoom"`
	FrontFacing      bool   `yaml:"front_facing"` // start on the front camera
	FrameSource      string `yaml:"frame_source"` // "pattern" or a JPEG path
	FrontFrameSource string `yaml:"front_frame_source"`
	FrameWidth       int    `yaml:"frame_width"`  // pattern source only
	FrameHeight      int    `yaml:"frame_height"` // pattern source only
}

// ZoomStepperConfig is optional: a stepper turning the zoom ring.
type ZoomStepperConfig struct {
	StepPin       int `yaml:"step_pin"`
	DirPin        int `yaml:"dir_pin"`
	EnablePin     int `yaml:"enable_pin"` // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	StepsPerLevel int `yaml:"steps_per_level"`
	StepDelayUs   int `yaml:"step_delay_us"`
}

// OutputConfig controls where artifacts go and how photos are normalized.
type OutputConfig struct {
	BaseDir     string `yaml:"base_dir"`
	MaxEdge     int    `yaml:"max_edge"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	Normalize   *bool  `yaml:"normalize,omitempty"`    // default true
	MirrorFront *bool  `yaml:"mirror_front,omitempty"` // default true
	ExactBound  bool   `yaml:"exact_bound"`            // resize to max_edge exactly
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel      int  `yaml:"debug_level"`      // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO        bool `yaml:"mock_gpio"`        // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	LocationTagging bool `yaml:"location_tagging"` // let the session toggle location tagging on resume/pause
}

// Config aggregates all application configuration.
type Config struct {
	Camera      CameraConfig       `yaml:"camera"`
	ZoomStepper *ZoomStepperConfig `yaml:"zoom_stepper,omitempty"` // optional
	Output      OutputConfig       `yaml:"output"`
	Defaults    DefaultsConfig     `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files sitting directly in a
// directory named "configs".
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q: extension must be .yaml", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("config path %q: %w", path, err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q: must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Camera.Type == "" {
		return fmt.Errorf("camera.type is required")
	}
	if cfg.Camera.Type != CameraTypeGPIO {
		return fmt.Errorf("camera.type %q is not supported (want %q)", cfg.Camera.Type, CameraTypeGPIO)
	}
	if cfg.Camera.MaxZoom < 0 {
		return fmt.Errorf("camera.max_zoom must be >= 0, got %d", cfg.Camera.MaxZoom)
	}

	// Default values for camera delays
	if cfg.Camera.FocusDelayMs <= 0 {
		cfg.Camera.FocusDelayMs = 500 // 500ms for autofocus
	}
	if cfg.Camera.ShutterDelayMs <= 0 {
		cfg.Camera.ShutterDelayMs = 200 // 200ms shutter hold
	}
	if cfg.Camera.RecordIntervalMs <= 0 {
		cfg.Camera.RecordIntervalMs = 200 // 5 fps
	}
	if cfg.Camera.FrameSource == "" {
		cfg.Camera.FrameSource = FrameSourcePattern
	}
	if cfg.Camera.FrameWidth <= 0 {
		cfg.Camera.FrameWidth = 1920
	}
	if cfg.Camera.FrameHeight <= 0 {
		cfg.Camera.FrameHeight = 1080
	}

	if z := cfg.ZoomStepper; z != nil {
		if z.StepPin <= 0 || z.DirPin <= 0 {
			return fmt.Errorf("zoom_stepper.step_pin and dir_pin are required")
		}
		if z.StepsPerLevel <= 0 {
			z.StepsPerLevel = 1
		}
		if z.StepDelayUs <= 0 {
			z.StepDelayUs = 1000
		}
	}

	if cfg.Output.BaseDir == "" {
		cfg.Output.BaseDir = "temp"
	}
	if cfg.Output.MaxEdge <= 0 {
		cfg.Output.MaxEdge = 640
	}
	if cfg.Output.JPEGQuality == 0 {
		cfg.Output.JPEGQuality = 100
	}
	if cfg.Output.JPEGQuality < 1 || cfg.Output.JPEGQuality > 100 {
		return fmt.Errorf("output.jpeg_quality must be between 1 and 100, got %d", cfg.Output.JPEGQuality)
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	return nil
}

// FocusDelay returns the autofocus delay duration.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the shutter hold duration.
func (c *Config) ShutterDelay() time.Duration {
	return time.Duration(c.Camera.ShutterDelayMs) * time.Millisecond
}

// RecordInterval returns the delay between two video frames.
func (c *Config) RecordInterval() time.Duration {
	return time.Duration(c.Camera.RecordIntervalMs) * time.Millisecond
}

// ZoomStepDelay returns the delay between zoom stepper pulses, 0 without a stepper.
func (c *Config) ZoomStepDelay() time.Duration {
	if c.ZoomStepper == nil {
		return 0
	}
	return time.Duration(c.ZoomStepper.StepDelayUs) * time.Microsecond
}

// NormalizeEnabled reports whether photos are normalized after capture.
func (c *Config) NormalizeEnabled() bool {
	return c.Output.Normalize == nil || *c.Output.Normalize
}

// MirrorFrontEnabled reports whether front-camera photos are mirrored.
func (c *Config) MirrorFrontEnabled() bool {
	return c.Output.MirrorFront == nil || *c.Output.MirrorFront
}
