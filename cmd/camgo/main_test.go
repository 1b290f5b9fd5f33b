package main

import (
	"bytes"
	"context"
	"image/jpeg"
	"os"
	"testing"
	"time"

	"github.com/cjeanneret/CamGo/internal/config"
	"github.com/cjeanneret/CamGo/internal/hw/gpio"
	"github.com/cjeanneret/CamGo/internal/logic/capture"
	"github.com/cjeanneret/CamGo/internal/output"
)

// ---------- validateCLIOverrides ----------

func TestValidateCLIOverrides_Valid(t *testing.T) {
	cases := []struct {
		name     string
		maxZoom  int
		action   string
		duration time.Duration
	}{
		{"defaults", -1, actionPhoto, 5 * time.Second},
		{"zero_zoom", 0, actionPhoto, time.Second},
		{"video", 30, actionVideo, time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.maxZoom, tc.action, tc.duration); err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
		})
	}
}

func TestValidateCLIOverrides_Invalid(t *testing.T) {
	cases := []struct {
		name     string
		maxZoom  int
		action   string
		duration time.Duration
	}{
		{"negative_zoom", -2, actionPhoto, time.Second},
		{"unknown_action", -1, "timelapse", time.Second},
		{"empty_action", -1, "", time.Second},
		{"zero_duration", -1, actionVideo, 0},
		{"negative_duration", -1, actionVideo, -time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.maxZoom, tc.action, tc.duration); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
		{"3000", 3000},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "65536", "-1", "abc", "8080.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}

// ---------- applyOverrides ----------

// ---------- applyOverrides ----------

func TestApplyOverrides(t *testing.T) {
	cfg := &config.Config{
		Camera: config.CameraConfig{Type: config.CameraTypeGPIO, MaxZoom: 10},
		Output: config.OutputConfig{BaseDir: "temp"},
	}

	applyOverrides(cfg, cliOverrides{MaxZoom: -1})
	if cfg.Output.BaseDir != "temp" || cfg.Camera.MaxZoom != 10 {
		t.Errorf("unset overrides changed config: %+v", cfg)
	}

	applyOverrides(cfg, cliOverrides{BaseDir: "/data/shots", MaxZoom: 0})
	if cfg.Output.BaseDir != "/data/shots" {
		t.Errorf("base_dir = %q, want /data/shots", cfg.Output.BaseDir)
	}
	if cfg.Camera.MaxZoom != 0 {
		t.Errorf("max_zoom = %d, want 0", cfg.Camera.MaxZoom)
	}
}

// ---------- end to end on mock GPIO ----------

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Camera: config.CameraConfig{
			Type:             config.CameraTypeGPIO,
			FocusPin:         24,
			ShutterPin:       25,
			FlashPin:         22,
			TallyPin:         23,
			FocusDelayMs:     1,
			ShutterDelayMs:   1,
			RecordIntervalMs: 5,
			MaxZoom:          10,
			FrameSource:      config.FrameSourcePattern,
			FrameWidth:       1280,
			FrameHeight:      960,
		},
		ZoomStepper: &config.ZoomStepperConfig{StepPin: 17, DirPin: 27, StepsPerLevel: 2, StepDelayUs: 1},
		Output:      config.OutputConfig{BaseDir: t.TempDir(), MaxEdge: 640, JPEGQuality: 90},
	}
}

func startSession(t *testing.T, cfg *config.Config) *capture.Controller {
	t.Helper()
	session, err := newSession(&gpio.MockDriver{}, cfg)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go session.Run(ctx)
	t.Cleanup(func() {
		cancel()
		session.Close()
	})
	return session
}

func TestRunAction_Photo(t *testing.T) {
	cfg := newTestConfig(t)
	session := startSession(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := runAction(ctx, session, actionPhoto, time.Second); err != nil {
		t.Fatalf("runAction photo: %v", err)
	}

	arts, err := output.List(cfg.Output.BaseDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 1 || arts[0].Kind != output.Photo {
		t.Fatalf("artifacts = %+v, want one photo", arts)
	}
	data, err := os.ReadFile(arts[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	img, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode saved photo: %v", err)
	}
	// 1280x960 halves to 640x480.
	if img.Width != 640 || img.Height != 480 {
		t.Errorf("saved photo = %dx%d, want 640x480", img.Width, img.Height)
	}
}

func TestRunAction_Video(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Camera.FrameWidth, cfg.Camera.FrameHeight = 32, 24
	session := startSession(t, cfg)

	if err := runAction(context.Background(), session, actionVideo, 30*time.Millisecond); err != nil {
		t.Fatalf("runAction video: %v", err)
	}
	if session.Mode() != capture.Idle {
		t.Errorf("mode = %s after video, want idle", session.Mode())
	}

	arts, err := output.List(cfg.Output.BaseDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 1 || arts[0].Kind != output.Video {
		t.Fatalf("artifacts = %+v, want one video", arts)
	}
	info, err := os.Stat(arts[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("video file is empty")
	}
}

func TestRunAction_Unknown(t *testing.T) {
	session := startSession(t, newTestConfig(t))
	if err := runAction(context.Background(), session, "burst", time.Second); err == nil {
		t.Error("expected error for unknown action, got nil")
	}
}

func TestNewSession_ZoomGoesThroughStepper(t *testing.T) {
	session := startSession(t, newTestConfig(t))

	zoom, err := session.SetZoomFromSlider(3)
	if err != nil {
		t.Fatalf("SetZoomFromSlider: %v", err)
	}
	if zoom != 7 {
		t.Errorf("zoom = %d, want 7", zoom)
	}
	if got := session.State().Zoom; got != 7 {
		t.Errorf("engine zoom = %d, want 7", got)
	}
}

func TestNewLocationToggle(t *testing.T) {
	toggle := newLocationToggle()
	// Repeated values are accepted without side effects.
	toggle(true)
	toggle(true)
	toggle(false)
}
