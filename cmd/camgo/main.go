package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cjeanneret/CamGo/internal/config"
	"github.com/cjeanneret/CamGo/internal/debug"
	"github.com/cjeanneret/CamGo/internal/hw/camera"
	"github.com/cjeanneret/CamGo/internal/hw/gpio"
	"github.com/cjeanneret/CamGo/internal/hw/stepper"
	"github.com/cjeanneret/CamGo/internal/logic/capture"
	"github.com/cjeanneret/CamGo/internal/logic/imaging"
	"github.com/cjeanneret/CamGo/internal/output"
	"github.com/cjeanneret/CamGo/internal/web"
)

const (
	actionPhoto = "photo"
	actionVideo = "video"
)

// cliOverrides holds flag values that replace config entries when set.
type cliOverrides struct {
	BaseDir string
	MaxZoom int // -1 = keep config value
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	baseDir := flag.String("base_dir", "", "override output directory")
	maxZoom := flag.Int("max_zoom", -1, "override camera max zoom level")
	action := flag.String("action", actionPhoto, "one-shot action without -web: photo or video")
	duration := flag.Duration("duration", 5*time.Second, "recording length for -action video")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if err := validateCLIOverrides(*maxZoom, *action, *duration); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, cliOverrides{BaseDir: *baseDir, MaxZoom: *maxZoom})

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing camera session")
	session, err := newSession(gpioDriver, cfg)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("closing camera session failed: %v", err)
		}
	}()
	go func() {
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("completion loop: %v", err)
		}
	}()
	session.Resume()
	defer session.Pause()

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		events, unsub := session.Subscribe()
		defer unsub()
		go broadcaster.Forward(events)

		srv := web.NewServer(webAddr, broadcaster, session)
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	if err := runAction(ctx, session, *action, *duration); err != nil {
		log.Fatalf("%s failed: %v", *action, err)
	}
}

// newSession wires the engine, namer and normalizer described by cfg.
func newSession(g gpio.Driver, cfg *config.Config) (*capture.Controller, error) {
	engine, err := newEngineFromConfig(g, cfg)
	if err != nil {
		return nil, err
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.Value("Focus pin", cfg.Camera.FocusPin)
	debug.Value("Shutter pin", cfg.Camera.ShutterPin)
	debug.Value("Max zoom", cfg.Camera.MaxZoom)

	namer, err := output.NewNamer(cfg.Output.BaseDir)
	if err != nil {
		engine.Close()
		return nil, err
	}
	debug.Value("Output dir", namer.Dir())

	normalizer := imaging.New(
		imaging.WithMaxEdge(cfg.Output.MaxEdge),
		imaging.WithQuality(cfg.Output.JPEGQuality),
		imaging.WithExactBound(cfg.Output.ExactBound),
	)
	debug.PrintStruct("Output config", cfg.Output)

	opts := []capture.Option{
		capture.WithNormalize(cfg.NormalizeEnabled()),
		capture.WithMirrorFront(cfg.MirrorFrontEnabled()),
	}
	if cfg.Defaults.LocationTagging {
		opts = append(opts, capture.WithLocationToggle(newLocationToggle()))
	}
	return capture.New(engine, namer, normalizer, opts...), nil
}

// newLocationToggle returns the hook flipped on resume and pause. Location
// acquisition itself lives outside this program; the flag is only reported.
func newLocationToggle() func(bool) {
	var enabled atomic.Bool
	return func(on bool) {
		if enabled.Swap(on) != on {
			debug.Live("Location tagging enabled = %v", on)
		}
	}
}

// newEngineFromConfig selects a camera engine based on configuration.
func newEngineFromConfig(g gpio.Driver, cfg *config.Config) (camera.Engine, error) {
	switch cfg.Camera.Type {
	case config.CameraTypeGPIO:
		back := frameSource(cfg.Camera.FrameSource, cfg)
		opts := []camera.GPIOOption{}
		if cfg.Camera.FrontFrameSource != "" {
			opts = append(opts, camera.WithFrontSource(frameSource(cfg.Camera.FrontFrameSource, cfg)))
		}
		if z := cfg.ZoomStepper; z != nil {
			debug.PrintStruct("Zoom stepper config", *z)
			opts = append(opts, camera.WithZoomStepper(stepper.NewStepper(g, stepper.Config{
				StepPin:       z.StepPin,
				DirPin:        z.DirPin,
				EnablePin:     z.EnablePin,
				StepsPerLevel: z.StepsPerLevel,
				StepDelay:     cfg.ZoomStepDelay(),
			})))
		}
		return camera.NewGPIOEngine(g, camera.GPIOConfig{
			Pins: camera.Pins{
				Focus:   cfg.Camera.FocusPin,
				Shutter: cfg.Camera.ShutterPin,
				Flash:   cfg.Camera.FlashPin,
				Tally:   cfg.Camera.TallyPin,
			},
			FocusDelay:     cfg.FocusDelay(),
			ShutterDelay:   cfg.ShutterDelay(),
			RecordInterval: cfg.RecordInterval(),
			MaxZoom:        cfg.Camera.MaxZoom,
			FrontFacing:    cfg.Camera.FrontFacing,
		}, back, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

func frameSource(name string, cfg *config.Config) camera.FrameSource {
	if name == config.FrameSourcePattern {
		return camera.NewPatternSource(cfg.Camera.FrameWidth, cfg.Camera.FrameHeight)
	}
	return camera.FileSource{Path: name}
}

// runAction performs a single photo or video without the web UI and waits
// for the artifact to be on disk.
func runAction(ctx context.Context, session *capture.Controller, action string, duration time.Duration) error {
	events, unsub := session.Subscribe()
	defer unsub()

	switch action {
	case actionPhoto:
		debug.Section("Photo")
		art, err := session.TakePhoto()
		if err != nil {
			return err
		}
		return waitPhoto(ctx, events, art)

	case actionVideo:
		debug.Section("Video")
		art, err := session.StartRecording()
		if err != nil {
			return err
		}
		select {
		case <-time.After(duration):
		case <-ctx.Done():
		}
		_, err = session.StopRecording()
		if err == nil {
			debug.Summary("Recorded " + art.Path)
		}
		return err

	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func waitPhoto(ctx context.Context, events <-chan capture.Event, art output.Artifact) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", art.Path, ctx.Err())
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("session closed before %s was saved", art.Path)
			}
			if e.Artifact == nil || e.Artifact.Path != art.Path {
				continue
			}
			switch e.Kind {
			case capture.EventPhotoSaved:
				debug.Summary("Saved " + art.Path)
				return nil
			case capture.EventCaptureFailed:
				return fmt.Errorf("%s: %s", art.Path, e.Error)
			}
		}
	}
}

// validateCLIOverrides checks flag values before they touch the config.
func validateCLIOverrides(maxZoom int, action string, duration time.Duration) error {
	if maxZoom < -1 {
		return fmt.Errorf("max_zoom must be >= 0, got %d", maxZoom)
	}
	if action != actionPhoto && action != actionVideo {
		return fmt.Errorf("action must be %q or %q, got %q", actionPhoto, actionVideo, action)
	}
	if duration <= 0 {
		return fmt.Errorf("duration must be > 0, got %v", duration)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Unset values leave cfg unchanged.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.BaseDir != "" {
		cfg.Output.BaseDir = o.BaseDir
	}
	if o.MaxZoom >= 0 {
		cfg.Camera.MaxZoom = o.MaxZoom
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
