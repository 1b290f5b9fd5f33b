package camera

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cjeanneret/CamGo/internal/debug"
	"github.com/cjeanneret/CamGo/internal/hw/gpio"
	"github.com/cjeanneret/CamGo/internal/hw/stepper"
)

// Pins lists the GPIO lines wired to the camera body. 0 = not wired.
type Pins struct {
	Focus   int // remote FOCUS line, active LOW
	Shutter int // remote SHUTTER line, active LOW
	Flash   int // flash trigger, active HIGH
	Tally   int // recording indicator, active HIGH
}

// GPIOConfig configures a GPIOEngine.
type GPIOConfig struct {
	Pins           Pins
	FocusDelay     time.Duration // time for autofocus
	ShutterDelay   time.Duration // shutter hold time
	RecordInterval time.Duration // delay between two video frames
	MaxZoom        int
	FrontFacing    bool
}

// GPIOEngine is an Engine for a camera body controlled through its 3-pin
// remote connector (GND, FOCUS, SHUTTER), plus an optional flash trigger,
// a recording tally light and a stepper on the zoom ring.
//
// Trigger sequence:
// 1. FOCUS to LOW (activates autofocus)
// 2. Wait for autofocus to complete
// 3. FLASH to HIGH when the flash mode fires, SHUTTER to LOW
// 4. Hold for a moment
// 5. Set SHUTTER and FOCUS back to HIGH, FLASH back to LOW
// 6. Read the frame from the FrameSource and deliver it as a Completion
//
// Recordings are raw MJPEG: JPEG frames written back to back, with no
// container. The .mp4 file name does not make them playable as MP4.
type GPIOEngine struct {
	gpio  gpio.Driver
	cfg   GPIOConfig
	lines engineLines
	back  FrameSource
	front FrameSource
	zoom  *stepper.Stepper

	mu        sync.Mutex
	flash     FlashMode
	zoomLevel int
	facing    bool
	rec       *recording
	closed    bool

	triggers    chan bool
	completions chan Completion
	done        chan struct{}
}

type engineLines struct {
	focus, shutter, flash, tally gpio.Line
}

func (p Pins) lines() engineLines {
	return engineLines{
		focus:   gpio.Line{Name: "focus", Pin: p.Focus, ActiveLow: true},
		shutter: gpio.Line{Name: "shutter", Pin: p.Shutter, ActiveLow: true},
		flash:   gpio.Line{Name: "flash", Pin: p.Flash},
		tally:   gpio.Line{Name: "tally", Pin: p.Tally},
	}
}

func (l engineLines) all() []gpio.Line {
	return []gpio.Line{l.focus, l.shutter, l.flash, l.tally}
}

type recording struct {
	stop chan struct{}
	done chan error
}

// GPIOOption customizes a GPIOEngine.
type GPIOOption func(*GPIOEngine)

// WithZoomStepper drives the zoom ring with s on every SetZoom.
func WithZoomStepper(s *stepper.Stepper) GPIOOption {
	return func(e *GPIOEngine) { e.zoom = s }
}

// WithFrontSource sets the frame source used while the front camera is active.
func WithFrontSource(src FrameSource) GPIOOption {
	return func(e *GPIOEngine) { e.front = src }
}

// NewGPIOEngine creates a GPIO-controlled camera and starts its shutter worker.
// src provides the sensor output of the back camera.
func NewGPIOEngine(g gpio.Driver, cfg GPIOConfig, src FrameSource, opts ...GPIOOption) *GPIOEngine {
	if cfg.RecordInterval <= 0 {
		cfg.RecordInterval = 200 * time.Millisecond
	}
	if cfg.MaxZoom < 0 {
		cfg.MaxZoom = 0
	}

	e := &GPIOEngine{
		gpio:        g,
		cfg:         cfg,
		lines:       cfg.Pins.lines(),
		back:        src,
		facing:      cfg.FrontFacing,
		triggers:    make(chan bool, 1),
		completions: make(chan Completion, 4),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.front == nil {
		e.front = src
	}

	for _, l := range e.lines.all() {
		if err := l.Setup(g); err != nil {
			debug.Error(fmt.Errorf("camera line setup: %w", err))
		}
	}

	go e.shutterLoop()
	return e
}

// TriggerShutter queues a shot. Only one shot may be queued at a time.
func (e *GPIOEngine) TriggerShutter(whileRecording bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	select {
	case e.triggers <- whileRecording:
		return nil
	default:
		return fmt.Errorf("trigger shutter: %w", ErrBusy)
	}
}

func (e *GPIOEngine) shutterLoop() {
	defer close(e.done)
	defer close(e.completions)
	for whileRecording := range e.triggers {
		data, err := e.shoot()
		e.completions <- Completion{Data: data, Err: err, WhileRecording: whileRecording}
	}
}

func (e *GPIOEngine) shoot() ([]byte, error) {
	e.mu.Lock()
	fires := e.flash.Fires()
	src := e.source()
	e.mu.Unlock()

	l := e.lines
	debug.Printf("Camera: triggering shot (focus=%d, shutter=%d, flash=%v)", l.focus.Pin, l.shutter.Pin, fires)

	if err := l.focus.Assert(e.gpio); err != nil {
		return nil, err
	}
	time.Sleep(e.cfg.FocusDelay)

	if fires {
		if err := l.flash.Assert(e.gpio); err != nil {
			_ = l.focus.Release(e.gpio)
			return nil, err
		}
	}
	if err := gpio.Pulse(e.gpio, l.shutter, e.cfg.ShutterDelay); err != nil {
		_ = gpio.ReleaseAll(e.gpio, l.flash, l.focus)
		return nil, err
	}
	if fires {
		if err := l.flash.Release(e.gpio); err != nil {
			return nil, err
		}
	}
	if err := l.focus.Release(e.gpio); err != nil {
		return nil, err
	}

	data, err := src.Frame()
	if err != nil {
		return nil, err
	}
	debug.Verbose("Camera: frame read (%d bytes)", len(data))
	return data, nil
}

// source must be called with mu held.
func (e *GPIOEngine) source() FrameSource {
	if e.facing {
		return e.front
	}
	return e.back
}

// StartRecording lights the tally and streams MJPEG frames into dst until
// StopRecording.
func (e *GPIOEngine) StartRecording(dst io.Writer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.rec != nil {
		return fmt.Errorf("start recording: %w", ErrBusy)
	}
	if err := e.lines.tally.Assert(e.gpio); err != nil {
		return err
	}

	rec := &recording{stop: make(chan struct{}), done: make(chan error, 1)}
	e.rec = rec
	go e.recordLoop(rec, e.source(), dst)
	debug.Live("Camera: recording started")
	return nil
}

func (e *GPIOEngine) recordLoop(rec *recording, src FrameSource, dst io.Writer) {
	ticker := time.NewTicker(e.cfg.RecordInterval)
	defer ticker.Stop()

	frames := 0
	for {
		data, err := src.Frame()
		if err == nil {
			_, err = dst.Write(data)
		}
		if err != nil {
			debug.Error(fmt.Errorf("recording frame %d: %w", frames, err))
			<-rec.stop
			rec.done <- err
			return
		}
		frames++

		select {
		case <-rec.stop:
			debug.Verbose("Camera: recording stopped after %d frames", frames)
			rec.done <- nil
			return
		case <-ticker.C:
		}
	}
}

// StopRecording is a no-op when nothing is recording.
func (e *GPIOEngine) StopRecording() error {
	e.mu.Lock()
	rec := e.rec
	e.rec = nil
	e.mu.Unlock()
	if rec == nil {
		return nil
	}

	close(rec.stop)
	err := <-rec.done
	if terr := e.lines.tally.Release(e.gpio); err == nil {
		err = terr
	}
	debug.Live("Camera: recording stopped")
	return err
}

func (e *GPIOEngine) SetFlashMode(mode FlashMode) error {
	if mode < FlashOff || mode > FlashAuto {
		return fmt.Errorf("unknown flash mode %d", mode)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.flash = mode
	debug.Verbose("Camera: flash mode %s", mode)
	return nil
}

// SetZoom clamps level to [0, MaxZoom] and turns the zoom ring when a
// stepper is attached.
func (e *GPIOEngine) SetZoom(level int) error {
	if level < 0 {
		level = 0
	}
	if level > e.cfg.MaxZoom {
		level = e.cfg.MaxZoom
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.zoom != nil {
		if err := e.zoom.MoveToLevel(level); err != nil {
			return fmt.Errorf("zoom stepper: %w", err)
		}
	}
	e.zoomLevel = level
	return nil
}

func (e *GPIOEngine) MaxZoom() int { return e.cfg.MaxZoom }

func (e *GPIOEngine) Zoom() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.zoomLevel
}

func (e *GPIOEngine) FrontFacing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.facing
}

// SwitchCamera flips between the back and front sources. Refused while recording.
func (e *GPIOEngine) SwitchCamera() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.rec != nil {
		return fmt.Errorf("switch camera: %w", ErrBusy)
	}
	e.facing = !e.facing
	debug.Live("Camera: front facing = %v", e.facing)
	return nil
}

func (e *GPIOEngine) Completions() <-chan Completion { return e.completions }

// Close stops any recording, drains the shutter worker and releases the
// lines. The GPIO driver itself stays open; its owner closes it.
func (e *GPIOEngine) Close() error {
	err := e.StopRecording()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return err
	}
	e.closed = true
	close(e.triggers)
	e.mu.Unlock()

	<-e.done
	_ = gpio.ReleaseAll(e.gpio, e.lines.flash, e.lines.focus, e.lines.shutter)
	return err
}
