// Package capture runs a camera session: one photo or one recording at a
// time, photos taken while recording, flash and zoom controls.
//
// Commands return as soon as the hardware accepted them. Photo results come
// back from the engine asynchronously; Run pumps them into HandleCompletion,
// which persists and normalizes the picture and publishes an event.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cjeanneret/CamGo/internal/debug"
	"github.com/cjeanneret/CamGo/internal/hw/camera"
	"github.com/cjeanneret/CamGo/internal/logic/controls"
	"github.com/cjeanneret/CamGo/internal/logic/imaging"
	"github.com/cjeanneret/CamGo/internal/output"
)

// Mode is the capture state of the session.
type Mode int

const (
	Idle Mode = iota
	PhotoCapture
	Recording
	RecordingWithPhoto
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case PhotoCapture:
		return "photo_capture"
	case Recording:
		return "recording"
	case RecordingWithPhoto:
		return "recording_with_photo"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(text []byte) error {
	for _, candidate := range []Mode{Idle, PhotoCapture, Recording, RecordingWithPhoto} {
		if candidate.String() == string(text) {
			*m = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown capture mode %q", text)
}

// Recording reports whether a video is open in this mode.
func (m Mode) Recording() bool { return m == Recording || m == RecordingWithPhoto }

// Stage names used in IOError besides the normalizer stages.
const (
	StageAllocate = "allocate"
	StageOpen     = "open"
	StagePersist  = "persist"
	StageClose    = "close"
	StageList     = "list"
)

// State is a point-in-time snapshot of the session.
type State struct {
	Mode        Mode   `json:"mode"`
	Flash       string `json:"flash"`
	Slider      int    `json:"slider"`
	Zoom        int    `json:"zoom"`
	MaxZoom     int    `json:"max_zoom"`
	FrontFacing bool   `json:"front_facing"`
	VideoPath   string `json:"video_path,omitempty"`
}

// Option customizes a Controller.
type Option func(*Controller)

// WithNormalize turns post-capture normalization on or off (default on).
func WithNormalize(on bool) Option {
	return func(c *Controller) { c.normalize = on }
}

// WithMirrorFront mirrors photos taken with a front-facing camera
// (default on).
func WithMirrorFront(on bool) Option {
	return func(c *Controller) { c.mirrorFront = on }
}

// WithLocationToggle sets the hook called on Resume and Pause.
func WithLocationToggle(fn func(enabled bool)) Option {
	return func(c *Controller) { c.location = fn }
}

type pendingPhoto struct {
	artifact output.Artifact
	mirror   bool
}

type activeVideo struct {
	artifact output.Artifact
	file     *os.File
}

// Controller owns the engine for the lifetime of the session. All methods
// are safe for concurrent use.
type Controller struct {
	engine      camera.Engine
	namer       *output.Namer
	normalizer  *imaging.Normalizer
	controls    *controls.Coordinator
	normalize   bool
	mirrorFront bool
	location    func(bool)
	events      *hub

	mu      sync.Mutex
	mode    Mode
	pending *pendingPhoto
	video   *activeVideo
	closed  bool
}

// New builds a session around engine. The engine is owned by the
// controller from now on and closed by Close.
func New(engine camera.Engine, namer *output.Namer, normalizer *imaging.Normalizer, opts ...Option) *Controller {
	if normalizer == nil {
		normalizer = imaging.New()
	}
	c := &Controller{
		engine:      engine,
		namer:       namer,
		normalizer:  normalizer,
		controls:    controls.NewCoordinator(engine),
		normalize:   true,
		mirrorFront: true,
		events:      newHub(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.controls.Apply(); err != nil {
		debug.Error(err)
	}
	return c
}

// Subscribe returns a feed of session events and its cancel function.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

// setMode must be called with mu held.
func (c *Controller) setMode(next Mode, cause string) {
	if next == c.mode {
		return
	}
	debug.Transition(c.mode.String(), next.String(), cause)
	c.mode = next
	c.events.publish(Event{Kind: EventModeChanged, Mode: next})
}

// TakePhoto allocates a photo path and fires the shutter. The returned
// artifact is valid even when err is not nil, unless allocation failed.
func (c *Controller) TakePhoto() (output.Artifact, error) {
	return c.shoot(false)
}

// TakePhotoWhileRecording grabs a still without interrupting the video.
func (c *Controller) TakePhotoWhileRecording() (output.Artifact, error) {
	return c.shoot(true)
}

func (c *Controller) shoot(whileRecording bool) (output.Artifact, error) {
	op := "take photo"
	if whileRecording {
		op = "take photo while recording"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return output.Artifact{}, ErrClosed
	}

	var next Mode
	switch {
	case c.mode == PhotoCapture || c.mode == RecordingWithPhoto:
		return output.Artifact{}, conflict(c.mode, op)
	case whileRecording && c.mode == Idle:
		return output.Artifact{}, invalid(c.mode, op)
	case !whileRecording && c.mode == Recording:
		return output.Artifact{}, conflict(c.mode, op)
	case whileRecording:
		next = RecordingWithPhoto
	default:
		next = PhotoCapture
	}

	art, err := c.namer.Allocate(output.Photo)
	if err != nil {
		return output.Artifact{}, &IOError{Stage: StageAllocate, Err: err}
	}
	mirror := c.mirrorFront && c.engine.FrontFacing()

	if err := c.engine.TriggerShutter(whileRecording); err != nil {
		return art, hardware("trigger shutter", err)
	}
	c.pending = &pendingPhoto{artifact: art, mirror: mirror}
	c.setMode(next, op)
	debug.Shot(art.Path, whileRecording)
	return art, nil
}

// HandleCompletion finishes the photo in flight with the engine's result:
// the raw bytes are written to the allocated path, then normalized in place.
// The mode leaves its transient state whatever the outcome.
func (c *Controller) HandleCompletion(done camera.Completion) (output.Artifact, error) {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()
	if p == nil {
		debug.Verbose("Capture: completion without a photo in flight, dropped")
		return output.Artifact{}, fmt.Errorf("completion: %w", ErrInvalidState)
	}

	err := c.finishPhoto(p, done)

	c.mu.Lock()
	c.pending = nil
	if c.mode == RecordingWithPhoto {
		c.setMode(Recording, "photo done")
	} else if c.mode == PhotoCapture {
		c.setMode(Idle, "photo done")
	}
	c.mu.Unlock()

	art := p.artifact
	if err != nil {
		debug.Error(err)
		c.events.publish(failedEvent(&art, err))
		return art, err
	}
	debug.Saved("photo", art.Path)
	c.events.publish(Event{Kind: EventPhotoSaved, Artifact: &art})
	return art, nil
}

func (c *Controller) finishPhoto(p *pendingPhoto, done camera.Completion) error {
	path := p.artifact.Path
	if done.Err != nil {
		return hardware("capture", done.Err)
	}
	if err := os.WriteFile(path, done.Data, 0o644); err != nil {
		return &IOError{Stage: StagePersist, Path: path, Err: err}
	}
	if !c.normalize {
		return nil
	}
	if err := c.normalizer.NormalizeFile(path, p.mirror); err != nil {
		var se *imaging.StageError
		if errors.As(err, &se) {
			return &IOError{Stage: string(se.Stage), Path: path, Err: se.Err}
		}
		return &IOError{Stage: "normalize", Path: path, Err: err}
	}
	return nil
}

func failedEvent(art *output.Artifact, err error) Event {
	e := Event{Kind: EventCaptureFailed, Artifact: art, Error: err.Error()}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		e.Stage = ioErr.Stage
	}
	return e
}

// StartRecording opens a new video file and hands it to the engine.
func (c *Controller) StartRecording() (output.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return output.Artifact{}, ErrClosed
	}
	if c.mode != Idle {
		return output.Artifact{}, conflict(c.mode, "start recording")
	}

	art, err := c.namer.Allocate(output.Video)
	if err != nil {
		return output.Artifact{}, &IOError{Stage: StageAllocate, Err: err}
	}
	f, err := os.OpenFile(art.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return art, &IOError{Stage: StageOpen, Path: art.Path, Err: err}
	}
	if err := c.engine.StartRecording(f); err != nil {
		f.Close()
		os.Remove(art.Path)
		return art, hardware("start recording", err)
	}

	c.video = &activeVideo{artifact: art, file: f}
	c.setMode(Recording, "start recording")
	c.events.publish(Event{Kind: EventVideoStarted, Artifact: &art, Mode: Recording})
	return art, nil
}

// StopRecording finalizes the current video. From Idle it is a no-op, but
// the engine is still told to stop in case it kept a dangling session.
func (c *Controller) StopRecording() (output.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRecording()
}

func (c *Controller) stopRecording() (output.Artifact, error) {
	switch c.mode {
	case Idle:
		if err := c.engine.StopRecording(); err != nil {
			debug.Verbose("Capture: idle stop ignored engine error: %v", err)
		}
		return output.Artifact{}, nil
	case PhotoCapture:
		return output.Artifact{}, nil
	case RecordingWithPhoto:
		return output.Artifact{}, conflict(c.mode, "stop recording")
	}

	v := c.video
	c.video = nil
	stopErr := c.engine.StopRecording()
	closeErr := v.file.Close()
	c.setMode(Idle, "stop recording")

	art := v.artifact
	var err error
	switch {
	case stopErr != nil:
		err = hardware("stop recording", stopErr)
	case closeErr != nil:
		err = &IOError{Stage: StageClose, Path: art.Path, Err: closeErr}
	}
	if err != nil {
		debug.Error(err)
		c.events.publish(failedEvent(&art, err))
		return art, err
	}
	debug.Saved("video", art.Path)
	c.events.publish(Event{Kind: EventVideoSaved, Artifact: &art, Mode: Idle})
	return art, nil
}

// Run delivers engine completions to HandleCompletion until ctx is done or
// the engine closes its completion channel.
func (c *Controller) Run(ctx context.Context) error {
	completions := c.engine.Completions()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case done, ok := <-completions:
			if !ok {
				return nil
			}
			// Failures are published as events.
			_, _ = c.HandleCompletion(done)
		}
	}
}

// CycleFlash advances the flash mode Off, On, Auto, Off...
func (c *Controller) CycleFlash() (camera.FlashMode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.controls.Flash(), ErrClosed
	}
	mode, err := c.controls.CycleFlash()
	if err != nil {
		return mode, err
	}
	c.events.publish(Event{Kind: EventFlashChanged, Mode: c.mode, Flash: mode.String()})
	return mode, nil
}

// SetFlashMode applies a specific flash mode. It is accepted in every mode;
// on hardware rejection the previous flash mode is kept and returned.
func (c *Controller) SetFlashMode(mode camera.FlashMode) (camera.FlashMode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.controls.Flash(), ErrClosed
	}
	return c.setFlash(mode)
}

// setFlash must be called with mu held.
func (c *Controller) setFlash(mode camera.FlashMode) (camera.FlashMode, error) {
	if err := c.controls.SetFlash(mode); err != nil {
		return c.controls.Flash(), err
	}
	c.events.publish(Event{Kind: EventFlashChanged, Mode: c.mode, Flash: mode.String()})
	return mode, nil
}

// SetZoomFromSlider applies a slider position and returns the hardware zoom.
func (c *Controller) SetZoomFromSlider(progress int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	zoom, err := c.controls.SetZoomFromSlider(progress)
	if err != nil {
		return zoom, err
	}
	c.events.publish(Event{Kind: EventZoomChanged, Mode: c.mode, Zoom: zoom, Slider: c.controls.CurrentSliderValue()})
	return zoom, nil
}

// SetZoom applies a hardware zoom level through the slider mapping.
func (c *Controller) SetZoom(level int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	zoom, err := c.controls.SetZoom(level)
	if err != nil {
		return zoom, err
	}
	c.events.publish(Event{Kind: EventZoomChanged, Mode: c.mode, Zoom: zoom, Slider: c.controls.CurrentSliderValue()})
	return zoom, nil
}

// CurrentSliderValue reads the slider position matching the hardware zoom.
func (c *Controller) CurrentSliderValue() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controls.CurrentSliderValue()
}

// SwitchCamera flips between back and front cameras. Only allowed in Idle.
func (c *Controller) SwitchCamera() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.mode != Idle {
		return invalid(c.mode, "switch camera")
	}
	if err := c.engine.SwitchCamera(); err != nil {
		return hardware("switch camera", err)
	}
	c.controls.Reset()
	if err := c.controls.Apply(); err != nil {
		debug.Error(err)
	}
	front := c.engine.FrontFacing()
	debug.Live("Camera switched, front facing = %v", front)
	c.events.publish(Event{Kind: EventCameraSwitched, Mode: c.mode, Front: front})
	return nil
}

// Resume turns the flash off and enables location tagging. The hook runs
// outside the session lock.
func (c *Controller) Resume() {
	c.mu.Lock()
	if !c.closed {
		if _, err := c.setFlash(camera.FlashOff); err != nil {
			debug.Error(err)
		}
	}
	c.mu.Unlock()
	c.toggleLocation(true)
}

// Pause disables location tagging.
func (c *Controller) Pause() { c.toggleLocation(false) }

func (c *Controller) toggleLocation(on bool) {
	if c.location == nil {
		return
	}
	debug.Verbose("Capture: location tagging %v", on)
	c.location(on)
}

// Mode returns the current capture mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// State returns a snapshot of the session.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Mode:        c.mode,
		Flash:       c.controls.Flash().String(),
		Slider:      c.controls.CurrentSliderValue(),
		Zoom:        c.engine.Zoom(),
		MaxZoom:     c.controls.MaxZoom(),
		FrontFacing: c.engine.FrontFacing(),
	}
	if c.video != nil {
		s.VideoPath = c.video.artifact.Path
	}
	return s
}

// Artifacts lists the photos and videos in the session directory, oldest
// first. A directory not created yet holds nothing.
func (c *Controller) Artifacts() ([]output.Artifact, error) {
	dir := c.namer.Dir()
	arts, err := output.List(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &IOError{Stage: StageList, Path: dir, Err: err}
	}
	return arts, nil
}

// Close stops an active recording, closes the engine and ends every event
// subscription. A photo still in flight is abandoned.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	var err error
	if c.mode.Recording() {
		// A pending still cannot finish once the engine closes.
		c.mode = Recording
		_, err = c.stopRecording()
	}
	c.closed = true
	c.mu.Unlock()

	if cerr := c.engine.Close(); cerr != nil && err == nil {
		err = hardware("close engine", cerr)
	}
	c.events.close()
	return err
}
