// Package controls keeps the flash mode and the zoom slider in step with
// the camera hardware.
//
// The slider runs the opposite way from the hardware zoom: slider 0 is the
// longest focal length. Every zoom change, whatever its origin, goes through
// SetZoomFromSlider so the two values can never drift apart.
package controls

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/CamGo/internal/debug"
	"github.com/cjeanneret/CamGo/internal/hw/camera"
)

// ErrHardwareRejected matches every error the hardware reported back.
var ErrHardwareRejected = errors.New("hardware rejected the request")

// HardwareError wraps a failure reported by the camera engine.
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s: hardware rejected: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrHardwareRejected) hold for any HardwareError.
func (e *HardwareError) Is(target error) bool { return target == ErrHardwareRejected }

// Engine is the part of camera.Engine the coordinator drives.
type Engine interface {
	SetFlashMode(mode camera.FlashMode) error
	SetZoom(level int) error
	MaxZoom() int
	Zoom() int
}

// flashOrder is the toggle sequence.
var flashOrder = [...]camera.FlashMode{camera.FlashOff, camera.FlashOn, camera.FlashAuto}

// NextFlash returns the mode following m in the Off, On, Auto cycle.
func NextFlash(m camera.FlashMode) camera.FlashMode {
	for i, f := range flashOrder {
		if f == m {
			return flashOrder[(i+1)%len(flashOrder)]
		}
	}
	return camera.FlashOff
}

// ZoomFromSlider maps a slider position to a hardware zoom level.
func ZoomFromSlider(maxZoom, progress int) int { return maxZoom - progress }

// SliderFromZoom maps a hardware zoom level to a slider position.
func SliderFromZoom(maxZoom, zoom int) int { return maxZoom - zoom }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Coordinator is not safe for concurrent use; the capture controller
// serializes access to it.
type Coordinator struct {
	engine  Engine
	maxZoom int
	flash   camera.FlashMode
	slider  int
}

// NewCoordinator reads the current zoom from the engine. Flash starts Off;
// call Apply to push it.
func NewCoordinator(e Engine) *Coordinator {
	c := &Coordinator{engine: e, flash: camera.FlashOff}
	c.Reset()
	return c
}

// Reset re-reads the zoom range and level, e.g. after a camera switch.
func (c *Coordinator) Reset() {
	c.maxZoom = c.engine.MaxZoom()
	if c.maxZoom < 0 {
		c.maxZoom = 0
	}
	c.slider = SliderFromZoom(c.maxZoom, clamp(c.engine.Zoom(), 0, c.maxZoom))
	debug.Verbose("Controls: max zoom %d, slider %d", c.maxZoom, c.slider)
}

// Apply pushes the current flash mode to the hardware.
func (c *Coordinator) Apply() error {
	return c.SetFlash(c.flash)
}

func (c *Coordinator) Flash() camera.FlashMode { return c.flash }

func (c *Coordinator) MaxZoom() int { return c.maxZoom }

// CycleFlash advances the flash one step. When the hardware refuses the
// new mode the current one is kept.
func (c *Coordinator) CycleFlash() (camera.FlashMode, error) {
	if err := c.SetFlash(NextFlash(c.flash)); err != nil {
		return c.flash, err
	}
	return c.flash, nil
}

// SetFlash pushes mode to the hardware and records it on success.
func (c *Coordinator) SetFlash(mode camera.FlashMode) error {
	if err := c.engine.SetFlashMode(mode); err != nil {
		return &HardwareError{Op: "set flash " + mode.String(), Err: err}
	}
	if mode != c.flash {
		debug.Live("Flash: %s -> %s", c.flash, mode)
	}
	c.flash = mode
	return nil
}

// SetZoomFromSlider clamps progress to [0, maxZoom], requests the mapped
// hardware zoom and returns it.
func (c *Coordinator) SetZoomFromSlider(progress int) (int, error) {
	progress = clamp(progress, 0, c.maxZoom)
	zoom := ZoomFromSlider(c.maxZoom, progress)
	if err := c.engine.SetZoom(zoom); err != nil {
		return c.engine.Zoom(), &HardwareError{Op: fmt.Sprintf("set zoom %d", zoom), Err: err}
	}
	c.slider = progress
	debug.Verbose("Zoom: slider %d -> hardware %d", progress, zoom)
	return zoom, nil
}

// SetZoom is the programmatic entry point (pinch, zoom keys). It converts
// level to a slider position and takes the slider path.
func (c *Coordinator) SetZoom(level int) (int, error) {
	return c.SetZoomFromSlider(SliderFromZoom(c.maxZoom, clamp(level, 0, c.maxZoom)))
}

// CurrentSliderValue derives the slider from the zoom the hardware reports
// now, so external zoom changes show up without a callback.
func (c *Coordinator) CurrentSliderValue() int {
	c.slider = SliderFromZoom(c.maxZoom, clamp(c.engine.Zoom(), 0, c.maxZoom))
	return c.slider
}
