package camera

import (
	"errors"
	"fmt"
	"io"
)

// Engine is the hardware abstraction the capture controller drives.
// It represents an abstract camera body, regardless of how it's controlled
// (GPIO remote lines, USB, a vendor SDK...). Sensor streaming, exposure and
// autofocus live below this interface.
type Engine interface {
	// TriggerShutter fires one still capture. It returns once the trigger is
	// accepted; the sensor output arrives later on Completions().
	TriggerShutter(whileRecording bool) error

	// StartRecording begins writing a video stream to dst and returns once
	// the engine acknowledged the start. dst stays owned by the caller.
	StartRecording(dst io.Writer) error

	// StopRecording ends the current recording. It must be safe to call
	// when nothing is recording.
	StopRecording() error

	SetFlashMode(mode FlashMode) error
	SetZoom(level int) error
	MaxZoom() int
	Zoom() int

	// FrontFacing reports whether the active sensor faces the user.
	FrontFacing() bool
	SwitchCamera() error

	// Completions delivers shutter results in trigger order. The channel is
	// closed by Close.
	Completions() <-chan Completion

	Close() error
}

// Completion is the result of one shutter trigger.
type Completion struct {
	Data           []byte
	Err            error
	WhileRecording bool
}

var (
	// ErrEngineClosed is returned by every call made after Close.
	ErrEngineClosed = errors.New("camera engine closed")
	// ErrBusy is returned when the engine cannot accept the request now.
	ErrBusy = errors.New("camera engine busy")
)

// FlashMode is the flash setting understood by the hardware.
type FlashMode int

const (
	FlashOff FlashMode = iota
	FlashOn
	FlashAuto
)

// String returns the hardware-facing name of the mode.
func (m FlashMode) String() string {
	switch m {
	case FlashOff:
		return "flash_off"
	case FlashOn:
		return "flash_on"
	case FlashAuto:
		return "flash_auto"
	default:
		return "flash_unknown"
	}
}

// ParseFlashMode reads a hardware-facing name back into a FlashMode.
func ParseFlashMode(s string) (FlashMode, error) {
	for _, m := range []FlashMode{FlashOff, FlashOn, FlashAuto} {
		if m.String() == s {
			return m, nil
		}
	}
	return FlashOff, fmt.Errorf("unknown flash mode %q", s)
}

// Fires reports whether the flash line is pulsed during the shutter hold.
// There is no ambient light reading on the remote lines, so Auto fires.
func (m FlashMode) Fires() bool {
	return m == FlashOn || m == FlashAuto
}
