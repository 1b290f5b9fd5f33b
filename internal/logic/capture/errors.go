package capture

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/CamGo/internal/logic/controls"
)

var (
	// ErrConflictingOperation means a photo or recording is already running.
	// The request was rejected and the mode is unchanged.
	ErrConflictingOperation = errors.New("conflicting capture operation")
	// ErrInvalidState means the request makes no sense in the current mode.
	ErrInvalidState = errors.New("invalid state for operation")
	// ErrHardwareRejected matches failures reported by the camera engine.
	ErrHardwareRejected = controls.ErrHardwareRejected
	// ErrIOFailure matches every *IOError.
	ErrIOFailure = errors.New("i/o failure")
	// ErrClosed is returned by every command after Close.
	ErrClosed = errors.New("capture session closed")
)

// IOError is a file failure tagged with the stage it happened in. Path is
// the artifact involved, kept so the caller can retry or clean up.
type IOError struct {
	Stage string
	Path  string
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIOFailure }

func conflict(mode Mode, op string) error {
	return fmt.Errorf("%s while %s: %w", op, mode, ErrConflictingOperation)
}

func invalid(mode Mode, op string) error {
	return fmt.Errorf("%s while %s: %w", op, mode, ErrInvalidState)
}

func hardware(op string, err error) error {
	var hw *controls.HardwareError
	if errors.As(err, &hw) {
		return err
	}
	return &controls.HardwareError{Op: op, Err: err}
}
