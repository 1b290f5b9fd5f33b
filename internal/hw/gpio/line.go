package gpio

import (
	"fmt"
	"time"

	"github.com/cjeanneret/CamGo/internal/debug"
)

// Line is one named output wired to a camera accessory. Pin 0 means the
// line is not wired: every operation on it succeeds without touching the
// driver.
type Line struct {
	Name      string
	Pin       int
	ActiveLow bool // remote connector lines are pulled LOW to act
}

// Wired reports whether the line has a pin.
func (l Line) Wired() bool { return l.Pin > 0 }

func (l Line) active() Level {
	if l.ActiveLow {
		return Low
	}
	return High
}

// Setup configures the pin as output and leaves it released.
func (l Line) Setup(d Driver) error {
	if !l.Wired() {
		return nil
	}
	if err := d.SetupPin(l.Pin, Output); err != nil {
		return fmt.Errorf("%s: %w", l.Name, err)
	}
	return l.Release(d)
}

// Assert drives the line to its active level.
func (l Line) Assert(d Driver) error {
	return l.write(d, l.active())
}

// Release drives the line back to its resting level.
func (l Line) Release(d Driver) error {
	return l.write(d, !l.active())
}

func (l Line) write(d Driver, level Level) error {
	if !l.Wired() {
		return nil
	}
	if err := d.WritePin(l.Pin, level); err != nil {
		return fmt.Errorf("%s: %w", l.Name, err)
	}
	return nil
}

// Pulse asserts the line, holds it, then releases it. The line is released
// even when the hold is interrupted by a write error on assert.
func Pulse(d Driver, l Line, hold time.Duration) error {
	debug.Trace("Pulse %s (pin %d) for %v", l.Name, l.Pin, hold)
	if err := l.Assert(d); err != nil {
		_ = l.Release(d)
		return err
	}
	time.Sleep(hold)
	return l.Release(d)
}

// ReleaseAll returns every line to rest and reports the first failure.
func ReleaseAll(d Driver, lines ...Line) error {
	var first error
	for _, l := range lines {
		if err := l.Release(d); err != nil && first == nil {
			first = err
		}
	}
	return first
}
