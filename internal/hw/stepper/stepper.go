package stepper

import (
	"sync"
	"time"

	"github.com/cjeanneret/CamGo/internal/debug"
	"github.com/cjeanneret/CamGo/internal/hw/gpio"
)

// Config holds the hardware configuration for the stepper that turns the
// lens zoom ring.
type Config struct {
	StepPin       int
	DirPin        int
	EnablePin     int           // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	StepsPerLevel int           // motor steps between two adjacent zoom levels
	StepDelay     time.Duration // delay per half-cycle of STEP pulse. Total step = 2*StepDelay.
}

// Stepper drives a zoom ring and remembers where it is, so callers can
// ask for an absolute zoom level rather than a relative move.
// Position 0 is the wide end, reached at power-on by the lens stop.
type Stepper struct {
	gpio   gpio.Driver
	cfg    Config
	delay  time.Duration
	step   gpio.Line
	enable gpio.Line

	mu       sync.Mutex
	position int // in steps
}

// NewStepper creates a new zoom stepper controller.
// cfg.StepDelay: if 0, defaults to 1ms. cfg.StepsPerLevel: if 0, defaults to 1.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)

	delay := cfg.StepDelay
	if delay <= 0 {
		delay = 1 * time.Millisecond
	}
	if cfg.StepsPerLevel <= 0 {
		cfg.StepsPerLevel = 1
	}

	s := &Stepper{
		gpio:   g,
		cfg:    cfg,
		delay:  delay,
		step:   gpio.Line{Name: "zoom step", Pin: cfg.StepPin},
		enable: gpio.Line{Name: "zoom enable", Pin: cfg.EnablePin, ActiveLow: true},
	}

	// A4988 ENABLE rests released: the ring only needs torque while moving.
	_ = s.enable.Setup(g)

	return s
}

// Position returns the current position in steps.
func (s *Stepper) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Level returns the zoom level the ring currently sits on.
func (s *Stepper) Level() int {
	return s.Position() / s.cfg.StepsPerLevel
}

// MoveToLevel turns the ring to an absolute zoom level.
// The driver is enabled for the move and released afterwards.
func (s *Stepper) MoveToLevel(level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := level*s.cfg.StepsPerLevel - s.position
	if delta == 0 {
		return nil
	}
	debug.Verbose("Zoom stepper: level %d -> %d (%d steps)", s.position/s.cfg.StepsPerLevel, level, delta)

	if err := s.enable.Assert(s.gpio); err != nil {
		return err
	}
	err := s.move(delta)
	if derr := s.enable.Release(s.gpio); err == nil {
		err = derr
	}
	return err
}

// MoveSteps moves the motor by a number of steps (positive or negative).
func (s *Stepper) MoveSteps(steps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.move(steps)
}

// move must be called with mu held. Position is updated per pulse so a
// failed move still leaves an accurate position behind.
func (s *Stepper) move(steps int) error {
	if steps == 0 {
		return nil
	}

	dirLevel := gpio.High
	direction := "tele"
	unit := 1
	if steps < 0 {
		dirLevel = gpio.Low
		direction = "wide"
		unit = -1
		steps = -steps
	}

	debug.Printf("Zoom stepper: moving %d steps (%s) on pin %d", steps, direction, s.cfg.StepPin)

	if err := s.gpio.WritePin(s.cfg.DirPin, dirLevel); err != nil {
		return err
	}

	for i := 0; i < steps; i++ {
		if err := s.stepPulse(); err != nil {
			return err
		}
		s.position += unit
	}
	return nil
}

func (s *Stepper) stepPulse() error {
	if err := gpio.Pulse(s.gpio, s.step, s.delay); err != nil {
		return err
	}
	time.Sleep(s.delay)
	return nil
}
