package motor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/bamboo/pkg/chassis"
)

type SimConfig struct {
	Geometry chassis.Geometry
	// Period is the simulated time that passes each time RPM is read, which
	// the drivetrain does once per control cycle.
	Period time.Duration
	// RPMPerPercent is the steady-state wheel speed per percent of throttle.
	RPMPerPercent float64
	// Response is the fraction of the gap to steady state closed each period.
	Response float64
}

func DefaultSimConfig(geometry chassis.Geometry, period time.Duration) SimConfig {
	return SimConfig{
		Geometry:      geometry,
		Period:        period,
		RPMPerPercent: 4,
		Response:      0.5,
	}
}

// Sim is a first-order model of a geared wheel.  It has no goroutine of its
// own; time only moves when RPM is called.
type Sim struct {
	cfg SimConfig
	ppr float64

	lock        sync.Mutex
	initialized bool
	closed      bool
	failInit    error
	stalled     bool
	throttle    float64
	rpm         float64
	pulses      float64
}

func NewSim(cfg SimConfig) *Sim {
	return &Sim{
		cfg: cfg,
		ppr: cfg.Geometry.PulsesPerRevolution(),
	}
}

// FailInitialize makes the next Initialize return err.
func (s *Sim) FailInitialize(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failInit = err
}

// SetStalled simulates a jammed wheel: it reports no movement whatever the
// throttle.
func (s *Sim) SetStalled(stalled bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.stalled = stalled
	if stalled {
		s.rpm = 0
	}
}

func (s *Sim) Initialize(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.failInit != nil {
		return s.failInit
	}
	s.initialized = true
	s.closed = false
	s.throttle = 0
	s.rpm = 0
	s.pulses = 0
	return nil
}

func (s *Sim) SetThrottle(percent float64) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkReady(); err != nil {
		return err
	}
	s.throttle = percent
	return nil
}

func (s *Sim) Throttle() float64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.throttle
}

func (s *Sim) RPM() (float64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkReady(); err != nil {
		return 0, err
	}
	if s.stalled {
		return 0, nil
	}
	target := s.throttle * s.cfg.RPMPerPercent
	s.rpm += (target - s.rpm) * s.cfg.Response
	s.pulses += s.rpm * s.cfg.Period.Minutes() * s.ppr
	return s.rpm, nil
}

func (s *Sim) EncoderPulses() (int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkReady(); err != nil {
		return 0, err
	}
	return int64(math.Trunc(s.pulses)), nil
}

func (s *Sim) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	s.throttle = 0
	s.rpm = 0
	return nil
}

func (s *Sim) checkReady() error {
	if !s.initialized {
		return errors.New("motor not initialized")
	}
	if s.closed {
		return errors.New("motor closed")
	}
	return nil
}
