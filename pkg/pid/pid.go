// Package pid implements the per-wheel speed controller: a discrete PID loop
// that turns a target RPM and a measured RPM into a bounded throttle.
//
// The controller is sampled once per control cycle by writing the process
// variable.  Setpoint and gains may be changed from any goroutine.
package pid

import (
	"math"
	"sync"
)

type Gains struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

type Config struct {
	Gains `yaml:",inline"`

	// Output bounds, in percent of full throttle.  MaxReverse is negative.
	MaxForward float64 `yaml:"max_forward_throttle"`
	MaxReverse float64 `yaml:"max_reverse_throttle"`
}

type Controller struct {
	lock sync.Mutex

	gains                  Gains
	maxForward, maxReverse float64

	setPoint        float64
	controlVariable float64

	integral      float64
	previousError float64
	havePrevious  bool
}

func New(cfg Config) *Controller {
	if cfg.MaxReverse > cfg.MaxForward {
		cfg.MaxReverse, cfg.MaxForward = cfg.MaxForward, cfg.MaxReverse
	}
	return &Controller{
		gains:      cfg.Gains,
		maxForward: cfg.MaxForward,
		maxReverse: cfg.MaxReverse,
	}
}

func (c *Controller) SetSetPoint(sp float64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.setPoint = sp
}

func (c *Controller) SetPoint() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.setPoint
}

// SetProcessVariable records a new measurement and recalculates the control
// variable.  Call it exactly once per control cycle.
func (c *Controller) SetProcessVariable(pv float64) {
	c.lock.Lock()
	defer c.lock.Unlock()

	err := c.setPoint - pv

	c.integral += err
	c.clampIntegral()

	var derivative float64
	if c.havePrevious {
		derivative = err - c.previousError
	}
	c.previousError = err
	c.havePrevious = true

	out := c.gains.Kp*err + c.gains.Ki*c.integral + c.gains.Kd*derivative
	if math.IsNaN(out) {
		// Only reachable with overflowing terms of opposite sign.
		out = 0
	}
	c.controlVariable = clamp(out, c.maxReverse, c.maxForward)
}

// ControlVariable returns the throttle computed by the last sample.
func (c *Controller) ControlVariable() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.controlVariable
}

// SetGains replaces all three gains at once.
func (c *Controller) SetGains(g Gains) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.gains = g
	c.clampIntegral()
}

func (c *Controller) Gains() Gains {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.gains
}

// Reset drops the accumulated integral and derivative history.  The setpoint
// and gains are kept.
func (c *Controller) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.integral = 0
	c.previousError = 0
	c.havePrevious = false
	c.controlVariable = 0
}

// clampIntegral keeps Ki*integral within the output bounds.  With no integral
// gain there is nothing to accumulate.
func (c *Controller) clampIntegral() {
	ki := c.gains.Ki
	if ki == 0 {
		c.integral = 0
		return
	}
	lo, hi := c.maxReverse/ki, c.maxForward/ki
	if lo > hi {
		lo, hi = hi, lo
	}
	c.integral = clamp(c.integral, lo, hi)
}

func clamp(v, lo, hi float64) float64 {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}
