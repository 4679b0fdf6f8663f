package drivetrain

import (
	"time"

	"github.com/tigerbot-team/bamboo/pkg/pid"
)

type Config struct {
	// Period of the control loop.
	Period time.Duration `yaml:"period"`
	// PID settings shared by both wheels.
	PID pid.Config `yaml:"pid"`

	// Wheel speeds used for straight moves and for turning on the spot.
	TargetRPM float64 `yaml:"target_rpm"`
	TurnRPM   float64 `yaml:"turn_rpm"`
	// No setpoint is ever allowed above this.
	MaxRPM float64 `yaml:"max_rpm"`

	// How long to let the robot come to rest between commands.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// A command that hasn't arrived after this long is stopped.  Zero
	// disables the timeout.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Period: 100 * time.Millisecond,
		PID: pid.Config{
			Gains:      pid.Gains{Kp: 0.1, Ki: 0.15, Kd: 0},
			MaxForward: 25,
			MaxReverse: -25,
		},
		TargetRPM:      50,
		TurnRPM:        20,
		MaxRPM:         100,
		SettleDelay:    250 * time.Millisecond,
		CommandTimeout: 30 * time.Second,
	}
}

func (c Config) limitRPM(rpm float64) float64 {
	if c.MaxRPM <= 0 {
		return rpm
	}
	if rpm > c.MaxRPM {
		return c.MaxRPM
	}
	if rpm < -c.MaxRPM {
		return -c.MaxRPM
	}
	return rpm
}
