// Package motor defines what the drivetrain needs from a wheel: a throttle to
// set and an encoder to read.
package motor

import "context"

type Interface interface {
	// Initialize prepares the motor for use.  Must be called before any
	// other method.
	Initialize(ctx context.Context) error
	// SetThrottle sets the drive level as a percentage; negative is reverse.
	SetThrottle(percent float64) error
	// RPM returns the current wheel speed; negative when reversing.
	RPM() (float64, error)
	// EncoderPulses returns the signed running pulse count since Initialize.
	EncoderPulses() (int64, error)
	// Close stops the motor and releases the hardware.
	Close() error
}
