package hardware

import "github.com/tigerbot-team/bamboo/pkg/motor"

type Interface interface {
	// Motors returns the two drive motors.  They're owned by the caller
	// from then on, including closing them.
	Motors() (left, right motor.Interface)

	PlaySound(path string)

	// Shutdown releases the shared devices behind the motors.
	Shutdown() error
}
