package chassis

import "math"

// Geometry describes the drive wheels and how they are mounted.  All lengths
// are in metres.
type Geometry struct {
	// Gear ratio between the motor shaft (where the encoder sits) and the wheel.
	GearRatio float64 `yaml:"gear_ratio"`
	// Encoder pulses per revolution of the motor shaft.
	EncoderPPR float64 `yaml:"encoder_ppr"`

	WheelDiameter float64 `yaml:"wheel_diameter"`
	// Distance between the contact points of the two drive wheels.
	AxleLength float64 `yaml:"axle_length"`
}

// Default is the Bamboo platform: 46.85:1 gear motors with a 24 PPR encoder
// driving 90mm wheels on a 220mm axle.
var Default = Geometry{
	GearRatio:     46.85,
	EncoderPPR:    24,
	WheelDiameter: 0.090,
	AxleLength:    0.22,
}

// PulsesPerRevolution returns the number of encoder pulses per turn of the wheel.
func (g Geometry) PulsesPerRevolution() float64 {
	return g.EncoderPPR * g.GearRatio
}

func (g Geometry) WheelCircumference() float64 {
	return math.Pi * g.WheelDiameter
}

// MetersPerPulse converts an encoder pulse into linear wheel travel.
func (g Geometry) MetersPerPulse() float64 {
	return g.WheelCircumference() / g.PulsesPerRevolution()
}
