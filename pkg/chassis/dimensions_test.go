package chassis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultGeometry(t *testing.T) {
	g := Default

	assert.InDelta(t, 1124.4, g.PulsesPerRevolution(), 1e-9)
	assert.InDelta(t, 0.2827433, g.WheelCircumference(), 1e-6)
	assert.InDelta(t, math.Pi*0.09/1124.4, g.MetersPerPulse(), 1e-12)

	// One full wheel turn worth of pulses is one circumference.
	assert.InDelta(t, g.WheelCircumference(), g.PulsesPerRevolution()*g.MetersPerPulse(), 1e-12)
}
