package tunable

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerbot-team/bamboo/pkg/pid"
)

func TestSelectionWraps(t *testing.T) {
	var ts Tunables
	a := ts.Create("a", 1)
	b := ts.Create("b", 2)

	assert.Equal(t, a, ts.Current())
	ts.SelectNext()
	assert.Equal(t, b, ts.Current())
	ts.SelectNext()
	assert.Equal(t, a, ts.Current())
	ts.SelectPrev()
	assert.Equal(t, b, ts.Current())

	ts.Current().Add(-5)
	assert.Equal(t, -3, b.Get())
	b.Set(7)
	assert.Equal(t, 7, b.Get())
}

func TestPIDTunables(t *testing.T) {
	pt := NewPIDTunables(pid.Gains{Kp: 0.1, Ki: 0.15, Kd: 0})
	assert.Equal(t, 100, pt.Kp.Get())
	assert.Equal(t, 150, pt.Ki.Get())
	assert.Equal(t, 0, pt.Kd.Get())

	pt.SelectNext()
	pt.Current().Add(25)
	g := pt.Gains()
	assert.InDelta(t, 0.1, g.Kp, 1e-12)
	assert.InDelta(t, 0.175, g.Ki, 1e-12)
	assert.Equal(t, 0.0, g.Kd)
}

func TestPIDTunablesSetGainsRounds(t *testing.T) {
	pt := NewPIDTunables(pid.Gains{})
	pt.SetGains(pid.Gains{Kp: 0.1237, Ki: 0.0015, Kd: -0.0074})
	assert.Equal(t, 124, pt.Kp.Get())
	assert.Equal(t, 2, pt.Ki.Get())
	assert.Equal(t, -7, pt.Kd.Get())

	pt.Current().Add(5)
	assert.InDelta(t, 0.129, pt.Gains().Kp, 1e-12)
}
