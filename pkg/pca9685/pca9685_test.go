package pca9685

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/physic"
)

type write struct {
	reg byte
	buf []byte
}

type fakeRegisters struct {
	writes []write
	closed bool
}

func (f *fakeRegisters) WriteReg(reg byte, buf []byte) error {
	f.writes = append(f.writes, write{reg, append([]byte(nil), buf...)})
	return nil
}

func (f *fakeRegisters) Close() error {
	f.closed = true
	return nil
}

func TestPreScale(t *testing.T) {
	assert.Equal(t, byte(0x79), PreScale(50*physic.Hertz))
	assert.Equal(t, byte(64), PreScale(94*physic.Hertz))
}

func TestPulseWidthUsesMeasuredFrequency(t *testing.T) {
	regs := &fakeRegisters{}
	p := newWithRegisters(regs)

	require.Error(t, p.SetPulseWidth(0, time.Millisecond), "pulse width needs a configured frequency")

	require.NoError(t, p.Configure(50*physic.Hertz, 0))
	require.NoError(t, p.SetPulseWidth(2, 2*time.Millisecond))
	last := regs.writes[len(regs.writes)-1]
	assert.Equal(t, byte(RegLEDBase+8), last.reg)
	// 2ms of 20ms is 10% of 4095.
	assert.Equal(t, []byte{0, 0, 0x9a, 0x01}, last.buf)

	require.NoError(t, p.Configure(50*physic.Hertz, 100*physic.Hertz))
	require.NoError(t, p.SetPulseWidth(2, 2*time.Millisecond))
	last = regs.writes[len(regs.writes)-1]
	// 2ms of 10ms is 20% of 4095 = 819.
	assert.Equal(t, []byte{0, 0, 0x33, 0x03}, last.buf)
}

func TestSetPWMRejectsBadChannel(t *testing.T) {
	p := newWithRegisters(&fakeRegisters{})
	assert.Error(t, p.SetPWM(16, 0.5))
	assert.Error(t, p.SetPWM(-1, 0.5))
}

func TestSetPWMClamps(t *testing.T) {
	regs := &fakeRegisters{}
	p := newWithRegisters(regs)
	require.NoError(t, p.SetPWM(0, 2))
	assert.Equal(t, []byte{0, 0, 0xff, 0x0f}, regs.writes[0].buf)
	require.NoError(t, p.SetPWM(0, -1))
	assert.Equal(t, []byte{0, 0, 0, 0}, regs.writes[1].buf)

	require.NoError(t, p.Close())
	assert.True(t, regs.closed)
}
