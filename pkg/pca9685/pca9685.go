package pca9685

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"
	"periph.io/x/periph/conn/physic"
)

const (
	DefaultAddr = 0x40

	RegMode1 = 0x00
	RegMode2 = 0x01

	// Each PWM output has two 16-bit (low byte first) registers.
	// First register is the on time, second is the off time.
	RegLEDBase = 0x06

	RegPreScale = 0xfe // Pre-scaler for PWM frequency.
	RegTestMode = 0xff

	PWMMax = 4095

	NumChannels = 16

	oscillator = 25 * physic.MegaHertz
)

type Interface interface {
	// Configure sets the PWM frequency.  measured is the frequency the chip
	// actually produces at that setting (its internal oscillator is not
	// accurate); pass 0 to trust the nominal frequency.
	Configure(requested, measured physic.Frequency) error
	SetPulseWidth(channel int, width time.Duration) error
	SetPWM(channel int, value float64) error
	Close() error
}

type registers interface {
	WriteReg(reg byte, buf []byte) error
	Close() error
}

type PCA9685 struct {
	dev registers

	lock   sync.Mutex
	period time.Duration
}

func New(deviceFile string, addr int) (*PCA9685, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open PCA9685 at %s:%#x", deviceFile, addr)
	}
	return newWithRegisters(dev), nil
}

func newWithRegisters(dev registers) *PCA9685 {
	return &PCA9685{dev: dev}
}

// PreScale returns the pre-scaler register value for the requested frequency.
func PreScale(f physic.Frequency) byte {
	ps := math.Round(float64(oscillator)/(4096*float64(f))) - 1
	if ps < 3 {
		ps = 3
	} else if ps > 255 {
		ps = 255
	}
	return byte(ps)
}

func period(f physic.Frequency) time.Duration {
	return time.Duration(float64(time.Second) * float64(physic.Hertz) / float64(f))
}

func (p *PCA9685) Configure(requested, measured physic.Frequency) (err error) {
	if requested <= 0 {
		return errors.Errorf("invalid PWM frequency %v", requested)
	}
	// Put device to sleep.
	err = p.dev.WriteReg(RegMode1, []byte{0x11})
	if err != nil {
		return errors.Wrap(err, "failed to put PCA9685 to sleep")
	}
	err = p.dev.WriteReg(RegPreScale, []byte{PreScale(requested)})
	if err != nil {
		return errors.Wrap(err, "failed to set PCA9685 pre-scaler")
	}
	// Trigger a reset
	err = p.dev.WriteReg(RegMode1, []byte{0x01})
	if err != nil {
		return errors.Wrap(err, "failed to reset PCA9685")
	}
	// Required delay after reset.
	time.Sleep(1 * time.Millisecond)
	// Enable.
	err = p.dev.WriteReg(RegMode1, []byte{0x81})
	if err != nil {
		return errors.Wrap(err, "failed to enable PCA9685")
	}

	actual := measured
	if actual <= 0 {
		actual = requested
	}
	p.lock.Lock()
	p.period = period(actual)
	p.lock.Unlock()
	fmt.Printf("PWM: Configured for %v (using period %v)\n", requested, period(actual))
	return nil
}

// SetPulseWidth sets the high time of each PWM cycle on the given channel.
func (p *PCA9685) SetPulseWidth(channel int, width time.Duration) error {
	p.lock.Lock()
	cycle := p.period
	p.lock.Unlock()
	if cycle <= 0 {
		return errors.New("PCA9685 not configured")
	}
	return p.SetPWM(channel, float64(width)/float64(cycle))
}

// SetPWM sets the duty cycle (0-1) of the given channel.
func (p *PCA9685) SetPWM(channel int, value float64) error {
	if channel < 0 || channel >= NumChannels {
		return errors.Errorf("PWM channel out of range: %d", channel)
	}
	if value < 0 {
		value = 0
	} else if value > 1 {
		value = 1
	}

	pwmValue := uint16(math.Round(PWMMax * value))
	addr := RegLEDBase + channel*4

	return p.dev.WriteReg(byte(addr), []byte{0, 0, byte(pwmValue & 0xff), byte(pwmValue >> 8)})
}

func (p *PCA9685) Close() error {
	return p.dev.Close()
}
