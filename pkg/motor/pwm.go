package motor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/bamboo/pkg/pca9685"
)

const (
	// NeutralPulse stops the ESC; FullScalePulse is added or subtracted for
	// full forward or reverse.
	NeutralPulse   = 1500 * time.Microsecond
	FullScalePulse = 500 * time.Microsecond
)

// Encoder is the pulse counter attached to a PWM-driven motor.
type Encoder interface {
	Loop(ctx context.Context, wg *sync.WaitGroup)
	SetDirection(reverse bool)
	Total() int64
	RPM() float64
}

// PWM drives an ESC from one PCA9685 channel and reads speed back from a
// single-channel encoder.  The encoder can't sense direction, so the sign of
// the last non-zero throttle is applied to its readings.
type PWM struct {
	name    string
	pwm     pca9685.Interface
	channel int
	enc     Encoder

	lock     sync.Mutex
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	baseline int64
}

func NewPWM(name string, pwm pca9685.Interface, channel int, enc Encoder) *PWM {
	return &PWM{
		name:    name,
		pwm:     pwm,
		channel: channel,
		enc:     enc,
	}
}

// PulseWidth maps a throttle percentage onto the ESC pulse width.
func PulseWidth(percent float64) time.Duration {
	if percent > 100 {
		percent = 100
	} else if percent < -100 {
		percent = -100
	}
	return NeutralPulse + time.Duration(math.Round(float64(FullScalePulse)*percent/100))
}

func (m *PWM) Initialize(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.started {
		return nil
	}
	if err := m.pwm.SetPulseWidth(m.channel, NeutralPulse); err != nil {
		return errors.Wrapf(err, "failed to set %s motor to neutral", m.name)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.enc.Loop(loopCtx, &m.wg)
	m.baseline = m.enc.Total()
	m.started = true
	fmt.Printf("PWM: %s motor on channel %d initialised\n", m.name, m.channel)
	return nil
}

func (m *PWM) SetThrottle(percent float64) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.started {
		return errors.Errorf("%s motor not initialized", m.name)
	}
	if percent > 0 {
		m.enc.SetDirection(false)
	} else if percent < 0 {
		m.enc.SetDirection(true)
	}
	return errors.Wrapf(m.pwm.SetPulseWidth(m.channel, PulseWidth(percent)), "failed to set %s throttle", m.name)
}

func (m *PWM) RPM() (float64, error) {
	return m.enc.RPM(), nil
}

func (m *PWM) EncoderPulses() (int64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.enc.Total() - m.baseline, nil
}

func (m *PWM) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.started {
		return nil
	}
	err := m.pwm.SetPulseWidth(m.channel, NeutralPulse)
	m.cancel()
	m.wg.Wait()
	m.started = false
	return errors.Wrapf(err, "failed to stop %s motor", m.name)
}
