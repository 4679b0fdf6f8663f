package hardware

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"

	"github.com/tigerbot-team/bamboo/pkg/config"
	"github.com/tigerbot-team/bamboo/pkg/encoder"
	"github.com/tigerbot-team/bamboo/pkg/motor"
	"github.com/tigerbot-team/bamboo/pkg/pca9685"
	"github.com/tigerbot-team/bamboo/pkg/serialmotor"
	"github.com/tigerbot-team/bamboo/pkg/sound"
)

type Hardware struct {
	left, right motor.Interface

	pwm    pca9685.Interface
	bus    *serialmotor.Bus
	sounds *sound.Player
}

var _ Interface = (*Hardware)(nil)

// New brings up the motor backend selected in the config.
func New(cfg config.Config) (*Hardware, error) {
	h := &Hardware{}
	var err error
	switch cfg.Hardware.Backend {
	case config.BackendPWM:
		err = h.initPWM(cfg)
	case config.BackendSerial:
		err = h.initSerial(cfg.Hardware)
	case config.BackendSim:
		h.initSim(cfg)
	default:
		err = errors.Errorf("unknown motor backend %q", cfg.Hardware.Backend)
	}
	if err != nil {
		fmt.Println("HW: Failed to initialise:", err)
		return nil, multierr.Append(err, h.closeDevices())
	}
	h.sounds = sound.NewPlayer()
	fmt.Printf("HW: Using %s motors\n", cfg.Hardware.Backend)
	return h, nil
}

func hertz(f float64) physic.Frequency {
	return physic.Frequency(f * float64(physic.Hertz))
}

func (h *Hardware) initPWM(cfg config.Config) error {
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "failed to initialise periph host")
	}
	hw := cfg.Hardware
	pwm, err := pca9685.New(hw.I2CDevice, hw.PCA9685Addr)
	if err != nil {
		return err
	}
	h.pwm = pwm
	if err := pwm.Configure(hertz(hw.PWMFrequencyHz), hertz(hw.MeasuredPWMFrequencyHz)); err != nil {
		return err
	}

	ppr := cfg.Chassis.PulsesPerRevolution()
	leftEnc, err := encoder.Open(hw.LeftEncoderPin, ppr)
	if err != nil {
		return err
	}
	rightEnc, err := encoder.Open(hw.RightEncoderPin, ppr)
	if err != nil {
		return err
	}
	h.left = motor.NewPWM("left", pwm, hw.LeftChannel, leftEnc)
	h.right = motor.NewPWM("right", pwm, hw.RightChannel, rightEnc)
	return nil
}

func (h *Hardware) initSerial(hw config.Hardware) error {
	bus, err := serialmotor.Open(hw.SerialPort, hw.SerialBaud)
	if err != nil {
		return err
	}
	h.bus = bus
	h.left = bus.Motor("left", hw.LeftChannel)
	h.right = bus.Motor("right", hw.RightChannel)
	return nil
}

func (h *Hardware) initSim(cfg config.Config) {
	simCfg := motor.DefaultSimConfig(cfg.Chassis, cfg.Drive.Period)
	h.left = motor.NewSim(simCfg)
	h.right = motor.NewSim(simCfg)
}

func (h *Hardware) Motors() (left, right motor.Interface) {
	return h.left, h.right
}

func (h *Hardware) PlaySound(path string) {
	h.sounds.Play(path)
}

func (h *Hardware) Shutdown() error {
	fmt.Println("HW: Shutting down")
	h.sounds.Close()
	return h.closeDevices()
}

func (h *Hardware) closeDevices() (err error) {
	if h.pwm != nil {
		err = multierr.Append(err, errors.Wrap(h.pwm.Close(), "failed to close PCA9685"))
	}
	if h.bus != nil {
		err = multierr.Append(err, errors.Wrap(h.bus.Close(), "failed to close serial bus"))
	}
	return
}
