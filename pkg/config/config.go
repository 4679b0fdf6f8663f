// Package config holds the robot's settings.  Settings are read from a YAML
// file over the built-in defaults, so the file only needs the values that
// differ.
package config

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/tigerbot-team/bamboo/pkg/chassis"
	"github.com/tigerbot-team/bamboo/pkg/drivetrain"
)

const (
	DefaultPath = "/cfg/bamboo.yaml"
	InUsePath   = "/cfg/bamboo-in-use.yaml"

	BackendPWM    = "pwm"
	BackendSerial = "serial"
	BackendSim    = "sim"
)

type Config struct {
	Chassis   chassis.Geometry  `yaml:"chassis"`
	Drive     drivetrain.Config `yaml:"drive"`
	Hardware  Hardware          `yaml:"hardware"`
	Telemetry Telemetry         `yaml:"telemetry"`
}

type Hardware struct {
	// One of "pwm", "serial" or "sim".
	Backend string `yaml:"backend"`

	I2CDevice   string `yaml:"i2c_device"`
	PCA9685Addr int    `yaml:"pca9685_addr"`
	// The chip's oscillator runs fast, so the frequency it actually
	// produces is measured and used for the pulse width maths.
	PWMFrequencyHz         float64 `yaml:"pwm_frequency_hz"`
	MeasuredPWMFrequencyHz float64 `yaml:"measured_pwm_frequency_hz"`

	// PWM channel, or controller channel for the serial backend.
	LeftChannel  int `yaml:"left_channel"`
	RightChannel int `yaml:"right_channel"`

	LeftEncoderPin  string `yaml:"left_encoder_pin"`
	RightEncoderPin string `yaml:"right_encoder_pin"`

	SerialPort string `yaml:"serial_port"`
	SerialBaud int    `yaml:"serial_baud"`
}

type Telemetry struct {
	// Framebuffer device for the pose display; empty to disable.
	Framebuffer string `yaml:"framebuffer"`
	// Sound files played when a command starts and finishes; empty to
	// disable.
	StartSound  string `yaml:"start_sound"`
	ArriveSound string `yaml:"arrive_sound"`
	// Where the pose trail is saved by the "map" command.
	TrailPath string `yaml:"trail_path"`
	// Minimum pose change before a new trail point is recorded.
	TrailResolution float64 `yaml:"trail_resolution"`
}

func Default() Config {
	return Config{
		Chassis: chassis.Default,
		Drive:   drivetrain.DefaultConfig(),
		Hardware: Hardware{
			Backend:                BackendPWM,
			I2CDevice:              "/dev/i2c-1",
			PCA9685Addr:            0x40,
			PWMFrequencyHz:         94,
			MeasuredPWMFrequencyHz: 99.7,
			LeftChannel:            1,
			RightChannel:           0,
			LeftEncoderPin:         "GPIO8",
			RightEncoderPin:        "GPIO7",
			SerialPort:             "/dev/ttyACM0",
			SerialBaud:             115200,
		},
		Telemetry: Telemetry{
			Framebuffer:     "/dev/fb1",
			StartSound:      "/sounds/start.wav",
			ArriveSound:     "/sounds/arrived.wav",
			TrailPath:       "/tmp/bamboo-trail.png",
			TrailResolution: 0.01,
		},
	}
}

// Load reads the file at path over the defaults.  A missing file is not an
// error: the defaults are used as-is.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		fmt.Printf("No config at %s, using defaults\n", path)
		return cfg, nil
	} else if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Default(), errors.Wrapf(err, "failed to parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Default(), errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Save writes out the config, typically so there's a record of the settings
// actually in use.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(&c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	if err := ioutil.WriteFile(path, data, 0666); err != nil {
		return errors.Wrapf(err, "failed to write config %s", path)
	}
	return nil
}

func (c Config) Validate() error {
	g := c.Chassis
	if g.GearRatio <= 0 || g.EncoderPPR <= 0 || g.WheelDiameter <= 0 || g.AxleLength <= 0 {
		return errors.Errorf("chassis dimensions must be positive: %+v", g)
	}
	if c.Drive.Period <= 0 {
		return errors.Errorf("control period must be positive, not %v", c.Drive.Period)
	}
	if c.Drive.SettleDelay < 0 || c.Drive.CommandTimeout < 0 {
		return errors.New("settle delay and command timeout can't be negative")
	}
	switch c.Hardware.Backend {
	case BackendPWM:
		if c.Hardware.PWMFrequencyHz <= 0 {
			return errors.New("PWM frequency must be positive")
		}
	case BackendSerial, BackendSim:
	default:
		return errors.Errorf("unknown motor backend %q", c.Hardware.Backend)
	}
	return nil
}
