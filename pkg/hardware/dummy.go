package hardware

import (
	"fmt"

	"github.com/tigerbot-team/bamboo/pkg/config"
	"github.com/tigerbot-team/bamboo/pkg/motor"
)

// Dummy runs on simulated motors and only logs sounds, for use off the robot.
type Dummy struct {
	left, right *motor.Sim
}

func NewDummy(cfg config.Config) *Dummy {
	simCfg := motor.DefaultSimConfig(cfg.Chassis, cfg.Drive.Period)
	return &Dummy{
		left:  motor.NewSim(simCfg),
		right: motor.NewSim(simCfg),
	}
}

func (d *Dummy) Motors() (left, right motor.Interface) {
	fmt.Println("DHW: Motors")
	return d.left, d.right
}

func (d *Dummy) PlaySound(path string) {
	fmt.Printf("DHW: PlaySound path=%v\n", path)
}

func (d *Dummy) Shutdown() error {
	fmt.Println("DHW: Shutdown")
	return nil
}

var _ Interface = (*Dummy)(nil)
