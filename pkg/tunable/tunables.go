// Package tunable holds integer knobs that can be nudged up and down at
// runtime from the operator shell.
package tunable

import (
	"fmt"
	"sync/atomic"

	"github.com/tigerbot-team/bamboo/pkg/pid"
)

// Gain tunables are stored in thousandths.
const GainScale = 1000

type Tunable struct {
	Name  string
	Value int64
}

func (t *Tunable) Add(delta int) {
	newV := atomic.AddInt64(&t.Value, int64(delta))
	fmt.Println("Tunable", t.Name, "=", newV)
}

func (t *Tunable) Set(v int) {
	atomic.StoreInt64(&t.Value, int64(v))
	fmt.Println("Tunable", t.Name, "=", v)
}

func (t *Tunable) Get() int {
	return int(atomic.LoadInt64(&t.Value))
}

type Tunables struct {
	All      []*Tunable
	selected int
}

func (t *Tunables) Create(name string, value int) *Tunable {
	newTunable := &Tunable{
		Name:  name,
		Value: int64(value),
	}
	t.All = append(t.All, newTunable)
	return newTunable
}

func (t *Tunables) SelectNext() {
	t.selected++
	if t.selected >= len(t.All) {
		t.selected = 0
	}
	fmt.Println("Tunable", t.Current().Name, "selected, value:", t.Current().Get())
}

func (t *Tunables) SelectPrev() {
	t.selected--
	if t.selected < 0 {
		t.selected = len(t.All) - 1
	}
	fmt.Println("Tunable", t.Current().Name, "selected, value:", t.Current().Get())
}

func (t *Tunables) Current() *Tunable {
	return t.All[t.selected]
}

// PIDTunables exposes the three gains of a PID loop as tunables.
type PIDTunables struct {
	Tunables
	Kp, Ki, Kd *Tunable
}

func NewPIDTunables(g pid.Gains) *PIDTunables {
	t := &PIDTunables{}
	t.Kp = t.Create("kp", toThousandths(g.Kp))
	t.Ki = t.Create("ki", toThousandths(g.Ki))
	t.Kd = t.Create("kd", toThousandths(g.Kd))
	return t
}

// SetGains overwrites all three tunables, rounding to the nearest thousandth.
func (t *PIDTunables) SetGains(g pid.Gains) {
	t.Kp.Set(toThousandths(g.Kp))
	t.Ki.Set(toThousandths(g.Ki))
	t.Kd.Set(toThousandths(g.Kd))
}

func (t *PIDTunables) Gains() pid.Gains {
	return pid.Gains{
		Kp: float64(t.Kp.Get()) / GainScale,
		Ki: float64(t.Ki.Get()) / GainScale,
		Kd: float64(t.Kd.Get()) / GainScale,
	}
}

func toThousandths(v float64) int {
	if v >= 0 {
		return int(v*GainScale + 0.5)
	}
	return int(v*GainScale - 0.5)
}
