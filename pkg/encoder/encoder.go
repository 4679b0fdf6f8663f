// Package encoder counts pulses from a single-channel wheel encoder on a GPIO
// pin and derives a smoothed RPM from them.
//
// A single channel can't tell which way the wheel turns, so the owner of the
// motor tells the encoder which direction it is driving.
package encoder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
)

const (
	// SampleInterval is how often the RPM estimate is refreshed.
	SampleInterval = 50 * time.Millisecond
	// EMAAlpha is the weight of the newest sample in the RPM moving average.
	EMAAlpha = 0.8

	edgeTimeout = 100 * time.Millisecond
)

type Encoder struct {
	pin          gpio.PinIn
	pulsesPerRev float64

	lock       sync.Mutex
	reverse    bool
	total      int64
	sinceLast  int64
	rpm        float64
	lastSample time.Time
}

// Open configures the named pin (e.g. "GPIO8") for edge detection.
func Open(pinName string, pulsesPerRev float64) (*Encoder, error) {
	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, errors.Errorf("no such GPIO pin %q", pinName)
	}
	if err := p.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, errors.Wrapf(err, "failed to configure encoder pin %s", pinName)
	}
	return New(p, pulsesPerRev), nil
}

// New wraps a pin that has already been configured for edge detection.
func New(pin gpio.PinIn, pulsesPerRev float64) *Encoder {
	return &Encoder{
		pin:          pin,
		pulsesPerRev: pulsesPerRev,
	}
}

// Loop counts edges and refreshes the RPM estimate until ctx is done.
func (e *Encoder) Loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer fmt.Println("ENC: loop exited", e.pin)

	var samplerDone sync.WaitGroup
	samplerDone.Add(1)
	go func() {
		defer samplerDone.Done()
		ticker := time.NewTicker(SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				e.sample(now)
			}
		}
	}()

	for ctx.Err() == nil {
		if e.pin.WaitForEdge(edgeTimeout) {
			e.recordEdge()
		}
	}
	samplerDone.Wait()
}

// SetDirection sets the sign applied to subsequent pulses and to the RPM.
func (e *Encoder) SetDirection(reverse bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.reverse = reverse
}

// Total returns the signed running pulse count.
func (e *Encoder) Total() int64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.total
}

// RPM returns the smoothed, signed wheel speed.
func (e *Encoder) RPM() float64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.reverse {
		return -e.rpm
	}
	return e.rpm
}

func (e *Encoder) recordEdge() {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.reverse {
		e.total--
	} else {
		e.total++
	}
	e.sinceLast++
}

func (e *Encoder) sample(now time.Time) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.lastSample.IsZero() {
		e.lastSample = now
		e.sinceLast = 0
		return
	}
	elapsed := now.Sub(e.lastSample)
	if elapsed <= 0 {
		return
	}
	revs := float64(e.sinceLast) / e.pulsesPerRev
	newRPM := revs / elapsed.Minutes()
	e.rpm = EMAAlpha*newRPM + (1-EMAAlpha)*e.rpm

	e.sinceLast = 0
	e.lastSample = now
}
