package odometer

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/tigerbot-team/bamboo/pkg/angle"
)

// Tracker is an armed threshold.  Each of its channels receives at most one
// value: the pose at which that threshold was reached.  A Tracker stops
// firing once it is cancelled, either explicitly or by arming a newer one.
//
// A notification computed just before Cancel may still be delivered after
// it; callers that care must check whether they still own the Tracker.
type Tracker struct {
	odo    *Odometer
	target Pose

	positionC  chan Pose
	angleC     chan Pose
	cancelledC chan struct{}

	// Guarded by odo.lock.
	cancelled     bool
	positionFired bool
	angleFired    bool
	prevDistance  float64
	prevArc       float64
}

type evaluation struct {
	position, angle bool
	distance, arc   float64
	changed         bool
}

func newTracker(o *Odometer, target Pose) *Tracker {
	t := &Tracker{
		odo:        o,
		target:     target,
		positionC:  make(chan Pose, 1),
		angleC:     make(chan Pose, 1),
		cancelledC: make(chan struct{}),
	}
	t.resetHistory()
	return t
}

func (t *Tracker) Target() Pose {
	return t.target
}

// PositionReached fires when the robot gets within PositionEpsilon of the
// target position, or starts moving away from it.
func (t *Tracker) PositionReached() <-chan Pose {
	return t.positionC
}

// AngleReached fires when the heading is within AngleEpsilon of the target.
func (t *Tracker) AngleReached() <-chan Pose {
	return t.angleC
}

// Cancelled is closed once the Tracker has been cancelled.
func (t *Tracker) Cancelled() <-chan struct{} {
	return t.cancelledC
}

func (t *Tracker) Cancel() {
	t.odo.lock.Lock()
	defer t.odo.lock.Unlock()
	t.cancelLocked()
}

func (t *Tracker) cancelLocked() {
	if t.cancelled {
		return
	}
	t.cancelled = true
	close(t.cancelledC)
	if t.odo.tracker == t {
		t.odo.tracker = nil
	}
}

// resetHistory puts the overshoot detectors back to "no previous sample".
func (t *Tracker) resetHistory() {
	t.prevDistance = math.Inf(1)
	t.prevArc = math.Inf(1)
}

// evaluate compares the pose against the target.  Must be called with the
// odometer lock held.
func (t *Tracker) evaluate(p Pose, axleLength float64) (res evaluation) {
	if t.cancelled {
		return
	}

	res.distance = r2.Norm(r2.Sub(r2.Vec{X: t.target.X, Y: t.target.Y}, r2.Vec{X: p.X, Y: p.Y}))
	headingError := angle.FromFloat(t.target.Theta).Sub(angle.FromFloat(p.Theta))
	res.arc = axleLength / 2 * math.Abs(headingError.Radians())
	res.changed = res.distance != t.prevDistance || res.arc != t.prevArc

	// Rather than looking for an exact zero crossing, treat the distance
	// growing again as having passed the target.
	if !t.positionFired && (res.distance < PositionEpsilon || res.distance > t.prevDistance) {
		t.positionFired = true
		res.position = true
	}
	if !t.angleFired && headingError.Abs() < AngleEpsilon {
		t.angleFired = true
		res.angle = true
	}

	t.prevDistance = res.distance
	t.prevArc = res.arc
	return
}

// deliver never blocks: each channel has room for its single value.
func (t *Tracker) deliver(e Event) {
	switch e.Kind {
	case PositionThresholdReached:
		t.positionC <- e.Pose
	case AngleThresholdReached:
		t.angleC <- e.Pose
	}
}
