// Package odometer estimates the robot's pose by dead reckoning from wheel
// encoder pulses and detects arrival at a target position or heading.
//
// A single Odometer is shared by everything that needs the pose; construct it
// once and pass it around.  Pose integration and threshold evaluation happen
// under one lock, so no reader sees a pose that has not been checked against
// the armed threshold.  Notifications are delivered after the lock is
// released, so handlers may call back into the Odometer.
package odometer

import (
	"fmt"
	"math"
	"sync"

	"github.com/tigerbot-team/bamboo/pkg/angle"
	"github.com/tigerbot-team/bamboo/pkg/chassis"
)

const (
	// PositionEpsilon is how close (in metres) we need to get to the target
	// position to count as arrived.
	PositionEpsilon = 0.01
	// AngleEpsilon is how close (in degrees) we need to get to the target heading.
	AngleEpsilon = 5.0
)

// Pose is a position in metres and a heading in degrees, range (-180, 180].
// Heading 0 points along +X; positive headings are anti-clockwise.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

func (p Pose) String() string {
	return fmt.Sprintf("(%.3f, %.3f) %.1f°", p.X, p.Y, p.Theta)
}

type EventKind int

const (
	PositionThresholdReached EventKind = iota
	AngleThresholdReached
)

func (k EventKind) String() string {
	switch k {
	case PositionThresholdReached:
		return "position"
	case AngleThresholdReached:
		return "angle"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event describes a threshold being reached.
type Event struct {
	Kind   EventKind
	Pose   Pose
	Target Pose
}

type positionListener struct {
	id int
	fn func(Pose)
}

type thresholdListener struct {
	id int
	fn func(Event)
}

type Odometer struct {
	geometry       chassis.Geometry
	metersPerPulse float64

	lock    sync.Mutex
	pose    Pose
	tracker *Tracker
	closed  bool

	nextListenerID     int
	positionListeners  []positionListener
	thresholdListeners []thresholdListener
}

func New(geometry chassis.Geometry) *Odometer {
	return &Odometer{
		geometry:       geometry,
		metersPerPulse: geometry.MetersPerPulse(),
	}
}

// Pose returns a snapshot of the current estimate.
func (o *Odometer) Pose() Pose {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.pose
}

// Reset moves the estimate back to the origin and disarms any threshold.
func (o *Odometer) Reset() {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.pose = Pose{}
	if o.tracker != nil {
		o.tracker.cancelLocked()
	}
}

// SetPose overwrites the estimate, for example after measuring the robot's
// real position.  The armed threshold (if any) is kept but its overshoot
// history is cleared.
func (o *Odometer) SetPose(p Pose) {
	o.lock.Lock()
	defer o.lock.Unlock()
	p.Theta = angle.FromFloat(p.Theta).Float()
	o.pose = p
	if o.tracker != nil {
		o.tracker.resetHistory()
	}
}

// SetTrackingThreshold arms a new threshold, cancelling the previous one.
// The returned Tracker reports when the position and/or heading is reached.
func (o *Odometer) SetTrackingThreshold(x, y, theta float64) *Tracker {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.tracker != nil {
		o.tracker.cancelLocked()
	}
	t := newTracker(o, Pose{X: x, Y: y, Theta: angle.FromFloat(theta).Float()})
	if o.closed {
		t.cancelLocked()
		return t
	}
	o.tracker = t
	return t
}

// OnPositionChanged registers fn to be called with the new pose after every
// Update.  Call the returned function to unregister.
func (o *Odometer) OnPositionChanged(fn func(Pose)) (remove func()) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.nextListenerID++
	id := o.nextListenerID
	o.positionListeners = append(o.positionListeners, positionListener{id: id, fn: fn})
	return func() {
		o.lock.Lock()
		defer o.lock.Unlock()
		for i, l := range o.positionListeners {
			if l.id == id {
				o.positionListeners = append(o.positionListeners[:i:i], o.positionListeners[i+1:]...)
				return
			}
		}
	}
}

// OnThresholdReached registers fn to be called whenever any armed threshold
// fires.  Intended for telemetry; motion control should use the Tracker.
func (o *Odometer) OnThresholdReached(fn func(Event)) (remove func()) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.nextListenerID++
	id := o.nextListenerID
	o.thresholdListeners = append(o.thresholdListeners, thresholdListener{id: id, fn: fn})
	return func() {
		o.lock.Lock()
		defer o.lock.Unlock()
		for i, l := range o.thresholdListeners {
			if l.id == id {
				o.thresholdListeners = append(o.thresholdListeners[:i:i], o.thresholdListeners[i+1:]...)
				return
			}
		}
	}
}

// Close disarms the threshold and drops all listeners.  Further updates are
// ignored.
func (o *Odometer) Close() {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.closed = true
	if o.tracker != nil {
		o.tracker.cancelLocked()
	}
	o.positionListeners = nil
	o.thresholdListeners = nil
}

// Update integrates one control cycle's worth of wheel travel.  The pulse
// counts are the pulses seen since the previous Update, not running totals.
// RPMs are only used for logging.
func (o *Odometer) Update(leftRPM float64, leftPulses int64, rightRPM float64, rightPulses int64) {
	o.lock.Lock()
	if o.closed {
		o.lock.Unlock()
		return
	}

	o.integrate(leftPulses, rightPulses)
	pose := o.pose

	var events []Event
	var tracker *Tracker
	if o.tracker != nil {
		tracker = o.tracker
		res := tracker.evaluate(pose, o.geometry.AxleLength)
		if res.changed {
			fmt.Printf("ODO: Position: %v RPM: %.0f/%.0f Target: %v Distance: %.3f Arc: %.3f\n",
				pose, leftRPM, rightRPM, tracker.target, res.distance, res.arc)
		}
		if res.position {
			events = append(events, Event{Kind: PositionThresholdReached, Pose: pose, Target: tracker.target})
		}
		if res.angle {
			events = append(events, Event{Kind: AngleThresholdReached, Pose: pose, Target: tracker.target})
		}
	}
	positionListeners := o.positionListeners
	thresholdListeners := o.thresholdListeners
	o.lock.Unlock()

	for _, e := range events {
		tracker.deliver(e)
		for _, l := range thresholdListeners {
			l.fn(e)
		}
	}
	for _, l := range positionListeners {
		l.fn(pose)
	}
}

// integrate applies differential-drive kinematics to the pose.  Must be
// called with the lock held.
func (o *Odometer) integrate(leftPulses, rightPulses int64) {
	distLeft := float64(leftPulses) * o.metersPerPulse
	distRight := float64(rightPulses) * o.metersPerPulse

	theta := o.pose.Theta * math.Pi / 180
	cosTheta := math.Cos(theta)
	sinTheta := math.Sin(theta)

	if leftPulses == rightPulses {
		// Straight line; the arc formula below would divide by zero.
		o.pose.X += distLeft * cosTheta
		o.pose.Y += distLeft * sinTheta
		return
	}

	axle := o.geometry.AxleLength
	rightMinusLeft := distRight - distLeft
	radius := axle * (distRight + distLeft) / (2 * rightMinusLeft)
	dTheta := rightMinusLeft / axle
	if !isFinite(radius) || !isFinite(dTheta) {
		fmt.Printf("ODO: Ignoring unusable sample L=%d R=%d (axle %v)\n", leftPulses, rightPulses, axle)
		return
	}

	o.pose.X += radius * (math.Sin(theta+dTheta) - sinTheta)
	o.pose.Y -= radius * (math.Cos(theta+dTheta) - cosTheta)
	o.pose.Theta = angle.FromRadians(angle.WrapRadians(theta + dTheta)).Float()
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
