package drivetrain

import (
	"fmt"

	"github.com/tigerbot-team/bamboo/pkg/odometer"
)

type State int

const (
	Idle State = iota
	Moving
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Moving:
		return "moving"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type CommandKind int

const (
	Forward CommandKind = iota
	Reverse
	TurnLeft
	TurnRight
)

func (k CommandKind) String() string {
	switch k {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	case TurnLeft:
		return "left"
	case TurnRight:
		return "right"
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

func (k CommandKind) isTurn() bool {
	return k == TurnLeft || k == TurnRight
}

// Command is a single motion: a distance in metres for Forward and Reverse,
// an angle in degrees for the turns.
type Command struct {
	Kind   CommandKind
	Amount float64
	Target odometer.Pose
}

func (c Command) String() string {
	if c.Kind.isTurn() {
		return fmt.Sprintf("%v %.1f° (to %.1f°)", c.Kind, c.Amount, c.Target.Theta)
	}
	return fmt.Sprintf("%v %.3fm (to %.3f, %.3f)", c.Kind, c.Amount, c.Target.X, c.Target.Y)
}

type Reason int

const (
	Arrived Reason = iota
	Stopped
	TimedOut
	Superseded
)

func (r Reason) String() string {
	switch r {
	case Arrived:
		return "arrived"
	case Stopped:
		return "stopped"
	case TimedOut:
		return "timed out"
	case Superseded:
		return "superseded"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Result reports how a command ended and where the robot was at the time.
type Result struct {
	Command Command
	Reason  Reason
	Pose    odometer.Pose
}

func (r Result) String() string {
	return fmt.Sprintf("%v %v at %v", r.Command, r.Reason, r.Pose)
}
