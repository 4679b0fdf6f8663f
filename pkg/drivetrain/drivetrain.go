// Package drivetrain runs the wheel speed loop and turns motion commands
// ("forward 0.5m", "turn left 90°") into PID setpoints plus an odometer
// threshold that stops the robot when it arrives.
package drivetrain

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/tigerbot-team/bamboo/pkg/encoder"
	"github.com/tigerbot-team/bamboo/pkg/motor"
	"github.com/tigerbot-team/bamboo/pkg/odometer"
	"github.com/tigerbot-team/bamboo/pkg/pid"
)

var (
	ErrNotStarted = errors.New("drivetrain not started")
	ErrShutdown   = errors.New("drivetrain shut down")
)

type activeCommand struct {
	id      uint64
	cmd     Command
	tracker *odometer.Tracker
	done    chan struct{}
	result  Result
}

type finishedListener struct {
	id int
	fn func(Result)
}

type Drivetrain struct {
	cfg         Config
	odo         *odometer.Odometer
	left, right motor.Interface
	leftPID     *pid.Controller
	rightPID    *pid.Controller

	// commandLock serialises motion commands, including their settle delay.
	commandLock sync.Mutex

	// controlLock guards everything below.
	controlLock       sync.Mutex
	started           bool
	shutdown          bool
	current           *activeCommand
	nextID            uint64
	zeroedAt          time.Time
	nextListenerID    int
	finishedListeners []finishedListener

	cancelLoop context.CancelFunc
	loopDone   sync.WaitGroup

	// Owned by the control loop.
	leftPulses, rightPulses encoder.DeltaTracker
}

func New(cfg Config, odo *odometer.Odometer, left, right motor.Interface) *Drivetrain {
	return &Drivetrain{
		cfg:      cfg,
		odo:      odo,
		left:     left,
		right:    right,
		leftPID:  pid.New(cfg.PID),
		rightPID: pid.New(cfg.PID),
	}
}

// Start initialises both motors and starts the control loop, which runs
// until ctx is cancelled or Shutdown is called.  If a motor fails to
// initialise the error is returned and the drivetrain stays unusable.
func (d *Drivetrain) Start(ctx context.Context) error {
	d.controlLock.Lock()
	defer d.controlLock.Unlock()

	if d.shutdown {
		return ErrShutdown
	}
	if d.started {
		return nil
	}
	if err := d.left.Initialize(ctx); err != nil {
		fmt.Println("DT: Failed to initialise left motor:", err)
		return errors.Wrap(err, "failed to initialise left motor")
	}
	if err := d.right.Initialize(ctx); err != nil {
		fmt.Println("DT: Failed to initialise right motor:", err)
		return errors.Wrap(err, "failed to initialise right motor")
	}

	var loopCtx context.Context
	loopCtx, d.cancelLoop = context.WithCancel(ctx)
	d.loopDone.Add(1)
	go d.loop(loopCtx)
	d.started = true
	fmt.Println("DT: Started")
	return nil
}

func (d *Drivetrain) loop(ctx context.Context) {
	defer d.loopDone.Done()
	defer fmt.Println("DT: Control loop exited")

	ticker := time.NewTicker(d.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.setThrottles(0, 0)
			return
		case <-ticker.C:
		}

		start := time.Now()
		d.tick()
		if elapsed := time.Since(start); elapsed > d.cfg.Period {
			fmt.Printf("DT: Slow control tick: %v (period %v)\n", elapsed, d.cfg.Period)
		}
	}
}

// tick runs one control cycle.  A failed read or write abandons the cycle;
// pulses not yet counted are picked up by the next one.
func (d *Drivetrain) tick() {
	leftRPM, err := d.left.RPM()
	if err != nil {
		fmt.Println("DT: Failed to read left RPM:", err)
		return
	}
	rightRPM, err := d.right.RPM()
	if err != nil {
		fmt.Println("DT: Failed to read right RPM:", err)
		return
	}
	leftTotal, err := d.left.EncoderPulses()
	if err != nil {
		fmt.Println("DT: Failed to read left encoder:", err)
		return
	}
	rightTotal, err := d.right.EncoderPulses()
	if err != nil {
		fmt.Println("DT: Failed to read right encoder:", err)
		return
	}

	d.leftPID.SetProcessVariable(leftRPM)
	d.rightPID.SetProcessVariable(rightRPM)
	d.setThrottles(d.leftPID.ControlVariable(), d.rightPID.ControlVariable())

	d.odo.Update(leftRPM, d.leftPulses.Delta(leftTotal), rightRPM, d.rightPulses.Delta(rightTotal))
}

func (d *Drivetrain) setThrottles(l, r float64) {
	if err := d.left.SetThrottle(l); err != nil {
		fmt.Println("DT: Failed to set left throttle:", err)
	}
	if err := d.right.SetThrottle(r); err != nil {
		fmt.Println("DT: Failed to set right throttle:", err)
	}
}

func (d *Drivetrain) Forward(ctx context.Context, meters float64) error {
	_, err := d.startLinear(ctx, Forward, meters)
	return err
}

func (d *Drivetrain) Reverse(ctx context.Context, meters float64) error {
	_, err := d.startLinear(ctx, Reverse, meters)
	return err
}

// TurnLeft spins anticlockwise on the spot.  The target is a heading, so a
// turn that ends within odometer.AngleEpsilon of where it started (anything
// under 5 degrees, or a whole number of revolutions) arrives straight away.
// Split such turns into smaller steps.
func (d *Drivetrain) TurnLeft(ctx context.Context, degrees float64) error {
	_, err := d.startTurn(ctx, TurnLeft, degrees)
	return err
}

// TurnRight spins clockwise on the spot, with the same limits as TurnLeft.
func (d *Drivetrain) TurnRight(ctx context.Context, degrees float64) error {
	_, err := d.startTurn(ctx, TurnRight, degrees)
	return err
}

// Stop zeroes both setpoints and abandons the current command, if any.
func (d *Drivetrain) Stop(ctx context.Context) error {
	d.commandLock.Lock()
	defer d.commandLock.Unlock()
	if err := d.checkUsable(); err != nil {
		return err
	}
	d.halt(Stopped)
	return nil
}

// Dance wiggles left and right on the spot, waiting for each turn to finish.
func (d *Drivetrain) Dance(ctx context.Context) error {
	for _, step := range []struct {
		kind    CommandKind
		degrees float64
	}{
		{TurnLeft, 20},
		{TurnRight, 40},
		{TurnLeft, 40},
		{TurnRight, 20},
	} {
		ac, err := d.startTurn(ctx, step.kind, step.degrees)
		if err != nil {
			return err
		}
		select {
		case <-ac.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if ac.result.Reason != Arrived {
			return errors.Errorf("dance interrupted: %v", ac.result.Reason)
		}
	}
	return nil
}

// Wait blocks until the current command, if any, has finished.
func (d *Drivetrain) Wait(ctx context.Context) error {
	d.controlLock.Lock()
	ac := d.current
	d.controlLock.Unlock()
	if ac == nil {
		return nil
	}
	select {
	case <-ac.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Drivetrain) State() State {
	d.controlLock.Lock()
	defer d.controlLock.Unlock()
	if d.current != nil {
		return Moving
	}
	return Idle
}

// SetPIDValues changes the gains of both wheel controllers.
func (d *Drivetrain) SetPIDValues(kp, ki, kd float64) {
	g := pid.Gains{Kp: kp, Ki: ki, Kd: kd}
	d.leftPID.SetGains(g)
	d.rightPID.SetGains(g)
	fmt.Printf("DT: PID gains now %+v\n", g)
}

func (d *Drivetrain) PIDValues() pid.Gains {
	return d.leftPID.Gains()
}

// Setpoints returns the target RPM of each wheel.
func (d *Drivetrain) Setpoints() (left, right float64) {
	return d.leftPID.SetPoint(), d.rightPID.SetPoint()
}

// OnFinished registers fn to be called each time a command ends, for
// whatever reason.  Handlers run synchronously on the goroutine that ended
// the command and must not issue motion commands themselves.
func (d *Drivetrain) OnFinished(fn func(Result)) (remove func()) {
	d.controlLock.Lock()
	defer d.controlLock.Unlock()
	d.nextListenerID++
	id := d.nextListenerID
	d.finishedListeners = append(d.finishedListeners, finishedListener{id: id, fn: fn})
	return func() {
		d.controlLock.Lock()
		defer d.controlLock.Unlock()
		for i, l := range d.finishedListeners {
			if l.id == id {
				d.finishedListeners = append(d.finishedListeners[:i:i], d.finishedListeners[i+1:]...)
				return
			}
		}
	}
}

// Shutdown stops the robot and the control loop and closes both motors.
func (d *Drivetrain) Shutdown() error {
	d.commandLock.Lock()
	defer d.commandLock.Unlock()

	d.controlLock.Lock()
	if d.shutdown {
		d.controlLock.Unlock()
		return nil
	}
	wasStarted := d.started
	d.controlLock.Unlock()

	if wasStarted {
		d.halt(Stopped)
		fmt.Println("DT: Stopping control loop")
		d.cancelLoop()
		d.loopDone.Wait()
	}

	d.controlLock.Lock()
	d.shutdown = true
	d.controlLock.Unlock()

	var err error
	if wasStarted {
		err = multierr.Append(err, errors.Wrap(d.left.SetThrottle(0), "left"))
		err = multierr.Append(err, errors.Wrap(d.right.SetThrottle(0), "right"))
	}
	err = multierr.Append(err, errors.Wrap(d.left.Close(), "failed to close left motor"))
	err = multierr.Append(err, errors.Wrap(d.right.Close(), "failed to close right motor"))
	fmt.Println("DT: Shut down")
	return err
}

func (d *Drivetrain) checkUsable() error {
	d.controlLock.Lock()
	defer d.controlLock.Unlock()
	if d.shutdown {
		return ErrShutdown
	}
	if !d.started {
		return ErrNotStarted
	}
	return nil
}

func checkAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return errors.Errorf("invalid amount %v", amount)
	}
	return nil
}

func (d *Drivetrain) startLinear(ctx context.Context, kind CommandKind, meters float64) (*activeCommand, error) {
	if err := checkAmount(meters); err != nil {
		return nil, err
	}
	sign := 1.0
	if kind == Reverse {
		sign = -1
	}
	rpm := d.cfg.limitRPM(d.cfg.TargetRPM) * sign
	return d.begin(ctx, kind, meters, rpm, rpm, func(p odometer.Pose) odometer.Pose {
		theta := p.Theta * math.Pi / 180
		heading := r2.Vec{X: math.Cos(theta), Y: math.Sin(theta)}
		target := r2.Add(r2.Vec{X: p.X, Y: p.Y}, r2.Scale(sign*meters, heading))
		return odometer.Pose{X: target.X, Y: target.Y, Theta: p.Theta}
	})
}

func (d *Drivetrain) startTurn(ctx context.Context, kind CommandKind, degrees float64) (*activeCommand, error) {
	if err := checkAmount(degrees); err != nil {
		return nil, err
	}
	rpm := d.cfg.limitRPM(d.cfg.TurnRPM)
	left, right := -rpm, rpm
	sign := 1.0
	if kind == TurnRight {
		left, right = rpm, -rpm
		sign = -1
	}
	return d.begin(ctx, kind, degrees, left, right, func(p odometer.Pose) odometer.Pose {
		return odometer.Pose{X: p.X, Y: p.Y, Theta: p.Theta + sign*degrees}
	})
}

// begin supersedes any running command, lets the robot settle and then sets
// off towards the target computed from the settled pose.
func (d *Drivetrain) begin(
	ctx context.Context,
	kind CommandKind,
	amount float64,
	leftRPM, rightRPM float64,
	targetFrom func(odometer.Pose) odometer.Pose,
) (*activeCommand, error) {
	d.commandLock.Lock()
	defer d.commandLock.Unlock()

	if err := d.checkUsable(); err != nil {
		return nil, err
	}
	d.halt(Superseded)
	if err := d.settle(ctx); err != nil {
		return nil, err
	}

	target := targetFrom(d.odo.Pose())
	tracker := d.odo.SetTrackingThreshold(target.X, target.Y, target.Theta)

	d.controlLock.Lock()
	d.nextID++
	ac := &activeCommand{
		id:      d.nextID,
		cmd:     Command{Kind: kind, Amount: amount, Target: tracker.Target()},
		tracker: tracker,
		done:    make(chan struct{}),
	}
	d.current = ac
	d.leftPID.SetSetPoint(leftRPM)
	d.rightPID.SetSetPoint(rightRPM)
	d.controlLock.Unlock()

	fmt.Println("DT: Starting", ac.cmd)
	go d.watch(ac)
	return ac, nil
}

// settle waits until the robot has had SettleDelay to come to rest since the
// setpoints were last zeroed.
func (d *Drivetrain) settle(ctx context.Context) error {
	d.controlLock.Lock()
	remaining := d.cfg.SettleDelay - time.Since(d.zeroedAt)
	d.controlLock.Unlock()
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Drivetrain) watch(ac *activeCommand) {
	reached := ac.tracker.PositionReached()
	if ac.cmd.Kind.isTurn() {
		reached = ac.tracker.AngleReached()
	}
	var timeout <-chan time.Time
	if d.cfg.CommandTimeout > 0 {
		timer := time.NewTimer(d.cfg.CommandTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case p := <-reached:
		d.finish(ac.id, Arrived, p)
	case <-timeout:
		fmt.Println("DT: Timed out:", ac.cmd)
		d.finish(ac.id, TimedOut, d.odo.Pose())
	case <-ac.tracker.Cancelled():
		// Either we already finished the command or someone reset the
		// odometer under us; finish is a no-op in the first case.
		d.finish(ac.id, Stopped, d.odo.Pose())
	}
}

// finish ends the command with the given ID, if it is still the current one.
func (d *Drivetrain) finish(id uint64, reason Reason, pose odometer.Pose) {
	d.controlLock.Lock()
	if d.current == nil || d.current.id != id {
		d.controlLock.Unlock()
		return
	}
	ac, listeners := d.endLocked(reason, pose)
	d.controlLock.Unlock()

	d.notify(ac, listeners)
}

// halt zeroes the setpoints and ends the current command, if any.
func (d *Drivetrain) halt(reason Reason) {
	d.controlLock.Lock()
	if d.current == nil {
		d.controlLock.Unlock()
		return
	}
	ac, listeners := d.endLocked(reason, d.odo.Pose())
	d.controlLock.Unlock()

	d.notify(ac, listeners)
}

func (d *Drivetrain) endLocked(reason Reason, pose odometer.Pose) (*activeCommand, []finishedListener) {
	ac := d.current
	d.current = nil
	d.zeroSetpointsLocked()
	ac.result = Result{Command: ac.cmd, Reason: reason, Pose: pose}
	close(ac.done)
	return ac, d.finishedListeners
}

func (d *Drivetrain) zeroSetpointsLocked() {
	d.leftPID.SetSetPoint(0)
	d.rightPID.SetSetPoint(0)
	d.leftPID.Reset()
	d.rightPID.Reset()
	d.zeroedAt = time.Now()
}

func (d *Drivetrain) notify(ac *activeCommand, listeners []finishedListener) {
	ac.tracker.Cancel()
	fmt.Println("DT: Finished", ac.result)
	for _, l := range listeners {
		l.fn(ac.result)
	}
}
