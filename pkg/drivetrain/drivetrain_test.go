package drivetrain

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/bamboo/pkg/angle"
	"github.com/tigerbot-team/bamboo/pkg/chassis"
	"github.com/tigerbot-team/bamboo/pkg/motor"
	"github.com/tigerbot-team/bamboo/pkg/odometer"
)

// Each 5ms tick advances the simulated wheels by 100ms.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Period = 5 * time.Millisecond
	cfg.SettleDelay = 50 * time.Millisecond
	cfg.CommandTimeout = 5 * time.Second
	return cfg
}

type rig struct {
	dt          *Drivetrain
	odo         *odometer.Odometer
	left, right *motor.Sim

	lock    sync.Mutex
	results []Result
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	simCfg := motor.DefaultSimConfig(chassis.Default, 100*time.Millisecond)
	r := &rig{
		odo:   odometer.New(chassis.Default),
		left:  motor.NewSim(simCfg),
		right: motor.NewSim(simCfg),
	}
	r.dt = New(cfg, r.odo, r.left, r.right)
	r.dt.OnFinished(func(res Result) {
		r.lock.Lock()
		defer r.lock.Unlock()
		r.results = append(r.results, res)
	})
	t.Cleanup(func() {
		_ = r.dt.Shutdown()
	})
	return r
}

func (r *rig) start(t *testing.T) {
	t.Helper()
	require.NoError(t, r.dt.Start(context.Background()))
}

func (r *rig) finished() []Result {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]Result(nil), r.results...)
}

func (r *rig) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.dt.Wait(ctx))
}

func TestForwardArrives(t *testing.T) {
	r := newRig(t, testConfig())
	r.start(t)

	require.NoError(t, r.dt.Forward(context.Background(), 0.3))
	assert.Equal(t, Moving, r.dt.State())
	r.wait(t)

	assert.Equal(t, Idle, r.dt.State())
	results := r.finished()
	require.Len(t, results, 1)
	assert.Equal(t, Arrived, results[0].Reason)
	assert.Equal(t, Forward, results[0].Command.Kind)
	assert.InDelta(t, 0.3, results[0].Command.Target.X, 1e-9)
	assert.InDelta(t, 0.3, results[0].Pose.X, 0.03)

	l, rr := r.dt.Setpoints()
	assert.Equal(t, 0.0, l)
	assert.Equal(t, 0.0, rr)

	// Let it come to rest; it shouldn't drift far from where it stopped.
	time.Sleep(100 * time.Millisecond)
	p := r.odo.Pose()
	assert.InDelta(t, 0.3, p.X, 0.06)
	assert.InDelta(t, 0, p.Y, 1e-6)
}

func TestForwardThenReverseReturnsHome(t *testing.T) {
	r := newRig(t, testConfig())
	r.start(t)

	require.NoError(t, r.dt.Forward(context.Background(), 0.4))
	r.wait(t)
	require.NoError(t, r.dt.Reverse(context.Background(), 0.4))
	r.wait(t)
	time.Sleep(100 * time.Millisecond)

	results := r.finished()
	require.Len(t, results, 2)
	assert.Equal(t, Arrived, results[0].Reason)
	assert.Equal(t, Arrived, results[1].Reason)
	assert.Equal(t, Reverse, results[1].Command.Kind)

	p := r.odo.Pose()
	assert.InDelta(t, 0, p.X, 0.08)
	assert.InDelta(t, 0, p.Theta, 1e-6)
}

func TestTurnLeftAndRight(t *testing.T) {
	r := newRig(t, testConfig())
	r.start(t)

	require.NoError(t, r.dt.TurnLeft(context.Background(), 90))
	l, rr := r.dt.Setpoints()
	assert.Equal(t, -20.0, l)
	assert.Equal(t, 20.0, rr)
	r.wait(t)

	res := r.finished()
	require.Len(t, res, 1)
	assert.Equal(t, Arrived, res[0].Reason)
	assert.InDelta(t, 90, res[0].Pose.Theta, odometer.AngleEpsilon)
	time.Sleep(100 * time.Millisecond)
	assert.InDelta(t, 90, r.odo.Pose().Theta, 12)

	require.NoError(t, r.dt.TurnRight(context.Background(), 180))
	r.wait(t)
	res = r.finished()
	require.Len(t, res, 2)
	assert.Equal(t, Arrived, res[1].Reason)
	assert.InDelta(t, -90, res[1].Command.Target.Theta, 12)
	assert.InDelta(t, res[1].Command.Target.Theta, res[1].Pose.Theta, odometer.AngleEpsilon)

	p := r.odo.Pose()
	assert.InDelta(t, 0, p.X, 0.01, "turning on the spot shouldn't move the robot")
	assert.InDelta(t, 0, p.Y, 0.01)
}

func TestTurnEndingAtStartHeadingArrivesAtOnce(t *testing.T) {
	r := newRig(t, testConfig())
	r.start(t)

	require.NoError(t, r.dt.TurnLeft(context.Background(), 360))
	r.wait(t)
	require.NoError(t, r.dt.TurnRight(context.Background(), 3))
	r.wait(t)

	res := r.finished()
	require.Len(t, res, 2)
	// The full revolution fires before the wheels have turned at all.
	assert.Equal(t, Arrived, res[0].Reason)
	assert.Equal(t, 0.0, res[0].Pose.Theta)
	for _, rr := range res {
		assert.Equal(t, Arrived, rr.Reason, "%v", rr.Command)
		headingError := angle.FromFloat(rr.Command.Target.Theta).Sub(angle.FromFloat(rr.Pose.Theta))
		assert.Less(t, headingError.Abs(), odometer.AngleEpsilon, "%v", rr.Command)
		assert.InDelta(t, 0, rr.Pose.Theta, 10, "%v", rr.Command)
	}
}

func TestStopCancelsCommand(t *testing.T) {
	r := newRig(t, testConfig())
	r.start(t)

	require.NoError(t, r.dt.Forward(context.Background(), 5))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, r.dt.Stop(context.Background()))

	assert.Equal(t, Idle, r.dt.State())
	l, rr := r.dt.Setpoints()
	assert.Equal(t, 0.0, l)
	assert.Equal(t, 0.0, rr)

	res := r.finished()
	require.Len(t, res, 1)
	assert.Equal(t, Stopped, res[0].Reason)

	// No late notification for the stopped command.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, r.finished(), 1)
	assert.Less(t, r.odo.Pose().X, 1.0)
}

func TestNewCommandSupersedes(t *testing.T) {
	r := newRig(t, testConfig())
	r.start(t)

	require.NoError(t, r.dt.Forward(context.Background(), 5))
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, r.dt.TurnLeft(context.Background(), 45))
	assert.GreaterOrEqual(t, time.Since(start), testConfig().SettleDelay, "should settle before the next command")

	res := r.finished()
	require.Len(t, res, 1)
	assert.Equal(t, Superseded, res[0].Reason)
	assert.Equal(t, Forward, res[0].Command.Kind)

	r.wait(t)
	res = r.finished()
	require.Len(t, res, 2)
	assert.Equal(t, Arrived, res[1].Reason)
	assert.Equal(t, TurnLeft, res[1].Command.Kind)
}

func TestSettleHonoursContext(t *testing.T) {
	cfg := testConfig()
	cfg.SettleDelay = time.Hour
	r := newRig(t, cfg)
	r.start(t)

	require.NoError(t, r.dt.Forward(context.Background(), 5))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.dt.Reverse(ctx, 1)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.Equal(t, Idle, r.dt.State())
}

func TestStalledWheelsTimeOut(t *testing.T) {
	cfg := testConfig()
	cfg.CommandTimeout = 100 * time.Millisecond
	r := newRig(t, cfg)
	r.start(t)
	r.left.SetStalled(true)
	r.right.SetStalled(true)

	require.NoError(t, r.dt.Forward(context.Background(), 1))
	r.wait(t)

	res := r.finished()
	require.Len(t, res, 1)
	assert.Equal(t, TimedOut, res[0].Reason)
	assert.Equal(t, odometer.Pose{}, res[0].Pose)
	l, rr := r.dt.Setpoints()
	assert.Equal(t, 0.0, l)
	assert.Equal(t, 0.0, rr)
}

func TestOdometerResetStopsCommand(t *testing.T) {
	r := newRig(t, testConfig())
	r.start(t)

	require.NoError(t, r.dt.Forward(context.Background(), 5))
	r.odo.Reset()
	r.wait(t)

	res := r.finished()
	require.Len(t, res, 1)
	assert.Equal(t, Stopped, res[0].Reason)
}

func TestMotorInitFailure(t *testing.T) {
	r := newRig(t, testConfig())
	r.right.FailInitialize(errors.New("ESC not responding"))

	err := r.dt.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "right motor")
	assert.Contains(t, err.Error(), "ESC not responding")

	assert.Equal(t, ErrNotStarted, r.dt.Forward(context.Background(), 1))
	assert.Equal(t, ErrNotStarted, r.dt.Stop(context.Background()))
}

func TestInvalidAmounts(t *testing.T) {
	r := newRig(t, testConfig())
	r.start(t)

	assert.Error(t, r.dt.Forward(context.Background(), -1))
	assert.Error(t, r.dt.TurnLeft(context.Background(), math.NaN()))
	assert.Error(t, r.dt.Reverse(context.Background(), math.Inf(1)))
	assert.Equal(t, Idle, r.dt.State())
}

func TestDance(t *testing.T) {
	r := newRig(t, testConfig())
	r.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.dt.Dance(ctx))

	res := r.finished()
	require.Len(t, res, 4)
	for _, rr := range res {
		assert.Equal(t, Arrived, rr.Reason)
	}
	assert.InDelta(t, 0, r.odo.Pose().Theta, 15)
}

func TestWaitHonoursContext(t *testing.T) {
	r := newRig(t, testConfig())
	r.start(t)
	assert.NoError(t, r.dt.Wait(context.Background()), "nothing to wait for")

	require.NoError(t, r.dt.Forward(context.Background(), 50))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, r.dt.Wait(ctx))
}

func TestSetPIDValues(t *testing.T) {
	r := newRig(t, testConfig())
	r.dt.SetPIDValues(1, 2, 3)
	g := r.dt.PIDValues()
	assert.Equal(t, 1.0, g.Kp)
	assert.Equal(t, 2.0, g.Ki)
	assert.Equal(t, 3.0, g.Kd)
}

func TestShutdown(t *testing.T) {
	r := newRig(t, testConfig())
	r.start(t)
	require.NoError(t, r.dt.Forward(context.Background(), 5))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, r.dt.Shutdown())
	assert.Equal(t, 0.0, r.left.Throttle())
	assert.Equal(t, 0.0, r.right.Throttle())

	res := r.finished()
	require.Len(t, res, 1)
	assert.Equal(t, Stopped, res[0].Reason)

	assert.Equal(t, ErrShutdown, r.dt.Forward(context.Background(), 1))
	assert.Equal(t, ErrShutdown, r.dt.Start(context.Background()))
	assert.NoError(t, r.dt.Shutdown())
}

type failingMotor struct {
	*motor.Sim
}

func (f failingMotor) Close() error {
	return errors.New("bus gone")
}

func TestShutdownCombinesErrors(t *testing.T) {
	simCfg := motor.DefaultSimConfig(chassis.Default, 100*time.Millisecond)
	left := failingMotor{motor.NewSim(simCfg)}
	right := failingMotor{motor.NewSim(simCfg)}
	dt := New(testConfig(), odometer.New(chassis.Default), left, right)
	require.NoError(t, dt.Start(context.Background()))

	err := dt.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "left motor: bus gone")
	assert.Contains(t, err.Error(), "right motor: bus gone")
}

type flakyMotor struct {
	*motor.Sim
	lock  sync.Mutex
	fails int
}

func (f *flakyMotor) RPM() (float64, error) {
	f.lock.Lock()
	if f.fails > 0 {
		f.fails--
		f.lock.Unlock()
		return 0, errors.New("read failed")
	}
	f.lock.Unlock()
	return f.Sim.RPM()
}

func TestFailedReadSkipsTick(t *testing.T) {
	simCfg := motor.DefaultSimConfig(chassis.Default, 100*time.Millisecond)
	left := &flakyMotor{Sim: motor.NewSim(simCfg), fails: 5}
	right := motor.NewSim(simCfg)
	odo := odometer.New(chassis.Default)
	dt := New(testConfig(), odo, left, right)
	require.NoError(t, dt.Start(context.Background()))
	defer dt.Shutdown()

	require.NoError(t, dt.Forward(context.Background(), 0.2))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, dt.Wait(ctx))
	assert.InDelta(t, 0.2, odo.Pose().X, 0.03)
}
