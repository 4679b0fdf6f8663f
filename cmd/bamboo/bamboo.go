package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/bamboo/pkg/config"
	"github.com/tigerbot-team/bamboo/pkg/drivetrain"
	"github.com/tigerbot-team/bamboo/pkg/hardware"
	"github.com/tigerbot-team/bamboo/pkg/odometer"
	"github.com/tigerbot-team/bamboo/pkg/pid"
	"github.com/tigerbot-team/bamboo/pkg/screen"
	"github.com/tigerbot-team/bamboo/pkg/tunable"
)

var Flags struct {
	Config  string `help:"Config file to load." default:"/cfg/bamboo.yaml" type:"path"`
	Backend string `help:"Override the motor backend: pwm, serial or sim."`
	Dummy   bool   `help:"Run on simulated motors without a speaker or screen."`
}

var Shell struct {
	Forward ForwardCmd `cmd:"" help:"Drive forward a distance in metres."`
	Reverse ReverseCmd `cmd:"" help:"Drive backwards a distance in metres."`
	Left    LeftCmd    `cmd:"" help:"Turn left on the spot, in degrees."`
	Right   RightCmd   `cmd:"" help:"Turn right on the spot, in degrees."`
	Stop    StopCmd    `cmd:"" help:"Stop immediately."`
	Wait    WaitCmd    `cmd:"" help:"Wait for the current command to finish."`
	Dance   DanceCmd   `cmd:"" help:"Wiggle on the spot."`
	Pid     PIDCmd     `cmd:"" help:"Set the wheel PID gains."`
	Tune    TuneCmd    `cmd:"" help:"Nudge the PID gains."`
	Pose    PoseCmd    `cmd:"" help:"Show the current pose."`
	Reset   ResetCmd   `cmd:"" help:"Reset the pose to the origin."`
	Map     MapCmd     `cmd:"" help:"Save the driven trail as a PNG."`
	Quit    QuitCmd    `cmd:"" help:"Quit"`
}

type Context struct {
	ctx      context.Context
	cfg      config.Config
	dt       *drivetrain.Drivetrain
	odo      *odometer.Odometer
	hw       hardware.Interface
	trail    *screen.Trail
	tunables *tunable.PIDTunables
}

var (
	poseStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type ForwardCmd struct {
	Meters float64 `arg:"" help:"Distance in metres."`
}

func (c *ForwardCmd) Run(ctx *Context) error {
	return ctx.startMove(ctx.dt.Forward, c.Meters)
}

type ReverseCmd struct {
	Meters float64 `arg:"" help:"Distance in metres."`
}

func (c *ReverseCmd) Run(ctx *Context) error {
	return ctx.startMove(ctx.dt.Reverse, c.Meters)
}

type LeftCmd struct {
	Degrees float64 `arg:"" help:"Angle in degrees."`
}

func (c *LeftCmd) Run(ctx *Context) error {
	return ctx.startMove(ctx.dt.TurnLeft, c.Degrees)
}

type RightCmd struct {
	Degrees float64 `arg:"" help:"Angle in degrees."`
}

func (c *RightCmd) Run(ctx *Context) error {
	return ctx.startMove(ctx.dt.TurnRight, c.Degrees)
}

func (ctx *Context) startMove(move func(context.Context, float64) error, amount float64) error {
	ctx.hw.PlaySound(ctx.cfg.Telemetry.StartSound)
	return move(ctx.ctx, amount)
}

type StopCmd struct{}

func (c *StopCmd) Run(ctx *Context) error {
	return ctx.dt.Stop(ctx.ctx)
}

type WaitCmd struct {
	Timeout time.Duration `help:"Give up after this long." default:"60s"`
}

func (c *WaitCmd) Run(ctx *Context) error {
	waitCtx, cancel := context.WithTimeout(ctx.ctx, c.Timeout)
	defer cancel()
	return ctx.dt.Wait(waitCtx)
}

type DanceCmd struct{}

func (c *DanceCmd) Run(ctx *Context) error {
	// Dance blocks until it's done, so run it in the background to keep the
	// shell responsive (and able to stop it).
	go func() {
		if err := ctx.dt.Dance(ctx.ctx); err != nil {
			fmt.Println(warnStyle.Render("Dance: " + err.Error()))
		}
	}()
	return nil
}

type PIDCmd struct {
	Kp float64 `arg:""`
	Ki float64 `arg:""`
	Kd float64 `arg:""`
}

func (c *PIDCmd) Run(ctx *Context) error {
	ctx.dt.SetPIDValues(c.Kp, c.Ki, c.Kd)
	ctx.tunables.SetGains(pid.Gains{Kp: c.Kp, Ki: c.Ki, Kd: c.Kd})
	return nil
}

type TuneCmd struct {
	Action string `arg:"" enum:"next,prev,up,down" help:"next/prev selects a gain, up/down changes it."`
	Step   int    `help:"Step size in thousandths." default:"5"`
}

func (c *TuneCmd) Run(ctx *Context) error {
	switch c.Action {
	case "next":
		ctx.tunables.SelectNext()
	case "prev":
		ctx.tunables.SelectPrev()
	case "up":
		ctx.tunables.Current().Add(c.Step)
	case "down":
		ctx.tunables.Current().Add(-c.Step)
	}
	g := ctx.tunables.Gains()
	ctx.dt.SetPIDValues(g.Kp, g.Ki, g.Kd)
	return nil
}

type PoseCmd struct{}

func (c *PoseCmd) Run(ctx *Context) error {
	l, r := ctx.dt.Setpoints()
	fmt.Println(poseStyle.Render(ctx.odo.Pose().String()),
		statusStyle.Render(fmt.Sprintf("%v setpoints %.0f/%.0f RPM", ctx.dt.State(), l, r)))
	return nil
}

type ResetCmd struct{}

func (c *ResetCmd) Run(ctx *Context) error {
	ctx.odo.Reset()
	ctx.trail.Clear()
	return nil
}

type MapCmd struct {
	Path string `arg:"" optional:"" help:"Where to write the PNG." type:"path"`
	Size int    `help:"Image size in pixels." default:"512"`
}

func (c *MapCmd) Run(ctx *Context) error {
	path := c.Path
	if path == "" {
		path = ctx.cfg.Telemetry.TrailPath
	}
	if err := ctx.trail.SavePNG(path, c.Size); err != nil {
		return err
	}
	fmt.Println("Saved trail to", path)
	return nil
}

type QuitCmd struct{}

func (q *QuitCmd) Run(ctx *Context) error {
	return Quit
}

var Quit = errors.New("Quit")

func main() {
	fmt.Println("---- Bamboo ----")
	fmt.Println("GOMAXPROCS", runtime.GOMAXPROCS(0))

	kong.Parse(&Flags, kong.Description("Bamboo drive controller."))

	cfg, err := config.Load(Flags.Config)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	if Flags.Backend != "" {
		cfg.Hardware.Backend = Flags.Backend
	}
	if Flags.Dummy {
		cfg.Hardware.Backend = config.BackendSim
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println("Bad config:", err)
		os.Exit(1)
	}
	// Write out the config that we are using.
	if err := cfg.Save(config.InUsePath); err != nil {
		fmt.Println(err)
	}

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hook Ctrl-C etc.
	registerSignalHandlers(cancel)

	var hw hardware.Interface
	if Flags.Dummy {
		hw = hardware.NewDummy(cfg)
	} else {
		hw, err = hardware.New(cfg)
		if err != nil {
			fmt.Println("Failed to initialise hardware:", err)
			os.Exit(1)
		}
	}
	defer func() {
		if err := hw.Shutdown(); err != nil {
			fmt.Println("Hardware shutdown:", err)
		}
	}()

	odo := odometer.New(cfg.Chassis)
	defer odo.Close()
	trail := screen.NewTrail(cfg.Telemetry.TrailResolution)
	odo.OnPositionChanged(trail.Add)

	left, right := hw.Motors()
	dt := drivetrain.New(cfg.Drive, odo, left, right)
	defer func() {
		fmt.Println("Zeroing motors for shut down")
		if err := dt.Shutdown(); err != nil {
			fmt.Println("Drivetrain shutdown:", err)
		}
	}()
	if err := dt.Start(ctx); err != nil {
		fmt.Println("Failed to start drivetrain:", err)
		return
	}
	dt.OnFinished(func(r drivetrain.Result) {
		style := okStyle
		if r.Reason != drivetrain.Arrived {
			style = warnStyle
		} else {
			hw.PlaySound(cfg.Telemetry.ArriveSound)
		}
		fmt.Println(style.Render(r.String()))
	})

	if cfg.Telemetry.Framebuffer != "" && !Flags.Dummy {
		go screen.LoopUpdatingScreen(ctx, cfg.Telemetry.Framebuffer, func() screen.Status {
			return screen.Status{Pose: odo.Pose(), State: dt.State().String()}
		})
	}

	runShell(ctx, &Context{
		ctx:      ctx,
		cfg:      cfg,
		dt:       dt,
		odo:      odo,
		hw:       hw,
		trail:    trail,
		tunables: tunable.NewPIDTunables(cfg.Drive.PID.Gains),
	})
}

func runShell(ctx context.Context, shellCtx *Context) {
	k, err := kong.New(&Shell,
		kong.Name("bamboo"),
		kong.Exit(func(int) {}),
	)
	if err != nil {
		panic(err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Println("Enter a command:")
		var command string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			command = l
		}
		args := strings.Fields(command)
		if len(args) == 0 {
			continue
		}
		parsed, err := k.Parse(args)
		if err != nil {
			fmt.Println("parse error:", err)
			continue
		}
		err = parsed.Run(shellCtx)
		if err == Quit {
			return
		} else if err != nil {
			fmt.Println("ERROR:", err)
			continue
		}
	}
}

func registerSignalHandlers(cancelFunc context.CancelFunc) {
	// Hook Ctrl-C to cause shut down.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-signals
		log.Println("Signal: ", s)
		cancelFunc()
		time.Sleep(5 * time.Second)
		log.Println("Shutdown took too long, exiting")
		os.Exit(1)
	}()
}
