package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/alecthomas/kong"

	"github.com/tigerbot-team/bamboo/pkg/chassis"
	"github.com/tigerbot-team/bamboo/pkg/config"
	"github.com/tigerbot-team/bamboo/pkg/drivetrain"
	"github.com/tigerbot-team/bamboo/pkg/hardware"
	"github.com/tigerbot-team/bamboo/pkg/odometer"
)

var Flags struct {
	Config   string  `help:"Config file to load." default:"/cfg/bamboo.yaml" type:"path"`
	Dummy    bool    `help:"Run on simulated motors."`
	Distance float64 `help:"Distance to drive for each straight run (m)." default:"1.0"`
	Angle    float64 `help:"Angle to turn for each spin (degrees)." default:"360"`
	Runs     int     `help:"Number of runs of each kind." default:"2"`
}

var scanner *bufio.Scanner

func init() {
	scanner = bufio.NewScanner(os.Stdin)
}

func readMeasurement(prompt string) float64 {
	fmt.Println(prompt)
	for {
		if !scanner.Scan() {
			panic(scanner.Err())
		}
		v, err := strconv.ParseFloat(scanner.Text(), 64)
		if err != nil {
			fmt.Printf("error: %v, please try again:\n", err)
			continue
		}
		return v
	}
}

func main() {
	fmt.Println("---- Movement Calibration ----")
	fmt.Println("GOMAXPROCS", runtime.GOMAXPROCS(0))
	kong.Parse(&Flags, kong.Description("Drive fixed distances and turns, then suggest corrected chassis dimensions."))

	cfg, err := config.Load(Flags.Config)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hw hardware.Interface
	if Flags.Dummy {
		hw = hardware.NewDummy(cfg)
	} else if hw, err = hardware.New(cfg); err != nil {
		fmt.Println("Failed to initialise hardware:", err)
		os.Exit(1)
	}
	defer hw.Shutdown()

	odo := odometer.New(cfg.Chassis)
	left, right := hw.Motors()
	dt := drivetrain.New(cfg.Drive, odo, left, right)
	defer func() {
		fmt.Println("Zeroing motors for shut down")
		dt.Shutdown()
		time.Sleep(100 * time.Millisecond)
	}()
	if err := dt.Start(ctx); err != nil {
		fmt.Println("Failed to start drivetrain:", err)
		return
	}

	var odoDistance, realDistance float64
	for i := 0; i < Flags.Runs; i++ {
		fmt.Printf("Straight run %v/%v: driving %.2fm...\n", i+1, Flags.Runs, Flags.Distance)
		odo.Reset()
		if err := run(ctx, dt, func() error { return dt.Forward(ctx, Flags.Distance) }); err != nil {
			fmt.Println("Run failed:", err)
			return
		}
		p := odo.Pose()
		fmt.Println("Odometry says", p)
		odoDistance += p.X
		realDistance += readMeasurement("Enter measured distance travelled (m):")
	}

	var odoAngle, realAngle float64
	for i := 0; i < Flags.Runs; i++ {
		fmt.Printf("Spin %v/%v: turning %.0f°...\n", i+1, Flags.Runs, Flags.Angle)
		odo.Reset()
		start, spun := 0.0, 0.0
		remove := odo.OnPositionChanged(func(p odometer.Pose) {
			// Unwrap the heading so whole turns are counted.
			d := p.Theta - start
			for d > 180 {
				d -= 360
			}
			for d <= -180 {
				d += 360
			}
			spun += d
			start = p.Theta
		})
		err := run(ctx, dt, func() error { return spinLeft(ctx, dt, Flags.Angle) })
		remove()
		if err != nil {
			fmt.Println("Run failed:", err)
			return
		}
		fmt.Printf("Odometry says %.1f°\n", spun)
		odoAngle += spun
		realAngle += readMeasurement("Enter measured angle turned (degrees):")
	}

	fmt.Println("")
	fmt.Println("Suggested chassis:")
	fmt.Printf("%#v\n", suggest(cfg.Chassis, odoDistance, realDistance, odoAngle, realAngle))
}

func run(ctx context.Context, dt *drivetrain.Drivetrain, start func() error) error {
	if err := start(); err != nil {
		return err
	}
	return dt.Wait(ctx)
}

// spinLeft turns in steps small enough that the heading threshold can't
// be confused by wrapping.
func spinLeft(ctx context.Context, dt *drivetrain.Drivetrain, degrees float64) error {
	for degrees > 0 {
		step := degrees
		if step > 90 {
			step = 90
		}
		if err := run(ctx, dt, func() error { return dt.TurnLeft(ctx, step) }); err != nil {
			return err
		}
		degrees -= step
	}
	return nil
}

// suggest scales the wheel diameter by the straight-line error and the axle
// length by the turning error.
func suggest(g chassis.Geometry, odoDistance, realDistance, odoAngle, realAngle float64) chassis.Geometry {
	if odoDistance > 0 && realDistance > 0 {
		g.WheelDiameter *= realDistance / odoDistance
	}
	if odoAngle > 0 && realAngle > 0 {
		// Odometry angle is wheel travel / axle, so a robot that really
		// turned less than odometry thinks has a wider axle.
		g.AxleLength *= odoAngle / realAngle * realDistanceRatio(odoDistance, realDistance)
	}
	return g
}

// realDistanceRatio corrects the axle for the wheel diameter change, since
// both scale the measured wheel travel.
func realDistanceRatio(odoDistance, realDistance float64) float64 {
	if odoDistance > 0 && realDistance > 0 {
		return realDistance / odoDistance
	}
	return 1
}
