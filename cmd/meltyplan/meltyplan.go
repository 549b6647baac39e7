package main

import (
	"fmt"
	"math"

	"github.com/alecthomas/kong"
	"github.com/fogleman/gg"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/config"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/diagram"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/firing"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/link"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/rotation"
)

var CLI struct {
	Plan   PlanCmd   `cmd:"" help:"Print the firing plan for one rotation."`
	Thrust ThrustCmd `cmd:"" help:"Integrate coil thrust over a number of rotations."`
}

// SpinFlags describe the robot and the operator's controls.
type SpinFlags struct {
	Accel     float64 `help:"Measured acceleration, in g."`
	RPM       float64 `help:"Spin speed; used instead of --accel when set."`
	Radius    float64 `help:"Accelerometer radius, in cm." default:"5"`
	Throttle  uint8   `help:"Throttle percentage." default:"50"`
	Offset    uint8   `help:"LED offset percentage." default:"0"`
	Direction string  `help:"Translate command." enum:"idle,forward,reverse" default:"idle"`
	Coils     int     `help:"Number of coils fitted." default:"2"`
	MinRPM    float64 `help:"Slowest spin that still translates." default:"250"`
}

func (f SpinFlags) configuration() (config.Configuration, error) {
	cfg := config.Configuration{
		RadiusCM:     f.Radius,
		LEDOffsetPct: f.Offset,
		ThrottlePct:  f.Throttle,
	}
	switch f.Direction {
	case "idle":
		cfg.Direction = config.Idle
	case "forward":
		cfg.Direction = config.Forward
	case "reverse":
		cfg.Direction = config.Reverse
	default:
		return cfg, errors.Errorf("unknown direction %q", f.Direction)
	}
	return cfg, nil
}

func (f SpinFlags) plan() (config.Configuration, firing.FiringWindow, error) {
	cfg, err := f.configuration()
	if err != nil {
		return cfg, firing.FiringWindow{}, err
	}
	accel := f.Accel
	if f.RPM > 0 {
		accel = rotation.AccelForRPM(f.RPM, f.Radius)
	}
	intervalMS := rotation.Estimate(accel, f.Radius)
	log.Debug().Float64("accel", accel).Float64("intervalMS", intervalMS).Msg("Estimated rotation")
	return cfg, firing.NewPlanner(f.MinRPM, f.Coils).Plan(cfg, intervalMS), nil
}

type PlanCmd struct {
	SpinFlags `embed:""`

	PNG     string  `help:"Also render the plan to this PNG file." type:"path"`
	Size    int     `help:"Size of the PNG, in pixels." default:"512"`
	Battery float64 `help:"Also draw the telemetry record for this battery voltage."`
}

func (c *PlanCmd) Run() error {
	cfg, w, err := c.plan()
	if err != nil {
		return err
	}
	fmt.Printf("Direction: %v\n", cfg.Direction)
	if w.RotationIntervalUS > 0 {
		fmt.Printf("Speed:     %.0f rpm\n", rotation.RPM(float64(w.RotationIntervalUS)/1000))
	}
	fmt.Println(w)
	if c.PNG == "" {
		return nil
	}

	if c.Battery <= 0 {
		return errors.Wrap(diagram.SavePNG(c.PNG, w, c.Size), "failed to save diagram")
	}
	// Show the record the robot would send at the end of this rotation.
	dc := gg.NewContextForImage(diagram.Render(w, c.Size))
	rec := link.EncodeTelemetry(float64(w.RotationIntervalUS)/1000, c.Battery)
	if err := diagram.DrawTelemetry(dc, rec[:]); err != nil {
		return err
	}
	return errors.Wrap(dc.SavePNG(c.PNG), "failed to save diagram")
}

type ThrustCmd struct {
	SpinFlags `embed:""`

	Rotations int    `help:"Number of rotations to integrate over." default:"2"`
	Step      uint32 `help:"Integration step, in microseconds." default:"10"`
}

func (c *ThrustCmd) Run() error {
	cfg, w, err := c.plan()
	if err != nil {
		return err
	}
	if c.Step == 0 {
		return errors.New("step must be positive")
	}
	var net r3.Vec
	for i := 0; i < c.Rotations; i++ {
		dir := firing.Effective(cfg.Direction, uint32(i))
		t := firing.Thrust(w, dir, c.Step)
		fmt.Printf("Rotation %d (%v): x %8.1f y %8.1f\n", i, dir, t.X, t.Y)
		net = r3.Add(net, t)
	}
	fmt.Printf("Net:            x %8.1f y %8.1f heading %.0f°\n",
		net.X, net.Y, math.Atan2(net.Y, net.X)*180/math.Pi)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI, kong.Description("Offline firing plan explorer."))
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
