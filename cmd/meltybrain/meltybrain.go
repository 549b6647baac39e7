package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/config"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/firing"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/link"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/melty"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/phaseclock"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/safety"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/settings"
)

// The phase clock ticks in microseconds, the resolution of the firing plan.
const phaseClockHz = 1000000

var CLI struct {
	Config    string  `help:"Settings file." default:"/cfg/melty.yaml" type:"path"`
	Dummy     bool    `help:"Use simulated hardware and a simulated operator."`
	SimRPM    float64 `help:"Spin speed of the simulated robot." default:"1000"`
	SimRadius float64 `help:"Accelerometer radius of the simulated robot, in cm." default:"5"`
	SimVolts  float64 `help:"Battery voltage of the simulated robot." default:"12.6"`
	LogLevel  string  `help:"Log level." enum:"trace,debug,info,warn,error" default:"info"`
	Console   bool    `help:"Human readable logs instead of JSON."`
}

func main() {
	kong.Parse(&CLI, kong.Description("Melty brain translational drift controller."))
	setUpLogging(CLI.LogLevel, CLI.Console)

	log.Info().Int("GOMAXPROCS", runtime.GOMAXPROCS(0)).Msg("---- melty brain ----")

	s, err := settings.Load(CLI.Config)
	if err != nil {
		log.Warn().Err(err).Msg("Using default settings")
	}
	// Write out the settings that we are using.
	if err := s.WriteInUse(CLI.Config); err != nil {
		log.Warn().Err(err).Msg("Failed to record settings in use")
	}

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	registerSignalHandlers(cancel)

	var hw *hardware.Hardware
	if CLI.Dummy {
		hw, err = hardware.NewDummy(s, hardware.Sim{RPM: CLI.SimRPM, RadiusCM: CLI.SimRadius, Volts: CLI.SimVolts})
	} else {
		hw, err = hardware.New(s)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open hardware")
	}

	store := config.NewStore()
	var lnk *link.Link
	if CLI.Dummy {
		op := newSimOperator(config.Configuration{
			RadiusCM:    CLI.SimRadius,
			ThrottlePct: 50,
			Direction:   config.Idle,
		})
		lnk = link.NewWithOpener(op.open, store)
	} else {
		lnk = link.New(s.Link.Device, s.Link.Baud, store)
	}
	lnk.Timeout = s.Link.Timeout

	hb := safety.NewHeartbeat(s.Heartbeat.Min, s.Heartbeat.Max, s.Heartbeat.Period)
	lnk.OnDisconnect(hb.Reset)
	supervisor := safety.NewSupervisor(hw.Outputs, hw.Accel, hb)

	loop := melty.NewLoop(
		firing.NewPlanner(s.Firing.MinTranslationRPM, s.Outputs.Coils),
		store,
		hw.Accel,
		hw.Battery,
		hw.Outputs,
		phaseclock.Monotonic(phaseClockHz),
		lnk,
	)
	loop.Yield = s.Firing.Yield

	controller := melty.NewController(loop, supervisor, hw, lnk, store, hw.Battery)
	controller.CalibrationReads = s.Accel.CalibrationReads
	if err := controller.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise")
	}

	var wg sync.WaitGroup
	hw.Start(ctx, &wg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		lnk.LoopReadingFrames(ctx)
	}()

	err = controller.Run(ctx)
	log.Info().Err(err).Msg("Controller stopped; waiting for background loops")
	wg.Wait()
	log.Info().Msg("Shut down")
}

func setUpLogging(level string, console bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}
}

func registerSignalHandlers(cancelFunc context.CancelFunc) {
	// Hook Ctrl-C to cause shut down.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-signals
		log.Info().Stringer("signal", s).Msg("Shutting down")
		cancelFunc()
		// Give the controller time to make the motors safe, but don't hang.
		time.Sleep(2 * time.Second)
		os.Exit(0)
	}()
}
