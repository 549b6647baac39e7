package melty

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/actuator"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/config"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/firing"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/phaseclock"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/rotation"
)

const DefaultYield = 10 * time.Microsecond

var ErrConfigInvalidated = errors.New("configuration invalidated mid-rotation")

// Reading is a smoothed sensor value, such as a sensor.Channel.
type Reading interface {
	Read() float64
}

type Telemetry interface {
	SendTelemetry(intervalMS, volts float64) error
}

// Loop runs the robot one rotation at a time.  Within a rotation it tracks
// elapsed time against the phase clock and switches the LED and coils
// according to the firing plan, which is recomputed on every iteration so
// configuration and speed changes take effect immediately.
type Loop struct {
	Planner firing.Planner
	// Yield is how long to sleep between iterations; it bounds how often the
	// outputs are updated.
	Yield time.Duration

	store     *config.Store
	accel     Reading
	battery   Reading
	outputs   actuator.Interface
	counter   phaseclock.Counter
	telemetry Telemetry
	log       zerolog.Logger

	sleep func(time.Duration)

	rotations uint32
}

func NewLoop(
	planner firing.Planner,
	store *config.Store,
	accel, battery Reading,
	outputs actuator.Interface,
	counter phaseclock.Counter,
	telemetry Telemetry,
) *Loop {
	return &Loop{
		Planner:   planner,
		Yield:     DefaultYield,
		store:     store,
		accel:     accel,
		battery:   battery,
		outputs:   outputs,
		counter:   counter,
		telemetry: telemetry,
		log:       log.With().Str("component", "melty").Logger(),
		sleep:     time.Sleep,
	}
}

// Rotations is the number of completed rotations.  Its parity picks the coil
// assignment when idling.
func (l *Loop) Rotations() uint32 {
	return l.rotations
}

// Rotate performs one rotation.  It returns ErrConfigInvalidated as soon as
// the configuration goes away, the context's error, or the error from a failed
// output write.  An interrupted rotation turns every output off before it
// returns.
func (l *Loop) Rotate(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			_ = actuator.AllOff(l.outputs)
		}
	}()

	var tracker phaseclock.Tracker
	tracker.Start(l.counter)

	var (
		elapsedUS uint32
		fw        firing.FiringWindow
	)
	for {
		cfg, ok := l.store.Snapshot()
		if !ok {
			return ErrConfigInvalidated
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		intervalMS := rotation.Estimate(l.accel.Read(), cfg.RadiusCM)
		fw = l.Planner.Plan(cfg, intervalMS)
		if elapsedUS >= fw.RotationIntervalUS {
			break
		}

		if l.Yield > 0 {
			l.sleep(l.Yield)
		}

		dir := firing.Effective(cfg.Direction, l.rotations)
		coilA, coilB := firing.CoilStates(fw, dir, elapsedUS)
		if err := l.drive(fw.LED.Active(elapsedUS), coilA, coilB); err != nil {
			return err
		}

		elapsedUS = tracker.Advance()
	}

	l.rotations++
	intervalMS := float64(fw.RotationIntervalUS) / 1000
	if err := l.telemetry.SendTelemetry(intervalMS, l.battery.Read()); err != nil {
		l.log.Warn().Err(err).Msg("Failed to send telemetry")
	}
	l.log.Trace().
		Uint32("rotation", l.rotations).
		Stringer("plan", fw).
		Msg("Rotation complete")
	return nil
}

func (l *Loop) drive(led, coilA, coilB bool) error {
	if err := l.outputs.Set(actuator.LED, led); err != nil {
		return errors.Wrap(err, "failed to drive LED")
	}
	if err := l.outputs.Set(actuator.CoilA, coilA); err != nil {
		return errors.Wrap(err, "failed to drive coil A")
	}
	if err := l.outputs.Set(actuator.CoilB, coilB); err != nil {
		return errors.Wrap(err, "failed to drive coil B")
	}
	return nil
}
