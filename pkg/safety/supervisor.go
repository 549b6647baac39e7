package safety

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/actuator"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/config"
)

type accelReader interface {
	Read() float64
}

// Supervisor decides whether the robot may fire and, when it may not, keeps
// the outputs off and flashes the heading LED as a status indicator.
type Supervisor struct {
	Heartbeat *Heartbeat

	outputs actuator.Interface
	accel   accelReader
	log     zerolog.Logger

	// Overridable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSupervisor(outputs actuator.Interface, accel accelReader, hb *Heartbeat) *Supervisor {
	return &Supervisor{
		Heartbeat: hb,
		outputs:   outputs,
		accel:     accel,
		log:       log.With().Str("component", "safety").Logger(),
		sleep:     sleepCtx,
	}
}

// MayFire is the run condition for the firing loop.  It must be re-evaluated
// before every rotation.
func (s *Supervisor) MayFire(connected bool, cfg config.Configuration, ok bool) bool {
	if !connected || !ok || cfg.ThrottlePct == 0 {
		return false
	}
	return s.Heartbeat.Check(cfg.Heartbeat)
}

// MotorsSafe turns both coils off, then the LED.
func (s *Supervisor) MotorsSafe() error {
	if err := actuator.AllOff(s.outputs); err != nil {
		s.log.Error().Err(err).Msg("Failed to make motors safe")
		return errors.Wrap(err, "failed to make motors safe")
	}
	return nil
}

// StatusFlash performs one flash of the heading LED.  Disconnected, the on time
// grows with the measured acceleration so the operator can see the sensor is
// alive by shaking the robot.  Connected, it's a fast even flash.
func (s *Supervisor) StatusFlash(ctx context.Context, connected bool) error {
	off, on := 50*time.Millisecond, 50*time.Millisecond
	if !connected {
		off = 200 * time.Millisecond
		on = time.Duration(1+s.accel.Read()*50) * time.Millisecond
		if on < time.Millisecond {
			on = time.Millisecond
		}
	}

	if err := s.outputs.Set(actuator.LED, false); err != nil {
		return errors.Wrap(err, "status flash")
	}
	if err := s.sleep(ctx, off); err != nil {
		return err
	}
	if err := s.outputs.Set(actuator.LED, true); err != nil {
		return errors.Wrap(err, "status flash")
	}
	return s.sleep(ctx, on)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
