package melty

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/config"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/safety"
)

// Bringup is the hardware side of initialisation.
type Bringup interface {
	// WaitForSensor blocks until the accelerometer identifies itself.
	WaitForSensor(ctx context.Context) error
	// Calibrate measures the zero-g baseline.  The robot must be at rest.
	Calibrate(ctx context.Context, reads int) error
}

type Connection interface {
	Telemetry
	Connected() bool
}

const DefaultCalibrationReads = 200

// Controller is the top level: it decides, before every rotation, whether the
// robot may fire, and keeps the outputs safe when it may not.
type Controller struct {
	CalibrationReads int

	loop       *Loop
	supervisor *safety.Supervisor
	hw         Bringup
	conn       Connection
	store      *config.Store
	battery    Reading
	log        zerolog.Logger
}

func NewController(
	loop *Loop,
	supervisor *safety.Supervisor,
	hw Bringup,
	conn Connection,
	store *config.Store,
	battery Reading,
) *Controller {
	return &Controller{
		CalibrationReads: DefaultCalibrationReads,
		loop:             loop,
		supervisor:       supervisor,
		hw:               hw,
		conn:             conn,
		store:            store,
		battery:          battery,
		log:              log.With().Str("component", "controller").Logger(),
	}
}

func (c *Controller) Init(ctx context.Context) error {
	if err := c.hw.WaitForSensor(ctx); err != nil {
		return err
	}
	if err := c.supervisor.MotorsSafe(); err != nil {
		return err
	}
	if err := c.hw.Calibrate(ctx, c.CalibrationReads); err != nil {
		return errors.Wrap(err, "failed to calibrate accelerometer")
	}
	c.log.Info().Msg("Initialised")
	return nil
}

// Run supervises the firing loop until the context is cancelled.  The outputs
// are made safe on the way out.
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		_ = c.supervisor.MotorsSafe()
	}()

	firing := false
	for ctx.Err() == nil {
		connected := c.conn.Connected()
		cfg, ok := c.store.Snapshot()
		if c.supervisor.MayFire(connected, cfg, ok) {
			if !firing {
				c.log.Info().
					Uint8("throttle", cfg.ThrottlePct).
					Stringer("direction", cfg.Direction).
					Msg("Firing")
				firing = true
			}
			err := c.loop.Rotate(ctx)
			if err == nil {
				continue
			}
			if err == ErrConfigInvalidated {
				// The record may already be back; don't start the next
				// rotation with anything still energised.
				_ = c.supervisor.MotorsSafe()
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Drop through to the safe path so a failing output doesn't
			// spin us.
			c.log.Error().Err(err).Msg("Rotation failed")
		}

		if firing {
			c.log.Info().
				Bool("connected", connected).
				Bool("configured", ok).
				Msg("Stopped firing")
			firing = false
		}
		// Safety first, then tell the operator we're stopped.
		_ = c.supervisor.MotorsSafe()
		if err := c.conn.SendTelemetry(0, c.battery.Read()); err != nil {
			c.log.Warn().Err(err).Msg("Failed to send telemetry")
		}
		if err := c.supervisor.StatusFlash(ctx, connected); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("Status flash failed")
		}
	}
	return ctx.Err()
}
