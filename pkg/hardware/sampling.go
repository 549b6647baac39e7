package hardware

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/ina219"
)

// Start launches the sampling goroutines.  They run until the context is
// cancelled; wg is marked done as each one exits.
func (h *Hardware) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(2)
	go h.loopSampling(ctx, wg, "accel", h.cfg.Accel.Period, h.sampleAccel)
	go h.loopSampling(ctx, wg, "battery", h.cfg.Battery.Period, h.sampleBattery)
}

func (h *Hardware) loopSampling(ctx context.Context, wg *sync.WaitGroup, name string, period time.Duration, sample func() error) {
	defer wg.Done()

	logger := h.log.With().Str("sampler", name).Logger()
	// A flaky bus shouldn't flood the log.
	sampled := logger.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Second})
	logger.Debug().Dur("period", period).Msg("Sampling loop started")

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	var failures uint64
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Uint64("failures", failures).Msg("Sampling loop stopped")
			return
		case <-ticker.C:
		}
		if err := sample(); err != nil {
			// Keep the previous smoothed value and try again next tick.
			failures++
			sampled.Warn().Err(err).Uint64("failures", failures).Msg("Sample failed")
		}
	}
}

// sampleAccel averages several reads, removes the zero-g baseline and applies
// the mounting sign.  Centripetal acceleration can't be negative, so anything
// below zero is noise.
func (h *Hardware) sampleAccel() error {
	n := h.cfg.Accel.ReadsPerSample
	if n < 1 {
		n = 1
	}
	var sum float64
	for i := 0; i < n; i++ {
		g, err := h.accel.ReadG(h.axis)
		if err != nil {
			return errors.Wrap(err, "failed to read accelerometer")
		}
		sum += g
	}
	zeroG, _ := h.ZeroG()
	g := (sum/float64(n) - zeroG) * h.cfg.Accel.Sign
	if g < 0 {
		g = 0
	}
	h.Accel.Sample(g)
	return nil
}

func (h *Hardware) sampleBattery() error {
	v, err := h.monitor.ReadBusVoltage()
	if errors.Cause(err) == ina219.ErrOverflow {
		// Current spike from the coils; the bus voltage is still valid.
		err = nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read battery voltage")
	}
	h.Battery.Sample(v * h.cfg.Battery.DividerRatio)
	return nil
}
