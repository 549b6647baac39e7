package hardware

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/actuator"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/h3lis331dl"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/ina219"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/melty"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/mux"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/sensor"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/settings"
)

// The accelerometer needs a moment after power on before it answers.
const sensorBootDelay = 5 * time.Millisecond

// Hardware owns the devices and the smoothed readings derived from them.
type Hardware struct {
	Accel   *sensor.Channel
	Battery *sensor.Channel
	Outputs actuator.Interface

	accel   h3lis331dl.Interface
	monitor ina219.Interface
	axis    h3lis331dl.Axis
	cfg     settings.Settings
	log     zerolog.Logger

	lock  sync.Mutex
	zeroG float64
	// Set once the zero-g baseline has been measured.
	calibrated bool
}

var _ melty.Bringup = (*Hardware)(nil)

// New opens the real devices described by the settings.  If any of them
// fails to open, the ones already open are closed again.
func New(s settings.Settings) (h *Hardware, err error) {
	var opened closers
	defer func() {
		if err != nil {
			opened.closeAll()
		}
	}()

	if s.MuxPort >= 0 {
		mx, err := mux.New(s.I2CBus)
		if err != nil {
			return nil, err
		}
		if err := selectSensorPort(mx, s.MuxPort); err != nil {
			return nil, err
		}
	}

	var accel h3lis331dl.Interface
	scale := h3lis331dl.FullScale(s.Accel.FullScale)
	if s.Accel.Bus == "spi" {
		accel, err = h3lis331dl.NewSPI(s.Accel.SPIDevice, scale)
	} else {
		accel, err = h3lis331dl.NewI2C(s.I2CBus, s.Accel.Addr, scale)
	}
	if err != nil {
		return nil, err
	}
	opened.add(accel)

	monitor, err := ina219.NewI2C(s.I2CBus, s.Battery.Addr)
	if err != nil {
		return nil, err
	}
	opened.add(monitor)
	if err := monitor.Configure(s.Battery.ShuntOhms, s.Battery.MaxCurrent); err != nil {
		return nil, err
	}

	outputs, err := actuator.NewGPIO(s.Outputs.LEDPin, s.Outputs.CoilAPin, s.Outputs.CoilBPin)
	if err != nil {
		return nil, err
	}
	return newHardware(s, accel, monitor, outputs)
}

// selectSensorPort points the mux at the sensors and releases it.  The
// switch keeps its setting after the handle is closed.
func selectSensorPort(mx mux.Interface, port int) error {
	err := mux.SelectSensors(mx, port)
	if cerr := mx.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, "failed to close I2C mux")
	}
	return err
}

// closers collects the devices that need closing if bring-up fails part way.
type closers []io.Closer

func (c *closers) add(dev interface{}) {
	if cl, ok := dev.(io.Closer); ok {
		*c = append(*c, cl)
	}
}

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			log.Warn().Str("component", "hardware").Err(err).Msg("Failed to close device")
		}
	}
}

func newHardware(s settings.Settings, accel h3lis331dl.Interface, monitor ina219.Interface, outputs actuator.Interface) (*Hardware, error) {
	axis, err := h3lis331dl.ParseAxis(s.Accel.Axis)
	if err != nil {
		return nil, err
	}
	return &Hardware{
		Accel:   sensor.New("accel", s.Accel.Smoothing),
		Battery: sensor.New("battery", s.Battery.Smoothing),
		Outputs: outputs,
		accel:   accel,
		monitor: monitor,
		axis:    axis,
		cfg:     s,
		log:     log.With().Str("component", "hardware").Logger(),
	}, nil
}

// WaitForSensor polls the accelerometer's identity register until it answers
// correctly, then configures it.  It only gives up if the context is
// cancelled; there's nothing useful the robot can do without it.
func (h *Hardware) WaitForSensor(ctx context.Context) error {
	// Log at most once a second while we wait.
	sampled := h.log.Sample(&zerolog.BurstSampler{Burst: 1, Period: time.Second})
	for {
		id, err := h.accel.DeviceIdentify()
		if err == nil && id == h3lis331dl.WhoAmIValue {
			break
		}
		if err == nil {
			err = errors.Wrapf(h3lis331dl.ErrWrongDevice, "got %#x", id)
		}
		sampled.Warn().Err(err).Msg("Waiting for accelerometer")
		if err := sleepCtx(ctx, sensorBootDelay); err != nil {
			return err
		}
	}
	if err := h.accel.Configure(); err != nil {
		return errors.Wrap(err, "failed to configure accelerometer")
	}
	h.log.Info().Msg("Accelerometer ready")
	return nil
}

// Calibrate averages reads of the accelerometer at rest to find its zero-g
// reading, which is subtracted from every later sample.
func (h *Hardware) Calibrate(ctx context.Context, reads int) error {
	if reads < 1 {
		reads = 1
	}
	var (
		sum     float64
		good    int
		lastErr error
	)
	for i := 0; i < reads; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		g, err := h.accel.ReadG(h.axis)
		if err != nil {
			lastErr = err
			continue
		}
		sum += g
		good++
	}
	if good < (reads+1)/2 {
		return errors.Wrapf(lastErr, "only %d of %d calibration reads succeeded", good, reads)
	}

	h.lock.Lock()
	h.zeroG = sum / float64(good)
	h.calibrated = true
	zeroG := h.zeroG
	h.lock.Unlock()

	h.log.Info().Float64("zeroG", zeroG).Int("reads", good).Msg("Calibrated accelerometer")
	return nil
}

func (h *Hardware) ZeroG() (float64, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.zeroG, h.calibrated
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
