package settings

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/h3lis331dl"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/mux"
)

// Settings are the robot's build-time parameters: which bus everything is on,
// how the sensors are mounted and how the loops are tuned.  Operator controls
// arrive over the link instead.
type Settings struct {
	I2CBus string
	// MuxPort selects the sensors' branch of an I2C mux; -1 if there's no mux.
	MuxPort int

	Accel     AccelSettings
	Battery   BatterySettings
	Outputs   OutputSettings
	Firing    FiringSettings
	Heartbeat HeartbeatSettings
	Link      LinkSettings
}

type AccelSettings struct {
	// "i2c" or "spi".
	Bus       string
	SPIDevice string
	Addr      int
	Axis      string
	FullScale int
	// Sign flips the reading if the sensor is mounted facing inwards.
	Sign             float64
	ReadsPerSample   int
	Smoothing        float64
	Period           time.Duration
	CalibrationReads int
}

type BatterySettings struct {
	Addr         int
	ShuntOhms    float64
	MaxCurrent   float64
	DividerRatio float64
	Smoothing    float64
	Period       time.Duration
}

type OutputSettings struct {
	LEDPin   string
	CoilAPin string
	CoilBPin string
	Coils    int
}

type FiringSettings struct {
	MinTranslationRPM float64
	Yield             time.Duration
}

type HeartbeatSettings struct {
	Min    uint8
	Max    uint8
	Period time.Duration
}

type LinkSettings struct {
	Device  string
	Baud    int
	Timeout time.Duration
}

func Default() Settings {
	return Settings{
		I2CBus:  "/dev/i2c-1",
		MuxPort: -1,
		Accel: AccelSettings{
			Bus:              "i2c",
			SPIDevice:        "/dev/spidev0.0",
			Addr:             h3lis331dl.DefaultAddr,
			Axis:             "x",
			FullScale:        int(h3lis331dl.Scale200G),
			Sign:             1,
			ReadsPerSample:   1,
			Smoothing:        0.5,
			Period:           30 * time.Millisecond,
			CalibrationReads: 200,
		},
		Battery: BatterySettings{
			Addr:         0x40,
			ShuntOhms:    0.1,
			MaxCurrent:   3.2,
			DividerRatio: 1,
			Smoothing:    0.8,
			Period:       100 * time.Millisecond,
		},
		Outputs: OutputSettings{
			LEDPin:   "GPIO13",
			CoilAPin: "GPIO4",
			CoilBPin: "GPIO3",
			Coils:    2,
		},
		Firing: FiringSettings{
			MinTranslationRPM: 250,
			Yield:             10 * time.Microsecond,
		},
		Heartbeat: HeartbeatSettings{
			Min:    10,
			Max:    13,
			Period: 600 * time.Millisecond,
		},
		Link: LinkSettings{
			Device:  "/dev/ttyAMA0",
			Baud:    115200,
			Timeout: time.Second,
		},
	}
}

// Load overlays the YAML file at path on the defaults.  If the file can't be
// read the defaults are returned along with the error.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s, errors.Wrap(err, "failed to read settings")
	}
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return Default(), errors.Wrapf(err, "failed to parse %s", path)
	}
	if err := s.Validate(); err != nil {
		return Default(), errors.Wrapf(err, "bad settings in %s", path)
	}
	return s, nil
}

func (s Settings) Validate() error {
	switch s.Accel.Bus {
	case "i2c", "spi":
	default:
		return errors.Errorf("accel bus must be i2c or spi, not %q", s.Accel.Bus)
	}
	if _, err := h3lis331dl.ParseAxis(s.Accel.Axis); err != nil {
		return err
	}
	if !h3lis331dl.FullScale(s.Accel.FullScale).Valid() {
		return errors.Errorf("accel full scale must be 100, 200 or 400, not %d", s.Accel.FullScale)
	}
	if s.Accel.Sign != 1 && s.Accel.Sign != -1 {
		return errors.Errorf("accel sign must be 1 or -1, not %v", s.Accel.Sign)
	}
	if s.Accel.ReadsPerSample < 1 {
		return errors.New("accel reads per sample must be at least 1")
	}
	if s.Accel.CalibrationReads < 1 {
		return errors.New("calibration reads must be at least 1")
	}
	for name, v := range map[string]float64{
		"accel smoothing":   s.Accel.Smoothing,
		"battery smoothing": s.Battery.Smoothing,
	} {
		if v < 0 || v >= 1 {
			return errors.Errorf("%s must be in [0, 1), not %v", name, v)
		}
	}
	for name, d := range map[string]time.Duration{
		"accel period":     s.Accel.Period,
		"battery period":   s.Battery.Period,
		"heartbeat period": s.Heartbeat.Period,
		"link timeout":     s.Link.Timeout,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive, not %v", name, d)
		}
	}
	if s.Firing.Yield < 0 {
		return errors.Errorf("yield must not be negative, not %v", s.Firing.Yield)
	}
	if s.Battery.ShuntOhms <= 0 || s.Battery.MaxCurrent <= 0 || s.Battery.DividerRatio <= 0 {
		return errors.New("battery shunt, max current and divider ratio must be positive")
	}
	if s.Outputs.Coils != 1 && s.Outputs.Coils != 2 {
		return errors.Errorf("coils must be 1 or 2, not %d", s.Outputs.Coils)
	}
	if s.Firing.MinTranslationRPM <= 0 {
		return errors.Errorf("min translation RPM must be positive, not %v", s.Firing.MinTranslationRPM)
	}
	if s.Heartbeat.Min > s.Heartbeat.Max {
		return errors.Errorf("heartbeat band %d..%d is empty", s.Heartbeat.Min, s.Heartbeat.Max)
	}
	if s.MuxPort < -1 || s.MuxPort >= mux.NumPorts {
		return errors.Errorf("mux port must be -1 or 0..%d, not %d", mux.NumPorts-1, s.MuxPort)
	}
	if s.Link.Baud <= 0 {
		return errors.Errorf("bad baud rate %d", s.Link.Baud)
	}
	return nil
}

func (s Settings) Marshal() ([]byte, error) {
	return yaml.Marshal(&s)
}

// InUsePath is where the settings actually in use get written: next to the
// settings file, with "-in-use" added to its name.
func InUsePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-in-use" + ext
}

func (s Settings) WriteInUse(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return errors.Wrap(err, "failed to marshal settings")
	}
	if err := os.WriteFile(InUsePath(path), data, 0666); err != nil {
		return errors.Wrap(err, "failed to write in-use settings")
	}
	return nil
}
