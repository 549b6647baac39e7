package link

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/config"
)

const (
	ConfigLen    = 7
	TelemetryLen = 3

	// Radius is sent in thousandths of a centimetre.
	radiusScale = 1000.0

	maxThrottlePct  = 100
	maxLEDOffsetPct = 99
)

var (
	ErrBadLength    = errors.New("bad payload length")
	ErrBadDirection = errors.New("bad translate direction")
)

// DecodeConfig parses a configuration record:
//
//	[0..1] radius, little endian, in 1/1000 cm
//	[2]    LED offset, percent of a rotation
//	[3]    throttle, percent
//	[4]    translate direction (0 idle, 1 forward, 2 reverse)
//	[5]    heartbeat
//	[6]    reserved
func DecodeConfig(b []byte) (config.Configuration, error) {
	if len(b) != ConfigLen {
		return config.Configuration{}, errors.Wrapf(ErrBadLength, "config is %d bytes, expected %d", len(b), ConfigLen)
	}
	dir := config.Direction(b[4])
	if !dir.Valid() {
		return config.Configuration{}, errors.Wrapf(ErrBadDirection, "direction code %d", b[4])
	}
	return config.Configuration{
		RadiusCM:     float64(binary.LittleEndian.Uint16(b[0:2])) / radiusScale,
		LEDOffsetPct: clamp(b[2], 0, maxLEDOffsetPct),
		ThrottlePct:  clamp(b[3], 0, maxThrottlePct),
		Direction:    dir,
		Heartbeat:    b[5],
	}, nil
}

// EncodeConfig is the inverse of DecodeConfig, used by test tools playing the
// part of the controller app.
func EncodeConfig(c config.Configuration) []byte {
	b := make([]byte, ConfigLen)
	radius := clamp(math.Round(c.RadiusCM*radiusScale), 0, math.MaxUint16)
	binary.LittleEndian.PutUint16(b[0:2], uint16(radius))
	b[2] = c.LEDOffsetPct
	b[3] = c.ThrottlePct
	b[4] = byte(c.Direction)
	b[5] = c.Heartbeat
	return b
}

// EncodeTelemetry builds the status record: rotation interval in whole
// milliseconds (0 means not spinning), a reserved byte and the battery voltage
// in tenths of a volt.
func EncodeTelemetry(intervalMS, volts float64) [TelemetryLen]byte {
	return [TelemetryLen]byte{
		toByte(intervalMS),
		0,
		toByte(volts * 10),
	}
}

// DecodeTelemetry returns the interval in ms and the voltage.
func DecodeTelemetry(b []byte) (intervalMS, volts float64, err error) {
	if len(b) != TelemetryLen {
		return 0, 0, errors.Wrapf(ErrBadLength, "telemetry is %d bytes, expected %d", len(b), TelemetryLen)
	}
	return float64(b[0]), float64(b[2]) / 10, nil
}

func toByte(v float64) byte {
	if math.IsNaN(v) {
		return 0
	}
	return byte(clamp(v, 0, math.MaxUint8))
}

func clamp[T constraints.Ordered](v, min, max T) T {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
