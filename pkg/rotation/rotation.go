package rotation

import "math"

const (
	// Centripetal acceleration in g is 0.00001118 * r(cm) * rpm^2; this is the
	// reciprocal of that constant.
	RPMSquaredCMPerG = 89445.0

	// MaxIntervalMS is the slowest rotation we ever assume.  Anything slower,
	// or anything we can't make sense of, is reported as this.
	MaxIntervalMS = 250.0
)

// Estimate converts the measured centripetal acceleration and the
// accelerometer's distance from the spin axis into the time taken for one
// rotation, in milliseconds.  The result is always in (0, MaxIntervalMS].
func Estimate(accelG, radiusCM float64) float64 {
	if !(accelG > 0) || !(radiusCM > 0) {
		return MaxIntervalMS
	}
	rpm := math.Sqrt(accelG * RPMSquaredCMPerG / radiusCM)
	interval := 60000 / rpm
	if math.IsNaN(interval) || math.IsInf(interval, 0) || interval <= 0 || interval > MaxIntervalMS {
		return MaxIntervalMS
	}
	return interval
}

// RPM converts a rotation interval in milliseconds back to revolutions per
// minute.  Returns 0 for a non-positive interval.
func RPM(intervalMS float64) float64 {
	if intervalMS <= 0 {
		return 0
	}
	return 60000 / intervalMS
}

// AccelForRPM is the inverse of Estimate: the acceleration an accelerometer
// at radiusCM sees when spinning at rpm.
func AccelForRPM(rpm, radiusCM float64) float64 {
	return rpm * rpm * radiusCM / RPMSquaredCMPerG
}
