package h3lis331dl

import (
	"github.com/rs/zerolog/log"
)

// Dummy returns an accelerometer that reports accelG() on every axis.
func Dummy(accelG func() float64) Interface {
	return &dummyAccel{accelG: accelG}
}

type dummyAccel struct {
	accelG func() float64
}

func (d *dummyAccel) DeviceIdentify() (byte, error) {
	return WhoAmIValue, nil
}

func (d *dummyAccel) Configure() error {
	log.Debug().Str("component", "dummy-accel").Msg("Configure")
	return nil
}

func (d *dummyAccel) ReadRaw(axis Axis) (int16, error) {
	return gToRaw(d.accelG(), Scale200G), nil
}

func (d *dummyAccel) ReadG(axis Axis) (float64, error) {
	return d.accelG(), nil
}
