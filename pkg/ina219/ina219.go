package ina219

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/io/i2c"
)

const (
	DefaultAddr = 0x40

	RegConfig      = 0
	RegShuntV      = 1
	RegBusV        = 2
	RegPower       = 3
	RegCurrent     = 4
	RegCalibration = 5

	BusVoltageLSB = 0.004

	// 32V bus range, shunt gain /8, 12 bit conversions, continuous.
	configBattery = 0x399f

	busOverflow = 0x1
)

// ErrOverflow means the current or power calculation overflowed, usually
// because the shunt is carrying more than the configured maximum current.
var ErrOverflow = errors.New("INA219 math overflow")

type Interface interface {
	Configure(shuntOhms float64, maxCurrent float64) error
	ReadBusVoltage() (float64, error)
	ReadCurrent() (float64, error)
	ReadPower() (float64, error)
}

type port interface {
	// Read reads len(buf) bytes from the device.
	ReadReg(reg byte, buf []byte) error
	WriteReg(reg byte, buf []byte) (err error)
}

type INA219 struct {
	currentLSB float64
	dev        port
	closer     io.Closer
}

func NewI2C(deviceFile string, addr int) (Interface, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open INA219 on %s", deviceFile)
	}
	return &INA219{
		dev:    dev,
		closer: dev,
	}, nil
}

func (m *INA219) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

func (m *INA219) Configure(shuntOhms float64, maxCurrent float64) error {
	if shuntOhms <= 0 || maxCurrent <= 0 {
		return errors.Errorf("bad shunt %vΩ or max current %vA", shuntOhms, maxCurrent)
	}
	if err := m.write16(RegConfig, configBattery); err != nil {
		return errors.Wrap(err, "failed to write INA219 config")
	}
	m.currentLSB = maxCurrent / (1 << 15)
	cval := calibrationValue(m.currentLSB, shuntOhms)
	log.Debug().Str("component", "ina219").Uint16("calibration", cval).Msg("Configured battery monitor")
	return errors.Wrap(m.write16(RegCalibration, cval), "failed to write INA219 calibration")
}

func (m *INA219) ReadBusVoltage() (float64, error) {
	raw, err := m.read16(RegBusV)
	if err != nil {
		return 0, err
	}
	v := float64(raw>>3) * BusVoltageLSB
	if raw&busOverflow != 0 {
		// The voltage itself is still good.
		return v, ErrOverflow
	}
	return v, nil
}

func (m *INA219) ReadCurrent() (float64, error) {
	raw, err := m.read16(RegCurrent)
	if err != nil {
		return 0, err
	}
	return float64(int16(raw)) * m.currentLSB, nil
}

func (m *INA219) ReadPower() (float64, error) {
	raw, err := m.read16(RegPower)
	if err != nil {
		return 0, err
	}
	return float64(raw) * m.currentLSB * 20, nil
}

func (m *INA219) read16(reg byte) (uint16, error) {
	var buf [2]byte
	if err := m.dev.ReadReg(reg, buf[:]); err != nil {
		return 0, errors.Wrapf(err, "failed to read INA219 register %d", reg)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func (m *INA219) write16(reg byte, v uint16) error {
	return m.dev.WriteReg(reg, []byte{byte(v >> 8), byte(v)})
}

// calibrationValue is the datasheet's Cal = 0.04096 / (Current_LSB * R_shunt),
// with the bottom bit reserved.
func calibrationValue(currentLSB float64, shuntOhms float64) uint16 {
	return uint16(0.04096/(currentLSB*shuntOhms)) &^ 1
}

// Dummy returns a monitor reporting a fixed bus voltage.
func Dummy(volts float64) Interface {
	return &dummyINA219{volts: volts}
}

type dummyINA219 struct {
	volts float64
}

func (d *dummyINA219) Configure(shuntOhms float64, maxCurrent float64) error {
	return nil
}

func (d *dummyINA219) ReadBusVoltage() (float64, error) {
	return d.volts, nil
}

func (d *dummyINA219) ReadCurrent() (float64, error) {
	return 0, nil
}

func (d *dummyINA219) ReadPower() (float64, error) {
	return 0, nil
}
