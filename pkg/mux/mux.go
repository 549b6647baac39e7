package mux

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/io/i2c"
)

const (
	DefaultAddr = 0x70
	NumPorts    = 8
)

var ErrBadPort = errors.New("mux port out of range")

type Interface interface {
	DisableAllPorts() error
	SelectSinglePort(num int) error
	SelectMultiplePorts(mask byte) error
	Close() error
}

type writer interface {
	Write(buf []byte) error
	Close() error
}

// Mux drives a TCA9548A style I2C switch: one control byte, one bit per
// downstream port.
type Mux struct {
	dev writer
}

func New(deviceFile string) (Interface, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, DefaultAddr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open I2C mux")
	}
	return &Mux{dev: dev}, nil
}

func (p *Mux) SelectSinglePort(num int) error {
	if num < 0 || num >= NumPorts {
		return errors.Wrapf(ErrBadPort, "port %d", num)
	}
	return p.SelectMultiplePorts(1 << uint(num))
}

func (p *Mux) SelectMultiplePorts(mask byte) error {
	return errors.Wrap(p.dev.Write([]byte{mask}), "failed to write mux control")
}

func (p *Mux) DisableAllPorts() error {
	return p.SelectMultiplePorts(0)
}

func (p *Mux) Close() error {
	return p.dev.Close()
}

// SelectSensors routes the bus to the sensors' port and leaves it there; the
// accelerometer and battery monitor are the only devices we talk to.
func SelectSensors(m Interface, port int) error {
	if err := m.SelectSinglePort(port); err != nil {
		return err
	}
	log.Info().Str("component", "mux").Int("port", port).Msg("Selected sensor port")
	return nil
}

func Dummy() Interface {
	return &dummyMux{}
}

type dummyMux struct{}

func (p *dummyMux) SelectSinglePort(num int) error {
	log.Debug().Str("component", "mux").Int("port", num).Msg("Dummy mux selecting port")
	if num < 0 || num >= NumPorts {
		return errors.Wrapf(ErrBadPort, "port %d", num)
	}
	return nil
}

func (p *dummyMux) DisableAllPorts() error {
	return nil
}

func (p *dummyMux) SelectMultiplePorts(mask byte) error {
	return nil
}

func (p *dummyMux) Close() error {
	return nil
}
