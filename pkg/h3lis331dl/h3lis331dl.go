package h3lis331dl

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

const (
	// SA0 pulled high; 0x18 with it low.
	DefaultAddr = 0x19

	RegWhoAmI = 0x0F
	RegCtrl1  = 0x20
	RegCtrl4  = 0x23
	RegOutXL  = 0x28 // 6 bytes, X/Y/Z little endian

	WhoAmIValue = 0x32

	// Normal power mode, 50Hz output data rate, X, Y and Z enabled.
	ctrl1Normal50Hz = 0x27
	// Block data update: output registers aren't updated between reading
	// the low and high bytes.
	ctrl4BDU = 0x80

	// Setting the top bit of the I2C sub-address turns on auto-increment.
	i2cAutoIncrement = 0x80
)

var ErrWrongDevice = errors.New("unexpected WHO_AM_I value")

type Axis int

const (
	X Axis = iota
	Y
	Z
)

func (a Axis) String() string {
	switch a {
	case X:
		return "x"
	case Y:
		return "y"
	case Z:
		return "z"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

func ParseAxis(s string) (Axis, error) {
	switch s {
	case "x", "X":
		return X, nil
	case "y", "Y":
		return Y, nil
	case "z", "Z":
		return Z, nil
	}
	return 0, errors.Errorf("unknown axis %q", s)
}

// FullScale is the measurement range in g.
type FullScale int

const (
	Scale100G FullScale = 100
	Scale200G FullScale = 200
	Scale400G FullScale = 400
)

func (s FullScale) Valid() bool {
	switch s {
	case Scale100G, Scale200G, Scale400G:
		return true
	}
	return false
}

func (s FullScale) ctrl4Bits() byte {
	switch s {
	case Scale100G:
		return 0x00
	case Scale400G:
		return 0x30
	}
	return 0x10
}

// MilliGPerDigit is the sensitivity at this full scale.
func (s FullScale) MilliGPerDigit() float64 {
	switch s {
	case Scale100G:
		return 49
	case Scale400G:
		return 195
	}
	return 98
}

type Interface interface {
	DeviceIdentify() (byte, error)
	Configure() error
	ReadRaw(axis Axis) (int16, error)
	ReadG(axis Axis) (float64, error)
}

type port interface {
	// Read reads len(buf) bytes from the device.
	ReadReg(reg byte, buf []byte) error
	WriteReg(reg byte, buf []byte) (err error)
}

type H3LIS331DL struct {
	dev    port
	closer io.Closer
	scale  FullScale
	// Or-ed into the register address for multi-byte reads.
	multiRead byte
}

func NewI2C(deviceFile string, addr int, scale FullScale) (Interface, error) {
	if !scale.Valid() {
		return nil, errors.Errorf("unsupported full scale %dg", scale)
	}
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open accelerometer on %s", deviceFile)
	}
	return &H3LIS331DL{
		dev:       dev,
		closer:    dev,
		scale:     scale,
		multiRead: i2cAutoIncrement,
	}, nil
}

func NewSPI(deviceFile string, scale FullScale) (Interface, error) {
	if !scale.Valid() {
		return nil, errors.Errorf("unsupported full scale %dg", scale)
	}
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialise periph host")
	}

	p, err := spireg.Open(deviceFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open SPI port %s", deviceFile)
	}

	// The H3LIS331DL tops out at 10MHz.
	c, err := p.Connect(physic.MegaHertz*5, spi.Mode3, 8)
	if err != nil {
		_ = p.Close()
		return nil, errors.Wrap(err, "failed to connect to accelerometer")
	}

	return &H3LIS331DL{
		dev:    &SPIAdapter{c: c},
		closer: p,
		scale:  scale,
	}, nil
}

func (a *H3LIS331DL) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

func (a *H3LIS331DL) DeviceIdentify() (byte, error) {
	var buf [1]byte
	if err := a.dev.ReadReg(RegWhoAmI, buf[:]); err != nil {
		return 0, errors.Wrap(err, "failed to read WHO_AM_I")
	}
	return buf[0], nil
}

func (a *H3LIS331DL) Configure() error {
	if err := a.dev.WriteReg(RegCtrl1, []byte{ctrl1Normal50Hz}); err != nil {
		return errors.Wrap(err, "failed to write CTRL_REG1")
	}
	if err := a.dev.WriteReg(RegCtrl4, []byte{ctrl4BDU | a.scale.ctrl4Bits()}); err != nil {
		return errors.Wrap(err, "failed to write CTRL_REG4")
	}
	return nil
}

func (a *H3LIS331DL) ReadRaw(axis Axis) (int16, error) {
	if axis < X || axis > Z {
		return 0, errors.Errorf("no such axis %v", axis)
	}
	var buf [2]byte
	reg := (RegOutXL + byte(axis)*2) | a.multiRead
	if err := a.dev.ReadReg(reg, buf[:]); err != nil {
		return 0, errors.Wrapf(err, "failed to read %v axis", axis)
	}
	return int16(uint16(buf[0]) | uint16(buf[1])<<8), nil
}

func (a *H3LIS331DL) ReadG(axis Axis) (float64, error) {
	raw, err := a.ReadRaw(axis)
	if err != nil {
		return 0, err
	}
	return RawToG(raw, a.scale), nil
}

// RawToG converts a raw output register value.  Readings are 12 bits, left
// justified.
func RawToG(raw int16, scale FullScale) float64 {
	return float64(raw>>4) * scale.MilliGPerDigit() / 1000
}

func gToRaw(g float64, scale FullScale) int16 {
	digits := g * 1000 / scale.MilliGPerDigit()
	if digits > 2047 {
		digits = 2047
	} else if digits < -2048 {
		digits = -2048
	}
	return int16(digits) << 4
}

// SPIAdapter speaks the ST register protocol over SPI: the top bit of the
// address byte selects a read and the next bit auto-increments the address.
type SPIAdapter struct {
	c spi.Conn

	r, w []byte
}

const (
	spiRead  = 0x80
	spiMulti = 0x40
)

func (s *SPIAdapter) ReadReg(reg byte, buf []byte) error {
	// The read and write buffers need to be as long as the whole transaction.
	bufLen := 1 + len(buf)
	s.ensureBuf(bufLen)
	addrByte := spiRead | reg
	if len(buf) > 1 {
		addrByte |= spiMulti
	}
	s.w[0] = addrByte
	if err := s.c.Tx(s.w[:bufLen], s.r[:bufLen]); err != nil {
		return err
	}
	// The first byte clocked in arrives while we're still sending the address.
	copy(buf, s.r[1:bufLen])
	return nil
}

func (s *SPIAdapter) WriteReg(reg byte, buf []byte) error {
	bufLen := 1 + len(buf)
	s.ensureBuf(bufLen)
	s.w[0] = reg &^ (spiRead | spiMulti)
	if len(buf) > 1 {
		s.w[0] |= spiMulti
	}
	copy(s.w[1:], buf)
	return s.c.Tx(s.w[:bufLen], s.r[:bufLen])
}

func (s *SPIAdapter) ensureBuf(l int) {
	if len(s.r) < l {
		s.w = make([]byte, l)
		s.r = make([]byte, l)
		return
	}
	for i := 0; i < l; i++ {
		s.w[i] = 0
		s.r[i] = 0
	}
}
