package actuator

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

type Output int

const (
	LED Output = iota
	CoilA
	CoilB

	NumOutputs = 3
)

func (o Output) String() string {
	switch o {
	case LED:
		return "led"
	case CoilA:
		return "coil-a"
	case CoilB:
		return "coil-b"
	}
	return fmt.Sprintf("output(%d)", int(o))
}

type Interface interface {
	Set(o Output, on bool) error
}

var ErrUnknownPin = errors.New("unknown GPIO pin")

// AllOff turns off every output.  It tries all of them even if one fails and
// returns the first error.
func AllOff(a Interface) error {
	var firstErr error
	for o := Output(0); o < NumOutputs; o++ {
		if err := a.Set(o, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GPIO drives the outputs from host GPIO pins.  The firing loop calls Set on
// every iteration so unchanged levels are not written again.
type GPIO struct {
	lock  sync.Mutex
	pins  [NumOutputs]gpio.PinIO
	state [NumOutputs]bool
}

// NewGPIO looks up the named pins (for example "GPIO17") and drives them all
// low.  An empty name leaves that output unconnected.
func NewGPIO(led, coilA, coilB string) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialise periph host")
	}
	g := &GPIO{}
	for o, name := range [NumOutputs]string{led, coilA, coilB} {
		if name == "" {
			continue
		}
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, errors.Wrapf(ErrUnknownPin, "%v on %q", Output(o), name)
		}
		if err := p.Out(gpio.Low); err != nil {
			return nil, errors.Wrapf(err, "failed to drive %v low", Output(o))
		}
		g.pins[o] = p
	}
	return g, nil
}

func (g *GPIO) Set(o Output, on bool) error {
	if o < 0 || o >= NumOutputs {
		return errors.Errorf("no such output %v", o)
	}
	g.lock.Lock()
	defer g.lock.Unlock()

	p := g.pins[o]
	if p == nil || g.state[o] == on {
		return nil
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := p.Out(level); err != nil {
		return errors.Wrapf(err, "failed to set %v", o)
	}
	g.state[o] = on
	return nil
}

type Dummy struct {
	lock  sync.Mutex
	log   zerolog.Logger
	state [NumOutputs]bool
	// Count of off->on transitions per output.
	edges [NumOutputs]int
}

// NewDummy returns outputs that log level changes instead of driving pins.
func NewDummy() *Dummy {
	return &Dummy{
		log: log.With().Str("component", "dummy-actuator").Logger(),
	}
}

func (d *Dummy) Set(o Output, on bool) error {
	if o < 0 || o >= NumOutputs {
		return errors.Errorf("no such output %v", o)
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.state[o] == on {
		return nil
	}
	d.state[o] = on
	if on {
		d.edges[o]++
	}
	d.log.Trace().Stringer("output", o).Bool("on", on).Msg("Set")
	return nil
}

func (d *Dummy) State(o Output) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.state[o]
}

func (d *Dummy) Edges(o Output) int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.edges[o]
}

var _ Interface = (*GPIO)(nil)
var _ Interface = (*Dummy)(nil)
