package firing

import (
	"math"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/config"
)

const DefaultMinTranslationRPM = 250

// Planner turns the operator's configuration and the estimated rotation
// interval into a FiringWindow.  It holds no state between calls.
type Planner struct {
	// Below this speed the robot doesn't try to translate; it just spins up.
	MinTranslationRPM float64
	// Coils is 1 or 2.  A single-coil robot is planned exactly like a
	// two-coil one but only coil A is ever driven.
	Coils int
}

func NewPlanner(minTranslationRPM float64, coils int) Planner {
	return Planner{
		MinTranslationRPM: minTranslationRPM,
		Coils:             coils,
	}
}

func (p Planner) minRPM() float64 {
	if p.MinTranslationRPM <= 0 {
		return DefaultMinTranslationRPM
	}
	return p.MinTranslationRPM
}

func (p Planner) coils() int {
	if p.Coils == 1 {
		return 1
	}
	return 2
}

// MaxTranslationIntervalUS is the longest rotation for which we still try to
// translate.
func (p Planner) MaxTranslationIntervalUS() uint32 {
	return uint32(60 * 1000 * 1000 / p.minRPM())
}

// MaxTrackingIntervalUS bounds the length of a single tracked rotation, which
// in turn bounds how long the firing loop goes between heartbeat checks.
func (p Planner) MaxTrackingIntervalUS() uint32 {
	return 2 * p.MaxTranslationIntervalUS()
}

func (p Planner) Plan(cfg config.Configuration, rotationIntervalMS float64) FiringWindow {
	intervalUS := toMicros(rotationIntervalMS)

	throttle := cfg.ThrottlePct
	if throttle > 100 {
		throttle = 100
	}
	motorOnFraction := float64(throttle) / 100
	// Narrow the LED as the throttle rises.
	ledOnFraction := 0.4 * (1.1 - motorOnFraction)

	// Too slow to translate: just spin up.
	if intervalUS > p.MaxTranslationIntervalUS() {
		motorOnFraction = 1
	}
	if intervalUS > p.MaxTrackingIntervalUS() {
		intervalUS = p.MaxTrackingIntervalUS()
	}

	fw := FiringWindow{
		RotationIntervalUS: intervalUS,
		MotorOnFraction:    motorOnFraction,
		Coils:              p.coils(),
	}
	if intervalUS == 0 {
		fw.LED.Empty = true
		fw.CoilA.Empty = true
		fw.CoilB.Empty = true
		return fw
	}

	motorOnUS := uint32(motorOnFraction * float64(intervalUS))
	ledOnUS := uint32(ledOnFraction * float64(intervalUS))
	ledOffsetUS := uint32(float64(cfg.LEDOffsetPct)/100*float64(intervalUS)) % intervalUS

	fw.LED = ledWindow(intervalUS, ledOnUS, ledOffsetUS)
	fw.CoilA = midpointWindow(intervalUS, motorOnUS)
	fw.CoilB = boundaryWindow(intervalUS, motorOnUS)
	return fw
}

// ledWindow centres the LED arc on the offset, wrapping backwards past zero
// if needed.
func ledWindow(intervalUS, onUS, offsetUS uint32) Window {
	if onUS == 0 {
		return Window{Empty: true}
	}
	var w Window
	if onUS/2 <= offsetUS {
		w.Start = offsetUS - onUS/2
	} else {
		w.Start = intervalUS + offsetUS - onUS/2
	}
	w.Stop = (w.Start + onUS) % intervalUS
	return w
}

func midpointWindow(intervalUS, onUS uint32) Window {
	if onUS == 0 {
		return Window{Empty: true}
	}
	w := Window{Start: (intervalUS - onUS) / 2}
	w.Stop = w.Start + onUS
	if w.Stop >= intervalUS {
		w.Stop = intervalUS - 1
	}
	return w
}

func boundaryWindow(intervalUS, onUS uint32) Window {
	switch {
	case onUS/2 == 0:
		return Window{Empty: true}
	case onUS >= intervalUS:
		return Window{Start: 0, Stop: intervalUS - 1}
	}
	return Window{
		Start: intervalUS - onUS/2,
		Stop:  onUS / 2,
	}
}

func toMicros(ms float64) uint32 {
	us := ms * 1000
	if !(us > 0) {
		return 0
	}
	if us >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(us)
}
