package phaseclock

import "time"

// Counter is a free-running 32-bit cycle counter.  It is allowed to wrap; only
// differences between successive readings are meaningful.
type Counter interface {
	Cycles() uint32
	Hz() uint32
}

type monotonic struct {
	start time.Time
	tick  time.Duration
	hz    uint32
}

// Monotonic derives a cycle counter ticking at hz from the monotonic clock.
// Like a hardware cycle counter it wraps at 2^32.
func Monotonic(hz uint32) Counter {
	if hz == 0 {
		hz = 1000000
	}
	tick := time.Second / time.Duration(hz)
	if tick <= 0 {
		tick = 1
	}
	return &monotonic{
		start: time.Now(),
		tick:  tick,
		hz:    uint32(time.Second / tick),
	}
}

func (m *monotonic) Cycles() uint32 {
	return uint32(time.Since(m.start) / m.tick)
}

func (m *monotonic) Hz() uint32 {
	return m.hz
}

// Tracker measures elapsed time within one rotation by accumulating counter
// deltas.  Unsigned subtraction makes a single wrap between samples harmless,
// provided samples are taken more often than the counter's wrap period.
type Tracker struct {
	counter Counter
	last    uint32
	cycles  uint64
}

func (t *Tracker) Start(c Counter) {
	t.counter = c
	t.last = c.Cycles()
	t.cycles = 0
}

// Advance samples the counter once and returns the microseconds elapsed since
// Start.
func (t *Tracker) Advance() uint32 {
	now := t.counter.Cycles()
	t.cycles += uint64(now - t.last)
	t.last = now
	return t.ElapsedMicros()
}

func (t *Tracker) ElapsedMicros() uint32 {
	hz := uint64(t.counter.Hz())
	if hz == 0 {
		return 0
	}
	us := t.cycles * 1000000 / hz
	if us > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(us)
}
