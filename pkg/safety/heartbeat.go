package safety

import (
	"sync"
	"time"
)

const (
	DefaultHeartbeatMin    = 10
	DefaultHeartbeatMax    = 13
	DefaultHeartbeatPeriod = 600 * time.Millisecond
)

// Heartbeat watches the operator's heartbeat value.  The controller app cycles
// the value through a small band; if it stops changing, the app has frozen or
// lost focus and the robot must stop.
//
// The value is only examined once per Period.  Between examinations Check
// returns the previous verdict, so the firing loop can call it every rotation.
type Heartbeat struct {
	Min, Max uint8
	Period   time.Duration

	now func() time.Time

	lock      sync.Mutex
	checked   bool
	lastCheck time.Time
	last      uint8
	healthy   bool
}

func NewHeartbeat(min, max uint8, period time.Duration) *Heartbeat {
	return &Heartbeat{
		Min:    min,
		Max:    max,
		Period: period,
		now:    time.Now,
	}
}

func (h *Heartbeat) Check(v uint8) bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	now := h.clock()
	if h.checked && now.Sub(h.lastCheck) < h.Period {
		return h.healthy
	}
	h.checked = true
	h.lastCheck = now

	if v >= h.Min && v <= h.Max && v != h.last {
		h.last = v
		h.healthy = true
	} else {
		h.healthy = false
	}
	return h.healthy
}

// Reset forgets the last accepted value and verdict; called when the link
// drops so a reconnect starts from scratch.
func (h *Heartbeat) Reset() {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.checked = false
	h.last = 0
	h.healthy = false
}

func (h *Heartbeat) clock() time.Time {
	if h.now == nil {
		return time.Now()
	}
	return h.now()
}
