package sensor

import "sync"

// Channel is the smoothed value of one continuously sampled quantity.  It is
// written by exactly one sampling goroutine and may be read from anywhere.
type Channel struct {
	Name string

	// alpha is the share of the previous value kept on each new sample.
	alpha float64

	lock   sync.Mutex
	value  float64
	seeded bool
}

func New(name string, alpha float64) *Channel {
	return &Channel{
		Name:  name,
		alpha: alpha,
	}
}

// Sample folds a raw reading into the moving average.  The first reading seeds
// the average directly so that it doesn't start off blended with zero.
func (c *Channel) Sample(raw float64) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.seeded {
		c.value = raw
		c.seeded = true
		return
	}
	c.value = c.value*c.alpha + raw*(1-c.alpha)
}

func (c *Channel) Read() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.value
}

// Seeded returns true once the first sample has arrived.
func (c *Channel) Seeded() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.seeded
}
