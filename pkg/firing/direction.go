package firing

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/config"
)

// Effective resolves the direction to use for the given rotation.  Idle
// alternates between the forward and reverse coil assignment every rotation so
// that, on average, the robot goes nowhere.
func Effective(configured config.Direction, rotation uint32) config.Direction {
	switch configured {
	case config.Forward, config.Reverse:
		return configured
	}
	if rotation%2 == 0 {
		return config.Forward
	}
	return config.Reverse
}

// CoilStates returns whether coil A and coil B should be energised t
// microseconds into a rotation.  Going forward, coil A follows the midpoint arc
// and coil B the boundary arc; reversing swaps them.
func CoilStates(w FiringWindow, dir config.Direction, t uint32) (a, b bool) {
	mid, boundary := w.CoilA.Active(t), w.CoilB.Active(t)
	if dir == config.Reverse {
		a, b = boundary, mid
	} else {
		a, b = mid, boundary
	}
	if w.Coils < 2 {
		b = false
	}
	return
}

// Coil mounting angles around the chassis, in radians.
const (
	coilAMount = 0
	coilBMount = math.Pi
)

// Thrust integrates, over one rotation, the direction in which each energised
// coil pushes.  The result is in the rotation's frame of reference with the
// rotation start along +X; its magnitude is in "full-thrust rotations", so a
// single coil firing continuously in one direction would give 1.  Only useful
// for comparing plans, not as a physical force.
func Thrust(w FiringWindow, dir config.Direction, stepUS uint32) r3.Vec {
	var total r3.Vec
	if w.RotationIntervalUS == 0 {
		return total
	}
	if stepUS == 0 {
		stepUS = 1
	}
	weight := float64(stepUS) / float64(w.RotationIntervalUS)
	for t := uint32(0); t < w.RotationIntervalUS; t += stepUS {
		phase := 2 * math.Pi * float64(t) / float64(w.RotationIntervalUS)
		a, b := CoilStates(w, dir, t)
		if a {
			total = r3.Add(total, r3.Scale(weight, unit(phase+coilAMount)))
		}
		if b {
			total = r3.Add(total, r3.Scale(weight, unit(phase+coilBMount)))
		}
	}
	return total
}

func unit(theta float64) r3.Vec {
	return r3.Vec{X: math.Cos(theta), Y: math.Sin(theta)}
}
