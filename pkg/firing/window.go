package firing

import "fmt"

// Window is an inclusive arc of one rotation, in microseconds since the start
// of the rotation.  A Start after Stop means the arc wraps through the
// rotation boundary.
type Window struct {
	Start uint32
	Stop  uint32
	// Empty windows are never active, whatever Start and Stop say.
	Empty bool
}

func (w Window) Active(t uint32) bool {
	switch {
	case w.Empty:
		return false
	case w.Start > w.Stop:
		return t >= w.Start || t <= w.Stop
	default:
		return t >= w.Start && t <= w.Stop
	}
}

func (w Window) Wraps() bool {
	return !w.Empty && w.Start > w.Stop
}

// Length is the number of microseconds (of a rotation of the given length)
// for which the window is active.
func (w Window) Length(intervalUS uint32) uint32 {
	switch {
	case w.Empty:
		return 0
	case w.Start > w.Stop:
		return intervalUS - w.Start + w.Stop + 1
	default:
		return w.Stop - w.Start + 1
	}
}

func (w Window) String() string {
	if w.Empty {
		return "[off]"
	}
	return fmt.Sprintf("[%d..%d]", w.Start, w.Stop)
}

// FiringWindow is the plan for one rotation: when, relative to the start of
// the rotation, the heading LED and each coil are energised.
type FiringWindow struct {
	RotationIntervalUS uint32
	MotorOnFraction    float64

	LED Window
	// CoilA is centred on the middle of the rotation, CoilB on its boundary.
	// Which physical coil follows which arc depends on the direction.
	CoilA Window
	CoilB Window

	Coils int
}

func (f FiringWindow) String() string {
	return fmt.Sprintf("interval=%dus motor=%.2f led=%v a=%v b=%v coils=%d",
		f.RotationIntervalUS, f.MotorOnFraction, f.LED, f.CoilA, f.CoilB, f.Coils)
}
