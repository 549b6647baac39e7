package hardware

import (
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/actuator"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/h3lis331dl"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/ina219"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/rotation"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/settings"
)

// Sim describes the robot the dummy hardware pretends to be.
type Sim struct {
	RPM      float64
	RadiusCM float64
	Volts    float64
}

// NewDummy returns bench hardware.  The accelerometer reads zero until it has
// been calibrated, as if the robot were sitting still, and then as if spinning
// at sim.RPM.  Outputs are logged.
func NewDummy(s settings.Settings, sim Sim) (*Hardware, error) {
	var h *Hardware
	accel := h3lis331dl.Dummy(func() float64 {
		if _, calibrated := h.ZeroG(); !calibrated {
			return 0
		}
		return rotation.AccelForRPM(sim.RPM, sim.RadiusCM)
	})
	h, err := newHardware(s, accel, ina219.Dummy(sim.Volts), actuator.NewDummy())
	if err != nil {
		return nil, err
	}
	// The sign only corrects for how a real sensor is mounted.
	h.cfg.Accel.Sign = 1
	return h, nil
}
