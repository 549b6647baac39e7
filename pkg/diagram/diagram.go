package diagram

import (
	"fmt"
	"image"
	"math"

	"github.com/fogleman/gg"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/firing"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/link"
)

// Colours for each ring, outermost first.
var (
	ledColour   = [3]float64{1, 0.9, 0}
	coilAColour = [3]float64{1, 0.2, 0}
	coilBColour = [3]float64{0.2, 0.5, 1}
)

// Render draws one rotation of the plan as concentric rings: the LED arc on
// the outside, then coil A's arc, then coil B's.  The rotation starts at the
// top and runs clockwise.
func Render(w firing.FiringWindow, size int) image.Image {
	dc := gg.NewContext(size, size)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	Draw(dc, w)
	return dc.Image()
}

func SavePNG(path string, w firing.FiringWindow, size int) error {
	dc := gg.NewContext(size, size)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	Draw(dc, w)
	return dc.SavePNG(path)
}

func Draw(dc *gg.Context, w firing.FiringWindow) {
	s := float64(dc.Width())
	if h := float64(dc.Height()); h < s {
		s = h
	}
	cx, cy := s/2, s/2
	ring := s / 16

	// Faint full circles so an empty window is still visible as a gap.
	dc.SetLineWidth(1)
	dc.SetRGBA(1, 1, 1, 0.2)
	for i := 0; i < 3; i++ {
		dc.DrawCircle(cx, cy, s/2-ring*(float64(i)+1))
		dc.Stroke()
	}

	dc.SetLineWidth(ring * 0.8)
	for i, arc := range []struct {
		w      firing.Window
		colour [3]float64
	}{
		{w.LED, ledColour},
		{w.CoilA, coilAColour},
		{w.CoilB, coilBColour},
	} {
		if arc.w.Empty || w.RotationIntervalUS == 0 {
			continue
		}
		if i == 2 && w.Coils < 2 {
			continue
		}
		start, stop := angles(arc.w, w.RotationIntervalUS)
		dc.SetRGB(arc.colour[0], arc.colour[1], arc.colour[2])
		dc.DrawArc(cx, cy, s/2-ring*(float64(i)+1), start, stop)
		dc.Stroke()
	}

	// Marker at the start of the rotation.
	dc.SetRGB(1, 1, 1)
	dc.DrawLine(cx, cy-s/2+ring*3.5, cx, cy-s/2+ring*0.5)
	dc.SetLineWidth(2)
	dc.Stroke()

	dc.DrawStringAnchored(fmt.Sprintf("%.1fms", float64(w.RotationIntervalUS)/1000), cx, cy, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("motor %.0f%%", w.MotorOnFraction*100), cx, cy+14, 0.5, 0.5)
}

// angles converts a window to gg arc angles, with zero at twelve o'clock.
func angles(w firing.Window, intervalUS uint32) (start, stop float64) {
	toAngle := func(t float64) float64 {
		return t/float64(intervalUS)*2*math.Pi - math.Pi/2
	}
	stopUS := float64(w.Stop)
	if w.Wraps() {
		stopUS += float64(intervalUS)
	}
	return toAngle(float64(w.Start)), toAngle(stopUS)
}

const (
	minCellVoltage = 3
	maxCellVoltage = 4.2
)

// DrawTelemetry shows a telemetry record as the operator would see it: the
// reported interval and voltage as text, and the pack's charge as an arc
// inside the coil rings.  The record goes through the wire encoding, so the
// values carry its rounding.
func DrawTelemetry(dc *gg.Context, record []byte) error {
	intervalMS, volts, err := link.DecodeTelemetry(record)
	if err != nil {
		return err
	}
	s := float64(dc.Width())
	if h := float64(dc.Height()); h < s {
		s = h
	}
	cx, cy := s/2, s/2
	ring := s / 16

	charge := Charge(volts)
	dc.SetLineWidth(ring * 0.4)
	dc.SetRGB(0.2, 1, 0.3)
	if charge < 0.1 {
		dc.SetRGB(1, 0.2, 0)
	}
	if charge > 0 {
		dc.DrawArc(cx, cy, s/2-ring*4.5, -math.Pi/2, -math.Pi/2+charge*2*math.Pi)
		dc.Stroke()
	}
	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored(fmt.Sprintf("tx %.0fms %.1fV", intervalMS, volts), cx, cy+28, 0.5, 0.5)
	return nil
}

// Charge estimates the state of charge, 0 to 1, from the pack voltage.  Packs
// over 9V are taken to be 4S, anything else 2S.
func Charge(volts float64) float64 {
	cells := 2.0
	if volts > 9 {
		cells = 4
	}
	charge := (volts/cells - minCellVoltage) / (maxCellVoltage - minCellVoltage)
	return math.Max(0, math.Min(1, charge))
}
