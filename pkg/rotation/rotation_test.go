package rotation

import (
	"math"
	"testing"
)

func TestEstimateKnownSpeed(t *testing.T) {
	// 1000 rpm at 5cm is ~55.9g and should come back as a 60ms rotation.
	accel := AccelForRPM(1000, 5)
	if math.Abs(accel-55.9) > 0.01 {
		t.Fatalf("AccelForRPM(1000, 5) = %f, expected ~55.9", accel)
	}
	expectInterval(t, accel, 5, 60)
	expectInterval(t, AccelForRPM(3000, 2.5), 2.5, 20)
}

func TestEstimateClampsSlowSpin(t *testing.T) {
	// 200 rpm is a 300ms rotation, which is past the ceiling.
	expectInterval(t, AccelForRPM(200, 5), 5, MaxIntervalMS)
}

func TestEstimateClampsNonsense(t *testing.T) {
	for _, c := range []struct{ accel, radius float64 }{
		{0, 5},
		{-3, 5},
		{math.NaN(), 5},
		{10, 0},
		{10, -1},
		{10, math.NaN()},
		{math.Inf(1), 5},
		{10, math.Inf(1)},
	} {
		got := Estimate(c.accel, c.radius)
		if got != MaxIntervalMS {
			t.Errorf("Estimate(%v, %v) = %v, expected %v", c.accel, c.radius, got, MaxIntervalMS)
		}
	}
}

func TestEstimateMonotonic(t *testing.T) {
	radii := []float64{0.1, 0.5, 1, 2.5, 5, 10, 20}
	accels := []float64{0.01, 0.5, 1, 5, 20, 55.9, 100, 200, 400}

	for _, r := range radii {
		last := math.Inf(1)
		for _, a := range accels {
			got := Estimate(a, r)
			if got <= 0 || got > MaxIntervalMS {
				t.Fatalf("Estimate(%v, %v) = %v out of range", a, r, got)
			}
			if got > last {
				t.Errorf("Estimate not decreasing in accel at r=%v a=%v: %v > %v", r, a, got, last)
			}
			last = got
		}
	}
	for _, a := range accels {
		last := 0.0
		for _, r := range radii {
			got := Estimate(a, r)
			if got < last {
				t.Errorf("Estimate not increasing in radius at a=%v r=%v: %v < %v", a, r, got, last)
			}
			last = got
		}
	}
}

func TestRPM(t *testing.T) {
	if RPM(60) != 1000 {
		t.Errorf("RPM(60) = %v, expected 1000", RPM(60))
	}
	if RPM(0) != 0 || RPM(-1) != 0 {
		t.Error("RPM of a non-positive interval should be 0")
	}
}

func expectInterval(t *testing.T, accel, radius, expected float64) {
	t.Helper()
	got := Estimate(accel, radius)
	if math.Abs(got-expected) > 0.01 {
		t.Errorf("Estimate(%f, %f) = %f, expected %f", accel, radius, got, expected)
	}
}
