package melty

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/actuator"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/config"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/firing"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/rotation"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/safety"
)

// steppingCounter advances by a fixed step every time it is read, so the loop
// makes progress without real time passing.
type steppingCounter struct {
	lock   sync.Mutex
	cycles uint32
	step   uint32
}

func (c *steppingCounter) Cycles() uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.cycles += c.step
	return c.cycles
}

func (c *steppingCounter) Hz() uint32 { return 1000000 }

func (c *steppingCounter) peek() uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.cycles
}

type constReading float64

func (c constReading) Read() float64 { return float64(c) }

type sample struct {
	us     uint32
	output actuator.Output
	on     bool
}

// recordingOutputs remembers every Set along with the counter time since
// start.
type recordingOutputs struct {
	counter *steppingCounter
	start   uint32
	samples []sample

	failOn      actuator.Output
	failAfter   int
	invalidate  *config.Store
	invalidateN int
	// If set, the record comes straight back on the next Set after the
	// invalidation, as when a fresh config frame lands mid-rotation.
	restore     *config.Configuration
	cancel      func()
	cancelAfter int
}

func (r *recordingOutputs) Set(o actuator.Output, on bool) error {
	r.samples = append(r.samples, sample{us: r.counter.peek() - r.start, output: o, on: on})
	if r.invalidate != nil && len(r.samples) == r.invalidateN {
		r.invalidate.Invalidate()
	}
	if r.invalidate != nil && r.restore != nil && len(r.samples) == r.invalidateN+1 {
		r.invalidate.Update(*r.restore)
	}
	if r.cancel != nil && len(r.samples) == r.cancelAfter {
		r.cancel()
	}
	if r.failAfter > 0 && len(r.samples) >= r.failAfter && o == r.failOn {
		return errors.New("output stuck")
	}
	return nil
}

type telemetryRecord struct {
	intervalMS, volts float64
}

type recordingTelemetry struct {
	lock      sync.Mutex
	connected bool
	records   []telemetryRecord
}

func (r *recordingTelemetry) SendTelemetry(intervalMS, volts float64) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.records = append(r.records, telemetryRecord{intervalMS, volts})
	return nil
}

func (r *recordingTelemetry) Connected() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.connected
}

func (r *recordingTelemetry) sent() []telemetryRecord {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]telemetryRecord(nil), r.records...)
}

type loopFixture struct {
	loop      *Loop
	store     *config.Store
	counter   *steppingCounter
	outputs   *recordingOutputs
	telemetry *recordingTelemetry
}

func newLoopFixture(cfg config.Configuration) *loopFixture {
	f := &loopFixture{
		store:     config.NewStore(),
		counter:   &steppingCounter{step: 100},
		telemetry: &recordingTelemetry{connected: true},
	}
	f.outputs = &recordingOutputs{counter: f.counter}
	f.store.Update(cfg)
	f.loop = NewLoop(
		firing.NewPlanner(firing.DefaultMinTranslationRPM, 2),
		f.store,
		constReading(rotation.AccelForRPM(1000, 5)),
		constReading(12.6),
		f.outputs,
		f.counter,
		f.telemetry,
	)
	f.loop.Yield = 0
	return f
}

func (f *loopFixture) rotate(t *testing.T) {
	t.Helper()
	f.outputs.samples = nil
	f.outputs.start = f.counter.peek()
	if err := f.loop.Rotate(context.Background()); err != nil {
		t.Fatal(err)
	}
}

// coilA returns coil A's level at every sample in [from, to).
func (f *loopFixture) coilA(from, to uint32) []bool {
	var levels []bool
	for _, s := range f.outputs.samples {
		if s.output == actuator.CoilA && s.us >= from && s.us < to {
			levels = append(levels, s.on)
		}
	}
	return levels
}

func expectAll(t *testing.T, what string, levels []bool, expected bool) {
	t.Helper()
	if len(levels) == 0 {
		t.Fatalf("%s: no samples", what)
	}
	for _, l := range levels {
		if l != expected {
			t.Errorf("%s: expected %v throughout, got %v", what, expected, levels)
			return
		}
	}
}

var idleConfig = config.Configuration{RadiusCM: 5, ThrottlePct: 50, Direction: config.Idle, Heartbeat: 10}

func TestRotateAlternatesWhenIdle(t *testing.T) {
	f := newLoopFixture(idleConfig)

	// Even rotation: forward assignment, coil A on the midpoint arc.
	f.rotate(t)
	expectAll(t, "even midpoint", f.coilA(20000, 40000), true)
	expectAll(t, "even boundary", f.coilA(1000, 10000), false)

	// Odd rotation: reversed, coil A on the boundary arc.
	f.rotate(t)
	expectAll(t, "odd midpoint", f.coilA(20000, 40000), false)
	expectAll(t, "odd boundary", f.coilA(1000, 10000), true)

	if f.loop.Rotations() != 2 {
		t.Errorf("Expected 2 rotations, got %d", f.loop.Rotations())
	}
}

func TestRotateForwardDoesNotAlternate(t *testing.T) {
	cfg := idleConfig
	cfg.Direction = config.Forward
	f := newLoopFixture(cfg)
	for i := 0; i < 3; i++ {
		f.rotate(t)
		expectAll(t, "midpoint", f.coilA(20000, 40000), true)
	}
}

func TestRotateTakesOneRotation(t *testing.T) {
	f := newLoopFixture(idleConfig)
	f.rotate(t)

	last := f.outputs.samples[len(f.outputs.samples)-1]
	if last.us < 59000 || last.us > 61000 {
		t.Errorf("Last output update at %dus, expected close to 60000us", last.us)
	}
	sent := f.telemetry.sent()
	if len(sent) != 1 {
		t.Fatalf("Expected one telemetry record, got %v", sent)
	}
	if sent[0].intervalMS < 59.9 || sent[0].intervalMS > 60.1 || sent[0].volts != 12.6 {
		t.Errorf("Unexpected telemetry %+v", sent[0])
	}
}

func TestRotateAbortsOnInvalidation(t *testing.T) {
	f := newLoopFixture(idleConfig)
	f.outputs.invalidate = f.store
	f.outputs.invalidateN = 30

	err := f.loop.Rotate(context.Background())
	if err != ErrConfigInvalidated {
		t.Fatalf("Expected ErrConfigInvalidated, got %v", err)
	}
	// Stopped within one iteration of the invalidation, then everything off.
	if len(f.outputs.samples) != 30+int(actuator.NumOutputs) {
		t.Fatalf("Kept driving outputs after invalidation: %d sets", len(f.outputs.samples))
	}
	expectAllOff(t, f.outputs.samples[30:])
	if f.loop.Rotations() != 0 || len(f.telemetry.sent()) != 0 {
		t.Error("Aborted rotation shouldn't count or report")
	}
}

func expectAllOff(t *testing.T, samples []sample) {
	t.Helper()
	if len(samples) < int(actuator.NumOutputs) {
		t.Fatalf("Expected every output to be set off, got %v", samples)
	}
	for i, s := range samples[:actuator.NumOutputs] {
		if s.output != actuator.Output(i) || s.on {
			t.Errorf("Expected every output to be set off, got %v", samples[:actuator.NumOutputs])
			return
		}
	}
}

func TestRotateStopsOnOutputError(t *testing.T) {
	f := newLoopFixture(idleConfig)
	f.outputs.failOn = actuator.CoilB
	f.outputs.failAfter = 1

	err := f.loop.Rotate(context.Background())
	if err == nil || errors.Cause(err).Error() != "output stuck" {
		t.Fatalf("Expected the output error, got %v", err)
	}
	if f.loop.Rotations() != 0 {
		t.Error("Failed rotation shouldn't count")
	}
}

func TestRotateHonoursContext(t *testing.T) {
	f := newLoopFixture(idleConfig)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.loop.Rotate(ctx); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

type fakeBringup struct {
	waited     bool
	calibrated int
}

func (b *fakeBringup) WaitForSensor(ctx context.Context) error {
	b.waited = true
	return nil
}

func (b *fakeBringup) Calibrate(ctx context.Context, reads int) error {
	b.calibrated = reads
	return nil
}

func newTestController(f *loopFixture, outs actuator.Interface) (*Controller, *fakeBringup) {
	hb := safety.NewHeartbeat(safety.DefaultHeartbeatMin, safety.DefaultHeartbeatMax, safety.DefaultHeartbeatPeriod)
	sup := safety.NewSupervisor(outs, constReading(0), hb)
	hw := &fakeBringup{}
	return NewController(f.loop, sup, hw, f.telemetry, f.store, constReading(12.6)), hw
}

func TestControllerInit(t *testing.T) {
	f := newLoopFixture(idleConfig)
	outs := actuator.NewDummy()
	_ = outs.Set(actuator.CoilA, true)
	c, hw := newTestController(f, outs)

	if err := c.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !hw.waited || hw.calibrated != DefaultCalibrationReads {
		t.Errorf("Expected sensor wait and %d calibration reads, got %+v", DefaultCalibrationReads, hw)
	}
	if outs.State(actuator.CoilA) {
		t.Error("Init should leave the coils off")
	}
}

func TestControllerRunsWhileHealthy(t *testing.T) {
	f := newLoopFixture(idleConfig)
	c, _ := newTestController(f, actuator.NewDummy())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		sent := f.telemetry.sent()
		if len(sent) > 0 && sent[0].intervalMS > 0 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatalf("No rotation reported, telemetry %v", sent)
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run returned %v", err)
	}
}

func TestControllerStaysSafeWhenDisconnected(t *testing.T) {
	f := newLoopFixture(idleConfig)
	f.telemetry.connected = false
	outs := actuator.NewDummy()
	c, _ := newTestController(f, outs)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); err != context.DeadlineExceeded {
		t.Errorf("Run returned %v", err)
	}
	if f.loop.Rotations() != 0 {
		t.Error("Fired while disconnected")
	}
	if outs.Edges(actuator.CoilA) != 0 || outs.Edges(actuator.CoilB) != 0 {
		t.Error("Coils driven while disconnected")
	}
	sent := f.telemetry.sent()
	if len(sent) == 0 || sent[0].intervalMS != 0 {
		t.Errorf("Expected a stopped telemetry record, got %v", sent)
	}
	if outs.Edges(actuator.LED) == 0 {
		t.Error("Expected the status LED to flash")
	}
}

func TestControllerSafesOutputsWhenConfigRewritten(t *testing.T) {
	f := newLoopFixture(idleConfig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	restore := idleConfig
	f.outputs.invalidate = f.store
	f.outputs.invalidateN = 30
	f.outputs.restore = &restore
	f.outputs.cancel = cancel
	f.outputs.cancelAfter = 200
	c, _ := newTestController(f, f.outputs)

	if err := c.Run(ctx); err != context.Canceled {
		t.Errorf("Run returned %v", err)
	}
	samples := f.outputs.samples
	if len(samples) < 200 {
		t.Fatalf("Expected firing to resume after the rewrite, got %d sets", len(samples))
	}
	// The rotation in progress turns everything off, then the controller
	// does it again before the next rotation starts driving.
	expectAllOff(t, samples[30:])
	expectAllOff(t, samples[30+actuator.NumOutputs:])
	next := samples[30+actuator.NumOutputs:]
	for len(next) > 0 && !next[0].on {
		next = next[1:]
	}
	if len(next) == 0 {
		t.Error("Expected the next rotation to drive outputs")
	}
}
