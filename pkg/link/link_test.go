package link

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/config"
)

type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	lock sync.Mutex
	out  bytes.Buffer
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *pipePort) Close() error               { return p.r.Close() }
func (p *pipePort) SetReadTimeout(time.Duration) error {
	return nil
}

func (p *pipePort) Write(b []byte) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.out.Write(b)
}

func (p *pipePort) written() []byte {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

type linkFixture struct {
	t     *testing.T
	link  *Link
	port  *pipePort
	store *config.Store
	drops chan struct{}
}

// stallPort never finishes a write until it is closed, like a serial bridge
// with its flow control stuck.
type stallPort struct {
	*pipePort
	writes  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *stallPort) Write(b []byte) (int, error) {
	p.writes <- struct{}{}
	<-p.release
	return 0, io.ErrClosedPipe
}

func (p *stallPort) Close() error {
	p.once.Do(func() { close(p.release) })
	return p.pipePort.Close()
}

func startLink(t *testing.T, timeout time.Duration) *linkFixture {
	pp := newPipePort()
	return startLinkOn(t, timeout, pp, pp)
}

// startLinkOn runs a link over port; frames written to pp reach it.
func startLinkOn(t *testing.T, timeout time.Duration, pp *pipePort, port Port) *linkFixture {
	f := &linkFixture{
		t:     t,
		port:  pp,
		store: config.NewStore(),
		drops: make(chan struct{}, 10),
	}
	opened := false
	f.link = NewWithOpener(func() (Port, error) {
		if opened {
			return nil, errors.New("no more ports")
		}
		opened = true
		return port, nil
	}, f.store)
	f.link.Timeout = timeout
	f.link.OnDisconnect(func() { f.drops <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.link.LoopReadingFrames(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return f
}

func (f *linkFixture) send(fr Frame) {
	f.t.Helper()
	if _, err := f.port.w.Write(mustFrame(f.t, fr)); err != nil {
		f.t.Fatal(err)
	}
}

func (f *linkFixture) sendConfig(cfg config.Configuration) {
	f.t.Helper()
	f.send(Frame{Type: FrameConfig, Payload: EncodeConfig(cfg)})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

var testConfig = config.Configuration{RadiusCM: 5, ThrottlePct: 50, Direction: config.Forward, Heartbeat: 10}

func TestLinkReceivesConfig(t *testing.T) {
	f := startLink(t, time.Minute)
	if f.link.Connected() {
		t.Fatal("Connected before any frame")
	}
	f.sendConfig(testConfig)
	waitFor(t, "config", f.store.Initialized)

	cfg, ok := f.store.Snapshot()
	if !ok || cfg != testConfig {
		t.Errorf("Snapshot = %+v, %v", cfg, ok)
	}
	if !f.link.Connected() {
		t.Error("Expected to be connected")
	}
}

func TestLinkIgnoresBadConfig(t *testing.T) {
	f := startLink(t, time.Minute)
	f.sendConfig(testConfig)
	waitFor(t, "config", f.store.Initialized)

	f.send(Frame{Type: FrameConfig, Payload: []byte{1, 2, 3, 4, 5, 6}})
	f.send(Frame{Type: FrameConfig, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}})
	waitFor(t, "bad frames", func() bool {
		_, bad := f.link.Stats()
		return bad == 2
	})

	cfg, ok := f.store.Snapshot()
	if !ok || cfg != testConfig {
		t.Errorf("Previous config should be retained, got %+v, %v", cfg, ok)
	}
	if f.store.Updates() != 1 {
		t.Errorf("Expected a single update, got %d", f.store.Updates())
	}
}

func TestLinkTimesOut(t *testing.T) {
	f := startLink(t, 40*time.Millisecond)
	f.sendConfig(testConfig)
	waitFor(t, "connection", f.link.Connected)

	select {
	case <-f.drops:
	case <-time.After(2 * time.Second):
		t.Fatal("Link never timed out")
	}
	if f.link.Connected() {
		t.Error("Still connected after timeout")
	}
	if f.store.Initialized() {
		t.Error("Config should be invalidated on disconnect")
	}
}

func TestLinkBye(t *testing.T) {
	f := startLink(t, time.Minute)
	f.sendConfig(testConfig)
	waitFor(t, "connection", f.link.Connected)

	f.send(Frame{Type: FrameBye})
	select {
	case <-f.drops:
	case <-time.After(2 * time.Second):
		t.Fatal("Bye didn't disconnect")
	}
	if f.store.Initialized() {
		t.Error("Config should be invalidated on disconnect")
	}
}

func TestTelemetryNeedsSubscription(t *testing.T) {
	f := startLink(t, time.Minute)

	// Not connected yet.
	if err := f.link.SendTelemetry(60, 12.6); err != nil {
		t.Fatal(err)
	}
	f.sendConfig(testConfig)
	waitFor(t, "connection", f.link.Connected)

	// Connected but not subscribed.
	if err := f.link.SendTelemetry(60, 12.6); err != nil {
		t.Fatal(err)
	}
	if len(f.port.written()) != 0 {
		t.Fatalf("Telemetry sent without a subscription: %x", f.port.written())
	}

	f.send(Frame{Type: FrameSubscribe, Payload: []byte{1}})
	waitFor(t, "subscription", func() bool {
		received, _ := f.link.Stats()
		return received == 2
	})
	if err := f.link.SendTelemetry(60, 12.6); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "telemetry", func() bool { return len(f.port.written()) > 0 })

	fr, err := NewFrameReader(bytes.NewReader(f.port.written())).ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	interval, volts, err := DecodeTelemetry(fr.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if fr.Type != FrameTelemetry || interval != 60 || volts != 12.6 {
		t.Errorf("Unexpected telemetry %v: %v ms, %v V", fr, interval, volts)
	}
}

func TestStuckTelemetryWriteDoesNotBlock(t *testing.T) {
	sp := &stallPort{
		pipePort: newPipePort(),
		writes:   make(chan struct{}, 10),
		release:  make(chan struct{}),
	}
	f := startLinkOn(t, time.Minute, sp.pipePort, sp)
	f.send(Frame{Type: FrameSubscribe, Payload: []byte{1}})
	f.sendConfig(testConfig)
	waitFor(t, "config", f.store.Initialized)

	// The first record wedges the writer; the rest must not wait for it.
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := f.link.SendTelemetry(60, 12.6); err != nil {
			t.Fatal(err)
		}
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Errorf("SendTelemetry took %v behind a stuck write", d)
	}
	select {
	case <-sp.writes:
	case <-time.After(2 * time.Second):
		t.Fatal("Telemetry never reached the port")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.link.Connected()
		f.link.drop("timed out")
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Connected/drop blocked behind the telemetry write")
	}
	if f.store.Initialized() {
		t.Error("Config should be invalidated on disconnect")
	}
}
