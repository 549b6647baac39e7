package link

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/config"
)

const (
	DefaultDevice  = "/dev/ttyAMA0"
	DefaultBaud    = 115200
	DefaultTimeout = time.Second

	pollInterval = 100 * time.Millisecond
)

// Port is the part of serial.Port the link uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Link is the operator connection.  Configuration records arrive over it and
// telemetry goes back.  The link counts as connected from the first valid
// frame until Timeout passes without one, the peer says goodbye, or the port
// fails.
type Link struct {
	Timeout time.Duration

	store *config.Store
	open  func() (Port, error)
	log   zerolog.Logger
	// For messages that can repeat every rotation.
	sampledLog zerolog.Logger

	lock sync.Mutex
	// Encoded telemetry frames for the current session's writer.
	telemetry    chan []byte
	connected    bool
	subscribed   bool
	lastFrame    time.Time
	onDisconnect []func()

	framesReceived uint64
	badFrames      uint64
}

func New(device string, baud int, store *config.Store) *Link {
	return NewWithOpener(func() (Port, error) {
		p, err := serial.Open(device, &serial.Mode{BaudRate: baud})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open serial port %s", device)
		}
		return p, nil
	}, store)
}

func NewWithOpener(open func() (Port, error), store *config.Store) *Link {
	l := &Link{
		Timeout: DefaultTimeout,
		store:   store,
		open:    open,
		log:     log.With().Str("component", "link").Logger(),
	}
	l.sampledLog = l.log.Sample(&zerolog.BurstSampler{Burst: 1, Period: time.Second})
	return l
}

// OnDisconnect registers f to be called whenever the link drops.
func (l *Link) OnDisconnect(f func()) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.onDisconnect = append(l.onDisconnect, f)
}

func (l *Link) Connected() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.connected
}

func (l *Link) Stats() (received, bad uint64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.framesReceived, l.badFrames
}

// SendTelemetry queues a notification of the rotation interval and battery
// voltage.  Nothing is sent unless the peer is connected and has subscribed.
// It never waits for the port: if the previous record hasn't gone out yet
// this one is dropped.
func (l *Link) SendTelemetry(intervalMS, volts float64) error {
	l.lock.Lock()
	tx := l.telemetry
	send := l.connected && l.subscribed && tx != nil
	l.lock.Unlock()
	if !send {
		return nil
	}
	rec := EncodeTelemetry(intervalMS, volts)
	buf, err := Frame{Type: FrameTelemetry, Payload: rec[:]}.MarshalBinary()
	if err != nil {
		return err
	}
	select {
	case tx <- buf:
	default:
		l.sampledLog.Debug().Msg("Telemetry writer busy; dropping record")
	}
	return nil
}

// loopWritingTelemetry owns writes to the port for one session.  A stuck
// write only holds up this goroutine; it ends when the port is closed.
func (l *Link) loopWritingTelemetry(ctx context.Context, p Port, tx <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case buf := <-tx:
			if _, err := p.Write(buf); err != nil {
				if ctx.Err() != nil {
					return
				}
				l.sampledLog.Warn().Err(err).Msg("Failed to send telemetry")
			}
		}
	}
}

// LoopReadingFrames services the link until the context is cancelled,
// reopening the port whenever it fails.
func (l *Link) LoopReadingFrames(ctx context.Context) {
	for ctx.Err() == nil {
		err := l.openAndLoop(ctx)
		l.drop("port closed")
		if ctx.Err() != nil {
			return
		}
		l.log.Warn().Err(err).Msg("Link loop stopped; will retry")
		select {
		case <-ctx.Done():
		case <-time.After(pollInterval):
		}
	}
}

func (l *Link) openAndLoop(ctx context.Context) error {
	p, err := l.open()
	if err != nil {
		return err
	}
	if err := p.SetReadTimeout(pollInterval); err != nil {
		p.Close()
		return errors.Wrap(err, "failed to set read timeout")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		p.Close()
	}()
	go l.loopWatchingTimeout(ctx)

	tx := make(chan []byte, 1)
	go l.loopWritingTelemetry(ctx, p, tx)
	l.lock.Lock()
	l.telemetry = tx
	l.lock.Unlock()
	defer func() {
		l.lock.Lock()
		l.telemetry = nil
		l.lock.Unlock()
	}()

	l.log.Info().Msg("Link port open, waiting for frames")
	fr := NewFrameReader(&portReader{ctx: ctx, p: p})
	for {
		f, err := fr.ReadFrame()
		if cause := errors.Cause(err); cause == ErrBadChecksum || cause == ErrBadFrameSize {
			l.badFrame(err)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		l.handleFrame(f)
	}
}

func (l *Link) handleFrame(f Frame) {
	switch f.Type {
	case FrameConfig:
		cfg, err := DecodeConfig(f.Payload)
		if err != nil {
			// Keep whatever configuration we had.
			l.badFrame(err)
			return
		}
		l.alive()
		l.store.Update(cfg)
		l.log.Debug().Interface("config", cfg).Msg("Config updated")
	case FrameSubscribe:
		if len(f.Payload) != 1 {
			l.badFrame(errors.Wrapf(ErrBadLength, "subscribe is %d bytes", len(f.Payload)))
			return
		}
		l.lock.Lock()
		l.subscribed = f.Payload[0] != 0
		l.lock.Unlock()
		l.alive()
	case FrameBye:
		l.drop("peer said goodbye")
	default:
		l.badFrame(errors.Errorf("unexpected frame type %#02x", f.Type))
	}
}

func (l *Link) alive() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.framesReceived++
	l.lastFrame = time.Now()
	if !l.connected {
		l.connected = true
		l.log.Info().Msg("Connected")
	}
}

func (l *Link) badFrame(err error) {
	l.lock.Lock()
	l.badFrames++
	l.lock.Unlock()
	l.log.Warn().Err(err).Msg("Ignoring bad frame")
}

func (l *Link) loopWatchingTimeout(ctx context.Context) {
	period := l.Timeout / 4
	if period <= 0 {
		period = pollInterval
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		l.lock.Lock()
		expired := l.connected && time.Since(l.lastFrame) > l.Timeout
		l.lock.Unlock()
		if expired {
			l.drop("timed out")
		}
	}
}

// drop marks the link down.  The configuration is invalidated so the firing
// loop stops at once, then the disconnect hooks run.
func (l *Link) drop(reason string) {
	l.lock.Lock()
	wasConnected := l.connected
	l.connected = false
	l.subscribed = false
	hooks := l.onDisconnect
	l.lock.Unlock()

	if !wasConnected {
		return
	}
	l.store.Invalidate()
	l.log.Info().Str("reason", reason).Msg("Disconnected")
	for _, f := range hooks {
		f()
	}
}

// portReader turns the port's read timeouts, which show up as empty reads,
// into a chance to notice cancellation.
type portReader struct {
	ctx context.Context
	p   Port
}

func (r *portReader) Read(b []byte) (int, error) {
	for {
		n, err := r.p.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
		if r.ctx.Err() != nil {
			return 0, r.ctx.Err()
		}
	}
}
