package main

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/config"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/link"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/safety"
)

const (
	simConfigInterval    = 100 * time.Millisecond
	simHeartbeatInterval = 400 * time.Millisecond
)

// simOperator plays the part of the controller app on the other end of the
// link: it subscribes to telemetry, then sends the configuration every
// simConfigInterval, stepping the heartbeat through its band.
type simOperator struct {
	log zerolog.Logger

	lock        sync.Mutex
	cfg         config.Configuration
	pending     []byte
	subscribed  bool
	nextConfig  time.Time
	nextBeat    time.Time
	readTimeout time.Duration
	closed      bool
}

func newSimOperator(cfg config.Configuration) *simOperator {
	cfg.Heartbeat = safety.DefaultHeartbeatMin
	return &simOperator{
		log:         log.With().Str("component", "sim-operator").Logger(),
		cfg:         cfg,
		readTimeout: 100 * time.Millisecond,
	}
}

func (o *simOperator) Read(b []byte) (int, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.closed {
		return 0, io.ErrClosedPipe
	}
	if len(o.pending) == 0 {
		wait := time.Until(o.nextConfig)
		if wait > 0 {
			if wait > o.readTimeout {
				wait = o.readTimeout
			}
			o.lock.Unlock()
			time.Sleep(wait)
			o.lock.Lock()
			if time.Now().Before(o.nextConfig) {
				// Like a serial port, a timeout is an empty read.
				return 0, nil
			}
		}
		o.queueFrames()
	}
	n := copy(b, o.pending)
	o.pending = o.pending[n:]
	return n, nil
}

func (o *simOperator) queueFrames() {
	now := time.Now()
	if !o.subscribed {
		o.queue(link.Frame{Type: link.FrameSubscribe, Payload: []byte{1}})
		o.subscribed = true
	}
	if now.After(o.nextBeat) {
		o.cfg.Heartbeat++
		if o.cfg.Heartbeat > safety.DefaultHeartbeatMax {
			o.cfg.Heartbeat = safety.DefaultHeartbeatMin
		}
		o.nextBeat = now.Add(simHeartbeatInterval)
	}
	o.queue(link.Frame{Type: link.FrameConfig, Payload: link.EncodeConfig(o.cfg)})
	o.nextConfig = now.Add(simConfigInterval)
}

func (o *simOperator) queue(f link.Frame) {
	buf, err := f.MarshalBinary()
	if err != nil {
		o.log.Error().Err(err).Msg("Failed to encode frame")
		return
	}
	o.pending = append(o.pending, buf...)
}

// Write receives the robot's telemetry.
func (o *simOperator) Write(b []byte) (int, error) {
	fr := link.NewFrameReader(bytes.NewReader(b))
	f, err := fr.ReadFrame()
	if err == nil && f.Type == link.FrameTelemetry {
		if intervalMS, volts, err := link.DecodeTelemetry(f.Payload); err == nil {
			o.log.Debug().Float64("intervalMS", intervalMS).Float64("volts", volts).Msg("Telemetry")
		}
	}
	return len(b), nil
}

func (o *simOperator) SetReadTimeout(t time.Duration) error {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.readTimeout = t
	return nil
}

// open starts a fresh session.
func (o *simOperator) open() (link.Port, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.closed = false
	o.subscribed = false
	o.pending = nil
	return o, nil
}

func (o *simOperator) Close() error {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.closed = true
	return nil
}
