package config

import (
	"fmt"
	"sync"
)

// Direction is the operator's translate command.
type Direction uint8

const (
	Idle Direction = iota
	Forward
	Reverse
)

func (d Direction) String() string {
	switch d {
	case Idle:
		return "idle"
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

func (d Direction) Valid() bool {
	return d <= Reverse
}

// Configuration is the operator-controlled part of the robot's state, as last
// written by the link.
type Configuration struct {
	RadiusCM     float64
	LEDOffsetPct uint8
	ThrottlePct  uint8
	Direction    Direction
	Heartbeat    uint8
}

// Store holds the current Configuration.  The record is only handed out while
// it is marked initialized; the link clears that mark while it rewrites the
// record and whenever the operator disconnects.
type Store struct {
	lock sync.Mutex
	controls
}

type controls struct {
	current     Configuration
	initialized bool
	updates     uint64
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Update(c Configuration) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.initialized = false
	s.current = c
	s.updates++
	s.initialized = true
}

// Snapshot returns a copy of the configuration.  ok is false if no complete
// record is available, in which case none of its fields may be used.
func (s *Store) Snapshot() (c Configuration, ok bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.initialized {
		return Configuration{}, false
	}
	return s.current, true
}

func (s *Store) Initialized() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.initialized
}

// Invalidate marks the record unusable until the next Update.
func (s *Store) Invalidate() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.initialized = false
}

// Updates counts the complete records written since start up.
func (s *Store) Updates() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.updates
}
