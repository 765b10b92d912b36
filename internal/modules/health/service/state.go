package service

import (
	"sync"
	"sync/atomic"
	"time"
)

// State tracks how the ledger's primary store is doing.
type State struct {
	startedAt time.Time

	primaryUp atomic.Bool
	fallbacks atomic.Int64

	mu           sync.Mutex
	lastFallback time.Time
	lastError    string
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.primaryUp.Store(true)
	return s
}

// PrimaryOK records a call the primary store served.
func (s *State) PrimaryOK() { s.primaryUp.Store(true) }

// PrimaryFailed records a call that had to go to the local store.
func (s *State) PrimaryFailed(err error) {
	s.primaryUp.Store(false)
	s.fallbacks.Add(1)

	s.mu.Lock()
	s.lastFallback = time.Now().UTC()
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()
}

func (s *State) PrimaryUp() bool  { return s.primaryUp.Load() }
func (s *State) Fallbacks() int64 { return s.fallbacks.Load() }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

// Snapshot is the JSON view printed by `status`.
type Snapshot struct {
	PrimaryUp      bool       `json:"primary_up"`
	Fallbacks      int64      `json:"fallbacks"`
	LastFallbackAt *time.Time `json:"last_fallback_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	UptimeSec      int64      `json:"uptime_sec"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		PrimaryUp: s.PrimaryUp(),
		Fallbacks: s.Fallbacks(),
		LastError: s.lastError,
		UptimeSec: int64(s.Uptime().Seconds()),
	}
	if !s.lastFallback.IsZero() {
		t := s.lastFallback
		snap.LastFallbackAt = &t
	}
	return snap
}
