// Package race groups the racers of one room around a shared track and
// decides when a race is won.
package race

import (
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"circuitrunners/internal/progress"
	"circuitrunners/internal/standings"
	"circuitrunners/internal/track"
	"circuitrunners/pkg/logger"
)

// Session owns one RacerProgress per participant. Registration order is
// kept so standings ties go to the first registered racer.
type Session struct {
	track      *track.Track
	gate       *progress.Gate
	sequential bool
	logger     *zap.Logger

	mu     sync.RWMutex
	order  []*progress.Racer
	racers map[string]*progress.Racer
}

// Option configures a Session.
type Option func(*Session)

// WithSequentialOrder is passed through to every racer.
func WithSequentialOrder(enabled bool) Option {
	return func(s *Session) { s.sequential = enabled }
}

// WithCooldown debounces repeated hits on the same gate by the same racer.
func WithCooldown(d time.Duration) Option {
	return func(s *Session) { s.gate = progress.NewGate(d) }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = logger.OrNop(l) }
}

// NewSession creates an empty session on t.
func NewSession(t *track.Track, opts ...Option) *Session {
	s := &Session{
		track:      t,
		gate:       progress.NewGate(0),
		sequential: true,
		logger:     zap.NewNop(),
		racers:     make(map[string]*progress.Racer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track returns the session's track.
func (s *Session) Track() *track.Track { return s.track }

// Register adds a racer, returning the existing one if id is already known.
func (s *Session) Register(id string) *progress.Racer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.racers[id]; ok {
		return r
	}
	r := progress.NewRacer(id, s.track,
		progress.WithSequentialOrder(s.sequential),
		progress.WithLogger(s.logger))
	s.racers[id] = r
	s.order = append(s.order, r)
	return r
}

// Remove drops a racer. Unknown ids are ignored.
func (s *Session) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.racers[id]; !ok {
		return
	}
	delete(s.racers, id)
	s.order = lo.Reject(s.order, func(r *progress.Racer, _ int) bool { return r.ID() == id })
	s.gate.Forget(id)
}

// Report runs a hit through the gate debouncer and into the racer. ok is
// false when the racer is unknown or the hit was debounced. Only applied
// hits start a cooldown.
func (s *Session) Report(id string, cpIndex int, position track.Vec3, at time.Time) (progress.Result, bool) {
	s.mu.RLock()
	r, known := s.racers[id]
	s.mu.RUnlock()
	if !known {
		return progress.ResultInvalid, false
	}
	if !s.track.Valid(cpIndex) {
		return progress.ResultInvalid, true
	}
	if !s.gate.Allow(id, cpIndex, at) {
		return progress.ResultInvalid, false
	}
	res := r.ReportCheckpoint(cpIndex, position)
	if res.Applied() {
		s.gate.Record(id, cpIndex, at)
	}
	return res, true
}

// Snapshots returns every racer's state in registration order. Each racer
// is copied under its own lock.
func (s *Session) Snapshots() []progress.Snapshot {
	s.mu.RLock()
	order := append([]*progress.Racer(nil), s.order...)
	s.mu.RUnlock()
	return lo.Map(order, func(r *progress.Racer, _ int) progress.Snapshot { return r.Snapshot() })
}

// Standings ranks the current snapshots.
func (s *Session) Standings() []standings.Entry {
	return standings.Compute(s.Snapshots())
}

// Reset returns every racer to its initial state.
func (s *Session) Reset() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.order {
		r.Reset()
	}
	s.gate.Reset()
}
