// Package progress turns raw "gate touched" events into validated lap
// counts and a progress score used for ranking.
package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"circuitrunners/internal/track"
	"circuitrunners/pkg/logger"
)

// Score weights: laps dominate, then checkpoint index, then the fraction of
// the current segment already driven.
const (
	lapWeight        = 10000.0
	checkpointWeight = 100.0
	fractionWeight   = 100.0
	minSegmentLength = 0.1
)

// Result describes what ReportCheckpoint did with a hit.
type Result int

const (
	// ResultAccepted means the hit was applied.
	ResultAccepted Result = iota
	// ResultLap means the hit was applied and completed a lap.
	ResultLap
	// ResultOutOfOrder means sequential enforcement dropped the hit.
	ResultOutOfOrder
	// ResultInvalid means the index is not on the track.
	ResultInvalid
)

func (r Result) String() string {
	switch r {
	case ResultAccepted:
		return "accepted"
	case ResultLap:
		return "lap"
	case ResultOutOfOrder:
		return "out_of_order"
	case ResultInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Applied reports whether the racer state changed.
func (r Result) Applied() bool {
	return r == ResultAccepted || r == ResultLap
}

// Snapshot is a consistent copy of a racer's state.
type Snapshot struct {
	RacerID          string
	LastCheckpoint   int
	Laps             int
	TouchedPreFinish bool
	Score            float64
	LastCheckpointAt time.Time
}

// Racer is the per-participant checkpoint/lap state machine. Reports for the
// same racer serialize on its mutex; racers share no mutable state.
type Racer struct {
	id         string
	track      *track.Track
	sequential bool
	now        func() time.Time
	logger     *zap.Logger

	mu               sync.Mutex
	lastCheckpoint   int
	laps             int
	touchedPreFinish bool
	score            float64
	lastCheckpointAt time.Time
}

// Option configures a Racer.
type Option func(*Racer)

// WithSequentialOrder toggles the next-checkpoint-only ordering guard.
// Enabled by default.
func WithSequentialOrder(enabled bool) Option {
	return func(r *Racer) { r.sequential = enabled }
}

// WithClock overrides the time source used to stamp accepted hits.
func WithClock(now func() time.Time) Option {
	return func(r *Racer) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Racer) { r.logger = logger.OrNop(l) }
}

// NewRacer creates a racer bound to t in its initial state.
func NewRacer(id string, t *track.Track, opts ...Option) *Racer {
	r := &Racer{
		id:             id,
		track:          t,
		sequential:     true,
		now:            time.Now,
		logger:         zap.NewNop(),
		lastCheckpoint: -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("racer", id))
	return r
}

func (r *Racer) ID() string { return r.id }

// ReportCheckpoint applies a gate hit at cpIndex with the racer currently at
// position.
func (r *Racer) ReportCheckpoint(cpIndex int, position track.Vec3) Result {
	if !r.track.Valid(cpIndex) {
		r.logger.Debug("checkpoint index off track", zap.Int("cp", cpIndex))
		return ResultInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sequential && r.lastCheckpoint != -1 {
		expected := r.track.Next(r.lastCheckpoint)
		if cpIndex != expected {
			r.logger.Debug("out-of-order checkpoint ignored",
				zap.Int("cp", cpIndex), zap.Int("expected", expected))
			return ResultOutOfOrder
		}
	}

	r.lastCheckpoint = cpIndex
	r.lastCheckpointAt = r.now()

	if cpIndex == r.track.PreFinishIndex() {
		r.touchedPreFinish = true
	}

	result := ResultAccepted
	if cpIndex == r.track.StartIndex() && r.touchedPreFinish {
		r.laps++
		r.touchedPreFinish = false
		result = ResultLap
		r.logger.Debug("lap completed", zap.Int("laps", r.laps))
	}

	r.score = score(r.track, r.laps, cpIndex, position)
	return result
}

func score(t *track.Track, laps, cpIndex int, position track.Vec3) float64 {
	next := t.Checkpoint(t.Next(cpIndex)).Position
	toNext := track.Distance(position, next)
	segLen := max(minSegmentLength, track.Distance(t.Checkpoint(cpIndex).Position, next))
	frac := 1 - clamp01(toNext/segLen)
	return float64(laps)*lapWeight + float64(cpIndex)*checkpointWeight + frac*fractionWeight
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}

// Reset restores the initial state; used when a race restarts.
func (r *Racer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCheckpoint = -1
	r.laps = 0
	r.touchedPreFinish = false
	r.score = 0
	r.lastCheckpointAt = time.Time{}
}

// Snapshot returns the racer's state as of the last completed report.
func (r *Racer) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		RacerID:          r.id,
		LastCheckpoint:   r.lastCheckpoint,
		Laps:             r.laps,
		TouchedPreFinish: r.touchedPreFinish,
		Score:            r.score,
		LastCheckpointAt: r.lastCheckpointAt,
	}
}
