// Package track holds the immutable checkpoint loop a race is run on.
package track

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrEmptyTrack      = errors.New("track has no checkpoints")
	ErrIndexOutOfRange = errors.New("checkpoint index out of range")
)

// MaxOrderedCheckpoints is the largest track on which progress scores keep
// racers in gate order. On longer tracks the checkpoint term of a score can
// overtake the lap term.
const MaxOrderedCheckpoints = 100

// Vec3 is a world-space position.
type Vec3 struct {
	X float64 `json:"x" koanf:"x"`
	Y float64 `json:"y" koanf:"y"`
	Z float64 `json:"z" koanf:"z"`
}

// Distance returns the euclidean distance between a and b.
func Distance(a, b Vec3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Checkpoint is a gate on the track. Index N-1 connects back to index 0.
type Checkpoint struct {
	Index    int
	Position Vec3
}

// Track is an ordered, closed loop of checkpoints with designated start and
// pre-finish gates. It is never mutated after New returns; a changed layout
// is a new Track.
type Track struct {
	checkpoints    []Checkpoint
	startIndex     int
	preFinishIndex int
}

type settings struct {
	start     int
	preFinish *int
}

// Option configures New.
type Option func(*settings)

// WithStartIndex designates the start/finish gate. Defaults to 0.
func WithStartIndex(i int) Option {
	return func(s *settings) { s.start = i }
}

// WithPreFinishIndex designates the gate that must be touched before Start
// for a lap to count. Defaults to N-2, or 0 on tracks with fewer than two
// checkpoints.
func WithPreFinishIndex(i int) Option {
	return func(s *settings) { s.preFinish = &i }
}

// New builds a track from checkpoint positions in gate order.
func New(positions []Vec3, opts ...Option) (*Track, error) {
	n := len(positions)
	if n == 0 {
		return nil, ErrEmptyTrack
	}

	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	preFinish := 0
	if n >= 2 {
		preFinish = n - 2
	}
	if s.preFinish != nil {
		preFinish = *s.preFinish
	}

	if s.start < 0 || s.start >= n {
		return nil, fmt.Errorf("start index %d of %d: %w", s.start, n, ErrIndexOutOfRange)
	}
	if preFinish < 0 || preFinish >= n {
		return nil, fmt.Errorf("pre-finish index %d of %d: %w", preFinish, n, ErrIndexOutOfRange)
	}

	cps := make([]Checkpoint, n)
	for i, p := range positions {
		cps[i] = Checkpoint{Index: i, Position: p}
	}
	return &Track{
		checkpoints:    cps,
		startIndex:     s.start,
		preFinishIndex: preFinish,
	}, nil
}

func (t *Track) Len() int { return len(t.checkpoints) }
func (t *Track) StartIndex() int { return t.startIndex }
func (t *Track) PreFinishIndex() int { return t.preFinishIndex }

// Valid reports whether i names a checkpoint on this track.
func (t *Track) Valid(i int) bool {
	return i >= 0 && i < len(t.checkpoints)
}

// Next returns the index following i around the loop.
func (t *Track) Next(i int) int {
	return (i + 1) % len(t.checkpoints)
}

// Checkpoint returns the checkpoint at index i. i must be Valid.
func (t *Track) Checkpoint(i int) Checkpoint {
	return t.checkpoints[i]
}
