package rooms

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"circuitrunners/internal/race"
	"circuitrunners/internal/track"
)

// State is the race state of a room.
type State string

const (
	StateWaiting   = State("waiting")
	StateCountdown = State("countdown")
	StatePlaying   = State("playing")
	StateFinished  = State("finished")
)

// Participant is one connection seated in a room.
type Participant struct {
	ID         string
	Name       string
	IsHost     bool
	Checkpoint int
	Position   track.Vec3
	JoinedAt   time.Time
}

// Room is a server-owned race session. Mu serializes every mutation of the
// room; fields below it and all methods except ID, CreatedAt, Closed and
// IdleSince must only be used with Mu held.
type Room struct {
	ID        string
	CreatedAt time.Time

	Mu    sync.Mutex
	State State
	// Race is nil when the server runs without a track.
	Race *race.Session

	participants []*Participant

	ctx         context.Context
	cancel      context.CancelFunc
	phaseCancel context.CancelFunc

	closed       atomic.Bool
	lastActivity atomic.Int64
}

func newRoom(id string, now time.Time, session *race.Session) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		ID:        id,
		CreatedAt: now,
		State:     StateWaiting,
		Race:      session,
		ctx:       ctx,
		cancel:    cancel,
	}
	r.lastActivity.Store(now.UnixNano())
	return r
}

// Add seats a participant at the end of the join order.
func (r *Room) Add(id, name string, isHost bool, now time.Time) *Participant {
	p := &Participant{
		ID:       id,
		Name:     name,
		IsHost:   isHost,
		JoinedAt: now,
	}
	r.participants = append(r.participants, p)
	if r.Race != nil {
		r.Race.Register(id)
	}
	r.Touch(now)
	return p
}

// Remove unseats a participant and returns it, or nil if it was not seated.
func (r *Room) Remove(id string) *Participant {
	for i, p := range r.participants {
		if p.ID == id {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			if r.Race != nil {
				r.Race.Remove(id)
			}
			return p
		}
	}
	return nil
}

// Participant looks up a seated participant.
func (r *Room) Participant(id string) *Participant {
	for _, p := range r.participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Participants returns the seated participants in join order.
func (r *Room) Participants() []*Participant {
	return append([]*Participant(nil), r.participants...)
}

// MemberIDs returns participant ids in join order.
func (r *Room) MemberIDs() []string {
	ids := make([]string, len(r.participants))
	for i, p := range r.participants {
		ids[i] = p.ID
	}
	return ids
}

func (r *Room) Len() int { return len(r.participants) }

// Host returns the current host, if any.
func (r *Room) Host() *Participant {
	for _, p := range r.participants {
		if p.IsHost {
			return p
		}
	}
	return nil
}

// PromoteHost grants host status to the earliest-joined participant when
// nobody holds it. It returns the host after the call.
func (r *Room) PromoteHost() *Participant {
	if h := r.Host(); h != nil {
		return h
	}
	if len(r.participants) == 0 {
		return nil
	}
	r.participants[0].IsHost = true
	return r.participants[0]
}

// StartPhase cancels any running phase (countdown, standings refresh) and
// returns a context for the next one. It is cancelled by the next
// StartPhase, StopPhase or Close.
func (r *Room) StartPhase() context.Context {
	r.StopPhase()
	ctx, cancel := context.WithCancel(r.ctx)
	r.phaseCancel = cancel
	return ctx
}

// StopPhase cancels the running phase, if any.
func (r *Room) StopPhase() {
	if r.phaseCancel != nil {
		r.phaseCancel()
		r.phaseCancel = nil
	}
}

// Close cancels everything scheduled on the room. Safe to call twice.
func (r *Room) Close() {
	r.closed.Store(true)
	r.phaseCancel = nil
	r.cancel()
}

// Closed reports whether the room was destroyed.
func (r *Room) Closed() bool { return r.closed.Load() }

// Touch records activity at now.
func (r *Room) Touch(now time.Time) { r.lastActivity.Store(now.UnixNano()) }

// IdleSince returns the time of the last recorded activity.
func (r *Room) IdleSince() time.Time { return time.Unix(0, r.lastActivity.Load()) }
