// Package orchestrator owns room membership and the race state machine of
// every room, and decides which participants receive each outbound message.
package orchestrator

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"circuitrunners/internal/events"
	"circuitrunners/internal/race"
	"circuitrunners/internal/rooms"
	"circuitrunners/pkg/logger"
	"circuitrunners/pkg/metrics"
)

// ErrNotHost is returned when a non-host asks for a host-only action.
var ErrNotHost = errors.New("orchestrator: only the host can do that")

const (
	msgNotHostStart   = "Only the host can start the race."
	msgNotHostRestart = "Only the host can restart the race."
	msgJoinFailed     = "Could not join a room. Please try again."
	msgRoomExpired    = "Room closed due to inactivity."
)

// maxNameRunes caps display names; longer names are truncated.
const maxNameRunes = 32

// Notifier delivers named events to connections by id.
type Notifier interface {
	Send(id, event string, data any)
	Broadcast(ids []string, event string, data any)
	BroadcastExcept(ids []string, senderID, event string, data any)
}

// Placing is one racer's final position in a finished race.
type Placing struct {
	ParticipantID string
	Name          string
	Rank          int
	Laps          int
	Score         float64
}

// RaceResult describes a finished race.
type RaceResult struct {
	RoomID     string
	WinnerID   string
	WinnerName string
	FinishedAt time.Time
	Placings   []Placing
}

// ResultRecorder receives finished races. RecordRace must not block.
type ResultRecorder interface {
	RecordRace(RaceResult)
}

// RoomSummary is the public view of a room.
type RoomSummary struct {
	ID          string    `json:"id"`
	PlayerCount int       `json:"playerCount"`
	GameState   string    `json:"gameState"`
	CreatedAt   time.Time `json:"createdAt"`
}

// JoinResult tells a joining connection where it was seated.
type JoinResult struct {
	RoomID string
	IsHost bool
}

// Orchestrator applies client intents to rooms.
type Orchestrator struct {
	store    *rooms.Store
	notify   Notifier
	bus      *events.Bus
	recorder ResultRecorder
	logger   *zap.Logger
	metrics  *metrics.Manager
	now      func() time.Time

	countdownFrom     int
	countdownInterval time.Duration
	hostMigration     bool
	standingsHz       int
	observer          race.Observer
}

type Option func(*Orchestrator)

// WithCountdown sets the first countdown value and the tick interval.
func WithCountdown(from int, interval time.Duration) Option {
	return func(o *Orchestrator) {
		o.countdownFrom = from
		o.countdownInterval = interval
	}
}

// WithTargetLaps sets the lap count that wins a race.
func WithTargetLaps(n int) Option {
	return func(o *Orchestrator) { o.observer = race.Observer{TargetLaps: n} }
}

// WithHostMigration makes the earliest remaining participant host when the
// host leaves.
func WithHostMigration(enabled bool) Option {
	return func(o *Orchestrator) { o.hostMigration = enabled }
}

// WithStandingsRefresh sets how often standings are pushed while racing.
// Zero disables the push.
func WithStandingsRefresh(hz int) Option {
	return func(o *Orchestrator) { o.standingsHz = hz }
}

func WithBus(b *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

func WithRecorder(r ResultRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Manager) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New returns an Orchestrator that seats participants in store and talks to
// them through notify.
func New(store *rooms.Store, notify Notifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:             store,
		notify:            notify,
		logger:            zap.NewNop(),
		now:               time.Now,
		countdownFrom:     3,
		countdownInterval: time.Second,
		hostMigration:     true,
		standingsHz:       5,
		observer:          race.Observer{TargetLaps: 3},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Join seats participantID in roomID, creating a room when roomID is empty
// or unknown. The first participant of a room is its host. A participant
// already seated elsewhere leaves that room first.
func (o *Orchestrator) Join(participantID, roomID, name string) (JoinResult, error) {
	name = strings.TrimSpace(name)
	if r := []rune(name); len(r) > maxNameRunes {
		name = strings.TrimSpace(string(r[:maxNameRunes]))
	}
	if name == "" {
		name = fmt.Sprintf("Player_%d", rand.IntN(1000))
	}
	roomID = strings.ToUpper(strings.TrimSpace(roomID))

	if cur := o.store.RoomOf(participantID); cur != nil {
		if res, ok := o.rejoin(cur, participantID, roomID); ok {
			return res, nil
		}
		o.Leave(participantID)
	}

	// A room can be destroyed between lookup and lock; retry on a fresh one.
	for range 3 {
		room, created, err := o.store.GetOrCreate(roomID)
		if err != nil {
			o.logger.Error("create room", zap.Error(err))
			o.notify.Send(participantID, events.ErrorMessage, events.ErrorPayload{Message: msgJoinFailed})
			return JoinResult{}, err
		}

		room.Mu.Lock()
		if room.Closed() {
			room.Mu.Unlock()
			continue
		}
		p := room.Add(participantID, name, room.Len() == 0, o.now())
		o.store.Bind(participantID, room.ID)

		o.notify.Send(participantID, events.Joined, events.JoinedPayload{RoomID: room.ID, IsHost: p.IsHost})
		o.notify.Broadcast(room.MemberIDs(), events.RoomUpdate, members(room))

		kind := events.RoomState
		if created {
			kind = events.RoomCreated
		}
		o.publish(room, kind)
		room.Mu.Unlock()

		o.metrics.RecordJoin()
		o.updateGauges()
		o.logger.Info("participant joined",
			zap.String("room", room.ID),
			zap.String("participant", participantID),
			zap.String("name", name),
			zap.Bool("host", p.IsHost),
			zap.Bool("created", created))
		return JoinResult{RoomID: room.ID, IsHost: p.IsHost}, nil
	}
	o.notify.Send(participantID, events.ErrorMessage, events.ErrorPayload{Message: msgJoinFailed})
	return JoinResult{}, fmt.Errorf("joining room %q: room closed during join", roomID)
}

// rejoin re-sends the seat of a participant asking for the room it is
// already in.
func (o *Orchestrator) rejoin(room *rooms.Room, participantID, roomID string) (JoinResult, bool) {
	if room.ID != roomID {
		return JoinResult{}, false
	}
	room.Mu.Lock()
	defer room.Mu.Unlock()
	p := room.Participant(participantID)
	if p == nil || room.Closed() {
		return JoinResult{}, false
	}
	o.notify.Send(participantID, events.Joined, events.JoinedPayload{RoomID: room.ID, IsHost: p.IsHost})
	o.notify.Send(participantID, events.RoomUpdate, members(room))
	return JoinResult{RoomID: room.ID, IsHost: p.IsHost}, true
}

// Leave unseats participantID. The room is destroyed when it empties.
// Unknown participants are ignored, so Leave is idempotent.
func (o *Orchestrator) Leave(participantID string) {
	room := o.store.RoomOf(participantID)
	if room == nil {
		o.store.Unbind(participantID)
		return
	}

	room.Mu.Lock()
	p := room.Remove(participantID)
	o.store.Unbind(participantID)
	if p == nil {
		room.Mu.Unlock()
		return
	}

	if room.Len() == 0 {
		room.Close()
		o.store.Delete(room)
		o.publish(room, events.RoomDestroyed)
		room.Mu.Unlock()

		o.updateGauges()
		o.logger.Info("room destroyed", zap.String("room", room.ID), zap.String("reason", "empty"))
		return
	}

	if p.IsHost && o.hostMigration {
		if h := room.PromoteHost(); h != nil {
			o.logger.Info("host migrated", zap.String("room", room.ID), zap.String("host", h.ID))
		}
	}
	ids := room.MemberIDs()
	o.notify.Broadcast(ids, events.PlayerLeft, events.PlayerLeftPayload{ID: p.ID, Name: p.Name})
	o.notify.Broadcast(ids, events.RoomUpdate, members(room))
	o.publish(room, events.RoomState)
	room.Mu.Unlock()

	o.updateGauges()
	o.logger.Info("participant left", zap.String("room", room.ID), zap.String("participant", participantID))
}

// Disconnect is Leave for a dropped connection.
func (o *Orchestrator) Disconnect(participantID string) {
	o.Leave(participantID)
}

// Lookup returns the summary of a live room.
func (o *Orchestrator) Lookup(roomID string) (RoomSummary, bool) {
	room := o.store.Get(strings.ToUpper(roomID))
	if room == nil {
		return RoomSummary{}, false
	}
	return summarize(room), true
}

// Rooms lists live rooms, oldest first.
func (o *Orchestrator) Rooms() []RoomSummary {
	list := o.store.List()
	out := make([]RoomSummary, 0, len(list))
	for _, r := range list {
		out = append(out, summarize(r))
	}
	sortSummaries(out)
	return out
}

func summarize(room *rooms.Room) RoomSummary {
	room.Mu.Lock()
	defer room.Mu.Unlock()
	return RoomSummary{
		ID:          room.ID,
		PlayerCount: room.Len(),
		GameState:   string(room.State),
		CreatedAt:   room.CreatedAt,
	}
}

// publish must be called with room.Mu held.
func (o *Orchestrator) publish(room *rooms.Room, kind string) {
	if o.bus == nil {
		return
	}
	ev := events.LifecycleEvent{
		Kind:    kind,
		RoomID:  room.ID,
		State:   string(room.State),
		Players: room.Len(),
		At:      o.now(),
	}
	if !o.bus.Publish(ev) {
		o.logger.Debug("lifecycle event dropped", zap.String("kind", kind), zap.String("room", room.ID))
	}
}

func (o *Orchestrator) updateGauges() {
	o.metrics.SetRoomsActive(o.store.Len())
	o.metrics.SetParticipantsActive(o.store.Members())
}
