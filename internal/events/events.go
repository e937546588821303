// Package events defines the named messages exchanged with game clients and
// the room lifecycle bus consumed by observers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"circuitrunners/internal/standings"
)

// Client -> server event names.
const (
	JoinGame          = "joinGame"
	StartRace         = "startRace"
	RestartRace       = "restartRace"
	LeaveGame         = "leaveGame"
	PositionUpdate    = "positionUpdate"
	CheckpointReached = "checkpointReached"
)

// Server -> client event names. StartRace is shared with the client side.
const (
	Joined          = "joined"
	RoomUpdate      = "roomUpdate"
	Countdown       = "countdown"
	PlayerPositions = "playerPositions"
	RankUpdate      = "rankUpdate"
	PlayerLeft      = "playerLeft"
	ErrorMessage    = "errorMessage"
	Standings       = "standings"
	RaceFinished    = "raceFinished"
	RaceReset       = "raceReset"
)

// Envelope is the wire shape of every message: a name plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps data in an envelope named event.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	out, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", event, err)
	}
	return out, nil
}

// Decode parses an envelope. The payload stays raw until the handler for
// the named event decodes it.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decoding envelope: missing event name")
	}
	return env, nil
}

type JoinGamePayload struct {
	PlayerName string `json:"playerName"`
	RoomID     string `json:"roomId"`
}

type PositionPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// CheckpointPayload uses a pointer so a missing index is told apart from 0.
type CheckpointPayload struct {
	CheckpointIndex *int `json:"checkpointIndex"`
}

type JoinedPayload struct {
	RoomID string `json:"roomId"`
	IsHost bool   `json:"isHost"`
}

type Member struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsHost     bool   `json:"isHost"`
	Checkpoint int    `json:"checkpoint"`
}

type CountdownPayload struct {
	Time int `json:"time"`
}

type StartRacePayload struct {
	RoomID string `json:"roomId"`
}

type PlayerPosition struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
}

type Rank struct {
	ID   string `json:"id"`
	Rank int    `json:"rank"`
}

type PlayerLeftPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type RaceFinishedPayload struct {
	RoomID     string            `json:"roomId"`
	WinnerID   string            `json:"winnerId"`
	WinnerName string            `json:"winnerName"`
	Standings  []standings.Entry `json:"standings"`
}

type RaceResetPayload struct {
	RoomID string `json:"roomId"`
}

// Lifecycle kinds published on the Bus.
const (
	RoomCreated   = "roomCreated"
	RoomDestroyed = "roomDestroyed"
	RoomState     = "roomState"
)

// LifecycleEvent describes a change to a room as a whole.
type LifecycleEvent struct {
	Kind    string    `json:"kind"`
	RoomID  string    `json:"roomId"`
	State   string    `json:"state,omitempty"`
	Players int       `json:"players"`
	At      time.Time `json:"at"`
}

// Bus carries lifecycle events from the orchestrator to observers.
type Bus struct {
	Lifecycle chan LifecycleEvent
}

func NewBus() *Bus {
	return &Bus{
		Lifecycle: make(chan LifecycleEvent, 64),
	}
}

// Publish queues ev without blocking. It reports false when the buffer is
// full and the event was dropped.
func (b *Bus) Publish(ev LifecycleEvent) bool {
	if b == nil {
		return false
	}
	select {
	case b.Lifecycle <- ev:
		return true
	default:
		return false
	}
}
