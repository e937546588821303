package rooms

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"circuitrunners/internal/race"
)

// ErrCodeSpaceExhausted is returned when no unused room code could be found.
var ErrCodeSpaceExhausted = errors.New("rooms: failed to generate unique room code")

const codeAttempts = 10

// Store is the registry of live rooms and of which room each participant
// is seated in. Lock order is Room.Mu before Store.mu.
type Store struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	members map[string]string

	codeLength int
	newSession func() *race.Session
	now        func() time.Time
}

type Option func(*Store)

// WithCodeLength sets the length of generated room codes.
func WithCodeLength(n int) Option {
	return func(s *Store) { s.codeLength = n }
}

// WithSessionFactory attaches a race session to every new room.
func WithSessionFactory(fn func() *race.Session) Option {
	return func(s *Store) { s.newSession = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		rooms:      make(map[string]*Room),
		members:    make(map[string]string),
		codeLength: DefaultCodeLength,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) createLocked() (*Room, error) {
	for range codeAttempts {
		code, err := GenerateCode(s.codeLength)
		if err != nil {
			return nil, fmt.Errorf("generating room code: %w", err)
		}
		if _, exists := s.rooms[code]; exists {
			continue
		}
		var session *race.Session
		if s.newSession != nil {
			session = s.newSession()
		}
		room := newRoom(code, s.now(), session)
		s.rooms[code] = room
		return room, nil
	}
	return nil, ErrCodeSpaceExhausted
}

// GetOrCreate returns the live room with the given id, or a freshly created
// room when id is empty or unknown. created reports which happened.
func (s *Store) GetOrCreate(id string) (room *Room, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[id]; ok && id != "" && !r.Closed() {
		return r, false, nil
	}
	room, err = s.createLocked()
	if err != nil {
		return nil, false, err
	}
	return room, true, nil
}

// Get returns the live room with the given id, or nil.
func (s *Store) Get(id string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[id]
	if r == nil || r.Closed() {
		return nil
	}
	return r
}

// Delete removes room from the registry if it is still the registered room
// for its id.
func (s *Store) Delete(room *Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[room.ID] != room {
		return false
	}
	delete(s.rooms, room.ID)
	for pid, rid := range s.members {
		if rid == room.ID {
			delete(s.members, pid)
		}
	}
	return true
}

// Bind records that participant is seated in roomID.
func (s *Store) Bind(participantID, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[participantID] = roomID
}

// Unbind forgets the participant's room.
func (s *Store) Unbind(participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, participantID)
}

// RoomOf returns the live room the participant is seated in, or nil.
func (s *Store) RoomOf(participantID string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.members[participantID]
	if !ok {
		return nil
	}
	r := s.rooms[id]
	if r == nil || r.Closed() {
		return nil
	}
	return r
}

// List returns all live rooms.
func (s *Store) List() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if !r.Closed() {
			list = append(list, r)
		}
	}
	return list
}

// Len returns the number of registered rooms.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Members returns the number of seated participants across all rooms.
func (s *Store) Members() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Stale returns rooms with no activity since ttl before now.
func (s *Store) Stale(ttl time.Duration) []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ttl)
	var stale []*Room
	for _, r := range s.rooms {
		if r.IdleSince().Before(cutoff) {
			stale = append(stale, r)
		}
	}
	return stale
}
