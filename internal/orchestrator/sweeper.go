package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"circuitrunners/internal/events"
	"circuitrunners/internal/rooms"
)

// RunSweeper destroys rooms idle for longer than ttl until ctx is done.
// A non-positive ttl disables sweeping.
func (o *Orchestrator) RunSweeper(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Sweep(ttl)
		}
	}
}

// Sweep destroys every room idle for longer than ttl and returns how many
// were removed.
func (o *Orchestrator) Sweep(ttl time.Duration) int {
	n := 0
	cutoff := o.now().Add(-ttl)
	for _, room := range o.store.Stale(ttl) {
		if o.expire(room, cutoff) {
			n++
		}
	}
	if n > 0 {
		o.updateGauges()
	}
	return n
}

// expire destroys room unless it has seen activity since cutoff. The check
// repeats under room.Mu because the room may be touched after Stale listed it.
func (o *Orchestrator) expire(room *rooms.Room, cutoff time.Time) bool {
	room.Mu.Lock()
	defer room.Mu.Unlock()
	if room.Closed() || !room.IdleSince().Before(cutoff) {
		return false
	}
	ids := room.MemberIDs()
	o.notify.Broadcast(ids, events.ErrorMessage, events.ErrorPayload{Message: msgRoomExpired})
	for _, id := range ids {
		room.Remove(id)
		o.store.Unbind(id)
	}
	room.Close()
	o.store.Delete(room)
	o.publish(room, events.RoomDestroyed)
	o.logger.Info("room destroyed",
		zap.String("room", room.ID),
		zap.String("reason", "idle"),
		zap.Time("idleSince", room.IdleSince()))
	return true
}
