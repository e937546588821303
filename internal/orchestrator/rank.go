package orchestrator

import (
	"sort"

	"circuitrunners/internal/events"
	"circuitrunners/internal/rooms"
)

// members must be called with room.Mu held.
func members(room *rooms.Room) []events.Member {
	ps := room.Participants()
	out := make([]events.Member, len(ps))
	for i, p := range ps {
		out[i] = events.Member{
			ID:         p.ID,
			Name:       p.Name,
			IsHost:     p.IsHost,
			Checkpoint: p.Checkpoint,
		}
	}
	return out
}

// ranking orders participants by last reported checkpoint, highest first.
// Ties keep join order. It must be called with room.Mu held.
func ranking(room *rooms.Room) []events.Rank {
	ps := room.Participants()
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].Checkpoint > ps[j].Checkpoint
	})
	out := make([]events.Rank, len(ps))
	for i, p := range ps {
		out[i] = events.Rank{ID: p.ID, Rank: i + 1}
	}
	return out
}

func sortSummaries(list []RoomSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
