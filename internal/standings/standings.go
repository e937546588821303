// Package standings ranks racers by progress score.
package standings

import (
	"sort"

	"circuitrunners/internal/progress"
)

// Entry is one row of the standings table.
type Entry struct {
	Rank       int     `json:"rank"`
	RacerID    string  `json:"id"`
	Laps       int     `json:"laps"`
	Checkpoint int     `json:"checkpoint"`
	Score      float64 `json:"score"`
}

// Compute orders snaps by descending score. Ties keep their input order, so
// callers pass racers in registration order to let the first registered
// racer win a tie. The input is not modified.
func Compute(snaps []progress.Snapshot) []Entry {
	ordered := make([]progress.Snapshot, len(snaps))
	copy(ordered, snaps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	entries := make([]Entry, len(ordered))
	for i, s := range ordered {
		entries[i] = Entry{
			Rank:       i + 1,
			RacerID:    s.RacerID,
			Laps:       s.Laps,
			Checkpoint: s.LastCheckpoint,
			Score:      s.Score,
		}
	}
	return entries
}
