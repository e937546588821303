package race

import "circuitrunners/internal/standings"

// Observer watches racer progress for the end of a race.
type Observer struct {
	TargetLaps int
}

// Winner returns the leading racer that has completed TargetLaps, if any.
// A non-positive target never finishes.
func (o Observer) Winner(entries []standings.Entry) (standings.Entry, bool) {
	if o.TargetLaps <= 0 {
		return standings.Entry{}, false
	}
	for _, e := range entries {
		if e.Laps >= o.TargetLaps {
			return e, true
		}
	}
	return standings.Entry{}, false
}
