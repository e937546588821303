package standings

import (
	"context"
	"time"
)

// Refresher recomputes standings on a fixed cadence.
type Refresher struct {
	interval time.Duration
	source   func() []Entry
	sink     func([]Entry)
}

// NewRefresher returns a refresher running source every 1/hz seconds and
// handing each result to sink. hz <= 0 is treated as 1.
func NewRefresher(hz int, source func() []Entry, sink func([]Entry)) *Refresher {
	if hz <= 0 {
		hz = 1
	}
	return &Refresher{
		interval: time.Second / time.Duration(hz),
		source:   source,
		sink:     sink,
	}
}

// Run blocks until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries := r.source()
			if ctx.Err() != nil {
				return
			}
			r.sink(entries)
		}
	}
}
