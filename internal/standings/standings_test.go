package standings_test

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"circuitrunners/internal/progress"
	"circuitrunners/internal/standings"
)

func snap(id string, laps, cp int, score float64) progress.Snapshot {
	return progress.Snapshot{RacerID: id, Laps: laps, LastCheckpoint: cp, Score: score}
}

func ids(entries []standings.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.RacerID
	}
	return out
}

func TestCompute(t *testing.T) {
	Convey("Given racer snapshots in registration order", t, func() {
		in := []progress.Snapshot{
			snap("a", 0, 1, 150),
			snap("b", 1, 0, 10000),
			snap("c", 0, 1, 150),
			snap("d", 0, -1, 0),
			snap("e", 0, 2, 240),
		}
		before := append([]progress.Snapshot(nil), in...)

		out := standings.Compute(in)

		Convey("Then they are ordered by descending score", func() {
			So(ids(out), ShouldResemble, []string{"b", "e", "a", "c", "d"})
		})

		Convey("Then ties keep registration order", func() {
			So(out[2].RacerID, ShouldEqual, "a")
			So(out[3].RacerID, ShouldEqual, "c")
		})

		Convey("Then ranks are 1-based and contiguous", func() {
			for i, e := range out {
				So(e.Rank, ShouldEqual, i+1)
			}
		})

		Convey("Then the result is a permutation and the input is untouched", func() {
			So(len(out), ShouldEqual, len(in))
			seen := map[string]bool{}
			for _, e := range out {
				seen[e.RacerID] = true
			}
			So(len(seen), ShouldEqual, len(in))
			So(in, ShouldResemble, before)
		})

		Convey("Then entries carry laps and checkpoint", func() {
			So(out[0].Laps, ShouldEqual, 1)
			So(out[4].Checkpoint, ShouldEqual, -1)
		})
	})

	Convey("Given no racers", t, func() {
		So(standings.Compute(nil), ShouldBeEmpty)
	})
}

func TestRefresher(t *testing.T) {
	Convey("Given a refresher at 100Hz", t, func() {
		var mu sync.Mutex
		calls := 0
		r := standings.NewRefresher(100,
			func() []standings.Entry { return []standings.Entry{{Rank: 1, RacerID: "a"}} },
			func(e []standings.Entry) {
				mu.Lock()
				calls++
				mu.Unlock()
			})

		Convey("When it runs until cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				r.Run(ctx)
				close(done)
			}()
			time.Sleep(80 * time.Millisecond)
			cancel()

			Convey("Then it delivered results and stopped", func() {
				select {
				case <-done:
				case <-time.After(time.Second):
					t.Fatal("refresher did not stop")
				}
				mu.Lock()
				defer mu.Unlock()
				So(calls, ShouldBeGreaterThan, 0)
			})
		})
	})
}
