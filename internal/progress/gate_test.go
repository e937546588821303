package progress

import (
	"testing"
	"time"
)

// hit mirrors how a session uses the gate: check, then record.
func hit(g *Gate, racer string, cp int, at time.Time) bool {
	if !g.Allow(racer, cp, at) {
		return false
	}
	g.Record(racer, cp, at)
	return true
}

func TestGate_DropsWithinCooldown(t *testing.T) {
	g := NewGate(500 * time.Millisecond)
	t0 := time.Unix(1000, 0)

	if !hit(g, "car", 1, t0) {
		t.Fatal("first hit should pass")
	}
	if hit(g, "car", 1, t0.Add(100*time.Millisecond)) {
		t.Error("re-entry inside cooldown should be dropped")
	}
	if !hit(g, "car", 1, t0.Add(500*time.Millisecond)) {
		t.Error("hit after cooldown should pass")
	}
}

func TestGate_DroppedHitDoesNotExtendWindow(t *testing.T) {
	g := NewGate(time.Second)
	t0 := time.Unix(1000, 0)

	hit(g, "car", 0, t0)
	hit(g, "car", 0, t0.Add(900*time.Millisecond))
	if !hit(g, "car", 0, t0.Add(1000*time.Millisecond)) {
		t.Error("window should be measured from the last recorded hit")
	}
}

func TestGate_AllowDoesNotRecord(t *testing.T) {
	g := NewGate(time.Second)
	t0 := time.Unix(1000, 0)

	if !g.Allow("car", 3, t0) {
		t.Fatal("first check should pass")
	}
	if !g.Allow("car", 3, t0.Add(100*time.Millisecond)) {
		t.Error("an unrecorded hit should not start a cooldown")
	}
}

func TestGate_IndependentKeys(t *testing.T) {
	g := NewGate(time.Second)
	t0 := time.Unix(1000, 0)

	hit(g, "car", 0, t0)
	if !hit(g, "other", 0, t0) {
		t.Error("a different racer should not be debounced")
	}
	if !hit(g, "car", 1, t0) {
		t.Error("a different checkpoint should not be debounced")
	}
}

func TestGate_ZeroCooldown(t *testing.T) {
	g := NewGate(0)
	t0 := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		if !hit(g, "car", 0, t0) {
			t.Fatal("zero cooldown should never drop")
		}
	}
}

func TestGate_ForgetAndReset(t *testing.T) {
	g := NewGate(time.Minute)
	t0 := time.Unix(1000, 0)

	hit(g, "car", 0, t0)
	hit(g, "other", 0, t0)

	g.Forget("car")
	if !g.Allow("car", 0, t0) {
		t.Error("Forget should clear the racer's history")
	}
	if g.Allow("other", 0, t0) {
		t.Error("Forget should not touch other racers")
	}

	g.Reset()
	if !g.Allow("other", 0, t0) {
		t.Error("Reset should clear all history")
	}
}
