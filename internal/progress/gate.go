package progress

import (
	"sync"
	"time"
)

type gateKey struct {
	racer string
	cp    int
}

// Gate debounces repeated trigger entries: a hit by the same racer on the
// same checkpoint within the cooldown of its previous accepted hit is
// dropped before it reaches the racer.
type Gate struct {
	cooldown time.Duration

	mu   sync.Mutex
	last map[gateKey]time.Time
}

// NewGate returns a debouncer. A cooldown <= 0 lets every hit through.
func NewGate(cooldown time.Duration) *Gate {
	return &Gate{
		cooldown: cooldown,
		last:     make(map[gateKey]time.Time),
	}
}

// Allow reports whether the hit at now is outside the cooldown of the last
// recorded hit. It records nothing.
func (g *Gate) Allow(racerID string, cpIndex int, now time.Time) bool {
	if g.cooldown <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	prev, ok := g.last[gateKey{racer: racerID, cp: cpIndex}]
	return !ok || now.Sub(prev) >= g.cooldown
}

// Record starts a cooldown at now. Only hits the racer accepted are
// recorded.
func (g *Gate) Record(racerID string, cpIndex int, now time.Time) {
	if g.cooldown <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last[gateKey{racer: racerID, cp: cpIndex}] = now
}

// Forget drops all history for a racer.
func (g *Gate) Forget(racerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k := range g.last {
		if k.racer == racerID {
			delete(g.last, k)
		}
	}
}

// Reset clears all history.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = make(map[gateKey]time.Time)
}
