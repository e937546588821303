package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"circuitrunners/internal/events"
)

// Message is one server-sent event: Event names the SSE event, Data is its
// JSON body.
type Message struct {
	Event string
	Data  []byte
}

// Broadcaster fans lifecycle events out to SSE subscribers.
type Broadcaster struct {
	Mu      sync.Mutex
	Clients map[chan Message]bool

	bus    *events.Bus
	logger *zap.Logger
}

func NewBroadcaster(bus *events.Bus, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		Clients: make(map[chan Message]bool),
		bus:     bus,
		logger:  logger,
	}
}

// Run forwards bus events to subscribers until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.bus.Lifecycle:
			data, err := json.Marshal(ev)
			if err != nil {
				b.logger.Warn("encode lifecycle event", zap.String("kind", ev.Kind), zap.Error(err))
				continue
			}
			b.Broadcast(ev.Kind, data)
		}
	}
}

func (b *Broadcaster) Subscribe() chan Message {
	ch := make(chan Message, 10)
	b.Mu.Lock()
	b.Clients[ch] = true
	b.Mu.Unlock()
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan Message) {
	b.Mu.Lock()
	if b.Clients[ch] {
		delete(b.Clients, ch)
		close(ch)
	}
	b.Mu.Unlock()
}

func (b *Broadcaster) Broadcast(event string, data []byte) {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	for ch := range b.Clients {
		select {
		case ch <- Message{Event: event, Data: data}:
		default:
			// skip clients with full data channels
		}
	}
}
