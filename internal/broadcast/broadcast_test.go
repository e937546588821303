package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"circuitrunners/internal/events"
)

func TestBroadcaster_SubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster(events.NewBus(), nil)

	ch := b.Subscribe()
	if ch == nil {
		t.Fatal("Subscribe() returned nil")
	}

	b.Mu.Lock()
	if len(b.Clients) != 1 {
		t.Errorf("clients count = %d, want 1", len(b.Clients))
	}
	b.Mu.Unlock()

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	b.Mu.Lock()
	if len(b.Clients) != 0 {
		t.Errorf("clients count after unsubscribe = %d, want 0", len(b.Clients))
	}
	b.Mu.Unlock()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestBroadcaster_Broadcast(t *testing.T) {
	b := NewBroadcaster(events.NewBus(), nil)

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	b.Broadcast("test-event", []byte(`"hello"`))

	for i, ch := range []chan Message{ch1, ch2} {
		select {
		case msg := <-ch:
			if msg.Event != "test-event" || string(msg.Data) != `"hello"` {
				t.Errorf("ch%d got %+v", i+1, msg)
			}
		case <-time.After(1 * time.Second):
			t.Fatalf("ch%d timed out", i+1)
		}
	}
}

func TestBroadcaster_FullChannelSkipped(t *testing.T) {
	b := NewBroadcaster(events.NewBus(), nil)
	ch := b.Subscribe()

	for i := 0; i < 20; i++ {
		b.Broadcast("e", nil)
	}
	if len(ch) != cap(ch) {
		t.Errorf("len = %d, want full buffer %d", len(ch), cap(ch))
	}
}

func TestBroadcaster_RunForwardsBus(t *testing.T) {
	bus := events.NewBus()
	b := NewBroadcaster(bus, nil)
	ch := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	bus.Publish(events.LifecycleEvent{Kind: events.RoomCreated, RoomID: "ABCDEF", Players: 1})

	select {
	case msg := <-ch:
		if msg.Event != events.RoomCreated {
			t.Errorf("event = %q, want %q", msg.Event, events.RoomCreated)
		}
		var ev events.LifecycleEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.RoomID != "ABCDEF" || ev.Players != 1 {
			t.Errorf("decoded %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lifecycle event")
	}
}
