package surfacebus

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// collector gathers deliveries for one subscription.
type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) handler(msg Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *collector) wait(t *testing.T, n int) []Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		got := len(c.msgs)
		c.mu.Unlock()
		if got >= n {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d messages, have %d", n, got)
		}
		time.Sleep(time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestPublisherNeverReceivesOwnMessage(t *testing.T) {
	hub := NewHub()
	operator := hub.Surface("operator")
	wall := hub.Surface("wall-display")

	var opSeen, wallSeen collector
	if _, err := operator.Subscribe(TopicTimer, opSeen.handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := wall.Subscribe(TopicTimer, wallSeen.handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := operator.Publish(TopicTimer, []byte(`{"op":"start"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := wallSeen.wait(t, 1)
	if got[0].Origin != "operator" || got[0].Topic != TopicTimer {
		t.Fatalf("unexpected delivery: %+v", got[0])
	}

	time.Sleep(20 * time.Millisecond)
	if opSeen.count() != 0 {
		t.Fatalf("publisher received its own message")
	}
}

func TestOrderingPreservedWithinTopic(t *testing.T) {
	hub := NewHub()
	operator := hub.Surface("operator")
	wall := hub.Surface("wall-display")

	var seen collector
	if _, err := wall.Subscribe(TopicState, seen.handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		if err := operator.Publish(TopicState, []byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	got := seen.wait(t, n)
	for i, msg := range got {
		if string(msg.Data) != fmt.Sprintf("%d", i) {
			t.Fatalf("message %d out of order: %s", i, msg.Data)
		}
	}
}

func TestPublishWithNoListenerIsLost(t *testing.T) {
	hub := NewHub()
	operator := hub.Surface("operator")

	// Nobody subscribed: the publish must succeed and vanish.
	if err := operator.Publish(TopicState, []byte("ephemeral")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var late collector
	wall := hub.Surface("wall-display")
	if _, err := wall.Subscribe(TopicState, late.handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if late.count() != 0 {
		t.Fatalf("late subscriber must not see earlier messages")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	operator := hub.Surface("operator")
	wall := hub.Surface("wall-display")

	var seen collector
	unsub, err := wall.Subscribe(TopicTimer, seen.handler)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	operator.Publish(TopicTimer, []byte("one"))
	seen.wait(t, 1)

	unsub()
	operator.Publish(TopicTimer, []byte("two"))
	time.Sleep(20 * time.Millisecond)
	if seen.count() != 1 {
		t.Fatalf("delivery after unsubscribe")
	}
}

func TestTopicsIndependent(t *testing.T) {
	hub := NewHub()
	operator := hub.Surface("operator")
	wall := hub.Surface("wall-display")

	var timer, state collector
	wall.Subscribe(TopicTimer, timer.handler)
	wall.Subscribe(TopicState, state.handler)

	operator.Publish(TopicTimer, []byte("tick"))
	timer.wait(t, 1)

	time.Sleep(20 * time.Millisecond)
	if state.count() != 0 {
		t.Fatalf("timer publish leaked to the state topic")
	}
}
