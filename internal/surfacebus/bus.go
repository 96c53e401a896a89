// Package surfacebus mirrors optimistic local state between open display
// surfaces. The bus is deliberately non-durable: it carries live hints
// only, durable truth lives with the remote authority, and a publish with
// no listener is lost by design.
package surfacebus

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Topics. Ordering is preserved within one topic, not across topics.
const (
	// TopicState carries state patches so one surface's local edit shows
	// on the others before the remote round-trip completes.
	TopicState = "surface.state"
	// TopicTimer carries optimistic timer start/stop/resume so every
	// surface reflects them immediately.
	TopicTimer = "surface.timer"
)

// Message is one bus delivery. Origin identifies the publishing surface;
// it never receives its own message back.
type Message struct {
	Origin string          `json:"origin"`
	Topic  string          `json:"topic"`
	Data   json.RawMessage `json:"data"`
}

// Handler consumes deliveries for one subscription.
type Handler func(msg Message)

// Bus is the broadcaster contract shared by the in-process hub and the
// NATS-backed implementation.
type Bus interface {
	Publish(topic string, data []byte) error
	Subscribe(topic string, h Handler) (unsubscribe func(), err error)
	Close() error
}

// Hub is the in-process broadcaster. Surfaces attach with Surface and get
// a Bus handle bound to their identity.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]*hubSub
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string][]*hubSub)}
}

// Surface binds a Bus handle to a surface identity. An empty id gets a
// generated one.
func (h *Hub) Surface(id string) Bus {
	if id == "" {
		id = uuid.NewString()
	}
	return &surface{id: id, hub: h}
}

type surface struct {
	id  string
	hub *Hub
}

type hubSub struct {
	owner string
	topic string
	ch    chan Message
	once  sync.Once
	done  chan struct{}
}

func (s *surface) Publish(topic string, data []byte) error {
	msg := Message{Origin: s.id, Topic: topic, Data: data}

	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	for _, sub := range s.hub.subs[topic] {
		if sub.owner == s.id {
			continue // never deliver back to the publisher
		}
		select {
		case sub.ch <- msg:
		default:
			log.Warn().
				Str("topic", topic).
				Str("surface", sub.owner).
				Msg("surface buffer full, dropping bus message")
		}
	}
	return nil
}

func (s *surface) Subscribe(topic string, handler Handler) (func(), error) {
	sub := &hubSub{
		owner: s.id,
		topic: topic,
		ch:    make(chan Message, 64),
		done:  make(chan struct{}),
	}

	s.hub.mu.Lock()
	s.hub.subs[topic] = append(s.hub.subs[topic], sub)
	s.hub.mu.Unlock()

	// One goroutine per subscription keeps per-topic delivery ordered.
	go func() {
		for {
			select {
			case msg := <-sub.ch:
				handler(msg)
			case <-sub.done:
				return
			}
		}
	}()

	return func() { s.hub.remove(sub) }, nil
}

func (s *surface) Close() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	for topic, subs := range s.hub.subs {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.owner == s.id {
				sub.stop()
				continue
			}
			kept = append(kept, sub)
		}
		s.hub.subs[topic] = kept
	}
	return nil
}

func (h *Hub) remove(target *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[target.topic]
	for i, sub := range subs {
		if sub == target {
			h.subs[target.topic] = append(subs[:i], subs[i+1:]...)
			sub.stop()
			return
		}
	}
}

func (s *hubSub) stop() {
	s.once.Do(func() { close(s.done) })
}
