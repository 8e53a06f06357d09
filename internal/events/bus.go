package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event is what subscribers receive. Payload is one of the typed structs
// defined alongside the topics in this package.
type Event struct {
	Topic   Topic       `json:"topic"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload"`
}

// Handler processes one delivered event. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus is a typed in-process publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic][]subscription
	bridge *RabbitBridge
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]subscription)}
}

// AttachBridge mirrors every published event to RabbitMQ. A nil bridge or a
// disabled one is a no-op.
func (b *Bus) AttachBridge(bridge *RabbitBridge) {
	b.mu.Lock()
	b.bridge = bridge
	b.mu.Unlock()
}

// Subscribe registers a handler for a topic and returns an unsubscribe func.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	if !IsValidTopic(topic) {
		log.Warn().Str("topic", string(topic)).Msg("Subscription to unknown bus topic")
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.id == id {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers the payload to every subscriber of the topic, then mirrors
// it to the RabbitMQ bridge when one is attached.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	ev := Event{Topic: topic, At: time.Now(), Payload: payload}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, s := range b.subs[topic] {
		handlers = append(handlers, s.handler)
	}
	bridge := b.bridge
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}

	if bridge != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("topic", string(topic)).Msg("Failed to marshal event for RabbitMQ")
			return
		}
		bridge.Publish(topic, data)
	}
}
