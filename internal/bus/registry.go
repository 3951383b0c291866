package bus

import (
	"strings"
	"sync"
)

// WildcardMarker ends a pattern that matches every topic sharing its prefix.
const WildcardMarker = "#"

// Handler is invoked for each incoming message whose topic matches the
// pattern it was registered for.
type Handler func(topic string, payload []byte)

// MatchTopic reports whether pattern matches topic: the two are equal, or
// pattern ends with WildcardMarker and topic starts with the rest of it.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	prefix, ok := strings.CutSuffix(pattern, WildcardMarker)
	return ok && strings.HasPrefix(topic, prefix)
}

type entry struct {
	topic      string
	handler    Handler
	subscribed bool
}

// Subscription describes one registry entry.
type Subscription struct {
	Topic      string
	Subscribed bool
}

// registry holds handlers in registration order. Registering a topic again
// replaces the handler in place.
type registry struct {
	mu      sync.Mutex
	entries []*entry
	index   map[string]*entry
}

func newRegistry() *registry {
	return &registry{index: make(map[string]*entry)}
}

// put stores handler for topic and returns the entry.
// Caller must hold r.mu.
func (r *registry) put(topic string, handler Handler) *entry {
	if e, ok := r.index[topic]; ok {
		e.handler = handler
		e.subscribed = false
		return e
	}
	e := &entry{topic: topic, handler: handler}
	r.entries = append(r.entries, e)
	r.index[topic] = e
	return e
}

// resubscribe calls subscribe for every entry in order and records the
// outcome. Caller must hold r.mu.
func (r *registry) resubscribe(subscribe func(topic string) bool) {
	for _, e := range r.entries {
		e.subscribed = subscribe(e.topic)
	}
}

// clearSubscribed marks every entry unsubscribed. Caller must hold r.mu.
func (r *registry) clearSubscribed() {
	for _, e := range r.entries {
		e.subscribed = false
	}
}

// matching returns the handlers whose pattern matches topic, in registry
// order. Caller must hold r.mu.
func (r *registry) matching(topic string) []Handler {
	var out []Handler
	for _, e := range r.entries {
		if MatchTopic(e.topic, topic) {
			out = append(out, e.handler)
		}
	}
	return out
}

func (r *registry) snapshot() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Subscription, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Subscription{Topic: e.topic, Subscribed: e.subscribed})
	}
	return out
}
