package runtime

import (
	"school-pickup/contract"
	"sort"
	"sync"
)

// Registry keeps the listeners of a session, keyed by listener ID.
type Registry struct {
	mu        sync.RWMutex
	listeners map[string]contract.EventSink // map listener -> Sink
}

func NewRegistry() *Registry {
	return &Registry{listeners: make(map[string]contract.EventSink)}
}

// Sinks returns the registered sinks ordered by listener ID so that delivery order
// across listeners is stable. Returns nil when nobody listens.
func (r *Registry) Sinks() []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.listeners) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sinks := make([]contract.EventSink, 0, len(ids))
	for _, id := range ids {
		sinks = append(sinks, r.listeners[id])
	}
	return sinks
}

// Subscribe registers a listener. Subscribing the same ID twice replaces its sink.
func (r *Registry) Subscribe(listenerID string, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[listenerID] = sink
}

func (r *Registry) Unsubscribe(listenerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, listenerID)
}
