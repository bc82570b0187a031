package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
)

var ErrNotConnected = errors.New("realtime channel not connected")

type Handler func(data json.RawMessage)

// Channel is the realtime capability shared by every part of the client.
// Nobody owns it exclusively: subscribers only ever remove their own
// handlers.
type Channel interface {
	Connected() bool
	Emit(ctx context.Context, event string, payload any) error
	Subscribe(event string, h Handler) *Subscription
}

type Subscription struct {
	r     *Registry
	event string
	id    uint64
	once  sync.Once
}

func (s *Subscription) Event() string { return s.event }

// Unsubscribe removes this handler and nothing else. Safe to call twice.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.r.remove(s.event, s.id) })
}

// Registry fans named events out to any number of handlers.
type Registry struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[string]map[uint64]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]map[uint64]Handler)}
}

func (r *Registry) Subscribe(event string, h Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	if r.handlers[event] == nil {
		r.handlers[event] = make(map[uint64]Handler)
	}
	r.handlers[event][r.next] = h
	return &Subscription{r: r, event: event, id: r.next}
}

// Dispatch calls every handler for event in subscription order and reports
// how many ran. Handlers run outside the lock so they may unsubscribe.
func (r *Registry) Dispatch(event string, data json.RawMessage) int {
	r.mu.RLock()
	subs := r.handlers[event]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	hs := make([]Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, subs[id])
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(data)
	}
	return len(hs)
}

func (r *Registry) Count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

func (r *Registry) remove(event string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers[event], id)
	if len(r.handlers[event]) == 0 {
		delete(r.handlers, event)
	}
}
