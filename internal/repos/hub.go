package repos

import (
	"sync"

	"github.com/google/uuid"

	"cropledger/internal/domain"
)

// Notification tells subscribers that one committed batch touched a collection.
type Notification struct {
	Kind  domain.Kind
	Owner string
	Seq   uint64 // ledger batch sequence
}

type Handler func(Notification)

type subscription struct {
	id      string
	kind    domain.Kind
	handler Handler
}

// Hub fans out batch notifications keyed by collection.
// It is safe for concurrent use.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

func NewHub() *Hub { return &Hub{subs: make(map[string]*subscription)} }

// Subscribe registers handler for kind and returns the subscription id.
func (h *Hub) Subscribe(kind domain.Kind, handler Handler) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &subscription{id: uuid.NewString(), kind: kind, handler: handler}
	h.subs[s.id] = s
	return s.id
}

func (h *Hub) Unsubscribe(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; !ok {
		return false
	}
	delete(h.subs, id)
	return true
}

// Publish calls every handler subscribed to n.Kind. Handlers run on the
// caller's goroutine and must not block.
func (h *Hub) Publish(n Notification) {
	h.mu.RLock()
	var targets []Handler
	for _, s := range h.subs {
		if s.kind == n.Kind {
			targets = append(targets, s.handler)
		}
	}
	h.mu.RUnlock()
	for _, fn := range targets {
		fn(n)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
