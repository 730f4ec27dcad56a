package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"engagekit/core"
)

// Hub is a simple pub/sub for broadcasting engine notifications to
// channels. Delivery stays best-effort; the engine keeps no record of
// what was streamed.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan core.Notification
	next int
}

func NewHub() *Hub { return &Hub{subs: map[int]chan core.Notification{}} }

func (h *Hub) Subscribe(buffer int) (int, <-chan core.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan core.Notification, buffer)
	h.subs[id] = ch
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) Broadcast(_ context.Context, n core.Notification) {
	h.mu.RLock()
	// copy to avoid holding lock during send
	receivers := make([]chan core.Notification, 0, len(h.subs))
	for _, ch := range h.subs {
		receivers = append(receivers, ch)
	}
	h.mu.RUnlock()
	for _, ch := range receivers {
		select {
		case ch <- n:
		default: /* drop if full */
		}
	}
}

// MarshalJSON is a helper to convert notifications to JSON bytes for WebSocket/SSE.
func MarshalJSON(n core.Notification) []byte {
	b, _ := json.Marshal(n)
	return b
}
