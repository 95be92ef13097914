package api

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChangeEvent is the SSE event name sent after every committed mutation.
const ChangeEvent = "ledger-changed"

// EventHub fans "something changed" signals out to SSE subscribers. It
// implements ledger.Notifier.
//
// Signals carry no payload: clients re-query what they display. A slow
// subscriber misses signals rather than blocking the writer, and nothing is
// replayed across reconnects.
type EventHub struct {
	mu        sync.RWMutex
	clients   map[string]chan uint64
	seq       atomic.Uint64
	heartbeat time.Duration
	log       *zap.Logger
}

// NewEventHub creates a hub. A nil logger disables logging.
func NewEventHub(log *zap.Logger) *EventHub {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventHub{
		clients:   make(map[string]chan uint64),
		heartbeat: 25 * time.Second,
		log:       log,
	}
}

// Notify broadcasts a change signal to every subscriber.
func (h *EventHub) Notify() {
	id := h.seq.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- id:
		default:
			// Client too slow, drop the signal
		}
	}
}

// Subscribe registers a client. Returns its id, the signal channel and an
// unsubscribe func.
func (h *EventHub) Subscribe() (string, <-chan uint64, func()) {
	id := uuid.NewString()
	ch := make(chan uint64, 8)

	h.mu.Lock()
	h.clients[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return id, ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP serves the change feed as Server-Sent Events.
// GET /api/events/stream
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The stream outlives the server's WriteTimeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.log.Warn("sse flush unsupported", zap.Error(err))
		return
	}

	clientID, ch, unsub := h.Subscribe()
	defer unsub()
	h.log.Debug("sse client connected", zap.String("client_id", clientID))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Debug("sse client disconnected", zap.String("client_id", clientID))
			return
		case id, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: {}\n\n", id, ChangeEvent); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
