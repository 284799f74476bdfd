package web

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/FlipGo/internal/logic/clock"
)

// Event kinds, sent as the SSE event name.
const (
	KindLog    = "log"
	KindStatus = "status"
)

// subscriberBuffer is how many events a slow client may lag behind.
const subscriberBuffer = 64

// Event is one message on the status stream: a log line or a clock snapshot.
type Event struct {
	Time   time.Time     `json:"t"`
	Kind   string        `json:"kind"`
	Level  string        `json:"level,omitempty"`
	Msg    string        `json:"msg,omitempty"`
	Status *clock.Status `json:"status,omitempty"`
}

// Hub fans events out to the connected stream clients. A client whose
// buffer is full misses events rather than stalling the clock.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan Event]struct{}
	dropped atomic.Uint64
	now     func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan Event]struct{}),
		now:     time.Now,
	}
}

// Subscribe registers a client. The returned func unregisters it and
// closes the channel; call it when the client goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Clients returns the number of subscribed clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were skipped for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Log sends a log line at the given level ("info", "error").
func (h *Hub) Log(level, msg string) {
	h.publish(Event{Kind: KindLog, Level: level, Msg: msg})
}

// PublishStatus sends a clock snapshot. It has the signature of a
// clock.Runner status listener.
func (h *Hub) PublishStatus(s clock.Status) {
	h.publish(Event{Kind: KindStatus, Status: &s})
}

func (h *Hub) publish(evt Event) {
	evt.Time = h.now()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

// LogWriter returns a writer that sends each non-blank write as an info
// log event, for use as a debug output.
func LogWriter(h *Hub) *logWriter {
	return &logWriter{h: h}
}

type logWriter struct {
	h *Hub
}

func (w *logWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.h.Log("info", msg)
	}
	return len(p), nil
}
