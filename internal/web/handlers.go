package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/FlipGo/internal/debug"
	"github.com/cjeanneret/FlipGo/internal/logic/clock"
	"github.com/cjeanneret/FlipGo/internal/timesource"
)

// maxBodyBytes bounds POST bodies; a time is a few dozen bytes.
const maxBodyBytes = 1 << 10

// Clock is what the handlers need from the clock runner.
type Clock interface {
	Status() clock.Status
	SetTime(ctx context.Context, t timesource.Time) error
	Resync(ctx context.Context) error
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Events   *Hub
	Clock    Clock
	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If c is nil, the clock routes return 503 Service Unavailable.
func NewHandlers(events *Hub, c Clock, staticFS fs.FS) *Handlers {
	return &Handlers{
		Events:   events,
		Clock:    c,
		staticFS: staticFS,
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatus returns the clock status as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Clock == nil {
		http.Error(w, "clock not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Clock.Status())
}

// HandleSetTime handles POST /time with a body {"hour":h,"minute":m}.
func (h *Handlers) HandleSetTime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var t timesource.Time
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := t.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.Clock == nil {
		http.Error(w, "clock not configured", http.StatusServiceUnavailable)
		return
	}

	if err := h.Clock.SetTime(r.Context(), t); err != nil {
		h.writeClockError(w, "set time", err)
		return
	}
	h.Events.Log("info", "Time set to "+t.String()+" (web)")
	writeJSON(w, http.StatusOK, h.Clock.Status())
}

// HandleResync handles POST /resync.
func (h *Handlers) HandleResync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Clock == nil {
		http.Error(w, "clock not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.Clock.Resync(r.Context()); err != nil {
		h.writeClockError(w, "resync", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Clock.Status())
}

func (h *Handlers) writeClockError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, clock.ErrSetting):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, clock.ErrStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		debug.Error(err)
		h.Events.Log("error", op+" failed: "+err.Error())
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// HandleStatusStream handles GET /status/stream for SSE. Each event is
// sent under its kind as the SSE event name, with the Event as JSON data.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Events.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				debug.Error(err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data)
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
