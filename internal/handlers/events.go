package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ziton/internal/contextutil"
	"ziton/internal/service"
)

// EventsHandler streams entry and rebuild notifications as Server-Sent Events.
type EventsHandler struct {
	index     service.IndexService
	buffer    int
	heartbeat time.Duration
}

// NewEventsHandler creates a new EventsHandler. buffer is the per-client queue length;
// a client that falls further behind misses events.
func NewEventsHandler(index service.IndexService, buffer int) *EventsHandler {
	return &EventsHandler{
		index:     index,
		buffer:    buffer,
		heartbeat: 15 * time.Second,
	}
}

// ServeHTTP handles GET /api/events.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.ErrorContext(ctx, "streaming not supported by response writer")
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	sub := h.index.Subscribe(h.buffer)
	defer sub.Unsubscribe()

	// Set up Server-Sent Events headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, ": subscribed %s\n\n", sub.ID)
	flusher.Flush()

	logger.InfoContext(ctx, "event stream opened", "subscriber", sub.ID)
	defer logger.InfoContext(ctx, "event stream closed", "subscriber", sub.ID)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.ErrorContext(ctx, "failed to encode event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
