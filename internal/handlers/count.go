package handlers

import (
	"context"
	"net/http"
	"time"

	"ziton/internal/contextutil"
	"ziton/internal/service"
)

// CountHandler reports the number of catalog entries.
type CountHandler struct {
	index        service.IndexService
	readyTimeout time.Duration
}

// NewCountHandler creates a new CountHandler.
func NewCountHandler(index service.IndexService) *CountHandler {
	return &CountHandler{
		index:        index,
		readyTimeout: 30 * time.Second,
	}
}

// CountResponse represents the response from the count endpoint.
type CountResponse struct {
	Count int `json:"count"`
}

// ServeHTTP handles GET /api/count.
func (h *CountHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	countCtx, cancel := context.WithTimeout(ctx, h.readyTimeout)
	defer cancel()

	n, err := h.index.Count(countCtx)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to count entries")
		return
	}
	writeJSON(ctx, w, http.StatusOK, CountResponse{Count: n})
}
