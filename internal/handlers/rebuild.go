package handlers

import (
	"net/http"

	"ziton/internal/contextutil"
	"ziton/internal/service"
)

// RebuildHandler handles HTTP requests for triggering a full rebuild.
type RebuildHandler struct {
	index service.IndexService
}

// NewRebuildHandler creates a new RebuildHandler.
func NewRebuildHandler(index service.IndexService) *RebuildHandler {
	return &RebuildHandler{index: index}
}

// RebuildResponse represents the response from the rebuild endpoint.
type RebuildResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ServeHTTP handles POST /api/rebuild. The rebuild runs in the background;
// completion is announced on /api/events.
func (h *RebuildHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := h.index.TriggerRebuild(); err != nil {
		handleServiceError(ctx, w, err, "Failed to start rebuild")
		return
	}
	logger.InfoContext(ctx, "rebuild triggered via API")

	writeJSON(ctx, w, http.StatusAccepted, RebuildResponse{
		Message: "Rebuild started. Subscribe to /api/events for completion.",
		Status:  "accepted",
	})
}
