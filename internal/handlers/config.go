package handlers

import (
	"encoding/json"
	"net/http"

	"ziton/internal/config"
	"ziton/internal/contextutil"
	"ziton/internal/service"
)

// maxConfigBody bounds PUT /api/config request bodies.
const maxConfigBody = 1 << 20

// ConfigHandler reads and writes the index settings.
type ConfigHandler struct {
	index service.IndexService
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(index service.IndexService) *ConfigHandler {
	return &ConfigHandler{index: index}
}

// ServeHTTP handles GET and PUT /api/config.
func (h *ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	switch r.Method {
	case http.MethodGet:
		writeJSON(ctx, w, http.StatusOK, h.index.Settings())

	case http.MethodPut:
		var s config.Settings
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			logger.WarnContext(ctx, "invalid request body", "error", err)
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := h.index.UpdateSettings(ctx, s); err != nil {
			handleServiceError(ctx, w, err, "Failed to update settings")
			return
		}
		writeJSON(ctx, w, http.StatusOK, h.index.Settings())

	default:
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
