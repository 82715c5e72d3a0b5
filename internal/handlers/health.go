package handlers

import (
	"net/http"
	"time"

	"ziton/internal/contextutil"
	"ziton/internal/service"
)

// HealthHandler handles HTTP requests for health checks.
type HealthHandler struct {
	index service.IndexService
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(index service.IndexService) *HealthHandler {
	return &HealthHandler{index: index}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	// Overall health status: "healthy", "degraded", or "starting"
	Status string `json:"status"`

	// Timestamp of the health check
	Timestamp string `json:"timestamp"`

	// Individual check results
	Checks map[string]string `json:"checks"`

	// Index state at the time of the check
	Index service.Status `json:"index"`

	// List of issues (only present if status is not healthy)
	Issues []string `json:"issues,omitempty"`
}

// ServeHTTP handles GET /api/health.
// Returns 200 OK once the catalog is serving queries, 503 while startup recovery runs.
// A stopped monitor with live updates enabled is reported as degraded but still 200,
// since queries keep working while the monitor restarts.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	st := h.index.Status()
	checks := make(map[string]string)
	var issues []string

	if st.Ready {
		checks["catalog"] = "ok"
	} else {
		checks["catalog"] = "recovering"
		issues = append(issues, "catalog_not_ready")
	}

	switch {
	case !st.LiveUpdates:
		checks["monitor"] = "disabled"
	case st.MonitorState == "watching":
		checks["monitor"] = "ok"
	default:
		checks["monitor"] = st.MonitorState
		issues = append(issues, "monitor_not_watching")
	}

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case !st.Ready:
		status = "starting"
		httpStatus = http.StatusServiceUnavailable
	case len(issues) > 0:
		status = "degraded"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Index:     st,
		Issues:    issues,
	}
	writeJSON(ctx, w, httpStatus, response)
}
