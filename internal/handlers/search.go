package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"ziton/internal/contextutil"
	"ziton/internal/service"
	"ziton/internal/storage"
)

// SearchHandler handles filename substring searches.
type SearchHandler struct {
	index        service.IndexService
	readyTimeout time.Duration
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(index service.IndexService) *SearchHandler {
	return &SearchHandler{
		index:        index,
		readyTimeout: 30 * time.Second,
	}
}

// SearchResponse represents the response from the search endpoint.
type SearchResponse struct {
	Entries   []storage.CatalogEntry `json:"entries"`
	Count     int                    `json:"count"`
	Truncated bool                   `json:"truncated"`
}

// ServeHTTP handles GET /api/search?q=&case=&limit=.
func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, err := parseSearchRequest(r)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		handleServiceError(ctx, w, err, "Invalid search request")
		return
	}

	searchCtx, cancel := context.WithTimeout(ctx, h.readyTimeout)
	defer cancel()

	entries, err := h.index.Search(searchCtx, req.Pattern, req.CaseSensitive)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to search index")
		return
	}

	resp := SearchResponse{Entries: entries, Count: len(entries)}
	if req.Limit > 0 && len(entries) > req.Limit {
		resp.Entries = entries[:req.Limit]
		resp.Truncated = true
	}
	if resp.Entries == nil {
		resp.Entries = []storage.CatalogEntry{}
	}

	logger.DebugContext(ctx, "search served", "pattern", req.Pattern, "case_sensitive", req.CaseSensitive, "matches", resp.Count)
	writeJSON(ctx, w, http.StatusOK, resp)
}

func parseSearchRequest(r *http.Request) (service.SearchRequest, error) {
	q := r.URL.Query()
	req := service.SearchRequest{Pattern: q.Get("q")}

	if raw := q.Get("case"); raw != "" {
		cs, err := strconv.ParseBool(raw)
		if err != nil {
			return req, &service.ValidationError{Field: "case", Message: "must be true or false"}
		}
		req.CaseSensitive = cs
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return req, &service.ValidationError{Field: "limit", Message: "must be an integer"}
		}
		req.Limit = limit
	}
	return req, nil
}
