package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_index_service.go -package=mocks -mock_names=IndexService=MockIndexService ziton/internal/service IndexService

import (
	"context"
	"strings"
	"time"

	"ziton/internal/config"
	"ziton/internal/events"
	"ziton/internal/storage"
)

// MaxSearchLimit caps the number of entries a single search returns.
const MaxSearchLimit = 10000

// RebuildResult describes a completed rebuild.
type RebuildResult struct {
	ID         string    `json:"id"`
	Entries    int       `json:"entries"`
	Files      int       `json:"files"`
	Dirs       int       `json:"dirs"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Status is a point-in-time view of the index.
type Status struct {
	Ready              bool           `json:"ready"`
	Rebuilding         bool           `json:"rebuilding"`
	LiveUpdates        bool           `json:"live_updates"`
	MonitorState       string         `json:"monitor_state"`
	WatchedDirectories int            `json:"watched_directories"`
	LastRebuild        *RebuildResult `json:"last_rebuild,omitempty"`
	LastError          string         `json:"last_error,omitempty"`
}

// SearchRequest is a validated search from the presentation layer.
type SearchRequest struct {
	Pattern       string
	CaseSensitive bool
	Limit         int // 0 means no limit
}

// Validate checks the request bounds.
func (r SearchRequest) Validate() error {
	if r.Limit < 0 {
		return &ValidationError{Field: "limit", Message: "must not be negative"}
	}
	if r.Limit > MaxSearchLimit {
		return &ValidationError{Field: "limit", Message: "must not exceed 10000"}
	}
	if strings.ContainsRune(r.Pattern, 0) {
		return &ValidationError{Field: "q", Message: "must not contain NUL"}
	}
	return nil
}

// IndexService is what the presentation layer needs from the index.
// This interface is defined from the consumer's perspective.
type IndexService interface {
	// Search returns entries whose name contains pattern, in catalog order.
	// It waits for startup recovery to finish.
	Search(ctx context.Context, pattern string, caseSensitive bool) ([]storage.CatalogEntry, error)
	// TriggerRebuild starts a rebuild in the background.
	// It returns ErrRebuildInProgress if one is already running.
	TriggerRebuild() error
	// Count returns the number of catalog entries.
	Count(ctx context.Context) (int, error)
	// Status reports readiness, monitor state and the last rebuild.
	Status() Status
	// Subscribe attaches a listener for entry and rebuild notifications.
	Subscribe(buffer int) *events.Subscription
	// Settings returns the current index settings.
	Settings() config.Settings
	// UpdateSettings persists s and reindexes with it.
	UpdateSettings(ctx context.Context, s config.Settings) error
}
