// Package indexer owns the catalog lifecycle: startup recovery, rebuilds,
// change monitor supervision and queries.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"ziton/internal/config"
	"ziton/internal/contextutil"
	"ziton/internal/events"
	"ziton/internal/metrics"
	"ziton/internal/monitor"
	"ziton/internal/service"
	"ziton/internal/storage"
	"ziton/internal/walker"
)

// ConfigProvider supplies index settings. Engine reads a fresh snapshot per operation.
type ConfigProvider interface {
	Snapshot() config.IndexConfig
	Settings() config.Settings
	Save(s config.Settings) error
}

// SourceFactory opens a filesystem event source for one monitor run.
type SourceFactory func() (monitor.Source, error)

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	// RestartInterval is the minimum time between monitor starts.
	RestartInterval time.Duration
	// NewSource opens the event source; defaults to fsnotify.
	NewSource SourceFactory
}

// Engine coordinates the catalog, the walker and the change monitor.
// It implements service.IndexService.
type Engine struct {
	store    storage.CatalogStore
	provider ConfigProvider
	bus      *events.Bus
	opts     Options
	logger   *slog.Logger

	group      singleflight.Group
	rebuilding atomic.Bool
	// generation counts saved settings changes. A rebuild records the
	// generation it read its snapshot under.
	generation atomic.Uint64

	ready     chan struct{}
	readyOnce sync.Once

	configChanged chan struct{}

	mu            sync.Mutex
	base          context.Context
	monitor       *monitor.Monitor
	monitorCancel context.CancelFunc
	lastRebuild   *service.RebuildResult
	lastError     string
}

var _ service.IndexService = (*Engine)(nil)

// rebuildOutcome is the value shared by callers joining one rebuild.
type rebuildOutcome struct {
	result     service.RebuildResult
	generation uint64
}

// NewEngine creates an engine. Run must be called to recover the catalog and start monitoring.
func NewEngine(store storage.CatalogStore, provider ConfigProvider, bus *events.Bus, opts Options) *Engine {
	if opts.RestartInterval <= 0 {
		opts.RestartInterval = 5 * time.Second
	}
	if opts.NewSource == nil {
		opts.NewSource = func() (monitor.Source, error) {
			return monitor.NewFSNotifySource()
		}
	}
	return &Engine{
		store:         store,
		provider:      provider,
		bus:           bus,
		opts:          opts,
		logger:        slog.Default().With("component", "indexer"),
		ready:         make(chan struct{}),
		configChanged: make(chan struct{}, 1),
		base:          context.Background(),
	}
}

// Run recovers the catalog, marks the engine ready and supervises the change
// monitor until ctx is cancelled. It returns an error only when the catalog
// cannot be recovered.
func (e *Engine) Run(ctx context.Context) error {
	ctx = contextutil.WithLogger(ctx, e.logger)
	e.mu.Lock()
	e.base = ctx
	e.mu.Unlock()

	if err := e.recover(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	e.readyOnce.Do(func() { close(e.ready) })
	e.logger.InfoContext(ctx, "index ready")

	e.supervise(ctx)
	return nil
}

// recover runs the startup policy: a corrupt catalog is discarded and rebuilt,
// a new catalog is always rebuilt, otherwise the startup setting decides.
func (e *Engine) recover(ctx context.Context) error {
	cfg := e.provider.Snapshot()

	var reason string
	switch {
	case e.store.IntegrityCheck(ctx) == storage.Corrupt:
		e.logger.WarnContext(ctx, "catalog corrupt, discarding")
		if err := e.store.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset corrupt catalog: %w", err)
		}
		reason = "corrupt"
	case e.store.Created():
		reason = "created"
	case cfg.RebuildOnStartup:
		reason = "startup"
	}

	if reason == "" {
		return nil
	}

	e.logger.InfoContext(ctx, "rebuilding catalog", "reason", reason)
	if _, err := e.Rebuild(ctx); err != nil {
		return fmt.Errorf("failed to recover catalog: %w", err)
	}
	return nil
}

// supervise keeps the monitor running while live updates are enabled. A failed
// monitor triggers a full rebuild before it is restarted; restarts are paced
// by the restart interval.
func (e *Engine) supervise(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(e.opts.RestartInterval), 1)

	for {
		cfg := e.provider.Snapshot()
		if !cfg.LiveUpdates {
			select {
			case <-ctx.Done():
				return
			case <-e.configChanged:
				continue
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return
		}

		err := e.runMonitor(ctx, cfg)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// Stopped for a settings change.
			continue
		}

		metrics.RecordMonitorRestart()
		e.setLastError(err)
		e.logger.ErrorContext(ctx, "monitor failed, rebuilding catalog", "error", err)
		if e.store.IntegrityCheck(ctx) == storage.Corrupt {
			if err := e.store.Reset(ctx); err != nil {
				e.logger.ErrorContext(ctx, "failed to reset catalog", "error", err)
				continue
			}
		}
		if _, err := e.Rebuild(ctx); err != nil && ctx.Err() == nil {
			e.logger.ErrorContext(ctx, "self-healing rebuild failed", "error", err)
		}
	}
}

func (e *Engine) runMonitor(ctx context.Context, cfg config.IndexConfig) error {
	src, err := e.opts.NewSource()
	if err != nil {
		return &monitor.WatchError{Err: err}
	}
	defer func() {
		_ = src.Close()
	}()

	dirs, err := walker.BuildWatchSet(ctx, cfg)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runCtx = contextutil.WithLogger(runCtx, e.logger.With("component", "monitor"))

	m := monitor.New(e.store, src, e.bus, walker.NewRules(cfg))
	e.mu.Lock()
	e.monitor = m
	e.monitorCancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.monitor = nil
		e.monitorCancel = nil
		e.mu.Unlock()
	}()

	return m.Run(runCtx, dirs)
}

// Rebuild walks the included roots and replaces the catalog. Concurrent calls
// share one rebuild. The work runs on the engine's context, so a caller that
// stops waiting does not cancel it.
func (e *Engine) Rebuild(ctx context.Context) (service.RebuildResult, error) {
	out, err := e.sharedRebuild(ctx)
	return out.result, err
}

func (e *Engine) sharedRebuild(ctx context.Context) (rebuildOutcome, error) {
	e.mu.Lock()
	base := e.base
	e.mu.Unlock()

	ch := e.group.DoChan("rebuild", func() (any, error) {
		return e.rebuild(base)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return rebuildOutcome{}, res.Err
		}
		return res.Val.(rebuildOutcome), nil
	case <-ctx.Done():
		return rebuildOutcome{}, ctx.Err()
	}
}

// rebuildSince rebuilds until the catalog reflects settings of at least the
// given generation. A rebuild that was already running when the settings
// changed read the old ones, so it is followed by another.
func (e *Engine) rebuildSince(generation uint64) {
	for {
		out, err := e.sharedRebuild(context.Background())
		if err != nil {
			e.logger.Warn("rebuild after settings change failed", "error", err)
			return
		}
		if out.generation >= generation {
			return
		}
		e.logger.Info("settings changed during rebuild, rebuilding again")
	}
}

func (e *Engine) rebuild(ctx context.Context) (rebuildOutcome, error) {
	e.rebuilding.Store(true)
	defer e.rebuilding.Store(false)

	id := uuid.New().String()
	logger := contextutil.LoggerFromContext(ctx).With("rebuild_id", id)
	ctx = contextutil.WithLogger(ctx, logger)

	start := time.Now()
	e.bus.Publish(events.Event{Kind: events.RebuildStarted, RebuildID: id})
	logger.InfoContext(ctx, "rebuild started")

	// Loaded before the snapshot: Save happens before the generation bump,
	// so the snapshot is at least as new as this generation.
	generation := e.generation.Load()
	cfg := e.provider.Snapshot()
	res, err := walker.Walk(ctx, cfg)
	if err == nil {
		err = e.store.Replace(ctx, res.Entries)
	}
	duration := time.Since(start)
	metrics.RecordRebuild(duration, err == nil)

	result := service.RebuildResult{
		ID:         id,
		Entries:    len(res.Entries),
		Files:      res.Stats.Files,
		Dirs:       res.Stats.Dirs,
		Skipped:    res.Stats.Skipped,
		Errors:     res.Stats.Errors,
		StartedAt:  start,
		DurationMS: duration.Milliseconds(),
	}

	if err != nil {
		logger.ErrorContext(ctx, "rebuild failed", "error", err, "duration", duration)
		e.setLastError(err)
		e.bus.Publish(events.Event{Kind: events.RebuildFinished, RebuildID: id, Error: err.Error()})
		return rebuildOutcome{}, fmt.Errorf("rebuild failed: %w", err)
	}

	e.mu.Lock()
	e.lastRebuild = &result
	e.lastError = ""
	m := e.monitor
	e.mu.Unlock()

	// The tree may have changed shape, so the running monitor gets a fresh watch set.
	if m != nil {
		if dirs, err := walker.BuildWatchSet(ctx, cfg); err == nil {
			m.SetRules(walker.NewRules(cfg))
			m.Update(dirs)
		}
	}

	logger.InfoContext(ctx, "rebuild completed", "entries", result.Entries, "duration", duration)
	e.bus.Publish(events.Event{Kind: events.RebuildFinished, RebuildID: id, Count: result.Entries})
	return rebuildOutcome{result: result, generation: generation}, nil
}

// TriggerRebuild starts a rebuild in the background. Completion is announced
// on the event bus.
func (e *Engine) TriggerRebuild() error {
	if e.rebuilding.Load() {
		return service.ErrRebuildInProgress
	}
	go func() {
		_, _ = e.Rebuild(context.Background())
	}()
	return nil
}

// Search waits until the engine is ready and queries the catalog.
func (e *Engine) Search(ctx context.Context, pattern string, caseSensitive bool) ([]storage.CatalogEntry, error) {
	if err := e.waitReady(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	entries, err := e.store.Query(ctx, pattern, caseSensitive)
	metrics.RecordSearch(time.Since(start))
	if err != nil {
		return nil, service.WrapError(err, "failed to query catalog")
	}
	return entries, nil
}

// Count returns the number of catalog entries once the engine is ready.
func (e *Engine) Count(ctx context.Context) (int, error) {
	if err := e.waitReady(ctx); err != nil {
		return 0, err
	}
	n, err := e.store.Count(ctx)
	if err != nil {
		return 0, service.WrapError(err, "failed to count catalog")
	}
	return n, nil
}

func (e *Engine) waitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", service.ErrNotReady, ctx.Err())
	}
}

// Ready reports whether startup recovery has finished.
func (e *Engine) Ready() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// Status reports the current engine state.
func (e *Engine) Status() service.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := service.Status{
		Ready:        e.Ready(),
		Rebuilding:   e.rebuilding.Load(),
		LiveUpdates:  e.provider.Snapshot().LiveUpdates,
		MonitorState: monitor.Stopped.String(),
		LastError:    e.lastError,
	}
	if e.monitor != nil {
		st.MonitorState = e.monitor.State().String()
		st.WatchedDirectories = e.monitor.WatchCount()
	}
	if e.lastRebuild != nil {
		last := *e.lastRebuild
		st.LastRebuild = &last
	}
	return st
}

// Subscribe attaches a listener to the engine's event bus.
func (e *Engine) Subscribe(buffer int) *events.Subscription {
	return e.bus.Subscribe(buffer)
}

// Settings returns the current settings.
func (e *Engine) Settings() config.Settings {
	return e.provider.Settings()
}

// UpdateSettings saves s, restarts the monitor under the new rules and rebuilds
// in the background. A rebuild already in flight finishes with the previous
// settings and is then followed by one with the new settings.
func (e *Engine) UpdateSettings(ctx context.Context, s config.Settings) error {
	if err := e.provider.Save(s); err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
		}
		return service.WrapError(err, "failed to save settings")
	}
	generation := e.generation.Add(1)
	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "settings updated", "generation", generation)

	e.mu.Lock()
	if e.monitorCancel != nil {
		e.monitorCancel()
	}
	e.mu.Unlock()
	select {
	case e.configChanged <- struct{}{}:
	default:
	}

	go e.rebuildSince(generation)
	return nil
}

func (e *Engine) setLastError(err error) {
	e.mu.Lock()
	e.lastError = err.Error()
	e.mu.Unlock()
}
