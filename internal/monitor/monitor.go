// Package monitor keeps the catalog in step with filesystem change notifications.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"ziton/internal/contextutil"
	"ziton/internal/events"
	"ziton/internal/metrics"
	"ziton/internal/storage"
	"ziton/internal/walker"
)

var (
	// ErrSourceClosed is returned by Run when the event stream ends.
	ErrSourceClosed = errors.New("event source closed")
	// ErrAlreadyRunning is returned by Run when the monitor is already watching.
	ErrAlreadyRunning = errors.New("monitor already running")
)

// WatchError reports an irrecoverable failure of the event subscription.
type WatchError struct {
	Dir string
	Err error
}

func (e *WatchError) Error() string {
	if e.Dir == "" {
		return fmt.Sprintf("watch failed: %v", e.Err)
	}
	return fmt.Sprintf("watch %s failed: %v", e.Dir, e.Err)
}

func (e *WatchError) Unwrap() error {
	return e.Err
}

// State is the lifecycle state of a Monitor.
type State int32

const (
	Stopped State = iota
	Watching
)

func (s State) String() string {
	if s == Watching {
		return "watching"
	}
	return "stopped"
}

// Store is the part of the catalog the monitor mutates.
type Store interface {
	Insert(ctx context.Context, entry storage.CatalogEntry) error
	DeleteByPath(ctx context.Context, path string) (bool, error)
	DeleteTree(ctx context.Context, path string) (int, error)
	Get(ctx context.Context, path string) (storage.CatalogEntry, error)
}

// Publisher receives entry notifications.
type Publisher interface {
	Publish(ev events.Event)
}

// Monitor applies creation and deletion events to the catalog.
// Events are handled one at a time on the Run goroutine, so events for the
// same path are applied in receipt order.
type Monitor struct {
	store  Store
	source Source
	bus    Publisher
	rules  atomic.Pointer[walker.Rules]

	// watched is owned by the Run goroutine.
	watched map[string]struct{}
	updates chan []string

	state      atomic.Int32
	watchCount atomic.Int64
}

// New creates a stopped monitor.
func New(store Store, source Source, bus Publisher, rules *walker.Rules) *Monitor {
	m := &Monitor{
		store:   store,
		source:  source,
		bus:     bus,
		watched: make(map[string]struct{}),
		updates: make(chan []string, 1),
	}
	m.rules.Store(rules)
	return m
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// WatchCount returns the number of subscribed directories.
func (m *Monitor) WatchCount() int {
	return int(m.watchCount.Load())
}

// SetRules replaces the admission rules used for new entries.
func (m *Monitor) SetRules(rules *walker.Rules) {
	m.rules.Store(rules)
}

// Update hands a new watch set to the running monitor. It never blocks; a
// set that has not been picked up yet is replaced by the newer one.
func (m *Monitor) Update(dirs []string) {
	for {
		select {
		case m.updates <- dirs:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

// Run subscribes dirs and applies events until ctx is cancelled or the source
// fails. It returns nil on cancellation, a *WatchError when the source reports
// an error, ErrSourceClosed when the stream ends, and a wrapped storage error when
// the catalog rejects a mutation. All subscriptions are released before returning.
func (m *Monitor) Run(ctx context.Context, dirs []string) error {
	if !m.state.CompareAndSwap(int32(Stopped), int32(Watching)) {
		return ErrAlreadyRunning
	}
	logger := contextutil.LoggerFromContext(ctx)
	defer func() {
		m.unwatchAll(ctx)
		m.state.Store(int32(Stopped))
		logger.InfoContext(ctx, "monitor stopped")
	}()

	// A pending update predates dirs.
	select {
	case <-m.updates:
	default:
	}

	m.sync(ctx, dirs)
	logger.InfoContext(ctx, "monitor watching", "directories", m.WatchCount())

	for {
		select {
		case <-ctx.Done():
			return nil
		case dirs := <-m.updates:
			m.sync(ctx, dirs)
			logger.InfoContext(ctx, "watch set updated", "directories", m.WatchCount())
		case ev, ok := <-m.source.Events():
			if !ok {
				return ErrSourceClosed
			}
			if err := m.apply(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		case err, ok := <-m.source.Errors():
			if !ok {
				return ErrSourceClosed
			}
			return &WatchError{Err: err}
		}
	}
}

func (m *Monitor) apply(ctx context.Context, ev Event) error {
	switch ev.Op {
	case Create:
		return m.created(ctx, ev.Path())
	case Delete:
		return m.deleted(ctx, ev.Path())
	default:
		return nil
	}
}

func (m *Monitor) created(ctx context.Context, path string) error {
	logger := contextutil.LoggerFromContext(ctx)

	info, err := os.Lstat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.WarnContext(ctx, "failed to stat created entry", "path", path, "error", err)
		}
		return nil
	}

	rules := m.rules.Load()
	if !rules.Admit(path, info.IsDir()) {
		return nil
	}

	entry, err := storage.EntryFromFileInfo(path, info)
	if err != nil {
		logger.WarnContext(ctx, "invalid created entry", "path", path, "error", err)
		return nil
	}
	if err := m.insert(ctx, entry); err != nil {
		return err
	}
	metrics.RecordMonitorEvent(Create.String())

	if info.IsDir() {
		return m.adopt(ctx, rules, path)
	}
	return nil
}

// adopt subscribes a directory that appeared after the watch set was built
// and indexes whatever it already contains. Watching first means entries
// created during the walk are caught by at least one of the two.
func (m *Monitor) adopt(ctx context.Context, rules *walker.Rules, dir string) error {
	dirs, err := walker.WatchDirs(ctx, rules, dir)
	if err != nil {
		return nil
	}
	for _, d := range dirs {
		m.watch(ctx, d)
	}

	_, err = walker.WalkTree(ctx, rules, dir, func(e storage.CatalogEntry, _ bool) error {
		return m.insert(ctx, e)
	})
	return err
}

func (m *Monitor) insert(ctx context.Context, entry storage.CatalogEntry) error {
	if err := m.store.Insert(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert %s: %w", entry.Path, err)
	}
	m.bus.Publish(events.Event{Kind: events.EntryAdded, Path: entry.Path, Entry: &entry, Count: 1})
	return nil
}

func (m *Monitor) deleted(ctx context.Context, path string) error {
	var removed int
	if _, isDir := m.watched[path]; isDir {
		n, err := m.store.DeleteTree(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to delete tree %s: %w", path, err)
		}
		removed = n
		m.unwatchTree(ctx, path)
	} else {
		n, err := m.deleteUnwatched(ctx, path)
		if err != nil {
			return err
		}
		removed = n
	}
	metrics.RecordMonitorEvent(Delete.String())

	if removed > 0 {
		m.bus.Publish(events.Event{Kind: events.EntryRemoved, Path: path, Count: removed})
	}
	return nil
}

// deleteUnwatched removes path when no subscription covers it. A directory
// whose subscription failed is still catalogued with zero size and mtime, and
// its descendants go with it.
func (m *Monitor) deleteUnwatched(ctx context.Context, path string) (int, error) {
	entry, err := m.store.Get(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up %s: %w", path, err)
	}

	if entry.Size == 0 && entry.ModifiedAt == 0 {
		n, err := m.store.DeleteTree(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("failed to delete tree %s: %w", path, err)
		}
		return n, nil
	}

	ok, err := m.store.DeleteByPath(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", path, err)
	}
	if ok {
		return 1, nil
	}
	return 0, nil
}

// sync makes the subscribed set equal to dirs.
func (m *Monitor) sync(ctx context.Context, dirs []string) {
	want := make(map[string]struct{}, len(dirs))
	for _, d := range dirs {
		want[filepath.Clean(d)] = struct{}{}
	}
	for d := range m.watched {
		if _, ok := want[d]; !ok {
			m.unwatch(ctx, d)
		}
	}
	for d := range want {
		m.watch(ctx, d)
	}
}

func (m *Monitor) watch(ctx context.Context, dir string) {
	if _, ok := m.watched[dir]; ok {
		return
	}
	if err := m.source.Add(dir); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to watch directory", "path", dir, "error", err)
		return
	}
	m.watched[dir] = struct{}{}
	m.setCount()
}

func (m *Monitor) unwatch(ctx context.Context, dir string) {
	// The backend drops watches of deleted directories on its own.
	if err := m.source.Remove(dir); err != nil {
		contextutil.LoggerFromContext(ctx).DebugContext(ctx, "failed to unwatch directory", "path", dir, "error", err)
	}
	delete(m.watched, dir)
	m.setCount()
}

func (m *Monitor) unwatchTree(ctx context.Context, dir string) {
	prefix := dir + string(filepath.Separator)
	for d := range m.watched {
		if d == dir || strings.HasPrefix(d, prefix) {
			m.unwatch(ctx, d)
		}
	}
}

func (m *Monitor) unwatchAll(ctx context.Context) {
	for d := range m.watched {
		m.unwatch(ctx, d)
	}
}

func (m *Monitor) setCount() {
	m.watchCount.Store(int64(len(m.watched)))
	metrics.SetWatchedDirectories(len(m.watched))
}
