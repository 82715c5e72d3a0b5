package monitor

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of a filesystem change.
type Op int

const (
	Create Op = iota + 1
	Delete
)

// String returns the lowercase operation name.
func (o Op) String() string {
	switch o {
	case Create:
		return "create"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Event is a creation or deletion of Name inside the watched directory Dir.
type Event struct {
	Op   Op
	Dir  string
	Name string
}

// Path returns the absolute path of the changed entry.
func (e Event) Path() string {
	return filepath.Join(e.Dir, e.Name)
}

// Source is a directory-keyed subscription to filesystem changes.
type Source interface {
	Add(dir string) error
	Remove(dir string) error
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// FSNotifySource adapts an fsnotify watcher to Source. Renames are reported as
// a deletion of the old name; the new name arrives as a creation in its own directory.
// Writes and permission changes are dropped.
type FSNotifySource struct {
	watcher *fsnotify.Watcher
	events  chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewFSNotifySource starts an fsnotify watcher with no directories subscribed.
func NewFSNotifySource() (*FSNotifySource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	s := &FSNotifySource{
		watcher: w,
		events:  make(chan Event),
		done:    make(chan struct{}),
	}
	go s.translate()
	return s, nil
}

func (s *FSNotifySource) translate() {
	defer close(s.events)
	for {
		select {
		case raw, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			ev, ok := convert(raw)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func convert(raw fsnotify.Event) (Event, bool) {
	var op Op
	switch {
	case raw.Has(fsnotify.Create):
		op = Create
	case raw.Has(fsnotify.Remove), raw.Has(fsnotify.Rename):
		op = Delete
	default:
		return Event{}, false
	}
	name := filepath.Clean(raw.Name)
	return Event{Op: op, Dir: filepath.Dir(name), Name: filepath.Base(name)}, true
}

// Add subscribes dir.
func (s *FSNotifySource) Add(dir string) error {
	return s.watcher.Add(dir)
}

// Remove unsubscribes dir.
func (s *FSNotifySource) Remove(dir string) error {
	return s.watcher.Remove(dir)
}

// Events returns the translated event stream. It is closed after Close.
func (s *FSNotifySource) Events() <-chan Event {
	return s.events
}

// Errors returns the watcher's error stream, including queue overflows.
func (s *FSNotifySource) Errors() <-chan error {
	return s.watcher.Errors
}

// Close releases every subscription.
func (s *FSNotifySource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	return err
}
