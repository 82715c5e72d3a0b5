package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig is returned when the settings file is unparsable or incomplete.
var ErrInvalidConfig = errors.New("invalid configuration")

// requiredKeys must all be present in the settings file.
var requiredKeys = []string{
	"included_directories",
	"excluded_directories",
	"excluded_folders",
	"hidden_files",
	"live_updates",
	"index_on_startup",
	"database_path",
	"min_on_launch",
}

// IndexConfig is the snapshot of index settings the engine reads per operation.
type IndexConfig struct {
	IncludedRoots       []string
	ExcludedRoots       []string
	ExcludedFolderNames []string
	IncludeHidden       bool
	LiveUpdates         bool
	RebuildOnStartup    bool
}

// Settings mirrors the settings file. MinimizeOnLaunch belongs to the
// presentation layer and is carried through untouched.
type Settings struct {
	IncludedDirectories []string `toml:"included_directories" json:"included_directories"`
	ExcludedDirectories []string `toml:"excluded_directories" json:"excluded_directories"`
	ExcludedFolders     []string `toml:"excluded_folders" json:"excluded_folders"`
	HiddenFiles         bool     `toml:"hidden_files" json:"hidden_files"`
	LiveUpdates         bool     `toml:"live_updates" json:"live_updates"`
	IndexOnStartup      bool     `toml:"index_on_startup" json:"index_on_startup"`
	DatabasePath        string   `toml:"database_path" json:"database_path"`
	MinimizeOnLaunch    bool     `toml:"min_on_launch" json:"min_on_launch"`
}

// Index returns the index portion of the settings.
func (s Settings) Index() IndexConfig {
	return IndexConfig{
		IncludedRoots:       slices.Clone(s.IncludedDirectories),
		ExcludedRoots:       slices.Clone(s.ExcludedDirectories),
		ExcludedFolderNames: slices.Clone(s.ExcludedFolders),
		IncludeHidden:       s.HiddenFiles,
		LiveUpdates:         s.LiveUpdates,
		RebuildOnStartup:    s.IndexOnStartup,
	}
}

func (s Settings) clone() Settings {
	c := s
	c.IncludedDirectories = slices.Clone(s.IncludedDirectories)
	c.ExcludedDirectories = slices.Clone(s.ExcludedDirectories)
	c.ExcludedFolders = slices.Clone(s.ExcludedFolders)
	return c
}

// DefaultSettings returns the settings written when no file exists:
// the home directory is indexed, hidden files included, live updates off.
func DefaultSettings() (Settings, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Settings{}, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return Settings{
		IncludedDirectories: []string{home},
		ExcludedDirectories: []string{},
		ExcludedFolders:     []string{},
		HiddenFiles:         true,
		LiveUpdates:         false,
		IndexOnStartup:      false,
		DatabasePath:        filepath.Join(home, ".ziton", "database.db"),
		MinimizeOnLaunch:    false,
	}, nil
}

// Normalize cleans every path, expands a leading ~ and makes paths absolute.
// Duplicate directories and folder names are dropped, keeping the first occurrence.
func (s *Settings) Normalize() error {
	var err error
	if s.IncludedDirectories, err = normalizePaths(s.IncludedDirectories); err != nil {
		return fmt.Errorf("included_directories: %w", err)
	}
	if s.ExcludedDirectories, err = normalizePaths(s.ExcludedDirectories); err != nil {
		return fmt.Errorf("excluded_directories: %w", err)
	}

	folders := make([]string, 0, len(s.ExcludedFolders))
	for _, name := range s.ExcludedFolders {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(folders, name) {
			continue
		}
		if strings.ContainsRune(name, filepath.Separator) {
			return fmt.Errorf("excluded_folders: %q is a path, not a folder name", name)
		}
		folders = append(folders, name)
	}
	s.ExcludedFolders = folders

	if strings.TrimSpace(s.DatabasePath) == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if s.DatabasePath, err = expandPath(s.DatabasePath); err != nil {
		return fmt.Errorf("database_path: %w", err)
	}
	return nil
}

func normalizePaths(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		abs, err := expandPath(p)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, abs) {
			out = append(out, abs)
		}
	}
	return out, nil
}

func expandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to expand %q: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", p, err)
	}
	return abs, nil
}

// FileProvider serves index settings from a TOML file.
// Readers get copies, so a snapshot never changes underneath an operation.
type FileProvider struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	settings Settings
}

// OpenFileProvider loads the settings file at path. When the file does not
// exist a default one is generated. When the file is invalid the provider
// falls back to the default settings and the returned error wraps
// ErrInvalidConfig; the provider is still usable in that case.
func OpenFileProvider(path string) (*FileProvider, error) {
	defaults, err := DefaultSettings()
	if err != nil {
		return nil, err
	}
	if err := defaults.Normalize(); err != nil {
		return nil, err
	}

	p := &FileProvider{
		path:     path,
		logger:   slog.Default(),
		settings: defaults,
	}

	err = p.Reload()
	switch {
	case err == nil:
		p.logger.Info("Loaded configuration file", "path", path)
		return p, nil
	case errors.Is(err, fs.ErrNotExist):
		p.logger.Info("No configuration file found, generating default", "path", path)
		if err := p.write(defaults); err != nil {
			p.logger.Warn("Failed to write default configuration", "path", path, "error", err)
		}
		return p, nil
	case errors.Is(err, ErrInvalidConfig):
		return p, err
	default:
		return nil, err
	}
}

// Path returns the settings file location.
func (p *FileProvider) Path() string {
	return p.path
}

// Reload re-reads the settings file. On failure the current settings are kept.
func (p *FileProvider) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var s Settings
	md, err := toml.Decode(string(data), &s)
	if err != nil {
		return fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidConfig, p.path, err)
	}

	var missing []string
	for _, key := range requiredKeys {
		if !md.IsDefined(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is missing keys: %s", ErrInvalidConfig, p.path, strings.Join(missing, ", "))
	}

	if err := s.Normalize(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current index settings.
func (p *FileProvider) Snapshot() IndexConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.Index()
}

// Settings returns a copy of the full settings.
func (p *FileProvider) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.clone()
}

// Save normalizes s, persists it and makes it the current settings.
func (p *FileProvider) Save(s Settings) error {
	s = s.clone()
	if err := s.Normalize(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := p.write(s); err != nil {
		return err
	}

	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()
	return nil
}

// write encodes s to a temp file next to the settings file and renames it into place.
func (p *FileProvider) write(s Settings) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}
