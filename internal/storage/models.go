package storage

import (
	"fmt"
	"io/fs"
	"path/filepath"
)

// CatalogEntry represents a single file or directory known to the catalog.
// Directories are stored with zero size and zero modification time.
type CatalogEntry struct {
	Name       string `json:"name"`        // Base name (not unique)
	Path       string `json:"path"`        // Absolute path (unique key)
	Size       int64  `json:"size"`        // Size in bytes, 0 for directories
	ModifiedAt int64  `json:"modified_at"` // Unix seconds, 0 for directories
}

// NewCatalogEntry creates a CatalogEntry after validating its fields.
// The path must be absolute and size and modification time must not be negative.
func NewCatalogEntry(name, path string, size, modifiedAt int64) (CatalogEntry, error) {
	if name == "" {
		return CatalogEntry{}, fmt.Errorf("catalog entry name is empty (path %q)", path)
	}
	if !filepath.IsAbs(path) {
		return CatalogEntry{}, fmt.Errorf("catalog entry path must be absolute: %q", path)
	}
	if size < 0 {
		return CatalogEntry{}, fmt.Errorf("catalog entry size must not be negative: %d", size)
	}
	if modifiedAt < 0 {
		return CatalogEntry{}, fmt.Errorf("catalog entry modified time must not be negative: %d", modifiedAt)
	}
	return CatalogEntry{
		Name:       name,
		Path:       filepath.Clean(path),
		Size:       size,
		ModifiedAt: modifiedAt,
	}, nil
}

// EntryFromFileInfo builds the catalog entry for path from its file info.
func EntryFromFileInfo(path string, info fs.FileInfo) (CatalogEntry, error) {
	if info.IsDir() {
		return NewCatalogEntry(filepath.Base(path), path, 0, 0)
	}
	modified := info.ModTime().Unix()
	if modified < 0 {
		modified = 0
	}
	return NewCatalogEntry(filepath.Base(path), path, info.Size(), modified)
}

// Health is the result of a catalog integrity check.
type Health int

const (
	// Healthy means the catalog is structurally readable.
	Healthy Health = iota
	// Corrupt means the catalog must be discarded and rebuilt.
	Corrupt
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Corrupt:
		return "corrupt"
	default:
		return fmt.Sprintf("Health(%d)", int(h))
	}
}
