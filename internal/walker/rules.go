package walker

import (
	"path/filepath"
	"strings"

	"ziton/internal/config"
)

// hiddenMarker prefixes the base name of hidden files and directories.
const hiddenMarker = "."

// Rules decides which files and directories take part in the index.
// The walker, the watch set builder and the change monitor all share one Rules value,
// so every component agrees on what is indexed.
type Rules struct {
	includeHidden bool
	excludedNames map[string]struct{}
	excludedRoots []string
}

// NewRules compiles the exclusion and hidden-file settings of cfg.
func NewRules(cfg config.IndexConfig) *Rules {
	r := &Rules{
		includeHidden: cfg.IncludeHidden,
		excludedNames: make(map[string]struct{}, len(cfg.ExcludedFolderNames)),
		excludedRoots: make([]string, 0, len(cfg.ExcludedRoots)),
	}
	for _, name := range cfg.ExcludedFolderNames {
		r.excludedNames[name] = struct{}{}
	}
	for _, root := range cfg.ExcludedRoots {
		r.excludedRoots = append(r.excludedRoots, filepath.Clean(root))
	}
	return r
}

// AdmitFile reports whether a file with the given base name is indexed.
func (r *Rules) AdmitFile(name string) bool {
	return r.includeHidden || !isHidden(name)
}

// AdmitDir reports whether the directory at path is indexed and descended into.
func (r *Rules) AdmitDir(path, name string) bool {
	if !r.includeHidden && isHidden(name) {
		return false
	}
	if _, ok := r.excludedNames[name]; ok {
		return false
	}
	return !r.Excluded(path)
}

// Excluded reports whether path is an excluded root or lies below one.
func (r *Rules) Excluded(path string) bool {
	path = filepath.Clean(path)
	for _, root := range r.excludedRoots {
		if path == root {
			return true
		}
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Admit applies the file or directory rule matching isDir.
func (r *Rules) Admit(path string, isDir bool) bool {
	name := filepath.Base(path)
	if isDir {
		return r.AdmitDir(path, name)
	}
	return r.AdmitFile(name) && !r.Excluded(filepath.Dir(path))
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, hiddenMarker)
}
