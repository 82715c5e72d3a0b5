package walker

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"ziton/internal/config"
	"ziton/internal/contextutil"
	"ziton/internal/storage"
)

// Stats summarizes one traversal.
type Stats struct {
	Files    int
	Dirs     int
	Skipped  int // entries rejected by the rules
	Errors   int // unreadable directories and unstat-able entries
	Duration time.Duration
}

// Result is the complete entry set produced by Walk.
type Result struct {
	Entries []storage.CatalogEntry
	Stats   Stats
}

// VisitFunc receives every admitted entry below the walked directory.
// Returning an error aborts the traversal.
type VisitFunc func(entry storage.CatalogEntry, isDir bool) error

// Walk traverses every included root depth-first in lexical order and returns
// the entries that pass the rules. Roots are not emitted themselves.
// Subtrees that cannot be read are logged and skipped; only context
// cancellation or a failing visit aborts the walk.
func Walk(ctx context.Context, cfg config.IndexConfig) (Result, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()
	rules := NewRules(cfg)

	var res Result
	res.Entries = make([]storage.CatalogEntry, 0, 1024)
	seen := make(map[string]struct{})

	for _, root := range cfg.IncludedRoots {
		root = filepath.Clean(root)
		if rules.Excluded(root) {
			logger.InfoContext(ctx, "skipping included directory below an excluded one", "root", root)
			continue
		}

		stats, err := WalkTree(ctx, rules, root, func(e storage.CatalogEntry, isDir bool) error {
			// Overlapping roots yield the same path twice.
			if _, dup := seen[e.Path]; dup {
				return nil
			}
			seen[e.Path] = struct{}{}
			res.Entries = append(res.Entries, e)
			if isDir {
				res.Stats.Dirs++
			} else {
				res.Stats.Files++
			}
			return nil
		})
		res.Stats.Skipped += stats.Skipped
		res.Stats.Errors += stats.Errors
		if err != nil {
			return Result{}, err
		}
	}

	res.Stats.Duration = time.Since(start)
	logger.InfoContext(ctx, "walk completed",
		"roots", len(cfg.IncludedRoots),
		"files", res.Stats.Files,
		"dirs", res.Stats.Dirs,
		"skipped", res.Stats.Skipped,
		"errors", res.Stats.Errors,
		"duration", res.Stats.Duration,
	)
	return res, nil
}

// WalkTree traverses dir with the given rules and calls fn for every admitted
// entry below it. dir itself is not visited.
func WalkTree(ctx context.Context, rules *Rules, dir string, fn VisitFunc) (Stats, error) {
	logger := contextutil.LoggerFromContext(ctx)
	dir = filepath.Clean(dir)

	var stats Stats
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				if path == dir {
					logger.WarnContext(ctx, "directory not found", "path", path)
				}
				return skip(d)
			}
			stats.Errors++
			logger.WarnContext(ctx, "failed to read directory", "path", path, "error", err)
			return skip(d)
		}

		if path == dir {
			if !d.IsDir() {
				logger.WarnContext(ctx, "not a directory", "path", path)
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if !rules.AdmitDir(path, name) {
				stats.Skipped++
				return filepath.SkipDir
			}
		} else if !rules.AdmitFile(name) {
			stats.Skipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Deleted between listing and stat.
			if !errors.Is(err, fs.ErrNotExist) {
				stats.Errors++
				logger.WarnContext(ctx, "failed to stat entry", "path", path, "error", err)
			}
			return skip(d)
		}

		entry, err := storage.EntryFromFileInfo(path, info)
		if err != nil {
			stats.Errors++
			logger.WarnContext(ctx, "invalid entry", "path", path, "error", err)
			return skip(d)
		}

		if d.IsDir() {
			stats.Dirs++
		} else {
			stats.Files++
		}
		return fn(entry, d.IsDir())
	})
	return stats, err
}

// skip stops descent into d when it is a directory and continues otherwise.
func skip(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}
	return nil
}
