package walker

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"slices"

	"ziton/internal/config"
	"ziton/internal/contextutil"
)

// BuildWatchSet returns every directory that must be watched for cfg: each
// included root plus every admitted directory below it, sorted and unique.
// Files are never stat-ed.
func BuildWatchSet(ctx context.Context, cfg config.IndexConfig) ([]string, error) {
	logger := contextutil.LoggerFromContext(ctx)
	rules := NewRules(cfg)

	var dirs []string
	for _, root := range cfg.IncludedRoots {
		root = filepath.Clean(root)
		if rules.Excluded(root) {
			continue
		}
		sub, err := WatchDirs(ctx, rules, root)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, sub...)
	}

	slices.Sort(dirs)
	dirs = slices.Compact(dirs)
	logger.DebugContext(ctx, "watch set built", "directories", len(dirs))
	return dirs, nil
}

// WatchDirs returns dir and every admitted directory below it, in walk order.
// A dir that does not exist yields an empty set.
func WatchDirs(ctx context.Context, rules *Rules, dir string) ([]string, error) {
	logger := contextutil.LoggerFromContext(ctx)
	dir = filepath.Clean(dir)

	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.WarnContext(ctx, "failed to read directory", "path", path, "error", err)
			}
			return skip(d)
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && !rules.AdmitDir(path, d.Name()) {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dirs, nil
}
