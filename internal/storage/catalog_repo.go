package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_catalog_store.go -package=mocks ziton/internal/storage CatalogStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
	// ErrClosed is returned when the catalog has been closed.
	ErrClosed = errors.New("catalog is closed")
)

// CatalogStore defines the interface for catalog storage operations.
type CatalogStore interface {
	// Replace atomically discards all entries and installs entries.
	// On error or cancellation the previous catalog is left untouched.
	Replace(ctx context.Context, entries []CatalogEntry) error
	// Insert adds the entry or overwrites the entry with the same path.
	Insert(ctx context.Context, entry CatalogEntry) error
	// DeleteByPath removes the entry at path and reports whether one was removed.
	// Absence is not an error.
	DeleteByPath(ctx context.Context, path string) (bool, error)
	// DeleteTree removes the entry at path and every entry below it.
	// It returns the number of removed entries.
	DeleteTree(ctx context.Context, path string) (int, error)
	// Get returns the entry at path or ErrNotFound.
	Get(ctx context.Context, path string) (CatalogEntry, error)
	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)
	// IntegrityCheck verifies the catalog is structurally readable.
	IntegrityCheck(ctx context.Context) Health
	// Query returns all entries whose name contains pattern, in insertion order.
	// An empty pattern matches every entry.
	Query(ctx context.Context, pattern string, caseSensitive bool) ([]CatalogEntry, error)
	// Reset discards the catalog file and recreates an empty catalog.
	Reset(ctx context.Context) error
	// Created reports whether the catalog did not exist (or was unreadable) when opened.
	Created() bool
}

// CatalogRepo is the SQLite-backed catalog.
// It implements the CatalogStore interface. All mutations go through a single
// writer lock, so Replace, Insert and DeleteByPath never interleave.
type CatalogRepo struct {
	path    string
	created bool

	mu      sync.RWMutex // guards db; held exclusively while the handle is swapped
	db      *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// OpenCatalog opens the catalog at path, creating the parent directory and the
// schema when needed. An existing file that cannot be opened or migrated is
// treated as corrupt: it is removed and a fresh catalog is created in its place.
func OpenCatalog(path string) (*CatalogRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	_, statErr := os.Stat(path)
	created := errors.Is(statErr, fs.ErrNotExist)

	r := &CatalogRepo{
		path:    path,
		created: created,
		logger:  slog.Default(),
	}

	db, err := openAndMigrate(path)
	if err != nil {
		if created {
			return nil, fmt.Errorf("failed to create catalog: %w", err)
		}
		r.logger.Warn("catalog unreadable, recreating", "path", path, "error", err)
		if err := removeCatalogFiles(path); err != nil {
			return nil, err
		}
		db, err = openAndMigrate(path)
		if err != nil {
			return nil, fmt.Errorf("failed to recreate catalog: %w", err)
		}
		r.created = true
	}
	r.db = db

	return r, nil
}

func openAndMigrate(path string) (*sql.DB, error) {
	db, err := New(path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}
	return db, nil
}

// removeCatalogFiles deletes the database file and its WAL side files.
func removeCatalogFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove catalog file %s: %w", p, err)
		}
	}
	return nil
}

// Path returns the location of the catalog file.
func (r *CatalogRepo) Path() string {
	return r.path
}

// Created reports whether the catalog was absent or recreated when opened.
func (r *CatalogRepo) Created() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.created
}

// handle returns the current database handle with the read lock held.
// The caller must call the returned release function.
func (r *CatalogRepo) handle() (*sql.DB, func(), error) {
	r.mu.RLock()
	if r.db == nil {
		r.mu.RUnlock()
		return nil, nil, ErrClosed
	}
	return r.db, r.mu.RUnlock, nil
}

// Replace atomically discards all existing entries and installs entries.
// Everything happens in one transaction, so readers see either the old or the
// new complete catalog and a cancelled context leaves the old one in place.
func (r *CatalogRepo) Replace(ctx context.Context, entries []CatalogEntry) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	db, release, err := r.handle()
	if err != nil {
		return err
	}
	defer release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin replace: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM files"); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO files (filename, filepath, size, modified) VALUES (?, ?, ?, ?)
		 ON CONFLICT (filepath) DO UPDATE SET
		 filename = excluded.filename, size = excluded.size, modified = excluded.modified`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Name, e.Path, e.Size, e.ModifiedAt); err != nil {
			return fmt.Errorf("failed to insert %s: %w", e.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replace: %w", err)
	}

	return nil
}

// Insert inserts a new entry or updates the existing entry with the same path.
func (r *CatalogRepo) Insert(ctx context.Context, entry CatalogEntry) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	db, release, err := r.handle()
	if err != nil {
		return err
	}
	defer release()

	_, err = db.ExecContext(ctx,
		`INSERT INTO files (filename, filepath, size, modified) VALUES (?, ?, ?, ?)
		 ON CONFLICT (filepath) DO UPDATE SET
		 filename = excluded.filename, size = excluded.size, modified = excluded.modified`,
		entry.Name, entry.Path, entry.Size, entry.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// DeleteByPath deletes the entry at path. It reports whether a row was removed.
func (r *CatalogRepo) DeleteByPath(ctx context.Context, path string) (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	db, release, err := r.handle()
	if err != nil {
		return false, err
	}
	defer release()

	result, err := db.ExecContext(ctx, "DELETE FROM files WHERE filepath = ?", path)
	if err != nil {
		return false, fmt.Errorf("failed to delete entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// DeleteTree deletes the entry at path and every entry whose path lies below it.
// Descendants are matched as a byte range on filepath so the unique index is used
// and LIKE wildcards in names need no escaping.
func (r *CatalogRepo) DeleteTree(ctx context.Context, path string) (int, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	db, release, err := r.handle()
	if err != nil {
		return 0, err
	}
	defer release()

	path = filepath.Clean(path)
	prefix := path
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	upper := prefix[:len(prefix)-1] + string(rune(filepath.Separator+1))

	result, err := db.ExecContext(ctx,
		"DELETE FROM files WHERE filepath = ? OR (filepath >= ? AND filepath < ?)",
		path, prefix, upper,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tree: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

// Get gets the entry at path. Returns ErrNotFound if not found.
func (r *CatalogRepo) Get(ctx context.Context, path string) (CatalogEntry, error) {
	db, release, err := r.handle()
	if err != nil {
		return CatalogEntry{}, err
	}
	defer release()

	var e CatalogEntry
	err = db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM files WHERE filepath = ?",
		path,
	).Scan(&e.Name, &e.Path, &e.Size, &e.ModifiedAt)

	if err == sql.ErrNoRows {
		return CatalogEntry{}, ErrNotFound
	}
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("failed to query entry: %w", err)
	}
	return e, nil
}

// Count returns the number of entries in the catalog.
func (r *CatalogRepo) Count(ctx context.Context) (int, error) {
	db, release, err := r.handle()
	if err != nil {
		return 0, err
	}
	defer release()

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// IntegrityCheck runs SQLite's integrity check and verifies the files table is
// readable. Any failure to read is reported as Corrupt.
func (r *CatalogRepo) IntegrityCheck(ctx context.Context) Health {
	db, release, err := r.handle()
	if err != nil {
		return Corrupt
	}
	defer release()

	var status string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check;").Scan(&status); err != nil {
		r.logger.WarnContext(ctx, "integrity check failed", "path", r.path, "error", err)
		return Corrupt
	}
	if status != "ok" {
		r.logger.WarnContext(ctx, "integrity check reported damage", "path", r.path, "status", status)
		return Corrupt
	}

	var one int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM (SELECT 1 FROM files LIMIT 1)").Scan(&one)
	if err != nil {
		r.logger.WarnContext(ctx, "catalog table unreadable", "path", r.path, "error", err)
		return Corrupt
	}

	return Healthy
}

// entryColumns selects the four catalog columns. Timestamps are cast because
// older catalogs stored fractional modification times.
const entryColumns = "filename, filepath, CAST(COALESCE(size, 0) AS INTEGER), CAST(COALESCE(modified, 0) AS INTEGER)"

// Query returns every entry whose name contains pattern, ordered by rowid.
func (r *CatalogRepo) Query(ctx context.Context, pattern string, caseSensitive bool) ([]CatalogEntry, error) {
	db, release, err := r.handle()
	if err != nil {
		return nil, err
	}
	defer release()

	var rows *sql.Rows
	if pattern == "" {
		rows, err = db.QueryContext(ctx, "SELECT "+entryColumns+" FROM files ORDER BY rowid")
	} else {
		rows, err = db.QueryContext(ctx,
			"SELECT "+entryColumns+" FROM files WHERE name_contains(filename, ?, ?) ORDER BY rowid",
			queryPattern(pattern, caseSensitive), caseSensitive,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	entries := make([]CatalogEntry, 0)
	for rows.Next() {
		var e CatalogEntry
		if err := rows.Scan(&e.Name, &e.Path, &e.Size, &e.ModifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return entries, nil
}

// Reset closes the catalog, deletes its files and recreates an empty catalog.
// It waits for in-flight reads and writes to finish first.
func (r *CatalogRepo) Reset(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.logger.WarnContext(ctx, "failed to close catalog before reset", "error", err)
		}
		r.db = nil
	}
	if err := removeCatalogFiles(r.path); err != nil {
		return err
	}
	db, err := openAndMigrate(r.path)
	if err != nil {
		return fmt.Errorf("failed to recreate catalog: %w", err)
	}
	r.db = db
	r.created = true

	r.logger.InfoContext(ctx, "catalog reset", "path", r.path)
	return nil
}

// Close closes the underlying database.
func (r *CatalogRepo) Close() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}
