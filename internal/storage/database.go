package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// driverName is the sqlite3 driver variant with the catalog SQL functions registered.
const driverName = "sqlite3_catalog"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("name_contains", matchName, true)
		},
	})
}

// New opens a SQLite database connection at the given path.
// It enables WAL journaling with full synchronous commits so a mutation that
// returned successfully survives a process crash, and readers keep seeing the
// last committed catalog while a replace is in progress.
func New(path string) (*sql.DB, error) {
	if strings.ContainsRune(path, '?') {
		return nil, fmt.Errorf("database path must not contain '?': %q", path)
	}
	dsn := path + "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate runs database migrations to create the required tables.
// It is idempotent and can be run multiple times safely. The unique index is
// created separately from the table so catalogs written without it get upgraded.
func Migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS files (
			filename TEXT NOT NULL,
			filepath TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			modified INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_files_filepath ON files (filepath);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
