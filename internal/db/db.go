// Package db is the on-device store: syncable records (places, trips, logs,
// saved lists) plus the sync metadata the engine needs — per-record sync
// status, retry bookkeeping, pull watermarks, durable tombstones, and the
// attachment upload queue.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	dataDir = ".wander"
	dbFile  = ".wander/wander.db"
)

// DB wraps the local database connection.
type DB struct {
	conn    *sql.DB
	baseDir string
	locker  *writeLocker
}

// Open opens the database and runs any pending migrations.
func Open(baseDir string) (*DB, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: run 'wander init' first")
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, baseDir: baseDir, locker: newWriteLocker(baseDir)}

	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// Records stuck in 'syncing' from a crashed cycle are re-queued.
	if err := db.requeueStuckSyncing(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("requeue stuck records: %w", err)
	}

	return db, nil
}

// Initialize creates the database and runs migrations.
func Initialize(baseDir string) (*DB, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	db := &DB{conn: conn, baseDir: baseDir, locker: newWriteLocker(baseDir)}

	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func openConn(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL allows concurrent reads while writes are serialized.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	// Busy timeout as fallback protection (matches lock timeout).
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")
	conn.Exec("PRAGMA foreign_keys=ON")

	return conn, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying *sql.DB for use in transactions.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// BaseDir returns the base directory the store was opened in.
func (db *DB) BaseDir() string {
	return db.baseDir
}

// withWriteLock runs fn while holding the cross-process write lock.
func (db *DB) withWriteLock(fn func() error) error {
	if err := db.locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer db.locker.release()
	return fn()
}

// timeFmt is the canonical on-disk timestamp format: RFC3339 with fixed-width
// nanoseconds, so lexicographic comparison in SQL matches chronological order
// (RFC3339Nano trims trailing zeros and does not).
const timeFmt = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFmt)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// parseTime tries common SQLite timestamp formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
