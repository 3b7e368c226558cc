// Package history keeps a record of every generation request in SQLite.
package history

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// Pure Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrClosed = errors.New("history: store is closed")

// ConnectionConfig tunes the SQLite connection.
type ConnectionConfig struct {
	Path string
	// BusyTimeout is how long a writer waits for the lock.
	BusyTimeout  time.Duration
	MaxOpenConns int
}

func DefaultConnectionConfig(path string) ConnectionConfig {
	return ConnectionConfig{Path: path, BusyTimeout: 5 * time.Second, MaxOpenConns: 1}
}

// openSQLite opens path in WAL mode with foreign keys on.
func openSQLite(cfg ConnectionConfig) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("history: database path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA foreign_keys=ON",
	}
	for _, q := range pragmas {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", q, err)
		}
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		db.Close()
		return nil, fmt.Errorf("verify journal mode: %w", err)
	}
	if mode != "wal" {
		db.Close()
		return nil, fmt.Errorf("WAL mode not enabled, got %s", mode)
	}
	return db, nil
}

// Store owns the database connection.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Open creates the parent directory, applies pending migrations and
// returns a ready store.
func Open(path string) (*Store, error) {
	return OpenWithConfig(DefaultConnectionConfig(path))
}

func OpenWithConfig(cfg ConnectionConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("history: database path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}
	if err := migrateUp(cfg); err != nil {
		return nil, err
	}
	db, err := openSQLite(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, path: cfg.Path}, nil
}

// migrateUp runs on its own connection; the migrator closes it.
func migrateUp(cfg ConnectionConfig) error {
	db, err := openSQLite(cfg)
	if err != nil {
		return err
	}
	m, err := newMigrator(db)
	if err != nil {
		db.Close()
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{DatabaseName: "main"})
	if err != nil {
		return nil, fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion() (uint, bool, error) {
	s.mu.RLock()
	path := s.path
	s.mu.RUnlock()
	db, err := openSQLite(DefaultConnectionConfig(path))
	if err != nil {
		return 0, false, err
	}
	m, err := newMigrator(db)
	if err != nil {
		db.Close()
		return 0, false, err
	}
	defer m.Close()
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

func (s *Store) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

// Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
