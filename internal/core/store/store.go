package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/deadlinecal/deadlinecal/internal/config"
	"github.com/deadlinecal/deadlinecal/internal/pathguard"
)

const (
	driverLibsql = "libsql"
	driverSQLite = "sqlite"

	busyTimeoutMillis = 5000
)

// StoreUnavailableError reports that the database could not be opened or
// queried.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *StoreUnavailableError
	if errors.As(err, &existing) {
		return err
	}
	return &StoreUnavailableError{Op: op, Err: err}
}

// Store wraps the deadline database. Reads share the lock; writes hold it
// exclusively.
type Store struct {
	DB     *sql.DB
	driver string
	path   pathguard.CanonicalPath

	// Clock stamps created_at and updated_at.
	Clock func() time.Time

	mu sync.RWMutex
}

// Open connects to the database at path. The path must come from
// pathguard.Validate; a zero path is rejected.
func Open(ctx context.Context, cfg config.StoreConfig, path pathguard.CanonicalPath) (*Store, error) {
	if path.IsZero() {
		return nil, errors.New("store path has not been validated")
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = driverLibsql
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var dsn string
	switch driver {
	case driverLibsql:
		dsn = "file:" + path.String()
	case driverSQLite:
		dsn = path.String()
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	if err := ensureStoreDir(path.String()); err != nil {
		return nil, unavailable("prepare directory", err)
	}

	connector, err := newPragmaConnector(driver, dsn, sessionPragmas)
	if err != nil {
		return nil, unavailable("open "+driver, err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping "+driver, err)
	}

	return &Store{DB: db, driver: driver, path: path}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DB.Close()
}

// Driver returns the configured store driver.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Path returns the validated database path.
func (s *Store) Path() pathguard.CanonicalPath {
	if s == nil {
		return pathguard.CanonicalPath{}
	}
	return s.path
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return unavailable("ping", s.DB.PingContext(ctx))
}

func (s *Store) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

func ensureStoreDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
