package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfraud/merlin/internal/domain"
	_ "modernc.org/sqlite"
)

// openSQLite opens the embedded store via the pure-Go driver. Pragmas
// and the pool are tuned for this system's write profile: one
// sequential batch writer whose day rebuilds run delete-then-insert
// inside a single transaction, with API reads going on around it.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./merlin.db"
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL lets alert reads proceed while a rebuild transaction is open;
	// the busy timeout covers the span of a worst-case day rebuild so a
	// concurrent API read waits instead of failing with SQLITE_BUSY.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(30000)&_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// The pipeline is the only writer and runs strictly sequentially; a
	// small pool serves the API readers without contending for the
	// write lock.
	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 4
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}
