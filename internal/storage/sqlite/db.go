package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/felixgeelhaar/certledger/internal/storage/migrate"
	"github.com/felixgeelhaar/certledger/internal/storage/migrations"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a sql.DB connection to a SQLite database with migration support.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and foreign keys enabled.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)

	return &DB{DB: db}, nil
}

// Migrate applies all pending embedded SQLite migrations.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := migrate.Apply(ctx, db.DB, migrations.SQLite(), migrate.SQLite)
	return err
}

// Version returns the current schema version.
func (db *DB) Version(ctx context.Context) (int, error) {
	return migrate.Version(ctx, db.DB)
}
