// Package storage selects and opens a registry backend.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/certledger/internal/registry"
	"github.com/felixgeelhaar/certledger/internal/storage/memory"
	"github.com/felixgeelhaar/certledger/internal/storage/postgres"
	"github.com/felixgeelhaar/certledger/internal/storage/sqlite"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Backend is a registry store that also feeds the outbox relay.
type Backend interface {
	registry.Store
	registry.Outbox
}

// Options selects a backend.
type Options struct {
	Driver      string
	SQLitePath  string
	PostgresURL string
}

// Open opens and migrates the configured backend.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite path not configured")
		}
		if err := os.MkdirAll(filepath.Dir(opts.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		return sqlite.OpenStore(ctx, opts.SQLitePath)
	case DriverPostgres:
		if opts.PostgresURL == "" {
			return nil, fmt.Errorf("postgres url not configured")
		}
		return postgres.Open(ctx, opts.PostgresURL)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
