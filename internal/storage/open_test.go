package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		b, err := Open(ctx, Options{Driver: DriverMemory})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer b.Close()
	})

	t.Run("sqlite creates parent directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "registry.db")
		b, err := Open(ctx, Options{Driver: DriverSQLite, SQLitePath: path})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer b.Close()
		if _, err := b.PendingEvents(ctx, 10); err != nil {
			t.Errorf("PendingEvents() on fresh db error = %v", err)
		}
	})

	t.Run("errors", func(t *testing.T) {
		cases := []Options{
			{Driver: DriverSQLite},
			{Driver: DriverPostgres},
			{Driver: "mongo"},
		}
		for _, opts := range cases {
			if _, err := Open(ctx, opts); err == nil {
				t.Errorf("Open(%+v) should fail", opts)
			}
		}
	})
}
