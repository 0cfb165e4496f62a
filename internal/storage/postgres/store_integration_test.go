//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/felixgeelhaar/certledger/internal/domain"
	"github.com/felixgeelhaar/certledger/internal/registry"
	"github.com/felixgeelhaar/certledger/internal/storage/postgres"
	"github.com/felixgeelhaar/certledger/internal/storage/storetest"
)

// setupPostgres starts a PostgreSQL container and returns its base URL.
func setupPostgres(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "certledger",
			"POSTGRES_PASSWORD": "certledger",
			"POSTGRES_DB":       "certledger",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("failed to get host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("failed to get port: %v", err)
	}

	url := fmt.Sprintf("postgres://certledger:certledger@%s:%s/certledger?sslmode=disable", host, port.Port())
	cleanup := func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return url, cleanup
}

func TestIntegration_Conformance(t *testing.T) {
	url, cleanup := setupPostgres(t)
	defer cleanup()

	storetest.Run(t, func(t *testing.T) storetest.Backend {
		store, err := postgres.Open(context.Background(), url)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		truncate(t, url)
		return store
	})
}

// truncate resets registry tables between suite cases.
func truncate(t *testing.T, url string) {
	t.Helper()
	ctx := context.Background()
	store, err := postgres.Open(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := postgres.Reset(ctx, store); err != nil {
		t.Fatalf("reset: %v", err)
	}
}

func TestIntegration_MigrateIdempotent(t *testing.T) {
	url, cleanup := setupPostgres(t)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := postgres.Migrate(ctx, url); err != nil {
			t.Fatalf("Migrate() run %d error = %v", i+1, err)
		}
	}
}

func TestIntegration_TwoServicesMintOnce(t *testing.T) {
	url, cleanup := setupPostgres(t)
	defer cleanup()

	ctx := context.Background()
	owner := domain.MustParseAddress("0x0000000000000000000000000000000000000001")
	alice := domain.MustParseAddress("0x00000000000000000000000000000000000a11ce")

	// Two services on separate pools stand in for two daemon processes.
	var services []*registry.Service
	for i := 0; i < 2; i++ {
		store, err := postgres.Open(ctx, url)
		if err != nil {
			t.Fatal(err)
		}
		defer store.Close()
		svc := registry.NewService(store, registry.Config{Owner: owner})
		if err := svc.Init(ctx); err != nil {
			t.Fatal(err)
		}
		services = append(services, svc)
	}

	if err := services[0].AddCourse(ctx, owner, 1); err != nil {
		t.Fatal(err)
	}
	cert, err := services[0].IssueCertificate(ctx, owner, domain.IssueParams{Recipient: alice, CourseID: 1})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(svc *registry.Service) {
			defer wg.Done()
			if _, err := svc.MintCertificate(ctx, alice, cert.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(services[i%2])
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("successful mints = %d; want 1", succeeded)
	}
}
