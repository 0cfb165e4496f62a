package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/felixgeelhaar/certledger/internal/auth"
	"github.com/felixgeelhaar/certledger/internal/config"
	"github.com/felixgeelhaar/certledger/internal/daemon"
	"github.com/felixgeelhaar/certledger/internal/domain"
	"github.com/felixgeelhaar/certledger/internal/outbox"
	"github.com/felixgeelhaar/certledger/internal/queue"
	"github.com/felixgeelhaar/certledger/internal/registry"
	"github.com/felixgeelhaar/certledger/internal/storage"
)

const (
	pidFileName = "certledgerd.pid"
	logFileName = "certledgerd.log"
)

func main() {
	if err := run(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Ensure ~/.certledger directory exists
	dir, err := config.EnsureDir()
	if err != nil {
		return fmt.Errorf("ensure certledger dir: %w", err)
	}

	// Load configuration (.env, config.yaml, secrets.yaml, environment)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Setup logging
	logFile, err := setupLogging(dir, parseLogLevel(cfg.Daemon.LogLevel))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()

	if cfg.Auth.Secret == "" {
		return fmt.Errorf("%w (run 'certledger init')", auth.ErrMissingSecret)
	}

	var seed domain.Address
	if cfg.Registry.Owner != "" {
		if seed, err = domain.ParseAddress(cfg.Registry.Owner); err != nil {
			return fmt.Errorf("registry.owner: %w", err)
		}
	}

	// Write PID file
	pidPath := filepath.Join(dir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx := context.Background()

	store, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.Storage.Driver,
		SQLitePath:  cfg.SQLiteFile(dir),
		PostgresURL: cfg.Storage.PostgresURL,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	svc := registry.NewService(store, registry.Config{
		Owner:  seed,
		Name:   cfg.Registry.Name,
		Symbol: cfg.Registry.Symbol,
		Logger: slog.Default().With("component", "registry"),
	})
	if err := svc.Init(ctx); err != nil {
		return fmt.Errorf("init registry: %w", err)
	}

	publisher, closePublisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	relay, err := outbox.New(store, publisher, outbox.Config{
		Schedule:  cfg.Events.RelaySchedule,
		BatchSize: cfg.Events.BatchSize,
		Logger:    slog.Default().With("component", "outbox"),
	})
	if err != nil {
		return fmt.Errorf("create outbox relay: %w", err)
	}
	svc.Events().SubscribeAll(func(domain.Event) { relay.Notify() })
	if err := relay.Start(ctx); err != nil {
		return err
	}

	tokens, err := auth.NewService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	server, err := daemon.NewServer(daemon.ServerConfig{
		Addr:            fmt.Sprintf("%s:%d", cfg.Daemon.Bind, cfg.Daemon.Port),
		Registry:        svc,
		Tokens:          tokens,
		StorageDriver:   cfg.Storage.Driver,
		EventsEnabled:   cfg.Events.Enabled,
		WritesPerSecond: cfg.Daemon.WritesPerSecond,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		slog.Info("received signal, shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	serveErr := server.Start()
	if serveErr == nil {
		<-done
	}

	// Drain whatever the last requests committed.
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	relay.Stop(stopCtx)

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	slog.Info("daemon stopped")
	return nil
}

// newPublisher returns the broker publisher when events are enabled and a
// log-only publisher otherwise, so the outbox always drains.
func newPublisher(cfg *config.LocalConfig) (queue.Publisher, func(), error) {
	logger := slog.Default().With("component", "events")
	if !cfg.Events.Enabled {
		return queue.NewLogPublisher(logger), func() {}, nil
	}

	conn, err := queue.NewConnectionForQueue(cfg.Events.RabbitMQURL, cfg.Events.Queue)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	rcfg := queue.DefaultResilientConfig()
	rcfg.Logger = logger
	pub := queue.NewResilientPublisher(queue.NewProducer(conn), rcfg)

	return pub, func() {
		if err := conn.Close(); err != nil {
			slog.Warn("close rabbitmq connection", "error", err)
		}
	}, nil
}

func writePIDFile(path string) error {
	pid := os.Getpid()
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644)
}
