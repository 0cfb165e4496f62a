package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/felixgeelhaar/certledger/internal/mcp"
)

// cmdMCP serves read-only registry tools over stdio
func cmdMCP() error {
	c, cfg, err := newClient("")
	if err != nil {
		return err
	}
	if !isRunning(cfg) {
		fmt.Fprintln(os.Stderr, "warning: daemon not reachable at", cfg.DaemonURL())
	}

	srv := mcpserver.NewServer(mcpserver.Config{
		Registry: c,
		Version:  Version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.ServeStdio(ctx)
}
