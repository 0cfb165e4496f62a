package main

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/certledger/internal/auth"
	"github.com/felixgeelhaar/certledger/internal/config"
	"github.com/felixgeelhaar/certledger/internal/domain"
	"github.com/felixgeelhaar/certledger/pkg/client"
)

const requestTimeout = 10 * time.Second

// newClient loads config and returns a daemon client acting as the given address.
func newClient(as string) (*client.Client, *config.LocalConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return newClientFor(cfg, as)
}

// newClientFor signs a token for as with the local secret. An empty as is anonymous.
func newClientFor(cfg *config.LocalConfig, as string) (*client.Client, *config.LocalConfig, error) {
	if as == "" {
		return client.New(cfg.DaemonURL()), cfg, nil
	}

	token, err := signToken(cfg, as)
	if err != nil {
		return nil, nil, fmt.Errorf("--as: %w", err)
	}
	return client.New(cfg.DaemonURL(), client.WithToken(token)), cfg, nil
}

// signToken issues a bearer token for addr with the local secret.
func signToken(cfg *config.LocalConfig, addr string) (string, error) {
	parsed, err := domain.ParseAddress(addr)
	if err != nil {
		return "", err
	}
	tokens, err := auth.NewService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return "", fmt.Errorf("local auth secret: %w", err)
	}
	return tokens.Issue(parsed)
}

// requireCaller fails early for commands the daemon would reject anonymously.
func requireCaller(as, action string) error {
	if as == "" {
		return fmt.Errorf("%s requires --as <address>", action)
	}
	return nil
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func parseID(s, what string) (uint64, error) {
	id, err := domain.ParseCourseID(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return uint64(id), nil
}
