// Package daemon serves the certificate registry over HTTP.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/go-playground/validator/v10"

	"github.com/felixgeelhaar/certledger/internal/auth"
	"github.com/felixgeelhaar/certledger/internal/registry"
)

// Server represents the certledger daemon HTTP server
type Server struct {
	cfg      ServerConfig
	server   *http.Server
	router   *http.ServeMux
	handler  http.Handler
	validate *validator.Validate
	limiter  ratelimit.RateLimiter
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Addr     string
	Registry *registry.Service
	Tokens   *auth.Service

	// Reported by /v1/status.
	StorageDriver string
	EventsEnabled bool

	// WritesPerSecond limits mutating requests per client; zero disables.
	WritesPerSecond int
}

// NewServer creates a new daemon server
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry service is required")
	}
	if cfg.Tokens == nil {
		return nil, auth.ErrMissingSecret
	}

	s := &Server{
		cfg:      cfg,
		router:   http.NewServeMux(),
		validate: newValidator(),
	}

	if cfg.WritesPerSecond > 0 {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Rate:     cfg.WritesPerSecond,
			Burst:    cfg.WritesPerSecond * 3,
			Interval: time.Second,
		})
	}

	s.setupRoutes()

	// Outermost first: recovery, correlation, logging, auth, rate limit.
	s.handler = recoveryMiddleware(
		correlationIDMiddleware(
			loggingMiddleware(
				authMiddleware(cfg.Tokens)(
					rateLimitMiddleware(s.limiter)(s.router)))))

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)

	// Ownership
	s.router.HandleFunc("GET /v1/owner", s.handleGetOwner)
	s.router.HandleFunc("PUT /v1/owner", s.handleTransferOwnership)

	// Courses
	s.router.HandleFunc("GET /v1/courses", s.handleListCourses)
	s.router.HandleFunc("GET /v1/courses/{id}", s.handleGetCourse)
	s.router.HandleFunc("PUT /v1/courses/{id}", s.handleAddCourse)
	s.router.HandleFunc("DELETE /v1/courses/{id}", s.handleRemoveCourse)

	// Certificates
	s.router.HandleFunc("POST /v1/certificates", s.handleIssueCertificate)
	s.router.HandleFunc("GET /v1/certificates/{id}", s.handleGetCertificate)
	s.router.HandleFunc("POST /v1/certificates/{id}/mint", s.handleMintCertificate)

	// Tokens & addresses
	s.router.HandleFunc("GET /v1/tokens/{id}", s.handleGetToken)
	s.router.HandleFunc("GET /v1/addresses/{address}/certificates", s.handleUserCertificates)
	s.router.HandleFunc("GET /v1/addresses/{address}/balance", s.handleBalance)
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("starting certledger daemon",
		"addr", ln.Addr().String(),
		"storage", s.cfg.StorageDriver,
		"events", s.cfg.EventsEnabled,
	)
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")

	if s.limiter != nil {
		if err := s.limiter.Close(); err != nil {
			slog.Warn("failed to close rate limiter", "error", err)
		}
	}

	return s.server.Shutdown(ctx)
}
