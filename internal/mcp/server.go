// Package mcp exposes read-only registry lookups as MCP tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/certledger/internal/domain"
	"github.com/felixgeelhaar/certledger/pkg/client"
)

// Registry is the read side of the daemon API. *client.Client implements it.
type Registry interface {
	Certificate(ctx context.Context, id uint64) (*client.Certificate, error)
	UserCertificates(ctx context.Context, addr string) ([]uint64, error)
	Course(ctx context.Context, id uint64) (*client.Course, error)
	Token(ctx context.Context, id uint64) (*client.Token, error)
}

// Server wraps the MCP server with registry lookups
type Server struct {
	mcpServer *server.Server
	registry  Registry
}

// Config contains configuration for the MCP server
type Config struct {
	Registry Registry
	Version  string
}

// NewServer creates a new MCP server for certledger
func NewServer(cfg Config) *Server {
	s := &Server{registry: cfg.Registry}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "certledger",
		Version: version,
	}, server.WithInstructions(`
certledger is a registry of course completion certificates.
The owner issues certificates for valid courses; recipients mint them into tokens.

Available tools (read-only):
- certledger_certificate: Look up a certificate by id
- certledger_user_certificates: List certificate ids issued to an address
- certledger_course: Check whether a course is valid
- certledger_token: Owner and metadata URI of a minted certificate

Addresses are 0x-prefixed 40 hex digit strings.
`))

	s.registerTools()

	return s
}

// registerTools registers all certledger MCP tools
func (s *Server) registerTools() {
	s.mcpServer.Tool("certledger_certificate").
		Description("Look up a certificate by id, including its mint state.").
		Handler(s.handleCertificate)

	s.mcpServer.Tool("certledger_user_certificates").
		Description("List certificate ids issued to an address, in issuance order.").
		Handler(s.handleUserCertificates)

	s.mcpServer.Tool("certledger_course").
		Description("Check whether a course id is currently valid.").
		Handler(s.handleCourse)

	s.mcpServer.Tool("certledger_token").
		Description("Get the owner and token URI of a minted certificate.").
		Handler(s.handleToken)
}

// Input/Output types for tools

type CertificateInput struct {
	CertificateID uint64 `json:"certificate_id" jsonschema:"description=Certificate id (sequential from 1)"`
}

type AddressInput struct {
	Address string `json:"address" jsonschema:"description=0x-prefixed recipient address"`
}

type UserCertificatesOutput struct {
	Address        string   `json:"address"`
	CertificateIDs []uint64 `json:"certificate_ids"`
	Count          int      `json:"count"`
}

type CourseInput struct {
	CourseID uint64 `json:"course_id" jsonschema:"description=Course id"`
}

type CourseOutput struct {
	CourseID uint64 `json:"course_id"`
	IsValid  bool   `json:"is_valid"`
}

type TokenInput struct {
	TokenID uint64 `json:"token_id" jsonschema:"description=Token id (same as the certificate id)"`
}

// Tool handlers

func (s *Server) handleCertificate(ctx context.Context, input CertificateInput) (client.Certificate, error) {
	cert, err := s.registry.Certificate(ctx, input.CertificateID)
	if err != nil {
		return client.Certificate{}, toolError(err, "certificate %d", input.CertificateID)
	}
	return *cert, nil
}

func (s *Server) handleUserCertificates(ctx context.Context, input AddressInput) (UserCertificatesOutput, error) {
	addr, err := domain.ParseAddress(input.Address)
	if err != nil {
		return UserCertificatesOutput{}, err
	}

	ids, err := s.registry.UserCertificates(ctx, addr.String())
	if err != nil {
		return UserCertificatesOutput{}, toolError(err, "certificates of %s", addr)
	}
	if ids == nil {
		ids = []uint64{}
	}
	return UserCertificatesOutput{Address: addr.String(), CertificateIDs: ids, Count: len(ids)}, nil
}

func (s *Server) handleCourse(ctx context.Context, input CourseInput) (CourseOutput, error) {
	course, err := s.registry.Course(ctx, input.CourseID)
	if err != nil {
		return CourseOutput{}, toolError(err, "course %d", input.CourseID)
	}
	return CourseOutput{CourseID: course.CourseID, IsValid: course.IsValid}, nil
}

func (s *Server) handleToken(ctx context.Context, input TokenInput) (client.Token, error) {
	tok, err := s.registry.Token(ctx, input.TokenID)
	if err != nil {
		return client.Token{}, toolError(err, "token %d", input.TokenID)
	}
	return *tok, nil
}

// toolError turns daemon 404s into a plain message and wraps everything else.
func toolError(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if client.IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%s not found", what)
	}
	var he *client.HTTPError
	if errors.As(err, &he) && he.Message != "" {
		return fmt.Errorf("%s: %s", what, he.Message)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
