// Package client is a typed Go client for the certledger daemon API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds every request unless overridden with WithTimeout.
const DefaultTimeout = 10 * time.Second

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]string
}

func (e *HTTPError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("certledger: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("certledger: %s: %s", e.Code, e.Message)
}

// IsStatus reports whether err is an HTTPError with the given status code.
func IsStatus(err error, status int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == status
}

// Client talks to a running daemon.
type Client struct {
	http *resty.Client
}

// Option configures a Client.
type Option func(*resty.Client)

// WithToken authenticates every request with a bearer token.
func WithToken(token string) Option {
	return func(c *resty.Client) {
		if token != "" {
			c.SetAuthToken(token)
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// New creates a client for the daemon at baseURL, e.g. http://127.0.0.1:7433.
func New(baseURL string, opts ...Option) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(DefaultTimeout).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(rc)
	}
	return &Client{http: rc}
}

// Health returns nil when the daemon answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

// Status returns the registry summary.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Owner returns the registry owner address.
func (c *Client) Owner(ctx context.Context) (string, error) {
	var out struct {
		Owner string `json:"owner"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/owner", nil, &out)
	return out.Owner, err
}

// TransferOwnership hands the registry to next. Owner only.
func (c *Client) TransferOwnership(ctx context.Context, next string) error {
	return c.do(ctx, http.MethodPut, "/v1/owner", map[string]string{"new_owner": next}, nil)
}

// ListCourses returns every course ever added, valid or not.
func (c *Client) ListCourses(ctx context.Context) ([]Course, error) {
	var out struct {
		Courses []Course `json:"courses"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/courses", nil, &out); err != nil {
		return nil, err
	}
	return out.Courses, nil
}

// Course reports whether a course is currently valid.
func (c *Client) Course(ctx context.Context, id uint64) (*Course, error) {
	var out Course
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/courses/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddCourse marks a course valid. Owner only.
func (c *Client) AddCourse(ctx context.Context, id uint64) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/courses/%d", id), nil, nil)
}

// RemoveCourse marks a course invalid. Owner only.
func (c *Client) RemoveCourse(ctx context.Context, id uint64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/courses/%d", id), nil, nil)
}

// IssueCertificate records a pending certificate. Owner only.
func (c *Client) IssueCertificate(ctx context.Context, req IssueRequest) (*Certificate, error) {
	var out Certificate
	if err := c.do(ctx, http.MethodPost, "/v1/certificates", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Certificate fetches a certificate by id.
func (c *Client) Certificate(ctx context.Context, id uint64) (*Certificate, error) {
	var out Certificate
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/certificates/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MintCertificate mints a pending certificate. Recipient only.
func (c *Client) MintCertificate(ctx context.Context, id uint64) (*Certificate, error) {
	var out Certificate
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/certificates/%d/mint", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Token returns the owner and URI of a minted certificate.
func (c *Client) Token(ctx context.Context, id uint64) (*Token, error) {
	var out Token
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/tokens/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserCertificates lists certificate ids issued to addr, in issuance order.
func (c *Client) UserCertificates(ctx context.Context, addr string) ([]uint64, error) {
	var out struct {
		CertificateIDs []uint64 `json:"certificate_ids"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/addresses/"+addr+"/certificates", nil, &out); err != nil {
		return nil, err
	}
	return out.CertificateIDs, nil
}

// Balance counts minted certificates owned by addr.
func (c *Client) Balance(ctx context.Context, addr string) (uint64, error) {
	var out struct {
		Balance uint64 `json:"balance"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/addresses/"+addr+"/balance", nil, &out)
	return out.Balance, err
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return decodeError(resp.StatusCode(), resp.Body())
	}
	return nil
}

func decodeError(status int, body []byte) error {
	he := &HTTPError{StatusCode: status}
	var env struct {
		Error struct {
			Code    string            `json:"code"`
			Message string            `json:"message"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		he.Code = env.Error.Code
		he.Message = env.Error.Message
		he.Details = env.Error.Details
	}
	return he
}
