// Package auth signs and verifies the bearer tokens that carry a caller's
// address to the daemon.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/felixgeelhaar/certledger/internal/domain"
)

var (
	ErrMissingSecret = errors.New("auth secret not configured")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

// DefaultTokenTTL is used when Service is created with a zero TTL.
const DefaultTokenTTL = 24 * time.Hour

const issuer = "certledger"

// Claims are the JWT claims for a caller. Subject holds the address.
type Claims struct {
	jwt.RegisteredClaims
}

// Service issues and verifies HS256 caller tokens
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a token service for the shared secret.
func NewService(secret string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token naming addr as the caller.
func (s *Service) Issue(addr domain.Address) (string, error) {
	if addr.IsZero() {
		return "", domain.ErrZeroAddress
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   addr.Normalized().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of raw and returns the caller.
func (s *Service) Verify(raw string) (domain.Address, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Issuer != issuer {
		return "", ErrInvalidToken
	}

	addr, err := domain.ParseAddress(claims.Subject)
	if err != nil {
		return "", ErrInvalidToken
	}
	return addr.Normalized(), nil
}

// GenerateSecret creates a cryptographically secure random secret
func GenerateSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}
