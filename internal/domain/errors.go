package domain

import "errors"

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent registry-level failures. Stores and services wrap
// them with %w; the HTTP layer matches them with errors.Is.
// -----------------------------------------------------------------------------

// Authorization errors
var (
	ErrNotOwner     = errors.New("caller is not the owner")
	ErrNotRecipient = errors.New("not your certificate")
	ErrNoCaller     = errors.New("caller identity required")
)

// Course errors
var (
	ErrCourseNotFound = errors.New("course does not exist")
)

// Certificate errors
var (
	ErrCertificateNotFound = errors.New("certificate does not exist")
	ErrAlreadyMinted       = errors.New("certificate already minted")
	ErrTokenNotFound       = errors.New("token does not exist")
)

// Address errors
var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrZeroAddress    = errors.New("zero address")
)

// General errors
var (
	ErrInvalidInput = errors.New("invalid input")
)
