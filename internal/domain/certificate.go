package domain

import (
	"fmt"
	"strconv"
	"time"
)

// CertificateID identifies a certificate. It doubles as the token id once minted.
type CertificateID uint64

// ParseCertificateID parses a decimal certificate id.
func ParseCertificateID(s string) (CertificateID, error) {
	v, err := strconv.ParseUint(s, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: certificate id %q", ErrInvalidInput, s)
	}
	return CertificateID(v), nil
}

func (id CertificateID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// CertificateStatus is the lifecycle state of a certificate.
type CertificateStatus string

const (
	CertificatePending CertificateStatus = "pending"
	CertificateMinted  CertificateStatus = "minted"
)

// Certificate is a grant issued to a recipient for a course.
type Certificate struct {
	ID          CertificateID `json:"certificate_id"`
	Recipient   Address       `json:"recipient"`
	CourseID    CourseID      `json:"course_id"`
	CourseTitle string        `json:"course_title"`
	Level       string        `json:"level"`
	MetadataURI string        `json:"metadata_uri"`
	Minted      bool          `json:"is_minted"`
	Owner       Address       `json:"owner,omitempty"`
	IssuedAt    time.Time     `json:"issued_at"`
	MintedAt    *time.Time    `json:"minted_at,omitempty"`
}

// IssueParams carries the owner-supplied fields of a new certificate.
type IssueParams struct {
	Recipient   Address
	CourseID    CourseID
	CourseTitle string
	Level       string
	MetadataURI string
}

// Validate checks the fields the registry enforces. Title, level and URI are
// descriptive and never validated.
func (p IssueParams) Validate() error {
	if p.Recipient.IsZero() {
		return fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	return nil
}

// NewCertificate creates a pending certificate with the given id.
func NewCertificate(id CertificateID, p IssueParams, now time.Time) *Certificate {
	return &Certificate{
		ID:          id,
		Recipient:   p.Recipient.Normalized(),
		CourseID:    p.CourseID,
		CourseTitle: p.CourseTitle,
		Level:       p.Level,
		MetadataURI: p.MetadataURI,
		IssuedAt:    now,
	}
}

// Status returns pending or minted.
func (c *Certificate) Status() CertificateStatus {
	if c.Minted {
		return CertificateMinted
	}
	return CertificatePending
}

// Mint transitions the certificate to minted and makes caller its owner.
// The recipient is checked before the minted flag.
func (c *Certificate) Mint(caller Address, now time.Time) error {
	if !c.Recipient.Equal(caller) {
		return ErrNotRecipient
	}
	if c.Minted {
		return ErrAlreadyMinted
	}
	c.Minted = true
	c.Owner = c.Recipient
	c.MintedAt = &now
	return nil
}
