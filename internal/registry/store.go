package registry

import (
	"context"
	"time"

	"github.com/felixgeelhaar/certledger/internal/domain"
)

// Store opens transactions against a registry backend.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is a single all-or-nothing unit of registry work. Writes made through a
// Tx are invisible to other transactions until Commit. Rollback after Commit
// is a no-op so callers can always defer it.
type Tx interface {
	// Owner returns the registry owner, or the zero address when unset.
	Owner(ctx context.Context) (domain.Address, error)
	SetOwner(ctx context.Context, owner domain.Address) error

	// Course returns the course row or nil when it was never added.
	Course(ctx context.Context, id domain.CourseID) (*domain.Course, error)
	SaveCourse(ctx context.Context, c *domain.Course) error
	ListCourses(ctx context.Context) ([]*domain.Course, error)

	// NextCertificateID increments the certificate counter and returns the new value.
	NextCertificateID(ctx context.Context) (domain.CertificateID, error)
	// CertificateCount returns the counter without changing it.
	CertificateCount(ctx context.Context) (uint64, error)
	InsertCertificate(ctx context.Context, c *domain.Certificate) error
	// Certificate returns the record or nil when the id was never issued.
	Certificate(ctx context.Context, id domain.CertificateID) (*domain.Certificate, error)
	UpdateCertificate(ctx context.Context, c *domain.Certificate) error
	// CertificateIDsByRecipient returns ids issued to the address in issuance order.
	CertificateIDsByRecipient(ctx context.Context, recipient domain.Address) ([]domain.CertificateID, error)
	// CountOwnedBy counts minted certificates owned by the address.
	CountOwnedBy(ctx context.Context, owner domain.Address) (uint64, error)

	AppendOutbox(ctx context.Context, records []OutboxRecord) error

	Commit() error
	Rollback() error
}

// OutboxRecord is a serialized domain event awaiting publication.
type OutboxRecord struct {
	ID          string
	Type        string
	Aggregate   string
	Payload     []byte
	OccurredAt  time.Time
	PublishedAt *time.Time
}

// Outbox is implemented by stores that can hand pending events to a relay.
type Outbox interface {
	// PendingEvents returns up to limit unpublished records in commit order.
	PendingEvents(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}
