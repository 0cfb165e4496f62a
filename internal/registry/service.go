package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/certledger/internal/domain"
)

// Default collection metadata.
const (
	DefaultName   = "CourseNFT"
	DefaultSymbol = "CNFT"
)

// Config configures a registry service.
type Config struct {
	// Owner seeds the registry owner on first start. A stored owner wins.
	Owner  domain.Address
	Name   string
	Symbol string
	Logger *slog.Logger
}

// Service is the certificate registry. Mutations are serialized by a mutex
// and each runs inside one store transaction; events are appended to the
// outbox in that transaction and dispatched in-process after commit.
type Service struct {
	mu     sync.Mutex
	store  Store
	events *domain.EventDispatcher
	logger *slog.Logger
	name   string
	symbol string
	seed   domain.Address
	now    func() time.Time
}

// NewService creates a registry service over store.
func NewService(store Store, cfg Config) *Service {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Symbol == "" {
		cfg.Symbol = DefaultSymbol
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:  store,
		events: domain.NewEventDispatcher(),
		logger: cfg.Logger,
		name:   cfg.Name,
		symbol: cfg.Symbol,
		seed:   cfg.Owner,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Events returns the in-process dispatcher. Handlers run synchronously after
// commit while writes are still serialized, so they must not call mutating
// methods.
func (s *Service) Events() *domain.EventDispatcher {
	return s.events
}

// Name returns the collection name.
func (s *Service) Name() string { return s.name }

// Symbol returns the collection symbol.
func (s *Service) Symbol() string { return s.symbol }

// Init records the configured owner when the store has none yet.
func (s *Service) Init(ctx context.Context) error {
	return s.write(ctx, func(tx Tx) ([]domain.Event, error) {
		current, err := tx.Owner(ctx)
		if err != nil {
			return nil, fmt.Errorf("load owner: %w", err)
		}
		if !current.IsZero() {
			if !s.seed.IsZero() && !current.Equal(s.seed) {
				s.logger.Warn("configured owner ignored, registry already owned",
					"stored", current.String(), "configured", s.seed.String())
			}
			return nil, nil
		}
		if s.seed.IsZero() {
			return nil, fmt.Errorf("%w: registry owner not configured", domain.ErrZeroAddress)
		}
		if err := tx.SetOwner(ctx, s.seed.Normalized()); err != nil {
			return nil, fmt.Errorf("set owner: %w", err)
		}
		s.logger.Info("registry owner initialized", "owner", s.seed.String())
		return []domain.Event{
			domain.NewOwnershipTransferredEvent(domain.ZeroAddress, s.seed.Normalized(), s.now()),
		}, nil
	})
}

// -----------------------------------------------------------------------------
// Ownership
// -----------------------------------------------------------------------------

// Owner returns the current registry owner.
func (s *Service) Owner(ctx context.Context) (domain.Address, error) {
	var owner domain.Address
	err := s.view(ctx, func(tx Tx) error {
		var err error
		owner, err = tx.Owner(ctx)
		return err
	})
	return owner, err
}

// TransferOwnership hands the registry to next.
func (s *Service) TransferOwnership(ctx context.Context, caller, next domain.Address) error {
	return s.write(ctx, func(tx Tx) ([]domain.Event, error) {
		prev, err := s.requireOwner(ctx, tx, caller)
		if err != nil {
			return nil, err
		}
		if next.IsZero() {
			return nil, fmt.Errorf("%w: new owner", domain.ErrZeroAddress)
		}
		if err := tx.SetOwner(ctx, next.Normalized()); err != nil {
			return nil, fmt.Errorf("set owner: %w", err)
		}
		return []domain.Event{domain.NewOwnershipTransferredEvent(prev, next.Normalized(), s.now())}, nil
	})
}

// -----------------------------------------------------------------------------
// Courses
// -----------------------------------------------------------------------------

// AddCourse marks a course valid. Re-adding a valid course changes nothing.
func (s *Service) AddCourse(ctx context.Context, caller domain.Address, id domain.CourseID) error {
	return s.write(ctx, func(tx Tx) ([]domain.Event, error) {
		if _, err := s.requireOwner(ctx, tx, caller); err != nil {
			return nil, err
		}
		now := s.now()
		course, err := tx.Course(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load course: %w", err)
		}
		if course == nil {
			course = domain.NewCourse(id, now)
		} else if !course.SetValid(true, now) {
			return nil, nil
		}
		if err := tx.SaveCourse(ctx, course); err != nil {
			return nil, fmt.Errorf("save course: %w", err)
		}
		return []domain.Event{domain.NewCourseAddedEvent(id, now)}, nil
	})
}

// RemoveCourse clears a course's validity. Issued certificates are untouched
// and removing an unknown or already invalid course changes nothing.
func (s *Service) RemoveCourse(ctx context.Context, caller domain.Address, id domain.CourseID) error {
	return s.write(ctx, func(tx Tx) ([]domain.Event, error) {
		if _, err := s.requireOwner(ctx, tx, caller); err != nil {
			return nil, err
		}
		now := s.now()
		course, err := tx.Course(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load course: %w", err)
		}
		if course == nil || !course.SetValid(false, now) {
			return nil, nil
		}
		if err := tx.SaveCourse(ctx, course); err != nil {
			return nil, fmt.Errorf("save course: %w", err)
		}
		return []domain.Event{domain.NewCourseRemovedEvent(id, now)}, nil
	})
}

// IsCourseValid reports whether certificates can currently be issued for id.
func (s *Service) IsCourseValid(ctx context.Context, id domain.CourseID) (bool, error) {
	var valid bool
	err := s.view(ctx, func(tx Tx) error {
		course, err := tx.Course(ctx, id)
		if err != nil {
			return err
		}
		valid = course != nil && course.Valid
		return nil
	})
	return valid, err
}

// ListCourses returns every course ever added, valid or not, ordered by id.
func (s *Service) ListCourses(ctx context.Context) ([]*domain.Course, error) {
	var courses []*domain.Course
	err := s.view(ctx, func(tx Tx) error {
		var err error
		courses, err = tx.ListCourses(ctx)
		return err
	})
	return courses, err
}

// -----------------------------------------------------------------------------
// Certificates
// -----------------------------------------------------------------------------

// IssueCertificate records a pending certificate for a valid course and
// returns it with its newly allocated id.
func (s *Service) IssueCertificate(ctx context.Context, caller domain.Address, p domain.IssueParams) (*domain.Certificate, error) {
	var cert *domain.Certificate
	err := s.write(ctx, func(tx Tx) ([]domain.Event, error) {
		if _, err := s.requireOwner(ctx, tx, caller); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		course, err := tx.Course(ctx, p.CourseID)
		if err != nil {
			return nil, fmt.Errorf("load course: %w", err)
		}
		if course == nil || !course.Valid {
			return nil, domain.ErrCourseNotFound
		}
		id, err := tx.NextCertificateID(ctx)
		if err != nil {
			return nil, fmt.Errorf("allocate certificate id: %w", err)
		}
		cert = domain.NewCertificate(id, p, s.now())
		if err := tx.InsertCertificate(ctx, cert); err != nil {
			return nil, fmt.Errorf("insert certificate: %w", err)
		}
		return []domain.Event{domain.NewCertificateIssuedEvent(cert)}, nil
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// MintCertificate lets the recorded recipient claim a pending certificate.
// The certificate must exist, then the caller must be its recipient, then it
// must not be minted yet.
func (s *Service) MintCertificate(ctx context.Context, caller domain.Address, id domain.CertificateID) (*domain.Certificate, error) {
	var cert *domain.Certificate
	err := s.write(ctx, func(tx Tx) ([]domain.Event, error) {
		if caller.IsZero() {
			return nil, domain.ErrNoCaller
		}
		var err error
		cert, err = tx.Certificate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load certificate: %w", err)
		}
		if cert == nil {
			return nil, domain.ErrCertificateNotFound
		}
		now := s.now()
		if err := cert.Mint(caller, now); err != nil {
			return nil, err
		}
		if err := tx.UpdateCertificate(ctx, cert); err != nil {
			return nil, fmt.Errorf("update certificate: %w", err)
		}
		return []domain.Event{domain.NewCertificateMintedEvent(cert, now)}, nil
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// GetCertificate returns the full certificate record.
func (s *Service) GetCertificate(ctx context.Context, id domain.CertificateID) (*domain.Certificate, error) {
	var cert *domain.Certificate
	err := s.view(ctx, func(tx Tx) error {
		var err error
		cert, err = tx.Certificate(ctx, id)
		if err != nil {
			return err
		}
		if cert == nil {
			return domain.ErrCertificateNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// UserCertificates returns every id issued to addr in issuance order,
// pending and minted alike. Unknown addresses yield an empty list.
func (s *Service) UserCertificates(ctx context.Context, addr domain.Address) ([]domain.CertificateID, error) {
	ids := []domain.CertificateID{}
	if addr.IsZero() {
		return ids, nil
	}
	err := s.view(ctx, func(tx Tx) error {
		found, err := tx.CertificateIDsByRecipient(ctx, addr.Normalized())
		if err != nil {
			return err
		}
		ids = append(ids, found...)
		return nil
	})
	return ids, err
}

// IsCertificateMinted reports the minted flag. Unknown ids read as false.
func (s *Service) IsCertificateMinted(ctx context.Context, id domain.CertificateID) (bool, error) {
	var minted bool
	err := s.view(ctx, func(tx Tx) error {
		cert, err := tx.Certificate(ctx, id)
		if err != nil {
			return err
		}
		minted = cert != nil && cert.Minted
		return nil
	})
	return minted, err
}

// TotalIssued returns the number of certificates ever issued.
func (s *Service) TotalIssued(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.view(ctx, func(tx Tx) error {
		var err error
		n, err = tx.CertificateCount(ctx)
		return err
	})
	return n, err
}

// -----------------------------------------------------------------------------
// Tokens
// -----------------------------------------------------------------------------

// OwnerOf returns the holder of a minted token.
func (s *Service) OwnerOf(ctx context.Context, id domain.CertificateID) (domain.Address, error) {
	cert, err := s.mintedCertificate(ctx, id)
	if err != nil {
		return "", err
	}
	return cert.Owner, nil
}

// TokenURI returns the metadata URI of a minted token.
func (s *Service) TokenURI(ctx context.Context, id domain.CertificateID) (string, error) {
	cert, err := s.mintedCertificate(ctx, id)
	if err != nil {
		return "", err
	}
	return cert.MetadataURI, nil
}

// BalanceOf counts minted tokens held by addr.
func (s *Service) BalanceOf(ctx context.Context, addr domain.Address) (uint64, error) {
	if addr.IsZero() {
		return 0, fmt.Errorf("%w: balance query", domain.ErrZeroAddress)
	}
	var n uint64
	err := s.view(ctx, func(tx Tx) error {
		var err error
		n, err = tx.CountOwnedBy(ctx, addr.Normalized())
		return err
	})
	return n, err
}

func (s *Service) mintedCertificate(ctx context.Context, id domain.CertificateID) (*domain.Certificate, error) {
	var cert *domain.Certificate
	err := s.view(ctx, func(tx Tx) error {
		var err error
		cert, err = tx.Certificate(ctx, id)
		if err != nil {
			return err
		}
		if cert == nil || !cert.Minted {
			return domain.ErrTokenNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// -----------------------------------------------------------------------------
// Summary
// -----------------------------------------------------------------------------

// Summary describes the registry as a whole.
type Summary struct {
	Owner       domain.Address `json:"owner"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	TotalIssued uint64         `json:"total_issued"`
}

// Summary reads owner and counter in one transaction.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	sum := Summary{Name: s.name, Symbol: s.symbol}
	err := s.view(ctx, func(tx Tx) error {
		var err error
		if sum.Owner, err = tx.Owner(ctx); err != nil {
			return err
		}
		sum.TotalIssued, err = tx.CertificateCount(ctx)
		return err
	})
	return sum, err
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

func (s *Service) requireOwner(ctx context.Context, tx Tx, caller domain.Address) (domain.Address, error) {
	if caller.IsZero() {
		return "", domain.ErrNoCaller
	}
	owner, err := tx.Owner(ctx)
	if err != nil {
		return "", fmt.Errorf("load owner: %w", err)
	}
	if !owner.Equal(caller) {
		return "", domain.ErrNotOwner
	}
	return owner, nil
}

// write runs fn in a transaction. Any error rolls back everything fn did.
func (s *Service) write(ctx context.Context, fn func(tx Tx) ([]domain.Event, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	events, err := fn(tx)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		records, err := outboxRecords(events)
		if err != nil {
			return err
		}
		if err := tx.AppendOutbox(ctx, records); err != nil {
			return fmt.Errorf("append outbox: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	for _, e := range events {
		s.logger.Debug("registry event", "type", e.EventType(), "aggregate", e.AggregateKey())
	}
	s.events.PublishAll(events)
	return nil
}

func (s *Service) view(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(tx)
}

func outboxRecords(events []domain.Event) ([]OutboxRecord, error) {
	records := make([]OutboxRecord, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
		}
		records = append(records, OutboxRecord{
			ID:         e.EventID().String(),
			Type:       e.EventType(),
			Aggregate:  e.AggregateKey(),
			Payload:    payload,
			OccurredAt: e.OccurredAt(),
		})
	}
	return records, nil
}
