// Package memory is an in-process registry store. Transactions hold an
// exclusive lock and keep an undo log that Rollback replays in reverse.
package memory

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/felixgeelhaar/certledger/internal/domain"
	"github.com/felixgeelhaar/certledger/internal/registry"
)

// ErrTxDone is returned when a finished transaction is used.
var ErrTxDone = errors.New("transaction already finished")

type state struct {
	owner        domain.Address
	counter      uint64
	courses      map[domain.CourseID]domain.Course
	certificates map[domain.CertificateID]domain.Certificate
	byRecipient  map[domain.Address][]domain.CertificateID
	outbox       []registry.OutboxRecord
}

// Store keeps registry state in memory.
type Store struct {
	sem chan struct{}
	st  *state
}

var (
	_ registry.Store  = (*Store)(nil)
	_ registry.Outbox = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		sem: make(chan struct{}, 1),
		st: &state{
			courses:      make(map[domain.CourseID]domain.Course),
			certificates: make(map[domain.CertificateID]domain.Certificate),
			byRecipient:  make(map[domain.Address][]domain.CertificateID),
		},
	}
}

func (s *Store) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlock() { <-s.sem }

// Begin waits for exclusive access to the store.
func (s *Store) Begin(ctx context.Context) (registry.Tx, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	return &tx{store: s}, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// PendingEvents returns unpublished outbox records in append order.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]registry.OutboxRecord, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	var out []registry.OutboxRecord
	for _, r := range s.st.outbox {
		if r.PublishedAt != nil {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		r.Payload = slices.Clone(r.Payload)
		out = append(out, r)
	}
	return out, nil
}

// MarkPublished stamps the given records. Unknown ids are ignored.
func (s *Store) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	for i := range s.st.outbox {
		if slices.Contains(ids, s.st.outbox[i].ID) && s.st.outbox[i].PublishedAt == nil {
			t := at
			s.st.outbox[i].PublishedAt = &t
		}
	}
	return nil
}

type tx struct {
	store *Store
	undo  []func()
	done  bool
}

func (t *tx) check() error {
	if t.done {
		return ErrTxDone
	}
	return nil
}

func (t *tx) Owner(ctx context.Context) (domain.Address, error) {
	if err := t.check(); err != nil {
		return "", err
	}
	if t.store.st.owner == "" {
		return domain.ZeroAddress, nil
	}
	return t.store.st.owner, nil
}

func (t *tx) SetOwner(ctx context.Context, owner domain.Address) error {
	if err := t.check(); err != nil {
		return err
	}
	st := t.store.st
	prev := st.owner
	t.undo = append(t.undo, func() { st.owner = prev })
	st.owner = owner
	return nil
}

func (t *tx) Course(ctx context.Context, id domain.CourseID) (*domain.Course, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	c, ok := t.store.st.courses[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *tx) SaveCourse(ctx context.Context, c *domain.Course) error {
	if err := t.check(); err != nil {
		return err
	}
	st := t.store.st
	prev, existed := st.courses[c.ID]
	t.undo = append(t.undo, func() {
		if existed {
			st.courses[c.ID] = prev
		} else {
			delete(st.courses, c.ID)
		}
	})
	st.courses[c.ID] = *c
	return nil
}

func (t *tx) ListCourses(ctx context.Context) ([]*domain.Course, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]*domain.Course, 0, len(t.store.st.courses))
	for _, c := range t.store.st.courses {
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *domain.Course) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (t *tx) NextCertificateID(ctx context.Context) (domain.CertificateID, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	st := t.store.st
	prev := st.counter
	t.undo = append(t.undo, func() { st.counter = prev })
	st.counter++
	return domain.CertificateID(st.counter), nil
}

func (t *tx) CertificateCount(ctx context.Context) (uint64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	return t.store.st.counter, nil
}

func (t *tx) InsertCertificate(ctx context.Context, c *domain.Certificate) error {
	if err := t.check(); err != nil {
		return err
	}
	st := t.store.st
	if _, exists := st.certificates[c.ID]; exists {
		return errors.New("certificate id already used")
	}
	prevList := st.byRecipient[c.Recipient]
	t.undo = append(t.undo, func() {
		delete(st.certificates, c.ID)
		if len(prevList) == 0 {
			delete(st.byRecipient, c.Recipient)
		} else {
			st.byRecipient[c.Recipient] = prevList
		}
	})
	st.certificates[c.ID] = cloneCertificate(c)
	st.byRecipient[c.Recipient] = append(slices.Clip(prevList), c.ID)
	return nil
}

func (t *tx) Certificate(ctx context.Context, id domain.CertificateID) (*domain.Certificate, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	c, ok := t.store.st.certificates[id]
	if !ok {
		return nil, nil
	}
	out := cloneCertificate(&c)
	return &out, nil
}

func (t *tx) UpdateCertificate(ctx context.Context, c *domain.Certificate) error {
	if err := t.check(); err != nil {
		return err
	}
	st := t.store.st
	prev, ok := st.certificates[c.ID]
	if !ok {
		return domain.ErrCertificateNotFound
	}
	t.undo = append(t.undo, func() { st.certificates[c.ID] = prev })
	st.certificates[c.ID] = cloneCertificate(c)
	return nil
}

func (t *tx) CertificateIDsByRecipient(ctx context.Context, recipient domain.Address) ([]domain.CertificateID, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return slices.Clone(t.store.st.byRecipient[recipient]), nil
}

func (t *tx) CountOwnedBy(ctx context.Context, owner domain.Address) (uint64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	var n uint64
	for _, c := range t.store.st.certificates {
		if c.Minted && c.Owner.Equal(owner) {
			n++
		}
	}
	return n, nil
}

func (t *tx) AppendOutbox(ctx context.Context, records []registry.OutboxRecord) error {
	if err := t.check(); err != nil {
		return err
	}
	st := t.store.st
	prevLen := len(st.outbox)
	t.undo = append(t.undo, func() { st.outbox = st.outbox[:prevLen] })
	for _, r := range records {
		r.Payload = slices.Clone(r.Payload)
		st.outbox = append(st.outbox, r)
	}
	return nil
}

func (t *tx) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	t.undo = nil
	t.store.unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.done = true
	t.undo = nil
	t.store.unlock()
	return nil
}

func cloneCertificate(c *domain.Certificate) domain.Certificate {
	out := *c
	if c.MintedAt != nil {
		at := *c.MintedAt
		out.MintedAt = &at
	}
	return out
}
