package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/certledger/internal/domain"
	"github.com/felixgeelhaar/certledger/internal/registry"
)

// Store implements registry persistence backed by SQLite.
type Store struct {
	db *DB
}

var (
	_ registry.Store  = (*Store)(nil)
	_ registry.Outbox = (*Store)(nil)
)

// NewStore creates a SQLite-backed registry store. The schema must be migrated.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// OpenStore opens path, applies migrations and returns the store.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return NewStore(db), nil
}

// Begin starts a write-locked transaction.
func (s *Store) Begin(ctx context.Context) (registry.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &txn{tx: tx}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PendingEvents returns unpublished outbox records in commit order.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]registry.OutboxRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, event_type, aggregate, payload, occurred_at
		FROM outbox WHERE published_at IS NULL ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []registry.OutboxRecord
	for rows.Next() {
		var r registry.OutboxRecord
		if err := rows.Scan(&r.ID, &r.Type, &r.Aggregate, &r.Payload, &r.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkPublished stamps the given records.
func (s *Store) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, at)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE outbox SET published_at = ? WHERE published_at IS NULL AND event_id IN (?` +
		strings.Repeat(",?", len(ids)-1) + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

type txn struct {
	tx *sql.Tx
}

func (t *txn) Owner(ctx context.Context) (domain.Address, error) {
	var v string
	err := t.tx.QueryRowContext(ctx, "SELECT value FROM registry_meta WHERE key = 'owner'").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ZeroAddress, nil
	}
	if err != nil {
		return "", fmt.Errorf("select owner: %w", err)
	}
	return domain.Address(v), nil
}

func (t *txn) SetOwner(ctx context.Context, owner domain.Address) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO registry_meta (key, value) VALUES ('owner', ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, owner.String())
	if err != nil {
		return fmt.Errorf("upsert owner: %w", err)
	}
	return nil
}

func (t *txn) Course(ctx context.Context, id domain.CourseID) (*domain.Course, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT course_id, is_valid, created_at, updated_at
		FROM courses WHERE course_id = ?`, int64(id))
	c, err := scanCourse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (t *txn) SaveCourse(ctx context.Context, c *domain.Course) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO courses (course_id, is_valid, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(course_id) DO UPDATE SET
			is_valid=excluded.is_valid, updated_at=excluded.updated_at`,
		int64(c.ID), c.Valid, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert course: %w", err)
	}
	return nil
}

func (t *txn) ListCourses(ctx context.Context) ([]*domain.Course, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT course_id, is_valid, created_at, updated_at
		FROM courses ORDER BY course_id`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	courses := []*domain.Course{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

func (t *txn) NextCertificateID(ctx context.Context) (domain.CertificateID, error) {
	var v int64
	err := t.tx.QueryRowContext(ctx,
		"UPDATE counters SET value = value + 1 WHERE name = 'certificate' RETURNING value").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("increment counter: %w", err)
	}
	return domain.CertificateID(v), nil
}

func (t *txn) CertificateCount(ctx context.Context) (uint64, error) {
	var v int64
	err := t.tx.QueryRowContext(ctx, "SELECT value FROM counters WHERE name = 'certificate'").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("select counter: %w", err)
	}
	return uint64(v), nil
}

func (t *txn) InsertCertificate(ctx context.Context, c *domain.Certificate) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO certificates (certificate_id, recipient, course_id, course_title, level,
			metadata_uri, is_minted, owner, issued_at, minted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(c.ID), c.Recipient.String(), int64(c.CourseID), c.CourseTitle, c.Level,
		c.MetadataURI, c.Minted, nullAddress(c.Owner), c.IssuedAt, nullTime(c.MintedAt))
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (t *txn) Certificate(ctx context.Context, id domain.CertificateID) (*domain.Certificate, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT certificate_id, recipient, course_id, course_title, level,
			metadata_uri, is_minted, owner, issued_at, minted_at
		FROM certificates WHERE certificate_id = ?`, int64(id))
	c, err := scanCertificate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (t *txn) UpdateCertificate(ctx context.Context, c *domain.Certificate) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE certificates SET is_minted = ?, owner = ?, minted_at = ?
		WHERE certificate_id = ?`,
		c.Minted, nullAddress(c.Owner), nullTime(c.MintedAt), int64(c.ID))
	if err != nil {
		return fmt.Errorf("update certificate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCertificateNotFound
	}
	return nil
}

func (t *txn) CertificateIDsByRecipient(ctx context.Context, recipient domain.Address) ([]domain.CertificateID, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT certificate_id FROM certificates WHERE recipient = ? ORDER BY certificate_id",
		recipient.String())
	if err != nil {
		return nil, fmt.Errorf("list certificates by recipient: %w", err)
	}
	defer rows.Close()

	var ids []domain.CertificateID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan certificate id: %w", err)
		}
		ids = append(ids, domain.CertificateID(id))
	}
	return ids, rows.Err()
}

func (t *txn) CountOwnedBy(ctx context.Context, owner domain.Address) (uint64, error) {
	var n int64
	err := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM certificates WHERE is_minted = 1 AND owner = ?", owner.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count owned: %w", err)
	}
	return uint64(n), nil
}

func (t *txn) AppendOutbox(ctx context.Context, records []registry.OutboxRecord) error {
	for _, r := range records {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO outbox (event_id, event_type, aggregate, payload, occurred_at)
			VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.Type, r.Aggregate, r.Payload, r.OccurredAt)
		if err != nil {
			return fmt.Errorf("insert outbox %s: %w", r.Type, err)
		}
	}
	return nil
}

func (t *txn) Commit() error {
	return t.tx.Commit()
}

func (t *txn) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCourse(row scanner) (*domain.Course, error) {
	var c domain.Course
	var id int64
	if err := row.Scan(&id, &c.Valid, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan course: %w", err)
	}
	c.ID = domain.CourseID(id)
	return &c, nil
}

func scanCertificate(row scanner) (*domain.Certificate, error) {
	var c domain.Certificate
	var id, courseID int64
	var recipient string
	var owner sql.NullString
	var mintedAt sql.NullTime

	err := row.Scan(&id, &recipient, &courseID, &c.CourseTitle, &c.Level,
		&c.MetadataURI, &c.Minted, &owner, &c.IssuedAt, &mintedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan certificate: %w", err)
	}

	c.ID = domain.CertificateID(id)
	c.CourseID = domain.CourseID(courseID)
	c.Recipient = domain.Address(recipient)
	if owner.Valid {
		c.Owner = domain.Address(owner.String)
	}
	if mintedAt.Valid {
		c.MintedAt = &mintedAt.Time
	}
	return &c, nil
}

// nullTime converts a *time.Time to sql.NullTime for nullable columns.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullAddress(a domain.Address) sql.NullString {
	if a.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: a.String(), Valid: true}
}
