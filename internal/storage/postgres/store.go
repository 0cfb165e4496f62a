// Package postgres stores the registry in PostgreSQL. Queries run on a pgx
// pool; schema migrations run once at open over database/sql with lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/felixgeelhaar/certledger/internal/domain"
	"github.com/felixgeelhaar/certledger/internal/registry"
	"github.com/felixgeelhaar/certledger/internal/storage/migrate"
	"github.com/felixgeelhaar/certledger/internal/storage/migrations"
)

// Store implements registry persistence using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ registry.Store  = (*Store)(nil)
	_ registry.Outbox = (*Store)(nil)
)

// NewStore wraps an existing pool. The schema must be migrated.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open migrates the database at url and connects a pool to it.
func Open(ctx context.Context, url string) (*Store, error) {
	if err := Migrate(ctx, url); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewStore(pool), nil
}

// Migrate applies the embedded PostgreSQL migrations.
func Migrate(ctx context.Context, url string) error {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	if _, err := migrate.Apply(ctx, db, migrations.Postgres(), migrate.Postgres); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// Begin starts a read-committed transaction. Rows a write depends on are
// locked as they are read.
func (s *Store) Begin(ctx context.Context) (registry.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &txn{tx: tx, ctx: ctx}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// PendingEvents returns unpublished outbox records in commit order.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]registry.OutboxRecord, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, event_type, aggregate, payload, occurred_at
		FROM outbox WHERE published_at IS NULL ORDER BY seq LIMIT $1`, lim)
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
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox SET published_at = $1 WHERE published_at IS NULL AND event_id = ANY($2)`, at, ids)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

type txn struct {
	tx  pgx.Tx
	ctx context.Context
}

func (t *txn) Owner(ctx context.Context) (domain.Address, error) {
	var v string
	err := t.tx.QueryRow(ctx, "SELECT value FROM registry_meta WHERE key = 'owner' FOR SHARE").Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ZeroAddress, nil
	}
	if err != nil {
		return "", fmt.Errorf("select owner: %w", err)
	}
	return domain.Address(v), nil
}

func (t *txn) SetOwner(ctx context.Context, owner domain.Address) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO registry_meta (key, value) VALUES ('owner', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, owner.String())
	if err != nil {
		return fmt.Errorf("upsert owner: %w", err)
	}
	return nil
}

func (t *txn) Course(ctx context.Context, id domain.CourseID) (*domain.Course, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT course_id, is_valid, created_at, updated_at
		FROM courses WHERE course_id = $1 FOR SHARE`, int64(id))
	c, err := scanCourse(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (t *txn) SaveCourse(ctx context.Context, c *domain.Course) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO courses (course_id, is_valid, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (course_id) DO UPDATE SET
			is_valid = EXCLUDED.is_valid, updated_at = EXCLUDED.updated_at`,
		int64(c.ID), c.Valid, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert course: %w", err)
	}
	return nil
}

func (t *txn) ListCourses(ctx context.Context) ([]*domain.Course, error) {
	rows, err := t.tx.Query(ctx, `
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
	err := t.tx.QueryRow(ctx,
		"UPDATE counters SET value = value + 1 WHERE name = 'certificate' RETURNING value").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("increment counter: %w", err)
	}
	return domain.CertificateID(v), nil
}

func (t *txn) CertificateCount(ctx context.Context) (uint64, error) {
	var v int64
	err := t.tx.QueryRow(ctx, "SELECT value FROM counters WHERE name = 'certificate'").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("select counter: %w", err)
	}
	return uint64(v), nil
}

func (t *txn) InsertCertificate(ctx context.Context, c *domain.Certificate) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO certificates (certificate_id, recipient, course_id, course_title, level,
			metadata_uri, is_minted, owner, issued_at, minted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		int64(c.ID), c.Recipient.String(), int64(c.CourseID), c.CourseTitle, c.Level,
		c.MetadataURI, c.Minted, nullAddress(c.Owner), c.IssuedAt, c.MintedAt)
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

// Certificate locks the row so a concurrent mint from another process waits.
func (t *txn) Certificate(ctx context.Context, id domain.CertificateID) (*domain.Certificate, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT certificate_id, recipient, course_id, course_title, level,
			metadata_uri, is_minted, owner, issued_at, minted_at
		FROM certificates WHERE certificate_id = $1 FOR UPDATE`, int64(id))
	c, err := scanCertificate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (t *txn) UpdateCertificate(ctx context.Context, c *domain.Certificate) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE certificates SET is_minted = $1, owner = $2, minted_at = $3
		WHERE certificate_id = $4`,
		c.Minted, nullAddress(c.Owner), c.MintedAt, int64(c.ID))
	if err != nil {
		return fmt.Errorf("update certificate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCertificateNotFound
	}
	return nil
}

func (t *txn) CertificateIDsByRecipient(ctx context.Context, recipient domain.Address) ([]domain.CertificateID, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT certificate_id FROM certificates WHERE recipient = $1 ORDER BY certificate_id",
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
	err := t.tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM certificates WHERE is_minted AND owner = $1", owner.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count owned: %w", err)
	}
	return uint64(n), nil
}

func (t *txn) AppendOutbox(ctx context.Context, records []registry.OutboxRecord) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO outbox (event_id, event_type, aggregate, payload, occurred_at)
			VALUES ($1, $2, $3, $4, $5)`,
			r.ID, r.Type, r.Aggregate, r.Payload, r.OccurredAt)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

func (t *txn) Commit() error {
	return t.tx.Commit(t.ctx)
}

func (t *txn) Rollback() error {
	err := t.tx.Rollback(context.WithoutCancel(t.ctx))
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func scanCourse(row pgx.Row) (*domain.Course, error) {
	var c domain.Course
	var id int64
	if err := row.Scan(&id, &c.Valid, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan course: %w", err)
	}
	c.ID = domain.CourseID(id)
	return &c, nil
}

func scanCertificate(row pgx.Row) (*domain.Certificate, error) {
	var c domain.Certificate
	var id, courseID int64
	var recipient string
	var owner *string

	err := row.Scan(&id, &recipient, &courseID, &c.CourseTitle, &c.Level,
		&c.MetadataURI, &c.Minted, &owner, &c.IssuedAt, &c.MintedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan certificate: %w", err)
	}

	c.ID = domain.CertificateID(id)
	c.CourseID = domain.CourseID(courseID)
	c.Recipient = domain.Address(recipient)
	if owner != nil {
		c.Owner = domain.Address(*owner)
	}
	return &c, nil
}

func nullAddress(a domain.Address) *string {
	if a.IsZero() {
		return nil
	}
	s := a.String()
	return &s
}
