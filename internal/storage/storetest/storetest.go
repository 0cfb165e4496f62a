// Package storetest is a conformance suite every registry backend must pass.
package storetest

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/felixgeelhaar/certledger/internal/domain"
	"github.com/felixgeelhaar/certledger/internal/registry"
)

// Backend is a store that also serves the outbox relay.
type Backend interface {
	registry.Store
	registry.Outbox
}

// OpenFunc returns a fresh, empty, migrated backend. The suite closes it.
type OpenFunc func(t *testing.T) Backend

var (
	alice = domain.MustParseAddress("0x00000000000000000000000000000000000a11ce")
	bob   = domain.MustParseAddress("0x0000000000000000000000000000000000000b0b")
	t0    = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
)

// Run executes the suite against open.
func Run(t *testing.T, open OpenFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Backend)
	}{
		{"Owner", testOwner},
		{"Courses", testCourses},
		{"Counter", testCounter},
		{"Certificates", testCertificates},
		{"RecipientOrder", testRecipientOrder},
		{"Rollback", testRollback},
		{"RollbackAfterCommit", testRollbackAfterCommit},
		{"Outbox", testOutbox},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func begin(t *testing.T, s registry.Store) registry.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	t.Cleanup(func() { _ = tx.Rollback() })
	return tx
}

func commit(t *testing.T, tx registry.Tx) {
	t.Helper()
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}

func testOwner(t *testing.T, s Backend) {
	ctx := context.Background()

	tx := begin(t, s)
	got, err := tx.Owner(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("Owner() on empty store = %q; want zero", got)
	}
	if err := tx.SetOwner(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if err := tx.SetOwner(ctx, bob); err != nil {
		t.Fatal(err)
	}
	commit(t, tx)

	tx = begin(t, s)
	got, err = tx.Owner(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != bob {
		t.Errorf("Owner() = %q; want %q", got, bob)
	}
	commit(t, tx)
}

func testCourses(t *testing.T, s Backend) {
	ctx := context.Background()

	tx := begin(t, s)
	c, err := tx.Course(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Fatalf("Course(1) on empty store = %+v; want nil", c)
	}
	for _, id := range []domain.CourseID{3, 1, 2} {
		if err := tx.SaveCourse(ctx, domain.NewCourse(id, t0)); err != nil {
			t.Fatal(err)
		}
	}
	commit(t, tx)

	tx = begin(t, s)
	c, err = tx.Course(ctx, 2)
	if err != nil || c == nil {
		t.Fatalf("Course(2) = %v, %v", c, err)
	}
	later := t0.Add(time.Hour)
	c.SetValid(false, later)
	if err := tx.SaveCourse(ctx, c); err != nil {
		t.Fatal(err)
	}
	commit(t, tx)

	tx = begin(t, s)
	courses, err := tx.ListCourses(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []domain.CourseID
	for _, c := range courses {
		ids = append(ids, c.ID)
	}
	if !slices.Equal(ids, []domain.CourseID{1, 2, 3}) {
		t.Errorf("ListCourses() ids = %v; want [1 2 3]", ids)
	}
	if courses[1].Valid {
		t.Error("course 2 should be invalid")
	}
	if !courses[1].CreatedAt.Equal(t0) || !courses[1].UpdatedAt.Equal(later) {
		t.Errorf("course 2 times = %v / %v", courses[1].CreatedAt, courses[1].UpdatedAt)
	}
	if !courses[0].Valid {
		t.Error("course 1 should be valid")
	}
	commit(t, tx)
}

func testCounter(t *testing.T, s Backend) {
	ctx := context.Background()

	tx := begin(t, s)
	n, err := tx.CertificateCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("CertificateCount() = %d; want 0", n)
	}
	for want := domain.CertificateID(1); want <= 3; want++ {
		got, err := tx.NextCertificateID(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("NextCertificateID() = %d; want %d", got, want)
		}
	}
	commit(t, tx)

	tx = begin(t, s)
	if n, _ := tx.CertificateCount(ctx); n != 3 {
		t.Errorf("CertificateCount() = %d; want 3", n)
	}
	commit(t, tx)
}

func seedCourse(t *testing.T, s Backend, id domain.CourseID) {
	t.Helper()
	tx := begin(t, s)
	if err := tx.SaveCourse(context.Background(), domain.NewCourse(id, t0)); err != nil {
		t.Fatal(err)
	}
	commit(t, tx)
}

func insert(t *testing.T, tx registry.Tx, recipient domain.Address, course domain.CourseID) *domain.Certificate {
	t.Helper()
	ctx := context.Background()
	id, err := tx.NextCertificateID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cert := domain.NewCertificate(id, domain.IssueParams{
		Recipient:   recipient,
		CourseID:    course,
		CourseTitle: "Blockchain Basics",
		Level:       "Beginner",
		MetadataURI: "ipfs://x",
	}, t0)
	if err := tx.InsertCertificate(ctx, cert); err != nil {
		t.Fatal(err)
	}
	return cert
}

func testCertificates(t *testing.T, s Backend) {
	ctx := context.Background()
	seedCourse(t, s, 1)

	tx := begin(t, s)
	if c, err := tx.Certificate(ctx, 1); err != nil || c != nil {
		t.Fatalf("Certificate(1) on empty store = %v, %v; want nil, nil", c, err)
	}
	cert := insert(t, tx, alice, 1)
	commit(t, tx)

	tx = begin(t, s)
	got, err := tx.Certificate(ctx, cert.ID)
	if err != nil || got == nil {
		t.Fatalf("Certificate() = %v, %v", got, err)
	}
	if got.Recipient != alice || got.CourseID != 1 || got.CourseTitle != "Blockchain Basics" ||
		got.Level != "Beginner" || got.MetadataURI != "ipfs://x" || got.Minted {
		t.Errorf("Certificate() = %+v", got)
	}
	if !got.Owner.IsZero() || got.MintedAt != nil {
		t.Errorf("pending certificate has owner %q minted_at %v", got.Owner, got.MintedAt)
	}
	if !got.IssuedAt.Equal(t0) {
		t.Errorf("IssuedAt = %v; want %v", got.IssuedAt, t0)
	}

	mintedAt := t0.Add(time.Minute)
	if err := got.Mint(alice, mintedAt); err != nil {
		t.Fatal(err)
	}
	if err := tx.UpdateCertificate(ctx, got); err != nil {
		t.Fatal(err)
	}
	commit(t, tx)

	tx = begin(t, s)
	got, err = tx.Certificate(ctx, cert.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Minted || got.Owner != alice || got.MintedAt == nil || !got.MintedAt.Equal(mintedAt) {
		t.Errorf("minted certificate = %+v", got)
	}
	if n, _ := tx.CountOwnedBy(ctx, alice); n != 1 {
		t.Errorf("CountOwnedBy(alice) = %d; want 1", n)
	}
	if n, _ := tx.CountOwnedBy(ctx, bob); n != 0 {
		t.Errorf("CountOwnedBy(bob) = %d; want 0", n)
	}
	commit(t, tx)
}

func testRecipientOrder(t *testing.T, s Backend) {
	ctx := context.Background()
	seedCourse(t, s, 1)

	var wantAlice, wantBob []domain.CertificateID
	for i := 0; i < 5; i++ {
		tx := begin(t, s)
		if i%2 == 0 {
			wantAlice = append(wantAlice, insert(t, tx, alice, 1).ID)
		} else {
			wantBob = append(wantBob, insert(t, tx, bob, 1).ID)
		}
		commit(t, tx)
	}

	tx := begin(t, s)
	got, err := tx.CertificateIDsByRecipient(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, wantAlice) {
		t.Errorf("alice = %v; want %v", got, wantAlice)
	}
	got, _ = tx.CertificateIDsByRecipient(ctx, bob)
	if !slices.Equal(got, wantBob) {
		t.Errorf("bob = %v; want %v", got, wantBob)
	}
	got, _ = tx.CertificateIDsByRecipient(ctx, domain.MustParseAddress("0x9999999999999999999999999999999999999999"))
	if len(got) != 0 {
		t.Errorf("unknown recipient = %v; want empty", got)
	}
	commit(t, tx)
}

func testRollback(t *testing.T, s Backend) {
	ctx := context.Background()
	seedCourse(t, s, 1)

	tx := begin(t, s)
	if err := tx.SetOwner(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if err := tx.SaveCourse(ctx, domain.NewCourse(9, t0)); err != nil {
		t.Fatal(err)
	}
	cert := insert(t, tx, alice, 1)
	if err := tx.AppendOutbox(ctx, []registry.OutboxRecord{record("rolled-back", t0)}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	tx = begin(t, s)
	if owner, _ := tx.Owner(ctx); !owner.IsZero() {
		t.Errorf("owner after rollback = %q", owner)
	}
	if c, _ := tx.Course(ctx, 9); c != nil {
		t.Error("course 9 survived rollback")
	}
	if c, _ := tx.Certificate(ctx, cert.ID); c != nil {
		t.Error("certificate survived rollback")
	}
	if n, _ := tx.CertificateCount(ctx); n != 0 {
		t.Errorf("counter after rollback = %d; want 0", n)
	}
	if ids, _ := tx.CertificateIDsByRecipient(ctx, alice); len(ids) != 0 {
		t.Errorf("recipient list after rollback = %v", ids)
	}
	commit(t, tx)

	pending, err := s.PendingEvents(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("outbox after rollback = %d records", len(pending))
	}
}

func testRollbackAfterCommit(t *testing.T, s Backend) {
	tx := begin(t, s)
	commit(t, tx)
	if err := tx.Rollback(); err != nil {
		t.Errorf("Rollback() after Commit() = %v; want nil", err)
	}

	// The store must still accept new transactions.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx2, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() after finished tx = %v", err)
	}
	if err := tx2.Rollback(); err != nil {
		t.Errorf("Rollback() = %v", err)
	}
}

func record(id string, at time.Time) registry.OutboxRecord {
	return registry.OutboxRecord{
		ID:         id,
		Type:       domain.EventCourseAdded,
		Aggregate:  "course:1",
		Payload:    []byte(`{"course_id":1}`),
		OccurredAt: at,
	}
}

func testOutbox(t *testing.T, s Backend) {
	ctx := context.Background()

	tx := begin(t, s)
	if err := tx.AppendOutbox(ctx, []registry.OutboxRecord{record("e1", t0), record("e2", t0)}); err != nil {
		t.Fatal(err)
	}
	commit(t, tx)
	tx = begin(t, s)
	if err := tx.AppendOutbox(ctx, []registry.OutboxRecord{record("e3", t0)}); err != nil {
		t.Fatal(err)
	}
	commit(t, tx)

	pending, err := s.PendingEvents(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != "e1" || pending[1].ID != "e2" {
		t.Fatalf("PendingEvents(2) = %+v; want e1, e2", pending)
	}
	if string(pending[0].Payload) != `{"course_id":1}` && string(pending[0].Payload) != `{"course_id": 1}` {
		t.Errorf("payload = %s", pending[0].Payload)
	}
	if pending[0].Type != domain.EventCourseAdded || pending[0].Aggregate != "course:1" {
		t.Errorf("record = %+v", pending[0])
	}
	if !pending[0].OccurredAt.Equal(t0) {
		t.Errorf("OccurredAt = %v; want %v", pending[0].OccurredAt, t0)
	}

	if err := s.MarkPublished(ctx, []string{"e1", "e2"}, t0.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	pending, err = s.PendingEvents(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "e3" {
		t.Errorf("PendingEvents() after mark = %+v; want e3", pending)
	}

	if err := s.MarkPublished(ctx, nil, t0); err != nil {
		t.Errorf("MarkPublished(nil) = %v", err)
	}
}
