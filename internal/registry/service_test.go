package registry_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/certledger/internal/domain"
	"github.com/felixgeelhaar/certledger/internal/registry"
	"github.com/felixgeelhaar/certledger/internal/storage/memory"
)

var (
	owner = domain.MustParseAddress("0x0000000000000000000000000000000000000001")
	alice = domain.MustParseAddress("0x00000000000000000000000000000000000a11ce")
	bob   = domain.MustParseAddress("0x0000000000000000000000000000000000000b0b")
)

func setupTestService(t *testing.T) (*registry.Service, *memory.Store) {
	t.Helper()

	store := memory.New()
	svc := registry.NewService(store, registry.Config{Owner: owner})
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return svc, store
}

func basics(recipient domain.Address, course domain.CourseID) domain.IssueParams {
	return domain.IssueParams{
		Recipient:   recipient,
		CourseID:    course,
		CourseTitle: "Blockchain Basics",
		Level:       "Beginner",
		MetadataURI: "ipfs://x",
	}
}

func mustAddCourse(t *testing.T, svc *registry.Service, id domain.CourseID) {
	t.Helper()
	if err := svc.AddCourse(context.Background(), owner, id); err != nil {
		t.Fatalf("AddCourse(%d) error = %v", id, err)
	}
}

func mustIssue(t *testing.T, svc *registry.Service, p domain.IssueParams) domain.CertificateID {
	t.Helper()
	cert, err := svc.IssueCertificate(context.Background(), owner, p)
	if err != nil {
		t.Fatalf("IssueCertificate() error = %v", err)
	}
	return cert.ID
}

func TestInit(t *testing.T) {
	ctx := context.Background()

	t.Run("seeds owner once", func(t *testing.T) {
		svc, store := setupTestService(t)

		got, err := svc.Owner(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got != owner {
			t.Errorf("Owner() = %s, want %s", got, owner)
		}

		// A second service with a different seed keeps the stored owner.
		other := registry.NewService(store, registry.Config{Owner: bob})
		if err := other.Init(ctx); err != nil {
			t.Fatal(err)
		}
		if got, _ := other.Owner(ctx); got != owner {
			t.Errorf("Owner() after re-init = %s, want %s", got, owner)
		}
	})

	t.Run("requires an owner", func(t *testing.T) {
		svc := registry.NewService(memory.New(), registry.Config{})
		if err := svc.Init(ctx); !errors.Is(err, domain.ErrZeroAddress) {
			t.Errorf("Init() error = %v, want ErrZeroAddress", err)
		}
	})

	t.Run("default collection metadata", func(t *testing.T) {
		svc, _ := setupTestService(t)
		if svc.Name() != "CourseNFT" || svc.Symbol() != "CNFT" {
			t.Errorf("Name/Symbol = %s/%s, want CourseNFT/CNFT", svc.Name(), svc.Symbol())
		}
	})
}

// The six walkthroughs below follow one registry from an empty state.
func TestScenarios(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)

	t.Run("1 add course and issue", func(t *testing.T) {
		mustAddCourse(t, svc, 1)
		valid, err := svc.IsCourseValid(ctx, 1)
		if err != nil || !valid {
			t.Fatalf("IsCourseValid(1) = %v, %v; want true", valid, err)
		}

		id := mustIssue(t, svc, basics(alice, 1))
		if id != 1 {
			t.Errorf("certificate id = %d, want 1", id)
		}
		ids, _ := svc.UserCertificates(ctx, alice)
		if !slices.Equal(ids, []domain.CertificateID{1}) {
			t.Errorf("UserCertificates(alice) = %v, want [1]", ids)
		}
	})

	t.Run("2 issue against unknown course", func(t *testing.T) {
		_, err := svc.IssueCertificate(ctx, owner, domain.IssueParams{
			Recipient: bob, CourseID: 999, CourseTitle: "Invalid", Level: "Advanced", MetadataURI: "ipfs://y",
		})
		if !errors.Is(err, domain.ErrCourseNotFound) {
			t.Fatalf("IssueCertificate() error = %v, want ErrCourseNotFound", err)
		}
		if err.Error() != "course does not exist" {
			t.Errorf("message = %q", err.Error())
		}
		ids, _ := svc.UserCertificates(ctx, bob)
		if len(ids) != 0 {
			t.Errorf("UserCertificates(bob) = %v, want []", ids)
		}
	})

	t.Run("3 recipient mints", func(t *testing.T) {
		if _, err := svc.MintCertificate(ctx, alice, 1); err != nil {
			t.Fatalf("MintCertificate() error = %v", err)
		}
		minted, _ := svc.IsCertificateMinted(ctx, 1)
		if !minted {
			t.Error("IsCertificateMinted(1) = false, want true")
		}
		holder, err := svc.OwnerOf(ctx, 1)
		if err != nil || holder != alice {
			t.Errorf("OwnerOf(1) = %s, %v; want alice", holder, err)
		}
	})

	t.Run("4 stranger cannot mint", func(t *testing.T) {
		_, err := svc.MintCertificate(ctx, bob, 1)
		if !errors.Is(err, domain.ErrNotRecipient) {
			t.Fatalf("MintCertificate() error = %v, want ErrNotRecipient", err)
		}
		if err.Error() != "not your certificate" {
			t.Errorf("message = %q", err.Error())
		}
		holder, _ := svc.OwnerOf(ctx, 1)
		if holder != alice {
			t.Errorf("OwnerOf(1) = %s, want alice", holder)
		}
	})

	t.Run("5 second mint fails", func(t *testing.T) {
		_, err := svc.MintCertificate(ctx, alice, 1)
		if !errors.Is(err, domain.ErrAlreadyMinted) {
			t.Fatalf("MintCertificate() error = %v, want ErrAlreadyMinted", err)
		}
		if err.Error() != "certificate already minted" {
			t.Errorf("message = %q", err.Error())
		}
	})

	t.Run("6 two certificates in issuance order", func(t *testing.T) {
		mustAddCourse(t, svc, 2)
		mustAddCourse(t, svc, 3)
		a := mustIssue(t, svc, basics(alice, 2))
		b := mustIssue(t, svc, basics(alice, 3))

		ids, _ := svc.UserCertificates(ctx, alice)
		want := []domain.CertificateID{1, a, b}
		if !slices.Equal(ids, want) {
			t.Errorf("UserCertificates(alice) = %v, want %v", ids, want)
		}
	})
}

func TestCourseValidityToggle(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)

	for _, id := range []domain.CourseID{0, 1, 42, 1 << 40} {
		mustAddCourse(t, svc, id)
		if valid, _ := svc.IsCourseValid(ctx, id); !valid {
			t.Errorf("IsCourseValid(%d) after add = false", id)
		}
		if err := svc.RemoveCourse(ctx, owner, id); err != nil {
			t.Fatal(err)
		}
		if valid, _ := svc.IsCourseValid(ctx, id); valid {
			t.Errorf("IsCourseValid(%d) after remove = true", id)
		}
	}

	t.Run("add is idempotent", func(t *testing.T) {
		mustAddCourse(t, svc, 5)
		mustAddCourse(t, svc, 5)
		courses, _ := svc.ListCourses(ctx)
		n := 0
		for _, c := range courses {
			if c.ID == 5 {
				n++
			}
		}
		if n != 1 {
			t.Errorf("course 5 listed %d times, want 1", n)
		}
	})

	t.Run("removal keeps issued certificates", func(t *testing.T) {
		mustAddCourse(t, svc, 7)
		id := mustIssue(t, svc, basics(alice, 7))
		if err := svc.RemoveCourse(ctx, owner, 7); err != nil {
			t.Fatal(err)
		}
		cert, err := svc.GetCertificate(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if cert.CourseID != 7 || cert.Minted {
			t.Errorf("certificate changed after course removal: %+v", cert)
		}
		if _, err := svc.MintCertificate(ctx, alice, id); err != nil {
			t.Errorf("mint after course removal: %v", err)
		}
	})

	t.Run("remove unknown course succeeds silently", func(t *testing.T) {
		if err := svc.RemoveCourse(ctx, owner, 12345); err != nil {
			t.Errorf("RemoveCourse() error = %v", err)
		}
	})
}

func TestOwnerOnly(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)
	mustAddCourse(t, svc, 1)

	tests := []struct {
		name string
		call func(caller domain.Address) error
	}{
		{"AddCourse", func(c domain.Address) error { return svc.AddCourse(ctx, c, 2) }},
		{"RemoveCourse", func(c domain.Address) error { return svc.RemoveCourse(ctx, c, 1) }},
		{"IssueCertificate", func(c domain.Address) error {
			_, err := svc.IssueCertificate(ctx, c, basics(alice, 1))
			return err
		}},
		{"TransferOwnership", func(c domain.Address) error { return svc.TransferOwnership(ctx, c, bob) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(bob); !errors.Is(err, domain.ErrNotOwner) {
				t.Errorf("as bob: error = %v, want ErrNotOwner", err)
			}
			if err := tt.call(""); !errors.Is(err, domain.ErrNoCaller) {
				t.Errorf("anonymous: error = %v, want ErrNoCaller", err)
			}
		})
	}

	if valid, _ := svc.IsCourseValid(ctx, 1); !valid {
		t.Error("rejected RemoveCourse changed state")
	}
	if n, _ := svc.TotalIssued(ctx); n != 0 {
		t.Errorf("TotalIssued() = %d, want 0", n)
	}
}

func TestIssueCertificate(t *testing.T) {
	ctx := context.Background()

	t.Run("ids strictly increase", func(t *testing.T) {
		svc, _ := setupTestService(t)
		mustAddCourse(t, svc, 1)
		var last domain.CertificateID
		for i := 0; i < 10; i++ {
			id := mustIssue(t, svc, basics(alice, 1))
			if id <= last {
				t.Fatalf("id %d not greater than %d", id, last)
			}
			last = id
		}
		if n, _ := svc.TotalIssued(ctx); n != 10 {
			t.Errorf("TotalIssued() = %d, want 10", n)
		}
	})

	t.Run("invalid course leaves counter unchanged", func(t *testing.T) {
		svc, _ := setupTestService(t)
		mustAddCourse(t, svc, 1)
		mustIssue(t, svc, basics(alice, 1))
		if err := svc.RemoveCourse(ctx, owner, 1); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.IssueCertificate(ctx, owner, basics(alice, 1)); !errors.Is(err, domain.ErrCourseNotFound) {
			t.Fatalf("error = %v, want ErrCourseNotFound", err)
		}
		if n, _ := svc.TotalIssued(ctx); n != 1 {
			t.Errorf("TotalIssued() = %d, want 1", n)
		}
		mustAddCourse(t, svc, 1)
		if id := mustIssue(t, svc, basics(alice, 1)); id != 2 {
			t.Errorf("next id = %d, want 2", id)
		}
	})

	t.Run("zero recipient rejected", func(t *testing.T) {
		svc, _ := setupTestService(t)
		mustAddCourse(t, svc, 1)
		if _, err := svc.IssueCertificate(ctx, owner, basics(domain.ZeroAddress, 1)); !errors.Is(err, domain.ErrZeroAddress) {
			t.Errorf("error = %v, want ErrZeroAddress", err)
		}
	})

	t.Run("record fields", func(t *testing.T) {
		svc, _ := setupTestService(t)
		fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		svc.SetClock(func() time.Time { return fixed })
		mustAddCourse(t, svc, 1)
		id := mustIssue(t, svc, basics(alice, 1))

		cert, err := svc.GetCertificate(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if cert.Recipient != alice || cert.CourseID != 1 || cert.CourseTitle != "Blockchain Basics" ||
			cert.Level != "Beginner" || cert.MetadataURI != "ipfs://x" || cert.Minted {
			t.Errorf("GetCertificate() = %+v", cert)
		}
		if !cert.IssuedAt.Equal(fixed) {
			t.Errorf("IssuedAt = %v, want %v", cert.IssuedAt, fixed)
		}
	})
}

func TestMintCertificate(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown id", func(t *testing.T) {
		svc, _ := setupTestService(t)
		if _, err := svc.MintCertificate(ctx, alice, 77); !errors.Is(err, domain.ErrCertificateNotFound) {
			t.Errorf("error = %v, want ErrCertificateNotFound", err)
		}
	})

	t.Run("anonymous caller", func(t *testing.T) {
		svc, _ := setupTestService(t)
		if _, err := svc.MintCertificate(ctx, "", 1); !errors.Is(err, domain.ErrNoCaller) {
			t.Errorf("error = %v, want ErrNoCaller", err)
		}
	})

	t.Run("owner cannot mint on behalf of recipient", func(t *testing.T) {
		svc, _ := setupTestService(t)
		mustAddCourse(t, svc, 1)
		id := mustIssue(t, svc, basics(alice, 1))
		if _, err := svc.MintCertificate(ctx, owner, id); !errors.Is(err, domain.ErrNotRecipient) {
			t.Errorf("error = %v, want ErrNotRecipient", err)
		}
		if minted, _ := svc.IsCertificateMinted(ctx, id); minted {
			t.Error("certificate minted by owner")
		}
	})

	t.Run("concurrent mints succeed once", func(t *testing.T) {
		svc, _ := setupTestService(t)
		mustAddCourse(t, svc, 1)
		id := mustIssue(t, svc, basics(alice, 1))

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.MintCertificate(ctx, alice, id); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if succeeded != 1 {
			t.Errorf("successful mints = %d, want 1", succeeded)
		}
		if n, _ := svc.BalanceOf(ctx, alice); n != 1 {
			t.Errorf("BalanceOf(alice) = %d, want 1", n)
		}
	})
}

func TestUserCertificatesIsolation(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)
	mustAddCourse(t, svc, 1)

	var wantAlice, wantBob []domain.CertificateID
	for i := 0; i < 6; i++ {
		if i%2 == 0 {
			wantAlice = append(wantAlice, mustIssue(t, svc, basics(alice, 1)))
		} else {
			wantBob = append(wantBob, mustIssue(t, svc, basics(bob, 1)))
		}
	}
	if _, err := svc.MintCertificate(ctx, alice, wantAlice[1]); err != nil {
		t.Fatal(err)
	}

	gotAlice, _ := svc.UserCertificates(ctx, alice)
	gotBob, _ := svc.UserCertificates(ctx, bob)
	if !slices.Equal(gotAlice, wantAlice) {
		t.Errorf("alice = %v, want %v", gotAlice, wantAlice)
	}
	if !slices.Equal(gotBob, wantBob) {
		t.Errorf("bob = %v, want %v", gotBob, wantBob)
	}

	upper := domain.Address("0x00000000000000000000000000000000000A11CE")
	if got, _ := svc.UserCertificates(ctx, upper); !slices.Equal(got, wantAlice) {
		t.Errorf("mixed-case lookup = %v, want %v", got, wantAlice)
	}
	if got, _ := svc.UserCertificates(ctx, domain.MustParseAddress("0x9999999999999999999999999999999999999999")); got == nil || len(got) != 0 {
		t.Errorf("unknown address = %#v, want empty non-nil", got)
	}
}

func TestTokens(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)
	mustAddCourse(t, svc, 1)
	id := mustIssue(t, svc, basics(alice, 1))

	if _, err := svc.OwnerOf(ctx, id); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("OwnerOf(pending) error = %v, want ErrTokenNotFound", err)
	}
	if _, err := svc.TokenURI(ctx, id); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("TokenURI(pending) error = %v, want ErrTokenNotFound", err)
	}
	if _, err := svc.OwnerOf(ctx, 404); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("OwnerOf(unknown) error = %v, want ErrTokenNotFound", err)
	}
	if n, _ := svc.BalanceOf(ctx, alice); n != 0 {
		t.Errorf("BalanceOf(alice) before mint = %d", n)
	}

	if _, err := svc.MintCertificate(ctx, alice, id); err != nil {
		t.Fatal(err)
	}
	uri, err := svc.TokenURI(ctx, id)
	if err != nil || uri != "ipfs://x" {
		t.Errorf("TokenURI() = %q, %v", uri, err)
	}
	if n, _ := svc.BalanceOf(ctx, alice); n != 1 {
		t.Errorf("BalanceOf(alice) = %d, want 1", n)
	}
	if _, err := svc.BalanceOf(ctx, domain.ZeroAddress); !errors.Is(err, domain.ErrZeroAddress) {
		t.Errorf("BalanceOf(zero) error = %v, want ErrZeroAddress", err)
	}
}

func TestGetCertificateUnknown(t *testing.T) {
	svc, _ := setupTestService(t)
	_, err := svc.GetCertificate(context.Background(), 1)
	if !errors.Is(err, domain.ErrCertificateNotFound) {
		t.Errorf("error = %v, want ErrCertificateNotFound", err)
	}
	if minted, err := svc.IsCertificateMinted(context.Background(), 1); err != nil || minted {
		t.Errorf("IsCertificateMinted(unknown) = %v, %v", minted, err)
	}
}

func TestTransferOwnership(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)

	if err := svc.TransferOwnership(ctx, owner, domain.ZeroAddress); !errors.Is(err, domain.ErrZeroAddress) {
		t.Errorf("transfer to zero error = %v, want ErrZeroAddress", err)
	}
	if err := svc.TransferOwnership(ctx, owner, bob); err != nil {
		t.Fatal(err)
	}
	if got, _ := svc.Owner(ctx); got != bob {
		t.Errorf("Owner() = %s, want bob", got)
	}
	if err := svc.AddCourse(ctx, owner, 1); !errors.Is(err, domain.ErrNotOwner) {
		t.Errorf("old owner AddCourse error = %v, want ErrNotOwner", err)
	}
	if err := svc.AddCourse(ctx, bob, 1); err != nil {
		t.Errorf("new owner AddCourse error = %v", err)
	}
}

func TestEventsAndOutbox(t *testing.T) {
	ctx := context.Background()
	svc, store := setupTestService(t)

	var seen []string
	svc.Events().SubscribeAll(func(e domain.Event) {
		seen = append(seen, e.EventType())
	})

	mustAddCourse(t, svc, 1)
	mustAddCourse(t, svc, 1) // no-op, no event
	id := mustIssue(t, svc, basics(alice, 1))
	if _, err := svc.MintCertificate(ctx, bob, id); err == nil {
		t.Fatal("expected rejection")
	}
	if _, err := svc.MintCertificate(ctx, alice, id); err != nil {
		t.Fatal(err)
	}
	if err := svc.RemoveCourse(ctx, owner, 1); err != nil {
		t.Fatal(err)
	}

	want := []string{
		domain.EventCourseAdded,
		domain.EventCertificateIssued,
		domain.EventCertificateMinted,
		domain.EventCourseRemoved,
	}
	if !slices.Equal(seen, want) {
		t.Errorf("dispatched = %v, want %v", seen, want)
	}

	pending, err := store.PendingEvents(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Init wrote the ownership event before the subscription.
	if len(pending) != len(want)+1 {
		t.Fatalf("outbox has %d records, want %d", len(pending), len(want)+1)
	}
	if pending[0].Type != domain.EventOwnershipTransferred {
		t.Errorf("first record = %s, want ownership transfer", pending[0].Type)
	}

	issued := pending[2]
	var body struct {
		Recipient     string `json:"recipient"`
		CourseID      uint64 `json:"course_id"`
		CertificateID uint64 `json:"certificate_id"`
	}
	if err := json.Unmarshal(issued.Payload, &body); err != nil {
		t.Fatal(err)
	}
	if body.Recipient != alice.String() || body.CourseID != 1 || body.CertificateID != uint64(id) {
		t.Errorf("issued payload = %+v", body)
	}
	if issued.Aggregate != "certificate:"+id.String() {
		t.Errorf("aggregate = %q", issued.Aggregate)
	}
}

// failingStore fails AppendOutbox so the whole write must roll back.
type failingStore struct {
	*memory.Store
}

type failingTx struct {
	registry.Tx
}

func (f failingStore) Begin(ctx context.Context) (registry.Tx, error) {
	tx, err := f.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return failingTx{tx}, nil
}

func (failingTx) AppendOutbox(context.Context, []registry.OutboxRecord) error {
	return errors.New("disk full")
}

func TestWriteIsAtomic(t *testing.T) {
	ctx := context.Background()
	base := memory.New()
	seed := registry.NewService(base, registry.Config{Owner: owner})
	if err := seed.Init(ctx); err != nil {
		t.Fatal(err)
	}
	mustAddCourse(t, seed, 1)

	svc := registry.NewService(failingStore{base}, registry.Config{})
	if _, err := svc.IssueCertificate(ctx, owner, basics(alice, 1)); err == nil {
		t.Fatal("IssueCertificate() succeeded with failing outbox")
	}

	if n, _ := seed.TotalIssued(ctx); n != 0 {
		t.Errorf("TotalIssued() = %d, want 0", n)
	}
	if ids, _ := seed.UserCertificates(ctx, alice); len(ids) != 0 {
		t.Errorf("UserCertificates(alice) = %v, want []", ids)
	}
	if _, err := seed.GetCertificate(ctx, 1); !errors.Is(err, domain.ErrCertificateNotFound) {
		t.Errorf("GetCertificate(1) error = %v, want ErrCertificateNotFound", err)
	}
}
