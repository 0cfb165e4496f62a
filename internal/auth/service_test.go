package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/felixgeelhaar/certledger/internal/domain"
)

var alice = domain.MustParseAddress("0x00000000000000000000000000000000000A11CE")

func TestNewService_RequiresSecret(t *testing.T) {
	if _, err := NewService("", time.Hour); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("NewService(\"\") error = %v; want ErrMissingSecret", err)
	}
}

func TestIssueVerify(t *testing.T) {
	svc, err := NewService("s3cret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	token, err := svc.Issue(alice)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != alice.Normalized() {
		t.Errorf("Verify() = %s; want %s", got, alice.Normalized())
	}
}

func TestIssue_ZeroAddress(t *testing.T) {
	svc, _ := NewService("s3cret", 0)
	if _, err := svc.Issue(domain.ZeroAddress); !errors.Is(err, domain.ErrZeroAddress) {
		t.Errorf("Issue(zero) error = %v; want ErrZeroAddress", err)
	}
}

func TestVerify_Rejects(t *testing.T) {
	svc, _ := NewService("s3cret", time.Hour)
	other, _ := NewService("different", time.Hour)

	foreign, err := other.Issue(alice)
	if err != nil {
		t.Fatal(err)
	}

	expiredSvc, _ := NewService("s3cret", time.Minute)
	expiredSvc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredSvc.Issue(alice)
	if err != nil {
		t.Fatal(err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: alice.String()},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "bob"},
	})
	badSubjectToken, err := badSubject.SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", expired},
		{"alg none", unsigned},
		{"subject not an address", badSubjectToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v; want ErrInvalidToken", err)
			}
		})
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret(32)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateSecret(32)
	if a == b {
		t.Error("GenerateSecret returned the same value twice")
	}
	if len(a) < 40 || strings.ContainsAny(a, "+/") {
		t.Errorf("GenerateSecret() = %q; want url-safe base64 of 32 bytes", a)
	}
}
