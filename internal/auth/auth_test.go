package auth

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/models"
)

const secret = "0123456789abcdef0123"

func TestIssueAndVerify(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	iss := NewIssuer(secret, time.Hour, clock)
	token, exp, err := iss.Issue(models.User{ID: 42, Email: "d@itmo.ru", Role: models.RoleDriver})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", exp)
	}
	p, err := iss.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.UserID != 42 || p.Role != models.RoleDriver {
		t.Fatalf("unexpected principal %+v", p)
	}
	if got, ok := ExpiresAt(token); !ok || !got.Equal(exp) {
		t.Fatalf("ExpiresAt = %s %v", got, ok)
	}
	if got, ok := PrincipalOf(token); !ok || got != p {
		t.Fatalf("PrincipalOf = %+v %v", got, ok)
	}

	clock.Advance(2 * time.Hour)
	if _, err := iss.Verify(token); !apperr.IsAuth(err) {
		t.Fatalf("expired token should be an auth error, got %v", err)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	other := NewIssuer("another-secret-of-length", time.Hour, nil)
	token, _, err := other.Issue(models.User{ID: 1, Role: models.RolePassenger})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewIssuer(secret, time.Hour, nil).Verify(token); !apperr.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := NewIssuer(secret, time.Hour, nil).Verify("not-a-token"); !apperr.IsAuth(err) {
		t.Fatalf("expected auth error for garbage, got %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	if _, err := HashPassword("123"); !apperr.IsValidation(err) {
		t.Fatalf("short password should fail validation, got %v", err)
	}
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckPassword(hash, "correct horse"); err != nil {
		t.Fatalf("expected match: %v", err)
	}
	if err := CheckPassword(hash, "wrong"); !apperr.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
