package security

import (
	"errors"
	"testing"
	"time"
)

func mustTestProvider(t *testing.T) *TokenProvider {
	t.Helper()
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	return p
}

func TestTokenProvider_IssueAndValidate(t *testing.T) {
	p := mustTestProvider(t)

	access, exp, err := p.IssueAccess("driver1", 42)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if access == "" || exp.Before(time.Now()) {
		t.Fatalf("IssueAccess: token=%q exp=%v", access, exp)
	}
	refresh, refreshExp, err := p.IssueRefresh("driver1", 42)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if !refreshExp.After(exp) {
		t.Errorf("refresh exp %v should be after access exp %v", refreshExp, exp)
	}

	a, err := p.ValidateAccess(access)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if a.Username != "driver1" || a.SessionID != 42 || a.ID == "" {
		t.Errorf("ValidateAccess = %+v", a)
	}
	r, err := p.ValidateRefresh(refresh)
	if err != nil {
		t.Fatalf("ValidateRefresh: %v", err)
	}
	if r.Username != "driver1" || r.SessionID != 42 {
		t.Errorf("ValidateRefresh = %+v", r)
	}
	if a.ID == r.ID {
		t.Error("access and refresh tokens must have distinct jti")
	}
}

func TestTokenProvider_TypesAreNotInterchangeable(t *testing.T) {
	p := mustTestProvider(t)
	access, _, _ := p.IssueAccess("driver1", 1)
	refresh, _, _ := p.IssueRefresh("driver1", 1)

	if _, err := p.ValidateRefresh(access); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateRefresh(access) err = %v, want ErrInvalidToken", err)
	}
	if _, err := p.ValidateAccess(refresh); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateAccess(refresh) err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenProvider_Expired(t *testing.T) {
	p := mustTestProvider(t)
	issuedAt := time.Now().Add(-time.Hour)
	past := p.WithClock(func() time.Time { return issuedAt })
	access, _, err := past.IssueAccess("driver1", 1)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := p.ValidateAccess(access); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ValidateAccess(expired) err = %v, want ErrTokenExpired", err)
	}
	// Tampered expired tokens are invalid, not expired.
	if _, err := p.ValidateAccess(access + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateAccess(tampered) err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenProvider_IssuerAndAudience(t *testing.T) {
	p := mustTestProvider(t)
	access, _, _ := p.IssueAccess("driver1", 1)

	otherIssuer := NewTokenProvider(p.privateKey, p.publicKey, "other-issuer", []string{TestAudience}, time.Minute, time.Hour)
	if _, err := otherIssuer.ValidateAccess(access); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong issuer err = %v, want ErrInvalidToken", err)
	}
	otherAudience := NewTokenProvider(p.privateKey, p.publicKey, TestIssuer, []string{"scanner"}, time.Minute, time.Hour)
	if _, err := otherAudience.ValidateAccess(access); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong audience err = %v, want ErrInvalidToken", err)
	}
	multi := NewTokenProvider(p.privateKey, p.publicKey, TestIssuer, []string{"scanner", TestAudience}, time.Minute, time.Hour)
	if _, err := multi.ValidateAccess(access); err != nil {
		t.Errorf("audience set containing token audience: %v", err)
	}
}

func TestTokenProvider_WrongKey(t *testing.T) {
	p := mustTestProvider(t)
	signer, pub, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeyPair: %v", err)
	}
	other := NewTokenProvider(signer, pub, TestIssuer, []string{TestAudience}, time.Minute, time.Hour)
	token, _, err := other.IssueAccess("driver1", 1)
	if err != nil {
		t.Fatalf("IssueAccess (ES256): %v", err)
	}
	if _, err := other.ValidateAccess(token); err != nil {
		t.Fatalf("ES256 round trip: %v", err)
	}
	if _, err := p.ValidateAccess(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token signed by other key err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenProvider_Malformed(t *testing.T) {
	p := mustTestProvider(t)
	for _, s := range []string{"", "   ", "invalid-token", "a.b.c"} {
		if _, err := p.ValidateAccess(s); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateAccess(%q) err = %v, want ErrInvalidToken", s, err)
		}
		if _, err := p.ValidateRefresh(s); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateRefresh(%q) err = %v, want ErrInvalidToken", s, err)
		}
	}
}
