package security

import (
	"testing"
	"time"
)

func newTestJWTManager() *JWTManager {
	return NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
}

func TestJWTManagerRoundTripSubject(t *testing.T) {
	m := newTestJWTManager()
	token, err := m.SignAccessToken("owner-1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := m.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "owner-1" {
		t.Fatalf("expected subject owner-1, got %q", claims.Subject)
	}
}

func TestJWTManagerRejectsForeignAudienceAndExpired(t *testing.T) {
	m := newTestJWTManager()
	other := NewJWTManager("iss", "other-aud", "abcdefghijklmnopqrstuvwxyz123456")
	token, err := other.SignAccessToken("owner-1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ParseAccessToken(token); err == nil {
		t.Fatal("expected audience mismatch to fail")
	}

	expired, err := m.SignAccessToken("owner-1", -time.Minute)
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	if _, err := m.ParseAccessToken(expired); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestJWTManagerRequiresOwner(t *testing.T) {
	if _, err := newTestJWTManager().SignAccessToken("", time.Minute); err == nil {
		t.Fatal("expected empty owner to be rejected")
	}
}

func TestInternalTokenHashVerify(t *testing.T) {
	if _, err := HashInternalToken("short"); err == nil {
		t.Fatal("expected short token to be rejected")
	}
	hash, err := HashInternalToken("backend-shared-secret-0001")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !VerifyInternalToken(hash, "backend-shared-secret-0001") {
		t.Fatal("expected token to verify")
	}
	if VerifyInternalToken(hash, "backend-shared-secret-0002") {
		t.Fatal("expected wrong token to fail")
	}
	if VerifyInternalToken("", "backend-shared-secret-0001") {
		t.Fatal("expected empty hash to fail")
	}
}
