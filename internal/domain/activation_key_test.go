package domain

import (
	"testing"
	"time"
)

func TestActivationKeyIsExpired(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	cases := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{name: "no expiry", expiresAt: nil, want: false},
		{name: "past", expiresAt: &past, want: true},
		{name: "exactly now", expiresAt: &now, want: true},
		{name: "future", expiresAt: &future, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			k := ActivationKey{ExpiresAt: tc.expiresAt}
			if got := k.IsExpired(now); got != tc.want {
				t.Fatalf("IsExpired()=%v want %v", got, tc.want)
			}
		})
	}
}

func TestActivationKeyDeviceCapDefaults(t *testing.T) {
	if got := (&ActivationKey{}).DeviceCap(); got != DefaultMaxDevices {
		t.Fatalf("expected default cap %d, got %d", DefaultMaxDevices, got)
	}
	if got := (&ActivationKey{MaxDevices: 3}).DeviceCap(); got != 3 {
		t.Fatalf("expected cap 3, got %d", got)
	}
}

func TestKeyStatusTransitionsAreMonotonic(t *testing.T) {
	if !CanTransitionKeyStatus(KeyStatusActive, KeyStatusRevoked) {
		t.Fatal("expected active -> revoked to be allowed")
	}
	if !CanTransitionKeyStatus(KeyStatusRevoked, KeyStatusRevoked) {
		t.Fatal("expected repeated revoke to be allowed")
	}
	if CanTransitionKeyStatus(KeyStatusRevoked, KeyStatusActive) {
		t.Fatal("revoked keys must never return to active")
	}
	if CanTransitionKeyStatus(KeyStatusActive, KeyStatus("suspended")) {
		t.Fatal("unknown target status must not be reachable")
	}
}
