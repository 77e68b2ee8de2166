package creds

import (
	"errors"
	"testing"
)

// newTestSession uses a low scrypt work factor so tests stay fast.
func newTestSession(t *testing.T, passphrase string) *Session {
	t.Helper()
	s := NewSession()
	s.SetWorkFactor(10)
	if passphrase != "" {
		if err := s.Unlock(passphrase); err != nil {
			t.Fatalf("Unlock failed: %v", err)
		}
	}
	return s
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := newTestSession(t, "correct horse")

	enc, err := s.EncryptToken("ghp_secret123")
	if err != nil {
		t.Fatalf("EncryptToken failed: %v", err)
	}
	if enc == "ghp_secret123" {
		t.Fatal("token stored in plaintext")
	}

	got, err := s.DecryptToken(enc)
	if err != nil {
		t.Fatalf("DecryptToken failed: %v", err)
	}
	if got != "ghp_secret123" {
		t.Errorf("expected round trip, got %q", got)
	}
}

func TestLockedSessionRefusesTokenOps(t *testing.T) {
	s := newTestSession(t, "")

	if _, err := s.EncryptToken("tok"); !errors.Is(err, ErrSessionLocked) {
		t.Errorf("expected ErrSessionLocked from EncryptToken, got %v", err)
	}
	if _, err := s.DecryptToken("xxx"); !errors.Is(err, ErrSessionLocked) {
		t.Errorf("expected ErrSessionLocked from DecryptToken, got %v", err)
	}
	if s.Unlocked() {
		t.Error("fresh session must be locked")
	}
}

func TestLockDiscardsPassphrase(t *testing.T) {
	s := newTestSession(t, "pw")
	if !s.Unlocked() {
		t.Fatal("session should be unlocked")
	}
	s.Lock()
	if s.Unlocked() {
		t.Error("Lock did not discard the passphrase")
	}
	if _, err := s.EncryptToken("tok"); !errors.Is(err, ErrSessionLocked) {
		t.Errorf("expected ErrSessionLocked after Lock, got %v", err)
	}
}

func TestWrongPassphraseFailsDecryption(t *testing.T) {
	s := newTestSession(t, "right")
	enc, err := s.EncryptToken("tok")
	if err != nil {
		t.Fatalf("EncryptToken failed: %v", err)
	}

	other := newTestSession(t, "wrong")
	if _, err := other.DecryptToken(enc); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestGarbageCiphertextFailsDecryption(t *testing.T) {
	s := newTestSession(t, "pw")
	if _, err := s.DecryptToken("not base64!!"); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed for bad encoding, got %v", err)
	}
}
