// Package creds encrypts provider access tokens at rest.
//
// Tokens are sealed with age's scrypt-based passphrase encryption and
// stored base64-encoded in the projects table. The passphrase itself is
// never persisted: it lives in an in-memory Session that the daemon
// unlocks once at startup and the CLI unlocks per invocation.
package creds

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"filippo.io/age"
)

var (
	// ErrSessionLocked is returned when a token operation runs before
	// Unlock or after Lock.
	ErrSessionLocked = errors.New("credential session is locked")

	// ErrDecryptionFailed is returned when a stored token cannot be
	// opened, usually because the passphrase is wrong.
	ErrDecryptionFailed = errors.New("token decryption failed")
)

// Session holds the passphrase for the lifetime of a process. All token
// material derived from it stays in memory.
type Session struct {
	mu         sync.Mutex
	passphrase string

	// workFactor tunes the scrypt cost used when sealing new tokens.
	// Zero means the age default.
	workFactor int
}

// NewSession returns a locked session.
func NewSession() *Session {
	return &Session{}
}

// SetWorkFactor overrides the scrypt cost for newly sealed tokens.
// Lower values weaken the encryption; meant for tests.
func (s *Session) SetWorkFactor(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workFactor = n
}

// Unlock stores the passphrase for subsequent token operations.
func (s *Session) Unlock(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passphrase = passphrase
	return nil
}

// Lock discards the passphrase.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passphrase = ""
}

// Unlocked reports whether token operations are currently possible.
func (s *Session) Unlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passphrase != ""
}

func (s *Session) secret() (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.passphrase == "" {
		return "", 0, ErrSessionLocked
	}
	return s.passphrase, s.workFactor, nil
}

// EncryptToken seals a plaintext token and returns it base64-encoded,
// ready for storage.
func (s *Session) EncryptToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token is required")
	}
	passphrase, workFactor, err := s.secret()
	if err != nil {
		return "", err
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return "", fmt.Errorf("failed to create scrypt recipient: %w", err)
	}
	if workFactor > 0 {
		recipient.SetWorkFactor(workFactor)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", fmt.Errorf("failed to create encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, token); err != nil {
		return "", fmt.Errorf("failed to encrypt token: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecryptToken opens a stored base64-encoded token.
func (s *Session) DecryptToken(encoded string) (string, error) {
	passphrase, _, err := s.secret()
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding: %v", ErrDecryptionFailed, err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return "", fmt.Errorf("failed to create scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	token, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(token), nil
}
