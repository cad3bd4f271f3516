// Package otp implements the one-time-passcode store backing payment
// step-up challenges. Codes are random, single-use, expire after a fixed
// window and tolerate a bounded number of wrong attempts.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const (
	// TTL is how long a generated code stays redeemable.
	TTL = 5 * time.Minute
	// MaxAttempts is the number of wrong guesses before a code is voided.
	MaxAttempts = 3
)

type entry struct {
	code      string
	expiresAt time.Time
	attempts  int
}

// Store holds pending codes keyed by mandate ID.
type Store struct {
	mu      sync.Mutex
	pending map[string]*entry
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		pending: make(map[string]*entry),
		now:     time.Now,
	}
}

// Generate creates and registers a fresh 6-digit code for a mandate,
// replacing any outstanding one.
func (s *Store) Generate(mandateID string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[mandateID] = &entry{
		code:      code,
		expiresAt: s.now().Add(TTL),
	}

	return code, nil
}

// Verify checks a submitted code against the pending one for a mandate.
// A correct code is consumed; a wrong one burns an attempt. The returned
// reason is user-facing and only set when ok is false.
func (s *Store) Verify(mandateID, code string) (ok bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.pending[mandateID]
	if !exists {
		return false, "No verification code is pending for this payment"
	}

	if s.now().After(e.expiresAt) {
		delete(s.pending, mandateID)
		return false, "Verification code has expired"
	}

	if code != e.code {
		e.attempts++
		if e.attempts >= MaxAttempts {
			delete(s.pending, mandateID)
			return false, "Too many incorrect attempts"
		}
		return false, "Incorrect verification code"
	}

	delete(s.pending, mandateID)
	return true, ""
}

// Void discards any pending code for a mandate, used when the mandate is
// superseded before its challenge is answered.
func (s *Store) Void(mandateID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, mandateID)
}

// Pending reports whether a live (unexpired) code exists for a mandate.
func (s *Store) Pending(mandateID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.pending[mandateID]
	if !exists {
		return false
	}
	if s.now().After(e.expiresAt) {
		delete(s.pending, mandateID)
		return false
	}
	return true
}
