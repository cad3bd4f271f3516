package otp

import (
	"testing"
	"time"
)

func TestGenerateAndVerify(t *testing.T) {
	s := NewStore()

	code, err := s.Generate("PM-ABC123")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("Expected 6-digit code, got %q", code)
	}

	ok, reason := s.Verify("PM-ABC123", code)
	if !ok {
		t.Fatalf("Expected verification to succeed, got: %s", reason)
	}

	// Codes are single-use
	ok, reason = s.Verify("PM-ABC123", code)
	if ok {
		t.Fatal("Expected second redemption to fail")
	}
	if reason != "No verification code is pending for this payment" {
		t.Errorf("Unexpected reason: %s", reason)
	}
}

func TestVerify_NoPendingCode(t *testing.T) {
	s := NewStore()

	ok, reason := s.Verify("PM-UNKNOWN", "123456")
	if ok {
		t.Fatal("Expected failure for unknown mandate")
	}
	if reason != "No verification code is pending for this payment" {
		t.Errorf("Unexpected reason: %s", reason)
	}
}

func TestVerify_WrongCodeBurnsAttempts(t *testing.T) {
	s := NewStore()

	code, err := s.Generate("PM-ABC123")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	for i := 0; i < MaxAttempts-1; i++ {
		ok, reason := s.Verify("PM-ABC123", "000000")
		if ok {
			t.Fatal("Expected wrong code to fail")
		}
		if reason != "Incorrect verification code" {
			t.Errorf("Unexpected reason on attempt %d: %s", i+1, reason)
		}
	}

	// Final wrong attempt voids the code
	ok, reason := s.Verify("PM-ABC123", "000000")
	if ok {
		t.Fatal("Expected final wrong attempt to fail")
	}
	if reason != "Too many incorrect attempts" {
		t.Errorf("Unexpected reason: %s", reason)
	}

	// Even the correct code is dead now
	ok, _ = s.Verify("PM-ABC123", code)
	if ok {
		t.Fatal("Expected code to be voided after max attempts")
	}
}

func TestVerify_ExpiredCode(t *testing.T) {
	s := NewStore()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	code, err := s.Generate("PM-ABC123")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	s.now = func() time.Time { return base.Add(TTL + time.Second) }

	ok, reason := s.Verify("PM-ABC123", code)
	if ok {
		t.Fatal("Expected expired code to fail")
	}
	if reason != "Verification code has expired" {
		t.Errorf("Unexpected reason: %s", reason)
	}
}

func TestGenerate_ReplacesOutstandingCode(t *testing.T) {
	s := NewStore()

	first, err := s.Generate("PM-ABC123")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	second, err := s.Generate("PM-ABC123")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if first != second {
		if ok, _ := s.Verify("PM-ABC123", first); ok {
			t.Fatal("Expected replaced code to be rejected")
		}
	}
	if ok, reason := s.Verify("PM-ABC123", second); !ok {
		t.Fatalf("Expected latest code to verify, got: %s", reason)
	}
}

func TestVoid(t *testing.T) {
	s := NewStore()

	code, err := s.Generate("PM-ABC123")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	s.Void("PM-ABC123")

	if s.Pending("PM-ABC123") {
		t.Fatal("Expected no pending code after Void")
	}
	ok, reason := s.Verify("PM-ABC123", code)
	if ok {
		t.Fatal("Expected voided code to be rejected")
	}
	if reason != "No verification code is pending for this payment" {
		t.Errorf("Unexpected reason: %s", reason)
	}

	// Voiding an unknown mandate is a no-op
	s.Void("PM-UNKNOWN")
}

func TestPending(t *testing.T) {
	s := NewStore()

	if s.Pending("PM-ABC123") {
		t.Fatal("Expected no pending code before Generate")
	}

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if _, err := s.Generate("PM-ABC123"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !s.Pending("PM-ABC123") {
		t.Fatal("Expected pending code after Generate")
	}

	s.now = func() time.Time { return base.Add(TTL + time.Second) }
	if s.Pending("PM-ABC123") {
		t.Fatal("Expected expired code to not be pending")
	}
}
