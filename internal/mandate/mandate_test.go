package mandate

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"merchant-checkout-api/internal/models"
)

func TestBuild(t *testing.T) {
	b := NewBuilder("agent-001")
	b.now = func() time.Time {
		return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	}

	session := models.CheckoutSession{
		ID:     "cs_1234567890abcdef",
		Status: models.SessionIncomplete,
		Totals: models.Totals{Subtotal: 12.57, Total: 12.57, Currency: "SGD"},
	}
	card := Card{ID: "card-1", HolderName: "Pat Tan", LastFour: "4444", Network: "visa"}

	m, err := b.Build(session, card, "buyer@example.com")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !regexp.MustCompile(`^PM-[0-9A-F]{16}$`).MatchString(m.MandateID) {
		t.Errorf("Unexpected mandate ID: %s", m.MandateID)
	}
	if m.Timestamp != "2025-06-01T10:00:00Z" {
		t.Errorf("Unexpected timestamp: %s", m.Timestamp)
	}
	if m.PaymentDetailsID != session.ID {
		t.Errorf("Unexpected payment details ID: %s", m.PaymentDetailsID)
	}
	if m.TotalAmount.Value != 12.57 || m.TotalAmount.Currency != "SGD" {
		t.Errorf("Unexpected amount: %+v", m.TotalAmount)
	}
	if m.MerchantAgentID != "agent-001" {
		t.Errorf("Unexpected agent ID: %s", m.MerchantAgentID)
	}
	if m.UserAuthorization != "" {
		t.Error("Expected unsigned mandate")
	}

	pm := m.PaymentMethod
	if !regexp.MustCompile(`^REQ-[0-9A-F]{12}$`).MatchString(pm.RequestID) {
		t.Errorf("Unexpected request ID: %s", pm.RequestID)
	}
	if pm.MethodName != "CARD" || pm.PayerEmail != "buyer@example.com" || pm.PayerName != "Pat Tan" {
		t.Errorf("Unexpected payment method: %+v", pm)
	}

	td := pm.TokenDetails
	if td == nil {
		t.Fatal("Expected token details")
	}
	if !regexp.MustCompile(`^\d{16}$`).MatchString(td.Token) {
		t.Errorf("Unexpected token: %s", td.Token)
	}
	// Three years out from June 2025
	if td.TokenExpiry != "05/28" {
		t.Errorf("Unexpected token expiry: %s", td.TokenExpiry)
	}
	if td.CardLastFour != "4444" || td.CardNetwork != "visa" {
		t.Errorf("Unexpected card details: %+v", td)
	}
}

func TestOpaqueToken(t *testing.T) {
	first := OpaqueToken("buyer@example.com", "card-1")
	second := OpaqueToken("buyer@example.com", "card-1")

	if first == second {
		t.Error("Expected fresh randomness per token")
	}
	if strings.ContainsAny(first, "+/=") {
		t.Errorf("Expected raw URL-safe encoding, got %s", first)
	}
	// sha256 -> 43 chars of raw base64url
	if len(first) != 43 {
		t.Errorf("Unexpected token length: %d", len(first))
	}
}
