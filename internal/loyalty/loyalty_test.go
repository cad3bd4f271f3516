package loyalty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"merchant-checkout-api/internal/events"
)

func TestAward(t *testing.T) {
	var got awardRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/loyalty/award" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode award: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Award(context.Background(), "buyer@example.com", 12.57, "PAY-TEST12345678"); err != nil {
		t.Fatalf("Award failed: %v", err)
	}

	if got.UserEmail != "buyer@example.com" {
		t.Errorf("Unexpected email: %s", got.UserEmail)
	}
	// One point per whole currency unit
	if got.Points != 12 {
		t.Errorf("Expected 12 points, got %d", got.Points)
	}
	if got.TransactionID != "PAY-TEST12345678" {
		t.Errorf("Unexpected transaction: %s", got.TransactionID)
	}
	if got.Description != "Purchase reward ($12.57)" {
		t.Errorf("Unexpected description: %s", got.Description)
	}
}

func TestAward_NilClientDrops(t *testing.T) {
	c := NewClient("")
	if c != nil {
		t.Fatal("Expected nil client for empty URL")
	}
	if err := c.Award(context.Background(), "buyer@example.com", 10, "PAY-X"); err != nil {
		t.Fatalf("Expected nil client to drop silently, got %v", err)
	}
}

func TestAward_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Award(context.Background(), "buyer@example.com", 10, "PAY-X"); err == nil {
		t.Fatal("Expected error for 502 response")
	}
}

// Awards are published from HTTP handlers whose request context is canceled
// as soon as the response is written. The award must still reach the loyalty
// service.
func TestEventHandler_DeliversAfterRequestContextCanceled(t *testing.T) {
	delivered := make(chan awardRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var award awardRequest
		if err := json.NewDecoder(r.Body).Decode(&award); err != nil {
			t.Errorf("Failed to decode award: %v", err)
		}
		delivered <- award
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	em := events.NewManager(true)
	defer em.Shutdown()
	em.Subscribe(events.EventPaymentCompleted, NewClient(srv.URL).EventHandler())

	ctx, cancel := context.WithCancel(context.Background())
	em.PublishPaymentCompleted(ctx, events.PaymentCompletedData{
		SessionID:  "cs_1234567890abcdef",
		BuyerEmail: "buyer@example.com",
		Amount:     12.57,
		PaymentID:  "PAY-TEST12345678",
	})
	cancel()

	select {
	case award := <-delivered:
		if award.UserEmail != "buyer@example.com" || award.Points != 12 {
			t.Errorf("Unexpected award: %+v", award)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Award never reached the loyalty service")
	}
}

func TestEventHandler(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	handler := c.EventHandler()

	err := handler(context.Background(), events.Event{
		Type: events.EventPaymentCompleted,
		Data: events.PaymentCompletedData{
			SessionID:  "cs_1234567890abcdef",
			BuyerEmail: "buyer@example.com",
			Amount:     12.57,
			PaymentID:  "PAY-TEST12345678",
		},
	})
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	if !called {
		t.Error("Expected award call")
	}

	// Events without a buyer email are skipped
	called = false
	err = handler(context.Background(), events.Event{
		Type: events.EventPaymentCompleted,
		Data: events.PaymentCompletedData{SessionID: "cs_x"},
	})
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	if called {
		t.Error("Expected no award without buyer email")
	}
}
