// Package loyalty forwards completed payments to an external loyalty
// service. Delivery is best effort; a failed award never affects the
// payment that triggered it.
package loyalty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"merchant-checkout-api/internal/events"
)

// Client posts point awards to the loyalty service. A nil client (no URL
// configured) silently drops awards.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type awardRequest struct {
	UserEmail     string `json:"user_email"`
	Points        int    `json:"points"`
	TransactionID string `json:"transaction_id"`
	Description   string `json:"description"`
}

// Award grants purchase points: one point per whole currency unit spent.
func (c *Client) Award(ctx context.Context, userEmail string, amount float64, paymentID string) error {
	if c == nil {
		return nil
	}

	payload, err := json.Marshal(awardRequest{
		UserEmail:     userEmail,
		Points:        int(amount),
		TransactionID: paymentID,
		Description:   fmt.Sprintf("Purchase reward ($%.2f)", amount),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal award: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/loyalty/award", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post award: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("loyalty service returned status %d", resp.StatusCode)
	}

	return nil
}

// EventHandler returns an events.Handler that awards points on completed
// payments. Wire it to events.EventPaymentCompleted.
func (c *Client) EventHandler() events.Handler {
	return func(ctx context.Context, event events.Event) error {
		data, ok := event.Data.(events.PaymentCompletedData)
		if !ok || data.BuyerEmail == "" {
			return nil
		}
		return c.Award(ctx, data.BuyerEmail, data.Amount, data.PaymentID)
	}
}
