// Package signer is the HTTP client for the external credential signing
// service. All calls go through a shared circuit breaker so a dead signer
// fails fast instead of tying up request handlers.
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"merchant-checkout-api/internal/signing"
)

// VerifyResult is the signer's verdict on a credential. Valid means the
// token is well-formed and unexpired; Verified means the signature checks
// out against the issuer's DID document.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

// DIDWallet is the signer's record of a did:web wallet for a domain.
type DIDWallet struct {
	DID          string          `json:"did"`
	DIDDocument  json.RawMessage `json:"did_document"`
	WalletID     string          `json:"wallet_id,omitempty"`
	SigningKeyID string          `json:"signing_key_id,omitempty"`
}

// Client talks to the signer service.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient builds a client with a hard per-call timeout. The breaker opens
// after a run of consecutive failures and probes again after 30 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:    "signer",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

// GenerateDIDWeb asks the signer to create or fetch the did:web wallet for
// a domain.
func (c *Client) GenerateDIDWeb(ctx context.Context, domain string) (*DIDWallet, error) {
	var wallet DIDWallet
	err := c.post(ctx, "/api/did-web-generate",
		map[string]interface{}{"domain": domain}, &wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to generate did:web wallet: %w", err)
	}
	return &wallet, nil
}

// SignCredential has the signer wrap and sign an unsigned credential,
// returning the compact JWT form.
func (c *Client) SignCredential(ctx context.Context, domain string, unsigned *signing.Credential) (string, error) {
	var result struct {
		SignedCredential string `json:"signed_credential"`
	}
	err := c.post(ctx, "/api/sign-credential", map[string]interface{}{
		"domain":              domain,
		"unsigned_credential": unsigned,
	}, &result)
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	if result.SignedCredential == "" {
		return "", fmt.Errorf("signer returned empty credential")
	}
	return result.SignedCredential, nil
}

// VerifyCredential checks a JWT credential with the signer.
func (c *Client) VerifyCredential(ctx context.Context, jwtVC string) (*VerifyResult, error) {
	var result VerifyResult
	err := c.post(ctx, "/api/verify-credential",
		map[string]interface{}{"jwt_vc": jwtVC}, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to verify credential: %w", err)
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, dest interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("signer returned status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("signer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode signer response: %w", err)
	}

	return nil
}
