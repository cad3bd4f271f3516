// Package signing builds the merchant-side attestation material: the
// canonical cart hash, the did:web issuer identifier and the unsigned
// verifiable-credential envelope handed to the external signer.
package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"merchant-checkout-api/internal/models"
)

// CredentialTTL is how long a merchant authorization stays valid.
const CredentialTTL = 60 * time.Minute

// CartHash returns the content hash of the line items: sha256 over the
// canonical JSON form (sorted keys, no whitespace), prefixed with the
// algorithm. Field order in the input never changes the result.
func CartHash(items []models.LineItem) (string, error) {
	canonical, err := canonicalJSON(items)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize cart: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// canonicalJSON renders v with object keys sorted and separators tight.
// encoding/json already sorts map keys, so a marshal-unmarshal-marshal
// round trip through interface{} yields the canonical form.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	return json.Marshal(generic)
}

// DIDWeb returns the did:web identifier for a merchant domain. The domain
// is percent-encoded so a host:port domain stays a single DID segment.
func DIDWeb(domain string) string {
	return "did:web:" + url.QueryEscape(domain)
}

// Credential is the unsigned verifiable credential attesting cart contents
// and the locked price for a mandate.
type Credential struct {
	Context           []string          `json:"@context"`
	Type              []string          `json:"type"`
	Issuer            string            `json:"issuer"`
	IssuanceDate      string            `json:"issuanceDate"`
	ExpirationDate    string            `json:"expirationDate"`
	CredentialSubject CredentialSubject `json:"credentialSubject"`
}

// CredentialSubject is the claims block of a cart mandate credential.
type CredentialSubject struct {
	ID                string  `json:"id"` // "cart:<session id>"
	CartHash          string  `json:"cartHash"`
	MerchantGuarantee string  `json:"merchantGuarantee"`
	TotalAmount       float64 `json:"totalAmount"`
	Currency          string  `json:"currency"`
	MandateID         string  `json:"mandateId"`
}

// BuildCredential assembles the unsigned cart-mandate credential for a
// session. ExpirationDate is always issuance + CredentialTTL, so a later
// credential for the same cart never expires earlier.
func BuildCredential(domain, sessionID, mandateID string, items []models.LineItem, total float64, currency string, now time.Time) (*Credential, error) {
	cartHash, err := CartHash(items)
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	return &Credential{
		Context: []string{
			"https://www.w3.org/2018/credentials/v1",
			"https://ap2-protocol.org/mandates/v1",
		},
		Type:           []string{"VerifiableCredential", "CartMandate"},
		Issuer:         DIDWeb(domain),
		IssuanceDate:   now.Format(time.RFC3339),
		ExpirationDate: now.Add(CredentialTTL).Format(time.RFC3339),
		CredentialSubject: CredentialSubject{
			ID:                "cart:" + sessionID,
			CartHash:          cartHash,
			MerchantGuarantee: "price_locked",
			TotalAmount:       total,
			Currency:          currency,
			MandateID:         mandateID,
		},
	}, nil
}

// ExtractSignature returns the detached signature of a compact JWT: the
// segment after the last dot. A token without dots is returned whole.
func ExtractSignature(jwt string) string {
	if i := strings.LastIndex(jwt, "."); i >= 0 {
		return jwt[i+1:]
	}
	return jwt
}
