// Package mandate builds payment mandates from a checkout session and a
// tokenized card: the consumer-side half of the protocol, exposed so agents
// and tests can produce well-formed mandates against this service.
package mandate

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"merchant-checkout-api/internal/models"
)

// TokenValidity is how far in the future a generated network token expires.
const TokenValidity = 3 * 365 * 24 * time.Hour

// Card is the tokenizable card material a buyer presents.
type Card struct {
	ID         string
	HolderName string
	LastFour   string
	Network    string
}

// Builder assembles payment mandates for a merchant agent.
type Builder struct {
	merchantAgentID string
	now             func() time.Time
}

func NewBuilder(merchantAgentID string) *Builder {
	return &Builder{
		merchantAgentID: merchantAgentID,
		now:             time.Now,
	}
}

// Build creates an unsigned payment mandate for a session's total. The
// caller attaches the user authorization after the buyer signs.
func (b *Builder) Build(session models.CheckoutSession, card Card, payerEmail string) (*models.PaymentMandate, error) {
	token, err := tokenNumber()
	if err != nil {
		return nil, fmt.Errorf("failed to generate network token: %w", err)
	}

	now := b.now().UTC()
	return &models.PaymentMandate{
		MandateID:        "PM-" + upperHex(16),
		Timestamp:        now.Format(time.RFC3339),
		PaymentDetailsID: session.ID,
		TotalAmount: models.CurrencyAmount{
			Currency: session.Totals.Currency,
			Value:    session.Totals.Total,
		},
		PaymentMethod: models.PaymentMethod{
			RequestID:  "REQ-" + upperHex(12),
			MethodName: "CARD",
			TokenDetails: &models.TokenDetails{
				Token:        token,
				TokenExpiry:  now.Add(TokenValidity).Format("01/06"),
				Cryptogram:   strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")),
				CardLastFour: card.LastFour,
				CardNetwork:  card.Network,
			},
			PayerEmail: payerEmail,
			PayerName:  card.HolderName,
		},
		MerchantAgentID: b.merchantAgentID,
	}, nil
}

// OpaqueToken derives an opaque payment token from user and card
// identifiers plus fresh randomness. Never reversible to the inputs.
func OpaqueToken(userEmail, cardID string) string {
	seed := fmt.Sprintf("%s:%s:%s", userEmail, cardID, strings.ReplaceAll(uuid.New().String(), "-", ""))
	sum := sha256.Sum256([]byte(seed))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// tokenNumber generates a 16-digit network token number.
func tokenNumber() (string, error) {
	var sb strings.Builder
	for i := 0; i < 16; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "%d", d.Int64())
	}
	return sb.String(), nil
}

func upperHex(n int) string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:n]
}
