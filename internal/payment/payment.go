// Package payment processes signed payment mandates: it validates the
// authorization material and token expiry, runs the OTP step-up gate and
// settles the payment, producing an immutable receipt.
package payment

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"merchant-checkout-api/internal/models"
	"merchant-checkout-api/internal/otp"
	"merchant-checkout-api/internal/signer"
)

// CredentialVerifier checks a merchant authorization credential. Satisfied
// by *signer.Client.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, jwtVC string) (*signer.VerifyResult, error)
}

// Processor validates and settles payment mandates. OTP settings are
// runtime-mutable through the settings API; everything else is fixed at
// construction.
type Processor struct {
	verifier CredentialVerifier
	otps     *otp.Store

	mu           sync.RWMutex
	otpEnabled   bool
	otpThreshold float64

	settleRate float64 // probability a valid mandate settles
	now        func() time.Time
	rng        *rand.Rand
}

func NewProcessor(verifier CredentialVerifier, otpEnabled bool, otpThreshold float64) *Processor {
	return &Processor{
		verifier:     verifier,
		otps:         otp.NewStore(),
		otpEnabled:   otpEnabled,
		otpThreshold: otpThreshold,
		settleRate:   0.95,
		now:          time.Now,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OTPEnabled reports whether the step-up gate is on.
func (p *Processor) OTPEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.otpEnabled
}

// OTPThreshold returns the amount above which a challenge is raised.
func (p *Processor) OTPThreshold() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.otpThreshold
}

// SetOTPEnabled toggles the step-up gate at runtime.
func (p *Processor) SetOTPEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.otpEnabled = enabled
}

// SetOTPThreshold changes the challenge threshold at runtime.
func (p *Processor) SetOTPThreshold(threshold float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.otpThreshold = threshold
}

// ShouldChallenge reports whether completing this mandate requires an OTP:
// the gate is enabled and the amount strictly exceeds the threshold.
func (p *Processor) ShouldChallenge(m models.PaymentMandate) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.otpEnabled && m.TotalAmount.Value > p.otpThreshold
}

// CreateChallenge generates a fresh OTP for the mandate and returns the
// challenge to surface to the buyer.
func (p *Processor) CreateChallenge(m models.PaymentMandate) (*models.OTPChallenge, error) {
	code, err := p.otps.Generate(m.MandateID)
	if err != nil {
		return nil, err
	}

	payerEmail := m.PaymentMethod.PayerEmail
	// Delivery is out of band; the log line stands in for the SMS/email hop.
	log.Printf("otp challenge for mandate %s: code %s (send to %s)", m.MandateID, code, payerEmail)

	return &models.OTPChallenge{
		MandateID: m.MandateID,
		Message:   fmt.Sprintf("OTP verification required. Code sent to %s", payerEmail),
		SentTo:    payerEmail,
	}, nil
}

// VerifyOTP redeems a submitted code for a mandate.
func (p *Processor) VerifyOTP(mandateID, code string) (bool, string) {
	return p.otps.Verify(mandateID, code)
}

// VoidChallenge discards any pending OTP for a mandate, so a code issued
// for a superseded mandate can never be redeemed.
func (p *Processor) VoidChallenge(mandateID string) {
	p.otps.Void(mandateID)
}

// Process runs the full validation pipeline and settles the payment.
// Validation order is fixed: user authorization, merchant authorization,
// token expiry, settlement. The receipt always carries the mandate's ID
// and amount regardless of outcome.
func (p *Processor) Process(ctx context.Context, m models.PaymentMandate) models.PaymentReceipt {
	if len(m.UserAuthorization) < 10 {
		log.Printf("mandate %s rejected: missing or short user authorization", m.MandateID)
		return p.errorReceipt(m, "Invalid mandate signature")
	}

	if m.MerchantAuthorization != "" {
		result, err := p.verifier.VerifyCredential(ctx, m.MerchantAuthorization)
		if err != nil {
			log.Printf("mandate %s: credential verification error: %v", m.MandateID, err)
			return p.errorReceipt(m, fmt.Sprintf("Merchant authorization verification error: %v", err))
		}
		if !result.Valid || !result.Verified {
			log.Printf("mandate %s rejected: credential invalid (%s)", m.MandateID, result.Error)
			return p.errorReceipt(m, "Invalid merchant authorization credential")
		}
	}

	if !p.tokenValid(m) {
		return p.errorReceipt(m, "Payment token expired. Please retry the transaction.")
	}

	paymentID := "PAY-" + upperHex(12)

	if p.roll() < p.settleRate {
		return models.PaymentReceipt{
			MandateID: m.MandateID,
			Timestamp: p.now().UTC().Format(time.RFC3339),
			PaymentID: paymentID,
			Amount:    m.TotalAmount,
			Status: models.ReceiptStatus{
				Success: &models.ReceiptSuccess{
					MerchantConfirmationID: "MCH-" + upperHex(8),
					PSPConfirmationID:      "PSP-" + upperHex(8),
					NetworkConfirmationID:  "NET-" + upperHex(8),
				},
			},
			MethodDetails: map[string]string{
				"method":      m.PaymentMethod.MethodName,
				"payer_email": m.PaymentMethod.PayerEmail,
			},
		}
	}

	return models.PaymentReceipt{
		MandateID: m.MandateID,
		Timestamp: p.now().UTC().Format(time.RFC3339),
		PaymentID: paymentID,
		Amount:    m.TotalAmount,
		Status: models.ReceiptStatus{
			Failure: &models.ReceiptFailure{Message: "Payment declined by issuing bank"},
		},
	}
}

// tokenValid checks the network token's MM/YY expiry against the last
// instant of the expiry month. A missing or unparsable expiry is accepted
// for backward compatibility.
func (p *Processor) tokenValid(m models.PaymentMandate) bool {
	if m.PaymentMethod.TokenDetails == nil {
		return true
	}
	expiry := m.PaymentMethod.TokenDetails.TokenExpiry
	if expiry == "" {
		return true
	}

	parts := strings.Split(expiry, "/")
	if len(parts) != 2 {
		return true
	}
	month, err1 := strconv.Atoi(parts[0])
	year, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || month < 1 || month > 12 {
		return true
	}

	// Day 0 of the next month is the last day of the expiry month.
	expiresAt := time.Date(2000+year, time.Month(month)+1, 0, 23, 59, 59, 0, time.UTC)
	if p.now().UTC().After(expiresAt) {
		log.Printf("mandate %s: network token expired at %s", m.MandateID, expiry)
		return false
	}
	return true
}

func (p *Processor) errorReceipt(m models.PaymentMandate, msg string) models.PaymentReceipt {
	return models.PaymentReceipt{
		MandateID: m.MandateID,
		Timestamp: p.now().UTC().Format(time.RFC3339),
		PaymentID: "ERR-" + lowerHex(8),
		Amount:    m.TotalAmount,
		Status: models.ReceiptStatus{
			Error: &models.ReceiptError{Message: msg},
		},
	}
}

func (p *Processor) roll() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}

func lowerHex(n int) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:n]
}

func upperHex(n int) string {
	return strings.ToUpper(lowerHex(n))
}
