// Package checkout implements the checkout session state machine:
// incomplete -> ready_for_complete -> (requires_escalation) -> complete | failed.
// Terminal sessions are immutable.
package checkout

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"merchant-checkout-api/internal/database"
	"merchant-checkout-api/internal/events"
	"merchant-checkout-api/internal/models"
	"merchant-checkout-api/internal/promo"
	"merchant-checkout-api/internal/signing"
	"merchant-checkout-api/internal/validation"
)

// DefaultCurrency is used when a session request does not name one.
const DefaultCurrency = "SGD"

// CredentialSigner produces the merchant authorization JWT. Satisfied by
// *signer.Client.
type CredentialSigner interface {
	SignCredential(ctx context.Context, domain string, unsigned *signing.Credential) (string, error)
}

// PaymentProcessor is the mandate validation + settlement pipeline.
// Satisfied by *payment.Processor.
type PaymentProcessor interface {
	ShouldChallenge(m models.PaymentMandate) bool
	CreateChallenge(m models.PaymentMandate) (*models.OTPChallenge, error)
	VerifyOTP(mandateID, code string) (bool, string)
	VoidChallenge(mandateID string)
	Process(ctx context.Context, m models.PaymentMandate) models.PaymentReceipt
}

// Service drives checkout sessions through their lifecycle.
type Service struct {
	store     Store
	db        *database.DB
	signer    CredentialSigner
	processor PaymentProcessor
	events    *events.Manager

	merchantDomain string
	signingPolicy  string
	now            func() time.Time
}

// NewService creates a new service instance. signerClient may be nil, which
// behaves like a permanently failing signer.
func NewService(
	store Store,
	db *database.DB,
	signerClient CredentialSigner,
	processor PaymentProcessor,
	eventManager *events.Manager,
	merchantDomain string,
	signingPolicy string,
) *Service {
	return &Service{
		store:          store,
		db:             db,
		signer:         signerClient,
		processor:      processor,
		events:         eventManager,
		merchantDomain: merchantDomain,
		signingPolicy:  signingPolicy,
		now:            time.Now,
	}
}

// CreateSession opens a new checkout session in the incomplete state,
// computing totals and applying an optional promocode.
func (s *Service) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.CheckoutSession, error) {
	if err := validation.ValidateCreateSession(req); err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	subtotal := 0.0
	items := make([]models.LineItem, len(req.LineItems))
	for i, item := range req.LineItems {
		if item.ID == "" {
			item.ID = "li_" + lowerHex(8)
		}
		items[i] = item
		subtotal += item.Price * float64(item.Quantity)
	}
	subtotal = promo.Round2(subtotal)

	now := s.now().UTC()
	session := models.CheckoutSession{
		ID:         "cs_" + lowerHex(16),
		Status:     models.SessionIncomplete,
		LineItems:  items,
		BuyerEmail: req.BuyerEmail,
		Totals: models.Totals{
			Subtotal: subtotal,
			Total:    subtotal,
			Currency: currency,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.Promocode != "" {
		s.applyPromocode(&session, req.Promocode)
	}

	if err := s.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	s.events.PublishSessionCreated(ctx, session)

	return &session, nil
}

// GetSession returns a session by ID.
func (s *Service) GetSession(ctx context.Context, id string) (*models.CheckoutSession, error) {
	return s.store.Get(ctx, id)
}

// UpdateSession applies a promocode change and/or attaches a payment
// mandate. Attaching a mandate moves the session to ready_for_complete and
// triggers the merchant attestation flow. Terminal sessions reject updates.
func (s *Service) UpdateSession(ctx context.Context, id string, req models.UpdateSessionRequest) (*models.CheckoutSession, error) {
	if req.PaymentMandate == nil && req.Promocode == nil {
		return nil, &validation.ValidationError{
			Field:   "body",
			Message: "at least one of payment_mandate or promocode must be provided",
		}
	}

	updated, err := s.store.Mutate(ctx, id, func(session *models.CheckoutSession) error {
		if session.Status.IsTerminal() {
			return &TerminalStateError{Status: string(session.Status)}
		}

		if req.Promocode != nil {
			if *req.Promocode == "" {
				session.Promocode = nil
				session.PromocodeError = ""
				s.recomputeTotals(session, 0)
			} else {
				s.applyPromocode(session, *req.Promocode)
			}
		}

		if req.PaymentMandate != nil {
			if err := validation.ValidateMandate(*req.PaymentMandate); err != nil {
				return err
			}

			m := *req.PaymentMandate
			if err := s.attachMerchantAuthorization(ctx, session, &m); err != nil {
				return err
			}

			// A fresh mandate supersedes any pending escalation; the old
			// challenge and its code must not survive the re-attach.
			if session.OTPChallenge != nil {
				s.processor.VoidChallenge(session.OTPChallenge.MandateID)
				session.OTPChallenge = nil
			}

			session.PaymentMandate = &m
			session.Status = models.SessionReadyForComplete
		}

		session.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishSessionUpdated(ctx, *updated)

	return updated, nil
}

// attachMerchantAuthorization signs the cart-mandate credential and stores
// the JWT on the mandate. Under the strict policy a signer failure aborts
// the update; under the lenient policy the mandate proceeds unsigned.
func (s *Service) attachMerchantAuthorization(ctx context.Context, session *models.CheckoutSession, m *models.PaymentMandate) error {
	unsigned, err := signing.BuildCredential(
		s.merchantDomain,
		session.ID,
		m.MandateID,
		session.LineItems,
		session.Totals.Total,
		session.Totals.Currency,
		s.now(),
	)
	if err == nil {
		if s.signer == nil {
			err = fmt.Errorf("no signer configured")
		} else {
			var jwt string
			jwt, err = s.signer.SignCredential(ctx, s.merchantDomain, unsigned)
			if err == nil {
				m.MerchantAuthorization = jwt
				session.MerchantSignature = signing.ExtractSignature(jwt)
				return nil
			}
		}
	}

	if s.signingPolicy == "lenient" {
		log.Printf("session %s: proceeding without merchant authorization: %v", session.ID, err)
		return nil
	}
	return &SigningError{Err: err}
}

// Complete finishes a session. Without an OTP code it either settles the
// payment or raises a step-up challenge; with one it verifies the code
// first. Completion on a terminal session fails fast and never re-settles.
func (s *Service) Complete(ctx context.Context, id, otpCode string) (*models.CompleteSessionResponse, error) {
	var resp models.CompleteSessionResponse

	updated, err := s.store.Mutate(ctx, id, func(session *models.CheckoutSession) error {
		if session.Status != models.SessionReadyForComplete && session.Status != models.SessionRequiresEscalation {
			return &NotReadyError{Status: string(session.Status)}
		}

		if session.PaymentMandate == nil {
			return ErrMandateMissing
		}
		m := *session.PaymentMandate

		if otpCode != "" {
			if ok, reason := s.processor.VerifyOTP(m.MandateID, otpCode); !ok {
				return &OTPError{Reason: reason}
			}
		} else if s.processor.ShouldChallenge(m) {
			challenge, err := s.processor.CreateChallenge(m)
			if err != nil {
				return fmt.Errorf("failed to create otp challenge: %w", err)
			}

			session.Status = models.SessionRequiresEscalation
			session.OTPChallenge = challenge
			session.UpdatedAt = s.now().UTC()

			resp = models.CompleteSessionResponse{
				Status:       models.CompletionOTPRequired,
				OTPChallenge: challenge,
			}
			return nil
		}

		receipt := s.processor.Process(ctx, m)
		session.Receipt = &receipt

		now := s.now().UTC()
		session.CompletedAt = &now
		session.UpdatedAt = now
		session.OTPChallenge = nil

		if err := s.db.InsertReceipt(session.ID, receipt); err != nil {
			log.Printf("session %s: failed to audit receipt %s: %v", session.ID, receipt.PaymentID, err)
		}

		if receipt.Status.IsSuccess() {
			session.Status = models.SessionComplete
			if session.Promocode != nil {
				if err := s.db.IncrementPromocodeUsage(session.Promocode.Code); err != nil {
					log.Printf("session %s: failed to increment usage for %s: %v", session.ID, session.Promocode.Code, err)
				}
			}
			resp = models.CompleteSessionResponse{
				Status:  models.CompletionSuccess,
				Receipt: &receipt,
				Message: "Payment completed successfully!",
			}
		} else {
			session.Status = models.SessionFailed
			msg := receipt.Status.Message()
			if msg == "" {
				msg = "Payment failed"
			}
			resp = models.CompleteSessionResponse{
				Status:  models.CompletionFailed,
				Receipt: &receipt,
				Message: msg,
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	resp.Checkout = updated

	switch resp.Status {
	case models.CompletionSuccess:
		s.events.PublishPaymentCompleted(ctx, events.PaymentCompletedData{
			SessionID:  updated.ID,
			BuyerEmail: updated.BuyerEmail,
			Amount:     resp.Receipt.Amount.Value,
			Currency:   resp.Receipt.Amount.Currency,
			PaymentID:  resp.Receipt.PaymentID,
		})
	case models.CompletionFailed:
		s.events.PublishPaymentFailed(ctx, events.PaymentFailedData{
			SessionID: updated.ID,
			MandateID: resp.Receipt.MandateID,
			Message:   resp.Message,
		})
	}

	return &resp, nil
}

// applyPromocode runs the code through the validity pipeline and updates
// the session's promocode state and totals. A failed code clears any
// previously applied one.
func (s *Service) applyPromocode(session *models.CheckoutSession, code string) {
	code = promo.NormalizeCode(code)
	session.Promocode = nil
	session.PromocodeError = ""

	var discount float64

	p, err := s.db.GetPromocodeByCode(code)
	if err != nil {
		session.PromocodeError = "Invalid promocode"
	} else {
		result, evalErr := promo.Evaluate(*p, session.Totals.Subtotal, s.now())
		switch {
		case evalErr != nil:
			log.Printf("session %s: promocode %s evaluation failed: %v", session.ID, code, evalErr)
			session.PromocodeError = "Promocode cannot be applied"
		case !result.Valid:
			session.PromocodeError = result.Reason
		default:
			discount = result.DiscountAmount
			session.Promocode = &models.AppliedPromocode{
				Code:           p.Code,
				Description:    p.Description,
				DiscountType:   p.DiscountType,
				DiscountValue:  p.DiscountValue,
				DiscountAmount: discount,
			}
		}
	}

	s.recomputeTotals(session, discount)
}

// recomputeTotals applies a discount to the subtotal. The total never goes
// below zero no matter how large the discount.
func (s *Service) recomputeTotals(session *models.CheckoutSession, discount float64) {
	session.Totals.Discount = discount
	session.Totals.Total = promo.Round2(
		math.Max(0, session.Totals.Subtotal-discount) + session.Totals.Tax)
}

func lowerHex(n int) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:n]
}
