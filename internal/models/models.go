package models

import "time"

// SessionStatus is the lifecycle state of a checkout session.
type SessionStatus string

const (
	SessionIncomplete         SessionStatus = "incomplete"
	SessionReadyForComplete   SessionStatus = "ready_for_complete"
	SessionRequiresEscalation SessionStatus = "requires_escalation"
	SessionComplete           SessionStatus = "complete"
	SessionFailed             SessionStatus = "failed"
)

// IsTerminal reports whether no further mutation of the session is allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionComplete || s == SessionFailed
}

// LineItem is a single cart entry. Immutable once attached to a session.
type LineItem struct {
	ID       string  `json:"id"`
	SKU      string  `json:"sku,omitempty"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"` // unit price
}

// Totals carries the money summary of a session.
// Total = max(0, Subtotal-Discount) + Tax. Tax is always 0 today; the field
// exists so the shape does not change when a tax engine appears.
type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}

// AppliedPromocode summarizes a successfully applied code on a session.
type AppliedPromocode struct {
	Code           string  `json:"code"`
	Description    string  `json:"description,omitempty"`
	DiscountType   string  `json:"discount_type"`
	DiscountValue  float64 `json:"discount_value"`
	DiscountAmount float64 `json:"discount_amount"`
}

// CheckoutSession is the central aggregate tracking one purchase attempt.
type CheckoutSession struct {
	ID                string            `json:"id"`
	Status            SessionStatus     `json:"status"`
	LineItems         []LineItem        `json:"line_items"`
	BuyerEmail        string            `json:"buyer_email,omitempty"`
	Totals            Totals            `json:"totals"`
	Promocode         *AppliedPromocode `json:"promocode,omitempty"`
	PromocodeError    string            `json:"promocode_error,omitempty"`
	PaymentMandate    *PaymentMandate   `json:"payment_mandate,omitempty"`
	MerchantSignature string            `json:"merchant_signature,omitempty"`
	OTPChallenge      *OTPChallenge     `json:"otp_challenge,omitempty"`
	Receipt           *PaymentReceipt   `json:"receipt,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// CurrencyAmount is a monetary value with its currency code.
type CurrencyAmount struct {
	Currency string  `json:"currency"`
	Value    float64 `json:"value"`
}

// TokenDetails carries the network-token material of a card payment method.
type TokenDetails struct {
	Token        string `json:"token,omitempty"`
	TokenExpiry  string `json:"token_expiry,omitempty"` // MM/YY
	Cryptogram   string `json:"cryptogram,omitempty"`
	CardLastFour string `json:"card_last_four,omitempty"`
	CardNetwork  string `json:"card_network,omitempty"`
}

// PaymentMethod is the payment-response portion of a mandate.
type PaymentMethod struct {
	RequestID    string        `json:"request_id"`
	MethodName   string        `json:"method_name"` // "CARD"
	TokenDetails *TokenDetails `json:"token_details,omitempty"`
	PayerEmail   string        `json:"payer_email,omitempty"`
	PayerName    string        `json:"payer_name,omitempty"`
}

// PaymentMandate is the statement of payment intent. UserAuthorization is
// attached by the consumer signing step, MerchantAuthorization by the
// merchant attestation step. Immutable once a receipt exists for it.
type PaymentMandate struct {
	MandateID             string         `json:"mandate_id"`
	Timestamp             string         `json:"timestamp"`
	PaymentDetailsID      string         `json:"payment_details_id"`
	TotalAmount           CurrencyAmount `json:"total_amount"`
	PaymentMethod         PaymentMethod  `json:"payment_method"`
	MerchantAgentID       string         `json:"merchant_agent_id,omitempty"`
	UserAuthorization     string         `json:"user_authorization,omitempty"`
	MerchantAuthorization string         `json:"merchant_authorization,omitempty"`
}

// ReceiptSuccess is the settlement-confirmed receipt arm.
type ReceiptSuccess struct {
	MerchantConfirmationID string `json:"merchant_confirmation_id"`
	PSPConfirmationID      string `json:"psp_confirmation_id,omitempty"`
	NetworkConfirmationID  string `json:"network_confirmation_id,omitempty"`
}

// ReceiptError is a protocol or authorization problem: bad signature,
// invalid merchant credential, expired token.
type ReceiptError struct {
	Message string `json:"message"`
}

// ReceiptFailure is a legitimate decline by the issuing bank.
type ReceiptFailure struct {
	Message string `json:"message"`
}

// ReceiptStatus is a tagged union: exactly one arm is non-nil.
type ReceiptStatus struct {
	Success *ReceiptSuccess `json:"success,omitempty"`
	Error   *ReceiptError   `json:"error,omitempty"`
	Failure *ReceiptFailure `json:"failure,omitempty"`
}

// IsSuccess reports whether the success arm is populated.
func (s ReceiptStatus) IsSuccess() bool {
	return s.Success != nil
}

// Message returns the error or failure message, or "" for a success.
func (s ReceiptStatus) Message() string {
	switch {
	case s.Error != nil:
		return s.Error.Message
	case s.Failure != nil:
		return s.Failure.Message
	}
	return ""
}

// PaymentReceipt is the final, immutable outcome of processing a mandate.
// MandateID always equals the ID of the mandate that produced it.
type PaymentReceipt struct {
	MandateID     string            `json:"mandate_id"`
	Timestamp     string            `json:"timestamp"`
	PaymentID     string            `json:"payment_id"`
	Amount        CurrencyAmount    `json:"amount"`
	Status        ReceiptStatus     `json:"status"`
	MethodDetails map[string]string `json:"method_details,omitempty"`
}

// OTPChallenge is the step-up challenge returned when completion requires
// out-of-band verification. Ephemeral, keyed by mandate ID.
type OTPChallenge struct {
	MandateID string `json:"mandate_id"`
	Message   string `json:"message"`
	SentTo    string `json:"sent_to,omitempty"`
}

// Discount types accepted by the promocode engine.
const (
	DiscountPercentage  = "percentage"
	DiscountFixedAmount = "fixed_amount"
)

// Promocode is a discount code with usage, date and amount constraints.
// Codes are stored uppercase. UsageCount is the only field mutated during
// normal operation, incremented exactly once per successful payment.
type Promocode struct {
	ID                string     `json:"id"`
	Code              string     `json:"code"`
	Description       string     `json:"description,omitempty"`
	DiscountType      string     `json:"discount_type"`
	DiscountValue     float64    `json:"discount_value"`
	Currency          string     `json:"currency"`
	MinPurchaseAmount *float64   `json:"min_purchase_amount,omitempty"`
	MaxDiscountAmount *float64   `json:"max_discount_amount,omitempty"`
	UsageLimit        *int       `json:"usage_limit,omitempty"`
	UsageCount        int        `json:"usage_count"`
	ValidFrom         *time.Time `json:"valid_from,omitempty"`
	ValidUntil        *time.Time `json:"valid_until,omitempty"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Product is a catalog entry. The checkout core never reads the catalog;
// it exists so clients have something to put in their carts.
type Product struct {
	ID          string    `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category,omitempty"`
	Brand       string    `json:"brand,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SearchItem is a catalog search hit with the price in integer cents.
type SearchItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Price       int64  `json:"price"` // cents
	Description string `json:"description,omitempty"`
}

// SearchResponse is the catalog search payload.
type SearchResponse struct {
	Items []SearchItem `json:"items"`
	Total int          `json:"total"`
}

// CreateSessionRequest is the body of POST /ucp/v1/checkout-sessions.
type CreateSessionRequest struct {
	LineItems  []LineItem `json:"line_items"`
	BuyerEmail string     `json:"buyer_email,omitempty"`
	Currency   string     `json:"currency,omitempty"`
	Promocode  string     `json:"promocode,omitempty"`
}

// UpdateSessionRequest is the body of PUT /ucp/v1/checkout-sessions/{id}.
// All fields are optional; at least one must be present.
type UpdateSessionRequest struct {
	PaymentMandate *PaymentMandate `json:"payment_mandate,omitempty"`
	Promocode      *string         `json:"promocode,omitempty"`
}

// Completion outcome markers returned by POST .../complete.
const (
	CompletionOTPRequired = "otp_required"
	CompletionSuccess     = "success"
	CompletionFailed      = "failed"
)

// CompleteSessionResponse is the body returned by POST .../complete.
type CompleteSessionResponse struct {
	Status       string           `json:"status"`
	Checkout     *CheckoutSession `json:"checkout,omitempty"`
	OTPChallenge *OTPChallenge    `json:"otp_challenge,omitempty"`
	Receipt      *PaymentReceipt  `json:"receipt,omitempty"`
	Message      string           `json:"message,omitempty"`
}

// CreatePromocodeRequest is the body for creating a promocode.
type CreatePromocodeRequest struct {
	Code              string     `json:"code"`
	Description       string     `json:"description,omitempty"`
	DiscountType      string     `json:"discount_type"`
	DiscountValue     float64    `json:"discount_value"`
	Currency          string     `json:"currency,omitempty"`
	MinPurchaseAmount *float64   `json:"min_purchase_amount,omitempty"`
	MaxDiscountAmount *float64   `json:"max_discount_amount,omitempty"`
	UsageLimit        *int       `json:"usage_limit,omitempty"`
	ValidFrom         *time.Time `json:"valid_from,omitempty"`
	ValidUntil        *time.Time `json:"valid_until,omitempty"`
}

// UpdatePromocodeRequest is the body for updating a promocode. Nil fields
// are left untouched.
type UpdatePromocodeRequest struct {
	Description       *string    `json:"description,omitempty"`
	DiscountValue     *float64   `json:"discount_value,omitempty"`
	MinPurchaseAmount *float64   `json:"min_purchase_amount,omitempty"`
	MaxDiscountAmount *float64   `json:"max_discount_amount,omitempty"`
	UsageLimit        *int       `json:"usage_limit,omitempty"`
	ValidFrom         *time.Time `json:"valid_from,omitempty"`
	ValidUntil        *time.Time `json:"valid_until,omitempty"`
	IsActive          *bool      `json:"is_active,omitempty"`
}

// MerchantSettings is the runtime-mutable merchant configuration surface.
type MerchantSettings struct {
	MerchantName       string  `json:"merchant_name"`
	MerchantID         string  `json:"merchant_id"`
	MerchantDomain     string  `json:"merchant_domain"`
	OTPEnabled         bool    `json:"otp_enabled"`
	OTPAmountThreshold float64 `json:"otp_amount_threshold"`
}

// UpdateMerchantSettingsRequest mutates the OTP gate settings in memory.
type UpdateMerchantSettingsRequest struct {
	OTPEnabled         *bool    `json:"otp_enabled,omitempty"`
	OTPAmountThreshold *float64 `json:"otp_amount_threshold,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
