package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"merchant-checkout-api/internal/models"
)

var (
	promoCodeRegex = regexp.MustCompile(`^[A-Z0-9_-]{2,32}$`)
	emailRegex     = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	currencyRegex  = regexp.MustCompile(`^[A-Z]{3}$`)
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateCreateSession checks a session creation request. Line items are the
// only hard requirement; everything else has serviceable defaults.
func ValidateCreateSession(req models.CreateSessionRequest) error {
	if len(req.LineItems) == 0 {
		return &ValidationError{
			Field:   "line_items",
			Message: "at least one line item is required",
		}
	}

	if len(req.LineItems) > 100 {
		return &ValidationError{
			Field:   "line_items",
			Message: "cannot contain more than 100 items",
		}
	}

	for i, item := range req.LineItems {
		if err := validateLineItem(item, i); err != nil {
			return err
		}
	}

	if req.BuyerEmail != "" {
		if err := ValidateEmail(req.BuyerEmail, "buyer_email"); err != nil {
			return err
		}
	}

	if req.Currency != "" {
		if err := ValidateCurrency(req.Currency, "currency"); err != nil {
			return err
		}
	}

	return nil
}

func validateLineItem(item models.LineItem, idx int) error {
	field := func(name string) string { return fmt.Sprintf("line_items[%d].%s", idx, name) }

	if SanitizeString(item.Name) == "" {
		return &ValidationError{
			Field:   field("name"),
			Message: "is required",
		}
	}

	if item.Quantity <= 0 {
		return &ValidationError{
			Field:   field("quantity"),
			Message: "must be positive",
		}
	}

	if item.Quantity > 1000 {
		return &ValidationError{
			Field:   field("quantity"),
			Message: "exceeds maximum allowed quantity",
		}
	}

	if item.Price < 0 {
		return &ValidationError{
			Field:   field("price"),
			Message: "must be non-negative",
		}
	}

	maxPrice := 1_000_000.0
	if item.Price > maxPrice {
		return &ValidationError{
			Field:   field("price"),
			Message: "exceeds maximum allowed price",
		}
	}

	return nil
}

// ValidateCreatePromocode checks a promocode creation request. The discount
// type is validated here so a bad type can never reach redemption time.
func ValidateCreatePromocode(req models.CreatePromocodeRequest) error {
	if err := ValidatePromoCode(req.Code, "code"); err != nil {
		return err
	}

	switch req.DiscountType {
	case models.DiscountPercentage, models.DiscountFixedAmount:
	default:
		return &ValidationError{
			Field:   "discount_type",
			Message: fmt.Sprintf("must be '%s' or '%s'", models.DiscountPercentage, models.DiscountFixedAmount),
		}
	}

	if req.DiscountValue <= 0 {
		return &ValidationError{
			Field:   "discount_value",
			Message: "must be positive",
		}
	}

	if req.DiscountType == models.DiscountPercentage && req.DiscountValue > 100 {
		return &ValidationError{
			Field:   "discount_value",
			Message: "percentage cannot exceed 100",
		}
	}

	if req.MinPurchaseAmount != nil && *req.MinPurchaseAmount < 0 {
		return &ValidationError{
			Field:   "min_purchase_amount",
			Message: "must be non-negative",
		}
	}

	if req.MaxDiscountAmount != nil && *req.MaxDiscountAmount <= 0 {
		return &ValidationError{
			Field:   "max_discount_amount",
			Message: "must be positive",
		}
	}

	if req.UsageLimit != nil && *req.UsageLimit <= 0 {
		return &ValidationError{
			Field:   "usage_limit",
			Message: "must be positive",
		}
	}

	if req.ValidFrom != nil && req.ValidUntil != nil && !req.ValidFrom.Before(*req.ValidUntil) {
		return &ValidationError{
			Field:   "valid_from",
			Message: "must be before valid_until",
		}
	}

	if req.Currency != "" {
		if err := ValidateCurrency(req.Currency, "currency"); err != nil {
			return err
		}
	}

	return nil
}

// ValidateMandate checks the structural shape of a submitted payment mandate.
// Signature and credential verification happen later, in the processor.
func ValidateMandate(m models.PaymentMandate) error {
	if SanitizeString(m.MandateID) == "" {
		return &ValidationError{
			Field:   "payment_mandate.mandate_id",
			Message: "is required",
		}
	}

	if m.PaymentMethod.MethodName == "" {
		return &ValidationError{
			Field:   "payment_mandate.payment_method.method_name",
			Message: "is required",
		}
	}

	if m.TotalAmount.Value < 0 {
		return &ValidationError{
			Field:   "payment_mandate.total_amount.value",
			Message: "must be non-negative",
		}
	}

	if m.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, m.Timestamp); err != nil {
			return &ValidationError{
				Field:   "payment_mandate.timestamp",
				Message: "must be a valid RFC3339 timestamp",
			}
		}
	}

	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ValidatePromoCode checks the normalized (uppercased) form of a code.
func ValidatePromoCode(code, fieldName string) error {
	if code == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	code = strings.ToUpper(SanitizeString(code))

	if !promoCodeRegex.MatchString(code) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be 2-32 characters of A-Z, 0-9, '-' or '_'",
		}
	}

	return nil
}

func ValidateEmail(email, fieldName string) error {
	email = SanitizeString(email)

	if !emailRegex.MatchString(email) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid email address",
		}
	}

	return nil
}

func ValidateCurrency(currency, fieldName string) error {
	if !currencyRegex.MatchString(currency) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a 3-letter ISO 4217 code",
		}
	}

	return nil
}
