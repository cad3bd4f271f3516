// Package promo implements promocode validity checking and discount
// calculation against a session subtotal.
package promo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"merchant-checkout-api/internal/models"
)

// ErrUnsupportedDiscountType is returned when a stored promocode carries a
// discount type the engine does not know. Creation-time validation should
// make this unreachable; a zero discount is never silently applied.
var ErrUnsupportedDiscountType = errors.New("promo: unsupported discount type")

// Result is the outcome of evaluating a code against a subtotal.
type Result struct {
	Valid          bool
	Reason         string  // set when Valid is false
	DiscountAmount float64 // set when Valid is true
}

// Evaluate runs the full validity pipeline and, if the code passes,
// calculates the discount. Check order is fixed: active, usage limit,
// valid_from, valid_until, minimum purchase.
func Evaluate(p models.Promocode, subtotal float64, now time.Time) (Result, error) {
	if !p.IsActive {
		return invalid("Promocode is not active"), nil
	}

	if p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit {
		return invalid("Promocode has reached its usage limit"), nil
	}

	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return invalid("Promocode is not yet valid"), nil
	}

	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return invalid("Promocode has expired"), nil
	}

	if p.MinPurchaseAmount != nil && subtotal < *p.MinPurchaseAmount {
		return invalid(fmt.Sprintf("Minimum purchase amount of %s %s required",
			p.Currency, formatAmount(*p.MinPurchaseAmount))), nil
	}

	discount, err := Discount(p, subtotal)
	if err != nil {
		return Result{}, err
	}

	return Result{Valid: true, DiscountAmount: discount}, nil
}

// Discount calculates the discount a code yields on a subtotal.
// A percentage discount is capped at the code's max discount amount and
// rounded to two decimals; a fixed amount never exceeds the subtotal.
func Discount(p models.Promocode, subtotal float64) (float64, error) {
	switch p.DiscountType {
	case models.DiscountPercentage:
		discount := subtotal * p.DiscountValue / 100.0
		if p.MaxDiscountAmount != nil {
			discount = math.Min(discount, *p.MaxDiscountAmount)
		}
		return Round2(discount), nil
	case models.DiscountFixedAmount:
		return math.Min(p.DiscountValue, subtotal), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDiscountType, p.DiscountType)
	}
}

// NormalizeCode uppercases and trims a user-supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Round2 rounds a monetary amount to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func invalid(reason string) Result {
	return Result{Valid: false, Reason: reason}
}

// formatAmount renders a threshold the way it is stored: a whole-number
// amount keeps one decimal ("20.0"), anything else prints exactly.
func formatAmount(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
