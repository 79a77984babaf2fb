package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrPromotionNotEligible reports that a supplied promotion code cannot
// discount this purchase: unknown code, inactive, out of window, capped out or
// under the minimum purchase amount.
var ErrPromotionNotEligible = errors.New("pricing: promotion not eligible")

// Shipping fees in smallest currency units, keyed by normalized method token.
const (
	shippingFeeExpress  int64 = 50000
	shippingFeeStandard int64 = 30000
)

// ShippingMethodStandard is the fallback when no method token is supplied.
const ShippingMethodStandard = "STANDARD"

// ShippingMethodExpress selects the express courier tier.
const ShippingMethodExpress = "EXPRESS"

// ShippingFee resolves the flat fee for a shipping-method token. Unknown or
// empty tokens fall back to the standard tier.
func ShippingFee(method string) (string, int64) {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case ShippingMethodExpress:
		return ShippingMethodExpress, shippingFeeExpress
	default:
		return ShippingMethodStandard, shippingFeeStandard
	}
}

// PriceLine is one priced cart line using the unit price read at allocation
// time.
type PriceLine struct {
	VariantID string
	UnitPrice int64
	Quantity  int
}

// Quote is the monetary outcome of pricing a checkout.
// Invariant: Total = Subtotal + ShippingFee - Discount, clamped at zero.
type Quote struct {
	Subtotal       int64
	ShippingFee    int64
	Discount       int64
	Total          int64
	ShippingMethod string
	PromotionID    *string
}

// PromotionEligible reports whether a promotion may discount a purchase of
// the given subtotal at the given instant. A promotion with no usage limit is
// unlimited; one at its cap must not apply further discounts.
func PromotionEligible(p Promotion, subtotal int64, now time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	if now.Before(p.StartsAt) || now.After(p.EndsAt) {
		return false
	}
	if p.TotalUsageLimit != nil && p.CurrentUsageCount >= *p.TotalUsageLimit {
		return false
	}
	if subtotal < p.MinPurchaseAmount {
		return false
	}
	return true
}

// PromotionDiscount computes the discount a promotion grants on a subtotal.
// Percentage promotions use integer arithmetic on the smallest currency unit.
func PromotionDiscount(p Promotion, subtotal int64) int64 {
	if p.DiscountPercent != nil {
		return subtotal * *p.DiscountPercent / 100
	}
	if p.DiscountAmount != nil {
		return *p.DiscountAmount
	}
	return 0
}

// PriceCheckout computes the full quote for a set of priced lines. The
// promotion pointer is nil when no code was supplied or the code did not
// resolve; eligibility is still re-checked here so callers cannot apply a
// capped or expired promotion.
func PriceCheckout(lines []PriceLine, promo *Promotion, shippingMethod string, now time.Time) Quote {
	var subtotal int64
	for _, line := range lines {
		subtotal += line.UnitPrice * int64(line.Quantity)
	}

	method, fee := ShippingFee(shippingMethod)

	var discount int64
	var promotionID *string
	if promo != nil && PromotionEligible(*promo, subtotal, now) {
		discount = PromotionDiscount(*promo, subtotal)
		id := promo.ID
		promotionID = &id
	}

	total := subtotal + fee - discount
	if total < 0 {
		total = 0
	}

	return Quote{
		Subtotal:       subtotal,
		ShippingFee:    fee,
		Discount:       discount,
		Total:          total,
		ShippingMethod: method,
		PromotionID:    promotionID,
	}
}
