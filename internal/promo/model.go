package promo

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
)

var (
	// ErrNotFound is returned by a Store when no code matches.
	ErrNotFound = errors.New("promo code not found")
	// ErrUsageLimitReached is returned by Redeem when the code has no uses left.
	ErrUsageLimitReached = errors.New("promo code usage limit reached")
)

// Code is a promo code as stored. Codes are compared upper-cased.
type Code struct {
	Code                 string
	DiscountType         pricing.DiscountType
	DiscountValue        decimal.Decimal
	MinOrderAmount       decimal.Decimal
	MaxDiscountAmount    decimal.NullDecimal
	UsageLimit           *int
	UsedCount            int
	ValidFrom            time.Time
	ValidUntil           time.Time
	IsActive             bool
	ApplicableCategories []string
}

func (c Code) Discount() pricing.Discount {
	return pricing.Discount{
		Type:              c.DiscountType,
		Value:             c.DiscountValue,
		MaxDiscountAmount: c.MaxDiscountAmount,
	}
}

// NormalizeCode trims and upper-cases a customer supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type Reason string

const (
	ReasonCodeNotFound          Reason = "CodeNotFound"
	ReasonCodeExpired           Reason = "CodeExpired"
	ReasonUsageLimitReached     Reason = "UsageLimitReached"
	ReasonMinimumOrderNotMet    Reason = "MinimumOrderNotMet"
	ReasonCategoryNotApplicable Reason = "CategoryNotApplicable"
)

// Rejection explains why a code cannot be applied. It is a user-facing
// outcome rather than a failure of the service.
type Rejection struct {
	Reason Reason `json:"reason"`
	Code   string `json:"code"`

	// NotYetValid separates a code whose window has not opened from one
	// whose window has closed; both are ReasonCodeExpired.
	NotYetValid bool       `json:"notYetValid,omitempty"`
	ValidFrom   *time.Time `json:"validFrom,omitempty"`
	ValidUntil  *time.Time `json:"validUntil,omitempty"`

	MinOrderAmount decimal.NullDecimal `json:"minOrderAmount"`
	Shortfall      decimal.NullDecimal `json:"shortfall"`

	ApplicableCategories []string `json:"applicableCategories,omitempty"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("promo %s rejected: %s", r.Code, r.Message())
}

// Message renders the rejection for display.
func (r *Rejection) Message() string {
	switch r.Reason {
	case ReasonCodeNotFound:
		return "this code does not exist"
	case ReasonCodeExpired:
		if r.NotYetValid && r.ValidFrom != nil {
			return "this code is valid from " + r.ValidFrom.Format(time.RFC3339)
		}
		return "this code has expired"
	case ReasonUsageLimitReached:
		return "this code has reached its usage limit"
	case ReasonMinimumOrderNotMet:
		return fmt.Sprintf("add %s more to use this code", r.Shortfall.Decimal.StringFixed(2))
	case ReasonCategoryNotApplicable:
		return "this code does not apply to items in your cart (" + strings.Join(r.ApplicableCategories, ", ") + ")"
	default:
		return string(r.Reason)
	}
}
