// Package domain contains the subscription model and its billing frequency rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// PaymentFrequency is the billing cadence of a subscription.
type PaymentFrequency string

const (
	FrequencyMonthly    PaymentFrequency = "monthly"
	FrequencyQuarterly  PaymentFrequency = "quarterly"
	FrequencySemiannual PaymentFrequency = "semiannual"
	FrequencyAnnual     PaymentFrequency = "annual"
)

func (f PaymentFrequency) Valid() bool {
	return f.IntervalMonths() > 0
}

// IntervalMonths returns the number of months between two installments.
func (f PaymentFrequency) IntervalMonths() int {
	switch f {
	case FrequencyMonthly:
		return 1
	case FrequencyQuarterly:
		return 3
	case FrequencySemiannual:
		return 6
	case FrequencyAnnual:
		return 12
	default:
		return 0
	}
}

// MonthlyEquivalent normalizes a per-period price to a monthly figure.
func (f PaymentFrequency) MonthlyEquivalent(price decimal.Decimal) decimal.Decimal {
	months := f.IntervalMonths()
	if months <= 1 {
		return price
	}
	return price.Div(decimal.NewFromInt(int64(months)))
}

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Discount is empty when Type is "".
type Discount struct {
	Type  DiscountType    `gorm:"type:text" json:"type,omitempty"`
	Value decimal.Decimal `gorm:"type:numeric(20,4)" json:"value"`
}

func (d Discount) IsZero() bool {
	return d.Type == ""
}

// Subscription is a client's recurring commitment to a plan.
// Price is always the post-discount amount per billing period.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey" json:"id"`
	OwnerID            string             `gorm:"type:text;not null;index" json:"owner_id"`
	ClientID           string             `gorm:"type:text;not null;index" json:"client_id"`
	ClientName         string             `gorm:"type:text" json:"client_name,omitempty"`
	ClientEmail        string             `gorm:"type:text" json:"client_email,omitempty"`
	ClientPhone        string             `gorm:"type:text" json:"client_phone,omitempty"`
	PlanID             string             `gorm:"type:text;not null;index" json:"plan_id"`
	PlanName           string             `gorm:"type:text" json:"plan_name"`
	Price              decimal.Decimal    `gorm:"type:numeric(20,4);not null" json:"price"`
	OriginalPrice      *decimal.Decimal   `gorm:"type:numeric(20,4)" json:"original_price,omitempty"`
	Discount           Discount           `gorm:"embedded;embeddedPrefix:discount_" json:"discount"`
	PaymentFrequency   PaymentFrequency   `gorm:"type:text;not null" json:"payment_frequency"`
	StartDate          time.Time          `gorm:"not null" json:"start_date"`
	ExpirationDate     time.Time          `gorm:"not null" json:"expiration_date"`
	Status             SubscriptionStatus `gorm:"type:text;not null;index" json:"status"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	CancellationReason *string            `gorm:"type:text" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// ListPrice is the pre-discount price, falling back to Price.
func (s Subscription) ListPrice() decimal.Decimal {
	if s.OriginalPrice != nil {
		return *s.OriginalPrice
	}
	return s.Price
}

func (s Subscription) MonthlyPrice() decimal.Decimal {
	return s.PaymentFrequency.MonthlyEquivalent(s.Price)
}

func (s Subscription) MonthlyListPrice() decimal.Decimal {
	return s.PaymentFrequency.MonthlyEquivalent(s.ListPrice())
}

// ApplyDiscount returns the discounted price for base, rounded to cents.
func ApplyDiscount(base decimal.Decimal, d Discount) (decimal.Decimal, error) {
	if d.Value.IsNegative() {
		return decimal.Zero, ErrInvalidDiscount
	}
	switch d.Type {
	case DiscountTypePercentage:
		if d.Value.GreaterThan(decimal.NewFromInt(100)) {
			return decimal.Zero, ErrInvalidDiscount
		}
		factor := decimal.NewFromInt(1).Sub(d.Value.Div(decimal.NewFromInt(100)))
		return base.Mul(factor).Round(2), nil
	case DiscountTypeFixed:
		if d.Value.GreaterThan(base) {
			return decimal.Zero, ErrInvalidDiscount
		}
		return base.Sub(d.Value).Round(2), nil
	default:
		return decimal.Zero, ErrInvalidDiscountType
	}
}
