// Package domain models a single scheduled payment of a subscription and
// the dunning metadata recorded once collection fails.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status is the collection state of an installment. Only pending, paid and
// failed are stored; overdue is derived from the due date on read.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
	StatusFailed  Status = "failed"
)

type Installment struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	SubscriptionID  snowflake.ID    `gorm:"not null;uniqueIndex:ux_installments_subscription_due,priority:1" json:"subscription_id"`
	ClientID        string          `gorm:"type:text;not null;index" json:"client_id"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	DueDate         time.Time       `gorm:"not null;uniqueIndex:ux_installments_subscription_due,priority:2" json:"due_date"`
	Status          Status          `gorm:"type:text;not null;index" json:"status"`
	PaymentDate     *time.Time      `json:"payment_date,omitempty"`
	PaymentMethod   *string         `gorm:"type:text" json:"payment_method,omitempty"`
	Reference       *string         `gorm:"type:text" json:"reference,omitempty"`
	Notes           string          `gorm:"type:text" json:"notes,omitempty"`
	AttemptCount    int             `gorm:"not null;default:0" json:"attempt_count"`
	LastAttemptDate *time.Time      `json:"last_attempt_date,omitempty"`
	NextRetryDate   *time.Time      `json:"next_retry_date,omitempty"`
	FailureReason   *string         `gorm:"type:text" json:"failure_reason,omitempty"`
	Irrecoverable   bool            `gorm:"not null;default:false" json:"irrecoverable"`
	Version         int64           `gorm:"not null;default:1" json:"version"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Installment) TableName() string { return "installments" }

// EffectiveStatus reports overdue for unpaid pending installments whose due day has passed.
func (i Installment) EffectiveStatus(now time.Time) Status {
	if (i.Status == StatusPending || i.Status == StatusOverdue) && DateOf(i.DueDate).Before(DateOf(now)) {
		return StatusOverdue
	}
	if i.Status == StatusOverdue {
		return StatusPending
	}
	return i.Status
}

// IsOpen reports whether the installment can still be collected.
func (i Installment) IsOpen() bool {
	return i.Status != StatusPaid
}

// Validate checks the invariants that must hold before persisting.
func (i Installment) Validate() error {
	if i.Irrecoverable && i.Status != StatusFailed {
		return ErrIrrecoverableNotFailed
	}
	if i.Status == StatusPaid && i.PaymentDate == nil {
		return ErrPaidWithoutDate
	}
	if i.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

// AppendNote adds a dated line to Notes.
func (i *Installment) AppendNote(at time.Time, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	line := "[" + at.UTC().Format("2006-01-02") + "] " + text
	if i.Notes == "" {
		i.Notes = line
		return
	}
	i.Notes += "\n" + line
}

// DateOf truncates t to midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddMonthsClamped adds months to t keeping the day of month when it exists,
// otherwise landing on the last day of the target month.
func AddMonthsClamped(t time.Time, months int) time.Time {
	t = t.UTC()
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return first.AddDate(0, 0, d-1)
}
