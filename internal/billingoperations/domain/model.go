package domain

import (
	"time"

	installmentdomain "github.com/smallbiznis/installments/internal/installment/domain"
)

// SortBy orders the failed-payment worklist. The zero value keeps store order.
type SortBy string

const (
	SortNone           SortBy = ""
	SortAttemptsDesc   SortBy = "attempts_desc"
	SortLastAttemptAsc SortBy = "last_attempt_asc"
)

func (s SortBy) Valid() bool {
	switch s {
	case SortNone, SortAttemptsDesc, SortLastAttemptAsc:
		return true
	default:
		return false
	}
}

// FailedPaymentRow is a failed installment with the columns of its
// subscription. Subscription columns are nil when the subscription row is
// missing.
type FailedPaymentRow struct {
	installmentdomain.Installment

	SubscriptionFound *int64  `gorm:"column:sub_id"`
	OwnerID           *string `gorm:"column:sub_owner_id"`
	PlanID            *string `gorm:"column:sub_plan_id"`
	PlanName          *string `gorm:"column:sub_plan_name"`
	ClientName        *string `gorm:"column:sub_client_name"`
	ClientEmail       *string `gorm:"column:sub_client_email"`
	ClientPhone       *string `gorm:"column:sub_client_phone"`
}

// FailedPayment is one entry of the dunning worklist.
type FailedPayment struct {
	installmentdomain.Installment

	OwnerID          string `json:"owner_id"`
	PlanID           string `json:"plan_id"`
	PlanName         string `json:"plan_name,omitempty"`
	ClientName       string `json:"client_name,omitempty"`
	ClientEmail      string `json:"client_email,omitempty"`
	ClientPhone      string `json:"client_phone,omitempty"`
	DaysSinceFailure int    `json:"days_since_failure"`
}

// FailureReference is the instant the failure age is measured from.
func (f FailedPayment) FailureReference() time.Time {
	if f.LastAttemptDate != nil {
		return *f.LastAttemptDate
	}
	return f.DueDate
}
