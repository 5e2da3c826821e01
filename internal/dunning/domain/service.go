// Package domain defines the payment and dunning operations on installments.
package domain

import (
	"context"
	"errors"
	"time"

	installmentdomain "github.com/smallbiznis/installments/internal/installment/domain"
)

// Action is a manual resolution step for a failed payment.
type Action string

const (
	ActionRetry         Action = "retry"
	ActionUpdateMethod  Action = "update_method"
	ActionMarkResolved  Action = "mark_resolved"
	ActionContactClient Action = "contact_client"
)

func (a Action) Valid() bool {
	switch a {
	case ActionRetry, ActionUpdateMethod, ActionMarkResolved, ActionContactClient:
		return true
	}
	return false
}

// RetryOracle decides whether a retried charge goes through.
type RetryOracle func(ctx context.Context, installment installmentdomain.Installment) bool

type ProcessPaymentRequest struct {
	InstallmentID string `json:"-"`
	PaymentMethod string `json:"payment_method"`
	Reference     string `json:"reference,omitempty"`
}

type MarkFailedRequest struct {
	InstallmentID string `json:"-"`
	Reason        string `json:"reason,omitempty"`
}

type ScheduleRetryRequest struct {
	InstallmentID string     `json:"-"`
	RetryDate     *time.Time `json:"retry_date,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

type HandleFailedPaymentRequest struct {
	InstallmentID    string `json:"-"`
	Action           Action `json:"action"`
	NewPaymentMethod string `json:"new_payment_method,omitempty"`
	Note             string `json:"note,omitempty"`
}

type MarkIrrecoverableRequest struct {
	InstallmentID string `json:"-"`
	Reason        string `json:"reason,omitempty"`
}

type Service interface {
	ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (installmentdomain.Installment, error)
	MarkFailed(ctx context.Context, req MarkFailedRequest) (installmentdomain.Installment, error)
	ScheduleRetry(ctx context.Context, req ScheduleRetryRequest) (installmentdomain.Installment, error)
	HandleFailedPayment(ctx context.Context, req HandleFailedPaymentRequest) (installmentdomain.Installment, error)
	MarkIrrecoverable(ctx context.Context, req MarkIrrecoverableRequest) (installmentdomain.Installment, error)
}

var (
	ErrAlreadyPaid           = errors.New("installment_already_paid")
	ErrNotFailed             = errors.New("installment_not_failed")
	ErrIrrecoverable         = errors.New("installment_irrecoverable")
	ErrPaymentMethodRequired = errors.New("payment_method_required")
	ErrInvalidAction         = errors.New("invalid_failed_payment_action")
	ErrRetryDateInPast       = errors.New("retry_date_in_past")
)
