package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type GenerateRequest struct {
	SubscriptionID string           `json:"subscription_id"`
	Count          int              `json:"count"`
	StartDate      *time.Time       `json:"start_date,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
}

type ListPendingRequest struct {
	IncludeOverdue bool
	ClientID       string
}

// View is an installment annotated with its status as of the read.
type View struct {
	Installment
	EffectiveStatus Status `json:"effective_status"`
}

type Service interface {
	Generate(ctx context.Context, req GenerateRequest) ([]Installment, error)
	GetByID(ctx context.Context, id string) (View, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]View, error)
	ListByClient(ctx context.Context, clientID string) ([]View, error)
	ListPending(ctx context.Context, req ListPendingRequest) ([]View, error)
	ListOverdue(ctx context.Context) ([]View, error)
}

var (
	ErrInstallmentNotFound    = errors.New("installment_not_found")
	ErrInvalidInstallment     = errors.New("invalid_installment")
	ErrInvalidCount           = errors.New("invalid_count")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidClient          = errors.New("invalid_client")
	ErrDuplicateInstallment   = errors.New("duplicate_installment")
	ErrVersionMismatch        = errors.New("installment_version_mismatch")
	ErrIrrecoverableNotFailed = errors.New("irrecoverable_requires_failed_status")
	ErrPaidWithoutDate        = errors.New("paid_requires_payment_date")
)
