package domain

import (
	"context"
	"errors"
)

type FailedPaymentFilter struct {
	OwnerID              string
	PlanID               string
	MinAgeDays           *int
	IncludeIrrecoverable *bool
	SortBy               SortBy
}

// IncludesIrrecoverable defaults to true when unset.
func (f FailedPaymentFilter) IncludesIrrecoverable() bool {
	return f.IncludeIrrecoverable == nil || *f.IncludeIrrecoverable
}

type Service interface {
	ListFailedPayments(ctx context.Context, filter FailedPaymentFilter) ([]FailedPayment, error)
}

var (
	ErrInvalidMinAge = errors.New("invalid_min_age_days")
	ErrInvalidSortBy = errors.New("invalid_sort_by")
)
