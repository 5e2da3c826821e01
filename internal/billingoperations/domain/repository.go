package domain

import "context"

type Repository interface {
	// ListFailedPaymentRows returns installments in failed status left
	// joined to their subscriptions.
	ListFailedPaymentRows(ctx context.Context, includeIrrecoverable bool) ([]FailedPaymentRow, error)
}
