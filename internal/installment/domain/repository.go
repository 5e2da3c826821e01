package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ListFilter narrows List. Zero values are ignored.
type ListFilter struct {
	SubscriptionID snowflake.ID
	ClientID       string
	Statuses       []Status
	Irrecoverable  *bool
}

type Repository interface {
	Insert(ctx context.Context, installment *Installment) error
	// Update writes installment if its stored version equals expectedVersion
	// and bumps the version. It returns ErrVersionMismatch otherwise.
	Update(ctx context.Context, installment *Installment, expectedVersion int64) error
	FindByID(ctx context.Context, id snowflake.ID) (*Installment, error)
	FindByUniqueKey(ctx context.Context, subscriptionID snowflake.ID, dueDate time.Time) (*Installment, error)
	List(ctx context.Context, filter ListFilter) ([]Installment, error)
}
