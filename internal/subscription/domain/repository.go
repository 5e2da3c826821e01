package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Filter narrows List. Zero values are ignored.
type Filter struct {
	OwnerID  string
	ClientID string
	PlanID   string
	Status   SubscriptionStatus
}

type Repository interface {
	Insert(ctx context.Context, subscription *Subscription) error
	Update(ctx context.Context, subscription *Subscription) error
	FindByID(ctx context.Context, id snowflake.ID) (*Subscription, error)
	FindByIDs(ctx context.Context, ids []snowflake.ID) ([]Subscription, error)
	List(ctx context.Context, filter Filter) ([]Subscription, error)
}
