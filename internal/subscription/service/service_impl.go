package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/installments/internal/clock"
	ierr "github.com/smallbiznis/installments/internal/errors"
	subscriptiondomain "github.com/smallbiznis/installments/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  subscriptiondomain.Repository
}

type ServiceParam struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  subscriptiondomain.Repository
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		log:   p.Log.Named("subscription.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	if err := validateCreate(req); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	now := s.clock.Now()
	start := req.StartDate.UTC()
	expiration := start.AddDate(0, req.PaymentFrequency.IntervalMonths(), 0)
	if req.ExpirationDate != nil {
		expiration = req.ExpirationDate.UTC()
	}
	if expiration.Before(start) {
		return subscriptiondomain.Subscription{}, invalidArgument(subscriptiondomain.ErrInvalidExpirationDate, "expiration_date must not be before start_date")
	}

	subscription := subscriptiondomain.Subscription{
		ID:               s.genID.Generate(),
		OwnerID:          strings.TrimSpace(req.OwnerID),
		ClientID:         strings.TrimSpace(req.ClientID),
		ClientName:       strings.TrimSpace(req.ClientName),
		ClientEmail:      strings.TrimSpace(req.ClientEmail),
		ClientPhone:      strings.TrimSpace(req.ClientPhone),
		PlanID:           strings.TrimSpace(req.PlanID),
		PlanName:         strings.TrimSpace(req.PlanName),
		Price:            req.Price,
		PaymentFrequency: req.PaymentFrequency,
		StartDate:        start,
		ExpirationDate:   expiration,
		Status:           subscriptiondomain.SubscriptionStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.Discount != nil && !req.Discount.IsZero() {
		if err := applyDiscount(&subscription, *req.Discount); err != nil {
			return subscriptiondomain.Subscription{}, err
		}
	}

	if err := s.repo.Insert(ctx, &subscription); err != nil {
		return subscriptiondomain.Subscription{}, databaseError(err)
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("owner_id", subscription.OwnerID),
		zap.String("plan_id", subscription.PlanID),
	)
	return subscription, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	subscription, err := s.load(ctx, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return *subscription, nil
}

func (s *Service) List(ctx context.Context, req subscriptiondomain.ListSubscriptionRequest) ([]subscriptiondomain.Subscription, error) {
	filter := subscriptiondomain.Filter{
		OwnerID:  strings.TrimSpace(req.OwnerID),
		ClientID: strings.TrimSpace(req.ClientID),
		PlanID:   strings.TrimSpace(req.PlanID),
	}
	if status := strings.ToLower(strings.TrimSpace(req.Status)); status != "" {
		switch subscriptiondomain.SubscriptionStatus(status) {
		case subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusPaused,
			subscriptiondomain.SubscriptionStatusCancelled:
			filter.Status = subscriptiondomain.SubscriptionStatus(status)
		default:
			return nil, invalidArgument(subscriptiondomain.ErrInvalidStatus, "unknown subscription status")
		}
	}

	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, databaseError(err)
	}
	return items, nil
}

func (s *Service) Cancel(ctx context.Context, id string, reason string) (subscriptiondomain.Subscription, error) {
	return s.mutate(ctx, id, func(sub *subscriptiondomain.Subscription, now time.Time) error {
		if sub.Status == subscriptiondomain.SubscriptionStatusCancelled {
			return invalidState(subscriptiondomain.ErrSubscriptionCancelled, "subscription is already cancelled")
		}
		sub.Status = subscriptiondomain.SubscriptionStatusCancelled
		sub.CancelledAt = &now
		if reason = strings.TrimSpace(reason); reason != "" {
			sub.CancellationReason = &reason
		}
		return nil
	})
}

func (s *Service) Pause(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	return s.mutate(ctx, id, func(sub *subscriptiondomain.Subscription, _ time.Time) error {
		if sub.Status != subscriptiondomain.SubscriptionStatusActive {
			return invalidState(subscriptiondomain.ErrSubscriptionNotActive, "only active subscriptions can be paused")
		}
		sub.Status = subscriptiondomain.SubscriptionStatusPaused
		return nil
	})
}

func (s *Service) Resume(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	return s.mutate(ctx, id, func(sub *subscriptiondomain.Subscription, _ time.Time) error {
		if sub.Status != subscriptiondomain.SubscriptionStatusPaused {
			return invalidState(subscriptiondomain.ErrSubscriptionNotPaused, "only paused subscriptions can be resumed")
		}
		sub.Status = subscriptiondomain.SubscriptionStatusActive
		return nil
	})
}

func (s *Service) ApplyDiscount(ctx context.Context, id string, discount subscriptiondomain.Discount) (subscriptiondomain.Subscription, error) {
	return s.mutate(ctx, id, func(sub *subscriptiondomain.Subscription, _ time.Time) error {
		if sub.Status == subscriptiondomain.SubscriptionStatusCancelled {
			return invalidState(subscriptiondomain.ErrSubscriptionCancelled, "cannot discount a cancelled subscription")
		}
		return applyDiscount(sub, discount)
	})
}

func (s *Service) RemoveDiscount(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	return s.mutate(ctx, id, func(sub *subscriptiondomain.Subscription, _ time.Time) error {
		if sub.Discount.IsZero() || sub.OriginalPrice == nil {
			return invalidState(subscriptiondomain.ErrNoDiscount, "subscription has no discount")
		}
		sub.Price = *sub.OriginalPrice
		sub.OriginalPrice = nil
		sub.Discount = subscriptiondomain.Discount{}
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, id string, fn func(*subscriptiondomain.Subscription, time.Time) error) (subscriptiondomain.Subscription, error) {
	subscription, err := s.load(ctx, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	now := s.clock.Now()
	if err := fn(subscription, now); err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	subscription.UpdatedAt = now

	if err := s.repo.Update(ctx, subscription); err != nil {
		return subscriptiondomain.Subscription{}, databaseError(err)
	}
	return *subscription, nil
}

func (s *Service) load(ctx context.Context, id string) (*subscriptiondomain.Subscription, error) {
	subscriptionID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	subscription, err := s.repo.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, databaseError(err)
	}
	if subscription == nil {
		return nil, ierr.WithError(subscriptiondomain.ErrSubscriptionNotFound).
			WithHintf("subscription %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return subscription, nil
}

func applyDiscount(sub *subscriptiondomain.Subscription, discount subscriptiondomain.Discount) error {
	base := sub.ListPrice()
	price, err := subscriptiondomain.ApplyDiscount(base, discount)
	if err != nil {
		return invalidArgument(err, "percentage discounts must be within 0-100 and fixed discounts cannot exceed the price")
	}
	sub.OriginalPrice = &base
	sub.Price = price
	sub.Discount = discount
	return nil
}

func validateCreate(req subscriptiondomain.CreateSubscriptionRequest) error {
	switch {
	case strings.TrimSpace(req.OwnerID) == "":
		return invalidArgument(subscriptiondomain.ErrInvalidOwner, "owner_id is required")
	case strings.TrimSpace(req.ClientID) == "":
		return invalidArgument(subscriptiondomain.ErrInvalidClient, "client_id is required")
	case strings.TrimSpace(req.PlanID) == "":
		return invalidArgument(subscriptiondomain.ErrInvalidPlan, "plan_id is required")
	case req.Price.LessThan(decimal.Zero):
		return invalidArgument(subscriptiondomain.ErrInvalidPrice, "price cannot be negative")
	case !req.PaymentFrequency.Valid():
		return invalidArgument(subscriptiondomain.ErrInvalidFrequency, "payment_frequency must be monthly, quarterly, semiannual or annual")
	case req.StartDate.IsZero():
		return invalidArgument(subscriptiondomain.ErrInvalidStartDate, "start_date is required")
	}
	return nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidArgument(subscriptiondomain.ErrInvalidSubscription, "invalid subscription id")
	}
	return id, nil
}

func invalidArgument(cause error, hint string) error {
	return ierr.WithError(cause).WithHint(hint).Mark(ierr.ErrInvalidArgument)
}

func invalidState(cause error, hint string) error {
	return ierr.WithError(cause).WithHint(hint).Mark(ierr.ErrInvalidState)
}

func databaseError(err error) error {
	return ierr.WithError(err).WithMessage("subscription store").Mark(ierr.ErrDatabase)
}
