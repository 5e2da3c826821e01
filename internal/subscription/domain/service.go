package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type CreateSubscriptionRequest struct {
	OwnerID          string           `json:"owner_id"`
	ClientID         string           `json:"client_id"`
	ClientName       string           `json:"client_name,omitempty"`
	ClientEmail      string           `json:"client_email,omitempty"`
	ClientPhone      string           `json:"client_phone,omitempty"`
	PlanID           string           `json:"plan_id"`
	PlanName         string           `json:"plan_name"`
	Price            decimal.Decimal  `json:"price"`
	Discount         *Discount        `json:"discount,omitempty"`
	PaymentFrequency PaymentFrequency `json:"payment_frequency"`
	StartDate        time.Time        `json:"start_date"`
	ExpirationDate   *time.Time       `json:"expiration_date,omitempty"`
}

type ListSubscriptionRequest struct {
	OwnerID  string
	ClientID string
	PlanID   string
	Status   string
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error)
	GetByID(ctx context.Context, id string) (Subscription, error)
	List(ctx context.Context, req ListSubscriptionRequest) ([]Subscription, error)
	Cancel(ctx context.Context, id string, reason string) (Subscription, error)
	Pause(ctx context.Context, id string) (Subscription, error)
	Resume(ctx context.Context, id string) (Subscription, error)
	ApplyDiscount(ctx context.Context, id string, discount Discount) (Subscription, error)
	RemoveDiscount(ctx context.Context, id string) (Subscription, error)
}

var (
	ErrInvalidSubscription   = errors.New("invalid_subscription")
	ErrInvalidOwner          = errors.New("invalid_owner")
	ErrInvalidClient         = errors.New("invalid_client")
	ErrInvalidPlan           = errors.New("invalid_plan")
	ErrInvalidPrice          = errors.New("invalid_price")
	ErrInvalidFrequency      = errors.New("invalid_payment_frequency")
	ErrInvalidStartDate      = errors.New("invalid_start_date")
	ErrInvalidExpirationDate = errors.New("invalid_expiration_date")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrInvalidDiscount       = errors.New("invalid_discount")
	ErrInvalidDiscountType   = errors.New("invalid_discount_type")
	ErrNoDiscount            = errors.New("subscription_has_no_discount")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrSubscriptionCancelled = errors.New("subscription_already_cancelled")
	ErrSubscriptionNotActive = errors.New("subscription_not_active")
	ErrSubscriptionNotPaused = errors.New("subscription_not_paused")
)
