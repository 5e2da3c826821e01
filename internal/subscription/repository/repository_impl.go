package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/installments/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) subscriptiondomain.Repository {
	return &repo{db: db}
}

func (r *repo) Insert(ctx context.Context, subscription *subscriptiondomain.Subscription) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, owner_id, client_id, client_name, client_email, client_phone,
			plan_id, plan_name, price, original_price, discount_type, discount_value,
			payment_frequency, start_date, expiration_date, status, cancelled_at,
			cancellation_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.OwnerID,
		subscription.ClientID,
		subscription.ClientName,
		subscription.ClientEmail,
		subscription.ClientPhone,
		subscription.PlanID,
		subscription.PlanName,
		subscription.Price,
		subscription.OriginalPrice,
		subscription.Discount.Type,
		subscription.Discount.Value,
		subscription.PaymentFrequency,
		subscription.StartDate,
		subscription.ExpirationDate,
		subscription.Status,
		subscription.CancelledAt,
		subscription.CancellationReason,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, subscription *subscriptiondomain.Subscription) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		SET price = ?, original_price = ?, discount_type = ?, discount_value = ?,
			expiration_date = ?, status = ?, cancelled_at = ?, cancellation_reason = ?,
			updated_at = ?
		WHERE id = ?`,
		subscription.Price,
		subscription.OriginalPrice,
		subscription.Discount.Type,
		subscription.Discount.Value,
		subscription.ExpirationDate,
		subscription.Status,
		subscription.CancelledAt,
		subscription.CancellationReason,
		subscription.UpdatedAt,
		subscription.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions WHERE id = ? LIMIT 1`,
		id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindByIDs(ctx context.Context, ids []snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []subscriptiondomain.Subscription
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions WHERE id IN ?`,
		ids,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, filter subscriptiondomain.Filter) ([]subscriptiondomain.Subscription, error) {
	query := r.db.WithContext(ctx).Model(&subscriptiondomain.Subscription{})
	if filter.OwnerID != "" {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.ClientID != "" {
		query = query.Where("client_id = ?", filter.ClientID)
	}
	if filter.PlanID != "" {
		query = query.Where("plan_id = ?", filter.PlanID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var items []subscriptiondomain.Subscription
	if err := query.Order("created_at ASC").Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
