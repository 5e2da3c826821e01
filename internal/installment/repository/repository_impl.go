package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	installmentdomain "github.com/smallbiznis/installments/internal/installment/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) installmentdomain.Repository {
	return &repo{db: db}
}

func (r *repo) Insert(ctx context.Context, installment *installmentdomain.Installment) error {
	if err := installment.Validate(); err != nil {
		return err
	}
	if installment.Version == 0 {
		installment.Version = 1
	}
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO installments (
			id, subscription_id, client_id, amount, due_date, status, payment_date,
			payment_method, reference, notes, attempt_count, last_attempt_date,
			next_retry_date, failure_reason, irrecoverable, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		installment.ID,
		installment.SubscriptionID,
		installment.ClientID,
		installment.Amount,
		installment.DueDate,
		installment.Status,
		installment.PaymentDate,
		installment.PaymentMethod,
		installment.Reference,
		installment.Notes,
		installment.AttemptCount,
		installment.LastAttemptDate,
		installment.NextRetryDate,
		installment.FailureReason,
		installment.Irrecoverable,
		installment.Version,
		installment.CreatedAt,
		installment.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, installment *installmentdomain.Installment, expectedVersion int64) error {
	if err := installment.Validate(); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Exec(
		`UPDATE installments
		SET amount = ?, status = ?, payment_date = ?, payment_method = ?, reference = ?,
			notes = ?, attempt_count = ?, last_attempt_date = ?, next_retry_date = ?,
			failure_reason = ?, irrecoverable = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		installment.Amount,
		installment.Status,
		installment.PaymentDate,
		installment.PaymentMethod,
		installment.Reference,
		installment.Notes,
		installment.AttemptCount,
		installment.LastAttemptDate,
		installment.NextRetryDate,
		installment.FailureReason,
		installment.Irrecoverable,
		expectedVersion+1,
		installment.UpdatedAt,
		installment.ID,
		expectedVersion,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return installmentdomain.ErrVersionMismatch
	}
	installment.Version = expectedVersion + 1
	return nil
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*installmentdomain.Installment, error) {
	var installment installmentdomain.Installment
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM installments WHERE id = ? LIMIT 1`,
		id,
	).Scan(&installment).Error
	if err != nil {
		return nil, err
	}
	if installment.ID == 0 {
		return nil, nil
	}
	return &installment, nil
}

func (r *repo) FindByUniqueKey(ctx context.Context, subscriptionID snowflake.ID, dueDate time.Time) (*installmentdomain.Installment, error) {
	var installment installmentdomain.Installment
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM installments WHERE subscription_id = ? AND due_date = ? LIMIT 1`,
		subscriptionID,
		dueDate,
	).Scan(&installment).Error
	if err != nil {
		return nil, err
	}
	if installment.ID == 0 {
		return nil, nil
	}
	return &installment, nil
}

func (r *repo) List(ctx context.Context, filter installmentdomain.ListFilter) ([]installmentdomain.Installment, error) {
	query := r.db.WithContext(ctx).Model(&installmentdomain.Installment{})
	if filter.SubscriptionID != 0 {
		query = query.Where("subscription_id = ?", filter.SubscriptionID)
	}
	if filter.ClientID != "" {
		query = query.Where("client_id = ?", filter.ClientID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.Irrecoverable != nil {
		query = query.Where("irrecoverable = ?", *filter.Irrecoverable)
	}

	var items []installmentdomain.Installment
	if err := query.Order("due_date ASC").Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
