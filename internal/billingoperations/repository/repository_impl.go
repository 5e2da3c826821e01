package repository

import (
	"context"

	billingopsdomain "github.com/smallbiznis/installments/internal/billingoperations/domain"
	installmentdomain "github.com/smallbiznis/installments/internal/installment/domain"
	"gorm.io/gorm"
)

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) billingopsdomain.Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) ListFailedPaymentRows(ctx context.Context, includeIrrecoverable bool) ([]billingopsdomain.FailedPaymentRow, error) {
	query := `
		SELECT
			i.*,
			s.id AS sub_id,
			s.owner_id AS sub_owner_id,
			s.plan_id AS sub_plan_id,
			s.plan_name AS sub_plan_name,
			s.client_name AS sub_client_name,
			s.client_email AS sub_client_email,
			s.client_phone AS sub_client_phone
		FROM installments i
		LEFT JOIN subscriptions s ON s.id = i.subscription_id
		WHERE i.status = ?`
	args := []any{installmentdomain.StatusFailed}
	if !includeIrrecoverable {
		query += ` AND i.irrecoverable = ?`
		args = append(args, false)
	}
	query += ` ORDER BY i.due_date ASC, i.id ASC`

	var rows []billingopsdomain.FailedPaymentRow
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
