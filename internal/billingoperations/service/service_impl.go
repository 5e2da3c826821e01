package service

import (
	"context"
	"sort"
	"time"

	"github.com/samber/lo"
	billingopsdomain "github.com/smallbiznis/installments/internal/billingoperations/domain"
	"github.com/smallbiznis/installments/internal/clock"
	ierr "github.com/smallbiznis/installments/internal/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
	Repo  billingopsdomain.Repository
}

type Service struct {
	log   *zap.Logger
	clock clock.Clock
	repo  billingopsdomain.Repository
}

func NewService(p Params) billingopsdomain.Service {
	return &Service{
		log:   p.Log.Named("billingoperations.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// ListFailedPayments builds the dunning worklist. Rows whose subscription
// cannot be found are skipped.
func (s *Service) ListFailedPayments(ctx context.Context, filter billingopsdomain.FailedPaymentFilter) ([]billingopsdomain.FailedPayment, error) {
	if filter.MinAgeDays != nil && *filter.MinAgeDays < 0 {
		return nil, ierr.WithError(billingopsdomain.ErrInvalidMinAge).
			WithHint("min_age_days cannot be negative").
			Mark(ierr.ErrInvalidArgument)
	}
	if !filter.SortBy.Valid() {
		return nil, ierr.WithError(billingopsdomain.ErrInvalidSortBy).
			WithHintf("unknown sort %q", filter.SortBy).
			Mark(ierr.ErrInvalidArgument)
	}

	rows, err := s.repo.ListFailedPaymentRows(ctx, filter.IncludesIrrecoverable())
	if err != nil {
		return nil, ierr.WithError(err).WithMessage("failed payment store").Mark(ierr.ErrDatabase)
	}

	now := s.clock.Now()
	items := make([]billingopsdomain.FailedPayment, 0, len(rows))
	for _, row := range rows {
		item := billingopsdomain.FailedPayment{Installment: row.Installment}
		age := daysBetween(item.FailureReference(), now)
		if filter.MinAgeDays != nil && age < *filter.MinAgeDays {
			continue
		}

		if row.SubscriptionFound == nil {
			s.log.Warn("failed installment without subscription, skipping",
				zap.String("installment_id", row.ID.String()),
				zap.String("subscription_id", row.SubscriptionID.String()),
			)
			continue
		}
		item.OwnerID = lo.FromPtr(row.OwnerID)
		item.PlanID = lo.FromPtr(row.PlanID)
		item.PlanName = lo.FromPtr(row.PlanName)
		item.ClientName = lo.FromPtr(row.ClientName)
		item.ClientEmail = lo.FromPtr(row.ClientEmail)
		item.ClientPhone = lo.FromPtr(row.ClientPhone)
		item.DaysSinceFailure = age

		if filter.OwnerID != "" && item.OwnerID != filter.OwnerID {
			continue
		}
		if filter.PlanID != "" && item.PlanID != filter.PlanID {
			continue
		}
		items = append(items, item)
	}

	switch filter.SortBy {
	case billingopsdomain.SortAttemptsDesc:
		items = SortByAttemptsDesc(items)
	case billingopsdomain.SortLastAttemptAsc:
		items = SortByLastAttemptAsc(items)
	}
	return items, nil
}

// SortByAttemptsDesc returns a copy ordered by attempt count, highest first.
func SortByAttemptsDesc(items []billingopsdomain.FailedPayment) []billingopsdomain.FailedPayment {
	out := append([]billingopsdomain.FailedPayment(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AttemptCount > out[j].AttemptCount
	})
	return out
}

// SortByLastAttemptAsc returns a copy ordered by last attempt, oldest first.
// Installments never attempted sort first.
func SortByLastAttemptAsc(items []billingopsdomain.FailedPayment) []billingopsdomain.FailedPayment {
	out := append([]billingopsdomain.FailedPayment(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastAttemptDate, out[j].LastAttemptDate
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	return out
}

func daysBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}
