package service

import (
	"math"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	forecastdomain "github.com/smallbiznis/installments/internal/forecast/domain"
	subscriptiondomain "github.com/smallbiznis/installments/internal/subscription/domain"
)

const monthLayout = "2006-01"

var hundred = decimal.NewFromInt(100)

// monthStart returns the first instant of the calendar month offset months
// away from t.
func monthStart(t time.Time, offset int) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m+time.Month(offset), 1, 0, 0, 0, 0, time.UTC)
}

// historicalChurnRate is the share of cancelled subscriptions across the
// whole book.
func historicalChurnRate(subs []subscriptiondomain.Subscription) float64 {
	if len(subs) == 0 {
		return 0
	}
	cancelled := lo.CountBy(subs, func(s subscriptiondomain.Subscription) bool {
		return s.Status == subscriptiondomain.SubscriptionStatusCancelled
	})
	return clampPercent(float64(cancelled) / float64(len(subs)) * 100)
}

func activeSubscriptions(subs []subscriptiondomain.Subscription) []subscriptiondomain.Subscription {
	return lo.Filter(subs, func(s subscriptiondomain.Subscription, _ int) bool { return s.IsActive() })
}

// mrr sums monthly equivalents of active subscriptions, with and without
// discounts.
func mrr(active []subscriptiondomain.Subscription) (withDiscounts, withoutDiscounts decimal.Decimal) {
	withDiscounts, withoutDiscounts = decimal.Zero, decimal.Zero
	for _, s := range active {
		withDiscounts = withDiscounts.Add(s.MonthlyPrice())
		withoutDiscounts = withoutDiscounts.Add(s.MonthlyListPrice())
	}
	return withDiscounts, withoutDiscounts
}

// project builds months projections starting at the calendar month of now.
func project(subs []subscriptiondomain.Subscription, now time.Time, months int, churnRate float64) []forecastdomain.ProjectionMonth {
	active := activeSubscriptions(subs)
	out := make([]forecastdomain.ProjectionMonth, 0, months)

	for m := 0; m < months; m++ {
		start := monthStart(now, m)
		next := monthStart(now, m+1)

		inMonth := lo.Filter(active, func(s subscriptiondomain.Subscription, _ int) bool {
			return s.StartDate.Before(next) && !s.ExpirationDate.Before(start)
		})
		renewals := lo.Filter(inMonth, func(s subscriptiondomain.Subscription, _ int) bool {
			return !s.ExpirationDate.Before(start) && s.ExpirationDate.Before(next)
		})

		confirmed := sumMonthly(inMonth)
		renewalRevenue := sumMonthly(renewals)
		count := len(inMonth)

		cancellations := int(math.Round(float64(count) * churnRate / 100))
		if cancellations > count {
			cancellations = count
		}
		lost := decimal.Zero
		retention := 100.0
		if count > 0 {
			lost = confirmed.Div(decimal.NewFromInt(int64(count))).Mul(decimal.NewFromInt(int64(cancellations)))
			retention = clampPercent(float64(count-cancellations) / float64(count) * 100)
		}

		projected := confirmed.Add(renewalRevenue).Sub(lost)
		if projected.IsNegative() {
			projected = decimal.Zero
		}

		out = append(out, forecastdomain.ProjectionMonth{
			Month:                 start.Format(monthLayout),
			MonthStart:            start,
			ActiveSubscriptions:   count,
			ConfirmedRevenue:      confirmed.Round(2),
			Renewals:              len(renewals),
			RenewalRevenue:        renewalRevenue.Round(2),
			ExpectedCancellations: cancellations,
			LostRevenue:           lost.Round(2),
			ProjectedRevenue:      projected.Round(2),
			PotentialRevenue:      lost.Round(2),
			ExpectedRetentionRate: round2(retention),
		})
	}
	return out
}

func sumMonthly(subs []subscriptiondomain.Subscription) decimal.Decimal {
	total := decimal.Zero
	for _, s := range subs {
		total = total.Add(s.MonthlyPrice())
	}
	return total
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func percent(part, total int) float64 {
	if total == 0 {
		return 100
	}
	return round2(clampPercent(float64(part) / float64(total) * 100))
}
