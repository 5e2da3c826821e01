package service

import (
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	forecastdomain "github.com/smallbiznis/installments/internal/forecast/domain"
	subscriptiondomain "github.com/smallbiznis/installments/internal/subscription/domain"
)

const (
	daysPerMonth       = 30
	unspecifiedReason  = "unspecified"
	cohortUnderThree   = "0-3"
	cohortThreeToSix   = "3-6"
	cohortSixToTwelve  = "6-12"
	cohortTwelveOrMore = "12+"
)

var cohortOrder = []string{cohortUnderThree, cohortThreeToSix, cohortSixToTwelve, cohortTwelveOrMore}

type retentionInput struct {
	now            time.Time
	analysisMonths int
	atRiskDays     int
	all            []subscriptiondomain.Subscription
	paidBySub      map[int64]decimal.Decimal
}

func analyzeRetention(in retentionInput) forecastdomain.RetentionAnalysis {
	windowStart := in.now.AddDate(0, -in.analysisMonths, 0)
	window := lo.Filter(in.all, func(s subscriptiondomain.Subscription, _ int) bool {
		return !s.CreatedAt.Before(windowStart)
	})

	active := lo.CountBy(window, func(s subscriptiondomain.Subscription) bool { return s.IsActive() })
	cancelled := lo.Filter(window, func(s subscriptiondomain.Subscription, _ int) bool {
		return s.Status == subscriptiondomain.SubscriptionStatusCancelled
	})

	return forecastdomain.RetentionAnalysis{
		WindowStart:            windowStart,
		TotalSubscriptions:     len(window),
		ActiveSubscriptions:    active,
		CancelledSubscriptions: len(cancelled),
		OverallRetentionRate:   percent(active, len(window)),
		HistoricalChurnRate:    round2(historicalChurnRate(in.all)),
		ByPlan:                 retentionByPlan(window),
		ByCohort:               retentionByCohort(window, in.now),
		ChurnReasons:           churnReasons(cancelled),
		AtRiskClients:          atRiskCount(in.all, in.now, in.atRiskDays),
		CustomerLifetimeValue:  lifetimeValue(window, in.paidBySub),
		AverageRetentionMonths: averageRetentionMonths(in.all),
		MonthlyTrend:           monthlyTrend(window, in.now, in.analysisMonths),
	}
}

func retentionByPlan(window []subscriptiondomain.Subscription) []forecastdomain.PlanRetention {
	groups := lo.GroupBy(window, func(s subscriptiondomain.Subscription) string { return s.PlanID })
	out := make([]forecastdomain.PlanRetention, 0, len(groups))
	for planID, subs := range groups {
		active := lo.CountBy(subs, func(s subscriptiondomain.Subscription) bool { return s.IsActive() })
		cancelled := lo.CountBy(subs, func(s subscriptiondomain.Subscription) bool {
			return s.Status == subscriptiondomain.SubscriptionStatusCancelled
		})
		out = append(out, forecastdomain.PlanRetention{
			PlanID:        planID,
			PlanName:      subs[0].PlanName,
			Total:         len(subs),
			Active:        active,
			Cancelled:     cancelled,
			RetentionRate: percent(active, len(subs)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlanID < out[j].PlanID })
	return out
}

func tenureMonths(start, now time.Time) int {
	if now.Before(start) {
		return 0
	}
	return int(now.Sub(start).Hours() / 24 / daysPerMonth)
}

func cohortOf(months int) string {
	switch {
	case months < 3:
		return cohortUnderThree
	case months < 6:
		return cohortThreeToSix
	case months < 12:
		return cohortSixToTwelve
	default:
		return cohortTwelveOrMore
	}
}

func retentionByCohort(window []subscriptiondomain.Subscription, now time.Time) []forecastdomain.CohortRetention {
	groups := lo.GroupBy(window, func(s subscriptiondomain.Subscription) string {
		return cohortOf(tenureMonths(s.StartDate, now))
	})
	return lo.Map(cohortOrder, func(cohort string, _ int) forecastdomain.CohortRetention {
		subs := groups[cohort]
		active := lo.CountBy(subs, func(s subscriptiondomain.Subscription) bool { return s.IsActive() })
		return forecastdomain.CohortRetention{
			Cohort:        cohort,
			Total:         len(subs),
			Active:        active,
			RetentionRate: percent(active, len(subs)),
		}
	})
}

func churnReasons(cancelled []subscriptiondomain.Subscription) []forecastdomain.ChurnReason {
	counts := lo.CountValuesBy(cancelled, func(s subscriptiondomain.Subscription) string {
		if s.CancellationReason == nil || strings.TrimSpace(*s.CancellationReason) == "" {
			return unspecifiedReason
		}
		return strings.TrimSpace(*s.CancellationReason)
	})

	out := make([]forecastdomain.ChurnReason, 0, len(counts))
	for reason, count := range counts {
		out = append(out, forecastdomain.ChurnReason{
			Reason:     reason,
			Count:      count,
			Percentage: percent(count, len(cancelled)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

// atRiskCount counts active subscriptions expiring inside the renewal window,
// including those already past their expiration.
func atRiskCount(all []subscriptiondomain.Subscription, now time.Time, days int) int {
	limit := now.AddDate(0, 0, days)
	return lo.CountBy(all, func(s subscriptiondomain.Subscription) bool {
		return s.IsActive() && s.ExpirationDate.Before(limit)
	})
}

func lifetimeValue(window []subscriptiondomain.Subscription, paidBySub map[int64]decimal.Decimal) decimal.Decimal {
	if len(window) == 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, s := range window {
		total = total.Add(paidBySub[s.ID.Int64()])
	}
	return total.Div(decimal.NewFromInt(int64(len(window)))).Round(2)
}

// averageRetentionMonths is the mean tenure of every cancelled subscription
// in the book. Long-lived cancellations created before the analysis window
// count too.
func averageRetentionMonths(all []subscriptiondomain.Subscription) float64 {
	durations := lo.FilterMap(all, func(s subscriptiondomain.Subscription, _ int) (float64, bool) {
		if s.Status != subscriptiondomain.SubscriptionStatusCancelled ||
			s.CancelledAt == nil || s.CancelledAt.Before(s.StartDate) {
			return 0, false
		}
		return s.CancelledAt.Sub(s.StartDate).Hours() / 24 / daysPerMonth, true
	})
	if len(durations) == 0 {
		return 0
	}
	return round2(lo.Sum(durations) / float64(len(durations)))
}

// monthlyTrend reports month-end retention for the last months, oldest first.
func monthlyTrend(window []subscriptiondomain.Subscription, now time.Time, months int) []forecastdomain.TrendPoint {
	out := make([]forecastdomain.TrendPoint, 0, months)
	for k := months - 1; k >= 0; k-- {
		start := monthStart(now, -k)
		end := monthStart(now, -k+1)

		population := lo.Filter(window, func(s subscriptiondomain.Subscription, _ int) bool {
			return s.StartDate.Before(end)
		})
		active := lo.CountBy(population, func(s subscriptiondomain.Subscription) bool {
			return activeAt(s, end)
		})
		out = append(out, forecastdomain.TrendPoint{
			Month:         start.Format(monthLayout),
			Total:         len(population),
			Active:        active,
			RetentionRate: percent(active, len(population)),
		})
	}
	return out
}

// activeAt reports whether s was still running at the instant end.
func activeAt(s subscriptiondomain.Subscription, end time.Time) bool {
	if s.CancelledAt != nil {
		return !s.CancelledAt.Before(end)
	}
	return s.Status == subscriptiondomain.SubscriptionStatusActive ||
		s.Status == subscriptiondomain.SubscriptionStatusPaused
}
