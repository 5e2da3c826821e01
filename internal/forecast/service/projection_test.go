package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	forecastdomain "github.com/smallbiznis/installments/internal/forecast/domain"
	subscriptiondomain "github.com/smallbiznis/installments/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func sub(id int64, plan string, price int64, freq subscriptiondomain.PaymentFrequency, status subscriptiondomain.SubscriptionStatus) subscriptiondomain.Subscription {
	return subscriptiondomain.Subscription{
		ID:               snowflake.ID(id),
		OwnerID:          "trainer-1",
		ClientID:         "client",
		PlanID:           plan,
		PlanName:         plan,
		Price:            decimal.NewFromInt(price),
		PaymentFrequency: freq,
		StartDate:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpirationDate:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Status:           status,
		CreatedAt:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMRRUsesMonthlyEquivalents(t *testing.T) {
	active := []subscriptiondomain.Subscription{
		sub(1, "monthly", 100, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusActive),
		sub(2, "annual", 1200, subscriptiondomain.FrequencyAnnual, subscriptiondomain.SubscriptionStatusActive),
	}

	current, undiscounted := mrr(active)
	assert.True(t, current.Equal(decimal.NewFromInt(200)), "got %s", current)
	assert.True(t, undiscounted.Equal(decimal.NewFromInt(200)))
}

func TestMRRWithoutDiscounts(t *testing.T) {
	discounted := sub(1, "monthly", 80, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusActive)
	original := decimal.NewFromInt(100)
	discounted.OriginalPrice = &original

	current, undiscounted := mrr([]subscriptiondomain.Subscription{discounted})
	assert.True(t, current.Equal(decimal.NewFromInt(80)))
	assert.True(t, undiscounted.Equal(decimal.NewFromInt(100)))
}

func TestQuarterlyNormalization(t *testing.T) {
	price := decimal.RequireFromString("299.99")
	monthly := subscriptiondomain.FrequencyQuarterly.MonthlyEquivalent(price)
	assert.True(t, monthly.Mul(decimal.NewFromInt(3)).Round(2).Equal(price))
}

func TestProjectionWithFullChurnStaysNonNegative(t *testing.T) {
	subs := []subscriptiondomain.Subscription{
		sub(1, "monthly", 100, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusCancelled),
		sub(2, "monthly", 100, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusCancelled),
	}
	churn := historicalChurnRate(subs)
	require.Equal(t, 100.0, churn)

	// one active subscription left, losing all of it every month
	subs = append(subs, sub(3, "monthly", 100, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusActive))
	for _, p := range project(subs, now, 12, 100) {
		assert.False(t, p.ProjectedRevenue.IsNegative(), p.Month)
		assert.GreaterOrEqual(t, p.ExpectedRetentionRate, 0.0)
		assert.LessOrEqual(t, p.ExpectedRetentionRate, 100.0)
	}
}

func TestProjectionMonths(t *testing.T) {
	renewing := sub(1, "quarterly", 300, subscriptiondomain.FrequencyQuarterly, subscriptiondomain.SubscriptionStatusActive)
	renewing.ExpirationDate = time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	steady := sub(2, "monthly", 50, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusActive)
	paused := sub(3, "monthly", 70, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusPaused)

	months := project([]subscriptiondomain.Subscription{renewing, steady, paused}, now, 3, 0)
	require.Len(t, months, 3)

	assert.Equal(t, "2025-06", months[0].Month)
	assert.Equal(t, 2, months[0].ActiveSubscriptions)
	assert.True(t, months[0].ConfirmedRevenue.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, 0, months[0].Renewals)

	assert.Equal(t, "2025-07", months[1].Month)
	assert.Equal(t, 1, months[1].Renewals)
	assert.True(t, months[1].RenewalRevenue.Equal(decimal.NewFromInt(100)))
	assert.True(t, months[1].ProjectedRevenue.Equal(decimal.NewFromInt(250)))

	assert.Equal(t, "2025-08", months[2].Month)
	assert.Equal(t, 1, months[2].ActiveSubscriptions)
	assert.Equal(t, 100.0, months[2].ExpectedRetentionRate)
}

func TestProjectionLostRevenue(t *testing.T) {
	subs := []subscriptiondomain.Subscription{
		sub(1, "monthly", 100, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusActive),
		sub(2, "monthly", 100, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusActive),
		sub(3, "monthly", 100, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusActive),
		sub(4, "monthly", 100, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusCancelled),
	}
	churn := historicalChurnRate(subs)
	require.Equal(t, 25.0, churn)

	months := project(subs, now, 1, churn)
	require.Len(t, months, 1)
	assert.Equal(t, 1, months[0].ExpectedCancellations)
	assert.True(t, months[0].LostRevenue.Equal(decimal.NewFromInt(100)))
	assert.True(t, months[0].PotentialRevenue.Equal(months[0].LostRevenue))
	assert.True(t, months[0].ProjectedRevenue.Equal(decimal.NewFromInt(200)))
	assert.InDelta(t, 66.67, months[0].ExpectedRetentionRate, 0.01)
}

func TestEmptyBook(t *testing.T) {
	assert.Equal(t, 0.0, historicalChurnRate(nil))

	months := project(nil, now, 2, 0)
	require.Len(t, months, 2)
	for _, m := range months {
		assert.True(t, m.ConfirmedRevenue.IsZero())
		assert.Equal(t, 100.0, m.ExpectedRetentionRate)
	}

	analysis := analyzeRetention(retentionInput{now: now, analysisMonths: 6, atRiskDays: 7})
	assert.Equal(t, 100.0, analysis.OverallRetentionRate)
	assert.True(t, analysis.CustomerLifetimeValue.IsZero())
	assert.Equal(t, 0.0, analysis.AverageRetentionMonths)
	assert.Empty(t, analysis.ChurnReasons)
	require.Len(t, analysis.ByCohort, 4)
	require.Len(t, analysis.MonthlyTrend, 6)
	for _, point := range analysis.MonthlyTrend {
		assert.Equal(t, 100.0, point.RetentionRate)
	}
}

func TestRetentionAnalysis(t *testing.T) {
	reasonPrice := "too expensive"
	reasonMoved := "moved away"
	cancelledAt := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	a := sub(1, "gold", 100, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusActive)
	a.ExpirationDate = now.AddDate(0, 0, 3)
	b := sub(2, "gold", 100, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusCancelled)
	b.CancelledAt = &cancelledAt
	b.CancellationReason = &reasonPrice
	c := sub(3, "silver", 60, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusCancelled)
	c.CancelledAt = &cancelledAt
	c.CancellationReason = &reasonPrice
	d := sub(4, "silver", 60, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusCancelled)
	d.CancellationReason = &reasonMoved
	e := sub(5, "silver", 60, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusCancelled)
	recent := sub(6, "gold", 100, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusActive)
	recent.StartDate = now.AddDate(0, 0, -20)
	recent.CreatedAt = now.AddDate(0, 0, -20)
	old := sub(7, "gold", 100, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusActive)
	old.CreatedAt = now.AddDate(-2, 0, 0)
	old.ExpirationDate = now.AddDate(0, 0, -1)

	analysis := analyzeRetention(retentionInput{
		now:            now,
		analysisMonths: 6,
		atRiskDays:     7,
		all:            []subscriptiondomain.Subscription{a, b, c, d, e, recent, old},
		paidBySub: map[int64]decimal.Decimal{
			1: decimal.NewFromInt(300),
			2: decimal.NewFromInt(300),
		},
	})

	assert.Equal(t, 6, analysis.TotalSubscriptions, "subscriptions created before the window are excluded")
	assert.Equal(t, 2, analysis.ActiveSubscriptions)
	assert.Equal(t, 4, analysis.CancelledSubscriptions)
	assert.InDelta(t, 33.33, analysis.OverallRetentionRate, 0.01)

	require.Len(t, analysis.ByPlan, 2)
	assert.Equal(t, forecastdomain.PlanRetention{PlanID: "gold", PlanName: "gold", Total: 3, Active: 2, Cancelled: 1, RetentionRate: 66.67}, analysis.ByPlan[0])
	assert.Equal(t, forecastdomain.PlanRetention{PlanID: "silver", PlanName: "silver", Total: 3, Active: 0, Cancelled: 3, RetentionRate: 0}, analysis.ByPlan[1])

	assert.Equal(t, []forecastdomain.ChurnReason{
		{Reason: "too expensive", Count: 2, Percentage: 50},
		{Reason: "moved away", Count: 1, Percentage: 25},
		{Reason: "unspecified", Count: 1, Percentage: 25},
	}, analysis.ChurnReasons)

	assert.Equal(t, 2, analysis.AtRiskClients, "expiring soon and already expired active subscriptions")
	assert.True(t, analysis.CustomerLifetimeValue.Equal(decimal.NewFromInt(100)), "got %s", analysis.CustomerLifetimeValue)
	assert.Equal(t, 3.0, analysis.AverageRetentionMonths)

	cohorts := map[string]forecastdomain.CohortRetention{}
	for _, c := range analysis.ByCohort {
		cohorts[c.Cohort] = c
	}
	assert.Equal(t, 1, cohorts["0-3"].Total)
	assert.Equal(t, 5, cohorts["3-6"].Total)
	assert.Equal(t, 0, cohorts["6-12"].Total)
	assert.Equal(t, 100.0, cohorts["6-12"].RetentionRate)

	require.Len(t, analysis.MonthlyTrend, 6)
	assert.Equal(t, "2025-01", analysis.MonthlyTrend[0].Month)
	assert.Equal(t, "2025-06", analysis.MonthlyTrend[5].Month)
	march := analysis.MonthlyTrend[2]
	assert.Equal(t, 5, march.Total)
	assert.Equal(t, 3, march.Active, "b and c were still running at the end of March")
	june := analysis.MonthlyTrend[5]
	assert.Equal(t, 6, june.Total)
	assert.Equal(t, 2, june.Active)

	for _, rate := range retentionRates(analysis) {
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 100.0)
	}
}

func TestAverageRetentionCoversCancellationsBeforeWindow(t *testing.T) {
	started := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	cancelledAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	veteran := sub(1, "gold", 100, subscriptiondomain.FrequencyMonthly, subscriptiondomain.SubscriptionStatusCancelled)
	veteran.StartDate = started
	veteran.CreatedAt = started
	veteran.CancelledAt = &cancelledAt

	analysis := analyzeRetention(retentionInput{
		now:            now,
		analysisMonths: 6,
		all:            []subscriptiondomain.Subscription{veteran},
	})

	assert.Zero(t, analysis.TotalSubscriptions)
	assert.Zero(t, analysis.CancelledSubscriptions)
	assert.InDelta(t, 12.17, analysis.AverageRetentionMonths, 0.001)
}

func retentionRates(a forecastdomain.RetentionAnalysis) []float64 {
	rates := []float64{a.OverallRetentionRate, a.HistoricalChurnRate}
	for _, p := range a.ByPlan {
		rates = append(rates, p.RetentionRate)
	}
	for _, c := range a.ByCohort {
		rates = append(rates, c.RetentionRate)
	}
	for _, c := range a.ChurnReasons {
		rates = append(rates, c.Percentage)
	}
	for _, p := range a.MonthlyTrend {
		rates = append(rates, p.RetentionRate)
	}
	return rates
}

func TestSimulateScenarios(t *testing.T) {
	result := simulateScenarios(now, 10, decimal.NewFromInt(1000), 10, 2, 2)
	require.Len(t, result, 3)

	assert.Equal(t, forecastdomain.ScenarioOptimistic, result[0].Scenario)
	assert.Equal(t, forecastdomain.ScenarioRealistic, result[1].Scenario)
	assert.Equal(t, forecastdomain.ScenarioPessimistic, result[2].Scenario)

	realistic := result[1]
	assert.Equal(t, 10.0, realistic.ChurnRate)
	assert.Equal(t, 2.0, realistic.GrowthRate)
	require.Len(t, realistic.Months, 2)
	assert.Equal(t, "2025-06", realistic.Months[0].Month)
	assert.Equal(t, 1, realistic.Months[0].Cancellations)
	assert.Equal(t, 2, realistic.Months[0].NewSubscriptions)
	assert.Equal(t, 11, realistic.Months[0].Subscriptions)
	assert.True(t, realistic.Months[0].Revenue.Equal(decimal.NewFromInt(1100)))
	assert.Equal(t, 12, realistic.Months[1].Subscriptions)

	pessimistic := result[2]
	assert.Equal(t, 15.0, pessimistic.ChurnRate)
	assert.Equal(t, 2, pessimistic.Months[0].Cancellations)
	assert.Equal(t, 1, pessimistic.Months[0].NewSubscriptions)
	assert.Equal(t, 9, pessimistic.Months[0].Subscriptions)
}

func TestSimulateScenariosEmptyBookAndFullChurn(t *testing.T) {
	for _, scenario := range simulateScenarios(now, 0, decimal.Zero, 100, 0, 3) {
		for _, m := range scenario.Months {
			assert.Equal(t, 0, m.Subscriptions)
			assert.True(t, m.Revenue.IsZero())
		}
	}
	for _, scenario := range simulateScenarios(now, 5, decimal.NewFromInt(500), 100, 0, 3) {
		for _, m := range scenario.Months {
			assert.GreaterOrEqual(t, m.Subscriptions, 0)
			assert.False(t, m.Revenue.IsNegative())
		}
	}
}
