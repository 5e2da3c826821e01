package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type ReportRequest struct {
	OwnerID          string
	ProjectionMonths int
	AnalysisMonths   int
}

// ProjectionMonth is the expected revenue of one calendar month. Amounts are
// monthly equivalents.
type ProjectionMonth struct {
	Month                 string          `json:"month"`
	MonthStart            time.Time       `json:"month_start"`
	ActiveSubscriptions   int             `json:"active_subscriptions"`
	ConfirmedRevenue      decimal.Decimal `json:"confirmed_revenue"`
	Renewals              int             `json:"renewals"`
	RenewalRevenue        decimal.Decimal `json:"renewal_revenue"`
	ExpectedCancellations int             `json:"expected_cancellations"`
	LostRevenue           decimal.Decimal `json:"lost_revenue"`
	ProjectedRevenue      decimal.Decimal `json:"projected_revenue"`
	PotentialRevenue      decimal.Decimal `json:"potential_revenue"`
	ExpectedRetentionRate float64         `json:"expected_retention_rate"`
}

type PlanRetention struct {
	PlanID        string  `json:"plan_id"`
	PlanName      string  `json:"plan_name"`
	Total         int     `json:"total"`
	Active        int     `json:"active"`
	Cancelled     int     `json:"cancelled"`
	RetentionRate float64 `json:"retention_rate"`
}

type CohortRetention struct {
	Cohort        string  `json:"cohort"`
	Total         int     `json:"total"`
	Active        int     `json:"active"`
	RetentionRate float64 `json:"retention_rate"`
}

type ChurnReason struct {
	Reason     string  `json:"reason"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type TrendPoint struct {
	Month         string  `json:"month"`
	Total         int     `json:"total"`
	Active        int     `json:"active"`
	RetentionRate float64 `json:"retention_rate"`
}

type RetentionAnalysis struct {
	WindowStart            time.Time         `json:"window_start"`
	TotalSubscriptions     int               `json:"total_subscriptions"`
	ActiveSubscriptions    int               `json:"active_subscriptions"`
	CancelledSubscriptions int               `json:"cancelled_subscriptions"`
	OverallRetentionRate   float64           `json:"overall_retention_rate"`
	HistoricalChurnRate    float64           `json:"historical_churn_rate"`
	ByPlan                 []PlanRetention   `json:"by_plan"`
	ByCohort               []CohortRetention `json:"by_cohort"`
	ChurnReasons           []ChurnReason     `json:"churn_reasons"`
	AtRiskClients          int               `json:"at_risk_clients"`
	CustomerLifetimeValue  decimal.Decimal   `json:"customer_lifetime_value"`
	AverageRetentionMonths float64           `json:"average_retention_months"`
	MonthlyTrend           []TrendPoint      `json:"monthly_trend"`
}

type ForecastSummary struct {
	TotalProjectedRevenue decimal.Decimal `json:"total_projected_revenue"`
	TotalConfirmedRevenue decimal.Decimal `json:"total_confirmed_revenue"`
	AverageRetentionRate  float64         `json:"average_retention_rate"`
	TotalClients          int             `json:"total_clients"`
	AtRiskClients         int             `json:"at_risk_clients"`
	CustomerLifetimeValue decimal.Decimal `json:"customer_lifetime_value"`
	MRR                   decimal.Decimal `json:"mrr"`
	MRRWithoutDiscounts   decimal.Decimal `json:"mrr_without_discounts"`
	DiscountImpact        decimal.Decimal `json:"discount_impact"`
}

type Report struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Projections []ProjectionMonth `json:"projections"`
	Retention   RetentionAnalysis `json:"retention"`
	Summary     ForecastSummary   `json:"summary"`
}

type Scenario string

const (
	ScenarioOptimistic  Scenario = "optimistic"
	ScenarioRealistic   Scenario = "realistic"
	ScenarioPessimistic Scenario = "pessimistic"
)

type ScenarioRequest struct {
	OwnerID            string  `json:"owner_id"`
	ExpectedChurnRate  float64 `json:"expected_churn_rate"`
	ExpectedGrowthRate float64 `json:"expected_growth_rate"`
	ProjectionMonths   int     `json:"projection_months"`
}

type ScenarioMonth struct {
	Month            string          `json:"month"`
	Subscriptions    int             `json:"subscriptions"`
	Cancellations    int             `json:"cancellations"`
	NewSubscriptions int             `json:"new_subscriptions"`
	Revenue          decimal.Decimal `json:"revenue"`
}

type ScenarioProjection struct {
	Scenario   Scenario        `json:"scenario"`
	ChurnRate  float64         `json:"churn_rate"`
	GrowthRate float64         `json:"growth_rate"`
	Months     []ScenarioMonth `json:"months"`
}

// Service computes revenue forecasts from the subscription book.
type Service interface {
	GetReport(ctx context.Context, req ReportRequest) (Report, error)
	GetScenarioProjections(ctx context.Context, req ScenarioRequest) ([]ScenarioProjection, error)
}

var (
	ErrInvalidChurnRate  = errors.New("invalid_churn_rate")
	ErrInvalidGrowthRate = errors.New("invalid_growth_rate")
	ErrInvalidHorizon    = errors.New("invalid_horizon")
)
