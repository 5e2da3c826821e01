package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/installments/internal/clock"
	"github.com/smallbiznis/installments/internal/config"
	ierr "github.com/smallbiznis/installments/internal/errors"
	forecastdomain "github.com/smallbiznis/installments/internal/forecast/domain"
	installmentdomain "github.com/smallbiznis/installments/internal/installment/domain"
	subscriptiondomain "github.com/smallbiznis/installments/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log              *zap.Logger
	Clock            clock.Clock
	SubscriptionRepo subscriptiondomain.Repository
	InstallmentRepo  installmentdomain.Repository
	DunningConfig    *config.DunningConfigHolder `optional:"true"`
}

type Service struct {
	log              *zap.Logger
	clock            clock.Clock
	subscriptionRepo subscriptiondomain.Repository
	installmentRepo  installmentdomain.Repository
	cfg              *config.DunningConfigHolder
}

func NewService(p Params) forecastdomain.Service {
	return &Service{
		log:              p.Log.Named("forecast.service"),
		clock:            p.Clock,
		subscriptionRepo: p.SubscriptionRepo,
		installmentRepo:  p.InstallmentRepo,
		cfg:              p.DunningConfig,
	}
}

func (s *Service) GetReport(ctx context.Context, req forecastdomain.ReportRequest) (forecastdomain.Report, error) {
	if err := validateHorizon("projection_months", req.ProjectionMonths); err != nil {
		return forecastdomain.Report{}, err
	}
	if err := validateHorizon("analysis_months", req.AnalysisMonths); err != nil {
		return forecastdomain.Report{}, err
	}

	cfg := s.cfg.Get()
	projectionMonths := req.ProjectionMonths
	if projectionMonths <= 0 {
		projectionMonths = cfg.ProjectionMonths
	}
	analysisMonths := req.AnalysisMonths
	if analysisMonths <= 0 {
		analysisMonths = cfg.AnalysisMonths
	}

	subs, err := s.loadBook(ctx, req.OwnerID)
	if err != nil {
		return forecastdomain.Report{}, err
	}
	paid, err := s.paidBySubscription(ctx)
	if err != nil {
		return forecastdomain.Report{}, err
	}

	now := s.clock.Now()
	churn := historicalChurnRate(subs)
	projections := project(subs, now, projectionMonths, churn)
	retention := analyzeRetention(retentionInput{
		now:            now,
		analysisMonths: analysisMonths,
		atRiskDays:     cfg.AtRiskWindowDays,
		all:            subs,
		paidBySub:      paid,
	})

	active := activeSubscriptions(subs)
	current, undiscounted := mrr(active)

	summary := forecastdomain.ForecastSummary{
		TotalProjectedRevenue: decimal.Zero,
		TotalConfirmedRevenue: decimal.Zero,
		AverageRetentionRate:  100,
		TotalClients:          len(active),
		AtRiskClients:         retention.AtRiskClients,
		CustomerLifetimeValue: retention.CustomerLifetimeValue,
		MRR:                   current.Round(2),
		MRRWithoutDiscounts:   undiscounted.Round(2),
		DiscountImpact:        undiscounted.Sub(current).Round(2),
	}
	if len(projections) > 0 {
		var retentionSum float64
		for _, p := range projections {
			summary.TotalProjectedRevenue = summary.TotalProjectedRevenue.Add(p.ProjectedRevenue)
			summary.TotalConfirmedRevenue = summary.TotalConfirmedRevenue.Add(p.ConfirmedRevenue)
			retentionSum += p.ExpectedRetentionRate
		}
		summary.AverageRetentionRate = round2(retentionSum / float64(len(projections)))
	}

	s.log.Debug("forecast report computed",
		zap.String("owner_id", req.OwnerID),
		zap.Int("subscriptions", len(subs)),
		zap.Int("projection_months", projectionMonths),
		zap.Float64("historical_churn_rate", churn),
	)

	return forecastdomain.Report{
		GeneratedAt: now,
		Projections: projections,
		Retention:   retention,
		Summary:     summary,
	}, nil
}

func (s *Service) GetScenarioProjections(ctx context.Context, req forecastdomain.ScenarioRequest) ([]forecastdomain.ScenarioProjection, error) {
	if req.ExpectedChurnRate < 0 {
		return nil, ierr.WithError(forecastdomain.ErrInvalidChurnRate).
			WithHint("expected_churn_rate cannot be negative").
			Mark(ierr.ErrInvalidArgument)
	}
	if req.ExpectedGrowthRate < 0 {
		return nil, ierr.WithError(forecastdomain.ErrInvalidGrowthRate).
			WithHint("expected_growth_rate cannot be negative").
			Mark(ierr.ErrInvalidArgument)
	}
	if err := validateHorizon("projection_months", req.ProjectionMonths); err != nil {
		return nil, err
	}
	months := req.ProjectionMonths
	if months <= 0 {
		months = s.cfg.Get().ProjectionMonths
	}

	subs, err := s.loadBook(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	active := activeSubscriptions(subs)
	current, _ := mrr(active)

	return simulateScenarios(s.clock.Now(), len(active), current, req.ExpectedChurnRate, req.ExpectedGrowthRate, months), nil
}

// validateHorizon rejects month counts the report could not build. Zero means
// the configured default.
func validateHorizon(field string, months int) error {
	switch {
	case months < 0:
		return ierr.WithError(forecastdomain.ErrInvalidHorizon).
			WithHintf("%s cannot be negative", field).
			Mark(ierr.ErrInvalidArgument)
	case months > config.MaxForecastMonths:
		return ierr.WithError(forecastdomain.ErrInvalidHorizon).
			WithHintf("%s cannot exceed %d", field, config.MaxForecastMonths).
			Mark(ierr.ErrInvalidArgument)
	}
	return nil
}

func (s *Service) loadBook(ctx context.Context, ownerID string) ([]subscriptiondomain.Subscription, error) {
	subs, err := s.subscriptionRepo.List(ctx, subscriptiondomain.Filter{OwnerID: strings.TrimSpace(ownerID)})
	if err != nil {
		return nil, ierr.WithError(err).WithMessage("subscription store").Mark(ierr.ErrDatabase)
	}
	return subs, nil
}

func (s *Service) paidBySubscription(ctx context.Context) (map[int64]decimal.Decimal, error) {
	paid, err := s.installmentRepo.List(ctx, installmentdomain.ListFilter{
		Statuses: []installmentdomain.Status{installmentdomain.StatusPaid},
	})
	if err != nil {
		return nil, ierr.WithError(err).WithMessage("installment store").Mark(ierr.ErrDatabase)
	}
	out := make(map[int64]decimal.Decimal, len(paid))
	for _, inst := range paid {
		out[inst.SubscriptionID.Int64()] = out[inst.SubscriptionID.Int64()].Add(inst.Amount)
	}
	return out, nil
}
