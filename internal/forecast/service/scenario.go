package service

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	forecastdomain "github.com/smallbiznis/installments/internal/forecast/domain"
)

type scenarioFactors struct {
	scenario forecastdomain.Scenario
	churn    float64
	growth   float64
}

var scenarios = []scenarioFactors{
	{forecastdomain.ScenarioOptimistic, 0.7, 1.3},
	{forecastdomain.ScenarioRealistic, 1, 1},
	{forecastdomain.ScenarioPessimistic, 1.5, 0.7},
}

// simulateScenarios runs the month by month book simulation for every
// scenario from the same starting book.
func simulateScenarios(now time.Time, activeCount int, monthlyRevenue decimal.Decimal, churnRate, growthRate float64, months int) []forecastdomain.ScenarioProjection {
	avgPrice := decimal.Zero
	if activeCount > 0 {
		avgPrice = monthlyRevenue.Div(decimal.NewFromInt(int64(activeCount)))
	}

	out := make([]forecastdomain.ScenarioProjection, 0, len(scenarios))
	for _, f := range scenarios {
		churn := churnRate * f.churn
		growth := growthRate * f.growth

		count := activeCount
		series := make([]forecastdomain.ScenarioMonth, 0, months)
		for m := 0; m < months; m++ {
			cancellations := int(math.Round(float64(count) * churn / 100))
			newSubs := int(math.Round(growth))
			count = max(0, count-cancellations+newSubs)
			series = append(series, forecastdomain.ScenarioMonth{
				Month:            monthStart(now, m).Format(monthLayout),
				Subscriptions:    count,
				Cancellations:    cancellations,
				NewSubscriptions: newSubs,
				Revenue:          avgPrice.Mul(decimal.NewFromInt(int64(count))).Round(2),
			})
		}
		out = append(out, forecastdomain.ScenarioProjection{
			Scenario:   f.scenario,
			ChurnRate:  round2(churn),
			GrowthRate: round2(growth),
			Months:     series,
		})
	}
	return out
}
