package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/installments/internal/clock"
	"github.com/smallbiznis/installments/internal/config"
	dunningdomain "github.com/smallbiznis/installments/internal/dunning/domain"
	dunningservice "github.com/smallbiznis/installments/internal/dunning/service"
	installmentdomain "github.com/smallbiznis/installments/internal/installment/domain"
	installmentrepo "github.com/smallbiznis/installments/internal/installment/repository"
	installmentservice "github.com/smallbiznis/installments/internal/installment/service"
	"github.com/smallbiznis/installments/internal/lock"
	"github.com/smallbiznis/installments/internal/migration"
	obsmetrics "github.com/smallbiznis/installments/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/installments/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/installments/internal/subscription/repository"
	"github.com/smallbiznis/installments/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type harness struct {
	sched    *Scheduler
	clock    *clock.FakeClock
	registry *prometheus.Registry
	node     *snowflake.Node
	subs     subscriptiondomain.Repository
	installs installmentdomain.Repository
	dunning  dunningdomain.Service
}

func newHarness(t *testing.T, oracle dunningdomain.RetryOracle, jobs ...string) *harness {
	t.Helper()
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC))
	holder := config.NewStaticDunningConfigHolder(config.DefaultDunningConfig())
	registry := prometheus.NewRegistry()

	subs := subscriptionrepo.Provide(conn)
	installs := installmentrepo.Provide(conn)
	installmentSvc := installmentservice.NewService(installmentservice.ServiceParam{
		Log:              log,
		GenID:            node,
		Clock:            clk,
		Repo:             installs,
		SubscriptionRepo: subs,
	})
	dunningSvc := dunningservice.NewService(dunningservice.Params{
		Log:           log,
		Clock:         clk,
		Repo:          installs,
		Locker:        lock.NewMemoryLocker(),
		DunningConfig: holder,
		Oracle:        oracle,
	})

	sched, err := New(Params{
		Log:              log,
		GenID:            node,
		Clock:            clk,
		SubscriptionRepo: subs,
		InstallmentRepo:  installs,
		InstallmentSvc:   installmentSvc,
		DunningSvc:       dunningSvc,
		DunningConfig:    holder,
		Metrics:          obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{ServiceName: "installments", Environment: "test"}),
		Config:           Config{EnabledJobs: jobs},
	})
	require.NoError(t, err)

	return &harness{
		sched:    sched,
		clock:    clk,
		registry: registry,
		node:     node,
		subs:     subs,
		installs: installs,
		dunning:  dunningSvc,
	}
}

func (h *harness) subscription(t *testing.T, start, expiration time.Time) subscriptiondomain.Subscription {
	t.Helper()
	sub := subscriptiondomain.Subscription{
		ID:               h.node.Generate(),
		OwnerID:          "trainer-1",
		ClientID:         "client-1",
		PlanID:           "monthly",
		PlanName:         "Monthly",
		Price:            decimal.NewFromInt(45),
		PaymentFrequency: subscriptiondomain.FrequencyMonthly,
		StartDate:        start,
		ExpirationDate:   expiration,
		Status:           subscriptiondomain.SubscriptionStatusActive,
		CreatedAt:        h.clock.Now(),
		UpdatedAt:        h.clock.Now(),
	}
	require.NoError(t, h.subs.Insert(context.Background(), &sub))
	return sub
}

func (h *harness) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestEnsureInstallmentsJob(t *testing.T) {
	h := newHarness(t, dunningservice.AlwaysFail(), JobEnsureInstallments)
	ctx := context.Background()

	sub := h.subscription(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, h.sched.RunOnce(ctx))

	items, err := h.installs.List(ctx, installmentdomain.ListFilter{SubscriptionID: sub.ID})
	require.NoError(t, err)
	require.Len(t, items, 4, "January through April fall inside the 30 day lookahead")
	assert.True(t, items[3].DueDate.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))

	require.NoError(t, h.sched.RunOnce(ctx))
	items, err = h.installs.List(ctx, installmentdomain.ListFilter{SubscriptionID: sub.ID})
	require.NoError(t, err)
	assert.Len(t, items, 4)

	assert.Equal(t, 2.0, h.counter(t, "installments_scheduler_job_runs_total"))
	assert.Equal(t, 4.0, h.counter(t, "installments_scheduler_items_total"))
}

func TestRetryDueJobExhaustsAttempts(t *testing.T) {
	charges := 0
	declining := func(context.Context, installmentdomain.Installment) bool {
		charges++
		return false
	}
	h := newHarness(t, declining, JobRetryDue)
	ctx := context.Background()

	sub := h.subscription(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	inst := h.failedInstallment(t, sub)

	// not due yet
	require.NoError(t, h.sched.RunOnce(ctx))
	current := h.reload(t, inst.ID)
	assert.Equal(t, 1, current.AttemptCount)
	assert.Zero(t, charges)

	h.clock.Advance(72 * time.Hour)
	require.NoError(t, h.sched.RunOnce(ctx))
	current = h.reload(t, inst.ID)
	assert.Equal(t, installmentdomain.StatusFailed, current.Status)
	assert.False(t, current.Irrecoverable)
	assert.Equal(t, 2, current.AttemptCount, "one attempt per scheduled retry")
	assert.Equal(t, 1, charges)
	require.NotNil(t, current.NextRetryDate)
	assert.True(t, current.NextRetryDate.Equal(h.clock.Now().Add(72*time.Hour)))

	for i := 0; i < 2; i++ {
		h.clock.Advance(72 * time.Hour)
		require.NoError(t, h.sched.RunOnce(ctx))
	}
	current = h.reload(t, inst.ID)
	assert.False(t, current.Irrecoverable)
	assert.Equal(t, 4, current.AttemptCount)

	h.clock.Advance(72 * time.Hour)
	require.NoError(t, h.sched.RunOnce(ctx))
	current = h.reload(t, inst.ID)
	assert.True(t, current.Irrecoverable)
	assert.Equal(t, 4, current.AttemptCount)
	assert.Equal(t, 4, charges, "maxRetryAttempts real charges before write-off")
	require.NotNil(t, current.FailureReason)
	assert.Equal(t, "max retry attempts reached", *current.FailureReason)

	h.clock.Advance(30 * 24 * time.Hour)
	require.NoError(t, h.sched.RunOnce(ctx))
	assert.Equal(t, current, h.reload(t, inst.ID))
	assert.Equal(t, 4, charges)
}

func TestRetryDueJobCollects(t *testing.T) {
	h := newHarness(t, dunningservice.AlwaysSucceed(), JobRetryDue)
	ctx := context.Background()

	sub := h.subscription(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	inst := h.failedInstallment(t, sub)

	h.clock.Advance(80 * time.Hour)
	require.NoError(t, h.sched.RunOnce(ctx))

	current := h.reload(t, inst.ID)
	assert.Equal(t, installmentdomain.StatusPaid, current.Status)
	require.NotNil(t, current.PaymentDate)
	assert.Equal(t, 1.0, h.counter(t, "installments_scheduler_items_total"))
}

func (h *harness) failedInstallment(t *testing.T, sub subscriptiondomain.Subscription) installmentdomain.Installment {
	t.Helper()
	ctx := context.Background()
	inst := installmentdomain.Installment{
		ID:             h.node.Generate(),
		SubscriptionID: sub.ID,
		ClientID:       sub.ClientID,
		Amount:         sub.Price,
		DueDate:        installmentdomain.DateOf(sub.StartDate),
		Status:         installmentdomain.StatusPending,
		CreatedAt:      h.clock.Now(),
		UpdatedAt:      h.clock.Now(),
	}
	require.NoError(t, h.installs.Insert(ctx, &inst))

	_, err := h.dunning.MarkFailed(ctx, dunningdomain.MarkFailedRequest{InstallmentID: inst.ID.String()})
	require.NoError(t, err)
	scheduled, err := h.dunning.ScheduleRetry(ctx, dunningdomain.ScheduleRetryRequest{InstallmentID: inst.ID.String()})
	require.NoError(t, err)
	return scheduled
}

func (h *harness) reload(t *testing.T, id snowflake.ID) installmentdomain.Installment {
	t.Helper()
	inst, err := h.installs.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, inst)
	return *inst
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	h := newHarness(t, dunningservice.AlwaysFail())

	err := h.sched.runJob(context.Background(), "timeout_job", 1, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, h.counter(t, "installments_scheduler_job_timeouts_total"))
	assert.Equal(t, 1.0, h.counter(t, "installments_scheduler_job_errors_total"))
}

func TestRunJobWrapsErrors(t *testing.T) {
	h := newHarness(t, dunningservice.AlwaysFail())
	boom := errors.New("boom")

	err := h.sched.runJob(context.Background(), "failing_job", 1, time.Second, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing_job")
}

func TestIsJobEnabled(t *testing.T) {
	s := &Scheduler{log: zap.NewNop()}
	assert.True(t, s.isJobEnabled(JobRetryDue))

	s.cfg.EnabledJobs = []string{" Retry_Due "}
	assert.True(t, s.isJobEnabled(JobRetryDue))
	assert.False(t, s.isJobEnabled(JobEnsureInstallments))
}

func TestPeriodsDue(t *testing.T) {
	sub := subscriptiondomain.Subscription{
		PaymentFrequency: subscriptiondomain.FrequencyQuarterly,
		StartDate:        time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		ExpirationDate:   time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC),
	}

	assert.Equal(t, 0, periodsDue(sub, time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, periodsDue(sub, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, periodsDue(sub, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 3, periodsDue(sub, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)), "expiration caps the count")

	sub.PaymentFrequency = "weekly"
	assert.Equal(t, 0, periodsDue(sub, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
