package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/installments/internal/clock"
	"github.com/smallbiznis/installments/internal/config"
	dunningdomain "github.com/smallbiznis/installments/internal/dunning/domain"
	installmentdomain "github.com/smallbiznis/installments/internal/installment/domain"
	obsmetrics "github.com/smallbiznis/installments/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/installments/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobEnsureInstallments = "ensure_installments"
	JobRetryDue           = "retry_due"

	reasonRetriesExhausted = "max retry attempts reached"

	// upper bound of periods considered for one subscription per run
	maxPeriodsPerSubscription = 1200
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

type Params struct {
	fx.In

	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	SubscriptionRepo subscriptiondomain.Repository
	InstallmentRepo  installmentdomain.Repository
	InstallmentSvc   installmentdomain.Service
	DunningSvc       dunningdomain.Service
	DunningConfig    *config.DunningConfigHolder  `optional:"true"`
	Metrics          *obsmetrics.SchedulerMetrics `optional:"true"`
	Config           Config                       `optional:"true"`
}

type Scheduler struct {
	log              *zap.Logger
	cfg              Config
	genID            *snowflake.Node
	clock            clock.Clock
	subscriptionRepo subscriptiondomain.Repository
	installmentRepo  installmentdomain.Repository
	installmentSvc   installmentdomain.Service
	dunningSvc       dunningdomain.Service
	dunningCfg       *config.DunningConfigHolder
	metrics          *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.SubscriptionRepo == nil ||
		p.InstallmentRepo == nil || p.InstallmentSvc == nil || p.DunningSvc == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:              p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:              p.Config.withDefaults(),
		genID:            p.GenID,
		clock:            p.Clock,
		subscriptionRepo: p.SubscriptionRepo,
		installmentRepo:  p.InstallmentRepo,
		installmentSvc:   p.InstallmentSvc,
		dunningSvc:       p.DunningSvc,
		dunningCfg:       p.DunningConfig,
		metrics:          metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name, batchSize)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// deadline is a soft timeout, the next tick picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobEnsureInstallments, s.EnsureInstallmentsJob},
		{JobRetryDue, s.RetryDueJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			s.metrics.ObserveTickLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty means every job runs
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// EnsureInstallmentsJob generates, for every active subscription, the
// installments falling due within the lookahead window.
func (s *Scheduler) EnsureInstallmentsJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	now := s.clock.Now()
	horizon := installmentdomain.DateOf(now).AddDate(0, 0, s.dunningCfg.Get().InstallmentLookaheadDays)

	subs, err := s.subscriptionRepo.List(ctx, subscriptiondomain.Filter{
		Status: subscriptiondomain.SubscriptionStatusActive,
	})
	if err != nil {
		s.logSchedulerError(ctx, "scheduler.subscriptions.load.failed", err)
		return err
	}

	var jobErr error
	for _, sub := range subs {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		count := periodsDue(sub, horizon)
		if count == 0 {
			continue
		}
		created, err := s.installmentSvc.Generate(ctx, installmentdomain.GenerateRequest{
			SubscriptionID: sub.ID.String(),
			Count:          count,
		})
		run.AddProcessed(len(created))
		s.metrics.AddItems(JobEnsureInstallments, obsmetrics.OutcomeGenerated, len(created))
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, "scheduler.installments.generate.failed", err,
				zap.String("subscription_id", sub.ID.String()),
			)
		}
	}
	return jobErr
}

// periodsDue counts billing periods of sub starting on or before horizon and
// before the subscription expires.
func periodsDue(sub subscriptiondomain.Subscription, horizon time.Time) int {
	interval := sub.PaymentFrequency.IntervalMonths()
	if interval == 0 {
		return 0
	}
	start := installmentdomain.DateOf(sub.StartDate)
	count := 0
	for i := 0; i < maxPeriodsPerSubscription; i++ {
		due := installmentdomain.AddMonthsClamped(start, i*interval)
		if due.After(horizon) || !due.Before(sub.ExpirationDate) {
			break
		}
		count++
	}
	return count
}

// RetryDueJob runs the retries whose scheduled date has passed. A failed
// attempt is rescheduled until the configured attempt limit, then the
// installment is written off.
func (s *Scheduler) RetryDueJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	now := s.clock.Now()
	maxAttempts := s.dunningCfg.Get().MaxRetryAttempts

	failed, err := s.installmentRepo.List(ctx, installmentdomain.ListFilter{
		Statuses:      []installmentdomain.Status{installmentdomain.StatusFailed},
		Irrecoverable: lo.ToPtr(false),
	})
	if err != nil {
		s.logSchedulerError(ctx, "scheduler.retries.load.failed", err)
		return err
	}
	due := lo.Filter(failed, func(inst installmentdomain.Installment, _ int) bool {
		return inst.NextRetryDate != nil && !inst.NextRetryDate.After(now)
	})
	if len(due) > s.cfg.BatchSize {
		due = due[:s.cfg.BatchSize]
	}

	var jobErr error
	for _, inst := range due {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		outcome, err := s.retryOne(ctx, inst, maxAttempts)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, "scheduler.retry.failed", err,
				zap.String("installment_id", inst.ID.String()),
			)
			continue
		}
		run.AddProcessed(1)
		s.metrics.AddItems(JobRetryDue, outcome, 1)
	}
	return jobErr
}

// retryOne attempts one collection and reports what happened to the
// installment: collected, rescheduled or written off.
func (s *Scheduler) retryOne(ctx context.Context, inst installmentdomain.Installment, maxAttempts int) (string, error) {
	id := inst.ID.String()
	result, err := s.dunningSvc.HandleFailedPayment(ctx, dunningdomain.HandleFailedPaymentRequest{
		InstallmentID: id,
		Action:        dunningdomain.ActionRetry,
		Note:          "automatic retry",
	})
	if err != nil {
		return "", err
	}
	if result.Status == installmentdomain.StatusPaid {
		s.logger(ctx).Info("scheduler.retry.succeeded", zap.String("installment_id", id))
		return obsmetrics.OutcomeCollected, nil
	}

	if result.AttemptCount >= maxAttempts {
		if _, err := s.dunningSvc.MarkIrrecoverable(ctx, dunningdomain.MarkIrrecoverableRequest{
			InstallmentID: id,
			Reason:        reasonRetriesExhausted,
		}); err != nil {
			return "", err
		}
		s.logger(ctx).Warn("scheduler.retry.exhausted",
			zap.String("installment_id", id),
			zap.Int("attempt_count", result.AttemptCount),
		)
		return obsmetrics.OutcomeWrittenOff, nil
	}

	if _, err := s.dunningSvc.ScheduleRetry(ctx, dunningdomain.ScheduleRetryRequest{InstallmentID: id}); err != nil {
		return "", err
	}
	return obsmetrics.OutcomeRescheduled, nil
}
