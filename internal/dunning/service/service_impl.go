package service

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/smallbiznis/installments/internal/clock"
	"github.com/smallbiznis/installments/internal/config"
	dunningdomain "github.com/smallbiznis/installments/internal/dunning/domain"
	ierr "github.com/smallbiznis/installments/internal/errors"
	installmentdomain "github.com/smallbiznis/installments/internal/installment/domain"
	"github.com/smallbiznis/installments/internal/lock"
	"github.com/smallbiznis/installments/internal/logger"
	obsmetrics "github.com/smallbiznis/installments/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	opProcessPayment    = "process_payment"
	opMarkFailed        = "mark_failed"
	opScheduleRetry     = "schedule_retry"
	opMarkIrrecoverable = "mark_irrecoverable"
	opFailedPayment     = "failed_payment_"

	maxVersionRetries = 5

	tracerName = "installments/dunning"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	Repo          installmentdomain.Repository
	Locker        lock.Locker                 `optional:"true"`
	DunningConfig *config.DunningConfigHolder `optional:"true"`
	Oracle        dunningdomain.RetryOracle   `optional:"true"`
	Metrics       *obsmetrics.DunningMetrics  `optional:"true"`
	Tracing       trace.TracerProvider        `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	repo    installmentdomain.Repository
	locker  lock.Locker
	cfg     *config.DunningConfigHolder
	oracle  dunningdomain.RetryOracle
	metrics *obsmetrics.DunningMetrics
	tracer  trace.Tracer
}

func NewService(p Params) dunningdomain.Service {
	oracle := p.Oracle
	if oracle == nil {
		holder := p.DunningConfig
		oracle = NewProbabilisticOracle(
			func() float64 { return holder.Get().RetrySuccessProbability },
			rand.New(rand.NewSource(time.Now().UnixNano())),
		)
	}
	locker := p.Locker
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	tp := p.Tracing
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Service{
		log:     p.Log.Named("dunning.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		locker:  locker,
		cfg:     p.DunningConfig,
		oracle:  oracle,
		metrics: p.Metrics,
		tracer:  tp.Tracer(tracerName),
	}
}

// ProcessPayment records a successful payment. Failed and irrecoverable
// installments can still be paid; a paid installment cannot be paid twice.
func (s *Service) ProcessPayment(ctx context.Context, req dunningdomain.ProcessPaymentRequest) (installmentdomain.Installment, error) {
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		return installmentdomain.Installment{}, ierr.WithError(dunningdomain.ErrPaymentMethodRequired).
			WithHint("payment_method is required").
			Mark(ierr.ErrInvalidArgument)
	}

	return s.transition(ctx, opProcessPayment, req.InstallmentID, func(inst *installmentdomain.Installment, now time.Time) error {
		if err := requireUnpaid(inst); err != nil {
			return err
		}
		markPaid(inst, now)
		inst.PaymentMethod = &method
		if ref := strings.TrimSpace(req.Reference); ref != "" {
			inst.Reference = &ref
		}
		return nil
	})
}

func (s *Service) MarkFailed(ctx context.Context, req dunningdomain.MarkFailedRequest) (installmentdomain.Installment, error) {
	return s.transition(ctx, opMarkFailed, req.InstallmentID, func(inst *installmentdomain.Installment, now time.Time) error {
		if err := requireUnpaid(inst); err != nil {
			return err
		}
		inst.Status = installmentdomain.StatusFailed
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			inst.FailureReason = &reason
			inst.AppendNote(now, "payment failed: "+reason)
		} else {
			inst.AppendNote(now, "payment failed")
		}
		return nil
	})
}

// ScheduleRetry counts an attempt and books the next one, by default after
// the configured retry delay.
func (s *Service) ScheduleRetry(ctx context.Context, req dunningdomain.ScheduleRetryRequest) (installmentdomain.Installment, error) {
	return s.transition(ctx, opScheduleRetry, req.InstallmentID, func(inst *installmentdomain.Installment, now time.Time) error {
		if err := requireRetryable(inst); err != nil {
			return err
		}

		next := now.Add(s.cfg.Get().RetryDelay)
		if req.RetryDate != nil {
			if req.RetryDate.Before(now) {
				return ierr.WithError(dunningdomain.ErrRetryDateInPast).
					WithHint("retry_date must not be in the past").
					Mark(ierr.ErrInvalidArgument)
			}
			next = req.RetryDate.UTC()
		}

		inst.AttemptCount++
		inst.LastAttemptDate = &now
		inst.NextRetryDate = &next
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			inst.FailureReason = &reason
		}
		inst.AppendNote(now, "retry scheduled for "+next.Format("2006-01-02"))
		return nil
	})
}

func (s *Service) HandleFailedPayment(ctx context.Context, req dunningdomain.HandleFailedPaymentRequest) (installmentdomain.Installment, error) {
	if !req.Action.Valid() {
		return installmentdomain.Installment{}, ierr.WithError(dunningdomain.ErrInvalidAction).
			WithHintf("unknown action %q", req.Action).
			Mark(ierr.ErrInvalidArgument)
	}
	newMethod := strings.TrimSpace(req.NewPaymentMethod)
	if req.Action == dunningdomain.ActionUpdateMethod && newMethod == "" {
		return installmentdomain.Installment{}, ierr.WithError(dunningdomain.ErrPaymentMethodRequired).
			WithHint("new_payment_method is required for update_method").
			Mark(ierr.ErrInvalidArgument)
	}
	note := strings.TrimSpace(req.Note)

	// The charge outcome is rolled once per request and reused when a
	// version conflict replays the mutation.
	var retryOutcome *bool
	chargeSucceeded := func(inst installmentdomain.Installment) bool {
		if retryOutcome == nil {
			succeeded := s.oracle(ctx, inst)
			s.metrics.IncRetryAttempt(succeeded)
			retryOutcome = &succeeded
		}
		return *retryOutcome
	}

	return s.transition(ctx, opFailedPayment+string(req.Action), req.InstallmentID, func(inst *installmentdomain.Installment, now time.Time) error {
		if err := requireUnpaid(inst); err != nil {
			return err
		}

		switch req.Action {
		case dunningdomain.ActionRetry:
			if err := requireRetryable(inst); err != nil {
				return err
			}
			if chargeSucceeded(*inst) {
				markPaid(inst, now)
				inst.AppendNote(now, withNote("retry succeeded", note))
				return nil
			}
			inst.AppendNote(now, withNote("retry failed", note))

		case dunningdomain.ActionUpdateMethod:
			inst.PaymentMethod = &newMethod
			inst.AppendNote(now, withNote("payment method updated to "+newMethod, note))

		case dunningdomain.ActionMarkResolved:
			markPaid(inst, now)
			inst.AppendNote(now, withNote("marked as resolved manually", note))

		case dunningdomain.ActionContactClient:
			inst.AppendNote(now, withNote("client contacted", note))
		}
		return nil
	})
}

// MarkIrrecoverable stops automatic retries. The installment stays failed.
func (s *Service) MarkIrrecoverable(ctx context.Context, req dunningdomain.MarkIrrecoverableRequest) (installmentdomain.Installment, error) {
	return s.transition(ctx, opMarkIrrecoverable, req.InstallmentID, func(inst *installmentdomain.Installment, now time.Time) error {
		if err := requireUnpaid(inst); err != nil {
			return err
		}
		inst.Status = installmentdomain.StatusFailed
		inst.Irrecoverable = true
		inst.NextRetryDate = nil
		reason := strings.TrimSpace(req.Reason)
		if reason != "" && inst.FailureReason == nil {
			inst.FailureReason = &reason
		}
		inst.AppendNote(now, withNote("marked irrecoverable", reason))
		return nil
	})
}

// transition wraps apply in a dunning.transition span.
func (s *Service) transition(
	ctx context.Context,
	operation string,
	rawID string,
	mutate func(inst *installmentdomain.Installment, now time.Time) error,
) (installmentdomain.Installment, error) {
	ctx, span := s.tracer.Start(ctx, "dunning.transition", trace.WithAttributes(
		attribute.String("dunning.operation", operation),
		attribute.String("installment_id", strings.TrimSpace(rawID)),
	))
	defer span.End()

	result, from, err := s.apply(ctx, operation, rawID, mutate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ierr.Code(err))
		return installmentdomain.Installment{}, err
	}
	span.SetAttributes(
		attribute.String("installment.from", string(from)),
		attribute.String("installment.to", string(result.Status)),
		attribute.Int("installment.attempt_count", result.AttemptCount),
	)
	return result, nil
}

// apply loads, mutates and writes one installment under its lock. A
// concurrent writer that slipped past the lock shows up as a version
// mismatch and the mutation is replayed on a fresh copy.
func (s *Service) apply(
	ctx context.Context,
	operation string,
	rawID string,
	mutate func(inst *installmentdomain.Installment, now time.Time) error,
) (installmentdomain.Installment, installmentdomain.Status, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(rawID))
	if err != nil || id == 0 {
		return installmentdomain.Installment{}, "", ierr.WithError(installmentdomain.ErrInvalidInstallment).
			WithHint("invalid installment id").
			Mark(ierr.ErrInvalidArgument)
	}

	waitStart := time.Now()
	release, err := s.locker.Acquire(ctx, lock.InstallmentKey(id.String()))
	if err != nil {
		return installmentdomain.Installment{}, "", ierr.WithError(err).
			WithHint("installment is busy, try again").
			Mark(ierr.ErrConflict)
	}
	defer release()
	s.metrics.ObserveLockWait(time.Since(waitStart).Seconds())

	var (
		result installmentdomain.Installment
		from   installmentdomain.Status
	)
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxVersionRetries)
	op := func() error {
		current, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return backoff.Permanent(databaseError(err))
		}
		if current == nil {
			return backoff.Permanent(ierr.WithError(installmentdomain.ErrInstallmentNotFound).
				WithHintf("installment %s not found", id).
				Mark(ierr.ErrNotFound))
		}

		from = current.Status
		expected := current.Version
		now := s.clock.Now()
		if err := mutate(current, now); err != nil {
			return backoff.Permanent(err)
		}
		current.UpdatedAt = now

		if err := s.repo.Update(ctx, current, expected); err != nil {
			if errors.Is(err, installmentdomain.ErrVersionMismatch) {
				return err
			}
			return backoff.Permanent(databaseError(err))
		}
		result = *current
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		if errors.Is(err, installmentdomain.ErrVersionMismatch) {
			err = ierr.WithError(err).
				WithHint("installment was modified concurrently").
				Mark(ierr.ErrVersionConflict)
		}
		s.log.Debug("transition rejected",
			zap.String("operation", operation),
			zap.String("installment_id", id.String()),
			zap.Error(err),
		)
		return installmentdomain.Installment{}, from, err
	}

	s.metrics.IncTransition(operation, string(from), string(result.Status))
	s.log.Info("installment transitioned", append([]zap.Field{
		zap.String("operation", operation),
		zap.String("installment_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(result.Status)),
		zap.Int("attempt_count", result.AttemptCount),
	}, logger.TraceFields(ctx)...)...)
	return result, from, nil
}

func requireUnpaid(inst *installmentdomain.Installment) error {
	if inst.Status == installmentdomain.StatusPaid {
		return ierr.WithError(dunningdomain.ErrAlreadyPaid).
			WithHint("installment is already paid").
			Mark(ierr.ErrInvalidState)
	}
	return nil
}

func requireRetryable(inst *installmentdomain.Installment) error {
	if inst.Status != installmentdomain.StatusFailed {
		return ierr.WithError(dunningdomain.ErrNotFailed).
			WithHint("only failed installments can be retried").
			Mark(ierr.ErrInvalidState)
	}
	if inst.Irrecoverable {
		return ierr.WithError(dunningdomain.ErrIrrecoverable).
			WithHint("installment is marked irrecoverable").
			Mark(ierr.ErrInvalidState)
	}
	return nil
}

func markPaid(inst *installmentdomain.Installment, now time.Time) {
	inst.Status = installmentdomain.StatusPaid
	inst.PaymentDate = &now
	inst.NextRetryDate = nil
	inst.Irrecoverable = false
}

func withNote(text, note string) string {
	if note == "" {
		return text
	}
	return text + ": " + note
}

func databaseError(err error) error {
	return ierr.WithError(err).WithMessage("installment store").Mark(ierr.ErrDatabase)
}
