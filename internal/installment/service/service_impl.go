package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/installments/internal/clock"
	ierr "github.com/smallbiznis/installments/internal/errors"
	installmentdomain "github.com/smallbiznis/installments/internal/installment/domain"
	subscriptiondomain "github.com/smallbiznis/installments/internal/subscription/domain"
	"github.com/smallbiznis/installments/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	log              *zap.Logger
	genID            *snowflake.Node
	clock            clock.Clock
	repo             installmentdomain.Repository
	subscriptionRepo subscriptiondomain.Repository
}

type ServiceParam struct {
	fx.In

	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Repo             installmentdomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
}

func NewService(p ServiceParam) installmentdomain.Service {
	return &Service{
		log:              p.Log.Named("installment.service"),
		genID:            p.GenID,
		clock:            p.Clock,
		repo:             p.Repo,
		subscriptionRepo: p.SubscriptionRepo,
	}
}

// Generate creates the first Count installments of a subscription, one per
// billing interval. Installments that already exist for a due date are left
// untouched and only newly created rows are returned.
func (s *Service) Generate(ctx context.Context, req installmentdomain.GenerateRequest) ([]installmentdomain.Installment, error) {
	if req.Count <= 0 {
		return nil, ierr.WithError(installmentdomain.ErrInvalidCount).
			WithHint("count must be greater than zero").
			Mark(ierr.ErrInvalidArgument)
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		return nil, ierr.WithError(installmentdomain.ErrInvalidAmount).
			WithHint("amount cannot be negative").
			Mark(ierr.ErrInvalidArgument)
	}

	subscriptionID, err := snowflake.ParseString(strings.TrimSpace(req.SubscriptionID))
	if err != nil || subscriptionID == 0 {
		return nil, ierr.WithError(subscriptiondomain.ErrInvalidSubscription).
			WithHint("invalid subscription id").
			Mark(ierr.ErrInvalidArgument)
	}

	subscription, err := s.subscriptionRepo.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, databaseError(err)
	}
	if subscription == nil {
		return nil, ierr.WithError(subscriptiondomain.ErrSubscriptionNotFound).
			WithHintf("subscription %s not found", req.SubscriptionID).
			Mark(ierr.ErrNotFound)
	}

	interval := subscription.PaymentFrequency.IntervalMonths()
	if interval == 0 {
		return nil, ierr.WithError(subscriptiondomain.ErrInvalidFrequency).
			WithHintf("subscription has unknown payment frequency %q", subscription.PaymentFrequency).
			Mark(ierr.ErrInvalidState)
	}

	start := subscription.StartDate
	if req.StartDate != nil {
		start = *req.StartDate
	}
	start = installmentdomain.DateOf(start)

	amount := subscription.Price
	if req.Amount != nil {
		amount = *req.Amount
	}

	log := s.log.With(zap.String("subscription_id", subscription.ID.String()))
	now := s.clock.Now()
	created := make([]installmentdomain.Installment, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		dueDate := installmentdomain.AddMonthsClamped(start, i*interval)

		existing, err := s.repo.FindByUniqueKey(ctx, subscription.ID, dueDate)
		if err != nil {
			return created, databaseError(err)
		}
		if existing != nil {
			continue
		}

		installment := installmentdomain.Installment{
			ID:             s.genID.Generate(),
			SubscriptionID: subscription.ID,
			ClientID:       subscription.ClientID,
			Amount:         amount,
			DueDate:        dueDate,
			Status:         installmentdomain.StatusPending,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.Insert(ctx, &installment); err != nil {
			if db.IsDuplicateKeyErr(err) {
				// another generator won the race for this due date
				log.Warn("installment already exists, skipping",
					zap.Time("due_date", dueDate),
					zap.Error(ierr.WithError(installmentdomain.ErrDuplicateInstallment).Mark(ierr.ErrConflict)),
				)
				continue
			}
			return created, databaseError(err)
		}
		created = append(created, installment)
	}

	log.Info("installments generated",
		zap.Int("requested", req.Count),
		zap.Int("created", len(created)),
	)
	return created, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (installmentdomain.View, error) {
	installmentID, err := parseID(id)
	if err != nil {
		return installmentdomain.View{}, err
	}
	installment, err := s.repo.FindByID(ctx, installmentID)
	if err != nil {
		return installmentdomain.View{}, databaseError(err)
	}
	if installment == nil {
		return installmentdomain.View{}, ierr.WithError(installmentdomain.ErrInstallmentNotFound).
			WithHintf("installment %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return s.view(*installment), nil
}

func (s *Service) ListBySubscription(ctx context.Context, subscriptionID string) ([]installmentdomain.View, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(subscriptionID))
	if err != nil || id == 0 {
		return nil, ierr.WithError(subscriptiondomain.ErrInvalidSubscription).
			WithHint("invalid subscription id").
			Mark(ierr.ErrInvalidArgument)
	}
	return s.list(ctx, installmentdomain.ListFilter{SubscriptionID: id})
}

func (s *Service) ListByClient(ctx context.Context, clientID string) ([]installmentdomain.View, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, ierr.WithError(installmentdomain.ErrInvalidClient).
			WithHint("client id is required").
			Mark(ierr.ErrInvalidArgument)
	}
	return s.list(ctx, installmentdomain.ListFilter{ClientID: clientID})
}

// ListPending returns unpaid installments with no recorded failure. Overdue
// ones are dropped unless IncludeOverdue is set.
func (s *Service) ListPending(ctx context.Context, req installmentdomain.ListPendingRequest) ([]installmentdomain.View, error) {
	items, err := s.list(ctx, installmentdomain.ListFilter{
		ClientID: strings.TrimSpace(req.ClientID),
		Statuses: []installmentdomain.Status{installmentdomain.StatusPending, installmentdomain.StatusOverdue},
	})
	if err != nil {
		return nil, err
	}
	if req.IncludeOverdue {
		return items, nil
	}
	return lo.Filter(items, func(item installmentdomain.View, _ int) bool {
		return item.EffectiveStatus == installmentdomain.StatusPending
	}), nil
}

func (s *Service) ListOverdue(ctx context.Context) ([]installmentdomain.View, error) {
	items, err := s.list(ctx, installmentdomain.ListFilter{
		Statuses: []installmentdomain.Status{installmentdomain.StatusPending, installmentdomain.StatusOverdue},
	})
	if err != nil {
		return nil, err
	}
	return lo.Filter(items, func(item installmentdomain.View, _ int) bool {
		return item.EffectiveStatus == installmentdomain.StatusOverdue
	}), nil
}

func (s *Service) list(ctx context.Context, filter installmentdomain.ListFilter) ([]installmentdomain.View, error) {
	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, databaseError(err)
	}
	return lo.Map(items, func(item installmentdomain.Installment, _ int) installmentdomain.View {
		return s.view(item)
	}), nil
}

func (s *Service) view(item installmentdomain.Installment) installmentdomain.View {
	return installmentdomain.View{
		Installment:     item,
		EffectiveStatus: item.EffectiveStatus(s.clock.Now()),
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, ierr.WithError(installmentdomain.ErrInvalidInstallment).
			WithHint("invalid installment id").
			Mark(ierr.ErrInvalidArgument)
	}
	return id, nil
}

func databaseError(err error) error {
	return ierr.WithError(err).WithMessage("installment store").Mark(ierr.ErrDatabase)
}
