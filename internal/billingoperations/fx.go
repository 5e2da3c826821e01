package billingoperations

import (
	"github.com/smallbiznis/installments/internal/billingoperations/repository"
	"github.com/smallbiznis/installments/internal/billingoperations/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingoperations.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
