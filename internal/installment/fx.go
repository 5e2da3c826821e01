package installment

import (
	"github.com/smallbiznis/installments/internal/installment/repository"
	"github.com/smallbiznis/installments/internal/installment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("installment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
