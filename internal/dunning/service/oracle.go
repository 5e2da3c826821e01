package service

import (
	"context"
	"math/rand"
	"sync"

	dunningdomain "github.com/smallbiznis/installments/internal/dunning/domain"
	installmentdomain "github.com/smallbiznis/installments/internal/installment/domain"
)

// NewProbabilisticOracle succeeds with the probability returned by p at call time.
func NewProbabilisticOracle(p func() float64, rng *rand.Rand) dunningdomain.RetryOracle {
	var mu sync.Mutex
	return func(context.Context, installmentdomain.Installment) bool {
		mu.Lock()
		draw := rng.Float64()
		mu.Unlock()
		return draw < p()
	}
}

func AlwaysSucceed() dunningdomain.RetryOracle {
	return func(context.Context, installmentdomain.Installment) bool { return true }
}

func AlwaysFail() dunningdomain.RetryOracle {
	return func(context.Context, installmentdomain.Installment) bool { return false }
}

// Sequence replays outcomes in order and then keeps returning the last one.
func Sequence(outcomes ...bool) dunningdomain.RetryOracle {
	var (
		mu sync.Mutex
		i  int
	)
	return func(context.Context, installmentdomain.Installment) bool {
		mu.Lock()
		defer mu.Unlock()
		if len(outcomes) == 0 {
			return false
		}
		if i >= len(outcomes) {
			return outcomes[len(outcomes)-1]
		}
		out := outcomes[i]
		i++
		return out
	}
}
