// Package lock serializes state transitions on a single installment.
package lock

import (
	"context"
	"errors"
	"fmt"
)

const keyInstallment = "installments:lock:%s"

var ErrLockNotAcquired = errors.New("lock_not_acquired")

// Locker grants exclusive access to a key until release is called.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

func InstallmentKey(id string) string {
	return fmt.Sprintf(keyInstallment, id)
}
