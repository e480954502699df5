package reconcile

import (
	"errors"
	"fmt"

	"github.com/ManuelReschke/MealPay/app/repository"
)

var (
	ErrPaymentOrderNotFound = errors.New("payment order not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrBillingCycleNotFound = errors.New("no processing billing cycle")
	ErrTransactionNotFound  = errors.New("payment transaction not found")
)

// notFound maps a store miss onto a domain sentinel and passes other errors through.
func notFound(err error, sentinel error, what, id string) error {
	if repository.IsNotFound(err) {
		return fmt.Errorf("%w: %s %s", sentinel, what, id)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}
