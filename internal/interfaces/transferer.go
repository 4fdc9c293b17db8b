package interfaces

import (
	"context"

	"github.com/shopspring/decimal"
)

// Transferer moves funds held by the ledger to an external identity.
type Transferer interface {
	Transfer(ctx context.Context, to string, amount decimal.Decimal) error
}
