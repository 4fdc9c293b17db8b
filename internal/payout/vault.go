package payout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
)

var (
	ErrInvalidAmount    = errors.New("transfer amount must be positive")
	ErrMissingRecipient = errors.New("transfer recipient is required")
)

// Transfer is one payout sent from the fund.
type Transfer struct {
	ID     string          `json:"id"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	SentAt time.Time       `json:"sent_at"`
}

// Vault records funds leaving the ledger. It stands in for the wallet
// integration, which lives outside this service.
type Vault struct {
	mu        sync.Mutex
	transfers []Transfer
	paid      map[string]decimal.Decimal
	clock     clock.Clock
	log       logrus.FieldLogger

	// BeforeTransfer, when set, runs before a transfer is recorded. A
	// non-nil error rejects the transfer.
	BeforeTransfer func(ctx context.Context, to string, amount decimal.Decimal) error
}

// Option configures a Vault.
type Option func(*Vault)

// WithClock sets the time source for transfer timestamps.
func WithClock(c clock.Clock) Option {
	return func(v *Vault) { v.clock = c }
}

// NewVault returns an empty vault that timestamps transfers with the wall
// clock unless WithClock is given.
func NewVault(log logrus.FieldLogger, opts ...Option) *Vault {
	v := &Vault{
		paid:  make(map[string]decimal.Decimal),
		clock: clock.New(),
		log:   log,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Transfer validates and records one payout to to.
func (v *Vault) Transfer(ctx context.Context, to string, amount decimal.Decimal) error {
	if to == "" {
		return ErrMissingRecipient
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if v.BeforeTransfer != nil {
		if err := v.BeforeTransfer(ctx, to, amount); err != nil {
			return err
		}
	}

	v.mu.Lock()
	t := Transfer{
		ID:     uuid.New().String(),
		To:     to,
		Amount: amount,
		SentAt: v.clock.Now().UTC(),
	}
	v.transfers = append(v.transfers, t)
	v.paid[to] = v.paid[to].Add(amount)
	v.mu.Unlock()

	v.log.WithFields(logrus.Fields{
		"transfer_id": t.ID,
		"to":          to,
		"amount":      amount.String(),
	}).Info("funds transferred")
	return nil
}

// PaidTo returns the total transferred to identity.
func (v *Vault) PaidTo(identity string) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paid[identity]
}

// Transfers returns a copy of all transfers in the order they were sent.
func (v *Vault) Transfers() []Transfer {
	v.mu.Lock()
	defer v.mu.Unlock()

	copied := make([]Transfer, len(v.transfers))
	copy(copied, v.transfers)
	return copied
}

var _ interfaces.Transferer = (*Vault)(nil)
