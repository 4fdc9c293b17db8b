package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

// Snapshot returns the fund totals as of the last committed operation.
// It never blocks on a running operation.
func (l *Ledger) Snapshot() models.Snapshot {
	return *l.snapshot.Load()
}

// FundID identifies the fund in the store.
func (l *Ledger) FundID() string {
	return l.fund.ID
}

// Admin is the only identity allowed to create and pay spending requests.
func (l *Ledger) Admin() string {
	return l.Snapshot().Admin
}

// Goal is the amount that must be raised by the deadline to rule out refunds.
func (l *Ledger) Goal() decimal.Decimal {
	return l.Snapshot().Goal
}

// Deadline is the last instant contributions are accepted.
func (l *Ledger) Deadline() time.Time {
	return l.Snapshot().Deadline
}

// RaisedAmount is the sum of contributions less refunds. Payments do not
// reduce it.
func (l *Ledger) RaisedAmount() decimal.Decimal {
	return l.Snapshot().RaisedAmount
}

// Balance is the amount held by the ledger: raised funds minus payments.
func (l *Ledger) Balance() decimal.Decimal {
	return l.Snapshot().Balance
}

// ContributorCount counts identities that ever contributed, refunded or not.
func (l *Ledger) ContributorCount() int {
	return l.Snapshot().ContributorCount
}

// RequestCount is the number of spending requests created so far.
func (l *Ledger) RequestCount() int {
	return l.Snapshot().RequestCount
}

// Contribution returns the current balance of contributor and whether the
// identity ever contributed.
func (l *Ledger) Contribution(ctx context.Context, contributor string) (decimal.Decimal, bool, error) {
	if err := guard(ctx, contributor); err != nil {
		return decimal.Zero, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	amount, ok := l.contributions[contributor]
	return amount, ok, nil
}

// Request returns a copy of the spending request at index.
func (l *Ledger) Request(ctx context.Context, index int) (models.SpendingRequest, error) {
	if err := checkReentry(ctx); err != nil {
		return models.SpendingRequest{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	req, err := l.request(index)
	if err != nil {
		return models.SpendingRequest{}, err
	}
	return req.Clone(), nil
}

// Requests returns copies of all spending requests in creation order.
func (l *Ledger) Requests(ctx context.Context) ([]models.SpendingRequest, error) {
	if err := checkReentry(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.SpendingRequest, 0, len(l.requests))
	for _, req := range l.requests {
		out = append(out, req.Clone())
	}
	return out, nil
}

// GetLedgerEntries returns every committed entry in commit order.
func (l *Ledger) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	if err := checkReentry(ctx); err != nil {
		return nil, err
	}
	return l.store.GetLedgerEntries(ctx)
}

// EntriesFor returns the committed entries whose account is account.
func (l *Ledger) EntriesFor(ctx context.Context, account string) ([]models.LedgerEntry, error) {
	entries, err := l.GetLedgerEntries(ctx)
	if err != nil {
		return nil, err
	}
	var result []models.LedgerEntry
	for _, e := range entries {
		if e.Account == account {
			result = append(result, e)
		}
	}
	return result, nil
}
