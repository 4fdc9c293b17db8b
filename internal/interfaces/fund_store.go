package interfaces

import (
	"context"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

// FundStore persists the fund configuration and the ordered log of ledger
// entries the fund state is rebuilt from.
type FundStore interface {
	SaveFund(ctx context.Context, fund models.Fund) error
	// LoadFund returns false when no fund has been saved yet.
	LoadFund(ctx context.Context) (models.Fund, bool, error)
	// RecordEntry durably appends entry. When it returns nil the entry is
	// committed; any error means the entry must be treated as not recorded.
	RecordEntry(ctx context.Context, entry models.LedgerEntry) error
	GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error)
}
