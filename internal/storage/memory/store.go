package memory

import (
	"context"
	"sync"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

// MemoryFundStore is an in-memory implementation of interfaces.FundStore.
// It is safe for concurrent use.
type MemoryFundStore struct {
	mu      sync.Mutex
	fund    *models.Fund
	entries []models.LedgerEntry
}

// NewMemoryFundStore returns an empty store. Its contents are lost when the
// process exits.
func NewMemoryFundStore() *MemoryFundStore {
	return &MemoryFundStore{
		entries: make([]models.LedgerEntry, 0),
	}
}

// SaveFund replaces the stored fund configuration.
func (m *MemoryFundStore) SaveFund(ctx context.Context, fund models.Fund) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fund = &fund
	return nil
}

// LoadFund returns the saved fund, or false if SaveFund was never called.
func (m *MemoryFundStore) LoadFund(ctx context.Context) (models.Fund, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fund == nil {
		return models.Fund{}, false, nil
	}
	return *m.fund, true, nil
}

// RecordEntry appends entry to the log.
func (m *MemoryFundStore) RecordEntry(ctx context.Context, entry models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	return nil
}

// GetLedgerEntries returns a copy of all entries in the order they were recorded.
func (m *MemoryFundStore) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]models.LedgerEntry, len(m.entries))
	copy(copied, m.entries)
	return copied, nil
}

var _ interfaces.FundStore = (*MemoryFundStore)(nil)
