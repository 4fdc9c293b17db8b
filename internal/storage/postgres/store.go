package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS funds (
		id TEXT PRIMARY KEY,
		admin TEXT NOT NULL,
		goal NUMERIC NOT NULL,
		min_contribution NUMERIC NOT NULL,
		deadline TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		account TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		request_index INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		recipient TEXT NOT NULL DEFAULT '',
		reverses TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`ALTER TABLE ledger_entries ADD COLUMN IF NOT EXISTS reverses TEXT NOT NULL DEFAULT ''`,
}

// PostgresFundStore keeps the fund and its entry log in PostgreSQL.
type PostgresFundStore struct {
	db *sql.DB
}

// NewPostgresFundStore wraps db, which must use the lib/pq driver. Call
// Migrate before first use.
func NewPostgresFundStore(db *sql.DB) *PostgresFundStore {
	return &PostgresFundStore{
		db: db,
	}
}

// Migrate creates the tables used by the store if they do not exist.
func (p *PostgresFundStore) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// SaveFund inserts the fund row. A fund is saved once, when it is created.
func (p *PostgresFundStore) SaveFund(ctx context.Context, fund models.Fund) error {
	const query = `INSERT INTO funds (id, admin, goal, min_contribution, deadline, created_at)
	VALUES ($1,$2,$3,$4,$5,$6)`

	_, err := p.db.ExecContext(ctx, query, fund.ID, fund.Admin, fund.Goal, fund.MinContribution, fund.Deadline, fund.CreatedAt)
	return err
}

// LoadFund returns the oldest saved fund, or false if there is none.
func (p *PostgresFundStore) LoadFund(ctx context.Context) (models.Fund, bool, error) {
	const query = `SELECT id, admin, goal, min_contribution, deadline, created_at
	FROM funds ORDER BY created_at LIMIT 1`

	var fund models.Fund
	err := p.db.QueryRowContext(ctx, query).Scan(
		&fund.ID,
		&fund.Admin,
		&fund.Goal,
		&fund.MinContribution,
		&fund.Deadline,
		&fund.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Fund{}, false, nil
	}
	if err != nil {
		return models.Fund{}, false, err
	}
	return fund, true, nil
}

func (p *PostgresFundStore) saveEntry(ctx context.Context, dbTx *sql.Tx, entry models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (id, kind, account, amount, request_index, description, recipient, reverses, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := dbTx.ExecContext(ctx, query,
		entry.ID,
		string(entry.Kind),
		entry.Account,
		entry.Amount,
		entry.RequestIndex,
		entry.Description,
		entry.Recipient,
		entry.Reverses,
		entry.CreatedAt,
	)
	return err
}

// RecordEntry inserts entry in its own transaction. The entry counts as
// recorded only once the commit succeeds.
func (p *PostgresFundStore) RecordEntry(ctx context.Context, entry models.LedgerEntry) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	if err = p.saveEntry(ctx, dbTx, entry); err != nil {
		return err
	}
	if err = dbTx.Commit(); err != nil {
		return fmt.Errorf("commit entry %s: %w", entry.ID, err)
	}
	return nil
}

// GetLedgerEntries returns every committed entry in insertion order.
func (p *PostgresFundStore) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	const query = `SELECT id, kind, account, amount, request_index, description, recipient, reverses, created_at
	FROM ledger_entries ORDER BY seq`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var (
			entry models.LedgerEntry
			kind  string
		)
		err := rows.Scan(
			&entry.ID,
			&kind,
			&entry.Account,
			&entry.Amount,
			&entry.RequestIndex,
			&entry.Description,
			&entry.Recipient,
			&entry.Reverses,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entry.Kind = models.EntryKind(kind)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

var _ interfaces.FundStore = (*PostgresFundStore)(nil)
