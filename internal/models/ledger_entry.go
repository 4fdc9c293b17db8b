package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind identifies which operation produced a LedgerEntry.
type EntryKind string

const (
	EntryContribution EntryKind = "contribution"
	EntryRequest      EntryKind = "request"
	EntryVote         EntryKind = "vote"
	EntryPayment      EntryKind = "payment"
	EntryRefund       EntryKind = "refund"
	// EntryReversal cancels a payment or refund whose transfer failed.
	EntryReversal EntryKind = "reversal"
)

// LedgerEntry is the durable record of one committed fund operation.
// Replaying the entries in order rebuilds the fund state.
type LedgerEntry struct {
	ID   string    `json:"id"`
	Kind EntryKind `json:"kind"`
	// Account is the caller, except for payments where it is the recipient.
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
	// RequestIndex is -1 for contributions and refunds.
	RequestIndex int       `json:"request_index"`
	Description  string    `json:"description,omitempty"`
	Recipient    string    `json:"recipient,omitempty"`
	// Reverses is the ID of the entry a reversal cancels.
	Reverses  string    `json:"reverses,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
