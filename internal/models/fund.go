package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fund holds the construction-time configuration of a crowdfunding ledger.
// None of these fields change once the fund is created.
type Fund struct {
	ID              string
	Admin           string
	Goal            decimal.Decimal
	MinContribution decimal.Decimal
	Deadline        time.Time
	CreatedAt       time.Time
}

// Snapshot is a read-only view of the fund at one point in the operation order.
type Snapshot struct {
	Admin            string          `json:"admin"`
	Goal             decimal.Decimal `json:"goal"`
	MinContribution  decimal.Decimal `json:"min_contribution"`
	Deadline         time.Time       `json:"deadline"`
	RaisedAmount     decimal.Decimal `json:"raised_amount"`
	Balance          decimal.Decimal `json:"balance"`
	ContributorCount int             `json:"contributor_count"`
	RequestCount     int             `json:"request_count"`
}
