package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SpendingRequest is an admin-proposed disbursement awaiting contributor approval.
type SpendingRequest struct {
	Index       int             `json:"index"`
	Description string          `json:"description"`
	Recipient   string          `json:"recipient"`
	Amount      decimal.Decimal `json:"amount"`
	VoteCount   int             `json:"vote_count"`
	Voters      map[string]bool `json:"-"`
	Completed   bool            `json:"completed"`
	CreatedAt   time.Time       `json:"created_at"`
}

// HasVoted reports whether voter already approved the request.
func (r SpendingRequest) HasVoted(voter string) bool {
	return r.Voters[voter]
}

// Clone returns a copy that shares no mutable state with r.
func (r SpendingRequest) Clone() SpendingRequest {
	voters := make(map[string]bool, len(r.Voters))
	for v := range r.Voters {
		voters[v] = true
	}
	r.Voters = voters
	return r
}
