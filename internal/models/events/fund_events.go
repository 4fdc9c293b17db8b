package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topics under which fund events are published.
const (
	TopicContributed     = "fund.contributed"
	TopicRequestCreated  = "fund.request_created"
	TopicPaymentExecuted = "fund.payment_executed"
	TopicRefunded        = "fund.refunded"
)

// Contributed is published after a contribution is recorded.
type Contributed struct {
	EventID     string          `json:"event_id"`
	Contributor string          `json:"contributor"`
	Amount      decimal.Decimal `json:"amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// RequestCreated is published after the admin creates a spending request.
type RequestCreated struct {
	EventID     string          `json:"event_id"`
	Index       int             `json:"index"`
	Description string          `json:"description"`
	Recipient   string          `json:"recipient"`
	Amount      decimal.Decimal `json:"amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// PaymentExecuted is published after a request has been paid to its recipient.
type PaymentExecuted struct {
	EventID    string          `json:"event_id"`
	Index      int             `json:"index"`
	Recipient  string          `json:"recipient"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Refunded is published after a contributor's balance has been returned.
type Refunded struct {
	EventID     string          `json:"event_id"`
	Contributor string          `json:"contributor"`
	Amount      decimal.Decimal `json:"amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Key returns the partitioning key for an event, or "" when it has none.
func Key(event any) string {
	switch e := event.(type) {
	case Contributed:
		return e.EventID
	case RequestCreated:
		return e.EventID
	case PaymentExecuted:
		return e.EventID
	case Refunded:
		return e.EventID
	}
	return ""
}
