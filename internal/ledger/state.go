package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/metrics"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models/events"
)

// The apply functions mutate state without checking preconditions. They are
// shared by live operations and replay, and each returns the function that
// puts the touched fields back.

func (l *Ledger) applyContribution(caller string, amount decimal.Decimal) (undo func()) {
	prev, existed := l.contributions[caller]
	raised, balance, count := l.raised, l.balance, l.contributorCount

	if !existed {
		l.contributorCount++
	}
	l.contributions[caller] = prev.Add(amount)
	l.raised = l.raised.Add(amount)
	l.balance = l.balance.Add(amount)

	return func() {
		if existed {
			l.contributions[caller] = prev
		} else {
			delete(l.contributions, caller)
		}
		l.raised, l.balance, l.contributorCount = raised, balance, count
	}
}

func (l *Ledger) applyRequest(description, recipient string, amount decimal.Decimal, at time.Time) (int, func()) {
	index := len(l.requests)
	l.requests = append(l.requests, &models.SpendingRequest{
		Index:       index,
		Description: description,
		Recipient:   recipient,
		Amount:      amount,
		Voters:      make(map[string]bool),
		CreatedAt:   at,
	})
	return index, func() {
		l.requests[index] = nil
		l.requests = l.requests[:index]
	}
}

func (l *Ledger) applyVote(index int, voter string) (undo func()) {
	req := l.requests[index]
	req.Voters[voter] = true
	req.VoteCount++
	return func() {
		delete(req.Voters, voter)
		req.VoteCount--
	}
}

func (l *Ledger) applyPayment(index int) (undo func()) {
	req := l.requests[index]
	balance := l.balance
	req.Completed = true
	l.balance = l.balance.Sub(req.Amount)
	return func() {
		req.Completed = false
		l.balance = balance
	}
}

func (l *Ledger) applyRefund(caller string) (undo func()) {
	owed := l.contributions[caller]
	raised, balance := l.raised, l.balance
	l.contributions[caller] = decimal.Zero
	l.raised = l.raised.Sub(owed)
	l.balance = l.balance.Sub(owed)
	return func() {
		l.contributions[caller] = owed
		l.raised, l.balance = raised, balance
	}
}

// reverse cancels a payment or refund entry whose transfer failed. Unlike
// the undo functions it works from the entry alone, so replay can use it.
func (l *Ledger) reverse(e models.LedgerEntry) {
	switch e.Kind {
	case models.EntryPayment:
		l.requests[e.RequestIndex].Completed = false
		l.balance = l.balance.Add(e.Amount)
	case models.EntryRefund:
		l.contributions[e.Account] = l.contributions[e.Account].Add(e.Amount)
		l.raised = l.raised.Add(e.Amount)
		l.balance = l.balance.Add(e.Amount)
	}
}

type operationKey struct{}

// withinOperation marks ctx as belonging to a running ledger operation.
// Collaborators called while the operation holds the lock receive it.
func withinOperation(ctx context.Context) context.Context {
	return context.WithValue(ctx, operationKey{}, true)
}

func checkReentry(ctx context.Context) error {
	if inOperation, _ := ctx.Value(operationKey{}).(bool); inOperation {
		return ErrReentrant
	}
	return nil
}

func guard(ctx context.Context, caller string) error {
	if err := checkReentry(ctx); err != nil {
		return err
	}
	if caller == "" {
		return ErrInvalidCaller
	}
	return nil
}

type notice struct {
	topic string
	event any
}

func contributedNotice(contributor string, amount decimal.Decimal, at time.Time) notice {
	return notice{events.TopicContributed, events.Contributed{
		EventID:     uuid.New().String(),
		Contributor: contributor,
		Amount:      amount,
		OccurredAt:  at,
	}}
}

func requestCreatedNotice(index int, description, recipient string, amount decimal.Decimal, at time.Time) notice {
	return notice{events.TopicRequestCreated, events.RequestCreated{
		EventID:     uuid.New().String(),
		Index:       index,
		Description: description,
		Recipient:   recipient,
		Amount:      amount,
		OccurredAt:  at,
	}}
}

func paymentExecutedNotice(index int, recipient string, amount decimal.Decimal, at time.Time) notice {
	return notice{events.TopicPaymentExecuted, events.PaymentExecuted{
		EventID:    uuid.New().String(),
		Index:      index,
		Recipient:  recipient,
		Amount:     amount,
		OccurredAt: at,
	}}
}

func refundedNotice(contributor string, amount decimal.Decimal, at time.Time) notice {
	return notice{events.TopicRefunded, events.Refunded{
		EventID:     uuid.New().String(),
		Contributor: contributor,
		Amount:      amount,
		OccurredAt:  at,
	}}
}

// publish delivers n after its operation committed. Delivery failures are
// logged and counted; the committed operation stands.
func (l *Ledger) publish(ctx context.Context, n notice) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(withinOperation(ctx), n.topic, n.event); err != nil {
		metrics.RecordPublishFailure(n.topic)
		l.log.WithFields(logrus.Fields{"topic": n.topic}).WithError(err).Warn("failed to publish event")
	}
}
