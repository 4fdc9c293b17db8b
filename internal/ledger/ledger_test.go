package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventsmemory "github.com/sheikh-saqib/crowdfunding-ledger/internal/events/memory"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/ledger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models/events"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/payout"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage/memory"
)

const (
	admin = "admin"
	week  = 7 * 24 * time.Hour
)

type fixture struct {
	ledger   *ledger.Ledger
	clock    *clock.Mock
	vault    *payout.Vault
	recorder *eventsmemory.Recorder
	store    *memory.MemoryFundStore
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(amt(want)), "want %s, got %s", want, got)
}

func newFixture(t *testing.T, goal string) *fixture {
	t.Helper()
	f := &fixture{
		clock:    clock.NewMock(),
		vault:    payout.NewVault(quietLogger()),
		recorder: eventsmemory.NewRecorder(),
		store:    memory.NewMemoryFundStore(),
	}
	l, err := ledger.NewLedger(context.Background(), f.store, ledger.Config{
		Admin:    admin,
		Goal:     amt(goal),
		Duration: week,
	}, f.options()...)
	require.NoError(t, err)
	f.ledger = l
	return f
}

func (f *fixture) options() []ledger.Option {
	return []ledger.Option{
		ledger.WithClock(f.clock),
		ledger.WithTransferer(f.vault),
		ledger.WithPublisher(f.recorder),
		ledger.WithLogger(quietLogger()),
	}
}

func (f *fixture) contribute(t *testing.T, amounts map[string]string) {
	t.Helper()
	for who, a := range amounts {
		require.NoError(t, f.ledger.Contribute(context.Background(), who, amt(a)))
	}
}

func (f *fixture) passDeadline() {
	f.clock.Add(week + time.Second)
}

func TestNewLedgerRejectsBadConfig(t *testing.T) {
	store := memory.NewMemoryFundStore()
	cases := map[string]ledger.Config{
		"no admin":      {Goal: amt("1"), Duration: week},
		"zero goal":     {Admin: admin, Goal: decimal.Zero, Duration: week},
		"zero duration": {Admin: admin, Goal: amt("1")},
		"negative min":  {Admin: admin, Goal: amt("1"), Duration: week, MinContribution: amt("-1")},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ledger.NewLedger(context.Background(), store, cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewLedgerSetsDeadlineFromDuration(t *testing.T) {
	f := newFixture(t, "100")

	assert.Equal(t, admin, f.ledger.Admin())
	assert.Equal(t, f.clock.Now().Add(week), f.ledger.Deadline())
	assertAmount(t, "100", f.ledger.Goal())
	assertAmount(t, "0.1", f.ledger.Snapshot().MinContribution)
	assert.Zero(t, f.ledger.ContributorCount())
	assert.True(t, f.ledger.RaisedAmount().IsZero())
}

func TestContributeAccumulatesRaisedAmount(t *testing.T) {
	f := newFixture(t, "100")

	f.contribute(t, map[string]string{"alice": "1", "bob": "3", "carol": "7", "dave": "2", "erin": "10"})

	assert.Equal(t, 5, f.ledger.ContributorCount())
	assertAmount(t, "23", f.ledger.RaisedAmount())
	assertAmount(t, "23", f.ledger.Balance())
}

func TestReceiveBehavesLikeContribute(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	require.NoError(t, f.ledger.Receive(ctx, "alice", amt("3")))
	require.NoError(t, f.ledger.Receive(ctx, "bob", amt("6")))
	require.NoError(t, f.ledger.Receive(ctx, "carol", amt("4")))

	assert.Equal(t, 3, f.ledger.ContributorCount())
	assertAmount(t, "13", f.ledger.RaisedAmount())
	assert.Len(t, f.recorder.Topic(events.TopicContributed), 3)
}

func TestRepeatedContributionsAccumulate(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	require.NoError(t, f.ledger.Contribute(ctx, "alice", amt("1")))
	require.NoError(t, f.ledger.Contribute(ctx, "alice", amt("2.5")))

	balance, ok, err := f.ledger.Contribution(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assertAmount(t, "3.5", balance)
	assert.Equal(t, 1, f.ledger.ContributorCount())
}

func TestContributeAtDeadlineIsAccepted(t *testing.T) {
	f := newFixture(t, "100")
	f.clock.Add(week)

	assert.NoError(t, f.ledger.Contribute(context.Background(), "alice", amt("1")))
}

func TestContributeAfterDeadlineFails(t *testing.T) {
	f := newFixture(t, "100")
	f.passDeadline()

	err := f.ledger.Contribute(context.Background(), "alice", amt("1"))

	assert.ErrorIs(t, err, ledger.ErrDeadlineExpired)
	assert.Equal(t, ledger.CodeDeadlineExpired, ledger.CodeOf(err))
	assert.Zero(t, f.ledger.ContributorCount())
	assert.Empty(t, f.recorder.Events())
}

func TestContributeBelowMinimumFails(t *testing.T) {
	f := newFixture(t, "100")

	err := f.ledger.Contribute(context.Background(), "alice", amt("0.01"))

	assert.ErrorIs(t, err, ledger.ErrBelowMinimum)
	assert.True(t, f.ledger.RaisedAmount().IsZero())
	_, ok, _ := f.ledger.Contribution(context.Background(), "alice")
	assert.False(t, ok)
}

func TestContributeRequiresCaller(t *testing.T) {
	f := newFixture(t, "100")

	err := f.ledger.Contribute(context.Background(), "", amt("1"))

	assert.ErrorIs(t, err, ledger.ErrInvalidCaller)
}

func TestCreateRequestByAdmin(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	assert.Zero(t, f.ledger.RequestCount())
	index, err := f.ledger.CreateRequest(ctx, admin, "food for pets", "bob", amt("5"))
	require.NoError(t, err)

	assert.Equal(t, 0, index)
	assert.Equal(t, 1, f.ledger.RequestCount())

	req, err := f.ledger.Request(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "food for pets", req.Description)
	assert.Equal(t, "bob", req.Recipient)
	assertAmount(t, "5", req.Amount)
	assert.Zero(t, req.VoteCount)
	assert.False(t, req.Completed)
}

func TestCreateRequestByNonAdminFails(t *testing.T) {
	f := newFixture(t, "100")

	_, err := f.ledger.CreateRequest(context.Background(), "bob", "food for pets", "bob", amt("5"))

	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	assert.Zero(t, f.ledger.RequestCount())
}

func TestCreateRequestValidatesAmountAndRecipient(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	_, err := f.ledger.CreateRequest(ctx, admin, "nothing", "bob", decimal.Zero)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = f.ledger.CreateRequest(ctx, admin, "nobody", "", amt("1"))
	assert.ErrorIs(t, err, ledger.ErrInvalidRecipient)

	assert.Zero(t, f.ledger.RequestCount())
}

func TestCreateRequestEmitsEvent(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	_, err := f.ledger.CreateRequest(ctx, admin, "food for pets", "bob", amt("5"))
	require.NoError(t, err)
	_, err = f.ledger.CreateRequest(ctx, admin, "vet bills", "carol", amt("2"))
	require.NoError(t, err)

	created := f.recorder.Topic(events.TopicRequestCreated)
	require.Len(t, created, 2)
	second := created[1].(events.RequestCreated)
	assert.Equal(t, 1, second.Index)
	assert.Equal(t, "vet bills", second.Description)
	assert.Equal(t, "carol", second.Recipient)
	assertAmount(t, "2", second.Amount)
}

func TestVoteRequest(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"alice": "1", "bob": "3", "carol": "7"})
	_, err := f.ledger.CreateRequest(ctx, admin, "food for animals", "bob", amt("4"))
	require.NoError(t, err)

	for _, voter := range []string{"alice", "bob", "carol"} {
		require.NoError(t, f.ledger.VoteRequest(ctx, voter, 0))
	}

	req, err := f.ledger.Request(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, req.VoteCount)
	assert.True(t, req.HasVoted("carol"))
	// Voting emits nothing.
	assert.Len(t, f.recorder.Events(), 4)
}

func TestVoteRequestRejections(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"alice": "1", "bob": "3"})
	_, err := f.ledger.CreateRequest(ctx, admin, "food for pets", "bob", amt("2"))
	require.NoError(t, err)
	require.NoError(t, f.ledger.VoteRequest(ctx, "alice", 0))

	assert.ErrorIs(t, f.ledger.VoteRequest(ctx, "mallory", 0), ledger.ErrNotContributor)
	assert.ErrorIs(t, f.ledger.VoteRequest(ctx, "alice", 0), ledger.ErrAlreadyVoted)
	assert.ErrorIs(t, f.ledger.VoteRequest(ctx, "bob", 1), ledger.ErrInvalidRequest)
	assert.ErrorIs(t, f.ledger.VoteRequest(ctx, "bob", -1), ledger.ErrInvalidRequest)

	req, err := f.ledger.Request(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, req.VoteCount)
}

func TestExecutePaymentNeedsMoreThanHalf(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"alice": "1", "bob": "3", "carol": "7"})
	_, err := f.ledger.CreateRequest(ctx, admin, "food for animals", "bob", amt("10"))
	require.NoError(t, err)

	require.NoError(t, f.ledger.VoteRequest(ctx, "alice", 0))
	// 1*2 <= 3
	assert.ErrorIs(t, f.ledger.ExecutePayment(ctx, admin, 0), ledger.ErrInsufficientQuorum)

	require.NoError(t, f.ledger.VoteRequest(ctx, "bob", 0))
	// 2*2 > 3
	require.NoError(t, f.ledger.ExecutePayment(ctx, admin, 0))

	req, err := f.ledger.Request(ctx, 0)
	require.NoError(t, err)
	assert.True(t, req.Completed)
	assertAmount(t, "10", f.vault.PaidTo("bob"))
	assertAmount(t, "1", f.ledger.Balance())
	assertAmount(t, "11", f.ledger.RaisedAmount())

	paid := f.recorder.Topic(events.TopicPaymentExecuted)
	require.Len(t, paid, 1)
	assert.Equal(t, "bob", paid[0].(events.PaymentExecuted).Recipient)
	assertAmount(t, "10", paid[0].(events.PaymentExecuted).Amount)
}

func TestExecutePaymentOnlyOnce(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"a": "5", "b": "5", "c": "5"})
	_, err := f.ledger.CreateRequest(ctx, admin, "tools", "vendor", amt("4"))
	require.NoError(t, err)
	require.NoError(t, f.ledger.VoteRequest(ctx, "a", 0))
	require.NoError(t, f.ledger.VoteRequest(ctx, "b", 0))
	require.NoError(t, f.ledger.ExecutePayment(ctx, admin, 0))

	err = f.ledger.ExecutePayment(ctx, admin, 0)

	assert.ErrorIs(t, err, ledger.ErrAlreadyCompleted)
	assertAmount(t, "4", f.vault.PaidTo("vendor"))
	assert.Len(t, f.vault.Transfers(), 1)
}

func TestExecutePaymentByNonAdminFails(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"alice": "1", "bob": "3", "carol": "7"})
	_, err := f.ledger.CreateRequest(ctx, admin, "food for animals", "bob", amt("10"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.ledger.ExecutePayment(ctx, "carol", 0), ledger.ErrUnauthorized)
	assert.ErrorIs(t, f.ledger.ExecutePayment(ctx, admin, 3), ledger.ErrInvalidRequest)
}

func TestExecutePaymentWithoutContributorsFailsQuorum(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	_, err := f.ledger.CreateRequest(ctx, admin, "early", "bob", amt("1"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.ledger.ExecutePayment(ctx, admin, 0), ledger.ErrInsufficientQuorum)
}

func TestExecutePaymentInsufficientFunds(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"a": "1", "b": "1", "c": "1"})
	_, err := f.ledger.CreateRequest(ctx, admin, "too much", "vendor", amt("10"))
	require.NoError(t, err)
	require.NoError(t, f.ledger.VoteRequest(ctx, "a", 0))
	require.NoError(t, f.ledger.VoteRequest(ctx, "b", 0))

	err = f.ledger.ExecutePayment(ctx, admin, 0)

	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	req, _ := f.ledger.Request(ctx, 0)
	assert.False(t, req.Completed)
	assert.Empty(t, f.vault.Transfers())
}

func TestExecutePaymentRollsBackWhenTransferFails(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"a": "5", "b": "5", "c": "5"})
	_, err := f.ledger.CreateRequest(ctx, admin, "tools", "vendor", amt("4"))
	require.NoError(t, err)
	require.NoError(t, f.ledger.VoteRequest(ctx, "a", 0))
	require.NoError(t, f.ledger.VoteRequest(ctx, "b", 0))
	entriesBefore, _ := f.store.GetLedgerEntries(ctx)

	bounce := errors.New("recipient rejected funds")
	f.vault.BeforeTransfer = func(context.Context, string, decimal.Decimal) error { return bounce }

	err = f.ledger.ExecutePayment(ctx, admin, 0)

	assert.ErrorIs(t, err, bounce)
	assert.Empty(t, ledger.CodeOf(err))
	req, _ := f.ledger.Request(ctx, 0)
	assert.False(t, req.Completed)
	assertAmount(t, "15", f.ledger.Balance())
	assert.Empty(t, f.recorder.Topic(events.TopicPaymentExecuted))
	entriesAfter, _ := f.store.GetLedgerEntries(ctx)
	require.Len(t, entriesAfter, len(entriesBefore)+2)
	payment, reversal := entriesAfter[len(entriesBefore)], entriesAfter[len(entriesBefore)+1]
	assert.Equal(t, models.EntryPayment, payment.Kind)
	assert.Equal(t, models.EntryReversal, reversal.Kind)
	assert.Equal(t, payment.ID, reversal.Reverses)

	restored, err := ledger.Restore(ctx, f.store, f.options()...)
	require.NoError(t, err)
	restoredReq, _ := restored.Request(ctx, 0)
	assert.False(t, restoredReq.Completed)
	assertAmount(t, "15", restored.Balance())

	// Once the recipient accepts, the same request can still be paid.
	f.vault.BeforeTransfer = nil
	require.NoError(t, f.ledger.ExecutePayment(ctx, admin, 0))
	assertAmount(t, "4", f.vault.PaidTo("vendor"))
}

func TestExecutePaymentRejectsReentrantCalls(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"a": "5", "b": "5", "c": "5"})
	_, err := f.ledger.CreateRequest(ctx, admin, "tools", "vendor", amt("4"))
	require.NoError(t, err)
	require.NoError(t, f.ledger.VoteRequest(ctx, "a", 0))
	require.NoError(t, f.ledger.VoteRequest(ctx, "b", 0))

	var reentrant []error
	f.vault.BeforeTransfer = func(ctx context.Context, to string, amount decimal.Decimal) error {
		reentrant = append(reentrant, f.ledger.ExecutePayment(ctx, admin, 0))
		_, err := f.ledger.GetRefund(ctx, "a")
		reentrant = append(reentrant, err)
		_, err = f.ledger.Request(ctx, 0)
		reentrant = append(reentrant, err)
		return nil
	}

	require.NoError(t, f.ledger.ExecutePayment(ctx, admin, 0))

	require.Len(t, reentrant, 3)
	for _, err := range reentrant {
		assert.ErrorIs(t, err, ledger.ErrReentrant)
	}
	assert.Len(t, f.vault.Transfers(), 1)
	assertAmount(t, "11", f.ledger.Balance())
}

func TestGetRefundAfterDeadlineWhenGoalMissed(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"alice": "1", "bob": "3", "carol": "7", "dave": "2", "erin": "10"})
	f.passDeadline()

	refunded, err := f.ledger.GetRefund(ctx, "carol")

	require.NoError(t, err)
	assertAmount(t, "7", refunded)
	assertAmount(t, "7", f.vault.PaidTo("carol"))
	assertAmount(t, "16", f.ledger.RaisedAmount())
	assertAmount(t, "16", f.ledger.Balance())
	assert.Equal(t, 5, f.ledger.ContributorCount())

	balance, ok, err := f.ledger.Contribution(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, balance.IsZero())
	bob, _, _ := f.ledger.Contribution(ctx, "bob")
	assertAmount(t, "3", bob)

	refunds := f.recorder.Topic(events.TopicRefunded)
	require.Len(t, refunds, 1)
	assert.Equal(t, "carol", refunds[0].(events.Refunded).Contributor)
}

func TestGetRefundRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("before deadline", func(t *testing.T) {
		f := newFixture(t, "100")
		f.contribute(t, map[string]string{"alice": "7"})
		_, err := f.ledger.GetRefund(ctx, "alice")
		assert.ErrorIs(t, err, ledger.ErrDeadlineNotPassed)
	})

	t.Run("exactly at deadline", func(t *testing.T) {
		f := newFixture(t, "100")
		f.contribute(t, map[string]string{"alice": "7"})
		f.clock.Add(week)
		_, err := f.ledger.GetRefund(ctx, "alice")
		assert.ErrorIs(t, err, ledger.ErrDeadlineNotPassed)
	})

	t.Run("goal met", func(t *testing.T) {
		f := newFixture(t, "100")
		f.contribute(t, map[string]string{"alice": "7", "bob": "100"})
		f.passDeadline()
		_, err := f.ledger.GetRefund(ctx, "alice")
		assert.ErrorIs(t, err, ledger.ErrGoalWasMet)
		assertAmount(t, "107", f.ledger.RaisedAmount())
	})

	t.Run("not a contributor", func(t *testing.T) {
		f := newFixture(t, "100")
		f.contribute(t, map[string]string{"alice": "7"})
		f.passDeadline()
		_, err := f.ledger.GetRefund(ctx, "mallory")
		assert.ErrorIs(t, err, ledger.ErrNotContributor)
	})

	t.Run("already refunded", func(t *testing.T) {
		f := newFixture(t, "100")
		f.contribute(t, map[string]string{"alice": "7"})
		f.passDeadline()
		_, err := f.ledger.GetRefund(ctx, "alice")
		require.NoError(t, err)
		_, err = f.ledger.GetRefund(ctx, "alice")
		assert.ErrorIs(t, err, ledger.ErrNotContributor)
		assertAmount(t, "7", f.vault.PaidTo("alice"))
	})

	t.Run("balance drawn down by payment", func(t *testing.T) {
		f := newFixture(t, "100")
		f.contribute(t, map[string]string{"a": "5", "b": "5", "c": "5"})
		_, err := f.ledger.CreateRequest(ctx, admin, "tools", "vendor", amt("12"))
		require.NoError(t, err)
		require.NoError(t, f.ledger.VoteRequest(ctx, "a", 0))
		require.NoError(t, f.ledger.VoteRequest(ctx, "b", 0))
		require.NoError(t, f.ledger.ExecutePayment(ctx, admin, 0))
		f.passDeadline()

		_, err = f.ledger.GetRefund(ctx, "a")
		assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	})
}

func TestRefundedContributorKeepsVotingRights(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"alice": "1", "bob": "2"})
	f.passDeadline()
	_, err := f.ledger.GetRefund(ctx, "alice")
	require.NoError(t, err)
	_, err = f.ledger.CreateRequest(ctx, admin, "late request", "bob", amt("1"))
	require.NoError(t, err)

	assert.NoError(t, f.ledger.VoteRequest(ctx, "alice", 0))
	assert.Equal(t, 2, f.ledger.ContributorCount())
}

func TestGetRefundRollsBackWhenTransferFails(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"alice": "7", "bob": "3"})
	f.passDeadline()
	f.vault.BeforeTransfer = func(context.Context, string, decimal.Decimal) error {
		return errors.New("wallet offline")
	}

	_, err := f.ledger.GetRefund(ctx, "alice")

	assert.Error(t, err)
	balance, _, _ := f.ledger.Contribution(ctx, "alice")
	assertAmount(t, "7", balance)
	assertAmount(t, "10", f.ledger.RaisedAmount())
	assert.Empty(t, f.recorder.Topic(events.TopicRefunded))
}

type failingStore struct {
	*memory.MemoryFundStore
	err error
}

func (s *failingStore) RecordEntry(ctx context.Context, entry models.LedgerEntry) error {
	return s.err
}

func TestStoreFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryFundStore: memory.NewMemoryFundStore(), err: errors.New("disk full")}
	recorder := eventsmemory.NewRecorder()
	l, err := ledger.NewLedger(ctx, store, ledger.Config{Admin: admin, Goal: amt("10"), Duration: week},
		ledger.WithPublisher(recorder), ledger.WithLogger(quietLogger()))
	require.NoError(t, err)

	err = l.Contribute(ctx, "alice", amt("1"))
	assert.ErrorIs(t, err, store.err)

	_, err = l.CreateRequest(ctx, admin, "x", "bob", amt("1"))
	assert.ErrorIs(t, err, store.err)

	assert.Zero(t, l.ContributorCount())
	assert.Zero(t, l.RequestCount())
	assert.True(t, l.RaisedAmount().IsZero())
	_, ok, _ := l.Contribution(ctx, "alice")
	assert.False(t, ok)
	assert.Empty(t, recorder.Events())
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) error {
	return errors.New("broker down")
}

func TestPublishFailureDoesNotUndoOperation(t *testing.T) {
	ctx := context.Background()
	l, err := ledger.NewLedger(ctx, memory.NewMemoryFundStore(),
		ledger.Config{Admin: admin, Goal: amt("10"), Duration: week},
		ledger.WithPublisher(failingPublisher{}), ledger.WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, l.Contribute(ctx, "alice", amt("1")))
	assertAmount(t, "1", l.RaisedAmount())
}

func TestRestoreReplaysEntries(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"a": "5", "b": "5", "c": "5"})
	_, err := f.ledger.CreateRequest(ctx, admin, "tools", "vendor", amt("4"))
	require.NoError(t, err)
	_, err = f.ledger.CreateRequest(ctx, admin, "paint", "shop", amt("2"))
	require.NoError(t, err)
	require.NoError(t, f.ledger.VoteRequest(ctx, "a", 0))
	require.NoError(t, f.ledger.VoteRequest(ctx, "b", 0))
	require.NoError(t, f.ledger.VoteRequest(ctx, "c", 1))
	require.NoError(t, f.ledger.ExecutePayment(ctx, admin, 0))
	f.passDeadline()
	_, err = f.ledger.GetRefund(ctx, "c")
	require.NoError(t, err)

	restored, err := ledger.Restore(ctx, f.store, f.options()...)
	require.NoError(t, err)

	assert.Equal(t, f.ledger.FundID(), restored.FundID())
	want, got := f.ledger.Snapshot(), restored.Snapshot()
	assert.Equal(t, want.Admin, got.Admin)
	assert.Equal(t, want.ContributorCount, got.ContributorCount)
	assert.Equal(t, want.RequestCount, got.RequestCount)
	assert.True(t, want.RaisedAmount.Equal(got.RaisedAmount))
	assert.True(t, want.Balance.Equal(got.Balance))

	wantReqs, _ := f.ledger.Requests(ctx)
	gotReqs, err := restored.Requests(ctx)
	require.NoError(t, err)
	require.Len(t, gotReqs, len(wantReqs))
	for i := range wantReqs {
		assert.Equal(t, wantReqs[i].VoteCount, gotReqs[i].VoteCount)
		assert.Equal(t, wantReqs[i].Completed, gotReqs[i].Completed)
		assert.Equal(t, wantReqs[i].Voters, gotReqs[i].Voters)
	}

	// Replay moves no funds and re-publishes nothing.
	assert.Len(t, f.vault.Transfers(), 2)
	assert.ErrorIs(t, restored.ExecutePayment(ctx, admin, 0), ledger.ErrAlreadyCompleted)
	assert.ErrorIs(t, restored.VoteRequest(ctx, "c", 1), ledger.ErrAlreadyVoted)
}

func TestRestoreWithoutFund(t *testing.T) {
	_, err := ledger.Restore(context.Background(), memory.NewMemoryFundStore())
	assert.ErrorIs(t, err, ledger.ErrNoFund)
}

func TestQueriesDoNotMutate(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"alice": "2"})
	_, err := f.ledger.CreateRequest(ctx, admin, "x", "bob", amt("1"))
	require.NoError(t, err)

	first := f.ledger.Snapshot()
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, f.ledger.Snapshot())
		assertAmount(t, "2", f.ledger.RaisedAmount())
		assert.Equal(t, 1, f.ledger.ContributorCount())
		assert.Equal(t, 1, f.ledger.RequestCount())
	}

	req, err := f.ledger.Request(ctx, 0)
	require.NoError(t, err)
	req.Voters["alice"] = true
	again, _ := f.ledger.Request(ctx, 0)
	assert.False(t, again.HasVoted("alice"))
}

func TestConcurrentOperationsKeepInvariants(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	_, err := f.ledger.CreateRequest(ctx, admin, "shared", "vendor", amt("1"))
	require.NoError(t, err)

	const contributors = 40
	var wg sync.WaitGroup
	for i := 0; i < contributors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := fmt.Sprintf("c%d", i)
			assert.NoError(t, f.ledger.Contribute(ctx, who, amt("1")))
			assert.NoError(t, f.ledger.Contribute(ctx, who, amt("0.5")))
		}(i)
	}
	wg.Wait()

	var votes sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		votes.Add(1)
		go func() {
			defer votes.Done()
			if f.ledger.VoteRequest(ctx, "c0", 0) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	votes.Wait()

	assert.Equal(t, contributors, f.ledger.ContributorCount())
	assertAmount(t, "60", f.ledger.RaisedAmount())
	assert.Equal(t, 1, succeeded)
	req, _ := f.ledger.Request(ctx, 0)
	assert.Equal(t, 1, req.VoteCount)
	assert.LessOrEqual(t, req.VoteCount, f.ledger.ContributorCount())
}

func TestContributeEmitsEvent(t *testing.T) {
	f := newFixture(t, "100")

	require.NoError(t, f.ledger.Contribute(context.Background(), "alice", amt("1")))

	got := f.recorder.Topic(events.TopicContributed)
	require.Len(t, got, 1)
	e := got[0].(events.Contributed)
	assert.Equal(t, "alice", e.Contributor)
	assertAmount(t, "1", e.Amount)
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, f.clock.Now(), e.OccurredAt)
}

// flakyStore rejects the next failures entries of kind failKind.
type flakyStore struct {
	*memory.MemoryFundStore
	failKind models.EntryKind
	failures int
	err      error
}

func (s *flakyStore) RecordEntry(ctx context.Context, entry models.LedgerEntry) error {
	if entry.Kind == s.failKind && s.failures > 0 {
		s.failures--
		return s.err
	}
	return s.MemoryFundStore.RecordEntry(ctx, entry)
}

func newFlakyFixture(t *testing.T, kind models.EntryKind) (*fixture, *flakyStore) {
	t.Helper()
	f := &fixture{
		clock:    clock.NewMock(),
		vault:    payout.NewVault(quietLogger()),
		recorder: eventsmemory.NewRecorder(),
		store:    memory.NewMemoryFundStore(),
	}
	flaky := &flakyStore{MemoryFundStore: f.store, failKind: kind, err: errors.New("connection reset")}
	l, err := ledger.NewLedger(context.Background(), flaky, ledger.Config{
		Admin:    admin,
		Goal:     amt("100"),
		Duration: week,
	}, f.options()...)
	require.NoError(t, err)
	f.ledger = l
	return f, flaky
}

func TestUnrecordedPaymentSendsNothing(t *testing.T) {
	f, flaky := newFlakyFixture(t, models.EntryPayment)
	ctx := context.Background()
	f.contribute(t, map[string]string{"alice": "10"})
	_, err := f.ledger.CreateRequest(ctx, admin, "supplies", "bob", amt("6"))
	require.NoError(t, err)
	require.NoError(t, f.ledger.VoteRequest(ctx, "alice", 0))

	flaky.failures = 1
	err = f.ledger.ExecutePayment(ctx, admin, 0)

	assert.ErrorIs(t, err, flaky.err)
	assert.Empty(t, f.vault.Transfers())
	req, _ := f.ledger.Request(ctx, 0)
	assert.False(t, req.Completed)
	assertAmount(t, "10", f.ledger.Balance())

	require.NoError(t, f.ledger.ExecutePayment(ctx, admin, 0))
	assert.ErrorIs(t, f.ledger.ExecutePayment(ctx, admin, 0), ledger.ErrAlreadyCompleted)

	assert.Len(t, f.vault.Transfers(), 1)
	assertAmount(t, "6", f.vault.PaidTo("bob"))
	assertAmount(t, "4", f.ledger.Balance())
}

func TestUnrecordedRefundSendsNothing(t *testing.T) {
	f, flaky := newFlakyFixture(t, models.EntryRefund)
	ctx := context.Background()
	f.contribute(t, map[string]string{"alice": "7", "bob": "3"})
	f.passDeadline()

	flaky.failures = 1
	_, err := f.ledger.GetRefund(ctx, "alice")

	assert.ErrorIs(t, err, flaky.err)
	assert.Empty(t, f.vault.Transfers())
	balance, _, _ := f.ledger.Contribution(ctx, "alice")
	assertAmount(t, "7", balance)

	refunded, err := f.ledger.GetRefund(ctx, "alice")
	require.NoError(t, err)
	assertAmount(t, "7", refunded)
	_, err = f.ledger.GetRefund(ctx, "alice")
	assert.ErrorIs(t, err, ledger.ErrNotContributor)

	assert.Len(t, f.vault.Transfers(), 1)
	assertAmount(t, "7", f.vault.PaidTo("alice"))
	assertAmount(t, "3", f.ledger.RaisedAmount())
}

func TestFailedTransferWithUnrecordedReversalIsNotRetried(t *testing.T) {
	f, flaky := newFlakyFixture(t, models.EntryReversal)
	ctx := context.Background()
	f.contribute(t, map[string]string{"alice": "10"})
	_, err := f.ledger.CreateRequest(ctx, admin, "supplies", "bob", amt("6"))
	require.NoError(t, err)
	require.NoError(t, f.ledger.VoteRequest(ctx, "alice", 0))

	rejected := errors.New("wallet offline")
	f.vault.BeforeTransfer = func(context.Context, string, decimal.Decimal) error { return rejected }
	flaky.failures = 1

	err = f.ledger.ExecutePayment(ctx, admin, 0)

	assert.ErrorIs(t, err, rejected)
	assert.ErrorContains(t, err, "reversal not recorded")
	f.vault.BeforeTransfer = nil
	assert.ErrorIs(t, f.ledger.ExecutePayment(ctx, admin, 0), ledger.ErrAlreadyCompleted)
	assert.Empty(t, f.vault.Transfers())

	// The recorded state and the live state agree.
	restored, err := ledger.Restore(ctx, f.store, f.options()...)
	require.NoError(t, err)
	req, _ := restored.Request(ctx, 0)
	assert.True(t, req.Completed)
	assertAmount(t, "4", restored.Balance())
}

func TestRestoreReplaysReversedRefund(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	f.contribute(t, map[string]string{"alice": "7", "bob": "3"})
	f.passDeadline()
	f.vault.BeforeTransfer = func(context.Context, string, decimal.Decimal) error {
		return errors.New("wallet offline")
	}
	_, err := f.ledger.GetRefund(ctx, "alice")
	require.Error(t, err)

	restored, err := ledger.Restore(ctx, f.store, f.options()...)
	require.NoError(t, err)

	balance, _, err := restored.Contribution(ctx, "alice")
	require.NoError(t, err)
	assertAmount(t, "7", balance)
	assertAmount(t, "10", restored.RaisedAmount())
	assertAmount(t, "10", restored.Balance())

	f.vault.BeforeTransfer = nil
	refunded, err := restored.GetRefund(ctx, "alice")
	require.NoError(t, err)
	assertAmount(t, "7", refunded)
	assert.Len(t, f.vault.Transfers(), 1)
}

func TestRestoreRejectsDanglingReversal(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryFundStore()
	_, err := ledger.NewLedger(ctx, store, ledger.Config{Admin: admin, Goal: amt("10"), Duration: week},
		ledger.WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, store.RecordEntry(ctx, models.LedgerEntry{ID: "r1", Kind: models.EntryReversal, Reverses: "missing"}))

	_, err = ledger.Restore(ctx, store, ledger.WithLogger(quietLogger()))
	assert.Error(t, err)
}
