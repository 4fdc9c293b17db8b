package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/metrics"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

// DefaultMinContribution is used when Config.MinContribution is zero.
var DefaultMinContribution = decimal.RequireFromString("0.1")

var (
	// ErrNoFund is returned by Restore when the store holds no fund.
	ErrNoFund = errors.New("no fund has been created")

	errNoTransferer    = errors.New("no transferer configured")
	errUnknownRecord   = errors.New("unknown ledger entry kind")
	errUnknownReversal = errors.New("reversal of an unknown payment or refund")
)

// Config is the construction-time configuration of a fund.
type Config struct {
	Admin           string
	Goal            decimal.Decimal
	Duration        time.Duration
	MinContribution decimal.Decimal
}

func (c Config) validate() error {
	if c.Admin == "" {
		return errors.New("admin identity is required")
	}
	if !c.Goal.IsPositive() {
		return errors.New("contribution goal must be positive")
	}
	if c.Duration <= 0 {
		return errors.New("duration must be positive")
	}
	if c.MinContribution.IsNegative() {
		return errors.New("minimum contribution must not be negative")
	}
	return nil
}

// Ledger is the fund custody state machine. Every mutating operation runs
// under mu, so operations are applied in a single total order. An operation
// that moves funds is committed to the store before the transfer starts, so
// a failed or retried commit can never send the same funds twice.
type Ledger struct {
	mu sync.Mutex

	fund             models.Fund
	raised           decimal.Decimal
	balance          decimal.Decimal
	contributions    map[string]decimal.Decimal
	contributorCount int
	requests         []*models.SpendingRequest

	// snapshot is replaced after every commit and read without mu.
	snapshot atomic.Pointer[models.Snapshot]

	store      interfaces.FundStore
	transferer interfaces.Transferer
	publisher  interfaces.EventPublisher
	clock      clock.Clock
	log        logrus.FieldLogger
}

// Option configures the collaborators of a Ledger.
type Option func(*Ledger)

// WithClock sets the time source used for deadlines and timestamps.
// The default is the wall clock.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithTransferer sets where payments and refunds are sent. Without one,
// every transfer fails and is reversed.
func WithTransferer(t interfaces.Transferer) Option {
	return func(l *Ledger) { l.transferer = t }
}

// WithPublisher sets the sink for fund events. Without one, no events are
// published.
func WithPublisher(p interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) { l.log = log }
}

func newLedger(store interfaces.FundStore, opts []Option) *Ledger {
	l := &Ledger{
		contributions: make(map[string]decimal.Decimal),
		store:         store,
		clock:         clock.New(),
		log:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewLedger creates a fund whose deadline is cfg.Duration from now and saves
// its configuration to store.
func NewLedger(ctx context.Context, store interfaces.FundStore, cfg Config, opts ...Option) (*Ledger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := newLedger(store, opts)

	minimum := cfg.MinContribution
	if minimum.IsZero() {
		minimum = DefaultMinContribution
	}
	now := l.clock.Now()
	l.fund = models.Fund{
		ID:              uuid.New().String(),
		Admin:           cfg.Admin,
		Goal:            cfg.Goal,
		MinContribution: minimum,
		Deadline:        now.Add(cfg.Duration),
		CreatedAt:       now,
	}
	if err := store.SaveFund(ctx, l.fund); err != nil {
		return nil, fmt.Errorf("save fund: %w", err)
	}
	l.publishSnapshot()

	l.log.WithFields(logrus.Fields{
		"fund_id":  l.fund.ID,
		"admin":    l.fund.Admin,
		"goal":     l.fund.Goal.String(),
		"deadline": l.fund.Deadline,
	}).Info("fund created")
	return l, nil
}

// Restore rebuilds a ledger from the fund and entries held by store.
// Replay moves no funds and publishes no events.
func Restore(ctx context.Context, store interfaces.FundStore, opts ...Option) (*Ledger, error) {
	fund, ok, err := store.LoadFund(ctx)
	if err != nil {
		return nil, fmt.Errorf("load fund: %w", err)
	}
	if !ok {
		return nil, ErrNoFund
	}
	entries, err := store.GetLedgerEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger entries: %w", err)
	}

	l := newLedger(store, opts)
	l.fund = fund
	settled := make(map[string]models.LedgerEntry)
	for _, e := range entries {
		if err := l.replay(e, settled); err != nil {
			return nil, fmt.Errorf("replay entry %s: %w", e.ID, err)
		}
	}
	l.publishSnapshot()

	l.log.WithFields(logrus.Fields{
		"fund_id": fund.ID,
		"entries": len(entries),
	}).Info("fund restored")
	return l, nil
}

// replay applies one stored entry. settled collects payments and refunds by
// ID so that later reversals can find them.
func (l *Ledger) replay(e models.LedgerEntry, settled map[string]models.LedgerEntry) error {
	switch e.Kind {
	case models.EntryContribution:
		l.applyContribution(e.Account, e.Amount)
	case models.EntryRequest:
		l.applyRequest(e.Description, e.Recipient, e.Amount, e.CreatedAt)
	case models.EntryVote:
		if e.RequestIndex < 0 || e.RequestIndex >= len(l.requests) {
			return ErrInvalidRequest
		}
		l.applyVote(e.RequestIndex, e.Account)
	case models.EntryPayment:
		if e.RequestIndex < 0 || e.RequestIndex >= len(l.requests) {
			return ErrInvalidRequest
		}
		l.applyPayment(e.RequestIndex)
		settled[e.ID] = e
	case models.EntryRefund:
		l.applyRefund(e.Account)
		settled[e.ID] = e
	case models.EntryReversal:
		orig, ok := settled[e.Reverses]
		if !ok {
			return fmt.Errorf("%w: %q", errUnknownReversal, e.Reverses)
		}
		l.reverse(orig)
		delete(settled, e.Reverses)
	default:
		return fmt.Errorf("%w: %q", errUnknownRecord, e.Kind)
	}
	return nil
}

// Contribute adds amount to caller's balance and to the raised total.
func (l *Ledger) Contribute(ctx context.Context, caller string, amount decimal.Decimal) (err error) {
	defer l.observe("contribute", caller, &err)
	if err := guard(ctx, caller); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.fund.Deadline) {
		return ErrDeadlineExpired
	}
	if amount.LessThan(l.fund.MinContribution) || !amount.IsPositive() {
		return ErrBelowMinimum
	}

	undo := l.applyContribution(caller, amount)
	entry := l.newEntry(models.EntryContribution, caller, amount, -1, now)
	if err := l.commit(ctx, entry, undo); err != nil {
		return err
	}

	l.publish(ctx, contributedNotice(caller, amount, now))
	return nil
}

// Receive handles funds sent without an explicit operation. It behaves
// exactly like Contribute.
func (l *Ledger) Receive(ctx context.Context, from string, amount decimal.Decimal) error {
	return l.Contribute(ctx, from, amount)
}

// CreateRequest appends a spending request and returns its index.
func (l *Ledger) CreateRequest(ctx context.Context, caller, description, recipient string, amount decimal.Decimal) (index int, err error) {
	defer l.observe("create_request", caller, &err)
	if err := guard(ctx, caller); err != nil {
		return -1, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.fund.Admin {
		return -1, ErrUnauthorized
	}
	if !amount.IsPositive() {
		return -1, ErrInvalidAmount
	}
	if recipient == "" {
		return -1, ErrInvalidRecipient
	}

	now := l.clock.Now()
	index, undo := l.applyRequest(description, recipient, amount, now)
	entry := l.newEntry(models.EntryRequest, caller, amount, index, now)
	entry.Description = description
	entry.Recipient = recipient
	if err := l.commit(ctx, entry, undo); err != nil {
		return -1, err
	}

	l.publish(ctx, requestCreatedNotice(index, description, recipient, amount, now))
	return index, nil
}

// VoteRequest records caller's approval of the request at index.
func (l *Ledger) VoteRequest(ctx context.Context, caller string, index int) (err error) {
	defer l.observe("vote_request", caller, &err)
	if err := guard(ctx, caller); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Membership survives a refund, so a zero balance still votes.
	if _, ok := l.contributions[caller]; !ok {
		return ErrNotContributor
	}
	req, err := l.request(index)
	if err != nil {
		return err
	}
	if req.HasVoted(caller) {
		return ErrAlreadyVoted
	}

	undo := l.applyVote(index, caller)
	entry := l.newEntry(models.EntryVote, caller, decimal.Zero, index, l.clock.Now())
	return l.commit(ctx, entry, undo)
}

// ExecutePayment pays the request at index to its recipient once more than
// half of all contributors have approved it.
func (l *Ledger) ExecutePayment(ctx context.Context, caller string, index int) (err error) {
	defer l.observe("execute_payment", caller, &err)
	if err := guard(ctx, caller); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.fund.Admin {
		return ErrUnauthorized
	}
	req, err := l.request(index)
	if err != nil {
		return err
	}
	if req.Completed {
		return ErrAlreadyCompleted
	}
	if req.VoteCount*2 <= l.contributorCount {
		return ErrInsufficientQuorum
	}
	if l.balance.LessThan(req.Amount) {
		return ErrInsufficientFunds
	}

	// Completed is recorded before the transfer runs.
	undo := l.applyPayment(index)
	now := l.clock.Now()
	entry := l.newEntry(models.EntryPayment, req.Recipient, req.Amount, index, now)
	if err := l.commit(ctx, entry, undo); err != nil {
		return err
	}
	if err := l.settle(ctx, entry); err != nil {
		return err
	}

	l.publish(ctx, paymentExecutedNotice(index, req.Recipient, req.Amount, now))
	return nil
}

// GetRefund returns caller's whole balance when the deadline has passed
// without the goal being reached. It returns the refunded amount.
func (l *Ledger) GetRefund(ctx context.Context, caller string) (amount decimal.Decimal, err error) {
	defer l.observe("get_refund", caller, &err)
	if err := guard(ctx, caller); err != nil {
		return decimal.Zero, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	owed := l.contributions[caller]
	if !owed.IsPositive() {
		return decimal.Zero, ErrNotContributor
	}
	now := l.clock.Now()
	if !now.After(l.fund.Deadline) {
		return decimal.Zero, ErrDeadlineNotPassed
	}
	if !l.raised.LessThan(l.fund.Goal) {
		return decimal.Zero, ErrGoalWasMet
	}
	// Payments may have drawn the balance below what contributors put in.
	if l.balance.LessThan(owed) {
		return decimal.Zero, ErrInsufficientFunds
	}

	// The zeroed balance is recorded before the transfer runs.
	undo := l.applyRefund(caller)
	entry := l.newEntry(models.EntryRefund, caller, owed, -1, now)
	if err := l.commit(ctx, entry, undo); err != nil {
		return decimal.Zero, err
	}
	if err := l.settle(ctx, entry); err != nil {
		return decimal.Zero, err
	}

	l.publish(ctx, refundedNotice(caller, owed, now))
	return owed, nil
}

// commit records entry for a change already applied in memory. If the store
// does not accept the entry the change is undone and nothing has left the
// ledger.
func (l *Ledger) commit(ctx context.Context, entry models.LedgerEntry, undo func()) error {
	if err := l.store.RecordEntry(withinOperation(ctx), entry); err != nil {
		undo()
		return fmt.Errorf("record %s entry: %w", entry.Kind, err)
	}
	l.publishSnapshot()
	return nil
}

// settle sends the funds of a committed payment or refund entry to its
// account. When the transfer fails a reversal entry is recorded and the
// change is reversed. When the reversal cannot be recorded either, the
// committed entry stands: the funds stay unsent and are never sent twice.
func (l *Ledger) settle(ctx context.Context, entry models.LedgerEntry) error {
	err := l.transfer(withinOperation(ctx), entry.Account, entry.Amount)
	if err == nil {
		return nil
	}

	reversal := l.newEntry(models.EntryReversal, entry.Account, entry.Amount, entry.RequestIndex, l.clock.Now())
	reversal.Reverses = entry.ID
	if rerr := l.store.RecordEntry(withinOperation(ctx), reversal); rerr != nil {
		l.log.WithFields(logrus.Fields{
			"entry_id": entry.ID,
			"kind":     entry.Kind,
			"account":  entry.Account,
			"amount":   entry.Amount.String(),
		}).WithError(rerr).Error("transfer failed and reversal was not recorded; entry needs reconciliation")
		return fmt.Errorf("%w; reversal not recorded: %v", err, rerr)
	}
	l.reverse(entry)
	l.publishSnapshot()
	return err
}

func (l *Ledger) transfer(ctx context.Context, to string, amount decimal.Decimal) error {
	if l.transferer == nil {
		return errNoTransferer
	}
	if err := l.transferer.Transfer(ctx, to, amount); err != nil {
		return fmt.Errorf("transfer to %s: %w", to, err)
	}
	return nil
}

func (l *Ledger) newEntry(kind models.EntryKind, account string, amount decimal.Decimal, index int, at time.Time) models.LedgerEntry {
	return models.LedgerEntry{
		ID:           uuid.New().String(),
		Kind:         kind,
		Account:      account,
		Amount:       amount,
		RequestIndex: index,
		CreatedAt:    at,
	}
}

func (l *Ledger) request(index int) (*models.SpendingRequest, error) {
	if index < 0 || index >= len(l.requests) {
		return nil, ErrInvalidRequest
	}
	return l.requests[index], nil
}

func (l *Ledger) observe(operation, caller string, err *error) {
	if *err == nil {
		metrics.RecordOperation(operation, "ok")
		l.log.WithFields(logrus.Fields{"operation": operation, "caller": caller}).Debug("operation committed")
		return
	}
	code := CodeOf(*err)
	metrics.RecordOperation(operation, string(code))
	entry := l.log.WithFields(logrus.Fields{"operation": operation, "caller": caller})
	if code == "" {
		entry.WithError(*err).Error("operation failed")
		return
	}
	entry.WithField("code", code).Info("operation rejected")
}

func (l *Ledger) publishSnapshot() {
	s := &models.Snapshot{
		Admin:            l.fund.Admin,
		Goal:             l.fund.Goal,
		MinContribution:  l.fund.MinContribution,
		Deadline:         l.fund.Deadline,
		RaisedAmount:     l.raised,
		Balance:          l.balance,
		ContributorCount: l.contributorCount,
		RequestCount:     len(l.requests),
	}
	l.snapshot.Store(s)
	metrics.SetFundTotals(l.raised.InexactFloat64(), l.balance.InexactFloat64(), l.contributorCount)
}
