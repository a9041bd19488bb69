package ledger_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stake-ledger/ledger"
	"github.com/warp/stake-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

var testRates = ledger.StaticRates{
	Default: ledger.DefaultRate,
	Assets: map[string]ledger.Rate{
		"BTC": {Percent: decimal.NewFromInt(12), Period: ledger.PeriodMonthly},
	},
}

type fixture struct {
	ctx   context.Context
	store *store.TxMemory
	clock *ledger.ManualClock
	notes *recordingNotifier
	rec   *recordingRecorder
	svc   *ledger.Service
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, store.NewTxMemory())
}

func newFixtureWithStore(t *testing.T, st *store.TxMemory) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: st,
		clock: ledger.NewManualClock(t0),
		notes: &recordingNotifier{},
		rec:   &recordingRecorder{},
	}
	f.svc = f.service(st)
	return f
}

// service builds a Service over any TxStore sharing the fixture's clock.
func (f *fixture) service(st ledger.TxStore) *ledger.Service {
	return ledger.NewService(ledger.Config{
		Store:    st,
		Clock:    f.clock,
		Rates:    testRates,
		Notifier: f.notes,
		Logger:   quietLogger(),
		Recorder: f.rec,
		Retry:    ledger.RetryPolicy{Attempts: 3, Backoff: time.Millisecond},
	})
}

func (f *fixture) user(t *testing.T, email string) *ledger.User {
	t.Helper()
	u, err := f.svc.RegisterUser(f.ctx, email, "Test User")
	require.NoError(t, err)
	return u
}

// activeInvestment creates and activates an investment at the current clock time.
func (f *fixture) activeInvestment(t *testing.T, userID ledger.UserID, amount, method string) ledger.Investment {
	t.Helper()
	created, err := f.svc.CreateInvestment(f.ctx, ledger.CreateInvestmentInput{
		UserID: userID,
		Amount: d(amount),
		Method: method,
	})
	require.NoError(t, err)
	activated, err := f.svc.ActivateInvestment(f.ctx, created.Investment.ID)
	require.NoError(t, err)
	return activated.Investment
}

// fund credits balance through an audited adjustment.
func (f *fixture) fund(t *testing.T, userID ledger.UserID, amount string) {
	t.Helper()
	_, err := f.svc.AdjustBalance(f.ctx, ledger.Adjustment{
		UserID: userID,
		Delta:  d(amount),
		Reason: "test funding",
		Actor:  "admin-1",
	})
	require.NoError(t, err)
}

func (f *fixture) reloadUser(t *testing.T, id ledger.UserID) *ledger.User {
	t.Helper()
	u, err := f.store.GetUser(f.ctx, id)
	require.NoError(t, err)
	return u
}

func (f *fixture) reloadInvestment(t *testing.T, id ledger.InvestmentID) *ledger.Investment {
	t.Helper()
	inv, err := f.store.GetInvestment(f.ctx, id)
	require.NoError(t, err)
	return inv
}

func (f *fixture) transactionsOfType(t *testing.T, userID ledger.UserID, typ ledger.TransactionType) []ledger.Transaction {
	t.Helper()
	txs, err := f.store.ListTransactions(f.ctx, userID)
	require.NoError(t, err)
	var out []ledger.Transaction
	for _, tx := range txs {
		if tx.Type == typ {
			out = append(out, tx)
		}
	}
	return out
}

// =============================================================================
// FAKES
// =============================================================================

type recordingNotifier struct {
	mu     sync.Mutex
	events []ledger.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev ledger.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) kinds() []ledger.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ledger.EventKind, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Kind
	}
	return out
}

type observation struct {
	op      string
	outcome string
}

type recordingRecorder struct {
	mu     sync.Mutex
	ops    []observation
	volume map[string]decimal.Decimal
}

func (r *recordingRecorder) ObserveOperation(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, observation{op, outcome})
}

func (r *recordingRecorder) AddVolume(kind string, amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.volume == nil {
		r.volume = make(map[string]decimal.Decimal)
	}
	r.volume[kind] = r.volume[kind].Add(amount)
}

func (r *recordingRecorder) outcomes(op string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, o := range r.ops {
		if o.op == op {
			out = append(out, o.outcome)
		}
	}
	return out
}

// racingStore runs race once, right before the first unit of work begins.
// It lets a test commit a competing write between an engine's read and its
// conditional write.
type racingStore struct {
	ledger.TxStore
	once sync.Once
	race func()
}

func (r *racingStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	r.once.Do(r.race)
	return r.TxStore.WithTx(ctx, fn)
}

// failingStore fails the nth call to UpdateUser inside a unit of work.
type failingStore struct {
	*store.TxMemory
	failOn int
}

var errInjected = errors.New("injected store failure")

func (s *failingStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.TxMemory.WithTx(ctx, func(inner ledger.Store) error {
		return fn(&failingView{Store: inner, failOn: s.failOn})
	})
}

type failingView struct {
	ledger.Store
	failOn int
	calls  int
}

func (v *failingView) UpdateUser(ctx context.Context, u *ledger.User) error {
	v.calls++
	if v.calls == v.failOn {
		return errInjected
	}
	return v.Store.UpdateUser(ctx, u)
}
