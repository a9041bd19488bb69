// Package store provides in-process ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/stake-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps records by value; callers always get copies, so mutating a
// returned record never changes stored state without an Update call.
type Memory struct {
	mu           sync.RWMutex
	users        map[ledger.UserID]ledger.User
	investments  map[ledger.InvestmentID]ledger.Investment
	transactions map[ledger.TransactionID]ledger.Transaction
}

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[ledger.UserID]ledger.User),
		investments:  make(map[ledger.InvestmentID]ledger.Investment),
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
	}
}

func (m *Memory) CreateUser(_ context.Context, u *ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createUserLocked(u)
}

func (m *Memory) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(id)
}

func (m *Memory) UpdateUser(_ context.Context, u *ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateUserLocked(u)
}

func (m *Memory) CreateInvestment(_ context.Context, inv *ledger.Investment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createInvestmentLocked(inv)
}

func (m *Memory) GetInvestment(_ context.Context, id ledger.InvestmentID) (*ledger.Investment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getInvestmentLocked(id)
}

func (m *Memory) UpdateInvestment(_ context.Context, inv *ledger.Investment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateInvestmentLocked(inv)
}

func (m *Memory) ListInvestments(_ context.Context, userID ledger.UserID) ([]ledger.Investment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listInvestmentsLocked(userID, ""), nil
}

func (m *Memory) ListInvestmentsByStatus(_ context.Context, userID ledger.UserID, status ledger.InvestmentStatus) ([]ledger.Investment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listInvestmentsLocked(userID, status), nil
}

func (m *Memory) CreateTransaction(_ context.Context, tx *ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createTransactionLocked(tx)
}

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id)
}

func (m *Memory) SettleTransaction(_ context.Context, tx *ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settleTransactionLocked(tx)
}

func (m *Memory) ListTransactions(_ context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked(func(t ledger.Transaction) bool { return t.UserID == userID }), nil
}

func (m *Memory) ListTransactionsByStatus(_ context.Context, txType ledger.TransactionType, status ledger.TransactionStatus) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked(func(t ledger.Transaction) bool {
		return t.Type == txType && t.Status == status
	}), nil
}

// =============================================================================
// LOCKED HELPERS - caller holds mu
// =============================================================================

func (m *Memory) createUserLocked(u *ledger.User) error {
	if _, ok := m.users[u.ID]; ok {
		return &ledger.ValidationError{Field: "id", Reason: "user already exists"}
	}
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return &ledger.ValidationError{Field: "email", Reason: "already registered"}
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) getUserLocked(id ledger.UserID) (*ledger.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "user", ID: string(id)}
	}
	return &u, nil
}

func (m *Memory) updateUserLocked(u *ledger.User) error {
	stored, ok := m.users[u.ID]
	if !ok {
		return &ledger.NotFoundError{Kind: "user", ID: string(u.ID)}
	}
	if stored.Version != u.Version {
		return ledger.ErrConcurrencyConflict
	}
	u.Version++
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) createInvestmentLocked(inv *ledger.Investment) error {
	if _, ok := m.investments[inv.ID]; ok {
		return &ledger.ValidationError{Field: "id", Reason: "investment already exists"}
	}
	if _, ok := m.users[inv.UserID]; !ok {
		return &ledger.NotFoundError{Kind: "user", ID: string(inv.UserID)}
	}
	m.investments[inv.ID] = *inv
	return nil
}

func (m *Memory) getInvestmentLocked(id ledger.InvestmentID) (*ledger.Investment, error) {
	inv, ok := m.investments[id]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "investment", ID: string(id)}
	}
	return &inv, nil
}

func (m *Memory) updateInvestmentLocked(inv *ledger.Investment) error {
	stored, ok := m.investments[inv.ID]
	if !ok {
		return &ledger.NotFoundError{Kind: "investment", ID: string(inv.ID)}
	}
	if stored.Version != inv.Version {
		return ledger.ErrConcurrencyConflict
	}
	inv.Version++
	m.investments[inv.ID] = *inv
	return nil
}

// listInvestmentsLocked filters by owner and, when status is set, by status.
// Activated investments sort by StartDate; the rest by CreatedAt.
func (m *Memory) listInvestmentsLocked(userID ledger.UserID, status ledger.InvestmentStatus) []ledger.Investment {
	var out []ledger.Investment
	for _, inv := range m.investments {
		if inv.UserID != userID {
			continue
		}
		if status != "" && inv.Status != status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if status != "" && !a.StartDate.Equal(b.StartDate) {
			return a.StartDate.Before(b.StartDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func (m *Memory) createTransactionLocked(tx *ledger.Transaction) error {
	if _, ok := m.transactions[tx.ID]; ok {
		return &ledger.ValidationError{Field: "id", Reason: "transaction already exists"}
	}
	if _, ok := m.users[tx.UserID]; !ok {
		return &ledger.NotFoundError{Kind: "user", ID: string(tx.UserID)}
	}
	m.transactions[tx.ID] = *tx
	return nil
}

func (m *Memory) getTransactionLocked(id ledger.TransactionID) (*ledger.Transaction, error) {
	tx, ok := m.transactions[id]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	return &tx, nil
}

// settleTransactionLocked is the pending → terminal gate.
func (m *Memory) settleTransactionLocked(tx *ledger.Transaction) error {
	stored, ok := m.transactions[tx.ID]
	if !ok {
		return &ledger.NotFoundError{Kind: "transaction", ID: string(tx.ID)}
	}
	if !stored.IsPending() {
		return &ledger.AlreadyProcessedError{TransactionID: tx.ID, Status: stored.Status}
	}
	stored.Status = tx.Status
	stored.TxRef = tx.TxRef
	stored.Note = tx.Note
	stored.SettledBy = tx.SettledBy
	stored.SettledAt = tx.SettledAt
	m.transactions[tx.ID] = stored
	return nil
}

func (m *Memory) listTransactionsLocked(keep func(ledger.Transaction) bool) []ledger.Transaction {
	var out []ledger.Transaction
	for _, tx := range m.transactions {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so units of work are serialised.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	if err := ctx.Err(); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		users:        make(map[ledger.UserID]ledger.User, len(tm.users)),
		investments:  make(map[ledger.InvestmentID]ledger.Investment, len(tm.investments)),
		transactions: make(map[ledger.TransactionID]ledger.Transaction, len(tm.transactions)),
	}
	for k, v := range tm.users {
		s.users[k] = v
	}
	for k, v := range tm.investments {
		s.investments[k] = v
	}
	for k, v := range tm.transactions {
		s.transactions[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.users = s.users
	tm.investments = s.investments
	tm.transactions = s.transactions
}

type memorySnapshot struct {
	users        map[ledger.UserID]ledger.User
	investments  map[ledger.InvestmentID]ledger.Investment
	transactions map[ledger.TransactionID]ledger.Transaction
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held, so it calls the locked helpers directly.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) CreateUser(_ context.Context, u *ledger.User) error {
	return tv.parent.createUserLocked(u)
}

func (tv *txMemoryView) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	return tv.parent.getUserLocked(id)
}

func (tv *txMemoryView) UpdateUser(_ context.Context, u *ledger.User) error {
	return tv.parent.updateUserLocked(u)
}

func (tv *txMemoryView) CreateInvestment(_ context.Context, inv *ledger.Investment) error {
	return tv.parent.createInvestmentLocked(inv)
}

func (tv *txMemoryView) GetInvestment(_ context.Context, id ledger.InvestmentID) (*ledger.Investment, error) {
	return tv.parent.getInvestmentLocked(id)
}

func (tv *txMemoryView) UpdateInvestment(_ context.Context, inv *ledger.Investment) error {
	return tv.parent.updateInvestmentLocked(inv)
}

func (tv *txMemoryView) ListInvestments(_ context.Context, userID ledger.UserID) ([]ledger.Investment, error) {
	return tv.parent.listInvestmentsLocked(userID, ""), nil
}

func (tv *txMemoryView) ListInvestmentsByStatus(_ context.Context, userID ledger.UserID, status ledger.InvestmentStatus) ([]ledger.Investment, error) {
	return tv.parent.listInvestmentsLocked(userID, status), nil
}

func (tv *txMemoryView) CreateTransaction(_ context.Context, tx *ledger.Transaction) error {
	return tv.parent.createTransactionLocked(tx)
}

func (tv *txMemoryView) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return tv.parent.getTransactionLocked(id)
}

func (tv *txMemoryView) SettleTransaction(_ context.Context, tx *ledger.Transaction) error {
	return tv.parent.settleTransactionLocked(tx)
}

func (tv *txMemoryView) ListTransactions(_ context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	return tv.parent.listTransactionsLocked(func(t ledger.Transaction) bool { return t.UserID == userID }), nil
}

func (tv *txMemoryView) ListTransactionsByStatus(_ context.Context, txType ledger.TransactionType, status ledger.TransactionStatus) ([]ledger.Transaction, error) {
	return tv.parent.listTransactionsLocked(func(t ledger.Transaction) bool {
		return t.Type == txType && t.Status == status
	}), nil
}
