/*
store.go - Persistence interface for users, investments and transactions

PURPOSE:
  Defines the contract between the engines and the database. Implementations
  must provide conditional (optimistic) updates and atomic multi-record
  commits; the engines rely on both for every money movement.

KEY INTERFACES:
  Store:   record-level reads and conditional writes
  TxStore: Store plus WithTx for all-or-nothing units of work

OPTIMISTIC CONCURRENCY:
  UpdateUser and UpdateInvestment write only if the stored Version still
  equals the Version on the passed record, then bump it (the passed record's
  Version is incremented on success). A mismatch returns
  ErrConcurrencyConflict and writes nothing.

  SettleTransaction writes only if the stored status is still pending;
  otherwise it returns ErrAlreadyProcessed. This is the one-shot gate for
  withdrawal settlement.

ATOMIC UNITS:
  WithTx runs fn against a transactional view. If fn returns an error every
  write made through the view is discarded.

ORDERING:
  ListInvestmentsByStatus returns oldest StartDate first (then CreatedAt,
  then ID). The SOS sweep depends on this order.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and dev
  - store/sqlstore: sqlite3 and postgres

SEE ALSO:
  - errors.go: ErrConcurrencyConflict, ErrAlreadyProcessed, NotFoundError
*/
package ledger

import "context"

// =============================================================================
// STORE - Record persistence with conditional updates
// =============================================================================

type Store interface {
	CreateUser(ctx context.Context, u *User) error
	// GetUser returns a *NotFoundError when the user does not exist.
	GetUser(ctx context.Context, id UserID) (*User, error)
	UpdateUser(ctx context.Context, u *User) error

	CreateInvestment(ctx context.Context, inv *Investment) error
	GetInvestment(ctx context.Context, id InvestmentID) (*Investment, error)
	UpdateInvestment(ctx context.Context, inv *Investment) error
	// ListInvestments returns all of a user's investments, oldest first.
	ListInvestments(ctx context.Context, userID UserID) ([]Investment, error)
	ListInvestmentsByStatus(ctx context.Context, userID UserID, status InvestmentStatus) ([]Investment, error)

	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	// SettleTransaction persists the settlement fields of a pending transaction.
	SettleTransaction(ctx context.Context, tx *Transaction) error
	ListTransactions(ctx context.Context, userID UserID) ([]Transaction, error)
	ListTransactionsByStatus(ctx context.Context, txType TransactionType, status TransactionStatus) ([]Transaction, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
