/*
Package ledger provides the money-ledger engine for the staking platform.

PURPOSE:
  This package owns every rule that moves money: how ROI periods are counted
  and claimed, how withdrawal requests reserve and settle balances, and how an
  SOS withdrawal consumes principal across a user's active investments. HTTP,
  authentication and delivery of notifications live elsewhere and talk to the
  engine through Service.

KEY CONCEPTS IN THIS FILE (types.go):
  - User: the account aggregate with its four running totals
  - Investment: principal that accrues ROI per period once active
  - Transaction: audit record for deposits, withdrawals and adjustments
  - Typed identifiers and status enums

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never float64
  2. Versioning: every User and Investment write is checked against Version
  3. Atomicity: one operation commits through one TxStore.WithTx call
  4. Auditability: every balance change leaves a Transaction behind

SEE ALSO:
  - errors.go: error taxonomy
  - store.go: persistence contract
  - claim.go, withdrawal.go, lifecycle.go: the engines
  - service.go: the exposed operations
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type InvestmentID string
type TransactionID string

func newID() string {
	return uuid.NewString()
}

// =============================================================================
// INVESTMENT
// =============================================================================

type InvestmentStatus string

const (
	InvestmentPending    InvestmentStatus = "pending"
	InvestmentActive     InvestmentStatus = "active"
	InvestmentTerminated InvestmentStatus = "terminated"
	InvestmentCompleted  InvestmentStatus = "completed"
)

// IsTerminal reports whether no further transition is possible.
func (s InvestmentStatus) IsTerminal() bool {
	return s == InvestmentTerminated || s == InvestmentCompleted
}

// Investment is a principal deposit that earns ROIRate percent per ROIPeriod
// while Active.
//
// INVARIANTS:
//   - LastClaimedAt only moves forward by whole periods (never to "now").
//   - Amount never increases; SOS settlement may lower it to zero.
type Investment struct {
	ID         InvestmentID
	UserID     UserID
	Amount     decimal.Decimal
	Method     string // asset, e.g. "USDT"
	WalletInfo string
	Status     InvestmentStatus

	ROIRate   decimal.Decimal // percent per period
	ROIPeriod ROIPeriod

	// Zero until activation.
	StartDate     time.Time
	LastClaimedAt time.Time

	Returns      decimal.Decimal
	TotalClaimed decimal.Decimal

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (i Investment) IsActive() bool { return i.Status == InvestmentActive }

// ProfitPerPeriod is Amount * ROIRate / 100.
func (i Investment) ProfitPerPeriod() decimal.Decimal {
	return i.Amount.Mul(i.ROIRate).Shift(-2)
}

// =============================================================================
// USER
// =============================================================================

// User is the account aggregate. Its four totals are written only through the
// methods in account.go.
type User struct {
	ID    UserID
	Email string
	Name  string

	Balance        decimal.Decimal
	TotalInvested  decimal.Decimal
	TotalWithdrawn decimal.Decimal
	TotalROI       decimal.Decimal

	Blocked  bool
	Verified bool

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxAdjustment TransactionType = "adjustment" // compensating correction, Amount is signed
)

type TransactionStatus string

const (
	TxPending  TransactionStatus = "pending"
	TxApproved TransactionStatus = "approved"
	TxRejected TransactionStatus = "rejected"
)

const (
	MethodROIClaim   = "ROI Claim"
	MethodAdjustment = "Adjustment"

	// SystemActor is recorded as SettledBy for records the engine settles itself.
	SystemActor = "system"
)

// Transaction is an audit record. Once settled nothing changes; while
// pending only the settlement fields (Status, TxRef, Note, SettledBy,
// SettledAt) may be written, and only once.
type Transaction struct {
	ID           TransactionID
	UserID       UserID
	InvestmentID InvestmentID // set for ROI claims
	Type         TransactionType
	Amount       decimal.Decimal
	Method       string
	Address      string
	Status       TransactionStatus
	IsSOS        bool
	TxRef        string // external transfer id, filled at settlement
	Note         string
	SettledBy    string

	CreatedAt time.Time
	SettledAt time.Time
}

func (t Transaction) IsPending() bool { return t.Status == TxPending }
