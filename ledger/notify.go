package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// NOTIFICATIONS - Fire-and-forget events emitted after commit
// =============================================================================

type EventKind string

const (
	EventInvestmentCreated   EventKind = "investment.created"
	EventInvestmentActivated EventKind = "investment.activated"
	EventInvestmentCompleted EventKind = "investment.completed"
	EventROIClaimed          EventKind = "roi.claimed"
	EventWithdrawalRequested EventKind = "withdrawal.requested"
	EventWithdrawalApproved  EventKind = "withdrawal.approved"
	EventWithdrawalRejected  EventKind = "withdrawal.rejected"
	EventBalanceAdjusted     EventKind = "balance.adjusted"
)

// Event describes a committed ledger change. It is only emitted after the
// store commit succeeded.
type Event struct {
	Kind          EventKind       `json:"kind"`
	UserID        UserID          `json:"user_id"`
	InvestmentID  InvestmentID    `json:"investment_id,omitempty"`
	TransactionID TransactionID   `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	IsSOS         bool            `json:"is_sos,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Notifier delivers events to users/admins. Errors never roll anything back;
// Service reports them as warnings.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }
