/*
withdrawal.go - Withdrawal requests and admin settlement

PURPOSE:
  Validates and queues withdrawal requests, then applies the ledger effects
  of an admin's approve/reject decision exactly once.

REQUEST:
  Normal: the amount is reserved (debited from Balance) immediately, so two
  pending requests can never both spend the same money.
  SOS:    drawn against active principal, not Balance. The active total is
          summed from the investment records inside the write unit, never
          taken from TotalInvested. Nothing is debited until approval.

SETTLEMENT:
  ┌──────────┬────────────────────────────────────┬──────────────────────────┐
  │          │ approve                            │ reject                   │
  ├──────────┼────────────────────────────────────┼──────────────────────────┤
  │ normal   │ TotalWithdrawn += amount           │ Balance += amount        │
  │ SOS      │ sweep principal oldest-first,      │ nothing (no reservation) │
  │          │ TotalInvested  -= deducted (>= 0)  │                          │
  │          │ TotalWithdrawn += deducted         │                          │
  └──────────┴────────────────────────────────────┴──────────────────────────┘

  The pending → approved/rejected write is the gate: it is conditioned on the
  stored status still being pending, so of two concurrent settlements only
  one commits; the other gets ErrAlreadyProcessed.

SOS SWEEP:
  Active investments ordered by StartDate ascending. Each one is consumed
  fully (Amount = 0, status terminated) or partially until the request is
  covered. The sum deducted never exceeds the requested amount.

SEE ALSO:
  - account.go: reserve/refund/releaseInvested/recordWithdrawn
*/
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Settlement struct {
	Store TxStore
	Clock Clock
}

// WithdrawalInput is a user's withdrawal request.
type WithdrawalInput struct {
	UserID  UserID
	Amount  decimal.Decimal
	Method  string
	Address string
	IsSOS   bool
}

// Request validates a withdrawal and records it as pending.
// A failed request leaves no transaction behind.
func (w *Settlement) Request(ctx context.Context, in WithdrawalInput) (*Transaction, *User, error) {
	if !in.Amount.IsPositive() {
		return nil, nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}

	var (
		outTx   *Transaction
		outUser *User
	)
	err := w.Store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		if u.Blocked {
			return ErrAccountBlocked
		}

		now := w.Clock.Now()
		if in.IsSOS {
			active, err := s.ListInvestmentsByStatus(ctx, u.ID, InvestmentActive)
			if err != nil {
				return err
			}
			available := sumPrincipal(active)
			if in.Amount.GreaterThan(available) {
				return insufficient(u.ID, available, in.Amount)
			}
		} else {
			if err := u.reserve(in.Amount); err != nil {
				return err
			}
			u.UpdatedAt = now
			if err := s.UpdateUser(ctx, u); err != nil {
				return err
			}
		}

		tx := &Transaction{
			ID:        TransactionID(newID()),
			UserID:    u.ID,
			Type:      TxWithdrawal,
			Amount:    in.Amount,
			Method:    strings.TrimSpace(in.Method),
			Address:   strings.TrimSpace(in.Address),
			Status:    TxPending,
			IsSOS:     in.IsSOS,
			CreatedAt: now,
		}
		if err := s.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		outTx, outUser = tx, u
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return outTx, outUser, nil
}

// =============================================================================
// SETTLEMENT
// =============================================================================

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// SettleInput is an admin decision on a pending withdrawal.
type SettleInput struct {
	TransactionID TransactionID
	Decision      Decision
	AdminID       string
	TxRef         string
	Note          string
}

// Deduction records how much principal one investment gave up to an SOS sweep.
type Deduction struct {
	InvestmentID InvestmentID
	Before       decimal.Decimal
	Deducted     decimal.Decimal
	After        decimal.Decimal
	Terminated   bool
}

// SettlementReceipt is the committed state after a settlement.
type SettlementReceipt struct {
	Transaction    Transaction
	User           User
	Deductions     []Deduction
	ActualDeducted decimal.Decimal
}

// Settle applies an approve/reject decision to a pending withdrawal.
func (w *Settlement) Settle(ctx context.Context, in SettleInput) (*SettlementReceipt, error) {
	if in.Decision != DecisionApprove && in.Decision != DecisionReject {
		return nil, &ValidationError{Field: "decision", Reason: "must be approve or reject"}
	}

	var receipt *SettlementReceipt
	err := w.Store.WithTx(ctx, func(s Store) error {
		tx, err := s.GetTransaction(ctx, in.TransactionID)
		if err != nil {
			return err
		}
		if tx.Type != TxWithdrawal {
			return &ValidationError{Field: "transaction", Reason: "is not a withdrawal"}
		}
		if !tx.IsPending() {
			return &AlreadyProcessedError{TransactionID: tx.ID, Status: tx.Status}
		}

		now := w.Clock.Now()
		tx.Status = TxRejected
		if in.Decision == DecisionApprove {
			tx.Status = TxApproved
		}
		tx.TxRef = strings.TrimSpace(in.TxRef)
		tx.Note = strings.TrimSpace(in.Note)
		tx.SettledBy = in.AdminID
		tx.SettledAt = now
		if err := s.SettleTransaction(ctx, tx); err != nil {
			return err
		}

		u, err := s.GetUser(ctx, tx.UserID)
		if err != nil {
			return err
		}

		r := &SettlementReceipt{ActualDeducted: decimal.Zero}
		dirty := true
		switch {
		case in.Decision == DecisionApprove && tx.IsSOS:
			active, err := s.ListInvestmentsByStatus(ctx, u.ID, InvestmentActive)
			if err != nil {
				return err
			}
			deductions, remaining := sweepPrincipal(active, tx.Amount, now)
			for i := range deductions {
				if err := s.UpdateInvestment(ctx, &active[i]); err != nil {
					return err
				}
			}
			r.Deductions = deductions
			r.ActualDeducted = tx.Amount.Sub(remaining)
			u.releaseInvested(r.ActualDeducted)
			u.recordWithdrawn(r.ActualDeducted)
		case in.Decision == DecisionApprove:
			u.recordWithdrawn(tx.Amount)
		case !tx.IsSOS:
			u.refund(tx.Amount)
		default:
			dirty = false
		}

		if dirty {
			u.UpdatedAt = now
			if err := s.UpdateUser(ctx, u); err != nil {
				return err
			}
		}

		r.Transaction = *tx
		r.User = *u
		receipt = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// sweepPrincipal consumes amount from invs in order, mutating them in place.
// It returns one Deduction per touched investment (a prefix of invs) and the
// part of amount that active principal could not cover.
func sweepPrincipal(invs []Investment, amount decimal.Decimal, now time.Time) ([]Deduction, decimal.Decimal) {
	remaining := amount
	var out []Deduction
	for i := range invs {
		if !remaining.IsPositive() {
			break
		}
		inv := &invs[i]
		before := inv.Amount
		d := Deduction{InvestmentID: inv.ID, Before: before}

		if before.LessThanOrEqual(remaining) {
			remaining = remaining.Sub(before)
			inv.Amount = decimal.Zero
			inv.Status = InvestmentTerminated
			d.Deducted = before
			d.Terminated = true
		} else {
			inv.Amount = before.Sub(remaining)
			d.Deducted = remaining
			remaining = decimal.Zero
		}
		inv.UpdatedAt = now
		d.After = inv.Amount
		out = append(out, d)
	}
	return out, remaining
}
