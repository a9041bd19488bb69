package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// USER ACCOUNT AGGREGATE - the only writers of the four running totals
// =============================================================================
//
// Claims credit Balance and TotalROI. Activation credits TotalInvested.
// Withdrawals reserve and refund Balance, settle TotalWithdrawn and release
// TotalInvested. Adjustments correct Balance with an audit record.
// Balance and TotalInvested never go below zero.

func (u *User) creditROI(amount decimal.Decimal) {
	u.Balance = u.Balance.Add(amount)
	u.TotalROI = u.TotalROI.Add(amount)
}

func (u *User) reserve(amount decimal.Decimal) error {
	if amount.GreaterThan(u.Balance) {
		return insufficient(u.ID, u.Balance, amount)
	}
	u.Balance = u.Balance.Sub(amount)
	return nil
}

func (u *User) refund(amount decimal.Decimal) {
	u.Balance = u.Balance.Add(amount)
}

func (u *User) recordInvested(amount decimal.Decimal) {
	u.TotalInvested = u.TotalInvested.Add(amount)
}

// releaseInvested lowers TotalInvested, flooring at zero.
func (u *User) releaseInvested(amount decimal.Decimal) {
	u.TotalInvested = decimal.Max(decimal.Zero, u.TotalInvested.Sub(amount))
}

func (u *User) recordWithdrawn(amount decimal.Decimal) {
	u.TotalWithdrawn = u.TotalWithdrawn.Add(amount)
}

func (u *User) adjust(delta decimal.Decimal) error {
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return insufficient(u.ID, u.Balance, delta.Neg())
	}
	u.Balance = next
	return nil
}

// =============================================================================
// ACCOUNTS - account-level operations
// =============================================================================

type Accounts struct {
	Store TxStore
	Clock Clock
}

// AccountSummary is the user with totals recomputed from live records.
type AccountSummary struct {
	User               User
	ActivePrincipal    decimal.Decimal
	ActiveInvestments  int
	PendingWithdrawals decimal.Decimal
}

func (a *Accounts) Register(ctx context.Context, email, name string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, &ValidationError{Field: "email", Reason: "is required"}
	}
	now := a.Clock.Now()
	u := &User{
		ID:             UserID(newID()),
		Email:          email,
		Name:           strings.TrimSpace(name),
		Balance:        decimal.Zero,
		TotalInvested:  decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		TotalROI:       decimal.Zero,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.Store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetFlags updates the blocked/verified flags. Totals are untouched.
func (a *Accounts) SetFlags(ctx context.Context, id UserID, blocked, verified bool) (*User, error) {
	var out *User
	err := a.Store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUser(ctx, id)
		if err != nil {
			return err
		}
		u.Blocked = blocked
		u.Verified = verified
		u.UpdatedAt = a.Clock.Now()
		if err := s.UpdateUser(ctx, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	return out, err
}

func (a *Accounts) Summary(ctx context.Context, id UserID) (*AccountSummary, error) {
	u, err := a.Store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	active, err := a.Store.ListInvestmentsByStatus(ctx, id, InvestmentActive)
	if err != nil {
		return nil, err
	}
	txs, err := a.Store.ListTransactions(ctx, id)
	if err != nil {
		return nil, err
	}

	pending := decimal.Zero
	for _, t := range txs {
		if t.Type == TxWithdrawal && t.IsPending() {
			pending = pending.Add(t.Amount)
		}
	}
	return &AccountSummary{
		User:               *u,
		ActivePrincipal:    sumPrincipal(active),
		ActiveInvestments:  len(active),
		PendingWithdrawals: pending,
	}, nil
}

// Adjustment is a compensating correction. Balances are never edited in place;
// every correction is a signed, approved adjustment transaction.
type Adjustment struct {
	UserID UserID
	Delta  decimal.Decimal
	Reason string
	Actor  string
}

func (a *Accounts) Adjust(ctx context.Context, in Adjustment) (*Transaction, *User, error) {
	if in.Delta.IsZero() {
		return nil, nil, &ValidationError{Field: "delta", Reason: "must not be zero"}
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, nil, &ValidationError{Field: "reason", Reason: "is required"}
	}
	actor := in.Actor
	if actor == "" {
		actor = SystemActor
	}

	var (
		outTx   *Transaction
		outUser *User
	)
	err := a.Store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		if err := u.adjust(in.Delta); err != nil {
			return err
		}
		now := a.Clock.Now()
		u.UpdatedAt = now
		if err := s.UpdateUser(ctx, u); err != nil {
			return err
		}
		tx := &Transaction{
			ID:        TransactionID(newID()),
			UserID:    u.ID,
			Type:      TxAdjustment,
			Amount:    in.Delta,
			Method:    MethodAdjustment,
			Status:    TxApproved,
			Note:      in.Reason,
			SettledBy: actor,
			CreatedAt: now,
			SettledAt: now,
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

func sumPrincipal(invs []Investment) decimal.Decimal {
	total := decimal.Zero
	for _, inv := range invs {
		total = total.Add(inv.Amount)
	}
	return total
}
