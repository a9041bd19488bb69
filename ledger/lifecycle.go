/*
lifecycle.go - Investment state machine

PURPOSE:
  Creates investments and moves them through their states:

    pending ──activate──▶ active ──complete──▶ completed
                            │
                            └──SOS full consumption──▶ terminated

  Activation is the only place TotalInvested grows, and it happens in the
  same unit of work as the status change so it can never be applied twice.

RATES:
  The ROI rate and period are copied from the RateProvider when the
  investment is created. Later changes to the rate table do not reprice
  existing investments.

SEE ALSO:
  - claim.go: profit accrual on active investments
  - withdrawal.go: SOS sweep, the other writer of Amount and Status
*/
package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

type Lifecycle struct {
	Store TxStore
	Clock Clock
	Rates RateProvider
}

// CreateInvestmentInput is a user's request to open an investment.
type CreateInvestmentInput struct {
	UserID     UserID
	Amount     decimal.Decimal
	Method     string
	WalletInfo string
}

// Create records a pending investment. No balances move until activation.
func (l *Lifecycle) Create(ctx context.Context, in CreateInvestmentInput) (*Investment, error) {
	if !in.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	method := NormalizeAsset(in.Method)
	if method == "" {
		return nil, &ValidationError{Field: "method", Reason: "is required"}
	}

	rate := l.Rates.RateFor(method)

	var out *Investment
	err := l.Store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		if u.Blocked {
			return ErrAccountBlocked
		}

		now := l.Clock.Now()
		inv := &Investment{
			ID:           InvestmentID(newID()),
			UserID:       u.ID,
			Amount:       in.Amount,
			Method:       method,
			WalletInfo:   strings.TrimSpace(in.WalletInfo),
			Status:       InvestmentPending,
			ROIRate:      rate.Percent,
			ROIPeriod:    rate.Period,
			Returns:      decimal.Zero,
			TotalClaimed: decimal.Zero,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.CreateInvestment(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Activate moves a pending investment to active, stamps StartDate and
// LastClaimedAt, and credits the owner's TotalInvested.
func (l *Lifecycle) Activate(ctx context.Context, id InvestmentID) (*Investment, *User, error) {
	var (
		outInv  *Investment
		outUser *User
	)
	err := l.Store.WithTx(ctx, func(s Store) error {
		inv, err := s.GetInvestment(ctx, id)
		if err != nil {
			return err
		}
		switch inv.Status {
		case InvestmentPending:
		case InvestmentActive:
			return ErrAlreadyActive
		default:
			return &TransitionError{Kind: "investment", ID: string(id), From: string(inv.Status), To: string(InvestmentActive)}
		}

		now := l.Clock.Now()
		inv.Status = InvestmentActive
		inv.StartDate = now
		inv.LastClaimedAt = now
		inv.UpdatedAt = now
		if err := s.UpdateInvestment(ctx, inv); err != nil {
			return err
		}

		u, err := s.GetUser(ctx, inv.UserID)
		if err != nil {
			return err
		}
		u.recordInvested(inv.Amount)
		u.UpdatedAt = now
		if err := s.UpdateUser(ctx, u); err != nil {
			return err
		}

		outInv, outUser = inv, u
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return outInv, outUser, nil
}

// Complete closes an active investment at the end of its term. Unclaimed
// periods are forfeited; claim before completing. Totals are not changed.
func (l *Lifecycle) Complete(ctx context.Context, id InvestmentID) (*Investment, error) {
	var out *Investment
	err := l.Store.WithTx(ctx, func(s Store) error {
		inv, err := s.GetInvestment(ctx, id)
		if err != nil {
			return err
		}
		switch inv.Status {
		case InvestmentActive:
		case InvestmentPending:
			return ErrNotActive
		default:
			return &TransitionError{Kind: "investment", ID: string(id), From: string(inv.Status), To: string(InvestmentCompleted)}
		}

		inv.Status = InvestmentCompleted
		inv.UpdatedAt = l.Clock.Now()
		if err := s.UpdateInvestment(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
