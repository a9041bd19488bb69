/*
claim.go - ROI accrual and claiming

PURPOSE:
  Turns elapsed whole periods on an active investment into balance.
  Accrual is lazy: nothing runs in the background, the amount is computed
  when the owner claims.

CLAIM FLOW:
  1. Read the investment (outside the write unit) and check owner/status
  2. Count whole periods since LastClaimedAt (period.go)
  3. Fewer than one: ClaimNotReadyError, nothing written
  4. In one unit of work:
       investment.Returns      += claimable
       investment.TotalClaimed += claimable
       investment.LastClaimedAt = LastClaimedAt + periods * length
       user.Balance            += claimable
       user.TotalROI           += claimable
       append approved deposit transaction "ROI Claim"

DOUBLE-CLAIM RACE:
  The investment update is conditioned on the Version read in step 1.
  Any concurrent claim (or SOS deduction) bumps it, so the slower writer gets
  ErrConcurrencyConflict and commits nothing. Retrying recomputes from the
  advanced LastClaimedAt, so a retry never pays the same period twice.

SEE ALSO:
  - period.go: ComputeAccrual
  - retry.go: the retry policy callers apply
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

type ClaimEngine struct {
	Store TxStore
	Clock Clock
}

// ClaimReceipt is the committed state after a successful claim.
type ClaimReceipt struct {
	Investment  Investment
	User        User
	Transaction Transaction
	Periods     int64
	Claimed     decimal.Decimal
}

func (e *ClaimEngine) load(ctx context.Context, id InvestmentID, requester UserID) (*Investment, error) {
	inv, err := e.Store.GetInvestment(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.UserID != requester {
		return nil, ErrUnauthorized
	}
	if !inv.IsActive() {
		return nil, ErrNotActive
	}
	return inv, nil
}

// Preview reports what a claim right now would yield without writing.
func (e *ClaimEngine) Preview(ctx context.Context, id InvestmentID, requester UserID) (*Investment, Accrual, error) {
	inv, err := e.load(ctx, id, requester)
	if err != nil {
		return nil, Accrual{}, err
	}
	return inv, ComputeAccrual(*inv, e.Clock.Now()), nil
}

// Claim credits all whole periods elapsed since the last claim boundary.
func (e *ClaimEngine) Claim(ctx context.Context, id InvestmentID, requester UserID) (*ClaimReceipt, error) {
	inv, err := e.load(ctx, id, requester)
	if err != nil {
		return nil, err
	}

	now := e.Clock.Now()
	acc := ComputeAccrual(*inv, now)
	if !acc.Ready() {
		return nil, &ClaimNotReadyError{
			InvestmentID: inv.ID,
			NextClaimAt:  acc.NextClaimAt,
			RetryAfter:   acc.RetryAfter,
		}
	}

	var receipt *ClaimReceipt
	err = e.Store.WithTx(ctx, func(s Store) error {
		updated := *inv
		updated.Returns = updated.Returns.Add(acc.Claimable)
		updated.TotalClaimed = updated.TotalClaimed.Add(acc.Claimable)
		updated.LastClaimedAt = acc.ClaimThrough
		updated.UpdatedAt = now
		if err := s.UpdateInvestment(ctx, &updated); err != nil {
			return err
		}

		u, err := s.GetUser(ctx, updated.UserID)
		if err != nil {
			return err
		}
		u.creditROI(acc.Claimable)
		u.UpdatedAt = now
		if err := s.UpdateUser(ctx, u); err != nil {
			return err
		}

		tx := &Transaction{
			ID:           TransactionID(newID()),
			UserID:       u.ID,
			InvestmentID: updated.ID,
			Type:         TxDeposit,
			Amount:       acc.Claimable,
			Method:       MethodROIClaim,
			Status:       TxApproved,
			SettledBy:    SystemActor,
			CreatedAt:    now,
			SettledAt:    now,
		}
		if err := s.CreateTransaction(ctx, tx); err != nil {
			return err
		}

		receipt = &ClaimReceipt{
			Investment:  updated,
			User:        *u,
			Transaction: *tx,
			Periods:     acc.Periods,
			Claimed:     acc.Claimable,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
