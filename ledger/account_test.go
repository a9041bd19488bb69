package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stake-ledger/ledger"
)

func TestRegisterUser(t *testing.T) {
	f := newFixture(t)

	u, err := f.svc.RegisterUser(f.ctx, "  alice@example.com ", " Alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, "Alice", u.Name)
	assert.Equal(t, int64(1), u.Version)
	assertAmount(t, "0", u.Balance)

	_, err = f.svc.RegisterUser(f.ctx, "ALICE@example.com", "Other")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.svc.RegisterUser(f.ctx, "   ", "Nobody")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSetUserFlags_LeavesTotalsAlone(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "bob@example.com")
	f.fund(t, u.ID, "25")

	got, err := f.svc.SetUserFlags(f.ctx, u.ID, true, true)
	require.NoError(t, err)
	assert.True(t, got.Blocked)
	assert.True(t, got.Verified)
	assertAmount(t, "25", got.Balance)

	got, err = f.svc.SetUserFlags(f.ctx, u.ID, false, true)
	require.NoError(t, err)
	assert.False(t, got.Blocked)

	_, err = f.svc.SetUserFlags(f.ctx, "ghost", true, false)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestAdjustBalance_IsAuditedCompensation(t *testing.T) {
	// GIVEN: A user with no balance
	// WHEN: An admin credits 50 and then tries to debit 80
	// THEN: The credit leaves an approved adjustment record; the debit is
	//       refused because balance may not go negative

	f := newFixture(t)
	u := f.user(t, "carol@example.com")

	res, err := f.svc.AdjustBalance(f.ctx, ledger.Adjustment{
		UserID: u.ID, Delta: d("50"), Reason: "missed ROI credit, ticket 1432", Actor: "admin-7",
	})
	require.NoError(t, err)
	assertAmount(t, "50", res.User.Balance)
	assert.Equal(t, ledger.TxAdjustment, res.Transaction.Type)
	assert.Equal(t, ledger.TxApproved, res.Transaction.Status)
	assert.Equal(t, "admin-7", res.Transaction.SettledBy)
	assert.Equal(t, "missed ROI credit, ticket 1432", res.Transaction.Note)

	_, err = f.svc.AdjustBalance(f.ctx, ledger.Adjustment{UserID: u.ID, Delta: d("-80"), Reason: "reversal"})
	var funds *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	assertAmount(t, "30", funds.Shortfall)

	res, err = f.svc.AdjustBalance(f.ctx, ledger.Adjustment{UserID: u.ID, Delta: d("-20"), Reason: "reversal"})
	require.NoError(t, err)
	assert.Equal(t, ledger.SystemActor, res.Transaction.SettledBy)
	assertAmount(t, "30", f.reloadUser(t, u.ID).Balance)

	assert.Len(t, f.transactionsOfType(t, u.ID, ledger.TxAdjustment), 2)
}

func TestAdjustBalance_Validation(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "dave@example.com")

	_, err := f.svc.AdjustBalance(f.ctx, ledger.Adjustment{UserID: u.ID, Delta: d("0"), Reason: "noop"})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.svc.AdjustBalance(f.ctx, ledger.Adjustment{UserID: u.ID, Delta: d("5"), Reason: " "})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.svc.AdjustBalance(f.ctx, ledger.Adjustment{UserID: "ghost", Delta: d("5"), Reason: "x"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestGetAccount_SummarisesLiveRecords(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "erin@example.com")
	f.activeInvestment(t, u.ID, "300", "USDT")
	f.activeInvestment(t, u.ID, "200", "BTC")
	_, err := f.svc.CreateInvestment(f.ctx, ledger.CreateInvestmentInput{UserID: u.ID, Amount: d("999"), Method: "USDT"})
	require.NoError(t, err)

	f.fund(t, u.ID, "100")
	_, err = f.svc.RequestWithdrawal(f.ctx, ledger.WithdrawalInput{UserID: u.ID, Amount: d("15"), Method: "USDT"})
	require.NoError(t, err)
	_, err = f.svc.RequestWithdrawal(f.ctx, ledger.WithdrawalInput{UserID: u.ID, Amount: d("100"), Method: "USDT", IsSOS: true})
	require.NoError(t, err)

	sum, err := f.svc.GetAccount(f.ctx, u.ID)
	require.NoError(t, err)
	assertAmount(t, "500", sum.ActivePrincipal)
	assert.Equal(t, 2, sum.ActiveInvestments)
	assertAmount(t, "115", sum.PendingWithdrawals)
	assertAmount(t, "85", sum.User.Balance)
	assertAmount(t, "500", sum.User.TotalInvested)
}

func TestListTransactions_OldestFirst(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "frank@example.com")
	f.fund(t, u.ID, "100")
	f.clock.Advance(time.Second)
	_, err := f.svc.RequestWithdrawal(f.ctx, ledger.WithdrawalInput{UserID: u.ID, Amount: d("10"), Method: "USDT"})
	require.NoError(t, err)

	txs, err := f.svc.ListTransactions(f.ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxAdjustment, txs[0].Type)
	assert.Equal(t, ledger.TxWithdrawal, txs[1].Type)

	pending, err := f.svc.ListPendingWithdrawals(f.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, txs[1].ID, pending[0].ID)
}
