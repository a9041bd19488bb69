package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stake-ledger/ledger"
)

func TestService_EmitsEventsAfterCommit(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice@example.com")
	inv := f.activeInvestment(t, u.ID, "1000", "USDT")

	f.clock.Advance(24 * time.Hour)
	claim, err := f.svc.ClaimROI(f.ctx, inv.ID, u.ID)
	require.NoError(t, err)

	req, err := f.svc.RequestWithdrawal(f.ctx, ledger.WithdrawalInput{UserID: u.ID, Amount: d("35"), Method: "USDT"})
	require.NoError(t, err)
	_, err = f.svc.SettleWithdrawal(f.ctx, ledger.SettleInput{TransactionID: req.Transaction.ID, Decision: ledger.DecisionApprove})
	require.NoError(t, err)

	assert.Equal(t, []ledger.EventKind{
		ledger.EventInvestmentCreated,
		ledger.EventInvestmentActivated,
		ledger.EventROIClaimed,
		ledger.EventWithdrawalRequested,
		ledger.EventWithdrawalApproved,
	}, f.notes.kinds())

	roi := f.notes.events[2]
	assert.Equal(t, u.ID, roi.UserID)
	assert.Equal(t, inv.ID, roi.InvestmentID)
	assert.Equal(t, claim.Transaction.ID, roi.TransactionID)
	assertAmount(t, "35", roi.Amount)

	assertAmount(t, "1000", f.rec.volume["invested"])
	assertAmount(t, "35", f.rec.volume["roi_claimed"])
	assertAmount(t, "35", f.rec.volume["withdrawn"])
}

func TestService_FailedOperationsEmitNothing(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "bob@example.com")
	inv := f.activeInvestment(t, u.ID, "1000", "USDT")
	emitted := len(f.notes.kinds())

	_, err := f.svc.ClaimROI(f.ctx, inv.ID, u.ID)
	require.ErrorIs(t, err, ledger.ErrClaimNotReady)
	_, err = f.svc.RequestWithdrawal(f.ctx, ledger.WithdrawalInput{UserID: u.ID, Amount: d("1"), Method: "USDT"})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	assert.Len(t, f.notes.kinds(), emitted)
	assert.Equal(t, []string{"insufficient_funds"}, f.rec.outcomes("request_withdrawal"))
}

func TestService_NotifierFailureIsAWarning(t *testing.T) {
	// GIVEN: A notifier that always fails
	// WHEN: A claim commits
	// THEN: The claim succeeds, the failure comes back as a warning, state stands

	f := newFixture(t)
	u := f.user(t, "carol@example.com")
	inv := f.activeInvestment(t, u.ID, "1000", "USDT")
	f.notes.err = errors.New("broker down")

	f.clock.Advance(48 * time.Hour)
	res, err := f.svc.ClaimROI(f.ctx, inv.ID, u.ID)
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "roi.claimed")
	assert.Contains(t, res.Warnings[0], "broker down")
	assertAmount(t, "70", f.reloadUser(t, u.ID).Balance)
}

func TestService_SOSVolumeIsActualDeduction(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "dave@example.com")
	f.activeInvestment(t, u.ID, "100", "USDT")

	var ids []ledger.TransactionID
	for i := 0; i < 2; i++ {
		req, err := f.svc.RequestWithdrawal(f.ctx, ledger.WithdrawalInput{UserID: u.ID, Amount: d("80"), Method: "USDT", IsSOS: true})
		require.NoError(t, err)
		ids = append(ids, req.Transaction.ID)
	}
	for _, id := range ids {
		_, err := f.svc.SettleWithdrawal(f.ctx, ledger.SettleInput{TransactionID: id, Decision: ledger.DecisionApprove})
		require.NoError(t, err)
	}

	assertAmount(t, "100", f.rec.volume["withdrawn"])
	assertAmount(t, "100", f.reloadUser(t, u.ID).TotalWithdrawn)

	// Approval events carry what was deducted, not what was asked for.
	var approved []string
	for _, ev := range f.notes.events {
		if ev.Kind == ledger.EventWithdrawalApproved {
			assert.True(t, ev.IsSOS)
			approved = append(approved, ev.Amount.String())
		}
	}
	assert.Equal(t, []string{"80", "20"}, approved)
}

func TestService_NilOptionalDependencies(t *testing.T) {
	// Only Store is required.
	f := newFixture(t)
	svc := ledger.NewService(ledger.Config{Store: f.store})

	u, err := svc.RegisterUser(f.ctx, "erin@example.com", "")
	require.NoError(t, err)
	res, err := svc.CreateInvestment(f.ctx, ledger.CreateInvestmentInput{UserID: u.ID, Amount: d("10"), Method: "anything"})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, ledger.DefaultRate.Period, res.Investment.ROIPeriod)
	assertAmount(t, "3.5", res.Investment.ROIRate)
}
