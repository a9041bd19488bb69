// Package storetest is a behavioural suite every ledger.TxStore must pass.
//
// Each implementation's tests call Run with a constructor that returns an
// empty store:
//
//	func TestMemoryStore(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) ledger.TxStore { return store.NewTxMemory() })
//	}
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stake-ledger/ledger"
)

// Epoch is the creation time of the first record each case writes.
var Epoch = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) ledger.TxStore

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("UserRoundTrip", func(t *testing.T) { testUserRoundTrip(t, newStore(t)) })
	t.Run("EmailIsUniqueIgnoringCase", func(t *testing.T) { testEmailUnique(t, newStore(t)) })
	t.Run("UpdateUserChecksVersion", func(t *testing.T) { testUpdateUserVersion(t, newStore(t)) })
	t.Run("InvestmentRoundTrip", func(t *testing.T) { testInvestmentRoundTrip(t, newStore(t)) })
	t.Run("InvestmentNeedsUser", func(t *testing.T) { testInvestmentNeedsUser(t, newStore(t)) })
	t.Run("UpdateInvestmentChecksVersion", func(t *testing.T) { testUpdateInvestmentVersion(t, newStore(t)) })
	t.Run("InvestmentOrdering", func(t *testing.T) { testInvestmentOrdering(t, newStore(t)) })
	t.Run("SettleIsOneShot", func(t *testing.T) { testSettleOneShot(t, newStore(t)) })
	t.Run("TransactionListing", func(t *testing.T) { testTransactionListing(t, newStore(t)) })
	t.Run("WithTxCommits", func(t *testing.T) { testWithTxCommits(t, newStore(t)) })
	t.Run("WithTxRollsBackOnError", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
	t.Run("WithTxRollsBackOnCancel", func(t *testing.T) { testWithTxCancel(t, newStore(t)) })
	t.Run("ReturnedRecordsAreCopies", func(t *testing.T) { testCopies(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, amount(want).Equal(got), "want %s, got %s", want, got)
}

func seedUser(t *testing.T, st ledger.Store, id, email string) *ledger.User {
	t.Helper()
	u := &ledger.User{
		ID:        ledger.UserID(id),
		Email:     email,
		Name:      "User " + id,
		Balance:   amount("100"),
		Version:   1,
		CreatedAt: Epoch,
		UpdatedAt: Epoch,
	}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

func seedInvestment(t *testing.T, st ledger.Store, id string, userID ledger.UserID, status ledger.InvestmentStatus, created, started time.Time) *ledger.Investment {
	t.Helper()
	inv := &ledger.Investment{
		ID:            ledger.InvestmentID(id),
		UserID:        userID,
		Amount:        amount("1000"),
		Method:        "USDT",
		WalletInfo:    "wallet-" + id,
		Status:        status,
		ROIRate:       amount("3.5"),
		ROIPeriod:     ledger.PeriodDaily,
		StartDate:     started,
		LastClaimedAt: started,
		Returns:       decimal.Zero,
		TotalClaimed:  decimal.Zero,
		Version:       1,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
	require.NoError(t, st.CreateInvestment(context.Background(), inv))
	return inv
}

func seedTransaction(t *testing.T, st ledger.Store, id string, userID ledger.UserID, txType ledger.TransactionType, status ledger.TransactionStatus, created time.Time) *ledger.Transaction {
	t.Helper()
	tx := &ledger.Transaction{
		ID:        ledger.TransactionID(id),
		UserID:    userID,
		Type:      txType,
		Amount:    amount("25.5"),
		Method:    "USDT",
		Address:   "addr-" + id,
		Status:    status,
		CreatedAt: created,
	}
	require.NoError(t, st.CreateTransaction(context.Background(), tx))
	return tx
}

func investmentIDs(invs []ledger.Investment) []ledger.InvestmentID {
	out := make([]ledger.InvestmentID, len(invs))
	for i, inv := range invs {
		out[i] = inv.ID
	}
	return out
}

func transactionIDs(txs []ledger.Transaction) []ledger.TransactionID {
	out := make([]ledger.TransactionID, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}

// =============================================================================
// USERS
// =============================================================================

func testUserRoundTrip(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	u := &ledger.User{
		ID:             "u-1",
		Email:          "alice@example.com",
		Name:           "Alice",
		Balance:        amount("12.345678"),
		TotalInvested:  amount("1000"),
		TotalWithdrawn: amount("0.1"),
		TotalROI:       amount("35"),
		Blocked:        true,
		Verified:       true,
		Version:        1,
		CreatedAt:      Epoch,
		UpdatedAt:      Epoch.Add(time.Minute),
	}
	require.NoError(t, st.CreateUser(ctx, u))

	got, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, "Alice", got.Name)
	assertAmount(t, "12.345678", got.Balance)
	assertAmount(t, "1000", got.TotalInvested)
	assertAmount(t, "0.1", got.TotalWithdrawn)
	assertAmount(t, "35", got.TotalROI)
	assert.True(t, got.Blocked)
	assert.True(t, got.Verified)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.CreatedAt.Equal(Epoch))
	assert.True(t, got.UpdatedAt.Equal(Epoch.Add(time.Minute)))

	_, err = st.GetUser(ctx, "nobody")
	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "user", nf.Kind)
}

func testEmailUnique(t *testing.T, st ledger.TxStore) {
	seedUser(t, st, "u-1", "Alice@Example.com")

	err := st.CreateUser(context.Background(), &ledger.User{
		ID: "u-2", Email: "alice@example.COM", Version: 1, CreatedAt: Epoch, UpdatedAt: Epoch,
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = st.GetUser(context.Background(), "u-2")
	assert.True(t, ledger.IsNotFound(err))
}

func testUpdateUserVersion(t *testing.T, st ledger.TxStore) {
	// GIVEN: Two readers holding the same version of a user
	// WHEN: Both write back
	// THEN: The first wins and bumps the version, the second conflicts and writes nothing

	ctx := context.Background()
	seedUser(t, st, "u-1", "a@example.com")

	first, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	second, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)

	first.Balance = amount("150")
	require.NoError(t, st.UpdateUser(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Balance = amount("0")
	err = st.UpdateUser(ctx, second)
	assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
	assert.Equal(t, int64(1), second.Version)

	stored, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assertAmount(t, "150", stored.Balance)
	assert.Equal(t, int64(2), stored.Version)

	// The winner's record is current and may write again.
	first.Balance = amount("175")
	require.NoError(t, st.UpdateUser(ctx, first))
	assert.Equal(t, int64(3), first.Version)

	err = st.UpdateUser(ctx, &ledger.User{ID: "ghost", Version: 1, UpdatedAt: Epoch})
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// INVESTMENTS
// =============================================================================

func testInvestmentRoundTrip(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	u := seedUser(t, st, "u-1", "a@example.com")

	pending := seedInvestment(t, st, "inv-p", u.ID, ledger.InvestmentPending, Epoch, time.Time{})
	got, err := st.GetInvestment(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, ledger.InvestmentPending, got.Status)
	assert.Equal(t, "USDT", got.Method)
	assert.Equal(t, "wallet-inv-p", got.WalletInfo)
	assertAmount(t, "1000", got.Amount)
	assertAmount(t, "3.5", got.ROIRate)
	assert.Equal(t, ledger.PeriodDaily, got.ROIPeriod)
	assert.True(t, got.StartDate.IsZero(), "unset start date stays zero")
	assert.True(t, got.LastClaimedAt.IsZero())

	started := Epoch.Add(90 * time.Minute)
	active := seedInvestment(t, st, "inv-a", u.ID, ledger.InvestmentActive, Epoch, started)
	got, err = st.GetInvestment(ctx, active.ID)
	require.NoError(t, err)
	assert.True(t, got.StartDate.Equal(started))
	assert.True(t, got.LastClaimedAt.Equal(started))

	_, err = st.GetInvestment(ctx, "missing")
	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "investment", nf.Kind)
}

func testInvestmentNeedsUser(t *testing.T, st ledger.TxStore) {
	err := st.CreateInvestment(context.Background(), &ledger.Investment{
		ID:        "inv-1",
		UserID:    "nobody",
		Amount:    amount("10"),
		Method:    "USDT",
		Status:    ledger.InvestmentPending,
		ROIRate:   amount("1"),
		ROIPeriod: ledger.PeriodDaily,
		Version:   1,
		CreatedAt: Epoch,
		UpdatedAt: Epoch,
	})
	assert.True(t, ledger.IsNotFound(err))
}

func testUpdateInvestmentVersion(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	u := seedUser(t, st, "u-1", "a@example.com")
	seedInvestment(t, st, "inv-1", u.ID, ledger.InvestmentActive, Epoch, Epoch)

	winner, err := st.GetInvestment(ctx, "inv-1")
	require.NoError(t, err)
	loser, err := st.GetInvestment(ctx, "inv-1")
	require.NoError(t, err)

	winner.LastClaimedAt = Epoch.Add(24 * time.Hour)
	winner.Returns = amount("35")
	winner.TotalClaimed = amount("35")
	require.NoError(t, st.UpdateInvestment(ctx, winner))
	assert.Equal(t, int64(2), winner.Version)

	loser.LastClaimedAt = Epoch.Add(24 * time.Hour)
	loser.TotalClaimed = amount("35")
	assert.ErrorIs(t, st.UpdateInvestment(ctx, loser), ledger.ErrConcurrencyConflict)

	stored, err := st.GetInvestment(ctx, "inv-1")
	require.NoError(t, err)
	assertAmount(t, "35", stored.TotalClaimed)
	assert.True(t, stored.LastClaimedAt.Equal(Epoch.Add(24*time.Hour)))
	assert.Equal(t, int64(2), stored.Version)

	err = st.UpdateInvestment(ctx, &ledger.Investment{ID: "ghost", Version: 1, UpdatedAt: Epoch})
	assert.True(t, ledger.IsNotFound(err))
}

func testInvestmentOrdering(t *testing.T, st ledger.TxStore) {
	// GIVEN: Active investments created in one order but started in another
	// WHEN: Listing by status
	// THEN: Oldest start comes first; plain listing follows creation order

	ctx := context.Background()
	u := seedUser(t, st, "u-1", "a@example.com")
	other := seedUser(t, st, "u-2", "b@example.com")

	seedInvestment(t, st, "inv-c", u.ID, ledger.InvestmentActive, Epoch, Epoch.Add(3*time.Hour))
	seedInvestment(t, st, "inv-a", u.ID, ledger.InvestmentActive, Epoch.Add(time.Minute), Epoch.Add(time.Hour))
	seedInvestment(t, st, "inv-b", u.ID, ledger.InvestmentActive, Epoch.Add(2*time.Minute), Epoch.Add(2*time.Hour))
	seedInvestment(t, st, "inv-p", u.ID, ledger.InvestmentPending, Epoch.Add(3*time.Minute), time.Time{})
	seedInvestment(t, st, "inv-x", other.ID, ledger.InvestmentActive, Epoch, Epoch)

	active, err := st.ListInvestmentsByStatus(ctx, u.ID, ledger.InvestmentActive)
	require.NoError(t, err)
	assert.Equal(t, []ledger.InvestmentID{"inv-a", "inv-b", "inv-c"}, investmentIDs(active))

	all, err := st.ListInvestments(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []ledger.InvestmentID{"inv-c", "inv-a", "inv-b", "inv-p"}, investmentIDs(all))

	none, err := st.ListInvestmentsByStatus(ctx, u.ID, ledger.InvestmentCompleted)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func testSettleOneShot(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	u := seedUser(t, st, "u-1", "a@example.com")
	tx := seedTransaction(t, st, "tx-1", u.ID, ledger.TxWithdrawal, ledger.TxPending, Epoch)

	settledAt := Epoch.Add(time.Hour)
	approve := *tx
	approve.Status = ledger.TxApproved
	approve.TxRef = "0xabc"
	approve.Note = "paid"
	approve.SettledBy = "admin-1"
	approve.SettledAt = settledAt
	require.NoError(t, st.SettleTransaction(ctx, &approve))

	reject := *tx
	reject.Status = ledger.TxRejected
	reject.SettledBy = "admin-2"
	reject.SettledAt = settledAt.Add(time.Minute)
	err := st.SettleTransaction(ctx, &reject)
	var done *ledger.AlreadyProcessedError
	require.ErrorAs(t, err, &done)
	assert.Equal(t, ledger.TxApproved, done.Status)
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)

	stored, err := st.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.TxApproved, stored.Status)
	assert.Equal(t, "0xabc", stored.TxRef)
	assert.Equal(t, "paid", stored.Note)
	assert.Equal(t, "admin-1", stored.SettledBy)
	assert.True(t, stored.SettledAt.Equal(settledAt))
	assertAmount(t, "25.5", stored.Amount)
	assert.Equal(t, "addr-tx-1", stored.Address)

	missing := ledger.Transaction{ID: "nope", Status: ledger.TxApproved}
	assert.True(t, ledger.IsNotFound(st.SettleTransaction(ctx, &missing)))
}

func testTransactionListing(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	u := seedUser(t, st, "u-1", "a@example.com")
	other := seedUser(t, st, "u-2", "b@example.com")

	seedTransaction(t, st, "tx-3", u.ID, ledger.TxWithdrawal, ledger.TxPending, Epoch.Add(2*time.Minute))
	seedTransaction(t, st, "tx-1", u.ID, ledger.TxDeposit, ledger.TxApproved, Epoch)
	seedTransaction(t, st, "tx-2", other.ID, ledger.TxWithdrawal, ledger.TxPending, Epoch.Add(time.Minute))
	seedTransaction(t, st, "tx-4", u.ID, ledger.TxWithdrawal, ledger.TxRejected, Epoch.Add(3*time.Minute))

	mine, err := st.ListTransactions(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []ledger.TransactionID{"tx-1", "tx-3", "tx-4"}, transactionIDs(mine))

	pending, err := st.ListTransactionsByStatus(ctx, ledger.TxWithdrawal, ledger.TxPending)
	require.NoError(t, err)
	assert.Equal(t, []ledger.TransactionID{"tx-2", "tx-3"}, transactionIDs(pending))

	_, err = st.GetTransaction(ctx, "missing")
	assert.True(t, ledger.IsNotFound(err))

	err = st.CreateTransaction(ctx, &ledger.Transaction{
		ID: "tx-9", UserID: "nobody", Type: ledger.TxDeposit, Amount: amount("1"), Status: ledger.TxApproved, CreatedAt: Epoch,
	})
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// UNITS OF WORK
// =============================================================================

func testWithTxCommits(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	seedUser(t, st, "u-1", "a@example.com")

	err := st.WithTx(ctx, func(tx ledger.Store) error {
		u, err := tx.GetUser(ctx, "u-1")
		if err != nil {
			return err
		}
		u.Balance = u.Balance.Add(amount("35"))
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, &ledger.Transaction{
			ID: "tx-1", UserID: u.ID, Type: ledger.TxDeposit, Amount: amount("35"),
			Method: ledger.MethodROIClaim, Status: ledger.TxApproved, CreatedAt: Epoch, SettledAt: Epoch,
		})
	})
	require.NoError(t, err)

	u, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assertAmount(t, "135", u.Balance)
	assert.Equal(t, int64(2), u.Version)

	tx, err := st.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.MethodROIClaim, tx.Method)
}

func testWithTxRollback(t *testing.T, st ledger.TxStore) {
	// GIVEN: A unit of work that writes a user, an investment and a transaction
	// WHEN: It fails after the writes
	// THEN: None of the writes are visible

	ctx := context.Background()
	seedUser(t, st, "u-1", "a@example.com")
	seedInvestment(t, st, "inv-1", "u-1", ledger.InvestmentActive, Epoch, Epoch)
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx ledger.Store) error {
		u, err := tx.GetUser(ctx, "u-1")
		if err != nil {
			return err
		}
		u.Balance = amount("999")
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		inv, err := tx.GetInvestment(ctx, "inv-1")
		if err != nil {
			return err
		}
		inv.TotalClaimed = amount("35")
		if err := tx.UpdateInvestment(ctx, inv); err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, &ledger.Transaction{
			ID: "tx-1", UserID: "u-1", Type: ledger.TxDeposit, Amount: amount("35"), Status: ledger.TxApproved, CreatedAt: Epoch,
		}); err != nil {
			return err
		}
		return fmt.Errorf("late failure: %w", boom)
	})
	require.ErrorIs(t, err, boom)

	u, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assertAmount(t, "100", u.Balance)
	assert.Equal(t, int64(1), u.Version)

	inv, err := st.GetInvestment(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.TotalClaimed.IsZero())
	assert.Equal(t, int64(1), inv.Version)

	_, err = st.GetTransaction(ctx, "tx-1")
	assert.True(t, ledger.IsNotFound(err))
}

func testWithTxCancel(t *testing.T, st ledger.TxStore) {
	seedUser(t, st, "u-1", "a@example.com")
	ctx, cancel := context.WithCancel(context.Background())

	err := st.WithTx(ctx, func(tx ledger.Store) error {
		u, err := tx.GetUser(ctx, "u-1")
		if err != nil {
			return err
		}
		u.Balance = amount("0")
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.Error(t, err)

	u, err := st.GetUser(context.Background(), "u-1")
	require.NoError(t, err)
	assertAmount(t, "100", u.Balance)
}

func testCopies(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	seedUser(t, st, "u-1", "a@example.com")

	u, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	u.Balance = amount("1000000")
	u.Blocked = true

	again, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assertAmount(t, "100", again.Balance)
	assert.False(t, again.Blocked)
}
