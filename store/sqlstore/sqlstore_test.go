package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stake-ledger/ledger"
	"github.com/warp/stake-ledger/ledger/storetest"
	"github.com/warp/stake-ledger/store/sqlstore"
)

func newSQLite(t *testing.T) *sqlstore.Store {
	t.Helper()
	st, err := sqlstore.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.TxStore {
		return newSQLite(t)
	})
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	// GIVEN: A file-backed database with one user
	// WHEN: The store is closed and opened again
	// THEN: Migrations are a no-op and the user is still there

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	st, err := sqlstore.NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, st.CreateUser(ctx, &ledger.User{
		ID: "u-1", Email: "a@example.com", Balance: decimal.RequireFromString("0.000001"),
		Version: 1, CreatedAt: storetest.Epoch, UpdatedAt: storetest.Epoch,
	}))
	require.NoError(t, st.Close())

	st, err = sqlstore.NewSQLite(path)
	require.NoError(t, err)
	defer st.Close()

	u, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.RequireFromString("0.000001")))
	assert.NoError(t, st.Ping(ctx))
}

func TestSQLiteStore_DSNWithQueryKeepsForeignKeys(t *testing.T) {
	// GIVEN: A file URI that already carries its own query string
	// WHEN: The store opens it
	// THEN: Foreign keys are still enforced
	st, err := sqlstore.NewSQLite("file:" + filepath.Join(t.TempDir(), "ledger.db") + "?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	err = st.CreateInvestment(context.Background(), &ledger.Investment{
		ID: "inv-1", UserID: "nobody", Amount: decimal.NewFromInt(10), Method: "USDT",
		Status: ledger.InvestmentPending, ROIRate: decimal.NewFromInt(1), ROIPeriod: ledger.PeriodDaily,
		Version: 1, CreatedAt: storetest.Epoch, UpdatedAt: storetest.Epoch,
	})
	assert.True(t, ledger.IsNotFound(err), "got %v", err)
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := sqlstore.New("mysql", "whatever")
	assert.Error(t, err)
}

// =============================================================================
// POSTGRES DIALECT (go-sqlmock)
// =============================================================================

func newMock(t *testing.T) (*sqlstore.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlstore.NewWithDB(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgres_StaleInvestmentVersionConflicts(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectExec(`UPDATE investments SET .* WHERE id = \$8 AND version = \$9`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM investments WHERE id = $1`)).
		WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	inv := &ledger.Investment{ID: "inv-1", Amount: decimal.NewFromInt(10), Version: 4, UpdatedAt: storetest.Epoch}
	err := st.UpdateInvestment(context.Background(), inv)

	assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
	assert.Equal(t, int64(4), inv.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateMissingUserIsNotFound(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectExec(`UPDATE users SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users WHERE id = $1`)).
		WithArgs("u-9").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := st.UpdateUser(context.Background(), &ledger.User{ID: "u-9", Version: 1, UpdatedAt: storetest.Epoch})

	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "user", nf.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SuccessfulUpdateBumpsVersion(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectExec(`UPDATE users SET`).WillReturnResult(sqlmock.NewResult(0, 1))

	u := &ledger.User{ID: "u-1", Version: 7, UpdatedAt: storetest.Epoch}
	require.NoError(t, st.UpdateUser(context.Background(), u))
	assert.Equal(t, int64(8), u.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WithTxRollsBackOnError(t *testing.T) {
	st, mock := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO transactions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx ledger.Store) error {
		if err := tx.CreateTransaction(context.Background(), &ledger.Transaction{
			ID: "tx-1", UserID: "u-1", Type: ledger.TxDeposit, Amount: decimal.NewFromInt(1),
			Status: ledger.TxApproved, CreatedAt: storetest.Epoch,
		}); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WithTxCommits(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.WithTx(context.Background(), func(tx ledger.Store) error {
		return tx.UpdateUser(context.Background(), &ledger.User{ID: "u-1", Version: 1, UpdatedAt: storetest.Epoch})
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
