package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stake-ledger/ledger"
	"github.com/warp/stake-ledger/ledger/storetest"
	"github.com/warp/stake-ledger/ledger/store"
)

func TestTxMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.TxStore {
		return store.NewTxMemory()
	})
}

func TestTxMemory_UnitsOfWorkAreSerialised(t *testing.T) {
	// GIVEN: Many goroutines doing read-modify-write inside WithTx
	// WHEN: They run at once
	// THEN: None of them sees a stale version, every increment lands

	ctx := context.Background()
	st := store.NewTxMemory()
	require.NoError(t, st.CreateUser(ctx, &ledger.User{
		ID: "u-1", Email: "a@example.com", Version: 1,
		CreatedAt: storetest.Epoch, UpdatedAt: storetest.Epoch,
	}))

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- st.WithTx(ctx, func(tx ledger.Store) error {
				u, err := tx.GetUser(ctx, "u-1")
				if err != nil {
					return err
				}
				u.Balance = u.Balance.Add(decimal.NewFromInt(1))
				return tx.UpdateUser(ctx, u)
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	u, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(workers)))
	assert.Equal(t, int64(workers+1), u.Version)
}

func TestMemory_DuplicateIDsRejected(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	u := &ledger.User{ID: "u-1", Email: "a@example.com", Version: 1}
	require.NoError(t, st.CreateUser(ctx, u))

	err := st.CreateUser(ctx, &ledger.User{ID: "u-1", Email: "other@example.com", Version: 1})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	tx := &ledger.Transaction{ID: "tx-1", UserID: "u-1", Type: ledger.TxDeposit, Status: ledger.TxApproved}
	require.NoError(t, st.CreateTransaction(ctx, tx))
	assert.ErrorIs(t, st.CreateTransaction(ctx, tx), ledger.ErrValidation)
}
