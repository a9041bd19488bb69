package api

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stake-ledger/config"
	"github.com/warp/stake-ledger/ledger"
)

type countingRates struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingRates) Snapshot() config.RateSnapshot {
	return config.RateSnapshot{Default: ledger.DefaultRate}
}

func (c *countingRates) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingRates) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRateRefresher_RunNow(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rates := &countingRates{}
	rr := NewRateRefresher(rates, "", logger)
	assert.False(t, rr.Enabled)

	require.NoError(t, rr.RunNow())
	status := rr.Status()
	assert.Equal(t, 1, status.Runs)
	assert.NoError(t, status.LastErr)
	assert.False(t, status.LastRun.IsZero())

	rates.err = errors.New("file vanished")
	assert.Error(t, rr.RunNow())
	status = rr.Status()
	assert.Equal(t, 2, status.Runs)
	assert.EqualError(t, status.LastErr, "file vanished")

	// Disabled refreshers start and stop without scheduling anything.
	require.NoError(t, rr.Start())
	rr.Stop()
	assert.Equal(t, 2, rates.count())
}

func TestRateRefresher_Schedule(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rates := &countingRates{}

	rr := NewRateRefresher(rates, "not a schedule", logger)
	assert.Error(t, rr.Start())

	rr = NewRateRefresher(rates, "@every 1s", logger)
	require.NoError(t, rr.Start())
	require.Eventually(t, func() bool { return rates.count() >= 1 }, 3*time.Second, 50*time.Millisecond)
	rr.Stop()
	assert.GreaterOrEqual(t, rr.Status().Runs, 1)
}
