/*
scheduler.go - Periodic rate table refresh

PURPOSE:
  Re-reads the ROI rate table on a cron schedule so operators can change
  rates without a restart. Only newly created investments pick up a new
  rate; existing investments keep the rate they were created with.

DESIGN:
  - robfig/cron drives the schedule ("@every 5m", "0 * * * *", ...)
  - A failed refresh keeps the previous table and is logged
  - Accrual is never scheduled; it is computed lazily at claim time

USAGE:
  refresher := NewRateRefresher(rates, "@every 5m", log)
  if err := refresher.Start(); err != nil { ... }
  // ... later
  refresher.Stop()

SEE ALSO:
  - config/rates.go: RateTable
  - handlers.go: RefreshRates endpoint (manual refresh)
*/
package api

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// RateRefresher reloads a RateSource on a schedule.
type RateRefresher struct {
	Rates    RateSource
	Schedule string
	Enabled  bool

	log  logrus.FieldLogger
	cron *cron.Cron

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
	runs    int
}

// NewRateRefresher creates a refresher. An empty schedule disables it.
func NewRateRefresher(rates RateSource, schedule string, log logrus.FieldLogger) *RateRefresher {
	log = log.WithField("component", "rate_refresher")
	return &RateRefresher{
		Rates:    rates,
		Schedule: schedule,
		Enabled:  schedule != "",
		log:      log,
		cron:     cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log)))),
	}
}

// Start registers the refresh job and starts the scheduler.
func (rr *RateRefresher) Start() error {
	if !rr.Enabled {
		rr.log.Info("disabled, not starting")
		return nil
	}
	if _, err := rr.cron.AddFunc(rr.Schedule, func() { rr.RunNow() }); err != nil {
		return fmt.Errorf("invalid rate refresh schedule %q: %w", rr.Schedule, err)
	}
	rr.cron.Start()
	rr.log.WithField("schedule", rr.Schedule).Info("started")
	return nil
}

// Stop stops the scheduler and waits for a running refresh to finish.
func (rr *RateRefresher) Stop() {
	if !rr.Enabled {
		return
	}
	<-rr.cron.Stop().Done()
	rr.log.Info("stopped")
}

// RunNow refreshes immediately.
func (rr *RateRefresher) RunNow() error {
	err := rr.Rates.Refresh()

	rr.mu.Lock()
	rr.lastRun = time.Now()
	rr.lastErr = err
	rr.runs++
	rr.mu.Unlock()

	if err != nil {
		rr.log.WithError(err).Warn("refresh failed, keeping previous rates")
		return err
	}
	snap := rr.Rates.Snapshot()
	rr.log.WithFields(logrus.Fields{
		"assets":  len(snap.Assets),
		"default": snap.Default.Percent.String(),
	}).Debug("rates refreshed")
	return nil
}

// RefreshStatus describes the most recent refresh.
type RefreshStatus struct {
	LastRun time.Time
	LastErr error
	Runs    int
}

func (rr *RateRefresher) Status() RefreshStatus {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return RefreshStatus{LastRun: rr.lastRun, LastErr: rr.lastErr, Runs: rr.runs}
}
