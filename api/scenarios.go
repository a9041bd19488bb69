/*
scenarios.go - Demo scenario loaders for development and demonstrations

PURPOSE:

	Seeds the ledger with a realistic account for a given situation so the
	dashboard and the admin queue have something to show. Every load goes
	through ledger.Service, so seeded data obeys the same rules as real data.

AVAILABLE SCENARIOS:

	pending-investment:  Investment waiting for admin activation
	active-staker:       Daily USDT and monthly BTC investments, both active
	withdrawal-queue:    Funded account with a withdrawal awaiting settlement
	sos-exit:            Two active investments and a pending SOS withdrawal

HOW SCENARIOS WORK:
 1. Register a fresh demo user (unique email per load)
 2. Create and activate investments
 3. Fund the balance with an adjustment when needed
 4. Leave withdrawals pending for the admin queue

	Nothing is reset; records are never deleted. Loading twice creates two
	independent demo users.

USAGE VIA API (admin, only when ENABLE_SCENARIOS is set):

	GET  /api/admin/scenarios
	POST /api/admin/scenarios/load
	{"scenario_id": "sos-exit"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' with ID, name, description and loader
 2. Write the loader against the seeder helpers below

SEE ALSO:
  - handlers.go: shared helpers
  - server.go: route registration
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/stake-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, s *seeder) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "pending-investment",
			Name:        "Pending Investment",
			Description: "1000 USDT investment waiting for admin activation",
		},
		load: func(ctx context.Context, s *seeder) error {
			_, err := s.investment(ctx, "1000", "USDT", false)
			return err
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "active-staker",
			Name:        "Active Staker",
			Description: "Active daily USDT and monthly BTC investments, claimable after their first period",
		},
		load: func(ctx context.Context, s *seeder) error {
			if _, err := s.investment(ctx, "1000", "USDT", true); err != nil {
				return err
			}
			_, err := s.investment(ctx, "0.5", "BTC", true)
			return err
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "withdrawal-queue",
			Name:        "Withdrawal Queue",
			Description: "Balance of 100 with a 60 USDT withdrawal awaiting settlement",
		},
		load: func(ctx context.Context, s *seeder) error {
			if err := s.fund(ctx, "100"); err != nil {
				return err
			}
			return s.withdraw(ctx, "60", false)
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "sos-exit",
			Name:        "SOS Exit",
			Description: "Active 300 and 500 USDT investments with a pending 600 SOS withdrawal",
		},
		load: func(ctx context.Context, s *seeder) error {
			if _, err := s.investment(ctx, "300", "USDT", true); err != nil {
				return err
			}
			if _, err := s.investment(ctx, "500", "USDT", true); err != nil {
				return err
			}
			return s.withdraw(ctx, "600", true)
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, sc := range scenarios {
		if sc.ID == id {
			return sc, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, len(scenarios))
	for i, sc := range scenarios {
		out[i] = sc.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, out)
}

// LoadScenario seeds a predefined scenario for a new demo user.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	sc, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	s := &seeder{svc: h.Ledger, result: ScenarioResultDTO{Scenario: sc.ID}}
	email := fmt.Sprintf("demo+%s-%s@example.com", sc.ID, strings.SplitN(uuid.NewString(), "-", 2)[0])
	if err := s.user(ctx, email, sc.Name); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	if err := sc.load(ctx, s); err != nil {
		h.Log.WithError(err).WithField("scenario", sc.ID).Warn("scenario load failed")
		h.writeLedgerError(w, err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"scenario": sc.ID,
		"user_id":  s.result.UserID,
	}).Info("scenario loaded")
	writeJSON(w, http.StatusCreated, s.result)
}

// =============================================================================
// SEEDER
// =============================================================================

// seeder drives ledger.Service for one demo user and records what it made.
type seeder struct {
	svc    *ledger.Service
	userID ledger.UserID
	result ScenarioResultDTO
}

func (s *seeder) user(ctx context.Context, email, name string) error {
	u, err := s.svc.RegisterUser(ctx, email, name)
	if err != nil {
		return err
	}
	s.userID = u.ID
	s.result.UserID = string(u.ID)
	s.result.Email = u.Email
	return nil
}

func (s *seeder) investment(ctx context.Context, amount, method string, activate bool) (*ledger.Investment, error) {
	res, err := s.svc.CreateInvestment(ctx, ledger.CreateInvestmentInput{
		UserID: s.userID,
		Amount: decimal.RequireFromString(amount),
		Method: method,
	})
	if err != nil {
		return nil, err
	}
	inv := res.Investment
	if activate {
		act, err := s.svc.ActivateInvestment(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		inv = act.Investment
	}
	s.result.Investments = append(s.result.Investments, string(inv.ID))
	return &inv, nil
}

func (s *seeder) fund(ctx context.Context, amount string) error {
	res, err := s.svc.AdjustBalance(ctx, ledger.Adjustment{
		UserID: s.userID,
		Delta:  decimal.RequireFromString(amount),
		Reason: "demo funding",
	})
	if err != nil {
		return err
	}
	s.result.Transactions = append(s.result.Transactions, string(res.Transaction.ID))
	return nil
}

func (s *seeder) withdraw(ctx context.Context, amount string, sos bool) error {
	res, err := s.svc.RequestWithdrawal(ctx, ledger.WithdrawalInput{
		UserID:  s.userID,
		Amount:  decimal.RequireFromString(amount),
		Method:  "USDT",
		Address: "demo-wallet",
		IsSOS:   sos,
	})
	if err != nil {
		return err
	}
	s.result.Transactions = append(s.result.Transactions, string(res.Transaction.ID))
	return nil
}
