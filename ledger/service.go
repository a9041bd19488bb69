/*
service.go - The exposed ledger operations

PURPOSE:
  Service is the single entry point outer layers (HTTP, CLI, jobs) bind to.
  It composes the engines, reruns operations that lose an optimistic race,
  and performs the post-commit side effects: logging, metrics and
  notifications.

OPERATIONS:
  CreateInvestment, ActivateInvestment, ClaimROI, RequestWithdrawal,
  SettleWithdrawal, plus RegisterUser, SetUserFlags, CompleteInvestment,
  PreviewClaim, AdjustBalance and the read-only queries.

SIDE EFFECTS:
  Notifications run after the store commit. A notifier error is logged and
  returned in the result's Warnings; the committed ledger state stands.

SEE ALSO:
  - retry.go: the conflict retry policy
  - notify.go: event kinds
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Recorder receives operation metrics. metrics.Registry implements it.
type Recorder interface {
	ObserveOperation(op, outcome string, d time.Duration)
	AddVolume(kind string, amount decimal.Decimal)
}

type NopRecorder struct{}

func (NopRecorder) ObserveOperation(string, string, time.Duration) {}
func (NopRecorder) AddVolume(string, decimal.Decimal)              {}

// Config wires a Service. Only Store is required.
type Config struct {
	Store    TxStore
	Clock    Clock
	Rates    RateProvider
	Notifier Notifier
	Logger   logrus.FieldLogger
	Recorder Recorder
	Retry    RetryPolicy
}

type Service struct {
	store    TxStore
	clock    Clock
	notifier Notifier
	log      logrus.FieldLogger
	rec      Recorder
	retry    RetryPolicy

	lifecycle  *Lifecycle
	claims     *ClaimEngine
	settlement *Settlement
	accounts   *Accounts
}

func NewService(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Rates == nil {
		cfg.Rates = StaticRates{Default: DefaultRate}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryPolicy
	}

	return &Service{
		store:      cfg.Store,
		clock:      cfg.Clock,
		notifier:   cfg.Notifier,
		log:        cfg.Logger.WithField("component", "ledger"),
		rec:        cfg.Recorder,
		retry:      cfg.Retry,
		lifecycle:  &Lifecycle{Store: cfg.Store, Clock: cfg.Clock, Rates: cfg.Rates},
		claims:     &ClaimEngine{Store: cfg.Store, Clock: cfg.Clock},
		settlement: &Settlement{Store: cfg.Store, Clock: cfg.Clock},
		accounts:   &Accounts{Store: cfg.Store, Clock: cfg.Clock},
	}
}

// =============================================================================
// RESULTS
// =============================================================================

type InvestmentResult struct {
	Investment Investment
	User       *User // set when account totals changed
	Warnings   []string
}

type ClaimResult struct {
	ClaimReceipt
	Warnings []string
}

type WithdrawalResult struct {
	Transaction Transaction
	User        User
	Warnings    []string
}

type SettlementResult struct {
	SettlementReceipt
	Warnings []string
}

type AdjustmentResult struct {
	Transaction Transaction
	User        User
	Warnings    []string
}

// =============================================================================
// CORE OPERATIONS
// =============================================================================

func (s *Service) CreateInvestment(ctx context.Context, in CreateInvestmentInput) (res *InvestmentResult, err error) {
	defer s.observe("create_investment", time.Now(), &err)

	inv, err := s.lifecycle.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"investment_id": inv.ID,
		"user_id":       inv.UserID,
		"amount":        inv.Amount.String(),
		"method":        inv.Method,
	}).Info("investment created")

	res = &InvestmentResult{Investment: *inv}
	res.Warnings = s.notify(ctx, Event{
		Kind:         EventInvestmentCreated,
		UserID:       inv.UserID,
		InvestmentID: inv.ID,
		Amount:       inv.Amount,
		OccurredAt:   inv.CreatedAt,
	})
	return res, nil
}

func (s *Service) ActivateInvestment(ctx context.Context, id InvestmentID) (res *InvestmentResult, err error) {
	defer s.observe("activate_investment", time.Now(), &err)

	type activated struct {
		inv  *Investment
		user *User
	}
	out, err := Retry(ctx, s.retry, func(ctx context.Context) (activated, error) {
		inv, u, err := s.lifecycle.Activate(ctx, id)
		return activated{inv, u}, err
	})
	if err != nil {
		return nil, err
	}
	s.rec.AddVolume("invested", out.inv.Amount)
	s.log.WithFields(logrus.Fields{
		"investment_id": out.inv.ID,
		"user_id":       out.inv.UserID,
		"amount":        out.inv.Amount.String(),
	}).Info("investment activated")

	res = &InvestmentResult{Investment: *out.inv, User: out.user}
	res.Warnings = s.notify(ctx, Event{
		Kind:         EventInvestmentActivated,
		UserID:       out.inv.UserID,
		InvestmentID: out.inv.ID,
		Amount:       out.inv.Amount,
		OccurredAt:   out.inv.StartDate,
	})
	return res, nil
}

func (s *Service) ClaimROI(ctx context.Context, id InvestmentID, requester UserID) (res *ClaimResult, err error) {
	defer s.observe("claim_roi", time.Now(), &err)

	receipt, err := Retry(ctx, s.retry, func(ctx context.Context) (*ClaimReceipt, error) {
		return s.claims.Claim(ctx, id, requester)
	})
	if err != nil {
		return nil, err
	}
	s.rec.AddVolume("roi_claimed", receipt.Claimed)
	s.log.WithFields(logrus.Fields{
		"investment_id":   receipt.Investment.ID,
		"user_id":         receipt.User.ID,
		"periods":         receipt.Periods,
		"claimed":         receipt.Claimed.String(),
		"last_claimed_at": receipt.Investment.LastClaimedAt,
	}).Info("roi claimed")

	res = &ClaimResult{ClaimReceipt: *receipt}
	res.Warnings = s.notify(ctx, Event{
		Kind:          EventROIClaimed,
		UserID:        receipt.User.ID,
		InvestmentID:  receipt.Investment.ID,
		TransactionID: receipt.Transaction.ID,
		Amount:        receipt.Claimed,
		OccurredAt:    receipt.Transaction.CreatedAt,
	})
	return res, nil
}

func (s *Service) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (res *WithdrawalResult, err error) {
	defer s.observe("request_withdrawal", time.Now(), &err)

	type requested struct {
		tx   *Transaction
		user *User
	}
	out, err := Retry(ctx, s.retry, func(ctx context.Context) (requested, error) {
		tx, u, err := s.settlement.Request(ctx, in)
		return requested{tx, u}, err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"transaction_id": out.tx.ID,
		"user_id":        out.tx.UserID,
		"amount":         out.tx.Amount.String(),
		"sos":            out.tx.IsSOS,
	}).Info("withdrawal requested")

	res = &WithdrawalResult{Transaction: *out.tx, User: *out.user}
	res.Warnings = s.notify(ctx, Event{
		Kind:          EventWithdrawalRequested,
		UserID:        out.tx.UserID,
		TransactionID: out.tx.ID,
		Amount:        out.tx.Amount,
		IsSOS:         out.tx.IsSOS,
		OccurredAt:    out.tx.CreatedAt,
	})
	return res, nil
}

func (s *Service) SettleWithdrawal(ctx context.Context, in SettleInput) (res *SettlementResult, err error) {
	defer s.observe("settle_withdrawal", time.Now(), &err)

	receipt, err := Retry(ctx, s.retry, func(ctx context.Context) (*SettlementReceipt, error) {
		return s.settlement.Settle(ctx, in)
	})
	if err != nil {
		return nil, err
	}

	tx := receipt.Transaction
	kind := EventWithdrawalRejected
	amount := tx.Amount
	if tx.Status == TxApproved {
		kind = EventWithdrawalApproved
		if tx.IsSOS {
			amount = receipt.ActualDeducted
		}
		s.rec.AddVolume("withdrawn", amount)
	}
	s.log.WithFields(logrus.Fields{
		"transaction_id":  tx.ID,
		"user_id":         tx.UserID,
		"status":          tx.Status,
		"sos":             tx.IsSOS,
		"actual_deducted": receipt.ActualDeducted.String(),
		"admin":           tx.SettledBy,
	}).Info("withdrawal settled")
	if tx.IsSOS && tx.Status == TxApproved && receipt.ActualDeducted.LessThan(tx.Amount) {
		s.log.WithFields(logrus.Fields{
			"transaction_id": tx.ID,
			"requested":      tx.Amount.String(),
			"deducted":       receipt.ActualDeducted.String(),
		}).Warn("sos withdrawal not fully covered by active principal")
	}

	res = &SettlementResult{SettlementReceipt: *receipt}
	res.Warnings = s.notify(ctx, Event{
		Kind:          kind,
		UserID:        tx.UserID,
		TransactionID: tx.ID,
		Amount:        amount,
		IsSOS:         tx.IsSOS,
		OccurredAt:    tx.SettledAt,
	})
	return res, nil
}

// =============================================================================
// ACCOUNT AND ADMIN OPERATIONS
// =============================================================================

func (s *Service) RegisterUser(ctx context.Context, email, name string) (u *User, err error) {
	defer s.observe("register_user", time.Now(), &err)

	u, err = s.accounts.Register(ctx, email, name)
	if err != nil {
		return nil, err
	}
	s.log.WithField("user_id", u.ID).Info("user registered")
	return u, nil
}

func (s *Service) SetUserFlags(ctx context.Context, id UserID, blocked, verified bool) (u *User, err error) {
	defer s.observe("set_user_flags", time.Now(), &err)

	u, err = Retry(ctx, s.retry, func(ctx context.Context) (*User, error) {
		return s.accounts.SetFlags(ctx, id, blocked, verified)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"user_id":  id,
		"blocked":  blocked,
		"verified": verified,
	}).Info("user flags updated")
	return u, nil
}

func (s *Service) CompleteInvestment(ctx context.Context, id InvestmentID) (res *InvestmentResult, err error) {
	defer s.observe("complete_investment", time.Now(), &err)

	inv, err := Retry(ctx, s.retry, func(ctx context.Context) (*Investment, error) {
		return s.lifecycle.Complete(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("investment_id", inv.ID).Info("investment completed")

	res = &InvestmentResult{Investment: *inv}
	res.Warnings = s.notify(ctx, Event{
		Kind:         EventInvestmentCompleted,
		UserID:       inv.UserID,
		InvestmentID: inv.ID,
		Amount:       inv.Amount,
		OccurredAt:   inv.UpdatedAt,
	})
	return res, nil
}

// PreviewClaim is the read-only counterpart of ClaimROI.
func (s *Service) PreviewClaim(ctx context.Context, id InvestmentID, requester UserID) (*Investment, Accrual, error) {
	return s.claims.Preview(ctx, id, requester)
}

// AdjustBalance applies an audited compensating correction.
func (s *Service) AdjustBalance(ctx context.Context, in Adjustment) (res *AdjustmentResult, err error) {
	defer s.observe("adjust_balance", time.Now(), &err)

	type adjusted struct {
		tx   *Transaction
		user *User
	}
	out, err := Retry(ctx, s.retry, func(ctx context.Context) (adjusted, error) {
		tx, u, err := s.accounts.Adjust(ctx, in)
		return adjusted{tx, u}, err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"transaction_id": out.tx.ID,
		"user_id":        out.user.ID,
		"delta":          out.tx.Amount.String(),
		"actor":          out.tx.SettledBy,
		"reason":         out.tx.Note,
	}).Warn("balance adjusted")

	res = &AdjustmentResult{Transaction: *out.tx, User: *out.user}
	res.Warnings = s.notify(ctx, Event{
		Kind:          EventBalanceAdjusted,
		UserID:        out.user.ID,
		TransactionID: out.tx.ID,
		Amount:        out.tx.Amount,
		OccurredAt:    out.tx.CreatedAt,
	})
	return res, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) GetAccount(ctx context.Context, id UserID) (*AccountSummary, error) {
	return s.accounts.Summary(ctx, id)
}

func (s *Service) GetInvestment(ctx context.Context, id InvestmentID) (*Investment, error) {
	return s.store.GetInvestment(ctx, id)
}

func (s *Service) ListInvestments(ctx context.Context, userID UserID) ([]Investment, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListInvestments(ctx, userID)
}

func (s *Service) GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

func (s *Service) ListTransactions(ctx context.Context, userID UserID) ([]Transaction, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, userID)
}

// ListPendingWithdrawals is the admin settlement queue, oldest first.
func (s *Service) ListPendingWithdrawals(ctx context.Context) ([]Transaction, error) {
	return s.store.ListTransactionsByStatus(ctx, TxWithdrawal, TxPending)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) observe(op string, start time.Time, err *error) {
	s.rec.ObserveOperation(op, Outcome(*err), time.Since(start))
	if *err != nil && !IsClientError(*err) && !IsNotFound(*err) {
		s.log.WithError(*err).WithField("op", op).Error("ledger operation failed")
	}
}

func (s *Service) notify(ctx context.Context, ev Event) []string {
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"event":   ev.Kind,
			"user_id": ev.UserID,
		}).Warn("notification not delivered")
		return []string{fmt.Sprintf("notification %s not delivered: %v", ev.Kind, err)}
	}
	return nil
}
