/*
handlers.go - HTTP API handlers for the staking ledger

PURPOSE:
  Exposes ledger.Service over REST. Handles HTTP request/response, JSON
  serialization and authentication context, and delegates every rule to
  the ledger.

ENDPOINTS:
  Public:
    GET    /healthz                              Liveness
    GET    /metrics                              Prometheus

  User (bearer token):
    GET    /api/account                          Balances and live totals
    GET    /api/investments                      Own investments
    POST   /api/investments                      Request an investment
    GET    /api/investments/{id}                 One investment
    GET    /api/investments/{id}/claim           Preview a claim
    POST   /api/investments/{id}/claim           Claim accrued ROI
    GET    /api/transactions                     Own transactions
    POST   /api/withdrawals                      Request a withdrawal

  Admin (bearer token with is_admin):
    POST   /api/admin/users                      Open a ledger account
    POST   /api/admin/users/{id}/flags           Block / verify
    POST   /api/admin/investments/{id}/activate  Activate
    POST   /api/admin/investments/{id}/complete  Complete
    GET    /api/admin/withdrawals/pending        Settlement queue
    POST   /api/admin/withdrawals/{id}/approve   Approve
    POST   /api/admin/withdrawals/{id}/reject    Reject
    POST   /api/admin/adjustments                Compensating correction
    GET    /api/admin/rates                      Current rate table
    POST   /api/admin/rates/refresh              Reload rate table
    GET    /api/admin/scenarios                  Demo scenarios (dev only)
    POST   /api/admin/scenarios/load             Seed a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Not the owner, not an admin, account blocked
  - 404: Resource not found
  - 409: Wrong state, claim not ready (with Retry-After), already
         processed, lost concurrent update
  - 422: Insufficient funds
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/stake-ledger/config"
	"github.com/warp/stake-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// RateSource is the refreshable rate table behind the admin rate endpoints.
type RateSource interface {
	Snapshot() config.RateSnapshot
	Refresh() error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *ledger.Service
	Rates  RateSource
	Log    logrus.FieldLogger

	validate *validator.Validate
}

func NewHandler(svc *ledger.Service, rates RateSource, log logrus.FieldLogger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Ledger: svc, Rates: rates, Log: log, validate: v}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ACCOUNT
// =============================================================================

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	sum, err := h.Ledger.GetAccount(r.Context(), p.UserID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountDTO{
		User:               toUserDTO(sum.User),
		ActivePrincipal:    sum.ActivePrincipal,
		ActiveInvestments:  sum.ActiveInvestments,
		PendingWithdrawals: sum.PendingWithdrawals,
	})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	txs, err := h.Ledger.ListTransactions(r.Context(), p.UserID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// INVESTMENTS
// =============================================================================

func (h *Handler) ListInvestments(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	invs, err := h.Ledger.ListInvestments(r.Context(), p.UserID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvestmentDTOs(invs))
}

func (h *Handler) CreateInvestment(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CreateInvestmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Ledger.CreateInvestment(r.Context(), ledger.CreateInvestmentInput{
		UserID:     p.UserID,
		Amount:     req.Amount,
		Method:     req.Method,
		WalletInfo: req.WalletInfo,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvestmentResponse(res))
}

func (h *Handler) GetInvestment(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	inv, err := h.Ledger.GetInvestment(r.Context(), ledger.InvestmentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	if inv.UserID != p.UserID && !p.Admin {
		h.writeLedgerError(w, ledger.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, toInvestmentDTO(*inv))
}

func (h *Handler) PreviewClaim(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	inv, acc, err := h.Ledger.PreviewClaim(r.Context(), ledger.InvestmentID(chi.URLParam(r, "id")), p.UserID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimPreviewDTO{
		InvestmentID:    string(inv.ID),
		Ready:           acc.Ready(),
		Periods:         acc.Periods,
		ProfitPerPeriod: acc.ProfitPerPeriod,
		Claimable:       acc.Claimable,
		NextClaimAt:     formatTime(acc.NextClaimAt),
	})
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	res, err := h.Ledger.ClaimROI(r.Context(), ledger.InvestmentID(chi.URLParam(r, "id")), p.UserID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimResponse{
		Investment:  toInvestmentDTO(res.Investment),
		User:        toUserDTO(res.User),
		Transaction: toTransactionDTO(res.Transaction),
		Periods:     res.Periods,
		Claimed:     res.Claimed,
		Warnings:    res.Warnings,
	})
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req WithdrawalRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Ledger.RequestWithdrawal(r.Context(), ledger.WithdrawalInput{
		UserID:  p.UserID,
		Amount:  req.Amount,
		Method:  req.Method,
		Address: req.Address,
		IsSOS:   req.IsSOS,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, WithdrawalResponse{
		Transaction: toTransactionDTO(res.Transaction),
		User:        toUserDTO(res.User),
		Warnings:    res.Warnings,
	})
}

func (h *Handler) ListPendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Ledger.ListPendingWithdrawals(r.Context())
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, ledger.DecisionApprove)
}

func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, ledger.DecisionReject)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request, decision ledger.Decision) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req SettleRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Ledger.SettleWithdrawal(r.Context(), ledger.SettleInput{
		TransactionID: ledger.TransactionID(chi.URLParam(r, "id")),
		Decision:      decision,
		AdminID:       string(p.UserID),
		TxRef:         req.TxRef,
		Note:          req.Note,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	deductions := make([]DeductionDTO, len(res.Deductions))
	for i, d := range res.Deductions {
		deductions[i] = DeductionDTO{
			InvestmentID: string(d.InvestmentID),
			Before:       d.Before,
			Deducted:     d.Deducted,
			After:        d.After,
			Terminated:   d.Terminated,
		}
	}
	writeJSON(w, http.StatusOK, SettlementResponse{
		Transaction:    toTransactionDTO(res.Transaction),
		User:           toUserDTO(res.User),
		Deductions:     deductions,
		ActualDeducted: res.ActualDeducted,
		Warnings:       res.Warnings,
	})
}

// =============================================================================
// ADMIN
// =============================================================================

func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.Ledger.RegisterUser(r.Context(), req.Email, req.Name)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*u))
}

func (h *Handler) SetUserFlags(w http.ResponseWriter, r *http.Request) {
	var req UserFlagsRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.Ledger.SetUserFlags(r.Context(), ledger.UserID(chi.URLParam(r, "id")), *req.Blocked, *req.Verified)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

func (h *Handler) ActivateInvestment(w http.ResponseWriter, r *http.Request) {
	res, err := h.Ledger.ActivateInvestment(r.Context(), ledger.InvestmentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvestmentResponse(res))
}

func (h *Handler) CompleteInvestment(w http.ResponseWriter, r *http.Request) {
	res, err := h.Ledger.CompleteInvestment(r.Context(), ledger.InvestmentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvestmentResponse(res))
}

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Ledger.AdjustBalance(r.Context(), ledger.Adjustment{
		UserID: ledger.UserID(req.UserID),
		Delta:  req.Delta,
		Reason: req.Reason,
		Actor:  string(p.UserID),
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AdjustmentResponse{
		Transaction: toTransactionDTO(res.Transaction),
		User:        toUserDTO(res.User),
		Warnings:    res.Warnings,
	})
}

func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toRatesDTO(h.Rates.Snapshot()))
}

func (h *Handler) RefreshRates(w http.ResponseWriter, r *http.Request) {
	if err := h.Rates.Refresh(); err != nil {
		h.Log.WithError(err).Warn("rate table refresh failed")
		writeError(w, http.StatusInternalServerError, "Failed to refresh rates", err)
		return
	}
	writeJSON(w, http.StatusOK, toRatesDTO(h.Rates.Snapshot()))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized - No user context", nil)
	}
	return p, ok
}

// decode reads a JSON body into dst and validates it. An empty body decodes
// as the zero value, so required fields still fail validation.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    "validation",
			Details: formatValidationError(err),
		})
		return false
	}
	return true
}

func formatValidationError(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["body"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = field + " is required"
		case "email":
			out[field] = "Invalid email format"
		case "max":
			out[field] = field + " must be at most " + fe.Param() + " characters"
		default:
			out[field] = field + " is invalid"
		}
	}
	return out
}

// statusFor maps the ledger error taxonomy to HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrClaimNotReady),
		errors.Is(err, ledger.ErrNotActive),
		errors.Is(err, ledger.ErrAlreadyActive),
		errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrAlreadyProcessed),
		errors.Is(err, ledger.ErrConcurrencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.WithError(err).Error("request failed")
		writeJSON(w, status, ErrorResponse{Error: "Internal error", Code: ledger.Outcome(err)})
		return
	}

	resp := ErrorResponse{Error: err.Error(), Code: ledger.Outcome(err)}

	var (
		notReady *ledger.ClaimNotReadyError
		funds    *ledger.InsufficientFundsError
		invalid  *ledger.ValidationError
	)
	switch {
	case errors.As(err, &notReady):
		secs := int64(math.Ceil(notReady.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		resp.Details = map[string]any{
			"next_claim_at":       formatTime(notReady.NextClaimAt),
			"retry_after_seconds": secs,
		}
	case errors.As(err, &funds):
		resp.Details = map[string]string{
			"available": funds.Available.String(),
			"requested": funds.Requested.String(),
			"shortfall": funds.Shortfall.String(),
		}
	case errors.As(err, &invalid):
		resp.Details = map[string]string{invalid.Field: invalid.Reason}
	}
	writeJSON(w, status, resp)
}

func toInvestmentResponse(res *ledger.InvestmentResult) InvestmentResponse {
	out := InvestmentResponse{Investment: toInvestmentDTO(res.Investment), Warnings: res.Warnings}
	if res.User != nil {
		u := toUserDTO(*res.User)
		out.User = &u
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
