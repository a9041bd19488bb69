/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  ledger types so the wire contract can evolve separately.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers that add warnings to a result

MONEY:
  All amounts are decimal strings on the wire ("35.5"), never JSON numbers
  on output. Input accepts either form.

VALIDATION:
  Shape checks (required, lengths, email) are struct tags checked with
  go-playground/validator in the handlers. Business rules (amount > 0,
  sufficient funds) stay in the ledger.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stake-ledger/config"
	"github.com/warp/stake-ledger/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateInvestmentRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method" validate:"required,max=32"`
	WalletInfo string          `json:"wallet_info" validate:"max=256"`
}

type WithdrawalRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Method  string          `json:"method" validate:"required,max=32"`
	Address string          `json:"address" validate:"max=256"`
	IsSOS   bool            `json:"is_sos"`
}

type RegisterUserRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"max=128"`
}

type UserFlagsRequest struct {
	Blocked  *bool `json:"blocked" validate:"required"`
	Verified *bool `json:"verified" validate:"required"`
}

type SettleRequest struct {
	TxRef string `json:"tx_ref" validate:"max=128"`
	Note  string `json:"note" validate:"max=512"`
}

type AdjustmentRequest struct {
	UserID string          `json:"user_id" validate:"required"`
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason" validate:"required,max=512"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type UserDTO struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	Name           string          `json:"name,omitempty"`
	Balance        decimal.Decimal `json:"balance"`
	TotalInvested  decimal.Decimal `json:"total_invested"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	TotalROI       decimal.Decimal `json:"total_roi"`
	Blocked        bool            `json:"blocked"`
	Verified       bool            `json:"verified"`
	CreatedAt      string          `json:"created_at"`
}

type AccountDTO struct {
	User               UserDTO         `json:"user"`
	ActivePrincipal    decimal.Decimal `json:"active_principal"`
	ActiveInvestments  int             `json:"active_investments"`
	PendingWithdrawals decimal.Decimal `json:"pending_withdrawals"`
}

type InvestmentDTO struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	WalletInfo    string          `json:"wallet_info,omitempty"`
	Status        string          `json:"status"`
	ROIRate       decimal.Decimal `json:"roi_rate"`
	ROIPeriod     string          `json:"roi_period"`
	StartDate     string          `json:"start_date,omitempty"`
	LastClaimedAt string          `json:"last_claimed_at,omitempty"`
	Returns       decimal.Decimal `json:"returns"`
	TotalClaimed  decimal.Decimal `json:"total_claimed"`
	CreatedAt     string          `json:"created_at"`
}

type TransactionDTO struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	InvestmentID string          `json:"investment_id,omitempty"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method,omitempty"`
	Address      string          `json:"address,omitempty"`
	Status       string          `json:"status"`
	IsSOS        bool            `json:"is_sos"`
	TxRef        string          `json:"tx_ref,omitempty"`
	Note         string          `json:"note,omitempty"`
	SettledBy    string          `json:"settled_by,omitempty"`
	CreatedAt    string          `json:"created_at"`
	SettledAt    string          `json:"settled_at,omitempty"`
}

type InvestmentResponse struct {
	Investment InvestmentDTO `json:"investment"`
	User       *UserDTO      `json:"user,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
}

type ClaimPreviewDTO struct {
	InvestmentID    string          `json:"investment_id"`
	Ready           bool            `json:"ready"`
	Periods         int64           `json:"periods"`
	ProfitPerPeriod decimal.Decimal `json:"profit_per_period"`
	Claimable       decimal.Decimal `json:"claimable"`
	NextClaimAt     string          `json:"next_claim_at"`
}

type ClaimResponse struct {
	Investment  InvestmentDTO   `json:"investment"`
	User        UserDTO         `json:"user"`
	Transaction TransactionDTO  `json:"transaction"`
	Periods     int64           `json:"periods"`
	Claimed     decimal.Decimal `json:"claimed"`
	Warnings    []string        `json:"warnings,omitempty"`
}

type WithdrawalResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	User        UserDTO        `json:"user"`
	Warnings    []string       `json:"warnings,omitempty"`
}

type DeductionDTO struct {
	InvestmentID string          `json:"investment_id"`
	Before       decimal.Decimal `json:"before"`
	Deducted     decimal.Decimal `json:"deducted"`
	After        decimal.Decimal `json:"after"`
	Terminated   bool            `json:"terminated"`
}

type SettlementResponse struct {
	Transaction    TransactionDTO  `json:"transaction"`
	User           UserDTO         `json:"user"`
	Deductions     []DeductionDTO  `json:"deductions,omitempty"`
	ActualDeducted decimal.Decimal `json:"actual_deducted"`
	Warnings       []string        `json:"warnings,omitempty"`
}

type AdjustmentResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	User        UserDTO        `json:"user"`
	Warnings    []string       `json:"warnings,omitempty"`
}

type RateDTO struct {
	Percent decimal.Decimal `json:"percent"`
	Period  string          `json:"period"`
}

type RatesDTO struct {
	Source   string             `json:"source,omitempty"`
	Default  RateDTO            `json:"default"`
	Assets   map[string]RateDTO `json:"assets"`
	LoadedAt string             `json:"loaded_at"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScenarioResultDTO lists what a scenario load created.
type ScenarioResultDTO struct {
	Scenario     string   `json:"scenario"`
	UserID       string   `json:"user_id"`
	Email        string   `json:"email"`
	Investments  []string `json:"investments,omitempty"`
	Transactions []string `json:"transactions,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{
		ID:             string(u.ID),
		Email:          u.Email,
		Name:           u.Name,
		Balance:        u.Balance,
		TotalInvested:  u.TotalInvested,
		TotalWithdrawn: u.TotalWithdrawn,
		TotalROI:       u.TotalROI,
		Blocked:        u.Blocked,
		Verified:       u.Verified,
		CreatedAt:      formatTime(u.CreatedAt),
	}
}

func toInvestmentDTO(inv ledger.Investment) InvestmentDTO {
	return InvestmentDTO{
		ID:            string(inv.ID),
		UserID:        string(inv.UserID),
		Amount:        inv.Amount,
		Method:        inv.Method,
		WalletInfo:    inv.WalletInfo,
		Status:        string(inv.Status),
		ROIRate:       inv.ROIRate,
		ROIPeriod:     string(inv.ROIPeriod),
		StartDate:     formatTime(inv.StartDate),
		LastClaimedAt: formatTime(inv.LastClaimedAt),
		Returns:       inv.Returns,
		TotalClaimed:  inv.TotalClaimed,
		CreatedAt:     formatTime(inv.CreatedAt),
	}
}

func toInvestmentDTOs(invs []ledger.Investment) []InvestmentDTO {
	out := make([]InvestmentDTO, len(invs))
	for i, inv := range invs {
		out[i] = toInvestmentDTO(inv)
	}
	return out
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(tx.ID),
		UserID:       string(tx.UserID),
		InvestmentID: string(tx.InvestmentID),
		Type:         string(tx.Type),
		Amount:       tx.Amount,
		Method:       tx.Method,
		Address:      tx.Address,
		Status:       string(tx.Status),
		IsSOS:        tx.IsSOS,
		TxRef:        tx.TxRef,
		Note:         tx.Note,
		SettledBy:    tx.SettledBy,
		CreatedAt:    formatTime(tx.CreatedAt),
		SettledAt:    formatTime(tx.SettledAt),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionDTO(tx)
	}
	return out
}

func toRateDTO(r ledger.Rate) RateDTO {
	return RateDTO{Percent: r.Percent, Period: string(r.Period)}
}

func toRatesDTO(s config.RateSnapshot) RatesDTO {
	assets := make(map[string]RateDTO, len(s.Assets))
	for k, v := range s.Assets {
		assets[k] = toRateDTO(v)
	}
	return RatesDTO{
		Source:   s.Path,
		Default:  toRateDTO(s.Default),
		Assets:   assets,
		LoadedAt: formatTime(s.LoadedAt),
	}
}
