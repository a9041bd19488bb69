package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROI PERIOD - The accrual interval
// =============================================================================

// ROIPeriod is the interval after which one unit of profit becomes claimable.
// Periods are fixed-length durations, not calendar months: Monthly is always
// 30 * 24h.
type ROIPeriod string

const (
	PeriodDaily   ROIPeriod = "daily"
	PeriodMonthly ROIPeriod = "monthly"
)

const (
	DailyPeriodLength   = 24 * time.Hour
	MonthlyPeriodLength = 30 * 24 * time.Hour
)

// Length returns the period duration. Unknown periods count as daily.
func (p ROIPeriod) Length() time.Duration {
	if p == PeriodMonthly {
		return MonthlyPeriodLength
	}
	return DailyPeriodLength
}

func (p ROIPeriod) Valid() bool {
	return p == PeriodDaily || p == PeriodMonthly
}

// ParsePeriod accepts "daily"/"monthly" in any case.
func ParsePeriod(s string) (ROIPeriod, error) {
	p := ROIPeriod(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", &ValidationError{Field: "period", Reason: fmt.Sprintf("unknown period %q", s)}
	}
	return p, nil
}

// =============================================================================
// ACCRUAL - What a claim at a given instant would yield
// =============================================================================

// Accrual is the result of counting whole periods since the last claim boundary.
type Accrual struct {
	Periods         int64
	ProfitPerPeriod decimal.Decimal
	Claimable       decimal.Decimal

	// ClaimThrough is the new LastClaimedAt after claiming: the old boundary
	// plus exactly Periods * period length.
	ClaimThrough time.Time

	// NextClaimAt is the first boundary after now.
	NextClaimAt time.Time
	RetryAfter  time.Duration
}

func (a Accrual) Ready() bool { return a.Periods >= 1 }

// ComputeAccrual counts the whole periods between inv.LastClaimedAt and now.
// Partial periods are left in place so the holder neither loses nor gains
// elapsed time across claims.
func ComputeAccrual(inv Investment, now time.Time) Accrual {
	length := inv.ROIPeriod.Length()
	elapsed := now.Sub(inv.LastClaimedAt)

	var periods int64
	if elapsed > 0 {
		periods = int64(elapsed / length)
	}

	per := inv.ProfitPerPeriod()
	through := inv.LastClaimedAt.Add(time.Duration(periods) * length)
	next := through.Add(length)

	return Accrual{
		Periods:         periods,
		ProfitPerPeriod: per,
		Claimable:       per.Mul(decimal.NewFromInt(periods)),
		ClaimThrough:    through,
		NextClaimAt:     next,
		RetryAfter:      next.Sub(now),
	}
}
