package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Rate is the ROI configuration for one asset.
type Rate struct {
	Percent decimal.Decimal
	Period  ROIPeriod
}

// RateProvider resolves the ROI rate for an asset. Implementations must return
// a usable default for assets they do not know.
type RateProvider interface {
	RateFor(asset string) Rate
}

// DefaultRate applies when nothing is configured for an asset.
var DefaultRate = Rate{Percent: decimal.RequireFromString("3.5"), Period: PeriodDaily}

// NormalizeAsset is the lookup key form of an asset name.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// StaticRates is a fixed table, mostly for tests.
type StaticRates struct {
	Default Rate
	Assets  map[string]Rate
}

func (s StaticRates) RateFor(asset string) Rate {
	if r, ok := s.Assets[NormalizeAsset(asset)]; ok {
		return r
	}
	if s.Default.Period == "" {
		return DefaultRate
	}
	return s.Default
}
