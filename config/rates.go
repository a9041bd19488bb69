package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/stake-ledger/ledger"
)

// =============================================================================
// RATE TABLE - Refreshable ROI configuration per asset
// =============================================================================
//
// File format:
//
//	default:
//	  percent: "3.5"
//	  period: daily
//	assets:
//	  USDT: { percent: "3.5", period: daily }
//	  BTC:  { percent: "12", period: monthly }
//
// Percent is quoted so it never passes through a float.

type rateEntry struct {
	Percent string `yaml:"percent"`
	Period  string `yaml:"period"`
}

type rateFile struct {
	Default *rateEntry           `yaml:"default"`
	Assets  map[string]rateEntry `yaml:"assets"`
}

// RateTable implements ledger.RateProvider. Refresh swaps the whole table at
// once; a failed refresh keeps serving the previous one.
type RateTable struct {
	mu       sync.RWMutex
	path     string
	def      ledger.Rate
	assets   map[string]ledger.Rate
	loadedAt time.Time
}

// RateSnapshot is a copy of the table for display.
type RateSnapshot struct {
	Path     string
	Default  ledger.Rate
	Assets   map[string]ledger.Rate
	LoadedAt time.Time
}

// LoadRates reads the table at path.
func LoadRates(path string) (*RateTable, error) {
	t := &RateTable{path: path}
	if err := t.Refresh(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewRateTable builds a table that is not backed by a file.
func NewRateTable(def ledger.Rate, assets map[string]ledger.Rate) *RateTable {
	t := &RateTable{def: def, assets: make(map[string]ledger.Rate, len(assets)), loadedAt: time.Now().UTC()}
	for k, v := range assets {
		t.assets[ledger.NormalizeAsset(k)] = v
	}
	return t
}

func (t *RateTable) RateFor(asset string) ledger.Rate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, ok := t.assets[ledger.NormalizeAsset(asset)]; ok {
		return r
	}
	return t.def
}

// Refresh re-reads the file. Tables without a file only bump LoadedAt.
func (t *RateTable) Refresh() error {
	if t.path == "" {
		t.mu.Lock()
		t.loadedAt = time.Now().UTC()
		t.mu.Unlock()
		return nil
	}

	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("failed to read rates file: %w", err)
	}
	def, assets, err := ParseRates(data)
	if err != nil {
		return fmt.Errorf("rates file %s: %w", t.path, err)
	}

	t.mu.Lock()
	t.def = def
	t.assets = assets
	t.loadedAt = time.Now().UTC()
	t.mu.Unlock()
	return nil
}

func (t *RateTable) Snapshot() RateSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	assets := make(map[string]ledger.Rate, len(t.assets))
	for k, v := range t.assets {
		assets[k] = v
	}
	return RateSnapshot{Path: t.path, Default: t.def, Assets: assets, LoadedAt: t.loadedAt}
}

// ParseRates decodes and validates a rate table document. A missing default
// falls back to ledger.DefaultRate.
func ParseRates(data []byte) (ledger.Rate, map[string]ledger.Rate, error) {
	var f rateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return ledger.Rate{}, nil, fmt.Errorf("failed to parse rates: %w", err)
	}

	def := ledger.DefaultRate
	if f.Default != nil {
		r, err := f.Default.rate()
		if err != nil {
			return ledger.Rate{}, nil, fmt.Errorf("default: %w", err)
		}
		def = r
	}

	assets := make(map[string]ledger.Rate, len(f.Assets))
	for name, e := range f.Assets {
		key := ledger.NormalizeAsset(name)
		if key == "" {
			return ledger.Rate{}, nil, fmt.Errorf("asset name must not be empty")
		}
		r, err := e.rate()
		if err != nil {
			return ledger.Rate{}, nil, fmt.Errorf("asset %s: %w", key, err)
		}
		assets[key] = r
	}
	return def, assets, nil
}

func (e rateEntry) rate() (ledger.Rate, error) {
	pct, err := decimal.NewFromString(e.Percent)
	if err != nil {
		return ledger.Rate{}, fmt.Errorf("invalid percent %q", e.Percent)
	}
	if pct.IsNegative() {
		return ledger.Rate{}, fmt.Errorf("percent must not be negative")
	}
	period, err := ledger.ParsePeriod(e.Period)
	if err != nil {
		return ledger.Rate{}, err
	}
	return ledger.Rate{Percent: pct, Period: period}, nil
}
