// Package metrics computes standard private equity fund performance measures
// from persisted transactions. All money math is exact decimal; only the
// final ratios are floats.
package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundlens/fundlens/internal/storage"
)

// FundReader is the slice of the storage layer the engine needs.
type FundReader interface {
	GetFund(id string) (storage.Fund, error)
	ListTransactionsByFund(fundID string) ([]storage.Transaction, error)
}

// Engine computes fund metrics on demand from the transaction ledger.
type Engine struct {
	store FundReader
}

func NewEngine(store FundReader) *Engine {
	return &Engine{store: store}
}

// CalculateAllMetrics returns every metric computable for the fund:
// pic, total_distributions, always; dpi, rvpi, tvpi when paid-in capital is
// nonzero; irr when the cashflow series admits one.
func (e *Engine) CalculateAllMetrics(ctx context.Context, fundID string) (map[string]float64, error) {
	fund, err := e.store.GetFund(fundID)
	if err != nil {
		return nil, fmt.Errorf("loading fund %s: %w", fundID, err)
	}
	txns, err := e.store.ListTransactionsByFund(fundID)
	if err != nil {
		return nil, fmt.Errorf("loading transactions for fund %s: %w", fundID, err)
	}

	pic := paidInCapital(txns)
	dist := totalDistributions(txns)

	result := map[string]float64{
		"pic":                 pic.InexactFloat64(),
		"total_distributions": dist.InexactFloat64(),
	}

	if !pic.IsZero() {
		dpi := dist.Div(pic)
		rvpi := fund.NAV.Div(pic)
		result["dpi"] = dpi.InexactFloat64()
		result["rvpi"] = rvpi.InexactFloat64()
		result["tvpi"] = dpi.Add(rvpi).InexactFloat64()
	}

	if irr := irrFromTransactions(txns, fund.NAV); irr != nil {
		result["irr"] = *irr
	}

	return result, nil
}

// CalculateIRR returns the fund's internal rate of return, or nil when the
// cashflow series cannot produce one (no dated flows, or no sign change).
func (e *Engine) CalculateIRR(ctx context.Context, fundID string) (*float64, error) {
	fund, err := e.store.GetFund(fundID)
	if err != nil {
		return nil, fmt.Errorf("loading fund %s: %w", fundID, err)
	}
	txns, err := e.store.ListTransactionsByFund(fundID)
	if err != nil {
		return nil, fmt.Errorf("loading transactions for fund %s: %w", fundID, err)
	}
	return irrFromTransactions(txns, fund.NAV), nil
}

// paidInCapital sums capital calls plus adjustments flagged as contribution
// adjustments.
func paidInCapital(txns []storage.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txns {
		switch t.Type {
		case storage.TxnCapitalCall:
			total = total.Add(t.Amount)
		case storage.TxnAdjustment:
			if t.IsContributionAdjustment {
				total = total.Add(t.Amount)
			}
		}
	}
	return total
}

func totalDistributions(txns []storage.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txns {
		if t.Type == storage.TxnDistribution {
			total = total.Add(t.Amount)
		}
	}
	return total
}

type cashflow struct {
	date   time.Time
	amount float64 // outflows negative, inflows positive
}

// irrFromTransactions builds the dated cashflow series (calls negative,
// distributions positive, current NAV as a terminal inflow) and solves for
// the annualized rate where NPV is zero.
func irrFromTransactions(txns []storage.Transaction, nav decimal.Decimal) *float64 {
	var flows []cashflow
	for _, t := range txns {
		if t.Date.IsZero() {
			continue // undated rows cannot participate in a time-weighted rate
		}
		switch t.Type {
		case storage.TxnCapitalCall:
			flows = append(flows, cashflow{date: t.Date, amount: -t.Amount.InexactFloat64()})
		case storage.TxnDistribution:
			flows = append(flows, cashflow{date: t.Date, amount: t.Amount.InexactFloat64()})
		case storage.TxnAdjustment:
			if t.IsContributionAdjustment {
				flows = append(flows, cashflow{date: t.Date, amount: -t.Amount.InexactFloat64()})
			}
		}
	}
	if len(flows) == 0 {
		return nil
	}

	sort.Slice(flows, func(i, j int) bool { return flows[i].date.Before(flows[j].date) })

	if !nav.IsZero() {
		terminal := flows[len(flows)-1].date
		if now := time.Now().UTC(); now.After(terminal) {
			terminal = now
		}
		flows = append(flows, cashflow{date: terminal, amount: nav.InexactFloat64()})
	}

	hasNeg, hasPos := false, false
	for _, f := range flows {
		if f.amount < 0 {
			hasNeg = true
		}
		if f.amount > 0 {
			hasPos = true
		}
	}
	if !hasNeg || !hasPos {
		return nil
	}

	return solveIRR(flows)
}

// solveIRR bisects the NPV function over annualized rates. NPV is strictly
// decreasing in the rate once the first flow is an outflow, so bisection on
// a bracketing interval converges.
func solveIRR(flows []cashflow) *float64 {
	t0 := flows[0].date
	npv := func(rate float64) float64 {
		var sum float64
		for _, f := range flows {
			years := f.date.Sub(t0).Hours() / (24 * 365.25)
			sum += f.amount / math.Pow(1+rate, years)
		}
		return sum
	}

	lo, hi := -0.9999, 10.0
	fLo, fHi := npv(lo), npv(hi)
	if fLo*fHi > 0 {
		return nil // no root in the bracket
	}

	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		fMid := npv(mid)
		if math.Abs(fMid) < 1e-9 {
			return &mid
		}
		if fLo*fMid < 0 {
			hi = mid
		} else {
			lo, fLo = mid, fMid
		}
	}
	mid := (lo + hi) / 2
	return &mid
}
