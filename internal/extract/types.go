// Package extract turns parsed tables or raw document text into typed
// financial transactions.
package extract

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/fundlens/fundlens/internal/tables"
)

// ErrSchema reports that the model's structured output did not match the
// required three-array shape. This is a hard failure for the document:
// malformed extraction output must never be silently repaired into
// financial data.
var ErrSchema = errors.New("extraction output does not match required schema")

// Input carries either parsed table records (deterministic path) or raw
// document text (model path).
type Input struct {
	Tables []tables.Record
	Text   string
}

// RawTransaction is one extracted transaction before persistence. Amount is
// already normalized to an exact decimal; Date stays a string until the
// pipeline parses it.
type RawTransaction struct {
	Date        string
	Amount      decimal.Decimal
	Description string

	// Distribution fields.
	DistributionType string
	IsRecallable     bool

	// Adjustment fields.
	AdjustmentType           string
	Category                 string
	IsContributionAdjustment bool
}

// Batch is the extraction output contract shared by both strategies.
type Batch struct {
	CapitalCalls  []RawTransaction
	Distributions []RawTransaction
	Adjustments   []RawTransaction
}

// Empty reports whether the batch contains no transactions.
func (b Batch) Empty() bool {
	return len(b.CapitalCalls) == 0 && len(b.Distributions) == 0 && len(b.Adjustments) == 0
}

// Extractor is implemented by both extraction strategies. The strategy is
// selected by deployment configuration; callers depend only on this contract.
type Extractor interface {
	Extract(ctx context.Context, in Input) (Batch, error)
}
