package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundlens/fundlens/internal/engine"
)

// ModelExtractor sends the full document text to the generation capability
// with a schema-constrained prompt. A response that fails structural parsing
// is a hard failure for the document; partial output is never repaired into
// transactions.
type ModelExtractor struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
}

// NewModelExtractor creates the model-assisted extractor. If timeout <= 0,
// a 60s default is applied per call.
func NewModelExtractor(eng engine.Engine, model string, timeout time.Duration) *ModelExtractor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ModelExtractor{engine: eng, model: model, timeout: timeout}
}

// wireTransaction is the JSON shape the model is instructed to produce.
// Amount is RawMessage so a model that emits "5,000,000" as a string is
// still normalized field-level; the structural contract is the three arrays.
type wireTransaction struct {
	Date                     *string         `json:"date"`
	Amount                   json.RawMessage `json:"amount"`
	Description              *string         `json:"description"`
	DistributionType         *string         `json:"distribution_type"`
	IsRecallable             *bool           `json:"is_recallable"`
	AdjustmentType           *string         `json:"adjustment_type"`
	Category                 *string         `json:"category"`
	IsContributionAdjustment *bool           `json:"is_contribution_adjustment"`
}

type wireBatch struct {
	CapitalCalls  []wireTransaction `json:"capital_calls"`
	Distributions []wireTransaction `json:"distributions"`
	Adjustments   []wireTransaction `json:"adjustments"`
}

// Extract asks the model for the three-array structure over in.Text.
// Returns ErrSchema (wrapped) when the response does not parse.
func (e *ModelExtractor) Extract(ctx context.Context, in Input) (Batch, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	messages := []engine.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(extractionUserPrompt, in.Text)},
	}

	raw, err := e.engine.Chat(ctx, e.model, messages, extractionSchema())
	if err != nil {
		return Batch{}, fmt.Errorf("extraction chat: %w", err)
	}

	return parseBatch(raw)
}

// parseBatch parses the model response into a Batch. Markdown code fences
// are stripped first; local models frequently wrap JSON in them.
func parseBatch(raw string) (Batch, error) {
	s := stripFences(raw)

	dec := json.NewDecoder(strings.NewReader(s))
	var wire wireBatch
	if err := dec.Decode(&wire); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if wire.CapitalCalls == nil && wire.Distributions == nil && wire.Adjustments == nil {
		return Batch{}, fmt.Errorf("%w: none of the three required arrays present", ErrSchema)
	}

	return Batch{
		CapitalCalls:  fromWire(wire.CapitalCalls),
		Distributions: fromWire(wire.Distributions),
		Adjustments:   fromWire(wire.Adjustments),
	}, nil
}

func fromWire(ts []wireTransaction) []RawTransaction {
	out := make([]RawTransaction, 0, len(ts))
	for _, w := range ts {
		out = append(out, RawTransaction{
			Date:                     deref(w.Date),
			Amount:                   wireAmount(w.Amount),
			Description:              deref(w.Description),
			DistributionType:         deref(w.DistributionType),
			IsRecallable:             w.IsRecallable != nil && *w.IsRecallable,
			AdjustmentType:           deref(w.AdjustmentType),
			Category:                 deref(w.Category),
			IsContributionAdjustment: w.IsContributionAdjustment != nil && *w.IsContributionAdjustment,
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// wireAmount accepts a JSON number or a currency-formatted string; anything
// else is a missing field and becomes zero.
func wireAmount(raw json.RawMessage) decimal.Decimal {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return NormalizeAmount(s)
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(s)
}

func extractionSchema() *engine.Schema {
	txnObject := &engine.SchemaProperty{Type: "object"}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"capital_calls": {Type: "array", Description: "Capital call transactions found in the document", Items: txnObject},
			"distributions": {Type: "array", Description: "Distribution transactions found in the document", Items: txnObject},
			"adjustments":   {Type: "array", Description: "Adjustment transactions found in the document", Items: txnObject},
		},
		Required: []string{"capital_calls", "distributions", "adjustments"},
	}
}
