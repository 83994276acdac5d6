package extract

import (
	"context"
	"strings"
)

// KeywordExtractor classifies table rows by their column names. It is the
// deterministic strategy: no model call, stable output for a given input.
type KeywordExtractor struct{}

// NewKeywordExtractor creates the deterministic extractor.
func NewKeywordExtractor() *KeywordExtractor {
	return &KeywordExtractor{}
}

// classifyTokens are tested against column names in priority order; the
// first match wins, so a row is classified at most once.
var classifyTokens = []struct {
	token string
	kind  string
}{
	{"capital", "capital_call"},
	{"distribution", "distribution"},
	{"adjustment", "adjustment"},
}

// Extract walks every row of every table and classifies it by case-
// insensitive substring match of its column names. Rows matching none of
// the tokens stay unclassified and are skipped.
func (e *KeywordExtractor) Extract(_ context.Context, in Input) (Batch, error) {
	var batch Batch
	for _, rec := range in.Tables {
		for _, row := range rec.Rows {
			kind := classifyRow(rec.Header, row)
			switch kind {
			case "capital_call":
				batch.CapitalCalls = append(batch.CapitalCalls, rowToTransaction(rec.Header, row))
			case "distribution":
				batch.Distributions = append(batch.Distributions, rowToTransaction(rec.Header, row))
			case "adjustment":
				batch.Adjustments = append(batch.Adjustments, rowToTransaction(rec.Header, row))
			}
		}
	}
	return batch, nil
}

func classifyRow(header []string, row map[string]string) string {
	for _, ct := range classifyTokens {
		for _, col := range header {
			if strings.Contains(strings.ToLower(col), ct.token) {
				return ct.kind
			}
		}
	}
	return ""
}

// rowToTransaction maps the row's date/amount/description columns onto a
// RawTransaction. Exact column names are preferred; otherwise the first
// column containing the field name is used, so headers like
// "capital_call_description" still map.
func rowToTransaction(header []string, row map[string]string) RawTransaction {
	return RawTransaction{
		Date:        fieldValue(header, row, "date"),
		Amount:      NormalizeAmount(fieldValue(header, row, "amount")),
		Description: fieldValue(header, row, "description"),
	}
}

func fieldValue(header []string, row map[string]string, field string) string {
	if v, ok := row[field]; ok {
		return v
	}
	for _, col := range header {
		if strings.Contains(strings.ToLower(col), field) {
			return row[col]
		}
	}
	return ""
}
