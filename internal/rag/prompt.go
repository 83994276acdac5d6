package rag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fundlens/fundlens/internal/retrieval"
	"github.com/fundlens/fundlens/internal/session"
)

const systemPrompt = `You are an analyst assistant for private equity fund data.
Answer using ONLY the provided source excerpts and conversation history.
Cite sources by their index, e.g. [Source 1].
If the sources do not contain the answer, say so plainly. Never invent figures.`

// buildPrompt renders history turns, then context chunks in descending score
// order with stable source indices, then the question. The indices match the
// order of the sources returned to the caller.
func buildPrompt(history []session.Message, contexts []retrieval.ScoredRecord, question string) string {
	var b strings.Builder

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			role := "User"
			if m.Role == "assistant" {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
		}
		b.WriteString("\n")
	}

	if len(contexts) > 0 {
		b.WriteString("Source excerpts:\n")
		for i, c := range contexts {
			fmt.Fprintf(&b, "[Source %d] %s\n", i+1, c.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}

// metricLabels maps metric keys to how they read in a rendered answer.
var metricLabels = map[string]string{
	"pic":                 "Paid-in capital (PIC)",
	"total_distributions": "Total distributions",
	"dpi":                 "DPI",
	"rvpi":                "RVPI",
	"tvpi":                "TVPI",
	"irr":                 "IRR",
}

// metricOrder fixes the rendering order so answers are stable.
var metricOrder = []string{"pic", "total_distributions", "dpi", "rvpi", "tvpi", "irr"}

// renderMetricsAnswer produces the deterministic answer used when a metric
// question short-circuits generation.
func renderMetricsAnswer(fundID string, metrics map[string]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Metrics for fund %s:\n", fundID)

	seen := make(map[string]bool, len(metrics))
	for _, k := range metricOrder {
		v, ok := metrics[k]
		if !ok {
			continue
		}
		seen[k] = true
		b.WriteString(renderMetricLine(k, v))
	}

	// Any remaining keys render alphabetically after the known ones.
	var rest []string
	for k := range metrics {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		b.WriteString(renderMetricLine(k, metrics[k]))
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderMetricLine(key string, value float64) string {
	label, ok := metricLabels[key]
	if !ok {
		label = key
	}
	switch key {
	case "irr":
		return fmt.Sprintf("- %s: %.2f%%\n", label, value*100)
	case "dpi", "rvpi", "tvpi":
		return fmt.Sprintf("- %s: %.4fx\n", label, value)
	default:
		return fmt.Sprintf("- %s: %.2f\n", label, value)
	}
}
