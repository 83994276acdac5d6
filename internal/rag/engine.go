// Package rag answers questions about a fund by retrieving indexed document
// chunks and conditioning generation on them. Metric questions bypass
// generation entirely and return exact numbers.
package rag

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fundlens/fundlens/internal/engine"
	"github.com/fundlens/fundlens/internal/retrieval"
	"github.com/fundlens/fundlens/internal/session"
)

// metricKeywords trigger the deterministic metrics path when a fund is named.
var metricKeywords = []string{"irr", "dpi", "tvpi", "rvpi", "pic", "paid-in"}

// Searcher is the slice of the embedding index the engine retrieves through.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, filter retrieval.Filter) []retrieval.ScoredRecord
}

// MetricsCalculator computes fund metrics for the shortcut path.
type MetricsCalculator interface {
	CalculateAllMetrics(ctx context.Context, fundID string) (map[string]float64, error)
}

// Result is the answer to one question.
type Result struct {
	Answer  string
	Sources []retrieval.ScoredRecord
	Metrics map[string]float64
}

// Engine runs the per-question state machine:
// retrieve, filter, then either the metric shortcut or generation.
type Engine struct {
	index       Searcher
	gen         engine.Engine
	metrics     MetricsCalculator
	chatModel   string
	topK        int
	threshold   float32
	chatTimeout time.Duration
	logger      *slog.Logger
}

type Config struct {
	ChatModel      string
	TopK           int
	ScoreThreshold float32
	ChatTimeout    time.Duration
}

func NewEngine(index Searcher, gen engine.Engine, metrics MetricsCalculator, cfg Config, logger *slog.Logger) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		index:       index,
		gen:         gen,
		metrics:     metrics,
		chatModel:   cfg.ChatModel,
		topK:        cfg.TopK,
		threshold:   cfg.ScoreThreshold,
		chatTimeout: cfg.ChatTimeout,
		logger:      logger,
	}
}

// Query answers a question. topK of 0 uses the configured default.
// Generation failures yield a degraded answer string, never an error.
func (e *Engine) Query(ctx context.Context, question, fundID string, history []session.Message, topK int) Result {
	if topK <= 0 {
		topK = e.topK
	}

	// RETRIEVE
	candidates := e.index.Search(ctx, question, topK, retrieval.Filter{FundID: fundID})

	// FILTER: threshold, then fall back to the top min(3, n) so a weak match
	// still grounds the answer rather than leaving it blank.
	contexts := filterByScore(candidates, e.threshold)
	if len(contexts) == 0 && len(candidates) > 0 {
		n := 3
		if len(candidates) < n {
			n = len(candidates)
		}
		contexts = candidates[:n]
	}

	// METRIC_SHORTCUT: metric questions have one correct numeric answer and
	// must not be subject to generation variance.
	if fundID != "" && isMetricQuestion(question) {
		metrics, err := e.metrics.CalculateAllMetrics(ctx, fundID)
		if err == nil {
			return Result{
				Answer:  renderMetricsAnswer(fundID, metrics),
				Sources: contexts,
				Metrics: metrics,
			}
		}
		e.logger.Warn("metrics calculation failed, falling through to generation",
			"fund_id", fundID, "error", err)
	}

	// GENERATE
	prompt := buildPrompt(history, contexts, question)
	genCtx, cancel := context.WithTimeout(ctx, e.chatTimeout)
	defer cancel()

	answer, err := e.gen.Chat(genCtx, e.chatModel, []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}, nil)
	if err != nil {
		e.logger.Error("generation failed, returning degraded answer", "error", err)
		answer = degradedAnswer(contexts)
	}

	return Result{Answer: answer, Sources: contexts}
}

func filterByScore(candidates []retrieval.ScoredRecord, threshold float32) []retrieval.ScoredRecord {
	var kept []retrieval.ScoredRecord
	for _, c := range candidates {
		if c.Score >= threshold {
			kept = append(kept, c)
		}
	}
	return kept
}

func isMetricQuestion(question string) bool {
	q := strings.ToLower(question)
	for _, kw := range metricKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

func degradedAnswer(contexts []retrieval.ScoredRecord) string {
	if len(contexts) == 0 {
		return "I could not generate an answer right now, and no relevant documents were found. Please try again."
	}
	return "I could not generate an answer right now. The most relevant document excerpts are attached as sources; please try again."
}
