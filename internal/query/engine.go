// Package query routes a question to the computation path best suited to
// answer it. Classification is keyword-based for latency and determinism.
package query

import (
	"context"
	"log/slog"
	"strings"

	"github.com/fundlens/fundlens/internal/rag"
	"github.com/fundlens/fundlens/internal/retrieval"
	"github.com/fundlens/fundlens/internal/session"
)

// Intent is the coarse class of a question.
type Intent string

const (
	IntentCalculation Intent = "calculation"
	IntentRetrieval   Intent = "retrieval"
	IntentGeneral     Intent = "general"
)

var calculationVocab = []string{"calculate", "what is the", "dpi", "irr", "tvpi", "rvpi", "pic", "paid-in"}
var retrievalVocab = []string{"show", "list", "find", "when", "which", "how many"}

// Classify assigns an intent from fixed keyword vocabularies. Calculation
// wins over retrieval when both match.
func Classify(question string) Intent {
	q := strings.ToLower(question)
	for _, kw := range calculationVocab {
		if strings.Contains(q, kw) {
			return IntentCalculation
		}
	}
	for _, kw := range retrievalVocab {
		if strings.Contains(q, kw) {
			return IntentRetrieval
		}
	}
	return IntentGeneral
}

// Answerer is the RAG engine surface the router drives.
type Answerer interface {
	Query(ctx context.Context, question, fundID string, history []session.Message, topK int) rag.Result
}

// Response is the merged answer returned to the caller.
type Response struct {
	Answer  string
	Intent  Intent
	Sources []retrieval.ScoredRecord
	Metrics map[string]float64
}

// Engine classifies questions and routes them. Calculation questions with a
// known fund compute full metrics eagerly and still run the RAG engine for
// narrative grounding; the two results merge into one response.
type Engine struct {
	rag     Answerer
	metrics rag.MetricsCalculator
	logger  *slog.Logger
}

func NewEngine(answerer Answerer, metrics rag.MetricsCalculator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rag: answerer, metrics: metrics, logger: logger}
}

// Ask answers a question. The RAG engine's own metric shortcut can still fire
// independently of the intent here; when both trigger, its deterministic
// answer and metrics win and the eager computation is just confirmation.
func (e *Engine) Ask(ctx context.Context, question, fundID string, history []session.Message, topK int) Response {
	intent := Classify(question)

	var eager map[string]float64
	if intent == IntentCalculation && fundID != "" {
		m, err := e.metrics.CalculateAllMetrics(ctx, fundID)
		if err != nil {
			e.logger.Warn("eager metrics calculation failed", "fund_id", fundID, "error", err)
		} else {
			eager = m
		}
	}

	result := e.rag.Query(ctx, question, fundID, history, topK)

	metrics := result.Metrics
	if metrics == nil {
		metrics = eager
	}

	return Response{
		Answer:  result.Answer,
		Intent:  intent,
		Sources: result.Sources,
		Metrics: metrics,
	}
}
