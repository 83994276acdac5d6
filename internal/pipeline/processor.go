// Package pipeline orchestrates document ingestion: parse, extract, persist,
// and index, with caller-visible progress checkpoints.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fundlens/fundlens/internal/doctext"
	"github.com/fundlens/fundlens/internal/extract"
	"github.com/fundlens/fundlens/internal/retrieval"
	"github.com/fundlens/fundlens/internal/storage"
	"github.com/fundlens/fundlens/internal/tables"
)

// Progress checkpoints reported to the documents table. The percentages are
// only for caller-visible status, nothing branches on them.
const (
	progressValidated = 5
	progressParsed    = 30
	progressExtracted = 50
	progressPersisted = 70
	progressIndexed   = 90
	progressDone      = 100
)

// Store is the persistence surface the processor writes through.
type Store interface {
	SaveTransactions(txns []storage.Transaction) error
	DeleteTransactionsByDocument(documentID string) error
	SetDocumentProgress(id string, progress int) error
	CompleteDocument(id string) error
	FailDocument(id string, errMsg string) error
}

// Indexer adds document chunks to the embedding index.
type Indexer interface {
	Add(ctx context.Context, chunks []retrieval.Chunk) error
}

// Result is the terminal state of one ingestion.
type Result struct {
	DocumentID       string
	Status           string
	Progress         int
	TransactionCount int
	Error            string
}

// Processor runs the ingestion stages sequentially for one document.
type Processor struct {
	parser    *tables.Parser
	text      *doctext.Extractor
	extractor extract.Extractor
	store     Store
	index     Indexer
	logger    *slog.Logger
}

func NewProcessor(parser *tables.Parser, text *doctext.Extractor, extractor extract.Extractor, store Store, index Indexer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		parser:    parser,
		text:      text,
		extractor: extractor,
		store:     store,
		index:     index,
		logger:    logger,
	}
}

// Process ingests one document. Failures set status=failed with the captured
// error; persisted transactions are removed again if a later stage fails, so
// a failed document never contributes rows.
func (p *Processor) Process(ctx context.Context, doc storage.Document, data []byte) Result {
	format := tables.ParseFormat(doc.Format)

	// Validate.
	if len(data) == 0 {
		return p.fail(doc.ID, progressValidated, "document is empty")
	}
	p.progress(doc.ID, progressValidated)

	// Parse. Malformed sections are recovered inside the parser, so this
	// stage yields at worst an empty table set.
	records := p.parser.Parse(data, format)
	p.progress(doc.ID, progressParsed)

	// Extract full text early so the empty-document check below can tell
	// "nothing extractable" apart from "narrative only".
	text := p.text.Extract(data, format)

	// Extract transactions.
	batch, err := p.extractor.Extract(ctx, extract.Input{Tables: records, Text: text})
	if err != nil {
		if errors.Is(err, extract.ErrSchema) {
			return p.fail(doc.ID, progressParsed, fmt.Sprintf("extraction output rejected: %v", err))
		}
		return p.fail(doc.ID, progressParsed, fmt.Sprintf("extraction failed: %v", err))
	}
	if batch.Empty() && strings.TrimSpace(text) == "" {
		return p.fail(doc.ID, progressParsed, "no transactions or text could be extracted")
	}
	p.progress(doc.ID, progressExtracted)

	// Persist. One SQLite transaction for the whole batch.
	txns := p.toTransactions(doc, batch)
	if err := p.store.SaveTransactions(txns); err != nil {
		return p.fail(doc.ID, progressExtracted, fmt.Sprintf("persisting transactions: %v", err))
	}
	p.progress(doc.ID, progressPersisted)

	// Index. A failure here must not leave the document half-ingested, so
	// the persisted batch is removed before reporting failure.
	if strings.TrimSpace(text) != "" {
		chunks := chunkText(text, doc)
		if err := p.index.Add(ctx, chunks); err != nil {
			if delErr := p.store.DeleteTransactionsByDocument(doc.ID); delErr != nil {
				p.logger.Error("rollback after index failure also failed",
					"document_id", doc.ID, "error", delErr)
			}
			return p.fail(doc.ID, progressPersisted, fmt.Sprintf("indexing document text: %v", err))
		}
	}
	p.progress(doc.ID, progressIndexed)

	if err := p.store.CompleteDocument(doc.ID); err != nil {
		p.logger.Error("marking document completed failed", "document_id", doc.ID, "error", err)
	}

	p.logger.Info("document processed",
		"document_id", doc.ID, "fund_id", doc.FundID, "transactions", len(txns))

	return Result{
		DocumentID:       doc.ID,
		Status:           storage.DocCompleted,
		Progress:         progressDone,
		TransactionCount: len(txns),
	}
}

func (p *Processor) toTransactions(doc storage.Document, batch extract.Batch) []storage.Transaction {
	var txns []storage.Transaction
	add := func(raw []extract.RawTransaction, typ string) {
		for _, r := range raw {
			txns = append(txns, storage.Transaction{
				ID:                       uuid.NewString(),
				FundID:                   doc.FundID,
				DocumentID:               doc.ID,
				Type:                     typ,
				Date:                     extract.ParseDate(r.Date),
				Amount:                   r.Amount,
				Description:              r.Description,
				DistributionType:         r.DistributionType,
				IsRecallable:             r.IsRecallable,
				AdjustmentType:           r.AdjustmentType,
				Category:                 r.Category,
				IsContributionAdjustment: r.IsContributionAdjustment,
			})
		}
	}
	add(batch.CapitalCalls, storage.TxnCapitalCall)
	add(batch.Distributions, storage.TxnDistribution)
	add(batch.Adjustments, storage.TxnAdjustment)
	return txns
}

func (p *Processor) progress(docID string, pct int) {
	if err := p.store.SetDocumentProgress(docID, pct); err != nil {
		p.logger.Warn("recording document progress failed", "document_id", docID, "error", err)
	}
}

func (p *Processor) fail(docID string, pct int, msg string) Result {
	if err := p.store.FailDocument(docID, msg); err != nil {
		p.logger.Error("marking document failed failed", "document_id", docID, "error", err)
	}
	p.logger.Warn("document processing failed", "document_id", docID, "error", msg)
	return Result{
		DocumentID: docID,
		Status:     storage.DocFailed,
		Progress:   pct,
		Error:      msg,
	}
}

// chunkMaxLen bounds how much text goes into one embedding.
const chunkMaxLen = 1500

// chunkText splits document text on blank lines and packs paragraphs into
// chunks of at most chunkMaxLen bytes, never cutting a multi-byte character.
func chunkText(text string, doc storage.Document) []retrieval.Chunk {
	paras := strings.Split(text, "\n\n")

	var chunks []retrieval.Chunk
	var current strings.Builder
	flush := func() {
		content := strings.TrimSpace(current.String())
		current.Reset()
		if content == "" {
			return
		}
		chunks = append(chunks, retrieval.Chunk{
			DocumentID: doc.ID,
			FundID:     doc.FundID,
			Content:    content,
			Metadata:   fmt.Sprintf(`{"filename":%q,"format":%q}`, doc.Filename, doc.Format),
		})
	}

	for _, para := range paras {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para) > chunkMaxLen {
			flush()
		}
		for len(para) > chunkMaxLen {
			// A single oversized paragraph is split hard, backing up to a
			// rune boundary so no multi-byte character is cut in half.
			cut := chunkMaxLen
			for cut > 0 && !utf8.RuneStart(para[cut]) {
				cut--
			}
			flush()
			current.WriteString(para[:cut])
			flush()
			para = para[cut:]
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}
