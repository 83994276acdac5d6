// Package ingest runs document processing jobs off the request path, so
// embedding work never blocks query traffic.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fundlens/fundlens/internal/pipeline"
	"github.com/fundlens/fundlens/internal/storage"
)

// JobStore abstracts the job queue and document lookups.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocument(id string) (storage.Document, error)
}

// Processor runs the ingestion pipeline for one document.
type Processor interface {
	Process(ctx context.Context, doc storage.Document, data []byte) pipeline.Result
}

// Payload is the document_process job payload.
type Payload struct {
	DocumentID string `json:"document_id"`
	Path       string `json:"path"`
}

// Worker processes document_process jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	processor Processor
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, processor Processor, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, processor: processor, poll: pollInterval, logger: logger}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single document_process job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{storage.JobDocumentProcess})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocument(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	data, err := os.ReadFile(payload.Path)
	if err != nil {
		return fmt.Errorf("reading document content %s: %w", payload.Path, err)
	}

	result := w.processor.Process(ctx, doc, data)
	if result.Status == storage.DocFailed {
		// The document row already carries the error; failing the job lets
		// the queue retry transient causes with backoff.
		return errors.New(result.Error)
	}
	return nil
}
