// Package api exposes the ingestion and query pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundlens/fundlens/internal/query"
	"github.com/fundlens/fundlens/internal/session"
	"github.com/fundlens/fundlens/internal/storage"
	"github.com/fundlens/fundlens/internal/tables"
)

const maxIngestBodySize = 50 << 20 // 50MB, base64-encoded documents
const maxRequestBodySize = 1 << 20 // 1MB

// QueryEngine answers questions.
type QueryEngine interface {
	Ask(ctx context.Context, question, fundID string, history []session.Message, topK int) query.Response
}

// MetricsEngine computes fund metrics.
type MetricsEngine interface {
	CalculateAllMetrics(ctx context.Context, fundID string) (map[string]float64, error)
}

// EmbeddingClearer removes indexed chunks for a fund.
type EmbeddingClearer interface {
	Clear(ctx context.Context, fundID string) (int, error)
}

type AppDeps struct {
	Store    *storage.Store
	Sessions *session.Store
	Query    QueryEngine
	Metrics  MetricsEngine
	Index    EmbeddingClearer
	DataDir  string
	Token    string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/ingest", handleIngest(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Post("/query", handleQuery(deps))
		r.Post("/funds", handleCreateFund(deps))
		r.Get("/funds", handleListFunds(deps))
		r.Get("/funds/{id}/metrics", handleFundMetrics(deps))
		r.Delete("/funds/{id}/embeddings", handleClearEmbeddings(deps))
		r.Post("/conversations", handleCreateConversation(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Delete("/conversations/{id}", handleDeleteConversation(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type IngestRequest struct {
	FundID   string `json:"fund_id"`
	Format   string `json:"format"`
	Filename string `json:"filename"`
	Content  string `json:"content"` // base64
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.FundID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "fund_id is required")
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if tables.ParseFormat(req.Format) == tables.FormatUnknown {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported format %q", req.Format)
			return
		}

		data, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
			return
		}

		docID := uuid.NewString()
		docDir := filepath.Join(deps.DataDir, "documents")
		if err := os.MkdirAll(docDir, 0o755); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store document content: %v", err)
			return
		}
		path := filepath.Join(docDir, docID)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store document content: %v", err)
			return
		}

		doc := storage.Document{
			ID:       docID,
			FundID:   req.FundID,
			Filename: req.Filename,
			Format:   req.Format,
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		payload, err := json.Marshal(map[string]string{"document_id": docID, "path": path})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.NewString(),
			Type:        storage.JobDocumentProcess,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		writeJSON(w, map[string]string{
			"document_id": docID,
			"status":      "queued",
		})
	}
}

type documentView struct {
	ID        string    `json:"id"`
	FundID    string    `json:"fund_id"`
	Filename  string    `json:"filename"`
	Format    string    `json:"format"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Store.GetDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		writeJSON(w, documentView{
			ID:        doc.ID,
			FundID:    doc.FundID,
			Filename:  doc.Filename,
			Format:    doc.Format,
			Status:    doc.Status,
			Progress:  doc.Progress,
			Error:     doc.Error,
			CreatedAt: doc.CreatedAt,
			UpdatedAt: doc.UpdatedAt,
		})
	}
}

type QueryRequest struct {
	Question       string `json:"question"`
	FundID         string `json:"fund_id"`
	ConversationID string `json:"conversation_id"`
	TopK           int    `json:"top_k"`
}

type sourceView struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

type QueryResponse struct {
	Answer         string             `json:"answer"`
	Intent         string             `json:"intent"`
	Sources        []sourceView       `json:"sources"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
	ConversationID string             `json:"conversation_id,omitempty"`
}

func handleQuery(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		var history []session.Message
		if req.ConversationID != "" {
			sess, err := deps.Sessions.Get(req.ConversationID)
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "conversation not found")
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load conversation: %v", err)
				return
			}
			history = sess.Messages
			if req.FundID == "" {
				req.FundID = sess.FundID
			}
		}

		res := deps.Query.Ask(r.Context(), req.Question, req.FundID, history, req.TopK)

		if req.ConversationID != "" {
			err := deps.Sessions.Append(req.ConversationID,
				session.Message{Role: "user", Content: req.Question},
				session.Message{Role: "assistant", Content: res.Answer},
			)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to record conversation turns: %v", err)
				return
			}
		}

		sources := make([]sourceView, 0, len(res.Sources))
		for _, s := range res.Sources {
			sources = append(sources, sourceView{
				ID:         s.ID,
				DocumentID: s.DocumentID,
				Content:    s.Content,
				Score:      s.Score,
			})
		}

		writeJSON(w, QueryResponse{
			Answer:         res.Answer,
			Intent:         string(res.Intent),
			Sources:        sources,
			Metrics:        res.Metrics,
			ConversationID: req.ConversationID,
		})
	}
}

type CreateFundRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Commitment string `json:"commitment"`
	NAV        string `json:"nav"`
}

func handleCreateFund(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CreateFundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		fund := storage.Fund{
			ID:         req.ID,
			Name:       req.Name,
			Commitment: decimal.Zero,
			NAV:        decimal.Zero,
		}
		if fund.ID == "" {
			fund.ID = uuid.NewString()
		}
		if req.Commitment != "" {
			v, err := decimal.NewFromString(req.Commitment)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid commitment: %v", err)
				return
			}
			fund.Commitment = v
		}
		if req.NAV != "" {
			v, err := decimal.NewFromString(req.NAV)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid nav: %v", err)
				return
			}
			fund.NAV = v
		}

		if err := deps.Store.SaveFund(fund); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save fund: %v", err)
			return
		}

		writeJSON(w, map[string]string{"id": fund.ID, "status": "created"})
	}
}

type fundView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Commitment string `json:"commitment"`
	NAV        string `json:"nav"`
}

func handleListFunds(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		funds, err := deps.Store.ListFunds()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list funds: %v", err)
			return
		}

		views := make([]fundView, 0, len(funds))
		for _, f := range funds {
			views = append(views, fundView{
				ID:         f.ID,
				Name:       f.Name,
				Commitment: f.Commitment.String(),
				NAV:        f.NAV.String(),
			})
		}
		writeJSON(w, views)
	}
}

func handleFundMetrics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		metrics, err := deps.Metrics.CalculateAllMetrics(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "fund not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to calculate metrics: %v", err)
			return
		}

		writeJSON(w, map[string]any{"fund_id": id, "metrics": metrics})
	}
}

func handleClearEmbeddings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		removed, err := deps.Index.Clear(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear embeddings: %v", err)
			return
		}

		writeJSON(w, map[string]any{"fund_id": id, "removed": removed})
	}
}

type CreateConversationRequest struct {
	FundID string `json:"fund_id"`
}

func handleCreateConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CreateConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		sess, err := deps.Sessions.Create(req.FundID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create conversation: %v", err)
			return
		}

		writeJSON(w, map[string]string{
			"id":      sess.ID,
			"fund_id": sess.FundID,
		})
	}
}

type messageView struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func handleGetConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		sess, err := deps.Sessions.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}

		messages := make([]messageView, 0, len(sess.Messages))
		for _, m := range sess.Messages {
			messages = append(messages, messageView{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
		}
		writeJSON(w, map[string]any{
			"id":       sess.ID,
			"fund_id":  sess.FundID,
			"messages": messages,
		})
	}
}

func handleDeleteConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Sessions.Delete(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete conversation: %v", err)
			return
		}

		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
