package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fundlens/fundlens/internal/query"
	"github.com/fundlens/fundlens/internal/retrieval"
	"github.com/fundlens/fundlens/internal/session"
	"github.com/fundlens/fundlens/internal/storage"
)

const testToken = "test-token"

type fakeQuery struct {
	response    query.Response
	lastHistory []session.Message
	lastFundID  string
	calls       int
}

func (f *fakeQuery) Ask(ctx context.Context, question, fundID string, history []session.Message, topK int) query.Response {
	f.calls++
	f.lastFundID = fundID
	f.lastHistory = history
	return f.response
}

type fakeMetricsEngine struct {
	metrics map[string]float64
	err     error
}

func (f *fakeMetricsEngine) CalculateAllMetrics(ctx context.Context, fundID string) (map[string]float64, error) {
	return f.metrics, f.err
}

type fakeClearer struct {
	removed int
	err     error
}

func (f *fakeClearer) Clear(ctx context.Context, fundID string) (int, error) {
	return f.removed, f.err
}

type testApp struct {
	store   *storage.Store
	handler http.Handler
	query   *fakeQuery
	metrics *fakeMetricsEngine
	clearer *fakeClearer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	app := &testApp{
		store:   store,
		query:   &fakeQuery{response: query.Response{Answer: "the answer", Intent: query.IntentGeneral}},
		metrics: &fakeMetricsEngine{metrics: map[string]float64{"dpi": 0.5}},
		clearer: &fakeClearer{removed: 3},
	}
	app.handler = NewAppHandler(AppDeps{
		Store:    store,
		Sessions: session.NewStore(store.DB()),
		Query:    app.query,
		Metrics:  app.metrics,
		Index:    app.clearer,
		DataDir:  t.TempDir(),
		Token:    testToken,
	})
	return app
}

func (a *testApp) do(t *testing.T, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthUnauthenticated(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/health", nil, false)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/query", QueryRequest{Question: "hi"}, false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d without token, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewBufferString(`{"question":"hi"}`))
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec2 := httptest.NewRecorder()
	app.handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Errorf("status = %d with wrong token, want 401", rec2.Code)
	}
}

func TestIngestEnqueuesJob(t *testing.T) {
	app := newTestApp(t)

	content := base64.StdEncoding.EncodeToString([]byte("date,amount\n2024-01-01,100\n"))
	rec := app.do(t, http.MethodPost, "/ingest", IngestRequest{
		FundID: "f1", Format: "csv", Filename: "calls.csv", Content: content,
	}, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "queued" || resp["document_id"] == "" {
		t.Errorf("response = %v", resp)
	}

	doc, err := app.store.GetDocument(resp["document_id"])
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != storage.DocProcessing {
		t.Errorf("document status = %q, want processing", doc.Status)
	}

	job, err := app.store.ClaimNextJob([]string{storage.JobDocumentProcess})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("no job enqueued")
	}
}

func TestIngestValidation(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name string
		req  IngestRequest
	}{
		{"missing fund", IngestRequest{Format: "csv", Content: "aGk="}},
		{"missing content", IngestRequest{FundID: "f1", Format: "csv"}},
		{"bad format", IngestRequest{FundID: "f1", Format: "docx", Content: "aGk="}},
		{"bad base64", IngestRequest{FundID: "f1", Format: "csv", Content: "!!!not base64!!!"}},
	}
	for _, tt := range tests {
		rec := app.do(t, http.MethodPost, "/ingest", tt.req, true)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, rec.Code)
		}
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/documents/missing", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestQueryWithConversation(t *testing.T) {
	app := newTestApp(t)

	// Create a conversation first.
	rec := app.do(t, http.MethodPost, "/conversations", CreateConversationRequest{FundID: "f1"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("create conversation status = %d", rec.Code)
	}
	var conv map[string]string
	json.Unmarshal(rec.Body.Bytes(), &conv)

	rec = app.do(t, http.MethodPost, "/query", QueryRequest{
		Question:       "what happened in Q1?",
		ConversationID: conv["id"],
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d, body %s", rec.Code, rec.Body)
	}

	// Fund falls back to the conversation's fund.
	if app.query.lastFundID != "f1" {
		t.Errorf("fund passed to engine = %q, want f1 from conversation", app.query.lastFundID)
	}

	// Both turns recorded.
	rec = app.do(t, http.MethodGet, "/conversations/"+conv["id"], nil, true)
	var got struct {
		Messages []messageView `json:"messages"`
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got.Messages) != 2 {
		t.Fatalf("conversation has %d messages, want 2", len(got.Messages))
	}
	if got.Messages[0].Role != "user" || got.Messages[1].Role != "assistant" {
		t.Errorf("roles = %q/%q", got.Messages[0].Role, got.Messages[1].Role)
	}
	if got.Messages[1].Content != "the answer" {
		t.Errorf("assistant turn = %q", got.Messages[1].Content)
	}
}

func TestQueryUnknownConversation(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/query", QueryRequest{
		Question:       "hi",
		ConversationID: "missing",
	}, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if app.query.calls != 0 {
		t.Error("engine invoked for unknown conversation")
	}
}

func TestQueryReturnsSourcesAndMetrics(t *testing.T) {
	app := newTestApp(t)
	app.query.response = query.Response{
		Answer: "Metrics for fund f1",
		Intent: query.IntentCalculation,
		Sources: []retrieval.ScoredRecord{
			{Record: retrieval.Record{ID: "r1", DocumentID: "d1", Content: "chunk"}, Score: 0.9},
		},
		Metrics: map[string]float64{"irr": 0.12},
	}

	rec := app.do(t, http.MethodPost, "/query", QueryRequest{Question: "what is the irr", FundID: "f1"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Intent != "calculation" {
		t.Errorf("intent = %q", resp.Intent)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].DocumentID != "d1" {
		t.Errorf("sources = %v", resp.Sources)
	}
	if resp.Metrics["irr"] != 0.12 {
		t.Errorf("metrics = %v", resp.Metrics)
	}
}

func TestFundMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/funds/f1/metrics", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		FundID  string             `json:"fund_id"`
		Metrics map[string]float64 `json:"metrics"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.FundID != "f1" || resp.Metrics["dpi"] != 0.5 {
		t.Errorf("response = %+v", resp)
	}
}

func TestFundMetricsNotFound(t *testing.T) {
	app := newTestApp(t)
	app.metrics.err = storage.ErrNotFound

	rec := app.do(t, http.MethodGet, "/funds/missing/metrics", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestFundMetricsWrappedNotFound(t *testing.T) {
	app := newTestApp(t)
	app.metrics.err = errors.Join(errors.New("loading fund"), storage.ErrNotFound)

	rec := app.do(t, http.MethodGet, "/funds/missing/metrics", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d for wrapped ErrNotFound, want 404", rec.Code)
	}
}

func TestClearEmbeddings(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodDelete, "/funds/f1/embeddings", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Removed int `json:"removed"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Removed != 3 {
		t.Errorf("removed = %d, want 3", resp.Removed)
	}
}

func TestCreateAndDeleteFund(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/funds", CreateFundRequest{
		ID: "f1", Name: "Growth Fund", Commitment: "10000000", NAV: "2500000",
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("create fund status = %d, body %s", rec.Code, rec.Body)
	}

	rec = app.do(t, http.MethodGet, "/funds", nil, true)
	var funds []fundView
	json.Unmarshal(rec.Body.Bytes(), &funds)
	if len(funds) != 1 || funds[0].Name != "Growth Fund" {
		t.Errorf("funds = %v", funds)
	}
	if funds[0].Commitment != "10000000" {
		t.Errorf("commitment = %q", funds[0].Commitment)
	}
}

func TestCreateFundBadAmount(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/funds", CreateFundRequest{Name: "F", Commitment: "ten million"}, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteConversation(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/conversations", CreateConversationRequest{}, true)
	var conv map[string]string
	json.Unmarshal(rec.Body.Bytes(), &conv)

	rec = app.do(t, http.MethodDelete, "/conversations/"+conv["id"], nil, true)
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}

	rec = app.do(t, http.MethodDelete, "/conversations/"+conv["id"], nil, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}
