package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) install(t *testing.T) {
	t.Helper()
	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = orig })
}

var ctx = context.Background()

func TestIngestCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /ingest": `{"document_id":"doc-123","status":"queued"}`,
	})
	ts.install(t)

	path := filepath.Join(t.TempDir(), "calls.csv")
	if err := os.WriteFile(path, []byte("date,amount\n2024-01-01,100\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := ingestCmd
	cmd.SetContext(ctx)
	cmd.Flags().Set("file", path)
	cmd.Flags().Set("fund", "f1")
	t.Cleanup(func() {
		cmd.Flags().Set("file", "")
		cmd.Flags().Set("fund", "")
	})

	if err := cmd.RunE(cmd, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/ingest" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["fund_id"] != "f1" {
		t.Errorf("body.fund_id = %v", body["fund_id"])
	}
	if body["format"] != "csv" {
		t.Errorf("body.format = %v, want csv inferred from extension", body["format"])
	}
	if body["filename"] != "calls.csv" {
		t.Errorf("body.filename = %v", body["filename"])
	}
	if body["content"] == "" {
		t.Error("body.content is empty")
	}
}

func TestIngestCommand_MissingFlags(t *testing.T) {
	cmd := ingestCmd
	if err := cmd.RunE(cmd, nil); err == nil || !strings.Contains(err.Error(), "--file") {
		t.Errorf("expected --file error, got %v", err)
	}
}

func TestAskCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /query": `{"answer":"DPI is 0.50x","intent":"calculation","sources":[],"metrics":{"dpi":0.5}}`,
	})
	ts.install(t)

	cmd := askCmd
	cmd.SetContext(ctx)
	cmd.Flags().Set("fund", "f1")
	t.Cleanup(func() { cmd.Flags().Set("fund", "") })

	if err := cmd.RunE(cmd, []string{"what", "is", "the", "dpi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["question"] != "what is the dpi" {
		t.Errorf("question = %v", body["question"])
	}
	if body["fund_id"] != "f1" {
		t.Errorf("fund_id = %v", body["fund_id"])
	}
}

func TestAskCommand_NewConversation(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /conversations": `{"id":"conv-1","fund_id":"f1"}`,
		"POST /query":         `{"answer":"hello","intent":"general","sources":[]}`,
	})
	ts.install(t)

	cmd := askCmd
	cmd.SetContext(ctx)
	cmd.Flags().Set("new-conversation", "true")
	t.Cleanup(func() { cmd.Flags().Set("new-conversation", "false") })

	if err := cmd.RunE(cmd, []string{"hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ts.requests))
	}
	if ts.requests[0].Path != "/conversations" {
		t.Errorf("first request = %s", ts.requests[0].Path)
	}

	var body map[string]any
	json.Unmarshal([]byte(ts.requests[1].Body), &body)
	if body["conversation_id"] != "conv-1" {
		t.Errorf("conversation_id = %v, want id from created conversation", body["conversation_id"])
	}
}

func TestFundsMetricsCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /funds/f1/metrics": `{"fund_id":"f1","metrics":{"dpi":0.5,"irr":0.124}}`,
	})
	ts.install(t)

	cmd := fundsMetricsCmd
	cmd.SetContext(ctx)
	if err := cmd.RunE(cmd, []string{"f1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Method != "GET" {
		t.Errorf("method = %s", ts.requests[0].Method)
	}
}

func TestFormatMetric(t *testing.T) {
	tests := []struct {
		key   string
		value float64
		want  string
	}{
		{"irr", 0.124, "12.40%"},
		{"dpi", 0.5, "0.5000x"},
		{"tvpi", 1.25, "1.2500x"},
		{"pic", 1200000, "1200000.00"},
	}
	for _, tt := range tests {
		if got := formatMetric(tt.key, tt.value); got != tt.want {
			t.Errorf("formatMetric(%q, %v) = %q, want %q", tt.key, tt.value, got, tt.want)
		}
	}
}

func TestDecodeJSON_ErrorStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var v map[string]any
	err = decodeJSON(resp, &v)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 error, got %v", err)
	}
}
