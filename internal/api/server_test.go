package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aurohq/auro-assistant/internal/ingest"
	"github.com/aurohq/auro-assistant/internal/log"
	"github.com/aurohq/auro-assistant/internal/prompt"
	"github.com/aurohq/auro-assistant/internal/retrieve"
	"github.com/aurohq/auro-assistant/internal/scope"
	"github.com/aurohq/auro-assistant/internal/websearch"
)

type mockPipeline struct {
	lastReq ingest.Request
	receipt ingest.Receipt
	err     error
}

func (m *mockPipeline) Ingest(_ context.Context, req ingest.Request) (ingest.Receipt, error) {
	m.lastReq = req
	return m.receipt, m.err
}

type mockRetriever struct {
	chunks        []string
	err           error
	brand         []string
	brandCalled   bool
	lastScope     scope.Scope
	lastHint      string
	lastQuery     string
	brandTenantID int64
}

func (m *mockRetriever) Retrieve(_ context.Context, query string, sc scope.Scope, hint string) ([]string, error) {
	m.lastQuery = query
	m.lastScope = sc
	m.lastHint = hint
	return m.chunks, m.err
}

func (m *mockRetriever) BrandContext(_ context.Context, _ string, tenantID int64) []string {
	m.brandCalled = true
	m.brandTenantID = tenantID
	return m.brand
}

type mockWebSearch struct {
	answer string
	err    error
	called bool
}

func (m *mockWebSearch) Search(_ context.Context, _ string) (string, error) {
	m.called = true
	return m.answer, m.err
}

type serverFixture struct {
	server    *Server
	pipeline  *mockPipeline
	retriever *mockRetriever
	web       *mockWebSearch
}

func newFixture(t *testing.T, web *mockWebSearch) *serverFixture {
	t.Helper()

	prompts, err := prompt.New(prompt.DefaultKeywords())
	if err != nil {
		t.Fatalf("prompt.New failed: %v", err)
	}

	f := &serverFixture{
		pipeline:  &mockPipeline{receipt: ingest.Receipt{DocumentID: "doc-1", ChunksAttempted: 3, ChunksIndexed: 3}},
		retriever: &mockRetriever{},
		web:       web,
	}

	cfg := ServerConfig{
		Pipeline:  f.pipeline,
		Retriever: f.retriever,
		Prompts:   prompts,
	}
	if web != nil {
		cfg.WebSearch = web
	}

	f.server, err = NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return f
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	return body.Error.Code
}

func TestNewServerRequiresDependencies(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("NewServer with no dependencies should fail")
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rec.Code)
	}
}

func TestReadyWithoutPool(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET /ready = %d, want 200", rec.Code)
	}
}

func TestIngest(t *testing.T) {
	f := newFixture(t, nil)

	rec := postJSON(t, f.server.Handler(), "/api/v1/ingest", map[string]any{
		"tenant_id":   7,
		"project_id":  "marina-heights",
		"folder":      "campaign_docs",
		"doc_type":    "campaign_manual",
		"source_name": "launch.pdf",
		"synced":      true,
		"sections": []map[string]string{
			{"title": "Payment Plan", "content": "60/40 with post-handover installments."},
		},
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/v1/ingest = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.DocumentID != "doc-1" || resp.ChunksIndexed != 3 {
		t.Errorf("response = %+v", resp)
	}

	got := f.pipeline.lastReq
	if got.Scope.TenantID != 7 || got.Scope.ProjectID != "marina-heights" || got.Scope.Folder != "campaign_docs" {
		t.Errorf("pipeline scope = %s", got.Scope.String())
	}
	if !got.Synced || len(got.Sections) != 1 || got.Sections[0].Title != "Payment Plan" {
		t.Errorf("pipeline request = %+v", got)
	}
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing tenant", body: map[string]any{"folder": "faqs", "text": "x"}},
		{name: "missing folder", body: map[string]any{"tenant_id": 1, "text": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, f.server.Handler(), "/api/v1/ingest", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if code := errorCode(t, rec); code != "invalid_request" {
				t.Errorf("code = %q, want invalid_request", code)
			}
		})
	}
}

func TestIngestMalformedBody(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestIngestPipelineError(t *testing.T) {
	f := newFixture(t, nil)
	f.pipeline.err = errors.New("database down")

	rec := postJSON(t, f.server.Handler(), "/api/v1/ingest", map[string]any{
		"tenant_id": 1, "folder": "faqs", "text": "content",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if code := errorCode(t, rec); code != "ingest_failed" {
		t.Errorf("code = %q, want ingest_failed", code)
	}
}

func TestQuery(t *testing.T) {
	f := newFixture(t, nil)
	f.retriever.chunks = []string{"chunk one", "chunk two"}

	rec := postJSON(t, f.server.Handler(), "/api/v1/query", map[string]any{
		"tenant_id": 3, "query": "payment plan", "folder_hint": "campaign_docs",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Chunks) != 2 {
		t.Errorf("chunks = %d, want 2", len(resp.Chunks))
	}
	if f.retriever.lastHint != "campaign_docs" || f.retriever.lastScope.TenantID != 3 {
		t.Errorf("retriever called with scope=%s hint=%q", f.retriever.lastScope.String(), f.retriever.lastHint)
	}
}

func TestQueryNoGrounding(t *testing.T) {
	f := newFixture(t, nil)
	f.retriever.err = retrieve.ErrNoGrounding

	rec := postJSON(t, f.server.Handler(), "/api/v1/query", map[string]any{
		"tenant_id": 3, "query": "weather today",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "no_grounding" {
		t.Errorf("code = %q, want no_grounding", code)
	}
}

func TestAnswerFactual(t *testing.T) {
	f := newFixture(t, nil)
	f.retriever.chunks = []string{"Marina Heights offers a 60/40 payment plan."}

	rec := postJSON(t, f.server.Handler(), "/api/v1/answer", map[string]any{
		"tenant_id": 3, "query": "what payment plans are available",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp answerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Intent != string(prompt.IntentFactual) {
		t.Errorf("intent = %q, want factual", resp.Intent)
	}
	if !strings.Contains(resp.Prompt, "60/40 payment plan") {
		t.Error("prompt should embed the retrieved context")
	}
	if resp.WebSearch {
		t.Error("grounded answer should not mark web_search")
	}
	if f.retriever.brandCalled {
		t.Error("factual intent should not fetch brand context")
	}
}

func TestAnswerObjectionFetchesBrandContext(t *testing.T) {
	f := newFixture(t, nil)
	f.retriever.chunks = []string{"Flexible payment terms are available."}
	f.retriever.brand = []string{"Founded in 2008, two hundred closed deals."}

	rec := postJSON(t, f.server.Handler(), "/api/v1/answer", map[string]any{
		"tenant_id": 9, "query": "this is too expensive for me",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp answerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Intent != string(prompt.IntentObjection) {
		t.Errorf("intent = %q, want objection", resp.Intent)
	}
	if !f.retriever.brandCalled || f.retriever.brandTenantID != 9 {
		t.Error("objection intent should fetch brand context for the tenant")
	}
	if !strings.Contains(resp.Prompt, "Founded in 2008") {
		t.Error("prompt should embed the brand context")
	}
}

func TestAnswerWebSearchFallback(t *testing.T) {
	web := &mockWebSearch{answer: "Current mortgage rates average 4.2 percent."}
	f := newFixture(t, web)
	f.retriever.err = retrieve.ErrNoGrounding

	rec := postJSON(t, f.server.Handler(), "/api/v1/answer", map[string]any{
		"tenant_id": 3, "query": "what are current mortgage rates",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp answerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !web.called || !resp.WebSearch {
		t.Error("fallback should consult web search and mark the response")
	}
	if len(resp.Chunks) != 1 || !strings.HasPrefix(resp.Chunks[0], websearch.ContextMarker) {
		t.Errorf("web result should carry the provenance marker, got %v", resp.Chunks)
	}
}

func TestAnswerNoGroundingWithoutWebSearch(t *testing.T) {
	f := newFixture(t, nil)
	f.retriever.err = retrieve.ErrNoGrounding

	rec := postJSON(t, f.server.Handler(), "/api/v1/answer", map[string]any{
		"tenant_id": 3, "query": "what are current mortgage rates",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAnswerWebSearchError(t *testing.T) {
	web := &mockWebSearch{err: errors.New("provider down")}
	f := newFixture(t, web)
	f.retriever.err = retrieve.ErrNoGrounding

	rec := postJSON(t, f.server.Handler(), "/api/v1/answer", map[string]any{
		"tenant_id": 3, "query": "what are current mortgage rates",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when web fallback fails", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := recoveryMiddleware(log.NewNop())(panicking)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("panic should produce 500, got %d", rec.Code)
	}
}
