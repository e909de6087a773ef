package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aurohq/auro-assistant/internal/prompt"
	"github.com/aurohq/auro-assistant/internal/retrieve"
	"github.com/aurohq/auro-assistant/internal/scope"
	"github.com/aurohq/auro-assistant/internal/websearch"
)

// retriever runs the cascading retrieval over the knowledge base.
type retriever interface {
	Retrieve(ctx context.Context, query string, sc scope.Scope, folderHint string) ([]string, error)
	BrandContext(ctx context.Context, query string, tenantID int64) []string
}

// promptRouter classifies queries and renders the final prompt.
type promptRouter interface {
	Classify(query string) prompt.Intent
	Route(query string, retrieved, brandContext []string) (string, error)
}

// webSearcher answers queries the knowledge base cannot ground.
type webSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// queryRequest is the JSON body for POST /api/v1/query and /api/v1/answer.
type queryRequest struct {
	TenantID   int64  `json:"tenant_id"`
	ProjectID  string `json:"project_id,omitempty"`
	Query      string `json:"query"`
	FolderHint string `json:"folder_hint,omitempty"`
}

type queryResponse struct {
	Chunks []string `json:"chunks"`
}

type answerResponse struct {
	Prompt    string   `json:"prompt"`
	Intent    string   `json:"intent"`
	Chunks    []string `json:"chunks"`
	WebSearch bool     `json:"web_search"`
}

type retrievalHandler struct {
	retriever retriever
	prompts   promptRouter
	web       webSearcher // nil when no search provider is configured
	logger    *slog.Logger
}

func (h *retrievalHandler) decode(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", h.logger)
		return req, false
	}
	if req.TenantID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "tenant_id must be positive", h.logger)
		return req, false
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required", h.logger)
		return req, false
	}
	return req, true
}

// query exposes raw retrieval for debugging and downstream integrations.
func (h *retrievalHandler) query(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	sc := scope.Scope{TenantID: req.TenantID, ProjectID: req.ProjectID}
	chunks, err := h.retriever.Retrieve(r.Context(), req.Query, sc, req.FolderHint)
	if err != nil {
		if errors.Is(err, retrieve.ErrNoGrounding) {
			writeError(w, http.StatusNotFound, "no_grounding", "no grounded context found for query", h.logger)
			return
		}
		h.logger.Error("retrieval failed", "tenant", req.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "retrieval_failed", "retrieval failed", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{Chunks: chunks})
}

// answer runs the full flow: retrieval, web-search fallback, intent
// classification, and prompt assembly.
func (h *retrievalHandler) answer(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	sc := scope.Scope{TenantID: req.TenantID, ProjectID: req.ProjectID}
	usedWeb := false

	chunks, err := h.retriever.Retrieve(r.Context(), req.Query, sc, req.FolderHint)
	switch {
	case err == nil:
	case errors.Is(err, retrieve.ErrNoGrounding):
		chunks, usedWeb = h.searchFallback(r.Context(), req.Query)
		if chunks == nil {
			writeError(w, http.StatusNotFound, "no_grounding", "no grounded context found for query", h.logger)
			return
		}
	default:
		h.logger.Error("retrieval failed", "tenant", req.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "retrieval_failed", "retrieval failed", h.logger)
		return
	}

	intent := h.prompts.Classify(req.Query)

	var brandContext []string
	if intent == prompt.IntentObjection {
		brandContext = h.retriever.BrandContext(r.Context(), req.Query, req.TenantID)
	}

	rendered, err := h.prompts.Route(req.Query, chunks, brandContext)
	if err != nil {
		h.logger.Error("prompt assembly failed", "intent", intent, "error", err)
		writeError(w, http.StatusInternalServerError, "prompt_failed", "prompt assembly failed", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, answerResponse{
		Prompt:    rendered,
		Intent:    string(intent),
		Chunks:    chunks,
		WebSearch: usedWeb,
	})
}

// searchFallback consults the live web search provider when the knowledge
// base has nothing. The marker prefix keeps the provenance visible in the
// assembled prompt.
func (h *retrievalHandler) searchFallback(ctx context.Context, query string) ([]string, bool) {
	if h.web == nil {
		return nil, false
	}

	answer, err := h.web.Search(ctx, query)
	if err != nil {
		h.logger.Warn("web search fallback failed", "error", err)
		return nil, false
	}

	return []string{websearch.ContextMarker + answer}, true
}
