package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aurohq/auro-assistant/internal/ingest"
	"github.com/aurohq/auro-assistant/internal/scope"
)

// ingester indexes a document into the knowledge base.
type ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Receipt, error)
}

// ingestRequest is the JSON body for POST /api/v1/ingest.
type ingestRequest struct {
	TenantID   int64             `json:"tenant_id"`
	ProjectID  string            `json:"project_id,omitempty"`
	Folder     string            `json:"folder"`
	DocType    string            `json:"doc_type,omitempty"`
	SourceName string            `json:"source_name,omitempty"`
	Synced     bool              `json:"synced,omitempty"`
	SyncKey    string            `json:"sync_key,omitempty"`
	Text       string            `json:"text,omitempty"`
	Sections   []ingestSection   `json:"sections,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type ingestSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type ingestResponse struct {
	DocumentID      string `json:"document_id"`
	ChunksAttempted int    `json:"chunks_attempted"`
	ChunksIndexed   int    `json:"chunks_indexed"`
}

type ingestHandler struct {
	pipeline ingester
	logger   *slog.Logger
}

func (h *ingestHandler) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", h.logger)
		return
	}
	if req.TenantID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "tenant_id must be positive", h.logger)
		return
	}
	if req.Folder == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "folder is required", h.logger)
		return
	}

	sections := make([]ingest.Section, 0, len(req.Sections))
	for _, s := range req.Sections {
		sections = append(sections, ingest.Section{Title: s.Title, Content: s.Content})
	}

	receipt, err := h.pipeline.Ingest(r.Context(), ingest.Request{
		Scope: scope.Scope{
			TenantID:  req.TenantID,
			ProjectID: req.ProjectID,
			Folder:    req.Folder,
		},
		Sections:   sections,
		Text:       req.Text,
		SourceName: req.SourceName,
		DocType:    req.DocType,
		Metadata:   req.Metadata,
		Synced:     req.Synced,
		SyncKey:    req.SyncKey,
	})
	if err != nil {
		h.logger.Error("ingest failed", "tenant", req.TenantID, "folder", req.Folder, "error", err)
		writeError(w, http.StatusInternalServerError, "ingest_failed", "document could not be indexed", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{
		DocumentID:      receipt.DocumentID,
		ChunksAttempted: receipt.ChunksAttempted,
		ChunksIndexed:   receipt.ChunksIndexed,
	})
}
