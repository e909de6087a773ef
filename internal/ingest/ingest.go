// Package ingest turns source content into embedded, searchable chunks.
//
// The pipeline owns the document lifecycle: synced scopes are replaced
// wholesale on every run, uploads accumulate. Chunk identifiers are
// deterministic, so re-running an ingestion upserts instead of
// duplicating.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aurohq/auro-assistant/internal/chunk"
	"github.com/aurohq/auro-assistant/internal/embed"
	"github.com/aurohq/auro-assistant/internal/knowledge"
	"github.com/aurohq/auro-assistant/internal/scope"
)

// documentStore is the slice of the knowledge store the pipeline needs.
type documentStore interface {
	InsertDocument(ctx context.Context, doc *knowledge.Document) error
	FindSynced(ctx context.Context, syncKey string) (string, bool, error)
	DeleteDocument(ctx context.Context, docID string) error
	UpsertChunks(ctx context.Context, chunks []knowledge.Chunk) error
}

// embedder produces one embedding result per input text.
type embedder interface {
	EmbedBatch(ctx context.Context, texts []string, task embed.Task) []embed.Result
}

// Section is one titled block of source content, e.g. a Notion page
// section or a form field from the management console.
type Section struct {
	Title   string
	Content string
}

// Request describes one ingestion run. Either Sections or Text carries
// the content; Sections wins when both are set.
type Request struct {
	Scope      scope.Scope
	Sections   []Section
	Text       string
	SourceName string
	DocType    string
	Metadata   map[string]string

	// Synced marks content that mirrors an external source of truth.
	// Synced content is keyed by the scope and replaced on re-sync;
	// non-synced content (uploads) is append-only.
	Synced bool

	// SyncKey overrides the scope-derived sync key. Website crawls set
	// the page URL here so each page replaces its own previous snapshot
	// instead of fighting over the folder-wide key.
	SyncKey string
}

// Receipt reports what one ingestion run did. ChunksIndexed can be lower
// than ChunksAttempted when embeddings degraded; the gap is the signal
// operators watch.
type Receipt struct {
	DocumentID      string
	ChunksAttempted int
	ChunksIndexed   int
}

// Pipeline executes ingestion runs. Safe for concurrent use.
type Pipeline struct {
	store    documentStore
	embedder embedder
	splitter *chunk.Splitter
	logger   *slog.Logger
}

// New creates an ingestion pipeline.
func New(store documentStore, emb embedder, splitter *chunk.Splitter, logger *slog.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if splitter == nil {
		return nil, fmt.Errorf("splitter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: store, embedder: emb, splitter: splitter, logger: logger}, nil
}

// Ingest runs the full pipeline: replace (synced only), insert document,
// split, embed, upsert. Document insert and chunk upsert failures are
// fatal; a degraded embedding only skips its chunk.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Receipt, error) {
	if !req.Scope.Valid() {
		return Receipt{}, fmt.Errorf("invalid ingestion scope: %s", req.Scope.String())
	}

	content := assemble(req)
	if strings.TrimSpace(content) == "" {
		return Receipt{}, fmt.Errorf("ingestion request has no content")
	}

	syncKey := ""
	if req.Synced {
		syncKey = req.SyncKey
		if syncKey == "" {
			syncKey = req.Scope.SyncKey()
		}
		if err := p.replaceSynced(ctx, syncKey); err != nil {
			return Receipt{}, err
		}
	}

	doc := &knowledge.Document{
		Scope:      req.Scope,
		SyncKey:    syncKey,
		Type:       req.DocType,
		SourceName: req.SourceName,
		Content:    content,
		Metadata:   req.Metadata,
	}
	if err := p.store.InsertDocument(ctx, doc); err != nil {
		return Receipt{}, fmt.Errorf("ingesting %s: %w", req.Scope.String(), err)
	}

	drafts := p.splitter.Split(content)
	receipt := Receipt{DocumentID: doc.ID, ChunksAttempted: len(drafts)}
	if len(drafts) == 0 {
		p.logger.Warn("ingestion produced no chunks", "document_id", doc.ID, "scope", req.Scope.String())
		return receipt, nil
	}

	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.Text
	}
	results := p.embedder.EmbedBatch(ctx, texts, embed.TaskDocument)

	chunks := make([]knowledge.Chunk, 0, len(drafts))
	for i, d := range drafts {
		if results[i].Degraded() {
			p.logger.Warn("skipping chunk with degraded embedding",
				"document_id", doc.ID, "ordinal", d.Ordinal, "reason", results[i].Reason)
			continue
		}
		chunks = append(chunks, knowledge.Chunk{
			ID:         req.Scope.ChunkID(doc.ID, d.Ordinal),
			DocumentID: doc.ID,
			Scope:      req.Scope,
			Content:    d.Text,
			Embedding:  results[i].Vector,
			Metadata: map[string]string{
				"chunk_index": strconv.Itoa(d.Ordinal),
				"type":        string(d.Kind),
				"char_start":  strconv.Itoa(d.CharStart),
				"char_end":    strconv.Itoa(d.CharEnd),
			},
		})
	}

	if err := p.store.UpsertChunks(ctx, chunks); err != nil {
		return receipt, fmt.Errorf("indexing chunks for document %q: %w", doc.ID, err)
	}
	receipt.ChunksIndexed = len(chunks)

	p.logger.Info("ingestion complete",
		"document_id", doc.ID,
		"scope", req.Scope.String(),
		"chunks_attempted", receipt.ChunksAttempted,
		"chunks_indexed", receipt.ChunksIndexed)
	return receipt, nil
}

// replaceSynced removes the previous document for a synced scope key, if
// one exists. The chunks go with it via the store's cascading delete.
func (p *Pipeline) replaceSynced(ctx context.Context, syncKey string) error {
	oldID, found, err := p.store.FindSynced(ctx, syncKey)
	if err != nil {
		return fmt.Errorf("checking existing sync %q: %w", syncKey, err)
	}
	if !found {
		return nil
	}
	if err := p.store.DeleteDocument(ctx, oldID); err != nil {
		return fmt.Errorf("replacing synced document %q: %w", oldID, err)
	}
	p.logger.Debug("replaced synced document", "sync_key", syncKey, "old_id", oldID)
	return nil
}

// assemble joins titled sections into one markdown document. Headings
// matter: the chunker splits on them, so each section becomes its own
// chunk boundary.
func assemble(req Request) string {
	if len(req.Sections) == 0 {
		return req.Text
	}

	parts := make([]string, 0, len(req.Sections))
	for _, s := range req.Sections {
		if strings.TrimSpace(s.Content) == "" {
			continue
		}
		if strings.TrimSpace(s.Title) == "" {
			parts = append(parts, s.Content)
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n%s", s.Title, s.Content))
	}
	return strings.Join(parts, "\n\n")
}
