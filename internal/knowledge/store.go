// Package knowledge persists documents and their embedded chunks in
// PostgreSQL + pgvector and answers the scoped similarity searches the
// retrieval cascade is built from.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Store manages knowledge documents and chunks.
//
// Store is safe for concurrent use by multiple goroutines. The database
// serializes concurrent writers via upsert-on-conflict; Store adds no
// locking of its own.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// InsertDocument inserts a new document row. A document insert failure is
// fatal for the whole ingestion and is surfaced to the caller.
// Assigns a fresh UUID when doc.ID is empty.
func (s *Store) InsertDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling document metadata: %w", err)
	}

	var syncKey *string
	if doc.SyncKey != "" {
		syncKey = &doc.SyncKey
	}
	var projectID *string
	if doc.Scope.ProjectID != "" {
		projectID = &doc.Scope.ProjectID
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (id, tenant_id, project_id, folder, sync_key, doc_type, source_name, content, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		doc.ID, doc.Scope.TenantID, projectID, doc.Scope.Folder, syncKey,
		doc.Type, doc.SourceName, doc.Content, metadataJSON, now,
	)
	if err != nil {
		return fmt.Errorf("inserting document %q: %w", doc.ID, err)
	}

	s.logger.Debug("inserted document", "id", doc.ID, "scope", doc.Scope.String(), "content_length", len(doc.Content))
	return nil
}

// FindSynced looks up the live document for a synced scope key.
// Returns found=false when the scope has never been synced.
func (s *Store) FindSynced(ctx context.Context, syncKey string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM documents WHERE sync_key = $1`, syncKey,
	).Scan(&id)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("looking up synced document %q: %w", syncKey, err)
	default:
		return id, true, nil
	}
}

// DeleteDocument removes a document and its chunks atomically. Used by
// the ingestion pipeline when replacing a synced scope.
func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("delete rollback", "error", rbErr)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("deleting chunks of document %q: %w", docID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, docID); err != nil {
		return fmt.Errorf("deleting document %q: %w", docID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing delete of document %q: %w", docID, err)
	}

	s.logger.Debug("deleted document", "id", docID)
	return nil
}

// UpsertChunks batch-inserts chunks using their deterministic identifiers.
// Re-running ingestion for the same document id is a no-op update rather
// than a duplicate. A batch failure is fatal and surfaced to the caller;
// ingestion is safe to re-run.
func (s *Store) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for chunk %q: %w", c.ID, err)
		}
		var projectID *string
		if c.Scope.ProjectID != "" {
			projectID = &c.Scope.ProjectID
		}
		batch.Queue(
			`INSERT INTO chunks (id, document_id, tenant_id, project_id, folder, content, embedding, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE
			 SET content = EXCLUDED.content,
			     embedding = EXCLUDED.embedding,
			     metadata = EXCLUDED.metadata`,
			c.ID, c.DocumentID, c.Scope.TenantID, projectID, c.Scope.Folder,
			c.Content, pgvector.NewVector(c.Embedding), metadataJSON,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() {
		if closeErr := results.Close(); closeErr != nil {
			s.logger.Debug("closing chunk batch", "error", closeErr)
		}
	}()

	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting chunk batch: %w", err)
		}
	}

	s.logger.Debug("upserted chunks", "count", len(chunks))
	return nil
}

// Search performs a scoped cosine-similarity search over chunks.
// Results are ordered by similarity descending and filtered by the
// threshold in SQL, so one round trip serves one cascade step.
func (s *Store) Search(ctx context.Context, queryVec []float32, f SearchFilter) ([]Match, error) {
	if f.Limit <= 0 {
		f.Limit = 5
	}

	var b strings.Builder
	args := []any{pgvector.NewVector(queryVec), f.TenantID, f.Threshold}
	b.WriteString(
		`SELECT id, content, COALESCE(folder, ''), metadata, 1 - (embedding <=> $1) AS similarity
		 FROM chunks
		 WHERE tenant_id = $2
		   AND embedding IS NOT NULL
		   AND 1 - (embedding <=> $1) >= $3`)

	if f.ProjectID != "" {
		args = append(args, f.ProjectID)
		fmt.Fprintf(&b, " AND (project_id IS NULL OR project_id = $%d)", len(args))
	}
	if len(f.Folders) > 0 {
		args = append(args, f.Folders)
		fmt.Fprintf(&b, " AND folder = ANY($%d)", len(args))
	}

	args = append(args, f.Limit)
	fmt.Fprintf(&b, " ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	return s.scanMatches(rows)
}

// KeywordSearch is the last-resort fallback: a plain substring match over
// document content within a tenant, no embeddings involved.
func (s *Store) KeywordSearch(ctx context.Context, tenantID int64, keyword string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 2
	}

	rows, err := s.pool.Query(ctx,
		`SELECT content FROM documents
		 WHERE tenant_id = $1 AND content ILIKE '%' || $2 || '%'
		 ORDER BY updated_at DESC
		 LIMIT $3`,
		tenantID, keyword, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword searching documents: %w", err)
	}
	defer rows.Close()

	var contents []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scanning keyword match: %w", err)
		}
		contents = append(contents, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keyword matches: %w", err)
	}
	return contents, nil
}

// CountChunks returns the number of chunks stored for a tenant. Used by
// operator tooling and tests to verify ingestion outcomes.
func (s *Store) CountChunks(ctx context.Context, tenantID int64) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE tenant_id = $1`, tenantID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

// scanMatches reads Match rows from a search query.
func (s *Store) scanMatches(rows pgx.Rows) ([]Match, error) {
	var matches []Match
	for rows.Next() {
		var m Match
		var metadataJSON []byte
		if err := rows.Scan(&m.ChunkID, &m.Content, &m.Folder, &metadataJSON, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
				s.logger.Warn("failed to parse chunk metadata", "chunk_id", m.ChunkID, "error", err)
				m.Metadata = map[string]string{}
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}
