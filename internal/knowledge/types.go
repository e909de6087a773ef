package knowledge

import (
	"time"

	"github.com/aurohq/auro-assistant/internal/scope"
)

// Document type tags stored in the doc_type column.
const (
	TypeBrandStory     = "brand_story"
	TypeCampaignManual = "campaign_manual"
	TypeBrochure       = "brochure"
	TypeWebPage        = "web_page"
)

// Document is a unit of ingested source content. Documents are owned by
// the ingestion pipeline: synced documents are replaced wholesale on every
// re-sync, uploads are append-only, and retrieval never mutates them.
type Document struct {
	ID         string
	Scope      scope.Scope
	SyncKey    string // stable scope key for synced content; empty for uploads
	Type       string
	SourceName string
	Content    string
	Metadata   map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Chunk is the atomic unit of retrieval, derived from exactly one
// document. The scope columns duplicate the document's scope so search
// filters never need a join.
type Chunk struct {
	ID         string // deterministic: <syncKey>:<documentID>:<ordinal>
	DocumentID string
	Scope      scope.Scope
	Content    string
	Embedding  []float32
	Metadata   map[string]string
}

// Match is one similarity-search result.
type Match struct {
	ChunkID    string
	Content    string
	Folder     string
	Similarity float64
	Metadata   map[string]string
}

// SearchFilter scopes a similarity search. Folders may hold one tag, many
// tags, or be nil for a tenant-wide search.
type SearchFilter struct {
	TenantID  int64
	ProjectID string   // empty = no project filter
	Folders   []string // nil = all folders
	Threshold float64  // minimum cosine similarity
	Limit     int
}
