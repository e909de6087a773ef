// Package scope defines the addressing hierarchy for knowledge content.
//
// Every document and chunk is filed under a three-level address:
// tenant (brokerage) → project (optional campaign) → folder (topical
// category). Retrieval always executes within a scope filter; the folder
// tag is the primary routing dimension for the search cascade.
package scope

import "fmt"

// Folder tags group content by topical category. These match the folder
// vocabulary used by the broker dashboard and the ingestion endpoints.
const (
	FolderAgencyHistory = "agency_history"
	FolderCampaignDocs  = "campaign_docs"
	FolderMarketReports = "market_reports"
	FolderHotTopics     = "hot_topics"
	FolderFAQs          = "faqs"
	FolderSOPs          = "sops"
	FolderProjects      = "projects"
	FolderWebsite       = "website"
)

// Scope is the (tenant, project, folder) address a document or chunk
// belongs to. ProjectID and Folder may be empty.
type Scope struct {
	TenantID  int64
	ProjectID string
	Folder    string
}

// Valid reports whether the scope carries the minimum required fields.
func (s Scope) Valid() bool {
	return s.TenantID > 0
}

// SyncKey returns the stable lookup key for dashboard-synced content.
// Synced documents are keyed by scope, not by document id, so that every
// re-sync fully replaces the previous generation.
func (s Scope) SyncKey() string {
	if s.ProjectID != "" {
		return fmt.Sprintf("project_%s_%s", s.ProjectID, s.Folder)
	}
	return fmt.Sprintf("tenant_%d_%s", s.TenantID, s.Folder)
}

// ChunkID returns the deterministic chunk identifier for a document chunk.
// The composite of sync key, document id, and ordinal makes re-ingestion
// idempotent via upsert-by-id.
func (s Scope) ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s:%s:%d", s.SyncKey(), documentID, ordinal)
}

// String implements Stringer for log output.
func (s Scope) String() string {
	return fmt.Sprintf("tenant=%d project=%q folder=%q", s.TenantID, s.ProjectID, s.Folder)
}
