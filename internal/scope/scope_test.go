package scope

import "testing"

func TestValid(t *testing.T) {
	if (Scope{}).Valid() {
		t.Error("zero scope should be invalid")
	}
	if !(Scope{TenantID: 1}).Valid() {
		t.Error("tenant-only scope should be valid")
	}
}

func TestSyncKey(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		want  string
	}{
		{
			name:  "tenant scope",
			scope: Scope{TenantID: 42, Folder: FolderAgencyHistory},
			want:  "tenant_42_agency_history",
		},
		{
			name:  "project scope wins over tenant",
			scope: Scope{TenantID: 42, ProjectID: "marina-heights", Folder: FolderCampaignDocs},
			want:  "project_marina-heights_campaign_docs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.SyncKey(); got != tt.want {
				t.Errorf("SyncKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChunkIDDeterministic(t *testing.T) {
	sc := Scope{TenantID: 7, Folder: FolderFAQs}

	a := sc.ChunkID("doc-1", 3)
	b := sc.ChunkID("doc-1", 3)
	if a != b {
		t.Errorf("same inputs produced different ids: %q vs %q", a, b)
	}
	if a == sc.ChunkID("doc-1", 4) {
		t.Error("different ordinals must produce different ids")
	}
	if a != "tenant_7_faqs:doc-1:3" {
		t.Errorf("ChunkID() = %q", a)
	}
}
