package retrieve

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aurohq/auro-assistant/internal/knowledge"
	"github.com/aurohq/auro-assistant/internal/scope"
)

// mockSearcher serves canned matches per folder and records every search
// call so tests can assert on cascade behavior.
type mockSearcher struct {
	byFolder   map[string][]knowledge.Match // folder tag -> matches
	broad      []knowledge.Match            // served when no folder filter is set
	keyword    []string
	searchErr  error
	keywordErr error

	searchCalls  []knowledge.SearchFilter
	keywordCalls []string
}

func (m *mockSearcher) Search(_ context.Context, _ []float32, f knowledge.SearchFilter) ([]knowledge.Match, error) {
	m.searchCalls = append(m.searchCalls, f)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if len(f.Folders) == 0 {
		return m.broad, nil
	}
	var out []knowledge.Match
	for _, folder := range f.Folders {
		out = append(out, m.byFolder[folder]...)
	}
	return out, nil
}

func (m *mockSearcher) KeywordSearch(_ context.Context, _ int64, keyword string, _ int) ([]string, error) {
	m.keywordCalls = append(m.keywordCalls, keyword)
	if m.keywordErr != nil {
		return nil, m.keywordErr
	}
	return m.keyword, nil
}

type mockQueryEmbedder struct {
	err   error
	calls int
}

func (m *mockQueryEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return []float32{0.5, 0.5}, nil
}

func match(content, folder string) knowledge.Match {
	return knowledge.Match{ChunkID: content, Content: content, Folder: folder, Similarity: 0.9}
}

func newOrchestrator(t *testing.T, store *mockSearcher, emb *mockQueryEmbedder) *Orchestrator {
	t.Helper()
	o, err := New(store, emb, DefaultKeywords(), Tuning{}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, &mockQueryEmbedder{}, DefaultKeywords(), Tuning{}, nil); err == nil {
		t.Error("New(nil store) should fail")
	}
	if _, err := New(&mockSearcher{}, nil, DefaultKeywords(), Tuning{}, nil); err == nil {
		t.Error("New(nil embedder) should fail")
	}
}

func TestRetrieveFolderHintOverridesHeuristics(t *testing.T) {
	store := &mockSearcher{byFolder: map[string][]knowledge.Match{
		scope.FolderCampaignDocs:  {match("Payment plan is 60/40.", scope.FolderCampaignDocs)},
		scope.FolderAgencyHistory: {match("Founded in 2008.", scope.FolderAgencyHistory)},
	}}
	o := newOrchestrator(t, store, &mockQueryEmbedder{})

	results, err := o.Retrieve(context.Background(), "What is the payment plan?",
		scope.Scope{TenantID: 1}, scope.FolderCampaignDocs)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	if len(results) != 1 || results[0] != "Payment plan is 60/40." {
		t.Fatalf("Retrieve() = %v, want only the hinted folder's chunk", results)
	}
	for _, call := range store.searchCalls {
		if len(call.Folders) != 1 || call.Folders[0] != scope.FolderCampaignDocs {
			t.Errorf("hinted retrieval searched folders %v", call.Folders)
		}
	}
}

func TestRetrieveBrandKeywordRouting(t *testing.T) {
	store := &mockSearcher{byFolder: map[string][]knowledge.Match{
		scope.FolderAgencyHistory: {match("Founded by two brokers in 2008.", scope.FolderAgencyHistory)},
	}}
	o := newOrchestrator(t, store, &mockQueryEmbedder{})

	results, err := o.Retrieve(context.Background(), "Who founded this agency?", scope.Scope{TenantID: 1}, "")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) == 0 || results[0] != "Founded by two brokers in 2008." {
		t.Fatalf("Retrieve() = %v, want the agency_history chunk first", results)
	}

	first := store.searchCalls[0]
	if len(first.Folders) != 1 || first.Folders[0] != scope.FolderAgencyHistory {
		t.Errorf("first step searched %v, want agency_history", first.Folders)
	}
}

func TestRetrieveMarketKeywordRoutesExclusively(t *testing.T) {
	store := &mockSearcher{byFolder: map[string][]knowledge.Match{
		scope.FolderMarketReports: {match("Q2 prices rose 4 percent.", scope.FolderMarketReports)},
	}}
	o := newOrchestrator(t, store, &mockQueryEmbedder{})

	_, err := o.Retrieve(context.Background(), "What is the market outlook?", scope.Scope{TenantID: 1}, "")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(store.searchCalls) != 1 {
		t.Fatalf("market query issued %d searches, want 1", len(store.searchCalls))
	}
	if store.searchCalls[0].Folders[0] != scope.FolderMarketReports {
		t.Errorf("searched %v, want market_reports", store.searchCalls[0].Folders)
	}
}

func TestRetrieveShortCircuitsAtTarget(t *testing.T) {
	// The first step yields the full target, so no further search calls
	// may be issued.
	store := &mockSearcher{byFolder: map[string][]knowledge.Match{
		scope.FolderCampaignDocs: {
			match("First unique chunk about the tower.", scope.FolderCampaignDocs),
			match("Second unique chunk about amenities.", scope.FolderCampaignDocs),
			match("Third unique chunk about handover.", scope.FolderCampaignDocs),
		},
	}}
	o := newOrchestrator(t, store, &mockQueryEmbedder{})

	results, err := o.Retrieve(context.Background(), "Tell me about the tower",
		scope.Scope{TenantID: 1, ProjectID: "marina"}, "")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Retrieve() = %d results, want 3", len(results))
	}
	if len(store.searchCalls) != 1 {
		t.Errorf("issued %d search calls after reaching target, want 1", len(store.searchCalls))
	}
}

func TestRetrievePrefixDedup(t *testing.T) {
	shared := strings.Repeat("a", 60) + " campaign copy"
	sharedAgain := strings.Repeat("a", 60) + " fallback copy" // same 50-char prefix

	store := &mockSearcher{byFolder: map[string][]knowledge.Match{
		scope.FolderCampaignDocs: {match(shared, scope.FolderCampaignDocs)},
		scope.FolderProjects:     {match(sharedAgain, scope.FolderProjects)},
	}}
	o := newOrchestrator(t, store, &mockQueryEmbedder{})

	results, err := o.Retrieve(context.Background(), "anything at all", scope.Scope{TenantID: 1}, "")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Retrieve() = %d results, want 1 after prefix dedup", len(results))
	}
	if results[0] != shared {
		t.Errorf("dedup kept %q, want the first-seen chunk", results[0])
	}
}

func TestRetrieveCapsAccumulatedResults(t *testing.T) {
	var matches []knowledge.Match
	for _, word := range []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel", "india", "juliett"} {
		matches = append(matches, match(word+" chunk with distinct content", scope.FolderCampaignDocs))
	}
	store := &mockSearcher{byFolder: map[string][]knowledge.Match{scope.FolderCampaignDocs: matches}}
	o := newOrchestrator(t, store, &mockQueryEmbedder{})

	results, err := o.Retrieve(context.Background(), "everything about the project",
		scope.Scope{TenantID: 1, ProjectID: "marina"}, "")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) > DefaultTuning().MaxResults {
		t.Errorf("Retrieve() = %d results, cap is %d", len(results), DefaultTuning().MaxResults)
	}
}

func TestRetrieveCampaignVersusAgencyTuning(t *testing.T) {
	store := &mockSearcher{byFolder: map[string][]knowledge.Match{
		scope.FolderAgencyHistory: {match("Founded in 2008.", scope.FolderAgencyHistory)},
	}}
	o := newOrchestrator(t, store, &mockQueryEmbedder{})

	_, err := o.Retrieve(context.Background(), "who founded the brokerage and what about the project",
		scope.Scope{TenantID: 1, ProjectID: "marina"}, "")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	tuning := DefaultTuning()
	var sawCampaign, sawAgency bool
	for _, call := range store.searchCalls {
		campaign := false
		for _, f := range call.Folders {
			if f == scope.FolderCampaignDocs {
				campaign = true
			}
		}
		if campaign {
			sawCampaign = true
			if call.Limit != tuning.CampaignCount {
				t.Errorf("campaign step limit = %d, want %d", call.Limit, tuning.CampaignCount)
			}
		} else if len(call.Folders) > 0 {
			sawAgency = true
			if call.Limit != tuning.AgencyCount {
				t.Errorf("agency step limit = %d, want %d", call.Limit, tuning.AgencyCount)
			}
		}
	}
	if !sawCampaign || !sawAgency {
		t.Errorf("cascade steps missing: campaign=%v agency=%v", sawCampaign, sawAgency)
	}
}

func TestRetrieveStepErrorTreatedAsEmpty(t *testing.T) {
	store := &mockSearcher{searchErr: errors.New("rpc unavailable")}
	o := newOrchestrator(t, store, &mockQueryEmbedder{})

	_, err := o.Retrieve(context.Background(), "unrelated question", scope.Scope{TenantID: 1}, "")
	if !errors.Is(err, ErrNoGrounding) {
		t.Fatalf("Retrieve() error = %v, want ErrNoGrounding (step errors are zero results)", err)
	}
}

func TestRetrieveBroadFallbackWhenStepsEmpty(t *testing.T) {
	store := &mockSearcher{broad: []knowledge.Match{match("Tenant-wide discovery chunk.", scope.FolderWebsite)}}
	o := newOrchestrator(t, store, &mockQueryEmbedder{})

	results, err := o.Retrieve(context.Background(), "something very obscure", scope.Scope{TenantID: 1}, "")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 1 || results[0] != "Tenant-wide discovery chunk." {
		t.Fatalf("Retrieve() = %v, want the broad fallback match", results)
	}

	last := store.searchCalls[len(store.searchCalls)-1]
	if len(last.Folders) != 0 {
		t.Errorf("broad fallback filtered folders %v, want none", last.Folders)
	}
	if last.Limit != DefaultTuning().FallbackCount {
		t.Errorf("broad fallback limit = %d, want %d", last.Limit, DefaultTuning().FallbackCount)
	}
}

func TestRetrieveKeywordFallbackOnEmbedFailure(t *testing.T) {
	store := &mockSearcher{keyword: []string{"The agency operates across three emirates."}}
	emb := &mockQueryEmbedder{err: errors.New("provider down")}
	o := newOrchestrator(t, store, emb)

	results, err := o.Retrieve(context.Background(), "Tell me about the agency", scope.Scope{TenantID: 1}, "")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Retrieve() = %v, want the keyword fallback result", results)
	}
	if len(store.searchCalls) != 0 {
		t.Errorf("vector search ran %d times without a query vector", len(store.searchCalls))
	}
	if len(store.keywordCalls) != 1 {
		t.Errorf("keyword search ran %d times, want 1", len(store.keywordCalls))
	}
}

func TestRetrieveFullMiss(t *testing.T) {
	store := &mockSearcher{}
	o := newOrchestrator(t, store, &mockQueryEmbedder{})

	results, err := o.Retrieve(context.Background(), "completely unrelated topic", scope.Scope{TenantID: 1}, "")
	if !errors.Is(err, ErrNoGrounding) {
		t.Fatalf("Retrieve() error = %v, want ErrNoGrounding", err)
	}
	if len(results) != 0 {
		t.Errorf("Retrieve() = %v results on a full miss, want none", results)
	}
}

func TestRetrieveInvalidScope(t *testing.T) {
	o := newOrchestrator(t, &mockSearcher{}, &mockQueryEmbedder{})

	if _, err := o.Retrieve(context.Background(), "query", scope.Scope{}, ""); err == nil {
		t.Error("Retrieve with zero tenant should fail")
	}
}

func TestBrandContext(t *testing.T) {
	store := &mockSearcher{byFolder: map[string][]knowledge.Match{
		scope.FolderAgencyHistory: {
			match("Fifteen years in the market.", scope.FolderAgencyHistory),
			match("Over 400 agents.", scope.FolderAgencyHistory),
		},
	}}
	o := newOrchestrator(t, store, &mockQueryEmbedder{})

	contents := o.BrandContext(context.Background(), "too expensive", 1)
	if len(contents) != 2 {
		t.Fatalf("BrandContext() = %d results, want 2", len(contents))
	}
	call := store.searchCalls[0]
	if len(call.Folders) != 1 || call.Folders[0] != scope.FolderAgencyHistory {
		t.Errorf("BrandContext searched %v, want agency_history only", call.Folders)
	}
	if call.Limit != 2 {
		t.Errorf("BrandContext limit = %d, want 2", call.Limit)
	}
}

func TestBrandContextDegradesToNil(t *testing.T) {
	o := newOrchestrator(t, &mockSearcher{searchErr: errors.New("down")}, &mockQueryEmbedder{})
	if got := o.BrandContext(context.Background(), "why trust you", 1); got != nil {
		t.Errorf("BrandContext() = %v on search error, want nil", got)
	}
}

func TestBuildStepsProcessKeywords(t *testing.T) {
	o := newOrchestrator(t, &mockSearcher{}, &mockQueryEmbedder{})

	steps := o.buildSteps("what is the sop for viewings", scope.Scope{TenantID: 1}, "")
	found := false
	for _, st := range steps {
		if len(st.folders) == 2 && st.folders[0] == scope.FolderFAQs && st.folders[1] == scope.FolderSOPs {
			found = true
		}
	}
	if !found {
		t.Errorf("process query steps = %v, want a [faqs sops] step", steps)
	}
}

func TestBuildStepsInvestmentElevation(t *testing.T) {
	o := newOrchestrator(t, &mockSearcher{}, &mockQueryEmbedder{})

	steps := o.buildSteps("branded residence investment yield", scope.Scope{TenantID: 1}, "")
	if len(steps) < 2 {
		t.Fatalf("investment query built %d steps, want at least 2", len(steps))
	}
	first := steps[len(steps)-2]
	if first.folders[0] != scope.FolderMarketReports {
		t.Errorf("investment elevation first folder = %q, want market_reports", first.folders[0])
	}
}
