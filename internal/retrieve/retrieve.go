// Package retrieve implements the cascading scoped search that grounds
// assistant replies.
//
// A retrieval runs an ordered list of folder-routed similarity searches,
// stops as soon as enough unique context is accumulated, and degrades
// through progressively broader fallbacks: tenant-wide vector search,
// then keyword match, then ErrNoGrounding for the caller to handle (web
// search or a polite deferral). Every call is a pure read; internal step
// failures never abort the cascade.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aurohq/auro-assistant/internal/knowledge"
	"github.com/aurohq/auro-assistant/internal/scope"
)

// ErrNoGrounding signals that every stage of the cascade came back
// empty. Callers check with errors.Is and decide between web search and
// deferral.
var ErrNoGrounding = errors.New("no grounded context found")

// Keywords holds the routing vocabularies. They are tuned per deployment
// (brand names differ per brokerage), so they live in configuration, not
// in code.
type Keywords struct {
	// Market routes to market_reports exclusively.
	Market []string

	// Brand routes to agency_history.
	Brand []string

	// Promo routes to hot_topics.
	Promo []string

	// Process routes to faqs and sops.
	Process []string

	// Investment elevates market_reports and projects over the general
	// campaign folders.
	Investment []string

	// Fallback terms drive the last-resort keyword search. Typically the
	// brokerage's brand names.
	Fallback []string
}

// DefaultKeywords returns the routing vocabulary shipped as a baseline.
// Deployments add their brand and project names on top.
func DefaultKeywords() Keywords {
	return Keywords{
		Market:     []string{"market", "report", "outlook", "trend"},
		Brand:      []string{"history", "founded", "founder", "ceo", "office", "opened", "since", "awards", "who are", "who is", "about"},
		Promo:      []string{"promo", "offer", "discount", "urgent", "exclusive", "deal", "limited"},
		Process:    []string{"how", "sop", "process", "procedure", "policy", "faq", "question", "answer", "agency"},
		Investment: []string{"branded", "residence", "investment", "yield"},
		Fallback:   []string{"agency", "real estate"},
	}
}

// Tuning holds the empirically chosen cascade parameters. Campaign
// folders use a higher result cap than agency folders because campaign
// content is denser and narrower. The values are tunables, not
// invariants.
type Tuning struct {
	AgencyThreshold   float64
	AgencyCount       int
	CampaignThreshold float64
	CampaignCount     int

	// FallbackCount caps the tenant-wide search that runs when every
	// routed step missed.
	FallbackCount int

	// Target is the unique-result count at which the cascade stops
	// issuing further steps.
	Target int

	// MaxResults caps the accumulated result list.
	MaxResults int

	// KeywordLimit caps the last-resort keyword search.
	KeywordLimit int

	// DedupPrefix is the number of leading characters compared when
	// deciding whether two chunks are the same content.
	DedupPrefix int
}

// DefaultTuning returns the production parameter set.
func DefaultTuning() Tuning {
	return Tuning{
		AgencyThreshold:   0.15,
		AgencyCount:       8,
		CampaignThreshold: 0.15,
		CampaignCount:     10,
		FallbackCount:     5,
		Target:            3,
		MaxResults:        8,
		KeywordLimit:      2,
		DedupPrefix:       50,
	}
}

// searcher is the slice of the knowledge store the orchestrator needs.
type searcher interface {
	Search(ctx context.Context, queryVec []float32, f knowledge.SearchFilter) ([]knowledge.Match, error)
	KeywordSearch(ctx context.Context, tenantID int64, keyword string, limit int) ([]string, error)
}

// queryEmbedder embeds a search query, failing loudly when no vector can
// be produced.
type queryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// step is one entry in the cascade: a set of folders searched together.
type step struct {
	folders []string
}

// campaign reports whether the step touches project-specific folders and
// should use the campaign tuning.
func (s step) campaign() bool {
	for _, f := range s.folders {
		if f == scope.FolderCampaignDocs {
			return true
		}
	}
	return false
}

// Orchestrator runs the retrieval cascade. Safe for concurrent use; it
// holds no per-request state.
type Orchestrator struct {
	store    searcher
	embedder queryEmbedder
	keywords Keywords
	tuning   Tuning
	logger   *slog.Logger
}

// New creates a retrieval orchestrator. Zero-valued tuning fields fall
// back to the defaults.
func New(store searcher, emb queryEmbedder, keywords Keywords, tuning Tuning, logger *slog.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultTuning()
	if tuning.AgencyThreshold == 0 {
		tuning.AgencyThreshold = def.AgencyThreshold
	}
	if tuning.AgencyCount == 0 {
		tuning.AgencyCount = def.AgencyCount
	}
	if tuning.CampaignThreshold == 0 {
		tuning.CampaignThreshold = def.CampaignThreshold
	}
	if tuning.CampaignCount == 0 {
		tuning.CampaignCount = def.CampaignCount
	}
	if tuning.FallbackCount == 0 {
		tuning.FallbackCount = def.FallbackCount
	}
	if tuning.Target == 0 {
		tuning.Target = def.Target
	}
	if tuning.MaxResults == 0 {
		tuning.MaxResults = def.MaxResults
	}
	if tuning.KeywordLimit == 0 {
		tuning.KeywordLimit = def.KeywordLimit
	}
	if tuning.DedupPrefix == 0 {
		tuning.DedupPrefix = def.DedupPrefix
	}

	return &Orchestrator{
		store:    store,
		embedder: emb,
		keywords: keywords,
		tuning:   tuning,
		logger:   logger,
	}, nil
}

// Retrieve returns up to MaxResults deduplicated chunk texts grounding
// the query, earlier steps ranking first. folderHint, when non-empty,
// overrides the routing heuristics and becomes the only routed step.
//
// Returns ErrNoGrounding when every stage came back empty.
func (o *Orchestrator) Retrieve(ctx context.Context, query string, sc scope.Scope, folderHint string) ([]string, error) {
	if !sc.Valid() {
		return nil, fmt.Errorf("invalid retrieval scope: %s", sc.String())
	}
	lower := strings.ToLower(query)

	vec, err := o.embedder.EmbedQuery(ctx, query)
	if err != nil {
		o.logger.Warn("query embedding failed, skipping vector cascade", "error", err)
		return o.keywordFallback(ctx, sc.TenantID, lower)
	}

	steps := o.buildSteps(lower, sc, folderHint)

	var results []string
	for _, st := range steps {
		if len(results) >= o.tuning.Target {
			break
		}

		threshold, count := o.tuning.AgencyThreshold, o.tuning.AgencyCount
		if st.campaign() {
			threshold, count = o.tuning.CampaignThreshold, o.tuning.CampaignCount
		}

		matches, err := o.store.Search(ctx, vec, knowledge.SearchFilter{
			TenantID:  sc.TenantID,
			ProjectID: sc.ProjectID,
			Folders:   st.folders,
			Threshold: threshold,
			Limit:     count,
		})
		if err != nil {
			o.logger.Warn("cascade step failed, continuing", "folders", st.folders, "error", err)
			continue
		}
		results = o.accumulate(results, matches)
	}

	if len(results) == 0 {
		matches, err := o.store.Search(ctx, vec, knowledge.SearchFilter{
			TenantID:  sc.TenantID,
			ProjectID: sc.ProjectID,
			Threshold: o.tuning.CampaignThreshold,
			Limit:     o.tuning.FallbackCount,
		})
		if err != nil {
			o.logger.Warn("broad fallback search failed", "error", err)
		} else {
			results = o.accumulate(results, matches)
		}
	}

	if len(results) == 0 {
		return o.keywordFallback(ctx, sc.TenantID, lower)
	}

	o.logger.Debug("retrieval complete", "tenant_id", sc.TenantID, "results", len(results))
	return results, nil
}

// BrandContext fetches a small agency_history retrieval used by the
// objection-handling flow. A miss is not an error; the caller substitutes
// a default brand line.
func (o *Orchestrator) BrandContext(ctx context.Context, query string, tenantID int64) []string {
	vec, err := o.embedder.EmbedQuery(ctx, query)
	if err != nil {
		o.logger.Warn("brand context embedding failed", "error", err)
		return nil
	}

	matches, err := o.store.Search(ctx, vec, knowledge.SearchFilter{
		TenantID:  tenantID,
		Folders:   []string{scope.FolderAgencyHistory},
		Threshold: o.tuning.AgencyThreshold,
		Limit:     2,
	})
	if err != nil {
		o.logger.Warn("brand context search failed", "error", err)
		return nil
	}

	contents := make([]string, 0, len(matches))
	for _, m := range matches {
		contents = append(contents, m.Content)
	}
	return contents
}

// buildSteps maps the lower-cased query onto the ordered cascade. The
// routing is intentionally a pure function so it can be tested without a
// datastore.
func (o *Orchestrator) buildSteps(lower string, sc scope.Scope, folderHint string) []step {
	if folderHint != "" {
		return []step{{folders: []string{folderHint}}}
	}
	if containsAny(lower, o.keywords.Market) {
		return []step{{folders: []string{scope.FolderMarketReports}}}
	}

	var steps []step
	if sc.ProjectID != "" {
		steps = append(steps, step{folders: []string{scope.FolderCampaignDocs}})
	}
	if containsAny(lower, o.keywords.Brand) {
		steps = append(steps, step{folders: []string{scope.FolderAgencyHistory}})
	}
	if containsAny(lower, o.keywords.Promo) {
		steps = append(steps, step{folders: []string{scope.FolderHotTopics}})
	}
	if containsAny(lower, o.keywords.Process) {
		steps = append(steps, step{folders: []string{scope.FolderFAQs, scope.FolderSOPs}})
	}

	if containsAny(lower, o.keywords.Investment) {
		steps = append(steps,
			step{folders: []string{scope.FolderMarketReports, scope.FolderProjects, scope.FolderCampaignDocs}},
			step{folders: []string{scope.FolderAgencyHistory, scope.FolderWebsite}},
		)
	} else {
		steps = append(steps, step{folders: []string{
			scope.FolderCampaignDocs, scope.FolderProjects, scope.FolderWebsite, scope.FolderMarketReports,
		}})
	}
	return steps
}

// accumulate merges step matches into the running result list, dropping
// prefix-duplicates and honoring the accumulated cap.
func (o *Orchestrator) accumulate(results []string, matches []knowledge.Match) []string {
	for _, m := range matches {
		if len(results) >= o.tuning.MaxResults {
			break
		}
		if o.isDuplicate(results, m.Content) {
			continue
		}
		results = append(results, m.Content)
	}
	return results
}

// isDuplicate compares the fixed-length prefix of a candidate against the
// accepted results. The same chunk often surfaces from both a specific
// and a fallback step.
func (o *Orchestrator) isDuplicate(results []string, candidate string) bool {
	cp := prefix(candidate, o.tuning.DedupPrefix)
	for _, r := range results {
		if prefix(r, o.tuning.DedupPrefix) == cp {
			return true
		}
	}
	return false
}

// keywordFallback runs the last-resort substring search over the
// configured brand terms found in the query.
func (o *Orchestrator) keywordFallback(ctx context.Context, tenantID int64, lower string) ([]string, error) {
	var term string
	for _, k := range o.keywords.Fallback {
		if strings.Contains(lower, strings.ToLower(k)) {
			term = k
			break
		}
	}
	if term == "" {
		return nil, ErrNoGrounding
	}

	contents, err := o.store.KeywordSearch(ctx, tenantID, term, o.tuning.KeywordLimit)
	if err != nil {
		o.logger.Warn("keyword fallback failed", "term", term, "error", err)
		return nil, ErrNoGrounding
	}
	if len(contents) == 0 {
		return nil, ErrNoGrounding
	}

	o.logger.Debug("keyword fallback hit", "term", term, "results", len(contents))
	return contents, nil
}

func containsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
