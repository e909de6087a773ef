// Package prompt classifies query intent and populates the grounded
// response-generation templates. Routing is a pure function of the
// current turn's text and the context bundle; no state survives a call.
package prompt

import (
	"fmt"
	"strings"
	"text/template"
)

// Intent is the detected conversational intent of a query.
type Intent string

const (
	// IntentObjection covers doubt, price pushback, and trust concerns.
	IntentObjection Intent = "objection"

	// IntentBrand covers questions about the agency itself.
	IntentBrand Intent = "brand"

	// IntentFactual is the default factual Q&A intent.
	IntentFactual Intent = "factual"
)

// DefaultBrandLine substitutes for brand context when the agency_history
// retrieval comes back empty. The objection template always needs a
// credibility line.
const DefaultBrandLine = "A premier real estate agency in Dubai."

// contextLimit caps how many retrieved chunks are packed into a prompt.
const contextLimit = 3

// Keywords holds the classification vocabularies. Like the retrieval
// routing lists, they are deployment configuration.
type Keywords struct {
	Objection []string
	Brand     []string
}

// DefaultKeywords returns the baseline classification vocabulary.
func DefaultKeywords() Keywords {
	return Keywords{
		Objection: []string{"expensive", "high", "wait", "think", "better", "cheap", "reason", "why", "scam", "trust", "risk", "objection"},
		Brand:     []string{"who are", "about", "history", "background", "founded", "ceo", "founder", "awards"},
	}
}

const factualTemplate = `You are a professional Dubai Real Estate Assistant. Your goal is to provide accurate, helpful information based STRICTLY on the provided context.

QUESTION: {{.Query}}

CONTEXT:
{{.Context}}

INSTRUCTIONS:
1. Use only the context above to answer.
2. If the answer isn't in the context, say you'll check and get back to them.
3. Keep the response concise (max 3 sentences).
4. Be polite and professional.
5. NATURAL CONVERSATION RULE: Never mention file names (like "report.pdf"), UUIDs, or database codes in your response. Cite the "Market Report" or "Brochure" generally if needed, but sound like a human expert, not a file system.

RESPONSE:
`

const objectionTemplate = `You are a senior investment advisor. A lead has raised a concern or objection. Use the Brand Context to establish trust and the Project/Campaign Context to provide specific value.

LEAD CONCERN: "{{.Query}}"

BRAND CREDIBILITY (Agency Context):
{{.BrandContext}}

PROJECT/CAMPAIGN FACTS (Specific Context):
{{.Context}}

INSTRUCTIONS:
1. Acknowledge and validate the concern warmly.
2. Bridge from the concern to a specific benefit using the Project Context.
3. Reinforce the recommendation using the Brand Credibility (how many years in market, etc.).
4. End with a soft-closing question to keep the conversation open.
5. Tone: Empathetic, expert, persuasive but not pushy.
6. NATURAL CONVERSATION RULE: Never mention file names, IDs, or "context sources". Speak naturally.

RESPONSE:
`

const brandTemplate = `You are a senior brand ambassador for the agency. Your goal is to build maximum trust and authority.

QUESTION: "{{.Query}}"

GROUND TRUTH (Agency History):
{{.Context}}

INSTRUCTIONS:
1. PERSUASIVE ACCURACY: Be confident and professional. Use the facts to reinforce market leadership.
2. SOURCE GROUNDING: Do not speculate. If the detail is missing, say you'll have a senior specialist confirm it.
3. Keep it warm and authoritative.
4. NATURAL CONVERSATION RULE: Never mention file names, IDs, or internal docs.

RESPONSE:
`

// templateData is the payload every template is executed against.
type templateData struct {
	Query        string
	Context      string
	BrandContext string
}

// Router classifies queries and renders prompts. Safe for concurrent
// use once constructed.
type Router struct {
	keywords  Keywords
	factual   *template.Template
	objection *template.Template
	brand     *template.Template
}

// New creates a prompt router with the given classification vocabulary.
func New(keywords Keywords) (*Router, error) {
	factual, err := template.New("factual").Parse(factualTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing factual template: %w", err)
	}
	objection, err := template.New("objection").Parse(objectionTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing objection template: %w", err)
	}
	brand, err := template.New("brand").Parse(brandTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing brand template: %w", err)
	}
	return &Router{keywords: keywords, factual: factual, objection: objection, brand: brand}, nil
}

// Classify returns the query intent. Precedence: objection before brand
// before factual, so "why should I trust you" handles the doubt rather
// than reciting agency history.
func (r *Router) Classify(query string) Intent {
	lower := strings.ToLower(query)
	if containsAny(lower, r.keywords.Objection) {
		return IntentObjection
	}
	if containsAny(lower, r.keywords.Brand) {
		return IntentBrand
	}
	return IntentFactual
}

// Route renders the populated prompt for a query and its retrieved
// context. brandContext is required by the objection branch only; when
// the objection branch gets none, DefaultBrandLine stands in.
func (r *Router) Route(query string, retrieved []string, brandContext []string) (string, error) {
	data := templateData{
		Query:   query,
		Context: joinContext(retrieved),
	}

	switch r.Classify(query) {
	case IntentObjection:
		data.BrandContext = strings.Join(brandContext, "\n")
		if strings.TrimSpace(data.BrandContext) == "" {
			data.BrandContext = DefaultBrandLine
		}
		return r.render(r.objection, data)
	case IntentBrand:
		return r.render(r.brand, data)
	default:
		return r.render(r.factual, data)
	}
}

func (r *Router) render(tmpl *template.Template, data templateData) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}

// joinContext packs the top retrieved chunks into the prompt, separated
// so the model sees chunk boundaries.
func joinContext(retrieved []string) string {
	if len(retrieved) > contextLimit {
		retrieved = retrieved[:contextLimit]
	}
	return strings.Join(retrieved, "\n---\n")
}

func containsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
