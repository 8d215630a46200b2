package matcher

import (
	"context"
	"strings"

	"runhub/internal/api"
	strutil "runhub/pkg/strings"
)

// SearchKnowledgeBase runs the free-text document pipeline. It reuses the
// fan-out, ranking and cutoff stages of the runbook pipeline but scores on
// text and tag relevance instead of alert semantics.
func (m *Matcher) SearchKnowledgeBase(ctx context.Context, targets []Target, query string, filters api.SearchFilters) *Result {
	query = strings.TrimSpace(query)

	if filters.Source != "" {
		var narrowed []Target
		for _, t := range targets {
			if t.Name == filters.Source {
				narrowed = append(narrowed, t)
			}
		}
		targets = narrowed
	}
	if len(targets) == 0 {
		return &Result{
			Degraded:      true,
			GlobalReasons: []api.MatchReason{api.ReasonNoSourcesAvailable},
		}
	}

	minConfidence := m.cfg.MinConfidence
	if filters.MinConfidence != nil {
		minConfidence = *filters.MinConfidence
	}
	maxResults := m.cfg.MaxResults
	if filters.MaxResults != nil {
		maxResults = *filters.MaxResults
	}

	opts := api.SearchOptions{
		Types:         filters.Types,
		Categories:    filters.Categories,
		MaxResults:    maxResults,
		MinConfidence: minConfidence,
	}
	out := m.fanOut(ctx, targets, func(ctx context.Context, t Target) ([]*api.SearchResult, error) {
		return t.Adapter.Search(ctx, query, opts)
	})

	var candidates []*api.SearchResult
	for _, branch := range out.branches {
		for _, raw := range branch.results {
			scored := m.scoreDocument(query, filters, raw, branch.target)
			if scored != nil {
				candidates = append(candidates, scored)
			}
		}
	}

	candidates = m.dedupe(candidates)
	m.rank(candidates, targetPriorities(targets))
	results, reasons := m.cutoff(candidates, minConfidence, maxResults)

	res := &Result{
		Results:          results,
		Degraded:         out.degraded,
		PartialFailures:  out.failures,
		DeadlineExceeded: out.deadlineExceeded,
		GlobalReasons:    reasons,
	}
	if out.allFailed {
		res.GlobalReasons = append(res.GlobalReasons, api.ReasonNoSourcesAvailable)
	}
	return res
}

// scoreDocument scores a plain document hit on the adapter's base relevance
// plus text and tag evidence.
func (m *Matcher) scoreDocument(query string, filters api.SearchFilters, raw *api.SearchResult, target Target) *api.SearchResult {
	doc := raw.Document
	if doc == nil && raw.Runbook != nil {
		doc = &raw.Runbook.Document
	}
	if doc == nil {
		return nil
	}
	if filters.DocumentType != "" && doc.ContentType != filters.DocumentType {
		return nil
	}

	score := clamp01(raw.Confidence)
	var reasons []api.MatchReason

	if hits := textHits(doc, query); hits > 0 {
		bonus := 0.05 * float64(hits)
		if bonus > 0.20 {
			bonus = 0.20
		}
		score += bonus
		reasons = append(reasons, api.ReasonTextMatch)
	}
	if tagHit(doc, filters.Categories) {
		score += 0.10
		reasons = append(reasons, api.ReasonTagMatch)
	}
	if len(reasons) == 0 {
		// The adapter found the document relevant even though local scoring
		// has no evidence of its own. Every result carries a reason.
		reasons = append(reasons, api.ReasonSourceRelevance)
	}
	if target.Degraded {
		reasons = append(reasons, api.ReasonDegradedSource)
	}

	return &api.SearchResult{
		Document:      doc,
		Confidence:    clamp01(score),
		Excerpt:       strutil.Truncate(doc.Body, excerptLen),
		MatchReasons:  reasons,
		SourceAdapter: target.Name,
	}
}

// excerptLen caps the single-line body excerpt on document results.
const excerptLen = 200

// textHits counts query tokens present in the document's title or body.
func textHits(doc *api.Document, query string) int {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return 0
	}
	title := strings.ToLower(doc.Title)
	body := strings.ToLower(doc.Body)
	hits := 0
	for tok := range tokens {
		if strings.Contains(title, tok) || strings.Contains(body, tok) {
			hits++
		}
	}
	return hits
}

// tagHit reports whether any requested category appears in the document's
// comma-separated tags metadata.
func tagHit(doc *api.Document, categories []string) bool {
	if len(categories) == 0 {
		return false
	}
	raw, ok := doc.Metadata["tags"]
	if !ok {
		return false
	}
	tags := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		tags[strings.ToLower(strings.TrimSpace(t))] = true
	}
	for _, c := range categories {
		if tags[strings.ToLower(c)] {
			return true
		}
	}
	return false
}
