package matcher

import (
	"sort"
	"strings"

	"runhub/internal/api"
)

// dedupe merges near-duplicate candidates: the same runbook often lives in
// several sources under slightly different titles. Two candidates merge
// when their titles are similar past the configured threshold and their
// alert types overlap. The higher-confidence copy survives and records the
// losers' adapters as alternate sources.
func (m *Matcher) dedupe(candidates []*api.SearchResult) []*api.SearchResult {
	if len(candidates) < 2 {
		return candidates
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	var kept []*api.SearchResult
	for _, c := range candidates {
		merged := false
		for _, k := range kept {
			if m.duplicates(k, c) {
				if c.SourceAdapter != k.SourceAdapter && !containsString(k.AlternateSources, c.SourceAdapter) {
					k.AlternateSources = append(k.AlternateSources, c.SourceAdapter)
					sort.Strings(k.AlternateSources)
				}
				merged = true
				break
			}
		}
		if !merged {
			kept = append(kept, c)
		}
	}
	return kept
}

func (m *Matcher) duplicates(a, b *api.SearchResult) bool {
	if a.Key() == b.Key() {
		return true
	}
	if a.Runbook == nil || b.Runbook == nil {
		return false
	}
	if !alertTypesOverlap(a.Runbook, b.Runbook) {
		return false
	}
	return titleSimilarity(a.Runbook.Title, b.Runbook.Title) >= m.cfg.SimilarityThreshold
}

func alertTypesOverlap(a, b *api.Runbook) bool {
	for _, at := range a.AlertTypes {
		if b.MatchesAlertType(at) {
			return true
		}
	}
	return false
}

// titleSimilarity is the Jaccard index over lowercased title tokens.
func titleSimilarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	intersection := 0
	for tok := range ta {
		if tb[tok] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		tokens[tok] = true
	}
	return tokens
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
