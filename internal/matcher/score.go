package matcher

import (
	"fmt"
	"sort"
	"strings"

	"runhub/internal/api"
	"runhub/internal/index"
)

// Scoring weights. The base relevance comes from the adapter; the bonuses
// reward the dimensions an operator cares about during an incident, in
// decreasing order of signal strength.
const (
	exactAlertBonus    = 0.35
	aliasAlertBonus    = 0.20
	severityBonus      = 0.20
	severityPenalty    = 0.05
	systemBonus        = 0.10
	systemBonusCap     = 0.25
	contextBonus       = 0.05
	contextBonusCap    = 0.10
	defaultSuccessRate = 0.9
)

// scoreRunbook turns one raw adapter hit into a scored candidate, or nil
// when the hit is not admissible for the query. A runbook whose alert types
// are disjoint from the query is excluded outright unless an alias or a
// context overlap argues for keeping it.
func (m *Matcher) scoreRunbook(snap *index.Snapshot, query api.RunbookQuery, raw *api.SearchResult, target Target) *api.SearchResult {
	rb := raw.Runbook
	if rb == nil && raw.Document != nil {
		// Adapters that only return plain documents rely on the corpus for
		// the parsed runbook form.
		if indexed, ok := snap.Runbooks[raw.Document.Key()]; ok {
			rb = indexed
		}
	}
	if rb == nil {
		return nil
	}

	score := clamp01(raw.Confidence)
	var reasons []api.MatchReason

	exact := rb.MatchesAlertType(query.AlertType)
	alias := !exact && m.aliasMatch(rb, query.AlertType)
	contextHits := contextMatches(rb, query.Context)

	switch {
	case exact:
		score += exactAlertBonus
		reasons = append(reasons, api.ReasonExactAlertTypeMatch)
	case alias:
		score += aliasAlertBonus
		reasons = append(reasons, api.ReasonAliasAlertTypeMatch)
	case len(rb.AlertTypes) > 0 && contextHits == 0:
		return nil
	}

	if query.Severity != "" && query.Severity.Valid() {
		if rb.MatchesSeverity(query.Severity) {
			score += severityBonus
			reasons = append(reasons, api.ReasonSeverityMatch)
		} else if len(rb.Severities) > 0 {
			score -= severityPenalty * float64(nearestSeverityDistance(rb, query.Severity))
			reasons = append(reasons, api.ReasonSeverityNear)
		}
	}

	if overlap := systemOverlap(rb, query.AffectedSystems); overlap > 0 {
		bonus := systemBonus * float64(overlap)
		if bonus > systemBonusCap {
			bonus = systemBonusCap
		}
		score += bonus
		reasons = append(reasons, api.ReasonSystemOverlap)
	}

	if contextHits > 0 {
		bonus := contextBonus * float64(contextHits)
		if bonus > contextBonusCap {
			bonus = contextBonusCap
		}
		score += bonus
		reasons = append(reasons, api.ReasonContextMatch)
	}

	if rb.HasSuccessRate {
		score *= rb.SuccessRate
	} else {
		score *= defaultSuccessRate
	}

	if m.cfg.QualityWeighted {
		// Quality shades the score within a narrow band so a sparse but
		// exactly-matching runbook still outranks an off-topic polished one.
		score *= 0.85 + 0.015*float64(rb.QualityScore)
	}

	if len(reasons) == 0 {
		reasons = append(reasons, api.ReasonSourceRelevance)
	}
	if target.Degraded {
		reasons = append(reasons, api.ReasonDegradedSource)
	}

	return &api.SearchResult{
		Runbook:       rb,
		Confidence:    clamp01(score),
		MatchReasons:  reasons,
		SourceAdapter: target.Name,
	}
}

// aliasMatch reports whether the query alert type and any of the runbook's
// alert types are aliases of each other under the configured alias map.
func (m *Matcher) aliasMatch(rb *api.Runbook, alertType string) bool {
	if alertType == "" || len(m.cfg.AlertAliases) == 0 {
		return false
	}
	for _, al := range m.cfg.AlertAliases[alertType] {
		if rb.MatchesAlertType(al) {
			return true
		}
	}
	for canonical, aliases := range m.cfg.AlertAliases {
		for _, al := range aliases {
			if al == alertType && rb.MatchesAlertType(canonical) {
				return true
			}
		}
	}
	return false
}

func nearestSeverityDistance(rb *api.Runbook, sev api.Severity) int {
	best := -1
	for _, s := range rb.Severities {
		d := api.SeverityDistance(s, sev)
		if best < 0 || d < best {
			best = d
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

func systemOverlap(rb *api.Runbook, systems []string) int {
	if len(systems) == 0 || len(rb.AffectedSystems) == 0 {
		return 0
	}
	have := make(map[string]bool, len(rb.AffectedSystems))
	for _, s := range rb.AffectedSystems {
		have[strings.ToLower(s)] = true
	}
	overlap := 0
	for _, s := range systems {
		if have[strings.ToLower(s)] {
			overlap++
		}
	}
	return overlap
}

// contextMatches counts query context entries whose value matches the
// runbook's metadata under the same key.
func contextMatches(rb *api.Runbook, contextFields map[string]any) int {
	if len(contextFields) == 0 || len(rb.Metadata) == 0 {
		return 0
	}
	hits := 0
	for key, value := range contextFields {
		meta, ok := rb.Metadata[key]
		if !ok {
			continue
		}
		if strings.EqualFold(meta, fmt.Sprint(value)) {
			hits++
		}
	}
	return hits
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func targetPriorities(targets []Target) map[string]int {
	prio := make(map[string]int, len(targets))
	for _, t := range targets {
		prio[t.Name] = t.Priority
	}
	return prio
}

// rank orders candidates deterministically: confidence descending, then
// source priority ascending, then average resolution time ascending with
// unknown times last, then document identity.
func (m *Matcher) rank(candidates []*api.SearchResult, priorities map[string]int) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		pa, pb := priorities[a.SourceAdapter], priorities[b.SourceAdapter]
		if pa != pb {
			return pa < pb
		}
		ta, tb := resolutionTime(a), resolutionTime(b)
		if ta != tb {
			if ta == 0 {
				return false
			}
			if tb == 0 {
				return true
			}
			return ta < tb
		}
		return a.Key().String() < b.Key().String()
	})
}

func resolutionTime(r *api.SearchResult) int64 {
	if r.Runbook == nil {
		return 0
	}
	return int64(r.Runbook.AvgResolutionTime)
}

// cutoff applies the confidence floor and the result-count cap. A lone
// candidate that misses the floor but clears half of it is still returned
// as a best-effort answer; any other all-below outcome is an empty list.
// A floor of one is an exact-confidence request and allows no best effort.
// The count cap keeps ties: candidates sharing the boundary confidence all
// survive.
func (m *Matcher) cutoff(candidates []*api.SearchResult, minConfidence float64, maxResults int) ([]*api.SearchResult, []api.MatchReason) {
	if len(candidates) == 0 || maxResults <= 0 {
		return nil, nil
	}

	var kept []*api.SearchResult
	for _, c := range candidates {
		if c.Confidence >= minConfidence {
			kept = append(kept, c)
		}
	}

	if len(kept) == 0 {
		if minConfidence < 1 && len(candidates) == 1 && candidates[0].Confidence > minConfidence/2 {
			best := candidates[0]
			best.MatchReasons = append(best.MatchReasons, api.ReasonBelowThresholdBest)
			return []*api.SearchResult{best}, []api.MatchReason{api.ReasonBelowThresholdBest}
		}
		return nil, nil
	}

	if len(kept) > maxResults {
		boundary := kept[maxResults-1].Confidence
		cut := maxResults
		for cut < len(kept) && kept[cut].Confidence == boundary {
			cut++
		}
		kept = kept[:cut]
	}
	return kept, nil
}
