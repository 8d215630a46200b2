package index

import (
	"sort"
	"time"

	"runhub/internal/api"
)

// ProcedureEntry locates a procedure within the corpus.
type ProcedureEntry struct {
	Procedure api.Procedure
	Source    api.DocumentKey
}

// ScenarioTree locates a decision tree reachable by scenario tag.
type ScenarioTree struct {
	Node       *api.DecisionNode
	Source     api.DocumentKey
	Adapter    string
	Confidence float64
}

// EscalationEntry is one escalation step contributed by a runbook.
type EscalationEntry struct {
	Step    api.EscalationStep
	Source  api.DocumentKey
	Adapter string
}

// Snapshot is an immutable view of the corpus at one epoch. Readers load
// the current snapshot once per tool call and hold it for the call's
// duration; the indexer swaps in a replacement atomically after each
// effective pass.
type Snapshot struct {
	Epoch     uint64
	CreatedAt time.Time

	Documents  map[api.DocumentKey]*api.Document
	Runbooks   map[api.DocumentKey]*api.Runbook
	Procedures map[string]ProcedureEntry
	Scenarios  map[string][]ScenarioTree
	Escalation []EscalationEntry

	perAdapterCount map[string]int
}

// EmptySnapshot returns the epoch-zero snapshot used before the first
// refresh pass completes.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Documents:       make(map[api.DocumentKey]*api.Document),
		Runbooks:        make(map[api.DocumentKey]*api.Runbook),
		Procedures:      make(map[string]ProcedureEntry),
		Scenarios:       make(map[string][]ScenarioTree),
		perAdapterCount: make(map[string]int),
		CreatedAt:       time.Now(),
	}
}

// DocumentCount returns the number of documents an adapter contributes.
func (s *Snapshot) DocumentCount(adapterName string) int {
	return s.perAdapterCount[adapterName]
}

// TotalDocuments returns the corpus size.
func (s *Snapshot) TotalDocuments() int {
	return len(s.Documents)
}

// RunbooksForAdapter returns the adapter's runbooks in deterministic id
// order.
func (s *Snapshot) RunbooksForAdapter(adapterName string) []*api.Runbook {
	var out []*api.Runbook
	for key, rb := range s.Runbooks {
		if key.AdapterName == adapterName {
			out = append(out, rb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// buildSnapshot derives a new snapshot from the full document set. The
// document map is rebuilt from scratch each pass; deriving indices from a
// single source keeps them consistent by construction.
func buildSnapshot(epoch uint64, docs map[api.DocumentKey]*api.Document, detector *Detector) *Snapshot {
	snap := &Snapshot{
		Epoch:           epoch,
		CreatedAt:       time.Now(),
		Documents:       docs,
		Runbooks:        make(map[api.DocumentKey]*api.Runbook),
		Procedures:      make(map[string]ProcedureEntry),
		Scenarios:       make(map[string][]ScenarioTree),
		perAdapterCount: make(map[string]int),
	}

	// Deterministic build order so duplicate procedure ids resolve the
	// same way every pass.
	keys := make([]api.DocumentKey, 0, len(docs))
	for key := range docs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, key := range keys {
		doc := docs[key]
		snap.perAdapterCount[key.AdapterName]++

		if detector != nil && !detector.IsRunbook(doc) {
			continue
		}
		rb, err := ParseRunbook(doc)
		if err != nil {
			continue
		}
		snap.Runbooks[key] = rb

		for _, p := range rb.Procedures {
			if p.ID == "" {
				continue
			}
			if _, exists := snap.Procedures[p.ID]; !exists {
				snap.Procedures[p.ID] = ProcedureEntry{Procedure: p, Source: key}
			}
		}
		collectScenarios(snap, rb, key)
		for _, step := range rb.Escalation {
			snap.Escalation = append(snap.Escalation, EscalationEntry{
				Step:    step,
				Source:  key,
				Adapter: key.AdapterName,
			})
		}
	}
	return snap
}

// collectScenarios indexes every scenario-tagged node of the runbook's
// decision tree, plus the root under the runbook's own scenario metadata.
func collectScenarios(snap *Snapshot, rb *api.Runbook, key api.DocumentKey) {
	if rb.DecisionTree == nil {
		return
	}
	if tag := rb.Metadata["scenario"]; tag != "" {
		snap.Scenarios[tag] = append(snap.Scenarios[tag], ScenarioTree{
			Node:       rb.DecisionTree,
			Source:     key,
			Adapter:    key.AdapterName,
			Confidence: rb.DecisionTree.Confidence,
		})
	}
	var walk func(node *api.DecisionNode)
	walk = func(node *api.DecisionNode) {
		if node == nil {
			return
		}
		if node.Scenario != "" {
			snap.Scenarios[node.Scenario] = append(snap.Scenarios[node.Scenario], ScenarioTree{
				Node:       node,
				Source:     key,
				Adapter:    key.AdapterName,
				Confidence: node.Confidence,
			})
		}
		for _, branch := range node.Branches {
			walk(branch)
		}
	}
	walk(rb.DecisionTree)
}
