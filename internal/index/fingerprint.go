package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"runhub/internal/api"
)

// ComputeFingerprint derives the three-part fingerprint for a document.
// The parts are hashed separately so updates can be classified by what
// changed: content (the body), metadata (the key/value map) or structure
// (the document's skeleton).
func ComputeFingerprint(doc *api.Document) api.Fingerprint {
	return api.Fingerprint{
		Content:   hashString(doc.Body),
		Metadata:  hashMetadata(doc.Metadata),
		Structure: hashString(structureOf(doc)),
	}
}

// ClassifyUpdate reports which fingerprint parts differ between two
// revisions.
func ClassifyUpdate(old, new api.Fingerprint) api.UpdateClass {
	return api.UpdateClass{
		Content:   old.Content != new.Content,
		Metadata:  old.Metadata != new.Metadata,
		Structure: old.Structure != new.Structure,
	}
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// hashMetadata hashes the metadata map in key order so map iteration order
// never changes the fingerprint.
func hashMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return hashString("")
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(0)
		b.WriteString(metadata[k])
		b.WriteByte(1)
	}
	return hashString(b.String())
}

// structureOf produces a stable serialization of the document's skeleton.
// For runbook-shaped documents this is the parsed outline (alert types,
// procedure ids and step counts, tree depth, escalation roles); for plain
// text it is the ordered sequence of markdown headings.
func structureOf(doc *api.Document) string {
	if rb, err := ParseRunbook(doc); err == nil && rb != nil {
		outline := runbookOutline{
			AlertTypes: append([]string(nil), rb.AlertTypes...),
			TreeDepth:  treeDepth(rb.DecisionTree),
		}
		sort.Strings(outline.AlertTypes)
		for _, p := range rb.Procedures {
			outline.Procedures = append(outline.Procedures, procedureOutline{ID: p.ID, Steps: len(p.Steps)})
		}
		for _, e := range rb.Escalation {
			outline.EscalationRoles = append(outline.EscalationRoles, e.Role)
		}
		encoded, err := json.Marshal(outline)
		if err == nil {
			return string(encoded)
		}
	}
	return strings.Join(headingsOf(doc.Body), "\n")
}

type runbookOutline struct {
	AlertTypes      []string           `json:"alert_types"`
	Procedures      []procedureOutline `json:"procedures,omitempty"`
	EscalationRoles []string           `json:"escalation_roles,omitempty"`
	TreeDepth       int                `json:"tree_depth"`
}

type procedureOutline struct {
	ID    string `json:"id"`
	Steps int    `json:"steps"`
}

func treeDepth(node *api.DecisionNode) int {
	if node == nil {
		return 0
	}
	max := 0
	for _, branch := range node.Branches {
		if d := treeDepth(branch); d > max {
			max = d
		}
	}
	return max + 1
}

func headingsOf(body string) []string {
	var headings []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			headings = append(headings, trimmed)
		}
	}
	return headings
}
