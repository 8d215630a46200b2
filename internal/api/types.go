package api

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies the operational impact of an alert or runbook.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank orders severities from most to least urgent. Used by the
// matcher to compute severity distance penalties.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// Rank returns the ordinal position of the severity (critical=0 .. low=3)
// and whether the severity is a known value.
func (s Severity) Rank() (int, bool) {
	r, ok := severityRank[s]
	return r, ok
}

// Valid reports whether the severity is one of the four known values.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// SeverityDistance returns the absolute rank distance between two
// severities. Unknown severities are treated as maximally distant.
func SeverityDistance(a, b Severity) int {
	ra, okA := a.Rank()
	rb, okB := b.Rank()
	if !okA || !okB {
		return len(severityRank)
	}
	if ra > rb {
		return ra - rb
	}
	return rb - ra
}

// HealthStatus represents the health of an adapter or of the engine.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// AdapterState tracks an adapter through its lifecycle.
type AdapterState string

const (
	StateUninitialized AdapterState = "uninitialized"
	StateInitializing  AdapterState = "initializing"
	StateReady         AdapterState = "ready"
	StateDegraded      AdapterState = "degraded"
	StateFailed        AdapterState = "failed"
	StateShuttingDown  AdapterState = "shutting_down"
)

// Fingerprint is the three-part content hash the indexer computes for every
// document. Each part is a hex-encoded hash; the composite identifies the
// document revision.
type Fingerprint struct {
	Content   string `json:"content"`
	Metadata  string `json:"metadata"`
	Structure string `json:"structure"`
}

// Composite returns the combined fingerprint string.
func (f Fingerprint) Composite() string {
	return f.Content + ":" + f.Metadata + ":" + f.Structure
}

// IsZero reports whether the fingerprint has not been computed.
func (f Fingerprint) IsZero() bool {
	return f.Content == "" && f.Metadata == "" && f.Structure == ""
}

// DocumentKey identifies a document globally. The pair (AdapterName, ID) is
// unique across the corpus.
type DocumentKey struct {
	AdapterName string `json:"adapter_name"`
	ID          string `json:"id"`
}

// String renders the key in adapter/id form for logging and map keys.
func (k DocumentKey) String() string {
	return k.AdapterName + "/" + k.ID
}

// Document is one unit of retrievable documentation.
type Document struct {
	ID          string            `json:"id"`
	AdapterName string            `json:"adapter_name"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Fingerprint Fingerprint       `json:"fingerprint"`
	LastSeenAt  time.Time         `json:"last_seen_at"`

	// QualityScore rates metadata completeness, content length and structure
	// presence on a 0-10 scale. Informational unless quality-weighted
	// matching is enabled in config.
	QualityScore int `json:"quality_score,omitempty"`
}

// Key returns the document's global identity.
func (d *Document) Key() DocumentKey {
	return DocumentKey{AdapterName: d.AdapterName, ID: d.ID}
}

// Runbook is a document that describes an incident response, carrying the
// alert and severity tags that drive matching.
type Runbook struct {
	Document

	AlertTypes        []string         `json:"alert_types"`
	Severities        []Severity       `json:"severities"`
	AffectedSystems   []string         `json:"affected_systems,omitempty"`
	DecisionTree      *DecisionNode    `json:"decision_tree,omitempty"`
	Procedures        []Procedure      `json:"procedures,omitempty"`
	Escalation        []EscalationStep `json:"escalation,omitempty"`
	SuccessRate       float64          `json:"success_rate,omitempty"`
	HasSuccessRate    bool             `json:"has_success_rate,omitempty"`
	AvgResolutionTime time.Duration    `json:"avg_resolution_time,omitempty"`
}

// MatchesAlertType reports whether the runbook carries the given alert type.
func (r *Runbook) MatchesAlertType(alertType string) bool {
	for _, at := range r.AlertTypes {
		if at == alertType {
			return true
		}
	}
	return false
}

// MatchesSeverity reports whether the runbook carries the given severity.
func (r *Runbook) MatchesSeverity(sev Severity) bool {
	for _, s := range r.Severities {
		if s == sev {
			return true
		}
	}
	return false
}

// DecisionNode is one node of a runbook's diagnostic decision tree. A node
// either branches on a condition or terminates in an action.
type DecisionNode struct {
	Condition  string          `json:"condition,omitempty"`
	Branches   []*DecisionNode `json:"branches,omitempty"`
	Action     string          `json:"action,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Scenario   string          `json:"scenario,omitempty"`
}

// ProcedureStep is a single ordered step within a procedure.
type ProcedureStep struct {
	Index          int           `json:"index"`
	Action         string        `json:"action"`
	Command        string        `json:"command,omitempty"`
	ExpectedOutput string        `json:"expected_output,omitempty"`
	TimeEstimate   time.Duration `json:"time_estimate,omitempty"`
}

// Procedure is an ordered sequence of remediation steps.
type Procedure struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Steps         []ProcedureStep `json:"steps"`
	Prerequisites []string        `json:"prerequisites,omitempty"`
	Rollback      string          `json:"rollback,omitempty"`
}

// EscalationStep is one entry in an ordered escalation path.
type EscalationStep struct {
	Role          string        `json:"role"`
	Contact       string        `json:"contact,omitempty"`
	Severity      Severity      `json:"severity,omitempty"`
	BusinessHours *bool         `json:"business_hours,omitempty"`
	WaitBefore    time.Duration `json:"wait_before,omitempty"`
}

// EscalationPath is the merged, role-deduplicated escalation sequence the
// engine returns for a severity.
type EscalationPath struct {
	Severity      Severity         `json:"severity"`
	BusinessHours *bool            `json:"business_hours,omitempty"`
	Steps         []EscalationStep `json:"steps"`
}

// MatchReason tags why a search result matched, in the order the scoring
// components fired.
type MatchReason string

const (
	ReasonExactAlertTypeMatch MatchReason = "exact_alert_type_match"
	ReasonAliasAlertTypeMatch MatchReason = "alias_alert_type_match"
	ReasonSeverityMatch       MatchReason = "severity_match"
	ReasonSeverityNear        MatchReason = "severity_near"
	ReasonSystemOverlap       MatchReason = "system_overlap"
	ReasonContextMatch        MatchReason = "context_match"
	ReasonTextMatch           MatchReason = "text_match"
	ReasonTagMatch            MatchReason = "tag_match"
	ReasonSourceRelevance     MatchReason = "source_relevance"
	ReasonNoSourcesAvailable  MatchReason = "no_sources_available"
	ReasonBelowThresholdBest  MatchReason = "below_threshold_best_effort"
	ReasonDegradedSource      MatchReason = "degraded_source"
)

// SearchResult is one ranked hit from the matcher.
type SearchResult struct {
	Document         *Document     `json:"document,omitempty"`
	Runbook          *Runbook      `json:"runbook,omitempty"`
	Confidence       float64       `json:"confidence"`
	Excerpt          string        `json:"excerpt,omitempty"`
	MatchReasons     []MatchReason `json:"match_reasons"`
	RetrievalTimeMS  int64         `json:"retrieval_time_ms"`
	SourceAdapter    string        `json:"source_adapter"`
	AlternateSources []string      `json:"alternate_sources,omitempty"`
}

// Key returns the identity of the underlying document.
func (r *SearchResult) Key() DocumentKey {
	if r.Runbook != nil {
		return r.Runbook.Key()
	}
	if r.Document != nil {
		return r.Document.Key()
	}
	return DocumentKey{}
}

// HealthSnapshot captures the health of one adapter (or the whole engine)
// at a point in time.
type HealthSnapshot struct {
	Status              HealthStatus  `json:"status"`
	LastCheckAt         time.Time     `json:"last_check_at"`
	LastSuccessAt       time.Time     `json:"last_success_at,omitempty"`
	LatencyMS           int64         `json:"latency_ms"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ErrorRate           float64       `json:"error_rate"`
	Detail              string        `json:"detail,omitempty"`
	P50                 time.Duration `json:"p50,omitempty"`
	P95                 time.Duration `json:"p95,omitempty"`
	P99                 time.Duration `json:"p99,omitempty"`
}

// SourceSummary is one entry of a list_sources response.
type SourceSummary struct {
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Priority      int             `json:"priority"`
	Enabled       bool            `json:"enabled"`
	Status        AdapterState    `json:"status"`
	DocumentCount int             `json:"document_count"`
	LastUpdated   time.Time       `json:"last_updated,omitempty"`
	Health        *HealthSnapshot `json:"health,omitempty"`
}

// ChangeKind classifies a single document change within a changeset.
type ChangeKind string

const (
	ChangeAddition ChangeKind = "addition"
	ChangeUpdate   ChangeKind = "update"
	ChangeDeletion ChangeKind = "deletion"
)

// UpdateClass reports which fingerprint parts changed in an update.
type UpdateClass struct {
	Content   bool `json:"content"`
	Metadata  bool `json:"metadata"`
	Structure bool `json:"structure"`
}

// DocumentUpdate pairs the prior fingerprint with the new document revision.
type DocumentUpdate struct {
	OldFingerprint Fingerprint `json:"old_fingerprint"`
	Document       *Document   `json:"document"`
	Class          UpdateClass `json:"class"`
}

// AdapterChangeStats summarizes changes for one adapter within a pass.
type AdapterChangeStats struct {
	Additions int `json:"additions"`
	Updates   int `json:"updates"`
	Deletions int `json:"deletions"`
	Seen      int `json:"seen"`
}

// ChangeSet is the indexer's output for one refresh pass.
type ChangeSet struct {
	Additions  []*Document                   `json:"additions,omitempty"`
	Updates    []DocumentUpdate              `json:"updates,omitempty"`
	Deletions  []DocumentKey                 `json:"deletions,omitempty"`
	ComputedAt time.Time                     `json:"computed_at"`
	PerAdapter map[string]AdapterChangeStats `json:"per_adapter,omitempty"`
}

// Empty reports whether the changeset carries no effect.
func (c *ChangeSet) Empty() bool {
	return len(c.Additions) == 0 && len(c.Updates) == 0 && len(c.Deletions) == 0
}

// Merge folds another changeset into this one.
func (c *ChangeSet) Merge(other *ChangeSet) {
	if other == nil {
		return
	}
	c.Additions = append(c.Additions, other.Additions...)
	c.Updates = append(c.Updates, other.Updates...)
	c.Deletions = append(c.Deletions, other.Deletions...)
	if c.PerAdapter == nil {
		c.PerAdapter = make(map[string]AdapterChangeStats)
	}
	for name, stats := range other.PerAdapter {
		c.PerAdapter[name] = stats
	}
}

// FeedbackOutcome describes how an incident was resolved.
type FeedbackOutcome struct {
	ResolutionTime time.Duration `json:"resolution_time"`
	Success        bool          `json:"success"`
	Method         string        `json:"method,omitempty"`
}

// Feedback is one append-only resolution feedback record.
type Feedback struct {
	FeedbackID string          `json:"feedback_id"`
	IncidentID string          `json:"incident_id"`
	Outcome    FeedbackOutcome `json:"outcome"`
	Notes      map[string]any  `json:"notes,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// PartialFailure names an adapter that could not contribute to a response
// and the short reason tag (auth, timeout, remote_error, breaker_open,
// partial_timeout).
type PartialFailure struct {
	AdapterName string `json:"adapter_name"`
	Reason      string `json:"reason"`
}

// Envelope is the metadata attached to every tool response.
type Envelope struct {
	RetrievalTimeMS  int64            `json:"retrieval_time_ms"`
	ConfidenceScores []float64        `json:"confidence_scores,omitempty"`
	Degraded         bool             `json:"degraded"`
	PartialFailures  []PartialFailure `json:"partial_failures,omitempty"`
	CorpusEpoch      uint64           `json:"corpus_epoch"`
	CacheHit         bool             `json:"cache_hit"`
	CorrelationID    string           `json:"correlation_id"`
	DeadlineExceeded bool             `json:"deadline_exceeded,omitempty"`
}

// RunbookQuery is the structured query for search_runbooks.
type RunbookQuery struct {
	AlertType       string         `json:"alert_type"`
	Severity        Severity       `json:"severity,omitempty"`
	AffectedSystems []string       `json:"affected_systems,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
}

// SearchFilters narrow a knowledge base search. MaxResults and
// MinConfidence are pointers so an explicit zero is distinguishable from
// an absent filter: max_results=0 yields an empty result list and
// min_confidence=0 disables the floor.
type SearchFilters struct {
	DocumentType  string   `json:"document_type,omitempty"`
	Source        string   `json:"source,omitempty"`
	Types         []string `json:"types,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	MaxResults    *int     `json:"max_results,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
}

// ParseSeverity validates and converts a severity string. Matching is
// case-insensitive.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}
