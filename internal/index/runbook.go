package index

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"runhub/internal/api"

	"gopkg.in/yaml.v3"
)

// ErrNotRunbook reports that a document does not carry runbook content.
var ErrNotRunbook = errors.New("document is not a runbook")

// ContentTypeRunbook marks documents whose body is a structured runbook.
const ContentTypeRunbook = "runbook"

// DetectorConfig tunes the runbook detection heuristic. Structured
// alert_types metadata always qualifies a document; keyword detection
// additionally accepts documents whose title or headings mention one of
// the configured keywords.
type DetectorConfig struct {
	KeywordDetection bool
	Keywords         []string
}

// Detector decides whether a document is a runbook.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector creates a detector with the given heuristic configuration.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// IsRunbook applies the detection heuristic to a document.
func (d *Detector) IsRunbook(doc *api.Document) bool {
	if doc.ContentType == ContentTypeRunbook {
		return true
	}
	if doc.Metadata["alert_types"] != "" {
		return true
	}
	if !d.cfg.KeywordDetection {
		return false
	}
	haystack := strings.ToLower(doc.Title + "\n" + strings.Join(headingsOf(doc.Body), "\n"))
	for _, kw := range d.cfg.Keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// runbookSpec is the YAML wire form of a runbook document body.
type runbookSpec struct {
	Title             string              `yaml:"title"`
	AlertTypes        []string            `yaml:"alert_types"`
	Severities        []string            `yaml:"severities"`
	AffectedSystems   []string            `yaml:"affected_systems"`
	SuccessRate       *float64            `yaml:"success_rate"`
	AvgResolutionTime string              `yaml:"avg_resolution_time"`
	DecisionTree      *decisionNodeSpec   `yaml:"decision_tree"`
	Procedures        []procedureSpec     `yaml:"procedures"`
	Escalation        []escalationStepSpec `yaml:"escalation"`
}

type decisionNodeSpec struct {
	Condition  string              `yaml:"condition"`
	Branches   []*decisionNodeSpec `yaml:"branches"`
	Action     string              `yaml:"action"`
	Confidence float64             `yaml:"confidence"`
	Scenario   string              `yaml:"scenario"`
}

type procedureSpec struct {
	ID            string             `yaml:"id"`
	Title         string             `yaml:"title"`
	Steps         []procedureStepSpec `yaml:"steps"`
	Prerequisites []string           `yaml:"prerequisites"`
	Rollback      string             `yaml:"rollback"`
}

type procedureStepSpec struct {
	Action         string `yaml:"action"`
	Command        string `yaml:"command"`
	ExpectedOutput string `yaml:"expected_output"`
	TimeEstimate   string `yaml:"time_estimate"`
}

type escalationStepSpec struct {
	Role          string `yaml:"role"`
	Contact       string `yaml:"contact"`
	Severity      string `yaml:"severity"`
	BusinessHours *bool  `yaml:"business_hours"`
	WaitBefore    string `yaml:"wait_before"`
}

// ParseRunbook decodes a runbook document body into its structured form.
// Documents that are not runbook-shaped return ErrNotRunbook.
func ParseRunbook(doc *api.Document) (*api.Runbook, error) {
	if doc.ContentType != ContentTypeRunbook && doc.Metadata["alert_types"] == "" {
		return nil, ErrNotRunbook
	}

	var spec runbookSpec
	if err := yaml.Unmarshal([]byte(doc.Body), &spec); err != nil {
		return nil, fmt.Errorf("parsing runbook %s: %w", doc.Key(), err)
	}

	rb := &api.Runbook{
		Document:        *doc,
		AlertTypes:      spec.AlertTypes,
		AffectedSystems: spec.AffectedSystems,
	}
	if rb.Title == "" {
		rb.Title = spec.Title
	}
	if len(rb.AlertTypes) == 0 {
		// Fall back to comma-separated metadata, the lightweight tagging
		// form frontmatter-only sources use.
		for _, at := range strings.Split(doc.Metadata["alert_types"], ",") {
			if at = strings.TrimSpace(at); at != "" {
				rb.AlertTypes = append(rb.AlertTypes, at)
			}
		}
	}
	if len(rb.AlertTypes) == 0 {
		return nil, ErrNotRunbook
	}

	for _, s := range spec.Severities {
		sev, err := api.ParseSeverity(strings.ToLower(strings.TrimSpace(s)))
		if err != nil {
			return nil, fmt.Errorf("runbook %s: %w", doc.Key(), err)
		}
		rb.Severities = append(rb.Severities, sev)
	}

	if spec.SuccessRate != nil {
		if *spec.SuccessRate < 0 || *spec.SuccessRate > 1 {
			return nil, fmt.Errorf("runbook %s: success_rate %v outside [0,1]", doc.Key(), *spec.SuccessRate)
		}
		rb.SuccessRate = *spec.SuccessRate
		rb.HasSuccessRate = true
	}
	if spec.AvgResolutionTime != "" {
		d, err := time.ParseDuration(spec.AvgResolutionTime)
		if err != nil {
			return nil, fmt.Errorf("runbook %s: invalid avg_resolution_time: %w", doc.Key(), err)
		}
		rb.AvgResolutionTime = d
	}

	rb.DecisionTree = convertDecisionNode(spec.DecisionTree)
	for _, p := range spec.Procedures {
		rb.Procedures = append(rb.Procedures, convertProcedure(p))
	}
	for _, e := range spec.Escalation {
		step, err := convertEscalationStep(e)
		if err != nil {
			return nil, fmt.Errorf("runbook %s: %w", doc.Key(), err)
		}
		rb.Escalation = append(rb.Escalation, step)
	}
	return rb, nil
}

func convertDecisionNode(spec *decisionNodeSpec) *api.DecisionNode {
	if spec == nil {
		return nil
	}
	node := &api.DecisionNode{
		Condition:  spec.Condition,
		Action:     spec.Action,
		Confidence: spec.Confidence,
		Scenario:   spec.Scenario,
	}
	for _, branch := range spec.Branches {
		node.Branches = append(node.Branches, convertDecisionNode(branch))
	}
	return node
}

func convertProcedure(spec procedureSpec) api.Procedure {
	p := api.Procedure{
		ID:            spec.ID,
		Title:         spec.Title,
		Prerequisites: spec.Prerequisites,
		Rollback:      spec.Rollback,
	}
	for i, s := range spec.Steps {
		step := api.ProcedureStep{
			Index:          i + 1,
			Action:         s.Action,
			Command:        s.Command,
			ExpectedOutput: s.ExpectedOutput,
		}
		if s.TimeEstimate != "" {
			if d, err := time.ParseDuration(s.TimeEstimate); err == nil {
				step.TimeEstimate = d
			}
		}
		p.Steps = append(p.Steps, step)
	}
	return p
}

func convertEscalationStep(spec escalationStepSpec) (api.EscalationStep, error) {
	step := api.EscalationStep{
		Role:          spec.Role,
		Contact:       spec.Contact,
		BusinessHours: spec.BusinessHours,
	}
	if spec.Severity != "" {
		sev, err := api.ParseSeverity(strings.ToLower(spec.Severity))
		if err != nil {
			return api.EscalationStep{}, err
		}
		step.Severity = sev
	}
	if spec.WaitBefore != "" {
		d, err := time.ParseDuration(spec.WaitBefore)
		if err != nil {
			return api.EscalationStep{}, fmt.Errorf("invalid wait_before: %w", err)
		}
		step.WaitBefore = d
	}
	return step, nil
}
