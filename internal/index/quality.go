package index

import "runhub/internal/api"

// QualityScore rates a document 0-10 on metadata completeness, content
// length and structure presence. Informational unless quality-weighted
// matching is enabled.
func QualityScore(doc *api.Document) int {
	score := 0

	// Metadata completeness: up to 4 points.
	if doc.Title != "" {
		score++
	}
	if len(doc.Metadata) > 0 {
		score++
	}
	if len(doc.Metadata) >= 3 {
		score++
	}
	if doc.ContentType != "" {
		score++
	}

	// Content length: up to 3 points.
	switch n := len(doc.Body); {
	case n >= 2000:
		score += 3
	case n >= 500:
		score += 2
	case n >= 100:
		score++
	}

	// Structure presence: up to 3 points.
	if rb, err := ParseRunbook(doc); err == nil {
		if rb.DecisionTree != nil {
			score++
		}
		if len(rb.Procedures) > 0 {
			score++
		}
		if len(rb.Escalation) > 0 {
			score++
		}
	} else if len(headingsOf(doc.Body)) >= 2 {
		score++
	}

	if score > 10 {
		score = 10
	}
	return score
}
