package moderation

import (
	"strings"
	"time"
)

// Label is one raw detection from the classifier. Confidence is a fraction
// in [0,1].
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// DetectedLabel is a mapped label kept for audit.
type DetectedLabel struct {
	Name       string   `json:"name"`
	Confidence float64  `json:"confidence"`
	Category   Category `json:"category"`
}

// Action is the policy verdict.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionReview  Action = "review"
)

// Result is the output of a moderation decision.
type Result struct {
	Safe       bool            `json:"safe"`
	Confidence float64         `json:"confidence"`
	Categories []Category      `json:"categories"`
	Labels     []DetectedLabel `json:"labels"`
	Action     Action          `json:"action"`
	Reason     string          `json:"reason,omitempty"`
	// Degraded marks a fail-open approval made because the classifier is
	// not configured. Operators audit these separately from true approvals.
	Degraded  bool      `json:"degraded,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Decide maps raw labels to categories and computes the verdict. Pure and
// deterministic: no I/O, no randomness, same input always yields the same
// action, categories and confidence.
func Decide(labels []Label, cfg Config) Result {
	var (
		maxConfidence float64
		zeroTolerance bool
		detected      []DetectedLabel
		categories    []Category
		seen          = map[Category]bool{}
	)

	addCategory := func(cat Category) {
		if !seen[cat] {
			seen[cat] = true
			categories = append(categories, cat)
		}
	}

	for _, label := range labels {
		cat, ok := CategoryFor(label.Name)
		if !ok {
			// Unknown label, no opinion.
			continue
		}
		if label.Confidence > maxConfidence {
			maxConfidence = label.Confidence
		}
		detected = append(detected, DetectedLabel{
			Name:       label.Name,
			Confidence: label.Confidence,
			Category:   cat,
		})
		if IsZeroTolerance(label.Name) {
			// Zero-tolerance labels count even when their category is
			// not on the tenant's allow-list.
			zeroTolerance = true
			addCategory(cat)
			continue
		}
		if cfg.detectsCategory(cat) {
			addCategory(cat)
		}
	}

	result := Result{
		Safe:       len(categories) == 0,
		Confidence: maxConfidence,
		Categories: categories,
		Labels:     detected,
		ScannedAt:  time.Now().UTC(),
	}

	if zeroTolerance || len(categories) > 0 {
		if cfg.AutoReject {
			result.Action = ActionReject
			result.Reason = "Detected: " + joinCategories(categories)
		} else {
			result.Action = ActionReview
			result.Reason = "Flagged for review: " + joinCategories(categories)
		}
		return result
	}

	result.Action = ActionApprove
	return result
}

func joinCategories(categories []Category) string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
