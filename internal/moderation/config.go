package moderation

import "fmt"

// Config holds the tenant-scoped policy parameters.
type Config struct {
	// ConfidenceThreshold is a fraction in [0,1]; labels below it are not
	// reported by the classifier.
	ConfidenceThreshold float64
	// AutoReject controls whether detections reject outright or route to
	// manual review.
	AutoReject bool
	// DetectCategories is the category allow-list. Zero-tolerance labels
	// trigger regardless of this list.
	DetectCategories []Category
}

// DefaultConfig returns the stock policy: 0.8 threshold, auto-reject on,
// the four serious categories enabled.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.8,
		AutoReject:          true,
		DetectCategories: []Category{
			CategoryNudity,
			CategoryViolence,
			CategoryDrugs,
			CategoryHate,
		},
	}
}

func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	for _, cat := range c.DetectCategories {
		switch cat {
		case CategoryNudity, CategoryViolence, CategoryDrugs, CategoryHate, CategoryUnsafe, CategoryText:
		default:
			return fmt.Errorf("unknown category %q", cat)
		}
	}
	return nil
}

func (c Config) detectsCategory(cat Category) bool {
	for _, d := range c.DetectCategories {
		if d == cat {
			return true
		}
	}
	return false
}

// ConfigOverride is a partial config; nil fields keep the base value.
type ConfigOverride struct {
	ConfidenceThreshold *float64
	AutoReject          *bool
	DetectCategories    []Category
}

// MergeConfig applies an override onto a base config with every field
// enumerated, so adding a field forces a merge decision here.
func MergeConfig(base Config, override *ConfigOverride) Config {
	if override == nil {
		return base
	}
	merged := Config{
		ConfidenceThreshold: base.ConfidenceThreshold,
		AutoReject:          base.AutoReject,
		DetectCategories:    base.DetectCategories,
	}
	if override.ConfidenceThreshold != nil {
		merged.ConfidenceThreshold = *override.ConfidenceThreshold
	}
	if override.AutoReject != nil {
		merged.AutoReject = *override.AutoReject
	}
	if override.DetectCategories != nil {
		merged.DetectCategories = override.DetectCategories
	}
	return merged
}
