package moderation

import (
	"context"
	"sync"
	"time"
)

// scanBatchWindow caps concurrent classifier calls inside ScanBatch. This is
// a provider-side courtesy limit, independent of the worker pool size.
const scanBatchWindow = 5

// Service orchestrates the classifier and the decision policy for single
// images and batches.
type Service struct {
	classifier Classifier
	defaults   Config
}

// NewService builds a moderation service. A nil classifier is allowed and
// puts every scan into degraded fail-open mode.
func NewService(classifier Classifier, defaults Config) *Service {
	return &Service{classifier: classifier, defaults: defaults}
}

// Defaults returns the service's base policy config.
func (s *Service) Defaults() Config {
	return s.defaults
}

// Scan classifies one image and computes its verdict.
//
// Failure semantics are deliberately asymmetric: a missing classifier
// (intentional absence) fails open to approve so uploads are never blocked
// by an unconfigured provider, while a classifier that is configured but
// errors fails closed to manual review.
func (s *Service) Scan(ctx context.Context, ref ImageRef, override *ConfigOverride) Result {
	cfg := MergeConfig(s.defaults, override)

	if s.classifier == nil {
		return Result{
			Safe:      true,
			Action:    ActionApprove,
			Reason:    "classifier unavailable - manual moderation required",
			Degraded:  true,
			ScannedAt: time.Now().UTC(),
		}
	}

	labels, err := s.classifier.DetectLabels(ctx, ref, cfg.ConfidenceThreshold)
	if err != nil {
		return Result{
			Safe:      false,
			Action:    ActionReview,
			Reason:    "Scan error: " + err.Error(),
			ScannedAt: time.Now().UTC(),
		}
	}

	return Decide(labels, cfg)
}

// ScanBatch scans refs with at most scanBatchWindow concurrent classifier
// calls, chunk by chunk. The returned slice preserves input order.
func (s *Service) ScanBatch(ctx context.Context, refs []ImageRef, override *ConfigOverride) []Result {
	results := make([]Result, len(refs))

	for start := 0; start < len(refs); start += scanBatchWindow {
		end := start + scanBatchWindow
		if end > len(refs) {
			end = len(refs)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = s.Scan(ctx, refs[i], override)
			}(i)
		}
		wg.Wait()
	}

	return results
}
