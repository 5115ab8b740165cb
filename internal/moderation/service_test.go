package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type mockClassifier struct {
	mu            sync.Mutex
	calls         []float64 // minConfidence per call
	inFlight      int
	maxInFlight   int
	labelsByKey   map[string][]Label
	err           error
	block         chan struct{} // optional gate to observe concurrency
}

func (m *mockClassifier) DetectLabels(ctx context.Context, ref ImageRef, minConfidence float64) ([]Label, error) {
	m.mu.Lock()
	m.calls = append(m.calls, minConfidence)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.mu.Unlock()

	if m.block != nil {
		<-m.block
	}

	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	return m.labelsByKey[ref.Key], nil
}

func TestScan_DegradedWhenUnconfigured(t *testing.T) {
	svc := NewService(nil, DefaultConfig())

	result := svc.Scan(context.Background(), ImageRef{Bucket: "photos", Key: "a.jpg"}, nil)

	if result.Action != ActionApprove {
		t.Errorf("action = %s, want approve", result.Action)
	}
	if !result.Safe {
		t.Errorf("expected safe=true")
	}
	if !result.Degraded {
		t.Errorf("expected degraded flag")
	}
	if !strings.Contains(result.Reason, "manual moderation required") {
		t.Errorf("reason = %q, want mention of manual moderation", result.Reason)
	}
}

func TestScan_FailsClosedOnClassifierError(t *testing.T) {
	classifier := &mockClassifier{err: errors.New("connection reset")}
	svc := NewService(classifier, DefaultConfig())

	result := svc.Scan(context.Background(), ImageRef{Bucket: "photos", Key: "a.jpg"}, nil)

	if result.Action != ActionReview {
		t.Errorf("action = %s, want review", result.Action)
	}
	if result.Safe {
		t.Errorf("expected safe=false")
	}
	if !strings.Contains(result.Reason, "Scan error") {
		t.Errorf("reason = %q, want Scan error prefix", result.Reason)
	}
	if result.Degraded {
		t.Errorf("a classifier error is not degraded mode")
	}
}

func TestScan_PassesThresholdAsFraction(t *testing.T) {
	classifier := &mockClassifier{labelsByKey: map[string][]Label{}}
	cfg := DefaultConfig()
	cfg.ConfidenceThreshold = 0.65
	svc := NewService(classifier, cfg)

	svc.Scan(context.Background(), ImageRef{Bucket: "photos", Key: "a.jpg"}, nil)

	if len(classifier.calls) != 1 || classifier.calls[0] != 0.65 {
		t.Errorf("classifier called with %v, want [0.65]", classifier.calls)
	}
}

func TestScan_OverrideDisablesAutoReject(t *testing.T) {
	classifier := &mockClassifier{labelsByKey: map[string][]Label{
		"a.jpg": {{Name: "Explicit Nudity", Confidence: 0.99}},
	}}
	svc := NewService(classifier, DefaultConfig())

	autoReject := false
	result := svc.Scan(context.Background(), ImageRef{Bucket: "photos", Key: "a.jpg"},
		&ConfigOverride{AutoReject: &autoReject})

	if result.Action != ActionReview {
		t.Errorf("action = %s, want review", result.Action)
	}
}

func TestScanBatch_PreservesOrder(t *testing.T) {
	classifier := &mockClassifier{labelsByKey: map[string][]Label{
		"bad.jpg": {{Name: "Explicit Nudity", Confidence: 0.99}},
	}}
	svc := NewService(classifier, DefaultConfig())

	refs := make([]ImageRef, 12)
	for i := range refs {
		refs[i] = ImageRef{Bucket: "photos", Key: fmt.Sprintf("clean-%d.jpg", i)}
	}
	refs[7] = ImageRef{Bucket: "photos", Key: "bad.jpg"}

	results := svc.ScanBatch(context.Background(), refs, nil)

	if len(results) != len(refs) {
		t.Fatalf("got %d results, want %d", len(results), len(refs))
	}
	for i, r := range results {
		wantAction := ActionApprove
		if i == 7 {
			wantAction = ActionReject
		}
		if r.Action != wantAction {
			t.Errorf("results[%d].Action = %s, want %s", i, r.Action, wantAction)
		}
	}
}

func TestScanBatch_ConcurrencyWindow(t *testing.T) {
	classifier := &mockClassifier{
		labelsByKey: map[string][]Label{},
		block:       make(chan struct{}),
	}
	svc := NewService(classifier, DefaultConfig())

	refs := make([]ImageRef, 13)
	for i := range refs {
		refs[i] = ImageRef{Bucket: "photos", Key: fmt.Sprintf("p-%d.jpg", i)}
	}

	done := make(chan []Result)
	go func() { done <- svc.ScanBatch(context.Background(), refs, nil) }()

	close(classifier.block)
	<-done

	classifier.mu.Lock()
	defer classifier.mu.Unlock()
	if classifier.maxInFlight > scanBatchWindow {
		t.Errorf("max in-flight classifier calls = %d, cap is %d", classifier.maxInFlight, scanBatchWindow)
	}
	if len(classifier.calls) != len(refs) {
		t.Errorf("classifier called %d times, want %d", len(classifier.calls), len(refs))
	}
}
