package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eventpix-backend/internal/models"
	"eventpix-backend/internal/moderation"
	"eventpix-backend/internal/queue"
)

type stubClassifier struct {
	mu          sync.Mutex
	labelsByKey map[string][]moderation.Label
	err         error
	order       []string // keys in classification order
}

func (c *stubClassifier) DetectLabels(ctx context.Context, ref moderation.ImageRef, minConfidence float64) ([]moderation.Label, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = append(c.order, ref.Key)
	if c.err != nil {
		return nil, c.err
	}
	return c.labelsByKey[ref.Key], nil
}

type poolFixture struct {
	queue      *queue.MemoryQueue
	classifier *stubClassifier
	photos     *fakePhotoStore
	quarantine *fakeQuarantineStore
	pool       *Pool
	events     <-chan JobEvent
}

func newPoolFixture(t *testing.T, workers int, queueOpts queue.Options) *poolFixture {
	t.Helper()
	return newPolicyPoolFixture(t, workers, queueOpts, moderation.DefaultConfig())
}

func newPolicyPoolFixture(t *testing.T, workers int, queueOpts queue.Options, policy moderation.Config) *poolFixture {
	t.Helper()
	if queueOpts.TickInterval == 0 {
		queueOpts.TickInterval = 5 * time.Millisecond
	}
	if queueOpts.BackoffBase == 0 {
		queueOpts.BackoffBase = 5 * time.Millisecond
	}

	f := &poolFixture{
		queue:      queue.NewMemoryQueue(queueOpts),
		classifier: &stubClassifier{labelsByKey: map[string][]moderation.Label{}},
		photos:     newFakePhotoStore(),
		quarantine: &fakeQuarantineStore{},
	}
	f.pool = NewPool(Config{
		Queue:     f.queue,
		Scanner:   moderation.NewService(f.classifier, policy),
		Lifecycle: NewLifecycle(f.photos, f.quarantine),
		Size:      workers,
	})
	f.events = f.pool.Events().Subscribe(64)
	t.Cleanup(func() {
		f.pool.Stop()
		f.queue.Close()
	})
	return f
}

func (f *poolFixture) waitEvents(t *testing.T, n int) []JobEvent {
	t.Helper()
	var events []JobEvent
	timeout := time.After(5 * time.Second)
	for len(events) < n {
		select {
		case ev := <-f.events:
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("got %d events, want %d", len(events), n)
		}
	}
	return events
}

func TestPool_ApprovesCleanPhoto(t *testing.T) {
	f := newPoolFixture(t, 1, queue.Options{})
	photo := pendingPhoto()
	f.photos.add(photo)

	if _, err := f.queue.Enqueue(context.Background(), scanRequestFor(photo)); err != nil {
		t.Fatal(err)
	}
	f.pool.Start(context.Background())

	ev := f.waitEvents(t, 1)[0]
	if ev.Type != EventCompleted || ev.Action != moderation.ActionApprove {
		t.Fatalf("event = %+v, want completed/approve", ev)
	}
	if got := f.photos.status(photo.ID); got != models.ModerationApproved {
		t.Errorf("status = %s, want approved", got)
	}
	if stats := f.pool.Stats(); stats.Approved != 1 || stats.Scanned != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

// Jobs enqueued as [normal, low, critical] must be served critical first,
// then normal, then low.
func TestPool_ServesPriorityOrder(t *testing.T) {
	f := newPoolFixture(t, 1, queue.Options{})

	keys := map[queue.Priority]string{}
	for _, priority := range []queue.Priority{queue.PriorityNormal, queue.PriorityLow, queue.PriorityCritical} {
		photo := pendingPhoto()
		photo.StorageKey = "guest/" + priority.String() + ".jpg"
		f.photos.add(photo)
		keys[priority] = photo.StorageKey

		req := scanRequestFor(photo)
		req.Priority = priority
		if _, err := f.queue.Enqueue(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}

	f.pool.Start(context.Background())
	f.waitEvents(t, 3)

	f.classifier.mu.Lock()
	defer f.classifier.mu.Unlock()
	want := []string{keys[queue.PriorityCritical], keys[queue.PriorityNormal], keys[queue.PriorityLow]}
	for i := range want {
		if f.classifier.order[i] != want[i] {
			t.Fatalf("classification order = %v, want %v", f.classifier.order, want)
		}
	}
}

func TestPool_RejectsAndQuarantines(t *testing.T) {
	f := newPoolFixture(t, 1, queue.Options{})
	photo := pendingPhoto()
	f.photos.add(photo)
	f.classifier.labelsByKey[photo.StorageKey] = []moderation.Label{
		{Name: "Explicit Nudity", Confidence: 0.99},
	}

	if _, err := f.queue.Enqueue(context.Background(), scanRequestFor(photo)); err != nil {
		t.Fatal(err)
	}
	f.pool.Start(context.Background())

	ev := f.waitEvents(t, 1)[0]
	if ev.Action != moderation.ActionReject {
		t.Fatalf("action = %s, want reject", ev.Action)
	}
	if got := f.photos.status(photo.ID); got != models.ModerationRejected {
		t.Errorf("status = %s, want rejected", got)
	}
	if f.quarantine.count() != 1 {
		t.Errorf("quarantine calls = %d, want 1", f.quarantine.count())
	}
}

// A tenant that turned auto-reject off gets review verdicts for ordinary
// detections: workers must not override the policy for unreported jobs.
func TestPool_TenantAutoRejectOffRoutesToReview(t *testing.T) {
	policy := moderation.DefaultConfig()
	policy.AutoReject = false

	f := newPolicyPoolFixture(t, 1, queue.Options{}, policy)
	photo := pendingPhoto()
	f.photos.add(photo)
	// Mapped but not zero-tolerance, so the verdict follows AutoReject.
	f.classifier.labelsByKey[photo.StorageKey] = []moderation.Label{
		{Name: "Physical Violence", Confidence: 0.9},
	}

	if _, err := f.queue.Enqueue(context.Background(), scanRequestFor(photo)); err != nil {
		t.Fatal(err)
	}
	f.pool.Start(context.Background())

	ev := f.waitEvents(t, 1)[0]
	if ev.Type != EventCompleted || ev.Action != moderation.ActionReview {
		t.Fatalf("event = %+v, want completed/review", ev)
	}
	if got := f.photos.status(photo.ID); got != models.ModerationPending {
		t.Errorf("status = %s, want pending for human review", got)
	}
	if f.quarantine.count() != 1 {
		t.Errorf("quarantine calls = %d, want 1", f.quarantine.count())
	}
}

// Reported content is scanned with auto-reject disabled: its terminal action
// can only be approve or review, never reject.
func TestPool_ReportedContentNeverAutoRejects(t *testing.T) {
	f := newPoolFixture(t, 1, queue.Options{})
	photo := pendingPhoto()
	photo.IsReported = true
	f.photos.add(photo)
	f.classifier.labelsByKey[photo.StorageKey] = []moderation.Label{
		{Name: "Explicit Nudity", Confidence: 0.99},
	}

	req := scanRequestFor(photo)
	req.IsReported = true
	if _, err := f.queue.Enqueue(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	f.pool.Start(context.Background())

	ev := f.waitEvents(t, 1)[0]
	if ev.Action != moderation.ActionReview {
		t.Fatalf("action = %s, want review", ev.Action)
	}
	// Flagged for review: quarantined for the human, but still pending.
	if got := f.photos.status(photo.ID); got != models.ModerationPending {
		t.Errorf("status = %s, want pending", got)
	}
	if f.quarantine.count() != 1 {
		t.Errorf("quarantine calls = %d, want 1", f.quarantine.count())
	}
}

// A photo deleted before its job runs is a non-retryable no-op, not a
// failure.
func TestPool_MissingPhotoCompletesWithoutRetry(t *testing.T) {
	f := newPoolFixture(t, 1, queue.Options{})
	photo := pendingPhoto() // never added to the store

	if _, err := f.queue.Enqueue(context.Background(), scanRequestFor(photo)); err != nil {
		t.Fatal(err)
	}
	f.pool.Start(context.Background())

	ev := f.waitEvents(t, 1)[0]
	if ev.Type != EventSkipped {
		t.Fatalf("event = %+v, want skipped", ev)
	}

	waitForStats(t, func() bool {
		stats, _ := f.queue.Stats(context.Background())
		return stats.Completed == 1 && stats.Failed == 0 && stats.Waiting+stats.Delayed == 0
	})
	if stats := f.pool.Stats(); stats.PhotoMissing != 1 || stats.Failures != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

// Infrastructure failures while applying a verdict are handed back to the
// queue, retried with backoff, and exhausted into failed history.
func TestPool_InfraFailureRetriesUntilExhausted(t *testing.T) {
	f := newPoolFixture(t, 1, queue.Options{MaxAttempts: 3})
	photo := pendingPhoto()
	f.photos.add(photo)
	f.classifier.labelsByKey[photo.StorageKey] = []moderation.Label{
		{Name: "Explicit Nudity", Confidence: 0.99},
	}
	f.quarantine.err = errors.New("s3 unreachable")

	if _, err := f.queue.Enqueue(context.Background(), scanRequestFor(photo)); err != nil {
		t.Fatal(err)
	}
	f.pool.Start(context.Background())

	events := f.waitEvents(t, 3)
	for i, ev := range events {
		if ev.Type != EventFailed {
			t.Fatalf("event %d = %+v, want failed", i, ev)
		}
		if ev.Attempt != i+1 {
			t.Errorf("event %d attempt = %d, want %d", i, ev.Attempt, i+1)
		}
	}

	waitForStats(t, func() bool {
		stats, _ := f.queue.Stats(context.Background())
		return stats.Failed == 1
	})
	if got := f.photos.status(photo.ID); got != models.ModerationPending {
		t.Errorf("status = %s, photo must stay pending after exhaustion", got)
	}
}

// A classifier that errors yields a review verdict (fail-closed), which is
// a completed job, not a retry.
func TestPool_ClassifierErrorFailsClosedToReview(t *testing.T) {
	f := newPoolFixture(t, 1, queue.Options{})
	photo := pendingPhoto()
	f.photos.add(photo)
	f.classifier.err = errors.New("throttled")

	if _, err := f.queue.Enqueue(context.Background(), scanRequestFor(photo)); err != nil {
		t.Fatal(err)
	}
	f.pool.Start(context.Background())

	ev := f.waitEvents(t, 1)[0]
	if ev.Type != EventCompleted || ev.Action != moderation.ActionReview {
		t.Fatalf("event = %+v, want completed/review", ev)
	}
	if got := f.photos.status(photo.ID); got != models.ModerationPending {
		t.Errorf("status = %s, want pending", got)
	}
	// No categories were detected, so nothing is quarantined.
	if f.quarantine.count() != 0 {
		t.Errorf("quarantine calls = %d, want 0", f.quarantine.count())
	}
}

// An unconfigured classifier approves in degraded mode, counted separately
// so operators can audit what went through unscanned.
func TestPool_DegradedApprovalIsCounted(t *testing.T) {
	queueOpts := queue.Options{TickInterval: 5 * time.Millisecond}
	q := queue.NewMemoryQueue(queueOpts)
	photos := newFakePhotoStore()
	photo := pendingPhoto()
	photos.add(photo)

	pool := NewPool(Config{
		Queue:     q,
		Scanner:   moderation.NewService(nil, moderation.DefaultConfig()),
		Lifecycle: NewLifecycle(photos, &fakeQuarantineStore{}),
		Size:      1,
	})
	events := pool.Events().Subscribe(8)
	t.Cleanup(func() {
		pool.Stop()
		q.Close()
	})

	if _, err := q.Enqueue(context.Background(), scanRequestFor(photo)); err != nil {
		t.Fatal(err)
	}
	pool.Start(context.Background())

	select {
	case ev := <-events:
		if !ev.Degraded || ev.Action != moderation.ActionApprove {
			t.Fatalf("event = %+v, want degraded approve", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}

	if got := photos.status(photo.ID); got != models.ModerationApproved {
		t.Errorf("status = %s, want approved", got)
	}
	if stats := pool.Stats(); stats.Degraded != 1 {
		t.Errorf("degraded = %d, want 1", stats.Degraded)
	}
}

// Re-delivering a verdict for an already-terminal photo must not repeat
// side effects.
func TestPool_TerminalPhotoIsIdempotent(t *testing.T) {
	f := newPoolFixture(t, 1, queue.Options{})
	photo := pendingPhoto()
	photo.ModerationStatus = models.ModerationRejected
	f.photos.add(photo)
	f.classifier.labelsByKey[photo.StorageKey] = []moderation.Label{
		{Name: "Explicit Nudity", Confidence: 0.99},
	}

	if _, err := f.queue.Enqueue(context.Background(), scanRequestFor(photo)); err != nil {
		t.Fatal(err)
	}
	f.pool.Start(context.Background())

	ev := f.waitEvents(t, 1)[0]
	if ev.Type != EventCompleted {
		t.Fatalf("event = %+v, want completed", ev)
	}
	if f.quarantine.count() != 0 {
		t.Errorf("quarantine re-invoked on terminal photo")
	}
}

// Exactly Size workers run concurrently; excess jobs wait.
func TestPool_BoundedConcurrency(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	blocking := &gatedClassifier{
		gate: gate,
		onEnter: func() {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
		},
		onExit: func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		},
	}

	q := queue.NewMemoryQueue(queue.Options{TickInterval: 5 * time.Millisecond})
	photos := newFakePhotoStore()
	pool := NewPool(Config{
		Queue:     q,
		Scanner:   moderation.NewService(blocking, moderation.DefaultConfig()),
		Lifecycle: NewLifecycle(photos, &fakeQuarantineStore{}),
		Size:      2,
	})
	events := pool.Events().Subscribe(16)
	t.Cleanup(func() {
		pool.Stop()
		q.Close()
	})

	const jobs = 6
	for i := 0; i < jobs; i++ {
		photo := pendingPhoto()
		photos.add(photo)
		if _, err := q.Enqueue(context.Background(), scanRequestFor(photo)); err != nil {
			t.Fatal(err)
		}
	}
	pool.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	close(gate)

	done := 0
	timeout := time.After(5 * time.Second)
	for done < jobs {
		select {
		case <-events:
			done++
		case <-timeout:
			t.Fatalf("completed %d jobs, want %d", done, jobs)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if maxInFlight != 2 {
		t.Errorf("max concurrent scans = %d, want 2", maxInFlight)
	}
}

// Stop waits for the job a worker already claimed: the verdict is applied
// and the job completes instead of aborting into a retry.
func TestPool_StopWaitsForInFlightJob(t *testing.T) {
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	blocking := &gatedClassifier{
		gate:    gate,
		onEnter: func() { entered <- struct{}{} },
		onExit:  func() {},
	}

	q := queue.NewMemoryQueue(queue.Options{TickInterval: 5 * time.Millisecond})
	photos := newFakePhotoStore()
	photo := pendingPhoto()
	photos.add(photo)

	pool := NewPool(Config{
		Queue:     q,
		Scanner:   moderation.NewService(blocking, moderation.DefaultConfig()),
		Lifecycle: NewLifecycle(photos, &fakeQuarantineStore{}),
		Size:      1,
	})
	t.Cleanup(func() { q.Close() })

	if _, err := q.Enqueue(context.Background(), scanRequestFor(photo)); err != nil {
		t.Fatal(err)
	}
	pool.Start(context.Background())
	<-entered

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()
	close(gate)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	if got := photos.status(photo.ID); got != models.ModerationApproved {
		t.Errorf("status = %s, want approved after graceful stop", got)
	}
	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 || stats.Failed != 0 || stats.Delayed != 0 {
		t.Errorf("queue stats = %+v, want the in-flight job completed", stats)
	}
}

// A verdict whose lease timed out while the worker was stuck in the
// classifier is dropped before it touches the counters: only applied
// verdicts show up in the stats.
func TestPool_LateVerdictIsNotCounted(t *testing.T) {
	release := make(chan struct{})
	slow := &slowFirstCallClassifier{release: release}

	q := queue.NewMemoryQueue(queue.Options{
		TickInterval: 5 * time.Millisecond,
		BackoffBase:  5 * time.Millisecond,
		JobTimeout:   30 * time.Millisecond,
	})
	photos := newFakePhotoStore()
	photo := pendingPhoto()
	photos.add(photo)

	pool := NewPool(Config{
		Queue:     q,
		Scanner:   moderation.NewService(slow, moderation.DefaultConfig()),
		Lifecycle: NewLifecycle(photos, &fakeQuarantineStore{}),
		Size:      2,
	})
	events := pool.Events().Subscribe(8)
	t.Cleanup(func() {
		pool.Stop()
		q.Close()
	})

	if _, err := q.Enqueue(context.Background(), scanRequestFor(photo)); err != nil {
		t.Fatal(err)
	}
	pool.Start(context.Background())

	// The first attempt hangs past the queue's processing ceiling; the
	// reaper re-queues the job and the second worker finishes it.
	select {
	case ev := <-events:
		if ev.Type != EventCompleted || ev.Action != moderation.ActionApprove {
			t.Fatalf("event = %+v, want completed/approve", ev)
		}
		if ev.Attempt < 2 {
			t.Fatalf("attempt = %d, want a retried attempt", ev.Attempt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no completion event")
	}

	// Unblock the stale attempt and let its verdict hit the lease fence.
	close(release)
	waitForStats(t, func() bool { return slow.done() })
	time.Sleep(20 * time.Millisecond)

	if stats := pool.Stats(); stats.Scanned != 1 || stats.Approved != 1 {
		t.Errorf("stats = %+v, want exactly one counted scan", stats)
	}
	if got := photos.status(photo.ID); got != models.ModerationApproved {
		t.Errorf("status = %s, want approved", got)
	}
}

// slowFirstCallClassifier stalls its first call until released; later calls
// return immediately with no labels.
type slowFirstCallClassifier struct {
	release  chan struct{}
	mu       sync.Mutex
	calls    int
	finished bool
}

func (c *slowFirstCallClassifier) DetectLabels(ctx context.Context, ref moderation.ImageRef, minConfidence float64) ([]moderation.Label, error) {
	c.mu.Lock()
	c.calls++
	first := c.calls == 1
	c.mu.Unlock()
	if first {
		<-c.release
		c.mu.Lock()
		c.finished = true
		c.mu.Unlock()
	}
	return nil, nil
}

func (c *slowFirstCallClassifier) done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

type gatedClassifier struct {
	gate    chan struct{}
	onEnter func()
	onExit  func()
}

func (c *gatedClassifier) DetectLabels(ctx context.Context, ref moderation.ImageRef, minConfidence float64) ([]moderation.Label, error) {
	c.onEnter()
	<-c.gate
	c.onExit()
	return nil, nil
}

func waitForStats(t *testing.T, ok func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ok() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never reached")
}
