package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"eventpix-backend/internal/moderation"
	"eventpix-backend/internal/queue"
	"eventpix-backend/internal/storage"
)

// Scanner is the slice of the moderation service the pool needs.
type Scanner interface {
	Scan(ctx context.Context, ref moderation.ImageRef, override *moderation.ConfigOverride) moderation.Result
}

// Config wires a worker pool.
type Config struct {
	Queue     queue.Queue
	Scanner   Scanner
	Lifecycle *Lifecycle
	// Size is the number of concurrent workers (default 3). This cap is
	// independent of the moderation service's batch fan-out window.
	Size int
	// JobTimeout bounds one job's execution; it should match the queue's
	// processing ceiling.
	JobTimeout time.Duration
}

// Pool runs a fixed set of workers that dequeue scan jobs, compute verdicts
// and apply them. Workers share no mutable state beyond the queue itself;
// each job's writes are scoped to its own photo.
type Pool struct {
	cfg    Config
	events *Publisher
	stats  *Stats

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewPool(cfg Config) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 3
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &Pool{
		cfg:    cfg,
		events: NewPublisher(),
		stats:  &Stats{},
	}
}

// Events exposes the lifecycle event stream for subscribers.
func (p *Pool) Events() *Publisher {
	return p.events
}

// Stats exposes the outcome counters.
func (p *Pool) Stats() StatsSnapshot {
	return p.stats.Snapshot()
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		for i := 0; i < p.cfg.Size; i++ {
			p.wg.Add(1)
			go p.workerLoop(ctx, i)
		}
		log.Printf("✅ Moderation worker pool started (workers=%d)", p.cfg.Size)
	})
}

// Stop cancels dequeueing, waits for in-flight jobs and closes the event
// stream.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		p.events.Close()
		log.Printf("✅ Moderation worker pool stopped")
	})
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		lease, err := p.cfg.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("❌ Worker %d dequeue failed: %v", id, err)
			continue
		}
		p.process(lease)
	}
}

func (p *Pool) process(lease *queue.Lease) {
	// Detached from the pool context so Stop lets the job run to its own
	// timeout instead of aborting it into a retry.
	jobCtx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
	defer cancel()

	req := lease.Request

	// Reported content must never auto-reject: a human asked for eyes on
	// it, so detections route to review. Unreported jobs follow the tenant
	// policy untouched.
	var override *moderation.ConfigOverride
	if req.IsReported {
		noAutoReject := false
		override = &moderation.ConfigOverride{AutoReject: &noAutoReject}
	}
	result := p.cfg.Scanner.Scan(jobCtx, req.ImageRef, override)

	// A verdict computed under a lease the queue already timed out must
	// not race a newer attempt, and must not count toward the totals.
	if !p.cfg.Queue.Valid(jobCtx, lease) {
		log.Printf("⚠️  Dropping late verdict for photo %s (job %s, attempt %d)", req.PhotoID, lease.JobID, lease.Attempt)
		return
	}

	p.stats.scanned.Add(1)
	if result.Degraded {
		// Fail-open approval, not a true verdict. Logged distinctly so
		// operators can audit what went through unscanned.
		p.stats.degraded.Add(1)
		log.Printf("⚠️  DEGRADED approval for photo %s: %s", req.PhotoID, result.Reason)
	}

	err := p.cfg.Lifecycle.Apply(jobCtx, req, result)
	switch {
	case errors.Is(err, storage.ErrPhotoNotFound):
		// Deleted before its job ran: nothing to moderate, don't retry and
		// don't count it as a failure.
		p.stats.photoMissing.Add(1)
		p.finish(jobCtx, lease, result, EventSkipped, nil)

	case err != nil:
		// True infrastructure failure. Hand it back to the queue so
		// retry/backoff can act; swallowing it as a review verdict would
		// hide outages from operators.
		p.stats.failures.Add(1)
		log.Printf("❌ Worker failed to apply verdict for photo %s (attempt %d): %v", req.PhotoID, lease.Attempt, err)
		if ferr := p.cfg.Queue.Fail(jobCtx, lease, err); ferr != nil && !errors.Is(ferr, queue.ErrStaleLease) {
			log.Printf("❌ Failed to report job failure for %s: %v", lease.JobID, ferr)
		}
		p.events.publish(JobEvent{
			Type: EventFailed, JobID: lease.JobID, PhotoID: req.PhotoID, EventID: req.EventID,
			Action: result.Action, Attempt: lease.Attempt, Error: err.Error(), At: time.Now().UTC(),
		})

	default:
		switch result.Action {
		case moderation.ActionApprove:
			p.stats.approved.Add(1)
		case moderation.ActionReject:
			p.stats.rejected.Add(1)
		case moderation.ActionReview:
			p.stats.review.Add(1)
		}
		p.finish(jobCtx, lease, result, EventCompleted, nil)
	}
}

func (p *Pool) finish(ctx context.Context, lease *queue.Lease, result moderation.Result, eventType EventType, cause error) {
	if err := p.cfg.Queue.Complete(ctx, lease); err != nil && !errors.Is(err, queue.ErrStaleLease) {
		log.Printf("❌ Failed to complete job %s: %v", lease.JobID, err)
	}
	ev := JobEvent{
		Type:     eventType,
		JobID:    lease.JobID,
		PhotoID:  lease.Request.PhotoID,
		EventID:  lease.Request.EventID,
		Action:   result.Action,
		Reason:   result.Reason,
		Attempt:  lease.Attempt,
		Degraded: result.Degraded,
		At:       time.Now().UTC(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	p.events.publish(ev)
}
