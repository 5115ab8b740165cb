package queue

import (
	"context"
	"errors"
	"time"

	"eventpix-backend/internal/moderation"

	"github.com/google/uuid"
)

// Priority is the scan job priority rank. Lower ranks are served first.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

func (p Priority) valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// ScanRequest is one unit of moderation work. PhotoID doubles as the
// deduplication key: at most one pending or in-flight job exists per photo.
type ScanRequest struct {
	PhotoID    uuid.UUID           `json:"photo_id"`
	EventID    uuid.UUID           `json:"event_id"`
	ImageRef   moderation.ImageRef `json:"image_ref"`
	Priority   Priority            `json:"priority"`
	IsReported bool                `json:"is_reported"`
}

// State is a job's lifecycle state.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// JobRecord is the queue-internal lifecycle wrapper around a ScanRequest.
type JobRecord struct {
	ID          string      `json:"id"`
	Request     ScanRequest `json:"request"`
	State       State       `json:"state"`
	Attempts    int         `json:"attempts"`
	LastError   string      `json:"last_error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
}

// Lease is a worker's claim on a dequeued job. The token fences stale
// results: once the queue times a job out and re-queues it, Complete, Fail
// and Valid for the old lease all report ErrStaleLease / false, so a late
// verdict is never applied over a newer attempt.
type Lease struct {
	JobID   string
	Token   uint64
	Attempt int
	Request ScanRequest
}

// Stats is a point-in-time snapshot of queue depth per state.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

var (
	// ErrClosed is returned once the queue has been shut down.
	ErrClosed = errors.New("queue closed")
	// ErrStaleLease marks a Complete/Fail for a lease the queue already
	// timed out and re-issued.
	ErrStaleLease = errors.New("stale job lease")
	// ErrInvalidRequest marks a malformed ScanRequest at enqueue time.
	ErrInvalidRequest = errors.New("invalid scan request")

	// errTimeout is recorded as LastError when the reaper fails a job
	// whose processing exceeded the ceiling.
	errTimeout = errors.New("job timeout exceeded")
)

// Queue is the durable, priority-ordered, deduplicated job store contract.
//
// Guarantees every implementation must honor:
//   - Priority ordering: waiting jobs dispatch in ascending priority rank
//     (critical first); FIFO by enqueue time within a rank.
//   - Deduplication: Enqueue for a photo that already has a non-terminal
//     job is a no-op returning the existing job ID.
//   - IsReported forces PriorityCritical regardless of the caller's rank.
//   - Retry: Fail re-queues with exponential backoff until the attempt
//     bound, then parks the job in bounded failed history.
//   - Timeout: a job active longer than the configured ceiling is failed
//     and re-queued; the old lease becomes stale.
//   - Pause stops dispatch of new jobs without cancelling in-flight ones;
//     Drain discards all non-active jobs.
//   - Bookkeeping operations are linearizable.
//
// Delivery is at-least-once; workers must tolerate re-processing.
type Queue interface {
	Enqueue(ctx context.Context, req ScanRequest) (string, error)
	// Dequeue blocks until an eligible job is available, the context ends,
	// or the queue closes.
	Dequeue(ctx context.Context) (*Lease, error)
	Complete(ctx context.Context, lease *Lease) error
	Fail(ctx context.Context, lease *Lease, cause error) error
	// Valid reports whether the lease still owns its job. Workers check it
	// before applying side effects computed under the lease.
	Valid(ctx context.Context, lease *Lease) bool
	Stats(ctx context.Context) (Stats, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Drain(ctx context.Context) error
	Close() error
}

// Options tune retry, timeout and history retention behavior.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	JobTimeout  time.Duration

	CompletedRetention time.Duration
	CompletedMax       int
	FailedRetention    time.Duration
	FailedMax          int

	// TickInterval drives the timeout reaper, delayed-job promotion and
	// history eviction. Tests shrink it.
	TickInterval time.Duration
}

// DefaultOptions matches the production tuning: 3 attempts, 30s base
// backoff doubling per attempt, 5 minute job ceiling, 7d/1000 completed
// and 30d/500 failed history.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:        3,
		BackoffBase:        30 * time.Second,
		JobTimeout:         5 * time.Minute,
		CompletedRetention: 7 * 24 * time.Hour,
		CompletedMax:       1000,
		FailedRetention:    30 * 24 * time.Hour,
		FailedMax:          500,
		TickInterval:       time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = def.BackoffBase
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = def.JobTimeout
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = def.CompletedRetention
	}
	if o.CompletedMax <= 0 {
		o.CompletedMax = def.CompletedMax
	}
	if o.FailedRetention <= 0 {
		o.FailedRetention = def.FailedRetention
	}
	if o.FailedMax <= 0 {
		o.FailedMax = def.FailedMax
	}
	if o.TickInterval <= 0 {
		o.TickInterval = def.TickInterval
	}
	return o
}

// backoffDelay returns the delay before the given retry attempt (1-based
// count of attempts already made): base, 2*base, 4*base, ...
func (o Options) backoffDelay(attempts int) time.Duration {
	delay := o.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

// normalize validates a request and applies the reported-content escalation.
func normalize(req ScanRequest) (ScanRequest, error) {
	if req.PhotoID == uuid.Nil {
		return req, errors.Join(ErrInvalidRequest, errors.New("photo id is required"))
	}
	if req.ImageRef.Key == "" {
		return req, errors.Join(ErrInvalidRequest, errors.New("image ref is required"))
	}
	if req.Priority == 0 {
		req.Priority = PriorityNormal
	}
	if !req.Priority.valid() {
		return req, errors.Join(ErrInvalidRequest, errors.New("unknown priority"))
	}
	if req.IsReported {
		req.Priority = PriorityCritical
	}
	return req, nil
}
