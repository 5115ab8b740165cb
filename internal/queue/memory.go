package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memJob struct {
	record   JobRecord
	seq      uint64
	token    uint64
	readyAt  time.Time // earliest dispatch when delayed
	deadline time.Time // timeout ceiling when active
	index    int
}

// jobHeap orders waiting jobs by priority rank, FIFO inside a rank.
type jobHeap []*memJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].record.Request.Priority != h[j].record.Request.Priority {
		return h[i].record.Request.Priority < h[j].record.Request.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*memJob)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// MemoryQueue is the in-process Queue backend: a priority heap plus delayed
// and active sets, all guarded by one mutex so bookkeeping stays
// linearizable. A janitor goroutine promotes delayed jobs, times out stuck
// actives and evicts old history.
type MemoryQueue struct {
	opts Options

	mu        sync.Mutex
	cond      *sync.Cond
	waiting   jobHeap
	delayed   map[string]*memJob
	active    map[string]*memJob
	byPhoto   map[uuid.UUID]*memJob // dedup index over non-terminal jobs
	completed []*memJob
	failed    []*memJob
	paused    bool
	closed    bool
	seq       uint64
	tokens    uint64

	stop     chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

func NewMemoryQueue(opts Options) *MemoryQueue {
	q := &MemoryQueue{
		opts:    opts.withDefaults(),
		delayed: make(map[string]*memJob),
		active:  make(map[string]*memJob),
		byPhoto: make(map[uuid.UUID]*memJob),
		stop:    make(chan struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
	q.cond = sync.NewCond(&q.mu)
	go q.janitor()
	return q
}

func (q *MemoryQueue) janitor() {
	ticker := time.NewTicker(q.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.mu.Lock()
			q.promoteDelayedLocked()
			q.reapTimeoutsLocked()
			q.evictHistoryLocked()
			q.cond.Broadcast()
			q.mu.Unlock()
		}
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, req ScanRequest) (string, error) {
	req, err := normalize(req)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrClosed
	}

	// Idempotent enqueue: one non-terminal job per photo.
	if existing, ok := q.byPhoto[req.PhotoID]; ok {
		return existing.record.ID, nil
	}

	q.seq++
	j := &memJob{
		record: JobRecord{
			ID:        uuid.New().String(),
			Request:   req,
			State:     StateWaiting,
			CreatedAt: q.now(),
		},
		seq: q.seq,
	}
	q.byPhoto[req.PhotoID] = j
	heap.Push(&q.waiting, j)
	q.cond.Broadcast()
	return j.record.ID, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Lease, error) {
	// Wake the cond wait when the caller gives up.
	stopWatch := context.AfterFunc(ctx, func() { q.cond.Broadcast() })
	defer stopWatch()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q.promoteDelayedLocked()
		if !q.paused && q.waiting.Len() > 0 {
			j := heap.Pop(&q.waiting).(*memJob)
			q.tokens++
			j.token = q.tokens
			j.record.State = StateActive
			j.record.Attempts++
			j.deadline = q.now().Add(q.opts.JobTimeout)
			q.active[j.record.ID] = j
			return &Lease{
				JobID:   j.record.ID,
				Token:   j.token,
				Attempt: j.record.Attempts,
				Request: j.record.Request,
			}, nil
		}

		q.cond.Wait()
	}
}

func (q *MemoryQueue) Complete(ctx context.Context, lease *Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.active[lease.JobID]
	if !ok || j.token != lease.Token {
		return ErrStaleLease
	}

	delete(q.active, lease.JobID)
	delete(q.byPhoto, j.record.Request.PhotoID)
	j.record.State = StateCompleted
	j.record.CompletedAt = q.now()
	q.completed = append(q.completed, j)
	q.evictHistoryLocked()
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, lease *Lease, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.active[lease.JobID]
	if !ok || j.token != lease.Token {
		return ErrStaleLease
	}

	delete(q.active, lease.JobID)
	q.failLocked(j, cause)
	return nil
}

func (q *MemoryQueue) Valid(ctx context.Context, lease *Lease) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.active[lease.JobID]
	return ok && j.token == lease.Token
}

func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Waiting:   q.waiting.Len(),
		Active:    len(q.active),
		Delayed:   len(q.delayed),
		Completed: len(q.completed),
		Failed:    len(q.failed),
	}, nil
}

func (q *MemoryQueue) Pause(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
	return nil
}

func (q *MemoryQueue) Resume(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	q.cond.Broadcast()
	return nil
}

// Drain discards every waiting and delayed job. In-flight jobs keep running.
func (q *MemoryQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, j := range q.waiting {
		delete(q.byPhoto, j.record.Request.PhotoID)
	}
	q.waiting = q.waiting[:0]
	for id, j := range q.delayed {
		delete(q.byPhoto, j.record.Request.PhotoID)
		delete(q.delayed, id)
	}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.stopOnce.Do(func() { close(q.stop) })
	return nil
}

// failLocked applies the retry policy to a job that is no longer active.
func (q *MemoryQueue) failLocked(j *memJob, cause error) {
	if cause != nil {
		j.record.LastError = cause.Error()
	}

	if j.record.Attempts >= q.opts.MaxAttempts {
		delete(q.byPhoto, j.record.Request.PhotoID)
		j.record.State = StateFailed
		j.record.CompletedAt = q.now()
		q.failed = append(q.failed, j)
		q.evictHistoryLocked()
		return
	}

	j.record.State = StateDelayed
	j.readyAt = q.now().Add(q.opts.backoffDelay(j.record.Attempts))
	q.delayed[j.record.ID] = j
}

func (q *MemoryQueue) promoteDelayedLocked() {
	now := q.now()
	for id, j := range q.delayed {
		if !j.readyAt.After(now) {
			delete(q.delayed, id)
			j.record.State = StateWaiting
			q.seq++
			j.seq = q.seq
			heap.Push(&q.waiting, j)
		}
	}
}

// reapTimeoutsLocked fails jobs whose processing exceeded the ceiling. The
// stale lease token makes sure a late worker result is dropped.
func (q *MemoryQueue) reapTimeoutsLocked() {
	now := q.now()
	for id, j := range q.active {
		if j.deadline.After(now) {
			continue
		}
		delete(q.active, id)
		q.failLocked(j, errTimeout)
	}
}

func (q *MemoryQueue) evictHistoryLocked() {
	q.completed = trimHistory(q.completed, q.opts.CompletedMax, q.now().Add(-q.opts.CompletedRetention))
	q.failed = trimHistory(q.failed, q.opts.FailedMax, q.now().Add(-q.opts.FailedRetention))
}

// trimHistory drops entries beyond max count or older than cutoff. Lists
// are appended in completion order, so the oldest entries sit at the front.
func trimHistory(jobs []*memJob, max int, cutoff time.Time) []*memJob {
	if excess := len(jobs) - max; excess > 0 {
		jobs = jobs[excess:]
	}
	for len(jobs) > 0 && jobs[0].record.CompletedAt.Before(cutoff) {
		jobs = jobs[1:]
	}
	return jobs
}
