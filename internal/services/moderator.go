package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"eventpix-backend/internal/models"
	"eventpix-backend/internal/moderation"
	"eventpix-backend/internal/queue"
	"eventpix-backend/internal/storage"
	"eventpix-backend/internal/worker"

	"github.com/google/uuid"
)

// ErrAlreadyModerated is returned when a scan is requested for a photo that
// already reached a terminal status.
var ErrAlreadyModerated = errors.New("photo already moderated")

// ModeratorDeps enumerates everything a Moderator owns. Callers construct
// and inject all of it; the moderator holds no process-wide state.
type ModeratorDeps struct {
	Queue      queue.Queue
	Scanner    *moderation.Service
	Photos     storage.PhotoStore
	Quarantine storage.QuarantineStore
	Workers    int
	JobTimeout time.Duration
	WebhookURL string
}

// Moderator is the moderation pipeline's front door: it validates and
// enqueues scan requests, escalates manual reports, and exposes the
// operator controls. It owns the queue and the worker pool for its
// lifetime.
type Moderator struct {
	deps ModeratorDeps
	pool *worker.Pool
}

func NewModerator(deps ModeratorDeps) *Moderator {
	lifecycle := worker.NewLifecycle(deps.Photos, deps.Quarantine)
	pool := worker.NewPool(worker.Config{
		Queue:      deps.Queue,
		Scanner:    deps.Scanner,
		Lifecycle:  lifecycle,
		Size:       deps.Workers,
		JobTimeout: deps.JobTimeout,
	})
	return &Moderator{deps: deps, pool: pool}
}

// Start launches the worker pool and the event subscribers.
func (m *Moderator) Start(ctx context.Context) {
	go logJobEvents(m.pool.Events().Subscribe(0))
	if m.deps.WebhookURL != "" {
		notifier := NewWebhookNotifier(m.deps.WebhookURL)
		go notifier.Run(m.pool.Events().Subscribe(0))
	}
	m.pool.Start(ctx)
}

// Stop shuts the pool down, waits for in-flight jobs, then closes the queue.
func (m *Moderator) Stop(ctx context.Context) {
	m.pool.Stop()
	if err := m.deps.Queue.Close(); err != nil {
		log.Printf("❌ Failed to close moderation queue: %v", err)
	}
}

// EnqueueScan queues a photo for moderation. Photos already in a terminal
// status are skipped (ErrAlreadyModerated); a photo with a job in flight is
// absorbed by the queue's dedup and returns that job's ID.
func (m *Moderator) EnqueueScan(ctx context.Context, req queue.ScanRequest) (string, error) {
	photo, err := m.deps.Photos.GetPhoto(ctx, req.PhotoID)
	if err != nil {
		return "", err
	}
	if photo.ModerationStatus != models.ModerationPending {
		return "", ErrAlreadyModerated
	}

	jobID, err := m.deps.Queue.Enqueue(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue scan for photo %s: %w", req.PhotoID, err)
	}
	log.Printf("✅ Enqueued moderation scan: photo=%s event=%s priority=%s job=%s",
		req.PhotoID, req.EventID, req.Priority, jobID)
	return jobID, nil
}

// ScanPhoto resolves a photo's image reference and enqueues a scan at the
// given priority. Upload glue calls this once the object has landed.
func (m *Moderator) ScanPhoto(ctx context.Context, photoID uuid.UUID, priority queue.Priority) (string, error) {
	photo, err := m.deps.Photos.GetPhoto(ctx, photoID)
	if err != nil {
		return "", err
	}
	if photo.ModerationStatus != models.ModerationPending {
		return "", ErrAlreadyModerated
	}
	jobID, err := m.deps.Queue.Enqueue(ctx, queue.ScanRequest{
		PhotoID:  photoID,
		EventID:  photo.EventID,
		ImageRef: moderation.ImageRef{Bucket: photo.Bucket, Key: photo.StorageKey},
		Priority: priority,
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue scan for photo %s: %w", photoID, err)
	}
	log.Printf("✅ Enqueued moderation scan: photo=%s event=%s priority=%s job=%s",
		photoID, photo.EventID, priority, jobID)
	return jobID, nil
}

// ReportPhoto escalates a human report: the photo is re-opened for
// moderation and scanned at critical priority with auto-reject disabled, so
// the outcome can only be approve or review, never an automated reject.
func (m *Moderator) ReportPhoto(ctx context.Context, photoID uuid.UUID, reason string) (string, error) {
	photo, err := m.deps.Photos.GetPhoto(ctx, photoID)
	if err != nil {
		return "", err
	}

	if photo.ModerationStatus != models.ModerationPending {
		if err := m.deps.Photos.SetModerationStatus(ctx, photoID, models.ModerationPending,
			"reported: "+reason, nil); err != nil {
			return "", err
		}
	}

	jobID, err := m.deps.Queue.Enqueue(ctx, queue.ScanRequest{
		PhotoID:    photoID,
		EventID:    photo.EventID,
		ImageRef:   moderation.ImageRef{Bucket: photo.Bucket, Key: photo.StorageKey},
		Priority:   queue.PriorityCritical,
		IsReported: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue reported photo %s: %w", photoID, err)
	}
	log.Printf("📥 Photo reported: photo=%s event=%s reason=%q job=%s", photoID, photo.EventID, reason, jobID)
	return jobID, nil
}

// PipelineStats bundles queue depth and worker outcome counters for the
// operator endpoint.
type PipelineStats struct {
	Queue   queue.Stats          `json:"queue"`
	Workers worker.StatsSnapshot `json:"workers"`
}

func (m *Moderator) QueueStats(ctx context.Context) (PipelineStats, error) {
	qs, err := m.deps.Queue.Stats(ctx)
	if err != nil {
		return PipelineStats{}, err
	}
	return PipelineStats{Queue: qs, Workers: m.pool.Stats()}, nil
}

func (m *Moderator) PauseQueue(ctx context.Context) error {
	log.Printf("⚠️  Moderation queue paused by operator")
	return m.deps.Queue.Pause(ctx)
}

func (m *Moderator) ResumeQueue(ctx context.Context) error {
	log.Printf("✅ Moderation queue resumed by operator")
	return m.deps.Queue.Resume(ctx)
}

// ClearQueue drops all non-active jobs. Operator escape hatch, not used in
// steady state.
func (m *Moderator) ClearQueue(ctx context.Context) error {
	log.Printf("⚠️  Moderation queue drained by operator")
	return m.deps.Queue.Drain(ctx)
}

func logJobEvents(events <-chan worker.JobEvent) {
	for ev := range events {
		switch ev.Type {
		case worker.EventCompleted:
			log.Printf("📊 Moderation result: photo=%s action=%s reason=%q attempt=%d degraded=%v",
				ev.PhotoID, ev.Action, ev.Reason, ev.Attempt, ev.Degraded)
		case worker.EventFailed:
			log.Printf("❌ Moderation attempt failed: photo=%s attempt=%d error=%s",
				ev.PhotoID, ev.Attempt, ev.Error)
		case worker.EventSkipped:
			log.Printf("⏭️ Photo gone before scan, skipping: photo=%s", ev.PhotoID)
		}
	}
}
