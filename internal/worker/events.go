package worker

import (
	"sync"
	"time"

	"eventpix-backend/internal/moderation"

	"github.com/google/uuid"
)

// EventType tags a job lifecycle event.
type EventType string

const (
	// EventCompleted fires when a verdict was applied and the job finished.
	EventCompleted EventType = "completed"
	// EventFailed fires when an attempt failed and was handed back to the
	// queue for retry or terminal failure.
	EventFailed EventType = "failed"
	// EventSkipped fires when the photo vanished before its job ran.
	EventSkipped EventType = "skipped"
)

// JobEvent is published by the worker pool after each job attempt, so
// telemetry stays decoupled from control flow.
type JobEvent struct {
	Type     EventType         `json:"type"`
	JobID    string            `json:"job_id"`
	PhotoID  uuid.UUID         `json:"photo_id"`
	EventID  uuid.UUID         `json:"event_id"`
	Action   moderation.Action `json:"action,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Attempt  int               `json:"attempt"`
	Degraded bool              `json:"degraded,omitempty"`
	Error    string            `json:"error,omitempty"`
	At       time.Time         `json:"at"`
}

// Publisher fans job events out to any number of subscribers. Delivery is
// best effort: a slow subscriber loses events instead of stalling workers.
type Publisher struct {
	mu     sync.Mutex
	subs   []chan JobEvent
	closed bool
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

// Subscribe returns a buffered channel of lifecycle events. The channel is
// closed when the publisher shuts down.
func (p *Publisher) Subscribe(buffer int) <-chan JobEvent {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan JobEvent, buffer)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		close(ch)
		return ch
	}
	p.subs = append(p.subs, ch)
	return ch
}

func (p *Publisher) publish(ev JobEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, ch := range p.subs {
		close(ch)
	}
	p.subs = nil
}
