package services

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"eventpix-backend/internal/moderation"
	"eventpix-backend/internal/worker"
)

// WebhookNotifier pushes non-approve verdicts to the event organizer's
// configured webhook so admins hear about rejected or flagged photos
// without polling. Deliveries are deduped per photo to absorb retries.
type WebhookNotifier struct {
	url    string
	client *http.Client

	mu       sync.Mutex
	lastSent map[string]time.Time // photo_id -> last delivery
	dedupTTL time.Duration
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		lastSent: make(map[string]time.Time),
		dedupTTL: 10 * time.Second,
	}
}

// Run consumes the worker event stream until it closes.
func (n *WebhookNotifier) Run(events <-chan worker.JobEvent) {
	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.handle(ev)
		case <-cleanup.C:
			n.sweep()
		}
	}
}

func (n *WebhookNotifier) handle(ev worker.JobEvent) {
	if ev.Type != worker.EventCompleted || ev.Action == moderation.ActionApprove {
		return
	}

	key := ev.PhotoID.String()
	n.mu.Lock()
	if last, ok := n.lastSent[key]; ok && time.Since(last) < n.dedupTTL {
		n.mu.Unlock()
		return
	}
	n.lastSent[key] = time.Now()
	n.mu.Unlock()

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("❌ Failed to marshal webhook payload: %v", err)
		return
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Printf("❌ Failed to deliver moderation webhook for photo %s: %v", ev.PhotoID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("⚠️  Moderation webhook for photo %s returned %d", ev.PhotoID, resp.StatusCode)
		return
	}
	log.Printf("✅ Delivered moderation webhook: photo=%s action=%s", ev.PhotoID, ev.Action)
}

func (n *WebhookNotifier) sweep() {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now()
	for key, last := range n.lastSent {
		if now.Sub(last) > n.dedupTTL {
			delete(n.lastSent, key)
		}
	}
}
