package handlers

import (
	"errors"
	"fmt"
	"log"
	"time"

	"eventpix-backend/config"
	"eventpix-backend/internal/queue"
	"eventpix-backend/internal/services"
	"eventpix-backend/internal/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ModerationHandler exposes the pipeline's report and operator endpoints.
type ModerationHandler struct {
	moderator *services.Moderator
	redis     *redis.Client
	cfg       *config.Config
}

func NewModerationHandler(moderator *services.Moderator, redisClient *redis.Client, cfg *config.Config) *ModerationHandler {
	return &ModerationHandler{moderator: moderator, redis: redisClient, cfg: cfg}
}

// ReportPhoto handles a guest flagging a photo. The scan it enqueues runs at
// critical priority with auto-reject disabled.
func (h *ModerationHandler) ReportPhoto(c *fiber.Ctx) error {
	photoID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid photo id"})
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
	}

	// Rate limit: N reports per reporter per 24 hours.
	rateLimitKey := fmt.Sprintf("photo_report_rate:%s", c.IP())
	if h.redis != nil {
		currentCount, err := h.redis.Get(c.Context(), rateLimitKey).Int()
		if err != nil && err != redis.Nil {
			log.Printf("⚠️ Report rate limit check failed: %v", err)
			// Continue on error (don't block the reporter)
		} else if currentCount >= h.cfg.ReportRateLimitPerDay {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Rate limit exceeded",
				"message":     fmt.Sprintf("Maximum %d reports per 24 hours.", h.cfg.ReportRateLimitPerDay),
				"retry_after": 86400,
			})
		}
	}

	jobID, err := h.moderator.ReportPhoto(c.Context(), photoID, req.Reason)
	if errors.Is(err, storage.ErrPhotoNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Photo not found"})
	}
	if err != nil {
		log.Printf("❌ Failed to report photo %s: %v", photoID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to report photo"})
	}

	// Only accepted reports consume quota: a bad photo id must not burn
	// the reporter's daily allowance.
	if h.redis != nil {
		ctx := c.Context()
		pipe := h.redis.Pipeline()
		pipe.Incr(ctx, rateLimitKey)
		pipe.Expire(ctx, rateLimitKey, 24*time.Hour)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("⚠️ Failed to record report quota for %s: %v", c.IP(), err)
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":  jobID,
		"message": "Photo reported, a moderator will review it",
		"status":  "pending",
	})
}

// ScanPhoto enqueues a moderation scan for an uploaded photo.
func (h *ModerationHandler) ScanPhoto(c *fiber.Ctx) error {
	photoID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid photo id"})
	}

	var req struct {
		Priority string `json:"priority"`
	}
	_ = c.BodyParser(&req) // body optional, defaults to normal priority

	priority := queue.PriorityNormal
	switch req.Priority {
	case "", "normal":
	case "low":
		priority = queue.PriorityLow
	case "high":
		priority = queue.PriorityHigh
	case "critical":
		priority = queue.PriorityCritical
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown priority"})
	}

	jobID, err := h.moderator.ScanPhoto(c.Context(), photoID, priority)
	if errors.Is(err, storage.ErrPhotoNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Photo not found"})
	}
	if errors.Is(err, services.ErrAlreadyModerated) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Photo already moderated"})
	}
	if err != nil {
		log.Printf("❌ Failed to enqueue scan for photo %s: %v", photoID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to enqueue scan"})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id": jobID,
		"status": "pending",
	})
}

// QueueStats reports queue depth and worker outcome counters.
func (h *ModerationHandler) QueueStats(c *fiber.Ctx) error {
	stats, err := h.moderator.QueueStats(c.Context())
	if err != nil {
		log.Printf("❌ Failed to read queue stats: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to read queue stats"})
	}
	return c.JSON(stats)
}

func (h *ModerationHandler) PauseQueue(c *fiber.Ctx) error {
	if err := h.moderator.PauseQueue(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to pause queue"})
	}
	return c.JSON(fiber.Map{"status": "paused"})
}

func (h *ModerationHandler) ResumeQueue(c *fiber.Ctx) error {
	if err := h.moderator.ResumeQueue(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to resume queue"})
	}
	return c.JSON(fiber.Map{"status": "running"})
}

func (h *ModerationHandler) ClearQueue(c *fiber.Ctx) error {
	if err := h.moderator.ClearQueue(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to clear queue"})
	}
	return c.JSON(fiber.Map{"status": "cleared"})
}
