package routes

import (
	"eventpix-backend/config"
	"eventpix-backend/internal/handlers"
	"eventpix-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

func SetupRoutes(app *fiber.App, cfg *config.Config, photoHandler *handlers.PhotoHandler, moderationHandler *handlers.ModerationHandler) {
	api := app.Group("/api/v1")

	// Health Check
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "message": "Eventpix API is running 📸"})
	})

	// Guest-facing upload flow
	api.Post("/events/:id/photos", photoHandler.UploadPhoto)
	api.Post("/photos/:id/uploaded", photoHandler.ConfirmUpload)

	// Guest-facing: flag a photo for human review
	api.Post("/photos/:id/report", moderationHandler.ReportPhoto)

	// Operator endpoints (require admin token)
	admin := api.Group("/moderation", middleware.AdminAuth(cfg.JWTSecret))
	admin.Post("/photos/:id/scan", moderationHandler.ScanPhoto)
	admin.Get("/photos/:id/preview", photoHandler.PreviewPhoto)
	admin.Get("/queue/stats", moderationHandler.QueueStats)
	admin.Post("/queue/pause", moderationHandler.PauseQueue)
	admin.Post("/queue/resume", moderationHandler.ResumeQueue)
	admin.Post("/queue/clear", moderationHandler.ClearQueue)
}
