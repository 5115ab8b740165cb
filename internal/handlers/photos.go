package handlers

import (
	"errors"
	"fmt"
	"log"
	"path"
	"time"

	"eventpix-backend/config"
	"eventpix-backend/internal/database"
	"eventpix-backend/internal/models"
	"eventpix-backend/internal/queue"
	"eventpix-backend/internal/services"
	"eventpix-backend/internal/storage"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const presignExpiry = 15 * time.Minute

// PhotoHandler covers the upload flow that feeds the moderation pipeline:
// guests get a presigned PUT URL, confirm the upload, and the photo enters
// the scan queue.
type PhotoHandler struct {
	db        *gorm.DB
	s3        *awss3.Client
	moderator *services.Moderator
	cfg       *config.Config
}

func NewPhotoHandler(db *gorm.DB, s3Client *awss3.Client, moderator *services.Moderator, cfg *config.Config) *PhotoHandler {
	return &PhotoHandler{db: db, s3: s3Client, moderator: moderator, cfg: cfg}
}

// UploadPhoto creates a pending photo record and returns a presigned upload
// URL. The photo stays invisible until moderation approves it.
func (h *PhotoHandler) UploadPhoto(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid event id"})
	}

	var req struct {
		FileName     string `json:"file_name"`
		UploaderName string `json:"uploader_name"`
	}
	if err := c.BodyParser(&req); err != nil || req.FileName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file_name is required"})
	}

	photo := models.Photo{
		ID:           uuid.New(),
		EventID:      eventID,
		Bucket:       h.cfg.S3BucketPhotos,
		UploaderName: req.UploaderName,
	}
	photo.StorageKey = fmt.Sprintf("events/%s/%s%s", eventID, photo.ID, path.Ext(req.FileName))

	if err := h.db.WithContext(c.Context()).Create(&photo).Error; err != nil {
		log.Printf("❌ Failed to create photo record: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create photo"})
	}

	uploadURL, err := database.GeneratePresignedUploadURL(c.Context(), h.s3, photo.Bucket, photo.StorageKey, presignExpiry)
	if err != nil {
		log.Printf("❌ Failed to presign upload for photo %s: %v", photo.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate upload URL"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"photo_id":   photo.ID,
		"upload_url": uploadURL,
		"expires_in": int(presignExpiry.Seconds()),
		"status":     "pending",
	})
}

// ConfirmUpload marks the object as landed and enqueues the moderation scan.
func (h *PhotoHandler) ConfirmUpload(c *fiber.Ctx) error {
	photoID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid photo id"})
	}

	jobID, err := h.moderator.ScanPhoto(c.Context(), photoID, queue.PriorityNormal)
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

// PreviewPhoto returns a short-lived download URL for moderators. Rejected
// photos resolve to their quarantine copy.
func (h *PhotoHandler) PreviewPhoto(c *fiber.Ctx) error {
	photoID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid photo id"})
	}

	var photo models.Photo
	if err := h.db.WithContext(c.Context()).First(&photo, "id = ?", photoID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Photo not found"})
		}
		log.Printf("❌ Failed to load photo %s: %v", photoID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load photo"})
	}

	bucket, key := photo.Bucket, photo.StorageKey
	if photo.ModerationStatus == models.ModerationRejected {
		var record models.QuarantineRecord
		if err := h.db.WithContext(c.Context()).
			Where("photo_id = ?", photoID).
			Order("created_at DESC").
			First(&record).Error; err == nil {
			bucket, key = h.cfg.S3BucketQuarantine, record.ObjectKey
		}
	}

	downloadURL, err := database.GeneratePresignedDownloadURL(c.Context(), h.s3, bucket, key, presignExpiry)
	if err != nil {
		log.Printf("❌ Failed to presign download for photo %s: %v", photoID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate download URL"})
	}

	return c.JSON(fiber.Map{
		"download_url": downloadURL,
		"expires_in":   int(presignExpiry.Seconds()),
		"status":       photo.ModerationStatus,
	})
}
