package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventpix-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrPhotoNotFound distinguishes a deleted photo from infrastructure
// failures; workers treat it as a non-retryable no-op.
var ErrPhotoNotFound = errors.New("photo not found")

// PhotoStore is the photo-record boundary the moderation core writes
// verdicts through.
type PhotoStore interface {
	GetPhoto(ctx context.Context, photoID uuid.UUID) (*models.Photo, error)
	SetModerationStatus(ctx context.Context, photoID uuid.UUID, status models.ModerationStatus, reason string, labels models.JSONMap) error
}

// GormPhotoStore backs PhotoStore with the photos table.
type GormPhotoStore struct {
	db *gorm.DB
}

func NewGormPhotoStore(db *gorm.DB) *GormPhotoStore {
	return &GormPhotoStore{db: db}
}

func (s *GormPhotoStore) GetPhoto(ctx context.Context, photoID uuid.UUID) (*models.Photo, error) {
	var photo models.Photo
	err := s.db.WithContext(ctx).First(&photo, "id = ?", photoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPhotoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load photo %s: %w", photoID, err)
	}
	return &photo, nil
}

func (s *GormPhotoStore) SetModerationStatus(ctx context.Context, photoID uuid.UUID, status models.ModerationStatus, reason string, labels models.JSONMap) error {
	updates := map[string]interface{}{
		"moderation_status": status,
		"moderation_reason": reason,
		"moderated_at":      time.Now().UTC(),
	}
	if labels != nil {
		updates["moderation_labels"] = labels
	}

	res := s.db.WithContext(ctx).Model(&models.Photo{}).Where("id = ?", photoID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update photo %s: %w", photoID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPhotoNotFound
	}
	return nil
}
