package storage

import (
	"context"
	"errors"
	"testing"

	"eventpix-backend/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Photo{}, &models.QuarantineRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedPhoto(t *testing.T, db *gorm.DB) *models.Photo {
	t.Helper()
	photo := &models.Photo{
		EventID:          uuid.New(),
		StorageKey:       "guest/abc.jpg",
		Bucket:           "eventpix-uploads",
		ModerationStatus: models.ModerationPending,
	}
	if err := db.Create(photo).Error; err != nil {
		t.Fatalf("seed photo: %v", err)
	}
	return photo
}

func TestGormPhotoStore_GetPhoto(t *testing.T) {
	db := openTestDB(t)
	store := NewGormPhotoStore(db)
	seeded := seedPhoto(t, db)

	got, err := store.GetPhoto(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if got.ID != seeded.ID {
		t.Errorf("id = %s, want %s", got.ID, seeded.ID)
	}
	if got.StorageKey != "guest/abc.jpg" || got.Bucket != "eventpix-uploads" {
		t.Errorf("storage ref = %s/%s, want eventpix-uploads/guest/abc.jpg", got.Bucket, got.StorageKey)
	}
	if got.ModerationStatus != models.ModerationPending {
		t.Errorf("status = %s, want pending", got.ModerationStatus)
	}
}

func TestGormPhotoStore_GetPhotomissing(t *testing.T) {
	store := NewGormPhotoStore(openTestDB(t))

	_, err := store.GetPhoto(context.Background(), uuid.New())
	if !errors.Is(err, ErrPhotoNotFound) {
		t.Fatalf("err = %v, want ErrPhotoNotFound", err)
	}
}

func TestGormPhotoStore_SetModerationStatus(t *testing.T) {
	db := openTestDB(t)
	store := NewGormPhotoStore(db)
	seeded := seedPhoto(t, db)

	labels := models.JSONMap{"Explicit Nudity": 99.2}
	err := store.SetModerationStatus(context.Background(), seeded.ID, models.ModerationRejected, "Detected: nudity", labels)
	if err != nil {
		t.Fatalf("SetModerationStatus: %v", err)
	}

	got, err := store.GetPhoto(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if got.ModerationStatus != models.ModerationRejected {
		t.Errorf("status = %s, want rejected", got.ModerationStatus)
	}
	if got.ModerationReason != "Detected: nudity" {
		t.Errorf("reason = %q, want %q", got.ModerationReason, "Detected: nudity")
	}
	if got.ModeratedAt.IsZero() {
		t.Error("moderated_at was not stamped")
	}
	if len(got.ModerationLabels) != 1 {
		t.Fatalf("labels = %v, want one entry", got.ModerationLabels)
	}
	if _, ok := got.ModerationLabels["Explicit Nudity"]; !ok {
		t.Errorf("labels = %v, missing Explicit Nudity", got.ModerationLabels)
	}
}

func TestGormPhotoStore_SetModerationStatusKeepsLabels(t *testing.T) {
	db := openTestDB(t)
	store := NewGormPhotoStore(db)
	seeded := seedPhoto(t, db)

	ctx := context.Background()
	if err := store.SetModerationStatus(ctx, seeded.ID, models.ModerationRejected, "Detected: violence", models.JSONMap{"Graphic Violence Or Gore": 91.0}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// A later update without label data must not wipe the audit trail.
	if err := store.SetModerationStatus(ctx, seeded.ID, models.ModerationApproved, "", nil); err != nil {
		t.Fatalf("second update: %v", err)
	}

	got, err := store.GetPhoto(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if got.ModerationStatus != models.ModerationApproved {
		t.Errorf("status = %s, want approved", got.ModerationStatus)
	}
	if len(got.ModerationLabels) != 1 {
		t.Errorf("labels = %v, want original audit entry preserved", got.ModerationLabels)
	}
}

func TestGormPhotoStore_SetModerationStatusMissing(t *testing.T) {
	store := NewGormPhotoStore(openTestDB(t))

	err := store.SetModerationStatus(context.Background(), uuid.New(), models.ModerationApproved, "", nil)
	if !errors.Is(err, ErrPhotoNotFound) {
		t.Fatalf("err = %v, want ErrPhotoNotFound", err)
	}
}
