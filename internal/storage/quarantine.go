package storage

import (
	"context"
	"fmt"
	"log"

	"eventpix-backend/internal/models"
	"eventpix-backend/internal/moderation"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QuarantineRequest carries everything needed to pull a photo's assets out
// of public view.
type QuarantineRequest struct {
	EventID    uuid.UUID
	PhotoID    uuid.UUID
	Ref        moderation.ImageRef
	Reason     string
	Categories []moderation.Category
}

// QuarantineStore moves a photo's assets into restricted storage for human
// review or permanent removal.
type QuarantineStore interface {
	Quarantine(ctx context.Context, req QuarantineRequest) error
}

// S3QuarantineStore copies the object into the quarantine bucket, deletes
// the public copy, and records the reason so moderators can inspect it.
type S3QuarantineStore struct {
	client *s3.Client
	db     *gorm.DB
	bucket string // quarantine bucket
}

func NewS3QuarantineStore(client *s3.Client, db *gorm.DB, bucket string) *S3QuarantineStore {
	return &S3QuarantineStore{client: client, db: db, bucket: bucket}
}

func (s *S3QuarantineStore) Quarantine(ctx context.Context, req QuarantineRequest) error {
	destKey := fmt.Sprintf("%s/%s/%s", req.EventID, req.PhotoID, req.Ref.Key)

	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(destKey),
		CopySource: aws.String(req.Ref.Bucket + "/" + req.Ref.Key),
		Metadata: map[string]string{
			"moderation-reason": req.Reason,
		},
		MetadataDirective: "REPLACE",
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to quarantine: %w", req.Ref, err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(req.Ref.Bucket),
		Key:    aws.String(req.Ref.Key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete public copy of %s: %w", req.Ref, err)
	}

	categories := make(models.JSONStringArray, len(req.Categories))
	for i, c := range req.Categories {
		categories[i] = string(c)
	}
	record := models.QuarantineRecord{
		PhotoID:    req.PhotoID,
		EventID:    req.EventID,
		Reason:     req.Reason,
		Categories: categories,
		ObjectKey:  destKey,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to record quarantine for photo %s: %w", req.PhotoID, err)
	}

	log.Printf("🔒 Quarantined photo %s (event=%s): %s", req.PhotoID, req.EventID, req.Reason)
	return nil
}
