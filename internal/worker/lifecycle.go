package worker

import (
	"context"
	"fmt"

	"eventpix-backend/internal/models"
	"eventpix-backend/internal/moderation"
	"eventpix-backend/internal/queue"
	"eventpix-backend/internal/storage"
)

// Lifecycle applies a moderation verdict to a photo's state:
//
//	pending -> approved  (approve)
//	pending -> rejected  (reject, assets quarantined)
//	pending -> pending   (review: quarantine when categories were detected,
//	                      status untouched so a human makes the final call)
//
// Application is idempotent: a photo already in a terminal state is left
// alone, so a re-delivered job never double-quarantines.
type Lifecycle struct {
	photos     storage.PhotoStore
	quarantine storage.QuarantineStore
}

func NewLifecycle(photos storage.PhotoStore, quarantine storage.QuarantineStore) *Lifecycle {
	return &Lifecycle{photos: photos, quarantine: quarantine}
}

// Apply transitions the photo per the verdict. It returns
// storage.ErrPhotoNotFound when the photo was deleted before the job ran;
// any other error is a retryable infrastructure failure.
func (l *Lifecycle) Apply(ctx context.Context, req queue.ScanRequest, result moderation.Result) error {
	photo, err := l.photos.GetPhoto(ctx, req.PhotoID)
	if err != nil {
		return err
	}

	if photo.ModerationStatus != models.ModerationPending {
		// Already terminal, nothing to re-apply.
		return nil
	}

	switch result.Action {
	case moderation.ActionApprove:
		return l.photos.SetModerationStatus(ctx, req.PhotoID, models.ModerationApproved, result.Reason, labelAudit(result))

	case moderation.ActionReject:
		// Quarantine before flipping the status: if the copy fails the job
		// retries while the photo is still pending.
		if err := l.quarantine.Quarantine(ctx, storage.QuarantineRequest{
			EventID:    req.EventID,
			PhotoID:    req.PhotoID,
			Ref:        req.ImageRef,
			Reason:     result.Reason,
			Categories: result.Categories,
		}); err != nil {
			return err
		}
		return l.photos.SetModerationStatus(ctx, req.PhotoID, models.ModerationRejected, result.Reason, labelAudit(result))

	case moderation.ActionReview:
		// Review never terminates the photo's state. Detected content is
		// still quarantined so a reviewer can inspect it.
		if len(result.Categories) > 0 {
			if err := l.quarantine.Quarantine(ctx, storage.QuarantineRequest{
				EventID:    req.EventID,
				PhotoID:    req.PhotoID,
				Ref:        req.ImageRef,
				Reason:     result.Reason,
				Categories: result.Categories,
			}); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown moderation action %q", result.Action)
	}
}

func labelAudit(result moderation.Result) models.JSONMap {
	if len(result.Labels) == 0 {
		return nil
	}
	audit := make(models.JSONMap, len(result.Labels))
	for _, l := range result.Labels {
		audit[l.Name] = l.Confidence
	}
	return audit
}
