package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationRejected ModerationStatus = "rejected"
)

// JSONB Types for GORM
type JSONStringArray []string

func (a *JSONStringArray) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return errors.New("unsupported type for JSONStringArray")
	}
}

func (a JSONStringArray) Value() (driver.Value, error) {
	return json.Marshal(a)
}

type JSONMap map[string]interface{}

func (m *JSONMap) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("unsupported type for JSONMap")
	}
}

func (m JSONMap) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Photo is one guest-uploaded image belonging to an event gallery.
type Photo struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventID uuid.UUID `gorm:"type:uuid;not null;index"`

	StorageKey   string `gorm:"type:text;not null"` // S3 object key
	Bucket       string `gorm:"type:text"`
	ThumbnailURL string `gorm:"type:text"`

	UploaderName string `gorm:"type:varchar(120)"`

	ModerationStatus ModerationStatus `gorm:"type:varchar(20);default:'pending';index:idx_photos_moderation_status,where:moderation_status='pending'"`
	ModerationReason string           `gorm:"type:text"`
	ModeratedAt      time.Time        `gorm:"type:timestamptz"`
	ModerationLabels JSONMap          `gorm:"type:jsonb"` // label -> confidence, for audit
	IsReported       bool             `gorm:"default:false"`

	CreatedAt time.Time `gorm:"type:timestamptz"`
	UpdatedAt time.Time `gorm:"type:timestamptz"`
}

func (p *Photo) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}

// QuarantineRecord keeps the human-readable context for a quarantined photo
// so moderators can review it without digging through worker logs.
type QuarantineRecord struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	PhotoID uuid.UUID `gorm:"type:uuid;not null;index"`
	EventID uuid.UUID `gorm:"type:uuid;not null;index"`

	Reason     string          `gorm:"type:text"`
	Categories JSONStringArray `gorm:"type:jsonb"`
	ObjectKey  string          `gorm:"type:text"` // key inside the quarantine bucket

	CreatedAt time.Time `gorm:"type:timestamptz"`
}

func (q *QuarantineRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return
}
