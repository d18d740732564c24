package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DownloadAttempt is an append-only audit record of one download attempt,
// successful or not. It does not use BaseModel because audit rows are never
// updated.
type DownloadAttempt struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TransferID    uuid.UUID `json:"transferID" gorm:"type:uuid;not null;index"`
	Sequence      int64     `json:"sequence" gorm:"not null;index"`
	SourceAddress string    `json:"sourceAddress" gorm:"size:45;not null"`
	UserAgent     string    `json:"userAgent" gorm:"size:512"`
	Success       bool      `json:"success" gorm:"not null"`
	FailureReason string    `json:"failureReason,omitempty" gorm:"size:100"`
	CreatedAt     time.Time `json:"createdAt" gorm:"not null;index"`
}

func (a *DownloadAttempt) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}

func (DownloadAttempt) TableName() string {
	return "download_attempts"
}

// Audit failure reasons, stable strings used in statistics and logs.
const (
	FailureBadToken         = "bad_token"
	FailureExpired          = "expired"
	FailurePasswordRequired = "password_required"
	FailureBadPassword      = "bad_password"
	FailureInternal         = "internal_error"
)
