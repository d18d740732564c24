package models

import (
	"time"

	"github.com/google/uuid"
)

type TransferStatus string

const (
	TransferStatusActive    TransferStatus = "active"
	TransferStatusExpired   TransferStatus = "expired"
	TransferStatusDeleted   TransferStatus = "deleted"
	TransferStatusSuspended TransferStatus = "suspended" // reserved, never set
)

// MaxDownloads == UnlimitedDownloads disables the quota.
const UnlimitedDownloads = 0

type Transfer struct {
	BaseModel
	OriginalFileName string         `json:"originalFileName" gorm:"size:255;not null"`
	StoredFileName   string         `json:"storedFileName" gorm:"size:300;not null"`
	SizeBytes        int64          `json:"sizeBytes" gorm:"not null"`
	ContentType      string         `json:"contentType" gorm:"size:255;not null"`
	StorageKey       string         `json:"-" gorm:"type:text;not null"`
	PayloadHash      string         `json:"payloadHash" gorm:"size:64;not null"`
	EncryptionKey    string         `json:"-" gorm:"type:text;not null"`
	AccessToken      string         `json:"-" gorm:"type:text;not null"`
	PasswordHash     *string        `json:"-" gorm:"type:text"`
	ExpiresAt        time.Time      `json:"expiresAt" gorm:"not null;index"`
	MaxDownloads     int            `json:"maxDownloads" gorm:"not null;default:0"`
	CurrentDownloads int            `json:"currentDownloads" gorm:"not null;default:0"`
	Status           TransferStatus `json:"status" gorm:"size:20;not null;default:'active'"`
	SenderEmail      string         `json:"senderEmail" gorm:"size:255;not null"`
	SenderName       string         `json:"senderName" gorm:"size:255"`
	RecipientEmail   *string        `json:"recipientEmail,omitempty" gorm:"size:255"`
	Message          *string        `json:"message,omitempty" gorm:"type:text"`

	Attempts []DownloadAttempt `json:"-" gorm:"foreignKey:TransferID"`
}

func (Transfer) TableName() string {
	return "transfers"
}

// HasPassword reports whether the creator set a download password.
func (t *Transfer) HasPassword() bool {
	return t.PasswordHash != nil && *t.PasswordHash != ""
}

// IsExpired is the authoritative usability predicate: a transfer is dead
// once its lifetime or its download quota is exhausted. The Status column
// is informational only.
func (t *Transfer) IsExpired(now time.Time) bool {
	if now.After(t.ExpiresAt) {
		return true
	}
	return t.MaxDownloads != UnlimitedDownloads && t.CurrentDownloads >= t.MaxDownloads
}

// RemainingDownloads returns the quota left, or -1 for unlimited.
func (t *Transfer) RemainingDownloads() int {
	if t.MaxDownloads == UnlimitedDownloads {
		return -1
	}
	remaining := t.MaxDownloads - t.CurrentDownloads
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Clone returns a deep copy, so registry callers never share mutable state
// with the stored record.
func (t *Transfer) Clone() *Transfer {
	clone := *t
	if t.PasswordHash != nil {
		hash := *t.PasswordHash
		clone.PasswordHash = &hash
	}
	if t.RecipientEmail != nil {
		email := *t.RecipientEmail
		clone.RecipientEmail = &email
	}
	if t.Message != nil {
		msg := *t.Message
		clone.Message = &msg
	}
	clone.Attempts = make([]DownloadAttempt, len(t.Attempts))
	copy(clone.Attempts, t.Attempts)
	return &clone
}

// TransferInfo is the sanitized view returned to token holders. It carries
// no key material and no password hash.
type TransferInfo struct {
	ID               uuid.UUID `json:"id"`
	OriginalFileName string    `json:"originalFileName"`
	SizeBytes        int64     `json:"sizeBytes"`
	ContentType      string    `json:"contentType"`
	PayloadHash      string    `json:"payloadHash"`
	HasPassword      bool      `json:"hasPassword"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	MaxDownloads     int       `json:"maxDownloads"`
	CurrentDownloads int       `json:"currentDownloads"`
	SenderEmail      string    `json:"senderEmail"`
	SenderName       string    `json:"senderName"`
	RecipientEmail   *string   `json:"recipientEmail,omitempty"`
	Message          *string   `json:"message,omitempty"`
}

// Info projects the transfer into its sanitized view.
func (t *Transfer) Info() *TransferInfo {
	return &TransferInfo{
		ID:               t.ID,
		OriginalFileName: t.OriginalFileName,
		SizeBytes:        t.SizeBytes,
		ContentType:      t.ContentType,
		PayloadHash:      t.PayloadHash,
		HasPassword:      t.HasPassword(),
		CreatedAt:        t.CreatedAt,
		ExpiresAt:        t.ExpiresAt,
		MaxDownloads:     t.MaxDownloads,
		CurrentDownloads: t.CurrentDownloads,
		SenderEmail:      t.SenderEmail,
		SenderName:       t.SenderName,
		RecipientEmail:   t.RecipientEmail,
		Message:          t.Message,
	}
}
