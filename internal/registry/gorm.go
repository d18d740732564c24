package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sendvault/backend/internal/models"
	"gorm.io/gorm"
)

// GormRegistry persists transfer records through GORM (sqlite or postgres).
// The download claim is a guarded UPDATE, so the check-and-increment is
// atomic at the database row, not a read-modify-write in Go.
type GormRegistry struct {
	db *gorm.DB
}

func NewGormRegistry(db *gorm.DB) *GormRegistry {
	return &GormRegistry{db: db}
}

func (r *GormRegistry) Insert(ctx context.Context, transfer *models.Transfer) error {
	return r.db.WithContext(ctx).Create(transfer).Error
}

func (r *GormRegistry) Get(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	var transfer models.Transfer
	err := r.db.WithContext(ctx).
		Preload("Attempts", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		First(&transfer, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &transfer, nil
}

func (r *GormRegistry) ClaimDownload(ctx context.Context, id uuid.UUID, now time.Time, attempt models.DownloadAttempt) (*models.Transfer, error) {
	var claimed *models.Transfer

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Transfer{}).
			Where("id = ? AND expires_at >= ? AND (max_downloads = ? OR current_downloads < max_downloads)",
				id, now, models.UnlimitedDownloads).
			Updates(map[string]interface{}{
				"current_downloads": gorm.Expr("current_downloads + 1"),
				"updated_at":        now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&models.Transfer{}).Where("id = ?", id).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return ErrNotFound
			}
			return ErrExhausted
		}

		if err := createAttempt(tx, id, &attempt); err != nil {
			return err
		}

		var transfer models.Transfer
		if err := tx.Preload("Attempts", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).First(&transfer, "id = ?", id).Error; err != nil {
			return err
		}
		claimed = &transfer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *GormRegistry) AppendAttempt(ctx context.Context, id uuid.UUID, attempt models.DownloadAttempt) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// touch the transfer row to take its write lock, so concurrent
		// appends cannot race on the attempt sequence
		res := tx.Model(&models.Transfer{}).
			Where("id = ?", id).
			Update("updated_at", gorm.Expr("updated_at"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return createAttempt(tx, id, &attempt)
	})
}

func createAttempt(tx *gorm.DB, id uuid.UUID, attempt *models.DownloadAttempt) error {
	var count int64
	if err := tx.Model(&models.DownloadAttempt{}).Where("transfer_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	attempt.TransferID = id
	attempt.Sequence = count + 1
	return tx.Create(attempt).Error
}

func (r *GormRegistry) Remove(ctx context.Context, id uuid.UUID) (bool, error) {
	removed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("transfer_id = ?", id).Delete(&models.DownloadAttempt{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Transfer{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected > 0
		return nil
	})
	return removed, err
}

func (r *GormRegistry) ListExpired(ctx context.Context, now time.Time) ([]*models.Transfer, error) {
	var transfers []*models.Transfer
	err := r.db.WithContext(ctx).
		Where("expires_at < ? OR (max_downloads <> ? AND current_downloads >= max_downloads)",
			now, models.UnlimitedDownloads).
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}
