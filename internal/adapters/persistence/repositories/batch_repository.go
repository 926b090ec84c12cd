package repositories

import (
	"context"
	"errors"

	"vereniging-incasso/internal/adapters/persistence/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormBatchRepository handles collection batch database operations
type GormBatchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *gorm.DB) *GormBatchRepository {
	return &GormBatchRepository{db: db}
}

// Create persists a new batch with its lines
func (r *GormBatchRepository) Create(ctx context.Context, batch *models.CollectionBatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

// Save persists batch mutations including line changes
func (r *GormBatchRepository) Save(ctx context.Context, batch *models.CollectionBatch) error {
	return r.db.WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true}).Save(batch).Error
}

// Delete removes a batch and its lines. Only empty draft batches are ever
// deleted; submitted batches are cancelled instead.
func (r *GormBatchRepository) Delete(ctx context.Context, batch *models.CollectionBatch) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", batch.ID).Delete(&models.BatchLine{}).Error; err != nil {
			return err
		}
		return tx.Delete(batch).Error
	})
}

// GetByID returns a batch with its lines in insertion order
func (r *GormBatchRepository) GetByID(ctx context.Context, id uint) (*models.CollectionBatch, error) {
	var batch models.CollectionBatch
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		First(&batch, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// AggregateTotals computes entry count and total amount via SQL aggregation,
// independently of the in-memory line list.
func (r *GormBatchRepository) AggregateTotals(ctx context.Context, batchID uint) (int64, decimal.Decimal, error) {
	var row struct {
		EntryCount  int64           `gorm:"column:entry_count"`
		TotalAmount decimal.Decimal `gorm:"column:total_amount"`
	}

	err := r.db.WithContext(ctx).
		Table("collection_batch_lines").
		Select("COUNT(*) AS entry_count, COALESCE(SUM(amount), 0) AS total_amount").
		Where("batch_id = ?", batchID).
		Scan(&row).Error
	if err != nil {
		return 0, decimal.Zero, err
	}

	return row.EntryCount, row.TotalAmount, nil
}

// UpdateLineResult updates one line's status and bank result fields
func (r *GormBatchRepository) UpdateLineResult(ctx context.Context, lineID uint, status string, resultCode, resultMessage *string) error {
	updates := map[string]interface{}{
		"status": status,
	}
	if resultCode != nil {
		updates["result_code"] = *resultCode
	}
	if resultMessage != nil {
		updates["result_message"] = *resultMessage
	}
	return r.db.WithContext(ctx).
		Model(&models.BatchLine{}).
		Where("id = ?", lineID).
		Updates(updates).Error
}
