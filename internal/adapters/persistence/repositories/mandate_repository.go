package repositories

import (
	"context"
	"errors"

	"vereniging-incasso/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// GormMandateRepository handles mandate and usage history database operations
type GormMandateRepository struct {
	db *gorm.DB
}

// NewMandateRepository creates a new mandate repository
func NewMandateRepository(db *gorm.DB) *GormMandateRepository {
	return &GormMandateRepository{db: db}
}

// GetByID returns a mandate by ID, or nil when it does not exist
func (r *GormMandateRepository) GetByID(ctx context.Context, id uint) (*models.SEPAMandate, error) {
	var mandate models.SEPAMandate
	err := r.db.WithContext(ctx).First(&mandate, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mandate, nil
}

// GetByIDs loads many mandates in one query, keyed by ID. IDs with no row are
// simply absent from the map.
func (r *GormMandateRepository) GetByIDs(ctx context.Context, ids []uint) (map[uint]*models.SEPAMandate, error) {
	result := make(map[uint]*models.SEPAMandate, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var mandates []models.SEPAMandate
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&mandates).Error; err != nil {
		return nil, err
	}
	for i := range mandates {
		result[mandates[i].ID] = &mandates[i]
	}
	return result, nil
}

// UpdateStatus updates a mandate's status
func (r *GormMandateRepository) UpdateStatus(ctx context.Context, mandateID uint, status string) error {
	return r.db.WithContext(ctx).
		Model(&models.SEPAMandate{}).
		Where("id = ?", mandateID).
		Update("status", status).Error
}

// GetActiveForMember returns the member's most recently signed active mandate
func (r *GormMandateRepository) GetActiveForMember(ctx context.Context, memberID uint) (*models.SEPAMandate, error) {
	var mandate models.SEPAMandate
	err := r.db.WithContext(ctx).
		Where("member_id = ? AND status = ?", memberID, models.MandateStatusActive).
		Order("sign_date DESC").
		First(&mandate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mandate, nil
}

// LatestCollectedUsage returns the most recent Collected usage record for a
// mandate, excluding the given invoice. Returns nil when none exists.
func (r *GormMandateRepository) LatestCollectedUsage(ctx context.Context, mandateID uint, excludeInvoiceID uint) (*models.MandateUsage, error) {
	var usage models.MandateUsage
	query := r.db.WithContext(ctx).
		Where("mandate_id = ? AND status = ?", mandateID, models.UsageStatusCollected)
	if excludeInvoiceID != 0 {
		query = query.Where("invoice_id != ?", excludeInvoiceID)
	}
	err := query.Order("usage_date DESC").First(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// CollectedUsagesForMandates returns all Collected usage records for the given
// mandates in one query, newest first per mandate.
func (r *GormMandateRepository) CollectedUsagesForMandates(ctx context.Context, mandateIDs []uint) (map[uint][]models.MandateUsage, error) {
	result := make(map[uint][]models.MandateUsage)
	if len(mandateIDs) == 0 {
		return result, nil
	}

	var usages []models.MandateUsage
	err := r.db.WithContext(ctx).
		Where("mandate_id IN ? AND status = ?", mandateIDs, models.UsageStatusCollected).
		Order("usage_date DESC").
		Find(&usages).Error
	if err != nil {
		return nil, err
	}

	for _, u := range usages {
		result[u.MandateID] = append(result[u.MandateID], u)
	}
	return result, nil
}

// UsageForInvoice returns the usage record a collection wrote for the given
// mandate and invoice, in any status. Returns nil when none exists.
func (r *GormMandateRepository) UsageForInvoice(ctx context.Context, mandateID, invoiceID uint) (*models.MandateUsage, error) {
	var usage models.MandateUsage
	err := r.db.WithContext(ctx).
		Where("mandate_id = ? AND invoice_id = ?", mandateID, invoiceID).
		Order("usage_date DESC").
		First(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// CreateUsage appends a usage record to a mandate's history. The unique index
// on (mandate, invoice, usage date) rejects duplicate collection attempts.
func (r *GormMandateRepository) CreateUsage(ctx context.Context, usage *models.MandateUsage) error {
	return r.db.WithContext(ctx).Create(usage).Error
}

// UpdateUsageStatus updates a usage record's status
func (r *GormMandateRepository) UpdateUsageStatus(ctx context.Context, usageID uint, status string) error {
	return r.db.WithContext(ctx).
		Model(&models.MandateUsage{}).
		Where("id = ?", usageID).
		Update("status", status).Error
}
