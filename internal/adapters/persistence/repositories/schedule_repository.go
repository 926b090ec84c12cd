package repositories

import (
	"context"
	"errors"
	"time"

	"vereniging-incasso/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// GormScheduleRepository handles dues schedule database operations
type GormScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a new schedule repository
func NewScheduleRepository(db *gorm.DB) *GormScheduleRepository {
	return &GormScheduleRepository{db: db}
}

// GetByID returns a schedule by ID, or nil when it does not exist
func (r *GormScheduleRepository) GetByID(ctx context.Context, id uint) (*models.DuesSchedule, error) {
	var schedule models.DuesSchedule
	err := r.db.WithContext(ctx).First(&schedule, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

// GetByInvoiceScheduleID resolves a schedule referenced by an invoice.
// Returns nil when the invoice carries no schedule reference.
func (r *GormScheduleRepository) GetByInvoiceScheduleID(ctx context.Context, scheduleID uint) (*models.DuesSchedule, error) {
	var schedule models.DuesSchedule
	err := r.db.WithContext(ctx).First(&schedule, scheduleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

// Save persists schedule mutations
func (r *GormScheduleRepository) Save(ctx context.Context, schedule *models.DuesSchedule) error {
	return r.db.WithContext(ctx).Save(schedule).Error
}

// CoverageRows returns every active auto-generating schedule joined with the
// count of non-cancelled invoices matching its current coverage window, in a
// single aggregated query. Bounded by limit for large datasets.
func (r *GormScheduleRepository) CoverageRows(ctx context.Context, limit int) ([]CoverageRow, error) {
	var rows []CoverageRow

	err := r.db.WithContext(ctx).
		Table("dues_schedules ds").
		Select(`ds.id AS schedule_id,
			ds.member_id,
			ds.billing_frequency,
			ds.payment_method,
			ds.current_coverage_start AS coverage_start,
			ds.current_coverage_end AS coverage_end,
			COUNT(i.id) AS invoice_count`).
		Joins(`LEFT JOIN invoices i ON i.schedule_id = ds.id
			AND i.coverage_start = ds.current_coverage_start
			AND i.coverage_end = ds.current_coverage_end
			AND i.status != ?`, models.InvoiceStatusCancelled).
		Where("ds.status = ? AND ds.auto_generate = ?", models.ScheduleStatusActive, true).
		Group("ds.id").
		Limit(limit).
		Scan(&rows).Error

	return rows, err
}

// UpcomingSEPACollections returns active direct-debit schedules whose next
// invoice date falls inside the window, ordered by date.
func (r *GormScheduleRepository) UpcomingSEPACollections(ctx context.Context, from, to time.Time) ([]models.DuesSchedule, error) {
	var schedules []models.DuesSchedule
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_method = ?", models.ScheduleStatusActive, models.PaymentMethodSEPA).
		Where("next_invoice_date BETWEEN ? AND ?", from, to).
		Order("next_invoice_date ASC").
		Find(&schedules).Error
	return schedules, err
}
