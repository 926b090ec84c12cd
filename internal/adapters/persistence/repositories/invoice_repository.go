package repositories

import (
	"context"
	"errors"
	"time"

	"vereniging-incasso/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// GormInvoiceRepository handles invoice database operations
type GormInvoiceRepository struct {
	db *gorm.DB

	// mandateFallback switches the eligibility query to a LEFT JOIN so
	// schedules without a linked mandate still surface (with mandate_id 0);
	// the batch service then falls back to the member's active mandate.
	mandateFallback bool
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *gorm.DB, mandateFallback bool) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db, mandateFallback: mandateFallback}
}

// GetByID returns an invoice by ID, or nil when it does not exist
func (r *GormInvoiceRepository) GetByID(ctx context.Context, id uint) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).First(&invoice, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// EligibleForCollection returns unpaid/overdue invoices due on or before the
// collection date (bounded by the lookback window), each joined with its
// member and the schedule's active mandate in a single query. Invoices whose
// schedule has no active mandate joined are excluded here unless the fallback
// is on; the batch service reports or resolves them.
func (r *GormInvoiceRepository) EligibleForCollection(ctx context.Context, collectionDate time.Time, lookbackDays int) ([]CollectibleInvoice, error) {
	var rows []CollectibleInvoice

	earliest := collectionDate.AddDate(0, 0, -lookbackDays)

	mandateJoin := "JOIN sepa_mandates sm ON sm.id = ds.active_mandate_id AND sm.status = ?"
	if r.mandateFallback {
		mandateJoin = "LEFT JOIN sepa_mandates sm ON sm.id = ds.active_mandate_id AND sm.status = ?"
	}

	err := r.db.WithContext(ctx).
		Table("invoices i").
		Select(`i.id AS invoice_id,
			i.invoice_no,
			i.member_id,
			m.full_name AS member_name,
			i.membership_id,
			i.outstanding_amount AS amount,
			i.currency,
			i.due_date,
			COALESCE(sm.id, 0) AS mandate_id,
			COALESCE(sm.mandate_ref, '') AS mandate_ref,
			COALESCE(sm.iban, '') AS iban`).
		Joins("JOIN members m ON m.id = i.member_id AND m.deleted_at IS NULL").
		Joins("JOIN dues_schedules ds ON ds.id = i.schedule_id AND ds.payment_method = ?", models.PaymentMethodSEPA).
		Joins(mandateJoin, models.MandateStatusActive).
		Where("i.status IN ?", []string{models.InvoiceStatusUnpaid, models.InvoiceStatusOverdue}).
		Where("i.outstanding_amount > 0").
		Where("i.due_date BETWEEN ? AND ?", earliest, collectionDate).
		Order("i.due_date ASC, i.id ASC").
		Scan(&rows).Error

	return rows, err
}

// UpdateStatus updates an invoice's status
func (r *GormInvoiceRepository) UpdateStatus(ctx context.Context, invoiceID uint, status string) error {
	return r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Update("status", status).Error
}
