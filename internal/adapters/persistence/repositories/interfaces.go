package repositories

import (
	"context"
	"time"

	"vereniging-incasso/internal/adapters/persistence/models"

	"github.com/shopspring/decimal"
)

// MandateRepository defines mandate + usage history access
type MandateRepository interface {
	GetByID(ctx context.Context, id uint) (*models.SEPAMandate, error)
	GetByIDs(ctx context.Context, ids []uint) (map[uint]*models.SEPAMandate, error)
	GetActiveForMember(ctx context.Context, memberID uint) (*models.SEPAMandate, error)
	LatestCollectedUsage(ctx context.Context, mandateID uint, excludeInvoiceID uint) (*models.MandateUsage, error)
	UsageForInvoice(ctx context.Context, mandateID, invoiceID uint) (*models.MandateUsage, error)
	CollectedUsagesForMandates(ctx context.Context, mandateIDs []uint) (map[uint][]models.MandateUsage, error)
	CreateUsage(ctx context.Context, usage *models.MandateUsage) error
	UpdateUsageStatus(ctx context.Context, usageID uint, status string) error
	UpdateStatus(ctx context.Context, mandateID uint, status string) error
}

// CollectibleInvoice is one unpaid invoice joined with its member and active
// mandate, ready for batch assembly without further per-row lookups.
type CollectibleInvoice struct {
	InvoiceID    uint            `json:"invoice_id"`
	InvoiceNo    string          `json:"invoice_no"`
	MemberID     uint            `json:"member_id"`
	MemberName   string          `json:"member_name"`
	MembershipID *uint           `json:"membership_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	DueDate      time.Time       `json:"due_date"`
	MandateID    uint            `json:"mandate_id"`
	MandateRef   string          `json:"mandate_ref"`
	IBAN         string          `json:"iban"`
}

// InvoiceRepository defines invoice access for batch assembly
type InvoiceRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Invoice, error)
	EligibleForCollection(ctx context.Context, collectionDate time.Time, lookbackDays int) ([]CollectibleInvoice, error)
	UpdateStatus(ctx context.Context, invoiceID uint, status string) error
}

// BatchRepository defines collection batch persistence
type BatchRepository interface {
	Create(ctx context.Context, batch *models.CollectionBatch) error
	Save(ctx context.Context, batch *models.CollectionBatch) error
	Delete(ctx context.Context, batch *models.CollectionBatch) error
	GetByID(ctx context.Context, id uint) (*models.CollectionBatch, error)
	AggregateTotals(ctx context.Context, batchID uint) (entryCount int64, totalAmount decimal.Decimal, err error)
	UpdateLineResult(ctx context.Context, lineID uint, status string, resultCode, resultMessage *string) error
}

// CoverageRow is one schedule joined with the count of invoices matching its
// current coverage window, produced by a single aggregated query.
type CoverageRow struct {
	ScheduleID       uint       `json:"schedule_id"`
	MemberID         uint       `json:"member_id"`
	BillingFrequency string     `json:"billing_frequency"`
	PaymentMethod    string     `json:"payment_method"`
	CoverageStart    *time.Time `json:"coverage_start"`
	CoverageEnd      *time.Time `json:"coverage_end"`
	InvoiceCount     int64      `json:"invoice_count"`
}

// ScheduleRepository defines dues schedule access
type ScheduleRepository interface {
	GetByID(ctx context.Context, id uint) (*models.DuesSchedule, error)
	Save(ctx context.Context, schedule *models.DuesSchedule) error
	CoverageRows(ctx context.Context, limit int) ([]CoverageRow, error)
	UpcomingSEPACollections(ctx context.Context, from, to time.Time) ([]models.DuesSchedule, error)
	GetByInvoiceScheduleID(ctx context.Context, scheduleID uint) (*models.DuesSchedule, error)
}

// BulkLoader defines the constant-query related-record loaders
type BulkLoader interface {
	LoadMembersWithMandates(ctx context.Context, memberIDs []uint) (map[uint]MemberWithMandate, error)
	LoadInvoicesWithDetails(ctx context.Context, invoiceIDs []uint) (map[uint]InvoiceDetails, error)
	LoadInvoicesForMembers(ctx context.Context, memberIDs []uint) (map[uint][]models.Invoice, error)
	LoadMemberAddresses(ctx context.Context, memberIDs []uint) (map[uint]StructuredAddress, error)
	Stats() BulkStats
}
