package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================
// Membership & Billing Tables
// ============================================================

// Member statuses
const (
	MemberStatusActive     = "Active"
	MemberStatusTerminated = "Terminated"
)

// Member represents members table
type Member struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	MemberNo     string         `gorm:"uniqueIndex;size:20;not null" json:"member_no"`
	FullName     string         `gorm:"size:140;not null" json:"full_name"`
	Email        string         `gorm:"size:140;index" json:"email"`
	Status       string         `gorm:"size:20;default:'Active'" json:"status"`
	CustomerID   *uint          `gorm:"index" json:"customer_id"`
	AddressLine1 string         `gorm:"size:140" json:"address_line1"`
	AddressLine2 string         `gorm:"size:140" json:"address_line2"`
	PostalCode   string         `gorm:"size:20" json:"postal_code"`
	City         string         `gorm:"size:100" json:"city"`
	Country      string         `gorm:"size:2" json:"country"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	Customer *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
}

func (Member) TableName() string {
	return "members"
}

// Customer represents the billing counterparty linked to a member
type Customer struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CustomerName string    `gorm:"size:140;not null" json:"customer_name"`
	AddressLine1 string    `gorm:"size:140" json:"address_line1"`
	AddressLine2 string    `gorm:"size:140" json:"address_line2"`
	PostalCode   string    `gorm:"size:20" json:"postal_code"`
	City         string    `gorm:"size:100" json:"city"`
	Country      string    `gorm:"size:2" json:"country"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}

// Membership represents memberships table
type Membership struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	MemberID       uint      `gorm:"not null;index" json:"member_id"`
	MembershipType string    `gorm:"size:100;not null" json:"membership_type"`
	Status         string    `gorm:"size:20;default:'Active'" json:"status"`
	StartDate      time.Time `gorm:"type:date" json:"start_date"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Membership) TableName() string {
	return "memberships"
}

// ============================================================
// SEPA Mandate Tables
// ============================================================

// Mandate statuses
const (
	MandateStatusActive    = "Active"
	MandateStatusCancelled = "Cancelled"
	MandateStatusExpired   = "Expired"
)

// SEPA sequence types
const (
	SequenceTypeFirst     = "FRST"
	SequenceTypeRecurring = "RCUR"
)

// SEPAMandate represents sepa_mandates table
type SEPAMandate struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	MandateRef    string           `gorm:"uniqueIndex;size:35;not null" json:"mandate_ref"`
	MemberID      uint             `gorm:"not null;index" json:"member_id"`
	IBAN          string           `gorm:"size:34;not null" json:"iban"`
	BIC           string           `gorm:"size:11" json:"bic"`
	AccountHolder string           `gorm:"size:140;not null" json:"account_holder"`
	SignDate      time.Time        `gorm:"type:date;not null" json:"sign_date"`
	ExpiryDate    *time.Time       `gorm:"type:date" json:"expiry_date"`
	MaximumAmount *decimal.Decimal `gorm:"type:decimal(18,2)" json:"maximum_amount"`
	Status        string           `gorm:"size:20;default:'Active';index" json:"status"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`

	UsageHistory []MandateUsage `gorm:"foreignKey:MandateID" json:"usage_history,omitempty"`
}

func (SEPAMandate) TableName() string {
	return "sepa_mandates"
}

// IsExpired reports whether the mandate has passed its expiry date as of the given day
func (m *SEPAMandate) IsExpired(asOf time.Time) bool {
	return m.ExpiryDate != nil && m.ExpiryDate.Before(asOf)
}

// Mandate usage statuses
const (
	UsageStatusPending   = "Pending"
	UsageStatusCollected = "Collected"
	UsageStatusFailed    = "Failed"
	UsageStatusReturned  = "Returned"
)

// MandateUsage represents one collection attempt under a mandate.
// The unique index on (mandate, invoice, usage date) enforces idempotency at
// the store level instead of an application-side existence check.
type MandateUsage struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	MandateID    uint            `gorm:"not null;index;uniqueIndex:idx_usage_identity" json:"mandate_id"`
	InvoiceID    uint            `gorm:"not null;uniqueIndex:idx_usage_identity" json:"invoice_id"`
	UsageDate    time.Time       `gorm:"type:date;not null;uniqueIndex:idx_usage_identity" json:"usage_date"`
	Amount       decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	SequenceType string          `gorm:"size:4;not null" json:"sequence_type"`
	Status       string          `gorm:"size:20;default:'Pending';index" json:"status"`
	RetryCount   int             `gorm:"default:0" json:"retry_count"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MandateUsage) TableName() string {
	return "mandate_usages"
}

// ============================================================
// Dues Schedule & Invoice Tables
// ============================================================

// Billing frequencies
const (
	FrequencyDaily     = "Daily"
	FrequencyWeekly    = "Weekly"
	FrequencyMonthly   = "Monthly"
	FrequencyQuarterly = "Quarterly"
	FrequencyAnnual    = "Annual"
	FrequencyCustom    = "Custom"
)

// Schedule statuses
const (
	ScheduleStatusActive      = "Active"
	ScheduleStatusGracePeriod = "Grace Period"
	ScheduleStatusSuspended   = "Suspended"
)

// PaymentMethodSEPA marks schedules collected by direct debit
const PaymentMethodSEPA = "SEPA Direct Debit"

// DuesSchedule represents dues_schedules table — one per member-membership
// pair under recurring billing. The coverage window only advances forward.
type DuesSchedule struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	MemberID             uint            `gorm:"not null;index" json:"member_id"`
	MembershipID         uint            `gorm:"not null;index" json:"membership_id"`
	BillingFrequency     string          `gorm:"size:20;not null" json:"billing_frequency"`
	PaymentMethod        string          `gorm:"size:30;not null" json:"payment_method"`
	Status               string          `gorm:"size:20;default:'Active';index" json:"status"`
	AutoGenerate         bool            `gorm:"default:true" json:"auto_generate"`
	Rate                 decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"rate"`
	CurrentCoverageStart *time.Time      `gorm:"type:date" json:"current_coverage_start"`
	CurrentCoverageEnd   *time.Time      `gorm:"type:date" json:"current_coverage_end"`
	NextInvoiceDate      time.Time       `gorm:"type:date;not null;index" json:"next_invoice_date"`
	InvoiceDaysBefore    int             `gorm:"default:30" json:"invoice_days_before"`
	ActiveMandateID      *uint           `gorm:"index" json:"active_mandate_id"`
	ConsecutiveFailures  int             `gorm:"default:0" json:"consecutive_failures"`
	GracePeriodUntil     *time.Time      `gorm:"type:date" json:"grace_period_until"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Member        *Member      `gorm:"foreignKey:MemberID" json:"member,omitempty"`
	ActiveMandate *SEPAMandate `gorm:"foreignKey:ActiveMandateID" json:"active_mandate,omitempty"`
}

func (DuesSchedule) TableName() string {
	return "dues_schedules"
}

// Invoice statuses
const (
	InvoiceStatusDraft     = "Draft"
	InvoiceStatusUnpaid    = "Unpaid"
	InvoiceStatusOverdue   = "Overdue"
	InvoiceStatusPaid      = "Paid"
	InvoiceStatusCancelled = "Cancelled"
)

// Invoice represents invoices table. Invoices are never deleted, only cancelled.
type Invoice struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	InvoiceNo         string          `gorm:"uniqueIndex;size:40;not null" json:"invoice_no"`
	MemberID          uint            `gorm:"not null;index" json:"member_id"`
	CustomerID        *uint           `gorm:"index" json:"customer_id"`
	MembershipID      *uint           `gorm:"index" json:"membership_id"`
	ScheduleID        *uint           `gorm:"index" json:"schedule_id"`
	PostingDate       time.Time       `gorm:"type:date;not null" json:"posting_date"`
	DueDate           time.Time       `gorm:"type:date;not null;index" json:"due_date"`
	GrandTotal        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"grand_total"`
	OutstandingAmount decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"outstanding_amount"`
	Currency          string          `gorm:"size:3;default:'EUR'" json:"currency"`
	Status            string          `gorm:"size:20;default:'Draft';index" json:"status"`
	CoverageStart     *time.Time      `gorm:"type:date" json:"coverage_start"`
	CoverageEnd       *time.Time      `gorm:"type:date" json:"coverage_end"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Member *Member `gorm:"foreignKey:MemberID" json:"member,omitempty"`
}

func (Invoice) TableName() string {
	return "invoices"
}

// IsCollectible reports whether the invoice can be pulled into a collection batch
func (i *Invoice) IsCollectible() bool {
	return (i.Status == InvoiceStatusUnpaid || i.Status == InvoiceStatusOverdue) &&
		i.OutstandingAmount.IsPositive()
}

// ============================================================
// Auto Migration
// ============================================================

// AutoMigrate runs auto migration for all pipeline tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Member{},
		&Customer{},
		&Membership{},
		&SEPAMandate{},
		&MandateUsage{},
		&DuesSchedule{},
		&Invoice{},
		&CollectionBatch{},
		&BatchLine{},
	)
}
