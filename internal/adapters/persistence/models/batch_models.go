package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Collection Batch Tables
// ============================================================

// Batch statuses
const (
	BatchStatusDraft           = "Draft"
	BatchStatusSubmitted       = "Submitted"
	BatchStatusPartiallyFailed = "Partially Failed"
	BatchStatusCancelled       = "Cancelled"
)

// CollectionBatch represents collection_batches table — one set of direct
// debit instructions submitted together for a single processing date.
type CollectionBatch struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	BatchRef    string          `gorm:"uniqueIndex;size:40;not null" json:"batch_ref"`
	BatchDate   time.Time       `gorm:"type:date;not null;index" json:"batch_date"`
	Description string          `gorm:"size:200" json:"description"`
	BatchType   string          `gorm:"size:4;default:'RCUR'" json:"batch_type"`
	Currency    string          `gorm:"size:3;default:'EUR'" json:"currency"`
	Status      string          `gorm:"size:20;default:'Draft';index" json:"status"`
	EntryCount  int             `gorm:"default:0" json:"entry_count"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"total_amount"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Lines []BatchLine `gorm:"foreignKey:BatchID" json:"lines,omitempty"`
}

func (CollectionBatch) TableName() string {
	return "collection_batches"
}

// Batch line statuses
const (
	LineStatusPending   = "Pending"
	LineStatusCollected = "Collected"
	LineStatusFailed    = "Failed"
	LineStatusReturned  = "Returned"
)

// BatchLine represents collection_batch_lines table — one direct debit
// instruction for one invoice. Lines keep insertion order via ID.
type BatchLine struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	BatchID       uint            `gorm:"not null;index" json:"batch_id"`
	InvoiceID     uint            `gorm:"not null;index" json:"invoice_id"`
	MemberID      uint            `gorm:"not null;index" json:"member_id"`
	MemberName    string          `gorm:"size:140" json:"member_name"`
	MembershipID  *uint           `json:"membership_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	Currency      string          `gorm:"size:3;default:'EUR'" json:"currency"`
	IBAN          string          `gorm:"size:34;not null" json:"iban"`
	MandateID     uint            `gorm:"not null;index" json:"mandate_id"`
	MandateRef    string          `gorm:"size:35;not null" json:"mandate_ref"`
	SequenceType  string          `gorm:"size:4;not null" json:"sequence_type"`
	Status        string          `gorm:"size:20;default:'Pending'" json:"status"`
	ResultCode    *string         `gorm:"size:10" json:"result_code"`
	ResultMessage *string         `gorm:"size:200" json:"result_message"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BatchLine) TableName() string {
	return "collection_batch_lines"
}

// BatchResponse DTO
type BatchResponse struct {
	ID          uint                `json:"id"`
	BatchRef    string              `json:"batch_ref"`
	BatchDate   time.Time           `json:"batch_date"`
	Description string              `json:"description"`
	BatchType   string              `json:"batch_type"`
	Currency    string              `json:"currency"`
	Status      string              `json:"status"`
	EntryCount  int                 `json:"entry_count"`
	TotalAmount string              `json:"total_amount"`
	Lines       []BatchLineResponse `json:"lines,omitempty"`
}

// BatchLineResponse DTO
type BatchLineResponse struct {
	InvoiceID    uint   `json:"invoice_id"`
	MemberID     uint   `json:"member_id"`
	MemberName   string `json:"member_name"`
	Amount       string `json:"amount"`
	IBAN         string `json:"iban"`
	MandateRef   string `json:"mandate_ref"`
	SequenceType string `json:"sequence_type"`
	Status       string `json:"status"`
}

func (b *CollectionBatch) ToResponse() *BatchResponse {
	resp := &BatchResponse{
		ID:          b.ID,
		BatchRef:    b.BatchRef,
		BatchDate:   b.BatchDate,
		Description: b.Description,
		BatchType:   b.BatchType,
		Currency:    b.Currency,
		Status:      b.Status,
		EntryCount:  b.EntryCount,
		TotalAmount: b.TotalAmount.StringFixed(2),
	}
	for _, line := range b.Lines {
		resp.Lines = append(resp.Lines, BatchLineResponse{
			InvoiceID:    line.InvoiceID,
			MemberID:     line.MemberID,
			MemberName:   line.MemberName,
			Amount:       line.Amount.StringFixed(2),
			IBAN:         line.IBAN,
			MandateRef:   line.MandateRef,
			SequenceType: line.SequenceType,
			Status:       line.Status,
		})
	}
	return resp
}
