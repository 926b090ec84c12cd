package services

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrPermission = errors.New("permission denied")
)

// Severity levels, ordered from least to most serious
const (
	SeverityInfo       = "info"
	SeverityWarning    = "warning"
	SeverityBusiness   = "business"
	SeveritySecurity   = "security"
	SeverityCompliance = "compliance"
	SeverityCritical   = "critical"
)

// Error categories for grouping in summaries
const (
	CategorySEPAValidation      = "sepa_validation"
	CategoryPermissionViolation = "permission_violation"
	CategoryDataIntegrity       = "data_integrity"
	CategoryBankCommunication   = "bank_communication"
	CategoryMandateViolation    = "mandate_violation"
	CategoryConfigurationError  = "configuration_error"
	CategoryCalculationError    = "calculation_error"
	CategoryBatchProcessing     = "batch_processing"
)

// FinancialError is a classified error raised during collection processing
type FinancialError struct {
	Code        string                 `json:"code"`
	Severity    string                 `json:"severity"`
	Category    string                 `json:"category"`
	Message     string                 `json:"message"`
	Remediation string                 `json:"remediation"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Recoverable bool                   `json:"recoverable"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

func (e *FinancialError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// errorProfile is the static classification for a known error code
type errorProfile struct {
	severity    string
	category    string
	remediation string
	recoverable bool
}

// Known error codes, grouped by leading digit: F1xxx SEPA validation and
// compliance, F2xxx permission, F3xxx data integrity, F4xxx mandate
// violations, F5xxx configuration. F6xxx covers bank R-message traffic.
var errorProfiles = map[string]errorProfile{
	"F1001": {SeverityCompliance, CategorySEPAValidation, "Correct the company IBAN in the SEPA settings before the next run", false},
	"F1002": {SeverityCompliance, CategorySEPAValidation, "Company BIC is missing or malformed, fix it in the SEPA settings", false},
	"F1003": {SeverityCompliance, CategorySEPAValidation, "Creditor identifier is not valid for this scheme", false},
	"F1101": {SeverityCompliance, CategorySEPAValidation, "Sequence type conflicts with prior usage, re-resolve before submitting", false},
	"F1102": {SeverityWarning, CategorySEPAValidation, "Pre-notification lead time is short, inform the member before collection", true},
	"F2001": {SeveritySecurity, CategoryPermissionViolation, "The current user lacks the required role for batch operations", false},
	"F3001": {SeverityCritical, CategoryDataIntegrity, "Batch totals do not reconcile, do not submit until resolved", false},
	"F3002": {SeverityBusiness, CategoryDataIntegrity, "Invoice state changed during assembly, rebuild the batch", true},
	"F3003": {SeverityWarning, CategoryDataIntegrity, "Duplicate usage record suppressed for this invoice", true},
	"F3101": {SeverityCritical, CategoryCalculationError, "Line amounts produced an invalid batch total, recompute before submitting", false},
	"F4001": {SeverityBusiness, CategoryMandateViolation, "No active mandate for the member, obtain one before collecting", false},
	"F4002": {SeverityBusiness, CategoryMandateViolation, "Check the mandate status and reactivate or replace it", false},
	"F4003": {SeverityWarning, CategoryMandateViolation, "Mandate has expired, obtain a renewed mandate from the member", true},
	"F4004": {SeverityBusiness, CategoryMandateViolation, "Collection amount exceeds the mandate maximum, lower the amount or update the mandate", false},
	"F5001": {SeverityCritical, CategoryConfigurationError, "Company SEPA settings are incomplete, fill in creditor ID, IBAN and BIC", false},
	"F6001": {SeverityWarning, CategoryBankCommunication, "Return received from the bank, member payment follow-up required", true},
}

const errorLogCapacity = 500

// FinancialErrorService classifies processing errors by code and keeps a
// bounded rolling log for the monitoring endpoints.
type FinancialErrorService struct {
	mu  sync.RWMutex
	log []*FinancialError
}

func NewFinancialErrorService() *FinancialErrorService {
	return &FinancialErrorService{}
}

// Classify builds a FinancialError for the given code, records it, and logs
// it at a level matching its severity. Unknown codes are treated as critical
// batch processing failures.
func (s *FinancialErrorService) Classify(code, message string, context map[string]interface{}) *FinancialError {
	profile, ok := errorProfiles[code]
	if !ok {
		profile = errorProfile{
			severity:    SeverityCritical,
			category:    CategoryBatchProcessing,
			remediation: "Unknown error code, escalate to the development team",
			recoverable: false,
		}
	}

	fe := &FinancialError{
		Code:        code,
		Severity:    profile.severity,
		Category:    profile.category,
		Message:     message,
		Remediation: profile.remediation,
		Context:     context,
		Recoverable: profile.recoverable,
		OccurredAt:  time.Now(),
	}

	s.record(fe)

	// Critical, compliance and security failures always land in the error
	// channel; the rest log lower.
	switch fe.Severity {
	case SeverityCritical:
		log.Printf("❌ CRITICAL [%s] %s (context: %v)", fe.Code, fe.Message, fe.Context)
	case SeverityCompliance, SeveritySecurity, SeverityBusiness:
		log.Printf("❌ [%s] %s", fe.Code, fe.Message)
	case SeverityWarning:
		log.Printf("⚠️ [%s] %s", fe.Code, fe.Message)
	default:
		log.Printf("ℹ️ [%s] %s", fe.Code, fe.Message)
	}

	return fe
}

// UserMessage returns text safe to surface to an end user. Validation and
// permission errors pass through; everything else gets a generic message so
// internals never leak.
func (s *FinancialErrorService) UserMessage(fe *FinancialError) string {
	switch fe.Category {
	case CategorySEPAValidation, CategoryMandateViolation, CategoryConfigurationError:
		return fe.Message
	case CategoryPermissionViolation:
		return "You do not have permission to perform this action"
	default:
		return "An internal error occurred while processing the collection, the team has been notified"
	}
}

// UserError translates a classified error into the typed error callers surface
// to the client: security failures become ErrPermission, critical, compliance
// and business failures become ErrValidation. Warnings and info carry no
// user-facing error.
func (s *FinancialErrorService) UserError(fe *FinancialError) error {
	switch fe.Severity {
	case SeveritySecurity:
		return fmt.Errorf("%w: %s", ErrPermission, s.UserMessage(fe))
	case SeverityCritical, SeverityCompliance, SeverityBusiness:
		return fmt.Errorf("%w: %s", ErrValidation, s.UserMessage(fe))
	default:
		return nil
	}
}

func (s *FinancialErrorService) record(fe *FinancialError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, fe)
	if len(s.log) > errorLogCapacity {
		s.log = s.log[len(s.log)-errorLogCapacity:]
	}
}

// ErrorSummary aggregates the rolling error log
type ErrorSummary struct {
	TotalErrors    int               `json:"total_errors"`
	BySeverity     map[string]int    `json:"by_severity"`
	ByCategory     map[string]int    `json:"by_category"`
	CriticalErrors []*FinancialError `json:"critical_errors"`
}

// GetErrorSummary returns counts over errors recorded in the last hoursBack
// hours, with the critical ones listed in full.
func (s *FinancialErrorService) GetErrorSummary(hoursBack int) *ErrorSummary {
	cutoff := time.Now().Add(-time.Duration(hoursBack) * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &ErrorSummary{
		BySeverity: make(map[string]int),
		ByCategory: make(map[string]int),
	}
	for _, fe := range s.log {
		if fe.OccurredAt.Before(cutoff) {
			continue
		}
		summary.TotalErrors++
		summary.BySeverity[fe.Severity]++
		summary.ByCategory[fe.Category]++
		if fe.Severity == SeverityCritical {
			summary.CriticalErrors = append(summary.CriticalErrors, fe)
		}
	}
	return summary
}
