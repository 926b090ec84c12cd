package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"vereniging-incasso/internal/adapters/persistence/models"
	"vereniging-incasso/internal/adapters/persistence/repositories"
	"vereniging-incasso/internal/config"
)

// coverageScheduleLimit caps how many schedules one verification pass
// inspects so the check stays cheap enough to run before every batch.
const coverageScheduleLimit = 500

// CoverageIssue is one advisory finding from a verification pass
type CoverageIssue struct {
	ScheduleID uint   `json:"schedule_id"`
	MemberID   uint   `json:"member_id"`
	IssueType  string `json:"issue_type"`
	Detail     string `json:"detail"`
}

// Issue types reported by coverage verification
const (
	IssueMissingInvoice  = "missing_invoice"
	IssueMissingCoverage = "missing_coverage_dates"
	IssueWindowLength    = "coverage_window_length"
)

// CoverageReport summarizes one verification pass
type CoverageReport struct {
	SchedulesChecked int             `json:"schedules_checked"`
	Issues           []CoverageIssue `json:"issues"`
	VerifiedAt       time.Time       `json:"verified_at"`
}

// CoverageService cross-checks active SEPA dues schedules against the
// invoices generated for their current coverage window. Findings are
// advisory: batch assembly proceeds regardless.
type CoverageService struct {
	scheduleRepo repositories.ScheduleRepository
	tolerances   config.CoverageTolerances
}

func NewCoverageService(scheduleRepo repositories.ScheduleRepository, tolerances config.CoverageTolerances) *CoverageService {
	return &CoverageService{
		scheduleRepo: scheduleRepo,
		tolerances:   tolerances,
	}
}

// VerifyInvoiceCoverage inspects up to coverageScheduleLimit active schedules
// in one aggregated query and reports schedules whose coverage window has no
// invoice or an implausible length for its billing frequency.
func (s *CoverageService) VerifyInvoiceCoverage(ctx context.Context, asOf time.Time) (*CoverageReport, error) {
	rows, err := s.scheduleRepo.CoverageRows(ctx, coverageScheduleLimit)
	if err != nil {
		return nil, err
	}

	report := &CoverageReport{
		SchedulesChecked: len(rows),
		Issues:           []CoverageIssue{},
		VerifiedAt:       asOf,
	}

	for _, row := range rows {
		if row.CoverageStart == nil || row.CoverageEnd == nil {
			report.Issues = append(report.Issues, CoverageIssue{
				ScheduleID: row.ScheduleID,
				MemberID:   row.MemberID,
				IssueType:  IssueMissingCoverage,
				Detail:     "schedule has no current coverage window",
			})
			continue
		}

		if row.PaymentMethod == models.PaymentMethodSEPA && row.InvoiceCount == 0 {
			report.Issues = append(report.Issues, CoverageIssue{
				ScheduleID: row.ScheduleID,
				MemberID:   row.MemberID,
				IssueType:  IssueMissingInvoice,
				Detail: fmt.Sprintf("no invoice for coverage %s to %s",
					row.CoverageStart.Format("2006-01-02"), row.CoverageEnd.Format("2006-01-02")),
			})
		}

		if detail, ok := s.checkWindowLength(row.BillingFrequency, *row.CoverageStart, *row.CoverageEnd); !ok {
			report.Issues = append(report.Issues, CoverageIssue{
				ScheduleID: row.ScheduleID,
				MemberID:   row.MemberID,
				IssueType:  IssueWindowLength,
				Detail:     detail,
			})
		}
	}

	if len(report.Issues) > 0 {
		log.Printf("⚠️ Coverage verification found %d issue(s) across %d schedule(s)", len(report.Issues), report.SchedulesChecked)
	}
	return report, nil
}

// checkWindowLength validates the inclusive day count of a coverage window
// against the schedule's billing frequency. Custom frequencies are skipped.
func (s *CoverageService) checkWindowLength(frequency string, start, end time.Time) (string, bool) {
	days := int(end.Sub(start).Hours()/24) + 1

	var expected, tolerance int
	switch frequency {
	case models.FrequencyDaily:
		expected, tolerance = 1, 0
	case models.FrequencyWeekly:
		expected, tolerance = 7, s.tolerances.WeeklyDays
	case models.FrequencyMonthly:
		expected, tolerance = 30, s.tolerances.MonthlyDays
	case models.FrequencyQuarterly:
		expected, tolerance = 90, s.tolerances.QuarterlyDays
	case models.FrequencyAnnual:
		expected, tolerance = 365, s.tolerances.AnnualDays
	default:
		return "", true
	}

	if days < expected-tolerance || days > expected+tolerance {
		return fmt.Sprintf("%s schedule covers %d days, expected %d±%d", frequency, days, expected, tolerance), false
	}
	return "", true
}
