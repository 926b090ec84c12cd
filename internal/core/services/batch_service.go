package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"vereniging-incasso/internal/adapters/persistence/models"
	"vereniging-incasso/internal/adapters/persistence/repositories"
	"vereniging-incasso/internal/config"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrSEPAConfigIncomplete = errors.New("SEPA configuration is incomplete")
	ErrBatchTotalsMismatch  = errors.New("batch totals failed verification")
	ErrBatchNotFound        = errors.New("batch not found")
	ErrBatchNotSubmitted    = errors.New("batch has not been submitted")
	ErrSequenceAuditFailed  = errors.New("sequence audit found compliance findings")
)

const (
	previewSampleSize          = 5
	consecutiveFailureLimit    = 3
	gracePeriodDays            = 14
	returnReasonInsufficient   = "AM04"
	returnReasonMandateRevoked = "MD01"
)

// BatchService assembles, previews and settles SEPA collection batches
type BatchService struct {
	batchRepo   repositories.BatchRepository
	invoiceRepo repositories.InvoiceRepository
	mandateRepo repositories.MandateRepository
	schedRepo   repositories.ScheduleRepository
	bulk        repositories.BulkLoader
	sequences   *SequenceService
	coverage    *CoverageService
	finErrors   *FinancialErrorService
	perf        *PerformanceService
	notify      *NotifyService
	sepaCfg     config.SEPAConfig
}

func NewBatchService(
	batchRepo repositories.BatchRepository,
	invoiceRepo repositories.InvoiceRepository,
	mandateRepo repositories.MandateRepository,
	schedRepo repositories.ScheduleRepository,
	bulk repositories.BulkLoader,
	sequences *SequenceService,
	coverage *CoverageService,
	finErrors *FinancialErrorService,
	perf *PerformanceService,
	notify *NotifyService,
	sepaCfg config.SEPAConfig,
) *BatchService {
	return &BatchService{
		batchRepo:   batchRepo,
		invoiceRepo: invoiceRepo,
		mandateRepo: mandateRepo,
		schedRepo:   schedRepo,
		bulk:        bulk,
		sequences:   sequences,
		coverage:    coverage,
		finErrors:   finErrors,
		perf:        perf,
		notify:      notify,
		sepaCfg:     sepaCfg,
	}
}

// CreateCollectionBatch assembles a draft batch of direct debit instructions
// for all invoices collectible on collectionDate. Returns nil with no error
// when nothing is eligible. When verifyCoverage is set, a coverage pass runs
// first; its findings are logged but never block assembly.
func (s *BatchService) CreateCollectionBatch(ctx context.Context, collectionDate time.Time, verifyCoverage bool) (*models.CollectionBatch, error) {
	if missing := s.sepaCfg.Validate(); len(missing) > 0 {
		fe := s.finErrors.Classify("F5001", "company SEPA settings are incomplete", map[string]interface{}{
			"missing": missing,
		})
		return nil, fmt.Errorf("%w: %w", ErrSEPAConfigIncomplete, s.finErrors.UserError(fe))
	}

	token := s.perf.StartOperation("create_collection_batch")

	if verifyCoverage {
		if _, err := s.coverage.VerifyInvoiceCoverage(ctx, collectionDate); err != nil {
			log.Printf("⚠️ Coverage verification failed, continuing batch assembly: %v", err)
		}
	}

	invoices, err := s.invoiceRepo.EligibleForCollection(ctx, collectionDate, s.sepaCfg.LookbackDays)
	if err != nil {
		s.perf.EndOperation(token, 0)
		log.Printf("❌ Failed to load eligible invoices: %v", err)
		return nil, err
	}
	if len(invoices) == 0 {
		s.perf.EndOperation(token, 0)
		log.Printf("ℹ️ No eligible invoices for collection on %s", collectionDate.Format("2006-01-02"))
		return nil, nil
	}

	linkedIDs := make([]uint, 0, len(invoices))
	seenMandates := make(map[uint]bool, len(invoices))
	for _, inv := range invoices {
		if inv.MandateID != 0 && !seenMandates[inv.MandateID] {
			seenMandates[inv.MandateID] = true
			linkedIDs = append(linkedIDs, inv.MandateID)
		}
	}
	mandateCache, err := s.mandateRepo.GetByIDs(ctx, linkedIDs)
	if err != nil {
		s.perf.EndOperation(token, 0)
		return nil, err
	}

	type candidate struct {
		invoice repositories.CollectibleInvoice
		mandate *models.SEPAMandate
	}
	candidates := make([]candidate, 0, len(invoices))
	for _, inv := range invoices {
		mandate, err := s.resolveMandate(ctx, inv, mandateCache)
		if err != nil {
			s.perf.EndOperation(token, 0)
			return nil, err
		}
		if mandate == nil {
			s.finErrors.Classify("F4001", fmt.Sprintf("no mandate found for invoice %s", inv.InvoiceNo), map[string]interface{}{
				"invoice_id": inv.InvoiceID,
				"member_id":  inv.MemberID,
			})
			continue
		}
		inv.MandateID = mandate.ID
		inv.MandateRef = mandate.MandateRef
		inv.IBAN = mandate.IBAN
		candidates = append(candidates, candidate{invoice: inv, mandate: mandate})
	}

	pairs := make([]SequencePair, 0, len(candidates))
	for _, c := range candidates {
		pairs = append(pairs, SequencePair{MandateID: c.invoice.MandateID, InvoiceID: c.invoice.InvoiceID})
	}
	resolutions, err := s.sequences.ResolveSequenceTypesBatch(ctx, pairs)
	if err != nil {
		s.perf.EndOperation(token, 0)
		return nil, err
	}

	batch := &models.CollectionBatch{
		BatchRef:    newBatchRef(collectionDate),
		BatchDate:   collectionDate,
		Description: fmt.Sprintf("Membership dues collection %s", collectionDate.Format("2006-01-02")),
		BatchType:   models.SequenceTypeRecurring,
		Currency:    "EUR",
		Status:      models.BatchStatusDraft,
	}

	lineTotal := decimal.Zero
	hasFirst := false
	for _, c := range candidates {
		inv := c.invoice
		mandate := c.mandate
		if err := s.sequences.ValidateMandateForCollection(mandate, inv.Amount, collectionDate); err != nil {
			code := "F4002"
			switch {
			case errors.Is(err, ErrMandateExpired):
				code = "F4003"
			case errors.Is(err, ErrAmountExceedsCap):
				code = "F4004"
			}
			s.finErrors.Classify(code, err.Error(), map[string]interface{}{
				"invoice_id": inv.InvoiceID,
				"mandate_id": mandate.ID,
			})
			continue
		}

		res := resolutions[SequencePair{MandateID: inv.MandateID, InvoiceID: inv.InvoiceID}]
		if res == nil {
			s.finErrors.Classify("F1101", fmt.Sprintf("no sequence resolution for mandate %d", inv.MandateID), nil)
			continue
		}
		if res.SequenceType == models.SequenceTypeFirst {
			hasFirst = true
		}

		batch.Lines = append(batch.Lines, models.BatchLine{
			InvoiceID:    inv.InvoiceID,
			MemberID:     inv.MemberID,
			MemberName:   inv.MemberName,
			MembershipID: inv.MembershipID,
			Amount:       inv.Amount,
			Currency:     inv.Currency,
			IBAN:         inv.IBAN,
			MandateID:    inv.MandateID,
			MandateRef:   inv.MandateRef,
			SequenceType: res.SequenceType,
			Status:       models.LineStatusPending,
		})
		lineTotal = lineTotal.Add(inv.Amount)

		// Usage record failures must not abort the batch; the unique index
		// turns concurrent duplicates into a suppressed warning.
		if _, err := s.sequences.RecordUsage(ctx, mandate, inv.InvoiceID, inv.Amount, res.SequenceType, collectionDate); err != nil {
			s.finErrors.Classify("F3003", fmt.Sprintf("usage record for invoice %s not written: %v", inv.InvoiceNo, err), map[string]interface{}{
				"invoice_id": inv.InvoiceID,
				"mandate_id": mandate.ID,
			})
		}
	}

	if len(batch.Lines) == 0 {
		s.perf.EndOperation(token, 0)
		log.Printf("ℹ️ All %d eligible invoices were skipped, no batch created", len(invoices))
		return nil, nil
	}
	if hasFirst {
		batch.BatchType = models.SequenceTypeFirst
	}

	batch.EntryCount = len(batch.Lines)
	batch.TotalAmount = lineTotal
	if err := s.batchRepo.Create(ctx, batch); err != nil {
		s.perf.EndOperation(token, 0)
		log.Printf("❌ Failed to persist collection batch: %v", err)
		return nil, err
	}

	if err := s.verifyBatchTotals(ctx, batch, lineTotal); err != nil {
		if delErr := s.batchRepo.Delete(ctx, batch); delErr != nil {
			log.Printf("❌ Failed to delete unreconciled batch %s: %v", batch.BatchRef, delErr)
		}
		s.perf.EndOperation(token, len(batch.Lines))
		return nil, err
	}

	metrics := s.perf.EndOperation(token, len(batch.Lines))
	if metrics != nil {
		log.Printf("✅ Batch %s created: %d entries, EUR %s, %d queries in %s",
			batch.BatchRef, batch.EntryCount, batch.TotalAmount.StringFixed(2), metrics.QueriesIssued, metrics.Duration.Round(time.Millisecond))
	}
	s.notify.NotifyBatchCreated(batch.ID, batch.BatchRef, batch.EntryCount, batch.TotalAmount.StringFixed(2))
	return batch, nil
}

// resolveMandate returns the mandate backing an eligible invoice. Linked
// mandates come out of the prefetched cache; rows without a linked mandate
// fall back to the member's most recent active mandate when the fallback is
// enabled, and otherwise resolve to nil and are skipped.
func (s *BatchService) resolveMandate(ctx context.Context, inv repositories.CollectibleInvoice, cache map[uint]*models.SEPAMandate) (*models.SEPAMandate, error) {
	if inv.MandateID != 0 {
		return cache[inv.MandateID], nil
	}
	if !s.sepaCfg.DefaultMandateEnabled {
		return nil, nil
	}
	m, err := s.mandateRepo.GetActiveForMember(ctx, inv.MemberID)
	if err != nil {
		return nil, err
	}
	if m != nil {
		cache[m.ID] = m
	}
	return m, nil
}

// verifyBatchTotals reconciles the store's aggregate against the in-memory
// decimal sum. A mismatch or non-positive total is a critical failure and the
// draft must not survive.
func (s *BatchService) verifyBatchTotals(ctx context.Context, batch *models.CollectionBatch, lineTotal decimal.Decimal) error {
	count, dbTotal, err := s.batchRepo.AggregateTotals(ctx, batch.ID)
	if err != nil {
		return err
	}

	if lineTotal.LessThanOrEqual(decimal.Zero) {
		fe := s.finErrors.Classify("F3101", fmt.Sprintf("batch %s line amounts sum to %s",
			batch.BatchRef, lineTotal.StringFixed(2)), map[string]interface{}{
			"batch_id": batch.ID,
		})
		return fmt.Errorf("%w: %w", ErrBatchTotalsMismatch, s.finErrors.UserError(fe))
	}
	if count != int64(len(batch.Lines)) || !dbTotal.Equal(lineTotal) {
		fe := s.finErrors.Classify("F3001", fmt.Sprintf("batch %s totals mismatch: store %d/%s vs computed %d/%s",
			batch.BatchRef, count, dbTotal.StringFixed(2), len(batch.Lines), lineTotal.StringFixed(2)), map[string]interface{}{
			"batch_id": batch.ID,
		})
		return fmt.Errorf("%w: %w", ErrBatchTotalsMismatch, s.finErrors.UserError(fe))
	}
	return nil
}

func newBatchRef(date time.Time) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("DD-%s-%s", date.Format("20060102"), strings.ToUpper(suffix))
}

// GetBatch loads one batch with its lines
func (s *BatchService) GetBatch(ctx context.Context, id uint) (*models.CollectionBatch, error) {
	batch, err := s.batchRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	return batch, nil
}

// BatchPreview summarizes what a batch run would collect, without writing
// anything.
type BatchPreview struct {
	CollectionDate  time.Time                         `json:"collection_date"`
	UnpaidFound     int                               `json:"unpaid_found"`
	TotalAmount     string                            `json:"total_amount"`
	MembersAffected int                               `json:"members_affected"`
	Sample          []repositories.CollectibleInvoice `json:"sample"`
}

// PreviewBatch reports the invoices a run on collectionDate would pick up
func (s *BatchService) PreviewBatch(ctx context.Context, collectionDate time.Time) (*BatchPreview, error) {
	invoices, err := s.invoiceRepo.EligibleForCollection(ctx, collectionDate, s.sepaCfg.LookbackDays)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	members := make(map[uint]bool)
	for _, inv := range invoices {
		total = total.Add(inv.Amount)
		members[inv.MemberID] = true
	}

	sample := invoices
	if len(sample) > previewSampleSize {
		sample = sample[:previewSampleSize]
	}

	return &BatchPreview{
		CollectionDate:  collectionDate,
		UnpaidFound:     len(invoices),
		TotalAmount:     total.StringFixed(2),
		MembersAffected: len(members),
		Sample:          sample,
	}, nil
}

// UpcomingCollection groups schedules due on one date
type UpcomingCollection struct {
	Date          time.Time `json:"date"`
	ScheduleCount int       `json:"schedule_count"`
	TotalAmount   string    `json:"total_amount"`
}

// UpcomingCollections lists upcoming SEPA collection dates in the window,
// grouped by next invoice date in ascending order.
func (s *BatchService) UpcomingCollections(ctx context.Context, from, to time.Time) ([]UpcomingCollection, error) {
	schedules, err := s.schedRepo.UpcomingSEPACollections(ctx, from, to)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		count int
		total decimal.Decimal
	}
	byDate := make(map[string]*bucket)
	var order []string
	for _, sched := range schedules {
		key := sched.NextInvoiceDate.Format("2006-01-02")
		b, ok := byDate[key]
		if !ok {
			b = &bucket{total: decimal.Zero}
			byDate[key] = b
			order = append(order, key)
		}
		b.count++
		b.total = b.total.Add(sched.Rate)
	}

	result := make([]UpcomingCollection, 0, len(order))
	for _, key := range order {
		date, _ := time.Parse("2006-01-02", key)
		result = append(result, UpcomingCollection{
			Date:          date,
			ScheduleCount: byDate[key].count,
			TotalAmount:   byDate[key].total.StringFixed(2),
		})
	}
	return result, nil
}

// BatchReturn is one bank return (R-transaction) reported against a batch
// line.
type BatchReturn struct {
	LineID        uint   `json:"line_id"`
	ReasonCode    string `json:"reason_code"`
	ReasonMessage string `json:"reason_message"`
}

// ReturnResult summarizes one processed returns file
type ReturnResult struct {
	Processed          int    `json:"processed"`
	SchedulesSuspended int    `json:"schedules_suspended"`
	SchedulesInGrace   int    `json:"schedules_in_grace"`
	BatchStatus        string `json:"batch_status"`
}

// ProcessBatchReturns applies bank returns to a submitted batch. Each return
// fails its line, flags the usage record, and escalates the member's dues
// schedule: a third consecutive failure suspends it, earlier failures move it
// into a grace period.
func (s *BatchService) ProcessBatchReturns(ctx context.Context, batchID uint, returns []BatchReturn) (*ReturnResult, error) {
	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	if batch.Status == models.BatchStatusDraft {
		return nil, fmt.Errorf("%w: returns apply to submitted batches, %s is still a draft", ErrBatchNotSubmitted, batch.BatchRef)
	}

	linesByID := make(map[uint]*models.BatchLine, len(batch.Lines))
	for i := range batch.Lines {
		linesByID[batch.Lines[i].ID] = &batch.Lines[i]
	}

	result := &ReturnResult{}
	for _, ret := range returns {
		line, ok := linesByID[ret.LineID]
		if !ok {
			s.finErrors.Classify("F3002", fmt.Sprintf("return references unknown line %d in batch %s", ret.LineID, batch.BatchRef), nil)
			continue
		}

		code := ret.ReasonCode
		if code == "" {
			code = returnReasonInsufficient
		}
		msg := ret.ReasonMessage
		if err := s.batchRepo.UpdateLineResult(ctx, line.ID, models.LineStatusReturned, &code, &msg); err != nil {
			return nil, err
		}
		s.finErrors.Classify("F6001", fmt.Sprintf("collection for invoice %d returned with %s", line.InvoiceID, code), map[string]interface{}{
			"batch_id": batchID,
			"line_id":  line.ID,
		})

		// MD01 means the debtor's bank no longer honors the mandate; keeping it
		// Active would produce the same return on the next run.
		if code == returnReasonMandateRevoked {
			if err := s.mandateRepo.UpdateStatus(ctx, line.MandateID, models.MandateStatusCancelled); err != nil {
				log.Printf("⚠️ Could not cancel revoked mandate %d: %v", line.MandateID, err)
			} else {
				log.Printf("🛑 Mandate %d cancelled after %s return", line.MandateID, code)
			}
		}

		if err := s.setUsageStatus(ctx, line, models.UsageStatusReturned); err != nil {
			log.Printf("⚠️ Could not flag usage for invoice %d as returned: %v", line.InvoiceID, err)
		}

		suspended, err := s.escalateScheduleFailure(ctx, line.InvoiceID)
		if err != nil {
			log.Printf("⚠️ Schedule escalation failed for invoice %d: %v", line.InvoiceID, err)
		} else if suspended == scheduleSuspended {
			result.SchedulesSuspended++
		} else if suspended == scheduleInGrace {
			result.SchedulesInGrace++
		}

		s.notify.NotifyReturnProcessed(line.MemberID, fmt.Sprintf("%d", line.InvoiceID), code)
		result.Processed++
	}

	if result.Processed > 0 {
		batch.Status = models.BatchStatusPartiallyFailed
		if err := s.batchRepo.Save(ctx, batch); err != nil {
			return nil, err
		}
	}
	result.BatchStatus = batch.Status
	return result, nil
}

type escalation int

const (
	scheduleUnchanged escalation = iota
	scheduleInGrace
	scheduleSuspended
)

func (s *BatchService) setUsageStatus(ctx context.Context, line *models.BatchLine, status string) error {
	usage, err := s.mandateRepo.UsageForInvoice(ctx, line.MandateID, line.InvoiceID)
	if err != nil || usage == nil {
		return err
	}
	return s.mandateRepo.UpdateUsageStatus(ctx, usage.ID, status)
}

// escalateScheduleFailure bumps the failure counter on the invoice's dues
// schedule. Three consecutive failures suspend the schedule; fewer put it in
// a grace period ending gracePeriodDays from now.
func (s *BatchService) escalateScheduleFailure(ctx context.Context, invoiceID uint) (escalation, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil || invoice == nil || invoice.ScheduleID == nil {
		return scheduleUnchanged, err
	}
	sched, err := s.schedRepo.GetByInvoiceScheduleID(ctx, *invoice.ScheduleID)
	if err != nil || sched == nil {
		return scheduleUnchanged, err
	}

	sched.ConsecutiveFailures++
	if sched.ConsecutiveFailures >= consecutiveFailureLimit {
		sched.Status = models.ScheduleStatusSuspended
		sched.GracePeriodUntil = nil
		if err := s.schedRepo.Save(ctx, sched); err != nil {
			return scheduleUnchanged, err
		}
		log.Printf("🛑 Schedule %d suspended after %d consecutive failed collections", sched.ID, sched.ConsecutiveFailures)
		s.notify.NotifyScheduleSuspended(sched.MemberID, sched.ID, sched.ConsecutiveFailures)
		return scheduleSuspended, nil
	}

	until := time.Now().AddDate(0, 0, gracePeriodDays)
	sched.Status = models.ScheduleStatusGracePeriod
	sched.GracePeriodUntil = &until
	if err := s.schedRepo.Save(ctx, sched); err != nil {
		return scheduleUnchanged, err
	}
	return scheduleInGrace, nil
}

// ClearScheduleFailures resets the failure counter after a successful
// collection so old returns do not accumulate toward suspension. Returns true
// when the schedule actually changed.
func (s *BatchService) ClearScheduleFailures(ctx context.Context, scheduleID uint) (bool, error) {
	sched, err := s.schedRepo.GetByInvoiceScheduleID(ctx, scheduleID)
	if err != nil || sched == nil {
		return false, err
	}
	if sched.ConsecutiveFailures == 0 && sched.Status == models.ScheduleStatusActive {
		return false, nil
	}
	sched.ConsecutiveFailures = 0
	if sched.Status == models.ScheduleStatusGracePeriod {
		sched.Status = models.ScheduleStatusActive
		sched.GracePeriodUntil = nil
	}
	if err := s.schedRepo.Save(ctx, sched); err != nil {
		return false, err
	}
	return true, nil
}

// SettlementResult summarizes one settled batch
type SettlementResult struct {
	LinesCollected int `json:"lines_collected"`
	InvoicesPaid   int `json:"invoices_paid"`
	SchedulesReset int `json:"schedules_reset"`
}

// SettleBatch finalizes a submitted batch after the bank's return window has
// passed: every line still pending is marked collected, its usage record
// follows, the invoice is marked paid, and the member's dues schedule gets its
// failure counter cleared. Lines already returned or failed stay untouched.
func (s *BatchService) SettleBatch(ctx context.Context, batchID uint) (*SettlementResult, error) {
	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	if batch.Status == models.BatchStatusDraft {
		return nil, fmt.Errorf("%w: settle a batch after submission, %s is still a draft", ErrBatchNotSubmitted, batch.BatchRef)
	}

	invoiceIDs := make([]uint, 0, len(batch.Lines))
	for i := range batch.Lines {
		if batch.Lines[i].Status == models.LineStatusPending {
			invoiceIDs = append(invoiceIDs, batch.Lines[i].InvoiceID)
		}
	}
	details, err := s.bulk.LoadInvoicesWithDetails(ctx, invoiceIDs)
	if err != nil {
		return nil, err
	}

	result := &SettlementResult{}
	for i := range batch.Lines {
		line := &batch.Lines[i]
		if line.Status != models.LineStatusPending {
			continue
		}

		if err := s.batchRepo.UpdateLineResult(ctx, line.ID, models.LineStatusCollected, nil, nil); err != nil {
			return nil, err
		}
		result.LinesCollected++

		if err := s.setUsageStatus(ctx, line, models.UsageStatusCollected); err != nil {
			log.Printf("⚠️ Could not flag usage for invoice %d as collected: %v", line.InvoiceID, err)
		}
		if err := s.invoiceRepo.UpdateStatus(ctx, line.InvoiceID, models.InvoiceStatusPaid); err != nil {
			log.Printf("⚠️ Could not mark invoice %d paid: %v", line.InvoiceID, err)
		} else {
			result.InvoicesPaid++
		}

		if d, ok := details[line.InvoiceID]; ok && d.Invoice.ScheduleID != nil {
			reset, err := s.ClearScheduleFailures(ctx, *d.Invoice.ScheduleID)
			if err != nil {
				log.Printf("⚠️ Could not clear failures on schedule %d: %v", *d.Invoice.ScheduleID, err)
			} else if reset {
				result.SchedulesReset++
			}
		}
	}

	log.Printf("✅ Batch %s settled: %d lines collected, %d invoices paid, %d schedules reset",
		batch.BatchRef, result.LinesCollected, result.InvoicesPaid, result.SchedulesReset)
	return result, nil
}

// SequenceFinding is one disagreement between a line's recorded sequence type
// and the type the mandate's usage history implies.
type SequenceFinding struct {
	LineID    uint   `json:"line_id"`
	InvoiceID uint   `json:"invoice_id"`
	MandateID uint   `json:"mandate_id"`
	Recorded  string `json:"recorded"`
	Expected  string `json:"expected"`
	Severity  string `json:"severity"`
}

// SubmissionCheck bundles what the bank file generator needs before a batch
// leaves the building: the sequence-type audit and structured debtor addresses.
type SubmissionCheck struct {
	BatchID         uint                                    `json:"batch_id"`
	BatchRef        string                                  `json:"batch_ref"`
	Clean           bool                                    `json:"clean"`
	Findings        []SequenceFinding                       `json:"findings"`
	DebtorAddresses map[uint]repositories.StructuredAddress `json:"debtor_addresses"`
}

// PrepareSubmission re-derives the expected sequence type for every line from
// current usage history and loads the debtor addresses in one bulk pass. A
// line recorded RCUR where history demands FRST is a compliance error; the
// inverse only warns, banks accept a redundant FRST.
func (s *BatchService) PrepareSubmission(ctx context.Context, batchID uint) (*SubmissionCheck, error) {
	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}

	pairs := make([]SequencePair, 0, len(batch.Lines))
	memberIDs := make([]uint, 0, len(batch.Lines))
	seenMembers := make(map[uint]bool)
	for _, line := range batch.Lines {
		pairs = append(pairs, SequencePair{MandateID: line.MandateID, InvoiceID: line.InvoiceID})
		if !seenMembers[line.MemberID] {
			seenMembers[line.MemberID] = true
			memberIDs = append(memberIDs, line.MemberID)
		}
	}
	resolutions, err := s.sequences.ResolveSequenceTypesBatch(ctx, pairs)
	if err != nil {
		return nil, err
	}

	check := &SubmissionCheck{
		BatchID:  batch.ID,
		BatchRef: batch.BatchRef,
		Clean:    true,
		Findings: []SequenceFinding{},
	}
	for _, line := range batch.Lines {
		res := resolutions[SequencePair{MandateID: line.MandateID, InvoiceID: line.InvoiceID}]
		if res == nil || res.SequenceType == line.SequenceType {
			continue
		}
		severity := SeverityWarning
		if res.SequenceType == models.SequenceTypeFirst {
			severity = SeverityCompliance
			check.Clean = false
			s.finErrors.Classify("F1101", fmt.Sprintf("batch %s line %d recorded %s but usage history implies %s",
				batch.BatchRef, line.ID, line.SequenceType, res.SequenceType), map[string]interface{}{
				"batch_id":   batch.ID,
				"line_id":    line.ID,
				"mandate_id": line.MandateID,
			})
		}
		check.Findings = append(check.Findings, SequenceFinding{
			LineID:    line.ID,
			InvoiceID: line.InvoiceID,
			MandateID: line.MandateID,
			Recorded:  line.SequenceType,
			Expected:  res.SequenceType,
			Severity:  severity,
		})
	}

	addresses, err := s.bulk.LoadMemberAddresses(ctx, memberIDs)
	if err != nil {
		return nil, err
	}
	check.DebtorAddresses = addresses
	return check, nil
}

// SubmitBatch runs the pre-submission audit and, when it comes back clean,
// moves the draft to Submitted so returns and settlement can be applied
// against it.
func (s *BatchService) SubmitBatch(ctx context.Context, batchID uint) (*SubmissionCheck, error) {
	check, err := s.PrepareSubmission(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !check.Clean {
		return check, ErrSequenceAuditFailed
	}

	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	if batch.Status == models.BatchStatusDraft {
		batch.Status = models.BatchStatusSubmitted
		if err := s.batchRepo.Save(ctx, batch); err != nil {
			return nil, err
		}
		log.Printf("✅ Batch %s submitted with %d entries", batch.BatchRef, batch.EntryCount)
	}
	return check, nil
}
