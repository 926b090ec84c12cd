package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"vereniging-incasso/internal/adapters/persistence/models"
	"vereniging-incasso/internal/adapters/persistence/repositories"
	"vereniging-incasso/internal/config"

	"github.com/shopspring/decimal"
)

// ============================================================
// Mocks
// ============================================================

type mockBatchRepo struct {
	batches map[uint]*models.CollectionBatch
	nextID  uint
	deleted []uint

	// when set, AggregateTotals reports this instead of the stored lines
	forcedCount *int64
	forcedTotal *decimal.Decimal
}

func newMockBatchRepo() *mockBatchRepo {
	return &mockBatchRepo{batches: make(map[uint]*models.CollectionBatch), nextID: 1}
}

func (m *mockBatchRepo) Create(_ context.Context, batch *models.CollectionBatch) error {
	batch.ID = m.nextID
	m.nextID++
	for i := range batch.Lines {
		batch.Lines[i].ID = uint(i + 1)
		batch.Lines[i].BatchID = batch.ID
	}
	m.batches[batch.ID] = batch
	return nil
}

func (m *mockBatchRepo) Save(_ context.Context, batch *models.CollectionBatch) error {
	m.batches[batch.ID] = batch
	return nil
}

func (m *mockBatchRepo) Delete(_ context.Context, batch *models.CollectionBatch) error {
	delete(m.batches, batch.ID)
	m.deleted = append(m.deleted, batch.ID)
	return nil
}

func (m *mockBatchRepo) GetByID(_ context.Context, id uint) (*models.CollectionBatch, error) {
	return m.batches[id], nil
}

func (m *mockBatchRepo) AggregateTotals(_ context.Context, batchID uint) (int64, decimal.Decimal, error) {
	if m.forcedCount != nil && m.forcedTotal != nil {
		return *m.forcedCount, *m.forcedTotal, nil
	}
	batch, ok := m.batches[batchID]
	if !ok {
		return 0, decimal.Zero, nil
	}
	total := decimal.Zero
	for _, l := range batch.Lines {
		total = total.Add(l.Amount)
	}
	return int64(len(batch.Lines)), total, nil
}

func (m *mockBatchRepo) UpdateLineResult(_ context.Context, lineID uint, status string, resultCode, resultMessage *string) error {
	for _, batch := range m.batches {
		for i := range batch.Lines {
			if batch.Lines[i].ID == lineID {
				batch.Lines[i].Status = status
				batch.Lines[i].ResultCode = resultCode
				batch.Lines[i].ResultMessage = resultMessage
			}
		}
	}
	return nil
}

type mockInvoiceRepo struct {
	invoices map[uint]*models.Invoice
	eligible []repositories.CollectibleInvoice
}

func newMockInvoiceRepo() *mockInvoiceRepo {
	return &mockInvoiceRepo{invoices: make(map[uint]*models.Invoice)}
}

func (m *mockInvoiceRepo) GetByID(_ context.Context, id uint) (*models.Invoice, error) {
	return m.invoices[id], nil
}

func (m *mockInvoiceRepo) EligibleForCollection(_ context.Context, _ time.Time, _ int) ([]repositories.CollectibleInvoice, error) {
	return m.eligible, nil
}

func (m *mockInvoiceRepo) UpdateStatus(_ context.Context, invoiceID uint, status string) error {
	if inv, ok := m.invoices[invoiceID]; ok {
		inv.Status = status
	}
	return nil
}

type mockScheduleRepo struct {
	schedules map[uint]*models.DuesSchedule
	coverage  []repositories.CoverageRow
	upcoming  []models.DuesSchedule
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{schedules: make(map[uint]*models.DuesSchedule)}
}

func (m *mockScheduleRepo) GetByID(_ context.Context, id uint) (*models.DuesSchedule, error) {
	return m.schedules[id], nil
}

func (m *mockScheduleRepo) Save(_ context.Context, schedule *models.DuesSchedule) error {
	m.schedules[schedule.ID] = schedule
	return nil
}

func (m *mockScheduleRepo) CoverageRows(_ context.Context, limit int) ([]repositories.CoverageRow, error) {
	if len(m.coverage) > limit {
		return m.coverage[:limit], nil
	}
	return m.coverage, nil
}

func (m *mockScheduleRepo) UpcomingSEPACollections(_ context.Context, _, _ time.Time) ([]models.DuesSchedule, error) {
	return m.upcoming, nil
}

func (m *mockScheduleRepo) GetByInvoiceScheduleID(_ context.Context, scheduleID uint) (*models.DuesSchedule, error) {
	return m.schedules[scheduleID], nil
}

// ============================================================
// Fixtures
// ============================================================

func validSEPAConfig() config.SEPAConfig {
	return config.SEPAConfig{
		CreditorID:    "NL98ZZZ999999990000",
		CompanyIBAN:   "NL91ABNA0417164300",
		CompanyBIC:    "ABNANL2A",
		AccountHolder: "Vereniging Voorbeeld",
		LookbackDays:  60,
		Tolerances: config.CoverageTolerances{
			WeeklyDays: 1, MonthlyDays: 3, QuarterlyDays: 7, AnnualDays: 2,
		},
	}
}

type batchFixture struct {
	svc      *BatchService
	batches  *mockBatchRepo
	invoices *mockInvoiceRepo
	mandates *mockMandateRepo
	scheds   *mockScheduleRepo
	bulk     *mockBulkLoader
	finErrs  *FinancialErrorService
}

func newBatchFixture(cfg config.SEPAConfig) *batchFixture {
	f := &batchFixture{
		batches:  newMockBatchRepo(),
		invoices: newMockInvoiceRepo(),
		mandates: newMockMandateRepo(),
		scheds:   newMockScheduleRepo(),
		bulk:     &mockBulkLoader{},
		finErrs:  NewFinancialErrorService(),
	}
	perf := NewPerformanceService(func() int64 { return 0 })
	f.svc = NewBatchService(
		f.batches,
		f.invoices,
		f.mandates,
		f.scheds,
		f.bulk,
		NewSequenceService(f.mandates),
		NewCoverageService(f.scheds, cfg.Tolerances),
		f.finErrs,
		perf,
		NewNotifyService(),
		cfg,
	)
	return f
}

func collectible(invoiceID, memberID, mandateID uint, amount float64) repositories.CollectibleInvoice {
	return repositories.CollectibleInvoice{
		InvoiceID:  invoiceID,
		InvoiceNo:  "INV-0001",
		MemberID:   memberID,
		MemberName: "J. Jansen",
		Amount:     decimal.NewFromFloat(amount),
		Currency:   "EUR",
		DueDate:    date(2025, 5, 20),
		MandateID:  mandateID,
		MandateRef: "M-0001",
		IBAN:       "NL91ABNA0417164300",
	}
}

// ============================================================
// Tests
// ============================================================

func TestCreateCollectionBatch(t *testing.T) {
	collectionDate := date(2025, 6, 1)

	t.Run("Given a first-use mandate When creating a batch Then the line is FRST and a usage record is written", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())
		f.mandates.mandates[1] = activeMandate(1, date(2025, 1, 10))
		f.invoices.eligible = []repositories.CollectibleInvoice{collectible(100, 1, 1, 25.00)}

		batch, err := f.svc.CreateCollectionBatch(context.Background(), collectionDate, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch == nil {
			t.Fatal("expected a batch")
		}
		if batch.EntryCount != 1 {
			t.Fatalf("expected 1 entry, got %d", batch.EntryCount)
		}
		if batch.Lines[0].SequenceType != models.SequenceTypeFirst {
			t.Errorf("expected FRST line, got %s", batch.Lines[0].SequenceType)
		}
		if batch.BatchType != models.SequenceTypeFirst {
			t.Errorf("expected FRST batch type, got %s", batch.BatchType)
		}
		if batch.TotalAmount.StringFixed(2) != "25.00" {
			t.Errorf("expected total 25.00, got %s", batch.TotalAmount.StringFixed(2))
		}
		if len(f.mandates.createdUsages) != 1 {
			t.Errorf("expected 1 usage record, got %d", len(f.mandates.createdUsages))
		}
	})

	t.Run("Given a mandate with collected history When creating a batch Then the line is RCUR", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())
		f.mandates.mandates[1] = activeMandate(1, date(2025, 1, 10))
		f.mandates.usages = append(f.mandates.usages, models.MandateUsage{
			ID: 1, MandateID: 1, InvoiceID: 90,
			UsageDate: date(2025, 5, 1),
			Status:    models.UsageStatusCollected,
		})
		f.invoices.eligible = []repositories.CollectibleInvoice{collectible(100, 1, 1, 25.00)}

		batch, err := f.svc.CreateCollectionBatch(context.Background(), collectionDate, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch.Lines[0].SequenceType != models.SequenceTypeRecurring {
			t.Errorf("expected RCUR line, got %s", batch.Lines[0].SequenceType)
		}
		if batch.BatchType != models.SequenceTypeRecurring {
			t.Errorf("expected RCUR batch type, got %s", batch.BatchType)
		}
	})

	t.Run("Given no eligible invoices When creating a batch Then nil batch and no error", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())

		batch, err := f.svc.CreateCollectionBatch(context.Background(), collectionDate, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch != nil {
			t.Errorf("expected nil batch, got %+v", batch)
		}
	})

	t.Run("Given incomplete SEPA configuration When creating a batch Then config error with F5001 recorded", func(t *testing.T) {
		cfg := validSEPAConfig()
		cfg.CreditorID = ""
		f := newBatchFixture(cfg)

		_, err := f.svc.CreateCollectionBatch(context.Background(), collectionDate, false)
		if !errors.Is(err, ErrSEPAConfigIncomplete) {
			t.Fatalf("expected ErrSEPAConfigIncomplete, got %v", err)
		}
		if !errors.Is(err, ErrValidation) {
			t.Errorf("expected a validation error for the caller, got %v", err)
		}
		summary := f.finErrs.GetErrorSummary(1)
		if summary.ByCategory[CategoryConfigurationError] != 1 {
			t.Errorf("expected one configuration error, got %d", summary.ByCategory[CategoryConfigurationError])
		}
	})

	t.Run("Given a store aggregate that disagrees When creating a batch Then critical error and draft deleted", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())
		f.mandates.mandates[1] = activeMandate(1, date(2025, 1, 10))
		f.invoices.eligible = []repositories.CollectibleInvoice{collectible(100, 1, 1, 25.00)}
		count := int64(1)
		total := decimal.NewFromFloat(99.99)
		f.batches.forcedCount = &count
		f.batches.forcedTotal = &total

		_, err := f.svc.CreateCollectionBatch(context.Background(), collectionDate, false)
		if !errors.Is(err, ErrBatchTotalsMismatch) {
			t.Fatalf("expected ErrBatchTotalsMismatch, got %v", err)
		}
		if len(f.batches.deleted) != 1 {
			t.Errorf("expected the draft batch to be deleted, got %d deletions", len(f.batches.deleted))
		}
		summary := f.finErrs.GetErrorSummary(1)
		if len(summary.CriticalErrors) == 0 {
			t.Error("expected a critical error in the summary")
		}
	})

	t.Run("Given a mandate over its cap When creating a batch Then the line is skipped", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())
		m := activeMandate(1, date(2025, 1, 10))
		capAmount := decimal.NewFromInt(10)
		m.MaximumAmount = &capAmount
		f.mandates.mandates[1] = m
		f.invoices.eligible = []repositories.CollectibleInvoice{collectible(100, 1, 1, 25.00)}

		batch, err := f.svc.CreateCollectionBatch(context.Background(), collectionDate, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch != nil {
			t.Errorf("expected no batch when every line is skipped, got %+v", batch)
		}
		summary := f.finErrs.GetErrorSummary(1)
		if summary.ByCategory[CategoryMandateViolation] == 0 {
			t.Error("expected a mandate violation for the skipped line")
		}
	})

	t.Run("Given an unlinked schedule When the mandate fallback is off Then the invoice is skipped", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())
		f.mandates.mandates[5] = activeMandate(5, date(2025, 1, 10))
		f.invoices.eligible = []repositories.CollectibleInvoice{collectible(100, 1, 0, 25.00)}

		batch, err := f.svc.CreateCollectionBatch(context.Background(), collectionDate, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch != nil {
			t.Errorf("expected no batch, got %+v", batch)
		}
		summary := f.finErrs.GetErrorSummary(1)
		if summary.ByCategory[CategoryMandateViolation] == 0 {
			t.Error("expected a missing-mandate violation")
		}
	})

	t.Run("Given an unlinked schedule When the mandate fallback is on Then the member's active mandate is used", func(t *testing.T) {
		cfg := validSEPAConfig()
		cfg.DefaultMandateEnabled = true
		f := newBatchFixture(cfg)
		f.mandates.mandates[5] = activeMandate(5, date(2025, 1, 10))
		f.invoices.eligible = []repositories.CollectibleInvoice{collectible(100, 1, 0, 25.00)}

		batch, err := f.svc.CreateCollectionBatch(context.Background(), collectionDate, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch == nil {
			t.Fatal("expected a batch")
		}
		if batch.Lines[0].MandateID != 5 {
			t.Errorf("expected line on fallback mandate 5, got %d", batch.Lines[0].MandateID)
		}
		if batch.Lines[0].IBAN != "NL91ABNA0417164300" {
			t.Errorf("unexpected IBAN on fallback line: %s", batch.Lines[0].IBAN)
		}
	})

	t.Run("Given many linked invoices When creating a batch Then mandates load in bulk, not per row", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())
		for i := uint(1); i <= 5; i++ {
			f.mandates.mandates[i] = activeMandate(i, date(2025, 1, 10))
			f.invoices.eligible = append(f.invoices.eligible, collectible(100+i, i, i, 25.00))
		}

		batch, err := f.svc.CreateCollectionBatch(context.Background(), collectionDate, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch.EntryCount != 5 {
			t.Fatalf("expected 5 entries, got %d", batch.EntryCount)
		}
		if f.mandates.getByIDCalls != 0 {
			t.Errorf("expected no per-mandate lookups, got %d", f.mandates.getByIDCalls)
		}
		// one bulk load for assembly, one for sequence resolution
		if f.mandates.getByIDsCalls != 2 {
			t.Errorf("expected 2 bulk lookups, got %d", f.mandates.getByIDsCalls)
		}
	})
}

func TestPreviewBatch(t *testing.T) {
	t.Run("Given seven eligible invoices for three members When previewing Then totals and sample are capped", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())
		for i := uint(1); i <= 7; i++ {
			inv := collectible(100+i, 1+(i%3), 1, 10.00)
			f.invoices.eligible = append(f.invoices.eligible, inv)
		}

		preview, err := f.svc.PreviewBatch(context.Background(), date(2025, 6, 1))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if preview.UnpaidFound != 7 {
			t.Errorf("expected 7 unpaid, got %d", preview.UnpaidFound)
		}
		if preview.TotalAmount != "70.00" {
			t.Errorf("expected total 70.00, got %s", preview.TotalAmount)
		}
		if preview.MembersAffected != 3 {
			t.Errorf("expected 3 members, got %d", preview.MembersAffected)
		}
		if len(preview.Sample) != 5 {
			t.Errorf("expected sample of 5, got %d", len(preview.Sample))
		}
	})
}

func TestUpcomingCollections(t *testing.T) {
	t.Run("Given schedules across two dates When listing upcoming Then grouped with summed rates", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())
		f.scheds.upcoming = []models.DuesSchedule{
			{ID: 1, NextInvoiceDate: date(2025, 6, 10), Rate: decimal.NewFromInt(25)},
			{ID: 2, NextInvoiceDate: date(2025, 6, 10), Rate: decimal.NewFromInt(15)},
			{ID: 3, NextInvoiceDate: date(2025, 6, 24), Rate: decimal.NewFromInt(25)},
		}

		upcoming, err := f.svc.UpcomingCollections(context.Background(), date(2025, 6, 1), date(2025, 7, 1))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(upcoming) != 2 {
			t.Fatalf("expected 2 groups, got %d", len(upcoming))
		}
		if upcoming[0].ScheduleCount != 2 || upcoming[0].TotalAmount != "40.00" {
			t.Errorf("first group: expected 2 schedules totalling 40.00, got %d / %s",
				upcoming[0].ScheduleCount, upcoming[0].TotalAmount)
		}
	})
}

func TestProcessBatchReturns(t *testing.T) {
	setup := func(priorFailures int) (*batchFixture, *models.CollectionBatch) {
		f := newBatchFixture(validSEPAConfig())
		schedID := uint(7)
		f.scheds.schedules[schedID] = &models.DuesSchedule{
			ID:                  schedID,
			MemberID:            1,
			Status:              models.ScheduleStatusActive,
			ConsecutiveFailures: priorFailures,
		}
		f.invoices.invoices[100] = &models.Invoice{ID: 100, MemberID: 1, ScheduleID: &schedID}

		batch := &models.CollectionBatch{
			BatchRef:  "DD-20250601-TEST",
			BatchDate: date(2025, 6, 1),
			Status:    models.BatchStatusSubmitted,
			Lines: []models.BatchLine{{
				InvoiceID: 100, MemberID: 1, MandateID: 1,
				Amount: decimal.NewFromInt(25),
				Status: models.LineStatusPending,
			}},
		}
		_ = f.batches.Create(context.Background(), batch)
		return f, batch
	}

	t.Run("Given a first failure When processing a return Then the schedule enters its grace period", func(t *testing.T) {
		f, batch := setup(0)

		result, err := f.svc.ProcessBatchReturns(context.Background(), batch.ID, []BatchReturn{
			{LineID: batch.Lines[0].ID, ReasonCode: "AM04", ReasonMessage: "Insufficient funds"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Processed != 1 || result.SchedulesInGrace != 1 {
			t.Errorf("expected 1 processed, 1 in grace; got %d / %d", result.Processed, result.SchedulesInGrace)
		}

		sched := f.scheds.schedules[7]
		if sched.Status != models.ScheduleStatusGracePeriod {
			t.Errorf("expected Grace Period, got %s", sched.Status)
		}
		if sched.GracePeriodUntil == nil {
			t.Fatal("expected a grace period end date")
		}
		want := time.Now().AddDate(0, 0, 14).Format("2006-01-02")
		if got := sched.GracePeriodUntil.Format("2006-01-02"); got != want {
			t.Errorf("expected grace until %s, got %s", want, got)
		}
		if result.BatchStatus != models.BatchStatusPartiallyFailed {
			t.Errorf("expected Partially Failed batch, got %s", result.BatchStatus)
		}
	})

	t.Run("Given two prior failures When processing a return Then the schedule is suspended", func(t *testing.T) {
		f, batch := setup(2)
		f.mandates.mandates[1] = activeMandate(1, date(2025, 1, 1))

		result, err := f.svc.ProcessBatchReturns(context.Background(), batch.ID, []BatchReturn{
			{LineID: batch.Lines[0].ID, ReasonCode: "MD01", ReasonMessage: "Mandate revoked"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.SchedulesSuspended != 1 {
			t.Errorf("expected 1 suspension, got %d", result.SchedulesSuspended)
		}
		if f.scheds.schedules[7].Status != models.ScheduleStatusSuspended {
			t.Errorf("expected Suspended, got %s", f.scheds.schedules[7].Status)
		}
		if f.mandates.mandates[1].Status != models.MandateStatusCancelled {
			t.Errorf("expected revoked mandate to be cancelled, got %s", f.mandates.mandates[1].Status)
		}
	})

	t.Run("Given an unknown batch When processing returns Then not found", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())

		_, err := f.svc.ProcessBatchReturns(context.Background(), 99, []BatchReturn{{LineID: 1}})
		if !errors.Is(err, ErrBatchNotFound) {
			t.Errorf("expected ErrBatchNotFound, got %v", err)
		}
	})

	t.Run("Given a draft batch When processing returns Then rejected", func(t *testing.T) {
		f, batch := setup(0)
		batch.Status = models.BatchStatusDraft

		_, err := f.svc.ProcessBatchReturns(context.Background(), batch.ID, []BatchReturn{
			{LineID: batch.Lines[0].ID, ReasonCode: "AM04"},
		})
		if !errors.Is(err, ErrBatchNotSubmitted) {
			t.Errorf("expected ErrBatchNotSubmitted, got %v", err)
		}
		if f.scheds.schedules[7].ConsecutiveFailures != 0 {
			t.Error("a rejected return run must not touch the schedule")
		}
	})
}

func TestPrepareSubmission(t *testing.T) {
	storedBatch := func(f *batchFixture, sequenceType string) *models.CollectionBatch {
		batch := &models.CollectionBatch{
			BatchRef:  "DD-20250601-TEST",
			BatchDate: date(2025, 6, 1),
			Status:    models.BatchStatusDraft,
			Lines: []models.BatchLine{{
				InvoiceID: 100, MemberID: 1, MandateID: 1,
				Amount:       decimal.NewFromInt(25),
				SequenceType: sequenceType,
				Status:       models.LineStatusPending,
			}},
		}
		_ = f.batches.Create(context.Background(), batch)
		return batch
	}

	t.Run("Given a line recorded RCUR with no collected history When checking Then a compliance error finding", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())
		f.mandates.mandates[1] = activeMandate(1, date(2025, 1, 10))
		batch := storedBatch(f, models.SequenceTypeRecurring)

		check, err := f.svc.PrepareSubmission(context.Background(), batch.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if check.Clean {
			t.Error("expected the check to flag the batch")
		}
		if len(check.Findings) != 1 {
			t.Fatalf("expected 1 finding, got %d", len(check.Findings))
		}
		finding := check.Findings[0]
		if finding.Expected != models.SequenceTypeFirst || finding.Severity != SeverityCompliance {
			t.Errorf("expected a compliance finding with FRST, got %+v", finding)
		}
		summary := f.finErrs.GetErrorSummary(1)
		if summary.ByCategory[CategorySEPAValidation] == 0 {
			t.Error("expected a compliance error to be recorded")
		}
	})

	t.Run("Given a line recorded FRST with prior collections When checking Then a warning finding only", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())
		f.mandates.mandates[1] = activeMandate(1, date(2025, 1, 10))
		f.mandates.usages = []models.MandateUsage{{
			ID: 1, MandateID: 1, InvoiceID: 90,
			UsageDate: date(2025, 5, 1),
			Status:    models.UsageStatusCollected,
		}}
		batch := storedBatch(f, models.SequenceTypeFirst)

		check, err := f.svc.PrepareSubmission(context.Background(), batch.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !check.Clean {
			t.Error("expected a warning-only check to stay clean")
		}
		if len(check.Findings) != 1 || check.Findings[0].Severity != SeverityWarning {
			t.Errorf("expected 1 warning finding, got %+v", check.Findings)
		}
	})

	t.Run("Given stored debtor addresses When checking Then they ride along", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())
		f.mandates.mandates[1] = activeMandate(1, date(2025, 1, 10))
		f.bulk.addresses = map[uint]repositories.StructuredAddress{
			1: {AddressLine1: "Dorpsstraat 1", Town: "Utrecht", Country: "NL"},
		}
		batch := storedBatch(f, models.SequenceTypeFirst)

		check, err := f.svc.PrepareSubmission(context.Background(), batch.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		addr, ok := check.DebtorAddresses[1]
		if !ok || addr.Town != "Utrecht" {
			t.Errorf("expected member 1 address, got %+v", check.DebtorAddresses)
		}
	})

	t.Run("Given an unknown batch When checking Then not found", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())

		_, err := f.svc.PrepareSubmission(context.Background(), 99)
		if !errors.Is(err, ErrBatchNotFound) {
			t.Errorf("expected ErrBatchNotFound, got %v", err)
		}
	})
}

func TestSubmitBatch(t *testing.T) {
	draftBatch := func(f *batchFixture, sequenceType string) *models.CollectionBatch {
		batch := &models.CollectionBatch{
			BatchRef:   "DD-20250601-TEST",
			BatchDate:  date(2025, 6, 1),
			Status:     models.BatchStatusDraft,
			EntryCount: 1,
			Lines: []models.BatchLine{{
				InvoiceID: 100, MemberID: 1, MandateID: 1,
				Amount:       decimal.NewFromInt(25),
				SequenceType: sequenceType,
				Status:       models.LineStatusPending,
			}},
		}
		_ = f.batches.Create(context.Background(), batch)
		return batch
	}

	t.Run("Given a clean audit When submitting Then the draft becomes Submitted", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())
		f.mandates.mandates[1] = activeMandate(1, date(2025, 1, 10))
		batch := draftBatch(f, models.SequenceTypeFirst)

		check, err := f.svc.SubmitBatch(context.Background(), batch.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !check.Clean {
			t.Error("expected a clean check")
		}
		if f.batches.batches[batch.ID].Status != models.BatchStatusSubmitted {
			t.Errorf("expected Submitted, got %s", f.batches.batches[batch.ID].Status)
		}
	})

	t.Run("Given an audit with compliance findings When submitting Then the draft stays put", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())
		f.mandates.mandates[1] = activeMandate(1, date(2025, 1, 10))
		batch := draftBatch(f, models.SequenceTypeRecurring)

		check, err := f.svc.SubmitBatch(context.Background(), batch.ID)
		if !errors.Is(err, ErrSequenceAuditFailed) {
			t.Fatalf("expected ErrSequenceAuditFailed, got %v", err)
		}
		if check == nil || len(check.Findings) == 0 {
			t.Fatal("expected the failing check to come back with findings")
		}
		if f.batches.batches[batch.ID].Status != models.BatchStatusDraft {
			t.Errorf("expected the batch to stay Draft, got %s", f.batches.batches[batch.ID].Status)
		}
	})

	t.Run("Given an unknown batch When submitting Then not found", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())

		_, err := f.svc.SubmitBatch(context.Background(), 99)
		if !errors.Is(err, ErrBatchNotFound) {
			t.Errorf("expected ErrBatchNotFound, got %v", err)
		}
	})
}

func TestSettleBatch(t *testing.T) {
	setup := func() (*batchFixture, *models.CollectionBatch) {
		f := newBatchFixture(validSEPAConfig())
		schedID := uint(7)
		until := date(2025, 6, 15)
		f.scheds.schedules[schedID] = &models.DuesSchedule{
			ID:                  schedID,
			MemberID:            1,
			Status:              models.ScheduleStatusGracePeriod,
			ConsecutiveFailures: 1,
			GracePeriodUntil:    &until,
		}
		f.invoices.invoices[100] = &models.Invoice{ID: 100, MemberID: 1, Status: models.InvoiceStatusUnpaid, ScheduleID: &schedID}
		f.bulk.details = map[uint]repositories.InvoiceDetails{
			100: {Invoice: models.Invoice{ID: 100, MemberID: 1, ScheduleID: &schedID}},
		}
		f.mandates.usages = append(f.mandates.usages, models.MandateUsage{
			ID: 1, MandateID: 1, InvoiceID: 100,
			UsageDate: date(2025, 6, 1),
			Status:    models.UsageStatusPending,
		})

		batch := &models.CollectionBatch{
			BatchRef:  "DD-20250601-TEST",
			BatchDate: date(2025, 6, 1),
			Status:    models.BatchStatusSubmitted,
			Lines: []models.BatchLine{{
				InvoiceID: 100, MemberID: 1, MandateID: 1,
				Amount: decimal.NewFromInt(25),
				Status: models.LineStatusPending,
			}},
		}
		_ = f.batches.Create(context.Background(), batch)
		return f, batch
	}

	t.Run("Given a submitted batch with a pending line When settling Then line, usage, invoice and schedule all advance", func(t *testing.T) {
		f, batch := setup()

		result, err := f.svc.SettleBatch(context.Background(), batch.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.LinesCollected != 1 || result.InvoicesPaid != 1 || result.SchedulesReset != 1 {
			t.Errorf("expected 1/1/1, got %d/%d/%d", result.LinesCollected, result.InvoicesPaid, result.SchedulesReset)
		}
		if f.batches.batches[batch.ID].Lines[0].Status != models.LineStatusCollected {
			t.Errorf("expected Collected line, got %s", f.batches.batches[batch.ID].Lines[0].Status)
		}
		if f.mandates.usages[0].Status != models.UsageStatusCollected {
			t.Errorf("expected Collected usage, got %s", f.mandates.usages[0].Status)
		}
		if f.invoices.invoices[100].Status != models.InvoiceStatusPaid {
			t.Errorf("expected Paid invoice, got %s", f.invoices.invoices[100].Status)
		}
		sched := f.scheds.schedules[7]
		if sched.ConsecutiveFailures != 0 || sched.Status != models.ScheduleStatusActive || sched.GracePeriodUntil != nil {
			t.Errorf("expected the schedule back to Active with no failures, got %+v", sched)
		}
	})

	t.Run("Given a line already returned When settling Then it stays untouched", func(t *testing.T) {
		f, batch := setup()
		f.batches.batches[batch.ID].Lines[0].Status = models.LineStatusReturned

		result, err := f.svc.SettleBatch(context.Background(), batch.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.LinesCollected != 0 {
			t.Errorf("expected nothing collected, got %d", result.LinesCollected)
		}
		if f.batches.batches[batch.ID].Lines[0].Status != models.LineStatusReturned {
			t.Errorf("expected the returned line untouched, got %s", f.batches.batches[batch.ID].Lines[0].Status)
		}
	})

	t.Run("Given a draft batch When settling Then rejected", func(t *testing.T) {
		f, batch := setup()
		f.batches.batches[batch.ID].Status = models.BatchStatusDraft

		_, err := f.svc.SettleBatch(context.Background(), batch.ID)
		if !errors.Is(err, ErrBatchNotSubmitted) {
			t.Errorf("expected ErrBatchNotSubmitted, got %v", err)
		}
	})

	t.Run("Given an unknown batch When settling Then not found", func(t *testing.T) {
		f := newBatchFixture(validSEPAConfig())

		_, err := f.svc.SettleBatch(context.Background(), 99)
		if !errors.Is(err, ErrBatchNotFound) {
			t.Errorf("expected ErrBatchNotFound, got %v", err)
		}
	})
}
