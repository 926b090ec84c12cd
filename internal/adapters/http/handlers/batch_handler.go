package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"vereniging-incasso/internal/config"
	"vereniging-incasso/internal/core/services"
	"vereniging-incasso/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// BatchHandler handles collection batch endpoints
type BatchHandler struct {
	batchService    *services.BatchService
	coverageService *services.CoverageService
	jobService      *services.JobService
	sepaCfg         config.SEPAConfig
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(batchService *services.BatchService, coverageService *services.CoverageService, jobService *services.JobService, sepaCfg config.SEPAConfig) *BatchHandler {
	return &BatchHandler{
		batchService:    batchService,
		coverageService: coverageService,
		jobService:      jobService,
		sepaCfg:         sepaCfg,
	}
}

// CreateBatchRequest is the payload for batch creation
type CreateBatchRequest struct {
	CollectionDate string `json:"collection_date"`
	VerifyCoverage bool   `json:"verify_coverage"`
	Async          bool   `json:"async"`
}

// CreateBatch assembles a collection batch for a processing date. With
// async=true the run is handed to the job queue and a 202 with the job id is
// returned instead.
func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	var req CreateBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	collectionDate, err := parseDateOrToday(req.CollectionDate)
	if err != nil {
		return response.BadRequest(c, "collection_date must be YYYY-MM-DD")
	}

	if req.Async {
		userID, _ := c.Locals("userID").(uint)
		status, err := h.jobService.Enqueue(services.QueueLong, "collection_batch", userID, func(ctx context.Context) (interface{}, error) {
			batch, err := h.batchService.CreateCollectionBatch(ctx, collectionDate, req.VerifyCoverage)
			if err != nil {
				return nil, err
			}
			if batch == nil {
				return fiber.Map{"created": false}, nil
			}
			return batch.ToResponse(), nil
		})
		if err != nil {
			return response.InternalServerError(c, "Failed to enqueue batch creation")
		}
		return response.Accepted(c, "Batch creation queued", status)
	}

	batch, err := h.batchService.CreateCollectionBatch(c.Context(), collectionDate, req.VerifyCoverage)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSEPAConfigIncomplete):
			return response.ClassifiedError(c, fiber.StatusUnprocessableEntity, "F5001", err.Error())
		case errors.Is(err, services.ErrBatchTotalsMismatch):
			return response.ClassifiedError(c, fiber.StatusInternalServerError, "F3001", "Batch totals failed verification, draft discarded")
		default:
			return response.InternalServerError(c, "Failed to create collection batch")
		}
	}
	if batch == nil {
		return response.Success(c, "No eligible invoices, no batch created", nil)
	}
	return response.Created(c, "Collection batch created", batch.ToResponse())
}

// GetBatch returns one batch with its lines
func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid batch ID")
	}

	batch, err := h.batchService.GetBatch(c.Context(), uint(id))
	if err != nil {
		if errors.Is(err, services.ErrBatchNotFound) {
			return response.NotFound(c, "Batch not found")
		}
		return response.InternalServerError(c, "Failed to load batch")
	}
	return response.Success(c, "Batch retrieved", batch.ToResponse())
}

// PreviewBatch reports what a run on the given date would collect
func (h *BatchHandler) PreviewBatch(c *fiber.Ctx) error {
	collectionDate, err := parseDateOrToday(c.Query("date"))
	if err != nil {
		return response.BadRequest(c, "date must be YYYY-MM-DD")
	}

	preview, err := h.batchService.PreviewBatch(c.Context(), collectionDate)
	if err != nil {
		return response.InternalServerError(c, "Failed to build batch preview")
	}
	return response.Success(c, "Batch preview built", preview)
}

// VerifyCoverage runs an on-demand invoice coverage check
func (h *BatchHandler) VerifyCoverage(c *fiber.Ctx) error {
	report, err := h.coverageService.VerifyInvoiceCoverage(c.Context(), time.Now())
	if err != nil {
		return response.InternalServerError(c, "Coverage verification failed")
	}
	return response.Success(c, "Coverage verified", report)
}

// UpcomingCollections lists collection dates in the coming window. Defaults
// to the next 30 days; days_ahead or an explicit to date narrow it.
func (h *BatchHandler) UpcomingCollections(c *fiber.Ctx) error {
	from, err := parseDateOrToday(c.Query("from"))
	if err != nil {
		return response.BadRequest(c, "from must be YYYY-MM-DD")
	}
	to := from.AddDate(0, 0, 30)
	if q := c.Query("days_ahead"); q != "" {
		days, err := strconv.Atoi(q)
		if err != nil || days < 1 {
			return response.BadRequest(c, "days_ahead must be a positive number")
		}
		to = from.AddDate(0, 0, days)
	}
	if q := c.Query("to"); q != "" {
		to, err = time.Parse("2006-01-02", q)
		if err != nil {
			return response.BadRequest(c, "to must be YYYY-MM-DD")
		}
	}

	upcoming, err := h.batchService.UpcomingCollections(c.Context(), from, to)
	if err != nil {
		return response.InternalServerError(c, "Failed to load upcoming collections")
	}
	return response.Success(c, "Upcoming collections retrieved", upcoming)
}

// ProcessReturnsRequest carries a set of bank returns for one batch
type ProcessReturnsRequest struct {
	Returns []services.BatchReturn `json:"returns"`
}

// ProcessReturns applies bank R-transactions to a batch
func (h *BatchHandler) ProcessReturns(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid batch ID")
	}

	var req ProcessReturnsRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if len(req.Returns) == 0 {
		return response.BadRequest(c, "returns must not be empty")
	}

	result, err := h.batchService.ProcessBatchReturns(c.Context(), uint(id), req.Returns)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBatchNotFound):
			return response.NotFound(c, "Batch not found")
		case errors.Is(err, services.ErrBatchNotSubmitted):
			return response.UnprocessableEntity(c, "Returns can only be processed against a submitted batch")
		default:
			return response.InternalServerError(c, "Failed to process batch returns")
		}
	}
	return response.Success(c, "Batch returns processed", result)
}

// SubmitBatch audits a draft batch and marks it submitted when the audit is
// clean
func (h *BatchHandler) SubmitBatch(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid batch ID")
	}

	check, err := h.batchService.SubmitBatch(c.Context(), uint(id))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBatchNotFound):
			return response.NotFound(c, "Batch not found")
		case errors.Is(err, services.ErrSequenceAuditFailed):
			return response.UnprocessableEntity(c, "Sequence audit found compliance findings, resolve them before submitting")
		default:
			return response.InternalServerError(c, "Failed to submit batch")
		}
	}
	return response.Success(c, "Batch submitted", check)
}

// SettleBatch marks a submitted batch's remaining pending lines as collected
func (h *BatchHandler) SettleBatch(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid batch ID")
	}

	result, err := h.batchService.SettleBatch(c.Context(), uint(id))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBatchNotFound):
			return response.NotFound(c, "Batch not found")
		case errors.Is(err, services.ErrBatchNotSubmitted):
			return response.UnprocessableEntity(c, "Settle a batch after it has been submitted")
		default:
			return response.InternalServerError(c, "Failed to settle batch")
		}
	}
	return response.Success(c, "Batch settled", result)
}

// SubmissionCheck audits a batch's sequence types against current usage
// history and returns the structured debtor addresses for its members.
func (h *BatchHandler) SubmissionCheck(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid batch ID")
	}

	check, err := h.batchService.PrepareSubmission(c.Context(), uint(id))
	if err != nil {
		if errors.Is(err, services.ErrBatchNotFound) {
			return response.NotFound(c, "Batch not found")
		}
		return response.InternalServerError(c, "Submission check failed")
	}
	return response.Success(c, "Submission check complete", check)
}

// ValidateSEPAConfig reports missing creditor configuration fields
func (h *BatchHandler) ValidateSEPAConfig(c *fiber.Ctx) error {
	missing := h.sepaCfg.Validate()
	return response.Success(c, "SEPA configuration checked", fiber.Map{
		"valid":          len(missing) == 0,
		"missing_fields": missing,
	})
}

// parseDateOrToday parses YYYY-MM-DD, defaulting to today when empty
func parseDateOrToday(s string) (time.Time, error) {
	if s == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Parse("2006-01-02", s)
}
