package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"vereniging-incasso/internal/core/services"
	"vereniging-incasso/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// JobHandler handles background job endpoints
type JobHandler struct {
	jobService      *services.JobService
	notifyService   *services.NotifyService
	batchService    *services.BatchService
	coverageService *services.CoverageService
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *services.JobService, notifyService *services.NotifyService, batchService *services.BatchService, coverageService *services.CoverageService) *JobHandler {
	return &JobHandler{
		jobService:      jobService,
		notifyService:   notifyService,
		batchService:    batchService,
		coverageService: coverageService,
	}
}

// SubmitJobRequest names a background job type to run
type SubmitJobRequest struct {
	Type           string `json:"type"`
	CollectionDate string `json:"collection_date"`
	VerifyCoverage bool   `json:"verify_coverage"`
}

// SubmitJob enqueues one of the known background job types
func (h *JobHandler) SubmitJob(c *fiber.Ctx) error {
	var req SubmitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	userID, _ := c.Locals("userID").(uint)

	switch req.Type {
	case "collection_batch":
		collectionDate, err := parseDateOrToday(req.CollectionDate)
		if err != nil {
			return response.BadRequest(c, "collection_date must be YYYY-MM-DD")
		}
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
			return response.InternalServerError(c, "Failed to enqueue job")
		}
		return response.Accepted(c, "Job queued", status)

	case "coverage_sweep":
		status, err := h.jobService.Enqueue(services.QueueDefault, "coverage_sweep", userID, func(ctx context.Context) (interface{}, error) {
			return h.coverageService.VerifyInvoiceCoverage(ctx, time.Now())
		})
		if err != nil {
			return response.InternalServerError(c, "Failed to enqueue job")
		}
		return response.Accepted(c, "Job queued", status)

	default:
		return response.BadRequest(c, "type must be collection_batch or coverage_sweep")
	}
}

// ListJobs returns all job statuses still in the status cache
func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	return response.Success(c, "Jobs retrieved", h.jobService.ListJobs())
}

// GetJob returns one job's status
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	status, err := h.jobService.GetStatus(c.Params("id"))
	if err != nil {
		return response.NotFound(c, "Job not found or status expired")
	}
	return response.Success(c, "Job retrieved", status)
}

// CancelJob cancels a queued or running job
func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	err := h.jobService.Cancel(c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrJobNotFound):
			return response.NotFound(c, "Job not found or status expired")
		case errors.Is(err, services.ErrJobNotCancelable):
			return response.Conflict(c, "Job can only be cancelled while queued or running")
		default:
			return response.InternalServerError(c, "Failed to cancel job")
		}
	}
	return response.Success(c, "Job cancelled", nil)
}

// RetryJob re-enqueues a failed job with backoff
func (h *JobHandler) RetryJob(c *fiber.Ctx) error {
	status, err := h.jobService.Retry(c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrJobNotFound):
			return response.NotFound(c, "Job not found or status expired")
		case errors.Is(err, services.ErrJobNotRetryable):
			return response.Conflict(c, "Job can only be retried after failure")
		case errors.Is(err, services.ErrRetriesExhausted):
			return response.Conflict(c, "Job retry limit reached")
		default:
			return response.InternalServerError(c, "Failed to retry job")
		}
	}
	return response.Success(c, "Job retry scheduled", status)
}

// JobEvents streams job and batch lifecycle events to the caller over SSE
func (h *JobHandler) JobEvents(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(uint)
	clientID := fmt.Sprintf("user-%d-%d", userID, time.Now().UnixNano())

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		client := &services.SSEClient{
			ID:      clientID,
			UserID:  userID,
			Channel: make(chan services.SSEEvent, 50),
		}

		h.notifyService.Hub.Register(client)
		defer h.notifyService.Hub.Unregister(clientID)

		fmt.Fprintf(w, "event: connected\ndata: {\"client_id\":\"%s\"}\n\n", clientID)
		w.Flush()

		heartbeat := time.NewTicker(30 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case event, ok := <-client.Channel:
				if !ok {
					return
				}
				writeSSEEvent(w, event)
				w.Flush()

			case <-heartbeat.C:
				fmt.Fprintf(w, ": heartbeat\n\n")
				if err := w.Flush(); err != nil {
					log.Printf("📡 SSE client disconnected: %s", clientID)
					return
				}
			}
		}
	})

	return nil
}

// writeSSEEvent writes a formatted SSE event to the writer
func writeSSEEvent(w *bufio.Writer, event services.SSEEvent) {
	fmt.Fprintf(w, "event: %s\n", event.Event)
	data, err := json.Marshal(event.Data)
	if err != nil {
		fmt.Fprintf(w, "data: {}\n\n")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
