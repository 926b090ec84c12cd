package handlers

import (
	"strconv"

	"vereniging-incasso/internal/adapters/persistence/repositories"
	"vereniging-incasso/internal/core/services"
	"vereniging-incasso/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// MonitoringHandler exposes the performance and error monitoring endpoints
type MonitoringHandler struct {
	perfService *services.PerformanceService
	errService  *services.FinancialErrorService
	bulkLoader  repositories.BulkLoader
}

// NewMonitoringHandler creates a new monitoring handler
func NewMonitoringHandler(perfService *services.PerformanceService, errService *services.FinancialErrorService, bulkLoader repositories.BulkLoader) *MonitoringHandler {
	return &MonitoringHandler{
		perfService: perfService,
		errService:  errService,
		bulkLoader:  bulkLoader,
	}
}

// GetPerformanceSummary returns recent operation metrics and recommendations.
// hours query parameter bounds the window, default 24.
func (h *MonitoringHandler) GetPerformanceSummary(c *fiber.Ctx) error {
	hours := queryHours(c, 24)
	summary := h.perfService.GetPerformanceSummary(hours)
	return response.Success(c, "Performance summary retrieved", fiber.Map{
		"summary":    summary,
		"bulk_stats": h.bulkLoader.Stats(),
	})
}

// GetErrorSummary returns the rolling financial error counts
func (h *MonitoringHandler) GetErrorSummary(c *fiber.Ctx) error {
	hours := queryHours(c, 24)
	return response.Success(c, "Error summary retrieved", h.errService.GetErrorSummary(hours))
}

// XMLAnalysisRequest carries the stats of one generated payment file
type XMLAnalysisRequest struct {
	SizeBytes    int64 `json:"size_bytes"`
	ElementCount int   `json:"element_count"`
	MaxDepth     int   `json:"max_depth"`
}

// AnalyzeXML records stats reported by the payment file generator and returns
// tuning advice, including split recommendations for oversized files.
func (h *MonitoringHandler) AnalyzeXML(c *fiber.Ctx) error {
	var req XMLAnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.SizeBytes <= 0 {
		return response.BadRequest(c, "size_bytes must be positive")
	}

	stats := h.perfService.AnalyzeXMLGeneration(req.SizeBytes, req.ElementCount, req.MaxDepth)
	return response.Success(c, "Payment file analyzed", stats)
}

func queryHours(c *fiber.Ctx, def int) int {
	if q := c.Query("hours"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			return n
		}
	}
	return def
}
