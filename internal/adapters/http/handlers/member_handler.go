package handlers

import (
	"time"

	"vereniging-incasso/internal/core/services"
	"vereniging-incasso/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// MemberHandler handles member financial history endpoints
type MemberHandler struct {
	historyService *services.HistoryService
}

// NewMemberHandler creates a new member handler
func NewMemberHandler(historyService *services.HistoryService) *MemberHandler {
	return &MemberHandler{historyService: historyService}
}

// RefreshHistoriesRequest names the members to rebuild histories for
type RefreshHistoriesRequest struct {
	MemberIDs    []uint `json:"member_ids"`
	ModifiedUnix int64  `json:"modified_unix"`
}

// RefreshHistories rebuilds financial histories for a set of members.
// modified_unix lets callers reuse cached results for unchanged members;
// when omitted, the current time forces a rebuild.
func (h *MemberHandler) RefreshHistories(c *fiber.Ctx) error {
	var req RefreshHistoriesRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if len(req.MemberIDs) == 0 {
		return response.BadRequest(c, "member_ids must not be empty")
	}
	if req.ModifiedUnix == 0 {
		req.ModifiedUnix = time.Now().Unix()
	}

	histories, err := h.historyService.RefreshHistories(c.Context(), req.MemberIDs, req.ModifiedUnix)
	if err != nil {
		return response.InternalServerError(c, "Failed to refresh member histories")
	}
	return response.Success(c, "Member histories refreshed", histories)
}
