package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/lily/pkg/models"
)

type SyncService interface {
	SyncPage(ctx context.Context, req models.SyncPageRequest) (*models.SyncPageResponse, error)
	ReleaseSession(ctx context.Context, sessionID string) error
}

// SyncHandler serves the world church sync endpoints
type SyncHandler struct {
	service SyncService
}

func NewSyncHandler(service SyncService) *SyncHandler {
	return &SyncHandler{service: service}
}

func (h *SyncHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/sync-world-churches", h.SyncPage)
	g.DELETE("/sync-world-churches/sessions/:id", h.ReleaseSession)
}

// SyncPage handles POST /sync-world-churches
func (h *SyncHandler) SyncPage(c echo.Context) error {
	var req models.SyncPageRequest
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	resp, err := h.service.SyncPage(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return SuccessResponse(c, resp)
}

// ReleaseSession handles DELETE /sync-world-churches/sessions/:id
func (h *SyncHandler) ReleaseSession(c echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return BadRequest("missing session id")
	}
	if err := h.service.ReleaseSession(c.Request().Context(), sessionID); err != nil {
		return err
	}
	return NoContentResponse(c)
}
