package handlers

import (
	"context"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/lily/pkg/audit"
	"github.com/Ramsey-B/lily/pkg/models"
)

const defaultDeadLetterLimit = 100

type DeadLetterService interface {
	List(ctx context.Context, count int64) ([]models.AuditDeadLetter, int64, error)
	Redeliver(ctx context.Context, count int64) (*audit.RedeliveryReport, error)
}

type deadLetterList struct {
	Total int64                    `json:"total"`
	Items []models.AuditDeadLetter `json:"items"`
}

// AuditHandler exposes parked audit deliveries
type AuditHandler struct {
	service DeadLetterService
}

func NewAuditHandler(service DeadLetterService) *AuditHandler {
	return &AuditHandler{service: service}
}

func (h *AuditHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/audit/dead-letters", h.List)
	g.POST("/audit/dead-letters/redeliver", h.Redeliver)
}

// List handles GET /audit/dead-letters?limit=N
func (h *AuditHandler) List(c echo.Context) error {
	limit, err := limitParam(c)
	if err != nil {
		return err
	}
	items, total, err := h.service.List(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return SuccessResponse(c, deadLetterList{Total: total, Items: items})
}

// Redeliver handles POST /audit/dead-letters/redeliver?limit=N
func (h *AuditHandler) Redeliver(c echo.Context) error {
	limit, err := limitParam(c)
	if err != nil {
		return err
	}
	report, err := h.service.Redeliver(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return SuccessResponse(c, report)
}

func limitParam(c echo.Context) (int64, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultDeadLetterLimit, nil
	}
	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || limit < 1 || limit > 1000 {
		return 0, BadRequest("limit must be between 1 and 1000")
	}
	return limit, nil
}
