package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/luocen99/opsconsole/internal/domain"
)

// CreateApproval mints a pending approval ticket.
// POST /v1/approvals
func (h *Handler) CreateApproval(c echo.Context) error {
	var req domain.ApprovalCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Tool == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "tool is required"})
	}

	ctx := c.Request().Context()

	ticket, err := h.gateway.CreateApproval(ctx, &req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, ticket)
}

// ConfirmApproval decides a pending ticket.
// POST /v1/approvals/:ticket_id/confirm
func (h *Handler) ConfirmApproval(c echo.Context) error {
	ticketID := c.Param("ticket_id")
	var req domain.ApprovalConfirmRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()

	ticket, err := h.gateway.ConfirmApproval(ctx, ticketID, &req)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, ticket)
}
