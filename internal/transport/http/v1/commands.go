package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/luocen99/opsconsole/internal/domain"
)

// PreviewCommand classifies a command and returns its redeemable plan.
// POST /v1/commands/preview
func (h *Handler) PreviewCommand(c echo.Context) error {
	var req domain.PreviewRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Command) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "command is required"})
	}

	ctx := c.Request().Context()

	result, err := h.gateway.Preview(ctx, &req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, result)
}

// ExecuteCommand redeems a previewed command_id. Gateway rejections come
// back inline as a blocked result with HTTP 200; non-200 is reserved for
// malformed requests and infrastructure faults.
// POST /v1/commands/execute
func (h *Handler) ExecuteCommand(c echo.Context) error {
	var req domain.ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.CommandID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "command_id is required"})
	}

	ctx := c.Request().Context()

	result, err := h.gateway.Execute(ctx, &req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, result)
}

// GetHistory retrieves the most recent audit records.
// GET /v1/commands/history
func (h *Handler) GetHistory(c echo.Context) error {
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	ctx := c.Request().Context()

	items, err := h.gateway.History(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if items == nil {
		items = []domain.CommandHistoryItem{}
	}

	return c.JSON(http.StatusOK, items)
}

// GetHistoryDetail retrieves one audit record with its event trace.
// GET /v1/commands/history/:command_id
func (h *Handler) GetHistoryDetail(c echo.Context) error {
	commandID := c.Param("command_id")
	ctx := c.Request().Context()

	detail, err := h.gateway.HistoryDetail(ctx, commandID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if detail == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "history record not found"})
	}

	return c.JSON(http.StatusOK, detail)
}
