// Package v1 provides the HTTP handlers for the operator console.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/luocen99/opsconsole/internal/gateway"
	"github.com/luocen99/opsconsole/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	gateway *gateway.Service
	console *service.Service
}

// NewHandler creates a new handler.
func NewHandler(gw *gateway.Service, console *service.Service) *Handler {
	return &Handler{
		gateway: gw,
		console: console,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Command gateway API
	e.POST("/v1/commands/preview", h.PreviewCommand)
	e.POST("/v1/commands/execute", h.ExecuteCommand)
	e.GET("/v1/commands/history", h.GetHistory)
	e.GET("/v1/commands/history/:command_id", h.GetHistoryDetail)

	// Approval API
	e.POST("/v1/approvals", h.CreateApproval)
	e.POST("/v1/approvals/:ticket_id/confirm", h.ConfirmApproval)

	// Conversation API
	e.POST("/v1/sessions/:session_id/messages", h.SendMessage)
	e.POST("/v1/sessions/:session_id/cancel", h.CancelTurn)
	e.POST("/v1/sessions/:session_id/retry", h.RetryTurn)
	e.GET("/v1/sessions/:session_id/messages", h.GetMessages)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
