package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/luocen99/opsconsole/internal/domain"
	"github.com/luocen99/opsconsole/internal/turn"
)

// SendMessage submits one user message and blocks until the turn finishes.
// POST /v1/sessions/:session_id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	sessionID := c.Param("session_id")
	var req domain.SendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Content == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}

	ctx := c.Request().Context()

	if err := h.console.Send(ctx, sessionID, req.Content); err != nil {
		if err == turn.ErrTurnInFlight {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"turn":      h.console.Turn(ctx, sessionID),
		"error_msg": h.console.ErrMessage(ctx, sessionID),
		"notice":    h.console.Notice(ctx, sessionID),
	})
}

// CancelTurn aborts the in-flight turn, if any.
// POST /v1/sessions/:session_id/cancel
func (h *Handler) CancelTurn(c echo.Context) error {
	sessionID := c.Param("session_id")
	h.console.Cancel(c.Request().Context(), sessionID)
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// RetryTurn resends the last user message after a timeout or error.
// POST /v1/sessions/:session_id/retry
func (h *Handler) RetryTurn(c echo.Context) error {
	sessionID := c.Param("session_id")
	ctx := c.Request().Context()

	if err := h.console.Retry(ctx, sessionID); err != nil {
		if err == turn.ErrNotRetryable {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		if err == turn.ErrTurnInFlight {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"turn": h.console.Turn(ctx, sessionID),
	})
}

// GetMessages retrieves the conversation snapshot.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetMessages(c echo.Context) error {
	sessionID := c.Param("session_id")
	ctx := c.Request().Context()

	messages := h.console.Messages(ctx, sessionID)
	if messages == nil {
		messages = []domain.Message{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"turn":     h.console.Turn(ctx, sessionID),
	})
}
