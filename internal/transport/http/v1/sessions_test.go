package v1

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luocen99/opsconsole/internal/domain"
)

func sendMessage(t *testing.T, handler *Handler, e *echo.Echo, sessionID, content string) *httptest.ResponseRecorder {
	t.Helper()

	body, _ := json.Marshal(domain.SendRequest{Content: content})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sessionID+"/messages", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/sessions/:session_id/messages")
	c.SetParamNames("session_id")
	c.SetParamValues(sessionID)

	require.NoError(t, handler.SendMessage(c))
	return rec
}

func TestSendMessageCompletesTurn(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(t)

	rec := sendMessage(t, handler, e, "s1", "say hello")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Turn domain.Turn `json:"turn"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.TurnStateDone, resp.Turn.State)
	assert.Equal(t, "t1", resp.Turn.ID)
}

func TestSendMessageRequiresContent(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(t)

	rec := sendMessage(t, handler, e, "s1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMessagesSnapshot(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(t)

	sendMessage(t, handler, e, "s1", "say hello")

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/messages", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/sessions/:session_id/messages")
	c.SetParamNames("session_id")
	c.SetParamValues("s1")

	require.NoError(t, handler.GetMessages(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []domain.Message `json:"messages"`
		Turn     domain.Turn      `json:"turn"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "assistant", resp.Messages[1].Role)
	assert.Equal(t, "Hello", resp.Messages[1].Content)
}

func TestRetryWithoutFailure(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(t)

	sendMessage(t, handler, e, "s1", "say hello")

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/retry", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/sessions/:session_id/retry")
	c.SetParamNames("session_id")
	c.SetParamValues("s1")

	// A done turn is not retryable.
	assert.NoError(t, handler.RetryTurn(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelIsIdempotent(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/cancel", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/sessions/:session_id/cancel")
	c.SetParamNames("session_id")
	c.SetParamValues("s1")

	assert.NoError(t, handler.CancelTurn(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}
