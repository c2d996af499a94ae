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

func previewCommand(t *testing.T, handler *Handler, e *echo.Echo, command string) *domain.CommandResult {
	t.Helper()

	body, _ := json.Marshal(domain.PreviewRequest{Command: command})
	req := httptest.NewRequest(http.MethodPost, "/v1/commands/preview", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, handler.PreviewCommand(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.CommandResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return &result
}

func TestPreviewCommandOK(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(t)

	result := previewCommand(t, handler, e, "svc.restart service=payments env=staging")
	assert.Equal(t, domain.CommandStatusPreviewed, result.Status)
	assert.Equal(t, domain.RiskMedium, result.Risk)
	assert.NotEmpty(t, result.CommandID())
	assert.Empty(t, result.Missing)
}

func TestPreviewCommandEmptyBody(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/commands/preview", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	assert.NoError(t, handler.PreviewCommand(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteCommandFlow(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(t)

	prev := previewCommand(t, handler, e, "svc.restart service=payments env=staging")

	body, _ := json.Marshal(domain.ExecuteRequest{CommandID: prev.CommandID(), Confirm: true})
	req := httptest.NewRequest(http.MethodPost, "/v1/commands/execute", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, handler.ExecuteCommand(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.CommandResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, domain.CommandStatusSucceeded, result.Status)
}

func TestExecuteCommandWithoutConfirm(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(t)

	prev := previewCommand(t, handler, e, "svc.restart service=payments env=staging")

	body, _ := json.Marshal(domain.ExecuteRequest{CommandID: prev.CommandID()})
	req := httptest.NewRequest(http.MethodPost, "/v1/commands/execute", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, handler.ExecuteCommand(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.CommandResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, domain.CommandStatusBlocked, result.Status)
	assert.Contains(t, result.Summary, "confirmation")
	assert.Equal(t, prev.CommandID(), result.CommandID())
}

func TestExecuteCommandUnknownID(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(t)

	body, _ := json.Marshal(domain.ExecuteRequest{CommandID: "cmd_nope", Confirm: true})
	req := httptest.NewRequest(http.MethodPost, "/v1/commands/execute", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, handler.ExecuteCommand(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.CommandResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, domain.CommandStatusBlocked, result.Status)
	assert.Contains(t, result.Summary, "unknown command_id")
	assert.Equal(t, "cmd_nope", result.CommandID())
}

func TestHistoryEndpoints(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(t)

	prev := previewCommand(t, handler, e, "svc.restart service=payments env=staging")

	body, _ := json.Marshal(domain.ExecuteRequest{CommandID: prev.CommandID(), Confirm: true})
	req := httptest.NewRequest(http.MethodPost, "/v1/commands/execute", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, handler.ExecuteCommand(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	// List
	req = httptest.NewRequest(http.MethodGet, "/v1/commands/history?limit=10", nil)
	rec = httptest.NewRecorder()
	require.NoError(t, handler.GetHistory(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	var items []domain.CommandHistoryItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, prev.CommandID(), items[0].CommandID)

	// Detail
	req = httptest.NewRequest(http.MethodGet, "/v1/commands/history/"+prev.CommandID(), nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/commands/history/:command_id")
	c.SetParamNames("command_id")
	c.SetParamValues(prev.CommandID())

	require.NoError(t, handler.GetHistoryDetail(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var detail domain.HistoryDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, prev.CommandID(), detail.Record.CommandID)
	assert.NotEmpty(t, detail.AuditEvents)
}

func TestHistoryDetailNotFound(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/commands/history/cmd_nope", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/commands/history/:command_id")
	c.SetParamNames("command_id")
	c.SetParamValues("cmd_nope")

	assert.NoError(t, handler.GetHistoryDetail(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
