package domain

import "encoding/json"

// MetaEventData is the data for a meta stream event. It binds the turn's
// server-assigned id.
type MetaEventData struct {
	SessionID string `json:"sessionId"`
	CreatedAt string `json:"createdAt,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
}

// DeltaEventData is the data for delta and thinking_delta stream events.
type DeltaEventData struct {
	ContentChunk string `json:"contentChunk"`
	TurnID       string `json:"turn_id,omitempty"`
}

// ToolCallEventData is the data for a tool_call stream event.
type ToolCallEventData struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params,omitempty"`
	TurnID string          `json:"turn_id,omitempty"`
}

// ToolResultBody is the result envelope inside a tool_result event.
type ToolResultBody struct {
	OK        bool            `json:"ok"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Source    string          `json:"source,omitempty"`
	LatencyMs int             `json:"latency_ms,omitempty"`
}

// ToolResultEventData is the data for a tool_result stream event.
type ToolResultEventData struct {
	Tool   string          `json:"tool,omitempty"`
	Result *ToolResultBody `json:"result,omitempty"`
	TurnID string          `json:"turn_id,omitempty"`
}

// ApprovalRequiredEventData is the data for an approval_required stream
// event: the ticket plus an optional human-reviewable diff.
type ApprovalRequiredEventData struct {
	ApprovalTicket
	PreviewDiff string `json:"previewDiff,omitempty"`
	TurnID      string `json:"turn_id,omitempty"`
}

// HeartbeatEventData is the data for a heartbeat stream event.
type HeartbeatEventData struct {
	Status string `json:"status,omitempty"`
	TurnID string `json:"turn_id,omitempty"`
}

// ToolSummary reports tool calls that never produced a result.
type ToolSummary struct {
	Missing        []string `json:"missing,omitempty"`
	MissingCallIDs []string `json:"missing_call_ids,omitempty"`
}

// DoneEventData is the data for a done stream event.
type DoneEventData struct {
	Session     *Conversation `json:"session,omitempty"`
	StreamState StreamState   `json:"stream_state"`
	ToolSummary *ToolSummary  `json:"tool_summary,omitempty"`
}

// ErrorEventData is the data for an error stream event.
type ErrorEventData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Soft reports whether the error keeps the turn running.
func (e *ErrorEventData) Soft() bool {
	return e.Code == ErrCodeToolTimeoutSoft
}

// Timeout reports whether the error classifies as a hard timeout rather than
// a generic failure.
func (e *ErrorEventData) Timeout() bool {
	return e.Code == ErrCodeToolTimeoutHard || e.Code == ErrCodeToolResultMissing
}
