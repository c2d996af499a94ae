package domain

import "encoding/json"

// PreviewRequest represents the request to preview a command.
type PreviewRequest struct {
	Command string            `json:"command"`
	Context map[string]string `json:"context,omitempty"`
}

// ExecuteRequest represents the request to execute a previewed command.
type ExecuteRequest struct {
	CommandID     string `json:"command_id"`
	Confirm       bool   `json:"confirm"`
	ApprovalToken string `json:"approval_token,omitempty"`
}

// PlanView is the structured, human-diffable plan inside a CommandResult.
type PlanView struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// CommandResult represents the outcome of a preview or execute call.
// Artifacts carries command_id and, once approval is required, approval_token.
type CommandResult struct {
	Status    CommandStatus  `json:"status"`
	Summary   string         `json:"summary,omitempty"`
	Artifacts map[string]any `json:"artifacts,omitempty"`
	Risk      Risk           `json:"risk,omitempty"`
	Plan      *PlanView      `json:"plan,omitempty"`
	Missing   []string       `json:"missing,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// CommandID returns the idempotency key carried in the artifacts, if any.
func (r *CommandResult) CommandID() string {
	if r.Artifacts == nil {
		return ""
	}
	id, _ := r.Artifacts["command_id"].(string)
	return id
}

// ApprovalToken returns the single-use token carried in the artifacts, if any.
func (r *CommandResult) ApprovalToken() string {
	if r.Artifacts == nil {
		return ""
	}
	tok, _ := r.Artifacts["approval_token"].(string)
	return tok
}

// HistoryDetail is the response for one audit record with its replayable
// low-level event trace.
type HistoryDetail struct {
	Record      CommandHistoryItem `json:"record"`
	AuditEvents []AuditEvent       `json:"audit_events"`
}

// ApprovalCreateRequest represents a request to mint an approval ticket.
type ApprovalCreateRequest struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ApprovalConfirmRequest represents a decision on a pending ticket.
type ApprovalConfirmRequest struct {
	Approve   bool   `json:"approve"`
	DecidedBy string `json:"decided_by,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// SendRequest represents a user message submitted to a conversation.
type SendRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}
