// Package domain defines the core domain models for the operator console.
package domain

// TurnState represents the lifecycle state of a conversational turn.
type TurnState string

const (
	TurnStateIdle    TurnState = "idle"
	TurnStateRunning TurnState = "running"
	TurnStateTimeout TurnState = "timeout"
	TurnStateDone    TurnState = "done"
	TurnStateError   TurnState = "error"
)

// IsTerminal reports whether the state closes the turn.
func (s TurnState) IsTerminal() bool {
	switch s {
	case TurnStateTimeout, TurnStateDone, TurnStateError:
		return true
	}
	return false
}

// Retryable reports whether a new turn may be started from this terminal state
// by resending the last user message.
func (s TurnState) Retryable() bool {
	return s == TurnStateTimeout || s == TurnStateError
}

// StreamState is the embedded state of a done event.
type StreamState string

const (
	StreamStateOK      StreamState = "ok"
	StreamStatePartial StreamState = "partial"
	StreamStateFailed  StreamState = "failed"
)

// StreamEventType represents the type of a turn-stream event.
type StreamEventType string

const (
	StreamEventMeta             StreamEventType = "meta"
	StreamEventDelta            StreamEventType = "delta"
	StreamEventThinkingDelta    StreamEventType = "thinking_delta"
	StreamEventToolCall         StreamEventType = "tool_call"
	StreamEventToolResult       StreamEventType = "tool_result"
	StreamEventApprovalRequired StreamEventType = "approval_required"
	StreamEventHeartbeat        StreamEventType = "heartbeat"
	StreamEventDone             StreamEventType = "done"
	StreamEventError            StreamEventType = "error"
)

// Error codes carried by error stream events. Soft codes keep the turn
// running; everything else is terminal.
const (
	ErrCodeToolTimeoutSoft   = "tool_timeout_soft"
	ErrCodeToolTimeoutHard   = "tool_timeout_hard"
	ErrCodeToolResultMissing = "tool_result_missing"
)

// TraceType represents the type of a tool trace attached to a message.
type TraceType string

const (
	TraceToolCall         TraceType = "tool_call"
	TraceToolResult       TraceType = "tool_result"
	TraceApprovalRequired TraceType = "approval_required"
	TraceToolMissing      TraceType = "tool_missing"
)

// Risk is the tier controlling how much confirmation a command requires.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// TicketMode distinguishes readonly from mutating actions.
type TicketMode string

const (
	TicketModeReadonly TicketMode = "readonly"
	TicketModeMutating TicketMode = "mutating"
)

// TicketStatus represents the status of an approval ticket.
type TicketStatus string

const (
	TicketStatusPending  TicketStatus = "pending"
	TicketStatusApproved TicketStatus = "approved"
	TicketStatusRejected TicketStatus = "rejected"
	TicketStatusExpired  TicketStatus = "expired"
)

// CommandStatus represents the outcome of a preview or execute call.
type CommandStatus string

const (
	CommandStatusPreviewed CommandStatus = "previewed"
	CommandStatusBlocked   CommandStatus = "blocked"
	CommandStatusSucceeded CommandStatus = "succeeded"
	CommandStatusFailed    CommandStatus = "failed"
)

// AuditEventType represents the type of a command audit event.
type AuditEventType string

const (
	AuditPreviewed        AuditEventType = "previewed"
	AuditBlocked          AuditEventType = "blocked"
	AuditApprovalRequired AuditEventType = "approval_required"
	AuditApprovalDecision AuditEventType = "approval_decision"
	AuditApprovalExpired  AuditEventType = "approval_expired"
	AuditExecuted         AuditEventType = "executed"
	AuditExecuteFailed    AuditEventType = "execute_failed"
	AuditReplayed         AuditEventType = "replayed"
)
