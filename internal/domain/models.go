package domain

import (
	"encoding/json"
	"time"
)

// Turn represents one request/response cycle of the streamed conversation.
// The id is server-assigned and may be empty until the first meta event.
type Turn struct {
	ID        string    `json:"id,omitempty"`
	State     TurnState `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// Message represents one conversational utterance. An assistant message is
// mutable only while its owning turn is running, then frozen.
type Message struct {
	MessageID string      `json:"message_id"`
	Role      string      `json:"role"` // user, assistant, system
	Content   string      `json:"content"`
	Thinking  string      `json:"thinking,omitempty"`
	Traces    []ToolTrace `json:"traces,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Clone returns a snapshot copy with its own trace slice, for cross-context
// reads while the owning turn is still appending.
func (m *Message) Clone() Message {
	out := *m
	out.Traces = make([]ToolTrace, len(m.Traces))
	copy(out.Traces, m.Traces)
	return out
}

// ToolTrace is one observed tool event inside a turn, append-only.
type ToolTrace struct {
	TraceID   string         `json:"trace_id"`
	Type      TraceType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Conversation is the persisted snapshot of one session's dialogue.
type Conversation struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApprovalTicket is a single-use authorization gating a risk-classified
// action. Status transitions at most once away from pending; expiry is
// enforced by ExpiresAt regardless of status.
type ApprovalTicket struct {
	TicketID  string          `json:"id"`
	Tool      string          `json:"tool"`
	Params    json.RawMessage `json:"params,omitempty"`
	Risk      Risk            `json:"risk"`
	Mode      TicketMode      `json:"mode"`
	Status    TicketStatus    `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	DecidedAt *time.Time      `json:"decided_at,omitempty"`
	DecidedBy string          `json:"decided_by,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// Expired reports whether the ticket is past its deadline at t.
func (a *ApprovalTicket) Expired(t time.Time) bool {
	return t.After(a.ExpiresAt)
}

// CommandPlan is the persisted result of one preview: the plan itself, the
// idempotency key and, for approval-gated commands, the single-use token.
type CommandPlan struct {
	CommandID     string          `json:"command_id"`
	Command       string          `json:"command"`
	Intent        string          `json:"intent,omitempty"`
	Action        string          `json:"action"`
	Params        json.RawMessage `json:"params,omitempty"`
	Risk          Risk            `json:"risk"`
	Mode          TicketMode      `json:"mode"`
	Status        CommandStatus   `json:"status"`
	Missing       []string        `json:"missing,omitempty"`
	ApprovalToken string          `json:"approval_token,omitempty"`
	TicketID      string          `json:"ticket_id,omitempty"`
	TraceID       string          `json:"trace_id"`
	CreatedAt     time.Time       `json:"created_at"`
	ExecutedAt    *time.Time      `json:"executed_at,omitempty"`
}

// CommandHistoryItem is the immutable audit record of one executed command.
type CommandHistoryItem struct {
	CommandID string        `json:"id"`
	Command   string        `json:"command"`
	Intent    string        `json:"intent,omitempty"`
	Risk      Risk          `json:"risk"`
	Status    CommandStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// AuditEvent is one low-level lifecycle event keyed by command id, used for
// history replay.
type AuditEvent struct {
	EventID   string          `json:"event_id"`
	CommandID string          `json:"command_id"`
	Ts        int64           `json:"ts"` // Unix milliseconds
	Type      AuditEventType  `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
