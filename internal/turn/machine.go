// Package turn owns the lifecycle of one streamed conversational turn: the
// state machine fed by dispatched stream events, the tool-call watchdog and
// the session manager that ties them to a transport.
package turn

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luocen99/opsconsole/internal/domain"
	"github.com/luocen99/opsconsole/internal/stream"
)

// WatchdogSignal tells the stream loop what to do with the watchdog after an
// event was applied.
type WatchdogSignal int

const (
	WatchdogNone WatchdogSignal = iota
	WatchdogArm
	WatchdogTouch
	WatchdogDisarm
)

// Machine reduces stream events into one turn's state. Events are applied
// from the single stream-consuming goroutine; the mutex exists because the
// watchdog expiry fires from a timer goroutine and readers take snapshots.
type Machine struct {
	mu sync.Mutex

	turn        domain.Turn
	sessionID   string
	assistant   domain.Message
	toolPending bool
	notice      string
	errMessage  string
	snapshot    *domain.Conversation
}

// NewMachine creates a machine owning the given assistant placeholder.
func NewMachine(assistant domain.Message) *Machine {
	return &Machine{
		turn:      domain.Turn{State: domain.TurnStateIdle},
		assistant: assistant,
	}
}

// Start transitions idle to running.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.turn.State == domain.TurnStateIdle {
		m.turn.State = domain.TurnStateRunning
		m.turn.StartedAt = time.Now()
	}
}

// Apply folds one event into the turn. Events arriving after a terminal
// transition are ignored; nothing mutates a frozen message.
func (m *Machine) Apply(ev *stream.Event) WatchdogSignal {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.turn.State != domain.TurnStateRunning {
		return WatchdogNone
	}

	switch ev.Type {
	case domain.StreamEventMeta:
		if ev.Meta.TurnID != "" {
			m.turn.ID = ev.Meta.TurnID
		}
		if ev.Meta.SessionID != "" {
			m.sessionID = ev.Meta.SessionID
		}
		return WatchdogTouch

	case domain.StreamEventDelta:
		m.assistant.Content += ev.Delta.ContentChunk
		return WatchdogTouch

	case domain.StreamEventThinkingDelta:
		m.assistant.Thinking += ev.Delta.ContentChunk
		return WatchdogTouch

	case domain.StreamEventToolCall:
		m.appendTrace(domain.TraceToolCall, ev.Raw)
		m.toolPending = true
		return WatchdogArm

	case domain.StreamEventToolResult:
		m.appendTrace(domain.TraceToolResult, ev.Raw)
		m.toolPending = false
		return WatchdogDisarm

	case domain.StreamEventApprovalRequired:
		m.appendTrace(domain.TraceApprovalRequired, ev.Raw)
		m.toolPending = false
		return WatchdogDisarm

	case domain.StreamEventHeartbeat:
		return WatchdogTouch

	case domain.StreamEventDone:
		m.applyDone(ev.Done)
		return WatchdogDisarm

	case domain.StreamEventError:
		return m.applyError(ev.Err)
	}

	return WatchdogNone
}

func (m *Machine) applyDone(done *domain.DoneEventData) {
	switch done.StreamState {
	case domain.StreamStateOK:
		m.turn.State = domain.TurnStateDone
		m.snapshot = done.Session
	case domain.StreamStatePartial:
		m.turn.State = domain.TurnStateTimeout
		if done.ToolSummary != nil {
			for i, tool := range done.ToolSummary.Missing {
				payload := map[string]any{"tool": tool}
				if i < len(done.ToolSummary.MissingCallIDs) {
					payload["call_id"] = done.ToolSummary.MissingCallIDs[i]
				}
				m.appendTrace(domain.TraceToolMissing, payload)
			}
		}
	case domain.StreamStateFailed:
		m.turn.State = domain.TurnStateError
		m.errMessage = "upstream stream failed"
	default:
		m.turn.State = domain.TurnStateError
		m.errMessage = "done event with unknown stream_state"
	}
}

func (m *Machine) applyError(errEvt *domain.ErrorEventData) WatchdogSignal {
	if errEvt.Soft() {
		// Transient notice; the turn keeps running. A slow tool counts as
		// tool-pending, so the watchdog is (re)armed even when no tool_call
		// preceded the notice.
		m.notice = errEvt.Message
		m.toolPending = true
		return WatchdogArm
	}
	if errEvt.Timeout() {
		m.turn.State = domain.TurnStateTimeout
	} else {
		m.turn.State = domain.TurnStateError
	}
	m.errMessage = errEvt.Message
	return WatchdogDisarm
}

// ExpireWatchdog records a watchdog-initiated timeout transition.
func (m *Machine) ExpireWatchdog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.turn.State == domain.TurnStateRunning {
		m.turn.State = domain.TurnStateTimeout
		m.errMessage = "tool call timed out"
	}
}

// FinishStream folds the end of the transport read into a terminal state.
// An already-terminal turn is preserved: a read error caused by the
// watchdog's own cancellation is expected, not a fresh failure.
func (m *Machine) FinishStream(err error, cancelled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.turn.State != domain.TurnStateRunning {
		return
	}
	if cancelled {
		// Caller-initiated abort: forced timeout while a tool call is in
		// flight, a plain error otherwise.
		if m.toolPending {
			m.turn.State = domain.TurnStateTimeout
			m.errMessage = "cancelled while waiting for tool result"
		} else {
			m.turn.State = domain.TurnStateError
			m.errMessage = "cancelled"
		}
		return
	}
	m.turn.State = domain.TurnStateError
	if err != nil {
		m.errMessage = err.Error()
	} else {
		m.errMessage = "stream ended before done event"
	}
}

func (m *Machine) appendTrace(tt domain.TraceType, payload map[string]any) {
	m.assistant.Traces = append(m.assistant.Traces, domain.ToolTrace{
		TraceID:   "tr_" + uuid.New().String()[:8],
		Type:      tt,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// Turn returns the current turn value.
func (m *Machine) Turn() domain.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turn
}

// Assistant returns a snapshot of the accumulating assistant message.
func (m *Machine) Assistant() domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assistant.Clone()
}

// SessionID returns the server-bound session id, if a meta event arrived.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Notice returns the latest transient soft-error notice.
func (m *Machine) Notice() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notice
}

// ErrMessage returns the upstream message for timeout/error turns.
func (m *Machine) ErrMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMessage
}

// Snapshot returns the conversation snapshot from a done(ok) event, if any.
func (m *Machine) Snapshot() *domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// ToolPending reports whether a tool call is awaiting its result.
func (m *Machine) ToolPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toolPending
}
