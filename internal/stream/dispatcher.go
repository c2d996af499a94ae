package stream

import (
	"encoding/json"
	"strings"

	"github.com/luocen99/opsconsole/internal/domain"
)

// Event is one typed turn-stream event. Exactly one of the typed payload
// fields matching Type is set; Raw always carries the best-effort decoded
// payload, degraded to {"message": <raw text>} when the data is not valid
// JSON.
type Event struct {
	Type domain.StreamEventType
	Raw  map[string]any

	Meta       *domain.MetaEventData
	Delta      *domain.DeltaEventData
	ToolCall   *domain.ToolCallEventData
	ToolResult *domain.ToolResultEventData
	Approval   *domain.ApprovalRequiredEventData
	Heartbeat  *domain.HeartbeatEventData
	Done       *domain.DoneEventData
	Err        *domain.ErrorEventData
}

// Dispatch parses one raw frame into a typed event. It returns false when
// the frame carries no data or an unknown event type; malformed payloads
// degrade rather than fail.
func Dispatch(frame string) (*Event, bool) {
	eventType, data := splitFrame(frame)
	if data == "" {
		return nil, false
	}

	ev := &Event{
		Type: domain.StreamEventType(eventType),
		Raw:  decodePayload(data),
	}

	raw := []byte(data)
	switch ev.Type {
	case domain.StreamEventMeta:
		var p domain.MetaEventData
		_ = json.Unmarshal(raw, &p)
		ev.Meta = &p
	case domain.StreamEventDelta, domain.StreamEventThinkingDelta:
		var p domain.DeltaEventData
		_ = json.Unmarshal(raw, &p)
		ev.Delta = &p
	case domain.StreamEventToolCall:
		var p domain.ToolCallEventData
		_ = json.Unmarshal(raw, &p)
		ev.ToolCall = &p
	case domain.StreamEventToolResult:
		var p domain.ToolResultEventData
		_ = json.Unmarshal(raw, &p)
		ev.ToolResult = &p
	case domain.StreamEventApprovalRequired:
		var p domain.ApprovalRequiredEventData
		_ = json.Unmarshal(raw, &p)
		ev.Approval = &p
	case domain.StreamEventHeartbeat:
		var p domain.HeartbeatEventData
		_ = json.Unmarshal(raw, &p)
		ev.Heartbeat = &p
	case domain.StreamEventDone:
		var p domain.DoneEventData
		_ = json.Unmarshal(raw, &p)
		ev.Done = &p
	case domain.StreamEventError:
		var p domain.ErrorEventData
		_ = json.Unmarshal(raw, &p)
		if p.Message == "" {
			if msg, ok := ev.Raw["message"].(string); ok {
				p.Message = msg
			}
		}
		ev.Err = &p
	default:
		// Unknown event types are ignored for forward compatibility.
		return nil, false
	}

	return ev, true
}

// splitFrame scans a frame's lines for event/data fields. The last event
// line wins and defaults to "message"; data lines are joined with newlines.
func splitFrame(frame string) (eventType, data string) {
	eventType = "message"
	var dataLines []string

	for _, line := range strings.Split(frame, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// Comments (lines starting with :) and other fields are ignored.
	}

	return eventType, strings.Join(dataLines, "\n")
}

// decodePayload attempts a structured decode of the data; malformed payloads
// degrade to {"message": <raw text>} instead of aborting the stream.
func decodePayload(data string) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil || payload == nil {
		return map[string]any{"message": data}
	}
	return payload
}
