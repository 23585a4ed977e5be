package session

import "github.com/voicewire/voicewire/pkg/core/types"

// Event is a consumer-facing session event. The concrete types below are
// the full set; consumers switch on them to drive their own relay.
type Event interface {
	sessionEventType() string
}

// ItemUpdatedEvent carries a fresh snapshot of an item that grew by at
// least one merged fragment.
type ItemUpdatedEvent struct {
	Item types.ConversationItem
}

func (ItemUpdatedEvent) sessionEventType() string { return "item_updated" }

// ItemCompletedEvent carries the terminal snapshot of an item.
type ItemCompletedEvent struct {
	Item types.ConversationItem
}

func (ItemCompletedEvent) sessionEventType() string { return "item_completed" }

// ToolCallObservedEvent fires when the endpoint requests a function call,
// before arguments finish streaming.
type ToolCallObservedEvent struct {
	Call types.ToolCall
}

func (ToolCallObservedEvent) sessionEventType() string { return "tool_call_observed" }

// ToolCallCompletedEvent fires once per call when its result, success or
// failure, has been sent back to the endpoint.
type ToolCallCompletedEvent struct {
	Call types.ToolCall
}

func (ToolCallCompletedEvent) sessionEventType() string { return "tool_call_completed" }

// ErrorEvent surfaces an endpoint-reported error. The session stays up.
type ErrorEvent struct {
	Code    string
	Message string
}

func (ErrorEvent) sessionEventType() string { return "error" }

// DisconnectedEvent is the last event a session emits. Err is nil for a
// consumer-initiated disconnect or a clean peer close.
type DisconnectedEvent struct {
	Err error
}

func (DisconnectedEvent) sessionEventType() string { return "disconnected" }
