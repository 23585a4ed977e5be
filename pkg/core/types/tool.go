package types

import (
	"context"
	"encoding/json"
)

// ToolCallStatus tracks a function call through its lifecycle.
type ToolCallStatus string

const (
	// ToolCallRequested: the endpoint asked for a named function.
	ToolCallRequested ToolCallStatus = "requested"
	// ToolCallDispatched: a registered handler was looked up and invoked.
	ToolCallDispatched ToolCallStatus = "dispatched"
	ToolCallCompleted  ToolCallStatus = "completed"
	ToolCallFailed     ToolCallStatus = "failed"
)

// ToolCall is one model-issued function call. It is owned by the session
// until it reaches a terminal status, after which it is folded into the
// consumer event stream and may be discarded.
type ToolCall struct {
	CallID string `json:"call_id"`
	// ItemID is the assistant item the call is attached to.
	ItemID string `json:"item_id,omitempty"`
	Name   string `json:"name"`

	// Arguments accumulate as an unparsed JSON string until dispatch.
	Arguments string `json:"arguments,omitempty"`

	Status ToolCallStatus `json:"status"`

	// Output holds the serialized handler result, or the failure payload
	// that was sent to the endpoint in its place.
	Output string `json:"output,omitempty"`

	// Error carries the failure detail for failed calls.
	Error string `json:"error,omitempty"`
}

// ToolHandler executes a tool call. It receives the parsed argument JSON
// and returns a JSON-marshalable result or an error. Handlers run off the
// session's event loop and must honor ctx cancellation.
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// ToolRegistration binds a tool name to an argument schema and a handler.
// Registering a name again replaces the earlier registration.
type ToolRegistration struct {
	Name        string
	Description string

	// Schema is the JSON Schema describing accepted arguments. It is
	// passed through verbatim to the endpoint and also used locally to
	// validate arguments before dispatch.
	Schema json.RawMessage

	Handler ToolHandler
}
