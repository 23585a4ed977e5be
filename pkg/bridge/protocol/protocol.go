// Package protocol defines the JSON wire schema spoken with the realtime
// model endpoint. Outbound frames are typed client events; inbound frames
// are decoded through DecodeServerEvent using the envelope type
// discriminator. The schema follows the realtime conversation protocol:
// conversation items, buffered input audio, and function calling.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// Client (bridge -> endpoint) event types.
const (
	TypeSessionUpdate  = "session.update"
	TypeItemCreate     = "conversation.item.create"
	TypeAudioAppend    = "input_audio_buffer.append"
	TypeAudioCommit    = "input_audio_buffer.commit"
	TypeResponseCreate = "response.create"
)

// Server (endpoint -> bridge) event types.
const (
	TypeSessionCreated    = "session.created"
	TypeItemCreated       = "conversation.item.created"
	TypeTextDelta         = "response.text.delta"
	TypeAudioDelta        = "response.audio.delta"
	TypeTranscriptDelta   = "response.audio_transcript.delta"
	TypeFunctionArgsDelta = "response.function_call_arguments.delta"
	TypeOutputItemDone    = "response.output_item.done"
	TypeResponseDone      = "response.done"
	TypeServerError       = "error"
)

// Wire item types.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
)

// ToolDefinition is a function tool advertised to the endpoint through
// session.update. Parameters are passed through verbatim.
type ToolDefinition struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// SessionConfig is the negotiated session shape sent on session.update.
type SessionConfig struct {
	Modalities        []string         `json:"modalities,omitempty"`
	Instructions      string           `json:"instructions,omitempty"`
	Voice             string           `json:"voice,omitempty"`
	InputAudioFormat  string           `json:"input_audio_format,omitempty"`
	OutputAudioFormat string           `json:"output_audio_format,omitempty"`
	Tools             []ToolDefinition `json:"tools,omitempty"`
	ToolChoice        string           `json:"tool_choice,omitempty"`
	Temperature       float64          `json:"temperature,omitempty"`
	MaxOutputTokens   int              `json:"max_response_output_tokens,omitempty"`
}

// WireContent is one content entry of a wire item.
type WireContent struct {
	Type       string `json:"type"` // "input_text", "input_audio", "text", "audio"
	Text       string `json:"text,omitempty"`
	AudioB64   string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// WireItem is the endpoint's conversation item shape, shared by item
// creation in both directions.
type WireItem struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Status  string        `json:"status,omitempty"`
	Content []WireContent `json:"content,omitempty"`

	// Function-call fields.
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

type ClientSessionUpdate struct {
	EventID string        `json:"event_id,omitempty"`
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type ClientItemCreate struct {
	EventID string   `json:"event_id,omitempty"`
	Type    string   `json:"type"`
	Item    WireItem `json:"item"`
}

type ClientAudioAppend struct {
	EventID  string `json:"event_id,omitempty"`
	Type     string `json:"type"`
	AudioB64 string `json:"audio"`
}

type ClientAudioCommit struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

type ClientResponseCreate struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

type ServerSessionCreated struct {
	Type    string `json:"type"`
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

type ServerItemCreated struct {
	Type           string   `json:"type"`
	PreviousItemID string   `json:"previous_item_id,omitempty"`
	Item           WireItem `json:"item"`
}

// ServerContentDelta is the shared shape of text, audio, and transcript
// delta frames. Delta carries text for text/transcript frames and base64
// audio for audio frames.
type ServerContentDelta struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index,omitempty"`
	Delta        string `json:"delta"`
}

type ServerFunctionArgsDelta struct {
	Type   string `json:"type"`
	ItemID string `json:"item_id"`
	CallID string `json:"call_id,omitempty"`
	Delta  string `json:"delta"`
}

type ServerOutputItemDone struct {
	Type string   `json:"type"`
	Item WireItem `json:"item"`
}

type ServerResponseDone struct {
	Type string `json:"type"`
}

type ServerErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type ServerError struct {
	Type  string            `json:"type"`
	Error ServerErrorDetail `json:"error"`
}

// UnknownEvent preserves frames the bridge does not classify. They are
// logged and skipped; the session continues.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

// DecodeServerEvent parses one inbound endpoint frame into its typed
// event. Frames with an unrecognized type decode to UnknownEvent; frames
// without a type, or with a malformed body, fail with a DecodeError.
func DecodeServerEvent(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("missing type", "type")
	}

	switch typ {
	case TypeSessionCreated:
		var msg ServerSessionCreated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid session.created", "")
		}
		return msg, nil
	case TypeItemCreated:
		var msg ServerItemCreated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid conversation.item.created", "")
		}
		if strings.TrimSpace(msg.Item.ID) == "" {
			return nil, badFrame("item.id is required", "item.id")
		}
		return msg, nil
	case TypeTextDelta, TypeAudioDelta, TypeTranscriptDelta:
		var msg ServerContentDelta
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid content delta", "")
		}
		if strings.TrimSpace(msg.ItemID) == "" {
			return nil, badFrame("item_id is required", "item_id")
		}
		return msg, nil
	case TypeFunctionArgsDelta:
		var msg ServerFunctionArgsDelta
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid function_call_arguments.delta", "")
		}
		if strings.TrimSpace(msg.ItemID) == "" {
			return nil, badFrame("item_id is required", "item_id")
		}
		return msg, nil
	case TypeOutputItemDone:
		var msg ServerOutputItemDone
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid response.output_item.done", "")
		}
		if strings.TrimSpace(msg.Item.ID) == "" {
			return nil, badFrame("item.id is required", "item.id")
		}
		return msg, nil
	case TypeResponseDone:
		var msg ServerResponseDone
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid response.done", "")
		}
		return msg, nil
	case TypeServerError:
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid error frame", "")
		}
		return msg, nil
	default:
		return UnknownEvent{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
