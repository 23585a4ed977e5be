package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeServerEvent_ContentDeltas(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{TypeTextDelta, TypeAudioDelta, TypeTranscriptDelta} {
		raw := []byte(`{"type":"` + typ + `","item_id":"item_1","content_index":0,"delta":"abc"}`)
		ev, err := DecodeServerEvent(raw)
		if err != nil {
			t.Fatalf("%s: decode: %v", typ, err)
		}
		delta, ok := ev.(ServerContentDelta)
		if !ok {
			t.Fatalf("%s: event type %T", typ, ev)
		}
		if delta.ItemID != "item_1" || delta.Delta != "abc" {
			t.Fatalf("%s: delta=%+v", typ, delta)
		}
	}
}

func TestDecodeServerEvent_FunctionArgsDelta(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"response.function_call_arguments.delta","item_id":"item_9","call_id":"call_1","delta":"{\"cust"}`)
	ev, err := DecodeServerEvent(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	delta, ok := ev.(ServerFunctionArgsDelta)
	if !ok {
		t.Fatalf("event type %T", ev)
	}
	if delta.CallID != "call_1" || delta.Delta != `{"cust` {
		t.Fatalf("delta=%+v", delta)
	}
}

func TestDecodeServerEvent_OutputItemDone(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"type": "response.output_item.done",
		"item": {
			"id": "item_9",
			"type": "function_call",
			"name": "get_customer_orders",
			"call_id": "call_1",
			"arguments": "{\"customer_id\":\"c1\"}"
		}
	}`)
	ev, err := DecodeServerEvent(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	done, ok := ev.(ServerOutputItemDone)
	if !ok {
		t.Fatalf("event type %T", ev)
	}
	if done.Item.Type != ItemTypeFunctionCall {
		t.Fatalf("item.type=%q", done.Item.Type)
	}
	if done.Item.Name != "get_customer_orders" || done.Item.CallID != "call_1" {
		t.Fatalf("item=%+v", done.Item)
	}
}

func TestDecodeServerEvent_Error(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"error","error":{"code":"rate_limited","message":"slow down"}}`)
	ev, err := DecodeServerEvent(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	se, ok := ev.(ServerError)
	if !ok {
		t.Fatalf("event type %T", ev)
	}
	if se.Error.Code != "rate_limited" || se.Error.Message != "slow down" {
		t.Fatalf("error=%+v", se.Error)
	}
}

func TestDecodeServerEvent_Unknown(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"rate_limits.updated","rate_limits":[]}`)
	ev, err := DecodeServerEvent(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	unk, ok := ev.(UnknownEvent)
	if !ok {
		t.Fatalf("event type %T", ev)
	}
	if unk.Type != "rate_limits.updated" {
		t.Fatalf("type=%q", unk.Type)
	}
	if string(unk.Raw) != string(raw) {
		t.Fatalf("raw not preserved")
	}
}

func TestDecodeServerEvent_Malformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"missing type", `{"item_id":"item_1"}`},
		{"delta without item id", `{"type":"response.text.delta","delta":"x"}`},
		{"done without item id", `{"type":"response.output_item.done","item":{"type":"message"}}`},
	}
	for _, tc := range cases {
		_, err := DecodeServerEvent([]byte(tc.raw))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("%s: error type %T", tc.name, err)
		}
		if de.Code != "bad_frame" {
			t.Fatalf("%s: code=%q", tc.name, de.Code)
		}
	}
}

func TestClientItemCreate_RoundTrip(t *testing.T) {
	t.Parallel()

	ev := ClientItemCreate{
		EventID: "evt_1",
		Type:    TypeItemCreate,
		Item: WireItem{
			Type:   ItemTypeFunctionCallOutput,
			CallID: "call_1",
			Output: `{"orders":[]}`,
		},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	item := decoded["item"].(map[string]any)
	if item["type"] != ItemTypeFunctionCallOutput || item["call_id"] != "call_1" {
		t.Fatalf("item=%v", item)
	}
	if _, present := item["role"]; present {
		t.Fatalf("empty role must be omitted")
	}
}
