package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/pkg/bridge/metrics"
	"github.com/voicewire/voicewire/pkg/bridge/session"
	"github.com/voicewire/voicewire/pkg/core/types"
)

type fakeBridgeSession struct {
	mu      sync.Mutex
	texts   []string
	audio   [][]byte
	commits int

	events    chan session.Event
	closeOnce sync.Once
}

func newFakeBridgeSession() *fakeBridgeSession {
	return &fakeBridgeSession{events: make(chan session.Event, 32)}
}

func (f *fakeBridgeSession) ID() string                        { return "s_fake" }
func (f *fakeBridgeSession) Connect(ctx context.Context) error { return nil }

func (f *fakeBridgeSession) Disconnect() error {
	f.closeOnce.Do(func() {
		f.events <- session.DisconnectedEvent{}
		close(f.events)
	})
	return nil
}

func (f *fakeBridgeSession) SendUserText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeBridgeSession) AppendInputAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), pcm...))
	return nil
}

func (f *fakeBridgeSession) CommitTurn() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeBridgeSession) Events() <-chan session.Event { return f.events }

func startTestServer(t *testing.T, factory SessionFactory) *Server {
	t.Helper()
	srv := New(Config{Addr: "127.0.0.1:0", ShutdownGrace: 2 * time.Second}, factory, metrics.New("voicewire_test"), nil)
	if _, err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func dialSession(t *testing.T, srv *Server, user string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/v1/session?user=%s", srv.Addr(), user)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSONFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	srv := startTestServer(t, func(string) (BridgeSession, error) {
		return newFakeBridgeSession(), nil
	})

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}

	resp2, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	if resp2.StatusCode != http.StatusOK || len(body) == 0 {
		t.Fatalf("metrics status=%d len=%d", resp2.StatusCode, len(body))
	}
}

func TestServer_SessionRequiresUser(t *testing.T) {
	t.Parallel()

	srv := startTestServer(t, func(string) (BridgeSession, error) {
		return newFakeBridgeSession(), nil
	})

	resp, err := http.Get("http://" + srv.Addr() + "/v1/session")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}
}

func TestServer_RelayRoundTrip(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	fakes := map[string]*fakeBridgeSession{}
	srv := startTestServer(t, func(user string) (BridgeSession, error) {
		fake := newFakeBridgeSession()
		mu.Lock()
		fakes[user] = fake
		mu.Unlock()
		return fake, nil
	})

	conn := dialSession(t, srv, "u1")

	if err := conn.WriteJSON(map[string]any{"type": "user_text", "text": "List my orders"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "commit_turn"}); err != nil {
		t.Fatalf("write commit: %v", err)
	}

	mu.Lock()
	fake := fakes["u1"]
	mu.Unlock()

	deadline := time.Now().Add(3 * time.Second)
	for {
		fake.mu.Lock()
		ready := len(fake.texts) == 1 && len(fake.audio) == 1 && fake.commits == 1
		fake.mu.Unlock()
		if ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("client frames never reached the session")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Stream an assistant item in two text chunks plus audio.
	item := types.ConversationItem{
		ID:     "item_a1",
		Role:   types.RoleAssistant,
		Status: types.StatusInProgress,
		Parts:  []types.ContentPart{{Kind: types.PartText, Text: "You have"}},
	}
	fake.events <- session.ItemUpdatedEvent{Item: item.Clone()}
	item.Parts[0].Text = "You have 2 orders."
	item.Parts = append(item.Parts, types.ContentPart{Kind: types.PartAudio, Audio: []byte{9, 9}})
	fake.events <- session.ItemUpdatedEvent{Item: item.Clone()}
	fake.events <- session.ItemCompletedEvent{Item: item.Clone()}
	fake.events <- session.ToolCallCompletedEvent{Call: types.ToolCall{
		Name: "get_customer_orders", CallID: "call_1", Status: types.ToolCallCompleted,
	}}

	first := readJSONFrame(t, conn)
	if first["type"] != "text_delta" || first["delta"] != "You have" {
		t.Fatalf("first frame=%v", first)
	}
	second := readJSONFrame(t, conn)
	if second["type"] != "text_delta" || second["delta"] != " 2 orders." {
		t.Fatalf("second frame=%v", second)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	messageType, audio, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if messageType != websocket.BinaryMessage || len(audio) != 2 {
		t.Fatalf("audio frame type=%d len=%d", messageType, len(audio))
	}

	completed := readJSONFrame(t, conn)
	if completed["type"] != "item_completed" || completed["item_id"] != "item_a1" {
		t.Fatalf("completed frame=%v", completed)
	}
	activity := readJSONFrame(t, conn)
	if activity["type"] != "tool_activity" || activity["tool"] != "get_customer_orders" {
		t.Fatalf("activity frame=%v", activity)
	}
}

func TestServer_ShutdownDisconnectsSessions(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var fake *fakeBridgeSession
	srv := startTestServer(t, func(string) (BridgeSession, error) {
		f := newFakeBridgeSession()
		mu.Lock()
		fake = f
		mu.Unlock()
		return f, nil
	})

	conn := dialSession(t, srv, "u1")

	deadline := time.Now().Add(3 * time.Second)
	for srv.Tracker().Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	frame := readJSONFrame(t, conn)
	if frame["type"] != "disconnected" {
		t.Fatalf("frame=%v, want disconnected", frame)
	}

	mu.Lock()
	defer mu.Unlock()
	select {
	case _, open := <-fake.events:
		if open {
			t.Fatalf("session events still open after shutdown")
		}
	default:
		t.Fatalf("session was not disconnected")
	}
}
