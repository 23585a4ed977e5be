// Package session implements the realtime session orchestrator: one
// transport link to the model endpoint, one conversation log, a tool
// registry, and a single event-loop goroutine that serializes every
// mutation of conversation state.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/voicewire/pkg/bridge/conversation"
	"github.com/voicewire/voicewire/pkg/bridge/protocol"
	"github.com/voicewire/voicewire/pkg/core"
	"github.com/voicewire/voicewire/pkg/core/types"
)

const (
	defaultToolTimeout = 30 * time.Second
	defaultEventBuffer = 256
	frameBuffer        = 64
	outcomeBuffer      = 16
)

// Transport is the endpoint link the session drives. transport.Link
// satisfies it; tests substitute scripted fakes.
type Transport interface {
	Connect(ctx context.Context) error
	Send(v any) error
	Connected() bool
	Close() error
	OnMessage(fn func(data []byte))
	OnClose(fn func(err error))
}

// Recorder receives session-level measurements. The zero value of the
// session uses a no-op recorder.
type Recorder interface {
	DeltaApplied(kind string)
	ToolCallFinished(tool, status string)
	AudioForwarded(direction string, n int)
}

type nopRecorder struct{}

func (nopRecorder) DeltaApplied(string)             {}
func (nopRecorder) ToolCallFinished(string, string) {}
func (nopRecorder) AudioForwarded(string, int)      {}

// Config shapes one session.
type Config struct {
	// Instructions is the system prompt advertised on session.update.
	Instructions string

	Voice             string
	Modalities        []string
	InputAudioFormat  string
	OutputAudioFormat string
	Temperature       float64

	// ToolTimeout bounds each handler invocation. Zero means the default.
	ToolTimeout time.Duration

	// EventBuffer sizes the consumer event channel. Zero means the
	// default. Events are dropped, with a warning, when the consumer
	// falls this far behind.
	EventBuffer int

	Logger   *slog.Logger
	Recorder Recorder
}

func (c Config) toolTimeout() time.Duration {
	if c.ToolTimeout > 0 {
		return c.ToolTimeout
	}
	return defaultToolTimeout
}

func (c Config) eventBuffer() int {
	if c.EventBuffer > 0 {
		return c.EventBuffer
	}
	return defaultEventBuffer
}

type inboundFrame struct {
	data   []byte
	closed bool
	err    error
}

type toolOutcome struct {
	call   types.ToolCall
	result any
	err    error
}

// pendingCall accumulates a model-issued function call until the endpoint
// marks the item done and the call dispatches.
type pendingCall struct {
	call types.ToolCall
}

// Session is one user's realtime bridge session.
type Session struct {
	id        string
	transport Transport
	cfg       Config
	logger    *slog.Logger
	recorder  Recorder

	log   *conversation.Log
	tools *toolRegistry

	ctx    context.Context
	cancel context.CancelFunc

	frames       chan inboundFrame
	toolOutcomes chan toolOutcome
	events       chan Event
	loopDone     chan struct{}

	mu               sync.Mutex
	connected        bool
	started          bool
	closed           bool
	uncommittedAudio bool

	// Loop-owned state, never touched outside the event loop.
	pendingCalls      map[string]*pendingCall // keyed by item id
	dispatchedItems   map[string]struct{}     // function-call items past dispatch
	inFlight          map[string]types.ToolCall
	activeToolCancels map[string]context.CancelFunc // keyed by call id

	remoteSessionID string // guarded by mu
}

// New builds a session over the given transport. Connect must be called
// before any operation that talks to the endpoint.
func New(transport Transport, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        "s_" + randHex(8),
		transport: transport,
		cfg:       cfg,
		recorder:  recorder,

		log:   conversation.NewLog(),
		tools: newToolRegistry(),

		ctx:    ctx,
		cancel: cancel,

		frames:       make(chan inboundFrame, frameBuffer),
		toolOutcomes: make(chan toolOutcome, outcomeBuffer),
		events:       make(chan Event, cfg.eventBuffer()),
		loopDone:     make(chan struct{}),

		pendingCalls:      make(map[string]*pendingCall),
		dispatchedItems:   make(map[string]struct{}),
		inFlight:          make(map[string]types.ToolCall),
		activeToolCancels: make(map[string]context.CancelFunc),
	}
	s.logger = logger.With("session_id", s.id)

	transport.OnMessage(func(data []byte) {
		select {
		case s.frames <- inboundFrame{data: append([]byte(nil), data...)}:
		case <-s.ctx.Done():
		}
	})
	transport.OnClose(func(err error) {
		select {
		case s.frames <- inboundFrame{closed: true, err: err}:
		case <-s.ctx.Done():
		}
	})
	return s
}

// ID returns the locally-assigned session identifier.
func (s *Session) ID() string { return s.id }

// Events yields consumer events. The channel closes after the terminal
// DisconnectedEvent.
func (s *Session) Events() <-chan Event { return s.events }

// Items returns an ordered snapshot of the conversation.
func (s *Session) Items() []types.ConversationItem { return s.log.Items() }

// Item returns a snapshot of one conversation item.
func (s *Session) Item(id string) (types.ConversationItem, bool) { return s.log.Get(id) }

// RemoteSessionID returns the endpoint-assigned session identifier, empty
// until session.created arrives.
func (s *Session) RemoteSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteSessionID
}

// Connect dials the endpoint, advertises the session shape plus
// registered tools, and starts the event loop. Calling Connect on a
// connected session is a no-op. A failed advertisement closes the
// transport again, so the session stays disconnected and Connect can be
// retried.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.NewNotConnectedError("session is closed")
	}
	if s.connected {
		return nil
	}

	if err := s.transport.Connect(ctx); err != nil {
		return err
	}
	if err := s.sendSessionUpdate(); err != nil {
		s.logger.Warn("initial session.update failed", "error", err)
		_ = s.transport.Close()
		s.flushFrames()
		return err
	}
	s.connected = true
	s.started = true
	go s.run()
	return nil
}

// flushFrames clears frames buffered by a connection that was torn down
// before the event loop started.
func (s *Session) flushFrames() {
	for {
		select {
		case <-s.frames:
		default:
			return
		}
	}
}

// Disconnect tears the session down: in-flight tool handlers are
// canceled, the transport closes, and the conversation is left as a
// terminal snapshot. Safe to call more than once.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.connected = false
	s.mu.Unlock()

	s.cancel()
	_ = s.transport.Close()
	if started {
		<-s.loopDone
	} else {
		close(s.events)
	}
	return nil
}

// SendUserContent appends a fully-formed user item to the conversation
// and forwards it to the endpoint, requesting a response.
func (s *Session) SendUserContent(parts ...types.ContentPart) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if len(parts) == 0 {
		return core.NewInvalidRequestError("user content must not be empty")
	}

	item := types.ConversationItem{
		ID:     "item_" + randHex(8),
		Role:   types.RoleUser,
		Status: types.StatusCompleted,
	}
	content := make([]protocol.WireContent, 0, len(parts))
	for _, p := range parts {
		part := p.Clone()
		part.Completed = true
		item.Parts = append(item.Parts, part)
		switch p.Kind {
		case types.PartAudio:
			content = append(content, protocol.WireContent{
				Type:     "input_audio",
				AudioB64: base64.StdEncoding.EncodeToString(p.Audio),
			})
		default:
			content = append(content, protocol.WireContent{Type: "input_text", Text: p.Text})
		}
	}
	s.log.Append(item)

	create := protocol.ClientItemCreate{
		EventID: eventID(),
		Type:    protocol.TypeItemCreate,
		Item: protocol.WireItem{
			ID:      item.ID,
			Type:    protocol.ItemTypeMessage,
			Role:    string(types.RoleUser),
			Content: content,
		},
	}
	if err := s.transport.Send(create); err != nil {
		return err
	}
	return s.transport.Send(protocol.ClientResponseCreate{EventID: eventID(), Type: protocol.TypeResponseCreate})
}

// SendUserText is shorthand for a single text part.
func (s *Session) SendUserText(text string) error {
	return s.SendUserContent(types.ContentPart{Kind: types.PartText, Text: text})
}

// AppendInputAudio forwards one raw audio chunk immediately. Chunks are
// opaque and ordered; the endpoint segments utterances.
func (s *Session) AppendInputAudio(pcm []byte) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	frame := protocol.ClientAudioAppend{
		EventID:  eventID(),
		Type:     protocol.TypeAudioAppend,
		AudioB64: base64.StdEncoding.EncodeToString(pcm),
	}
	if err := s.transport.Send(frame); err != nil {
		return err
	}
	s.mu.Lock()
	s.uncommittedAudio = true
	s.mu.Unlock()
	s.recorder.AudioForwarded("in", len(pcm))
	return nil
}

// CommitTurn signals end-of-user-turn and requests a response. Without
// uncommitted audio it warns and does nothing.
func (s *Session) CommitTurn() error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	s.mu.Lock()
	pending := s.uncommittedAudio
	s.uncommittedAudio = false
	s.mu.Unlock()

	if !pending {
		s.logger.Warn("commit turn with no uncommitted audio")
		return nil
	}
	if err := s.transport.Send(protocol.ClientAudioCommit{EventID: eventID(), Type: protocol.TypeAudioCommit}); err != nil {
		return err
	}
	return s.transport.Send(protocol.ClientResponseCreate{EventID: eventID(), Type: protocol.TypeResponseCreate})
}

// RegisterTool adds or replaces a tool registration. When the session is
// connected the updated tool list is re-advertised; calls already in
// flight keep the handler they dispatched with.
func (s *Session) RegisterTool(reg types.ToolRegistration) error {
	if err := s.tools.register(reg); err != nil {
		return err
	}
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if connected {
		return s.sendSessionUpdate()
	}
	return nil
}

func (s *Session) requireConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return core.NewNotConnectedError("session is not connected")
	}
	return nil
}

func (s *Session) sendSessionUpdate() error {
	update := protocol.ClientSessionUpdate{
		EventID: eventID(),
		Type:    protocol.TypeSessionUpdate,
		Session: protocol.SessionConfig{
			Modalities:        s.cfg.Modalities,
			Instructions:      s.cfg.Instructions,
			Voice:             s.cfg.Voice,
			InputAudioFormat:  s.cfg.InputAudioFormat,
			OutputAudioFormat: s.cfg.OutputAudioFormat,
			Temperature:       s.cfg.Temperature,
			Tools:             s.tools.definitions(),
			ToolChoice:        "auto",
		},
	}
	return s.transport.Send(update)
}

// run is the session event loop. All conversation and tool-call state is
// mutated here and nowhere else.
func (s *Session) run() {
	var closeErr error

loop:
	for {
		select {
		case <-s.ctx.Done():
			break loop
		case frame := <-s.frames:
			if frame.closed {
				closeErr = frame.err
				break loop
			}
			s.handleFrame(frame.data)
		case outcome := <-s.toolOutcomes:
			s.finishToolCall(outcome)
		}
	}

	for _, cancel := range s.activeToolCancels {
		cancel()
	}
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.cancel()

	s.emit(DisconnectedEvent{Err: closeErr})
	close(s.events)
	close(s.loopDone)
}

func (s *Session) handleFrame(data []byte) {
	event, err := protocol.DecodeServerEvent(data)
	if err != nil {
		s.logger.Warn("dropping malformed endpoint frame", "error", err)
		return
	}

	switch ev := event.(type) {
	case protocol.ServerSessionCreated:
		s.mu.Lock()
		s.remoteSessionID = ev.Session.ID
		s.mu.Unlock()
		s.logger.Info("endpoint session created", "remote_session_id", ev.Session.ID)
	case protocol.ServerItemCreated:
		s.handleItemCreated(ev)
	case protocol.ServerContentDelta:
		s.handleContentDelta(ev)
	case protocol.ServerFunctionArgsDelta:
		s.handleFunctionArgsDelta(ev)
	case protocol.ServerOutputItemDone:
		s.handleOutputItemDone(ev)
	case protocol.ServerResponseDone:
		s.logger.Debug("response done")
	case protocol.ServerError:
		s.logger.Warn("endpoint error", "code", ev.Error.Code, "message", ev.Error.Message)
		s.emit(ErrorEvent{Code: ev.Error.Code, Message: ev.Error.Message})
	case protocol.UnknownEvent:
		s.logger.Debug("skipping unclassified endpoint event", "type", ev.Type)
	}
}

func (s *Session) handleItemCreated(ev protocol.ServerItemCreated) {
	item := ev.Item
	if item.Type == protocol.ItemTypeFunctionCall {
		call := types.ToolCall{
			CallID:    item.CallID,
			ItemID:    item.ID,
			Name:      item.Name,
			Arguments: item.Arguments,
			Status:    types.ToolCallRequested,
		}
		s.pendingCalls[item.ID] = &pendingCall{call: call}
		s.emit(ToolCallObservedEvent{Call: call})
		return
	}
	if item.Type == protocol.ItemTypeFunctionCallOutput {
		// Echo of a result this session already sent.
		return
	}

	converted := types.ConversationItem{
		ID:     item.ID,
		Role:   types.Role(item.Role),
		Status: types.StatusInProgress,
	}
	if item.Status == "completed" {
		converted.Status = types.StatusCompleted
	}
	for _, c := range item.Content {
		switch c.Type {
		case "input_audio", "audio":
			audio, err := base64.StdEncoding.DecodeString(c.AudioB64)
			if err != nil {
				s.logger.Warn("dropping undecodable audio content", "item_id", item.ID)
				continue
			}
			converted.Parts = append(converted.Parts, types.ContentPart{Kind: types.PartAudio, Audio: audio})
		default:
			converted.Parts = append(converted.Parts, types.ContentPart{Kind: types.PartText, Text: c.Text})
		}
	}
	snapshot := s.log.Append(converted)
	s.emit(ItemUpdatedEvent{Item: snapshot})
}

func (s *Session) handleContentDelta(ev protocol.ServerContentDelta) {
	delta := types.Delta{ItemID: ev.ItemID}
	switch ev.Type {
	case protocol.TypeTextDelta:
		delta.Kind = types.PartText
		delta.Text = ev.Delta
	case protocol.TypeTranscriptDelta:
		delta.Kind = types.PartTranscript
		delta.Text = ev.Delta
	case protocol.TypeAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			s.logger.Warn("dropping undecodable audio delta", "item_id", ev.ItemID)
			return
		}
		delta.Kind = types.PartAudio
		delta.Audio = audio
	}

	snapshot, err := s.log.ApplyDelta(delta)
	if err != nil {
		// Fail-soft: the merge anomaly is logged and the session continues.
		s.logger.Warn("dropping delta", "item_id", ev.ItemID, "kind", delta.Kind, "error", err)
		return
	}
	s.recorder.DeltaApplied(string(delta.Kind))
	s.emit(ItemUpdatedEvent{Item: snapshot})
}

func (s *Session) handleFunctionArgsDelta(ev protocol.ServerFunctionArgsDelta) {
	if _, done := s.dispatchedItems[ev.ItemID]; done {
		s.logger.Debug("skipping arguments delta for dispatched call", "item_id", ev.ItemID, "call_id", ev.CallID)
		return
	}
	pending, ok := s.pendingCalls[ev.ItemID]
	if !ok {
		pending = &pendingCall{call: types.ToolCall{
			CallID: ev.CallID,
			ItemID: ev.ItemID,
			Status: types.ToolCallRequested,
		}}
		s.pendingCalls[ev.ItemID] = pending
	}
	if pending.call.CallID == "" {
		pending.call.CallID = ev.CallID
	}
	pending.call.Arguments += ev.Delta
}

func (s *Session) handleOutputItemDone(ev protocol.ServerOutputItemDone) {
	if ev.Item.Type == protocol.ItemTypeFunctionCall {
		pending, ok := s.pendingCalls[ev.Item.ID]
		if !ok {
			pending = &pendingCall{call: types.ToolCall{
				CallID: ev.Item.CallID,
				ItemID: ev.Item.ID,
				Status: types.ToolCallRequested,
			}}
		}
		delete(s.pendingCalls, ev.Item.ID)
		s.dispatchedItems[ev.Item.ID] = struct{}{}
		if ev.Item.Name != "" {
			pending.call.Name = ev.Item.Name
		}
		if ev.Item.Arguments != "" {
			pending.call.Arguments = ev.Item.Arguments
		}
		if pending.call.CallID == "" {
			pending.call.CallID = ev.Item.CallID
		}
		s.dispatchToolCall(pending.call)
		return
	}

	snapshot, ok := s.log.CompleteItem(ev.Item.ID)
	if !ok {
		s.logger.Warn("item done for unknown item", "item_id", ev.Item.ID)
		return
	}
	s.emit(ItemCompletedEvent{Item: snapshot})
}

// dispatchToolCall resolves the registration and runs the handler off the
// event loop. Missing registration and invalid arguments resolve to a
// failed result that is still sent to the endpoint so generation can
// continue.
func (s *Session) dispatchToolCall(call types.ToolCall) {
	tool, ok := s.tools.lookup(call.Name)
	if !ok {
		call.Status = types.ToolCallFailed
		call.Error = core.NewToolNotFoundError(call.Name).Error()
		s.sendToolResult(call, failurePayload(call.Error))
		return
	}

	args, err := tool.checkArgs(call.Arguments)
	if err != nil {
		call.Status = types.ToolCallFailed
		call.Error = err.Error()
		s.sendToolResult(call, failurePayload(call.Error))
		return
	}

	call.Status = types.ToolCallDispatched
	s.inFlight[call.CallID] = call
	s.logger.Info("dispatching tool call", "tool", call.Name, "call_id", call.CallID)

	toolCtx, cancelTool := context.WithTimeout(s.ctx, s.cfg.toolTimeout())
	s.activeToolCancels[call.CallID] = cancelTool

	handler := tool.reg.Handler
	go func() {
		result, handlerErr := handler(toolCtx, args)
		select {
		case s.toolOutcomes <- toolOutcome{call: call, result: result, err: handlerErr}:
		case <-s.ctx.Done():
			// Session tore down while the handler ran; the outcome is
			// discarded.
		}
	}()
}

func (s *Session) finishToolCall(outcome toolOutcome) {
	call := outcome.call
	if cancelTool, ok := s.activeToolCancels[call.CallID]; ok {
		cancelTool()
		delete(s.activeToolCancels, call.CallID)
	}
	delete(s.inFlight, call.CallID)

	switch {
	case outcome.err == nil:
		payload, err := json.Marshal(outcome.result)
		if err != nil {
			call.Status = types.ToolCallFailed
			call.Error = core.NewToolExecutionError(fmt.Sprintf("marshal result: %v", err)).Error()
			s.sendToolResult(call, failurePayload(call.Error))
			return
		}
		call.Status = types.ToolCallCompleted
		s.sendToolResult(call, string(payload))
	case errors.Is(outcome.err, context.DeadlineExceeded):
		call.Status = types.ToolCallFailed
		call.Error = core.NewToolTimeoutError(call.Name).Error()
		s.sendToolResult(call, failurePayload(call.Error))
	case errors.Is(outcome.err, context.Canceled) && s.ctx.Err() != nil:
		// Teardown-driven cancellation; nothing to send. A handler that
		// returns context.Canceled while the session is live is an
		// execution failure like any other.
		s.logger.Debug("discarding canceled tool call", "tool", call.Name, "call_id", call.CallID)
	default:
		call.Status = types.ToolCallFailed
		call.Error = core.NewToolExecutionError(outcome.err.Error()).Error()
		s.sendToolResult(call, failurePayload(call.Error))
	}
}

// sendToolResult injects the call result into the live conversation,
// keyed by call_id, and asks the endpoint to resume generation.
func (s *Session) sendToolResult(call types.ToolCall, output string) {
	call.Output = output
	s.recorder.ToolCallFinished(call.Name, string(call.Status))

	create := protocol.ClientItemCreate{
		EventID: eventID(),
		Type:    protocol.TypeItemCreate,
		Item: protocol.WireItem{
			Type:   protocol.ItemTypeFunctionCallOutput,
			CallID: call.CallID,
			Output: output,
		},
	}
	if err := s.transport.Send(create); err != nil {
		s.logger.Warn("sending tool result failed", "tool", call.Name, "call_id", call.CallID, "error", err)
		s.emit(ToolCallCompletedEvent{Call: call})
		return
	}
	if err := s.transport.Send(protocol.ClientResponseCreate{EventID: eventID(), Type: protocol.TypeResponseCreate}); err != nil {
		s.logger.Warn("response.create after tool result failed", "call_id", call.CallID, "error", err)
	}
	s.emit(ToolCallCompletedEvent{Call: call})
}

func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	default:
		// The consumer fell behind; drop rather than stall the loop.
		s.logger.Warn("dropping session event", "event", event.sessionEventType())
	}
}

func failurePayload(message string) string {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return `{"error":"tool execution failed"}`
	}
	return string(payload)
}

func eventID() string {
	return "evt_" + randHex(8)
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
