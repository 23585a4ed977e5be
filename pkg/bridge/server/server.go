// Package server is the human-side boundary: a websocket listener that
// relays client frames into session operations and session events back
// out as client frames.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/pkg/bridge/metrics"
	"github.com/voicewire/voicewire/pkg/bridge/session"
	"github.com/voicewire/voicewire/pkg/bridge/sessions"
	"github.com/voicewire/voicewire/pkg/core/types"
)

// BridgeSession is what the relay drives. *session.Session satisfies it.
type BridgeSession interface {
	ID() string
	Connect(ctx context.Context) error
	Disconnect() error
	SendUserText(text string) error
	AppendInputAudio(pcm []byte) error
	CommitTurn() error
	Events() <-chan session.Event
}

// SessionFactory builds a session for one connecting user.
type SessionFactory func(userID string) (BridgeSession, error)

// Config shapes the server.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	ShutdownGrace     time.Duration
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return 15 * time.Second
}

func (c Config) writeTimeout() time.Duration {
	if c.WriteTimeout > 0 {
		return c.WriteTimeout
	}
	return 10 * time.Second
}

// Server accepts human-side websocket connections on /v1/session.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracker  *sessions.Tracker
	factory  SessionFactory
	upgrader websocket.Upgrader

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

func New(cfg Config, factory SessionFactory, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		tracker: sessions.NewTracker(),
		factory: factory,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Tracker exposes the session registry, mainly for tests and shutdown
// accounting.
func (s *Server) Tracker() *sessions.Tracker { return s.tracker }

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/v1/session", s.handleSession)
	return mux
}

// Start binds the listener and serves until Shutdown. It returns once the
// listener is bound; serving continues in the background and errors are
// reported on the returned channel.
func (s *Server) Start() (<-chan error, error) {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.listener = listener
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// Shutdown stops accepting connections, disconnects every session, and
// waits for the drain within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.tracker.DisconnectAll()

	drainCtx := ctx
	if s.cfg.ShutdownGrace > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownGrace)
		defer cancel()
	}
	if !s.tracker.Wait(drainCtx) {
		s.logger.Warn("shutdown grace expired with sessions still draining")
	}
	return srv.Shutdown(ctx)
}

// Client frame shapes, both directions.
type clientFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type serverFrame struct {
	Type    string `json:"type"`
	ItemID  string `json:"item_id,omitempty"`
	Delta   string `json:"delta,omitempty"`
	Tool    string `json:"tool,omitempty"`
	CallID  string `json:"call_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		http.Error(w, "user query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := s.logger.With("user_id", userID)

	sess, err := s.factory(userID)
	if err != nil {
		logger.Warn("session factory failed", "error", err)
		s.writeClientError(conn, "session_unavailable", "failed to create session")
		return
	}

	connectCtx, cancel := context.WithTimeout(r.Context(), s.cfg.connectTimeout())
	err = sess.Connect(connectCtx)
	cancel()
	if err != nil {
		logger.Warn("endpoint connect failed", "error", err)
		s.writeClientError(conn, "endpoint_unavailable", "failed to reach model endpoint")
		_ = sess.Disconnect()
		return
	}

	started := time.Now()
	status := "completed"
	if s.metrics != nil {
		s.metrics.RecordSessionStart()
	}
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordSessionEnd(status, time.Since(started))
		}
	}()

	unregister := s.tracker.Register(userID, sessions.Handle{
		SessionID: sess.ID(),
		Disconnect: func() error {
			err := sess.Disconnect()
			_ = conn.Close()
			return err
		},
	})
	defer unregister()
	logger.Info("session started", "session_id", sess.ID())

	// Writer: session events out to the client. Reader: client frames into
	// session operations. The reader owns teardown.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.relayEvents(conn, sess, logger)
	}()

	s.relayClientFrames(conn, sess, logger)

	if err := sess.Disconnect(); err != nil {
		status = "error"
	}
	<-writerDone
	logger.Info("session ended", "session_id", sess.ID(), "duration", time.Since(started))
}

func (s *Server) relayClientFrames(conn *websocket.Conn, sess BridgeSession, logger *slog.Logger) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("client read ended", "error", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := sess.AppendInputAudio(data); err != nil {
				logger.Warn("append audio failed", "error", err)
				return
			}
		case websocket.TextMessage:
			var frame clientFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				logger.Warn("dropping malformed client frame", "error", err)
				continue
			}
			switch frame.Type {
			case "user_text":
				if err := sess.SendUserText(frame.Text); err != nil {
					logger.Warn("send user text failed", "error", err)
					return
				}
			case "commit_turn":
				if err := sess.CommitTurn(); err != nil {
					logger.Warn("commit turn failed", "error", err)
					return
				}
			default:
				logger.Debug("skipping unknown client frame", "type", frame.Type)
			}
		}
	}
}

// relayEvents forwards session events as client frames. Assistant text
// and transcripts go out as deltas computed against the last relayed
// snapshot; audio goes out as binary frames.
func (s *Server) relayEvents(conn *websocket.Conn, sess BridgeSession, logger *slog.Logger) {
	type relayed struct {
		text       int
		transcript int
		audio      int
	}
	sent := make(map[string]*relayed)

	writeJSON := func(frame serverFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout()))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Debug("client write ended", "error", err)
			return false
		}
		return true
	}

	for ev := range sess.Events() {
		switch ev := ev.(type) {
		case session.ItemUpdatedEvent:
			if ev.Item.Role != types.RoleAssistant {
				continue
			}
			state := sent[ev.Item.ID]
			if state == nil {
				state = &relayed{}
				sent[ev.Item.ID] = state
			}
			if text := ev.Item.Text(); len(text) > state.text {
				if !writeJSON(serverFrame{Type: "text_delta", ItemID: ev.Item.ID, Delta: text[state.text:]}) {
					return
				}
				state.text = len(text)
			}
			if transcript := ev.Item.Transcript(); len(transcript) > state.transcript {
				if !writeJSON(serverFrame{Type: "transcript_delta", ItemID: ev.Item.ID, Delta: transcript[state.transcript:]}) {
					return
				}
				state.transcript = len(transcript)
			}
			if part, ok := ev.Item.Part(types.PartAudio); ok && len(part.Audio) > state.audio {
				chunk := part.Audio[state.audio:]
				_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout()))
				if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
					logger.Debug("client write ended", "error", err)
					return
				}
				state.audio = len(part.Audio)
				if s.metrics != nil {
					s.metrics.AudioForwarded("out", len(chunk))
				}
			}
		case session.ItemCompletedEvent:
			if !writeJSON(serverFrame{Type: "item_completed", ItemID: ev.Item.ID}) {
				return
			}
		case session.ToolCallObservedEvent:
			if !writeJSON(serverFrame{Type: "tool_activity", Tool: ev.Call.Name, CallID: ev.Call.CallID, Status: string(ev.Call.Status)}) {
				return
			}
		case session.ToolCallCompletedEvent:
			if !writeJSON(serverFrame{Type: "tool_activity", Tool: ev.Call.Name, CallID: ev.Call.CallID, Status: string(ev.Call.Status)}) {
				return
			}
		case session.ErrorEvent:
			if !writeJSON(serverFrame{Type: "error", Code: ev.Code, Message: ev.Message}) {
				return
			}
		case session.DisconnectedEvent:
			_ = writeJSON(serverFrame{Type: "disconnected"})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			return
		}
	}
}

func (s *Server) writeClientError(conn *websocket.Conn, code, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout()))
	_ = conn.WriteJSON(serverFrame{Type: "error", Code: code, Message: message})
}
