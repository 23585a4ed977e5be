// Package transport owns the websocket link to the realtime model
// endpoint. It hides dial, write serialization, frame ordering, and close
// semantics from the session layer above it.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/pkg/core"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultMaxMessageBytes  = 16 << 20
)

// Config describes how to reach the endpoint.
type Config struct {
	// URL is the ws:// or wss:// endpoint address.
	URL string

	// APIKey, when set, is sent as a bearer Authorization header.
	APIKey string

	// Header carries additional handshake headers.
	Header http.Header

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageBytes  int64

	Logger *slog.Logger
}

func (c Config) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout > 0 {
		return c.HandshakeTimeout
	}
	return defaultHandshakeTimeout
}

func (c Config) writeTimeout() time.Duration {
	if c.WriteTimeout > 0 {
		return c.WriteTimeout
	}
	return defaultWriteTimeout
}

func (c Config) maxMessageBytes() int64 {
	if c.MaxMessageBytes > 0 {
		return c.MaxMessageBytes
	}
	return defaultMaxMessageBytes
}

// Link is one logical connection to the endpoint. Callbacks must be set
// before Connect. A Link may be reconnected after Close; each connection
// runs its own read loop and closes at most once.
type Link struct {
	cfg    Config
	logger *slog.Logger

	onMessage func(data []byte)
	onClose   func(err error)

	mu   sync.Mutex
	conn *linkConn
}

type linkConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewLink(cfg Config) *Link {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{cfg: cfg, logger: logger}
}

// OnMessage sets the handler for inbound text frames. Frames are delivered
// from a single goroutine in arrival order.
func (l *Link) OnMessage(fn func(data []byte)) {
	l.onMessage = fn
}

// OnClose sets the handler invoked once when the read loop exits. err is
// nil for a clean peer close.
func (l *Link) OnClose(fn func(err error)) {
	l.onClose = fn
}

// Connect dials the endpoint. Calling Connect on an already-connected Link
// is a no-op.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return nil
	}
	if strings.TrimSpace(l.cfg.URL) == "" {
		return core.NewInvalidRequestError("endpoint URL must not be empty")
	}

	header := make(http.Header)
	for k, vs := range l.cfg.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	if l.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+l.cfg.APIKey)
	}

	dialer := &websocket.Dialer{HandshakeTimeout: l.cfg.handshakeTimeout()}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, l.cfg.handshakeTimeout())
		defer cancel()
	}

	ws, resp, err := dialer.DialContext(dialCtx, l.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return core.NewConnectionError(fmt.Sprintf("dial %s failed (status %d): %v", l.cfg.URL, resp.StatusCode, err))
		}
		return core.NewConnectionError(fmt.Sprintf("dial %s failed: %v", l.cfg.URL, err))
	}
	ws.SetReadLimit(l.cfg.maxMessageBytes())

	conn := &linkConn{ws: ws, done: make(chan struct{})}
	l.conn = conn
	go l.readLoop(conn)
	return nil
}

// Connected reports whether the link currently holds a live connection.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Send writes one JSON frame. Writes are serialized; frames reach the wire
// in call order.
func (l *Link) Send(v any) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		return core.NewNotConnectedError("send on disconnected link")
	}

	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	_ = conn.ws.SetWriteDeadline(time.Now().Add(l.cfg.writeTimeout()))
	if err := conn.ws.WriteJSON(v); err != nil {
		return core.NewConnectionError(fmt.Sprintf("write frame: %v", err))
	}
	return nil
}

// Close tears the connection down. It is idempotent per connection and
// waits for the read loop to exit, so the OnClose callback has fired by
// the time Close returns.
func (l *Link) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.close()
	<-conn.done
	return nil
}

func (c *linkConn) close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

func (l *Link) readLoop(conn *linkConn) {
	defer close(conn.done)

	var loopErr error
	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				loopErr = core.NewConnectionError(fmt.Sprintf("read frame: %v", err))
			}
			break
		}
		if messageType != websocket.TextMessage {
			l.logger.Debug("skipping non-text frame", "message_type", messageType)
			continue
		}
		if l.onMessage != nil {
			l.onMessage(data)
		}
	}

	conn.close()
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.mu.Unlock()

	if l.onClose != nil {
		l.onClose(loopErr)
	}
}
