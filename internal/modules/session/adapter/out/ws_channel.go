package out

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"sosguard/internal/modules/session/domain"
	sessionout "sosguard/internal/modules/session/port/out"
	"sosguard/internal/platform/logging"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReconnectDelay   = 2 * time.Second
	maxPushBytes            = 64 << 10
)

// pushMessage is one frame of the session stream.
type pushMessage struct {
	Type    string          `json:"type"`
	Session *domain.Session `json:"session,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// WebSocketChannel subscribes to server pushes over a websocket, one
// connection per subscription.
type WebSocketChannel struct {
	endpoint         string
	handshakeTimeout time.Duration
	reconnectDelay   time.Duration
	logger           *slog.Logger
}

func NewWebSocketChannel(endpoint string, handshakeTimeout time.Duration, logger *slog.Logger) *WebSocketChannel {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	return &WebSocketChannel{
		endpoint:         endpoint,
		handshakeTimeout: handshakeTimeout,
		reconnectDelay:   defaultReconnectDelay,
		logger:           logging.OrNop(logger).With("component", "session_channel"),
	}
}

// WithReconnectDelay sets the pause between reconnect attempts.
func (c *WebSocketChannel) WithReconnectDelay(d time.Duration) *WebSocketChannel {
	c.reconnectDelay = d
	return c
}

func (c *WebSocketChannel) Subscribe(ctx context.Context, sessionID string, onSession func(domain.Session)) (sessionout.Subscription, error) {
	target, err := c.streamURL(sessionID)
	if err != nil {
		return nil, err
	}
	conn, err := c.dial(ctx, target)
	if err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &wsSubscription{
		channel:   c,
		target:    target,
		sessionID: sessionID,
		onSession: onSession,
		conn:      conn,
		ctx:       subCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go sub.run()
	return sub, nil
}

func (c *WebSocketChannel) streamURL(sessionID string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse channel url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *WebSocketChannel) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, target, http.Header{})
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			if len(body) > 0 {
				return nil, fmt.Errorf("channel connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("channel connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("channel connect: %w", err)
	}
	conn.SetReadLimit(maxPushBytes)
	return conn, nil
}

type wsSubscription struct {
	channel   *WebSocketChannel
	target    string
	sessionID string
	onSession func(domain.Session)

	mu     sync.Mutex
	conn   *websocket.Conn
	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *wsSubscription) run() {
	defer close(s.done)
	for {
		err := s.readLoop()
		if s.closed.Load() {
			return
		}
		s.mu.Lock()
		stale := s.conn
		s.conn = nil
		s.mu.Unlock()
		if stale != nil {
			_ = stale.Close()
		}
		s.channel.logger.Warn("session stream dropped, reconnecting", "session_id", s.sessionID, "error", err)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.channel.reconnectDelay):
		}
		conn, err := s.channel.dial(s.ctx, s.target)
		if err != nil {
			s.channel.logger.Warn("session stream reconnect failed", "session_id", s.sessionID, "error", err)
			conn = nil
		}
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		s.conn = conn
		s.mu.Unlock()
	}
}

func (s *wsSubscription) readLoop() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no connection")
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg := pushMessage{}
		if err := json.Unmarshal(data, &msg); err != nil {
			s.channel.logger.Warn("undecodable session push", "session_id", s.sessionID, "error", err)
			continue
		}
		switch msg.Type {
		case "session", "session_update":
			if msg.Session == nil || s.closed.Load() {
				continue
			}
			s.onSession(*msg.Session)
		case "error":
			s.channel.logger.Warn("session stream error", "session_id", s.sessionID, "error", msg.Error)
		}
	}
}

// Unsubscribe stops further deliveries. A delivery already running when it
// is called may still complete.
func (s *wsSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = conn.Close()
	})
	return err
}
