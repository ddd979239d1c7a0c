package out

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"sosguard/internal/modules/voice/domain"
	voiceout "sosguard/internal/modules/voice/port/out"
	"sosguard/internal/platform/logging"
)

const maxHandshakeBody = 4 << 10

// transcriptMessage is one frame from the speech recognizer.
type transcriptMessage struct {
	Type  string    `json:"type"`
	Text  string    `json:"text,omitempty"`
	Final bool      `json:"final,omitempty"`
	At    time.Time `json:"at,omitempty"`
	Error string    `json:"error,omitempty"`
}

// WebSocketTokenSource reads recognized speech from a streaming recognizer
// over a websocket. The stream ends when the connection closes.
type WebSocketTokenSource struct {
	url              string
	handshakeTimeout time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

func NewWebSocketTokenSource(url string, handshakeTimeout time.Duration, logger *slog.Logger) voiceout.TokenSource {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &WebSocketTokenSource{
		url:              url,
		handshakeTimeout: handshakeTimeout,
		logger:           logging.OrNop(logger).With("component", "transcript_source"),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (s *WebSocketTokenSource) Stream(ctx context.Context) (<-chan domain.TokenEvent, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, s.url, http.Header{})
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxHandshakeBody))
			return nil, fmt.Errorf("transcript connect (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("transcript connect: %w", err)
	}

	out := make(chan domain.TokenEvent)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		s.readLoop(ctx, conn, out)
	}()
	return out, nil
}

func (s *WebSocketTokenSource) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- domain.TokenEvent) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.Warn("transcript stream closed", "error", err)
			}
			return
		}
		msg := transcriptMessage{}
		var ev domain.TokenEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			ev.Err = fmt.Errorf("decode transcript frame: %w", err)
		} else {
			switch msg.Type {
			case "transcript", "":
				at := msg.At
				if at.IsZero() {
					at = s.now()
				}
				ev.Token = domain.Token{At: at, Text: msg.Text, Final: msg.Final}
			case "error":
				ev.Err = errors.New(msg.Error)
			default:
				continue
			}
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
