package out_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	voiceadapter "sosguard/internal/modules/voice/adapter/out"
	"sosguard/internal/modules/voice/domain"
)

func drain(t *testing.T, events <-chan domain.TokenEvent) []domain.TokenEvent {
	t.Helper()
	var got []domain.TokenEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("stream did not close")
		}
	}
}

func TestFileTokenSourceAcceptsJSONAndPlainLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "speech.jsonl")
	payload := strings.Join([]string{
		`{"at":"2026-03-01T09:00:00Z","text":"is anyone there","final":true}`,
		`please help`,
		`{"at":`,
	}, "\n")
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	events, err := voiceadapter.NewFileTokenSource(path).Stream(context.Background())
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got := drain(t, events)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Token.Text != "is anyone there" || got[1].Token.Text != "please help" || got[2].Err == nil {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestWebSocketTokenSource(t *testing.T) {
	t.Parallel()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcript","text":"there was an accident","final":true}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"keepalive"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":"audio underrun"}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	events, err := voiceadapter.NewWebSocketTokenSource(url, time.Second, nil).Stream(context.Background())
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got := drain(t, events)
	if len(got) != 2 {
		t.Fatalf("expected transcript and error, got %+v", got)
	}
	if got[0].Token.Text != "there was an accident" || got[0].Token.At.IsZero() {
		t.Fatalf("unexpected token %+v", got[0].Token)
	}
	if got[1].Err == nil || got[1].Err.Error() != "audio underrun" {
		t.Fatalf("unexpected fault %+v", got[1])
	}
}
