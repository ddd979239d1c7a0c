package bootstrap_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sosguard/internal/bootstrap"
	"sosguard/internal/platform/config"
)

func TestManualTriggerRaisesSessionEndToEnd(t *testing.T) {
	t.Parallel()
	var (
		mu      sync.Mutex
		created []map[string]any
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		created = append(created, body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"42","status":"PENDING","origin_latitude":12.97,"origin_longitude":77.59}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := config.Default(t.TempDir())
	cfg.Store = config.StoreFile
	cfg.API.BaseURL = server.URL
	cfg.Channel.URL = "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/sessions/stream"
	cfg.Escalation.CountdownSeconds = 0
	cfg.Escalation.Latitude = 12.97
	cfg.Escalation.Longitude = 77.59
	cfg.Voice.Enabled = false

	app, err := bootstrap.New(cfg, bootstrap.Options{LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer app.Close()
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	started, err := app.EscalationCLI.Trigger(ctx, "", "button")
	if err != nil || !started {
		t.Fatalf("trigger: started=%v err=%v", started, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(created) != 1 || created[0]["trigger"] != "manual" || created[0]["latitude"] != 12.97 {
		t.Fatalf("unexpected create requests %v", created)
	}
	current, err := app.SessionCLI.Current(ctx)
	if err != nil || current.SessionID != "42" || current.Status != "PENDING" {
		t.Fatalf("unexpected current session %+v err=%v", current, err)
	}
	record, err := app.SessionCLI.Record(ctx)
	if err != nil || record.SessionID != "42" {
		t.Fatalf("session not persisted: %+v err=%v", record, err)
	}
	if filepath.Dir(cfg.DBPath()) != cfg.DataDir {
		t.Fatalf("record store outside data dir: %s", cfg.DBPath())
	}

	if started, _ := app.EscalationCLI.Trigger(ctx, "voice", "help"); started {
		t.Fatalf("trigger while a session is active must be dropped")
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-app.Events():
			if ev.Kind == "escalated" {
				return
			}
		case <-deadline:
			t.Fatalf("no escalated event")
		}
	}
}

func TestNewRejectsMissingScorerPlugin(t *testing.T) {
	t.Parallel()
	cfg := config.Default(t.TempDir())
	cfg.Store = config.StoreBolt
	cfg.Anomaly.ScorerPlugin = filepath.Join(cfg.DataDir, "missing-scorer")
	if _, err := bootstrap.New(cfg, bootstrap.Options{LogOutput: io.Discard}); err == nil {
		t.Fatalf("expected missing plugin to fail")
	}
}
