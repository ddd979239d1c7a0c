package out_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sessionadapter "sosguard/internal/modules/session/adapter/out"
	"sosguard/internal/modules/session/domain"
	apperrors "sosguard/internal/platform/errors"
)

func TestHTTPDispatchAPIRoutesAndDecodes(t *testing.T) {
	t.Parallel()
	var gotKey string
	var gotCreate domain.CreateRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotCreate)
		_ = json.NewEncoder(w).Encode(domain.Session{ID: "s-1", Status: domain.StatusPending, OriginLatitude: gotCreate.Latitude})
	})
	mux.HandleFunc("/v1/sessions/s-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.Session{ID: "s-1", Status: domain.StatusArrived, CounterpartyName: "Meera"})
	})
	mux.HandleFunc("/v1/sessions/s-1/accept", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.Session{ID: "s-1", Status: domain.StatusAccepted})
	})
	mux.HandleFunc("/v1/sessions/s-1/arrived", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.Session{ID: "s-1", Status: domain.StatusArrived})
	})
	mux.HandleFunc("/v1/sessions/s-1/complete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("pickup not confirmed"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	api := sessionadapter.NewHTTPDispatchAPI(server.URL+"/", 5*time.Second)
	ctx := context.Background()

	created, err := api.CreateSession(ctx, domain.CreateRequest{Trigger: domain.TriggerCrash, Latitude: 12.5, Longitude: 77.1, IdempotencyKey: "key-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "s-1" || created.OriginLatitude != 12.5 || gotKey != "key-1" || gotCreate.Trigger != domain.TriggerCrash {
		t.Fatalf("unexpected create round trip: %+v key=%q req=%+v", created, gotKey, gotCreate)
	}

	fetched, err := api.GetSession(ctx, "s-1")
	if err != nil || fetched.CounterpartyName != "Meera" {
		t.Fatalf("get: %+v err=%v", fetched, err)
	}
	if accepted, err := api.AcceptSession(ctx, "s-1"); err != nil || accepted.Status != domain.StatusAccepted {
		t.Fatalf("accept: %+v err=%v", accepted, err)
	}
	if _, err := api.MarkArrived(ctx, "s-1"); err != nil {
		t.Fatalf("arrived: %v", err)
	}

	_, err = api.CompleteSession(ctx, "s-1")
	var httpErr *sessionadapter.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusConflict || httpErr.Body != "pickup not confirmed" {
		t.Fatalf("expected conflict error, got %v", err)
	}

	if _, err := api.GetSession(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
