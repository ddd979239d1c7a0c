package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sosguard/internal/modules/voice/domain"
	"sosguard/internal/modules/voice/service"
	"sosguard/internal/platform/clock"
	apperrors "sosguard/internal/platform/errors"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu       sync.Mutex
	triggers []domain.TriggerEvent
	states   []bool
	errs     chan error
}

func newRecorder() *recorder {
	return &recorder{errs: make(chan error, 8)}
}

func (r *recorder) callbacks() service.Callbacks {
	return service.Callbacks{
		OnTrigger: func(ev domain.TriggerEvent) {
			r.mu.Lock()
			r.triggers = append(r.triggers, ev)
			r.mu.Unlock()
		},
		OnListeningStateChange: func(on bool) {
			r.mu.Lock()
			r.states = append(r.states, on)
			r.mu.Unlock()
		},
		OnError: func(err error) { r.errs <- err },
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.triggers)
}

func newListening(t *testing.T, cfg domain.Config) (*service.Monitor, *clock.Manual, *recorder) {
	t.Helper()
	clk := clock.NewManual(t0)
	rec := newRecorder()
	m := service.NewMonitor(nil, service.Options{Clock: clk})
	if err := m.Initialize(cfg, rec.callbacks()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := m.StartListening(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return m, clk, rec
}

func TestCooldownSuppressesMatchTenSecondsLater(t *testing.T) {
	t.Parallel()
	m, clk, rec := newListening(t, domain.Config{})
	m.Observe(domain.Token{Text: "help"})
	clk.Advance(10 * time.Second)
	m.Observe(domain.Token{Text: "help"})
	if got := rec.count(); got != 1 {
		t.Fatalf("expected one trigger, got %d", got)
	}
}

func TestMatchAfterCooldownFiresAgain(t *testing.T) {
	t.Parallel()
	m, clk, rec := newListening(t, domain.Config{})
	m.Observe(domain.Token{Text: "help"})
	clk.Advance(31 * time.Second)
	m.Observe(domain.Token{Text: "help"})
	if got := rec.count(); got != 2 {
		t.Fatalf("expected two triggers, got %d", got)
	}
	if !rec.triggers[1].At.Equal(t0.Add(31*time.Second)) || rec.triggers[1].Type != domain.TriggerVoice {
		t.Fatalf("unexpected event %+v", rec.triggers[1])
	}
}

func TestMatchingIsCaseInsensitiveAndSpansTokens(t *testing.T) {
	t.Parallel()
	m, _, rec := newListening(t, domain.Config{Keywords: []string{"Call Ambulance"}})
	m.Observe(domain.Token{Text: "somebody please CALL"})
	m.Observe(domain.Token{Text: "ambulance!"})
	if got := rec.count(); got != 1 {
		t.Fatalf("expected phrase split across tokens to fire, got %d", got)
	}
	if rec.triggers[0].Keyword != "call ambulance" {
		t.Fatalf("keyword = %q", rec.triggers[0].Keyword)
	}
}

func TestResetCooldownAllowsImmediateTrigger(t *testing.T) {
	t.Parallel()
	m, clk, rec := newListening(t, domain.Config{})
	m.Observe(domain.Token{Text: "EMERGENCY"})
	if st := m.Status(); !st.CoolingDown || !st.CooldownUntil.Equal(t0.Add(30*time.Second)) {
		t.Fatalf("unexpected status %+v", st)
	}
	m.ResetCooldown()
	clk.Advance(time.Second)
	m.Observe(domain.Token{Text: "accident on the highway"})
	if got := rec.count(); got != 2 {
		t.Fatalf("expected two triggers, got %d", got)
	}
}

func TestStopDiscardsCooldownAndReportsState(t *testing.T) {
	t.Parallel()
	m, _, rec := newListening(t, domain.Config{})
	m.Observe(domain.Token{Text: "help"})
	m.StopListening()
	m.StopListening()
	m.Observe(domain.Token{Text: "help"})
	if rec.count() != 1 {
		t.Fatalf("tokens while stopped must be dropped")
	}
	if err := m.StartListening(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = m.StartListening(context.Background())
	m.Observe(domain.Token{Text: "help"})
	if rec.count() != 2 {
		t.Fatalf("cooldown must not survive a stop")
	}
	want := []bool{true, false, true}
	if len(rec.states) != len(want) {
		t.Fatalf("listening states %v", rec.states)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Fatalf("listening states %v", rec.states)
		}
	}
}

func TestInitializeRejectsBlankKeywords(t *testing.T) {
	t.Parallel()
	m := service.NewMonitor(nil, service.Options{})
	if err := m.Initialize(domain.Config{Keywords: []string{" "}}, service.Callbacks{}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

type chanSource struct {
	events chan domain.TokenEvent
}

func (s chanSource) Stream(context.Context) (<-chan domain.TokenEvent, error) {
	return s.events, nil
}

func TestStreamFaultKeepsListeningUntilTermination(t *testing.T) {
	t.Parallel()
	source := chanSource{events: make(chan domain.TokenEvent, 4)}
	rec := newRecorder()
	m := service.NewMonitor(source, service.Options{Clock: clock.NewManual(t0)})
	if err := m.Initialize(domain.Config{}, rec.callbacks()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := m.StartListening(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	source.events <- domain.TokenEvent{Err: errors.New("recognizer hiccup")}
	source.events <- domain.TokenEvent{Token: domain.Token{Text: "108"}}
	select {
	case err := <-rec.errs:
		if errors.Is(err, apperrors.ErrStreamTerminated) {
			t.Fatalf("fault must not terminate")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("fault not reported")
	}

	close(source.events)
	select {
	case err := <-rec.errs:
		if !errors.Is(err, apperrors.ErrStreamTerminated) {
			t.Fatalf("expected termination, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("termination not reported")
	}
	if rec.count() != 1 {
		t.Fatalf("token after fault must still match, got %d triggers", rec.count())
	}
	if m.Status().Listening {
		t.Fatalf("monitor must stop when the stream terminates")
	}
}
