package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sosguard/internal/modules/anomaly/domain"
	"sosguard/internal/modules/anomaly/service"
	"sosguard/internal/platform/clock"
	apperrors "sosguard/internal/platform/errors"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// echoScorer uses the newest sample's AccelX as the score.
type echoScorer struct {
	err error
}

func (s echoScorer) Score(_ context.Context, window []domain.MotionSample) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return window[len(window)-1].AccelX, nil
}

type chanSource struct {
	mu      sync.Mutex
	events  chan domain.SampleEvent
	streams int
}

func (s *chanSource) Stream(context.Context) (<-chan domain.SampleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams++
	return s.events, nil
}

type recorder struct {
	mu      sync.Mutex
	crashes []domain.CrashEvent
	scores  []float64
	errs    chan error
}

func newRecorder() *recorder {
	return &recorder{errs: make(chan error, 8)}
}

func (r *recorder) callbacks() service.Callbacks {
	return service.Callbacks{
		OnCrashConfirmed: func(ev domain.CrashEvent) {
			r.mu.Lock()
			r.crashes = append(r.crashes, ev)
			r.mu.Unlock()
		},
		OnScoreUpdate: func(score float64) {
			r.mu.Lock()
			r.scores = append(r.scores, score)
			r.mu.Unlock()
		},
		OnError: func(err error) { r.errs <- err },
	}
}

func (r *recorder) crashCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.crashes)
}

func newMonitor(t *testing.T, cfg domain.Config) (*service.Monitor, *clock.Manual, *recorder) {
	t.Helper()
	clk := clock.NewManual(t0)
	rec := newRecorder()
	m := service.NewMonitor(echoScorer{}, nil, service.Options{Clock: clk})
	if err := m.Initialize(cfg, rec.callbacks()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := m.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return m, clk, rec
}

// feed sets the clock to each second offset and observes the score there.
func feed(t *testing.T, m *service.Monitor, clk *clock.Manual, scores map[int]float64, until int) {
	t.Helper()
	for sec := 0; sec <= until; sec++ {
		at := t0.Add(time.Duration(sec) * time.Second)
		clk.Set(at)
		score, ok := scores[sec]
		if !ok {
			continue
		}
		if err := m.Observe(context.Background(), domain.MotionSample{At: at, AccelX: score}); err != nil {
			t.Fatalf("observe at %ds: %v", sec, err)
		}
	}
}

func TestSustainedScoreConfirmsOnce(t *testing.T) {
	t.Parallel()
	m, clk, rec := newMonitor(t, domain.Config{})
	scores := map[int]float64{}
	for sec := 0; sec <= 12; sec++ {
		scores[sec] = 0.8
	}
	feed(t, m, clk, scores, 12)
	if got := rec.crashCount(); got != 1 {
		t.Fatalf("expected exactly one confirmation, got %d", got)
	}
	ev := rec.crashes[0]
	if !ev.CandidateSince.Equal(t0) || !ev.ConfirmedAt.Equal(t0.Add(5*time.Second)) {
		t.Fatalf("unexpected crash event %+v", ev)
	}
	if st := m.Status(); st.State != domain.StateArmed || !st.LastConfirmedAt.Equal(ev.ConfirmedAt) {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestDipBeforeWindowElapsesCancels(t *testing.T) {
	t.Parallel()
	m, clk, rec := newMonitor(t, domain.Config{})
	feed(t, m, clk, map[int]float64{0: 0.8, 1: 0.9, 2: 0.75, 3: 0.8, 4: 0.5, 5: 0.8, 6: 0.8, 7: 0.8, 8: 0.8}, 8)
	if got := rec.crashCount(); got != 0 {
		t.Fatalf("expected no confirmation, got %d", got)
	}
	if st := m.Status(); st.State != domain.StateVerifying || !st.CandidateSince.Equal(t0.Add(5*time.Second)) {
		t.Fatalf("expected a fresh window from second 5, got %+v", st)
	}
}

func TestFreshCrossingRequiredAfterConfirmation(t *testing.T) {
	t.Parallel()
	m, clk, rec := newMonitor(t, domain.Config{})
	scores := map[int]float64{}
	for sec := 0; sec <= 6; sec++ {
		scores[sec] = 0.9
	}
	scores[7] = 0.2
	for sec := 8; sec <= 13; sec++ {
		scores[sec] = 0.9
	}
	feed(t, m, clk, scores, 13)
	if got := rec.crashCount(); got != 2 {
		t.Fatalf("expected two confirmations, got %d", got)
	}
}

func TestStopDiscardsVerification(t *testing.T) {
	t.Parallel()
	m, clk, rec := newMonitor(t, domain.Config{})
	feed(t, m, clk, map[int]float64{0: 0.9, 1: 0.9}, 2)
	m.StopMonitoring()
	m.StopMonitoring()
	clk.Advance(10 * time.Second)
	if rec.crashCount() != 0 {
		t.Fatalf("stopped monitor must not confirm")
	}
	if st := m.Status(); st.State != domain.StateStopped {
		t.Fatalf("state = %s", st.State)
	}
	if err := m.Observe(context.Background(), domain.MotionSample{AccelX: 0.9}); err != nil {
		t.Fatalf("observe while stopped: %v", err)
	}
	if n := len(m.GetAnomalyScoreHistory()); n != 2 {
		t.Fatalf("samples observed while stopped must be dropped, history=%d", n)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	m, clk, rec := newMonitor(t, domain.Config{HistorySize: 3})
	feed(t, m, clk, map[int]float64{0: 0.1, 1: 0.2, 2: 0.3, 3: 0.4, 4: 0.5}, 4)
	history := m.GetAnomalyScoreHistory()
	if len(history) != 3 || history[0].Score != 0.3 || history[2].Score != 0.5 {
		t.Fatalf("unexpected history %+v", history)
	}
	if len(rec.scores) != 5 {
		t.Fatalf("every score must be reported, got %d", len(rec.scores))
	}
}

func TestScoresAreClamped(t *testing.T) {
	t.Parallel()
	m, clk, _ := newMonitor(t, domain.Config{})
	feed(t, m, clk, map[int]float64{0: 3.5, 1: -1}, 1)
	history := m.GetAnomalyScoreHistory()
	if history[0].Score != 1 || history[1].Score != 0 {
		t.Fatalf("scores not clamped: %+v", history)
	}
}

func TestInitializeValidates(t *testing.T) {
	t.Parallel()
	m := service.NewMonitor(echoScorer{}, nil, service.Options{})
	if err := m.Initialize(domain.Config{Threshold: 1.5}, service.Callbacks{}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := m.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Initialize(domain.Config{}, service.Callbacks{}); err == nil {
		t.Fatalf("reinitializing while running must fail")
	}
}

func TestScorerFaultIsReportedAndMonitoringContinues(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	m := service.NewMonitor(echoScorer{err: errors.New("model not loaded")}, nil, service.Options{Clock: clock.NewManual(t0)})
	if err := m.Initialize(domain.Config{}, rec.callbacks()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := m.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Observe(context.Background(), domain.MotionSample{AccelX: 0.9}); err == nil {
		t.Fatalf("expected scorer error")
	}
	select {
	case <-rec.errs:
	default:
		t.Fatalf("fault not reported")
	}
	if st := m.Status(); st.State != domain.StateArmed {
		t.Fatalf("monitor must keep running, state=%s", st.State)
	}
}

func TestStreamFaultsAndTermination(t *testing.T) {
	t.Parallel()
	source := &chanSource{events: make(chan domain.SampleEvent, 4)}
	rec := newRecorder()
	m := service.NewMonitor(echoScorer{}, source, service.Options{Clock: clock.NewManual(t0)})
	if err := m.Initialize(domain.Config{}, rec.callbacks()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	ctx := context.Background()
	if err := m.StartMonitoring(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.StartMonitoring(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if source.streams != 1 {
		t.Fatalf("start must be idempotent, streams=%d", source.streams)
	}

	source.events <- domain.SampleEvent{Err: errors.New("sensor glitch")}
	select {
	case err := <-rec.errs:
		if errors.Is(err, apperrors.ErrStreamTerminated) {
			t.Fatalf("glitch must not terminate")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("fault not reported")
	}
	if st := m.Status(); st.State != domain.StateArmed {
		t.Fatalf("monitor must keep running after a fault, state=%s", st.State)
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
	if st := m.Status(); st.State != domain.StateStopped {
		t.Fatalf("state = %s", st.State)
	}
}
