package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sosguard/internal/modules/anomaly/domain"
	anomalyout "sosguard/internal/modules/anomaly/port/out"
	"sosguard/internal/platform/clock"
	apperrors "sosguard/internal/platform/errors"
	"sosguard/internal/platform/gate"
	"sosguard/internal/platform/logging"
)

type Callbacks struct {
	OnCrashConfirmed func(domain.CrashEvent)
	OnScoreUpdate    func(score float64)
	OnError          func(err error)
}

type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger
}

// Monitor scores a motion stream and confirms a crash when the score stays
// at or above threshold for the whole verification window. After a
// confirmation the score must fall below threshold before another window
// can open.
type Monitor struct {
	scorer anomalyout.Scorer
	source anomalyout.SampleSource
	clock  clock.Clock
	logger *slog.Logger

	mu            sync.Mutex
	cfg           domain.Config
	callbacks     Callbacks
	gate          *gate.Gate
	running       bool
	runGen        uint64
	cancel        context.CancelFunc
	window        []domain.MotionSample
	history       []domain.ScorePoint
	verifying     bool
	since         time.Time
	latched       bool
	lastConfirmed time.Time
	lastScore     float64
	samples       int
}

// NewMonitor builds a monitor with default config. source may be nil when
// samples are fed through Observe.
func NewMonitor(scorer anomalyout.Scorer, source anomalyout.SampleSource, opts Options) *Monitor {
	clk := opts.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	cfg := domain.DefaultConfig()
	return &Monitor{
		scorer: scorer,
		source: source,
		clock:  clk,
		logger: logging.OrNop(opts.Logger).With("component", "anomaly_monitor"),
		cfg:    cfg,
		gate:   gate.New(clk, cfg.Verification),
	}
}

// Initialize replaces config and callbacks. It is refused while monitoring.
func (m *Monitor) Initialize(cfg domain.Config, callbacks Callbacks) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("%w: stop monitoring before reinitializing", apperrors.ErrInvalidInput)
	}
	m.cfg = cfg
	m.callbacks = callbacks
	m.gate = gate.New(m.clock, cfg.Verification)
	if over := len(m.history) - cfg.HistorySize; over > 0 {
		m.history = append([]domain.ScorePoint(nil), m.history[over:]...)
	}
	return nil
}

// StartMonitoring arms the monitor and, when a source is configured, starts
// consuming it. Calling it while running is a no-op.
func (m *Monitor) StartMonitoring(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.runGen++
	gen := m.runGen
	m.resetVerificationLocked()
	m.window = nil
	var streamCtx context.Context
	if m.source != nil {
		streamCtx, m.cancel = context.WithCancel(ctx)
	}
	m.mu.Unlock()

	m.logger.Info("anomaly monitoring started", "threshold", m.config().Threshold, "verification", m.config().Verification)
	if m.source == nil {
		return nil
	}
	events, err := m.source.Stream(streamCtx)
	if err != nil {
		m.StopMonitoring()
		return fmt.Errorf("open motion stream: %w", err)
	}
	go m.pump(streamCtx, gen, events)
	return nil
}

// StopMonitoring halts consumption and discards any open verification
// window. Calling it while stopped is a no-op.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.stopLocked()
	m.mu.Unlock()
	m.logger.Info("anomaly monitoring stopped")
}

// Observe scores one sample. Samples arriving while stopped are dropped.
func (m *Monitor) Observe(ctx context.Context, sample domain.MotionSample) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	gen := m.runGen
	m.mu.Unlock()
	return m.observe(ctx, gen, sample)
}

// GetAnomalyScoreHistory returns the recent scores, oldest first.
func (m *Monitor) GetAnomalyScoreHistory() []domain.ScorePoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ScorePoint(nil), m.history...)
}

func (m *Monitor) Status() domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := domain.StateStopped
	switch {
	case m.running && m.verifying:
		state = domain.StateVerifying
	case m.running:
		state = domain.StateArmed
	}
	return domain.Status{
		State:           state,
		CandidateSince:  m.since,
		LastConfirmedAt: m.lastConfirmed,
		LastScore:       m.lastScore,
		Samples:         m.samples,
	}
}

func (m *Monitor) config() domain.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *Monitor) pump(ctx context.Context, gen uint64, events <-chan domain.SampleEvent) {
	for ev := range events {
		if ev.Err != nil {
			m.reportError(gen, fmt.Errorf("motion stream: %w", ev.Err))
			continue
		}
		_ = m.observe(ctx, gen, ev.Sample)
	}

	m.mu.Lock()
	if !m.running || m.runGen != gen {
		m.mu.Unlock()
		return
	}
	m.stopLocked()
	onError := m.callbacks.OnError
	m.mu.Unlock()
	m.logger.Warn("motion stream terminated, monitoring stopped")
	if onError != nil {
		onError(apperrors.ErrStreamTerminated)
	}
}

func (m *Monitor) observe(ctx context.Context, gen uint64, sample domain.MotionSample) error {
	m.mu.Lock()
	if !m.running || m.runGen != gen {
		m.mu.Unlock()
		return nil
	}
	m.window = append(m.window, sample)
	if over := len(m.window) - m.cfg.WindowSize; over > 0 {
		m.window = append([]domain.MotionSample(nil), m.window[over:]...)
	}
	window := append([]domain.MotionSample(nil), m.window...)
	m.samples++
	m.mu.Unlock()

	raw, err := m.scorer.Score(ctx, window)
	if err != nil {
		err = fmt.Errorf("score motion window: %w", err)
		m.reportError(gen, err)
		return err
	}
	score := domain.ClampScore(raw)

	m.mu.Lock()
	if !m.running || m.runGen != gen {
		m.mu.Unlock()
		return nil
	}
	now := m.clock.Now()
	m.history = append(m.history, domain.ScorePoint{At: now, Score: score})
	if over := len(m.history) - m.cfg.HistorySize; over > 0 {
		m.history = append([]domain.ScorePoint(nil), m.history[over:]...)
	}
	m.lastScore = score
	if score >= m.cfg.Threshold {
		if !m.verifying && !m.latched {
			m.verifying = true
			m.since = now
			// the window is always positive here, so Open never calls back
			// synchronously into the locked monitor
			m.gate.Open(func(at time.Time) { m.confirm(gen, at) })
			m.logger.Debug("crash candidate, verifying", "score", score)
		}
	} else {
		m.latched = false
		if m.verifying {
			m.resetVerificationLocked()
			m.logger.Debug("crash candidate dropped", "score", score)
		}
	}
	onScore := m.callbacks.OnScoreUpdate
	m.mu.Unlock()

	if onScore != nil {
		onScore(score)
	}
	return nil
}

func (m *Monitor) confirm(gen uint64, at time.Time) {
	m.mu.Lock()
	if !m.running || m.runGen != gen || !m.verifying {
		m.mu.Unlock()
		return
	}
	event := domain.CrashEvent{CandidateSince: m.since, ConfirmedAt: at, Score: m.lastScore}
	m.verifying = false
	m.since = time.Time{}
	m.latched = true
	m.lastConfirmed = at
	onCrash := m.callbacks.OnCrashConfirmed
	m.mu.Unlock()

	m.logger.Info("crash confirmed", "candidate_since", event.CandidateSince, "score", event.Score)
	if onCrash != nil {
		onCrash(event)
	}
}

func (m *Monitor) reportError(gen uint64, err error) {
	m.mu.Lock()
	if m.runGen != gen {
		m.mu.Unlock()
		return
	}
	onError := m.callbacks.OnError
	m.mu.Unlock()
	m.logger.Warn("anomaly monitor fault", "error", err)
	if onError != nil {
		onError(err)
	}
}

func (m *Monitor) resetVerificationLocked() {
	m.gate.Cancel()
	m.verifying = false
	m.since = time.Time{}
}

func (m *Monitor) stopLocked() {
	m.running = false
	m.runGen++
	m.resetVerificationLocked()
	m.latched = false
	m.window = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
