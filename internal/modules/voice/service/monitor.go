package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"sosguard/internal/modules/voice/domain"
	voiceout "sosguard/internal/modules/voice/port/out"
	"sosguard/internal/platform/clock"
	apperrors "sosguard/internal/platform/errors"
	"sosguard/internal/platform/logging"
)

type Callbacks struct {
	OnTrigger              func(domain.TriggerEvent)
	OnListeningStateChange func(listening bool)
	OnError                func(err error)
}

type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger
}

// Monitor matches recognized speech against the keyword set. A match fires
// once and then suppresses further matches until the cooldown elapses.
type Monitor struct {
	source voiceout.TokenSource
	clock  clock.Clock
	logger *slog.Logger

	mu            sync.Mutex
	cfg           domain.Config
	matcher       domain.Matcher
	callbacks     Callbacks
	listening     bool
	runGen        uint64
	cancel        context.CancelFunc
	carry         []string
	cooling       bool
	cooldownUntil time.Time
	cooldownTimer clock.Timer
	cooldownGen   uint64
	lastTriggered time.Time
}

// NewMonitor builds a monitor with the default keywords and cooldown.
// source may be nil when tokens are fed through Observe.
func NewMonitor(source voiceout.TokenSource, opts Options) *Monitor {
	clk := opts.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	cfg := domain.DefaultConfig()
	return &Monitor{
		source:  source,
		clock:   clk,
		logger:  logging.OrNop(opts.Logger).With("component", "voice_monitor"),
		cfg:     cfg,
		matcher: domain.NewMatcher(cfg.Keywords),
	}
}

// Initialize replaces keywords, cooldown and callbacks. It is refused while
// listening.
func (m *Monitor) Initialize(cfg domain.Config, callbacks Callbacks) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listening {
		return fmt.Errorf("%w: stop listening before reinitializing", apperrors.ErrInvalidInput)
	}
	m.cfg = cfg
	m.matcher = domain.NewMatcher(cfg.Keywords)
	m.callbacks = callbacks
	return nil
}

func (m *Monitor) StartListening(ctx context.Context) error {
	m.mu.Lock()
	if m.listening {
		m.mu.Unlock()
		return nil
	}
	m.listening = true
	m.runGen++
	gen := m.runGen
	m.carry = nil
	var streamCtx context.Context
	if m.source != nil {
		streamCtx, m.cancel = context.WithCancel(ctx)
	}
	onState := m.callbacks.OnListeningStateChange
	m.mu.Unlock()

	m.logger.Info("voice listening started")
	if onState != nil {
		onState(true)
	}
	if m.source == nil {
		return nil
	}
	events, err := m.source.Stream(streamCtx)
	if err != nil {
		m.StopListening()
		return fmt.Errorf("open speech stream: %w", err)
	}
	go m.pump(gen, events)
	return nil
}

// StopListening halts consumption and discards any running cooldown.
func (m *Monitor) StopListening() {
	m.mu.Lock()
	if !m.listening {
		m.mu.Unlock()
		return
	}
	m.stopLocked()
	onState := m.callbacks.OnListeningStateChange
	m.mu.Unlock()

	m.logger.Info("voice listening stopped")
	if onState != nil {
		onState(false)
	}
}

// ResetCooldown ends a running cooldown immediately.
func (m *Monitor) ResetCooldown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cooling {
		m.logger.Info("voice cooldown reset")
	}
	m.clearCooldownLocked()
}

// Observe matches one token. Tokens arriving while not listening are dropped.
func (m *Monitor) Observe(token domain.Token) {
	m.mu.Lock()
	if !m.listening {
		m.mu.Unlock()
		return
	}
	gen := m.runGen
	m.mu.Unlock()
	m.observe(gen, token)
}

func (m *Monitor) Status() domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := domain.Status{Listening: m.listening, CoolingDown: m.cooling, LastTriggeredAt: m.lastTriggered}
	if m.cooling {
		st.CooldownUntil = m.cooldownUntil
	}
	return st
}

func (m *Monitor) pump(gen uint64, events <-chan domain.TokenEvent) {
	for ev := range events {
		if ev.Err != nil {
			m.reportError(gen, fmt.Errorf("speech stream: %w", ev.Err))
			continue
		}
		m.observe(gen, ev.Token)
	}

	m.mu.Lock()
	if !m.listening || m.runGen != gen {
		m.mu.Unlock()
		return
	}
	m.stopLocked()
	cb := m.callbacks
	m.mu.Unlock()
	m.logger.Warn("speech stream terminated, listening stopped")
	if cb.OnListeningStateChange != nil {
		cb.OnListeningStateChange(false)
	}
	if cb.OnError != nil {
		cb.OnError(apperrors.ErrStreamTerminated)
	}
}

func (m *Monitor) observe(gen uint64, token domain.Token) {
	m.mu.Lock()
	if !m.listening || m.runGen != gen {
		m.mu.Unlock()
		return
	}
	words := append(append([]string(nil), m.carry...), domain.Words(token.Text)...)
	keyword, ok := m.matcher.Match(words)
	if !ok {
		// keep enough trailing words to complete a phrase split across tokens
		keep := m.matcher.Longest() - 1
		if keep > len(words) {
			keep = len(words)
		}
		m.carry = append([]string(nil), words[len(words)-keep:]...)
		m.mu.Unlock()
		return
	}
	m.carry = nil
	if m.cooling {
		m.mu.Unlock()
		m.logger.Debug("keyword suppressed by cooldown", "keyword", keyword)
		return
	}

	now := m.clock.Now()
	m.lastTriggered = now
	m.startCooldownLocked(now)
	event := domain.TriggerEvent{
		Type:       domain.TriggerVoice,
		Keyword:    keyword,
		Transcript: strings.TrimSpace(token.Text),
		At:         now,
	}
	onTrigger := m.callbacks.OnTrigger
	m.mu.Unlock()

	m.logger.Info("voice trigger", "keyword", keyword)
	if onTrigger != nil {
		onTrigger(event)
	}
}

func (m *Monitor) startCooldownLocked(now time.Time) {
	m.clearCooldownLocked()
	if m.cfg.Cooldown <= 0 {
		return
	}
	m.cooling = true
	m.cooldownUntil = now.Add(m.cfg.Cooldown)
	m.cooldownGen++
	gen := m.cooldownGen
	m.cooldownTimer = m.clock.AfterFunc(m.cfg.Cooldown, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.cooldownGen {
			return
		}
		m.cooling = false
		m.cooldownUntil = time.Time{}
		m.cooldownTimer = nil
	})
}

func (m *Monitor) clearCooldownLocked() {
	m.cooldownGen++
	if m.cooldownTimer != nil {
		m.cooldownTimer.Stop()
		m.cooldownTimer = nil
	}
	m.cooling = false
	m.cooldownUntil = time.Time{}
}

func (m *Monitor) reportError(gen uint64, err error) {
	m.mu.Lock()
	if m.runGen != gen {
		m.mu.Unlock()
		return
	}
	onError := m.callbacks.OnError
	m.mu.Unlock()
	m.logger.Warn("voice monitor fault", "error", err)
	if onError != nil {
		onError(err)
	}
}

func (m *Monitor) stopLocked() {
	m.listening = false
	m.runGen++
	m.carry = nil
	m.clearCooldownLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
