package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sosguard/internal/modules/escalation/domain"
	escalationout "sosguard/internal/modules/escalation/port/out"
	sessiondto "sosguard/internal/modules/session/dto"
	sessionin "sosguard/internal/modules/session/port/in"
	"sosguard/internal/platform/clock"
	apperrors "sosguard/internal/platform/errors"
	"sosguard/internal/platform/gate"
	"sosguard/internal/platform/logging"
)

type Callbacks struct {
	OnCountdown func(trigger domain.Trigger, deadline time.Time)
	OnCancelled func(trigger domain.Trigger)
	OnEscalated func(session sessiondto.SessionOutput)
	OnError     func(err error)
}

type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger
	// Countdown is the cancellable delay before a session is raised. Zero
	// escalates immediately; negative selects DefaultCountdown.
	Countdown time.Duration
}

// Escalator turns confirmed triggers into sessions after a countdown the
// user can cancel.
type Escalator struct {
	sessions sessionin.Usecase
	location escalationout.LocationProvider
	clock    clock.Clock
	gate     *gate.Gate
	logger   *slog.Logger

	mu        sync.Mutex
	callbacks Callbacks
	pending   *domain.Trigger
}

func NewEscalator(sessions sessionin.Usecase, location escalationout.LocationProvider, opts Options) *Escalator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	countdown := opts.Countdown
	if countdown < 0 {
		countdown = domain.DefaultCountdown
	}
	return &Escalator{
		sessions: sessions,
		location: location,
		clock:    clk,
		gate:     gate.New(clk, countdown),
		logger:   logging.OrNop(opts.Logger).With("component", "escalator"),
	}
}

func (e *Escalator) SetCallbacks(callbacks Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = callbacks
}

func (e *Escalator) Countdown() time.Duration {
	return e.gate.Window()
}

// Trigger starts the countdown for trigger and reports whether it did.
// Triggers are dropped while a session is active or a countdown is running.
func (e *Escalator) Trigger(ctx context.Context, trigger domain.Trigger) (bool, error) {
	if err := trigger.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if trigger.At.IsZero() {
		trigger.At = e.clock.Now()
	}
	if current, err := e.sessions.Current(ctx); err == nil && current.Active() {
		e.logger.Info("trigger dropped, session already active", "trigger", trigger.Type, "session_id", current.SessionID)
		return false, nil
	}

	e.mu.Lock()
	if e.pending != nil {
		e.mu.Unlock()
		e.logger.Info("trigger dropped, countdown already running", "trigger", trigger.Type)
		return false, nil
	}
	e.pending = &trigger
	onCountdown := e.callbacks.OnCountdown
	e.mu.Unlock()

	window := e.gate.Window()
	if window > 0 {
		e.logger.Info("escalation countdown started", "trigger", trigger.Type, "countdown", window)
		if onCountdown != nil {
			onCountdown(trigger, e.clock.Now().Add(window))
		}
	}
	escalateCtx := context.WithoutCancel(ctx)
	e.gate.Open(func(time.Time) { e.escalate(escalateCtx, trigger) })
	return true, nil
}

// Cancel drops a running countdown and reports whether there was one.
func (e *Escalator) Cancel() bool {
	e.mu.Lock()
	if e.pending == nil {
		e.mu.Unlock()
		return false
	}
	e.gate.Cancel()
	trigger := *e.pending
	e.pending = nil
	onCancelled := e.callbacks.OnCancelled
	e.mu.Unlock()

	e.logger.Info("escalation cancelled", "trigger", trigger.Type)
	if onCancelled != nil {
		onCancelled(trigger)
	}
	return true
}

// Pending reports the trigger counting down and its deadline.
func (e *Escalator) Pending() (domain.Trigger, time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return domain.Trigger{}, time.Time{}, false
	}
	since, _ := e.gate.Pending()
	return *e.pending, since.Add(e.gate.Window()), true
}

func (e *Escalator) escalate(ctx context.Context, trigger domain.Trigger) {
	e.mu.Lock()
	if e.pending == nil {
		e.mu.Unlock()
		return
	}
	e.pending = nil
	cb := e.callbacks
	e.mu.Unlock()

	input := sessiondto.BeginInput{Trigger: trigger.Type}
	if e.location != nil {
		loc, err := e.location.CurrentLocation(ctx)
		if err != nil {
			// a session without coordinates still reaches a responder
			e.logger.Warn("location unavailable, escalating without it", "error", err)
		} else {
			input.Latitude = loc.Latitude
			input.Longitude = loc.Longitude
		}
	}

	session, err := e.sessions.Begin(ctx, input)
	if err != nil {
		e.logger.Error("escalation failed", "trigger", trigger.Type, "error", err)
		if cb.OnError != nil {
			cb.OnError(fmt.Errorf("escalate %s trigger: %w", trigger.Type, err))
		}
		return
	}
	e.logger.Info("escalated", "trigger", trigger.Type, "session_id", session.SessionID)
	if cb.OnEscalated != nil {
		cb.OnEscalated(session)
	}
}
