package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"sosguard/internal/modules/session/domain"
	sessionout "sosguard/internal/modules/session/port/out"
	"sosguard/internal/platform/clock"
	apperrors "sosguard/internal/platform/errors"
	"sosguard/internal/platform/logging"
)

const DefaultGraceDelay = 2 * time.Second

// Snapshot is what observers and callers see of the tracked session.
type Snapshot struct {
	Session     domain.Session
	Placeholder bool
}

func (s Snapshot) Active() bool {
	return !s.Session.IsZero()
}

// SessionService tracks the single active SOS session and keeps it in step
// with the server push channel.
//
// Status is written into memory only by channel pushes (and by the accept
// and create responses). Local mutating calls touch durable fields and never
// the in-memory status, so an optimistic write can never overtake a push.
type SessionService struct {
	api     sessionout.DispatchAPI
	channel sessionout.Channel
	records sessionout.RecordStore
	clock   clock.Clock
	logger  *slog.Logger
	grace   time.Duration

	mu          sync.Mutex
	session     domain.Session
	placeholder bool
	sub         sessionout.Subscription
	subGen      uint64
	clearTimer  clock.Timer
	clearGen    uint64
	retired     map[string]struct{}
	watchers    map[int]func(Snapshot)
	nextWatcher int
}

type Options struct {
	Clock      clock.Clock
	Logger     *slog.Logger
	GraceDelay time.Duration
}

func NewSessionService(api sessionout.DispatchAPI, channel sessionout.Channel, records sessionout.RecordStore, opts Options) *SessionService {
	clk := opts.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	grace := opts.GraceDelay
	if grace <= 0 {
		grace = DefaultGraceDelay
	}
	return &SessionService{
		api:      api,
		channel:  channel,
		records:  records,
		clock:    clk,
		logger:   logging.OrNop(opts.Logger).With("component", "session"),
		grace:    grace,
		retired:  map[string]struct{}{},
		watchers: map[int]func(Snapshot){},
	}
}

// Watch registers fn to be called after every change of the tracked
// session. The returned func removes it.
func (s *SessionService) Watch(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *SessionService) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Session: s.session, Placeholder: s.placeholder}
}

func (s *SessionService) Record(ctx context.Context) (domain.Record, error) {
	rec, err := s.records.LoadRecord(ctx)
	if errors.Is(err, apperrors.ErrNoActiveSession) {
		return domain.Record{}, nil
	}
	return rec, err
}

// Restore resumes the session persisted by a previous run. Anything that
// cannot be resumed is cleared rather than reported.
func (s *SessionService) Restore(ctx context.Context) error {
	rec, err := s.records.LoadRecord(ctx)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNoActiveSession) {
			s.logger.Warn("load durable record failed, clearing", "error", err)
		}
		return s.Clear(ctx)
	}
	if !rec.Status.Live() {
		s.logger.Info("durable session is not live, clearing", "session_id", rec.SessionID, "status", rec.Status)
		return s.Clear(ctx)
	}

	s.mu.Lock()
	s.stopClearTimerLocked()
	s.session = domain.Placeholder(rec.SessionID, rec.Status)
	s.placeholder = true
	s.mu.Unlock()
	s.notify()

	fetched, err := s.api.GetSession(ctx, rec.SessionID)
	if err != nil {
		s.logger.Warn("refresh of restored session failed, clearing", "session_id", rec.SessionID, "error", err)
		return s.clearPlaceholder(ctx, rec.SessionID)
	}
	if fetched.ID != rec.SessionID || fetched.Status.Terminal() {
		s.logger.Info("restored session no longer live, clearing", "session_id", rec.SessionID, "status", fetched.Status)
		return s.clearPlaceholder(ctx, rec.SessionID)
	}

	s.mu.Lock()
	if s.session.ID != rec.SessionID || !s.placeholder {
		// cleared or replaced while the fetch was in flight
		s.mu.Unlock()
		return nil
	}
	if err := s.records.SaveStatus(ctx, fetched.ID, fetched.Status); err != nil {
		s.mu.Unlock()
		s.logger.Warn("mirror restored status failed", "session_id", fetched.ID, "error", err)
		return s.Clear(ctx)
	}
	s.session = fetched
	s.placeholder = false
	gen, old := s.rotateSubscriptionLocked()
	s.mu.Unlock()

	s.release(old)
	s.notify()
	_ = s.subscribe(ctx, gen, fetched.ID)
	s.logger.Info("session restored", "session_id", fetched.ID, "status", fetched.Status)
	return nil
}

// Begin opens a new SOS session on the server and starts tracking it.
func (s *SessionService) Begin(ctx context.Context, req domain.CreateRequest) (domain.Session, error) {
	if err := s.ensureFree(""); err != nil {
		return domain.Session{}, err
	}
	created, err := s.api.CreateSession(ctx, req)
	if err != nil {
		return domain.Session{}, &apperrors.CallError{Op: "create session", Err: err}
	}
	if err := created.Validate(); err != nil {
		return domain.Session{}, &apperrors.CallError{Op: "create session", Err: err}
	}
	status := created.Status
	if status == "" {
		status = domain.StatusPending
		created.Status = status
	}
	if err := s.adopt(ctx, created, status, ""); err != nil {
		return domain.Session{}, err
	}
	s.logger.Info("session created", "session_id", created.ID, "trigger", req.Trigger)
	return created, nil
}

// Accept accepts sessionID on the server, then records (id, ACCEPTED) and
// starts tracking it. On failure nothing local changes.
func (s *SessionService) Accept(ctx context.Context, sessionID string) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, fmt.Errorf("%w: session id is required", apperrors.ErrInvalidInput)
	}
	if err := s.ensureFree(sessionID); err != nil {
		return domain.Session{}, err
	}
	accepted, err := s.api.AcceptSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, &apperrors.CallError{Op: "accept session", SessionID: sessionID, Err: err}
	}
	if accepted.ID == "" {
		accepted.ID = sessionID
	}
	if accepted.Status == "" {
		accepted.Status = domain.StatusAccepted
	}
	if err := s.adopt(ctx, accepted, domain.StatusAccepted, sessionID); err != nil {
		return domain.Session{}, err
	}
	s.logger.Info("session accepted", "session_id", sessionID)
	return accepted, nil
}

// MarkCounterpartyArrived reports arrival to the server and, on success,
// records the pickup timestamp. The in-memory status is left for the
// channel to move.
func (s *SessionService) MarkCounterpartyArrived(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	tracked := s.session.ID
	s.mu.Unlock()
	if tracked == "" {
		return apperrors.ErrNoActiveSession
	}
	if sessionID == "" {
		sessionID = tracked
	}
	if sessionID != tracked {
		return fmt.Errorf("%w: session %s is not the active session", apperrors.ErrInvalidInput, sessionID)
	}
	if _, err := s.api.MarkArrived(ctx, sessionID); err != nil {
		return &apperrors.CallError{Op: "mark arrived", SessionID: sessionID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.ID != sessionID {
		s.logger.Info("arrival confirmed after session was cleared", "session_id", sessionID)
		return nil
	}
	rec, err := s.records.LoadRecord(ctx)
	if err != nil && !errors.Is(err, apperrors.ErrNoActiveSession) {
		return fmt.Errorf("load durable record: %w", err)
	}
	if rec.SessionID != sessionID || domain.StatusArrived.Ahead(rec.Status) {
		if err := s.records.SaveStatus(ctx, sessionID, domain.StatusArrived); err != nil {
			return fmt.Errorf("record arrival: %w", err)
		}
	}
	if err := s.records.SavePickup(ctx, sessionID, s.clock.Now()); err != nil {
		return fmt.Errorf("record pickup time: %w", err)
	}
	return nil
}

// Complete finishes sessionID on the server. It refuses, without calling the
// server, when no pickup was recorded for that session.
func (s *SessionService) Complete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if sessionID == "" {
		sessionID = s.session.ID
	}
	s.mu.Unlock()

	rec, err := s.records.LoadRecord(ctx)
	if err != nil && !errors.Is(err, apperrors.ErrNoActiveSession) {
		return fmt.Errorf("load durable record: %w", err)
	}
	if sessionID == "" || !rec.PickupRecorded(sessionID) {
		return apperrors.Invariant("complete %q before arrival was recorded", sessionID)
	}
	if _, err := s.api.CompleteSession(ctx, sessionID); err != nil {
		return &apperrors.CallError{Op: "complete session", SessionID: sessionID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.ID != sessionID {
		return nil
	}
	durable, err := s.records.LoadRecord(ctx)
	if err != nil && !errors.Is(err, apperrors.ErrNoActiveSession) {
		return fmt.Errorf("load durable record: %w", err)
	}
	switch {
	case s.session.Status.Terminal():
		s.logger.Info("session already ended on the server", "session_id", sessionID, "status", s.session.Status)
	case durable.SessionID == sessionID && durable.Status.Terminal():
		s.logger.Info("durable status already terminal", "session_id", sessionID, "status", durable.Status)
	default:
		if err := s.records.SaveStatus(ctx, sessionID, domain.StatusCompleted); err != nil {
			return fmt.Errorf("record completion: %w", err)
		}
	}
	s.scheduleClearLocked(sessionID)
	s.logger.Info("session completed", "session_id", sessionID)
	return nil
}

// Clear forgets the tracked session: durable record, in-memory state,
// subscription and timers. Calling it with nothing tracked is a no-op.
func (s *SessionService) Clear(ctx context.Context) error {
	s.mu.Lock()
	old := s.resetLocked()
	err := s.records.ClearRecord(ctx)
	s.mu.Unlock()

	s.release(old)
	s.notify()
	if err != nil {
		return fmt.Errorf("clear durable record: %w", err)
	}
	return nil
}

// clearPlaceholder clears only while sessionID is still the restore
// placeholder. A session accepted or replaced meanwhile is kept.
func (s *SessionService) clearPlaceholder(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if s.session.ID != sessionID || !s.placeholder {
		s.mu.Unlock()
		s.logger.Info("restore superseded, keeping tracked session", "session_id", sessionID)
		return nil
	}
	old := s.resetLocked()
	err := s.records.ClearRecord(ctx)
	s.mu.Unlock()

	s.release(old)
	s.notify()
	if err != nil {
		return fmt.Errorf("clear durable record: %w", err)
	}
	return nil
}

// Resubscribe reopens the channel for the tracked session, e.g. after the
// connection dropped.
func (s *SessionService) Resubscribe(ctx context.Context) error {
	s.mu.Lock()
	id := s.session.ID
	if id == "" || s.placeholder {
		s.mu.Unlock()
		return apperrors.ErrNoActiveSession
	}
	gen, old := s.rotateSubscriptionLocked()
	s.mu.Unlock()
	s.release(old)
	return s.subscribe(ctx, gen, id)
}

// Close releases the subscription and timers but keeps the durable record,
// so the next Restore can resume.
func (s *SessionService) Close() error {
	s.mu.Lock()
	s.stopClearTimerLocked()
	s.subGen++
	old := s.sub
	s.sub = nil
	s.mu.Unlock()
	s.release(old)
	return nil
}

func (s *SessionService) ensureFree(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.retired[sessionID]; sessionID != "" && gone {
		return apperrors.Invariant("session %s already ended", sessionID)
	}
	if sessionID != "" && s.session.ID == sessionID && s.session.Status.Terminal() {
		return apperrors.Invariant("session %s already ended", sessionID)
	}
	if s.session.IsZero() || s.session.Status.Terminal() {
		return nil
	}
	if sessionID != "" && s.session.ID == sessionID {
		return nil
	}
	return apperrors.ErrActiveSessionExists
}

// adopt writes (id, status) durably and then swaps the in-memory session,
// so a failed write leaves both untouched.
func (s *SessionService) adopt(ctx context.Context, session domain.Session, status domain.Status, expectID string) error {
	s.mu.Lock()
	if !s.session.IsZero() && !s.session.Status.Terminal() && s.session.ID != expectID {
		s.mu.Unlock()
		return apperrors.ErrActiveSessionExists
	}
	if _, gone := s.retired[session.ID]; gone || (s.session.ID == session.ID && s.session.Status.Terminal()) {
		s.mu.Unlock()
		return apperrors.Invariant("session %s already ended", session.ID)
	}
	if err := s.records.SaveStatus(ctx, session.ID, status); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist session %s: %w", session.ID, err)
	}
	if s.session.ID != "" && s.session.ID != session.ID {
		s.retired[s.session.ID] = struct{}{}
	}
	s.stopClearTimerLocked()
	s.session = session
	s.placeholder = false
	gen, old := s.rotateSubscriptionLocked()
	s.mu.Unlock()

	s.release(old)
	s.notify()
	_ = s.subscribe(ctx, gen, session.ID)
	return nil
}

func (s *SessionService) subscribe(ctx context.Context, gen uint64, sessionID string) error {
	if s.channel == nil {
		return nil
	}
	sub, err := s.channel.Subscribe(ctx, sessionID, func(pushed domain.Session) {
		s.applyPush(gen, pushed)
	})
	if err != nil {
		s.logger.Warn("subscribe to session updates failed", "session_id", sessionID, "error", err)
		return fmt.Errorf("subscribe %s: %w", sessionID, err)
	}
	s.mu.Lock()
	if s.subGen != gen {
		s.mu.Unlock()
		s.release(sub)
		return nil
	}
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// applyPush replaces the tracked session wholesale with a server snapshot.
func (s *SessionService) applyPush(gen uint64, pushed domain.Session) {
	s.mu.Lock()
	if gen != s.subGen || pushed.ID == "" || pushed.ID != s.session.ID {
		s.mu.Unlock()
		return
	}
	if _, gone := s.retired[pushed.ID]; gone {
		s.mu.Unlock()
		return
	}
	if err := pushed.Status.Validate(); err != nil {
		s.mu.Unlock()
		s.logger.Warn("ignoring push with invalid status", "session_id", pushed.ID, "error", err)
		return
	}
	s.session = pushed
	s.placeholder = false
	if err := s.records.SaveStatus(context.Background(), pushed.ID, pushed.Status); err != nil {
		s.logger.Warn("mirror pushed status failed", "session_id", pushed.ID, "error", err)
	}
	if pushed.Status.Terminal() {
		s.scheduleClearLocked(pushed.ID)
	}
	s.mu.Unlock()

	s.logger.Debug("session push applied", "session_id", pushed.ID, "status", pushed.Status)
	s.notify()
}

// scheduleClearLocked arms the grace-delay clear once per session; later
// terminal pushes do not push the deadline back.
func (s *SessionService) scheduleClearLocked(sessionID string) {
	if s.clearTimer != nil {
		return
	}
	s.clearGen++
	gen := s.clearGen
	s.clearTimer = s.clock.AfterFunc(s.grace, func() {
		s.mu.Lock()
		if gen != s.clearGen || s.session.ID != sessionID {
			s.mu.Unlock()
			return
		}
		s.clearTimer = nil
		s.mu.Unlock()
		if err := s.Clear(context.Background()); err != nil {
			s.logger.Warn("scheduled clear failed", "session_id", sessionID, "error", err)
		}
	})
}

func (s *SessionService) stopClearTimerLocked() {
	s.clearGen++
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
}

func (s *SessionService) rotateSubscriptionLocked() (uint64, sessionout.Subscription) {
	s.subGen++
	old := s.sub
	s.sub = nil
	return s.subGen, old
}

func (s *SessionService) resetLocked() sessionout.Subscription {
	s.stopClearTimerLocked()
	if s.session.ID != "" {
		s.retired[s.session.ID] = struct{}{}
	}
	s.session = domain.Session{}
	s.placeholder = false
	_, old := s.rotateSubscriptionLocked()
	return old
}

func (s *SessionService) release(sub sessionout.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		s.logger.Warn("unsubscribe failed", "error", err)
	}
}

func (s *SessionService) notify() {
	s.mu.Lock()
	snap := Snapshot{Session: s.session, Placeholder: s.placeholder}
	watchers := make([]func(Snapshot), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()
	for _, fn := range watchers {
		fn(snap)
	}
}
