package usecase_test

import (
	"context"
	"testing"
	"time"

	"sosguard/internal/modules/escalation/dto"
	"sosguard/internal/modules/escalation/service"
	"sosguard/internal/modules/escalation/usecase"
	sessiondto "sosguard/internal/modules/session/dto"
	sessionin "sosguard/internal/modules/session/port/in"
	"sosguard/internal/platform/clock"
	apperrors "sosguard/internal/platform/errors"
)

type idleSessions struct {
	sessionin.Usecase
	begun []string
}

func (s *idleSessions) Current(context.Context) (sessiondto.SessionOutput, error) {
	return sessiondto.SessionOutput{}, apperrors.ErrNoActiveSession
}

func (s *idleSessions) Begin(_ context.Context, input sessiondto.BeginInput) (sessiondto.SessionOutput, error) {
	s.begun = append(s.begun, input.Trigger)
	return sessiondto.SessionOutput{SessionID: "1"}, nil
}

func TestTriggerDefaultsToManualAndReportsPending(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	sessions := &idleSessions{}
	interactor := usecase.NewInteractor(service.NewEscalator(sessions, nil, service.Options{Clock: clk, Countdown: 10 * time.Second}))

	if started, err := interactor.Trigger(context.Background(), dto.TriggerInput{Detail: "button"}); err != nil || !started {
		t.Fatalf("trigger: started=%v err=%v", started, err)
	}
	pending, ok := interactor.Pending()
	if !ok || pending.Type != "manual" || pending.Detail != "button" || !pending.Deadline.Equal(start.Add(10*time.Second)) {
		t.Fatalf("unexpected pending %+v ok=%v", pending, ok)
	}
	clk.Advance(10 * time.Second)
	if len(sessions.begun) != 1 || sessions.begun[0] != "manual" {
		t.Fatalf("unexpected begins %v", sessions.begun)
	}
	if interactor.Cancel() {
		t.Fatalf("nothing left to cancel")
	}
}
