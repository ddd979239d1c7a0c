package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sosguard/internal/modules/voice/domain"
	voicedto "sosguard/internal/modules/voice/dto"
	voiceout "sosguard/internal/modules/voice/port/out"
	"sosguard/internal/modules/voice/service"
	"sosguard/internal/modules/voice/usecase"
	apperrors "sosguard/internal/platform/errors"
)

type sliceSource []domain.TokenEvent

func (s sliceSource) Stream(ctx context.Context) (<-chan domain.TokenEvent, error) {
	out := make(chan domain.TokenEvent)
	go func() {
		defer close(out)
		for _, ev := range s {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func at(sec int) time.Time {
	return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second)
}

func TestReplayAppliesCooldownOnRecordedTime(t *testing.T) {
	t.Parallel()
	events := sliceSource{
		{Token: domain.Token{At: at(0), Text: "help me"}},
		{Token: domain.Token{At: at(10), Text: "HELP"}},
		{Err: errors.New("line 3: bad json")},
		{Token: domain.Token{At: at(41), Text: "there's been an accident"}},
	}
	open := func(string) voiceout.TokenSource { return events }
	uc := usecase.NewInteractor(service.NewMonitor(nil, service.Options{}), domain.DefaultConfig(), open, nil)

	out, err := uc.Replay(context.Background(), voicedto.ReplayInput{Path: "call.jsonl"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if out.Tokens != 3 || len(out.Faults) != 1 {
		t.Fatalf("tokens=%d faults=%v", out.Tokens, out.Faults)
	}
	if len(out.Triggers) != 2 {
		t.Fatalf("expected two triggers, got %+v", out.Triggers)
	}
	if out.Triggers[1].Keyword != "accident" || !out.Triggers[1].At.Equal(at(41)) {
		t.Fatalf("unexpected trigger %+v", out.Triggers[1])
	}
}

func TestReplayRequiresPath(t *testing.T) {
	t.Parallel()
	uc := usecase.NewInteractor(service.NewMonitor(nil, service.Options{}), domain.DefaultConfig(), nil, nil)
	if _, err := uc.Replay(context.Background(), voicedto.ReplayInput{}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestLiveMonitorControls(t *testing.T) {
	t.Parallel()
	uc := usecase.NewInteractor(service.NewMonitor(nil, service.Options{}), domain.DefaultConfig(), nil, nil)
	if err := uc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !uc.Status().Listening {
		t.Fatalf("expected listening")
	}
	uc.ResetCooldown()
	uc.Stop()
	if uc.Status().Listening {
		t.Fatalf("expected stopped")
	}
}
