package app

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	anomalydto "sosguard/internal/modules/anomaly/dto"
	escalationdto "sosguard/internal/modules/escalation/dto"
	sessiondto "sosguard/internal/modules/session/dto"
	voicedto "sosguard/internal/modules/voice/dto"
)

type fakeEscalation struct {
	pending   *escalationdto.PendingOutput
	triggered []string
}

func (f *fakeEscalation) Trigger(_ context.Context, kind, _ string) (bool, error) {
	f.triggered = append(f.triggered, kind)
	return true, nil
}

func (f *fakeEscalation) Cancel() bool {
	had := f.pending != nil
	f.pending = nil
	return had
}

func (f *fakeEscalation) Pending() (escalationdto.PendingOutput, bool) {
	if f.pending == nil {
		return escalationdto.PendingOutput{}, false
	}
	return *f.pending, true
}

type fakeSession struct{ out sessiondto.SessionOutput }

func (f fakeSession) Current(context.Context) (sessiondto.SessionOutput, error) {
	return f.out, nil
}

type fakeMonitors struct{ resets int }

func (f *fakeMonitors) Status() voicedto.StatusOutput {
	return voicedto.StatusOutput{Listening: true}
}

func (f *fakeMonitors) ResetCooldown() { f.resets++ }

type fakeAnomaly struct{}

func (fakeAnomaly) Status() anomalydto.StatusOutput {
	return anomalydto.StatusOutput{State: "verifying", LastScore: 0.91}
}

func (fakeAnomaly) History() []anomalydto.ScoreOutput {
	return []anomalydto.ScoreOutput{{Score: 0.1}, {Score: 0.91}}
}

func TestDashboardShowsCountdownAndCancels(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	esc := &fakeEscalation{pending: &escalationdto.PendingOutput{Type: "crash", Deadline: now.Add(7 * time.Second)}}
	voice := &fakeMonitors{}
	m := NewModel(Ports{
		Session:    fakeSession{out: sessiondto.SessionOutput{SessionID: "42", Status: "ACCEPTED", CounterpartyName: "Asha"}},
		Escalation: esc,
		Anomaly:    fakeAnomaly{},
		Voice:      voice,
		Threshold:  0.7,
	})

	model, _ := m.Update(tickMsg(now))
	view := model.View()
	for _, want := range []string{"SOS in 7s", "trigger crash", "42", "Asha", "verifying", "listening"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}

	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if esc.pending != nil {
		t.Fatalf("cancel key must cancel the countdown")
	}
	if !strings.Contains(model.View(), "countdown cancelled") {
		t.Fatalf("expected cancel status")
	}

	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if voice.resets != 1 {
		t.Fatalf("reset key must reset the voice cooldown")
	}
}

func TestManualSOSRunsTriggerCommand(t *testing.T) {
	t.Parallel()
	esc := &fakeEscalation{}
	m := NewModel(Ports{Escalation: esc})
	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	if cmd == nil {
		t.Fatalf("expected a trigger command")
	}
	msg := cmd()
	model, _ = model.Update(msg)
	if len(esc.triggered) != 1 || esc.triggered[0] != "manual" {
		t.Fatalf("unexpected triggers %v", esc.triggered)
	}
	if !strings.Contains(model.View(), "SOS requested") {
		t.Fatalf("expected requested status")
	}
}

func TestNoticesAreCapped(t *testing.T) {
	t.Parallel()
	notices := make(chan Notice, 1)
	m := NewModel(Ports{Notices: notices})
	var model tea.Model = m
	for i := 0; i < noticeLimit+3; i++ {
		model, _ = model.Update(noticeMsg{Kind: "voice", Message: "heard"})
	}
	if got := len(model.(Model).notices); got != noticeLimit {
		t.Fatalf("expected %d notices, got %d", noticeLimit, got)
	}
}
