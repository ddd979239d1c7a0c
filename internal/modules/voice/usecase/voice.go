package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sosguard/internal/modules/voice/domain"
	voicedto "sosguard/internal/modules/voice/dto"
	voicein "sosguard/internal/modules/voice/port/in"
	voiceout "sosguard/internal/modules/voice/port/out"
	"sosguard/internal/modules/voice/service"
	"sosguard/internal/platform/clock"
	apperrors "sosguard/internal/platform/errors"
	"sosguard/internal/platform/logging"
)

// SourceOpener opens a recorded transcript for replay.
type SourceOpener func(path string) voiceout.TokenSource

type Interactor struct {
	monitor *service.Monitor
	cfg     domain.Config
	open    SourceOpener
	logger  *slog.Logger
}

func NewInteractor(monitor *service.Monitor, cfg domain.Config, open SourceOpener, logger *slog.Logger) voicein.Usecase {
	return &Interactor{monitor: monitor, cfg: cfg, open: open, logger: logging.OrNop(logger)}
}

func (i *Interactor) Start(ctx context.Context) error {
	return i.monitor.StartListening(ctx)
}

func (i *Interactor) Stop() {
	i.monitor.StopListening()
}

func (i *Interactor) ResetCooldown() {
	i.monitor.ResetCooldown()
}

func (i *Interactor) Status() voicedto.StatusOutput {
	st := i.monitor.Status()
	return voicedto.StatusOutput{
		Listening:       st.Listening,
		CoolingDown:     st.CoolingDown,
		CooldownUntil:   st.CooldownUntil,
		LastTriggeredAt: st.LastTriggeredAt,
	}
}

// Replay feeds a recorded transcript through a fresh monitor whose clock
// follows the token timestamps.
func (i *Interactor) Replay(ctx context.Context, input voicedto.ReplayInput) (voicedto.ReplayOutput, error) {
	if strings.TrimSpace(input.Path) == "" {
		return voicedto.ReplayOutput{}, fmt.Errorf("%w: transcript file is required", apperrors.ErrInvalidInput)
	}
	if i.open == nil {
		return voicedto.ReplayOutput{}, fmt.Errorf("replay is not configured")
	}
	events, err := i.open(input.Path).Stream(ctx)
	if err != nil {
		return voicedto.ReplayOutput{}, err
	}

	out := voicedto.ReplayOutput{}
	var clk *clock.Manual
	var monitor *service.Monitor
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if monitor != nil {
					monitor.StopListening()
				}
				return out, nil
			}
			if ev.Err != nil {
				out.Faults = append(out.Faults, ev.Err.Error())
				continue
			}
			if monitor == nil {
				clk = clock.NewManual(ev.Token.At)
				monitor = service.NewMonitor(nil, service.Options{Clock: clk, Logger: i.logger})
				err := monitor.Initialize(i.cfg, service.Callbacks{
					OnTrigger: func(ev domain.TriggerEvent) {
						out.Triggers = append(out.Triggers, voicedto.TriggerOutput{Type: ev.Type, Keyword: ev.Keyword, Transcript: ev.Transcript, At: ev.At})
					},
				})
				if err != nil {
					return out, err
				}
				if err := monitor.StartListening(ctx); err != nil {
					return out, err
				}
			}
			if !ev.Token.At.IsZero() {
				clk.Set(ev.Token.At)
			}
			out.Tokens++
			monitor.Observe(ev.Token)
		}
	}
}
