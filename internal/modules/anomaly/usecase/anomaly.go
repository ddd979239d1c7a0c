package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sosguard/internal/modules/anomaly/domain"
	anomalydto "sosguard/internal/modules/anomaly/dto"
	anomalyin "sosguard/internal/modules/anomaly/port/in"
	anomalyout "sosguard/internal/modules/anomaly/port/out"
	"sosguard/internal/modules/anomaly/service"
	"sosguard/internal/platform/clock"
	apperrors "sosguard/internal/platform/errors"
	"sosguard/internal/platform/logging"
)

// SourceOpener opens a recorded sample stream for replay.
type SourceOpener func(path string) anomalyout.SampleSource

type Interactor struct {
	monitor *service.Monitor
	scorer  anomalyout.Scorer
	cfg     domain.Config
	open    SourceOpener
	logger  *slog.Logger
}

func NewInteractor(monitor *service.Monitor, scorer anomalyout.Scorer, cfg domain.Config, open SourceOpener, logger *slog.Logger) anomalyin.Usecase {
	return &Interactor{monitor: monitor, scorer: scorer, cfg: cfg, open: open, logger: logging.OrNop(logger)}
}

func (i *Interactor) Start(ctx context.Context) error {
	return i.monitor.StartMonitoring(ctx)
}

func (i *Interactor) Stop() {
	i.monitor.StopMonitoring()
}

func (i *Interactor) History() []anomalydto.ScoreOutput {
	points := i.monitor.GetAnomalyScoreHistory()
	out := make([]anomalydto.ScoreOutput, 0, len(points))
	for _, p := range points {
		out = append(out, anomalydto.ScoreOutput{At: p.At, Score: p.Score})
	}
	return out
}

func (i *Interactor) Status() anomalydto.StatusOutput {
	return toStatus(i.monitor.Status())
}

func (i *Interactor) Replay(ctx context.Context, input anomalydto.ReplayInput) (anomalydto.ReplayOutput, error) {
	if strings.TrimSpace(input.Path) == "" {
		return anomalydto.ReplayOutput{}, fmt.Errorf("%w: sample file is required", apperrors.ErrInvalidInput)
	}
	if i.open == nil {
		return anomalydto.ReplayOutput{}, fmt.Errorf("replay is not configured")
	}
	events, err := i.open(input.Path).Stream(ctx)
	if err != nil {
		return anomalydto.ReplayOutput{}, err
	}

	out := anomalydto.ReplayOutput{}
	var clk *clock.Manual
	var monitor *service.Monitor
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if monitor != nil {
					out.Final = toStatus(monitor.Status())
					monitor.StopMonitoring()
				}
				return out, nil
			}
			if ev.Err != nil {
				out.Faults = append(out.Faults, ev.Err.Error())
				continue
			}
			if monitor == nil {
				clk = clock.NewManual(ev.Sample.At)
				monitor, err = i.replayMonitor(ctx, clk, &out)
				if err != nil {
					return out, err
				}
			}
			clk.Set(ev.Sample.At)
			out.Samples++
			_ = monitor.Observe(ctx, ev.Sample)
		}
	}
}

func (i *Interactor) replayMonitor(ctx context.Context, clk *clock.Manual, out *anomalydto.ReplayOutput) (*service.Monitor, error) {
	monitor := service.NewMonitor(i.scorer, nil, service.Options{Clock: clk, Logger: i.logger})
	err := monitor.Initialize(i.cfg, service.Callbacks{
		OnScoreUpdate: func(score float64) {
			out.Scores = append(out.Scores, anomalydto.ScoreOutput{At: clk.Now(), Score: score})
		},
		OnCrashConfirmed: func(ev domain.CrashEvent) {
			out.Crashes = append(out.Crashes, anomalydto.CrashOutput{CandidateSince: ev.CandidateSince, ConfirmedAt: ev.ConfirmedAt, Score: ev.Score})
		},
		OnError: func(err error) {
			out.Faults = append(out.Faults, err.Error())
		},
	})
	if err != nil {
		return nil, err
	}
	if err := monitor.StartMonitoring(ctx); err != nil {
		return nil, err
	}
	return monitor, nil
}

func toStatus(st domain.Status) anomalydto.StatusOutput {
	return anomalydto.StatusOutput{
		State:           string(st.State),
		CandidateSince:  st.CandidateSince,
		LastConfirmedAt: st.LastConfirmedAt,
		LastScore:       st.LastScore,
		Samples:         st.Samples,
	}
}
