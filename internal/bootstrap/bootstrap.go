package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	anomalyinadapter "sosguard/internal/modules/anomaly/adapter/in"
	anomalyoutadapter "sosguard/internal/modules/anomaly/adapter/out"
	anomalydomain "sosguard/internal/modules/anomaly/domain"
	anomalyout "sosguard/internal/modules/anomaly/port/out"
	anomalyservice "sosguard/internal/modules/anomaly/service"
	anomalyusecase "sosguard/internal/modules/anomaly/usecase"
	escalationinadapter "sosguard/internal/modules/escalation/adapter/in"
	escalationoutadapter "sosguard/internal/modules/escalation/adapter/out"
	escalationdomain "sosguard/internal/modules/escalation/domain"
	escalationservice "sosguard/internal/modules/escalation/service"
	escalationusecase "sosguard/internal/modules/escalation/usecase"
	sessioninadapter "sosguard/internal/modules/session/adapter/in"
	sessionoutadapter "sosguard/internal/modules/session/adapter/out"
	sessiondto "sosguard/internal/modules/session/dto"
	sessionin "sosguard/internal/modules/session/port/in"
	sessionout "sosguard/internal/modules/session/port/out"
	sessionservice "sosguard/internal/modules/session/service"
	sessionusecase "sosguard/internal/modules/session/usecase"
	voiceinadapter "sosguard/internal/modules/voice/adapter/in"
	voiceoutadapter "sosguard/internal/modules/voice/adapter/out"
	voicedomain "sosguard/internal/modules/voice/domain"
	voiceout "sosguard/internal/modules/voice/port/out"
	voiceservice "sosguard/internal/modules/voice/service"
	voiceusecase "sosguard/internal/modules/voice/usecase"
	"sosguard/internal/platform/clock"
	"sosguard/internal/platform/config"
	"sosguard/internal/platform/id"
	"sosguard/internal/platform/logging"
	uiapp "sosguard/internal/ui/app"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	SessionCLI    sessioninadapter.CLIHandler
	AnomalyCLI    anomalyinadapter.CLIHandler
	VoiceCLI      voiceinadapter.CLIHandler
	EscalationCLI *escalationinadapter.CLIHandler

	sessions   sessionin.Usecase
	anomaly    *anomalyservice.Monitor
	voice      *voiceservice.Monitor
	escalator  *escalationservice.Escalator
	scorer     anomalyout.Scorer
	liveMotion bool
	liveVoice  bool
	events     chan Event
	closers    []func() error
}

// Event is a human-readable notice from a running monitor or the escalator.
type Event struct {
	At      time.Time
	Kind    string
	Message string
}

type Options struct {
	// LogOutput receives structured logs; nil means stderr.
	LogOutput io.Writer
}

func New(cfg config.Config, opts Options) (*App, error) {
	logger := logging.New(opts.LogOutput, cfg.Logging.Level, cfg.Logging.Format)
	clk := clock.SystemClock{}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	records, err := newRecordStore(cfg)
	if err != nil {
		return nil, err
	}
	app := &App{
		Config:  cfg,
		Logger:  logger,
		events:  make(chan Event, 64),
		closers: []func() error{records.Close},
	}

	sessionSvc := sessionservice.NewSessionService(
		sessionoutadapter.NewHTTPDispatchAPI(cfg.API.BaseURL, cfg.API.Timeout),
		sessionoutadapter.NewWebSocketChannel(cfg.Channel.URL, cfg.Channel.HandshakeTimeout, logger),
		records,
		sessionservice.Options{Clock: clk, Logger: logger, GraceDelay: cfg.Session.GraceDelay},
	)
	app.sessions = sessionusecase.NewInteractor(sessionSvc, id.UUID{})
	app.closers = append([]func() error{app.sessions.Close}, app.closers...)
	app.SessionCLI = sessioninadapter.NewCLIHandler(app.sessions)

	app.escalator = escalationservice.NewEscalator(
		app.sessions,
		escalationoutadapter.NewStaticLocation(cfg.Escalation.Latitude, cfg.Escalation.Longitude),
		escalationservice.Options{Clock: clk, Logger: logger, Countdown: seconds(cfg.Escalation.CountdownSeconds)},
	)
	app.escalator.SetCallbacks(escalationservice.Callbacks{
		OnCountdown: func(trigger escalationdomain.Trigger, deadline time.Time) {
			app.emit("countdown", fmt.Sprintf("%s trigger, raising SOS at %s unless cancelled", trigger.Type, deadline.Format(time.TimeOnly)))
		},
		OnCancelled: func(trigger escalationdomain.Trigger) {
			app.emit("cancelled", trigger.Type+" trigger cancelled")
		},
		OnEscalated: func(session sessiondto.SessionOutput) {
			app.emit("escalated", "SOS raised, session "+session.SessionID)
		},
		OnError: func(err error) { app.emit("error", err.Error()) },
	})
	app.EscalationCLI = escalationinadapter.NewCLIHandler(escalationusecase.NewInteractor(app.escalator))

	scorer, err := newScorer(cfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.scorer = scorer
	if closer, ok := scorer.(io.Closer); ok {
		app.closers = append(app.closers, closer.Close)
	}
	anomalyCfg := anomalydomain.Config{
		Threshold:    cfg.Anomaly.Threshold,
		Verification: seconds(cfg.Anomaly.VerificationDurationSeconds),
		HistorySize:  cfg.Anomaly.HistorySize,
		WindowSize:   cfg.Anomaly.WindowSize,
	}
	var samples anomalyout.SampleSource
	if cfg.Anomaly.Enabled && strings.TrimSpace(cfg.Anomaly.SamplesPath) != "" {
		samples = anomalyoutadapter.NewFileSampleSource(cfg.Anomaly.SamplesPath, true)
		app.liveMotion = true
	}
	app.anomaly = anomalyservice.NewMonitor(scorer, samples, anomalyservice.Options{Clock: clk, Logger: logger})
	if err := app.anomaly.Initialize(anomalyCfg, anomalyservice.Callbacks{
		OnCrashConfirmed: func(ev anomalydomain.CrashEvent) {
			app.emit("crash", fmt.Sprintf("crash confirmed, score %.2f", ev.Score))
			app.trigger(escalationdomain.Trigger{Type: escalationdomain.TriggerCrash, Detail: fmt.Sprintf("score %.2f", ev.Score), At: ev.ConfirmedAt})
		},
		OnError: func(err error) { app.emit("error", "motion: "+err.Error()) },
	}); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("configure anomaly monitor: %w", err)
	}
	app.AnomalyCLI = anomalyinadapter.NewCLIHandler(anomalyusecase.NewInteractor(
		app.anomaly,
		scorer,
		anomalyCfg,
		func(path string) anomalyout.SampleSource { return anomalyoutadapter.NewFileSampleSource(path, false) },
		logger,
	))

	voiceCfg := voicedomain.Config{Keywords: cfg.Voice.Keywords, Cooldown: seconds(cfg.Voice.CooldownSeconds)}
	tokens := newTokenSource(cfg, logger)
	app.liveVoice = tokens != nil
	app.voice = voiceservice.NewMonitor(tokens, voiceservice.Options{Clock: clk, Logger: logger})
	if err := app.voice.Initialize(voiceCfg, voiceservice.Callbacks{
		OnTrigger: func(ev voicedomain.TriggerEvent) {
			app.emit("voice", fmt.Sprintf("heard %q", ev.Keyword))
			app.trigger(escalationdomain.Trigger{Type: escalationdomain.TriggerVoice, Detail: ev.Keyword, At: ev.At})
		},
		OnListeningStateChange: func(listening bool) {
			if listening {
				app.emit("voice", "listening")
			} else {
				app.emit("voice", "not listening")
			}
		},
		OnError: func(err error) { app.emit("error", "speech: "+err.Error()) },
	}); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("configure voice monitor: %w", err)
	}
	app.VoiceCLI = voiceinadapter.NewCLIHandler(voiceusecase.NewInteractor(
		app.voice,
		voiceCfg,
		func(path string) voiceout.TokenSource { return voiceoutadapter.NewFileTokenSource(path) },
		logger,
	))
	return app, nil
}

// Start restores any persisted session and starts the monitors that have a
// live source configured. Without one a monitor stays stopped and is only
// usable through replay.
func (a *App) Start(ctx context.Context) error {
	if err := a.sessions.Restore(ctx); err != nil {
		a.Logger.Warn("session restore failed", "error", err)
	}
	if a.liveMotion {
		if err := a.anomaly.StartMonitoring(ctx); err != nil {
			return fmt.Errorf("start motion monitoring: %w", err)
		}
	}
	if a.liveVoice {
		if err := a.voice.StartListening(ctx); err != nil {
			return fmt.Errorf("start listening: %w", err)
		}
	}
	return nil
}

// Events delivers monitor and escalation notices. Notices are dropped when
// nobody keeps up.
func (a *App) Events() <-chan Event {
	return a.events
}

func (a *App) Close() error {
	if a.anomaly != nil {
		a.anomaly.StopMonitoring()
	}
	if a.voice != nil {
		a.voice.StopListening()
	}
	if a.escalator != nil {
		a.escalator.Cancel()
	}
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) trigger(trigger escalationdomain.Trigger) {
	if _, err := a.escalator.Trigger(context.Background(), trigger); err != nil {
		a.emit("error", err.Error())
	}
}

func (a *App) emit(kind, message string) {
	a.Logger.Info(message, "event", kind)
	select {
	case a.events <- Event{At: time.Now(), Kind: kind, Message: message}:
	default:
	}
}

func newRecordStore(cfg config.Config) (sessionout.RecordStore, error) {
	switch cfg.Store {
	case config.StoreBolt:
		store, err := sessionoutadapter.NewBoltRecordStore(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("open bolt record store: %w", err)
		}
		return store, nil
	case config.StoreFile:
		return sessionoutadapter.NewFileRecordStore(cfg.DBPath()), nil
	default:
		store, err := sessionoutadapter.NewSQLiteRecordStore(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite record store: %w", err)
		}
		return store, nil
	}
}

func newScorer(cfg config.Config) (anomalyout.Scorer, error) {
	binary := strings.TrimSpace(cfg.Anomaly.ScorerPlugin)
	if binary == "" {
		return anomalyoutadapter.NewMagnitudeScorer(), nil
	}
	if _, err := os.Stat(binary); err != nil {
		return nil, fmt.Errorf("scorer plugin: %w", err)
	}
	return anomalyoutadapter.NewPluginScorer(binary, cfg.Anomaly.ScorerSHA256), nil
}

func newTokenSource(cfg config.Config, logger *slog.Logger) voiceout.TokenSource {
	switch {
	case !cfg.Voice.Enabled:
		return nil
	case strings.TrimSpace(cfg.Voice.TranscriptsURL) != "":
		return voiceoutadapter.NewWebSocketTokenSource(cfg.Voice.TranscriptsURL, cfg.Channel.HandshakeTimeout, logger)
	case strings.TrimSpace(cfg.Voice.TokensPath) != "":
		return voiceoutadapter.NewFileTokenSource(cfg.Voice.TokensPath)
	default:
		return nil
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// RunTUI starts the monitors and runs the dashboard until the user quits.
func RunTUI(ctx context.Context, app *App) error {
	if err := app.Start(ctx); err != nil {
		return err
	}
	notices := make(chan uiapp.Notice, cap(app.events))
	go func() {
		defer close(notices)
		for {
			select {
			case ev := <-app.events:
				select {
				case notices <- uiapp.Notice{At: ev.At, Kind: ev.Kind, Message: ev.Message}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	model := uiapp.NewModel(uiapp.Ports{
		Session:    app.SessionCLI,
		Escalation: app.EscalationCLI,
		Anomaly:    app.AnomalyCLI,
		Voice:      app.VoiceCLI,
		Notices:    notices,
		Threshold:  app.Config.Anomaly.Threshold,
	})
	_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ScorerInfo describes the configured crash scorer. A plugin scorer is
// started and asked for its metadata, which also verifies its checksum.
func (a *App) ScorerInfo(ctx context.Context) (ScorerInfo, error) {
	plugin, ok := a.scorer.(*anomalyoutadapter.PluginScorer)
	if !ok {
		return ScorerInfo{Name: "magnitude", Builtin: true}, nil
	}
	meta, err := plugin.Metadata(ctx)
	if err != nil {
		return ScorerInfo{}, err
	}
	return ScorerInfo{Name: meta.Name, Version: meta.Version, WindowSize: int(meta.WindowSize), Binary: a.Config.Anomaly.ScorerPlugin}, nil
}

type ScorerInfo struct {
	Name       string
	Version    string
	WindowSize int
	Binary     string
	Builtin    bool
}
