package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"sosguard/internal/bootstrap"
	sessiondto "sosguard/internal/modules/session/dto"
	"sosguard/internal/platform/config"
	apperrors "sosguard/internal/platform/errors"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dataDir string

	root := &cobra.Command{
		Use:           "sos",
		Short:         "Personal SOS guard: crash and voice triggers, session tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", ".sos", "directory holding sos.yaml and the session record")

	root.AddCommand(newRunCmd(&dataDir))
	root.AddCommand(newSessionCmd(&dataDir))
	root.AddCommand(newEscalateCmd(&dataDir))
	root.AddCommand(newMonitorCmd(&dataDir))
	root.AddCommand(newScorerCmd(&dataDir))
	root.AddCommand(newConfigCmd(&dataDir))
	return root
}

func loadApp(dataDir string, logOutput io.Writer) (*bootstrap.App, error) {
	cfg, err := config.New(dataDir)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(cfg, bootstrap.Options{LogOutput: logOutput})
}

// loadRestored opens the app and resumes the persisted session, if any.
func loadRestored(ctx context.Context, dataDir string) (*bootstrap.App, error) {
	app, err := loadApp(dataDir, os.Stderr)
	if err != nil {
		return nil, err
	}
	if err := app.SessionCLI.Restore(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(dataDir *string) *cobra.Command {
	var headless bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitors with a live dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()
			if !headless {
				logFile, err := openLogFile(*dataDir)
				if err != nil {
					return err
				}
				defer logFile.Close()
				app, err := loadApp(*dataDir, logFile)
				if err != nil {
					return err
				}
				defer app.Close()
				return bootstrap.RunTUI(ctx, app)
			}

			app, err := loadApp(*dataDir, os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Start(ctx); err != nil {
				return err
			}
			stopWatch := app.SessionCLI.Watch(func(s sessiondto.SessionOutput) {
				printSession(cmd.OutOrStdout(), s)
			})
			defer stopWatch()
			for {
				select {
				case ev := <-app.Events():
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %-9s %s\n", ev.At.Format(time.TimeOnly), ev.Kind, ev.Message)
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "print activity lines instead of the dashboard")
	return cmd
}

func openLogFile(dataDir string) (*os.File, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dataDir, "sos.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func newSessionCmd(dataDir *string) *cobra.Command {
	session := &cobra.Command{Use: "session", Short: "SOS session lifecycle"}

	session.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the active session and its durable record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := context.Background()
			app, err := loadRestored(ctx, *dataDir)
			if err != nil {
				return err
			}
			defer app.Close()
			current, err := app.SessionCLI.Current(ctx)
			if errors.Is(err, apperrors.ErrNoActiveSession) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no active session")
				return nil
			}
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), current)
			if record, err := app.SessionCLI.Record(ctx); err == nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "record: %s %s", record.SessionID, record.Status)
				if !record.PickupAt.IsZero() {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), " pickup=%s", record.PickupAt.Format(time.RFC3339))
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	})

	session.AddCommand(&cobra.Command{
		Use:   "restore",
		Short: "Resume the persisted session, clearing it if the server no longer tracks it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := context.Background()
			app, err := loadRestored(ctx, *dataDir)
			if err != nil {
				return err
			}
			defer app.Close()
			current, err := app.SessionCLI.Current(ctx)
			if errors.Is(err, apperrors.ErrNoActiveSession) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "nothing to resume")
				return nil
			}
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), current)
			return nil
		},
	})

	var trigger string
	var lat, lon float64
	begin := &cobra.Command{
		Use:   "begin",
		Short: "Raise an SOS immediately, without a countdown",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := context.Background()
			app, err := loadRestored(ctx, *dataDir)
			if err != nil {
				return err
			}
			defer app.Close()
			if !cmd.Flags().Changed("lat") && !cmd.Flags().Changed("lon") {
				lat, lon = app.Config.Escalation.Latitude, app.Config.Escalation.Longitude
			}
			out, err := app.SessionCLI.Begin(ctx, trigger, lat, lon)
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), out)
			return nil
		},
	}
	begin.Flags().StringVar(&trigger, "trigger", "manual", "trigger: crash|voice|manual")
	begin.Flags().Float64Var(&lat, "lat", 0, "origin latitude (defaults to the configured location)")
	begin.Flags().Float64Var(&lon, "lon", 0, "origin longitude (defaults to the configured location)")

	accept := &cobra.Command{
		Use:   "accept <session-id>",
		Short: "Accept a session as the responder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			app, err := loadRestored(ctx, *dataDir)
			if err != nil {
				return err
			}
			defer app.Close()
			out, err := app.SessionCLI.Accept(ctx, args[0])
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), out)
			return nil
		},
	}

	arrive := &cobra.Command{
		Use:   "arrive <session-id>",
		Short: "Report arrival at the person in need",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			app, err := loadRestored(ctx, *dataDir)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.SessionCLI.Arrive(ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "arrival recorded for %s\n", args[0])
			return nil
		},
	}

	complete := &cobra.Command{
		Use:   "complete <session-id>",
		Short: "Complete a session after pickup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			app, err := loadRestored(ctx, *dataDir)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.SessionCLI.Complete(ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "session %s completed\n", args[0])
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget the active session locally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(*dataDir, os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.SessionCLI.Clear(context.Background()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "session cleared")
			return nil
		},
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Follow the active session until it ends or you interrupt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()
			app, err := loadApp(*dataDir, os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close()
			ended := make(chan struct{}, 1)
			stopWatch := app.SessionCLI.Watch(func(s sessiondto.SessionOutput) {
				if !s.Active() {
					select {
					case ended <- struct{}{}:
					default:
					}
					return
				}
				printSession(cmd.OutOrStdout(), s)
			})
			defer stopWatch()
			if err := app.SessionCLI.Restore(ctx); err != nil {
				return err
			}
			if _, err := app.SessionCLI.Current(ctx); err != nil {
				return err
			}
			select {
			case <-ended:
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "session ended")
			case <-ctx.Done():
			}
			return nil
		},
	}

	session.AddCommand(begin, accept, arrive, complete, clearCmd, watch)
	return session
}

func newEscalateCmd(dataDir *string) *cobra.Command {
	var kind, detail string
	cmd := &cobra.Command{
		Use:   "escalate",
		Short: "Start the SOS countdown; interrupt to cancel it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()
			app, err := loadRestored(context.Background(), *dataDir)
			if err != nil {
				return err
			}
			defer app.Close()
			started, err := app.EscalationCLI.Trigger(ctx, kind, detail)
			if err != nil {
				return err
			}
			if !started {
				return fmt.Errorf("not escalated: a session or countdown is already active")
			}
			for {
				select {
				case ev := <-app.Events():
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), ev.Message)
					switch ev.Kind {
					case "escalated", "cancelled":
						return nil
					case "error":
						return errors.New(ev.Message)
					}
				case <-ctx.Done():
					if app.EscalationCLI.Cancel() {
						_, _ = fmt.Fprintln(cmd.OutOrStdout(), "countdown cancelled")
					}
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&kind, "type", "manual", "trigger: crash|voice|manual")
	cmd.Flags().StringVar(&detail, "detail", "", "free-form note kept with the trigger")
	return cmd
}

func newMonitorCmd(dataDir *string) *cobra.Command {
	monitor := &cobra.Command{Use: "monitor", Short: "Replay recorded sensor and speech input"}

	var showScores bool
	replayMotion := &cobra.Command{
		Use:   "replay-motion <samples.jsonl|->",
		Short: "Replay motion samples through the crash detector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*dataDir, os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close()
			out, err := app.AnomalyCLI.Replay(context.Background(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if showScores {
				for _, s := range out.Scores {
					_, _ = fmt.Fprintf(w, "%s\t%.3f\n", s.At.Format(time.RFC3339Nano), s.Score)
				}
			}
			for _, f := range out.Faults {
				_, _ = fmt.Fprintf(w, "fault: %s\n", f)
			}
			for _, c := range out.Crashes {
				_, _ = fmt.Fprintf(w, "crash confirmed at %s (candidate since %s, score %.2f)\n", c.ConfirmedAt.Format(time.RFC3339Nano), c.CandidateSince.Format(time.RFC3339Nano), c.Score)
			}
			_, _ = fmt.Fprintf(w, "samples=%d crashes=%d faults=%d final=%s\n", out.Samples, len(out.Crashes), len(out.Faults), out.Final.State)
			return nil
		},
	}
	replayMotion.Flags().BoolVar(&showScores, "scores", false, "print every score")

	replayVoice := &cobra.Command{
		Use:   "replay-voice <transcript|->",
		Short: "Replay a transcript through the keyword matcher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*dataDir, os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close()
			out, err := app.VoiceCLI.Replay(context.Background(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, f := range out.Faults {
				_, _ = fmt.Fprintf(w, "fault: %s\n", f)
			}
			for _, t := range out.Triggers {
				_, _ = fmt.Fprintf(w, "trigger %q at %s: %s\n", t.Keyword, t.At.Format(time.RFC3339Nano), t.Transcript)
			}
			_, _ = fmt.Fprintf(w, "tokens=%d triggers=%d faults=%d\n", out.Tokens, len(out.Triggers), len(out.Faults))
			return nil
		},
	}

	monitor.AddCommand(replayMotion, replayVoice)
	return monitor
}

func newScorerCmd(dataDir *string) *cobra.Command {
	scorer := &cobra.Command{Use: "scorer", Short: "Crash scorer operations"}
	scorer.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Verify the configured scorer starts and report what it announces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(*dataDir, os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			info, err := app.ScorerInfo(ctx)
			if err != nil {
				return err
			}
			if info.Builtin {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "scorer=%s (built in)\n", info.Name)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "scorer=%s@%s window=%d binary=%s ok\n", info.Name, info.Version, info.WindowSize, info.Binary)
			return nil
		},
	})
	return scorer
}

func newConfigCmd(dataDir *string) *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Configuration"}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default sos.yaml into the data dir",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default(*dataDir)
			if _, err := os.Stat(cfg.Path()); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfg.Path())
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfg.Path())
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New(*dataDir)
			if err != nil {
				return err
			}
			raw, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), string(raw))
			return nil
		},
	}

	cfgCmd.AddCommand(initCmd, show)
	return cfgCmd
}

func printSession(w io.Writer, s sessiondto.SessionOutput) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "session %s status=%s", s.SessionID, s.Status)
	if s.Placeholder {
		sb.WriteString(" (restoring)")
	}
	if s.CounterpartyName != "" {
		fmt.Fprintf(&sb, " helper=%q", s.CounterpartyName)
	}
	if s.CounterpartyPhone != "" {
		fmt.Fprintf(&sb, " phone=%s", s.CounterpartyPhone)
	}
	if s.CounterpartyLatitude != nil && s.CounterpartyLongitude != nil {
		fmt.Fprintf(&sb, " helper_at=%.5f,%.5f", *s.CounterpartyLatitude, *s.CounterpartyLongitude)
	}
	fmt.Fprintf(&sb, " origin=%.5f,%.5f", s.OriginLatitude, s.OriginLongitude)
	_, _ = fmt.Fprintln(w, sb.String())
}
