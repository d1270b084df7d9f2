// Command aria runs the desktop companion core: it keeps a live voice
// session open, serves metrics, and exposes a small text console for
// driving the session from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ambient-labs/aria/internal/activity"
	"github.com/ambient-labs/aria/internal/calendar"
	"github.com/ambient-labs/aria/internal/chatlog"
	"github.com/ambient-labs/aria/internal/config"
	"github.com/ambient-labs/aria/internal/live"
	"github.com/ambient-labs/aria/internal/memory"
	"github.com/ambient-labs/aria/internal/nudge"
	"github.com/ambient-labs/aria/internal/observability"
	"github.com/ambient-labs/aria/internal/personality"
	"github.com/ambient-labs/aria/internal/reminder"
	"github.com/ambient-labs/aria/internal/session"
	"github.com/ambient-labs/aria/internal/tooldispatch"
)

// Version is set via ldflags.
var Version = "dev"

var configFile string

func main() {
	root := &cobra.Command{
		Use:           "aria",
		Short:         "Always-on AI companion core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigPath(), "configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Connect and run the companion session",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(*cobra.Command, []string) {
				fmt.Printf("aria %s\n", Version)
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatalf("aria: %v", err)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "aria.yaml"
	}
	return filepath.Join(home, ".aria", "config.yaml")
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Printf("[aria] starting v%s (model %s)", Version, cfg.Model)

	observability.InitMetrics()
	if err := observability.InitTracing(observability.TracingConfig{
		Exporter:     cfg.Observability.TraceExporter,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := observability.ShutdownTracing(context.Background()); err != nil {
			log.Printf("[aria] tracing shutdown: %v", err)
		}
	}()

	stateDir := cfg.Storage.Dir

	chat, err := openChatLog(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = chat.Close() }()

	reminders, err := reminder.NewStore(filepath.Join(stateDir, "reminders.json"))
	if err != nil {
		return err
	}
	defer func() { _ = reminders.Close() }()

	cal, err := calendar.NewStore(filepath.Join(stateDir, "calendar.json"))
	if err != nil {
		return err
	}
	if cfg.Persona.UserBirthday != "" {
		var m, d int
		if _, err := fmt.Sscanf(cfg.Persona.UserBirthday, "%d-%d", &m, &d); err == nil {
			cal.SetBirthday(time.Month(m), d)
		} else {
			log.Printf("[aria] ignoring malformed user_birthday %q", cfg.Persona.UserBirthday)
		}
	}
	cal.SetSpecialDates(cfg.Persona.SpecialDates)

	mem, err := memory.NewStore(filepath.Join(stateDir, "memory.jsonl"))
	if err != nil {
		return err
	}
	persona, err := personality.New(filepath.Join(stateDir, "personality.json"))
	if err != nil {
		return err
	}
	defer persona.Flush()

	clock := activity.NewClock(activity.DefaultTopicMemorySize)
	nudges := nudge.NewScheduler(cfg.Nudge, clock)

	tools := tooldispatch.NewTable()
	deps := tooldispatch.BuiltinDeps{
		Reminders:   reminders,
		Calendar:    cal,
		Memory:      mem,
		Personality: persona,
	}
	tools.RegisterBuiltins(deps)
	tools.UpdatePermissions(cfg.ToolPermissions)

	dialer, err := live.NewGenAIDialer(ctx, live.GenAIConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		Voice:  cfg.Voice,
		Tools:  tooldispatch.Declarations(deps),
	})
	if err != nil {
		return err
	}

	console := newConsole()
	sess, err := session.New(session.Options{
		Dialer:      dialer,
		Tools:       tools,
		ChatLog:     chat,
		Memory:      mem,
		Personality: persona,
		Calendar:    cal,
		Reminders:   reminders,
		Clock:       clock,
		Nudges:      nudges,
		Audio: session.AudioOptions{
			InputDevice:      cfg.Audio.InputDevice,
			PlaybackDisabled: cfg.Audio.PlaybackDisabled,
			VADThreshold:     cfg.Audio.VADThreshold,
			Silence:          time.Duration(cfg.Audio.SilenceMs) * time.Millisecond,
		},
		Video: session.VideoOptions{
			Mode:   cfg.Video.Mode,
			FPS:    cfg.Video.FPS,
			Device: cfg.Video.Device,
		},
		SystemPrompt: cfg.Persona.SystemPrompt,
		StartMessage: cfg.Persona.StartMessage,
		ReplayTurns:  cfg.ReplayTurns,
		Callbacks:    console.callbacks(cfg.Persona.Name),
	})
	if err != nil {
		return err
	}
	console.attach(sess)

	if len(cfg.Routines) > 0 {
		routines, err := reminder.NewRoutines(cfg.Routines, func(r reminder.Routine) {
			sess.NotifySystem(r.Message)
		})
		if err != nil {
			return err
		}
		routines.Start()
		defer routines.Stop()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	var obsServer *observability.Server
	if cfg.Observability.MetricsPort > 0 {
		obsServer = observability.NewServer(cfg.Observability.MetricsPort)
		g.Go(func() error {
			log.Printf("[aria] metrics on :%d", cfg.Observability.MetricsPort)
			if err := obsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("observability server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return obsServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		err := sess.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer cancel()
		return console.loop(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Println("[aria] stopped")
	return nil
}

func openChatLog(cfg *config.Config) (chatlog.Log, error) {
	switch cfg.Storage.ChatBackend {
	case "redis":
		return chatlog.NewRedisLog(chatlog.RedisConfig{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
	default:
		return chatlog.NewFileLog(filepath.Join(cfg.Storage.Dir, "chatlog.jsonl"))
	}
}

// renderArgs flattens tool args for the confirmation prompt.
func renderArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
