// Command parley is a push-to-talk voice client for a remote conversation
// endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/audio/portaudio"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/memory/postgres"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
	"github.com/MrWong99/parley/pkg/transport"
	"github.com/MrWong99/parley/pkg/transport/websocket"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "parley.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Load configuration ────────────────────────────────────────────────────
	// The reload callback needs the controller, which needs the config. The
	// watcher does not poll before Run, so ctrl is set by then.
	var (
		ctrl   *conversation.Controller
		player *playback.Engine
	)
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(config.Diff(old, new), new, &level, ctrl, player)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()
	level.Set(cfg.Server.LogLevel.Level())

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"endpoint", cfg.Endpoint.URL,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Setup(observe.ProviderConfig{
		ServiceVersion: version,
		Username:       cfg.Identity.Username,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics, err := telemetry.Metrics()
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Transcripts (optional) ────────────────────────────────────────────────
	var (
		store    *postgres.Store
		recorder *transcript.Recorder
	)
	if dsn := cfg.Transcripts.PostgresDSN; dsn != "" {
		store, err = postgres.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to open transcript store", "err", err)
			return 1
		}
		defer store.Close()
		recorder = transcript.New(transcript.Config{Store: store, Metrics: metrics})
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	player = playback.New(
		portaudio.NewSink(cfg.Audio.OutputDevice),
		cfg.Audio.OutputFormat(),
		playback.WithCollectionDelay(cfg.Conversation.PlaybackDelay),
		playback.WithRenderHook(func(r playback.Render) {
			status := "ok"
			if r.Err != nil {
				status = "error"
				ctrl.NotifyPlaybackError(r.Err)
			}
			metrics.RecordRender(context.Background(), status, r.Elapsed)
		}),
	)
	defer player.Close()
	if err := player.Init(); err != nil {
		slog.Error("failed to open output device", "device", cfg.Audio.OutputDevice, "err", err)
		return 1
	}

	source := portaudio.NewSource(cfg.Audio.InputSampleRate,
		portaudio.WithInputDevice(cfg.Audio.InputDevice),
		portaudio.WithFrameDuration(cfg.Audio.FrameDuration),
		portaudio.WithDropHook(func() {
			metrics.RecordDrop(context.Background(), "capture_overflow")
		}),
	)

	// ── Transport ─────────────────────────────────────────────────────────────
	wire, err := transport.ParseWireFormat(cfg.Endpoint.WireFormat)
	if err != nil {
		slog.Error("invalid wire format", "err", err)
		return 1
	}
	dialer := websocket.NewDialer(
		websocket.WithSendQueue(cfg.Endpoint.SendQueue),
		websocket.WithWireFormat(wire),
	)

	// ── Controller ────────────────────────────────────────────────────────────
	ctrl, err = conversation.New(cfg.ControllerConfig(), source, energy.New(), dialer, player,
		conversation.WithMetrics(metrics),
		conversation.WithBreaker(cfg.Endpoint.Breaker.Breaker()),
		conversation.WithMessageSink(func(m conversation.Message) {
			fmt.Fprintf(os.Stdout, "« %s\n", m.Text)
			if recorder != nil {
				recorder.Record(m)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create conversation controller", "err", err)
		return 1
	}
	ctrl.OnStatus(statusPrinter(os.Stdout))

	// ── Health and metrics server ─────────────────────────────────────────────
	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		srv = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           newMux(readiness(cfg, ctrl, store), ctrl, metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	if err := ctrl.Connect(ctx); err != nil {
		slog.Warn("initial connect failed; use 'connect' to try again", "err", err)
	}
	fmt.Fprintln(os.Stdout, "press Enter to talk, 'stop' to end a turn, 'help' for commands")

	var history historyFunc
	if store != nil {
		history = func(ctx context.Context, n int) ([]memory.TranscriptEntry, error) {
			return store.Recent(ctx, ctrl.SessionID(), n)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return reloadOnHangup(gctx, watcher) })
	if recorder != nil {
		g.Go(func() error { return recorder.Run(gctx) })
	}
	if srv != nil {
		g.Go(func() error {
			slog.Info("status server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}
	g.Go(func() error {
		// Quitting or reaching EOF ends the whole program.
		defer cancel()
		return runCommands(gctx, os.Stdin, os.Stdout, ctrl, history)
	})

	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	if err := ctrl.Close(); err != nil {
		slog.Warn("controller close", "err", err)
	}
	if recorder != nil {
		fctx, fcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer fcancel()
		if err := recorder.Flush(fctx); err != nil {
			slog.Warn("transcript flush", "pending", recorder.Pending(), "err", err)
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// reloadOnHangup re-reads the config file on SIGHUP instead of waiting for
// the next poll.
func reloadOnHangup(ctx context.Context, w *config.Watcher) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config reload failed", "err", err)
			}
		}
	}
}
