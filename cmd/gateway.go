package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/bus"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/cache"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/catalog"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/config"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/debounce"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/dispatch"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/evolution"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/funnel"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/handoff"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/store"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/store/pg"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/store/sqlite"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/telemetry"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/turn"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/webhook"
)

// apologySender adapts the dispatcher to the intake's minimal send surface.
type apologySender struct {
	dispatcher *dispatch.Dispatcher
}

func (a apologySender) SendTextMessage(ctx context.Context, conversation, text string) error {
	return a.dispatcher.Deliver(ctx, conversation, dispatch.Reply{Text: text})
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	sessions, err := openSessionStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	client := evolution.NewClient(cfg.Provider)
	events := bus.New()

	messageIDs := cache.NewBoundedSet(cfg.Caches.MessageIDs)
	funnelKeys := cache.NewBoundedSet(cfg.Caches.FunnelKeys)
	echoes := handoff.NewEchoTracker(cfg.Caches.EchoIDs, cfg.Handoff.RecognitionWindow())
	silences := handoff.NewSilenceRegistry()

	dispatcher := dispatch.New(client, echoes, events)

	inventory := catalog.New(config.ExpandHome(cfg.Catalog.LocalPath), cfg.Catalog.SheetCSVURL)
	if err := inventory.Load(ctx); err != nil {
		slog.Warn("initial inventory load failed", "error", err)
	} else {
		slog.Info("inventory loaded", "items", inventory.Len())
	}

	var notifier funnel.Notifier = funnel.LogNotifier{}
	if cfg.Funnel.Enabled && cfg.Funnel.BoardID != "" {
		notifier = funnel.NewBoardClient(cfg.Funnel)
		slog.Info("funnel board sync enabled", "board", cfg.Funnel.BoardID)
	}

	processor := turn.NewProcessor(cfg, sessions, turn.ScriptedResponder{}, dispatcher,
		silences, inventory, notifier, funnelKeys, events)

	accumulator := debounce.New(cfg.Debounce.Window(), processor.Handle)
	defer accumulator.Stop()

	var transcriber webhook.Transcriber
	if stt := webhook.NewSTTProxy(cfg.Provider); stt != nil {
		transcriber = stt
		slog.Info("voice note transcription enabled", "proxy", cfg.Provider.STTProxyURL)
	}

	intake := webhook.NewIntake(cfg.Handoff, messageIDs, echoes, silences, accumulator,
		events, client, transcriber, apologySender{dispatcher})

	server := webhook.NewServer(cfg, intake, events, silences, messageIDs, echoes,
		accumulator, inventory)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	if cfg.Catalog.Watch || cfg.Catalog.RefreshSchedule != "" {
		watchPath := ""
		if cfg.Catalog.Watch {
			watchPath = config.ExpandHome(cfg.Catalog.LocalPath)
		}
		refresher := catalog.NewRefresher(inventory, cfg.Catalog.RefreshSchedule, watchPath)
		g.Go(func() error {
			if err := refresher.Run(gctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		})
	}

	slog.Info("gateway started",
		"instance", cfg.Provider.Instance,
		"debounce", cfg.Debounce.Window(),
		"backend", store.SelectBackend(cfg.Database.PostgresDSN))

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}

func openSessionStore(ctx context.Context, cfg *config.Config) (store.SessionStore, error) {
	if store.SelectBackend(cfg.Database.PostgresDSN) == store.BackendPostgres {
		return pg.Open(ctx, cfg.Database.PostgresDSN)
	}
	return sqlite.Open(config.ExpandHome(cfg.Sessions.SQLitePath))
}
