package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"

	configloader "github.com/foxseedlab/kikitori/external/config"
	"github.com/foxseedlab/kikitori/external/discord"
	repositoryimpl "github.com/foxseedlab/kikitori/external/repository"
	responderimpl "github.com/foxseedlab/kikitori/external/responder"
	transcriberimpl "github.com/foxseedlab/kikitori/external/transcriber"
	webhookimpl "github.com/foxseedlab/kikitori/external/webhook"
	"github.com/foxseedlab/kikitori/internal/config"
	discordpkg "github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/observe"
	"github.com/foxseedlab/kikitori/internal/session"
)

const (
	serviceName           = "kikitori"
	serviceVersion        = "0.1.0"
	discordConnectTimeout = 20 * time.Second
	shutdownTimeout       = 30 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)

	provider, shutdownMetrics, err := observe.InitProvider(serviceName, serviceVersion)
	if err != nil {
		slog.Error("failed to initialise metrics provider", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownMetrics(ctx); err != nil {
			slog.Warn("metrics provider shutdown failed", "error", err)
		}
	}()

	slog.Info("startup: building dependency graph")
	metrics, err := observe.NewMetrics(provider)
	if err != nil {
		slog.Error("failed to create metric instruments", "error", err)
		os.Exit(1)
	}
	injector := setupDI(cfg, metrics)

	slog.Info("startup: launching discord bot")
	if err := runBot(cfg, injector); err != nil {
		slog.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config, metrics *observe.Metrics) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, metrics)
	repositoryimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	responderimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func runBot(cfg *config.Config, injector do.Injector) error {
	dc, err := do.Invoke[discordpkg.Client](injector)
	if err != nil {
		return err
	}
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		return err
	}
	relay, err := do.Invoke[*session.Relay](injector)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancel()
	slog.Info("startup: connecting to discord gateway")
	if err := dc.Connect(connectCtx); err != nil {
		return err
	}
	slog.Info("startup: discord connected")
	defer func() {
		if err := dc.Close(); err != nil {
			slog.Error("discord close failed", "error", err)
		}
	}()

	botUserID, err := dc.GetBotUserID()
	if err != nil {
		return err
	}
	manager.SetBotUserID(botUserID)

	if err := dc.UpsertGuildSlashCommands(cfg.DiscordGuildID, session.SlashCommandDefinitions()); err != nil {
		return err
	}
	dc.RegisterVoiceStateUpdateHandler(manager.HandleVoiceStateUpdate)
	dc.RegisterSlashCommandHandler(manager.HandleSlashCommand)
	slog.Info("discord handlers registered", "guild_id", cfg.DiscordGuildID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dc.Run(gctx)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr)
		})
	}
	runErr := g.Wait()

	slog.Info("shutting down")
	stopped := manager.Shutdown()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := relay.Close(shutdownCtx); err != nil {
		slog.Warn("relay did not drain before shutdown", "error", err)
	}
	slog.Info("shutdown complete", "sessions_stopped", stopped)
	return runErr
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
