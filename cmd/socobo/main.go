// Command socobo is the Discord bot that bridges chat commands to a Sonos
// HTTP control backend.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/vibb/socobo/internal/command"
	"github.com/vibb/socobo/internal/config"
	"github.com/vibb/socobo/internal/creds"
	discordbot "github.com/vibb/socobo/internal/discord"
	"github.com/vibb/socobo/internal/discord/commands"
	"github.com/vibb/socobo/internal/health"
	"github.com/vibb/socobo/internal/observe"
	"github.com/vibb/socobo/internal/policy"
	"github.com/vibb/socobo/internal/session"
	"github.com/vibb/socobo/internal/sonos"
)

// version is stamped by the build via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "socobo: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "socobo: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("socobo starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"version", version,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "socobo",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Credential store ──────────────────────────────────────────────────────
	store, pool, err := newCredStore(ctx, cfg.Creds)
	if err != nil {
		slog.Error("failed to open credential store", "err", err)
		return 1
	}
	if pool != nil {
		defer pool.Close()
	}

	// ── Command router ────────────────────────────────────────────────────────
	router, err := command.NewRouter(command.Config{
		Allowlist:      policy.New(cfg.Allowlist),
		Store:          store,
		Sessions:       session.NewLastSpeaker(),
		Metrics:        metrics,
		DefaultDevice:  cfg.DefaultDevice,
		GlobalEndpoint: cfg.Backend.Endpoint,
		GlobalSecret:   cfg.Backend.Secret,
	})
	if err != nil {
		slog.Error("failed to build command router", "err", err)
		return 1
	}

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}
	commands.NewSonosCommands(router).Register(bot.Router())
	slog.Info("discord bot connected", "guild_id", cfg.Discord.GuildID)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bot.Run(gctx)
	})

	var opsServer *http.Server
	if cfg.Server.ListenAddr != "" {
		opsServer = newOpsServer(cfg)
		g.Go(func() error {
			slog.Info("ops server listening", "addr", cfg.Server.ListenAddr)
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
	}

	slog.Info("server ready — press Ctrl+C to shut down")
	err = g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")

	if bErr := bot.Close(); bErr != nil {
		slog.Warn("discord bot close error", "err", bErr)
	}
	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if sErr := opsServer.Shutdown(shutdownCtx); sErr != nil {
			slog.Warn("ops server shutdown error", "err", sErr)
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newCredStore builds the configured credential store. The returned pool is
// non-nil only for the postgres store and must be closed by the caller.
func newCredStore(ctx context.Context, cfg config.CredStoreConfig) (creds.Store, *pgxpool.Pool, error) {
	switch cfg.Kind {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := creds.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate credentials table: %w", err)
		}
		return store, pool, nil

	default:
		store, err := creds.NewFileStore(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

// newOpsServer builds the HTTP server exposing /metrics, /healthz and
// /readyz. Readiness probes the global backend when one is configured.
func newOpsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	var checkers []health.Checker
	if cfg.Backend.Endpoint != "" {
		endpoint := cfg.Backend.Endpoint
		secret := cfg.Backend.Secret
		checkers = append(checkers, health.Checker{
			Name: "backend",
			Check: func(ctx context.Context) error {
				client, err := sonos.New(endpoint, sonos.WithSecret(secret))
				if err != nil {
					return err
				}
				_, err = client.Speakers(ctx)
				return err
			},
		})
	}
	health.New(checkers...).Register(mux)

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
