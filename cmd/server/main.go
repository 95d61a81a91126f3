package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Beacon/internal/adapters/http"
	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/auth"
	"github.com/dkeye/Beacon/internal/config"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/storage"
	"github.com/dkeye/Beacon/internal/storage/sqlite"
)

func main() {
	mint := flag.String("mint", "", "print a signed token for this user id and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	if *mint != "" {
		token, err := auth.NewToken(cfg.JWT, domain.UserID(*mint))
		if err != nil {
			log.Fatal().Err(err).Msg("mint token")
		}
		fmt.Println(token)
		return
	}

	store, err := sqlite.NewStore(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate store")
	}
	if err := storage.Seed(ctx, store, cfg.Seed); err != nil {
		log.Fatal().Err(err).Msg("seed store")
	}

	stats := app.NewStats()
	registry, rooms := app.NewRegistry(), app.NewRoomManager()
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := app.NewMetrics(promReg, registry, rooms)
	if err != nil {
		log.Fatal().Err(err).Msg("register metrics")
	}

	o := &orch.Orchestrator{
		Registry:         registry,
		Rooms:            rooms,
		Policy:           app.PolicyFor(cfg.SlowConsumer),
		Resolver:         auth.NewResolver(cfg.JWT, store),
		Binder:           app.PersonalRoomBinder{},
		Authorizer:       app.PermissionAuthorizer{},
		Audit:            app.MultiAudit{app.LogAudit{}, app.StoreAudit{Store: store}},
		Hooks:            []app.DispatchHook{app.LogHook{}, stats, metrics},
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	r := router.SetupRouter(ctx, cfg, o, stats, promReg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.HandshakeTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Beacon server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
