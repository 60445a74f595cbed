package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	server "pdl_sync/internal/adapters/http_server"
	"pdl_sync/internal/adapters/observability"
	"pdl_sync/internal/app"
	"pdl_sync/internal/bootstrap"
	"pdl_sync/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	observability.Serve(cfg.MetricsAddr)

	deps, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer deps.Close()

	sched := app.NewScheduler(deps.Orch)

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Q: deps.Queries, Sync: deps.Orch, Scheduler: sched, RunCtx: ctx})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	if cfg.BootstrapOnStart {
		sched.BootstrapInBackground(ctx)
	}
	if cfg.SyncInterval > 0 {
		if err := sched.Start(ctx, cfg.SyncInterval); err != nil {
			log.Fatal().Err(err).Msg("scheduler start failed")
		}
	} else {
		log.Info().Msg("auto sync disabled")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	// waits for the ticker loop and the bootstrap run before deps.Close
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}
