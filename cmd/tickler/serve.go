package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nadmax/tickler/internal/api"
	"github.com/nadmax/tickler/internal/config"
	"github.com/nadmax/tickler/internal/logging"
	"github.com/nadmax/tickler/internal/maintenance"
	"github.com/nadmax/tickler/internal/middleware"
	"github.com/nadmax/tickler/internal/repository"
	"github.com/nadmax/tickler/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var flagMigrate bool

func init() {
	serveCmd.Flags().BoolVar(&flagMigrate, "migrate", false, "apply the schema before serving")
	rootCmd.AddCommand(serveCmd)
}

func openRepository(cfg *config.Config, log zerolog.Logger) (*repository.PostgresTaskRepository, error) {
	opts := repository.DefaultOptions()
	opts.MaxOpenConns = cfg.Postgres.MaxOpenConns
	opts.MaxIdleConns = cfg.Postgres.MaxIdleConns
	opts.ConnMaxLifetime = config.Duration(cfg.Postgres.ConnMaxLifetime, opts.ConnMaxLifetime)
	opts.LockTimeout = config.Duration(cfg.Postgres.LockTimeout, opts.LockTimeout)

	return repository.NewPostgresTaskRepository(cfg.Postgres.DSN, opts, log.With().Str("component", "postgres").Logger())
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Log)

	repo, err := openRepository(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close postgres")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flagMigrate {
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		log.Info().Msg("schema applied")
	}

	sessions, err := session.NewStore(cfg.Redis.Addr, config.Duration(cfg.Redis.SessionTTL, 0))
	if err != nil {
		return err
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close redis")
		}
	}()

	prometheus.MustRegister(collectors.NewDBStatsCollector(repo.DB(), "tickler"))

	svc := maintenance.NewService(repo, log.With().Str("component", "maintenance").Logger())
	apiHandler := api.NewAPI(svc, sessions, repo, log)

	limiter := middleware.NewWriteLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	handler := middleware.RequestLogger(log)(middleware.MetricsMiddleware(limiter.Middleware(apiHandler)))

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("redis", cfg.Redis.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second))
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
