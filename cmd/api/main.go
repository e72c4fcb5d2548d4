// Command api runs the batch HTTP API and its background job workers.
//
// Startup order: config, loggers, migrations, the server container
// (database, redis, job service), then the layered wiring of
// repositories, services, handlers, middlewares, and the router.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/rs/zerolog"

	"github.com/parcelworks/batchd/internal/config"
	"github.com/parcelworks/batchd/internal/database"
	"github.com/parcelworks/batchd/internal/handler"
	"github.com/parcelworks/batchd/internal/logger"
	"github.com/parcelworks/batchd/internal/middleware"
	"github.com/parcelworks/batchd/internal/repository"
	"github.com/parcelworks/batchd/internal/router"
	"github.com/parcelworks/batchd/internal/server"
	"github.com/parcelworks/batchd/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		// LoadConfig logs fatally itself; this is a safety net.
		os.Exit(1)
	}

	loggerService, err := logger.NewLoggerService(cfg)
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to initialize logger service")
	}

	log := logger.NewLogger(cfg, loggerService)

	// Clerk's SDK keeps the API key in package state; set it once before
	// any auth middleware runs.
	clerk.SetKey(cfg.Auth.SecretKey)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	if err := database.Migrate(ctx, log, cfg); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("failed to run database migrations")
	}
	cancel()

	srv, err := server.New(cfg, log, loggerService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize server")
	}

	repos := repository.NewRepositories(srv)

	services, err := service.NewService(srv, repos)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize services")
	}

	handlers := handler.NewHandlers(srv, services)
	middlewares := middleware.NewMiddlewares(srv)

	srv.SetupHTTPServer(router.New(handlers, middlewares))

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	// Block until an interrupt or termination signal arrives, then drain.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	loggerService.Shutdown(10 * time.Second)

	log.Info().Msg("server stopped")
}
