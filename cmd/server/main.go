package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Dialtone/internal/adapters/auth"
	router "github.com/dkeye/Dialtone/internal/adapters/http"
	"github.com/dkeye/Dialtone/internal/app"
	"github.com/dkeye/Dialtone/internal/app/orch"
	"github.com/dkeye/Dialtone/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := config.Watch(config.Path(), func(c *config.Config) {
		if lvl, err := zerolog.ParseLevel(c.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}); err != nil {
		log.Debug().Err(err).Msg("config watch disabled")
	}

	idp, err := auth.NewJWTProvider(cfg.Auth)
	if err != nil {
		log.Fatal().Err(err).Msg("auth setup")
	}

	policy := app.PolicyByName(cfg.Backpressure)
	limiter := app.NewRateLimiter(cfg.Calls.RateLimit, cfg.Calls.RateWindow, nil)
	o := orch.New(app.NewRegistry(), policy, limiter)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupRouter(ctx, cfg, o, idp),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.Registry.Run(gctx)
		return nil
	})
	g.Go(func() error {
		o.BroadcastPresence(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Dialtone server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}
