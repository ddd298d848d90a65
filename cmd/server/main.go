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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Meet/internal/adapters/http"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/logging"
	"github.com/dkeye/Meet/internal/meeting"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(cfg.Log)

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open meeting directory: %w", err)
	}
	directory := meeting.NewCachedStore(store, cfg.Directory.CacheTTL)
	defer func() {
		if err := directory.Close(); err != nil {
			log.Error().Err(err).Msg("close meeting directory")
		}
	}()

	// Sessions outlive the signal context so shutdown can still notify them.
	sessions := app.NewSessionRegistry(context.WithoutCancel(ctx), directory,
		core.WithJoinTranscript(cfg.Session.JoinChatLimit, cfg.Session.JoinChatBytes))
	coord := &app.Coordinator{
		Sessions:  sessions,
		Conns:     app.NewConnRegistry(),
		Directory: directory,
		Policy:    app.SimplePolicy{},
	}

	// Connections outlive the signal too: they are closed after their
	// sessions have queued meeting-ended.
	connCtx, closeConns := context.WithCancel(context.WithoutCancel(ctx))
	defer closeConns()

	r := router.SetupRouter(connCtx, cfg, coord, directory)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("directory", cfg.Directory.Driver).Msg("Meet server started")
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

		// Tell every participant before the listener goes away.
		coord.Shutdown(shutdownCtx)
		closeConns()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (meeting.Store, error) {
	opts := []meeting.StoreOption{meeting.WithStrict(cfg.Directory.Strict)}
	if meeting.StoreType(cfg.Directory.Driver) == meeting.StoreTypeRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.Redis.Address, err)
		}
		opts = append(opts, meeting.WithRedisClient(client))
	}
	return meeting.NewStore(meeting.StoreType(cfg.Directory.Driver), opts...)
}
