package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryan-buckman/chanmirror/internal/config"
	"github.com/bryan-buckman/chanmirror/internal/database"
	"github.com/bryan-buckman/chanmirror/internal/fetch"
	"github.com/bryan-buckman/chanmirror/internal/measure"
	"github.com/bryan-buckman/chanmirror/internal/mirror"
	"github.com/bryan-buckman/chanmirror/internal/registry"
	"github.com/bryan-buckman/chanmirror/internal/remote"
	"github.com/bryan-buckman/chanmirror/internal/rss"
	"github.com/bryan-buckman/chanmirror/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("unable to open store")
	}
	defer store.Close()
	log.Info().Str("database", store.DatabaseType()).Msg("store ready")

	fetcher := fetch.New(fetch.Config{
		MinInterval: cfg.MinInterval,
		MaxRetries:  cfg.MaxRetries,
	})
	client := remote.NewClient(cfg.APIBaseURL, cfg.Token, fetcher)
	batcher := measure.NewBatcher(measure.NewHTTPLoader(fetcher), measure.Config{
		Concurrency: cfg.MeasureConcurrency,
		Timeout:     cfg.MeasureTimeout,
	})
	engine := mirror.New(client, store, registry.New(store), batcher, mirror.Config{
		PageSize:            cfg.PageSize,
		BoostSize:           cfg.BoostSize,
		ConnectionsPageSize: cfg.ConnectionsPageSize,
		MaxAge:              cfg.MaxAge,
	})
	poller := rss.NewPoller(engine, rss.NewFeedReader(fetcher, client), cfg.PollInterval)
	srv := server.New(engine, poller, server.Links{WebBaseURL: cfg.WebBaseURL, FeedURL: client.FeedURL})

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Start(cfg.ListenAddr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		if err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func openStore(cfg config.Configuration) (database.Store, error) {
	switch cfg.DBDriver {
	case "memory":
		return database.NewMemory(), nil
	case "sqlite":
		return database.New(cfg.DBPath)
	case "postgres":
		return database.NewPostgres(cfg.DBURL)
	default:
		return nil, fmt.Errorf("unknown db_driver %q", cfg.DBDriver)
	}
}
