// Package main provides the agentwatch worker entry point: the
// collection loop, the Prometheus scrape endpoint, the query API and
// the live tail feed, in one long-lived process.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/agentwatch/agentwatch/internal/config"
	"github.com/agentwatch/agentwatch/internal/db/sqlite"
	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/worker"
	"github.com/agentwatch/agentwatch/internal/worker/sse"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	port := flag.Int("port", 0, "HTTP port (default: config worker_port)")
	dbPath := flag.String("db", "", "Database path (default: config db_path)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureDataDir(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directories")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *port > 0 {
		cfg.WorkerPort = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *debug || cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	store, err := sqlite.NewStore(sqlite.StoreConfig{
		Path:     cfg.DBPath,
		MaxConns: cfg.MaxConns,
		WALMode:  true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize SQLite store")
	}
	defer store.Close()

	agg := metrics.NewAggregator(store, cfg)
	exporter, err := metrics.NewExporter(agg, "agentwatch-worker", Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize metrics exporter")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := worker.NewLoop(agg, cfg.CollectInterval)

	// SIGINT/SIGTERM drain and stop; SIGHUP forces an immediate pass.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				log.Info().Msg("SIGHUP received, forcing collection")
				loop.Reload()
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("Shutting down worker")
			cancel()
			return
		}
	}()

	broadcaster := sse.NewBroadcaster()
	tailer, err := worker.NewTailer(ctx, store, cfg.DBPath, cfg.TailPollInterval, broadcaster)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tail feed")
	}

	svc := worker.NewService(cfg, store, agg, exporter, loop, broadcaster, Version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return tailer.Run(gctx) })
	g.Go(func() error { return svc.Start(gctx) })

	log.Info().Str("version", Version).Int("port", cfg.WorkerPort).
		Str("db", cfg.DBPath).Msg("Worker started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Worker exited with error")
	}

	if err := exporter.Shutdown(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Metrics exporter shutdown failed")
	}
	log.Info().Msg("Worker stopped")
}
