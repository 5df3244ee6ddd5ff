package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/riftborne/treequeue/internal/config"
	"github.com/riftborne/treequeue/internal/events"
	"github.com/riftborne/treequeue/internal/logger"
	"github.com/riftborne/treequeue/internal/pool"
	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/rtdb"
	"github.com/riftborne/treequeue/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting worker")

	store, err := rtdb.New(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to store")
	}
	defer store.Close()

	publisher := events.NewRedisPubSub(store.Client())

	spec := cfg.Pool.Spec()
	processor := events.InstrumentProcessor(publisher, cfg.Pool.TaskPath, echoProcessor)
	reportError := events.InstrumentReportError(publisher, cfg.Pool.TaskPath, func(err error) {
		logger.WithQueue(cfg.Pool.TaskPath).Error().Err(err).Msg("worker reported an error")
	})

	p, err := pool.New(pool.Options{
		Ref:         store.Root(),
		Spec:        spec,
		Processor:   processor,
		ReportError: reportError,
		NumWorkers:  cfg.Pool.NumWorkers,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct pool")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	log.Info().Str("queue_id", p.ID()).Int("workers", len(p.Workers())).Msg("pool started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Pool.ShutdownTimeout)
	defer shutdownCancel()
	select {
	case <-p.Shutdown():
	case <-shutdownCtx.Done():
		log.Warn().Msg("pool shutdown timed out; exiting anyway")
	}
	log.Info().Msg("worker stopped")
}

// echoProcessor is the example task handler wired by default: it
// resolves immediately with the sanitized task record it was handed,
// demonstrating the Resolve-on-return path (spec.md §4.3, §6.3).
func echoProcessor(ctx context.Context, t record.Record, pctx *worker.Context) (record.Record, error) {
	logger.WithOwner(pctx.OwnerToken()).Info().Interface("task", t).Msg("echo processor handling task")
	return t, nil
}
