package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jroosing/dnswatch/internal/api"
	"github.com/jroosing/dnswatch/internal/backup"
	"github.com/jroosing/dnswatch/internal/codes"
	"github.com/jroosing/dnswatch/internal/config"
	"github.com/jroosing/dnswatch/internal/database"
	"github.com/jroosing/dnswatch/internal/event"
	"github.com/jroosing/dnswatch/internal/normalize"
	"github.com/jroosing/dnswatch/internal/pipeline"
	"github.com/jroosing/dnswatch/internal/procname"
	"github.com/jroosing/dnswatch/internal/tracesource"
	"github.com/spf13/cobra"
)

const apiShutdownTimeout = 5 * time.Second

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Capture trace events until interrupted",
		Long: `Open (and migrate) the store, run a maintenance pass, then ingest events
from the trace source until SIGINT/SIGTERM. Pending events are flushed before
the store is closed.

Example:
  dnswatch run --sqlite /var/lib/dnswatch/server.db --retention 30 --max-size 500MB`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, rootOpts)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWatcher(ctx, cfg, logger)
		},
	}
}

// openStore opens the store and builds its maintainer with backup rotation.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.Store, *database.Maintainer, error) {
	store, err := database.Open(ctx, cfg.Store.Path, cfg.Watcher.Variant, database.Options{Logger: logger})
	if err != nil {
		if errors.Is(err, database.ErrStoreLocked) {
			return nil, nil, fmt.Errorf("%s: %w", cfg.Store.Path, err)
		}
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	rotator := backup.New(cfg.Store.Path, backup.Options{
		Count:        cfg.Store.Backups,
		Checkpointer: store,
		Logger:       logger,
	})
	maint := database.NewMaintainer(store, database.MaintenanceOptions{
		RetentionDays: cfg.Store.RetentionDays,
		MaxSizeBytes:  cfg.Store.MaxSizeBytes,
		Backup:        rotator,
		Logger:        logger,
	})
	return store, maint, nil
}

// newNormalizer builds the normalizer with the configured classification.
func newNormalizer(cfg *config.Config, logger *slog.Logger) *normalize.Normalizer {
	tables := codes.ForVariant(cfg.Watcher.Variant)
	tables.Classifier = tables.Classifier.Extend(cfg.Classification.ConfigErrors, cfg.Classification.ClientErrors)

	opts := normalize.Options{Tables: &tables, Logger: logger}
	if cfg.Watcher.Variant == event.VariantClient {
		opts.Processes = procname.NewCache(cfg.ProcessCache.MaxEntries, procname.SystemLookup)
	}
	return normalize.New(cfg.Watcher.Variant, opts)
}

// newSource builds the configured trace source. The second result reports
// records the source discarded on overflow, or is nil when it never drops.
func newSource(cfg *config.Config, logger *slog.Logger) (tracesource.Source, func() uint64, error) {
	switch cfg.Source.Type {
	case config.SourceJSONL:
		return tracesource.NewJSONLSource(cfg.Source.Path, cfg.Source.Buffer, logger), nil, nil
	default:
		if cfg.Watcher.Variant != event.VariantServer {
			return nil, nil, errors.New("the dnstap source produces server events; set watcher.variant to server")
		}
		src := tracesource.NewDnstapSource(cfg.Source.Socket, cfg.Source.Buffer, logger)
		return src, src.Dropped.Load, nil
	}
}

func runWatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	src, sourceDropped, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	store, maint, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}
	}()

	logger.Info("dnswatch starting",
		"store", cfg.Store.Path,
		"retention_days", cfg.Store.RetentionDays,
		"max_size_bytes", cfg.Store.MaxSizeBytes,
		"backups", cfg.Store.Backups,
		"batch_size", cfg.Ingest.BatchSize,
	)

	if _, err := maint.Run(ctx); err != nil {
		logger.Warn("startup maintenance incomplete", "err", err)
	}

	stats := pipeline.NewStats()
	stats.SetSourceDropped(sourceDropped)
	queue := pipeline.NewQueue(store, pipeline.QueueOptions{
		BatchSize: cfg.Ingest.BatchSize,
		Stats:     stats,
		Logger:    logger,
	})
	ingestor := pipeline.NewIngestor(newNormalizer(cfg, logger), queue, pipeline.IngestOptions{
		FlushInterval: cfg.Ingest.FlushInterval,
		StatsInterval: cfg.Ingest.StatsInterval,
		Maintenance:   maint,
		Stats:         stats,
		Logger:        logger,
	})

	if err := src.Start(); err != nil {
		return fmt.Errorf("failed to start trace source: %w", err)
	}
	defer src.Stop()

	if cfg.API.Enabled {
		srv := api.New(cfg, store, logger)
		srv.Handler().SetIngestStatsFunc(stats.Snapshot)
		srv.Handler().SetMaintenance(maint)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status API shutdown", "err", err)
			}
		}()
	}

	// Stopping the source closes its channel; Run then drains and flushes.
	// A source that ends on its own closes the channel itself.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		src.Stop()
	}()

	return ingestor.Run(context.WithoutCancel(ctx), src.Records())
}
