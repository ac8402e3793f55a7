// Package main provides the extract-loader CLI: a thin entrypoint that
// wires configuration, the database pool, the extract handler registry and
// the raw/staging services together, then either loads one local file on
// demand or validates the wiring and waits for a termination signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nz-health/extract-loader/internal/config"
	"github.com/nz-health/extract-loader/internal/dbpool"
	"github.com/nz-health/extract-loader/internal/extract"
	"github.com/nz-health/extract-loader/internal/lineage"
	"github.com/nz-health/extract-loader/internal/localstore"
	"github.com/nz-health/extract-loader/internal/rawloader"
	"github.com/nz-health/extract-loader/internal/runs"
	"github.com/nz-health/extract-loader/internal/staging"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "extract-loader"
)

func main() {
	var (
		versionFlag  = flag.Bool("version", false, "show version information")
		registryPath = flag.String("registry", os.Getenv("LOADER_REGISTRY_PATH"), "path to the extract handler registry YAML file")
		sourceDir    = flag.String("source-dir", os.Getenv("LOADER_SOURCE_DIR"), "local directory to read extract files from")
		extractType  = flag.String("extract", "", "extract type to load, required with -file")
		file         = flag.String("file", "", "file key (relative to -source-dir) to load; omitted to just validate wiring")
	)

	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("starting extract-loader", slog.String("version", version))

	conn, err := dbpool.Open(dbpool.Config{
		URL:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Error("failed to open database pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	registry, err := extract.LoadRegistryFile(*registryPath)
	if err != nil {
		logger.Error("failed to load extract registry", slog.String("error", err.Error()), slog.String("path", *registryPath))
		os.Exit(1)
	}

	logger.Info("loaded extract registry", slog.Int("handlerCount", registry.Len()))

	publisher := buildPublisher(os.Getenv("KAFKA_BROKERS"), os.Getenv("KAFKA_COMPLETION_TOPIC"), logger)
	defer closePublisher(publisher)

	idempotent := lineage.NewStore(conn)
	rawSvc := rawloader.NewServiceWithPublisher(conn, registry, idempotent, localstore.New(*sourceDir), publisher, logger)
	stagingSvc := staging.NewServiceWithPublisher(conn, idempotent, publisher, logger)
	runStore := runs.NewStore(conn)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *file == "" {
		logger.Info("wiring validated, no file requested, waiting for shutdown signal")
		<-ctx.Done()
		logger.Info("extract-loader stopped")

		return
	}

	if *extractType == "" {
		logger.Error("-extract is required with -file")
		os.Exit(1)
	}

	if err := runOneFile(ctx, rawSvc, stagingSvc, runStore, registry, localstore.New(*sourceDir), *extractType, *file, cfg); err != nil {
		logger.Error("load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("load completed")
}

func runOneFile(
	ctx context.Context,
	rawSvc *rawloader.Service,
	stagingSvc *staging.Service,
	runStore *runs.Store,
	registry *extract.Registry,
	store *localstore.Store,
	extractType, fileKey string,
	cfg *config.Config,
) error {
	handler, err := registry.Get(extractType)
	if err != nil {
		return fmt.Errorf("resolve handler: %w", err)
	}

	desc, err := store.Describe(fileKey, extractType)
	if err != nil {
		return fmt.Errorf("describe file: %w", err)
	}

	loadRunID := lineage.NewLoadRunID()

	if _, err := runStore.StartLoadRun(ctx, loadRunID, runs.TriggerManual); err != nil {
		return fmt.Errorf("start load run: %w", err)
	}

	rawResult, err := rawSvc.LoadFile(ctx, desc, rawloader.Options{
		LoadRunID:       loadRunID,
		BatchSize:       cfg.Processing.BatchSize,
		MaxRetries:      cfg.ErrorHandling.MaxRetries,
		RetryDelayMs:    cfg.ErrorHandling.RetryDelayMs,
		ContinueOnError: cfg.ErrorHandling.ContinueOnError,
	})
	if err != nil {
		_ = runStore.FinishLoadRun(ctx, loadRunID, runs.LoadFailed, 1, 0, err.Error())

		return fmt.Errorf("raw load: %w", err)
	}

	stagingResult, err := stagingSvc.TransformExtract(ctx, handler, staging.Options{
		LoadRunID:           loadRunID,
		BatchSize:           cfg.Processing.BatchSize,
		ForceReprocess:      cfg.Processing.ForceReprocess,
		MaxErrorsPerBatch:   cfg.Validation.MaxErrorsPerBatch,
		MaxTotalErrors:      cfg.Validation.MaxTotalErrors,
		MaxRejectionRatePct: cfg.Validation.MaxRejectionRatePct,
	})
	if err != nil {
		_ = runStore.FinishLoadRun(ctx, loadRunID, runs.LoadFailed, 1, rawResult.TotalRows, err.Error())

		return fmt.Errorf("staging transform: %w", err)
	}

	return runStore.FinishLoadRun(ctx, loadRunID, runs.LoadCompleted, 1, stagingResult.TotalRowsTransformed, "")
}

func buildPublisher(brokersCSV, topic string, logger *slog.Logger) lineage.EventPublisher {
	if brokersCSV == "" || topic == "" {
		return lineage.NoopPublisher{}
	}

	brokers := strings.Split(brokersCSV, ",")

	logger.Info("publishing completion events to Kafka", slog.Any("brokers", brokers), slog.String("topic", topic))

	return lineage.NewKafkaPublisher(brokers, topic)
}

func closePublisher(publisher lineage.EventPublisher) {
	if closer, ok := publisher.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
