package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-crawler/internal/clock/system"
	"github.com/JakeFAU/forum-crawler/internal/config"
	"github.com/JakeFAU/forum-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/forum-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/forum-crawler/internal/id/uuid"
	"github.com/JakeFAU/forum-crawler/internal/logging"
	"github.com/JakeFAU/forum-crawler/internal/metrics"
	"github.com/JakeFAU/forum-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/forum-crawler/internal/sink/jsonfile"
	"github.com/JakeFAU/forum-crawler/internal/sink/postgres"
	"github.com/JakeFAU/forum-crawler/internal/storage"
)

// gcsClientFactory is a variable so tests can point archives at a fake endpoint.
var gcsClientFactory storage.GCSClientFactory = storage.DefaultGCSClientFactory{}

var _ crawler.DropReporter = (*postgres.Sink)(nil)

const publishTimeout = 30 * time.Second

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Harvests recent topics once and exits",
		Long: `Fetches the latest-topics listing page by page, stopping at the first
page without a topic newer than --days, and stores every in-window topic with
the selected output method.`,
		RunE: runCrawlCommand,
	}

	f := cmd.Flags()
	f.Int("days", 7, "only harvest topics created within this many days")
	f.String("output-method", config.OutputJSON, "where records go: json or postgres")
	f.String("output", "data/topics.json", "JSON output file (json output method)")
	f.Int("max-pages", 0, "stop after this many listing pages (0 means no limit)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	cfg, err := config.Load(cmd.Flag("config").Value.String(),
		config.WithFlag("crawl.days", flags.Lookup("days")),
		config.WithFlag("crawl.output_method", flags.Lookup("output-method")),
		config.WithFlag("output.path", flags.Lookup("output")),
		config.WithFlag("crawl.max_pages", flags.Lookup("max-pages")),
	)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	return runCrawl(cmd.Context(), cfg, logger)
}

func runCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	runID, err := uuid.New().NewID()
	if err != nil {
		return err
	}
	clock := system.New()
	log := logger.With(zap.String("run_id", runID))

	if cfg.Metrics.Addr != "" {
		stopMetrics := serveMetrics(cfg.Metrics.Addr, log)
		defer stopMetrics()
	}

	sink, release, err := buildSink(ctx, cfg, runID, clock.Now(), log)
	if err != nil {
		return err
	}
	defer release()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Forum.UserAgent,
		Timeout:      cfg.RequestTimeout(),
		MaxBodyBytes: cfg.Forum.MaxBodyBytes,
	})
	engine, err := crawler.New(crawler.Config{
		RunID:       runID,
		BaseURL:     cfg.Forum.BaseURL,
		Days:        cfg.Crawl.Days,
		Concurrency: cfg.Forum.Concurrency,
		QueueDepth:  cfg.Crawl.QueueDepth,
		MaxPages:    cfg.Crawl.MaxPages,
	}, fetcher, sink, clock, log)
	if err != nil {
		return fmt.Errorf("init crawler: %w", err)
	}

	stats, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}
	if ctx.Err() != nil {
		log.Warn("crawl interrupted; partial results were stored", zap.Int("records", stats.RecordsDelivered))
	}
	if stats.SinkErrors > 0 {
		log.Warn("some records were not stored",
			zap.Int("sink_errors", stats.SinkErrors),
			zap.Int("records_dropped", stats.RecordsDropped),
		)
	}

	if cfg.PubSub.ProjectID != "" {
		publishStats(ctx, cfg.PubSub, stats, log)
	}
	return nil
}

// buildSink selects the sink for the configured output method. The returned
// release func frees resources the sink does not own.
func buildSink(
	ctx context.Context,
	cfg config.Config,
	runID string,
	startedAt time.Time,
	logger *zap.Logger,
) (crawler.Sink, func(), error) {
	noop := func() {}
	switch cfg.Crawl.OutputMethod {
	case config.OutputPostgres:
		sink, err := postgres.New(ctx, cfg.Postgres.SinkConfig(), logger)
		if err != nil {
			return nil, noop, fmt.Errorf("init postgres sink: %w", err)
		}
		return sink, noop, nil
	case config.OutputJSON:
		if cfg.Output.GCSBucket == "" {
			return jsonfile.New(cfg.Output.Path, logger), noop, nil
		}
		provider, err := storage.NewGCSProvider(ctx, cfg.Output.GCSBucket, gcsClientFactory)
		if err != nil {
			return nil, noop, fmt.Errorf("init archive: %w", err)
		}
		object := storage.ArchiveObjectName(cfg.Output.Prefix, startedAt, runID)
		release := func() {
			if err := provider.Close(); err != nil {
				logger.Warn("close archive client", zap.Error(err))
			}
		}
		return jsonfile.New(cfg.Output.Path, logger, jsonfile.WithArchive(provider, object)), release, nil
	default:
		return nil, noop, fmt.Errorf("unknown output method %q", cfg.Crawl.OutputMethod)
	}
}

func serveMetrics(addr string, logger *zap.Logger) func() {
	srv := metrics.NewServer(addr)
	go func() {
		logger.Info("metrics server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
	}
}

// publishStats announces the finished run. Failures are logged only; the
// records are already stored.
func publishStats(ctx context.Context, cfg config.PubSubConfig, stats crawler.Stats, logger *zap.Logger) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	pub, err := pubsub.Dial(pubCtx, cfg.ProjectID, cfg.TopicName)
	if err != nil {
		logger.Error("pubsub unavailable; run summary not published", zap.Error(err))
		return
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn("close pubsub publisher", zap.Error(err))
		}
	}()

	id, err := pub.PublishStats(pubCtx, stats)
	if err != nil {
		logger.Error("publish run summary failed", zap.Error(err))
		return
	}
	logger.Info("run summary published", zap.String("message_id", id), zap.String("topic", cfg.TopicName))
}
