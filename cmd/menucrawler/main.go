package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/verdata/dispensary-price-crawler/internal/clock/system"
	"github.com/verdata/dispensary-price-crawler/internal/config"
	"github.com/verdata/dispensary-price-crawler/internal/crawler"
	"github.com/verdata/dispensary-price-crawler/internal/discovery"
	"github.com/verdata/dispensary-price-crawler/internal/id/uuid"
	"github.com/verdata/dispensary-price-crawler/internal/logging"
	"github.com/verdata/dispensary-price-crawler/internal/navigator"
	"github.com/verdata/dispensary-price-crawler/internal/ops"
	"github.com/verdata/dispensary-price-crawler/internal/orchestrator"
	"github.com/verdata/dispensary-price-crawler/internal/policy/retry"
	pubsubpublisher "github.com/verdata/dispensary-price-crawler/internal/publisher/pubsub"
	"github.com/verdata/dispensary-price-crawler/internal/sink"
	"github.com/verdata/dispensary-price-crawler/internal/storage/gcs"
)

func main() {
	var (
		cfgPath        = flag.String("config", "", "Path to config file")
		categoriesFlag = flag.String("categories", "", "Comma-separated subcategory subset to crawl")
		outputDir      = flag.String("output", "", "Override the CSV output directory")
		dryRun         = flag.Bool("dry-run", false, "Crawl without writing to any sink")
		noCSV          = flag.Bool("no-csv", false, "Disable the CSV artifact writer")
		noWarehouse    = flag.Bool("no-warehouse", false, "Disable the warehouse writer")
		discoverStores = flag.Bool("discover-stores", false, "Crawl the dispensaries index and list region stores")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.FilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *discoverStores {
		if err := runDiscovery(ctx, cfg, logger); err != nil {
			logger.Error("store discovery failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, *categoriesFlag, *dryRun, *noCSV, *noWarehouse, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, subset string, dryRun, noCSV, noWarehouse bool, logger *zap.Logger) error {
	categories, err := selectCategories(cfg, subset)
	if err != nil {
		return err
	}

	browser, err := navigator.NewBrowser(navigator.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		NavTimeout:  cfg.NavTimeout(),
		HostQPS:     cfg.Crawler.HostQPS,
		MaxSessions: cfg.Crawler.Concurrency,
	}, logger.Named("navigator"))
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() { _ = browser.Close() }()

	base, capDelay := cfg.RetryDelays()
	pagePolicy := retry.New(cfg.Retry.MaxRetries, base, capDelay, navigator.IsTransient)
	delayMin, delayMax := cfg.Delays()
	pause := crawler.NewPauser(delayMin, delayMax)
	categoryCrawler := crawler.New(browser, pagePolicy, pause, cfg.Run.StoreURL, cfg.Crawler.MaxPages, logger.Named("crawler"))

	sinks, closeSinks, err := buildSinks(ctx, cfg, categories, dryRun, noCSV, noWarehouse, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	pub, closePub, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePub()

	opsServer := ops.NewServer()
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Ops.Port),
		Handler:           opsServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("ops server error", zap.Error(serveErr))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	opsServer.SetReady(true)

	orch := orchestrator.New(orchestrator.Config{
		Region:      cfg.Run.Region,
		Store:       cfg.Run.Store,
		BaseURL:     cfg.Run.BaseURL,
		Concurrency: cfg.Crawler.Concurrency,
		Budget:      cfg.Budget(),
		Topic:       cfg.PubSub.Topic,
		DryRun:      dryRun,
	}, categoryCrawler, sinks, pub, system.New(), uuid.New(), logger.Named("orchestrator"))

	result, err := orch.Run(ctx, categories)
	if err != nil {
		return err
	}

	for _, outcome := range result.Outcomes {
		logger.Info("category outcome",
			zap.String("category", outcome.Category),
			zap.String("status", string(outcome.Status)),
			zap.Int("records", outcome.RecordCount),
			zap.Int("errors", len(outcome.Errors)),
		)
	}
	for _, failure := range result.Sink.Failures {
		logger.Warn("sink failure",
			zap.String("category", failure.Category),
			zap.String("stage", failure.Stage),
			zap.String("message", failure.Message),
		)
	}
	return nil
}

func selectCategories(cfg config.Config, subset string) ([]crawler.Category, error) {
	wanted := map[string]bool{}
	for _, label := range strings.Split(subset, ",") {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			wanted[strings.ToLower(trimmed)] = true
		}
	}

	var categories []crawler.Category
	for _, cat := range cfg.Categories {
		if len(wanted) > 0 && !wanted[strings.ToLower(cat.Subcategory)] {
			continue
		}
		categoryURL := cat.URL
		if ref, err := url.Parse(cat.URL); err == nil && !ref.IsAbs() && cfg.Run.BaseURL != "" {
			if baseRef, baseErr := url.Parse(cfg.Run.BaseURL); baseErr == nil {
				categoryURL = baseRef.ResolveReference(ref).String()
			}
		}
		categories = append(categories, crawler.Category{
			URL:          categoryURL,
			Label:        cat.Subcategory,
			OutputPrefix: cat.OutputPrefix,
			TargetTable:  cat.TargetTable,
		})
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("category filter %q matched nothing", subset)
	}
	return categories, nil
}

func buildSinks(ctx context.Context, cfg config.Config, categories []crawler.Category, dryRun, noCSV, noWarehouse bool, logger *zap.Logger) (*sink.Runner, func(), error) {
	noop := func() {}
	if dryRun {
		return nil, noop, nil
	}

	var targets []sink.Target
	for _, cat := range categories {
		targets = append(targets, sink.Target{
			Category:     cat.Label,
			OutputPrefix: cat.OutputPrefix,
			Table:        cat.TargetTable,
		})
	}

	var csvWriter *sink.CSVWriter
	if !noCSV {
		w, err := sink.NewCSVWriter(cfg.Output.Dir)
		if err != nil {
			return nil, noop, err
		}
		csvWriter = w
	}

	var warehouse *sink.Warehouse
	if !noWarehouse && cfg.Warehouse.DSN != "" {
		base, capDelay := cfg.RetryDelays()
		uploadPolicy := retry.New(cfg.Retry.MaxRetries, base, capDelay, func(err error) bool {
			return !errors.Is(err, context.Canceled)
		})
		wh, err := sink.NewWarehouse(ctx, sink.WarehouseConfig{
			DSN:      cfg.Warehouse.DSN,
			MaxConns: int32(cfg.Warehouse.MaxConns),
		}, uploadPolicy, logger.Named("warehouse"))
		if err != nil {
			// Sink target unreachable at startup aborts the run before any
			// crawling begins.
			return nil, noop, fmt.Errorf("warehouse preflight: %w", err)
		}
		warehouse = wh
	}

	var archiver *sink.Archiver
	var gcsClient *gcstorage.Client
	if csvWriter != nil && cfg.Archive.GCSBucket != "" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("gcs client: %w", err)
		}
		gcsClient = client
		store, err := gcs.NewStore(client, cfg.Archive.GCSBucket)
		if err != nil {
			return nil, noop, err
		}
		archiver, err = sink.NewArchiver(store, cfg.Archive.Prefix)
		if err != nil {
			return nil, noop, err
		}
	}

	cleanup := func() {
		if warehouse != nil {
			warehouse.Close()
		}
		if gcsClient != nil {
			_ = gcsClient.Close()
		}
	}
	return sink.NewRunner(targets, csvWriter, warehouse, archiver, logger.Named("sink")), cleanup, nil
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (orchestrator.Publisher, func(), error) {
	noop := func() {}
	if cfg.PubSub.Topic == "" || cfg.PubSub.ProjectID == "" {
		return nil, noop, nil
	}
	client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, noop, fmt.Errorf("pubsub client: %w", err)
	}
	logger.Info("run summary publisher enabled", zap.String("topic", cfg.PubSub.Topic))
	return pubsubpublisher.New(client), func() { _ = client.Close() }, nil
}

func runDiscovery(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	disc, err := discovery.New(discovery.Config{
		IndexURL:  cfg.Run.DispensariesURL,
		Region:    cfg.Run.Region,
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.NavTimeout(),
	}, logger.Named("discovery"))
	if err != nil {
		return err
	}
	stores, err := disc.Stores(ctx)
	if err != nil {
		return err
	}
	for _, store := range stores {
		fmt.Printf("%s\t%s\n", store.Name, store.URL)
	}
	return nil
}
