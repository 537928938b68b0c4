// Package orchestrator fans the category crawler out over the configured
// category set, aggregates outcomes, and hands the merged record set to the
// sink layer exactly once per run.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verdata/dispensary-price-crawler/internal/catalog"
	"github.com/verdata/dispensary-price-crawler/internal/crawler"
	"github.com/verdata/dispensary-price-crawler/internal/sink"
)

// CategoryCrawler runs one category to a terminal outcome.
type CategoryCrawler interface {
	Crawl(ctx context.Context, cat crawler.Category, runCtx catalog.Context) crawler.Result
}

// SinkRunner persists the aggregated record set after crawling settles.
type SinkRunner interface {
	Flush(ctx context.Context, records []catalog.Record, run sink.RunInfo) sink.Report
}

// Publisher pushes the run summary event after the sinks finish.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Config bounds the run.
type Config struct {
	Region      string
	Store       string
	BaseURL     string
	Concurrency int
	Budget      time.Duration
	Topic       string
	DryRun      bool
}

// RunResult is everything one crawl run produced.
type RunResult struct {
	RunID    string
	Stamp    time.Time
	Records  []catalog.Record
	Outcomes []catalog.Outcome
	Sink     sink.Report
}

// Summary is the run event published after the sinks complete.
type Summary struct {
	RunID       string            `json:"run_id"`
	Stamp       time.Time         `json:"stamp"`
	RecordCount int               `json:"record_count"`
	Outcomes    []catalog.Outcome `json:"outcomes"`
}

// Orchestrator coordinates a full crawl run.
type Orchestrator struct {
	cfg     Config
	crawler CategoryCrawler
	sinks   SinkRunner
	pub     Publisher
	clock   Clock
	ids     IDGenerator
	logger  *zap.Logger
}

// New builds an Orchestrator. sinks and pub may be nil for dry runs.
func New(cfg Config, cc CategoryCrawler, sinks SinkRunner, pub Publisher, clock Clock, ids IDGenerator, logger *zap.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Orchestrator{
		cfg:     cfg,
		crawler: cc,
		sinks:   sinks,
		pub:     pub,
		clock:   clock,
		ids:     ids,
		logger:  logger,
	}
}

// Run crawls every configured category with bounded concurrency and
// fail-soft aggregation: one outcome per category, always. Only pre-flight
// problems surface as an error.
func (o *Orchestrator) Run(ctx context.Context, categories []crawler.Category) (RunResult, error) {
	if len(categories) == 0 {
		return RunResult{}, fmt.Errorf("no categories configured")
	}

	runID, err := o.ids.NewID()
	if err != nil {
		return RunResult{}, fmt.Errorf("generate run id: %w", err)
	}
	stamp := o.clock.Now()
	logger := o.logger.With(zap.String("run_id", runID))
	logger.Info("run started",
		zap.Int("categories", len(categories)),
		zap.Time("stamp", stamp),
		zap.Bool("dry_run", o.cfg.DryRun),
	)

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if o.cfg.Budget > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.Budget)
	}
	defer cancel()

	results := make([]crawler.Result, len(categories))
	g, gCtx := errgroup.WithContext(runCtx)
	g.SetLimit(o.cfg.Concurrency)
	for i, cat := range categories {
		g.Go(func() error {
			results[i] = o.crawler.Crawl(gCtx, cat, catalog.Context{
				Region:    o.cfg.Region,
				Store:     o.cfg.Store,
				BaseURL:   o.cfg.BaseURL,
				ScrapedAt: stamp,
			})
			return nil
		})
	}
	// Tasks absorb their own failures, so Wait only settles the group.
	_ = g.Wait()

	var merged []catalog.Record
	outcomes := make([]catalog.Outcome, len(categories))
	for i, res := range results {
		outcomes[i] = res.Outcome
		merged = append(merged, res.Records...)
	}
	// Category is part of the natural key, so this only collapses repeats
	// within a category partition.
	merged = catalog.Dedupe(merged)

	result := RunResult{
		RunID:    runID,
		Stamp:    stamp,
		Records:  merged,
		Outcomes: outcomes,
	}

	if o.sinks != nil && !o.cfg.DryRun {
		// Sinks run strictly after every task has settled; ctx rather than
		// runCtx so a spent crawl budget cannot corrupt persistence.
		result.Sink = o.sinks.Flush(ctx, merged, sink.RunInfo{ID: runID, Stamp: stamp})
	}

	o.publishSummary(ctx, result, logger)
	logger.Info("run finished", zap.Int("records", len(merged)))
	return result, nil
}

func (o *Orchestrator) publishSummary(ctx context.Context, result RunResult, logger *zap.Logger) {
	if o.pub == nil {
		return
	}
	summary := Summary{
		RunID:       result.RunID,
		Stamp:       result.Stamp,
		RecordCount: len(result.Records),
		Outcomes:    result.Outcomes,
	}
	if _, err := o.pub.Publish(ctx, o.cfg.Topic, summary); err != nil {
		logger.Warn("publish run summary failed", zap.Error(err))
	}
}
