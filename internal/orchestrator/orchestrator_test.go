package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verdata/dispensary-price-crawler/internal/catalog"
	"github.com/verdata/dispensary-price-crawler/internal/crawler"
	pubmem "github.com/verdata/dispensary-price-crawler/internal/publisher/memory"
	"github.com/verdata/dispensary-price-crawler/internal/sink"
)

type scriptedCrawler struct {
	mu      sync.Mutex
	results map[string]crawler.Result
	runCtxs []catalog.Context
}

func (s *scriptedCrawler) Crawl(_ context.Context, cat crawler.Category, runCtx catalog.Context) crawler.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCtxs = append(s.runCtxs, runCtx)
	return s.results[cat.URL]
}

// blockingCrawler waits out the run budget and reports the category failed,
// the way the real crawler reacts to a cancelled context.
type blockingCrawler struct{}

func (b *blockingCrawler) Crawl(ctx context.Context, cat crawler.Category, _ catalog.Context) crawler.Result {
	<-ctx.Done()
	return crawler.Result{Outcome: catalog.Outcome{
		Category: cat.Label,
		Status:   catalog.StatusFailed,
		Errors:   []catalog.StageError{{Stage: "budget", Message: ctx.Err().Error()}},
	}}
}

type countingSink struct {
	mu      sync.Mutex
	calls   int
	records []catalog.Record
	run     sink.RunInfo
	report  sink.Report
}

func (c *countingSink) Flush(_ context.Context, records []catalog.Record, run sink.RunInfo) sink.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.records = records
	c.run = run
	return c.report
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fixedIDs struct {
	id  string
	err error
}

func (f fixedIDs) NewID() (string, error) { return f.id, f.err }

func testStamp() time.Time {
	return time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
}

func makeRecords(category string, n int) []catalog.Record {
	out := make([]catalog.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, catalog.Record{
			Store:    "tampa",
			Category: category,
			Name:     fmt.Sprintf("%s item %d", category, i),
			URL:      fmt.Sprintf("https://shop.example.com/product/%s-%d", category, i),
		})
	}
	return out
}

func baseConfig() Config {
	return Config{
		Region:      "FL",
		Store:       "tampa",
		BaseURL:     "https://shop.example.com",
		Concurrency: 2,
		Topic:       "crawl-runs",
	}
}

func TestRunAggregatesOutcomesAcrossCategories(t *testing.T) {
	t.Parallel()

	categories := []crawler.Category{
		{URL: "https://shop.example.com/category/whole-flower", Label: "whole-flower"},
		{URL: "https://shop.example.com/category/minis", Label: "minis"},
		{URL: "https://shop.example.com/category/pre-rolls", Label: "pre-rolls"},
	}
	cc := &scriptedCrawler{results: map[string]crawler.Result{
		categories[0].URL: {
			Records: makeRecords("whole-flower", 5),
			Outcome: catalog.Outcome{Category: "whole-flower", RecordCount: 5, Status: catalog.StatusCompleted},
		},
		categories[1].URL: {
			Outcome: catalog.Outcome{Category: "minis", Status: catalog.StatusCompleted},
		},
		categories[2].URL: {
			Records: makeRecords("pre-rolls", 2),
			Outcome: catalog.Outcome{
				Category:    "pre-rolls",
				RecordCount: 2,
				Status:      catalog.StatusCompletedWithErrors,
				Errors:      []catalog.StageError{{Stage: "paginating", Message: "page 3: net::ERR_TIMED_OUT"}},
			},
		},
	}}
	sinks := &countingSink{report: sink.Report{Artifacts: []sink.Artifact{{Category: "whole-flower", Rows: 5}}}}
	pub := pubmem.New()

	o := New(baseConfig(), cc, sinks, pub, fixedClock{testStamp()}, fixedIDs{id: "run-123"}, zap.NewNop())
	result, err := o.Run(context.Background(), categories)
	require.NoError(t, err)

	assert.Equal(t, "run-123", result.RunID)
	assert.Equal(t, testStamp(), result.Stamp)
	assert.Len(t, result.Records, 7)

	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, catalog.StatusCompleted, result.Outcomes[0].Status)
	assert.Equal(t, catalog.StatusCompleted, result.Outcomes[1].Status)
	assert.Equal(t, catalog.StatusCompletedWithErrors, result.Outcomes[2].Status)
	assert.Equal(t, "pre-rolls", result.Outcomes[2].Category)

	// Sinks flush exactly once, after every category has settled.
	assert.Equal(t, 1, sinks.calls)
	assert.Len(t, sinks.records, 7)
	assert.Equal(t, sink.RunInfo{ID: "run-123", Stamp: testStamp()}, sinks.run)
	assert.Equal(t, sinks.report, result.Sink)

	// Every category crawl saw the same run context.
	require.Len(t, cc.runCtxs, 3)
	for _, rc := range cc.runCtxs {
		assert.Equal(t, "FL", rc.Region)
		assert.Equal(t, "tampa", rc.Store)
		assert.Equal(t, testStamp(), rc.ScrapedAt)
	}

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "crawl-runs", events[0].Topic)
	summary, ok := events[0].Payload.(Summary)
	require.True(t, ok)
	assert.Equal(t, "run-123", summary.RunID)
	assert.Equal(t, 7, summary.RecordCount)
	assert.Len(t, summary.Outcomes, 3)
}

func TestRunFailedCategoryDoesNotBlockSiblings(t *testing.T) {
	t.Parallel()

	categories := []crawler.Category{
		{URL: "https://shop.example.com/category/whole-flower", Label: "whole-flower"},
		{URL: "https://shop.example.com/category/vapes", Label: "vapes"},
	}
	cc := &scriptedCrawler{results: map[string]crawler.Result{
		categories[0].URL: {
			Records: makeRecords("whole-flower", 3),
			Outcome: catalog.Outcome{Category: "whole-flower", RecordCount: 3, Status: catalog.StatusCompleted},
		},
		categories[1].URL: {
			Outcome: catalog.Outcome{
				Category: "vapes",
				Status:   catalog.StatusFailed,
				Errors:   []catalog.StageError{{Stage: "store_selecting", Message: "shop button not found"}},
			},
		},
	}}
	sinks := &countingSink{}

	o := New(baseConfig(), cc, sinks, nil, fixedClock{testStamp()}, fixedIDs{id: "run-456"}, zap.NewNop())
	result, err := o.Run(context.Background(), categories)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, catalog.StatusCompleted, result.Outcomes[0].Status)
	assert.Equal(t, catalog.StatusFailed, result.Outcomes[1].Status)
	assert.Len(t, result.Records, 3)
	assert.Equal(t, 1, sinks.calls)
}

func TestRunBudgetFailsPendingCategoriesButStillFlushes(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Budget = 20 * time.Millisecond
	categories := []crawler.Category{
		{URL: "https://shop.example.com/category/whole-flower", Label: "whole-flower"},
		{URL: "https://shop.example.com/category/pre-rolls", Label: "pre-rolls"},
	}
	sinks := &countingSink{}

	o := New(cfg, &blockingCrawler{}, sinks, nil, fixedClock{testStamp()}, fixedIDs{id: "run-789"}, zap.NewNop())
	result, err := o.Run(context.Background(), categories)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	for _, out := range result.Outcomes {
		assert.Equal(t, catalog.StatusFailed, out.Status)
		require.NotEmpty(t, out.Errors)
		assert.Equal(t, "budget", out.Errors[0].Stage)
	}
	// The run budget bounds crawling, not persistence.
	assert.Equal(t, 1, sinks.calls)
}

func TestRunDryRunSkipsSinks(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.DryRun = true
	categories := []crawler.Category{
		{URL: "https://shop.example.com/category/whole-flower", Label: "whole-flower"},
	}
	cc := &scriptedCrawler{results: map[string]crawler.Result{
		categories[0].URL: {
			Records: makeRecords("whole-flower", 2),
			Outcome: catalog.Outcome{Category: "whole-flower", RecordCount: 2, Status: catalog.StatusCompleted},
		},
	}}
	sinks := &countingSink{}
	pub := pubmem.New()

	o := New(cfg, cc, sinks, pub, fixedClock{testStamp()}, fixedIDs{id: "run-dry"}, zap.NewNop())
	result, err := o.Run(context.Background(), categories)
	require.NoError(t, err)

	assert.Equal(t, 0, sinks.calls)
	assert.Len(t, result.Records, 2)
	// The run summary still goes out so schedules can observe dry runs.
	assert.Len(t, pub.Events(), 1)
}

func TestRunDedupesRepeatsWithinACategory(t *testing.T) {
	t.Parallel()

	dup := catalog.Record{
		Store:    "tampa",
		Category: "whole-flower",
		Name:     "Blue Dream",
		URL:      "https://shop.example.com/product/blue-dream",
	}
	categories := []crawler.Category{
		{URL: "https://shop.example.com/category/whole-flower", Label: "whole-flower"},
	}
	cc := &scriptedCrawler{results: map[string]crawler.Result{
		categories[0].URL: {
			Records: []catalog.Record{dup, dup},
			Outcome: catalog.Outcome{Category: "whole-flower", RecordCount: 2, Status: catalog.StatusCompleted},
		},
	}}

	o := New(baseConfig(), cc, nil, nil, fixedClock{testStamp()}, fixedIDs{id: "run-dup"}, zap.NewNop())
	result, err := o.Run(context.Background(), categories)
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
}

func TestRunPreflightErrors(t *testing.T) {
	t.Parallel()

	o := New(baseConfig(), &scriptedCrawler{}, nil, nil, fixedClock{testStamp()}, fixedIDs{id: "x"}, zap.NewNop())
	_, err := o.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no categories")

	boom := errors.New("entropy exhausted")
	o = New(baseConfig(), &scriptedCrawler{}, nil, nil, fixedClock{testStamp()}, fixedIDs{err: boom}, zap.NewNop())
	_, err = o.Run(context.Background(), []crawler.Category{{URL: "https://shop.example.com/category/minis", Label: "minis"}})
	require.ErrorIs(t, err, boom)
}
