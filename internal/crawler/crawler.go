// Package crawler drives one category end-to-end: store selection,
// pagination exhaustion, fragment extraction, and per-category outcome
// reporting.
package crawler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/verdata/dispensary-price-crawler/internal/catalog"
	"github.com/verdata/dispensary-price-crawler/internal/navigator"
	"github.com/verdata/dispensary-price-crawler/internal/policy/retry"
)

// State names the phases a category crawl moves through.
type State string

// Crawl lifecycle states.
const (
	StatePending        State = "pending"
	StateStoreSelecting State = "store_selecting"
	StatePaginating     State = "paginating"
	StateExtracting     State = "extracting"
)

// Category is one configured crawl target.
type Category struct {
	URL          string
	Label        string
	OutputPrefix string
	TargetTable  string
}

// Result bundles a category's records with its outcome. The orchestrator
// owns the records once Crawl returns.
type Result struct {
	Records []catalog.Record
	Outcome catalog.Outcome
}

// Crawler runs the per-category state machine. One Crawler serves all
// categories; per-category state lives on the stack of Crawl.
type Crawler struct {
	nav       navigator.Navigator
	retry     *retry.Policy
	pause     *Pauser
	storeHint string
	maxPages  int
	logger    *zap.Logger
}

// New builds a Crawler. storeHint is the store page the navigator resolves
// before any menu page loads; maxPages bounds pagination against a source
// that never stops offering more results.
func New(nav navigator.Navigator, policy *retry.Policy, pause *Pauser, storeHint string, maxPages int, logger *zap.Logger) *Crawler {
	if maxPages <= 0 {
		maxPages = 50
	}
	return &Crawler{
		nav:       nav,
		retry:     policy,
		pause:     pause,
		storeHint: storeHint,
		maxPages:  maxPages,
		logger:    logger,
	}
}

// Crawl executes one category. It never returns an error: every failure
// mode is absorbed into the outcome so sibling categories keep running.
func (c *Crawler) Crawl(ctx context.Context, cat Category, runCtx catalog.Context) Result {
	logger := c.logger.With(zap.String("category", cat.Label))
	runCtx.Category = cat.Label

	if err := ctx.Err(); err != nil {
		return c.failed(cat, "budget", err)
	}

	session, err := c.nav.OpenCategory(ctx, cat.URL)
	if err != nil {
		logger.Error("open category failed", zap.Error(err))
		return c.failed(cat, string(StatePending), err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.Warn("session close failed", zap.Error(closeErr))
		}
	}()

	// Store selection failure is structural, terminal, and never retried.
	if err := session.SelectStore(ctx, c.storeHint); err != nil {
		if ctx.Err() != nil {
			return c.failed(cat, "budget", ctx.Err())
		}
		logger.Error("store selection failed", zap.Error(err))
		return c.failed(cat, string(StateStoreSelecting), err)
	}

	fragments, pageErrs := c.paginate(ctx, session, logger)
	if err := ctx.Err(); err != nil {
		return c.failed(cat, "budget", err)
	}
	if len(fragments) == 0 && len(pageErrs) > 0 {
		return Result{Outcome: c.outcome(cat, 0, catalog.StatusFailed, pageErrs)}
	}

	records, rejectErrs := c.extractAll(fragments, runCtx, logger)

	errs := append(pageErrs, rejectErrs...)
	status := catalog.StatusCompleted
	if len(errs) > 0 {
		status = catalog.StatusCompletedWithErrors
	}
	logger.Info("category finished",
		zap.Int("fragments", len(fragments)),
		zap.Int("records", len(records)),
		zap.String("status", string(status)),
	)
	return Result{
		Records: records,
		Outcome: c.outcome(cat, len(records), status, errs),
	}
}

// paginate requests fragment batches until the navigator signals
// exhaustion, a page exhausts its retries, or the page safety bound hits.
func (c *Crawler) paginate(ctx context.Context, session navigator.Session, logger *zap.Logger) ([]catalog.RawFragment, []catalog.StageError) {
	var (
		fragments []catalog.RawFragment
		errs      []catalog.StageError
	)
	for page := 0; page < c.maxPages; page++ {
		if page > 0 {
			if err := c.pause.Pause(ctx); err != nil {
				return fragments, errs
			}
		}

		var (
			batch    []catalog.RawFragment
			attempts int
		)
		err := c.retry.Do(ctx, func(ctx context.Context) error {
			attempts++
			b, fetchErr := session.NextFragmentBatch(ctx)
			if fetchErr != nil {
				return fetchErr
			}
			batch = b
			return nil
		})
		if attempts > 1 {
			TotalRetries.Add(float64(attempts - 1))
		}
		if errors.Is(err, navigator.ErrExhausted) {
			break
		}
		if err != nil {
			TotalPageErrors.Inc()
			logger.Warn("page fetch failed", zap.Int("page", page), zap.Error(err))
			errs = append(errs, catalog.StageError{Stage: string(StatePaginating), Message: err.Error()})
			break
		}
		TotalPages.Inc()
		TotalFragments.Add(float64(len(batch)))
		fragments = append(fragments, batch...)
	}
	return fragments, errs
}

// extractAll streams fragments through the normalizer. Malformed fragments
// are skipped, logged, and reflected as stage errors, never as failures.
func (c *Crawler) extractAll(fragments []catalog.RawFragment, runCtx catalog.Context, logger *zap.Logger) ([]catalog.Record, []catalog.StageError) {
	var (
		records []catalog.Record
		errs    []catalog.StageError
	)
	for _, frag := range fragments {
		rec, err := catalog.Normalize(frag, runCtx)
		if err != nil {
			TotalRejects.Inc()
			logger.Debug("fragment rejected", zap.Error(err), zap.String("href", frag.DetailHref))
			errs = append(errs, catalog.StageError{Stage: string(StateExtracting), Message: err.Error()})
			continue
		}
		records = append(records, rec)
	}
	records = catalog.Dedupe(records)
	TotalRecords.Add(float64(len(records)))
	return records, errs
}

func (c *Crawler) failed(cat Category, stage string, err error) Result {
	return Result{
		Outcome: c.outcome(cat, 0, catalog.StatusFailed, []catalog.StageError{
			{Stage: stage, Message: err.Error()},
		}),
	}
}

func (c *Crawler) outcome(cat Category, count int, status catalog.Status, errs []catalog.StageError) catalog.Outcome {
	CategoryResults.WithLabelValues(string(status)).Inc()
	return catalog.Outcome{
		Category:    cat.Label,
		RecordCount: count,
		Status:      status,
		Errors:      errs,
	}
}
