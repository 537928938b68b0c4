package navigator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/verdata/dispensary-price-crawler/internal/catalog"
)

// Config controls the shared headless browser.
type Config struct {
	UserAgent   string
	NavTimeout  time.Duration
	HostQPS     float64
	MaxSessions int
}

// Browser owns one headless Chrome instance and hands out isolated tab
// contexts, one per category session, so store-selection cookies never
// bleed between concurrent categories.
type Browser struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	sem           chan struct{}
	hostLimiters  sync.Map
	logger        *zap.Logger
}

// NewBrowser launches headless Chrome and warms the allocator.
func NewBrowser(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 2
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Browser{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		sem:           make(chan struct{}, cfg.MaxSessions),
		logger:        logger,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (b *Browser) Close() error {
	b.browserCancel()
	b.allocCancel()
	return nil
}

// OpenCategory acquires a session slot and opens an isolated tab pointed at
// the category URL. The tab is not navigated until SelectStore runs.
func (b *Browser) OpenCategory(ctx context.Context, categoryURL string) (Session, error) {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire session slot: %w", ctx.Err())
	}

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	return &chromeSession{
		browser:     b,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		categoryURL: categoryURL,
		logger:      b.logger.With(zap.String("category_url", categoryURL)),
	}, nil
}

func (b *Browser) waitHostBudget(ctx context.Context, rawURL string) error {
	if b.cfg.HostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := b.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(b.cfg.HostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

type chromeSession struct {
	browser     *Browser
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	categoryURL string
	logger      *zap.Logger
	seen        int
	exhausted   bool
	closeOnce   sync.Once
}

// shopButton matches the store-selection affordance on the store page.
const shopButton = `//button[contains(translate(., 'SHOP AT THIS ORE', 'shop at this ore'), 'shop at this store')]`

// loadMoreJS reports whether a visible Load More button exists and clicks it.
const loadMoreJS = `(() => {
	const btn = [...document.querySelectorAll('button')]
		.find(b => /load more/i.test(b.textContent) && b.offsetParent !== null);
	if (!btn) { return false; }
	btn.click();
	return true;
})()`

func (s *chromeSession) SelectStore(ctx context.Context, storeHint string) error {
	if err := s.browser.waitHostBudget(ctx, storeHint); err != nil {
		return err
	}
	run, cancel := s.taskContext(ctx)
	defer cancel()

	err := chromedp.Run(run,
		network.Enable(),
		emulation.SetUserAgentOverride(s.browser.cfg.UserAgent),
		chromedp.Navigate(storeHint),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Click(shopButton, chromedp.BySearch),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Navigate(s.categoryURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return classifyNavError("select store", err)
	}
	return nil
}

func (s *chromeSession) NextFragmentBatch(ctx context.Context) ([]catalog.RawFragment, error) {
	if s.exhausted {
		return nil, ErrExhausted
	}
	if err := s.browser.waitHostBudget(ctx, s.categoryURL); err != nil {
		return nil, err
	}
	run, cancel := s.taskContext(ctx)
	defer cancel()

	var (
		html     string
		hasMore  bool
		scrollJS = `window.scrollTo(0, document.body.scrollHeight)`
	)
	err := chromedp.Run(run,
		chromedp.Evaluate(scrollJS, nil),
		chromedp.Sleep(800*time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(loadMoreJS, &hasMore),
	)
	if err != nil {
		return nil, classifyNavError("next batch", err)
	}

	cards, err := ParseCards(html)
	if err != nil {
		return nil, &StructuralError{Op: "parse cards", Err: err}
	}
	if len(cards) < s.seen {
		// The grid shrank between snapshots, which means the page was
		// re-rendered from scratch; start counting over.
		s.seen = 0
	}
	batch := cards[s.seen:]
	s.seen = len(cards)
	if !hasMore {
		s.exhausted = true
		if len(batch) == 0 {
			return nil, ErrExhausted
		}
	}
	return batch, nil
}

func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.tabCancel()
		<-s.browser.sem
	})
	return nil
}

func (s *chromeSession) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	run, cancel := context.WithTimeout(s.tabCtx, s.browser.cfg.NavTimeout)
	stop := forwardCancel(ctx, cancel)
	return run, func() {
		stop()
		cancel()
	}
}

// classifyNavError maps a chromedp failure into the retry taxonomy.
// Cancellation passes through untouched so the crawler can report a spent
// run budget instead of source drift; timeouts and network resets are
// transient; anything else on a rendered page is drift.
func classifyNavError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isTimeoutErr(err) || isNetworkErr(err) {
		return &TransientError{Op: op, Err: err}
	}
	return &StructuralError{Op: op, Err: err}
}

func isTimeoutErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func isNetworkErr(err error) bool {
	return strings.Contains(err.Error(), "net::ERR")
}

// forwardCancel propagates cancellation from the caller's context into a
// chromedp task context that does not inherit from it.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
