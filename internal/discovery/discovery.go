// Package discovery crawls the dispensaries index and emits store
// candidates for the configured region. It is a separate stage feeding the
// same configuration shape the orchestrator consumes, so the crawler stays
// traversal-agnostic.
package discovery

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Store is one dispensary location candidate.
type Store struct {
	Name string
	URL  string
}

// Config controls the store-locator crawl.
type Config struct {
	IndexURL  string
	Region    string
	UserAgent string
	Timeout   time.Duration
}

// Discoverer finds region stores on the dispensaries index page.
type Discoverer struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Discoverer.
func New(cfg Config, logger *zap.Logger) (*Discoverer, error) {
	if cfg.IndexURL == "" {
		return nil, fmt.Errorf("index url is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Discoverer{cfg: cfg, logger: logger}, nil
}

// Stores fetches the index page and returns region stores deduplicated by
// name, sorted for stable output.
func (d *Discoverer) Stores(ctx context.Context) ([]Store, error) {
	c := colly.NewCollector(colly.Async(false))
	if d.cfg.UserAgent != "" {
		c.UserAgent = d.cfg.UserAgent
	}
	c.SetRequestTimeout(d.cfg.Timeout)
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	})

	base, err := url.Parse(d.cfg.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("parse index url: %w", err)
	}

	seen := make(map[string]struct{})
	var stores []Store
	c.OnHTML("a[href*='/dispensaries/']", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		text := strings.Join(strings.Fields(e.Text), " ")
		if !d.looksLikeRegion(href, text) {
			return
		}
		if _, dup := seen[text]; dup || text == "" {
			return
		}
		seen[text] = struct{}{}
		ref, parseErr := url.Parse(href)
		if parseErr != nil {
			return
		}
		stores = append(stores, Store{Name: text, URL: base.ResolveReference(ref).String()})
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(d.cfg.IndexURL)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("store discovery canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit dispensaries index: %w", err)
		}
	}

	sort.Slice(stores, func(i, j int) bool { return stores[i].Name < stores[j].Name })
	d.logger.Info("store discovery finished",
		zap.String("region", d.cfg.Region),
		zap.Int("stores", len(stores)),
	)
	return stores, nil
}

// looksLikeRegion heuristically matches a store link to the configured
// region code using both the link text and the href slug.
func (d *Discoverer) looksLikeRegion(href, text string) bool {
	region := strings.ToUpper(d.cfg.Region)
	t := strings.ToUpper(text)
	h := strings.ToLower(href)
	lower := strings.ToLower(region)
	return strings.Contains(t, ", "+region) ||
		strings.HasSuffix(t, " "+region) ||
		strings.Contains(t, " "+region+" ") ||
		strings.Contains(h, "-"+lower+"-") ||
		strings.HasSuffix(h, "-"+lower) ||
		strings.HasSuffix(h, "/"+lower)
}
