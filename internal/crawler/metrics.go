package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalPages tracks fragment batches fetched across all categories.
	TotalPages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "menucrawler_pages_total",
		Help: "The total number of menu pages fetched.",
	})
	// TotalFragments tracks raw product cards surfaced by the navigator.
	TotalFragments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "menucrawler_fragments_total",
		Help: "The total number of raw product-card fragments collected.",
	})
	// TotalRecords tracks canonical records produced after normalization.
	TotalRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "menucrawler_records_total",
		Help: "The total number of canonical records produced.",
	})
	// TotalRejects tracks fragments dropped by the normalizer.
	TotalRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "menucrawler_fragment_rejects_total",
		Help: "The total number of fragments rejected during normalization.",
	})
	// TotalRetries tracks extra page-fetch attempts beyond the first.
	TotalRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "menucrawler_page_retries_total",
		Help: "The total number of page fetch retries.",
	})
	// TotalPageErrors tracks page fetches that exhausted their retries.
	TotalPageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "menucrawler_page_errors_total",
		Help: "The total number of page fetches that failed after retries.",
	})
	// CategoryResults tracks terminal category states by status.
	CategoryResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "menucrawler_categories_total",
		Help: "The total number of category crawls by terminal status.",
	}, []string{"status"})
)
