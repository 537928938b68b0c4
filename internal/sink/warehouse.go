package sink

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/verdata/dispensary-price-crawler/internal/catalog"
	"github.com/verdata/dispensary-price-crawler/internal/policy/retry"
)

// TotalWarehouseRows tracks rows upserted across all categories.
var TotalWarehouseRows = promauto.NewCounter(prometheus.CounterOpts{
	Name: "menucrawler_warehouse_rows_total",
	Help: "The total number of rows upserted into warehouse tables.",
})

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// upsertSQL keys on (record_key, scraped_at): re-running the same crawl for
// the same run timestamp overwrites rather than duplicates, while later
// runs append history.
const upsertSQL = `
INSERT INTO %s (
	record_key,
	run_id,
	region,
	store,
	category,
	name,
	brand,
	strain_type,
	thc_pct,
	size_raw,
	grams,
	price,
	price_per_g,
	url,
	scraped_at,
	loaded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (record_key, scraped_at) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	brand = EXCLUDED.brand,
	strain_type = EXCLUDED.strain_type,
	thc_pct = EXCLUDED.thc_pct,
	size_raw = EXCLUDED.size_raw,
	grams = EXCLUDED.grams,
	price = EXCLUDED.price,
	price_per_g = EXCLUDED.price_per_g,
	url = EXCLUDED.url,
	loaded_at = EXCLUDED.loaded_at`

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// WarehouseConfig controls the Postgres connection pool.
type WarehouseConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Warehouse upserts canonical records into per-category tables.
type Warehouse struct {
	pool   execCloser
	retry  *retry.Policy
	now    func() time.Time
	logger *zap.Logger
}

// NewWarehouse connects a pgx pool and wraps it in a Warehouse.
func NewWarehouse(ctx context.Context, cfg WarehouseConfig, policy *retry.Policy, logger *zap.Logger) (*Warehouse, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("warehouse.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse warehouse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect warehouse: %w", err)
	}
	return newWarehouse(pool, policy, logger), nil
}

// NewWarehouseWithPool constructs a Warehouse from an existing pool,
// primarily for testing.
func NewWarehouseWithPool(pool execCloser, policy *retry.Policy, logger *zap.Logger) (*Warehouse, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newWarehouse(pool, policy, logger), nil
}

func newWarehouse(pool execCloser, policy *retry.Policy, logger *zap.Logger) *Warehouse {
	if policy == nil {
		policy = retry.New(0, 0, 0, nil)
	}
	return &Warehouse{
		pool:   pool,
		retry:  policy,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Close releases the underlying pool.
func (w *Warehouse) Close() {
	if w == nil || w.pool == nil {
		return
	}
	w.pool.Close()
}

// Upsert loads one category's records into its target table. The whole
// upload retries on transient failure; because rows key on the natural-key
// digest plus the run timestamp, repeating a partial upload is safe.
func (w *Warehouse) Upsert(ctx context.Context, table string, records []catalog.Record, run RunInfo) error {
	if w == nil || w.pool == nil {
		return fmt.Errorf("warehouse is not configured")
	}
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(upsertSQL, table)
	loadedAt := w.now()
	err := w.retry.Do(ctx, func(ctx context.Context) error {
		for _, rec := range records {
			args := []any{
				rec.KeyDigest(),
				run.ID,
				rec.Region,
				rec.Store,
				rec.Category,
				rec.Name,
				nullString(rec.Brand),
				nullString(string(rec.Strain)),
				rec.THCPercent,
				nullString(rec.SizeRaw),
				rec.Grams,
				rec.Price,
				rec.PricePerGram,
				nullString(rec.URL),
				rec.ScrapedAt,
				loadedAt,
			}
			if _, execErr := w.pool.Exec(ctx, query, args...); execErr != nil {
				return fmt.Errorf("upsert into %s: %w", table, execErr)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	TotalWarehouseRows.Add(float64(len(records)))
	w.logger.Info("warehouse upload complete", zap.String("table", table), zap.Int("rows", len(records)))
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
