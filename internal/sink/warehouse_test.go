package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verdata/dispensary-price-crawler/internal/catalog"
	"github.com/verdata/dispensary-price-crawler/internal/policy/retry"
)

func warehouseRecord(stamp time.Time) catalog.Record {
	return catalog.Record{
		Region:       "FL",
		Store:        "tampa",
		Category:     "whole-flower",
		Name:         "Blue Dream 3.5g",
		Brand:        "Cultivar",
		Strain:       catalog.StrainHybrid,
		THCPercent:   floatPtr(18.5),
		SizeRaw:      "3.5g",
		Grams:        floatPtr(3.5),
		Price:        floatPtr(25.99),
		PricePerGram: floatPtr(7.43),
		URL:          "https://shop.example.com/product/blue-dream-3-5g",
		ScrapedAt:    stamp,
	}
}

func TestWarehouseUpsertBindsRecordColumns(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	w, err := NewWarehouseWithPool(mock, nil, zap.NewNop())
	require.NoError(t, err)

	stamp := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	loadedAt := stamp.Add(time.Minute)
	w.now = func() time.Time { return loadedAt }

	rec := warehouseRecord(stamp)
	mock.ExpectExec("INSERT INTO tl_scrape_whole_flower").
		WithArgs(
			rec.KeyDigest(),
			"run-123",
			rec.Region,
			rec.Store,
			rec.Category,
			rec.Name,
			rec.Brand,
			string(rec.Strain),
			rec.THCPercent,
			rec.SizeRaw,
			rec.Grams,
			rec.Price,
			rec.PricePerGram,
			rec.URL,
			rec.ScrapedAt,
			loadedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = w.Upsert(context.Background(), "tl_scrape_whole_flower", []catalog.Record{rec}, RunInfo{ID: "run-123", Stamp: stamp})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouseUpsertNullsAbsentOptionals(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	w, err := NewWarehouseWithPool(mock, nil, zap.NewNop())
	require.NoError(t, err)

	stamp := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	loadedAt := stamp.Add(time.Minute)
	w.now = func() time.Time { return loadedAt }

	rec := catalog.Record{
		Region:    "FL",
		Store:     "tampa",
		Category:  "minis",
		Name:      "Mystery Minis 2g",
		ScrapedAt: stamp,
	}
	mock.ExpectExec("INSERT INTO tl_scrape_minis").
		WithArgs(
			rec.KeyDigest(), "run-123", rec.Region, rec.Store, rec.Category, rec.Name,
			nil, nil, (*float64)(nil), nil, (*float64)(nil), (*float64)(nil), (*float64)(nil), nil,
			rec.ScrapedAt, loadedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = w.Upsert(context.Background(), "tl_scrape_minis", []catalog.Record{rec}, RunInfo{ID: "run-123", Stamp: stamp})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouseUpsertIsIdempotentForARun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	w, err := NewWarehouseWithPool(mock, nil, zap.NewNop())
	require.NoError(t, err)

	stamp := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	loadedAt := stamp.Add(time.Minute)
	w.now = func() time.Time { return loadedAt }

	rec := warehouseRecord(stamp)
	run := RunInfo{ID: "run-123", Stamp: stamp}

	// Re-running the same upload binds the identical conflict key
	// (record_key, scraped_at), so the second pass updates in place
	// instead of growing the table.
	for i := 0; i < 2; i++ {
		mock.ExpectExec("INSERT INTO tl_scrape_whole_flower").
			WithArgs(
				rec.KeyDigest(),
				run.ID,
				rec.Region,
				rec.Store,
				rec.Category,
				rec.Name,
				rec.Brand,
				string(rec.Strain),
				rec.THCPercent,
				rec.SizeRaw,
				rec.Grams,
				rec.Price,
				rec.PricePerGram,
				rec.URL,
				rec.ScrapedAt,
				loadedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	require.NoError(t, w.Upsert(context.Background(), "tl_scrape_whole_flower", []catalog.Record{rec}, run))
	require.NoError(t, w.Upsert(context.Background(), "tl_scrape_whole_flower", []catalog.Record{rec}, run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouseUpsertRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	policy := retry.New(1, time.Millisecond, 2*time.Millisecond, nil)
	w, err := NewWarehouseWithPool(mock, policy, zap.NewNop())
	require.NoError(t, err)

	stamp := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	rec := warehouseRecord(stamp)

	mock.ExpectExec("INSERT INTO tl_scrape_whole_flower").
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectExec("INSERT INTO tl_scrape_whole_flower").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = w.Upsert(context.Background(), "tl_scrape_whole_flower", []catalog.Record{rec}, RunInfo{ID: "run-123", Stamp: stamp})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouseUpsertRejectsInvalidTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	w, err := NewWarehouseWithPool(mock, nil, zap.NewNop())
	require.NoError(t, err)

	stamp := time.Now().UTC()
	err = w.Upsert(context.Background(), "tl_scrape; DROP TABLE users", []catalog.Record{warehouseRecord(stamp)}, RunInfo{ID: "run-123", Stamp: stamp})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouseUpsertSkipsEmptyBatch(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	w, err := NewWarehouseWithPool(mock, nil, zap.NewNop())
	require.NoError(t, err)

	err = w.Upsert(context.Background(), "tl_scrape_minis", nil, RunInfo{ID: "run-123", Stamp: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
