package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/verdata/dispensary-price-crawler/internal/catalog"
)

// stampLayout fixes the artifact name suffix for a run.
const stampLayout = "20060102_150405"

// csvHeader lists the artifact columns in canonical record order.
var csvHeader = []string{
	"region", "store", "category", "name", "brand", "strain_type",
	"thc_pct", "size_raw", "grams", "price", "price_per_g", "url",
	"scraped_at",
}

// CSVWriter writes one delimited artifact per category per run.
type CSVWriter struct {
	dir string
}

// NewCSVWriter ensures the output directory exists.
func NewCSVWriter(dir string) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	return &CSVWriter{dir: dir}, nil
}

// Write lands {prefix}-{stamp}.csv atomically: rows go to a temporary
// sibling which is renamed only on success, so a failed write never leaves
// a partial artifact at the final name. Rows are sorted so two invocations
// over the same records produce byte-identical files.
func (w *CSVWriter) Write(prefix string, stamp time.Time, records []catalog.Record) (string, error) {
	sorted := make([]catalog.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Store != b.Store {
			return a.Store < b.Store
		}
		if a.Brand != b.Brand {
			return a.Brand < b.Brand
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return floatOrZero(a.Grams) < floatOrZero(b.Grams)
	})

	final := filepath.Join(w.dir, fmt.Sprintf("%s-%s.csv", prefix, stamp.UTC().Format(stampLayout)))
	tmp := final + ".tmp"
	if err := w.writeFile(tmp, sorted); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize artifact %s: %w", final, err)
	}
	return final, nil
}

func (w *CSVWriter) writeFile(path string, records []catalog.Record) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open artifact %s: %w", path, err)
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(csvHeader); err != nil {
		_ = f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(row(rec)); err != nil {
			_ = f.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	return nil
}

func row(rec catalog.Record) []string {
	return []string{
		rec.Region,
		rec.Store,
		rec.Category,
		rec.Name,
		rec.Brand,
		string(rec.Strain),
		formatFloat(rec.THCPercent),
		rec.SizeRaw,
		formatFloat(rec.Grams),
		formatFloat(rec.Price),
		formatFloat(rec.PricePerGram),
		rec.URL,
		rec.ScrapedAt.UTC().Format(time.RFC3339),
	}
}

// formatFloat serializes absent values as empty cells.
func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func floatOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
