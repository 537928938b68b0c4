// Package sink lands the aggregated record set: a CSV artifact per
// category plus an idempotent warehouse upsert. Both writers receive the
// same immutable records and run strictly after crawling settles.
package sink

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/verdata/dispensary-price-crawler/internal/catalog"
)

// RunInfo identifies one crawl run. Stamp is fixed for the whole run so
// every artifact from the run shares a name suffix.
type RunInfo struct {
	ID    string
	Stamp time.Time
}

// Target maps a category to its artifact prefix and warehouse table.
type Target struct {
	Category     string
	OutputPrefix string
	Table        string
}

// Artifact describes one finalized category file.
type Artifact struct {
	Category string
	Path     string
	URI      string
	Rows     int
}

// Failure records a sink error for one category without blocking siblings.
type Failure struct {
	Category string
	Stage    string
	Message  string
}

// Report is the sink layer's per-run result.
type Report struct {
	Artifacts []Artifact
	Failures  []Failure
}

// Runner drives the per-category writers. Any writer may be nil.
type Runner struct {
	targets   []Target
	csv       *CSVWriter
	warehouse *Warehouse
	archive   *Archiver
	logger    *zap.Logger
}

// NewRunner builds a Runner over the configured category targets.
func NewRunner(targets []Target, csv *CSVWriter, warehouse *Warehouse, archive *Archiver, logger *zap.Logger) *Runner {
	return &Runner{
		targets:   targets,
		csv:       csv,
		warehouse: warehouse,
		archive:   archive,
		logger:    logger,
	}
}

// Flush partitions records by category and runs each writer. A category's
// failure is reported, never propagated, so sibling categories still land.
func (r *Runner) Flush(ctx context.Context, records []catalog.Record, run RunInfo) Report {
	partitions := make(map[string][]catalog.Record, len(r.targets))
	for _, rec := range records {
		partitions[rec.Category] = append(partitions[rec.Category], rec)
	}

	var report Report
	for _, target := range r.targets {
		recs := partitions[target.Category]
		logger := r.logger.With(zap.String("category", target.Category), zap.Int("rows", len(recs)))

		if r.csv != nil {
			path, err := r.csv.Write(target.OutputPrefix, run.Stamp, recs)
			if err != nil {
				logger.Error("csv artifact failed", zap.Error(err))
				report.Failures = append(report.Failures, Failure{
					Category: target.Category, Stage: "csv", Message: err.Error(),
				})
			} else {
				artifact := Artifact{Category: target.Category, Path: path, Rows: len(recs)}
				if r.archive != nil {
					uri, archErr := r.archive.Archive(ctx, path)
					if archErr != nil {
						logger.Warn("artifact archive failed", zap.Error(archErr))
						report.Failures = append(report.Failures, Failure{
							Category: target.Category, Stage: "archive", Message: archErr.Error(),
						})
					} else {
						artifact.URI = uri
					}
				}
				report.Artifacts = append(report.Artifacts, artifact)
			}
		}

		if r.warehouse != nil {
			if err := r.warehouse.Upsert(ctx, target.Table, recs, run); err != nil {
				logger.Error("warehouse upload failed", zap.Error(err))
				report.Failures = append(report.Failures, Failure{
					Category: target.Category, Stage: "warehouse", Message: err.Error(),
				})
			}
		}
	}
	return report
}
