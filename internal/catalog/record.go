// Package catalog defines the product record model shared across subsystems.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// StrainType classifies a flower product. Empty means the source never
// stated one; StrainUnknown means it stated something outside the vocabulary.
type StrainType string

// Strain vocabulary.
const (
	StrainIndica  StrainType = "indica"
	StrainSativa  StrainType = "sativa"
	StrainHybrid  StrainType = "hybrid"
	StrainUnknown StrainType = "unknown"
)

// RawFragment is one product card's extractable text as surfaced by the
// navigator. Every field is optional; absence is the empty string.
type RawFragment struct {
	NameText   string
	BrandText  string
	PriceText  string
	SizeText   string
	THCText    string
	StrainText string
	DetailHref string
}

// Record is a fully parsed, validated product entry ready for persistence.
// Optional numeric fields are pointers; nil means absent. Records are never
// mutated after the normalizer builds them.
type Record struct {
	Region       string
	Store        string
	Category     string
	Name         string
	Brand        string
	Strain       StrainType
	THCPercent   *float64
	SizeRaw      string
	Grams        *float64
	Price        *float64
	PricePerGram *float64
	URL          string
	ScrapedAt    time.Time
}

// NaturalKey returns the tuple that identifies the record within a run:
// (store, category, url) when the URL is present, else
// (store, category, name, sizeRaw).
func (r Record) NaturalKey() string {
	parts := []string{r.Store, r.Category}
	if r.URL != "" {
		parts = append(parts, r.URL)
	} else {
		parts = append(parts, r.Name, r.SizeRaw)
	}
	return strings.Join(parts, "\x1f")
}

// KeyDigest returns a hex sha256 over the natural key, used as the
// warehouse upsert key.
func (r Record) KeyDigest() string {
	sum := sha256.Sum256([]byte(r.NaturalKey()))
	return hex.EncodeToString(sum[:])
}

// Completeness counts populated fields, used to break dedupe ties.
func (r Record) Completeness() int {
	n := 0
	for _, s := range []string{r.Brand, r.SizeRaw, r.URL, string(r.Strain)} {
		if s != "" {
			n++
		}
	}
	for _, f := range []*float64{r.THCPercent, r.Grams, r.Price, r.PricePerGram} {
		if f != nil {
			n++
		}
	}
	return n
}

// Status is the terminal result of one category crawl.
type Status string

// Category outcome states.
const (
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
)

// StageError records one failure and the pipeline stage it occurred in.
type StageError struct {
	Stage   string
	Message string
}

// Outcome is the per-category result reported by a crawl run.
type Outcome struct {
	Category    string
	RecordCount int
	Status      Status
	Errors      []StageError
}
