package catalog

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/verdata/dispensary-price-crawler/internal/extract"
)

// ErrNameMissing reports a fragment whose product name could not be resolved.
var ErrNameMissing = errors.New("fragment has no resolvable name")

// Context carries the per-run constants the normalizer stamps onto every
// record. ScrapedAt is injected once per run so normalization stays
// deterministic; the normalizer never reads a clock.
type Context struct {
	Region    string
	Store     string
	Category  string
	BaseURL   string
	ScrapedAt time.Time
}

// Normalize assembles a canonical record from one raw fragment. It rejects
// only when the name is absent; every other malformed field is dropped.
func Normalize(frag RawFragment, ctx Context) (Record, error) {
	name := strings.Join(strings.Fields(frag.NameText), " ")
	if name == "" {
		return Record{}, ErrNameMissing
	}

	rec := Record{
		Region:    ctx.Region,
		Store:     ctx.Store,
		Category:  ctx.Category,
		Name:      name,
		ScrapedAt: ctx.ScrapedAt,
	}

	if brand, ok := extract.Brand(frag.BrandText); ok {
		rec.Brand = brand
	}
	if strain, ok := extract.Strain(strainSource(frag)); ok {
		rec.Strain = StrainType(strain)
	}
	if thc, ok := extract.THCPercent(frag.THCText); ok {
		rec.THCPercent = &thc
	}
	if size, ok := extract.Size(frag.SizeText); ok {
		rec.SizeRaw = size
		if grams, ok := extract.Grams(size); ok {
			rec.Grams = &grams
		}
	}
	if price, ok := extract.Price(frag.PriceText); ok {
		rec.Price = &price
	}
	if rec.Price != nil && rec.Grams != nil && *rec.Grams > 0 {
		ppg := *rec.Price / *rec.Grams
		rec.PricePerGram = &ppg
	}
	rec.URL = canonicalURL(ctx.BaseURL, frag.DetailHref)

	return rec, nil
}

// Dedupe collapses records sharing a natural key, keeping the most complete
// one; ties keep the later record. First-seen order is otherwise preserved.
func Dedupe(records []Record) []Record {
	order := make([]string, 0, len(records))
	best := make(map[string]Record, len(records))
	for _, rec := range records {
		key := rec.NaturalKey()
		prev, seen := best[key]
		if !seen {
			order = append(order, key)
			best[key] = rec
			continue
		}
		if rec.Completeness() >= prev.Completeness() {
			best[key] = rec
		}
	}
	out := make([]Record, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

func strainSource(frag RawFragment) string {
	if strings.TrimSpace(frag.StrainText) != "" {
		return frag.StrainText
	}
	return frag.NameText
}

// canonicalURL resolves href against base and strips query and fragment
// noise so the same product detail page always keys identically.
func canonicalURL(base, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != "" {
		if b, berr := url.Parse(base); berr == nil {
			ref = b.ResolveReference(ref)
		}
	}
	ref.RawQuery = ""
	ref.Fragment = ""
	return strings.TrimSuffix(ref.String(), "/")
}
