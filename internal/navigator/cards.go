package navigator

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/verdata/dispensary-price-crawler/internal/catalog"
)

// Selectors for the menu grid. Card markup drifts between releases of the
// storefront, so each field falls back to the whole card text when its
// dedicated element is missing.
const (
	cardSelector  = "[class*='ProductCard'], .product-card, [data-testid*='product-card']"
	nameSelector  = "a[href*='/product/']"
	brandSelector = "[class*='brand'], [class*='Brand'], [data-testid*='brand']"
	priceSelector = ".price, [class*='price'], [class*='Price']"
)

// ParseCards extracts one RawFragment per product card from a rendered DOM
// snapshot. Cards without a product link are skipped; field-level absence
// is left for the extractors to handle.
func ParseCards(html string) ([]catalog.RawFragment, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse dom snapshot: %w", err)
	}

	var fragments []catalog.RawFragment
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		link := card.Find(nameSelector).First()
		if link.Length() == 0 {
			return
		}
		cardText := squash(card.Text())
		frag := catalog.RawFragment{
			NameText:   squash(link.Text()),
			BrandText:  squash(card.Find(brandSelector).First().Text()),
			SizeText:   cardText,
			THCText:    cardText,
			StrainText: cardText,
		}
		if href, ok := link.Attr("href"); ok {
			frag.DetailHref = strings.TrimSpace(href)
		}
		if price := squash(card.Find(priceSelector).First().Text()); price != "" {
			frag.PriceText = price
		} else {
			frag.PriceText = cardText
		}
		fragments = append(fragments, frag)
	})
	return fragments, nil
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
