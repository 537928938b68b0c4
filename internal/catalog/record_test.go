package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNaturalKeyPrefersURL(t *testing.T) {
	t.Parallel()

	withURL := Record{Store: "Tampa", Category: "Whole Flower", Name: "Blue Dream", SizeRaw: "3.5g", URL: "https://example.com/product/blue-dream"}
	withoutURL := Record{Store: "Tampa", Category: "Whole Flower", Name: "Blue Dream", SizeRaw: "3.5g"}

	require.NotEqual(t, withURL.NaturalKey(), withoutURL.NaturalKey())
	assert.Contains(t, withURL.NaturalKey(), "blue-dream")
	assert.Contains(t, withoutURL.NaturalKey(), "3.5g")
}

func TestNaturalKeyDistinguishesCategories(t *testing.T) {
	t.Parallel()

	a := Record{Store: "Tampa", Category: "Whole Flower", Name: "Blue Dream", SizeRaw: "3.5g"}
	b := a
	b.Category = "Pre-Rolls"
	require.NotEqual(t, a.NaturalKey(), b.NaturalKey())
}

func TestKeyDigestIsStable(t *testing.T) {
	t.Parallel()

	rec := Record{Store: "Tampa", Category: "Whole Flower", Name: "Blue Dream", SizeRaw: "3.5g"}
	first := rec.KeyDigest()
	require.Len(t, first, 64)
	assert.Equal(t, first, rec.KeyDigest())

	other := rec
	other.SizeRaw = "7g"
	assert.NotEqual(t, first, other.KeyDigest())
}

func TestCompletenessCountsPopulatedFields(t *testing.T) {
	t.Parallel()

	sparse := Record{Store: "Tampa", Category: "Whole Flower", Name: "Blue Dream"}
	assert.Equal(t, 0, sparse.Completeness())

	price := 25.99
	grams := 3.5
	rich := sparse
	rich.Brand = "Muse"
	rich.Strain = StrainHybrid
	rich.Price = &price
	rich.Grams = &grams
	assert.Equal(t, 4, rich.Completeness())
}
