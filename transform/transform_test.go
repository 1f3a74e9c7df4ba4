package transform

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog_etl/config"
	"catalog_etl/models"
)

func defaultTransformer() *Transformer {
	return New(config.Defaults().Transform)
}

func record(id int64, price, rate float64) models.RawRecord {
	return models.RawRecord{
		ID:          id,
		Title:       "Product",
		Price:       price,
		Description: "A product",
		Category:    "electronics",
		Image:       "https://example.com/p.jpg",
		Rating:      models.Rating{Rate: rate, Count: 10},
	}
}

func TestTransform_FilterBoundariesAreInclusive(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		rate  float64
		keep  bool
	}{
		{"exact thresholds", 50.0, 3.0, true},
		{"price just below", 49.99, 4.0, false},
		{"rating just below", 80, 2.99, false},
		{"both below", 10, 1.0, false},
		{"comfortably above", 120, 4.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := defaultTransformer().Transform([]models.RawRecord{record(1, tt.price, tt.rate)})
			if tt.keep {
				assert.Len(t, res.Records, 1)
				assert.Zero(t, res.Filtered)
			} else {
				assert.Empty(t, res.Records)
				assert.Equal(t, 1, res.Filtered)
			}
			assert.Empty(t, res.Warnings)
		})
	}
}

func TestTransform_DerivedFields(t *testing.T) {
	res := defaultTransformer().Transform([]models.RawRecord{
		{
			ID:          1,
			Title:       "  Fjallraven Backpack ",
			Price:       109.95,
			Description: "Your perfect pack",
			Category:    "Men's Clothing",
			Image:       "https://example.com/1.jpg",
			Rating:      models.Rating{Rate: 3.9, Count: 120},
		},
		record(2, 60, 4.0),
	})
	require.Len(t, res.Records, 2)

	p := res.Records[0]
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, "Fjallraven Backpack", p.Name)
	assert.Equal(t, "mens clothing", p.Category)
	assert.Equal(t, 109.95, p.PriceUSD)
	assert.InDelta(t, 9125.85, p.PriceConverted, 0.001)
	assert.True(t, p.IsExpensive)
	assert.InDelta(t, 12684.93, p.WeightedValue, 0.001)
	assert.Equal(t, 120, p.ReviewCount)

	cheap := res.Records[1]
	assert.InDelta(t, 4980.0, cheap.PriceConverted, 0.001)
	assert.False(t, cheap.IsExpensive)
	assert.InDelta(t, 6972.0, cheap.WeightedValue, 0.001)
}

func TestTransform_ExpensiveThresholdIsExclusive(t *testing.T) {
	res := defaultTransformer().Transform([]models.RawRecord{record(1, 100, 4)})
	require.Len(t, res.Records, 1)
	assert.False(t, res.Records[0].IsExpensive)
}

func TestTransform_DropsMalformedRecords(t *testing.T) {
	noTitle := record(2, 60, 4)
	noTitle.Title = "   "

	input := []models.RawRecord{
		{Invalid: "element 0: not an object"},
		noTitle,
		record(0, 60, 4),
		record(4, -1, 4),
		record(5, math.NaN(), 4),
		record(6, 60, 5.5),
		record(7, 60, 4),
	}

	res := defaultTransformer().Transform(input)
	require.Len(t, res.Records, 1)
	assert.Equal(t, int64(7), res.Records[0].ID)
	assert.Equal(t, 6, res.Dropped())
	assert.Zero(t, res.Filtered)

	assert.Equal(t, 0, res.Warnings[0].Index)
	assert.Equal(t, "element 0: not an object", res.Warnings[0].Reason)
	assert.Contains(t, res.Warnings[1].Error(), "missing title")
}

func TestTransform_PreservesOrderAndIsDeterministic(t *testing.T) {
	input := []models.RawRecord{record(9, 70, 4), record(3, 10, 4), record(5, 80, 3.5), record(1, 55, 3)}
	tr := defaultTransformer()

	first := tr.Transform(input)
	second := tr.Transform(input)

	require.Equal(t, first, second)
	ids := make([]int64, 0, len(first.Records))
	for _, p := range first.Records {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{9, 5, 1}, ids)
	assert.Equal(t, 1, first.Filtered)
}

func TestTransform_CustomConfig(t *testing.T) {
	cfg := config.Defaults().Transform
	cfg.MinPrice = 0
	cfg.MinRating = 0
	cfg.ConversionRate = 2
	cfg.ExpensiveThreshold = 5

	res := New(cfg).Transform([]models.RawRecord{record(1, 10, 0)})
	require.Len(t, res.Records, 1)
	assert.Equal(t, 20.0, res.Records[0].PriceConverted)
	assert.Equal(t, 20.0, res.Records[0].WeightedValue)
	assert.True(t, res.Records[0].IsExpensive)
}

func TestCleanDescription(t *testing.T) {
	assert.Equal(t, "Bold and plain text", CleanDescription("<p><b>Bold</b> and\n  plain&nbsp;text</p>", 0))
	assert.Equal(t, "short", CleanDescription("  short  ", 100))

	long := strings.Repeat("a", 150)
	got := CleanDescription(long, 100)
	assert.Equal(t, strings.Repeat("a", 100)+"...", got)

	exact := strings.Repeat("b", 100)
	assert.Equal(t, exact, CleanDescription(exact, 100))

	// Truncation counts runes, not bytes.
	accented := strings.Repeat("é", 101)
	assert.Equal(t, strings.Repeat("é", 100)+"...", CleanDescription(accented, 100))
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, "mens clothing", NormalizeCategory("men's clothing"))
	assert.Equal(t, "womens clothing", NormalizeCategory(" Women's Clothing "))
	assert.Equal(t, "jewelery", NormalizeCategory("jewelery"))
	assert.Equal(t, "", NormalizeCategory(""))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.24, Round2(1.235000001))
	assert.Equal(t, 4647.17, Round2(55.99*83))
	assert.Equal(t, -1.5, Round2(-1.499999))
}
