package transform

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"catalog_etl/config"
	"catalog_etl/models"
)

// Warning explains why a record was dropped before filtering.
type Warning struct {
	Index  int
	ID     int64
	Reason string
}

func (w Warning) Error() string {
	return fmt.Sprintf("record %d (id %d) dropped: %s", w.Index, w.ID, w.Reason)
}

// Result is the output of one Transform call.
type Result struct {
	Records  []models.Product
	Filtered int
	Warnings []Warning
}

// Dropped is the number of records rejected as malformed.
func (r Result) Dropped() int {
	return len(r.Warnings)
}

type Transformer struct {
	cfg config.TransformConfig
}

func New(cfg config.TransformConfig) *Transformer {
	return &Transformer{cfg: cfg}
}

// Transform validates, normalizes, filters and enriches records. Input
// order is preserved and the same input always gives the same output.
func (t *Transformer) Transform(raw []models.RawRecord) Result {
	res := Result{Records: make([]models.Product, 0, len(raw))}

	for i, r := range raw {
		if reason := validate(r); reason != "" {
			res.Warnings = append(res.Warnings, Warning{Index: i, ID: r.ID, Reason: reason})
			continue
		}

		if r.Price < t.cfg.MinPrice || r.Rating.Rate < t.cfg.MinRating {
			res.Filtered++
			continue
		}

		res.Records = append(res.Records, t.enrich(r))
	}

	return res
}

func (t *Transformer) enrich(r models.RawRecord) models.Product {
	converted := Round2(r.Price * t.cfg.ConversionRate)
	return models.Product{
		ID:             r.ID,
		Name:           strings.TrimSpace(r.Title),
		PriceUSD:       r.Price,
		Description:    CleanDescription(r.Description, t.cfg.DescriptionMaxLen),
		Category:       NormalizeCategory(r.Category),
		ImageURL:       strings.TrimSpace(r.Image),
		AvgRating:      r.Rating.Rate,
		ReviewCount:    r.Rating.Count,
		PriceConverted: converted,
		IsExpensive:    r.Price > t.cfg.ExpensiveThreshold,
		WeightedValue:  Round2(converted * (1 + r.Rating.Rate/t.cfg.RatingWeightDivisor)),
	}
}

func validate(r models.RawRecord) string {
	switch {
	case r.Invalid != "":
		return r.Invalid
	case r.ID <= 0:
		return "missing or non-positive id"
	case strings.TrimSpace(r.Title) == "":
		return "missing title"
	case math.IsNaN(r.Price) || math.IsInf(r.Price, 0):
		return "price is not a finite number"
	case r.Price < 0:
		return fmt.Sprintf("negative price %g", r.Price)
	case math.IsNaN(r.Rating.Rate) || r.Rating.Rate < 0 || r.Rating.Rate > 5:
		return fmt.Sprintf("rating %g outside [0, 5]", r.Rating.Rate)
	case r.Rating.Count < 0:
		return fmt.Sprintf("negative rating count %d", r.Rating.Count)
	}
	return ""
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// NormalizeCategory lower-cases and trims a category and drops the
// possessive apostrophe, so "men's clothing" becomes "mens clothing".
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	return strings.ReplaceAll(c, "men's", "mens")
}

// CleanDescription strips markup, collapses whitespace and truncates to
// maxLen runes with a "..." suffix. A non-positive maxLen disables truncation.
func CleanDescription(desc string, maxLen int) string {
	text := stripHTML(desc)
	text = strings.Join(strings.Fields(text), " ")

	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		runes := []rune(text)
		text = string(runes[:maxLen]) + "..."
	}
	return text
}

func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}
