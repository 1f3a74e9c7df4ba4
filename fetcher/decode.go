package fetcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"catalog_etl/models"
)

// apiProduct mirrors one element of the source response. Optional fields are
// pointers so an absent field can be told apart from an empty one.
type apiProduct struct {
	ID          flexInt    `json:"id"`
	Title       *string    `json:"title"`
	Price       flexFloat  `json:"price"`
	Description *string    `json:"description"`
	Category    *string    `json:"category"`
	Image       *string    `json:"image"`
	Rating      *apiRating `json:"rating"`
}

type apiRating struct {
	Rate  flexFloat `json:"rate"`
	Count flexInt   `json:"count"`
}

// DecodeRecords parses a response body. Only a body that is not a JSON array
// is an error; elements that cannot be coerced come back with Invalid set.
func DecodeRecords(body []byte) ([]models.RawRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("response is not a JSON array")
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	records := make([]models.RawRecord, 0, len(elems))
	for i, elem := range elems {
		var p apiProduct
		if err := json.Unmarshal(elem, &p); err != nil {
			records = append(records, models.RawRecord{
				Invalid: fmt.Sprintf("element %d: %v", i, err),
			})
			continue
		}
		records = append(records, p.toRaw())
	}
	return records, nil
}

func (p apiProduct) toRaw() models.RawRecord {
	r := models.RawRecord{
		ID:          int64(p.ID),
		Title:       deref(p.Title),
		Price:       float64(p.Price),
		Description: deref(p.Description),
		Category:    deref(p.Category),
		Image:       deref(p.Image),
	}
	if p.Rating != nil {
		r.Rating = models.Rating{
			Rate:  float64(p.Rating.Rate),
			Count: int(p.Rating.Count),
		}
	}
	return r
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// flexFloat accepts a JSON number, a numeric string or null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	v, err := parseNumber(data)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt accepts an integral JSON number, a numeric string or null.
type flexInt int64

func (n *flexInt) UnmarshalJSON(data []byte) error {
	v, err := parseNumber(data)
	if err != nil {
		return err
	}
	if v != math.Trunc(v) {
		return fmt.Errorf("expected an integer, got %s", data)
	}
	*n = flexInt(v)
	return nil
}

func parseNumber(data []byte) (float64, error) {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return 0, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return 0, nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %s", data)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %s", data)
	}
	return v, nil
}
