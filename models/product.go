package models

// Rating is the nested rating object of a source record.
type Rating struct {
	Rate  float64 `json:"rate"`
	Count int     `json:"count"`
}

// RawRecord is a product as received from the source API.
type RawRecord struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Image       string  `json:"image"`
	Rating      Rating  `json:"rating"`

	// Invalid holds the reason an element of the response could not be
	// decoded. Such records never survive the transform.
	Invalid string `json:"-"`
}

// Product is a cleaned, filtered and enriched record. It is also the shape
// of a row in the products table.
type Product struct {
	ID             int64   `json:"product_id" db:"product_id"`
	Name           string  `json:"name" db:"name"`
	PriceUSD       float64 `json:"price_usd" db:"price_usd"`
	Description    string  `json:"description" db:"description"`
	Category       string  `json:"category" db:"category"`
	ImageURL       string  `json:"image_url" db:"image_url"`
	AvgRating      float64 `json:"avg_rating" db:"avg_rating"`
	ReviewCount    int     `json:"review_count" db:"review_count"`
	PriceConverted float64 `json:"price_converted" db:"price_converted"`
	IsExpensive    bool    `json:"is_expensive" db:"is_expensive"`
	WeightedValue  float64 `json:"weighted_value" db:"weighted_value"`
}

// UpsertResult reports the outcome of one Upsert call.
type UpsertResult struct {
	Updated int `json:"updated"`
	Total   int `json:"total"`
}
