package stub

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// DefaultCatalog returns a small storefront catalog for local development and
// demos. Prices are in minor-unit-free VND style, matching the storefront's
// display currency.
func DefaultCatalog() []Variant {
	return []Variant{
		{
			VariantID:  "v-tee-black-m",
			ProductID:  "p-tee",
			Name:       "Classic Tee",
			Attributes: json.RawMessage(`{"color":"black","size":"M"}`),
			UnitPrice:  decimal.NewFromInt(120000),
			Discount:   decimal.NewFromInt(20000),
			ImageURL:   "/images/tee-black.jpg",
		},
		{
			VariantID:  "v-tee-black-l",
			ProductID:  "p-tee",
			Name:       "Classic Tee",
			Attributes: json.RawMessage(`{"color":"black","size":"L"}`),
			UnitPrice:  decimal.NewFromInt(120000),
			Discount:   decimal.NewFromInt(20000),
			ImageURL:   "/images/tee-black.jpg",
		},
		{
			VariantID:  "v-sneaker-42",
			ProductID:  "p-sneaker",
			Name:       "Runner Sneaker",
			Attributes: json.RawMessage(`{"size":"42"}`),
			UnitPrice:  decimal.NewFromInt(850000),
			Discount:   decimal.NewFromInt(0),
			ImageURL:   "/images/sneaker.jpg",
		},
		{
			VariantID:  "v-cap-one",
			ProductID:  "p-cap",
			Name:       "Baseball Cap",
			Attributes: json.RawMessage(`{"size":"one-size"}`),
			UnitPrice:  decimal.NewFromInt(95000),
			Discount:   decimal.NewFromInt(15000),
			ImageURL:   "/images/cap.jpg",
		},
	}
}
