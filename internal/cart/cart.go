// Package cart holds the client-side cart state: the snapshot types returned
// by the remote cart service and the Manager that keeps a local copy of the
// active cart synchronized with it.
package cart

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Item is a single cart line. Lines are keyed by VariantID: the server merges
// an add of an already-present variant into the existing line instead of
// creating a duplicate.
type Item struct {
	ItemID     string
	VariantID  string
	ProductID  string
	Name       string
	Attributes json.RawMessage
	Quantity   int
	UnitPrice  decimal.Decimal
	Discount   decimal.Decimal
	FinalPrice decimal.Decimal
	LineTotal  decimal.Decimal
	ImageURL   string
}

// Snapshot is the authoritative server-side cart representation, returned by
// the gateway after every read or mutation. Items keep insertion order.
type Snapshot struct {
	CartID string
	UserID string
	Items  []Item
	Total  decimal.Decimal
}

// Normalize recomputes every line total and the cart total from the items.
// Total is always derived from the lines, never trusted from the wire, so the
// sum invariant cannot drift no matter what the server sent.
func (s *Snapshot) Normalize() {
	total := decimal.Zero
	for i := range s.Items {
		qty := decimal.NewFromInt(int64(s.Items[i].Quantity))
		s.Items[i].LineTotal = s.Items[i].FinalPrice.Mul(qty)
		total = total.Add(s.Items[i].LineTotal)
	}
	s.Total = total
}

// ItemCount returns the sum of quantities across all lines.
func (s *Snapshot) ItemCount() int {
	n := 0
	for i := range s.Items {
		n += s.Items[i].Quantity
	}
	return n
}

// clone returns a deep copy so callers can never mutate manager-owned state.
func (s *Snapshot) clone() Snapshot {
	out := Snapshot{
		CartID: s.CartID,
		UserID: s.UserID,
		Total:  s.Total,
	}
	if len(s.Items) > 0 {
		out.Items = make([]Item, len(s.Items))
		copy(out.Items, s.Items)
		for i := range out.Items {
			if len(s.Items[i].Attributes) > 0 {
				out.Items[i].Attributes = append(json.RawMessage(nil), s.Items[i].Attributes...)
			}
		}
	}
	return out
}

// Direction selects how UpdateQuantity changes a line.
type Direction string

const (
	// Increase bumps the line quantity by one.
	Increase Direction = "increase"
	// Decrease lowers the line quantity by one; at quantity one the line is
	// removed entirely.
	Decrease Direction = "decrease"
)

// Valid reports whether d is one of the two supported directions.
func (d Direction) Valid() bool {
	return d == Increase || d == Decrease
}
