// Package stub is an in-memory reference implementation of the remote cart
// service HTTP contract. It backs the SDK's integration-style tests, the
// cartctl demo, and local frontend development. The stub is the pricing
// authority: every mutation recomputes final prices, line totals, and the
// cart total from its catalog before returning the snapshot.
package stub

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Variant is a purchasable catalog entry. Discount is an absolute amount off
// the unit price.
type Variant struct {
	VariantID  string
	ProductID  string
	Name       string
	Attributes json.RawMessage
	UnitPrice  decimal.Decimal
	Discount   decimal.Decimal
	ImageURL   string
}

// finalPrice is the effective unit price after discount, floored at zero.
func (v Variant) finalPrice() decimal.Decimal {
	p := v.UnitPrice.Sub(v.Discount)
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

// line is one cart line. Lines are keyed by variant: adding a variant that is
// already present increases the quantity instead of appending a duplicate.
type line struct {
	itemID   string
	variant  Variant
	quantity int
}

// cartState holds one cart. Mutations are serialized per cart; replay keeps
// the response body for each seen Idempotency-Key so a duplicate submit of
// the same mutation returns the original result instead of applying twice.
type cartState struct {
	mu     sync.Mutex
	userID string
	lines  []*line
	replay map[string][]byte
}

// Server implements the cart service contract over an in-memory cart table.
// Carts are created on first touch.
type Server struct {
	lg      *zap.Logger
	catalog map[string]Variant

	mu    sync.Mutex
	carts map[string]*cartState
}

// NewServer creates a Server selling the given catalog.
func NewServer(lg *zap.Logger, catalog []Variant) *Server {
	if lg == nil {
		lg = zap.NewNop()
	}
	byID := make(map[string]Variant, len(catalog))
	for _, v := range catalog {
		byID[v.VariantID] = v
	}
	return &Server{
		lg:      lg,
		catalog: byID,
		carts:   make(map[string]*cartState),
	}
}

// Handler returns the HTTP routes for the cart contract.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/cart/{cartID}", s.handleGet)
	r.Post("/cart/{cartID}/add", s.handleAdd)
	r.Put("/cart/{cartID}/update-quantity", s.handleUpdate)
	r.Delete("/cart/{cartID}/remove/{variantID}", s.handleRemove)
	return r
}

// cart returns the cart for id, creating it on first touch.
func (s *Server) cart(id string) *cartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[id]
	if !ok {
		c = &cartState{replay: make(map[string][]byte)}
		s.carts[id] = c
	}
	return c
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")
	c := s.cart(cartID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachUser(r)
	writeJSON(w, http.StatusOK, encodeSnapshot(cartID, c))
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")

	variantID, quantity, err := decodeAddRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed add request")
		return
	}
	if variantID == "" {
		writeError(w, http.StatusUnprocessableEntity, "variantId required")
		return
	}
	if quantity <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "quantity must be greater than 0")
		return
	}
	variant, ok := s.catalog[variantID]
	if !ok {
		writeError(w, http.StatusNotFound, "variant "+variantID+" not found")
		return
	}

	c := s.cart(cartID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachUser(r)

	if body, ok := c.replayFor(r); ok {
		writeJSON(w, http.StatusOK, body)
		return
	}

	if l := c.find(variantID); l != nil {
		l.quantity += quantity
	} else {
		c.lines = append(c.lines, &line{
			itemID:   uuid.New().String(),
			variant:  variant,
			quantity: quantity,
		})
	}
	s.lg.Debug("item added",
		zap.String("cart_id", cartID),
		zap.String("variant_id", variantID),
		zap.Int("quantity", quantity))

	body := encodeSnapshot(cartID, c)
	c.remember(r, body)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")
	variantID := r.URL.Query().Get("variantId")
	action := r.URL.Query().Get("action")

	if action != "increase" && action != "decrease" {
		writeError(w, http.StatusBadRequest, "action must be increase or decrease")
		return
	}

	c := s.cart(cartID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachUser(r)

	if body, ok := c.replayFor(r); ok {
		writeJSON(w, http.StatusOK, body)
		return
	}

	l := c.find(variantID)
	if l == nil {
		writeError(w, http.StatusNotFound, "variant "+variantID+" not in cart")
		return
	}

	switch action {
	case "increase":
		l.quantity++
	case "decrease":
		// Decreasing at quantity one removes the line entirely; a cart never
		// carries a zero-quantity line.
		if l.quantity <= 1 {
			c.remove(variantID)
		} else {
			l.quantity--
		}
	}

	body := encodeSnapshot(cartID, c)
	c.remember(r, body)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")
	variantID := chi.URLParam(r, "variantID")

	c := s.cart(cartID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachUser(r)

	if body, ok := c.replayFor(r); ok {
		writeJSON(w, http.StatusOK, body)
		return
	}

	if c.find(variantID) == nil {
		writeError(w, http.StatusNotFound, "variant "+variantID+" not in cart")
		return
	}
	c.remove(variantID)

	body := encodeSnapshot(cartID, c)
	c.remember(r, body)
	writeJSON(w, http.StatusOK, body)
}

// attachUser records the caller identity when provided. Must hold c.mu.
func (c *cartState) attachUser(r *http.Request) {
	if uid := r.Header.Get("X-User-ID"); uid != "" {
		c.userID = uid
	}
}

// find returns the line for a variant, or nil. Must hold c.mu.
func (c *cartState) find(variantID string) *line {
	for _, l := range c.lines {
		if l.variant.VariantID == variantID {
			return l
		}
	}
	return nil
}

// remove drops a variant's line, preserving the order of the rest.
// Must hold c.mu.
func (c *cartState) remove(variantID string) {
	out := c.lines[:0]
	for _, l := range c.lines {
		if l.variant.VariantID != variantID {
			out = append(out, l)
		}
	}
	c.lines = out
}

// replayFor returns the stored response for the request's Idempotency-Key.
// Must hold c.mu.
func (c *cartState) replayFor(r *http.Request) ([]byte, bool) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		return nil, false
	}
	body, ok := c.replay[key]
	return body, ok
}

// remember stores the response for the request's Idempotency-Key.
// Must hold c.mu.
func (c *cartState) remember(r *http.Request, body []byte) {
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		c.replay[key] = body
	}
}

// decodeAddRequest parses {variantId, quantity}.
func decodeAddRequest(body io.Reader) (variantID string, quantity int, err error) {
	data, err := io.ReadAll(io.LimitReader(body, 1<<16))
	if err != nil {
		return "", 0, err
	}
	d := jx.DecodeBytes(data)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "variantId":
			v, err := d.Str()
			if err != nil {
				return err
			}
			variantID = v
			return nil
		case "quantity":
			v, err := d.Int()
			if err != nil {
				return err
			}
			quantity = v
			return nil
		default:
			return d.Skip()
		}
	})
	return variantID, quantity, err
}

// encodeSnapshot renders the full cart snapshot. Must hold c.mu.
func encodeSnapshot(cartID string, c *cartState) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("cartId")
	e.Str(cartID)
	e.FieldStart("userId")
	e.Str(c.userID)
	e.FieldStart("items")
	e.ArrStart()
	total := decimal.Zero
	for _, l := range c.lines {
		final := l.variant.finalPrice()
		lineTotal := final.Mul(decimal.NewFromInt(int64(l.quantity)))
		total = total.Add(lineTotal)

		e.ObjStart()
		e.FieldStart("itemId")
		e.Str(l.itemID)
		e.FieldStart("variantId")
		e.Str(l.variant.VariantID)
		e.FieldStart("productId")
		e.Str(l.variant.ProductID)
		e.FieldStart("productName")
		e.Str(l.variant.Name)
		if len(l.variant.Attributes) > 0 {
			e.FieldStart("attributesJson")
			e.Raw(jx.Raw(l.variant.Attributes))
		}
		e.FieldStart("quantity")
		e.Int(l.quantity)
		e.FieldStart("unitPrice")
		e.Num(jx.Num(l.variant.UnitPrice.String()))
		e.FieldStart("discount")
		e.Num(jx.Num(l.variant.Discount.String()))
		e.FieldStart("finalPrice")
		e.Num(jx.Num(final.String()))
		e.FieldStart("lineTotal")
		e.Num(jx.Num(lineTotal.String()))
		e.FieldStart("imageUrl")
		e.Str(l.variant.ImageURL)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("totalAmount")
	e.Num(jx.Num(total.String()))
	e.ObjEnd()
	return e.Bytes()
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, e.Bytes())
}
