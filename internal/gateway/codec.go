package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/shopfront-labs/cartsync/internal/cart"
)

// encodeAddRequest builds the POST /cart/{id}/add body.
func encodeAddRequest(variantID string, quantity int) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("variantId")
	e.Str(variantID)
	e.FieldStart("quantity")
	e.Int(quantity)
	e.ObjEnd()
	return e.Bytes()
}

// decodeSnapshot parses a full cart snapshot response:
// {cartId, userId, items[], totalAmount}.
func decodeSnapshot(data []byte) (*cart.Snapshot, error) {
	d := jx.DecodeBytes(data)
	var snap cart.Snapshot
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "cartId":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "cartId")
			}
			snap.CartID = v
			return nil
		case "userId":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "userId")
			}
			snap.UserID = v
			return nil
		case "totalAmount":
			v, err := decodeDecimal(d)
			if err != nil {
				return errors.Wrap(err, "totalAmount")
			}
			snap.Total = v
			return nil
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				item, err := decodeItem(d)
				if err != nil {
					return errors.Wrap(err, "item")
				}
				snap.Items = append(snap.Items, item)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// decodeItem parses one cart line.
func decodeItem(d *jx.Decoder) (cart.Item, error) {
	var item cart.Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "itemId":
			return decodeStr(d, &item.ItemID)
		case "variantId":
			return decodeStr(d, &item.VariantID)
		case "productId":
			return decodeStr(d, &item.ProductID)
		case "productName":
			return decodeStr(d, &item.Name)
		case "imageUrl":
			return decodeStr(d, &item.ImageURL)
		case "attributesJson":
			if d.Next() == jx.Null {
				return d.Null()
			}
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			item.Attributes = json.RawMessage(raw)
			return nil
		case "quantity":
			v, err := d.Int()
			if err != nil {
				return err
			}
			item.Quantity = v
			return nil
		case "unitPrice":
			return decodeDec(d, &item.UnitPrice)
		case "discount":
			return decodeDec(d, &item.Discount)
		case "finalPrice":
			return decodeDec(d, &item.FinalPrice)
		case "lineTotal":
			return decodeDec(d, &item.LineTotal)
		default:
			return d.Skip()
		}
	})
	return item, err
}

func decodeStr(d *jx.Decoder, dst *string) error {
	v, err := d.Str()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func decodeDec(d *jx.Decoder, dst *decimal.Decimal) error {
	v, err := decodeDecimal(d)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// decodeDecimal reads a JSON number (or string-wrapped number) as a decimal,
// preserving exact precision.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	s := strings.Trim(string(n), `"`)
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse decimal")
	}
	return v, nil
}

// decodeError maps a non-2xx response to a cart.GatewayError, using the
// {code, message} error body when present.
func decodeError(status int, data []byte) *cart.GatewayError {
	gwErr := &cart.GatewayError{Status: status, Message: statusText(status)}
	d := jx.DecodeBytes(data)
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		if key != "message" {
			return d.Skip()
		}
		msg, err := d.Str()
		if err != nil {
			return err
		}
		if msg != "" {
			gwErr.Message = msg
		}
		return nil
	})
	return gwErr
}

func statusText(status int) string {
	if t := http.StatusText(status); t != "" {
		return t
	}
	return "unexpected response"
}
