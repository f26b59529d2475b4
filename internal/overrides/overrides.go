// Package overrides stores per-item display adjustments made by staff:
// hiding a row, hiding individual fields, replacing the product image and
// attaching a note. It also persists the column mapping chosen in the
// settings screen.
//
// Overrides are applied to copies of the parsed records at read time; the
// records produced by the inventory pipeline are never modified.
package overrides

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/JonMunkholm/stockfeed/internal/inventory"
)

// ErrNotFound is returned when no override exists for an item.
var ErrNotFound = errors.New("override not found")

// ErrInvalidOverride wraps validation failures.
var ErrInvalidOverride = errors.New("invalid override")

// Field names that can be hidden, matching the record JSON names.
const (
	FieldSKU            = "sku"
	FieldPartNumber     = "partNumber"
	FieldName           = "name"
	FieldCategory       = "category"
	FieldLocation       = "location"
	FieldQuantity       = "quantity"
	FieldAltQuantity    = "altQuantity"
	FieldETA            = "eta"
	FieldWeight         = "weight"
	FieldShippingWeight = "shippingWeight"
	FieldImageURL       = "imageUrl"
	FieldPrice          = "price"
)

var hideableFields = map[string]struct{}{
	FieldSKU: {}, FieldPartNumber: {}, FieldName: {}, FieldCategory: {},
	FieldLocation: {}, FieldQuantity: {}, FieldAltQuantity: {}, FieldETA: {},
	FieldWeight: {}, FieldShippingWeight: {}, FieldImageURL: {}, FieldPrice: {},
}

// IsHideableField reports whether name can appear in HiddenFields.
func IsHideableField(name string) bool {
	_, ok := hideableFields[name]
	return ok
}

// Override adjusts how one inventory item is displayed.
type Override struct {
	ItemID       string    `json:"itemId"`
	Hidden       bool      `json:"hidden"`
	HiddenFields []string  `json:"hiddenFields"`
	ImageURL     string    `json:"imageUrl,omitempty"`
	Note         string    `json:"note,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
	UpdatedBy    string    `json:"updatedBy,omitempty"`
}

// Validate checks the item id, hidden field names and image URL.
func (o Override) Validate() error {
	if strings.TrimSpace(o.ItemID) == "" {
		return fmt.Errorf("%w: item id is required", ErrInvalidOverride)
	}
	for _, f := range o.HiddenFields {
		if !IsHideableField(f) {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidOverride, f)
		}
	}
	if o.ImageURL != "" && !IsAbsoluteURL(o.ImageURL) {
		return fmt.Errorf("%w: image url must be an absolute http(s) url", ErrInvalidOverride)
	}
	return nil
}

// HidesField reports whether field is hidden for this item.
func (o Override) HidesField(field string) bool {
	for _, f := range o.HiddenFields {
		if f == field {
			return true
		}
	}
	return false
}

// IsAbsoluteURL accepts http and https URLs with a host.
func IsAbsoluteURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Store persists overrides and the column mapping.
type Store interface {
	List(ctx context.Context) ([]Override, error)
	Get(ctx context.Context, itemID string) (Override, error)
	Put(ctx context.Context, o Override) (Override, error)
	Delete(ctx context.Context, itemID string) error

	LoadColumnMapping(ctx context.Context) (inventory.Mapping, error)
	SaveColumnMapping(ctx context.Context, m inventory.Mapping, updatedBy string) error

	Close()
}

// Index keys overrides by item id.
func Index(ovs []Override) map[string]Override {
	idx := make(map[string]Override, len(ovs))
	for _, o := range ovs {
		idx[o.ItemID] = o
	}
	return idx
}

// Visible drops hidden rows. Surviving records are shared with the input.
func Visible(records []inventory.Record, idx map[string]Override) []inventory.Record {
	out := make([]inventory.Record, 0, len(records))
	for _, rec := range records {
		if o, ok := idx[rec.ID]; ok && o.Hidden {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Redact applies image replacements and blanks hidden fields on copies of
// the records that have an override.
func Redact(records []inventory.Record, idx map[string]Override) []inventory.Record {
	out := make([]inventory.Record, len(records))
	for i, rec := range records {
		o, ok := idx[rec.ID]
		if !ok {
			out[i] = rec
			continue
		}
		out[i] = redact(rec.Clone(), o)
	}
	return out
}

// Apply is Visible followed by Redact.
func Apply(records []inventory.Record, ovs []Override) []inventory.Record {
	idx := Index(ovs)
	return Redact(Visible(records, idx), idx)
}

func redact(rec inventory.Record, o Override) inventory.Record {
	if IsAbsoluteURL(o.ImageURL) {
		rec.ImageURL = o.ImageURL
	}
	if len(o.HiddenFields) == 0 {
		return rec
	}

	for _, f := range o.HiddenFields {
		switch f {
		case FieldSKU:
			rec.SKU = ""
		case FieldPartNumber:
			rec.PartNumber = ""
		case FieldName:
			rec.Name = ""
		case FieldCategory:
			rec.Category = ""
		case FieldLocation:
			rec.Location = ""
		case FieldQuantity:
			// status stays derived from the real quantity
			rec.Quantity = 0
		case FieldAltQuantity:
			rec.AltQuantity = nil
		case FieldETA:
			rec.ETAs = []string{}
			rec.ETA = ""
		case FieldWeight:
			rec.Weight = ""
		case FieldShippingWeight:
			rec.ShippingWeight = ""
		case FieldImageURL:
			rec.ImageURL = ""
		case FieldPrice:
			rec.Price = 0
		}
	}
	// raw cells would leak hidden values
	rec.Raw = map[string]string{}
	return rec
}
