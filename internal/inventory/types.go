// Package inventory turns a loosely structured spreadsheet CSV export into
// typed inventory records.
//
// The pipeline runs in five stages, each usable on its own:
//
//   - Tokenize: splits CSV text into records and quoted/comma-delimited fields.
//   - Resolve: maps semantic roles (sku, quantity, ...) to column indices
//     using explicit letters, header keywords, then positional fallbacks.
//   - Build: converts one raw row into a normalized [Record].
//   - Keep: drops header repeats, fitment banners and other junk rows.
//   - ComputeStats: folds the surviving records into [Stats].
//
// [Parse] chains the stages for one CSV snapshot. It never fails: malformed
// rows are coerced or filtered and a near-empty sheet yields no records.
package inventory

// Status is the stock level derived from a record's quantity.
type Status string

const (
	StatusInStock    Status = "In Stock"
	StatusLowStock   Status = "Low Stock"
	StatusOutOfStock Status = "Out of Stock"
)

// LowStockThreshold is the first quantity considered fully in stock.
const LowStockThreshold = 8

const (
	DefaultCategory = "Uncategorized"
	DefaultLocation = "Unassigned"
)

// StatusFor derives the status for a quantity.
func StatusFor(quantity int) Status {
	switch {
	case quantity <= 0:
		return StatusOutOfStock
	case quantity < LowStockThreshold:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// Record is one normalized inventory row.
type Record struct {
	ID             string            `json:"id"`
	SKU            string            `json:"sku"`
	PartNumber     string            `json:"partNumber"`
	Name           string            `json:"name"`
	Category       string            `json:"category"`
	Location       string            `json:"location"`
	Quantity       int               `json:"quantity"`
	AltQuantity    *int              `json:"altQuantity,omitempty"`
	Status         Status            `json:"status"`
	ETAs           []string          `json:"etas"`
	ETA            string            `json:"eta"`
	Weight         string            `json:"weight,omitempty"`
	ShippingWeight string            `json:"shippingWeight,omitempty"`
	ImageURL       string            `json:"imageUrl,omitempty"`
	Price          float64           `json:"price"`
	Raw            map[string]string `json:"raw"`
}

// Clone returns a deep copy so callers can adjust fields for display
// without touching the snapshot the record came from.
func (r Record) Clone() Record {
	c := r
	if r.AltQuantity != nil {
		v := *r.AltQuantity
		c.AltQuantity = &v
	}
	if r.ETAs != nil {
		c.ETAs = append([]string(nil), r.ETAs...)
	}
	if r.Raw != nil {
		c.Raw = make(map[string]string, len(r.Raw))
		for k, v := range r.Raw {
			c.Raw[k] = v
		}
	}
	return c
}

// Stats is a pure projection of a record collection.
type Stats struct {
	TotalItems int            `json:"totalItems"`
	TotalValue float64        `json:"totalValue"`
	LowStock   int            `json:"lowStock"`
	OutOfStock int            `json:"outOfStock"`
	Categories map[string]int `json:"categories"`
}
