package inventory

import "strings"

// Query narrows a record list for display. Empty fields match everything.
type Query struct {
	Category string
	Location string
	Status   Status
	Text     string // case-insensitive substring of id, sku, part number or name
}

// IsZero reports whether q matches every record.
func (q Query) IsZero() bool {
	return q == Query{}
}

// Match reports whether rec satisfies every set field of q.
func (q Query) Match(rec Record) bool {
	if q.Category != "" && !strings.EqualFold(rec.Category, q.Category) {
		return false
	}
	if q.Location != "" && !strings.EqualFold(rec.Location, q.Location) {
		return false
	}
	if q.Status != "" && !strings.EqualFold(string(rec.Status), string(q.Status)) {
		return false
	}
	if text := strings.ToLower(strings.TrimSpace(q.Text)); text != "" {
		for _, field := range []string{rec.ID, rec.SKU, rec.PartNumber, rec.Name} {
			if strings.Contains(strings.ToLower(field), text) {
				return true
			}
		}
		return false
	}
	return true
}

// Filter returns the records matching q, preserving order. The input slice
// is not modified.
func Filter(records []Record, q Query) []Record {
	if q.IsZero() {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if q.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}
