package inventory

import "strings"

// FilterReason names the rule that rejected a row.
type FilterReason string

const (
	ReasonNone         FilterReason = ""
	ReasonMissingID    FilterReason = "missing_id"
	ReasonEmpty        FilterReason = "empty"
	ReasonFitment      FilterReason = "fitment"
	ReasonHighOffset   FilterReason = "high_offset"
	ReasonHeaderRepeat FilterReason = "header_repeat"
	ReasonDescription  FilterReason = "description_header"
)

// headerKeywords are cell values that only appear on repeated header rows.
var headerKeywords = map[string]struct{}{
	"part #":      {},
	"part number": {},
	"sku":         {},
	"part no.":    {},
	"item id":     {},
	"id":          {},
	"description": {},
	"desc":        {},
	"qty":         {},
	"quantity":    {},
}

// Classify reports why a built record is not inventory data, or ReasonNone
// when it should be kept. Rules are evaluated in order and the first match
// wins.
func Classify(rec Record) FilterReason {
	if rec.ID == "" {
		return ReasonMissingID
	}
	if rec.Name == "" && rec.Quantity <= 0 && rec.Category == DefaultCategory {
		return ReasonEmpty
	}

	name := strings.ToLower(rec.Name)
	if strings.Contains(name, "fitment") {
		return ReasonFitment
	}
	if strings.Contains(strings.ToLower(rec.PartNumber), "(highoffset)") ||
		strings.Contains(strings.ToLower(rec.ID), "(highoffset)") {
		return ReasonHighOffset
	}
	if isHeaderKeyword(rec.ID) || isHeaderKeyword(rec.Name) {
		return ReasonHeaderRepeat
	}
	if strings.Contains(name, "description") && rec.Quantity == 0 {
		return ReasonDescription
	}
	return ReasonNone
}

// Keep reports whether a built record is genuine inventory data.
func Keep(rec Record) bool {
	return Classify(rec) == ReasonNone
}

func isHeaderKeyword(s string) bool {
	_, ok := headerKeywords[strings.ToLower(strings.TrimSpace(s))]
	return ok
}
