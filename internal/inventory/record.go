package inventory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Pre-compiled patterns for description cleanup.
var (
	annotationPattern = regexp.MustCompile(`(?i)\s*\((flow forming|new arrive)\)\s*`)
	spacePattern      = regexp.MustCompile(`\s+`)
)

// etaRoles lists the ETA slots in display order.
var etaRoles = [...]Role{RoleETA1, RoleETA2, RoleETA3, RoleETA4, RoleETA5}

// Build converts one raw row into a normalized record. header is the
// original (non-normalized) header row and is only used for Raw.
// Build is deterministic: the same inputs always yield an identical record.
func Build(row, header []string, cols ColumnMap) Record {
	cell := func(r Role) string {
		return strings.TrimSpace(cols.Cell(row, r))
	}

	rec := Record{
		SKU:            cell(RoleSKU),
		PartNumber:     cell(RolePartNumber),
		Name:           CleanName(cell(RoleProductDetails)),
		Category:       orDefault(cell(RoleModel), DefaultCategory),
		Location:       orDefault(cell(RoleLocation), DefaultLocation),
		Weight:         cell(RoleWeight),
		ShippingWeight: cell(RoleShippingWeight),
		ImageURL:       validImageURL(cell(RoleProductImage)),
		Quantity:       ParseQuantity(cell(RoleQuantity)),
		AltQuantity:    ParseOptionalQuantity(cell(RoleAltStock)),
		Price:          ParsePrice(cell(RolePrice)),
	}

	rec.ID = DeriveID(rec.SKU, rec.PartNumber, rec.Name, rec.Category, rec.Location)
	rec.Status = StatusFor(rec.Quantity)

	rec.ETAs = make([]string, 0, len(etaRoles))
	for _, r := range etaRoles {
		v := cell(r)
		if v == "" || strings.EqualFold(v, "n/a") {
			continue
		}
		rec.ETAs = append(rec.ETAs, v)
	}
	rec.ETA = strings.Join(rec.ETAs, ", ")

	rec.Raw = make(map[string]string, len(header))
	for i, h := range header {
		if i < len(row) {
			rec.Raw[h] = row[i]
		} else {
			rec.Raw[h] = ""
		}
	}

	return rec
}

// CleanName strips the "(FLOW FORMING)" and "(new arrive)" annotations,
// collapses runs of whitespace and trims.
func CleanName(s string) string {
	s = annotationPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// DeriveID picks the record identity: SKU, part number, the cleaned name
// without whitespace, then a hash of category and location.
func DeriveID(sku, partNumber, name, category, location string) string {
	if sku != "" {
		return sku
	}
	if partNumber != "" {
		return partNumber
	}
	if compact := strings.Join(strings.Fields(name), ""); compact != "" {
		return compact
	}
	return FallbackID(category, location)
}

// FallbackID renders GEN-{abs(hash)} for "{category}-{location}".
func FallbackID(category, location string) string {
	return fmt.Sprintf("GEN-%d", magnitude(StringHash(category+"-"+location)))
}

// magnitude is abs widened to int64 so math.MinInt32 stays positive.
func magnitude(h int32) int64 {
	v := int64(h)
	if v < 0 {
		return -v
	}
	return v
}

// StringHash is the 31-multiplier rolling hash over UTF-16 code units,
// wrapped to a signed 32-bit integer.
func StringHash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(u)
	}
	return h
}

// ParseQuantity keeps digits and minus signs and parses the leading integer.
// Anything unparseable is 0.
func ParseQuantity(s string) int {
	n, ok := parseLeadingInt(keepChars(s, "-"))
	if !ok {
		return 0
	}
	return n
}

// ParseOptionalQuantity is ParseQuantity for optional cells: nil when the
// cleaned cell is empty or holds no number.
func ParseOptionalQuantity(s string) *int {
	cleaned := keepChars(s, "-")
	if cleaned == "" {
		return nil
	}
	n, ok := parseLeadingInt(cleaned)
	if !ok {
		return nil
	}
	return &n
}

// ParsePrice keeps digits and periods and parses the leading decimal.
// Anything unparseable is 0.
func ParsePrice(s string) float64 {
	cleaned := keepChars(s, ".")
	end := 0
	seenDot := false
	for end < len(cleaned) {
		c := cleaned[end]
		if c == '.' {
			if seenDot {
				break
			}
			seenDot = true
		}
		end++
	}
	num := strings.TrimSuffix(cleaned[:end], ".")
	if num == "" || num == "." {
		return 0
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	return f
}

// keepChars drops every character that is not an ASCII digit or in extra.
func keepChars(s, extra string) string {
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || strings.ContainsRune(extra, r) {
			return r
		}
		return -1
	}, s)
}

// parseLeadingInt parses an optional leading minus followed by digits,
// ignoring whatever follows. "5-3" is 5; "-" and "--4" have no value.
func parseLeadingInt(s string) (int, bool) {
	end := 0
	if end < len(s) && s[end] == '-' {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

func validImageURL(s string) string {
	if strings.HasPrefix(s, "http") {
		return s
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
