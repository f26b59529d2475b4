package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// ErrInvalidMapping is returned by Mapping.Validate.
var ErrInvalidMapping = errors.New("invalid column mapping")

// Unresolved marks a role with no column.
const Unresolved = -1

// Role is a semantic field that must be mapped to a spreadsheet column.
type Role int

const (
	RoleModel Role = iota
	RoleSKU
	RolePartNumber
	RoleProductDetails
	RoleProductImage
	RoleQuantity
	RoleAltStock
	RoleETA1
	RoleETA2
	RoleETA3
	RoleETA4
	RoleETA5
	RoleWeight
	RoleShippingWeight
	RoleLocation
	RolePrice

	roleCount
)

// RoleSpec describes how a role is resolved when no letter is given.
type RoleSpec struct {
	Role     Role
	Name     string   // mapping key, e.g. "partNumber"
	Keywords []string // substrings of the normalized header
	Exclude  []string // headers containing these are skipped by the keyword tier
	Fallback int      // positional guess, or Unresolved
	Mappable bool     // accepts an explicit column letter
}

var roleSpecs = [roleCount]RoleSpec{
	RoleModel:          {Role: RoleModel, Name: "model", Keywords: []string{"model", "category", "make", "brand"}, Fallback: 0, Mappable: true},
	RoleSKU:            {Role: RoleSKU, Name: "sku", Keywords: []string{"sku"}, Fallback: 1, Mappable: true},
	RolePartNumber:     {Role: RolePartNumber, Name: "partNumber", Keywords: []string{"part#", "partnumber", "partno", "mpn"}, Fallback: 2, Mappable: true},
	RoleProductDetails: {Role: RoleProductDetails, Name: "productDetails", Keywords: []string{"description", "desc", "productdetails", "details"}, Fallback: 3, Mappable: true},
	RoleProductImage:   {Role: RoleProductImage, Name: "productImage", Keywords: []string{"image", "img", "photo", "picture"}, Fallback: Unresolved, Mappable: true},
	RoleQuantity:       {Role: RoleQuantity, Name: "quantity", Keywords: []string{"qty", "quantity", "onhand", "instock"}, Exclude: []string{"alt"}, Fallback: 4, Mappable: true},
	RoleAltStock:       {Role: RoleAltStock, Name: "altStock", Keywords: []string{"altstock", "alternatestock", "altqty", "alt.stock"}, Fallback: Unresolved, Mappable: true},
	RoleETA1:           {Role: RoleETA1, Name: "eta1", Keywords: []string{"eta1", "eta"}, Exclude: []string{"eta2", "eta3", "eta4", "eta5", "detail", "meta"}, Fallback: Unresolved, Mappable: true},
	RoleETA2:           {Role: RoleETA2, Name: "eta2", Keywords: []string{"eta2"}, Fallback: Unresolved, Mappable: true},
	RoleETA3:           {Role: RoleETA3, Name: "eta3", Keywords: []string{"eta3"}, Fallback: Unresolved, Mappable: true},
	RoleETA4:           {Role: RoleETA4, Name: "eta4", Keywords: []string{"eta4"}, Fallback: Unresolved, Mappable: true},
	RoleETA5:           {Role: RoleETA5, Name: "eta5", Keywords: []string{"eta5"}, Fallback: Unresolved, Mappable: true},
	RoleWeight:         {Role: RoleWeight, Name: "weight", Keywords: []string{"weight", "wt"}, Exclude: []string{"ship"}, Fallback: Unresolved, Mappable: true},
	RoleShippingWeight: {Role: RoleShippingWeight, Name: "shippingWeight", Keywords: []string{"shippingweight", "shipweight", "shipwt"}, Fallback: Unresolved, Mappable: true},
	RoleLocation:       {Role: RoleLocation, Name: "location", Keywords: []string{"location", "warehouse", "bin"}, Fallback: Unresolved},
	RolePrice:          {Role: RolePrice, Name: "price", Keywords: []string{"price", "cost", "msrp"}, Fallback: Unresolved},
}

// Roles returns the resolution rules of every role, in role order.
func Roles() []RoleSpec {
	out := make([]RoleSpec, roleCount)
	copy(out, roleSpecs[:])
	return out
}

// Spec returns the resolution spec for r.
func (r Role) Spec() RoleSpec {
	if r < 0 || r >= roleCount {
		return RoleSpec{Role: r, Fallback: Unresolved}
	}
	return roleSpecs[r]
}

func (r Role) String() string {
	if r < 0 || r >= roleCount {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleSpecs[r].Name
}

// ParseRole looks a role up by its mapping key, case-insensitively.
func ParseRole(name string) (Role, bool) {
	for _, spec := range roleSpecs {
		if strings.EqualFold(spec.Name, strings.TrimSpace(name)) {
			return spec.Role, true
		}
	}
	return 0, false
}

// Mapping holds user-supplied column letters keyed by role name.
// Absent or empty entries fall through to keyword and positional resolution.
type Mapping map[string]string

// Letter returns the explicit letter for r, if any.
func (m Mapping) Letter(r Role) string {
	if m == nil {
		return ""
	}
	if v, ok := m[r.String()]; ok {
		return v
	}
	// tolerate keys that differ only in case
	for k, v := range m {
		if strings.EqualFold(k, r.String()) {
			return v
		}
	}
	return ""
}

// Merge returns a copy of m overlaid by non-empty entries of other. Keys
// naming a known role are rewritten to the canonical role name.
func (m Mapping) Merge(other Mapping) Mapping {
	out := make(Mapping, len(m)+len(other))
	for _, src := range []Mapping{m, other} {
		for k, v := range src {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if role, ok := ParseRole(k); ok {
				k = role.String()
			}
			out[k] = v
		}
	}
	return out
}

// Validate reports unknown roles, roles that do not accept letters and
// malformed letters.
func (m Mapping) Validate() error {
	var errs []string
	for k, v := range m {
		role, ok := ParseRole(k)
		if !ok {
			errs = append(errs, fmt.Sprintf("unknown role %q", k))
			continue
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		if !role.Spec().Mappable {
			errs = append(errs, fmt.Sprintf("role %q is always auto-detected", k))
			continue
		}
		if _, ok := ColumnLetterToIndex(v); !ok {
			errs = append(errs, fmt.Sprintf("invalid column letter %q for role %q", v, k))
		}
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("%w: %s", ErrInvalidMapping, strings.Join(errs, "; "))
	}
	return nil
}

// maxLetters bounds letter strings so the base-26 value fits in an int.
const maxLetters = 7

// ColumnLetterToIndex converts a spreadsheet column letter ("A", "AA") to a
// zero-based index. Letters are case-insensitive and base-26 with A=1.
func ColumnLetterToIndex(letter string) (int, bool) {
	letter = strings.TrimSpace(letter)
	if letter == "" || len(letter) > maxLetters {
		return Unresolved, false
	}
	n := 0
	for _, c := range letter {
		if c > unicode.MaxASCII || !unicode.IsLetter(c) {
			return Unresolved, false
		}
		n = n*26 + int(unicode.ToUpper(c)-'A') + 1
	}
	return n - 1, true
}

// IndexToColumnLetter is the inverse of ColumnLetterToIndex.
func IndexToColumnLetter(index int) string {
	if index < 0 {
		return ""
	}
	var b []byte
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// NormalizeHeader lower-cases a header and strips whitespace and underscores.
func NormalizeHeader(h string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '_' {
			return -1
		}
		return unicode.ToLower(r)
	}, h)
}

// Strategy is one tier of column resolution. It returns Unresolved when it
// has no opinion.
type Strategy func(header []string) int

// ExplicitLetter resolves to the column named by a user-supplied letter,
// regardless of what that column contains.
func ExplicitLetter(letter string) Strategy {
	return func([]string) int {
		if idx, ok := ColumnLetterToIndex(letter); ok {
			return idx
		}
		return Unresolved
	}
}

// KeywordMatch resolves to the first header containing any keyword.
// Headers containing an exclude keyword are skipped.
func KeywordMatch(keywords, exclude []string) Strategy {
	return func(header []string) int {
		for i, h := range header {
			norm := NormalizeHeader(h)
			if norm == "" || containsAny(norm, exclude) {
				continue
			}
			if containsAny(norm, keywords) {
				return i
			}
		}
		return Unresolved
	}
}

// Positional always resolves to the fallback index.
func Positional(fallback int) Strategy {
	return func([]string) int {
		return fallback
	}
}

// Chain returns the first resolved index of the strategies, in order.
func Chain(header []string, strategies ...Strategy) int {
	for _, s := range strategies {
		if idx := s(header); idx != Unresolved {
			return idx
		}
	}
	return Unresolved
}

// Resolve applies explicit letter, keyword and positional resolution in
// that order.
func Resolve(userValue string, keywords []string, fallback int, header []string) int {
	return Chain(header, ExplicitLetter(userValue), KeywordMatch(keywords, nil), Positional(fallback))
}

// ResolveRole resolves one role against a header row in isolation. It
// does not know which columns other roles have claimed; ResolveColumns
// does.
func ResolveRole(spec RoleSpec, letter string, header []string) int {
	return Chain(header, append(matchTiers(spec, letter), Positional(spec.Fallback))...)
}

// matchTiers returns the tiers that look at the mapping or the header.
func matchTiers(spec RoleSpec, letter string) []Strategy {
	tiers := make([]Strategy, 0, 2)
	if spec.Mappable {
		tiers = append(tiers, ExplicitLetter(letter))
	}
	return append(tiers, KeywordMatch(spec.Keywords, spec.Exclude))
}

// ColumnMap holds the resolved index of every role for one parse pass.
type ColumnMap struct {
	idx [roleCount]int
}

// ResolveColumns resolves every role against the header row. Explicit
// letters and keyword matches are settled for all roles first; a
// positional fallback is then used only if no other role claimed that
// column.
func ResolveColumns(m Mapping, header []string) ColumnMap {
	var cm ColumnMap
	claimed := make(map[int]bool, roleCount)

	for _, spec := range roleSpecs {
		idx := Chain(header, matchTiers(spec, m.Letter(spec.Role))...)
		cm.idx[spec.Role] = idx
		if idx != Unresolved {
			claimed[idx] = true
		}
	}

	for _, spec := range roleSpecs {
		if cm.idx[spec.Role] != Unresolved || spec.Fallback == Unresolved || claimed[spec.Fallback] {
			continue
		}
		cm.idx[spec.Role] = spec.Fallback
		claimed[spec.Fallback] = true
	}
	return cm
}

// Index returns the resolved column for r, or Unresolved.
func (c ColumnMap) Index(r Role) int {
	if r < 0 || r >= roleCount {
		return Unresolved
	}
	return c.idx[r]
}

// Cell returns the value of r's column in row, or "" when the role is
// unresolved or the row is short.
func (c ColumnMap) Cell(row []string, r Role) string {
	i := c.Index(r)
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// Letters returns the resolved columns as letters keyed by role name.
func (c ColumnMap) Letters() map[string]string {
	out := make(map[string]string, roleCount)
	for _, spec := range roleSpecs {
		out[spec.Name] = IndexToColumnLetter(c.idx[spec.Role])
	}
	return out
}

// MarshalJSON renders the map as role name -> index.
func (c ColumnMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]int, roleCount)
	for _, spec := range roleSpecs {
		out[spec.Name] = c.idx[spec.Role]
	}
	return json.Marshal(out)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
