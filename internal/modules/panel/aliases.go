package panel

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAmbiguousColumn is returned when several source columns resolve to one canonical name.
	ErrAmbiguousColumn = errors.New("ambiguous column alias")
	// ErrMissingColumn is returned when a required canonical column is absent.
	ErrMissingColumn = errors.New("required column missing")
)

// AliasTable maps a canonical column name to the source headers that mean it.
// Headers are compared after lower-casing and trimming.
type AliasTable map[string][]string

// DefaultAliases covers the vendor spellings seen in CRSP and IBES extracts.
var DefaultAliases = AliasTable{
	"date":   {"date", "public_date", "datadate"},
	"permno": {"permno", "lpermno"},
	"gvkey":  {"gvkey", "gvkey_ibes"},
	"ncusip": {"ncusip"},
	"prc":    {"prc"},
}

// NormalizeHeader lower-cases and trims a raw header cell.
func NormalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}

// Resolve maps raw headers to canonical names. Headers without an alias keep
// their normalized name. Two headers landing on the same name are rejected.
func (a AliasTable) Resolve(headers []string) ([]string, error) {
	lookup := make(map[string]string)
	for canonical, aliases := range a {
		for _, alias := range aliases {
			lookup[NormalizeHeader(alias)] = canonical
		}
	}

	out := make([]string, len(headers))
	source := make(map[string]string, len(headers))
	for i, h := range headers {
		name := NormalizeHeader(h)
		if canonical, ok := lookup[name]; ok {
			name = canonical
		}
		if prev, dup := source[name]; dup {
			return nil, fmt.Errorf("%w: %q and %q both resolve to %q", ErrAmbiguousColumn, prev, h, name)
		}
		source[name] = h
		out[i] = name
	}
	return out, nil
}
