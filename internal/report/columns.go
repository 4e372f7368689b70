package report

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	circledDigits   = regexp.MustCompile(`^[\x{2460}-\x{2473}\x{2776}-\x{277F}]\s*`)
	localePrefix    = regexp.MustCompile(`^(?:ja|en|zh|ko)(?:[_-][a-z]{2})?:\s*`)
	leadingNumber   = regexp.MustCompile(`^(?:\(\d+\)|\[\d+\]|【\d+】|no\.?\s*\d+[.:)]?|\d+[.)、:])\s*`)
	trailingNumber  = regexp.MustCompile(`(?:[._#]\d+|\(\d+\))$`)
)

// NormalizeColumn reduces a native header to its canonical lookup key, so
// that numbered or locale-prefixed variants of one column compare equal.
func NormalizeColumn(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	name = strings.TrimSpace(name)
	name = circledDigits.ReplaceAllString(name, "")
	name = norm.NFKC.String(name)
	name = strings.ToLower(name)
	name = localePrefix.ReplaceAllString(name, "")
	name = leadingNumber.ReplaceAllString(name, "")
	name = trailingNumber.ReplaceAllString(name, "")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

// Header is the column row of a decoded artifact. Duplicate names are kept.
type Header struct {
	Names      []string
	exact      map[string]int
	normalized map[string][]int
}

// NewHeader indexes names by raw and normalized key.
func NewHeader(names []string) *Header {
	h := &Header{
		Names:      names,
		exact:      make(map[string]int, len(names)),
		normalized: make(map[string][]int, len(names)),
	}
	for i, n := range names {
		n = strings.TrimPrefix(n, "\ufeff")
		h.Names[i] = n
		if _, dup := h.exact[n]; !dup {
			h.exact[n] = i
		}
		key := NormalizeColumn(n)
		h.normalized[key] = append(h.normalized[key], i)
	}
	return h
}

// RawRecord is one data row keyed by native column names.
type RawRecord struct {
	Row    int
	header *Header
	values []string
}

// NewRawRecord builds a record from a header and the row's fields.
func NewRawRecord(row int, header *Header, values []string) RawRecord {
	return RawRecord{Row: row, header: header, values: values}
}

// RecordFromMap builds a record from a column→value map. Columns are
// ordered by name.
func RecordFromMap(row int, fields map[string]string) RawRecord {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = fields[n]
	}
	return NewRawRecord(row, NewHeader(names), values)
}

// Get looks a column up by its raw name, then by normalized key. A non-empty
// value wins over an empty one. ok is false only when no matching column is
// present in the row.
func (r RawRecord) Get(name string) (string, bool) {
	if r.header == nil {
		return "", false
	}
	found := false
	if i, ok := r.header.exact[name]; ok && i < len(r.values) {
		if strings.TrimSpace(r.values[i]) != "" {
			return r.values[i], true
		}
		found = true
	}
	for _, i := range r.header.normalized[NormalizeColumn(name)] {
		if i >= len(r.values) {
			continue
		}
		if strings.TrimSpace(r.values[i]) != "" {
			return r.values[i], true
		}
		found = true
	}
	return "", found
}

// Map returns the row as a column→value map; for duplicated columns the
// first occurrence wins. Columns missing from a short row are absent.
func (r RawRecord) Map() map[string]string {
	out := make(map[string]string, len(r.values))
	if r.header == nil {
		return out
	}
	for i, n := range r.header.Names {
		if i >= len(r.values) {
			break
		}
		if _, seen := out[n]; !seen {
			out[n] = r.values[i]
		}
	}
	return out
}
