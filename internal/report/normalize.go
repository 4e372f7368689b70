package report

import (
	"time"

	"github.com/user/affiliate-ingest/internal/entity"
)

// present reports whether v carries a value for m. Null markers and, for
// temporal fields, the zero-date placeholder do not.
func present(v string, m entity.FieldMapping) bool {
	if IsNull(v) {
		return false
	}
	if m.Type == entity.FieldDate || m.Type == entity.FieldDateTime {
		return !IsZeroDate(v)
	}
	return true
}

// lookup reads a mapped column, trying the declared name and then each alias.
func lookup(raw RawRecord, m entity.FieldMapping) (string, string, bool) {
	if v, ok := raw.Get(m.Column); ok && present(v, m) {
		return v, m.Column, true
	}
	for _, alias := range m.Aliases {
		if v, ok := raw.Get(alias); ok && present(v, m) {
			return v, alias, true
		}
	}
	return "", m.Column, false
}

// Coerce converts text to the mapping's type. ok is false when the text
// cannot be converted.
func Coerce(text string, m entity.FieldMapping, loc *time.Location) (any, bool) {
	switch m.Type {
	case entity.FieldInteger:
		if v, ok := ToInt(text); ok {
			return v, true
		}
	case entity.FieldDecimal:
		if v, ok := ToDecimal(text); ok {
			return v, true
		}
	case entity.FieldDate:
		if t, ok := ToDate(text, loc, m.Layouts...); ok {
			y, mo, d := t.Date()
			return time.Date(y, mo, d, 0, 0, 0, 0, t.Location()), true
		}
	case entity.FieldDateTime:
		if t, ok := ToDate(text, loc, m.Layouts...); ok {
			return t, true
		}
	default:
		if v, ok := ToString(text); ok {
			return v, true
		}
	}
	return nil, false
}

// Normalize maps a raw record onto canonical fields. A field whose value is
// absent is null; a field whose value fails coercion is null and reported
// as a warning. The record itself is never dropped here.
func Normalize(raw RawRecord, mappings []entity.FieldMapping, loc *time.Location) (entity.NormalizedRecord, []entity.CoercionWarning) {
	out := make(entity.NormalizedRecord, len(mappings))
	var warnings []entity.CoercionWarning
	for _, m := range mappings {
		text, column, ok := lookup(raw, m)
		if !ok {
			out[m.Field] = nil
			continue
		}
		v, ok := Coerce(text, m, loc)
		if !ok {
			warnings = append(warnings, entity.CoercionWarning{
				Row:    raw.Row,
				Field:  m.Field,
				Column: column,
				Type:   m.Type,
				Value:  text,
			})
			out[m.Field] = nil
			continue
		}
		out[m.Field] = v
	}
	return out, warnings
}
