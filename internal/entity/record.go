package entity

import "time"

// NormalizedRecord maps canonical field names to typed values. A value is
// one of nil, string, int64, float64 or time.Time.
type NormalizedRecord map[string]any

// Missing returns the fields from names that are absent or null.
func (r NormalizedRecord) Missing(names []string) []string {
	var missing []string
	for _, n := range names {
		if v, ok := r[n]; !ok || v == nil {
			missing = append(missing, n)
		}
	}
	return missing
}

// Values returns the record's values in the order of columns.
func (r NormalizedRecord) Values(columns []string) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = r[c]
	}
	return out
}

// CoercionWarning records a single field that failed type conversion and
// was stored as null.
type CoercionWarning struct {
	Row    int
	Field  string
	Column string
	Type   FieldType
	Value  string
}

// Artifact is a downloaded report held in memory between retrieval and decode.
type Artifact struct {
	SourceID     string
	Data         []byte
	Encoding     Encoding
	DownloadedAt time.Time
}
