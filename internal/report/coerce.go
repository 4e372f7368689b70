package report

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var nullTokens = map[string]bool{
	"":     true,
	"-":    true,
	"--":   true,
	"―":    true,
	"n/a":  true,
	"na":   true,
	"null": true,
	"none": true,
	"なし":   true,
}

var numberNoise = strings.NewReplacer(
	",", "",
	" ", "",
	"¥", "",
	"$", "",
	"€", "",
	"£", "",
	"円", "",
	"件", "",
	"%", "",
	"jpy", "",
	"usd", "",
)

var dateSuffixes = strings.NewReplacer(
	"年", "-",
	"月", "-",
	"日", " ",
	"時", ":",
	"分", ":",
	"秒", "",
	"/", "-",
)

var (
	zeroDate   = regexp.MustCompile(`^0{4}-?0{1,2}-?0{1,2}(?:[ T]0{1,2}:0{1,2}(?::0{1,2})?)?$`)
	multiSpace = regexp.MustCompile(`\s+`)
)

var dateLayouts = []string{
	"2006-1-2 15:4:5",
	"2006-1-2 15:4",
	"2006-1-2 15",
	"2006-1-2",
	"2006.1.2 15:4:5",
	"2006.1.2",
	"20060102150405",
	"20060102",
}

// clean folds full-width characters and surrounding whitespace.
func clean(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// IsNull reports whether s is empty or a known "no value" marker.
func IsNull(s string) bool {
	return nullTokens[strings.ToLower(clean(s))]
}

// ToString trims s; empty and null markers yield ok=false.
func ToString(s string) (string, bool) {
	if IsNull(s) {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// numeric strips currency, percent and thousands symbols and returns the
// signed numeric text.
func numeric(s string) (string, bool) {
	if IsNull(s) {
		return "", false
	}
	s = strings.ToLower(clean(s))
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	for _, p := range []string{"-", "−", "▲", "△"} {
		if strings.HasPrefix(s, p) {
			neg = !neg
			s = strings.TrimPrefix(s, p)
			break
		}
	}
	s = numberNoise.Replace(s)
	// a sign may follow the currency symbol, as in "¥-1,200"
	if strings.HasPrefix(s, "-") {
		neg = !neg
		s = s[1:]
	}
	if s == "" {
		return "", false
	}
	if neg {
		s = "-" + s
	}
	return s, true
}

// ToInt parses s as an integer after stripping thousands separators and
// currency symbols. Non-numeric, fractional and empty input yields ok=false.
func ToInt(s string) (int64, bool) {
	n, ok := numeric(s)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(n, 10, 64)
	if err == nil {
		return v, true
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	f, err := strconv.ParseFloat(n, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if f >= 1<<63 || f < -(1<<63) {
		return 0, false
	}
	return int64(f), true
}

// ToDecimal parses s as a fractional number after stripping percent,
// currency and thousands symbols. Percentages keep their displayed scale.
func ToDecimal(s string) (float64, bool) {
	n, ok := numeric(s)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(n, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// dateText rewrites Japanese suffixes and separators into dashed form.
func dateText(s string) string {
	d := dateSuffixes.Replace(s)
	d = strings.Replace(d, "T", " ", 1)
	d = multiSpace.ReplaceAllString(d, " ")
	return strings.Trim(d, " :-")
}

// IsZeroDate reports whether s is the all-zero date placeholder some
// dashboards emit for "not yet".
func IsZeroDate(s string) bool {
	return zeroDate.MatchString(dateText(clean(s)))
}

// ToDate parses s in loc. Japanese date/time suffixes, full-width digits and
// separators are accepted; extra layouts are tried first. The zero-date
// sentinel and unparseable input yield ok=false.
func ToDate(s string, loc *time.Location, layouts ...string) (time.Time, bool) {
	if IsNull(s) {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	s = clean(s)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), true
	}

	d := dateText(s)
	if zeroDate.MatchString(d) {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, d, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
