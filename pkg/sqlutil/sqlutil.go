// Package sqlutil builds the parameterized statements shared by the
// relational record stores.
package sqlutil

import (
	"strconv"
	"strings"
)

// Bind parameter ceilings per statement.
const (
	MaxParamsSQLite   = 32766
	MaxParamsPostgres = 65535
)

// RowsPerStatement returns how many rows of ncols values fit in one
// statement under maxParams, capped at want. It is at least 1.
func RowsPerStatement(want, ncols, maxParams int) int {
	if ncols <= 0 {
		return max(want, 1)
	}
	return max(min(want, maxParams/ncols), 1)
}

// Placeholder renders the n-th (1-based) bind parameter of a dialect.
type Placeholder func(n int) string

// Dollar renders PostgreSQL placeholders ($1, $2, ...).
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// Question renders SQLite placeholders.
func Question(int) string { return "?" }

// QuoteIdent quotes a table or column name.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// valuesClause renders rows groups of len(columns) placeholders.
func valuesClause(ncols, nrows int, ph Placeholder) string {
	var b strings.Builder
	n := 1
	for r := 0; r < nrows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < ncols; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(ph(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// BuildInsert returns a multi-row INSERT for nrows rows. With skipDuplicates
// rows that collide with an existing unique key are ignored.
func BuildInsert(table string, columns []string, nrows int, skipDuplicates bool, ph Placeholder) string {
	q := "INSERT INTO " + QuoteIdent(table) + " (" + quoteAll(columns) + ") VALUES " +
		valuesClause(len(columns), nrows, ph)
	if skipDuplicates {
		q += " ON CONFLICT DO NOTHING"
	}
	return q
}

// BuildUpsert returns a single-row INSERT that overwrites the non-key
// columns of an existing row with the same key.
func BuildUpsert(table string, columns, key []string, ph Placeholder) string {
	isKey := make(map[string]bool, len(key))
	for _, k := range key {
		isKey[k] = true
	}
	var sets []string
	for _, c := range columns {
		if !isKey[c] {
			sets = append(sets, QuoteIdent(c)+" = excluded."+QuoteIdent(c))
		}
	}
	q := "INSERT INTO " + QuoteIdent(table) + " (" + quoteAll(columns) + ") VALUES " +
		valuesClause(len(columns), 1, ph) +
		" ON CONFLICT (" + quoteAll(key) + ")"
	if len(sets) == 0 {
		return q + " DO NOTHING"
	}
	return q + " DO UPDATE SET " + strings.Join(sets, ", ")
}
