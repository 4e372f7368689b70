package repository

import "context"

// RecordStore is the relational store client used by the persistence layer.
// Each call is scoped to one table.
type RecordStore interface {
	// Upsert writes rows in a single transaction, updating non-key columns of
	// rows whose key already exists. It returns the number of rows written;
	// on error nothing is written.
	Upsert(ctx context.Context, table string, columns, key []string, rows [][]any) (int64, error)
	// Insert writes rows as one statement. With skipDuplicates, rows rejected
	// by a uniqueness constraint are silently discarded and not counted.
	Insert(ctx context.Context, table string, columns []string, rows [][]any, skipDuplicates bool) (int64, error)
	// MaxParams is the most bind parameters a single statement may carry.
	MaxParams() int
	Ping(ctx context.Context) error
}
