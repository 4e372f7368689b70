package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/user/affiliate-ingest/internal/repository"
	"github.com/user/affiliate-ingest/pkg/sqlutil"
)

// RecordStoreImpl writes normalized records into an embedded SQLite database.
type RecordStoreImpl struct {
	db *sql.DB
}

var _ repository.RecordStore = (*RecordStoreImpl)(nil)

// Open opens the database at path (":memory:" for a private in-memory one).
// A single connection is kept so in-memory databases survive between calls.
func Open(path string) (*RecordStoreImpl, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	return &RecordStoreImpl{db: db}, nil
}

// DB exposes the underlying handle for schema setup.
func (r *RecordStoreImpl) DB() *sql.DB { return r.db }

func (r *RecordStoreImpl) Close() error { return r.db.Close() }

func (r *RecordStoreImpl) MaxParams() int { return sqlutil.MaxParamsSQLite }

func (r *RecordStoreImpl) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *RecordStoreImpl) Upsert(ctx context.Context, table string, columns, key []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqlutil.BuildUpsert(table, columns, key, sqlutil.Question))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var written int64
	for _, row := range rows {
		res, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		written += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

func (r *RecordStoreImpl) Insert(ctx context.Context, table string, columns []string, rows [][]any, skipDuplicates bool) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(rows)*len(columns))
	for _, row := range rows {
		args = append(args, row...)
	}
	res, err := r.db.ExecContext(ctx, sqlutil.BuildInsert(table, columns, len(rows), skipDuplicates, sqlutil.Question), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
