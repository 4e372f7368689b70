package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/affiliate-ingest/internal/repository"
	"github.com/user/affiliate-ingest/pkg/sqlutil"
)

// RecordStoreImpl writes normalized records into PostgreSQL tables.
type RecordStoreImpl struct {
	db *pgxpool.Pool
}

var _ repository.RecordStore = (*RecordStoreImpl)(nil)

// NewRecordStore creates a new instance of RecordStoreImpl.
func NewRecordStore(db *pgxpool.Pool) *RecordStoreImpl {
	return &RecordStoreImpl{db: db}
}

// Connect opens a connection pool and verifies it.
func Connect(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return db, nil
}

func (r *RecordStoreImpl) MaxParams() int { return sqlutil.MaxParamsPostgres }

func (r *RecordStoreImpl) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Upsert queues one statement per row and commits them as one transaction.
func (r *RecordStoreImpl) Upsert(ctx context.Context, table string, columns, key []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	query := sqlutil.BuildUpsert(table, columns, key, sqlutil.Dollar)
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, row...)
	}

	br := tx.SendBatch(ctx, batch)
	var written int64
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, err
		}
		written += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return written, nil
}

// Insert writes rows with a single multi-row statement.
func (r *RecordStoreImpl) Insert(ctx context.Context, table string, columns []string, rows [][]any, skipDuplicates bool) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	query := sqlutil.BuildInsert(table, columns, len(rows), skipDuplicates, sqlutil.Dollar)
	args := make([]any, 0, len(rows)*len(columns))
	for _, row := range rows {
		args = append(args, row...)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
