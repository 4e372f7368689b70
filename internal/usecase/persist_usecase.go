package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/user/affiliate-ingest/internal/entity"
	"github.com/user/affiliate-ingest/internal/repository"
	"github.com/user/affiliate-ingest/pkg/sqlutil"
	"github.com/user/affiliate-ingest/pkg/utils"
)

// Persister applies a source's persistence policy to a normalized batch.
type Persister interface {
	Persist(ctx context.Context, src *entity.Source, records []entity.NormalizedRecord) (entity.PersistOutcome, error)
}

type persisterUseCase struct {
	store     repository.RecordStore
	chunkSize int
	logger    *zap.Logger
}

// NewPersisterUseCase creates a new instance of the persistence policy.
// Inserts are sent in chunks of chunkSize rows.
func NewPersisterUseCase(store repository.RecordStore, chunkSize int, logger *zap.Logger) Persister {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &persisterUseCase{store: store, chunkSize: chunkSize, logger: logger}
}

// Persist drops records missing a key or required field, then writes the
// rest. On a PersistenceError the outcome still reports what was written.
func (uc *persisterUseCase) Persist(ctx context.Context, src *entity.Source, records []entity.NormalizedRecord) (entity.PersistOutcome, error) {
	spec := src.Persist
	columns := src.Columns()
	required := spec.RequiredFields()
	out := entity.PersistOutcome{Attempted: len(records)}

	valid := make([]entity.NormalizedRecord, 0, len(records))
	for i, rec := range records {
		if missing := rec.Missing(required); len(missing) > 0 {
			out.Skipped++
			uc.logger.Debug("record skipped",
				zap.String("source", src.ID),
				zap.Int("record", i),
				zap.Strings("missing", missing))
			continue
		}
		valid = append(valid, rec)
	}
	if len(records) == 0 {
		return out, nil
	}
	if len(valid) == 0 {
		return out, &entity.PersistenceError{Table: spec.Table, Err: entity.ErrNoRecords}
	}

	switch spec.Policy {
	case entity.PolicyUpsert:
		return uc.upsert(ctx, src, columns, valid, out)
	default:
		return uc.insert(ctx, src, columns, valid, spec.Policy == entity.PolicyInsertSkipDuplicate, out)
	}
}

// upsert collapses in-batch duplicates onto their last occurrence and
// writes the batch in one transaction.
func (uc *persisterUseCase) upsert(ctx context.Context, src *entity.Source, columns []string, records []entity.NormalizedRecord, out entity.PersistOutcome) (entity.PersistOutcome, error) {
	key := src.Persist.Key
	position := make(map[string]int, len(records))
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		h := utils.HashKey(rec.Values(key)...)
		if i, seen := position[h]; seen {
			rows[i] = rec.Values(columns)
			out.Duplicates++
			continue
		}
		position[h] = len(rows)
		rows = append(rows, rec.Values(columns))
	}

	n, err := uc.store.Upsert(ctx, src.Persist.Table, columns, key, rows)
	if err != nil {
		return out, &entity.PersistenceError{Table: src.Persist.Table, Err: err}
	}
	out.Written = int(n)
	out.Duplicates += len(rows) - int(n)
	return out, nil
}

// insert writes chunk by chunk. A chunk never exceeds the store's bind
// parameter limit. A failing chunk stops the batch; earlier chunks stay
// written.
func (uc *persisterUseCase) insert(ctx context.Context, src *entity.Source, columns []string, records []entity.NormalizedRecord, skipDuplicates bool, out entity.PersistOutcome) (entity.PersistOutcome, error) {
	chunk := sqlutil.RowsPerStatement(uc.chunkSize, len(columns), uc.store.MaxParams())
	for start := 0; start < len(records); start += chunk {
		end := min(start+chunk, len(records))
		rows := make([][]any, 0, end-start)
		for _, rec := range records[start:end] {
			rows = append(rows, rec.Values(columns))
		}
		n, err := uc.store.Insert(ctx, src.Persist.Table, columns, rows, skipDuplicates)
		if err != nil {
			return out, &entity.PersistenceError{Table: src.Persist.Table, Written: out.Written, Err: err}
		}
		out.Written += int(n)
		if skipDuplicates {
			out.Duplicates += len(rows) - int(n)
		}
	}
	return out, nil
}
