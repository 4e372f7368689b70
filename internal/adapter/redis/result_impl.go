package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/user/affiliate-ingest/internal/entity"
	"github.com/user/affiliate-ingest/internal/repository"
)

const resultsPrefix = "ingest:results:"

// ResultStoreImpl keeps recent ingestion results in capped Redis lists, newest first.
type ResultStoreImpl struct {
	client  *redis.Client
	history int
}

var _ repository.ResultStore = (*ResultStoreImpl)(nil)

// NewResultStore creates a new instance of ResultStoreImpl keeping history
// results per source.
func NewResultStore(client *redis.Client, history int) *ResultStoreImpl {
	if history <= 0 {
		history = 20
	}
	return &ResultStoreImpl{client: client, history: history}
}

func (r *ResultStoreImpl) generateKey(sourceID string) string {
	return fmt.Sprintf("%s%s", resultsPrefix, sourceID)
}

// Record pushes result to the left of the source's list and trims it.
func (r *ResultStoreImpl) Record(ctx context.Context, result entity.IngestionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	key := r.generateKey(result.SourceID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(r.history-1))
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to limit results, newest first.
func (r *ResultStoreImpl) Recent(ctx context.Context, sourceID string, limit int) ([]entity.IngestionResult, error) {
	if limit <= 0 || limit > r.history {
		limit = r.history
	}
	items, err := r.client.LRange(ctx, r.generateKey(sourceID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]entity.IngestionResult, 0, len(items))
	for _, item := range items {
		var res entity.IngestionResult
		if err := json.Unmarshal([]byte(item), &res); err != nil {
			return nil, fmt.Errorf("decode stored result: %w", err)
		}
		out = append(out, res)
	}
	return out, nil
}
