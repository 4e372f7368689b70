package repository

import (
	"context"

	"github.com/user/affiliate-ingest/internal/entity"
)

// ResultStore keeps the most recent ingestion results per source for the
// status API. It is operational state, not domain data.
type ResultStore interface {
	Record(ctx context.Context, result entity.IngestionResult) error
	Recent(ctx context.Context, sourceID string, limit int) ([]entity.IngestionResult, error)
}
