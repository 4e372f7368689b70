package memory

import (
	"context"
	"sync"

	"github.com/user/affiliate-ingest/internal/entity"
	"github.com/user/affiliate-ingest/internal/repository"
)

// ResultStore keeps the latest results per source in process memory.
type ResultStore struct {
	mu      sync.RWMutex
	history int
	results map[string][]entity.IngestionResult
}

var _ repository.ResultStore = (*ResultStore)(nil)

func NewResultStore(history int) *ResultStore {
	if history <= 0 {
		history = 20
	}
	return &ResultStore{history: history, results: make(map[string][]entity.IngestionResult)}
}

func (s *ResultStore) Record(_ context.Context, result entity.IngestionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append([]entity.IngestionResult{result}, s.results[result.SourceID]...)
	if len(list) > s.history {
		list = list[:s.history]
	}
	s.results[result.SourceID] = list
	return nil
}

// Recent returns up to limit results, newest first.
func (s *ResultStore) Recent(_ context.Context, sourceID string, limit int) ([]entity.IngestionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.results[sourceID]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return append([]entity.IngestionResult(nil), list...), nil
}
