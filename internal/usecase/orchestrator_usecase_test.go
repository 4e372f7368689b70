package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/affiliate-ingest/internal/adapter/memory"
	"github.com/user/affiliate-ingest/internal/entity"
)

func TestFetchAndIngestRecordsResults(t *testing.T) {
	h := newHarness(t, nil, conversionSource(entity.PolicyUpsert))
	h.orch.FetchAndIngest(context.Background(), "a8net")
	h.session.empty = true
	h.orch.FetchAndIngest(context.Background(), "a8net")

	recent, err := h.results.Recent(context.Background(), "a8net", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, entity.StatusEmpty, recent[0].Status)
	assert.Equal(t, entity.StatusSuccess, recent[1].Status)
}

func TestFetchAndIngestUnknownSource(t *testing.T) {
	h := newHarness(t, nil, conversionSource(entity.PolicyUpsert))
	res := h.orch.FetchAndIngest(context.Background(), "nope")
	assert.Equal(t, entity.StatusFailed, res.Status)
	assert.Contains(t, res.Error, entity.ErrUnknownSource.Error())
}

func sources(ids ...string) staticRegistry {
	var out staticRegistry
	for _, id := range ids {
		out = append(out, &entity.Source{ID: id})
	}
	return out
}

func TestRunAllIsolatesFailures(t *testing.T) {
	logger := zaptest.NewLogger(t)
	pipeline := pipelineFunc(func(ctx context.Context, src *entity.Source, result *entity.IngestionResult) {
		switch src.ID {
		case "broken":
			panic("selector table corrupted")
		case "failing":
			result.Fail(&entity.RetrievalError{SourceID: src.ID, State: entity.StateAuthenticating, Err: errors.New("bad password")})
		default:
			result.Status = entity.StatusSuccess
			result.Persisted = 1
		}
	})
	orch := NewOrchestratorUseCase(sources("first", "broken", "failing", "last"), pipeline,
		memory.NewRunLock(), memory.NewResultStore(5), OrchestratorConfig{Concurrency: 2}, logger)

	results := orch.RunAll(context.Background())
	require.Len(t, results, 4)
	assert.Equal(t, "first", results[0].SourceID)
	assert.Equal(t, entity.StatusSuccess, results[0].Status)
	assert.Equal(t, entity.StatusFailed, results[1].Status)
	assert.Equal(t, "panic", results[1].ErrorType)
	assert.Equal(t, "retrieval", results[2].ErrorType)
	assert.Equal(t, entity.StatusSuccess, results[3].Status)
}

func TestRunAllHonoursConcurrencyLimit(t *testing.T) {
	var running, peak atomic.Int32
	pipeline := pipelineFunc(func(ctx context.Context, src *entity.Source, result *entity.IngestionResult) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		result.Status = entity.StatusSuccess
	})
	orch := NewOrchestratorUseCase(sources("a", "b", "c", "d", "e"), pipeline,
		memory.NewRunLock(), memory.NewResultStore(5), OrchestratorConfig{Concurrency: 2}, zaptest.NewLogger(t))

	orch.RunAll(context.Background())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFetchAndIngestRejectsConcurrentAttempt(t *testing.T) {
	started := make(chan struct{})
	finish := make(chan struct{})
	pipeline := pipelineFunc(func(ctx context.Context, src *entity.Source, result *entity.IngestionResult) {
		close(started)
		<-finish
		result.Status = entity.StatusSuccess
	})
	orch := NewOrchestratorUseCase(sources("a8net"), pipeline,
		memory.NewRunLock(), memory.NewResultStore(5), OrchestratorConfig{}, zaptest.NewLogger(t))

	done := make(chan entity.IngestionResult)
	go func() { done <- orch.FetchAndIngest(context.Background(), "a8net") }()
	<-started

	second := orch.FetchAndIngest(context.Background(), "a8net")
	assert.Equal(t, entity.StatusFailed, second.Status)
	assert.Equal(t, "in_progress", second.ErrorType)

	close(finish)
	assert.Equal(t, entity.StatusSuccess, (<-done).Status)
}

func TestFetchAndIngestAttemptTimeout(t *testing.T) {
	pipeline := pipelineFunc(func(ctx context.Context, src *entity.Source, result *entity.IngestionResult) {
		<-ctx.Done()
		result.Fail(ctx.Err())
	})
	orch := NewOrchestratorUseCase(sources("slow"), pipeline,
		memory.NewRunLock(), memory.NewResultStore(5), OrchestratorConfig{AttemptTimeout: 20 * time.Millisecond}, zaptest.NewLogger(t))

	res := orch.FetchAndIngest(context.Background(), "slow")
	assert.Equal(t, entity.StatusFailed, res.Status)
	assert.Equal(t, "timeout", res.ErrorType)
}
