package usecase

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/affiliate-ingest/internal/entity"
	"github.com/user/affiliate-ingest/internal/repository"
	"github.com/user/affiliate-ingest/pkg/metrics"
)

// lockGrace keeps the run lock a little longer than the attempt itself so
// teardown finishes before another attempt may start.
const lockGrace = 30 * time.Second

// Orchestrator triggers per-source ingestion runs and isolates their failures.
type Orchestrator interface {
	// FetchAndIngest runs one source. It never panics and never returns an
	// error: every failure is reported in the result.
	FetchAndIngest(ctx context.Context, sourceID string) entity.IngestionResult
	// RunAll runs every registered source and returns results in registry order.
	RunAll(ctx context.Context) []entity.IngestionResult
}

// OrchestratorConfig bounds per-source attempts.
type OrchestratorConfig struct {
	AttemptTimeout time.Duration
	Concurrency    int
}

type orchestratorUseCase struct {
	registry repository.SourceRegistry
	pipeline Pipeline
	lock     repository.RunLock
	results  repository.ResultStore
	cfg      OrchestratorConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrchestratorUseCase creates a new instance of the orchestrator.
func NewOrchestratorUseCase(
	registry repository.SourceRegistry,
	pipeline Pipeline,
	lock repository.RunLock,
	results repository.ResultStore,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) Orchestrator {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &orchestratorUseCase{
		registry: registry,
		pipeline: pipeline,
		lock:     lock,
		results:  results,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (uc *orchestratorUseCase) FetchAndIngest(ctx context.Context, sourceID string) entity.IngestionResult {
	result := entity.IngestionResult{
		RunID:     uuid.NewString(),
		SourceID:  sourceID,
		StartedAt: uc.now(),
	}

	src, ok := uc.registry.Get(sourceID)
	if !ok {
		result.Fail(fmt.Errorf("%w: %s", entity.ErrUnknownSource, sourceID))
		uc.finish(ctx, &result, false)
		return result
	}

	release, ok, err := uc.lock.Acquire(ctx, sourceID, uc.cfg.AttemptTimeout+lockGrace)
	switch {
	case err != nil:
		result.Fail(fmt.Errorf("acquire run lock: %w", err))
		uc.finish(ctx, &result, true)
		return result
	case !ok:
		result.Fail(entity.ErrAttemptInProgress)
		uc.finish(ctx, &result, true)
		return result
	}
	defer release()

	uc.attempt(ctx, src, &result)
	uc.finish(ctx, &result, true)
	return result
}

// attempt runs the pipeline under the attempt timeout and converts a panic
// into a failed result.
func (uc *orchestratorUseCase) attempt(ctx context.Context, src *entity.Source, result *entity.IngestionResult) {
	attemptCtx, cancel := context.WithTimeout(ctx, uc.cfg.AttemptTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			uc.logger.Error("panic in ingestion pipeline",
				zap.String("source", src.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result.Fail(&entity.PanicError{Value: r})
		}
	}()
	uc.pipeline.Run(attemptCtx, src, result)
	if result.Status == "" {
		result.Fail(fmt.Errorf("pipeline finished without a status"))
	}
}

// finish stamps the duration and emits the run's single log line, metrics
// and stored result.
func (uc *orchestratorUseCase) finish(ctx context.Context, result *entity.IngestionResult, record bool) {
	result.Duration = uc.now().Sub(result.StartedAt)

	fields := []zap.Field{
		zap.String("source", result.SourceID),
		zap.String("run_id", result.RunID),
		zap.String("status", string(result.Status)),
		zap.Int("attempted", result.Attempted),
		zap.Int("persisted", result.Persisted),
		zap.Int("skipped", result.Skipped),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("coercion_warnings", result.CoercionWarnings),
		zap.Int("rejected_rows", result.RejectedRows),
		zap.Int64("duration_ms", result.Duration.Milliseconds()),
	}
	if result.Error != "" {
		fields = append(fields, zap.String("error", result.Error), zap.String("error_type", result.ErrorType))
	}
	switch result.Status {
	case entity.StatusFailed:
		uc.logger.Error("ingestion finished", fields...)
	case entity.StatusPartial:
		uc.logger.Warn("ingestion finished", fields...)
	default:
		uc.logger.Info("ingestion finished", fields...)
	}

	if !record {
		return
	}
	metrics.IngestRunsTotal.WithLabelValues(result.SourceID, string(result.Status)).Inc()
	metrics.IngestRunDuration.WithLabelValues(result.SourceID).Observe(result.Duration.Seconds())
	metrics.IngestRecordsTotal.WithLabelValues(result.SourceID, "attempted").Add(float64(result.Attempted))
	metrics.IngestRecordsTotal.WithLabelValues(result.SourceID, "persisted").Add(float64(result.Persisted))
	metrics.IngestRecordsTotal.WithLabelValues(result.SourceID, "skipped").Add(float64(result.Skipped))
	metrics.IngestRecordsTotal.WithLabelValues(result.SourceID, "duplicate").Add(float64(result.Duplicates))
	metrics.RejectedRowsTotal.WithLabelValues(result.SourceID).Add(float64(result.RejectedRows))
	if result.ErrorType != "" {
		metrics.IngestFailuresTotal.WithLabelValues(result.SourceID, result.ErrorType).Inc()
	}

	// The result is stored even when the trigger's context is already done.
	if err := uc.results.Record(context.WithoutCancel(ctx), *result); err != nil {
		uc.logger.Warn("failed to record ingestion result", zap.String("source", result.SourceID), zap.Error(err))
	}
}

func (uc *orchestratorUseCase) RunAll(ctx context.Context) []entity.IngestionResult {
	sources := uc.registry.All()
	results := make([]entity.IngestionResult, len(sources))

	var g errgroup.Group
	g.SetLimit(uc.cfg.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			results[i] = uc.FetchAndIngest(ctx, src.ID)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
