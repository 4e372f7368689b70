package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/user/affiliate-ingest/internal/entity"
	"github.com/user/affiliate-ingest/internal/report"
	"github.com/user/affiliate-ingest/internal/repository"
	"github.com/user/affiliate-ingest/pkg/metrics"
)

// Pipeline runs one source end to end: retrieve, decode, normalize, persist.
type Pipeline interface {
	// Run fills result with counts and a terminal status.
	Run(ctx context.Context, src *entity.Source, result *entity.IngestionResult)
}

type pipelineUseCase struct {
	artifacts   repository.ArtifactStore
	credentials repository.CredentialProvider
	retriever   Retriever
	persister   Persister
	logger      *zap.Logger
	now         func() time.Time
}

// NewPipelineUseCase creates a new instance of the per-source pipeline.
func NewPipelineUseCase(
	artifacts repository.ArtifactStore,
	credentials repository.CredentialProvider,
	retriever Retriever,
	persister Persister,
	logger *zap.Logger,
) Pipeline {
	return &pipelineUseCase{
		artifacts:   artifacts,
		credentials: credentials,
		retriever:   retriever,
		persister:   persister,
		logger:      logger,
		now:         time.Now,
	}
}

func (uc *pipelineUseCase) Run(ctx context.Context, src *entity.Source, result *entity.IngestionResult) {
	logger := uc.logger.With(zap.String("source", src.ID), zap.String("run_id", result.RunID))

	slot, err := uc.artifacts.Allocate(ctx, src.ID)
	if err != nil {
		result.Fail(fmt.Errorf("allocate artifact slot: %w", err))
		return
	}
	defer func() {
		if err := slot.Discard(); err != nil {
			logger.Warn("failed to discard artifact slot", zap.String("dir", slot.Dir()), zap.Error(err))
		}
	}()

	creds, err := uc.credentials.Resolve(ctx, src.Credentials)
	if err != nil {
		result.Fail(&entity.RetrievalError{SourceID: src.ID, State: entity.StateAuthenticating, Err: err})
		return
	}

	retrieval, err := uc.retriever.Retrieve(ctx, src, creds, slot.Dir())
	if err != nil {
		result.Fail(err)
		return
	}
	if retrieval.State == entity.StateEmpty {
		result.Status = entity.StatusEmpty
		return
	}

	data, err := slot.ReadOnce(retrieval.Path)
	if err != nil {
		result.Fail(&entity.RetrievalError{
			SourceID: src.ID,
			State:    entity.StateDownloaded,
			Err:      errors.Join(entity.ErrNoDownload, err),
		})
		return
	}
	artifact := entity.Artifact{SourceID: src.ID, Data: data, Encoding: src.Encoding, DownloadedAt: uc.now()}
	logger.Debug("artifact received",
		zap.Int("bytes", len(artifact.Data)),
		zap.String("encoding", string(artifact.Encoding)),
		zap.Time("downloaded_at", artifact.DownloadedAt))

	table, err := report.DecodeArtifact(artifact, src.DelimiterRune())
	if err != nil {
		result.Fail(err)
		return
	}
	result.RejectedRows = len(table.Rejected)
	for _, rej := range table.Rejected {
		logger.Debug("row rejected", zap.Int("line", rej.Line), zap.Error(rej.Err))
	}
	if len(table.Records) == 0 {
		result.Status = entity.StatusEmpty
		return
	}

	records := make([]entity.NormalizedRecord, 0, len(table.Records))
	for _, raw := range table.Records {
		rec, warnings := report.Normalize(raw, src.Fields, src.Zone())
		for _, w := range warnings {
			logger.Debug("coercion warning",
				zap.Int("row", w.Row),
				zap.String("field", w.Field),
				zap.String("column", w.Column),
				zap.String("type", string(w.Type)),
				zap.String("value", w.Value))
			metrics.CoercionWarningsTotal.WithLabelValues(src.ID, w.Field).Inc()
		}
		result.CoercionWarnings += len(warnings)
		records = append(records, rec)
	}
	if result.CoercionWarnings > 0 {
		logger.Info("coercion warnings", zap.Int("count", result.CoercionWarnings), zap.Int("records", len(records)))
	}

	outcome, err := uc.persister.Persist(ctx, src, records)
	result.Attempted = outcome.Attempted
	result.Persisted = outcome.Written
	result.Skipped = outcome.Skipped
	result.Duplicates = outcome.Duplicates
	if err != nil {
		var pe *entity.PersistenceError
		if errors.As(err, &pe) && pe.Written > 0 {
			result.Persisted = pe.Written
			result.Fail(err)
			result.Status = entity.StatusPartial
			return
		}
		result.Fail(err)
		return
	}
	result.Status = entity.StatusSuccess
}
