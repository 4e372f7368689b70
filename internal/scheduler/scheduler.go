package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/user/affiliate-ingest/internal/repository"
	"github.com/user/affiliate-ingest/internal/usecase"
)

// Scheduler triggers one ingestion per source on its cron schedule.
// A source whose previous run is still going skips the tick.
type Scheduler struct {
	cron     *cron.Cron
	registry repository.SourceRegistry
	orch     usecase.Orchestrator
	fallback string
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. fallback is used for sources without a schedule.
func New(registry repository.SourceRegistry, orch usecase.Orchestrator, fallback string, logger *zap.Logger) *Scheduler {
	cl := cronLogger{logger: logger.Named("cron")}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		registry: registry,
		orch:     orch,
		fallback: fallback,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register adds one entry per registered source.
func (s *Scheduler) Register() error {
	for _, src := range s.registry.All() {
		spec := src.Schedule
		if spec == "" {
			spec = s.fallback
		}
		id := src.ID
		if _, err := s.cron.AddFunc(spec, func() { s.orch.FetchAndIngest(s.ctx, id) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", id, spec, err)
		}
		s.logger.Info("source scheduled", zap.String("source", id), zap.String("schedule", spec))
	}
	return nil
}

// Entries returns the number of scheduled sources.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels in-flight runs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out", zap.Error(ctx.Err()))
	}
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
