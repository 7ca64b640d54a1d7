// Package scheduler triggers period-close renfoulement assessments on a
// cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Assessor assesses the renfoulement of the period currently open.
type Assessor interface {
	AssessCurrentPeriod(ctx context.Context) (*domain.Assessment, error)
}

// Scheduler manages the cron entries of the ledger.
type Scheduler struct {
	cron     *cron.Cron
	assessor Assessor
	logger   *zap.Logger
	ctx      context.Context
}

// New creates a Scheduler. Jobs run with ctx.
func New(ctx context.Context, assessor Assessor, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		assessor: assessor,
		logger:   logger,
		ctx:      ctx,
	}
}

// Register schedules the assessment with a standard five-field cron spec.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.assessTask); err != nil {
		return fmt.Errorf("register renfoulement task: %w", err)
	}
	s.logger.Info("renfoulement assessment scheduled", zap.String("cron", spec))
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the scheduler and waits for a running job to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with a job still running")
	}
	s.logger.Info("scheduler stopped")
}

// RunNow runs the assessment immediately (manual trigger).
func (s *Scheduler) RunNow() (*domain.Assessment, error) {
	return s.assess()
}

func (s *Scheduler) assessTask() {
	_, _ = s.assess()
}

func (s *Scheduler) assess() (*domain.Assessment, error) {
	s.logger.Info("running renfoulement assessment")

	a, err := s.assessor.AssessCurrentPeriod(s.ctx)
	switch {
	case err == nil:
		s.logger.Info("renfoulement assessment finished",
			zap.String("period_id", a.PeriodID),
			zap.Bool("applied", a.Applied),
			zap.String("unit", a.UnitAmount.String()),
			zap.String("skip_reason", a.SkipReason),
		)
	case errors.Is(err, domain.ErrAlreadyAssessed), errors.Is(err, domain.ErrNoActivePeriod):
		s.logger.Info("renfoulement assessment skipped", zap.String("reason", err.Error()))
	default:
		s.logger.Error("renfoulement assessment failed", zap.Error(err))
	}
	return a, err
}
