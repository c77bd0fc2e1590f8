package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/models"
	"github.com/medwatch/compliance-manager/internal/repository"
)

// Cron specs for the background jobs.
const (
	// passSpec triggers a scheduling pass over due sources.
	passSpec = "@every 1m"
	// sweepSpec triggers the eager validation-expiry sweep and the
	// trailing-error-window recompute.
	sweepSpec = "@every 1h"
)

// maintenanceTimeout bounds one background job invocation.
const maintenanceTimeout = 10 * time.Minute

// SweepStore lists sources for the background sweep.
type SweepStore interface {
	List(ctx context.Context) ([]models.Source, error)
}

// Runner drives the scheduler from cron: periodic scheduling passes
// plus the eager expiry sweep that complements lazy admission-time
// clearing.
type Runner struct {
	scheduler *Scheduler
	sweep     SweepStore
	logger    logger.Logger
	cron      *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRunner(s *Scheduler, sweep SweepStore, log logger.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		scheduler: s,
		sweep:     sweep,
		logger:    log,
		cron:      cron.New(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the cron jobs and begins running them.
func (r *Runner) Start() error {
	if _, err := r.cron.AddFunc(passSpec, r.schedulingPass); err != nil {
		return fmt.Errorf("register scheduling pass: %w", err)
	}
	if _, err := r.cron.AddFunc(sweepSpec, r.expirySweep); err != nil {
		return fmt.Errorf("register expiry sweep: %w", err)
	}
	r.cron.Start()
	r.logger.Info("scheduler runner started",
		logger.String("pass_spec", passSpec),
		logger.String("sweep_spec", sweepSpec),
	)
	return nil
}

// Stop cancels in-flight work and waits for running cron jobs to exit.
// Cancelled runs still record their failure entries before returning.
func (r *Runner) Stop() {
	r.cancel()
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.logger.Info("scheduler runner stopped")
}

func (r *Runner) schedulingPass() {
	ctx, cancel := context.WithTimeout(r.ctx, maintenanceTimeout)
	defer cancel()

	if err := r.scheduler.RunDue(ctx); err != nil {
		r.logger.Error("scheduling pass failed", logger.Error(err))
	}
}

// expirySweep eagerly clears flags backed by expired validations and
// refreshes each source's trailing-30-day error counter from the run
// log. Admission would catch expiries lazily anyway; the sweep keeps
// the dashboard honest between admissions.
func (r *Runner) expirySweep() {
	ctx, cancel := context.WithTimeout(r.ctx, maintenanceTimeout)
	defer cancel()

	sources, err := r.sweep.List(ctx)
	if err != nil {
		r.logger.Error("expiry sweep: list sources failed", logger.Error(err))
		return
	}

	for i := range sources {
		source := &sources[i]
		expired, expiredErr := r.scheduler.expiry.ExpiredBackingTypes(ctx, source.ID)
		if expiredErr != nil {
			r.logger.Error("expiry sweep: check failed",
				logger.String("source_id", source.ID),
				logger.Error(expiredErr),
			)
			continue
		}
		if len(expired) > 0 {
			if _, expireErr := r.scheduler.expiry.ExpireValidations(ctx, source.ID, expired); expireErr != nil {
				r.logger.Error("expiry sweep: expire failed",
					logger.String("source_id", source.ID),
					logger.Error(expireErr),
				)
				continue
			}
			r.logger.Warn("expiry sweep: validations expired",
				logger.String("source_id", source.ID),
				logger.Int("expired_types", len(expired)),
			)
		}

		r.refreshErrorWindow(ctx, source.ID)
	}
}

// refreshErrorWindow recomputes error_count_last_30_days from the run
// log so the incremented counter decays as failures age out.
func (r *Runner) refreshErrorWindow(ctx context.Context, sourceID string) {
	since := time.Now().Add(-errorWindow)
	count, err := r.scheduler.runs.ErrorCountSince(ctx, sourceID, since)
	if err != nil {
		r.logger.Error("expiry sweep: error count failed",
			logger.String("source_id", sourceID),
			logger.Error(err),
		)
		return
	}

	_, err = r.scheduler.sources.Mutate(ctx, sourceID,
		repository.Mutation{
			Action:     models.AuditUpdate,
			Actor:      "scheduler",
			LegalBasis: "trailing error window recompute",
		},
		func(_ *sql.Tx, s *models.Source) error {
			sameCount := s.ErrorCountLast30Days == count
			prevRisk := s.RiskLevel
			s.ErrorCountLast30Days = count
			s.RecomputeRisk(0)
			if sameCount && s.RiskLevel == prevRisk {
				return errSkipUnchanged
			}
			return nil
		},
	)
	if err != nil && !errors.Is(err, errSkipUnchanged) {
		r.logger.Error("expiry sweep: counter update failed",
			logger.String("source_id", sourceID),
			logger.Error(err),
		)
	}
}

// errSkipUnchanged aborts a mutation that would not change anything,
// avoiding a no-op audit entry.
var errSkipUnchanged = errors.New("no change")
