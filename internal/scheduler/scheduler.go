// Package scheduler converts declared compliance policy into safe,
// rate-limited scrape runs: admission checks, per-source mutual
// exclusion, run execution, and outcome accounting.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medwatch/compliance-manager/internal/extractor"
	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/models"
	"github.com/medwatch/compliance-manager/internal/repository"
)

// Outcome is an admission decision kind.
type Outcome string

const (
	OutcomeRunNow Outcome = "run_now"
	OutcomeWait   Outcome = "wait"
	OutcomeDenied Outcome = "denied"
)

// Denial and wait reasons, persisted so the admin UI can always
// explain why a source is not running from recorded state.
const (
	ReasonNotActive         = "source status is not active"
	ReasonNotApproved       = "legal review status is not approved"
	ReasonValidationExpired = "compliance validation expired; legal review pending"
	ReasonRunInFlight       = "a run is already in flight for this source"
)

// Decision is the outcome of one admission request.
type Decision struct {
	Outcome   Outcome   `json:"outcome"`
	WaitUntil time.Time `json:"wait_until,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	// Budget is the per-run article cap, set when Outcome is run_now.
	Budget int `json:"budget,omitempty"`
}

// SourceStore is the subset of the source repository the scheduler uses.
type SourceStore interface {
	GetByID(ctx context.Context, id string) (*models.Source, error)
	ListSchedulable(ctx context.Context) ([]models.Source, error)
	Mutate(ctx context.Context, id string, m repository.Mutation, fn func(tx *sql.Tx, s *models.Source) error) (*models.Source, error)
}

// RunStore records automation log entries inside the completion
// transaction and answers windowed failure counts.
type RunStore interface {
	InsertTx(ctx context.Context, tx *sql.Tx, entry *models.ScraperAutomationLogEntry) error
	ErrorCountSince(ctx context.Context, sourceID string, since time.Time) (int, error)
}

// ExpiryChecker handles expired validations discovered during
// admission (lazy clearing) and during the background sweep.
type ExpiryChecker interface {
	ExpiredBackingTypes(ctx context.Context, sourceID string) ([]models.ValidationType, error)
	ExpireValidations(ctx context.Context, sourceID string, types []models.ValidationType) (*models.Source, error)
}

const (
	// successRateAlpha is the EWMA weight of the newest run outcome.
	successRateAlpha = 0.2
	// errorWindow is the trailing window for the failure counter.
	errorWindow = 30 * 24 * time.Hour
	// defaultRunTimeout bounds one scrape run end to end.
	defaultRunTimeout = 5 * time.Minute
	// defaultConcurrency caps concurrent runs across sources.
	defaultConcurrency = 8
	// completionWriteTimeout bounds the completion transaction when the
	// run context is already cancelled (shutdown must still log the run).
	completionWriteTimeout = 10 * time.Second
)

// Health status values derived from the rolling success rate.
const (
	healthHealthy  = "healthy"
	healthDegraded = "degraded"
	healthFailing  = "failing"
)

// Scheduler admits and executes scrape runs.
type Scheduler struct {
	sources    SourceStore
	runs       RunStore
	expiry     ExpiryChecker
	extract    extractor.Extractor
	logger     logger.Logger
	now        func() time.Time
	runLimit   int
	runTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the scheduler clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRunTimeout bounds a single run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.runTimeout = d }
}

// WithConcurrency caps concurrent runs across distinct sources.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) { s.runLimit = n }
}

func New(
	sources SourceStore,
	runs RunStore,
	expiry ExpiryChecker,
	extract extractor.Extractor,
	log logger.Logger,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		sources:    sources,
		runs:       runs,
		expiry:     expiry,
		extract:    extract,
		logger:     log,
		now:        time.Now,
		runLimit:   defaultConcurrency,
		runTimeout: defaultRunTimeout,
		inflight:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Admit decides whether the source may run now. Rules are checked in
// order: lifecycle and approval state, expired backing validations
// (cleared here, lazily), crawl delay, then per-source exclusion. When
// the decision is run_now the source is reserved in-flight atomically
// with the decision, so an overlapping admission request observes wait.
// Callers that receive run_now must call Release (or use Run, which
// does) when the run finishes.
func (s *Scheduler) Admit(ctx context.Context, sourceID string) (Decision, error) {
	source, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return Decision{}, err
	}

	if source.Status != models.StatusActive {
		return Decision{Outcome: OutcomeDenied, Reason: ReasonNotActive}, nil
	}
	if source.LegalReviewStatus != models.ReviewApproved {
		return Decision{Outcome: OutcomeDenied, Reason: ReasonNotApproved}, nil
	}

	expired, err := s.expiry.ExpiredBackingTypes(ctx, sourceID)
	if err != nil {
		return Decision{}, fmt.Errorf("check validation expiry: %w", err)
	}
	if len(expired) > 0 {
		if _, expireErr := s.expiry.ExpireValidations(ctx, sourceID, expired); expireErr != nil {
			return Decision{}, fmt.Errorf("expire validations: %w", expireErr)
		}
		return Decision{Outcome: OutcomeDenied, Reason: ReasonValidationExpired}, nil
	}

	// The crawl delay gates on the last successful run and on
	// next_scheduled_run, which every completed attempt advances. A
	// source whose runs keep failing still waits out its delay.
	now := s.now()
	var earliest time.Time
	if source.LastSuccessfulRun != nil {
		earliest = source.LastSuccessfulRun.Add(source.CrawlDelay())
	}
	if source.NextScheduledRun != nil && source.NextScheduledRun.After(earliest) {
		earliest = *source.NextScheduledRun
	}
	if !earliest.IsZero() && now.Before(earliest) {
		return Decision{Outcome: OutcomeWait, WaitUntil: earliest}, nil
	}

	// Admission and reservation are one critical section: mark in-flight
	// before any fetch begins so a concurrent request observes wait.
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.inflight[sourceID]; running {
		return Decision{Outcome: OutcomeWait, Reason: ReasonRunInFlight}, nil
	}
	s.inflight[sourceID] = struct{}{}

	return Decision{Outcome: OutcomeRunNow, Budget: source.MaxArticlesPerRun}, nil
}

// Release clears the in-flight reservation for a source.
func (s *Scheduler) Release(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, sourceID)
}

// InFlight reports whether a run is currently reserved for the source.
func (s *Scheduler) InFlight(sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.inflight[sourceID]
	return running
}

// Run admits the source and, if admitted, executes one scrape run and
// records its outcome. A run aborted by cancellation still produces an
// automation log entry with result=failure and the cancellation reason.
func (s *Scheduler) Run(ctx context.Context, sourceID string) (Decision, error) {
	decision, err := s.Admit(ctx, sourceID)
	if err != nil || decision.Outcome != OutcomeRunNow {
		return decision, err
	}
	defer s.Release(sourceID)

	source, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return decision, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	start := s.now()
	articles, runErr := s.extract.Extract(runCtx, source, decision.Budget)
	duration := s.now().Sub(start)

	outcome := runOutcome(len(articles), runErr, runCtx)
	if completeErr := s.complete(ctx, source, outcome, len(articles), duration, runErr); completeErr != nil {
		return decision, completeErr
	}
	return decision, nil
}

// runOutcome classifies a finished run.
func runOutcome(articles int, runErr error, runCtx context.Context) models.RunResult {
	switch {
	case runErr == nil && articles > 0:
		return models.RunSuccess
	case runErr == nil:
		// Completed cleanly but collected nothing worth keeping.
		return models.RunWarning
	case articles > 0 && !errors.Is(runErr, context.Canceled) && runCtx.Err() == nil:
		return models.RunPartial
	default:
		return models.RunFailure
	}
}

// complete records the run outcome: automation log entry, EWMA success
// rate, counters, next_scheduled_run, in one audited transaction. Uses a
// detached context so a cancelled run is still recorded.
func (s *Scheduler) complete(
	ctx context.Context,
	source *models.Source,
	result models.RunResult,
	articles int,
	duration time.Duration,
	runErr error,
) error {
	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.Background(), completionWriteTimeout)
		defer cancel()
	}

	now := s.now()
	entry := &models.ScraperAutomationLogEntry{
		SourceID:        source.ID,
		Domain:          hostOf(source.BaseURL),
		Action:          models.AutomationMonitor,
		Result:          result,
		DurationMs:      duration.Milliseconds(),
		ArticlesFetched: articles,
		ComplianceSnapshot: models.JSONMap{
			"compliance_flags":    source.Flags,
			"legal_review_status": string(source.LegalReviewStatus),
			"risk_level":          string(source.RiskLevel),
			"status":              string(source.Status),
		},
		CreatedAt: now,
	}
	if runErr != nil {
		entry.ErrorMessage = runErr.Error()
	}

	_, err := s.sources.Mutate(writeCtx, source.ID,
		repository.Mutation{
			Action:     models.AuditUpdate,
			Actor:      "scheduler",
			LegalBasis: "scrape run completion",
		},
		func(tx *sql.Tx, st *models.Source) error {
			if insertErr := s.runs.InsertTx(writeCtx, tx, entry); insertErr != nil {
				return insertErr
			}
			applyRunOutcome(st, result, articles, now)
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("record run completion: %w", err)
	}

	s.logger.Info("scrape run recorded",
		logger.String("source_id", source.ID),
		logger.String("result", string(result)),
		logger.Int("articles", articles),
		logger.Duration("duration", duration),
	)
	return nil
}

// applyRunOutcome folds one run result into the source's counters.
func applyRunOutcome(s *models.Source, result models.RunResult, articles int, now time.Time) {
	observed := 0.0
	if result == models.RunSuccess || result == models.RunPartial {
		observed = 1.0
	}
	s.SuccessRate = successRateAlpha*observed + (1-successRateAlpha)*s.SuccessRate

	switch result {
	case models.RunSuccess, models.RunPartial:
		s.ArticlesCollectedTotal += int64(articles)
		t := now
		s.LastSuccessfulRun = &t
	case models.RunFailure:
		s.ErrorCountLast30Days++
		// Accumulated failures feed the risk classification.
		s.RecomputeRisk(0)
	case models.RunWarning:
		// No counter movement; nothing was collected and nothing failed.
	}

	next := now.Add(s.CrawlDelay())
	s.NextScheduledRun = &next

	switch {
	case s.SuccessRate >= 0.8:
		s.HealthStatus = healthHealthy
	case s.SuccessRate >= 0.5:
		s.HealthStatus = healthDegraded
	default:
		s.HealthStatus = healthFailing
	}
}

// RunDue executes one scheduling pass over every schedulable source,
// fanning out with a bounded worker group. One source's failure does
// not block the others.
func (s *Scheduler) RunDue(ctx context.Context) error {
	sources, err := s.sources.ListSchedulable(ctx)
	if err != nil {
		return fmt.Errorf("list schedulable sources: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.runLimit)
	for _, source := range sources {
		id := source.ID
		g.Go(func() error {
			decision, runErr := s.Run(gctx, id)
			if runErr != nil {
				s.logger.Error("scheduling pass: run failed",
					logger.String("source_id", id),
					logger.Error(runErr),
				)
				return nil // isolated failure, keep the pass going
			}
			if decision.Outcome != OutcomeRunNow {
				s.logger.Debug("scheduling pass: source not admitted",
					logger.String("source_id", id),
					logger.String("outcome", string(decision.Outcome)),
					logger.String("reason", decision.Reason),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return strings.TrimPrefix(rawURL, "https://")
	}
	return parsed.Host
}
