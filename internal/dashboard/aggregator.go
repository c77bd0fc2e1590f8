// Package dashboard derives read-only compliance rollups for the admin
// UI. All counts in one summary are computed against a single
// consistent snapshot so totals can never disagree with each other.
package dashboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/models"
)

// Summary is the top-level compliance rollup. Deleted sources are
// excluded from every count.
type Summary struct {
	Total          int        `json:"total"`
	Compliant      int        `json:"compliant"`
	PendingReview  int        `json:"pending_review"`
	Active         int        `json:"active"`
	HighRisk       int        `json:"high_risk"`
	AvgSuccessRate float64    `json:"avg_success_rate"`
	LastChecked    *time.Time `json:"last_checked,omitempty"`
}

// SourceDetail is the per-source read-side projection: current flags,
// the latest validation per type, and recent run history.
type SourceDetail struct {
	Source          *models.Source                                        `json:"source"`
	Validations     map[models.ValidationType]models.ComplianceValidation `json:"latest_validations"`
	RecentRuns      []models.ScraperAutomationLogEntry                    `json:"recent_runs"`
	ComplianceScore float64                                               `json:"compliance_score"`
}

// SourceGetter loads one source.
type SourceGetter interface {
	GetByID(ctx context.Context, id string) (*models.Source, error)
}

// ValidationReader answers the latest validation per type.
type ValidationReader interface {
	LatestByType(ctx context.Context, sourceID string) (map[models.ValidationType]models.ComplianceValidation, error)
}

// RunReader lists recent runs for a source.
type RunReader interface {
	ListBySource(ctx context.Context, sourceID string, limit int) ([]models.ScraperAutomationLogEntry, error)
}

// recentRunLimit caps the run history returned in a detail view.
const recentRunLimit = 20

// Aggregator computes dashboard projections. It never mutates state.
type Aggregator struct {
	db          *sql.DB
	sources     SourceGetter
	validations ValidationReader
	runs        RunReader
	logger      logger.Logger
}

func NewAggregator(
	db *sql.DB,
	sources SourceGetter,
	validations ValidationReader,
	runs RunReader,
	log logger.Logger,
) *Aggregator {
	return &Aggregator{
		db:          db,
		sources:     sources,
		validations: validations,
		runs:        runs,
		logger:      log,
	}
}

// Summary computes the rollup inside one repeatable-read, read-only
// transaction: every count reflects the same point in time, so
// compliant + pending_review can never exceed total.
func (a *Aggregator) Summary(ctx context.Context) (s *Summary, err error) {
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			a.logger.Error("failed to end snapshot transaction", logger.Error(rbErr))
		}
	}()

	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE legal_review_status = 'approved'),
		       COUNT(*) FILTER (WHERE legal_review_status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE risk_level IN ('high', 'critical')),
		       COALESCE(AVG(success_rate), 0),
		       MAX(compliance_last_checked)
		FROM sources
		WHERE status != 'deleted'
	`
	summary := &Summary{}
	err = tx.QueryRowContext(ctx, query).Scan(
		&summary.Total,
		&summary.Compliant,
		&summary.PendingReview,
		&summary.Active,
		&summary.HighRisk,
		&summary.AvgSuccessRate,
		&summary.LastChecked,
	)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("commit snapshot transaction: %w", commitErr)
	}
	return summary, nil
}

// Detail returns the per-source projection for the admin UI: the
// persisted state that explains why a source is or is not running.
func (a *Aggregator) Detail(ctx context.Context, sourceID string) (*SourceDetail, error) {
	source, err := a.sources.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	validations, err := a.validations.LatestByType(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	runs, err := a.runs.ListBySource(ctx, sourceID, recentRunLimit)
	if err != nil {
		return nil, err
	}

	return &SourceDetail{
		Source:          source,
		Validations:     validations,
		RecentRuns:      runs,
		ComplianceScore: source.ComplianceScore(),
	}, nil
}
