package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medwatch/compliance-manager/internal/models"
)

// AutomationLogRepository persists per-run scraper automation log
// entries. Entries are immutable.
type AutomationLogRepository struct {
	db *sql.DB
}

func NewAutomationLogRepository(db *sql.DB) *AutomationLogRepository {
	return &AutomationLogRepository{db: db}
}

// InsertTx writes a run log entry on an existing transaction so it
// commits atomically with the counter updates it accompanies.
func (r *AutomationLogRepository) InsertTx(ctx context.Context, tx *sql.Tx, entry *models.ScraperAutomationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO scraper_automation_log (
			id, source_id, domain, action, result, duration_ms,
			articles_fetched, compliance_snapshot, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.ExecContext(ctx, query,
		entry.ID,
		entry.SourceID,
		entry.Domain,
		entry.Action,
		entry.Result,
		entry.DurationMs,
		entry.ArticlesFetched,
		entry.ComplianceSnapshot,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert automation log: %w", err)
	}
	return nil
}

// ListBySource returns run history for a source, newest first, capped
// at limit.
func (r *AutomationLogRepository) ListBySource(ctx context.Context, sourceID string, limit int) ([]models.ScraperAutomationLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, source_id, domain, action, result, duration_ms,
		       articles_fetched, compliance_snapshot, error_message, created_at
		FROM scraper_automation_log
		WHERE source_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query automation log: %w", err)
	}
	defer rows.Close()

	entries := make([]models.ScraperAutomationLogEntry, 0)
	for rows.Next() {
		var entry models.ScraperAutomationLogEntry
		scanErr := rows.Scan(
			&entry.ID,
			&entry.SourceID,
			&entry.Domain,
			&entry.Action,
			&entry.Result,
			&entry.DurationMs,
			&entry.ArticlesFetched,
			&entry.ComplianceSnapshot,
			&entry.ErrorMessage,
			&entry.CreatedAt,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("scan automation entry: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate automation log: %w", rowsErr)
	}
	return entries, nil
}

// ErrorCountSince counts failed runs for a source since the cutoff.
// Feeds the trailing-30-day error counter.
func (r *AutomationLogRepository) ErrorCountSince(ctx context.Context, sourceID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM scraper_automation_log
		WHERE source_id = $1 AND result = 'failure' AND created_at >= $2
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, sourceID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count run failures: %w", err)
	}
	return count, nil
}
