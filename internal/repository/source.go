// Package repository implements persistence for sources and their
// compliance records. Every source mutation flows through an audited
// transaction: the mutating statement and its audit entry commit
// together or not at all.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/models"
)

var (
	// ErrSourceNotFound is returned when a source id does not exist.
	ErrSourceNotFound = errors.New("source not found")
	// ErrSourceDeleted is returned when mutating a soft-deleted source.
	ErrSourceDeleted = errors.New("source is deleted")
)

const sourceColumns = `id, name, base_url, language, country,
	       content_type, retention_days, max_articles_per_run, crawl_delay_seconds,
	       target_sections, legal_contact_email, compliance_flags,
	       legal_review_status, risk_level, compliance_last_checked, status,
	       success_rate, articles_collected_total, error_count_last_30_days,
	       last_successful_run, next_scheduled_run, scraper_type, health_status,
	       created_at, updated_at`

// SourceRepository persists sources. All writes go through audited
// transactions; there is no unaudited update path.
type SourceRepository struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

func NewSourceRepository(db *sql.DB, log logger.Logger) *SourceRepository {
	return &SourceRepository{
		db:     db,
		logger: log,
		now:    time.Now,
	}
}

// WithClock overrides the repository clock. Used by tests.
func (r *SourceRepository) WithClock(now func() time.Time) *SourceRepository {
	r.now = now
	return r
}

// DB exposes the underlying handle for collaborating repositories that
// join the same audited transaction.
func (r *SourceRepository) DB() *sql.DB {
	return r.db
}

// Mutation describes the audit context of one mutating call.
type Mutation struct {
	Action     models.AuditAction
	Actor      string
	LegalBasis string
}

// Create inserts a new source and its audit entry in one transaction.
func (r *SourceRepository) Create(ctx context.Context, source *models.Source, actor string) (err error) {
	if validationErr := source.Validate(); validationErr != nil {
		return validationErr
	}

	now := r.now()
	source.ID = uuid.New().String()
	source.CreatedAt = now
	source.UpdatedAt = now
	if source.Status == "" {
		source.Status = models.StatusUnderReview
	}
	if source.LegalReviewStatus == "" {
		source.LegalReviewStatus = models.ReviewPending
	}
	source.RecomputeRisk(0)
	if source.HealthStatus == "" {
		source.HealthStatus = "unknown"
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer r.rollbackOnError(tx, &err)

	query := `
		INSERT INTO sources (` + sourceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`
	_, err = tx.ExecContext(ctx, query, sourceArgs(source)...)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}

	afterState, err := json.Marshal(source)
	if err != nil {
		return fmt.Errorf("marshal after state: %w", err)
	}
	err = insertAuditEntry(ctx, tx, &models.AuditLogEntry{
		TableName:  "sources",
		RecordID:   source.ID,
		Action:     models.AuditCreate,
		AfterState: afterState,
		LegalBasis: "source registration under documented compliance policy",
		Actor:      actor,
		CreatedAt:  now,
	})
	if err != nil {
		return err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		err = fmt.Errorf("commit transaction: %w", commitErr)
		return err
	}
	return nil
}

// Mutate loads the source under a row lock, applies fn, persists the
// result, and writes the audit entry with before/after snapshots, all
// in one transaction. fn may issue additional statements on the same
// transaction (validation records, run logs) so they share atomicity
// with the source update. Any failure, including the audit insert,
// rolls back the whole unit of work.
func (r *SourceRepository) Mutate(
	ctx context.Context,
	id string,
	m Mutation,
	fn func(tx *sql.Tx, s *models.Source) error,
) (result *models.Source, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer r.rollbackOnError(tx, &err)

	source, err := getSourceTx(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if source.Status == models.StatusDeleted && m.Action != models.AuditDelete {
		err = ErrSourceDeleted
		return nil, err
	}

	beforeState, err := json.Marshal(source)
	if err != nil {
		return nil, fmt.Errorf("marshal before state: %w", err)
	}

	if err = fn(tx, source); err != nil {
		return nil, err
	}

	source.UpdatedAt = r.now()
	if err = updateSourceTx(ctx, tx, source); err != nil {
		return nil, err
	}

	afterState, err := json.Marshal(source)
	if err != nil {
		return nil, fmt.Errorf("marshal after state: %w", err)
	}
	err = insertAuditEntry(ctx, tx, &models.AuditLogEntry{
		TableName:   "sources",
		RecordID:    source.ID,
		Action:      m.Action,
		BeforeState: beforeState,
		AfterState:  afterState,
		LegalBasis:  m.LegalBasis,
		Actor:       m.Actor,
		CreatedAt:   r.now(),
	})
	if err != nil {
		return nil, err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		err = fmt.Errorf("commit transaction: %w", commitErr)
		return nil, err
	}
	return source, nil
}

// Transition moves the source to a new lifecycle status after
// validating the transition. Delete is modelled as the transition to
// deleted; rows are never physically removed while audit history
// references them.
func (r *SourceRepository) Transition(
	ctx context.Context,
	id string,
	to models.SourceStatus,
	m Mutation,
) (*models.Source, error) {
	return r.Mutate(ctx, id, m, func(_ *sql.Tx, s *models.Source) error {
		if transitionErr := models.ValidateStatusTransition(s.Status, to); transitionErr != nil {
			return transitionErr
		}
		s.Status = to
		return nil
	})
}

func (r *SourceRepository) GetByID(ctx context.Context, id string) (*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query source: %w", err)
	}
	return source, nil
}

// ListFilter holds pagination and filter params for ListPaginated.
type ListFilter struct {
	Limit     int
	Offset    int
	SortBy    string // name, base_url, status, risk_level, created_at
	SortOrder string // asc, desc
	Search    string // ILIKE on name or base_url
	Status    models.SourceStatus
	Risk      models.RiskLevel
}

// Count returns the total number of non-deleted sources matching the
// filter (ignores Limit/Offset/Sort).
func (r *SourceRepository) Count(ctx context.Context, filter ListFilter) (int, error) {
	whereClause, args := buildListWhere(filter)
	query := `SELECT COUNT(*) FROM sources WHERE status != 'deleted'` + whereClause

	var count int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sources: %w", err)
	}
	return count, nil
}

const (
	limitParamIdx  = 1
	offsetParamIdx = 2
)

// ListPaginated returns non-deleted sources with pagination, sorting,
// and filtering.
func (r *SourceRepository) ListPaginated(ctx context.Context, filter ListFilter) ([]models.Source, error) {
	whereClause, whereArgs := buildListWhere(filter)
	orderClause := buildListOrder(filter)
	argCount := len(whereArgs)
	limitPlaceholder := strconv.Itoa(argCount + limitParamIdx)
	offsetPlaceholder := strconv.Itoa(argCount + offsetParamIdx)
	// whereClause and orderClause use whitelisted column names; limit/offset are integers
	query := `SELECT ` + sourceColumns + `
		FROM sources
		WHERE status != 'deleted'` + whereClause + orderClause + `
		LIMIT $` + limitPlaceholder + ` OFFSET $` + offsetPlaceholder

	args := append(append([]any{}, whereArgs...), filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	return scanSourceRows(rows)
}

// List returns all non-deleted sources ordered by name.
func (r *SourceRepository) List(ctx context.Context) ([]models.Source, error) {
	query := `SELECT ` + sourceColumns + `
		FROM sources
		WHERE status != 'deleted'
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	return scanSourceRows(rows)
}

// ListSchedulable returns active, approved sources: the scheduling pool.
func (r *SourceRepository) ListSchedulable(ctx context.Context) ([]models.Source, error) {
	query := `SELECT ` + sourceColumns + `
		FROM sources
		WHERE status = 'active' AND legal_review_status = 'approved'
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query schedulable sources: %w", err)
	}
	defer rows.Close()

	return scanSourceRows(rows)
}

func (r *SourceRepository) rollbackOnError(tx *sql.Tx, err *error) {
	if *err == nil {
		return
	}
	if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		r.logger.Error("failed to rollback transaction",
			logger.Error(rbErr),
		)
	}
}

func getSourceTx(ctx context.Context, tx *sql.Tx, id string, forUpdate bool) (*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	source, err := scanSource(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query source: %w", err)
	}
	return source, nil
}

func updateSourceTx(ctx context.Context, tx *sql.Tx, source *models.Source) error {
	query := `
		UPDATE sources
		SET name = $2, base_url = $3, language = $4, country = $5,
		    content_type = $6, retention_days = $7, max_articles_per_run = $8,
		    crawl_delay_seconds = $9, target_sections = $10, legal_contact_email = $11,
		    compliance_flags = $12, legal_review_status = $13, risk_level = $14,
		    compliance_last_checked = $15, status = $16, success_rate = $17,
		    articles_collected_total = $18, error_count_last_30_days = $19,
		    last_successful_run = $20, next_scheduled_run = $21,
		    scraper_type = $22, health_status = $23, updated_at = $24
		WHERE id = $1
	`
	result, err := tx.ExecContext(ctx, query,
		source.ID,
		source.Name,
		source.BaseURL,
		source.Language,
		source.Country,
		source.ContentType,
		source.RetentionDays,
		source.MaxArticlesPerRun,
		source.CrawlDelaySeconds,
		source.TargetSections,
		source.LegalContactEmail,
		source.Flags,
		source.LegalReviewStatus,
		source.RiskLevel,
		source.ComplianceLastChecked,
		source.Status,
		source.SuccessRate,
		source.ArticlesCollectedTotal,
		source.ErrorCountLast30Days,
		source.LastSuccessfulRun,
		source.NextScheduledRun,
		source.ScraperType,
		source.HealthStatus,
		source.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSourceNotFound
	}
	return nil
}

func sourceArgs(s *models.Source) []any {
	return []any{
		s.ID,
		s.Name,
		s.BaseURL,
		s.Language,
		s.Country,
		s.ContentType,
		s.RetentionDays,
		s.MaxArticlesPerRun,
		s.CrawlDelaySeconds,
		s.TargetSections,
		s.LegalContactEmail,
		s.Flags,
		s.LegalReviewStatus,
		s.RiskLevel,
		s.ComplianceLastChecked,
		s.Status,
		s.SuccessRate,
		s.ArticlesCollectedTotal,
		s.ErrorCountLast30Days,
		s.LastSuccessfulRun,
		s.NextScheduledRun,
		s.ScraperType,
		s.HealthStatus,
		s.CreatedAt,
		s.UpdatedAt,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*models.Source, error) {
	var source models.Source
	err := row.Scan(
		&source.ID,
		&source.Name,
		&source.BaseURL,
		&source.Language,
		&source.Country,
		&source.ContentType,
		&source.RetentionDays,
		&source.MaxArticlesPerRun,
		&source.CrawlDelaySeconds,
		&source.TargetSections,
		&source.LegalContactEmail,
		&source.Flags,
		&source.LegalReviewStatus,
		&source.RiskLevel,
		&source.ComplianceLastChecked,
		&source.Status,
		&source.SuccessRate,
		&source.ArticlesCollectedTotal,
		&source.ErrorCountLast30Days,
		&source.LastSuccessfulRun,
		&source.NextScheduledRun,
		&source.ScraperType,
		&source.HealthStatus,
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func scanSourceRows(rows *sql.Rows) ([]models.Source, error) {
	sources := make([]models.Source, 0)
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, *source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

func buildListWhere(filter ListFilter) (whereClause string, args []any) {
	var clauses []string
	args = make([]any, 0)
	pos := 1

	if filter.Search != "" {
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR base_url ILIKE $%d)", pos, pos))
		args = append(args, "%"+filter.Search+"%")
		pos++
	}
	if filter.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", pos))
		args = append(args, filter.Status)
		pos++
	}
	if filter.Risk != "" {
		clauses = append(clauses, fmt.Sprintf("risk_level = $%d", pos))
		args = append(args, filter.Risk)
	}

	if len(clauses) == 0 {
		return "", args
	}
	whereClause = " AND " + strings.Join(clauses, " AND ")
	return whereClause, args
}

func buildListOrder(filter ListFilter) string {
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "name"
	}
	validSort := map[string]bool{
		"name": true, "base_url": true, "status": true,
		"risk_level": true, "created_at": true,
	}
	if !validSort[sortBy] {
		sortBy = "name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", sortBy, order)
}
