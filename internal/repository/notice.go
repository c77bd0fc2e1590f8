package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/models"
)

// ErrNoticeNotFound is returned when a legal notice id does not exist.
var ErrNoticeNotFound = errors.New("legal notice not found")

// NoticeRepository persists legal notices. Notices are compliance
// entities, so creation and status changes are audited the same way
// source mutations are.
type NoticeRepository struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

func NewNoticeRepository(db *sql.DB, log logger.Logger) *NoticeRepository {
	return &NoticeRepository{
		db:     db,
		logger: log,
		now:    time.Now,
	}
}

// Create inserts a notice and its audit entry in one transaction.
func (r *NoticeRepository) Create(ctx context.Context, notice *models.LegalNotice, actor string) (err error) {
	notice.ID = uuid.New().String()
	notice.CreatedAt = r.now()
	if notice.Status == "" {
		notice.Status = models.NoticeActive
	}
	if notice.EffectiveAt.IsZero() {
		notice.EffectiveAt = notice.CreatedAt
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer r.rollbackOnError(tx, &err)

	query := `
		INSERT INTO legal_notices (
			id, source_id, notice_type, body, issued_by,
			effective_at, expires_at, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.ExecContext(ctx, query,
		notice.ID,
		notice.SourceID,
		notice.Type,
		notice.Body,
		notice.IssuedBy,
		notice.EffectiveAt,
		notice.ExpiresAt,
		notice.Status,
		notice.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert legal notice: %w", err)
	}

	afterState, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal after state: %w", err)
	}
	err = insertAuditEntry(ctx, tx, &models.AuditLogEntry{
		TableName:  "legal_notices",
		RecordID:   notice.ID,
		Action:     models.AuditCreate,
		AfterState: afterState,
		LegalBasis: string(notice.Type),
		Actor:      actor,
		CreatedAt:  r.now(),
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

// UpdateStatus moves a notice to a new status with an audit entry
// capturing the before/after snapshots.
func (r *NoticeRepository) UpdateStatus(ctx context.Context, id string, status models.NoticeStatus, actor string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer r.rollbackOnError(tx, &err)

	notice, err := getNoticeTx(ctx, tx, id)
	if err != nil {
		return err
	}

	beforeState, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal before state: %w", err)
	}

	notice.Status = status
	result, err := tx.ExecContext(ctx,
		`UPDATE legal_notices SET status = $2 WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("update legal notice: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		err = ErrNoticeNotFound
		return err
	}

	afterState, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal after state: %w", err)
	}
	err = insertAuditEntry(ctx, tx, &models.AuditLogEntry{
		TableName:   "legal_notices",
		RecordID:    id,
		Action:      models.AuditUpdate,
		BeforeState: beforeState,
		AfterState:  afterState,
		LegalBasis:  string(notice.Type),
		Actor:       actor,
		CreatedAt:   r.now(),
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

// ListBySource returns notices for a source, newest first.
func (r *NoticeRepository) ListBySource(ctx context.Context, sourceID string) ([]models.LegalNotice, error) {
	query := `
		SELECT id, source_id, notice_type, body, issued_by,
		       effective_at, expires_at, status, created_at
		FROM legal_notices
		WHERE source_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query legal notices: %w", err)
	}
	defer rows.Close()

	notices := make([]models.LegalNotice, 0)
	for rows.Next() {
		var notice models.LegalNotice
		scanErr := rows.Scan(
			&notice.ID,
			&notice.SourceID,
			&notice.Type,
			&notice.Body,
			&notice.IssuedBy,
			&notice.EffectiveAt,
			&notice.ExpiresAt,
			&notice.Status,
			&notice.CreatedAt,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("scan legal notice: %w", scanErr)
		}
		notices = append(notices, notice)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate legal notices: %w", rowsErr)
	}
	return notices, nil
}

func (r *NoticeRepository) rollbackOnError(tx *sql.Tx, err *error) {
	if *err == nil {
		return
	}
	if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		r.logger.Error("failed to rollback transaction",
			logger.Error(rbErr),
		)
	}
}

func getNoticeTx(ctx context.Context, tx *sql.Tx, id string) (*models.LegalNotice, error) {
	query := `
		SELECT id, source_id, notice_type, body, issued_by,
		       effective_at, expires_at, status, created_at
		FROM legal_notices
		WHERE id = $1
		FOR UPDATE
	`
	var notice models.LegalNotice
	err := tx.QueryRowContext(ctx, query, id).Scan(
		&notice.ID,
		&notice.SourceID,
		&notice.Type,
		&notice.Body,
		&notice.IssuedBy,
		&notice.EffectiveAt,
		&notice.ExpiresAt,
		&notice.Status,
		&notice.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoticeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query legal notice: %w", err)
	}
	return &notice, nil
}
