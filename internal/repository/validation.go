package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medwatch/compliance-manager/internal/models"
)

// ValidationRepository persists compliance validation records. Records
// are immutable: a re-check inserts a new row.
type ValidationRepository struct {
	db *sql.DB
}

func NewValidationRepository(db *sql.DB) *ValidationRepository {
	return &ValidationRepository{db: db}
}

// InsertTx writes a validation record on an existing transaction so it
// commits atomically with the flag update and audit entry.
func (r *ValidationRepository) InsertTx(ctx context.Context, tx *sql.Tx, v *models.ComplianceValidation) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO compliance_validations (
			id, source_id, validation_type, validation_result, detail,
			validated_by, expires_at, revalidation_required, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.ExecContext(ctx, query,
		v.ID,
		v.SourceID,
		v.Type,
		v.Result,
		v.Detail,
		v.ValidatedBy,
		v.ExpiresAt,
		v.RevalidationRequired,
		v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert validation: %w", err)
	}
	return nil
}

// ListBySource returns all validation records for a source, newest first.
func (r *ValidationRepository) ListBySource(ctx context.Context, sourceID string) ([]models.ComplianceValidation, error) {
	query := `
		SELECT id, source_id, validation_type, validation_result, detail,
		       validated_by, expires_at, revalidation_required, created_at
		FROM compliance_validations
		WHERE source_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query validations: %w", err)
	}
	defer rows.Close()

	return scanValidationRows(rows)
}

// LatestByType returns the most recent validation of each type for a
// source. These are the records backing the source's current flags.
func (r *ValidationRepository) LatestByType(ctx context.Context, sourceID string) (map[models.ValidationType]models.ComplianceValidation, error) {
	query := `
		SELECT DISTINCT ON (validation_type)
		       id, source_id, validation_type, validation_result, detail,
		       validated_by, expires_at, revalidation_required, created_at
		FROM compliance_validations
		WHERE source_id = $1
		ORDER BY validation_type, created_at DESC, id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query latest validations: %w", err)
	}
	defer rows.Close()

	validations, err := scanValidationRows(rows)
	if err != nil {
		return nil, err
	}

	latest := make(map[models.ValidationType]models.ComplianceValidation, len(validations))
	for _, v := range validations {
		latest[v.Type] = v
	}
	return latest, nil
}

// ExpiredBackingTypes returns the validation types whose latest passing
// record has expired as of now. Flags backed by these records can no
// longer support approval and must be cleared.
func (r *ValidationRepository) ExpiredBackingTypes(ctx context.Context, sourceID string, now time.Time) ([]models.ValidationType, error) {
	latest, err := r.LatestByType(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	var expired []models.ValidationType
	for vt, v := range latest {
		if v.Result && v.Expired(now) {
			expired = append(expired, vt)
		}
	}
	return expired, nil
}

func scanValidationRows(rows *sql.Rows) ([]models.ComplianceValidation, error) {
	validations := make([]models.ComplianceValidation, 0)
	for rows.Next() {
		var v models.ComplianceValidation
		scanErr := rows.Scan(
			&v.ID,
			&v.SourceID,
			&v.Type,
			&v.Result,
			&v.Detail,
			&v.ValidatedBy,
			&v.ExpiresAt,
			&v.RevalidationRequired,
			&v.CreatedAt,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("scan validation: %w", scanErr)
		}
		validations = append(validations, v)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate validations: %w", rowsErr)
	}
	return validations, nil
}
