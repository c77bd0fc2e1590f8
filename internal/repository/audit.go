package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/medwatch/compliance-manager/internal/models"
)

// insertAuditEntry writes one audit row on the given transaction. It is
// only ever called from inside a mutating transaction so the audit
// entry and the mutation it records commit together. A failure here is
// an AuditWriteFailure: the caller must abort the whole transaction.
func insertAuditEntry(ctx context.Context, tx *sql.Tx, entry *models.AuditLogEntry) error {
	query := `
		INSERT INTO audit_log (
			table_name, record_id, action, before_state, after_state,
			legal_basis, actor, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	before := entry.BeforeState
	if len(before) == 0 {
		before = []byte("null")
	}
	after := entry.AfterState
	if len(after) == 0 {
		after = []byte("null")
	}

	_, err := tx.ExecContext(ctx, query,
		entry.TableName,
		entry.RecordID,
		entry.Action,
		before,
		after,
		entry.LegalBasis,
		entry.Actor,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit write: %w", err)
	}
	return nil
}

// AuditRepository reads the append-only audit trail. There are no
// update or delete methods; entries exist only through the mutation
// hook above.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// ListByRecord returns the full audit history for one record in
// append order.
func (r *AuditRepository) ListByRecord(ctx context.Context, tableName, recordID string) ([]models.AuditLogEntry, error) {
	query := `
		SELECT id, table_name, record_id, action, before_state, after_state,
		       legal_basis, actor, created_at
		FROM audit_log
		WHERE table_name = $1 AND record_id = $2
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, tableName, recordID)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]models.AuditLogEntry, 0)
	for rows.Next() {
		var entry models.AuditLogEntry
		scanErr := rows.Scan(
			&entry.ID,
			&entry.TableName,
			&entry.RecordID,
			&entry.Action,
			&entry.BeforeState,
			&entry.AfterState,
			&entry.LegalBasis,
			&entry.Actor,
			&entry.CreatedAt,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("scan audit entry: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate audit log: %w", rowsErr)
	}
	return entries, nil
}

// CountByRecord returns how many audit entries reference the record.
func (r *AuditRepository) CountByRecord(ctx context.Context, tableName, recordID string) (int, error) {
	query := `SELECT COUNT(*) FROM audit_log WHERE table_name = $1 AND record_id = $2`

	var count int
	if err := r.db.QueryRowContext(ctx, query, tableName, recordID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return count, nil
}
