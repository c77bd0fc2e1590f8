package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medwatch/compliance-manager/internal/models"
)

func newMockAuditRepo(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAuditRepository(db), mock
}

var auditColumnNames = []string{
	"id", "table_name", "record_id", "action", "before_state", "after_state",
	"legal_basis", "actor", "created_at",
}

func TestListByRecordScansSequentialIDs(t *testing.T) {
	repo, mock := newMockAuditRepo(t)

	rows := sqlmock.NewRows(auditColumnNames).
		AddRow(int64(1), "sources", "src-1", "create", []byte("null"), []byte(`{"status":"under_review"}`),
			"source registration", "admin@medwatch", testTime).
		AddRow(int64(2), "sources", "src-1", "update", []byte(`{"status":"under_review"}`), []byte(`{"status":"active"}`),
			"source activation", "admin@medwatch", testTime.Add(time.Hour))
	mock.ExpectQuery(`(?s)SELECT id, table_name, .+ FROM audit_log.+ORDER BY created_at ASC, id ASC`).
		WithArgs("sources", "src-1").
		WillReturnRows(rows)

	entries, err := repo.ListByRecord(context.Background(), "sources", "src-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, int64(2), entries[1].ID)
	assert.Equal(t, models.AuditCreate, entries[0].Action)
	assert.Equal(t, models.AuditUpdate, entries[1].Action)
	assert.JSONEq(t, `{"status":"active"}`, string(entries[1].AfterState))
	assert.True(t, entries[0].CreatedAt.Before(entries[1].CreatedAt), "history is append-ordered")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByRecordEmptyHistory(t *testing.T) {
	repo, mock := newMockAuditRepo(t)

	mock.ExpectQuery(`(?s)SELECT id, table_name, .+ FROM audit_log`).
		WithArgs("sources", "src-404").
		WillReturnRows(sqlmock.NewRows(auditColumnNames))

	entries, err := repo.ListByRecord(context.Background(), "sources", "src-404")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestCountByRecord(t *testing.T) {
	repo, mock := newMockAuditRepo(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_log`).
		WithArgs("sources", "src-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.CountByRecord(context.Background(), "sources", "src-1")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}
