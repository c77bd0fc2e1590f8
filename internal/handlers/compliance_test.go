package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medwatch/compliance-manager/internal/compliance"
	"github.com/medwatch/compliance-manager/internal/handlers"
	"github.com/medwatch/compliance-manager/internal/models"
	"github.com/medwatch/compliance-manager/internal/repository"
	"github.com/medwatch/compliance-manager/internal/robots"
	"github.com/medwatch/compliance-manager/internal/testhelpers"
)

// allowAllChecker satisfies robots.Checker without any network access.
type allowAllChecker struct{}

func (allowAllChecker) Check(context.Context, string, []string) (*robots.Report, error) {
	return &robots.Report{Allowed: true, StatusCode: http.StatusOK}, nil
}

// reviewRow builds a source row with a chosen review status and flag set.
func reviewRow(id string, status models.SourceStatus, review models.ReviewStatus, flagsJSON string) *sqlmock.Rows {
	return sqlmock.NewRows(sourceColumnNames).AddRow(
		id, "Test Source", "https://example.com", "en", "US",
		"metadata_only", 90, 100, 2.0,
		[]byte(`[]`), "legal@example.com", []byte(flagsJSON),
		string(review), "critical", nil, string(status),
		0.0, int64(0), 0,
		nil, nil, "", "unknown",
		handlerTestTime, handlerTestTime,
	)
}

func newComplianceRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := testhelpers.NewTestLogger()
	sources := repository.NewSourceRepository(db, log).
		WithClock(func() time.Time { return handlerTestTime })
	validations := repository.NewValidationRepository(db)
	audit := repository.NewAuditRepository(db)
	notices := repository.NewNoticeRepository(db, log)
	automation := repository.NewAutomationLogRepository(db)

	validator := compliance.NewValidator(sources, validations, allowAllChecker{}, nil, log,
		compliance.WithClock(func() time.Time { return handlerTestTime }),
	)
	handler := handlers.NewComplianceHandler(validator, sources, validations, audit, notices, automation, log)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/sources/:id/validate", handler.Validate)
	router.GET("/sources/:id/validations", handler.ListValidations)
	router.POST("/sources/:id/approve", handler.Approve)
	router.POST("/sources/:id/reject", handler.Reject)
	router.POST("/sources/:id/suspend", handler.Suspend)
	router.POST("/sources/:id/activate", handler.Activate)
	router.GET("/sources/:id/audit", handler.AuditHistory)
	router.GET("/sources/:id/automation-log", handler.AutomationLog)
	router.POST("/sources/:id/notices", handler.CreateNotice)
	router.GET("/sources/:id/notices", handler.ListNotices)
	router.PATCH("/notices/:id/status", handler.UpdateNoticeStatus)
	return router, mock
}

func TestValidateRequiresActor(t *testing.T) {
	router, mock := newComplianceRouter(t)

	w := doJSON(router, http.MethodPost, "/sources/some-id/validate", "",
		map[string]any{"validation_type": "legal_contact"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateRequiresType(t *testing.T) {
	router, mock := newComplianceRouter(t)

	w := doJSON(router, http.MethodPost, "/sources/some-id/validate", "legal@medwatch",
		map[string]any{"notes": "no type given"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateUnknownType(t *testing.T) {
	router, mock := newComplianceRouter(t)

	w := doJSON(router, http.MethodPost, "/sources/some-id/validate", "legal@medwatch",
		map[string]any{"validation_type": "astrology"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown validation type")
	assert.NoError(t, mock.ExpectationsWereMet(), "unknown types are rejected before any lookup")
}

func TestValidateLegalContactPasses(t *testing.T) {
	router, mock := newComplianceRouter(t)
	const id = "c3a1e5b0-0000-0000-0000-000000000001"

	mock.ExpectQuery("(?s)SELECT .+ FROM sources WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sourceRow(id, models.StatusActive))

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .+ FROM sources WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(sourceRow(id, models.StatusActive))
	mock.ExpectExec("INSERT INTO compliance_validations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sources").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs("sources", id, "validate", sqlmock.AnyArg(), sqlmock.AnyArg(),
			"compliance validation: legal_contact", "legal@medwatch", handlerTestTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := doJSON(router, http.MethodPost, "/sources/"+id+"/validate", "legal@medwatch",
		map[string]any{"validation_type": "legal_contact"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var validation models.ComplianceValidation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &validation))
	assert.True(t, validation.Result)
	assert.Equal(t, models.ValidationLegalContact, validation.Type)
	require.NotNil(t, validation.ExpiresAt)
	assert.Equal(t, handlerTestTime.Add(compliance.DefaultCheckTTL), *validation.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveBlockedWithoutAllFlags(t *testing.T) {
	router, mock := newComplianceRouter(t)
	const id = "c3a1e5b0-0000-0000-0000-000000000002"

	mock.ExpectQuery("(?s)SELECT DISTINCT ON .+ FROM compliance_validations").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "source_id", "validation_type", "validation_result", "detail",
			"validated_by", "expires_at", "revalidation_required", "created_at",
		}))

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .+ FROM sources WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(reviewRow(id, models.StatusUnderReview, models.ReviewPending, `{}`))
	mock.ExpectRollback()

	w := doJSON(router, http.MethodPost, "/sources/"+id+"/approve", "counsel@medwatch", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "approval requires")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectApprovedSourceConflicts(t *testing.T) {
	router, mock := newComplianceRouter(t)
	const id = "c3a1e5b0-0000-0000-0000-000000000003"

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .+ FROM sources WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(reviewRow(id, models.StatusActive, models.ReviewApproved, `{}`))
	mock.ExpectRollback()

	w := doJSON(router, http.MethodPost, "/sources/"+id+"/reject", "counsel@medwatch",
		map[string]any{"reason": "terms forbid automated access"})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectRequiresReason(t *testing.T) {
	router, mock := newComplianceRouter(t)

	w := doJSON(router, http.MethodPost, "/sources/some-id/reject", "counsel@medwatch",
		map[string]any{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSuspendRecordsReason(t *testing.T) {
	router, mock := newComplianceRouter(t)
	const id = "c3a1e5b0-0000-0000-0000-000000000004"

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .+ FROM sources WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(sourceRow(id, models.StatusActive))
	mock.ExpectExec("UPDATE sources").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs("sources", id, "suspend", sqlmock.AnyArg(), sqlmock.AnyArg(),
			"compliance suspension: takedown notice received", "ops@medwatch", handlerTestTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := doJSON(router, http.MethodPost, "/sources/"+id+"/suspend", "ops@medwatch",
		map[string]any{"reason": "takedown notice received"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var source models.Source
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &source))
	assert.Equal(t, models.StatusSuspended, source.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateDeletedSourceIsGone(t *testing.T) {
	router, mock := newComplianceRouter(t)
	const id = "c3a1e5b0-0000-0000-0000-000000000005"

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .+ FROM sources WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(sourceRow(id, models.StatusDeleted))
	mock.ExpectRollback()

	w := doJSON(router, http.MethodPost, "/sources/"+id+"/activate", "ops@medwatch", nil)

	assert.Equal(t, http.StatusGone, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditHistoryReturnsEntries(t *testing.T) {
	router, mock := newComplianceRouter(t)
	const id = "c3a1e5b0-0000-0000-0000-000000000006"

	mock.ExpectQuery("(?s)SELECT .+ FROM audit_log\\s+WHERE table_name = \\$1 AND record_id = \\$2").
		WithArgs("sources", id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "table_name", "record_id", "action", "before_state", "after_state",
			"legal_basis", "actor", "created_at",
		}).AddRow(
			int64(1), "sources", id, "create",
			nil, []byte(`{"name":"Test Source"}`),
			"source registration", "admin@medwatch", handlerTestTime,
		).AddRow(
			int64(2), "sources", id, "update",
			[]byte(`{"name":"Test Source"}`), []byte(`{"name":"Renamed"}`),
			"source configuration update", "editor@medwatch", handlerTestTime.Add(time.Hour),
		))

	w := doJSON(router, http.MethodGet, "/sources/"+id+"/audit", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Entries []models.AuditLogEntry `json:"entries"`
		Count   int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, models.AuditCreate, resp.Entries[0].Action)
	assert.Equal(t, models.AuditUpdate, resp.Entries[1].Action)
}

func TestAutomationLogRejectsBadLimit(t *testing.T) {
	router, mock := newComplianceRouter(t)

	w := doJSON(router, http.MethodGet, "/sources/some-id/automation-log?limit=0", "", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNoticeAudited(t *testing.T) {
	router, mock := newComplianceRouter(t)
	const id = "c3a1e5b0-0000-0000-0000-000000000007"

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO legal_notices").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs("legal_notices", sqlmock.AnyArg(), "create", sqlmock.AnyArg(), sqlmock.AnyArg(),
			"takedown_notice", "counsel@medwatch", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := doJSON(router, http.MethodPost, "/sources/"+id+"/notices", "counsel@medwatch",
		map[string]any{
			"notice_type": "takedown_notice",
			"body":        "Remove articles 12-19 within 14 days.",
			"issued_by":   "publisher legal department",
		})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var notice models.LegalNotice
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &notice))
	assert.Equal(t, id, notice.SourceID)
	assert.Equal(t, models.NoticeActive, notice.Status)
	assert.NotEmpty(t, notice.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNoticeStatusNotFound(t *testing.T) {
	router, mock := newComplianceRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .+ FROM legal_notices\\s+WHERE id = \\$1\\s+FOR UPDATE").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "source_id", "notice_type", "body", "issued_by",
			"effective_at", "expires_at", "status", "created_at",
		}))
	mock.ExpectRollback()

	w := doJSON(router, http.MethodPatch, "/notices/missing/status", "counsel@medwatch",
		map[string]any{"status": "withdrawn"})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
