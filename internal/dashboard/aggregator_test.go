package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medwatch/compliance-manager/internal/models"
	"github.com/medwatch/compliance-manager/internal/repository"
	"github.com/medwatch/compliance-manager/internal/testhelpers"
)

type stubSources struct {
	source *models.Source
}

func (s *stubSources) GetByID(_ context.Context, id string) (*models.Source, error) {
	if s.source == nil || s.source.ID != id {
		return nil, repository.ErrSourceNotFound
	}
	return s.source, nil
}

type stubValidations struct {
	latest map[models.ValidationType]models.ComplianceValidation
}

func (s *stubValidations) LatestByType(_ context.Context, _ string) (map[models.ValidationType]models.ComplianceValidation, error) {
	return s.latest, nil
}

type stubRuns struct {
	entries []models.ScraperAutomationLogEntry
	limit   int
}

func (s *stubRuns) ListBySource(_ context.Context, _ string, limit int) ([]models.ScraperAutomationLogEntry, error) {
	s.limit = limit
	return s.entries, nil
}

func TestSummarySingleSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	lastChecked := time.Date(2026, 7, 20, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT COUNT\\(\\*\\),.+FROM sources\\s+WHERE status != 'deleted'").
		WillReturnRows(sqlmock.NewRows([]string{
			"total", "compliant", "pending", "active", "high_risk", "avg_success", "last_checked",
		}).AddRow(12, 4, 7, 6, 3, 0.74, lastChecked))
	mock.ExpectCommit()

	a := NewAggregator(db, &stubSources{}, &stubValidations{}, &stubRuns{}, testhelpers.NewTestLogger())
	summary, err := a.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, summary.Total)
	assert.Equal(t, 4, summary.Compliant)
	assert.Equal(t, 7, summary.PendingReview)
	assert.Equal(t, 6, summary.Active)
	assert.Equal(t, 3, summary.HighRisk)
	assert.InDelta(t, 0.74, summary.AvgSuccessRate, 0.0001)
	require.NotNil(t, summary.LastChecked)
	assert.Equal(t, lastChecked, *summary.LastChecked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaryEmptyRegistry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT COUNT\\(\\*\\),.+FROM sources").
		WillReturnRows(sqlmock.NewRows([]string{
			"total", "compliant", "pending", "active", "high_risk", "avg_success", "last_checked",
		}).AddRow(0, 0, 0, 0, 0, 0.0, nil))
	mock.ExpectCommit()

	a := NewAggregator(db, &stubSources{}, &stubValidations{}, &stubRuns{}, testhelpers.NewTestLogger())
	summary, err := a.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Total)
	assert.Zero(t, summary.AvgSuccessRate)
	assert.Nil(t, summary.LastChecked)
}

func TestSummaryQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT COUNT\\(\\*\\),.+FROM sources").
		WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	a := NewAggregator(db, &stubSources{}, &stubValidations{}, &stubRuns{}, testhelpers.NewTestLogger())
	_, err = a.Summary(context.Background())
	assert.Error(t, err)
}

func TestDetail(t *testing.T) {
	source := &models.Source{
		ID:    "src-1",
		Name:  "Test Source",
		Flags: models.ComplianceFlags{RobotsTxtCompliant: true, LegalContactVerified: true},
	}
	validations := &stubValidations{latest: map[models.ValidationType]models.ComplianceValidation{
		models.ValidationRobotsTxt: {Type: models.ValidationRobotsTxt, Result: true},
	}}
	runs := &stubRuns{entries: []models.ScraperAutomationLogEntry{{SourceID: "src-1", Result: models.RunSuccess}}}

	a := NewAggregator(nil, &stubSources{source: source}, validations, runs, testhelpers.NewTestLogger())
	detail, err := a.Detail(context.Background(), "src-1")
	require.NoError(t, err)

	assert.Same(t, source, detail.Source)
	assert.InDelta(t, 0.4, detail.ComplianceScore, 0.0001)
	assert.Len(t, detail.RecentRuns, 1)
	assert.Equal(t, 20, runs.limit)
	assert.Contains(t, detail.Validations, models.ValidationRobotsTxt)
}

func TestDetailUnknownSource(t *testing.T) {
	a := NewAggregator(nil, &stubSources{}, &stubValidations{}, &stubRuns{}, testhelpers.NewTestLogger())
	_, err := a.Detail(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrSourceNotFound)
}
