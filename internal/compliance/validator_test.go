package compliance

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medwatch/compliance-manager/internal/models"
	"github.com/medwatch/compliance-manager/internal/repository"
	"github.com/medwatch/compliance-manager/internal/robots"
	"github.com/medwatch/compliance-manager/internal/testhelpers"
)

var testNow = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

type fakeSourceStore struct {
	source    *models.Source
	getErr    error
	mutations []repository.Mutation
}

func (f *fakeSourceStore) GetByID(_ context.Context, id string) (*models.Source, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.source == nil || f.source.ID != id {
		return nil, repository.ErrSourceNotFound
	}
	copied := *f.source
	return &copied, nil
}

func (f *fakeSourceStore) Mutate(
	_ context.Context,
	id string,
	m repository.Mutation,
	fn func(tx *sql.Tx, s *models.Source) error,
) (*models.Source, error) {
	if f.source == nil || f.source.ID != id {
		return nil, repository.ErrSourceNotFound
	}
	// Mirror the repository: fn failures roll the whole unit back.
	working := *f.source
	if err := fn(nil, &working); err != nil {
		return nil, err
	}
	*f.source = working
	f.mutations = append(f.mutations, m)
	copied := working
	return &copied, nil
}

type fakeValidationStore struct {
	inserted  []*models.ComplianceValidation
	expired   []models.ValidationType
	insertErr error
}

func (f *fakeValidationStore) InsertTx(_ context.Context, _ *sql.Tx, v *models.ComplianceValidation) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, v)
	return nil
}

func (f *fakeValidationStore) ExpiredBackingTypes(_ context.Context, _ string, _ time.Time) ([]models.ValidationType, error) {
	return f.expired, nil
}

type stubChecker struct {
	report *robots.Report
	err    error
}

func (s *stubChecker) Check(_ context.Context, _ string, _ []string) (*robots.Report, error) {
	return s.report, s.err
}

func testSource() *models.Source {
	return &models.Source{
		ID:                "src-1",
		Name:              "Test Medical News",
		BaseURL:           "https://example.com",
		ContentType:       models.ContentMetadataOnly,
		CrawlDelaySeconds: 2.0,
		MaxArticlesPerRun: 100,
		RetentionDays:     90,
		LegalContactEmail: "legal@example.com",
		Status:            models.StatusActive,
		LegalReviewStatus: models.ReviewPending,
		RiskLevel:         models.RiskCritical,
	}
}

func newTestValidator(sources *fakeSourceStore, validations *fakeValidationStore, checker robots.Checker) *Validator {
	return NewValidator(sources, validations, checker, nil, testhelpers.NewTestLogger(),
		WithClock(func() time.Time { return testNow }),
	)
}

func TestValidateRobotsPass(t *testing.T) {
	sources := &fakeSourceStore{source: testSource()}
	validations := &fakeValidationStore{}
	checker := &stubChecker{report: &robots.Report{Allowed: true, CrawlDelay: time.Second, StatusCode: 200}}

	v := newTestValidator(sources, validations, checker)
	validation, err := v.Validate(context.Background(), "src-1", models.ValidationRobotsTxt, Request{Actor: "admin"})
	require.NoError(t, err)

	assert.True(t, validation.Result)
	assert.False(t, validation.RevalidationRequired)
	require.NotNil(t, validation.ExpiresAt)
	assert.Equal(t, testNow.Add(DefaultCheckTTL), *validation.ExpiresAt)

	assert.True(t, sources.source.Flags.RobotsTxtCompliant)
	require.NotNil(t, sources.source.ComplianceLastChecked)
	assert.Equal(t, testNow, *sources.source.ComplianceLastChecked)
	assert.Equal(t, models.RiskCritical, sources.source.RiskLevel, "one of five flags is still critical")

	require.Len(t, validations.inserted, 1)
	require.Len(t, sources.mutations, 1)
	assert.Equal(t, models.AuditValidate, sources.mutations[0].Action)
	assert.Equal(t, "admin", sources.mutations[0].Actor)
}

func TestValidateRobotsDisallowedFails(t *testing.T) {
	sources := &fakeSourceStore{source: testSource()}
	validations := &fakeValidationStore{}
	checker := &stubChecker{report: &robots.Report{Allowed: false, DisallowedPath: "/news/", StatusCode: 200}}

	v := newTestValidator(sources, validations, checker)
	validation, err := v.Validate(context.Background(), "src-1", models.ValidationRobotsTxt, Request{Actor: "admin"})
	require.NoError(t, err)

	assert.False(t, validation.Result)
	assert.True(t, validation.RevalidationRequired)
	assert.Nil(t, validation.ExpiresAt)
	assert.Equal(t, "/news/", validation.Detail["disallowed_path"])
	assert.False(t, sources.source.Flags.RobotsTxtCompliant)
}

func TestValidateRobotsCrawlDelayConflictFails(t *testing.T) {
	sources := &fakeSourceStore{source: testSource()} // declared delay 2s
	validations := &fakeValidationStore{}
	checker := &stubChecker{report: &robots.Report{Allowed: true, CrawlDelay: 10 * time.Second, StatusCode: 200}}

	v := newTestValidator(sources, validations, checker)
	validation, err := v.Validate(context.Background(), "src-1", models.ValidationRobotsTxt, Request{Actor: "admin"})
	require.NoError(t, err)

	assert.False(t, validation.Result, "robots crawl-delay above the declared delay must fail")
	assert.Equal(t, 10.0, validation.Detail["robots_crawl_delay_s"])
}

func TestValidateRobotsFetchFailureFailsClosed(t *testing.T) {
	sources := &fakeSourceStore{source: testSource()}
	validations := &fakeValidationStore{}
	checker := &stubChecker{err: errors.New("dial tcp: i/o timeout")}

	v := newTestValidator(sources, validations, checker)
	validation, err := v.Validate(context.Background(), "src-1", models.ValidationRobotsTxt, Request{Actor: "admin"})
	require.NoError(t, err, "a fetch failure is a recorded failed validation, not a validator error")

	assert.False(t, validation.Result)
	assert.Equal(t, "fail-closed", validation.Detail["policy"])
	assert.Contains(t, validation.Detail["error"], "i/o timeout")
	require.Len(t, validations.inserted, 1, "the failed check must still be recorded")
}

func TestValidateFailureRevertsApproval(t *testing.T) {
	source := testSource()
	source.Flags = models.ComplianceFlags{
		RobotsTxtCompliant:      true,
		LegalContactVerified:    true,
		TermsAcceptable:         true,
		FairUseDocumented:       true,
		DataMinimizationApplied: true,
	}
	source.LegalReviewStatus = models.ReviewApproved
	sources := &fakeSourceStore{source: source}
	validations := &fakeValidationStore{}
	checker := &stubChecker{report: &robots.Report{Allowed: false, DisallowedPath: "/", StatusCode: 200}}

	v := newTestValidator(sources, validations, checker)
	_, err := v.Validate(context.Background(), "src-1", models.ValidationRobotsTxt, Request{Actor: "admin"})
	require.NoError(t, err)

	assert.False(t, sources.source.Flags.RobotsTxtCompliant)
	assert.Equal(t, models.ReviewPending, sources.source.LegalReviewStatus,
		"a cleared flag must force an approved source back to pending")
	assert.Equal(t, models.RiskMedium, sources.source.RiskLevel)
}

func TestValidateLegalContact(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  bool
	}{
		{name: "valid address", email: "legal@example.com", want: true},
		{name: "missing address", email: "", want: false},
		{name: "malformed address", email: "not valid", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := testSource()
			source.LegalContactEmail = tt.email
			sources := &fakeSourceStore{source: source}
			validations := &fakeValidationStore{}

			v := newTestValidator(sources, validations, &stubChecker{})
			validation, err := v.Validate(context.Background(), "src-1", models.ValidationLegalContact, Request{Actor: "admin"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, validation.Result)
		})
	}
}

func TestValidateAttestationTypes(t *testing.T) {
	sources := &fakeSourceStore{source: testSource()}
	validations := &fakeValidationStore{}

	v := newTestValidator(sources, validations, &stubChecker{})

	validation, err := v.Validate(context.Background(), "src-1", models.ValidationTermsOfService,
		Request{Actor: "counsel", Attested: true, Notes: "ToS reviewed 2026-06"})
	require.NoError(t, err)
	assert.True(t, validation.Result)
	require.NotNil(t, validation.ExpiresAt)
	assert.Equal(t, testNow.Add(DefaultAttestationTTL), *validation.ExpiresAt,
		"attestations carry the longer validity window")

	validation, err = v.Validate(context.Background(), "src-1", models.ValidationFairUse,
		Request{Actor: "counsel", Attested: false})
	require.NoError(t, err)
	assert.False(t, validation.Result)
	assert.False(t, sources.source.Flags.FairUseDocumented)
}

func TestRepeatedPassingValidationKeepsFlag(t *testing.T) {
	sources := &fakeSourceStore{source: testSource()}
	validations := &fakeValidationStore{}

	v := newTestValidator(sources, validations, &stubChecker{})
	for range 2 {
		validation, err := v.Validate(context.Background(), "src-1", models.ValidationLegalContact, Request{Actor: "admin"})
		require.NoError(t, err)
		assert.True(t, validation.Result)
	}

	assert.Len(t, validations.inserted, 2, "each run produces its own record")
	assert.True(t, sources.source.Flags.LegalContactVerified, "a repeated pass leaves the flag true")
}

func TestSuspensionRoundTripPreservesFlags(t *testing.T) {
	source := testSource()
	source.Flags = models.ComplianceFlags{
		RobotsTxtCompliant:      true,
		LegalContactVerified:    true,
		TermsAcceptable:         true,
		FairUseDocumented:       true,
		DataMinimizationApplied: true,
	}
	source.LegalReviewStatus = models.ReviewApproved
	sources := &fakeSourceStore{source: source}
	validations := &fakeValidationStore{}
	v := newTestValidator(sources, validations, &stubChecker{})

	// Lifecycle transitions move status only; flags survive the round trip.
	sources.source.Status = models.StatusSuspended
	sources.source.Status = models.StatusActive
	assert.True(t, sources.source.Flags.AllSet())
	assert.Equal(t, models.ReviewApproved, sources.source.LegalReviewStatus)

	// With an expiry during the suspension the flags reflect it on return.
	sources.source.Status = models.StatusSuspended
	_, err := v.ExpireValidations(context.Background(), "src-1",
		[]models.ValidationType{models.ValidationFairUse})
	require.NoError(t, err)
	sources.source.Status = models.StatusActive

	assert.False(t, sources.source.Flags.FairUseDocumented)
	assert.Equal(t, models.ReviewPending, sources.source.LegalReviewStatus)
}

func TestValidateUnknownType(t *testing.T) {
	v := newTestValidator(&fakeSourceStore{source: testSource()}, &fakeValidationStore{}, &stubChecker{})

	_, err := v.Validate(context.Background(), "src-1", "dns_check", Request{Actor: "admin"})
	assert.ErrorIs(t, err, ErrUnknownValidationType)
}

func TestValidateDeletedSource(t *testing.T) {
	source := testSource()
	source.Status = models.StatusDeleted
	v := newTestValidator(&fakeSourceStore{source: source}, &fakeValidationStore{}, &stubChecker{})

	_, err := v.Validate(context.Background(), "src-1", models.ValidationContentType, Request{Actor: "admin"})
	assert.ErrorIs(t, err, repository.ErrSourceDeleted)
}

func TestApproveRequiresAllFlags(t *testing.T) {
	source := testSource()
	source.Flags = models.ComplianceFlags{RobotsTxtCompliant: true}
	sources := &fakeSourceStore{source: source}

	v := newTestValidator(sources, &fakeValidationStore{}, &stubChecker{})
	_, err := v.Approve(context.Background(), "src-1", "counsel")

	assert.ErrorIs(t, err, ErrApprovalBlocked)
	assert.Equal(t, models.ReviewPending, sources.source.LegalReviewStatus)
}

func TestApproveBlockedByExpiredValidation(t *testing.T) {
	source := testSource()
	source.Flags = models.ComplianceFlags{
		RobotsTxtCompliant:      true,
		LegalContactVerified:    true,
		TermsAcceptable:         true,
		FairUseDocumented:       true,
		DataMinimizationApplied: true,
	}
	sources := &fakeSourceStore{source: source}
	validations := &fakeValidationStore{expired: []models.ValidationType{models.ValidationRobotsTxt}}

	v := newTestValidator(sources, validations, &stubChecker{})
	_, err := v.Approve(context.Background(), "src-1", "counsel")

	assert.ErrorIs(t, err, ErrApprovalBlocked)
}

func TestApproveSucceeds(t *testing.T) {
	source := testSource()
	source.Flags = models.ComplianceFlags{
		RobotsTxtCompliant:      true,
		LegalContactVerified:    true,
		TermsAcceptable:         true,
		FairUseDocumented:       true,
		DataMinimizationApplied: true,
	}
	sources := &fakeSourceStore{source: source}

	v := newTestValidator(sources, &fakeValidationStore{}, &stubChecker{})
	approved, err := v.Approve(context.Background(), "src-1", "counsel")
	require.NoError(t, err)

	assert.Equal(t, models.ReviewApproved, approved.LegalReviewStatus)
	assert.Equal(t, models.RiskLow, approved.RiskLevel)
}

func TestRejectFromPending(t *testing.T) {
	sources := &fakeSourceStore{source: testSource()}

	v := newTestValidator(sources, &fakeValidationStore{}, &stubChecker{})
	rejected, err := v.Reject(context.Background(), "src-1", "counsel", "terms prohibit automated access")
	require.NoError(t, err)

	assert.Equal(t, models.ReviewRejected, rejected.LegalReviewStatus)
	require.Len(t, sources.mutations, 1)
	assert.Contains(t, sources.mutations[0].LegalBasis, "terms prohibit automated access")
}

func TestRejectApprovedSourceBlocked(t *testing.T) {
	source := testSource()
	source.LegalReviewStatus = models.ReviewApproved
	sources := &fakeSourceStore{source: source}

	v := newTestValidator(sources, &fakeValidationStore{}, &stubChecker{})
	_, err := v.Reject(context.Background(), "src-1", "counsel", "reason")

	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestExpireValidations(t *testing.T) {
	source := testSource()
	source.Flags = models.ComplianceFlags{
		RobotsTxtCompliant:      true,
		LegalContactVerified:    true,
		TermsAcceptable:         true,
		FairUseDocumented:       true,
		DataMinimizationApplied: true,
	}
	source.LegalReviewStatus = models.ReviewApproved
	sources := &fakeSourceStore{source: source}
	validations := &fakeValidationStore{}

	v := newTestValidator(sources, validations, &stubChecker{})
	updated, err := v.ExpireValidations(context.Background(), "src-1",
		[]models.ValidationType{models.ValidationRobotsTxt, models.ValidationTermsOfService})
	require.NoError(t, err)

	assert.False(t, updated.Flags.RobotsTxtCompliant)
	assert.False(t, updated.Flags.TermsAcceptable)
	assert.Equal(t, models.ReviewPending, updated.LegalReviewStatus)

	require.Len(t, validations.inserted, 2)
	for _, record := range validations.inserted {
		assert.False(t, record.Result)
		assert.True(t, record.RevalidationRequired)
		assert.Equal(t, "system", record.ValidatedBy)
		assert.Equal(t, "validation expired without renewal", record.Detail["reason"])
	}
	require.Len(t, sources.mutations, 1)
	assert.Equal(t, "system", sources.mutations[0].Actor)
}

func TestExpireValidationsNoTypesIsNoOp(t *testing.T) {
	sources := &fakeSourceStore{source: testSource()}
	v := newTestValidator(sources, &fakeValidationStore{}, &stubChecker{})

	updated, err := v.ExpireValidations(context.Background(), "src-1", nil)
	require.NoError(t, err)
	assert.Nil(t, updated)
	assert.Empty(t, sources.mutations)
}

func TestValidateInsertFailureAbortsMutation(t *testing.T) {
	sources := &fakeSourceStore{source: testSource()}
	validations := &fakeValidationStore{insertErr: errors.New("insert failed")}

	v := newTestValidator(sources, validations, &stubChecker{})
	_, err := v.Validate(context.Background(), "src-1", models.ValidationContentType, Request{Actor: "admin"})

	assert.Error(t, err)
	assert.Nil(t, sources.source.ComplianceLastChecked, "a failed record insert must not update the source")
}
