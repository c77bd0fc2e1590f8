// Package compliance runs discrete compliance checks against monitored
// sources and maintains their aggregate flags, review status, and risk
// level. All state changes go through the audited repository path.
package compliance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/medwatch/compliance-manager/internal/events"
	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/models"
	"github.com/medwatch/compliance-manager/internal/repository"
	"github.com/medwatch/compliance-manager/internal/robots"
)

// Validation errors surfaced to the administrative interface.
var (
	ErrUnknownValidationType = errors.New("unknown validation type")
	ErrApprovalBlocked       = errors.New("approval requires all compliance flags true and no expired validation")
)

// Default validity windows for check results. Automated probes go
// stale faster than reviewed attestations.
const (
	DefaultCheckTTL       = 90 * 24 * time.Hour
	DefaultAttestationTTL = 365 * 24 * time.Hour
)

// Request carries the administrative context of a validation call.
type Request struct {
	Actor string `json:"actor"`
	// Attested applies to manual review types (terms_of_service,
	// fair_use): the validator records the attestation, it does not
	// judge legal sufficiency.
	Attested bool   `json:"attested"`
	Notes    string `json:"notes,omitempty"`
}

// SourceStore is the subset of the source repository the validator
// mutates through.
type SourceStore interface {
	GetByID(ctx context.Context, id string) (*models.Source, error)
	Mutate(ctx context.Context, id string, m repository.Mutation, fn func(tx *sql.Tx, s *models.Source) error) (*models.Source, error)
}

// ValidationStore records check results inside the mutating transaction.
type ValidationStore interface {
	InsertTx(ctx context.Context, tx *sql.Tx, v *models.ComplianceValidation) error
	ExpiredBackingTypes(ctx context.Context, sourceID string, now time.Time) ([]models.ValidationType, error)
}

// Validator executes compliance checks and persists their outcomes.
type Validator struct {
	sources        SourceStore
	validations    ValidationStore
	robots         robots.Checker
	publisher      *events.Publisher
	logger         logger.Logger
	now            func() time.Time
	checkTTL       time.Duration
	attestationTTL time.Duration
	errorThreshold int
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the validator clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithTTLs overrides the validity windows for automated checks and
// attestations.
func WithTTLs(check, attestation time.Duration) Option {
	return func(v *Validator) {
		v.checkTTL = check
		v.attestationTTL = attestation
	}
}

// WithErrorThreshold overrides the trailing-30-day error budget used
// for risk scoring.
func WithErrorThreshold(n int) Option {
	return func(v *Validator) { v.errorThreshold = n }
}

func NewValidator(
	sources SourceStore,
	validations ValidationStore,
	robotsChecker robots.Checker,
	publisher *events.Publisher,
	log logger.Logger,
	opts ...Option,
) *Validator {
	v := &Validator{
		sources:        sources,
		validations:    validations,
		robots:         robotsChecker,
		publisher:      publisher,
		logger:         log,
		now:            time.Now,
		checkTTL:       DefaultCheckTTL,
		attestationTTL: DefaultAttestationTTL,
		errorThreshold: models.DefaultErrorThreshold,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate executes one compliance check against the source, records
// the result, and updates the source's aggregate state (validation
// record, flag, compliance_last_checked, risk level, and the
// approved-to-pending reversion on a cleared flag) in one audited
// transaction. Network failures during a robots fetch are recorded as
// failed validations with the fetch error in the detail payload,
// never skipped and never treated as a pass.
func (v *Validator) Validate(
	ctx context.Context,
	sourceID string,
	vt models.ValidationType,
	req Request,
) (*models.ComplianceValidation, error) {
	if !models.KnownValidationType(vt) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownValidationType, vt)
	}

	source, err := v.sources.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source.Status == models.StatusDeleted {
		return nil, repository.ErrSourceDeleted
	}

	result, detail := v.runCheck(ctx, source, vt, req)

	validation := &models.ComplianceValidation{
		SourceID:             sourceID,
		Type:                 vt,
		Result:               result,
		Detail:               detail,
		ValidatedBy:          req.Actor,
		RevalidationRequired: !result,
		CreatedAt:            v.now(),
	}
	if result {
		expiry := v.now().Add(v.checkTTL)
		if models.AttestedValidationType(vt) {
			expiry = v.now().Add(v.attestationTTL)
		}
		validation.ExpiresAt = &expiry
	}

	var violation bool
	_, err = v.sources.Mutate(ctx, sourceID,
		repository.Mutation{
			Action:     models.AuditValidate,
			Actor:      req.Actor,
			LegalBasis: fmt.Sprintf("compliance validation: %s", vt),
		},
		func(tx *sql.Tx, s *models.Source) error {
			if insertErr := v.validations.InsertTx(ctx, tx, validation); insertErr != nil {
				return insertErr
			}
			violation = applyValidationResult(s, vt, result, v.now(), v.errorThreshold)
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	if !result {
		v.logger.Warn("compliance validation failed",
			logger.String("source_id", sourceID),
			logger.String("validation_type", string(vt)),
			logger.Any("detail", detail),
		)
	}
	if violation {
		v.publisher.PublishAsync(events.SourceEvent{
			EventType: events.EventComplianceViolation,
			SourceID:  sourceID,
			Payload: map[string]any{
				"validation_type": string(vt),
				"detail":          map[string]any(detail),
			},
		})
	}

	return validation, nil
}

// applyValidationResult updates a source's aggregate compliance state
// from one check outcome. Returns true when the check cleared a
// previously true flag or forced an approved source back to pending,
// a ComplianceViolation requiring admin attention.
func applyValidationResult(
	s *models.Source,
	vt models.ValidationType,
	result bool,
	now time.Time,
	errorThreshold int,
) bool {
	wasSet, hasFlag := s.Flags.Get(vt)
	if hasFlag {
		s.Flags.Set(vt, result)
	}
	s.ComplianceLastChecked = &now
	s.RecomputeRisk(errorThreshold)

	if result {
		return false
	}

	violation := hasFlag && wasSet
	if s.LegalReviewStatus == models.ReviewApproved {
		// A failed check always reopens review, flag-backed or not.
		s.LegalReviewStatus = models.ReviewPending
		violation = true
	}
	return violation
}

// runCheck evaluates one validation type. Robots checks hit the
// network; everything else derives from declared policy or the
// administrative attestation.
func (v *Validator) runCheck(
	ctx context.Context,
	source *models.Source,
	vt models.ValidationType,
	req Request,
) (bool, models.JSONMap) {
	switch vt {
	case models.ValidationRobotsTxt:
		return v.checkRobots(ctx, source)
	case models.ValidationLegalContact:
		return checkLegalContact(source)
	case models.ValidationTermsOfService, models.ValidationFairUse:
		return req.Attested, models.JSONMap{
			"attested": req.Attested,
			"notes":    req.Notes,
		}
	case models.ValidationDataRetention:
		return checkDataRetention(source)
	case models.ValidationContentType:
		ok := source.ContentType == models.ContentMetadataOnly ||
			source.ContentType == models.ContentSummaryOnly
		return ok, models.JSONMap{"content_type": string(source.ContentType)}
	default:
		return false, models.JSONMap{"error": "unknown validation type"}
	}
}

// checkRobots fetches the source's robots directives. Pass requires
// every target section allowed and any crawl-delay directive at or
// under the source's declared crawl delay. Fetch failures fail closed.
func (v *Validator) checkRobots(ctx context.Context, source *models.Source) (bool, models.JSONMap) {
	report, err := v.robots.Check(ctx, source.BaseURL, source.TargetSections)
	if err != nil {
		return false, models.JSONMap{
			"error":  fmt.Sprintf("fetch failure: %v", err),
			"policy": "fail-closed",
		}
	}

	detail := models.JSONMap{
		"status_code":          report.StatusCode,
		"allow_all":            report.AllowAll,
		"robots_crawl_delay_s": report.CrawlDelay.Seconds(),
		"source_crawl_delay_s": source.CrawlDelaySeconds,
		"checked_sections":     []string(source.TargetSections),
	}
	if !report.Allowed {
		detail["disallowed_path"] = report.DisallowedPath
		return false, detail
	}
	if report.CrawlDelay > source.CrawlDelay() {
		detail["error"] = "robots crawl-delay exceeds configured crawl delay"
		return false, detail
	}
	return true, detail
}

func checkLegalContact(source *models.Source) (bool, models.JSONMap) {
	if source.LegalContactEmail == "" {
		return false, models.JSONMap{"error": "no legal contact email declared"}
	}
	if _, err := mail.ParseAddress(source.LegalContactEmail); err != nil {
		return false, models.JSONMap{
			"error": "legal contact email is not a valid address",
			"email": source.LegalContactEmail,
		}
	}
	return true, models.JSONMap{"email": source.LegalContactEmail}
}

func checkDataRetention(source *models.Source) (bool, models.JSONMap) {
	detail := models.JSONMap{
		"retention_days": source.RetentionDays,
		"content_type":   string(source.ContentType),
	}
	if source.RetentionDays < models.MinRetentionDays || source.RetentionDays > models.MaxRetentionDays {
		detail["error"] = "retention_days outside policy bounds"
		return false, detail
	}
	if source.ContentType != models.ContentMetadataOnly && source.ContentType != models.ContentSummaryOnly {
		// Full-text storage is never compliant.
		detail["error"] = "content_type must be metadata_only or summary_only"
		return false, detail
	}
	return true, detail
}

// Approve moves a pending source to approved. Approval requires all
// five flags true and no expired validation backing them.
func (v *Validator) Approve(ctx context.Context, sourceID, actor string) (*models.Source, error) {
	expired, err := v.validations.ExpiredBackingTypes(ctx, sourceID, v.now())
	if err != nil {
		return nil, err
	}

	return v.sources.Mutate(ctx, sourceID,
		repository.Mutation{
			Action:     models.AuditActivate,
			Actor:      actor,
			LegalBasis: "legal review approval",
		},
		func(_ *sql.Tx, s *models.Source) error {
			if transitionErr := models.ValidateReviewTransition(s.LegalReviewStatus, models.ReviewApproved); transitionErr != nil {
				return transitionErr
			}
			if !s.Flags.AllSet() || len(expired) > 0 {
				return ErrApprovalBlocked
			}
			s.LegalReviewStatus = models.ReviewApproved
			s.RecomputeRisk(v.errorThreshold)
			return nil
		},
	)
}

// Reject records an explicit administrative rejection.
func (v *Validator) Reject(ctx context.Context, sourceID, actor, reason string) (*models.Source, error) {
	return v.sources.Mutate(ctx, sourceID,
		repository.Mutation{
			Action:     models.AuditUpdate,
			Actor:      actor,
			LegalBasis: fmt.Sprintf("legal review rejection: %s", reason),
		},
		func(_ *sql.Tx, s *models.Source) error {
			if transitionErr := models.ValidateReviewTransition(s.LegalReviewStatus, models.ReviewRejected); transitionErr != nil {
				return transitionErr
			}
			s.LegalReviewStatus = models.ReviewRejected
			return nil
		},
	)
}

// ExpireValidations clears the flags backed by expired validations,
// recording a failed validation row per type and reverting approval to
// pending, in one audited transaction. Called lazily at admission time
// and eagerly by the background sweep; both converge here.
func (v *Validator) ExpireValidations(
	ctx context.Context,
	sourceID string,
	types []models.ValidationType,
) (*models.Source, error) {
	if len(types) == 0 {
		return nil, nil
	}

	var violation bool
	source, err := v.sources.Mutate(ctx, sourceID,
		repository.Mutation{
			Action:     models.AuditValidate,
			Actor:      "system",
			LegalBasis: "compliance validation expiry",
		},
		func(tx *sql.Tx, s *models.Source) error {
			now := v.now()
			for _, vt := range types {
				record := &models.ComplianceValidation{
					SourceID:             sourceID,
					Type:                 vt,
					Result:               false,
					Detail:               models.JSONMap{"reason": "validation expired without renewal"},
					ValidatedBy:          "system",
					RevalidationRequired: true,
					CreatedAt:            now,
				}
				if insertErr := v.validations.InsertTx(ctx, tx, record); insertErr != nil {
					return insertErr
				}
				if applyValidationResult(s, vt, false, now, v.errorThreshold) {
					violation = true
				}
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	if violation {
		v.publisher.PublishAsync(events.SourceEvent{
			EventType: events.EventComplianceViolation,
			SourceID:  sourceID,
			Payload:   map[string]any{"reason": "validation expired", "types": typeStrings(types)},
		})
	}
	return source, nil
}

// ExpiredBackingTypes exposes the validation store's expiry probe for
// the scheduler's admission check.
func (v *Validator) ExpiredBackingTypes(ctx context.Context, sourceID string) ([]models.ValidationType, error) {
	return v.validations.ExpiredBackingTypes(ctx, sourceID, v.now())
}

func typeStrings(types []models.ValidationType) []string {
	out := make([]string, len(types))
	for i, vt := range types {
		out[i] = string(vt)
	}
	return out
}
