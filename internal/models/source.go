package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// ContentType declares how much of each article a source is allowed to retain.
// Full-text storage is never a valid content type.
type ContentType string

const (
	ContentMetadataOnly ContentType = "metadata_only"
	ContentSummaryOnly  ContentType = "summary_only"
)

// SourceStatus is the lifecycle state of a monitored source.
type SourceStatus string

const (
	StatusActive      SourceStatus = "active"
	StatusInactive    SourceStatus = "inactive"
	StatusSuspended   SourceStatus = "suspended"
	StatusUnderReview SourceStatus = "under_review"
	StatusDeleted     SourceStatus = "deleted"
)

// ReviewStatus is the legal review state derived from compliance checks.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// RiskLevel classifies a source by compliance score and recent error rate.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Policy bounds for declared source configuration.
const (
	MinCrawlDelaySeconds = 1.0
	MinArticlesPerRun    = 1
	MaxArticlesPerRun    = 500
	MinRetentionDays     = 30
	MaxRetentionDays     = 2555
)

// ComplianceFlags is the fixed set of independent compliance checks.
// Their conjunction determines legal approval; stored as a JSONB column.
type ComplianceFlags struct {
	RobotsTxtCompliant      bool `json:"robots_txt_compliant"`
	LegalContactVerified    bool `json:"legal_contact_verified"`
	TermsAcceptable         bool `json:"terms_acceptable"`
	FairUseDocumented       bool `json:"fair_use_documented"`
	DataMinimizationApplied bool `json:"data_minimization_applied"`
}

// FlagCount is the number of compliance flags contributing to the score.
const FlagCount = 5

// Score returns the compliance score in [0,1]: true flags / FlagCount.
func (f ComplianceFlags) Score() float64 {
	count := 0
	for _, set := range []bool{
		f.RobotsTxtCompliant,
		f.LegalContactVerified,
		f.TermsAcceptable,
		f.FairUseDocumented,
		f.DataMinimizationApplied,
	} {
		if set {
			count++
		}
	}
	return float64(count) / FlagCount
}

// AllSet reports whether every compliance flag is true.
func (f ComplianceFlags) AllSet() bool {
	return f.Score() == 1.0
}

// Get returns the flag backing the given validation type, and whether
// the validation type maps to a flag at all.
func (f ComplianceFlags) Get(vt ValidationType) (value, ok bool) {
	switch vt {
	case ValidationRobotsTxt:
		return f.RobotsTxtCompliant, true
	case ValidationLegalContact:
		return f.LegalContactVerified, true
	case ValidationTermsOfService:
		return f.TermsAcceptable, true
	case ValidationFairUse:
		return f.FairUseDocumented, true
	case ValidationDataRetention:
		return f.DataMinimizationApplied, true
	default:
		return false, false
	}
}

// Set updates the flag backing the given validation type.
// Validation types without a backing flag (e.g. content_type) are a no-op.
func (f *ComplianceFlags) Set(vt ValidationType, value bool) {
	switch vt {
	case ValidationRobotsTxt:
		f.RobotsTxtCompliant = value
	case ValidationLegalContact:
		f.LegalContactVerified = value
	case ValidationTermsOfService:
		f.TermsAcceptable = value
	case ValidationFairUse:
		f.FairUseDocumented = value
	case ValidationDataRetention:
		f.DataMinimizationApplied = value
	}
}

// Value implements driver.Valuer for database storage.
func (f ComplianceFlags) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements sql.Scanner for database retrieval.
func (f *ComplianceFlags) Scan(value any) error {
	if value == nil {
		*f = ComplianceFlags{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("compliance flags: unsupported scan type %T", value)
	}
	return json.Unmarshal(bytes, f)
}

// StringArray is a custom type for JSON-encoded string arrays.
type StringArray []string

// Value implements driver.Valuer for database storage.
func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return json.Marshal([]string{})
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner for database retrieval.
func (a *StringArray) Scan(value any) error {
	if value == nil {
		*a = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("string array: unsupported scan type %T", value)
	}
	return json.Unmarshal(bytes, a)
}

// Source represents one monitored medical-news origin and its declared
// scraping policy, compliance posture, and run history.
type Source struct {
	ID       string `json:"id"                 db:"id"`
	Name     string `json:"name"               db:"name"     binding:"required"`
	BaseURL  string `json:"base_url"           db:"base_url" binding:"required"`
	Language string `json:"language,omitempty" db:"language"`
	Country  string `json:"country,omitempty"  db:"country"`

	// Declared policy.
	ContentType       ContentType `json:"content_type"         db:"content_type"`
	RetentionDays     int         `json:"retention_days"       db:"retention_days"`
	MaxArticlesPerRun int         `json:"max_articles_per_run" db:"max_articles_per_run"`
	CrawlDelaySeconds float64     `json:"crawl_delay_seconds"  db:"crawl_delay_seconds"`
	TargetSections    StringArray `json:"target_sections"      db:"target_sections"`
	LegalContactEmail string      `json:"legal_contact_email"  db:"legal_contact_email"`

	// Compliance state.
	Flags                 ComplianceFlags `json:"compliance_flags"        db:"compliance_flags"`
	LegalReviewStatus     ReviewStatus    `json:"legal_review_status"     db:"legal_review_status"`
	RiskLevel             RiskLevel       `json:"risk_level"              db:"risk_level"`
	ComplianceLastChecked *time.Time      `json:"compliance_last_checked" db:"compliance_last_checked"`

	// Lifecycle.
	Status SourceStatus `json:"status" db:"status"`

	// Performance counters maintained by the scheduler.
	SuccessRate            float64    `json:"success_rate"              db:"success_rate"`
	ArticlesCollectedTotal int64      `json:"articles_collected_total"  db:"articles_collected_total"`
	ErrorCountLast30Days   int        `json:"error_count_last_30_days"  db:"error_count_last_30_days"`
	LastSuccessfulRun      *time.Time `json:"last_successful_run"       db:"last_successful_run"`
	NextScheduledRun       *time.Time `json:"next_scheduled_run"        db:"next_scheduled_run"`

	// Automation metadata.
	ScraperType  string `json:"scraper_type"  db:"scraper_type"`
	HealthStatus string `json:"health_status" db:"health_status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Validation errors for declared policy bounds.
var (
	ErrNameRequired      = errors.New("name is required")
	ErrBaseURLRequired   = errors.New("base_url must start with http:// or https://")
	ErrInvalidContent    = errors.New("content_type must be metadata_only or summary_only")
	ErrCrawlDelayTooLow  = errors.New("crawl_delay_seconds must be at least 1.0")
	ErrArticleCapBounds  = errors.New("max_articles_per_run must be between 1 and 500")
	ErrRetentionBounds   = errors.New("retention_days must be between 30 and 2555")
	ErrInvalidLegalEmail = errors.New("legal_contact_email is not a valid address")
)

// Validate checks declared policy bounds. It does not evaluate
// compliance; that is the validator's job.
func (s *Source) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrNameRequired
	}
	if !strings.HasPrefix(s.BaseURL, "http://") && !strings.HasPrefix(s.BaseURL, "https://") {
		return ErrBaseURLRequired
	}
	if s.ContentType != ContentMetadataOnly && s.ContentType != ContentSummaryOnly {
		return ErrInvalidContent
	}
	if s.CrawlDelaySeconds < MinCrawlDelaySeconds {
		return ErrCrawlDelayTooLow
	}
	if s.MaxArticlesPerRun < MinArticlesPerRun || s.MaxArticlesPerRun > MaxArticlesPerRun {
		return ErrArticleCapBounds
	}
	if s.RetentionDays < MinRetentionDays || s.RetentionDays > MaxRetentionDays {
		return ErrRetentionBounds
	}
	if s.LegalContactEmail != "" {
		if _, err := mail.ParseAddress(s.LegalContactEmail); err != nil {
			return ErrInvalidLegalEmail
		}
	}
	return nil
}

// CrawlDelay returns the declared crawl delay as a duration.
func (s *Source) CrawlDelay() time.Duration {
	return time.Duration(s.CrawlDelaySeconds * float64(time.Second))
}

// ComplianceScore returns the current score in [0,1].
func (s *Source) ComplianceScore() float64 {
	return s.Flags.Score()
}

// Schedulable reports whether the source is eligible for the scheduling
// pool at all: only active, approved sources qualify.
func (s *Source) Schedulable() bool {
	return s.Status == StatusActive && s.LegalReviewStatus == ReviewApproved
}
