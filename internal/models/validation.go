package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ValidationType identifies one discrete compliance check.
type ValidationType string

const (
	ValidationRobotsTxt      ValidationType = "robots_txt"
	ValidationLegalContact   ValidationType = "legal_contact"
	ValidationTermsOfService ValidationType = "terms_of_service"
	ValidationFairUse        ValidationType = "fair_use"
	ValidationDataRetention  ValidationType = "data_retention"
	ValidationContentType    ValidationType = "content_type"
)

// KnownValidationType reports whether vt is a recognized check.
func KnownValidationType(vt ValidationType) bool {
	switch vt {
	case ValidationRobotsTxt, ValidationLegalContact, ValidationTermsOfService,
		ValidationFairUse, ValidationDataRetention, ValidationContentType:
		return true
	}
	return false
}

// AttestedValidationType reports whether the check records a manual
// administrative attestation rather than an automated probe.
func AttestedValidationType(vt ValidationType) bool {
	return vt == ValidationTermsOfService || vt == ValidationFairUse
}

// JSONMap is a JSONB column holding a structured detail payload.
type JSONMap map[string]any

// Value implements driver.Valuer for database storage.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(map[string]any{})
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("json map: unsupported scan type %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// ComplianceValidation is the immutable record of one executed check.
// A re-check produces a new record; prior records are never mutated.
type ComplianceValidation struct {
	ID                   string         `json:"id"                    db:"id"`
	SourceID             string         `json:"source_id"             db:"source_id"`
	Type                 ValidationType `json:"validation_type"       db:"validation_type"`
	Result               bool           `json:"validation_result"     db:"validation_result"`
	Detail               JSONMap        `json:"detail"                db:"detail"`
	ValidatedBy          string         `json:"validated_by"          db:"validated_by"`
	ExpiresAt            *time.Time     `json:"expires_at,omitempty"  db:"expires_at"`
	RevalidationRequired bool           `json:"revalidation_required" db:"revalidation_required"`
	CreatedAt            time.Time      `json:"created_at"            db:"created_at"`
}

// Expired reports whether the validation's expiry has passed at the
// given instant. Validations without an expiry never expire.
func (v *ComplianceValidation) Expired(now time.Time) bool {
	return v.ExpiresAt != nil && now.After(*v.ExpiresAt)
}
