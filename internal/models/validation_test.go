package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKnownValidationType(t *testing.T) {
	assert.True(t, KnownValidationType(ValidationRobotsTxt))
	assert.True(t, KnownValidationType(ValidationContentType))
	assert.False(t, KnownValidationType("dns_check"))
}

func TestAttestedValidationType(t *testing.T) {
	assert.True(t, AttestedValidationType(ValidationTermsOfService))
	assert.True(t, AttestedValidationType(ValidationFairUse))
	assert.False(t, AttestedValidationType(ValidationRobotsTxt))
	assert.False(t, AttestedValidationType(ValidationLegalContact))
}

func TestValidationExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	v := ComplianceValidation{}
	assert.False(t, v.Expired(now), "no expiry means never expired")

	past := now.Add(-time.Hour)
	v.ExpiresAt = &past
	assert.True(t, v.Expired(now))

	future := now.Add(time.Hour)
	v.ExpiresAt = &future
	assert.False(t, v.Expired(now))

	v.ExpiresAt = &now
	assert.False(t, v.Expired(now), "expiry is exclusive at the boundary")
}
