package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition wraps every rejected lifecycle or review
// transition so callers can map the whole family to one failure mode.
var ErrInvalidTransition = errors.New("invalid transition")

// Risk thresholds: the score boundaries for each level and the error
// budget over the trailing 30 days.
const (
	criticalScoreBelow = 0.4
	highScoreBelow     = 0.6

	// DefaultErrorThreshold is the error_count_last_30_days budget above
	// which a source is classified critical regardless of score.
	DefaultErrorThreshold = 10
)

// ValidateStatusTransition checks if a source lifecycle transition is valid.
// Returns an error if the transition is not allowed. Deleted is terminal.
func ValidateStatusTransition(from, to SourceStatus) error {
	validTransitions := map[SourceStatus][]SourceStatus{
		StatusActive: {
			StatusInactive,    // Manual disable
			StatusSuspended,   // Compliance or operational suspension
			StatusUnderReview, // Escalation to legal review
			StatusDeleted,     // Soft delete
		},
		StatusInactive: {
			StatusActive,
			StatusUnderReview,
			StatusDeleted,
		},
		StatusSuspended: {
			StatusActive,      // Reactivation after remediation
			StatusUnderReview, // Escalation while suspended
			StatusDeleted,
		},
		StatusUnderReview: {
			StatusActive,
			StatusInactive,
			StatusSuspended,
			StatusDeleted,
		},
		// Terminal state (no transitions from deleted)
		StatusDeleted: {},
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source status: %s", from)
	}

	for _, allowed := range allowedStates {
		if allowed == to {
			return nil
		}
	}

	return fmt.Errorf("%w: source status %s to %s", ErrInvalidTransition, from, to)
}

// ValidateReviewTransition checks if a legal review transition is valid.
// Approval and rejection only move out of pending; approved reverts to
// pending when a compliance flag is cleared or a validation expires.
func ValidateReviewTransition(from, to ReviewStatus) error {
	validTransitions := map[ReviewStatus][]ReviewStatus{
		ReviewPending: {
			ReviewApproved, // All five flags true, nothing expired
			ReviewRejected, // Explicit administrative decision
		},
		ReviewApproved: {
			ReviewPending, // Flag cleared or validation expired
		},
		ReviewRejected: {
			ReviewPending, // Re-opened for review
		},
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown review status: %s", from)
	}

	for _, allowed := range allowedStates {
		if allowed == to {
			return nil
		}
	}

	return fmt.Errorf("%w: review status %s to %s", ErrInvalidTransition, from, to)
}

// DeriveRiskLevel computes the risk classification from the compliance
// score and the trailing-30-day error count.
func DeriveRiskLevel(score float64, errorCount, errorThreshold int) RiskLevel {
	if errorThreshold <= 0 {
		errorThreshold = DefaultErrorThreshold
	}
	switch {
	case score < criticalScoreBelow || errorCount > errorThreshold:
		return RiskCritical
	case score < highScoreBelow:
		return RiskHigh
	case score < 1.0:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RecomputeRisk refreshes the source's risk level from its current
// flags and error count.
func (s *Source) RecomputeRisk(errorThreshold int) {
	s.RiskLevel = DeriveRiskLevel(s.Flags.Score(), s.ErrorCountLast30Days, errorThreshold)
}

// IsTerminalStatus checks if a lifecycle state is terminal.
func IsTerminalStatus(status SourceStatus) bool {
	return status == StatusDeleted
}
