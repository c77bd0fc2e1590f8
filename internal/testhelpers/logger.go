package testhelpers

import (
	"github.com/medwatch/compliance-manager/internal/logger"
)

// NewTestLogger creates a logger suitable for testing (discards output).
func NewTestLogger() logger.Logger {
	return logger.NewNop()
}
