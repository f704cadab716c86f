package testutils

import (
	"github.com/domainstack/probekit/pkg/logging"
)

// NewTestLogger installs a silent logger as the process logger and
// returns it, so code under test that falls back to logging.GetLogger()
// stays quiet too.
func NewTestLogger() logging.Logger {
	logger := logging.NewNop()
	logging.SetLogger(logger)
	return logger
}
