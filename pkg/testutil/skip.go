// Package testutil holds helpers shared by the test suites.
package testutil

import (
	"os"
	"testing"
)

// RequireIntegration gates tests that need real backends (Docker,
// network). They are skipped in short mode, and in CI unless
// INTEGRATION_TESTS=1 opts in.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if os.Getenv("CI") != "" && os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("integration test skipped in CI (set INTEGRATION_TESTS=1 to run)")
	}
}
