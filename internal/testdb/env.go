//go:build integration

package testdb

import (
	"os"
	"testing"
)

// Environment variables overriding the container backends.
const (
	DatabaseURLEnv = "SNIPPETS_TEST_DB_URL"
	RedisAddrEnv   = "SNIPPETS_TEST_REDIS_ADDR"
)

// isCIEnvironment returns true if running in any type of CI environment.
func isCIEnvironment() bool {
	ciVars := []string{
		"CI",             // Generic
		"GITHUB_ACTIONS", // GitHub Actions
		"GITLAB_CI",      // GitLab CI
		"JENKINS_URL",    // Jenkins
	}
	for _, envVar := range ciVars {
		if os.Getenv(envVar) != "" {
			return true
		}
	}
	return false
}

// unavailable skips the test locally and fails it in CI.
func unavailable(t *testing.T, backend string, err error) {
	t.Helper()
	if isCIEnvironment() {
		t.Fatalf("%s unavailable in CI: %v", backend, err)
	}
	t.Skipf("%s unavailable: %v", backend, err)
}

func skipShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
}
