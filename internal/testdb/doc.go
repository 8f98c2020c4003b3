//go:build integration

// Package testdb provides the backends used by integration tests.
//
// Each helper first honors an explicit environment variable so that a CI job
// can point the tests at an existing service, and otherwise starts a
// throwaway container with testcontainers-go:
//
//   - SNIPPETS_TEST_DB_URL: PostgreSQL connection string
//   - SNIPPETS_TEST_REDIS_ADDR: Redis host:port
//
// When a container cannot be started the test is skipped locally and fails
// in CI, where Docker is expected to be available.
//
// # Basic Usage
//
//	func TestEngineIntegration(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t) // migrated, closed on cleanup
//	    e := postgres.NewEngine(db)
//	    ...
//	}
package testdb
