//go:build integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/snippet-runner/internal/testdb"
)

func TestRun_PostgresBackendIntegration(t *testing.T) {
	t.Setenv("SNIPPETS_DATABASE_URL", testdb.GetTestDatabaseURL(t))
	dir := writeInputs(t)

	code, stdout, stderr := runCmd(t,
		"--engine", "postgres",
		"--input-dir", dir,
		"--retry-dir", t.TempDir(),
		"--log-level", "error",
		"loading/load-via-futures", "search-via-futures", "deleting")

	assert.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "== deleting/delete-via-futures ==")
	assert.Contains(t, stdout, `"RECORD_ID":"2"`)
}

func TestRun_RedisRedoQueueIntegration(t *testing.T) {
	t.Setenv("SNIPPETS_REDIS_ADDR", testdb.GetTestRedisAddr(t))
	t.Setenv("SNIPPETS_REDIS_KEY", "it:cmd:redo")
	dir := writeInputs(t)

	code, stdout, stderr := runCmd(t,
		"--input-dir", dir,
		"--retry-dir", t.TempDir(),
		"--log-level", "error",
		"load-with-info-via-futures")

	assert.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Entities affected: 2\n")
}
