package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLIRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(
		"logging: {level: error, console: true}\n"+
			"storage: {driver: sqlite, dsn: "+filepath.Join(dir, "p.db")+"}\n"+
			"scheduler: {enabled: true, timezone: UTC}\n"), 0o600))

	out, err := execCLI(t, "--config", cfg, "keys")
	require.NoError(t, err)
	assert.Contains(t, out, "system.heartbeat")

	out, err = execCLI(t, "--config", cfg, "jobs", "add", "--id", "hb", "--name", "heartbeat",
		"--cron", "0 */5 * * * *", "--key", "system.heartbeat", "--enabled", "--actor", "test")
	require.NoError(t, err)
	assert.Contains(t, out, "job hb created (enabled=true)")

	_, err = execCLI(t, "--config", cfg, "jobs", "add", "--name", "bad", "--cron", "nope", "--key", "system.heartbeat", "--enabled")
	require.Error(t, err)

	out, err = execCLI(t, "--config", cfg, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "heartbeat")
	assert.Contains(t, out, "0 */5 * * * *")

	out, err = execCLI(t, "--config", cfg, "run", "hb", "--from", "2025-01-01", "--to", "2025-01-02")
	require.NoError(t, err)
	assert.Contains(t, out, "job hb finished")

	_, err = execCLI(t, "--config", cfg, "run", "missing")
	require.Error(t, err)

	out, err = execCLI(t, "--config", cfg, "history", "list", "--job", "hb", "--trigger", "manual")
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCESS")
	assert.Contains(t, out, "1 of 1")

	out, err = execCLI(t, "--config", cfg, "jobs", "disable", "hb")
	require.NoError(t, err)
	assert.Contains(t, out, "enabled=false")

	out, err = execCLI(t, "--config", cfg, "history", "prune", "--older-than", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 0 executions")

	out, err = execCLI(t, "--config", cfg, "jobs", "rm", "hb")
	require.NoError(t, err)
	assert.Contains(t, out, "job hb deleted")
}

func TestParseTimeFlag(t *testing.T) {
	ts, err := parseTimeFlag("since", "2025-03-01", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 2025, ts.Year())

	_, err = parseTimeFlag("since", "March", time.UTC)
	assert.Error(t, err)

	ts, err = parseTimeFlag("until", "", time.UTC)
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
}
