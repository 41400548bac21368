package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/till/internal/testutil"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	h, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, h.File())

	cfg := h.Config()
	assert.Equal(t, "main", cfg.Tenant)
	assert.Equal(t, "till.db", cfg.DBPath)
	assert.Equal(t, int64(1), cfg.NodeID)
	assert.Equal(t, 1500*time.Millisecond, cfg.Replication.Debounce)
	assert.Equal(t, 5*time.Minute, cfg.Replication.RetryMax)
	assert.Equal(t, 3, cfg.Replication.PageAttempts)
	assert.Empty(t, cfg.Remote.Endpoint)
	assert.True(t, h.TaxRate().IsZero())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "till.yaml")
	writeFile(t, path, `
tenant: acme
remote:
  endpoint: https://remote.example/exec
  timeout: 5s
replication:
  drain_interval: 10s
  record_attempts: 4
pricing:
  tax_rate: "7"
`)
	t.Setenv("TILL_TENANT", "globex")
	t.Setenv("TILL_REPLICATION_BATCH_SIZE", "9")

	h, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, h.File())

	cfg := h.Config()
	assert.Equal(t, "globex", cfg.Tenant, "env wins over file")
	assert.Equal(t, "https://remote.example/exec", cfg.Remote.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Replication.DrainInterval)
	assert.Equal(t, 4, cfg.Replication.RecordAttempts)
	assert.Equal(t, 9, cfg.Replication.BatchSize)
	assert.True(t, testutil.Dec("7").Equal(h.TaxRate()))
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"tax rate", "pricing:\n  tax_rate: lots\n", "pricing.tax_rate"},
		{"negative tax", "pricing:\n  tax_rate: \"-1\"\n", "out of range"},
		{"node", "node_id: 5000\n", "node_id 5000"},
		{"endpoint", "remote:\n  endpoint: ftp://x\n", "remote.endpoint"},
		{"tenant", "tenant: \" \"\n", "tenant cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "till.yaml")
			writeFile(t, path, tt.body)
			_, err := Load(path)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestReload_KeepsLastGoodConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "till.yaml")
	writeFile(t, path, "pricing:\n  tax_rate: \"5\"\n")
	h, err := Load(path)
	require.NoError(t, err)
	require.True(t, testutil.Dec("5").Equal(h.TaxRate()))

	writeFile(t, path, "pricing:\n  tax_rate: \"7.5\"\n")
	require.NoError(t, h.v.ReadInConfig())
	require.NoError(t, h.reload())
	assert.True(t, testutil.Dec("7.5").Equal(h.TaxRate()))

	writeFile(t, path, "pricing:\n  tax_rate: free\n")
	require.NoError(t, h.v.ReadInConfig())
	assert.Error(t, h.reload())
	assert.True(t, testutil.Dec("7.5").Equal(h.TaxRate()), "bad edit leaves the last good rate")
	assert.Equal(t, "7.5", h.Config().Pricing.TaxRate)
}

func TestSet_OverridesAndValidates(t *testing.T) {
	t.Chdir(t.TempDir())
	h, err := Load("")
	require.NoError(t, err)

	require.NoError(t, h.Set("db_path", "/tmp/other.db"))
	assert.Equal(t, "/tmp/other.db", h.Config().DBPath)

	err = h.Set("pricing.tax_rate", "lots")
	require.Error(t, err)
	assert.Equal(t, "/tmp/other.db", h.Config().DBPath, "a rejected override keeps the last good config")
}
