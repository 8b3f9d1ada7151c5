package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offlinesync/internal/queue"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite://offlinesync.db", c.Store.PrimaryDSN)
	assert.Equal(t, "file://offlinesync.json", c.Store.FallbackDSN)
	assert.Equal(t, "offlinesync", c.Store.KeyPrefix)
	assert.Equal(t, queue.DefaultRequestTimeout, c.Remote.Timeout)
	assert.Equal(t, queue.RetryAlways, c.RetryPolicy())
	assert.Equal(t, 30*time.Second, c.Queue.DrainInterval)
	assert.Equal(t, AgentNone, c.Agent.Kind)
	assert.Equal(t, ":8780", c.HTTP.Addr)
	assert.Equal(t, Default(), c)
}

func TestLoad_MergesLeftToRight(t *testing.T) {
	base := writeFile(t, "base.yml", `
store:
  primary_dsn: postgres://db/offline
remote:
  base_url: https://api.example.com
  timeout: 5s
queue:
  retry_policy: dead_letter_client_errors
`)
	local := writeFile(t, "local.yml", `
remote:
  timeout: 2s
agent:
  kind: file
  spool_dir: /var/spool/offlinesync
`)
	c, err := Load(base + " , " + local)
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/offline", c.Store.PrimaryDSN)
	assert.Empty(t, c.Store.FallbackDSN, "explicit primary disables the default pair")
	assert.Equal(t, 2*time.Second, c.Remote.Timeout)
	assert.Equal(t, queue.DeadLetterClientErrors, c.RetryPolicy())
	assert.Equal(t, AgentFile, c.Agent.Kind)
	assert.Equal(t, "/var/spool/offlinesync", c.Agent.SpoolDir)
	assert.Equal(t, "https://api.example.com/sync/changes", c.SyncURL())

	u, err := c.BaseURL()
	require.NoError(t, err)
	assert.Equal(t, "api.example.com", u.Host)

	sc := c.StoreConfig()
	assert.Equal(t, "postgres://db/offline", sc.PrimaryDSN)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"policy":     "queue:\n  retry_policy: sometimes\n",
		"agent kind": "agent:\n  kind: carrier-pigeon\n",
		"redis url":  "agent:\n  kind: redis\n",
		"base url":   "remote:\n  base_url: not a url\n",
		"yaml":       "store: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.yml", body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestBaseURL_Unset(t *testing.T) {
	u, err := Default().BaseURL()
	require.NoError(t, err)
	assert.Nil(t, u)
}
