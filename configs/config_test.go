package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_BaseFile(t *testing.T) {
	cfg, err := Load(".", "test")
	require.NoError(t, err)

	assert.Equal(t, "order-engine", cfg.App.Name)
	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, 72*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, 168*time.Hour, cfg.Links.TTL)
	assert.Equal(t, 5, cfg.Links.MaxUses)
	assert.Equal(t, "securepay", cfg.Payments.ByCurrency["SAR"])
	assert.Equal(t, "paylink", cfg.Payments.DefaultProvider)
	require.Len(t, cfg.Security.Clients, 2)
	assert.Contains(t, cfg.Security.Clients[1].Perms, "refunds.write")
}

func TestLoad_EnvFileAndVariablesOverride(t *testing.T) {
	dir := t.TempDir()
	base, err := os.ReadFile("base.yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), base, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "staging.yaml"), []byte("reconcile:\n  stale_after: 30m\n"), 0o600))

	t.Setenv("ORDERENGINE_MYSQL__DSN", "file:test.db")
	t.Setenv("ORDERENGINE_MYSQL__DRIVER", "sqlite")

	cfg, err := Load(dir, "staging")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Reconcile.StaleAfter)
	assert.Equal(t, "file:test.db", cfg.MySQL.DSN)
	assert.Equal(t, "sqlite", cfg.MySQL.Driver)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(".", "test")
	require.NoError(t, err)

	bad := cfg
	bad.MySQL.DSN = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Security.JWTSecret = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Reconcile.ExpireAfter = time.Minute
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Kafka.Enabled = true
	bad.Kafka.Brokers = nil
	assert.Error(t, bad.Validate())
}
