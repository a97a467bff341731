package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("should apply defaults when no env file exists", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		require.NoError(t, err)

		assert.Equal(t, "lily-api", cfg.AppName)
		assert.Equal(t, 1000, cfg.SyncLimitDefault)
		assert.Equal(t, 500, cfg.SyncLimitMin)
		assert.Equal(t, 5000, cfg.SyncLimitMax)
		assert.Equal(t, 70*time.Second, cfg.SyncSourceTimeout)
		assert.Equal(t, "first", cfg.SyncAmbiguousDiocesePolicy)
		assert.Equal(t, []string{"*"}, cfg.AllowOrigins)
		assert.Equal(t, 30, cfg.SyncSourceRateLimit)
		assert.Equal(t, time.Minute, cfg.SyncSourceRateWindow)
		assert.Equal(t, "lily:audit:dead-letters", cfg.AuditDeadLetterStream)
	})

	t.Run("should read values from the env file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("SYNC_LIMIT_DEFAULT=750\nSYNC_LEASE_TTL=2m\n"), 0o600))
		t.Cleanup(func() {
			_ = os.Unsetenv("SYNC_LIMIT_DEFAULT")
			_ = os.Unsetenv("SYNC_LEASE_TTL")
		})

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 750, cfg.SyncLimitDefault)
		assert.Equal(t, 2*time.Minute, cfg.SyncLeaseTTL)
	})

	t.Run("should prefer the process environment over the env file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("DB_NAME=from_file\n"), 0o600))
		t.Setenv("DB_NAME", "from_env")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "from_env", cfg.DatabaseName)
	})
}
